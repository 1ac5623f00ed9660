package credential

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/rs/zerolog"
)

// Credentials is the plaintext credential input for one integration.
// It only ever lives in memory.
type Credentials struct {
	APIKey       string            `json:"apiKey,omitempty"`
	APISecret    string            `json:"apiSecret,omitempty"`
	AccessToken  string            `json:"accessToken,omitempty"`
	RefreshToken string            `json:"refreshToken,omitempty"`
	ClientSecret string            `json:"clientSecret,omitempty"`
	Password     string            `json:"password,omitempty"`
	Username     string            `json:"username,omitempty"`
	PartnerID    string            `json:"partnerId,omitempty"`
	HotelID      string            `json:"hotelId,omitempty"`
	PropertyID   string            `json:"propertyId,omitempty"`
	ListingID    string            `json:"listingId,omitempty"`
	CustomFields map[string]string `json:"customFields,omitempty"`
}

type fieldAccessor struct {
	name string
	ref  func(*Credentials) *string
}

// secretFields are sealed at rest.
//
//nolint:gochecknoglobals
var secretFields = []fieldAccessor{
	{"apiKey", func(c *Credentials) *string { return &c.APIKey }},
	{"apiSecret", func(c *Credentials) *string { return &c.APISecret }},
	{"accessToken", func(c *Credentials) *string { return &c.AccessToken }},
	{"refreshToken", func(c *Credentials) *string { return &c.RefreshToken }},
	{"clientSecret", func(c *Credentials) *string { return &c.ClientSecret }},
	{"password", func(c *Credentials) *string { return &c.Password }},
}

//nolint:gochecknoglobals
var identifierFields = []fieldAccessor{
	{"username", func(c *Credentials) *string { return &c.Username }},
	{"partnerId", func(c *Credentials) *string { return &c.PartnerID }},
	{"hotelId", func(c *Credentials) *string { return &c.HotelID }},
	{"propertyId", func(c *Credentials) *string { return &c.PropertyID }},
	{"listingId", func(c *Credentials) *string { return &c.ListingID }},
}

// Present lists the names of all non-empty fields, sorted.
func (c Credentials) Present() []string {
	var names []string
	for _, f := range append(append([]fieldAccessor{}, secretFields...), identifierFields...) {
		if *f.ref(&c) != "" {
			names = append(names, f.name)
		}
	}
	sort.Strings(names)
	return names
}

// Get returns the value of a named field such as "apiKey" or "hotelId".
// Unknown names resolve against CustomFields.
func (c Credentials) Get(name string) string {
	for _, f := range secretFields {
		if f.name == name {
			return *f.ref(&c)
		}
	}
	for _, f := range identifierFields {
		if f.name == name {
			return *f.ref(&c)
		}
	}
	return c.CustomFields[name]
}

// String redacts every value so credentials can't leak through fmt.
func (c Credentials) String() string {
	return fmt.Sprintf("Credentials{fields=%v}", c.Present())
}

// MarshalZerologObject logs field names only.
func (c Credentials) MarshalZerologObject(e *zerolog.Event) {
	e.Strs("fields", c.Present())
}

// Field is one stored credential value. Encrypted marks values that already
// went through the vault so repeated saves never encrypt twice.
type Field struct {
	Value     string `json:"value"`
	Encrypted bool   `json:"encrypted,omitempty"`
}

// Bundle is the at-rest form of Credentials.
type Bundle struct {
	Secrets      map[string]Field  `json:"secrets,omitempty"`
	Identifiers  map[string]string `json:"identifiers,omitempty"`
	CustomFields map[string]string `json:"customFields,omitempty"`
}

// Seal encrypts a single field unless it is empty or already encrypted.
func (v *Vault) Seal(f Field) (Field, error) {
	if f.Encrypted || f.Value == "" {
		return f, nil
	}
	ct, err := v.Encrypt(f.Value)
	if err != nil {
		return f, err
	}
	return Field{Value: ct, Encrypted: true}, nil
}

// Open decrypts a single field. Plaintext fields are returned as Unchanged.
func (v *Vault) Open(f Field) Result {
	if !f.Encrypted {
		return Result{Value: f.Value, Outcome: Unchanged}
	}
	return v.Decrypt(f.Value)
}

// SealCredentials converts plaintext credentials into a Bundle with every
// secret field encrypted.
func (v *Vault) SealCredentials(c Credentials) (Bundle, error) {
	b := Bundle{
		Secrets:     make(map[string]Field),
		Identifiers: make(map[string]string),
	}
	for _, f := range secretFields {
		if val := *f.ref(&c); val != "" {
			b.Secrets[f.name] = Field{Value: val}
		}
	}
	for _, f := range identifierFields {
		if val := *f.ref(&c); val != "" {
			b.Identifiers[f.name] = val
		}
	}
	if len(c.CustomFields) > 0 {
		b.CustomFields = make(map[string]string, len(c.CustomFields))
		for k, val := range c.CustomFields {
			b.CustomFields[k] = val
		}
	}
	return v.SealBundle(b)
}

// SealBundle encrypts any secret field not yet flagged as encrypted. Running it
// on an already sealed bundle is a no-op.
func (v *Vault) SealBundle(b Bundle) (Bundle, error) {
	out := Bundle{
		Secrets:      make(map[string]Field, len(b.Secrets)),
		Identifiers:  b.Identifiers,
		CustomFields: b.CustomFields,
	}
	for name, f := range b.Secrets {
		sealed, err := v.Seal(f)
		if err != nil {
			return Bundle{}, fmt.Errorf("sealing %s: %w", name, err)
		}
		out.Secrets[name] = sealed
	}
	return out, nil
}

// OpenBundle decrypts a bundle for the duration of an adapter call. The second
// return value names the secret fields whose decryption fell back to the stored value.
func (v *Vault) OpenBundle(b Bundle) (Credentials, []string) {
	var c Credentials
	var fallbacks []string

	for _, f := range secretFields {
		stored, ok := b.Secrets[f.name]
		if !ok {
			continue
		}
		res := v.Open(stored)
		if stored.Encrypted && !res.Ok() {
			fallbacks = append(fallbacks, f.name)
		}
		*f.ref(&c) = res.Value
	}
	for _, f := range identifierFields {
		*f.ref(&c) = b.Identifiers[f.name]
	}
	if len(b.CustomFields) > 0 {
		c.CustomFields = make(map[string]string, len(b.CustomFields))
		for k, val := range b.CustomFields {
			c.CustomFields[k] = val
		}
	}

	sort.Strings(fallbacks)
	return c, fallbacks
}

// Value implements driver.Valuer.
func (b Bundle) Value() (driver.Value, error) {
	data, err := json.Marshal(b)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

// Scan implements sql.Scanner.
func (b *Bundle) Scan(value any) error {
	if value == nil {
		*b = Bundle{}
		return nil
	}
	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return errors.New("credential: bundle column is not text")
	}
	return json.Unmarshal(data, b)
}
