// Package credential seals third-party API secrets before they are persisted.
//
// Ciphertext is AES-256-CBC with a random IV per value, serialized as
// "<hex iv>:<hex ciphertext>". Decryption never fails loudly: anything that
// does not decrypt cleanly comes back unchanged with an Unchanged outcome.
package credential

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"
)

// FallbackKey is used when no encryption key is configured.
const FallbackKey = "villa-sync-default-encryption-key"

const keySize = 32

var ErrEmptyPlaintext = errors.New("credential: refusing to encrypt empty value")

// Outcome tells a caller whether Decrypt produced plaintext or handed the input back.
type Outcome int

const (
	Decrypted Outcome = iota
	Unchanged
)

func (o Outcome) String() string {
	if o == Decrypted {
		return "decrypted"
	}
	return "unchanged"
}

// Result is the outcome of a decryption attempt.
type Result struct {
	Value   string
	Outcome Outcome
}

// Ok reports whether Value is decrypted plaintext.
func (r Result) Ok() bool {
	return r.Outcome == Decrypted
}

// Vault encrypts and decrypts single values with a process-wide key.
type Vault struct {
	key      []byte
	fallback bool
}

// NewVault builds a vault from a configured key. The key is right-padded with
// spaces or truncated to 32 bytes; an empty key selects FallbackKey.
func NewVault(key string) *Vault {
	fallback := key == ""
	if fallback {
		key = FallbackKey
	}
	return &Vault{key: normalizeKey(key), fallback: fallback}
}

// UsingFallbackKey reports whether the vault runs on the built-in key.
func (v *Vault) UsingFallbackKey() bool {
	return v.fallback
}

func normalizeKey(key string) []byte {
	b := []byte(key)
	if len(b) >= keySize {
		return b[:keySize]
	}
	return append(b, bytes.Repeat([]byte(" "), keySize-len(b))...)
}

// Encrypt returns "<hex iv>:<hex ciphertext>" for plaintext.
func (v *Vault) Encrypt(plaintext string) (string, error) {
	if plaintext == "" {
		return "", ErrEmptyPlaintext
	}

	block, err := aes.NewCipher(v.key)
	if err != nil {
		return "", fmt.Errorf("creating cipher: %w", err)
	}

	iv := make([]byte, aes.BlockSize)
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return "", fmt.Errorf("generating iv: %w", err)
	}

	padded := pkcs7Pad([]byte(plaintext), aes.BlockSize)
	out := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(out, padded)

	return hex.EncodeToString(iv) + ":" + hex.EncodeToString(out), nil
}

// Decrypt reverses Encrypt. Malformed input, a wrong key or corrupted bytes
// yield the original string with an Unchanged outcome.
func (v *Vault) Decrypt(ciphertext string) Result {
	unchanged := Result{Value: ciphertext, Outcome: Unchanged}

	parts := strings.Split(ciphertext, ":")
	if len(parts) != 2 {
		return unchanged
	}

	iv, err := hex.DecodeString(parts[0])
	if err != nil || len(iv) != aes.BlockSize {
		return unchanged
	}

	data, err := hex.DecodeString(parts[1])
	if err != nil || len(data) == 0 || len(data)%aes.BlockSize != 0 {
		return unchanged
	}

	block, err := aes.NewCipher(v.key)
	if err != nil {
		return unchanged
	}

	out := make([]byte, len(data))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(out, data)

	plain, ok := pkcs7Unpad(out, aes.BlockSize)
	if !ok || !utf8.Valid(plain) {
		return unchanged
	}

	return Result{Value: string(plain), Outcome: Decrypted}
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	n := blockSize - len(data)%blockSize
	return append(data, bytes.Repeat([]byte{byte(n)}, n)...)
}

func pkcs7Unpad(data []byte, blockSize int) ([]byte, bool) {
	if len(data) == 0 || len(data)%blockSize != 0 {
		return nil, false
	}
	n := int(data[len(data)-1])
	if n == 0 || n > blockSize {
		return nil, false
	}
	for _, b := range data[len(data)-n:] {
		if int(b) != n {
			return nil, false
		}
	}
	return data[:len(data)-n], true
}
