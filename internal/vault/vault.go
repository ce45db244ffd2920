// Package vault implements the gateway's cryptographic primitives:
// authenticated encryption of deposited credentials, keyed hashing for
// lookup, token minting, password/TOTP handling, and request signing.
package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"

	"golang.org/x/crypto/pbkdf2"

	"github.com/feen-dev/feen-gateway/internal/apperr"
)

const (
	keySize             = 32 // AES-256
	tokenPrefix         = "feen_"
	tokenRandomBytes    = 24
	minKDFIterations    = 100_000
	passwordSaltBytes   = 16
	passwordHashKeyBytes = 32
)

// ErrIntegrityFailure is the distinct error surfaced when GCM tag
// verification fails. Callers must never return this to a client; it is an
// operator-visible configuration or tampering signal.
var ErrIntegrityFailure = apperr.New(apperr.CodeInternalError, "integrity check failed")

// Box bundles the master key material and exposes the encryption, hashing,
// and signing primitives. It holds no other state and is safe for
// concurrent use.
type Box struct {
	masterKey []byte // always exactly keySize bytes
}

// NewBox derives a 32-byte key from masterKey and salt if masterKey is not
// already exactly 32 bytes, using PBKDF2-SHA256 with at least 100,000
// iterations, per spec.md §4.1.
func NewBox(masterKey, salt []byte, iterations int) (*Box, error) {
	if iterations < minKDFIterations {
		iterations = minKDFIterations
	}
	if len(masterKey) == keySize {
		return &Box{masterKey: append([]byte(nil), masterKey...)}, nil
	}
	if len(salt) == 0 {
		return nil, fmt.Errorf("vault: kdf salt is required when master key is not %d bytes", keySize)
	}
	derived := pbkdf2.Key(masterKey, salt, iterations, keySize, sha256.New)
	return &Box{masterKey: derived}, nil
}

// Encrypt seals plaintext with AES-256-GCM and returns the base64-encoded
// wire format nonce‖tag‖ciphertext.
func (b *Box) Encrypt(plaintext []byte) (string, error) {
	block, err := aes.NewCipher(b.masterKey)
	if err != nil {
		return "", fmt.Errorf("vault: new cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("vault: new gcm: %w", err)
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("vault: read nonce: %w", err)
	}
	// Seal appends ciphertext‖tag to dst; we want nonce‖tag‖ciphertext on
	// the wire, so split and reassemble in the order spec.md §4.1 names.
	sealed := gcm.Seal(nil, nonce, plaintext, nil)
	tagSize := gcm.Overhead()
	ciphertext := sealed[:len(sealed)-tagSize]
	tag := sealed[len(sealed)-tagSize:]
	wire := make([]byte, 0, len(nonce)+len(tag)+len(ciphertext))
	wire = append(wire, nonce...)
	wire = append(wire, tag...)
	wire = append(wire, ciphertext...)
	return base64.StdEncoding.EncodeToString(wire), nil
}

// Decrypt reverses Encrypt. A tag mismatch (tampering) or malformed wire
// format returns ErrIntegrityFailure.
func (b *Box) Decrypt(encoded string) ([]byte, error) {
	wire, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, ErrIntegrityFailure
	}
	block, err := aes.NewCipher(b.masterKey)
	if err != nil {
		return nil, fmt.Errorf("vault: new cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("vault: new gcm: %w", err)
	}
	nonceSize := gcm.NonceSize()
	tagSize := gcm.Overhead()
	if len(wire) < nonceSize+tagSize {
		return nil, ErrIntegrityFailure
	}
	nonce := wire[:nonceSize]
	tag := wire[nonceSize : nonceSize+tagSize]
	ciphertext := wire[nonceSize+tagSize:]
	// cipher.AEAD.Open expects ciphertext‖tag; reassemble from the wire order.
	sealed := make([]byte, 0, len(ciphertext)+len(tag))
	sealed = append(sealed, ciphertext...)
	sealed = append(sealed, tag...)
	plaintext, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, ErrIntegrityFailure
	}
	return plaintext, nil
}

// KeyedHash returns the deterministic, non-reversible SHA-256 HMAC of input
// under the box's master key, used for equality lookups (token_hash,
// material_hash) and never for decryption.
func (b *Box) KeyedHash(input string) string {
	mac := hmac.New(sha256.New, b.masterKey)
	_, _ = mac.Write([]byte(input))
	return hex.EncodeToString(mac.Sum(nil))
}

// MintAccessToken returns a new opaque shared-token string:
// "feen_" + base64url(24 random bytes).
func MintAccessToken() (string, error) {
	buf := make([]byte, tokenRandomBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("vault: mint token: %w", err)
	}
	return tokenPrefix + base64.RawURLEncoding.EncodeToString(buf), nil
}

// HasTokenPrefix reports whether s begins with the shared-token prefix,
// the first of the seven policy checks in spec.md §4.3.
func HasTokenPrefix(s string) bool {
	return strings.HasPrefix(s, tokenPrefix)
}

// DisplayPrefix returns the first four and last four characters of
// plaintext joined by an ellipsis, or "****" when plaintext is too short
// to partially reveal safely.
func DisplayPrefix(plaintext string) string {
	if len(plaintext) <= 8 {
		return "****"
	}
	return plaintext[:4] + "..." + plaintext[len(plaintext)-4:]
}

// CopyAffordance returns the first twelve characters of token followed by
// an ellipsis; purely cosmetic per spec.md §9, carries no lookup semantics.
func CopyAffordance(token string) string {
	if len(token) <= 12 {
		return token + "..."
	}
	return token[:12] + "..."
}

// ConstantTimeEqual performs a timing-safe byte comparison, required for
// every secret comparison (signatures, password hashes, backup codes).
func ConstantTimeEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// HashPassword returns "salt_hex:pbkdf2(password,salt,iterations,SHA-512,32B)_hex".
func HashPassword(password string, iterations int) (string, error) {
	if iterations < minKDFIterations {
		iterations = minKDFIterations
	}
	salt := make([]byte, passwordSaltBytes)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("vault: read salt: %w", err)
	}
	derived := pbkdf2.Key([]byte(password), salt, iterations, passwordHashKeyBytes, sha512.New)
	return hex.EncodeToString(salt) + ":" + hex.EncodeToString(derived), nil
}

// VerifyPassword recomputes the derivation with the stored salt and
// compares in constant time.
func VerifyPassword(password, stored string, iterations int) bool {
	if iterations < minKDFIterations {
		iterations = minKDFIterations
	}
	parts := strings.SplitN(stored, ":", 2)
	if len(parts) != 2 {
		return false
	}
	salt, err := hex.DecodeString(parts[0])
	if err != nil {
		return false
	}
	want, err := hex.DecodeString(parts[1])
	if err != nil {
		return false
	}
	got := pbkdf2.Key([]byte(password), salt, iterations, passwordHashKeyBytes, sha512.New)
	return subtle.ConstantTimeCompare(got, want) == 1
}
