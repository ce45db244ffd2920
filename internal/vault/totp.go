package vault

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

// GenerateTOTPSecret issues a new 20-byte base32-encoded secret bound to the
// given account label and issuer, per spec.md §4.1 (30s step, 6 digits,
// HMAC-SHA1, ±1-step window — otp.Generate defaults match these exactly).
func GenerateTOTPSecret(issuer, accountName string) (*otp.Key, error) {
	return totp.Generate(totp.GenerateOpts{
		Issuer:      issuer,
		AccountName: accountName,
		SecretSize:  20,
		Digits:      otp.DigitsSix,
		Algorithm:   otp.AlgorithmSHA1,
	})
}

// ValidateTOTP checks code against secret with a ±1-step window.
func ValidateTOTP(secret, code string) (bool, error) {
	return totp.ValidateCustom(code, secret, time.Now(), totp.ValidateOpts{
		Period:    30,
		Skew:      1,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
}

// GenerateBackupCodes returns n random 10-character hex backup codes and
// their SHA-256 hashes for storage; plaintext codes are shown once and
// discarded, matching the access-token display convention.
func GenerateBackupCodes(n int) (codes []string, hashes []string, err error) {
	codes = make([]string, 0, n)
	hashes = make([]string, 0, n)
	for i := 0; i < n; i++ {
		buf := make([]byte, 5)
		if _, err := rand.Read(buf); err != nil {
			return nil, nil, fmt.Errorf("vault: generate backup code: %w", err)
		}
		code := hex.EncodeToString(buf)
		sum := sha256.Sum256([]byte(code))
		codes = append(codes, code)
		hashes = append(hashes, hex.EncodeToString(sum[:]))
	}
	return codes, hashes, nil
}

// VerifyBackupCode checks code against the list of stored hashes in
// constant time and reports the matching index, or -1 if none matched.
func VerifyBackupCode(code string, hashes []string) int {
	sum := sha256.Sum256([]byte(code))
	got := hex.EncodeToString(sum[:])
	match := -1
	for i, h := range hashes {
		if ConstantTimeEqual(got, h) {
			match = i
		}
	}
	return match
}
