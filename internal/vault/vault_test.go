package vault

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testBox(t *testing.T) *Box {
	t.Helper()
	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i)
	}
	box, err := NewBox(key, nil, 0)
	require.NoError(t, err)
	return box
}

func TestBox_EncryptDecrypt_RoundTrip(t *testing.T) {
	box := testBox(t)
	plaintext := []byte("sk-live-upstream-credential")
	encoded, err := box.Encrypt(plaintext)
	require.NoError(t, err)

	got, err := box.Decrypt(encoded)
	require.NoError(t, err)
	assert.Equal(t, plaintext, got)
}

func TestBox_Decrypt_TamperedByteFailsIntegrity(t *testing.T) {
	box := testBox(t)
	encoded, err := box.Encrypt([]byte("secret-material"))
	require.NoError(t, err)

	tampered := []byte(encoded)
	// Flip a bit well inside the base64 body, not just padding.
	mid := len(tampered) / 2
	if tampered[mid] == 'A' {
		tampered[mid] = 'B'
	} else {
		tampered[mid] = 'A'
	}

	_, err = box.Decrypt(string(tampered))
	assert.ErrorIs(t, err, ErrIntegrityFailure)
}

func TestBox_NewBox_DerivesKeyWhenNotExactLength(t *testing.T) {
	box, err := NewBox([]byte("short-master-key"), []byte("fixed-salt"), 100_000)
	require.NoError(t, err)
	assert.Len(t, box.masterKey, keySize)
}

func TestBox_KeyedHash_DeterministicAndDistinct(t *testing.T) {
	box := testBox(t)
	h1 := box.KeyedHash("feen_AAAA")
	h2 := box.KeyedHash("feen_AAAA")
	h3 := box.KeyedHash("feen_BBBB")
	assert.Equal(t, h1, h2)
	assert.NotEqual(t, h1, h3)
}

func TestMintAccessToken_HasPrefixAndFormat(t *testing.T) {
	token, err := MintAccessToken()
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(token, "feen_"))
	assert.True(t, HasTokenPrefix(token))
	assert.False(t, HasTokenPrefix("sk-not-a-shared-token"))
}

func TestDisplayPrefix_ShortAndLong(t *testing.T) {
	assert.Equal(t, "****", DisplayPrefix("short"))
	assert.Equal(t, "feen...1234", DisplayPrefix("feen_abcdefgh1234"))
}

func TestVerifyPassword_RoundTrip(t *testing.T) {
	hash, err := HashPassword("correct-horse-battery-staple", 100_000)
	require.NoError(t, err)
	assert.True(t, VerifyPassword("correct-horse-battery-staple", hash, 100_000))
	assert.False(t, VerifyPassword("wrong-password", hash, 100_000))
}

func TestSignRequest_VerifyRoundTrip(t *testing.T) {
	secret := []byte("signing-secret")
	sig := SignRequest(secret, 1700000000, "nonce-1", "POST", "v1/chat/completions", []byte(`{"model":"gpt-4"}`), "tok_123")
	ok := VerifyRequestSignature(secret, 1700000000, "nonce-1", "POST", "v1/chat/completions", []byte(`{"model":"gpt-4"}`), "tok_123", sig)
	assert.True(t, ok)

	tamperedOk := VerifyRequestSignature(secret, 1700000000, "nonce-1", "POST", "v1/chat/completions", []byte(`{"model":"gpt-5"}`), "tok_123", sig)
	assert.False(t, tamperedOk)
}
