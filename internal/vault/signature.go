package vault

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
)

// SignRequest computes the HMAC-SHA256 over the canonical signing string for
// a proxied request, per spec.md §4.1:
// timestamp "\n" nonce "\n" METHOD "\n" path "\n" body "\n" token_id
//
// Shape grounded on the teacher's hmacVerifier (hmac.New(sha256.New, secret)
// over raw bytes, hex-encoded digest).
func SignRequest(secret []byte, timestamp int64, nonce, method, path string, body []byte, tokenID string) string {
	mac := hmac.New(sha256.New, secret)
	_, _ = mac.Write([]byte(strconv.FormatInt(timestamp, 10)))
	_, _ = mac.Write([]byte("\n"))
	_, _ = mac.Write([]byte(nonce))
	_, _ = mac.Write([]byte("\n"))
	_, _ = mac.Write([]byte(method))
	_, _ = mac.Write([]byte("\n"))
	_, _ = mac.Write([]byte(path))
	_, _ = mac.Write([]byte("\n"))
	_, _ = mac.Write(body)
	_, _ = mac.Write([]byte("\n"))
	_, _ = mac.Write([]byte(tokenID))
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifyRequestSignature recomputes the signature and compares in constant
// time against the client-supplied hex digest.
func VerifyRequestSignature(
	secret []byte,
	timestamp int64,
	nonce, method, path string,
	body []byte,
	tokenID string,
	provided string,
) bool {
	expected := SignRequest(secret, timestamp, nonce, method, path, body, tokenID)
	return ConstantTimeEqual(expected, provided)
}

// SignWebhookPayload computes X-Feen-Webhook-Signature's value,
// HMAC-SHA256(secret, "<ts>.<body>"), reusing the teacher's hmacVerifier
// construction in the outbound direction (signing instead of verifying).
func SignWebhookPayload(secret []byte, timestampUnix int64, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	_, _ = mac.Write([]byte(fmt.Sprintf("%d.", timestampUnix)))
	_, _ = mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
