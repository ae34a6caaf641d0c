package processor

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
)

func hmacSHA256(secret string, payload []byte) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return mac.Sum(nil)
}

// SignHex returns the lowercase hex HMAC-SHA256 of payload.
func SignHex(secret string, payload []byte) string {
	return hex.EncodeToString(hmacSHA256(secret, payload))
}

// SignBase64 returns the standard base64 HMAC-SHA256 of payload.
func SignBase64(secret string, payload []byte) string {
	return base64.StdEncoding.EncodeToString(hmacSHA256(secret, payload))
}

// verify compares signatures in constant time.
func verify(expected, got string) bool {
	if expected == "" || got == "" {
		return false
	}
	return hmac.Equal([]byte(expected), []byte(got))
}
