package execution

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"strconv"
	"time"
)

// HMACAuth signs execution service requests.
type HMACAuth struct {
	Key    string
	Secret string
	now    func() time.Time
}

// NewHMACAuth returns nil when key or secret is empty so callers can pass the
// result straight to NewClient.
func NewHMACAuth(key, secret string) *HMACAuth {
	if key == "" || secret == "" {
		return nil
	}
	return &HMACAuth{Key: key, Secret: secret, now: time.Now}
}

// Headers returns the authentication headers for a request. The signature
// is base64(HMAC-SHA256(secret, timestamp+method+path+body)).
//
// Returned header keys:
//   - X-PERPBOT-KEY
//   - X-PERPBOT-TIMESTAMP
//   - X-PERPBOT-SIGNATURE
func (h *HMACAuth) Headers(method, path, body string) map[string]string {
	ts := strconv.FormatInt(h.now().Unix(), 10)
	return map[string]string{
		"X-PERPBOT-KEY":       h.Key,
		"X-PERPBOT-TIMESTAMP": ts,
		"X-PERPBOT-SIGNATURE": sign([]byte(h.Secret), ts+method+path+body),
	}
}

func sign(secret []byte, message string) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(message))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}
