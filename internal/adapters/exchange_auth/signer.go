package exchange_auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strconv"
	"time"
)

// Signer implements the exchange's private-API request signing:
// HMAC-SHA256 over timestamp + method + path + body, hex encoded.
// Both the HTTP client and the execution feed share this signer.
type Signer struct {
	apiKey string
	secret []byte
}

// NewSigner returns a Signer, or nil when credentials are absent so
// callers can run against public endpoints or the paper exchange.
func NewSigner(apiKey, secret string) *Signer {
	if apiKey == "" || secret == "" {
		return nil
	}
	return &Signer{apiKey: apiKey, secret: []byte(secret)}
}

// SignRequest sets ACCESS-KEY, ACCESS-TIMESTAMP, and ACCESS-SIGN on req.
// body must be the exact payload bytes, nil for GET/DELETE. No-op when
// s is nil.
func (s *Signer) SignRequest(req *http.Request, body []byte) error {
	if s == nil {
		return nil
	}

	ts := strconv.FormatInt(time.Now().Unix(), 10)
	req.Header.Set("ACCESS-KEY", s.apiKey)
	req.Header.Set("ACCESS-TIMESTAMP", ts)
	req.Header.Set("ACCESS-SIGN", s.sign(ts, req.Method, req.URL.RequestURI(), body))
	return nil
}

// AuthPayload returns the auth parameters for the websocket feed's
// auth frame. Returns nil when s is nil.
func (s *Signer) AuthPayload() map[string]string {
	if s == nil {
		return nil
	}
	ts := strconv.FormatInt(time.Now().Unix(), 10)
	return map[string]string{
		"api_key":   s.apiKey,
		"timestamp": ts,
		"signature": s.sign(ts, "GET", "/ws/auth", nil),
	}
}

func (s *Signer) sign(ts, method, path string, body []byte) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(ts))
	mac.Write([]byte(method))
	mac.Write([]byte(path))
	if len(body) > 0 {
		mac.Write(body)
	}
	return hex.EncodeToString(mac.Sum(nil))
}
