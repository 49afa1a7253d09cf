// Package crypto implements the HMAC request signing shared by the venue
// clients. Each venue concatenates its own canonical message; the helpers
// here produce the signature encodings the venues expect.
package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"
)

// HMACAuth holds an API key pair used for HMAC-authenticated requests.
type HMACAuth struct {
	Key        string // API key
	Secret     string // API secret
	Passphrase string // OKX only
}

// SignBybit returns the hex signature for a Bybit V5 request. The canonical
// message is timestamp + apiKey + recvWindow + payload, where payload is the
// sorted query string for GET requests or the JSON body otherwise.
func (h *HMACAuth) SignBybit(timestampMs int64, recvWindowMs int, payload string) string {
	message := strconv.FormatInt(timestampMs, 10) + h.Key + strconv.Itoa(recvWindowMs) + payload
	return hmacSHA256Hex([]byte(h.Secret), message)
}

// SignBinance returns the hex signature for a Binance request. The canonical
// message is the full urlencoded query string including the timestamp
// parameter; the signature is appended as the "signature" parameter.
func (h *HMACAuth) SignBinance(query string) string {
	return hmacSHA256Hex([]byte(h.Secret), query)
}

// SignOKX returns the base64 signature for an OKX V5 request. The canonical
// message is timestamp + method + requestPath + body, with the timestamp in
// ISO-8601 millisecond form.
func (h *HMACAuth) SignOKX(timestamp, method, requestPath, body string) string {
	message := timestamp + method + requestPath + body
	return hmacSHA256Base64([]byte(h.Secret), message)
}

// OKXTimestamp formats t the way OKX expects: UTC ISO-8601 with millisecond
// precision, e.g. "2020-12-08T09:08:57.715Z".
func OKXTimestamp(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000Z")
}

// String returns a redacted representation suitable for logging.
func (h *HMACAuth) String() string {
	redact := func(s string) string {
		if len(s) <= 4 {
			return "****"
		}
		return s[:4] + "****"
	}
	return fmt.Sprintf("HMACAuth{key=%s, secret=%s}", redact(h.Key), redact(h.Secret))
}

// --------------------------------------------------------------------------
// Internal helpers
// --------------------------------------------------------------------------

// hmacSHA256Hex computes HMAC-SHA256 of message using key and returns the
// result as a lowercase hex string.
func hmacSHA256Hex(key []byte, message string) string {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(message))
	return hex.EncodeToString(mac.Sum(nil))
}

// hmacSHA256Base64 computes HMAC-SHA256 of message using key and returns the
// result as a base64 standard-encoded string.
func hmacSHA256Base64(key []byte, message string) string {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(message))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}
