package webhook

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"net/url"
	"sort"
	"strings"
)

// SignatureHeader carries the gateway's request signature.
const SignatureHeader = "X-Twilio-Signature"

// ComputeSignature returns base64(HMAC-SHA1(secret, fullURL + k1 + v1 + k2 + v2 ...))
// with parameters sorted by key. Repeated keys contribute every value in order.
func ComputeSignature(secret, fullURL string, params url.Values) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	sb.WriteString(fullURL)
	for _, k := range keys {
		for _, v := range params[k] {
			sb.WriteString(k)
			sb.WriteString(v)
		}
	}

	mac := hmac.New(sha1.New, []byte(secret))
	_, _ = mac.Write([]byte(sb.String()))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// ValidSignature compares sig against the expected signature in constant time.
func ValidSignature(secret, fullURL string, params url.Values, sig string) bool {
	expected := ComputeSignature(secret, fullURL, params)
	return hmac.Equal([]byte(expected), []byte(strings.TrimSpace(sig)))
}
