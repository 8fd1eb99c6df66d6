package http

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	MaxUserIDLength = 20
	MaxWebhookBody  = 1 << 20
	signaturePrefix = "sha256="
)

var userIDPattern = regexp.MustCompile(`^[0-9]+$`)

// ValidUserID checks that s looks like a WhatsApp id (digits only).
func ValidUserID(s string) bool {
	if s == "" || len(s) > MaxUserIDLength {
		return false
	}
	return userIDPattern.MatchString(s)
}

// VerifySignature checks an X-Hub-Signature-256 header against body.
func VerifySignature(secret, header string, body []byte) bool {
	if secret == "" || !strings.HasPrefix(header, signaturePrefix) {
		return false
	}
	got, err := hex.DecodeString(strings.TrimPrefix(header, signaturePrefix))
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(got, mac.Sum(nil))
}

// Sign returns the X-Hub-Signature-256 value for body.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return signaturePrefix + hex.EncodeToString(mac.Sum(nil))
}

// SanitizeString drops invalid UTF-8 and control characters other than
// newline and tab.
func SanitizeString(s string) string {
	return strings.Map(func(r rune) rune {
		if r == utf8.RuneError || (unicode.IsControl(r) && r != '\n' && r != '\t') {
			return -1
		}
		return r
	}, s)
}
