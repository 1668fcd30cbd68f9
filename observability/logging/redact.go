package logging

import (
	"log/slog"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// RedactedValue replaces credentials that reach the handler unmasked.
const RedactedValue = "[REDACTED]"

const fingerprintPrefix = "keccak:"

// secretKeys name attributes that carry credentials. Matching ignores case,
// dashes and underscores, so hmacSecret and hmac_secret are the same key.
var secretKeys = map[string]struct{}{
	"authorization": {},
	"bearer":        {},
	"token":         {},
	"jwt":           {},
	"secret":        {},
	"hmacsecret":    {},
	"password":      {},
	"apikey":        {},
}

func normalizeKey(key string) string {
	return strings.NewReplacer("-", "", "_", "", " ", "").Replace(strings.ToLower(key))
}

// IsSecret reports whether values logged under key must never appear verbatim.
func IsSecret(key string) bool {
	_, ok := secretKeys[normalizeKey(key)]
	return ok
}

// Fingerprint identifies a credential without revealing it: the first four
// bytes of its keccak256 hash. Repeated failures with the same token share a
// fingerprint.
func Fingerprint(value string) string {
	return fingerprintPrefix + common.Bytes2Hex(crypto.Keccak256([]byte(value))[:4])
}

// MaskField logs a credential by fingerprint. Empty values pass through.
func MaskField(key, value string) slog.Attr {
	value = strings.TrimSpace(value)
	if value == "" {
		return slog.String(key, "")
	}
	return slog.String(key, Fingerprint(value))
}

// redactAttr masks string attributes under secret keys that were logged
// without MaskField.
func redactAttr(attr slog.Attr) slog.Attr {
	if attr.Value.Kind() != slog.KindString || !IsSecret(attr.Key) {
		return attr
	}
	value := attr.Value.String()
	if value == "" || strings.HasPrefix(value, fingerprintPrefix) {
		return attr
	}
	return slog.String(attr.Key, RedactedValue)
}
