package device

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
	"time"
)

// visitorIDLength is the number of hex characters kept from the digest.
const visitorIDLength = 20

// Fingerprint summarizes the stable traits of a device at capture time.
type Fingerprint struct {
	VisitorID  string            `json:"visitor_id"`
	Components map[string]string `json:"components"`
	CapturedAt time.Time         `json:"captured_at"`
}

// VisitorID derives a deterministic identifier from device signals: the
// components are serialized in canonical key order and hashed with SHA-256,
// truncated to a fixed-length hex string. The same signals always yield the
// same identifier; changing any one signal changes it.
func VisitorID(components map[string]string) string {
	keys := make([]string, 0, len(components))
	for k := range components {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	for _, k := range keys {
		sb.WriteString(k)
		sb.WriteByte('=')
		sb.WriteString(components[k])
		sb.WriteByte(';')
	}

	sum := sha256.Sum256([]byte(sb.String()))
	return hex.EncodeToString(sum[:])[:visitorIDLength]
}

// Capture builds a full fingerprint from device signals.
func Capture(components map[string]string, now time.Time) Fingerprint {
	return Fingerprint{
		VisitorID:  VisitorID(components),
		Components: components,
		CapturedAt: now,
	}
}
