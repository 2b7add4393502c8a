package credential

import (
	"crypto/rand"
	"encoding/hex"
	"strings"
	"time"
)

// DefaultTTL is how long a generated signature is trusted
const DefaultTTL = time.Hour

// Credential is one generated signature and the values it was issued with.
// Credentials are immutable once published.
type Credential struct {
	Signature    string        `json:"sign"`
	DeviceID     string        `json:"yq_bid"`
	BundleMD5    string        `json:"configs_md5"`
	BundleDigest string        `json:"bundle_digest"`
	IssuedAt     time.Time     `json:"issued_at"`
	TTL          time.Duration `json:"ttl"`
	Generation   uint64        `json:"generation"`
}

// ExpiresAt returns the first instant the credential is no longer valid
func (c *Credential) ExpiresAt() time.Time {
	return c.IssuedAt.Add(c.TTL)
}

// ValidAt reports whether the credential may be used at now
func (c *Credential) ValidAt(now time.Time) bool {
	return c != nil && c.Signature != "" && now.Before(c.ExpiresAt())
}

// NewDeviceID returns a _yq_bid value: "G-" followed by 16 uppercase hex digits
func NewDeviceID() string {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		panic(err)
	}
	return "G-" + strings.ToUpper(hex.EncodeToString(b[:]))
}
