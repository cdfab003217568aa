// Package idgen generates prefixed, time-ordered identifiers.
package idgen

import (
	"crypto/rand"
	"encoding/hex"
	"strings"

	"github.com/google/uuid"
)

// Prefixes used across the platform. The prefix makes an ID self-describing
// in logs and audit metadata.
const (
	PrefixOrganization = "org_"
	PrefixUser         = "usr_"
	PrefixSubscription = "sub_"
	PrefixBillingEvent = "bev_"
	PrefixAudit        = "aud_"
	PrefixUpload       = "upl_"
	PrefixSession      = "ses_"
	PrefixFlag         = "ffl_"
)

// WithPrefix returns prefix + a UUIDv7 rendered as 32 hex chars.
// UUIDv7 sorts by creation time, which keeps btree inserts append-mostly.
func WithPrefix(prefix string) string {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	return prefix + strings.ReplaceAll(id.String(), "-", "")
}

// Hex returns a random hex string of numBytes bytes of entropy.
func Hex(numBytes int) string {
	b := make([]byte, numBytes)
	if _, err := rand.Read(b); err != nil {
		panic("crypto/rand failed: " + err.Error())
	}
	return hex.EncodeToString(b)
}
