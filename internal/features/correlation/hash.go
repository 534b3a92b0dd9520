package correlation

import (
	"crypto/sha256"
	"encoding/hex"

	"crm-sync/internal/providers"
)

// ContentHash fingerprints the mapped field values of one record. It is
// computed over the canonical sorted-key serialization of the fields the
// mapping actually carried, so changes outside the mapping never count as
// a difference.
func ContentHash(rec *providers.CrmRecord) string {
	if rec == nil || rec.Len() == 0 {
		return ""
	}
	sum := sha256.Sum256([]byte(rec.Canonical()))
	return hex.EncodeToString(sum[:])
}
