package sync

import (
	"time"

	"crm-sync/internal/features/correlation"
	"crm-sync/internal/providers"
)

// NeedsOutbound reports whether a platform record's synced surface differs
// from what was last pushed. The candidate holds the mapped field values
// plus the relationship foreign keys, so both field edits and relationship
// re-pointing register as changes. Equal hash means skip.
func NeedsOutbound(row *correlation.ExternalID, candidate *providers.CrmRecord) bool {
	if row == nil {
		return true
	}
	hash := correlation.ContentHash(candidate)
	return hash != row.LastSyncHash
}

// NeedsInbound reports whether a CRM record is newer than the last sync of
// its correlation. Missing or unparsable modified dates count as changed so
// a vendor that omits the field still syncs. Ties resolve to skip.
func NeedsInbound(row *correlation.ExternalID, crmModifiedOn time.Time) bool {
	if row == nil {
		return true
	}
	if crmModifiedOn.IsZero() {
		return true
	}
	return crmModifiedOn.After(row.LastSyncedAt)
}

// modifiedOn extracts the mapping's modified-date field from a CRM record.
// Zero time when absent or not a timestamp.
func modifiedOn(rec *providers.CrmRecord, field string) time.Time {
	if rec == nil || field == "" {
		return time.Time{}
	}
	v, ok := rec.Get(field)
	if !ok || v.Kind != providers.KindTime {
		return time.Time{}
	}
	return v.Time
}
