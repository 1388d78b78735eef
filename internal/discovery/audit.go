package discovery

import "time"

// FilterAuditSince re-applies the caller's lower bound after fetching.
// Some platform APIs silently ignore server-side time filters, so the
// guard runs even when the query already filtered. Entries without a
// mappable actor or timestamp are dropped rather than emitted with null
// identity fields.
func FilterAuditSince(entries []AuditLogEntry, since time.Time) []AuditLogEntry {
	out := make([]AuditLogEntry, 0, len(entries))
	for _, entry := range entries {
		if entry.Timestamp.IsZero() || Trim(entry.ActorID) == "" {
			continue
		}
		if entry.Timestamp.Before(since) {
			continue
		}
		out = append(out, entry)
	}
	return out
}

// NormalizeAuditResult folds platform result markers into success/failure.
func NormalizeAuditResult(raw string) string {
	switch Lower(raw) {
	case "success", "succeeded", "ok", "allow", "allowed", "":
		return ResultSuccess
	default:
		return ResultFailure
	}
}
