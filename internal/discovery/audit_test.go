package discovery

import (
	"testing"
	"time"
)

func TestFilterAuditSince(t *testing.T) {
	t.Parallel()

	since := time.Date(2023, time.December, 1, 0, 0, 0, 0, time.UTC)

	entries := []AuditLogEntry{
		{
			ID:        "old",
			Timestamp: time.Date(2023, time.November, 1, 0, 0, 0, 0, time.UTC),
			ActorID:   "U1",
			ActorType: ActorTypeUser,
		},
		{
			ID:        "kept",
			Timestamp: time.Date(2023, time.December, 1, 10, 0, 0, 0, time.UTC),
			ActorID:   "U2",
			ActorType: ActorTypeUser,
		},
	}

	got := FilterAuditSince(entries, since)
	if len(got) != 1 || got[0].ID != "kept" {
		t.Fatalf("FilterAuditSince() = %v, want only the 2023-12-01T10:00:00Z entry", got)
	}
}

func TestFilterAuditSinceBoundaryAndDrops(t *testing.T) {
	t.Parallel()

	since := time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)

	cases := []struct {
		name  string
		entry AuditLogEntry
		keep  bool
	}{
		{
			name: "equal to since is kept",
			entry: AuditLogEntry{
				ID:        "boundary",
				Timestamp: since,
				ActorID:   "U1",
			},
			keep: true,
		},
		{
			name: "missing actor dropped",
			entry: AuditLogEntry{
				ID:        "no-actor",
				Timestamp: since.Add(time.Hour),
				ActorID:   "   ",
			},
			keep: false,
		},
		{
			name: "zero timestamp dropped",
			entry: AuditLogEntry{
				ID:      "no-time",
				ActorID: "U1",
			},
			keep: false,
		},
		{
			name: "older dropped",
			entry: AuditLogEntry{
				ID:        "older",
				Timestamp: since.Add(-time.Second),
				ActorID:   "U1",
			},
			keep: false,
		},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := FilterAuditSince([]AuditLogEntry{tc.entry}, since)
			if kept := len(got) == 1; kept != tc.keep {
				t.Fatalf("kept=%v want %v", kept, tc.keep)
			}
		})
	}
}

func TestNormalizeAuditResult(t *testing.T) {
	t.Parallel()

	cases := []struct {
		raw  string
		want string
	}{
		{raw: "success", want: ResultSuccess},
		{raw: "Succeeded", want: ResultSuccess},
		{raw: "", want: ResultSuccess},
		{raw: "failure", want: ResultFailure},
		{raw: "denied", want: ResultFailure},
	}

	for _, tc := range cases {
		if got := NormalizeAuditResult(tc.raw); got != tc.want {
			t.Fatalf("NormalizeAuditResult(%q) = %q, want %q", tc.raw, got, tc.want)
		}
	}
}
