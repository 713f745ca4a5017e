package models

import "time"

// MatchReason classifies how two canonical records were matched as a
// suspected duplicate.
type MatchReason string

const (
	MatchSameSourceSerial   MatchReason = "same_source_serial"
	MatchCrossSourceSerial  MatchReason = "cross_source_serial"
	MatchCrossSourceAddress MatchReason = "cross_source_address"
)

// DuplicateConflict is a flagged, unresolved identity collision between two
// canonical records. The core only ever appends these; resolution is an
// explicit operator action outside the reconciliation path.
type DuplicateConflict struct {
	CanonicalIDA string      `json:"canonical_id_a"`
	CanonicalIDB string      `json:"canonical_id_b"`
	MatchReason  MatchReason `json:"match_reason"`
	DetectedAt   time.Time   `json:"detected_at"`
	Resolved     bool        `json:"resolved"`
}
