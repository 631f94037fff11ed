package eventlog

import (
	"github.com/rs/zerolog/log"
)

// WarningKind classifies a non-fatal data-quality problem.
type WarningKind string

const (
	MalformedTimestamp WarningKind = "malformed_timestamp"
	OrphanReview       WarningKind = "orphan_review"
	UnknownActor       WarningKind = "unknown_actor"
	SupersededReview   WarningKind = "superseded_review"
	MissingReward      WarningKind = "missing_reward_config"
	UnknownProject     WarningKind = "unknown_project"
	OrphanMilestone    WarningKind = "orphan_milestone"
)

// Warning is a skipped record together with the reason it was skipped.
type Warning struct {
	Kind    WarningKind `json:"kind"`
	Subject string      `json:"subject"`
	Detail  string      `json:"detail,omitempty"`
}

// Quality collects data-quality warnings for one recomputation. It is owned by
// a single pipeline run and is not safe for concurrent use.
type Quality struct {
	Counts   map[WarningKind]int `json:"counts"`
	Warnings []Warning           `json:"warnings"`
}

// NewQuality creates an empty report.
func NewQuality() *Quality {
	return &Quality{Counts: make(map[WarningKind]int)}
}

// Warn records and logs a warning. A nil receiver only logs.
func (q *Quality) Warn(kind WarningKind, subject, detail string) {
	log.Warn().Str("kind", string(kind)).Str("subject", subject).Msg(detail)
	if q == nil {
		return
	}
	q.Counts[kind]++
	q.Warnings = append(q.Warnings, Warning{Kind: kind, Subject: subject, Detail: detail})
}

// Count returns the number of warnings of the given kind.
func (q *Quality) Count(kind WarningKind) int {
	if q == nil {
		return 0
	}
	return q.Counts[kind]
}

// Total returns the number of warnings across all kinds.
func (q *Quality) Total() int {
	if q == nil {
		return 0
	}
	return len(q.Warnings)
}
