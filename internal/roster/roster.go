// Package roster holds the worker directory and the worker -> team-lead map.
package roster

import (
	"trainer-perf/internal/eventlog"

	"github.com/rs/zerolog/log"
)

// Unassigned is the team key for workers without a resolvable team lead.
const Unassigned = "unassigned"

// Worker is a trainer or reviewer known to the directory.
type Worker struct {
	ID         string `json:"id"`
	Email      string `json:"email"`
	Role       string `json:"role,omitempty"`
	Status     string `json:"status,omitempty"`
	TeamLeadID string `json:"teamLeadId,omitempty"`
}

// Directory indexes workers by id and by normalized email. It is built once
// per recomputation and never mutated afterwards.
type Directory struct {
	byID    map[string]Worker
	byEmail map[string]Worker
}

// NewDirectory builds a directory from the worker feed. Later duplicates of an
// email override earlier ones.
func NewDirectory(records []eventlog.WorkerRecord) *Directory {
	d := &Directory{
		byID:    make(map[string]Worker, len(records)),
		byEmail: make(map[string]Worker, len(records)),
	}
	for _, r := range records {
		w := Worker{
			ID:         r.ID,
			Email:      eventlog.NormalizeEmail(r.Email),
			Role:       r.Role,
			Status:     r.Status,
			TeamLeadID: r.TeamLeadID,
		}
		if w.Email == "" {
			continue
		}
		if w.ID == "" {
			w.ID = w.Email
		}
		d.byID[w.ID] = w
		d.byEmail[w.Email] = w
	}
	return d
}

// Empty reports whether the directory has no workers. An empty directory
// accepts every actor.
func (d *Directory) Empty() bool {
	return d == nil || len(d.byEmail) == 0
}

// Known reports whether an actor email may receive credit.
func (d *Directory) Known(email string) bool {
	if d.Empty() {
		return email != ""
	}
	_, ok := d.ByEmail(email)
	return ok
}

// ByEmail looks a worker up by email.
func (d *Directory) ByEmail(email string) (Worker, bool) {
	if d == nil {
		return Worker{}, false
	}
	w, ok := d.byEmail[eventlog.NormalizeEmail(email)]
	return w, ok
}

// Len returns the number of workers.
func (d *Directory) Len() int {
	if d == nil {
		return 0
	}
	return len(d.byEmail)
}

// TeamIndex is the resolved worker -> team adjacency. Team keys are team-lead
// ids, or Unassigned.
type TeamIndex struct {
	teamOf map[string]string
}

// Teams resolves every worker's team in a single pass over the directory. A
// lead id that does not resolve to a directory entry sends the worker to
// Unassigned.
func (d *Directory) Teams() TeamIndex {
	idx := TeamIndex{
		teamOf: make(map[string]string),
	}
	if d == nil {
		return idx
	}
	for email, w := range d.byEmail {
		team := Unassigned
		if w.TeamLeadID != "" {
			if lead, ok := d.byID[w.TeamLeadID]; ok {
				team = lead.ID
			} else {
				log.Warn().Str("worker", email).Str("teamLead", w.TeamLeadID).Msg("Team lead not in directory, worker grouped as unassigned")
			}
		}
		idx.teamOf[email] = team
	}
	return idx
}

// TeamOf returns the team key of a worker email.
func (t TeamIndex) TeamOf(email string) string {
	if team, ok := t.teamOf[eventlog.NormalizeEmail(email)]; ok {
		return team
	}
	return Unassigned
}
