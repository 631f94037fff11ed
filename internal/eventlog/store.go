package eventlog

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/rs/zerolog/log"
)

// EventStore provides thread-safe, append-only storage for transition records,
// partitioned by project.
type EventStore struct {
	mu      sync.RWMutex
	logs    map[string][]TransitionRecord
	nextSeq int64
}

// NewEventStore creates a new empty EventStore.
func NewEventStore() *EventStore {
	return &EventStore{
		logs:    make(map[string][]TransitionRecord),
		nextSeq: 1,
	}
}

// Append adds records to a project's log, skipping ones already present.
// New records receive the next insertion sequence number unless they already
// carry one from a previous save.
func (s *EventStore) Append(projectID string, records []TransitionRecord) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	logData := s.logs[projectID]

	existing := make(map[string]bool, len(logData))
	for _, r := range logData {
		existing[r.identity()] = true
	}

	added := 0
	for _, r := range records {
		id := r.identity()
		if existing[id] {
			continue
		}
		existing[id] = true
		if r.Seq == 0 {
			r.Seq = s.nextSeq
			s.nextSeq++
		} else if r.Seq >= s.nextSeq {
			s.nextSeq = r.Seq + 1
		}
		logData = append(logData, r)
		added++
	}

	if added == 0 {
		return 0
	}

	// Insertion order is the only order the store guarantees.
	sort.SliceStable(logData, func(i, j int) bool {
		return logData[i].Seq < logData[j].Seq
	})

	s.logs[projectID] = logData
	return added
}

// Load reads a project's log from its JSONL cache file.
func (s *EventStore) Load(cacheDir string, projectID string) error {
	records, err := ReadJSONL[TransitionRecord](cachePath(cacheDir, projectID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to load transition cache: %w", err)
	}

	log.Info().Str("project", projectID).Int("count", len(records)).Msg("Loaded transitions from cache")
	s.Append(projectID, records)
	return nil
}

// Save persists a project's log to its JSONL cache file.
func (s *EventStore) Save(cacheDir string, projectID string) error {
	s.mu.RLock()
	logData := append([]TransitionRecord(nil), s.logs[projectID]...)
	s.mu.RUnlock()

	if len(logData) == 0 {
		return nil
	}

	if err := WriteJSONL(cachePath(cacheDir, projectID), logData); err != nil {
		return err
	}

	log.Info().Str("project", projectID).Int("count", len(logData)).Msg("Transition log saved to cache")
	return nil
}

// Count returns the number of records stored for a project.
func (s *EventStore) Count(projectID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.logs[projectID])
}

// Projects lists the partitions currently held, sorted.
func (s *EventStore) Projects() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]string, 0, len(s.logs))
	for p := range s.logs {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Records returns a copy of the records for the given projects. An empty
// project list returns every partition.
func (s *EventStore) Records(projects []string) []TransitionRecord {
	if len(projects) == 0 {
		projects = s.Projects()
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []TransitionRecord
	for _, p := range projects {
		result = append(result, s.logs[p]...)
	}
	return result
}

// RecordsForTask returns the full transition history of a single task.
func (s *EventStore) RecordsForTask(projectID, taskID string) []TransitionRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []TransitionRecord
	for _, r := range s.logs[projectID] {
		if r.TaskID == taskID {
			result = append(result, r)
		}
	}
	return result
}

func (r TransitionRecord) identity() string {
	return fmt.Sprintf("%s|%s|%s|%s|%s",
		r.TaskID,
		r.Timestamp,
		r.FromStatus,
		r.ToStatus,
		r.Actor,
	)
}

func cachePath(cacheDir, projectID string) string {
	return filepath.Join(cacheDir, fmt.Sprintf("transitions-%s.jsonl", projectID))
}

// ReadJSONL decodes one value per line. Lines that fail to decode are logged
// and skipped.
func ReadJSONL[T any](path string) ([]T, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var out []T
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		if len(scanner.Bytes()) == 0 {
			continue
		}
		var v T
		if err := json.Unmarshal(scanner.Bytes(), &v); err != nil {
			log.Warn().Err(err).Str("path", path).Int("line", line).Msg("Skipping invalid JSON line")
			continue
		}
		out = append(out, v)
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading %s: %w", path, err)
	}
	return out, nil
}

// WriteJSONL writes one value per line to a temp file and renames it into place.
func WriteJSONL[T any](path string, values []T) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	tmpPath := path + ".tmp"
	file, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}

	writer := bufio.NewWriter(file)
	encoder := json.NewEncoder(writer)

	for _, v := range values {
		if err := encoder.Encode(v); err != nil {
			file.Close()
			os.Remove(tmpPath)
			return fmt.Errorf("failed to encode record: %w", err)
		}
	}

	if err := writer.Flush(); err != nil {
		file.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to flush writer: %w", err)
	}

	if err := file.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close file: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("failed to rename file: %w", err)
	}
	return nil
}
