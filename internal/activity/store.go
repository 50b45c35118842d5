// Package activity keeps a local, append-only journal of CLI invocations
// (what was run and against which destination/queue/job), for a user's own
// reference. It never feeds status/list/kill decisions — those are always
// answered by a fresh SSH round trip per §1's stateless-client Non-goal.
package activity

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/vistrails/tej/internal/appconfig"
)

// Record is one CLI invocation logged to activity.jsonl.
type Record struct {
	Timestamp   time.Time `json:"timestamp"`
	Command     string    `json:"command"`
	Destination string    `json:"destination,omitempty"`
	Queue       string    `json:"queue,omitempty"`
	JobID       string    `json:"job_id,omitempty"`
	Outcome     string    `json:"outcome"` // "ok" or an error message
}

// Query filters Read.
type Query struct {
	Destination string
	JobID       string
	Since       time.Time
	Limit       int
}

// Store provides append/read access to the local activity journal.
type Store struct{}

func NewStore() *Store {
	return &Store{}
}

func filePath() (string, error) {
	dir, err := appconfig.ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "activity.jsonl"), nil
}

// Append writes a single record as one JSON line.
func (s *Store) Append(rec Record) error {
	path, err := filePath()
	if err != nil {
		return err
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	defer f.Close()

	b, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	_, err = f.Write(append(b, '\n'))
	return err
}

// Read returns records matching q, in append order. A query with a typical
// job-lookup shape ("what happened with job X") wants its answer from the
// tail of a log that only ever grows, so Read scans backward from the end
// of the journal and stops as soon as Limit matches are found, rather than
// reading the whole file and trimming a running window from the front.
func (s *Store) Read(q Query) ([]Record, error) {
	path, err := filePath()
	if err != nil {
		return nil, err
	}
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	lines := strings.Split(strings.TrimRight(string(b), "\n"), "\n")

	var newestFirst []Record
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		if line == "" {
			continue
		}
		var rec Record
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			continue
		}
		if !matches(rec, q) {
			continue
		}
		newestFirst = append(newestFirst, rec)
		if q.Limit > 0 && len(newestFirst) == q.Limit {
			break
		}
	}

	out := make([]Record, len(newestFirst))
	for i, rec := range newestFirst {
		out[len(newestFirst)-1-i] = rec
	}
	return out, nil
}

func matches(rec Record, q Query) bool {
	if strings.TrimSpace(q.Destination) != "" && rec.Destination != q.Destination {
		return false
	}
	if strings.TrimSpace(q.JobID) != "" && rec.JobID != q.JobID {
		return false
	}
	if !q.Since.IsZero() && rec.Timestamp.Before(q.Since) {
		return false
	}
	return true
}
