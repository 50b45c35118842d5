package activity

import (
	"testing"
	"time"
)

func TestAppendAndReadFilters(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	s := NewStore()

	base := time.Now().Add(-time.Hour).UTC()
	seed := []Record{
		{Timestamp: base, Command: "submit", Destination: "build", JobID: "job-a", Outcome: "ok"},
		{Timestamp: base.Add(10 * time.Minute), Command: "status", Destination: "build", JobID: "job-a", Outcome: "ok"},
		{Timestamp: base.Add(20 * time.Minute), Command: "submit", Destination: "other", JobID: "job-b", Outcome: "dial failed"},
	}
	for _, rec := range seed {
		if err := s.Append(rec); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	all, err := s.Read(Query{})
	if err != nil {
		t.Fatalf("read all: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 records, got %d", len(all))
	}

	byDest, err := s.Read(Query{Destination: "build"})
	if err != nil {
		t.Fatalf("read by destination: %v", err)
	}
	if len(byDest) != 2 {
		t.Fatalf("expected 2 records for destination build, got %d", len(byDest))
	}

	byJob, err := s.Read(Query{JobID: "job-b"})
	if err != nil {
		t.Fatalf("read by job id: %v", err)
	}
	if len(byJob) != 1 || byJob[0].Outcome != "dial failed" {
		t.Fatalf("unexpected job filter result: %+v", byJob)
	}

	limited, err := s.Read(Query{Limit: 1})
	if err != nil {
		t.Fatalf("read limited: %v", err)
	}
	if len(limited) != 1 || limited[0].JobID != "job-b" {
		t.Fatalf("expected most recent record only, got %+v", limited)
	}

	since, err := s.Read(Query{Since: base.Add(15 * time.Minute)})
	if err != nil {
		t.Fatalf("read since: %v", err)
	}
	if len(since) != 1 || since[0].JobID != "job-b" {
		t.Fatalf("unexpected since filter result: %+v", since)
	}
}

func TestRead_MissingFileReturnsEmpty(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	s := NewStore()
	recs, err := s.Read(Query{})
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 0 {
		t.Fatalf("expected no records, got %d", len(recs))
	}
}
