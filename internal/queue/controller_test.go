package queue

import (
	"strings"
	"testing"
)

func TestValidJobID(t *testing.T) {
	cases := []struct {
		id   string
		want bool
	}{
		{"build_alice_ab12cd34ef", true},
		{"", false},
		{"has space", false},
		{"has/slash", false},
	}
	for _, c := range cases {
		if got := validJobID(c.id); got != c.want {
			t.Errorf("validJobID(%q) = %v, want %v", c.id, got, c.want)
		}
	}
}

func TestSynthesizeJobID_Format(t *testing.T) {
	id, err := synthesizeJobID("/home/alice/jobs/build-farm")
	if err != nil {
		t.Fatal(err)
	}
	parts := strings.Split(id, "_")
	if len(parts) != 3 {
		t.Fatalf("expected 3 underscore-separated parts, got %d: %q", len(parts), id)
	}
	if parts[0] != "build-farm" {
		t.Fatalf("expected basename prefix, got %q", parts[0])
	}
	if len(parts[2]) != 10 {
		t.Fatalf("expected a 10-character random suffix, got %q", parts[2])
	}
	if !validJobID(id) {
		t.Fatalf("synthesized id %q is not itself a valid job id", id)
	}
}

func TestSynthesizeJobID_Unique(t *testing.T) {
	a, err := synthesizeJobID("./job")
	if err != nil {
		t.Fatal(err)
	}
	b, err := synthesizeJobID("./job")
	if err != nil {
		t.Fatal(err)
	}
	if a == b {
		t.Fatalf("expected distinct ids across calls, got %q twice", a)
	}
}

func TestParseListOutput_MultipleRecordsWithFields(t *testing.T) {
	stdout := "build_alice_ab12cd34ef\n" +
		"    state: running\n" +
		"    dir: /home/alice/.tej/jobs/build_alice_ab12cd34ef\n" +
		"test_bob_ffeeddccbb\n" +
		"    state: done\n" +
		"    exit: 0\n"

	records, err := parseListOutput(stdout)
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	if records[0].ID != "build_alice_ab12cd34ef" || records[0].Fields["state"] != "running" {
		t.Fatalf("unexpected first record: %+v", records[0])
	}
	if records[1].ID != "test_bob_ffeeddccbb" || records[1].Fields["exit"] != "0" {
		t.Fatalf("unexpected second record: %+v", records[1])
	}
}

func TestParseListOutput_Empty(t *testing.T) {
	records, err := parseListOutput("")
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 0 {
		t.Fatalf("expected no records, got %d", len(records))
	}
}

func TestParseListOutput_OrphanFieldLineFails(t *testing.T) {
	_, err := parseListOutput("    state: running\n")
	if err == nil {
		t.Fatal("expected error for a field line with no preceding job id")
	}
}
