package hostconfig

import (
	"os"
	"path/filepath"
	"testing"
)

func TestParseFile_WildcardAndConcreteMerge(t *testing.T) {
	d := t.TempDir()
	cfg := `
Host *
  User default
  Port 22

Host build-*
  User builder

Host build-1
  HostName 10.0.0.5
  IdentityFile ~/.ssh/build_key
`
	path := filepath.Join(d, "config")
	if err := os.WriteFile(path, []byte(cfg), 0o644); err != nil {
		t.Fatal(err)
	}

	res, err := ParseFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Hosts) != 1 {
		t.Fatalf("expected 1 concrete host, got %d: %+v", len(res.Hosts), res.Hosts)
	}
	h := res.Hosts[0]
	if h.Alias != "build-1" || h.User != "builder" || h.HostName != "10.0.0.5" || h.Port != 22 {
		t.Fatalf("unexpected merged host: %+v", h)
	}
}

func TestParseFile_Include(t *testing.T) {
	d := t.TempDir()
	included := "Host included-host\n  HostName 10.0.0.9\n"
	if err := os.WriteFile(filepath.Join(d, "extra"), []byte(included), 0o644); err != nil {
		t.Fatal(err)
	}
	main := "Include extra\n\nHost main-host\n  HostName 10.0.0.1\n"
	path := filepath.Join(d, "config")
	if err := os.WriteFile(path, []byte(main), 0o644); err != nil {
		t.Fatal(err)
	}

	res, err := ParseFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Hosts) != 2 {
		t.Fatalf("expected 2 hosts after include, got %d: %+v", len(res.Hosts), res.Hosts)
	}
}

func TestParseFile_IncludeCycleIsWarnedNotFatal(t *testing.T) {
	d := t.TempDir()
	a := filepath.Join(d, "a")
	b := filepath.Join(d, "b")
	if err := os.WriteFile(a, []byte("Include b\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(b, []byte("Include a\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	res, err := ParseFile(a)
	if err != nil {
		t.Fatalf("expected include cycle to be a warning, not a fatal error: %v", err)
	}
	if len(res.Warnings) == 0 {
		t.Fatal("expected a cycle warning")
	}
}

func TestParseFile_MissingFileIsWarning(t *testing.T) {
	d := t.TempDir()
	res, err := ParseFile(filepath.Join(d, "does-not-exist"))
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Hosts) != 0 || len(res.Warnings) == 0 {
		t.Fatalf("expected empty hosts and a warning, got %+v", res)
	}
}

func TestLookup_UnknownAliasIsNotAnError(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	_, found, err := Lookup("never-configured-alias")
	if err != nil {
		t.Fatal(err)
	}
	if found {
		t.Fatal("expected no match for an alias absent from an empty config")
	}
}
