package doctor

import (
	"os"
	"path/filepath"
	"testing"
)

func TestRun_FlagsMissingKnownHosts(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	report, err := Run("")
	if err != nil {
		t.Fatal(err)
	}
	found := false
	for _, issue := range report.Issues {
		if issue.Check == "known-hosts" {
			found = true
			if issue.Severity != SeverityHigh {
				t.Fatalf("expected known-hosts issue to be high severity, got %s", issue.Severity)
			}
		}
	}
	if !found {
		t.Fatalf("expected a known-hosts issue when ~/.ssh/known_hosts is absent, got %+v", report.Issues)
	}
}

func TestRun_FlagsLoosePermissions(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	sshDir := filepath.Join(home, ".ssh")
	if err := os.MkdirAll(sshDir, 0o700); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(sshDir, "known_hosts"), []byte("example.com ssh-ed25519 AAAA\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	report, err := Run("")
	if err != nil {
		t.Fatal(err)
	}
	found := false
	for _, issue := range report.Issues {
		if issue.Check == "permissions" && issue.Target == filepath.Join(sshDir, "known_hosts") {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected a permissions issue for a world-readable known_hosts, got %+v", report.Issues)
	}
}

func TestRun_IncludesDestinationInformationalIssue(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	report, err := Run("build.example.com")
	if err != nil {
		t.Fatal(err)
	}
	found := false
	for _, issue := range report.Issues {
		if issue.Check == "target" && issue.Target == "build.example.com" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected a target issue naming the destination, got %+v", report.Issues)
	}
}

func TestRun_SortedBySeverity(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	report, err := Run("")
	if err != nil {
		t.Fatal(err)
	}
	for i := 1; i < len(report.Issues); i++ {
		if severityRank(report.Issues[i].Severity) > severityRank(report.Issues[i-1].Severity) {
			t.Fatalf("issues not sorted by descending severity at index %d: %+v", i, report.Issues)
		}
	}
}
