package queue

import (
	"strings"
	"testing"
)

func TestParseVersion(t *testing.T) {
	cases := []struct {
		in      string
		want    [2]int
		wantErr bool
	}{
		{"0.2", [2]int{0, 2}, false},
		{"1.10", [2]int{1, 10}, false},
		{"bad", [2]int{}, true},
		{"1", [2]int{}, true},
	}
	for _, c := range cases {
		got, err := parseVersion(c.in)
		if c.wantErr {
			if err == nil {
				t.Errorf("parseVersion(%q): expected error", c.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("parseVersion(%q): %v", c.in, err)
			continue
		}
		if got != c.want {
			t.Errorf("parseVersion(%q) = %v, want %v", c.in, got, c.want)
		}
	}
}

func TestJoinLinkTarget(t *testing.T) {
	cases := []struct{ linkPath, target, want string }{
		{"~/.tej", "/srv/shared/queue", "/srv/shared/queue"},
		{"~/.tej", "~other/queue", "~other/queue"},
		{"/home/alice/.tej", "../shared-queue", "/home/alice/../shared-queue"},
		{"/home/alice/link", "sibling", "/home/alice/sibling"},
	}
	for _, c := range cases {
		if got := joinLinkTarget(c.linkPath, c.target); got != c.want {
			t.Errorf("joinLinkTarget(%q, %q) = %q, want %q", c.linkPath, c.target, got, c.want)
		}
	}
}

func TestProbeCommand_CoversAllThreeBranches(t *testing.T) {
	cmd := probeCommand("~/.tej")
	for _, want := range []string{"echo dir", "echo no", "[ -d", "[ -f"} {
		if !strings.Contains(cmd, want) {
			t.Errorf("probeCommand output missing %q:\n%s", want, cmd)
		}
	}
}

func TestProbeCommand_EscapesQueuePath(t *testing.T) {
	cmd := probeCommand("~/job queue")
	if !strings.Contains(cmd, `~/"job queue"`) {
		t.Errorf("expected escaped path in probe command, got:\n%s", cmd)
	}
}
