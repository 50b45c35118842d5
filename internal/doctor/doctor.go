// Package doctor runs local diagnostics for tej: file permissions and SSH
// client configuration that commonly cause SSH connection failures. It
// performs no security policy beyond what's needed to explain a connection
// problem — tej's only security stance is host-key verification (§1
// Non-goals: "security policy beyond SSH host-key verification").
package doctor

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/vistrails/tej/internal/appconfig"
	"github.com/vistrails/tej/internal/hostconfig"
)

type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

type Issue struct {
	Severity       Severity
	Check          string
	Target         string
	Message        string
	Recommendation string
}

type Report struct {
	Issues []Issue
}

// Run inspects the local SSH and tej configuration posture. dest, if
// non-empty, is used only to add a low-severity informational issue naming
// it — doctor never opens a network connection itself.
func Run(dest string) (Report, error) {
	var issues []Issue

	home, err := os.UserHomeDir()
	if err == nil {
		checkPathPerm(&issues, filepath.Join(home, ".ssh"), 0o700, false)
		checkPathPerm(&issues, filepath.Join(home, ".ssh", "config"), 0o600, true)
		checkKnownHosts(&issues, filepath.Join(home, ".ssh", "known_hosts"))
	}

	cfgDir, err := appconfig.ConfigDir()
	if err == nil {
		checkPathPerm(&issues, cfgDir, 0o700, false)
		checkPathPerm(&issues, filepath.Join(cfgDir, "config.yaml"), 0o600, true)
		checkPathPerm(&issues, filepath.Join(cfgDir, "profiles.yaml"), 0o600, true)
	}

	res, hcErr := hostconfig.ParseDefault()
	if hcErr == nil {
		for _, w := range res.Warnings {
			issues = append(issues, Issue{
				Severity:       SeverityMedium,
				Check:          "config-warning",
				Target:         "~/.ssh/config",
				Message:        w,
				Recommendation: "fix malformed/unsupported SSH config directives",
			})
		}
		seen := map[string]struct{}{}
		for _, h := range res.Hosts {
			identity := strings.TrimSpace(h.IdentityFile)
			if identity == "" {
				continue
			}
			if _, ok := seen[identity]; ok {
				continue
			}
			seen[identity] = struct{}{}
			checkIdentityFile(&issues, identity, h.Alias)
		}
	}

	if dest != "" {
		issues = append(issues, Issue{
			Severity:       SeverityLow,
			Check:          "target",
			Target:         dest,
			Message:        "diagnostics only cover local SSH posture; no connection was attempted",
			Recommendation: "run `tej status --queue ... --id ...` (or any operation) to exercise the connection itself",
		})
	}

	sort.Slice(issues, func(i, j int) bool {
		ri, rj := severityRank(issues[i].Severity), severityRank(issues[j].Severity)
		if ri != rj {
			return ri > rj
		}
		if issues[i].Check != issues[j].Check {
			return issues[i].Check < issues[j].Check
		}
		return issues[i].Target < issues[j].Target
	})
	return Report{Issues: issues}, nil
}

func checkPathPerm(issues *[]Issue, path string, want os.FileMode, mustExist bool) {
	info, err := os.Stat(path)
	if err != nil {
		if mustExist && !os.IsNotExist(err) {
			*issues = append(*issues, Issue{
				Severity: SeverityLow, Check: "stat", Target: path,
				Message: err.Error(), Recommendation: "verify the path is reachable",
			})
		}
		return
	}
	if got := info.Mode().Perm(); got&^want != 0 {
		*issues = append(*issues, Issue{
			Severity:       SeverityMedium,
			Check:          "permissions",
			Target:         path,
			Message:        fmt.Sprintf("mode %04o is more permissive than %04o", got, want),
			Recommendation: fmt.Sprintf("chmod %04o %s", want, path),
		})
	}
}

func checkKnownHosts(issues *[]Issue, path string) {
	if _, err := os.Stat(path); err != nil {
		*issues = append(*issues, Issue{
			Severity:       SeverityHigh,
			Check:          "known-hosts",
			Target:         path,
			Message:        "known_hosts file is missing",
			Recommendation: "connect once with the system ssh client to record the host key, or populate known_hosts manually — tej refuses unknown host keys",
		})
		return
	}
	checkPathPerm(issues, path, 0o600, true)
}

func checkIdentityFile(issues *[]Issue, path, alias string) {
	info, err := os.Stat(path)
	if err != nil {
		*issues = append(*issues, Issue{
			Severity:       SeverityMedium,
			Check:          "identity-file",
			Target:         path,
			Message:        fmt.Sprintf("IdentityFile for host %q does not exist", alias),
			Recommendation: "fix the IdentityFile directive or generate the key",
		})
		return
	}
	if got := info.Mode().Perm(); got&^0o600 != 0 {
		*issues = append(*issues, Issue{
			Severity:       SeverityHigh,
			Check:          "identity-file-permissions",
			Target:         path,
			Message:        fmt.Sprintf("private key mode %04o is more permissive than 0600", got),
			Recommendation: fmt.Sprintf("chmod 600 %s", path),
		})
	}
}

func severityRank(s Severity) int {
	switch s {
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	default:
		return 1
	}
}
