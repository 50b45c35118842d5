package queue

import (
	"context"
	"fmt"
	"path"
	"strconv"
	"strings"

	"github.com/vistrails/tej/internal/runtime"
	"github.com/vistrails/tej/internal/shellquote"
	"github.com/vistrails/tej/internal/sshsession"
	"github.com/vistrails/tej/internal/tejerr"
)

// ProtocolVersion is tej's compiled-in wire protocol version. A queue whose
// version file names a different (major, minor) is rejected (§4.4).
var ProtocolVersion = [2]int{0, 2}

// DefaultMaxLinkDepth bounds tejdir: link-chain recursion. The spec sets no
// upper bound and flags unbounded recursion as an open risk (§9.1); we cap it
// and fail with RemoteCommandFailure on a cycle or pathologically long chain.
const DefaultMaxLinkDepth = 32

// Resolved is a queue path that bottomed out at a real queue directory.
type Resolved struct {
	AbsPath string
	Depth   int
	Version [2]int
	Runtime runtime.Name
}

// Resolve walks path through any tejdir: link chain to a real queue
// directory, returning (nil, depth, nil) if nothing exists at depth 0 and
// (nil, depth, nil) with depth > 0 if the chain is broken — callers that want
// QueueLinkBroken semantics should use GetQueue instead.
func Resolve(ctx context.Context, sess *sshsession.Session, queuePath string, maxDepth int, accept []runtime.Name) (*Resolved, int, error) {
	if maxDepth <= 0 {
		maxDepth = DefaultMaxLinkDepth
	}

	current := queuePath
	for depth := 0; ; depth++ {
		if depth > maxDepth {
			return nil, depth, tejerr.NewRemoteCommandFailure("queue resolution", -1)
		}

		res, err := sess.Run(ctx, probeCommand(current))
		if err != nil {
			return nil, depth, fmt.Errorf("probe %q: %w", current, err)
		}
		if res.ExitCode != 0 {
			return nil, depth, tejerr.NewRemoteCommandFailure("queue probe", res.ExitCode)
		}

		lines := strings.Split(string(res.Stdout), "\n")
		switch {
		case lines[0] == "no":
			return nil, depth, nil

		case lines[0] == "dir":
			if len(lines) < 4 {
				return nil, depth, tejerr.NewRemoteCommandFailure("queue probe", -1)
			}
			version, err := parseVersion(lines[1])
			if err != nil {
				return nil, depth, fmt.Errorf("parse queue version %q: %w", lines[1], err)
			}
			if version != ProtocolVersion {
				return nil, depth, fmt.Errorf(
					"%w: queue at %q speaks protocol %d.%d, tej speaks %d.%d",
					tejerr.ErrQueueExists, lines[3], version[0], version[1],
					ProtocolVersion[0], ProtocolVersion[1])
			}
			rt := runtime.Name(lines[2])
			if len(accept) > 0 && !runtimeAccepted(rt, accept) {
				return nil, depth, fmt.Errorf(
					"%w: queue at %q uses runtime %q, which is not in the accepted list",
					tejerr.ErrQueueExists, lines[3], rt)
			}
			return &Resolved{AbsPath: lines[3], Depth: depth, Version: version, Runtime: rt}, depth, nil

		case strings.HasPrefix(lines[0], "tejdir: "):
			target := strings.TrimPrefix(lines[0], "tejdir: ")
			current = joinLinkTarget(current, target)
			continue

		default:
			return nil, depth, tejerr.NewRemoteCommandFailure("queue probe", -1)
		}
	}
}

// GetQueue is the strict convenience wrapper: it converts a broken link
// chain (depth > 0, no result) into QueueLinkBroken, and an absent queue
// (depth == 0, no result) into QueueDoesntExist.
func GetQueue(ctx context.Context, sess *sshsession.Session, queuePath string, maxDepth int, accept []runtime.Name) (*Resolved, error) {
	resolved, depth, err := Resolve(ctx, sess, queuePath, maxDepth, accept)
	if err != nil {
		return nil, err
	}
	if resolved != nil {
		return resolved, nil
	}
	if depth > 0 {
		return nil, fmt.Errorf("%w: %s", tejerr.ErrQueueLinkBroken, queuePath)
	}
	return nil, fmt.Errorf("%w: %s", tejerr.ErrQueueDoesntExist, queuePath)
}

func runtimeAccepted(rt runtime.Name, accept []runtime.Name) bool {
	for _, a := range accept {
		if a == rt {
			return true
		}
	}
	return false
}

func parseVersion(s string) ([2]int, error) {
	parts := strings.SplitN(s, ".", 2)
	if len(parts) != 2 {
		return [2]int{}, fmt.Errorf("malformed version %q", s)
	}
	major, err := strconv.Atoi(parts[0])
	if err != nil {
		return [2]int{}, err
	}
	minor, err := strconv.Atoi(parts[1])
	if err != nil {
		return [2]int{}, err
	}
	return [2]int{major, minor}, nil
}

// joinLinkTarget resolves a tejdir: link's target against the parent
// directory of the link file that named it (§4.4): absolute and ~-relative
// targets are taken as-is, everything else is appended to linkPath's dirname
// without lexical cleaning, so ".." components are resolved by the remote
// shell rather than collapsed here.
func joinLinkTarget(linkPath, target string) string {
	if strings.HasPrefix(target, "/") || strings.HasPrefix(target, "~") {
		return target
	}
	dir := path.Dir(linkPath)
	if dir == "/" {
		return "/" + target
	}
	return dir + "/" + target
}

// probeCommand builds the single /bin/sh conditional that reports a queue
// path's state in one round trip (§4.4's probe table).
func probeCommand(queuePath string) string {
	p := shellquote.EscapeQueue(queuePath)
	return fmt.Sprintf(
		`if [ -d %[1]s ]; then `+
			`echo dir; `+
			`cat %[1]s/version 2>/dev/null; `+
			`(CDPATH= cd -- %[1]s && pwd); `+
			`elif [ -f %[1]s ]; then `+
			`cat %[1]s; `+
			`else `+
			`echo no; `+
			`fi`, p)
}
