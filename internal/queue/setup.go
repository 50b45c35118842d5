package queue

import (
	"context"
	"fmt"
	"strings"

	"github.com/vistrails/tej/internal/runtime"
	"github.com/vistrails/tej/internal/shellquote"
	"github.com/vistrails/tej/internal/sshsession"
	"github.com/vistrails/tej/internal/tejerr"
)

// SetupOptions configures Setup (C5, §4.5).
type SetupOptions struct {
	QueuePath string
	Links     []string
	Force     bool
	OnlyLinks bool
	// Runtime, if non-empty, overrides auto-detection.
	Runtime runtime.Name
	// Accept, if non-empty, restricts which runtimes are permitted either
	// on an existing queue or for a fresh install.
	Accept   []runtime.Name
	MaxDepth int
}

// SetupResult reports what Setup actually did.
type SetupResult struct {
	AbsPath string
	Runtime runtime.Name
}

// Setup installs (or re-links) a queue per §4.5.
func Setup(ctx context.Context, sess *sshsession.Session, opts SetupOptions) (*SetupResult, error) {
	if opts.OnlyLinks {
		for _, link := range opts.Links {
			if err := writeLinkFile(ctx, sess, link, opts.QueuePath); err != nil {
				return nil, err
			}
		}
		return &SetupResult{AbsPath: "", Runtime: ""}, nil
	}

	resolved, depth, err := Resolve(ctx, sess, opts.QueuePath, opts.MaxDepth, opts.Accept)
	if err != nil {
		return nil, err
	}
	exists := resolved != nil || depth > 0
	if exists && !opts.Force {
		return nil, queueExistsError(resolved, depth, opts.QueuePath)
	}
	if exists && opts.Force {
		if err := rmPath(ctx, sess, opts.QueuePath); err != nil {
			return nil, fmt.Errorf("removing existing queue path: %w", err)
		}
	}

	absPath, err := resolveAbsPath(ctx, sess, opts.QueuePath)
	if err != nil {
		return nil, fmt.Errorf("resolving absolute queue path: %w", err)
	}

	chosen := opts.Runtime
	if chosen == "" {
		chosen, err = runtime.Detect(ctx, sess)
		if err != nil {
			return nil, fmt.Errorf("detecting runtime: %w", err)
		}
	}
	if len(opts.Accept) > 0 && !runtimeAccepted(chosen, opts.Accept) {
		return nil, fmt.Errorf("%w: runtime %q is not in the accepted list", tejerr.ErrQueueExists, chosen)
	}

	bundle, err := runtime.Lookup(chosen)
	if err != nil {
		return nil, err
	}
	files, err := bundle.Files()
	if err != nil {
		return nil, err
	}
	if err := sess.UploadFSTree(ctx, bundle.FS(), bundle.Root(), files, absPath+"/commands"); err != nil {
		return nil, fmt.Errorf("uploading %s runtime bundle: %w", chosen, err)
	}

	res, err := sess.Run(ctx, fmt.Sprintf("/bin/sh %s/commands/setup", shellquote.Escape(absPath)))
	if err != nil {
		return nil, fmt.Errorf("running commands/setup: %w", err)
	}
	if res.ExitCode != 0 {
		return nil, tejerr.NewRemoteCommandFailure("commands/setup", res.ExitCode)
	}

	for _, link := range opts.Links {
		if err := writeLinkFile(ctx, sess, link, absPath); err != nil {
			return nil, err
		}
	}

	return &SetupResult{AbsPath: absPath, Runtime: chosen}, nil
}

// queueExistsError builds the three-way discriminating message required by
// §4.5: linked-from-here, broken chain, or a queue directly in place.
func queueExistsError(resolved *Resolved, depth int, queuePath string) error {
	switch {
	case resolved != nil && depth > 0:
		return fmt.Errorf("%w: %s is linked to an existing queue at %s", tejerr.ErrQueueExists, queuePath, resolved.AbsPath)
	case resolved == nil && depth > 0:
		return fmt.Errorf("%w: %s has a broken link chain", tejerr.ErrQueueExists, queuePath)
	default:
		return fmt.Errorf("%w: %s already exists", tejerr.ErrQueueExists, queuePath)
	}
}

func rmPath(ctx context.Context, sess *sshsession.Session, p string) error {
	res, err := sess.Run(ctx, fmt.Sprintf("rm -Rf %s", shellquote.EscapeQueue(p)))
	if err != nil {
		return err
	}
	if res.ExitCode != 0 {
		return tejerr.NewRemoteCommandFailure("rm -Rf", res.ExitCode)
	}
	return nil
}

func writeLinkFile(ctx context.Context, sess *sshsession.Session, linkPath, target string) error {
	cmd := fmt.Sprintf("printf 'tejdir: %%s\\n' %s > %s", shellquote.Escape(target), shellquote.EscapeQueue(linkPath))
	res, err := sess.Run(ctx, cmd)
	if err != nil {
		return err
	}
	if res.ExitCode != 0 {
		return tejerr.NewRemoteCommandFailure("write link file", res.ExitCode)
	}
	return nil
}

// resolveAbsPath expands ~ and ~user prefixes and resolves relative queue
// paths against the session's home directory, entirely server-side (§4.5).
func resolveAbsPath(ctx context.Context, sess *sshsession.Session, p string) (string, error) {
	escaped := shellquote.Escape(p)
	script := fmt.Sprintf(`p=%s
case "$p" in
  /*)
    printf '%%s\n' "$p"
    ;;
  '~')
    printf '%%s\n' "$HOME"
    ;;
  '~/'*)
    printf '%%s\n' "$HOME${p#~}"
    ;;
  '~'*)
    rest=${p#~}
    user=${rest%%%%/*}
    case "$rest" in
      */*) tail=${rest#*/} ;;
      *) tail= ;;
    esac
    home=$(eval echo "~$user")
    if [ -n "$tail" ]; then
      printf '%%s/%%s\n' "$home" "$tail"
    else
      printf '%%s\n' "$home"
    fi
    ;;
  *)
    printf '%%s/%%s\n' "$HOME" "$p"
    ;;
esac`, escaped)

	res, err := sess.Run(ctx, script)
	if err != nil {
		return "", err
	}
	if res.ExitCode != 0 {
		return "", tejerr.NewRemoteCommandFailure("resolve absolute queue path", res.ExitCode)
	}
	abs := strings.TrimSpace(string(res.Stdout))
	if abs == "" {
		return "", fmt.Errorf("server returned an empty absolute path for %q", p)
	}
	return abs, nil
}
