// Package runtime embeds the POSIX shell command bundles tej installs on a
// remote queue directory and exposes a small registry for resolving a name
// to its bundle and for probing which runtimes a destination can support.
package runtime

import (
	"context"
	"embed"
	"fmt"
	"io/fs"

	"github.com/vistrails/tej/internal/sshsession"
)

//go:embed bundles/default/commands
var defaultBundleFS embed.FS

//go:embed bundles/pbs/commands
var pbsBundleFS embed.FS

// Name identifies one of the runtimes tej knows how to install and drive.
type Name string

const (
	Default Name = "default"
	PBS     Name = "pbs"
)

// Bundle is a self-contained set of command scripts for one runtime. Its
// files live under Root() within FS(), and Files() returns their full paths
// in FS() (e.g. "bundles/default/commands/setup").
type Bundle struct {
	Name Name
	fsys fs.FS
	root string
}

// Files returns every regular file path under the bundle root, as paths in
// FS() that include the root prefix, in deterministic (lexical) order.
func (b Bundle) Files() ([]string, error) {
	var out []string
	err := fs.WalkDir(b.fsys, b.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		out = append(out, path)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk bundle %s: %w", b.Name, err)
	}
	return out, nil
}

// Open returns the contents of path, which must be one returned by Files.
func (b Bundle) Open(path string) (fs.File, error) {
	return b.fsys.Open(path)
}

// FS returns the underlying filesystem the bundle's files live in.
func (b Bundle) FS() fs.FS { return b.fsys }

// Root returns the directory within FS() that Files()'s paths are rooted at.
func (b Bundle) Root() string { return b.root }

var registry = map[Name]Bundle{
	Default: {Name: Default, fsys: defaultBundleFS, root: "bundles/default/commands"},
	PBS:     {Name: PBS, fsys: pbsBundleFS, root: "bundles/pbs/commands"},
}

// All runtimes tej will install, in the order it auto-detects them. default
// is listed last since it always succeeds and should only be chosen when no
// scheduler-backed runtime is available.
var All = []Name{PBS, Default}

// Lookup returns the bundle for name, or an error if name is unknown.
func Lookup(name Name) (Bundle, error) {
	b, ok := registry[name]
	if !ok {
		return Bundle{}, fmt.Errorf("unknown runtime %q", name)
	}
	return b, nil
}

// ProbeCommand is a runtime's best-effort way of detecting whether its
// scheduler is present on a destination, run via the session's shell.
func ProbeCommand(name Name) string {
	switch name {
	case PBS:
		return "command -v qsub >/dev/null 2>&1"
	default:
		return "true"
	}
}

// Detect returns the first runtime in All whose probe command succeeds on
// the destination reachable through sess, or Default if none of the
// scheduler-backed runtimes are present.
func Detect(ctx context.Context, sess *sshsession.Session) (Name, error) {
	for _, name := range All {
		if name == Default {
			continue
		}
		res, err := sess.Run(ctx, ProbeCommand(name))
		if err != nil {
			continue
		}
		if res.ExitCode == 0 {
			return name, nil
		}
	}
	return Default, nil
}
