// Package sshsession manages one SSH connection to a remote tej destination:
// connecting, detecting a stale transport and reconnecting, running a command
// with captured stdout and a streamed "server log", and recursive file
// transfer over SFTP.
//
// Unlike the teacher's internal/sshclient (which shells out to the system
// "ssh" binary for interactive PTY sessions and background tunnel processes),
// tej drives the SSH protocol in-process: every operation is a single,
// non-interactive "/bin/sh -c <command>" invocation over its own channel, so
// stdout and stderr never need to be teased apart from a pseudo-terminal.
package sshsession

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/vistrails/tej/internal/destination"
	"github.com/vistrails/tej/internal/shellquote"
)

// serverLog is the dedicated sink for remote stderr bytes (§4.3): they never
// mix with captured stdout, and are surfaced at INFO level.
var serverLog = slog.With("component", "tej.server")

// DialTimeout bounds the TCP connect and SSH handshake.
const DialTimeout = 15 * time.Second

// Session owns one SSH connection to a single destination. It is not safe
// for concurrent use; callers that want parallelism construct independent
// Sessions (§5).
type Session struct {
	dest   destination.Destination
	config *ssh.ClientConfig
	client *ssh.Client
}

// Dial connects to dest, verifying the remote host key against the system
// known_hosts file. It never auto-accepts an unknown host key (§4.3). The
// connect attempt itself is retried with backoff via DialWithRetry, so a
// single dropped SYN or transient refusal doesn't fail an entire operation.
func Dial(ctx context.Context, dest destination.Destination) (*Session, error) {
	hostKeyCallback, err := defaultHostKeyCallback()
	if err != nil {
		return nil, fmt.Errorf("host key policy: %w", err)
	}

	config := &ssh.ClientConfig{
		User:            dest.Username,
		Auth:            authMethods(dest),
		HostKeyCallback: hostKeyCallback,
		Timeout:         DialTimeout,
	}

	return DialWithRetry(ctx, dest.String(), DefaultRestartPolicy, func(ctx context.Context) (*Session, error) {
		s := &Session{dest: dest, config: config}
		if err := s.connect(ctx); err != nil {
			return nil, err
		}
		return s, nil
	})
}

func (s *Session) connect(ctx context.Context) error {
	addr := net.JoinHostPort(s.dest.Hostname, fmt.Sprintf("%d", s.dest.EffectivePort()))

	d := net.Dialer{Timeout: DialTimeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("dial %s: %w", addr, err)
	}

	sshConn, chans, reqs, err := ssh.NewClientConn(conn, addr, s.config)
	if err != nil {
		conn.Close()
		return fmt.Errorf("ssh handshake with %s: %w", addr, err)
	}
	s.client = ssh.NewClient(sshConn, chans, reqs)
	return nil
}

func authMethods(dest destination.Destination) []ssh.AuthMethod {
	var methods []ssh.AuthMethod
	if sock := os.Getenv("SSH_AUTH_SOCK"); sock != "" {
		if conn, err := net.Dial("unix", sock); err == nil {
			methods = append(methods, ssh.PublicKeysCallback(agent.NewClient(conn).Signers))
		}
	}
	methods = append(methods, signersFromDefaultKeys()...)
	if dest.Password != "" {
		methods = append(methods, ssh.Password(dest.Password))
	}
	return methods
}

func signersFromDefaultKeys() []ssh.AuthMethod {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil
	}
	var methods []ssh.AuthMethod
	for _, name := range []string{"id_ed25519", "id_rsa", "id_ecdsa"} {
		b, err := os.ReadFile(filepath.Join(home, ".ssh", name))
		if err != nil {
			continue
		}
		signer, err := ssh.ParsePrivateKey(b)
		if err != nil {
			continue
		}
		methods = append(methods, ssh.PublicKeys(signer))
	}
	return methods
}

func defaultHostKeyCallback() (ssh.HostKeyCallback, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("resolve home dir: %w", err)
	}
	path := filepath.Join(home, ".ssh", "known_hosts")
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("no known_hosts file at %s; add the host's key before connecting", path)
	}
	callback, err := knownhosts.New(path)
	if err != nil {
		return nil, fmt.Errorf("parse known_hosts: %w", err)
	}
	return callback, nil
}

// alive probes the transport with a throw-away session (§4.3 reconnection).
func (s *Session) alive() bool {
	if s.client == nil {
		return false
	}
	sess, err := s.client.NewSession()
	if err != nil {
		return false
	}
	sess.Close()
	return true
}

// ensureConnected reconnects transparently if the transport has gone stale,
// retrying the reconnect with backoff via DialWithRetry (§4.3).
func (s *Session) ensureConnected(ctx context.Context) error {
	if s.alive() {
		return nil
	}
	if s.client != nil {
		s.client.Close()
	}
	fresh, err := DialWithRetry(ctx, s.dest.String(), DefaultRestartPolicy, func(ctx context.Context) (*Session, error) {
		reconnected := &Session{dest: s.dest, config: s.config}
		if err := reconnected.connect(ctx); err != nil {
			return nil, err
		}
		return reconnected, nil
	})
	if err != nil {
		return err
	}
	s.client = fresh.client
	return nil
}

// Result is the outcome of Run: the primary exit-code channel and the
// captured stdout (§4.3, §4.6 — exit code is the primary channel).
type Result struct {
	ExitCode int
	Stdout   []byte
}

// Run invokes "/bin/sh -c <shell_escape(cmd)>" over a fresh session/channel,
// reconnecting first if the transport has gone stale. Remote stderr is
// decoded as UTF-8 (replacing invalid sequences) and logged to the server
// log at INFO, never mixed into stdout. Trailing "\r\n" is stripped from
// captured stdout.
func (s *Session) Run(ctx context.Context, cmd string) (Result, error) {
	if err := s.ensureConnected(ctx); err != nil {
		return Result{}, err
	}

	sess, err := s.client.NewSession()
	if err != nil {
		return Result{}, fmt.Errorf("open session: %w", err)
	}
	defer sess.Close()

	var stdout, stderr bytes.Buffer
	sess.Stdout = &stdout
	sess.Stderr = &stderr

	shCmd := "/bin/sh -c " + shellquote.Escape(cmd)
	runErr := sess.Run(shCmd)

	if stderr.Len() > 0 {
		serverLog.Info(strings.ToValidUTF8(stderr.String(), "�"))
	}

	out := bytes.TrimRight(stdout.Bytes(), "\r\n")

	exitCode := 0
	if runErr != nil {
		var exitErr *ssh.ExitError
		if errors.As(runErr, &exitErr) {
			exitCode = exitErr.ExitStatus()
		} else {
			return Result{}, fmt.Errorf("run %q: %w", cmd, runErr)
		}
	}

	return Result{ExitCode: exitCode, Stdout: out}, nil
}

// Close tears down the underlying SSH client.
func (s *Session) Close() error {
	if s.client == nil {
		return nil
	}
	return s.client.Close()
}

// UploadTree uploads the contents of localDir to remoteDir over SFTP,
// creating directories as needed (§4.3 scp_put, recursive case used by
// submit's directory upload).
func (s *Session) UploadTree(ctx context.Context, localDir, remoteDir string) error {
	if err := s.ensureConnected(ctx); err != nil {
		return err
	}
	client, err := sftp.NewClient(s.client)
	if err != nil {
		return fmt.Errorf("open sftp session: %w", err)
	}
	defer client.Close()

	if err := client.MkdirAll(remoteDir); err != nil {
		return fmt.Errorf("mkdir %s: %w", remoteDir, err)
	}

	return filepath.Walk(localDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(localDir, path)
		if err != nil {
			return err
		}
		remotePath := remoteDir
		if rel != "." {
			remotePath = remoteDir + "/" + filepath.ToSlash(rel)
		}
		if info.IsDir() {
			return client.MkdirAll(remotePath)
		}
		return uploadFile(client, path, remotePath, info.Mode())
	})
}

// UploadFSTree uploads every regular file under root in fsys to remoteDir,
// preserving relative paths. Used to install the embedded runtime bundles
// (§4.5), which live in Go's binary rather than on the local filesystem.
func (s *Session) UploadFSTree(ctx context.Context, fsys fs.FS, root string, files []string, remoteDir string) error {
	if err := s.ensureConnected(ctx); err != nil {
		return err
	}
	client, err := sftp.NewClient(s.client)
	if err != nil {
		return fmt.Errorf("open sftp session: %w", err)
	}
	defer client.Close()

	if err := client.MkdirAll(remoteDir); err != nil {
		return fmt.Errorf("mkdir %s: %w", remoteDir, err)
	}

	for _, name := range files {
		rel, err := filepath.Rel(root, name)
		if err != nil {
			return fmt.Errorf("relativize %s: %w", name, err)
		}
		rel = filepath.ToSlash(rel)
		remotePath := remoteDir + "/" + rel

		if dir := path.Dir(rel); dir != "." {
			if err := client.MkdirAll(remoteDir + "/" + dir); err != nil {
				return fmt.Errorf("mkdir %s: %w", remoteDir+"/"+dir, err)
			}
		}

		if err := uploadFSFile(fsys, name, client, remotePath); err != nil {
			return err
		}
	}
	return nil
}

func uploadFSFile(fsys fs.FS, name string, client *sftp.Client, remotePath string) error {
	src, err := fsys.Open(name)
	if err != nil {
		return fmt.Errorf("open %s: %w", name, err)
	}
	defer src.Close()

	dst, err := client.Create(remotePath)
	if err != nil {
		return fmt.Errorf("create %s: %w", remotePath, err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		return fmt.Errorf("write %s: %w", remotePath, err)
	}

	// Runtime bundle scripts must be executable; embed.FS does not preserve
	// Unix permission bits, so every bundle file is installed as 0o755
	// rather than introspecting a mode that was never carried over.
	return client.Chmod(remotePath, 0o755)
}

func uploadFile(client *sftp.Client, localPath, remotePath string, mode os.FileMode) error {
	src, err := os.Open(localPath)
	if err != nil {
		return err
	}
	defer src.Close()

	dst, err := client.Create(remotePath)
	if err != nil {
		return fmt.Errorf("create %s: %w", remotePath, err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		return fmt.Errorf("write %s: %w", remotePath, err)
	}
	return client.Chmod(remotePath, mode.Perm())
}

// DownloadFile downloads a single remote file to a local path (§4.3 scp_get,
// non-recursive case used by download's "destination" mode).
func (s *Session) DownloadFile(ctx context.Context, remotePath, localPath string) error {
	if err := s.ensureConnected(ctx); err != nil {
		return err
	}
	client, err := sftp.NewClient(s.client)
	if err != nil {
		return fmt.Errorf("open sftp session: %w", err)
	}
	defer client.Close()

	src, err := client.Open(remotePath)
	if err != nil {
		return fmt.Errorf("open remote %s: %w", remotePath, err)
	}
	defer src.Close()

	if err := os.MkdirAll(filepath.Dir(localPath), 0o755); err != nil {
		return err
	}
	dst, err := os.Create(localPath)
	if err != nil {
		return err
	}
	defer dst.Close()

	_, err = io.Copy(dst, src)
	return err
}

// DownloadTree downloads the contents of remoteDir into localDir over SFTP
// (§4.3 scp_get, recursive case).
func (s *Session) DownloadTree(ctx context.Context, remoteDir, localDir string) error {
	if err := s.ensureConnected(ctx); err != nil {
		return err
	}
	client, err := sftp.NewClient(s.client)
	if err != nil {
		return fmt.Errorf("open sftp session: %w", err)
	}
	defer client.Close()

	walker := client.Walk(remoteDir)
	for walker.Step() {
		if err := walker.Err(); err != nil {
			return err
		}
		rel, err := filepath.Rel(remoteDir, walker.Path())
		if err != nil {
			return err
		}
		localPath := filepath.Join(localDir, rel)
		if walker.Stat().IsDir() {
			if err := os.MkdirAll(localPath, 0o755); err != nil {
				return err
			}
			continue
		}
		if err := downloadFile(client, walker.Path(), localPath); err != nil {
			return err
		}
	}
	return nil
}

func downloadFile(client *sftp.Client, remotePath, localPath string) error {
	src, err := client.Open(remotePath)
	if err != nil {
		return err
	}
	defer src.Close()

	if err := os.MkdirAll(filepath.Dir(localPath), 0o755); err != nil {
		return err
	}
	dst, err := os.Create(localPath)
	if err != nil {
		return err
	}
	defer dst.Close()

	_, err = io.Copy(dst, src)
	return err
}
