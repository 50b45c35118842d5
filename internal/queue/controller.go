// Package queue implements the client-side remote queue controller (C4-C6):
// resolving a queue path through tejdir: links, installing a runtime, and
// driving the wire-contract command scripts that manage jobs.
package queue

import (
	"context"
	"crypto/rand"
	"fmt"
	"os/user"
	"path"
	"strconv"
	"strings"

	"github.com/vistrails/tej/internal/destination"
	"github.com/vistrails/tej/internal/runtime"
	"github.com/vistrails/tej/internal/shellquote"
	"github.com/vistrails/tej/internal/sshsession"
	"github.com/vistrails/tej/internal/tejerr"
)

// jobIDAlphabet is the character set a job identifier is drawn from (§3).
const jobIDAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789_-+=@%:.,"

// randAlphabet is the narrower alphabet used to synthesize the random
// suffix of an auto-generated job id (§4.6 submit step 1: "[a-z0-9]").
const randAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

// DefaultQueuePath is the default queue location when none is given (§3).
const DefaultQueuePath = "~/.tej"

// JobState is the client-observed state of a job (§4.6).
type JobState int

const (
	JobRunning JobState = iota
	JobDone
)

// StatusResult is the outcome of Status.
type StatusResult struct {
	State    JobState
	Dir      string
	ExitCode int // meaningful only when State == JobDone
}

// Controller is the Go analogue of the Python RemoteQueue: it owns one SSH
// session and a queue path, and is not safe for concurrent use (§5).
type Controller struct {
	sess        *sshsession.Session
	queuePath   string
	maxDepth    int
	accept      []runtime.Name
	wantRuntime runtime.Name
}

// ControllerOptions configures a new Controller.
type ControllerOptions struct {
	QueuePath string
	MaxDepth  int
	Accept    []runtime.Name
	// Runtime overrides auto-detection if the queue must be installed.
	Runtime runtime.Name
}

// NewController wraps an already-dialed session with a queue path.
func NewController(sess *sshsession.Session, opts ControllerOptions) *Controller {
	queuePath := opts.QueuePath
	if queuePath == "" {
		queuePath = DefaultQueuePath
	}
	return &Controller{
		sess:        sess,
		queuePath:   queuePath,
		maxDepth:    opts.MaxDepth,
		accept:      opts.Accept,
		wantRuntime: opts.Runtime,
	}
}

// Close tears down the underlying SSH session.
func (c *Controller) Close() error {
	return c.sess.Close()
}

// resolve resolves the controller's queue path strictly (QueueDoesntExist /
// QueueLinkBroken on failure).
func (c *Controller) resolve(ctx context.Context) (*Resolved, error) {
	return GetQueue(ctx, c.sess, c.queuePath, c.maxDepth, c.accept)
}

// ensureQueue resolves the queue, installing a default runtime if absent —
// used only by Submit (§4.6 step 2: "if absent, invoke _setup() to install
// default runtime").
func (c *Controller) ensureQueue(ctx context.Context) (*Resolved, error) {
	resolved, depth, err := Resolve(ctx, c.sess, c.queuePath, c.maxDepth, c.accept)
	if err != nil {
		return nil, err
	}
	if resolved != nil {
		return resolved, nil
	}
	if depth > 0 {
		return nil, fmt.Errorf("%w: %s", tejerr.ErrQueueLinkBroken, c.queuePath)
	}

	result, err := Setup(ctx, c.sess, SetupOptions{
		QueuePath: c.queuePath,
		Runtime:   c.wantRuntime,
		Accept:    c.accept,
		MaxDepth:  c.maxDepth,
	})
	if err != nil {
		return nil, err
	}
	return &Resolved{AbsPath: result.AbsPath, Depth: 0, Version: ProtocolVersion, Runtime: result.Runtime}, nil
}

// Submit uploads directory's contents as a new job and launches script
// (§4.6 submit). jobID may be empty to synthesize one.
func (c *Controller) Submit(ctx context.Context, jobID, directory, script string) (string, error) {
	if script == "" {
		script = "start.sh"
	}
	if jobID == "" {
		var err error
		jobID, err = synthesizeJobID(directory)
		if err != nil {
			return "", err
		}
	} else if !validJobID(jobID) {
		return "", fmt.Errorf("%w: job id %q contains characters outside %s", tejerr.ErrInvalidJobID, jobID, jobIDAlphabet)
	}

	q, err := c.ensureQueue(ctx)
	if err != nil {
		return "", err
	}

	jobDir, err := c.newJob(ctx, q.AbsPath, jobID)
	if err != nil {
		return "", err
	}

	if err := c.sess.UploadTree(ctx, directory, jobDir); err != nil {
		_ = c.deleteQuiet(ctx, q.AbsPath, jobID)
		return "", fmt.Errorf("uploading job directory: %w", err)
	}

	cmd := fmt.Sprintf("%s/commands/submit %s %s %s",
		shellquote.Escape(q.AbsPath), shellquote.Escape(jobID), shellquote.Escape(jobDir), shellquote.Escape(script))
	res, err := c.sess.Run(ctx, cmd)
	if err != nil {
		return "", err
	}
	if res.ExitCode != 0 {
		return "", tejerr.NewRemoteCommandFailure("commands/submit", res.ExitCode)
	}

	return jobID, nil
}

// newJob invokes commands/new_job and classifies its result per §4.6 step 3.
func (c *Controller) newJob(ctx context.Context, queueAbsPath, jobID string) (string, error) {
	cmd := fmt.Sprintf("%s/commands/new_job %s", shellquote.Escape(queueAbsPath), shellquote.Escape(jobID))
	res, err := c.sess.Run(ctx, cmd)
	if err != nil {
		return "", err
	}
	switch res.ExitCode {
	case 0:
		return strings.TrimSpace(string(res.Stdout)), nil
	case 4:
		return "", fmt.Errorf("%w: %s", tejerr.ErrJobAlreadyExists, jobID)
	default:
		return "", fmt.Errorf("%w: couldn't create job %s", tejerr.ErrJobNotFound, jobID)
	}
}

// deleteQuiet is the best-effort cleanup submit runs on a mid-upload failure
// (§4.6 step 4, §7 propagation policy); its own errors are swallowed.
func (c *Controller) deleteQuiet(ctx context.Context, queueAbsPath, jobID string) error {
	cmd := fmt.Sprintf("%s/commands/delete %s", shellquote.Escape(queueAbsPath), shellquote.Escape(jobID))
	_, err := c.sess.Run(ctx, cmd)
	return err
}

// Status invokes commands/status (§4.6 status).
func (c *Controller) Status(ctx context.Context, jobID string) (StatusResult, error) {
	q, err := c.resolve(ctx)
	if err != nil {
		return StatusResult{}, err
	}
	cmd := fmt.Sprintf("%s/commands/status %s", shellquote.Escape(q.AbsPath), shellquote.Escape(jobID))
	res, err := c.sess.Run(ctx, cmd)
	if err != nil {
		return StatusResult{}, err
	}

	lines := strings.Split(string(res.Stdout), "\n")
	switch res.ExitCode {
	case 0:
		if len(lines) < 2 {
			return StatusResult{}, tejerr.NewRemoteCommandFailure("commands/status", res.ExitCode)
		}
		code, err := strconv.Atoi(strings.TrimSpace(lines[1]))
		if err != nil {
			return StatusResult{}, fmt.Errorf("parsing exit code %q: %w", lines[1], err)
		}
		return StatusResult{State: JobDone, Dir: lines[0], ExitCode: code}, nil
	case 2:
		return StatusResult{State: JobRunning, Dir: lines[0]}, nil
	case 3:
		return StatusResult{}, fmt.Errorf("%w: %s", tejerr.ErrJobNotFound, jobID)
	default:
		return StatusResult{}, tejerr.NewRemoteCommandFailure("commands/status", res.ExitCode)
	}
}

// DownloadOptions configures Download. Exactly one of Destination or Dir
// must be set (§4.6 download).
type DownloadOptions struct {
	Destination string // single-file mode: exact local pathname
	Dir         string // multi-file mode: local directory, basenames preserved
}

// Download fetches files from a finished (or running) job's directory
// (§4.6 download). It calls Status first so JobNotFound propagates.
func (c *Controller) Download(ctx context.Context, jobID string, files []string, opts DownloadOptions) error {
	if (opts.Destination == "") == (opts.Dir == "") {
		return fmt.Errorf("download requires exactly one of Destination or Dir")
	}
	if opts.Destination != "" && len(files) != 1 {
		return fmt.Errorf("destination mode requires exactly one file, got %d", len(files))
	}

	status, err := c.Status(ctx, jobID)
	if err != nil {
		return err
	}

	for _, f := range files {
		remotePath := path.Join(status.Dir, f)
		localPath := opts.Destination
		if localPath == "" {
			localPath = path.Join(opts.Dir, path.Base(f))
		}
		if err := c.sess.DownloadFile(ctx, remotePath, localPath); err != nil {
			return fmt.Errorf("downloading %s: %w", f, err)
		}
	}
	return nil
}

// Kill invokes commands/kill (§4.6 kill).
func (c *Controller) Kill(ctx context.Context, jobID string) error {
	q, err := c.resolve(ctx)
	if err != nil {
		return err
	}
	cmd := fmt.Sprintf("%s/commands/kill %s", shellquote.Escape(q.AbsPath), shellquote.Escape(jobID))
	res, err := c.sess.Run(ctx, cmd)
	if err != nil {
		return err
	}
	switch res.ExitCode {
	case 0:
		return nil
	case 3:
		return fmt.Errorf("%w: %s", tejerr.ErrJobNotFound, jobID)
	default:
		return tejerr.NewRemoteCommandFailure("commands/kill", res.ExitCode)
	}
}

// Delete invokes commands/delete (§4.6 delete).
func (c *Controller) Delete(ctx context.Context, jobID string) error {
	q, err := c.resolve(ctx)
	if err != nil {
		return err
	}
	cmd := fmt.Sprintf("%s/commands/delete %s", shellquote.Escape(q.AbsPath), shellquote.Escape(jobID))
	res, err := c.sess.Run(ctx, cmd)
	if err != nil {
		return err
	}
	switch res.ExitCode {
	case 0:
		return nil
	case 2:
		return fmt.Errorf("%w: %s", tejerr.ErrJobStillRunning, jobID)
	case 3:
		return fmt.Errorf("%w: %s", tejerr.ErrJobNotFound, jobID)
	default:
		return tejerr.NewRemoteCommandFailure("commands/delete", res.ExitCode)
	}
}

// JobRecord is one entry from List's output grammar (§4.6 list).
type JobRecord struct {
	ID     string
	Fields map[string]string
}

// List invokes commands/list and parses its record grammar: a leading
// job-id line followed by zero or more indented "    key: value" lines.
func (c *Controller) List(ctx context.Context) ([]JobRecord, error) {
	q, err := c.resolve(ctx)
	if err != nil {
		return nil, err
	}
	cmd := fmt.Sprintf("%s/commands/list", shellquote.Escape(q.AbsPath))
	res, err := c.sess.Run(ctx, cmd)
	if err != nil {
		return nil, err
	}
	if res.ExitCode != 0 {
		return nil, tejerr.NewRemoteCommandFailure("commands/list", res.ExitCode)
	}

	records, err := parseListOutput(string(res.Stdout))
	if err != nil {
		return nil, err
	}
	return records, nil
}

// parseListOutput parses commands/list's stdout grammar: each job starts
// with an unindented id line, followed by zero or more "    key: value"
// continuation lines belonging to that job.
func parseListOutput(stdout string) ([]JobRecord, error) {
	var records []JobRecord
	for _, line := range strings.Split(stdout, "\n") {
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "    ") {
			if len(records) == 0 {
				return nil, tejerr.NewRemoteCommandFailure("commands/list", -1)
			}
			kv := strings.SplitN(strings.TrimPrefix(line, "    "), ": ", 2)
			if len(kv) != 2 {
				continue
			}
			last := &records[len(records)-1]
			if last.Fields == nil {
				last.Fields = map[string]string{}
			}
			last.Fields[kv[0]] = kv[1]
			continue
		}
		records = append(records, JobRecord{ID: line})
	}
	return records, nil
}

func validJobID(id string) bool {
	if id == "" {
		return false
	}
	for _, r := range id {
		if !strings.ContainsRune(jobIDAlphabet, r) {
			return false
		}
	}
	return true
}

// synthesizeJobID builds "<basename(directory)>_<username>_<rand10>" (§4.6
// submit step 1).
func synthesizeJobID(directory string) (string, error) {
	base := path.Base(strings.TrimRight(filepathToSlash(directory), "/"))
	u, err := user.Current()
	username := "unknown"
	if err == nil {
		username = u.Username
	}
	suffix, err := randomSuffix(10)
	if err != nil {
		return "", fmt.Errorf("generating random job id suffix: %w", err)
	}
	return fmt.Sprintf("%s_%s_%s", base, username, suffix), nil
}

// filepathToSlash normalizes a local-OS path to forward slashes before
// taking its basename, since directory is a local filesystem path that may
// use OS-native separators.
func filepathToSlash(p string) string {
	return strings.ReplaceAll(p, "\\", "/")
}

// randomSuffix returns n characters drawn uniformly from randAlphabet.
func randomSuffix(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	out := make([]byte, n)
	for i, b := range buf {
		out[i] = randAlphabet[int(b)%len(randAlphabet)]
	}
	return string(out), nil
}

// DestinationString returns the canonical destination string a Controller
// is talking to, for use as half of the (destination, queue) cache key (§5).
func DestinationString(d destination.Destination) string {
	return d.String()
}
