// Package tejerr defines tej's error taxonomy.
//
// Every expected failure mode is a sentinel error (wrapped with context via
// fmt.Errorf("...: %w", ...)) so callers can classify failures with
// errors.Is without parsing messages. RemoteCommandFailure is the odd one
// out: it signals an infrastructure failure (an unexpected exit code from a
// wire-contract script) rather than a well-understood application error, and
// carries the failing command and exit code for diagnostics.
package tejerr

import (
	"errors"
	"fmt"
)

// Sentinel errors. Wrap these with fmt.Errorf("%w: detail", ErrX) at the call
// site; callers classify with errors.Is(err, tejerr.ErrX).
var (
	ErrInvalidDestination = errors.New("invalid destination")
	ErrInvalidJobID       = errors.New("invalid job id")
	ErrQueueDoesntExist   = errors.New("queue doesn't exist on the server")
	ErrQueueLinkBroken    = errors.New("queue link chain is broken")
	ErrQueueExists        = errors.New("queue already exists")
	ErrJobAlreadyExists   = errors.New("job already exists")
	ErrJobNotFound        = errors.New("job not found")
	ErrJobStillRunning    = errors.New("job is still running")
)

// RemoteCommandFailure reports an unexpected non-zero exit code from a
// wire-contract script (§7). It is not one of the sentinel Error values
// above: it signals the server behaved outside the documented contract.
type RemoteCommandFailure struct {
	Command  string
	ExitCode int
}

func (e *RemoteCommandFailure) Error() string {
	return fmt.Sprintf("command %q failed with status %d", e.Command, e.ExitCode)
}

// NewRemoteCommandFailure builds a RemoteCommandFailure for the given
// command and exit code.
func NewRemoteCommandFailure(command string, exitCode int) error {
	return &RemoteCommandFailure{Command: command, ExitCode: exitCode}
}

// IsQueueDoesntExist reports whether err is ErrQueueDoesntExist or
// ErrQueueLinkBroken (the latter is the stricter sub-case per §7).
func IsQueueDoesntExist(err error) bool {
	return errors.Is(err, ErrQueueDoesntExist) || errors.Is(err, ErrQueueLinkBroken)
}

// UserMessage returns a message safe to print to the CLI's CRITICAL log
// line: the wrapped sentinel text, without Go's internal call-stack noise.
// Unlike the teacher's ClassifiedError, tej's errors carry no separate debug
// detail — the wrapped chain already is the debug detail, surfaced verbatim
// since tej has no secrets (paths, job ids) worth redacting from its own
// operator.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
