// Package cli provides tej's command-line interface, built with Cobra
// (§6.1). It is a thin adapter: every subcommand parses flags, resolves a
// destination and queue, and delegates to internal/queue.Controller. No
// business logic lives here.
package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/vistrails/tej/internal/activity"
	"github.com/vistrails/tej/internal/appconfig"
	"github.com/vistrails/tej/internal/cache"
	"github.com/vistrails/tej/internal/destination"
	"github.com/vistrails/tej/internal/doctor"
	"github.com/vistrails/tej/internal/hostconfig"
	"github.com/vistrails/tej/internal/profile"
	"github.com/vistrails/tej/internal/queue"
	"github.com/vistrails/tej/internal/runtime"
	"github.com/vistrails/tej/internal/sshsession"
	"github.com/vistrails/tej/internal/tejerr"
)

// version is tej's release version, distinct from the wire protocol version
// compiled into internal/queue (§4.4).
const version = "0.2.0"

var verbosity int

// sessionCache is process-wide so that repeated operations across one CLI
// invocation (there are none today, but embedding frontends may issue
// several) reuse one SSH session per (destination, queue) (§5).
var sessionCache = cache.New()

// NewRootCommand builds tej's command tree (§6.1).
func NewRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "tej",
		Short:         "Submit and manage remote jobs over SSH",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			configureLogging(verbosity)
		},
	}
	root.PersistentFlags().CountVarP(&verbosity, "verbose", "v", "increase log verbosity (cumulative)")

	root.AddCommand(newSetupCmd())
	root.AddCommand(newSubmitCmd())
	root.AddCommand(newStatusCmd())
	root.AddCommand(newDownloadCmd())
	root.AddCommand(newKillCmd())
	root.AddCommand(newDeleteCmd())
	root.AddCommand(newListCmd())
	root.AddCommand(newDoctorCmd())
	root.AddCommand(newProfileCmd())
	return root
}

// configureLogging maps -v's cumulative count to CRITICAL/WARNING/INFO/DEBUG
// (§6.1): zero shows warnings and above, one adds INFO (including the
// server-log sink in internal/sshsession), two or more adds DEBUG.
func configureLogging(v int) {
	level := slog.LevelWarn
	switch {
	case v == 1:
		level = slog.LevelInfo
	case v >= 2:
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}

// resolveDestination turns a CLI destination argument into a
// destination.Destination, first trying it as an ~/.ssh/config alias
// (hostconfig), then falling back to the literal "[ssh://]user@host[:port]"
// grammar (C1).
func resolveDestination(arg string) (destination.Destination, error) {
	if entry, ok, err := hostconfig.Lookup(arg); err == nil && ok {
		d := destination.Destination{Hostname: entry.HostName, Username: entry.User, Port: entry.Port}
		if d.Hostname == "" {
			d.Hostname = arg
		}
		if d.Username == "" {
			parsed, perr := destination.Parse(d.Hostname)
			if perr == nil {
				d.Username = parsed.Username
			}
		}
		return d, nil
	}
	return destination.Parse(arg)
}

// dialSession is the cache's DialFunc.
func dialSession(ctx context.Context, dest destination.Destination) (*sshsession.Session, error) {
	return sshsession.Dial(ctx, dest)
}

// controllerFor resolves destArg to a Controller, reusing a cached session
// when one already exists for (destination, queue).
func controllerFor(ctx context.Context, destArg, queuePath string, opts queue.ControllerOptions) (*queue.Controller, error) {
	dest, err := resolveDestination(destArg)
	if err != nil {
		return nil, err
	}
	opts.QueuePath = queuePath
	return sessionCache.Get(ctx, dest, opts, dialSession)
}

// logCritical prints err as the CLI's CRITICAL line (§6.1 exit-code table)
// and records it in the activity log.
func logCritical(destArg, cmdName, jobID string, err error) {
	slog.Error(tejerr.UserMessage(err))
	_ = activity.NewStore().Append(activity.Record{
		Command:     cmdName,
		Destination: destArg,
		JobID:       jobID,
		Outcome:     err.Error(),
	})
}

func logOK(destArg, cmdName, jobID string) {
	_ = activity.NewStore().Append(activity.Record{
		Command:     cmdName,
		Destination: destArg,
		JobID:       jobID,
		Outcome:     "ok",
	})
}

func defaultQueuePath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	cfg, err := appconfig.Load()
	if err != nil || cfg.DefaultQueue == "" {
		return queue.DefaultQueuePath
	}
	return cfg.DefaultQueue
}

func newSetupCmd() *cobra.Command {
	var (
		queuePath       string
		links           []string
		makeDefaultLink bool
		force           bool
		onlyLinks       bool
		runtimeName     string
	)
	cmd := &cobra.Command{
		Use:   "setup DESTINATION",
		Short: "Install or re-link a queue on a remote host",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			destArg := args[0]
			qp := defaultQueuePath(queuePath)
			if makeDefaultLink {
				links = append(links, queue.DefaultQueuePath)
			}

			dest, err := resolveDestination(destArg)
			if err != nil {
				logCritical(destArg, "setup", "", err)
				return exitErr{1}
			}
			sess, err := sshsession.Dial(cmd.Context(), dest)
			if err != nil {
				logCritical(destArg, "setup", "", err)
				return exitErr{1}
			}
			defer sess.Close()

			result, err := queue.Setup(cmd.Context(), sess, queue.SetupOptions{
				QueuePath: qp,
				Links:     links,
				Force:     force,
				OnlyLinks: onlyLinks,
				Runtime:   runtime.Name(runtimeName),
			})
			if err != nil {
				logCritical(destArg, "setup", "", err)
				return exitErr{1}
			}
			logOK(destArg, "setup", "")
			if result.AbsPath != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\n", result.AbsPath)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&queuePath, "queue", "", "queue path (default ~/.tej)")
	cmd.Flags().StringArrayVar(&links, "make-link", nil, "write a tejdir: link file at PATH")
	cmd.Flags().BoolVar(&makeDefaultLink, "make-default-link", false, "also link the default queue path (~/.tej)")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing queue")
	cmd.Flags().BoolVar(&onlyLinks, "only-links", false, "only write link files, do not touch the queue")
	cmd.Flags().StringVarP(&runtimeName, "runtime", "r", "", "runtime to install (default, pbs); auto-detected if omitted")
	return cmd
}

func newSubmitCmd() *cobra.Command {
	var (
		queuePath string
		jobID     string
		script    string
	)
	cmd := &cobra.Command{
		Use:   "submit DESTINATION DIRECTORY",
		Short: "Submit a local directory as a new job",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			destArg, directory := args[0], args[1]
			ctrl, err := controllerFor(cmd.Context(), destArg, defaultQueuePath(queuePath), queue.ControllerOptions{})
			if err != nil {
				logCritical(destArg, "submit", jobID, err)
				return exitErr{1}
			}
			id, err := ctrl.Submit(cmd.Context(), jobID, directory, script)
			if err != nil {
				logCritical(destArg, "submit", jobID, err)
				return exitErr{1}
			}
			logOK(destArg, "submit", id)
			fmt.Fprintf(cmd.OutOrStdout(), "%s\n", id)
			return nil
		},
	}
	cmd.Flags().StringVar(&queuePath, "queue", "", "queue path (default ~/.tej)")
	cmd.Flags().StringVar(&jobID, "id", "", "job id (synthesized if omitted)")
	cmd.Flags().StringVar(&script, "script", "start.sh", "script to launch within DIRECTORY")
	return cmd
}

func newStatusCmd() *cobra.Command {
	var (
		queuePath string
		jobID     string
	)
	cmd := &cobra.Command{
		Use:   "status DESTINATION",
		Short: "Query a job's status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			destArg := args[0]
			if jobID == "" {
				err := fmt.Errorf("--id is required")
				logCritical(destArg, "status", "", err)
				return exitErr{1}
			}
			ctrl, err := controllerFor(cmd.Context(), destArg, defaultQueuePath(queuePath), queue.ControllerOptions{})
			if err != nil {
				logCritical(destArg, "status", jobID, err)
				return exitErr{1}
			}
			res, err := ctrl.Status(cmd.Context(), jobID)
			if err != nil {
				if tejerr.IsQueueDoesntExist(err) {
					fmt.Fprintln(cmd.OutOrStdout(), "not found")
					logOK(destArg, "status", jobID)
					return nil
				}
				logCritical(destArg, "status", jobID, err)
				return exitErr{1}
			}
			logOK(destArg, "status", jobID)
			if res.State == queue.JobDone {
				fmt.Fprintf(cmd.OutOrStdout(), "finished %d\n", res.ExitCode)
			} else {
				fmt.Fprintln(cmd.OutOrStdout(), "running")
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&queuePath, "queue", "", "queue path (default ~/.tej)")
	cmd.Flags().StringVar(&jobID, "id", "", "job id")
	return cmd
}

func newDownloadCmd() *cobra.Command {
	var (
		queuePath   string
		jobID       string
		destination string
		dir         string
	)
	cmd := &cobra.Command{
		Use:   "download DESTINATION FILE [FILE...]",
		Short: "Fetch files from a job's working directory",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			destArg, files := args[0], args[1:]
			if jobID == "" {
				err := fmt.Errorf("--id is required")
				logCritical(destArg, "download", "", err)
				return exitErr{1}
			}
			if destination != "" && !cmd.Flags().Changed("dir") {
				dir = ""
			}
			ctrl, err := controllerFor(cmd.Context(), destArg, defaultQueuePath(queuePath), queue.ControllerOptions{})
			if err != nil {
				logCritical(destArg, "download", jobID, err)
				return exitErr{1}
			}
			err = ctrl.Download(cmd.Context(), jobID, files, queue.DownloadOptions{Destination: destination, Dir: dir})
			if err != nil {
				logCritical(destArg, "download", jobID, err)
				return exitErr{1}
			}
			logOK(destArg, "download", jobID)
			return nil
		},
	}
	cmd.Flags().StringVar(&queuePath, "queue", "", "queue path (default ~/.tej)")
	cmd.Flags().StringVar(&jobID, "id", "", "job id")
	cmd.Flags().StringVar(&destination, "destination", "", "single-file mode: exact local pathname")
	cmd.Flags().StringVar(&dir, "dir", ".", "directory mode: local directory for downloaded files")
	return cmd
}

func newKillCmd() *cobra.Command {
	var (
		queuePath string
		jobID     string
	)
	cmd := &cobra.Command{
		Use:   "kill DESTINATION",
		Short: "Kill a running job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			destArg := args[0]
			if jobID == "" {
				err := fmt.Errorf("--id is required")
				logCritical(destArg, "kill", "", err)
				return exitErr{1}
			}
			ctrl, err := controllerFor(cmd.Context(), destArg, defaultQueuePath(queuePath), queue.ControllerOptions{})
			if err != nil {
				logCritical(destArg, "kill", jobID, err)
				return exitErr{1}
			}
			if err := ctrl.Kill(cmd.Context(), jobID); err != nil {
				logCritical(destArg, "kill", jobID, err)
				return exitErr{1}
			}
			logOK(destArg, "kill", jobID)
			return nil
		},
	}
	cmd.Flags().StringVar(&queuePath, "queue", "", "queue path (default ~/.tej)")
	cmd.Flags().StringVar(&jobID, "id", "", "job id")
	return cmd
}

func newDeleteCmd() *cobra.Command {
	var (
		queuePath string
		jobID     string
	)
	cmd := &cobra.Command{
		Use:   "delete DESTINATION",
		Short: "Delete a finished job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			destArg := args[0]
			if jobID == "" {
				err := fmt.Errorf("--id is required")
				logCritical(destArg, "delete", "", err)
				return exitErr{1}
			}
			ctrl, err := controllerFor(cmd.Context(), destArg, defaultQueuePath(queuePath), queue.ControllerOptions{})
			if err != nil {
				logCritical(destArg, "delete", jobID, err)
				return exitErr{1}
			}
			if err := ctrl.Delete(cmd.Context(), jobID); err != nil {
				logCritical(destArg, "delete", jobID, err)
				return exitErr{1}
			}
			logOK(destArg, "delete", jobID)
			return nil
		},
	}
	cmd.Flags().StringVar(&queuePath, "queue", "", "queue path (default ~/.tej)")
	cmd.Flags().StringVar(&jobID, "id", "", "job id")
	return cmd
}

func newListCmd() *cobra.Command {
	var queuePath string
	cmd := &cobra.Command{
		Use:   "list DESTINATION",
		Short: "List jobs in a queue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			destArg := args[0]
			ctrl, err := controllerFor(cmd.Context(), destArg, defaultQueuePath(queuePath), queue.ControllerOptions{})
			if err != nil {
				logCritical(destArg, "list", "", err)
				return exitErr{1}
			}
			records, err := ctrl.List(cmd.Context())
			if err != nil {
				logCritical(destArg, "list", "", err)
				return exitErr{1}
			}
			logOK(destArg, "list", "")
			for _, r := range records {
				status := r.Fields["status"]
				if status == "running" {
					fmt.Fprintf(cmd.OutOrStdout(), "%s running\n", r.ID)
				} else {
					fmt.Fprintf(cmd.OutOrStdout(), "%s finished\n", r.ID)
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&queuePath, "queue", "", "queue path (default ~/.tej)")
	return cmd
}

func newDoctorCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "doctor [DESTINATION]",
		Short: "Diagnose local SSH configuration problems",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dest := ""
			if len(args) == 1 {
				dest = args[0]
			}
			report, err := doctor.Run(dest)
			if err != nil {
				logCritical(dest, "doctor", "", err)
				return exitErr{1}
			}
			for _, issue := range report.Issues {
				fmt.Fprintf(cmd.OutOrStdout(), "[%s] %s (%s): %s — %s\n",
					strings.ToUpper(string(issue.Severity)), issue.Check, issue.Target, issue.Message, issue.Recommendation)
			}
			return nil
		},
	}
	return cmd
}

func newProfileCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "profile",
		Short: "Manage named {destination, queue, runtime} presets",
	}
	root.AddCommand(newProfileListCmd())
	root.AddCommand(newProfileSaveCmd())
	root.AddCommand(newProfileDeleteCmd())
	return root
}

func newProfileListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List saved profiles",
		RunE: func(cmd *cobra.Command, args []string) error {
			defs, err := profile.LoadAll()
			if err != nil {
				return exitErr{1}
			}
			for _, d := range defs {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\t%s\n", d.Name, d.Destination, d.Queue, d.Runtime)
			}
			return nil
		},
	}
}

func newProfileSaveCmd() *cobra.Command {
	var queuePath, runtimeName string
	cmd := &cobra.Command{
		Use:   "save NAME DESTINATION",
		Short: "Save a named profile",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return profile.Save(profile.Definition{
				Name: args[0], Destination: args[1], Queue: queuePath, Runtime: runtimeName,
			})
		},
	}
	cmd.Flags().StringVar(&queuePath, "queue", "", "queue path")
	cmd.Flags().StringVarP(&runtimeName, "runtime", "r", "", "runtime name")
	return cmd
}

func newProfileDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete NAME",
		Short: "Delete a named profile",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return profile.Delete(args[0])
		},
	}
}

// exitErr carries an explicit process exit code through cobra's error path
// (§6.1: "0 on success; 1 on any Error subclass ... or missing --id").
type exitErr struct{ code int }

func (e exitErr) Error() string { return "" }

// ExitCode extracts the code an exitErr (or any other error) should exit
// with — 1 for anything else, matching §6.1.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	if ee, ok := err.(exitErr); ok {
		return ee.code
	}
	return 1
}
