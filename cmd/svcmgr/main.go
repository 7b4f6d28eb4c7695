package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

func main() {
	root := buildRoot()
	if err := root.Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// GlobalFlags are shared by every client subcommand.
type GlobalFlags struct {
	APIUrl     string
	APITimeout time.Duration
	CACert     string
	Insecure   bool
}

// ServeFlags holds flags for the serve command
type ServeFlags struct {
	ConfigPath string
	Defaults   bool
	Daemonize  bool
	PidFile    string
	LogFile    string
}

// StatusFlags holds flags for the status command
type StatusFlags struct {
	JSON bool
}

// EventsFlags holds flags for the events command
type EventsFlags struct {
	JSON bool
}

func buildRoot() *cobra.Command {
	globalFlags := &GlobalFlags{}
	serveFlags := &ServeFlags{}
	statusFlags := &StatusFlags{}
	eventsFlags := &EventsFlags{}

	cmd := command{flags: globalFlags}
	root := createRootCommand(globalFlags)
	root.AddCommand(
		createServeCommand(serveFlags),
		createStatusCommand(cmd, statusFlags),
		createEventsCommand(cmd, eventsFlags),
		createActionCommand(cmd, "start", "Start a service"),
		createActionCommand(cmd, "stop", "Stop a service"),
		createActionCommand(cmd, "restart", "Stop a service and start it again"),
		createActionCommand(cmd, "enable", "Mark a service for auto-start"),
		createActionCommand(cmd, "disable", "Clear a service's auto-start flag"),
		createActionCommand(cmd, "reset", "Reset a service's restart counter"),
		createBatchCommand(cmd, "start-all", "Start every auto-start service in priority order"),
		createBatchCommand(cmd, "stop-all", "Stop every service"),
		createBatchCommand(cmd, "reload", "Re-read the daemon's config file"),
	)
	return root
}

func createRootCommand(flags *GlobalFlags) *cobra.Command {
	root := &cobra.Command{
		Use:   "svcmgr",
		Short: "Local service supervisor",
		Long: `svcmgr starts, stops and monitors a set of local services with
dependency ordering and automatic restarts.

Examples:
  svcmgr serve --config=svcmgr.toml     # Start daemon
  svcmgr status                          # List services
  svcmgr restart web --api-url=http://remote:8080/api`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&flags.APIUrl, "api-url", "", "daemon API URL (default http://127.0.0.1:8080/api)")
	root.PersistentFlags().DurationVar(&flags.APITimeout, "api-timeout", 2*time.Minute, "request timeout")
	root.PersistentFlags().StringVar(&flags.CACert, "ca-cert", "", "CA certificate for an HTTPS daemon")
	root.PersistentFlags().BoolVar(&flags.Insecure, "insecure", false, "skip TLS certificate verification")
	return root
}

func createServeCommand(flags *ServeFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve [config.toml]",
		Short: "Run the supervisor daemon",
		Long: `Run the supervisor daemon. Services, storage, history sinks and the
control API are configured from the config file (toml, yaml or json).

Examples:
  svcmgr serve svcmgr.toml
  svcmgr serve --defaults               # Built-in service set, no config
  svcmgr serve svcmgr.toml --daemonize --pidfile=/run/svcmgr.pid`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) > 0 {
				flags.ConfigPath = args[0]
			}
			return runServe(cmd.Context(), *flags)
		},
	}
	cmd.Flags().StringVar(&flags.ConfigPath, "config", "", "path to config file")
	cmd.Flags().BoolVar(&flags.Defaults, "defaults", false, "register the built-in services when the config defines none")
	cmd.Flags().BoolVar(&flags.Daemonize, "daemonize", false, "run as daemon in background")
	cmd.Flags().StringVar(&flags.PidFile, "pidfile", "", "write the daemon PID to this file")
	cmd.Flags().StringVar(&flags.LogFile, "logfile", "", "redirect daemon output to file when daemonized")
	return cmd
}

func createStatusCommand(c command, flags *StatusFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status [name]",
		Short: "Show service status",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := ""
			if len(args) > 0 {
				name = args[0]
			}
			return c.Status(cmd.Context(), cmd.OutOrStdout(), name, flags.JSON)
		},
	}
	cmd.Flags().BoolVar(&flags.JSON, "json", false, "print raw JSON")
	return cmd
}

func createEventsCommand(c command, flags *EventsFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "events [name]",
		Short: "Follow state changes and errors until interrupted",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := ""
			if len(args) > 0 {
				name = args[0]
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return c.Events(ctx, cmd.OutOrStdout(), name, flags.JSON)
		},
	}
	cmd.Flags().BoolVar(&flags.JSON, "json", false, "print one JSON object per event")
	return cmd
}

func createActionCommand(c command, verb, short string) *cobra.Command {
	return &cobra.Command{
		Use:   verb + " <name>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Action(cmd.Context(), cmd.OutOrStdout(), verb, args[0])
		},
	}
}

func createBatchCommand(c command, verb, short string) *cobra.Command {
	return &cobra.Command{
		Use:   verb,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Batch(cmd.Context(), cmd.OutOrStdout(), verb)
		},
	}
}
