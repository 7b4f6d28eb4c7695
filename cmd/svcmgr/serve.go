package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/loykin/svcmgr/internal/config"
	"github.com/loykin/svcmgr/internal/daemon"
)

func runServe(parent context.Context, flags ServeFlags) error {
	if flags.ConfigPath == "" && !flags.Defaults {
		return fmt.Errorf("config file required for serve command. Use --config=svcmgr.toml, pass it as argument or use --defaults")
	}
	if flags.Daemonize {
		return daemonize(flags.PidFile, flags.LogFile)
	}

	fc, err := config.Load(flags.ConfigPath)
	if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}
	d, err := daemon.New(fc, daemon.Options{ConfigPath: flags.ConfigPath, Defaults: flags.Defaults})
	if err != nil {
		return err
	}

	if flags.PidFile != "" {
		if err := writePidFile(flags.PidFile, os.Getpid()); err != nil {
			return fmt.Errorf("failed to write PID file: %w", err)
		}
		defer func() { _ = removePidFile(flags.PidFile) }()
	}

	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-hup:
				if err := d.Reload(); err != nil {
					_, _ = fmt.Fprintln(os.Stderr, "reload:", err)
				}
			}
		}
	}()

	return d.Run(ctx)
}
