package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/loykin/svcmgr/pkg/client"
)

const defaultAPIUrl = "http://127.0.0.1:8080/api"

type command struct {
	flags *GlobalFlags
}

func (c command) client(ctx context.Context) (*client.Client, error) {
	url := c.flags.APIUrl
	if url == "" {
		url = defaultAPIUrl
	}
	cfg := client.Config{BaseURL: url, Timeout: c.flags.APITimeout}
	if c.flags.CACert != "" || c.flags.Insecure {
		cfg.TLS = &client.TLSClientConfig{CACert: c.flags.CACert, SkipVerify: c.flags.Insecure}
	}
	cl := client.New(cfg)
	if !cl.IsReachable(ctx) {
		return nil, fmt.Errorf("daemon not reachable at %s - start it first with 'svcmgr serve'", url)
	}
	return cl, nil
}

// Status prints one service or, with an empty name, all of them.
func (c command) Status(ctx context.Context, w io.Writer, name string, asJSON bool) error {
	cl, err := c.client(ctx)
	if err != nil {
		return err
	}
	var sts []client.ServiceStatus
	if name != "" {
		st, err := cl.Status(ctx, name)
		if err != nil {
			return err
		}
		sts = append(sts, st)
	} else {
		list, err := cl.List(ctx)
		if err != nil {
			return err
		}
		for _, e := range list {
			sts = append(sts, e.Status)
		}
	}
	if asJSON {
		return printJSON(w, sts)
	}
	printTable(w, sts)
	return nil
}

// Action runs a per-service verb and prints the resulting status.
func (c command) Action(ctx context.Context, w io.Writer, verb, name string) error {
	cl, err := c.client(ctx)
	if err != nil {
		return err
	}
	var fn func(context.Context, string) (client.ServiceStatus, error)
	switch verb {
	case "start":
		fn = cl.Start
	case "stop":
		fn = cl.Stop
	case "restart":
		fn = cl.Restart
	case "enable":
		fn = cl.Enable
	case "disable":
		fn = cl.Disable
	case "reset":
		fn = cl.ResetRestartCount
	default:
		return fmt.Errorf("unknown action %q", verb)
	}
	st, err := fn(ctx, name)
	if err != nil {
		return err
	}
	printTable(w, []client.ServiceStatus{st})
	return nil
}

// Batch runs a registry-wide verb.
func (c command) Batch(ctx context.Context, w io.Writer, verb string) error {
	cl, err := c.client(ctx)
	if err != nil {
		return err
	}
	switch verb {
	case "start-all":
		err = cl.StartAll(ctx)
	case "stop-all":
		err = cl.StopAll(ctx)
	case "reload":
		err = cl.Reload(ctx)
	default:
		return fmt.Errorf("unknown command %q", verb)
	}
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintln(w, "ok")
	return nil
}

// Events follows the daemon's event stream until ctx ends.
func (c command) Events(ctx context.Context, w io.Writer, name string, asJSON bool) error {
	cl, err := c.client(ctx)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(w)
	return cl.Watch(ctx, name, func(ev client.Event) {
		if asJSON {
			_ = enc.Encode(ev)
			return
		}
		_, _ = fmt.Fprintln(w, formatEvent(ev))
	})
}

func formatEvent(ev client.Event) string {
	ts := ev.At.Local().Format(time.TimeOnly)
	if ev.Type == "error" {
		if ev.Kind != "" {
			return fmt.Sprintf("%s %s error (%s): %s", ts, ev.Service, ev.Kind, ev.Message)
		}
		return fmt.Sprintf("%s %s error: %s", ts, ev.Service, ev.Message)
	}
	return fmt.Sprintf("%s %s %s -> %s", ts, ev.Service, ev.From, ev.To)
}

func printJSON(w io.Writer, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(b))
	return err
}

func printTable(w io.Writer, sts []client.ServiceStatus) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "NAME\tSTATE\tPID\tRESTARTS\tAUTO\tLAST ERROR")
	for _, s := range sts {
		pid := "-"
		if s.PID > 0 {
			pid = fmt.Sprint(s.PID)
		}
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%t\t%s\n", s.Name, s.State, pid, s.RestartCount, s.AutoStart, s.LastError)
	}
	_ = tw.Flush()
}
