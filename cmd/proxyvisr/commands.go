package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/loykin/proxyvisr"
	"github.com/loykin/proxyvisr/pkg/client"
)

// command implements the CLI verbs. Daemon verbs go through pkg/client;
// port and classify work offline.
type command struct{}

func newClient(f APIFlags) *client.Client {
	return client.New(client.Config{
		BaseURL: f.APIUrl,
		Timeout: f.APITimeout,
		Logger:  slog.New(slog.DiscardHandler),
	})
}

func (command) Start(ctx context.Context, out io.Writer, configPath string, f StartFlags) error {
	abs, err := filepath.Abs(configPath)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", configPath, err)
	}
	name := f.Name
	if name == "" {
		name = trimExt(filepath.Base(abs))
	}
	if err := newClient(f.APIFlags).Start(ctx, client.StartRequest{ConfigPath: abs, ConfigName: name}); err != nil {
		return err
	}
	_, _ = fmt.Fprintf(out, "started %s (%s)\n", name, abs)
	return nil
}

func (command) Stop(ctx context.Context, out io.Writer, f APIFlags) error {
	if err := newClient(f).Stop(ctx); err != nil {
		return err
	}
	_, _ = fmt.Fprintln(out, "stopped")
	return nil
}

func (command) Status(ctx context.Context, out io.Writer, f StatusFlags) error {
	st, err := newClient(f.APIFlags).Status(ctx)
	if err != nil {
		return err
	}
	if f.JSON {
		return printJSON(out, st)
	}
	if !st.IsRunning {
		_, _ = fmt.Fprintf(out, "running: no\nsystem proxy: %s\n", onOff(st.ProxyStatus))
		return nil
	}
	name := "-"
	if st.Name != nil {
		name = *st.Name
	}
	_, _ = fmt.Fprintf(out, "running: yes\nname: %s\nport: %d\npid: %d\nsystem proxy: %s\n", name, st.Port, st.PID, onOff(st.ProxyStatus))
	if !st.StartedAt.IsZero() {
		_, _ = fmt.Fprintf(out, "uptime: %s\n", time.Since(st.StartedAt).Round(time.Second))
	}
	return nil
}

func (command) Events(ctx context.Context, out io.Writer, f EventsFlags) error {
	enc := json.NewEncoder(out)
	return newClient(f.APIFlags).Events(ctx, func(ev client.Event) error {
		if f.JSON {
			return enc.Encode(ev)
		}
		_, err := fmt.Fprintf(out, "%s %-6s %s\n", ev.At.Local().Format(time.TimeOnly), ev.Type, ev.Payload)
		return err
	})
}

func (command) Port(out io.Writer, configPath string, f PortFlags) error {
	port, err := proxyvisr.ExtractPort(configPath, f.Dialect)
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintln(out, port)
	return nil
}

type classified struct {
	proxyvisr.LogEvent
	UserMessage string `json:"user_message,omitempty"`
}

func (command) Classify(in io.Reader, out io.Writer, lines []string) error {
	enc := json.NewEncoder(out)
	emit := func(line string) error {
		ev := proxyvisr.Classify(line)
		c := classified{LogEvent: ev}
		if ev.Severity == proxyvisr.SeverityFatal {
			c.UserMessage = ev.UserMessage()
		}
		return enc.Encode(c)
	}
	if len(lines) > 0 {
		for _, l := range lines {
			if err := emit(l); err != nil {
				return err
			}
		}
		return nil
	}
	sc := bufio.NewScanner(in)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for sc.Scan() {
		if err := emit(sc.Text()); err != nil {
			return err
		}
	}
	if err := sc.Err(); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func printJSON(out io.Writer, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(out, string(b))
	return err
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}

func trimExt(name string) string {
	return name[:len(name)-len(filepath.Ext(name))]
}
