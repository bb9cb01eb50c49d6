package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/loykin/proxyvisr/pkg/client"
)

func main() {
	if err := buildRoot().Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// GlobalFlags holds persistent flags shared by every command.
type GlobalFlags struct {
	ConfigPath string
}

// APIFlags selects the daemon a client command talks to.
type APIFlags struct {
	APIUrl     string
	APITimeout time.Duration
}

type StartFlags struct {
	APIFlags
	Name string
}

type StatusFlags struct {
	APIFlags
	JSON bool
}

type EventsFlags struct {
	APIFlags
	JSON bool
}

type PortFlags struct {
	Dialect string
}

func buildRoot() *cobra.Command {
	globalFlags := &GlobalFlags{}
	cmds := command{}

	root := createRootCommand(globalFlags)
	root.AddCommand(
		createServeCommand(globalFlags),
		createStartCommand(cmds),
		createStopCommand(cmds),
		createStatusCommand(cmds),
		createEventsCommand(cmds),
		createPortCommand(cmds),
		createClassifyCommand(cmds),
	)
	return root
}

func createRootCommand(flags *GlobalFlags) *cobra.Command {
	root := &cobra.Command{
		Use:   "proxyvisr",
		Short: "Proxy core supervisor",
		Long: `Proxyvisr runs a local proxy core such as sing-box or trojan-go and points
the system proxy at it while it runs.

Examples:
  proxyvisr serve --config=proxyvisr.toml
  proxyvisr start ./office.json --name=office
  proxyvisr status
  proxyvisr events`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&flags.ConfigPath, "config", "", "path to TOML config file (optional)")
	return root
}

func addAPIFlags(cmd *cobra.Command, f *APIFlags) {
	cmd.Flags().StringVar(&f.APIUrl, "api-url", client.DefaultBaseURL, "daemon API URL")
	cmd.Flags().DurationVar(&f.APITimeout, "api-timeout", 10*time.Second, "request timeout")
}

func createServeCommand(globalFlags *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve [config.toml]",
		Short: "Run the proxyvisr daemon",
		Long: `Run the daemon: the HTTP API, the supervised core and, when enabled,
metrics and history export. Without a config file defaults are used.

Examples:
  proxyvisr serve
  proxyvisr serve proxyvisr.toml
  PROXYVISR_SERVER_LISTEN=127.0.0.1:9000 proxyvisr serve`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := globalFlags.ConfigPath
			if len(args) > 0 {
				path = args[0]
			}
			return runServe(cmd.Context(), path)
		},
	}
}

func createStartCommand(c command) *cobra.Command {
	flags := &StartFlags{}
	cmd := &cobra.Command{
		Use:   "start <config.json>",
		Short: "Start the proxy with a core config file",
		Long: `Replace the running proxy with the given core config and enable the
system proxy on its local port.

Examples:
  proxyvisr start ./office.json --name=office
  proxyvisr start /etc/sing-box/hk.json --api-url=http://127.0.0.1:7575/api`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Start(cmd.Context(), cmd.OutOrStdout(), args[0], *flags)
		},
	}
	cmd.Flags().StringVar(&flags.Name, "name", "", "display name of the configuration")
	addAPIFlags(cmd, &flags.APIFlags)
	return cmd
}

func createStopCommand(c command) *cobra.Command {
	flags := &APIFlags{}
	cmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop the proxy and disable the system proxy",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Stop(cmd.Context(), cmd.OutOrStdout(), *flags)
		},
	}
	addAPIFlags(cmd, flags)
	return cmd
}

func createStatusCommand(c command) *cobra.Command {
	flags := &StatusFlags{}
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show proxy status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Status(cmd.Context(), cmd.OutOrStdout(), *flags)
		},
	}
	cmd.Flags().BoolVar(&flags.JSON, "json", false, "print raw JSON")
	addAPIFlags(cmd, &flags.APIFlags)
	return cmd
}

func createEventsCommand(c command) *cobra.Command {
	flags := &EventsFlags{}
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Follow fatal core log lines and stop notifications",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Events(cmd.Context(), cmd.OutOrStdout(), *flags)
		},
	}
	cmd.Flags().BoolVar(&flags.JSON, "json", false, "print one JSON object per event")
	addAPIFlags(cmd, &flags.APIFlags)
	return cmd
}

func createPortCommand(c command) *cobra.Command {
	flags := &PortFlags{}
	cmd := &cobra.Command{
		Use:   "port <config.json>",
		Short: "Print the local port of a core config file",
		Long: `Print the local port a core config listens on, without a daemon.

Examples:
  proxyvisr port ./office.json
  proxyvisr port ./trojan.json --dialect=trojan-go`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Port(cmd.OutOrStdout(), args[0], *flags)
		},
	}
	cmd.Flags().StringVar(&flags.Dialect, "dialect", "sing-box", "config dialect: sing-box or trojan-go")
	return cmd
}

func createClassifyCommand(c command) *cobra.Command {
	return &cobra.Command{
		Use:   "classify [line...]",
		Short: "Classify core log lines",
		Long: `Classify core log lines as info or fatal, reporting bind conflicts.
Without arguments, lines are read from stdin.

Examples:
  proxyvisr classify "[FATAL] listen tcp 127.0.0.1:1080: bind: address already in use"
  sing-box run -c office.json 2>&1 | proxyvisr classify`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Classify(cmd.InOrStdin(), cmd.OutOrStdout(), args)
		},
	}
}
