package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/loykin/mcpgate/pkg/client"
	"github.com/spf13/cobra"
)

// apiFlags are shared by every command that talks to a running daemon.
type apiFlags struct {
	URL     string
	Timeout time.Duration
}

func (f *apiFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.URL, "api-url", "http://127.0.0.1:8081", "base URL of the mcpgate daemon")
	cmd.Flags().DurationVar(&f.Timeout, "api-timeout", 35*time.Second, "HTTP timeout for API calls")
}

func (f *apiFlags) connect(ctx context.Context) (*client.Client, error) {
	c := client.New(client.Config{BaseURL: f.URL, Timeout: f.Timeout})
	if !c.IsReachable(ctx) {
		return nil, fmt.Errorf("daemon not reachable at %s, start it with 'mcpgate serve'", f.URL)
	}
	return c, nil
}

func printJSON(cmd *cobra.Command, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	cmd.Println(string(data))
	return nil
}

func newSendCmd() *cobra.Command {
	var (
		api     apiFlags
		method  string
		params  string
		id      string
		timeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   "send <server>",
		Short: "Send a JSON-RPC request to a backend server",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := api.connect(cmd.Context())
			if err != nil {
				return err
			}
			var p any
			if params != "" {
				var raw json.RawMessage
				if err := json.Unmarshal([]byte(params), &raw); err != nil {
					return fmt.Errorf("invalid --params JSON: %w", err)
				}
				p = raw
			}
			resp, err := c.Send(cmd.Context(), args[0], id, method, p, timeout)
			if err != nil {
				return err
			}
			return printJSON(cmd, resp)
		},
	}
	api.register(cmd)
	cmd.Flags().StringVarP(&method, "method", "m", "", "JSON-RPC method (required)")
	cmd.Flags().StringVarP(&params, "params", "p", "", "JSON-encoded params")
	cmd.Flags().StringVar(&id, "id", "1", "request id")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "per-request timeout override")
	_ = cmd.MarkFlagRequired("method")
	return cmd
}

func newStatusCmd() *cobra.Command {
	var api apiFlags
	cmd := &cobra.Command{
		Use:   "status <server>",
		Short: "Show process state for a server",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := api.connect(cmd.Context())
			if err != nil {
				return err
			}
			st, err := c.Status(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd, st)
		},
	}
	api.register(cmd)
	return cmd
}

func newListCmd() *cobra.Command {
	var api apiFlags
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List configured servers and their status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := api.connect(cmd.Context())
			if err != nil {
				return err
			}
			infos, err := c.Servers(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd, infos)
		},
	}
	api.register(cmd)
	return cmd
}

func newRegisterCmd() *cobra.Command {
	var (
		api     apiFlags
		command string
		cmdArgs []string
		env     []string
		cwd     string
	)
	cmd := &cobra.Command{
		Use:   "register <server>",
		Short: "Register a server definition with the daemon",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := api.connect(cmd.Context())
			if err != nil {
				return err
			}
			envMap, err := parseEnv(env)
			if err != nil {
				return err
			}
			return c.Register(cmd.Context(), args[0], client.RegisterRequest{
				Command: command,
				Args:    cmdArgs,
				Env:     envMap,
				Cwd:     cwd,
			})
		},
	}
	api.register(cmd)
	cmd.Flags().StringVar(&command, "command", "", "executable to launch (required)")
	cmd.Flags().StringArrayVar(&cmdArgs, "arg", nil, "argument, repeatable")
	cmd.Flags().StringArrayVar(&env, "env", nil, "KEY=VALUE environment entry, repeatable")
	cmd.Flags().StringVar(&cwd, "cwd", "", "working directory (absolute)")
	_ = cmd.MarkFlagRequired("command")
	return cmd
}

func newUnregisterCmd() *cobra.Command {
	var api apiFlags
	cmd := &cobra.Command{
		Use:   "unregister <server>",
		Short: "Remove a server definition and stop its process",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := api.connect(cmd.Context())
			if err != nil {
				return err
			}
			return c.Unregister(cmd.Context(), args[0])
		},
	}
	api.register(cmd)
	return cmd
}

func newTerminateCmd() *cobra.Command {
	var api apiFlags
	cmd := &cobra.Command{
		Use:   "terminate <server>",
		Short: "Stop a server's pooled process",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := api.connect(cmd.Context())
			if err != nil {
				return err
			}
			return c.Terminate(cmd.Context(), args[0])
		},
	}
	api.register(cmd)
	return cmd
}

func newEventsCmd() *cobra.Command {
	var (
		api   apiFlags
		limit int
	)
	cmd := &cobra.Command{
		Use:   "events <server>",
		Short: "Show recent lifecycle events for a server",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := api.connect(cmd.Context())
			if err != nil {
				return err
			}
			evs, err := c.Events(cmd.Context(), args[0], limit)
			if err != nil {
				return err
			}
			return printJSON(cmd, evs)
		},
	}
	api.register(cmd)
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum events to fetch")
	return cmd
}
