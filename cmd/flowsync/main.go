package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"flowsync/internal/bootstrap"
	"flowsync/internal/platform/config"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type rootOptions struct {
	configPath string
	relayURL   string
	token      string
	logLevel   string
	timeout    time.Duration
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:           "flowsync",
		Short:         "Collaborative flow canvas sync",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	flags := root.PersistentFlags()
	flags.StringVar(&opts.configPath, "config", "flowsync.yaml", "YAML config file")
	flags.StringVar(&opts.relayURL, "relay", "", "relay websocket URL; empty string works offline")
	flags.StringVar(&opts.token, "token", "", "room token presented to the relay")
	flags.StringVar(&opts.logLevel, "log-level", "", "debug, info, warn, error or none")
	flags.DurationVar(&opts.timeout, "timeout", 10*time.Second, "how long room commands wait for the relay")

	root.AddCommand(newRelayCmd(opts))
	root.AddCommand(newRoomCmd(opts))
	root.AddCommand(newSnapshotCmd(opts))
	return root
}

// loadApp reads the config file, applies flags the user set and wires the app.
func loadApp(cmd *cobra.Command, opts *rootOptions, override func(*config.Config)) (*bootstrap.App, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, err
	}
	flags := cmd.Flags()
	if flags.Changed("relay") {
		cfg.Client.RelayURL = opts.relayURL
	}
	if flags.Changed("token") {
		cfg.Client.Token = opts.token
	}
	if flags.Changed("log-level") {
		cfg.LogLevel = opts.logLevel
	}
	if override != nil {
		override(&cfg)
	}
	return bootstrap.NewWithOutput(cfg, cmd.ErrOrStderr())
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
}

// ─── relay ───────────────────────────────────────────────────────────────────

func newRelayCmd(opts *rootOptions) *cobra.Command {
	relay := &cobra.Command{Use: "relay", Short: "Run and administer the sync relay"}

	var listen, storeBackend, storePath, jwtSecret, redisAddr string
	var mdns bool
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve rooms over websocket",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := loadApp(cmd, opts, func(cfg *config.Config) {
				flags := cmd.Flags()
				if flags.Changed("listen") {
					cfg.Relay.Listen = listen
				}
				if flags.Changed("store") {
					cfg.Store.Backend = storeBackend
				}
				if flags.Changed("store-path") {
					cfg.Store.Path = storePath
				}
				if flags.Changed("jwt-secret") {
					cfg.Relay.JWTSecret = jwtSecret
				}
				if flags.Changed("redis") {
					cfg.Relay.BrokerRedis = redisAddr
				}
				if flags.Changed("mdns") {
					cfg.Relay.MDNS = mdns
				}
			})
			if err != nil {
				return err
			}
			defer app.Close()
			ctx, stop := signalContext(cmd)
			defer stop()
			return bootstrap.ServeRelay(ctx, app)
		},
	}
	serveCmd.Flags().StringVar(&listen, "listen", "", "listen address, e.g. :4455")
	serveCmd.Flags().StringVar(&storeBackend, "store", "", "snapshot store: none, file, bolt, sqlite, postgres, redis")
	serveCmd.Flags().StringVar(&storePath, "store-path", "", "directory for file, bolt and sqlite stores")
	serveCmd.Flags().StringVar(&jwtSecret, "jwt-secret", "", "HS256 secret; rooms are open without one")
	serveCmd.Flags().StringVar(&redisAddr, "redis", "", "redis address for multi-instance fan-out")
	serveCmd.Flags().BoolVar(&mdns, "mdns", false, "advertise the relay over mDNS")

	var ttl time.Duration
	var subject string
	tokenCmd := &cobra.Command{
		Use:   "token <room>",
		Short: "Mint a room token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := loadApp(cmd, opts, nil)
			if err != nil {
				return err
			}
			defer app.Close()
			out, err := app.RelayCLI.Token(args[0], subject, ttl)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), out.Token)
			return nil
		},
	}
	tokenCmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	tokenCmd.Flags().StringVar(&subject, "subject", "", "subject recorded in the token")

	discoverCmd := &cobra.Command{
		Use:   "discover",
		Short: "Find relays advertised on the local network",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := loadApp(cmd, opts, nil)
			if err != nil {
				return err
			}
			defer app.Close()
			endpoints, err := app.RelayCLI.Discover(cmd.Context())
			if err != nil {
				return err
			}
			if len(endpoints) == 0 {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), "no relays found")
				return nil
			}
			for _, e := range endpoints {
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", e.Instance, e.URL)
			}
			return nil
		},
	}

	relay.AddCommand(serveCmd, tokenCmd, discoverCmd)
	return relay
}

// ─── room ────────────────────────────────────────────────────────────────────

func newRoomCmd(opts *rootOptions) *cobra.Command {
	room := &cobra.Command{Use: "room", Short: "Inspect and edit a room"}

	// withApp runs fn against a freshly wired app and a context bounded by --timeout.
	withApp := func(cmd *cobra.Command, fn func(ctx context.Context, app *bootstrap.App) (any, error)) error {
		app, err := loadApp(cmd, opts, nil)
		if err != nil {
			return err
		}
		defer app.Close()
		ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout)
		defer cancel()
		out, err := fn(ctx, app)
		if err != nil {
			return err
		}
		return printJSON(cmd, out)
	}

	dumpCmd := &cobra.Command{
		Use:   "dump <room>",
		Short: "Print the nodes and edges of a room",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, app *bootstrap.App) (any, error) {
				return app.FlowCLI.Dump(ctx, args[0])
			})
		},
	}

	var nodeID, nodeType, label string
	var x, y float64
	addCmd := &cobra.Command{
		Use:   "add-node <room>",
		Short: "Add a node",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, app *bootstrap.App) (any, error) {
				return app.FlowCLI.AddNode(ctx, args[0], nodeID, nodeType, label, x, y)
			})
		},
	}
	addCmd.Flags().StringVar(&nodeID, "id", "", "node id")
	addCmd.Flags().StringVar(&nodeType, "type", "default", "node type")
	addCmd.Flags().StringVar(&label, "label", "", "node label")
	addCmd.Flags().Float64Var(&x, "x", 0, "x position")
	addCmd.Flags().Float64Var(&y, "y", 0, "y position")
	_ = addCmd.MarkFlagRequired("id")

	var moveX, moveY float64
	moveCmd := &cobra.Command{
		Use:   "move <room> <id>",
		Short: "Move a node",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, app *bootstrap.App) (any, error) {
				return app.FlowCLI.MoveNode(ctx, args[0], args[1], moveX, moveY)
			})
		},
	}
	moveCmd.Flags().Float64Var(&moveX, "x", 0, "x position")
	moveCmd.Flags().Float64Var(&moveY, "y", 0, "y position")

	removeCmd := &cobra.Command{
		Use:   "remove-node <room> <id>",
		Short: "Remove a node and the edges attached to it",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, app *bootstrap.App) (any, error) {
				return app.FlowCLI.RemoveNode(ctx, args[0], args[1])
			})
		},
	}

	connectCmd := &cobra.Command{
		Use:   "connect <room> <source> <target>",
		Short: "Connect two nodes",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, app *bootstrap.App) (any, error) {
				return app.FlowCLI.Connect(ctx, args[0], args[1], args[2])
			})
		},
	}

	var peerName string
	watchCmd := &cobra.Command{
		Use:   "watch <room>",
		Short: "Live view of a room",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := loadApp(cmd, opts, nil)
			if err != nil {
				return err
			}
			defer app.Close()
			return bootstrap.RunWatchTUI(app, args[0], peerName)
		},
	}
	watchCmd.Flags().StringVar(&peerName, "name", os.Getenv("USER"), "name shown to other collaborators")

	room.AddCommand(dumpCmd, addCmd, moveCmd, removeCmd, connectCmd, watchCmd)
	return room
}

// ─── snapshot ────────────────────────────────────────────────────────────────

func newSnapshotCmd(opts *rootOptions) *cobra.Command {
	snapshot := &cobra.Command{Use: "snapshot", Short: "Read stored room snapshots"}

	var storeBackend, storePath string
	showCmd := &cobra.Command{
		Use:   "show <room>",
		Short: "Decode the stored snapshot of a room",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := loadApp(cmd, opts, func(cfg *config.Config) {
				if cmd.Flags().Changed("store") {
					cfg.Store.Backend = storeBackend
				}
				if cmd.Flags().Changed("store-path") {
					cfg.Store.Path = storePath
				}
			})
			if err != nil {
				return err
			}
			defer app.Close()
			out, err := app.RelayCLI.Snapshot(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd, out)
		},
	}
	showCmd.Flags().StringVar(&storeBackend, "store", "", "snapshot store: file, bolt, sqlite, postgres, redis")
	showCmd.Flags().StringVar(&storePath, "store-path", "", "directory for file, bolt and sqlite stores")

	snapshot.AddCommand(showCmd)
	return snapshot
}
