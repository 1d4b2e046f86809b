// Command p2p-peer shares a local directory and downloads files from other peers.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/BurntSushi/toml"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/and161185/p2p-share/internal/client/app"
	"github.com/and161185/p2p-share/internal/client/cli"
	"github.com/and161185/p2p-share/internal/config"
)

var (
	version   = "dev"
	buildDate = "unknown"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

// options carries the resolved configuration from PersistentPreRunE to subcommands.
type options struct {
	configPath string
	flags      config.Peer
	cfg        *config.Peer
}

func newRootCmd() *cobra.Command {
	o := &options{}
	defaults := config.DefaultPeer()

	root := &cobra.Command{
		Use:   "p2p-peer",
		Short: "Share files with other peers through a directory server",
		Long: `p2p-peer serves the files of a shared directory to other peers and
downloads files they publish, in chunks, from every peer that has them.

Without a subcommand it starts the interactive shell.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg := config.DefaultPeer()
			if err := config.LoadPeerFile(o.configPath, cfg); err != nil {
				return err
			}
			cfg.Override(&o.flags, cmd.Flags().Changed)
			if err := cfg.Validate(); err != nil {
				return err
			}
			o.cfg = cfg
			return nil
		},
		RunE: func(cmd *cobra.Command, _ []string) error { return runShell(cmd, o) },
	}

	f := root.PersistentFlags()
	f.StringVarP(&o.configPath, "config", "c", "", "TOML configuration file")
	f.StringVar(&o.flags.Server, "server", defaults.Server, "directory server address")
	f.StringVar(&o.flags.Listen, "listen", defaults.Listen, "P2P listen address")
	f.IntVar(&o.flags.AdvertisePort, "advertise-port", 0, "P2P port announced to the directory (0 = listen port)")
	f.StringVar(&o.flags.SharedDir, "shared-dir", defaults.SharedDir, "directory served to other peers")
	f.StringVar(&o.flags.DownloadDir, "download-dir", defaults.DownloadDir, "directory downloads are saved to")
	f.Int32Var(&o.flags.ChunkSize, "chunk-size", defaults.ChunkSize, "chunk size in bytes")
	f.DurationVar(&o.flags.DialTimeout, "dial-timeout", defaults.DialTimeout, "timeout for connecting to peers and the directory")
	f.DurationVar(&o.flags.IOTimeout, "io-timeout", defaults.IOTimeout, "timeout for one peer exchange")
	f.IntVar(&o.flags.ConnectAttempts, "connect-attempts", defaults.ConnectAttempts, "connection attempts per peer")
	f.IntVar(&o.flags.UploadRate, "upload-rate", 0, "upload cap in bytes per second (0 = unlimited)")
	f.IntVar(&o.flags.MaxUploads, "max-uploads", 0, "concurrent uploads served (0 = unlimited)")
	f.BoolVarP(&o.flags.Verbose, "verbose", "v", false, "log at debug level")

	root.AddCommand(
		&cobra.Command{
			Use:   "shell",
			Short: "Start the interactive shell",
			Args:  cobra.NoArgs,
			RunE:  func(cmd *cobra.Command, _ []string) error { return runShell(cmd, o) },
		},
		&cobra.Command{
			Use:   "register <email> <username>",
			Short: "Create an account and exit",
			Args:  cobra.ExactArgs(2),
			RunE:  func(cmd *cobra.Command, args []string) error { return runRegister(cmd, o, args[0], args[1]) },
		},
		&cobra.Command{
			Use:   "config",
			Short: "Print the effective configuration as TOML",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return toml.NewEncoder(cmd.OutOrStdout()).Encode(o.cfg)
			},
		},
		&cobra.Command{
			Use:   "version",
			Short: "Print the version",
			Args:  cobra.NoArgs,
			PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
			Run: func(cmd *cobra.Command, _ []string) {
				fmt.Fprintf(cmd.OutOrStdout(), "p2p-peer %s (built %s)\n", version, buildDate)
			},
		},
	)
	return root
}

// newLogger writes development-style logs to stderr, quiet unless verbose.
func newLogger(verbose bool) (*zap.Logger, error) {
	zc := zap.NewDevelopmentConfig()
	zc.Level = zap.NewAtomicLevelAt(zapcore.WarnLevel)
	if verbose {
		zc.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	return zc.Build()
}

func startApp(cmd *cobra.Command, o *options) (*app.App, *zap.Logger, error) {
	logger, err := newLogger(o.cfg.Verbose)
	if err != nil {
		return nil, nil, err
	}
	a, err := app.New(o.cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	if err := a.Start(cmd.Context()); err != nil {
		_ = logger.Sync()
		return nil, nil, err
	}
	return a, logger, nil
}

func runShell(cmd *cobra.Command, o *options) error {
	a, logger, err := startApp(cmd, o)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()
	defer func() { _ = a.Close() }()

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "directory %s, sharing %s on %s:%d\n",
		o.cfg.Server, o.cfg.SharedDir, a.LocalAddress(), a.AdvertisedPort())
	err = cli.New(a, cmd.InOrStdin(), out).Run(cmd.Context())
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func runRegister(cmd *cobra.Command, o *options, email, username string) error {
	a, logger, err := startApp(cmd, o)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()
	defer func() { _ = a.Close() }()

	pw, err := cli.ReadPassword(cmd.InOrStdin(), cmd.OutOrStdout())
	if err != nil {
		return err
	}
	if err := a.Register(cmd.Context(), email, username, pw); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), "registered", email)
	return nil
}
