package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/baderanaas/hushchat/pkg/libp2p"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	configPath string
	dataDir    string
	logLevel   string
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	run := runCmd()
	root := &cobra.Command{
		Use:          "hushchat",
		Short:        "End-to-end encrypted peer-to-peer chat",
		SilenceUsage: true,
		// Running without a subcommand starts the chat.
		RunE: run.RunE,
	}
	root.Flags().AddFlagSet(run.Flags())

	root.PersistentFlags().StringVar(&configPath, "config", "", "JSON config file (default <data-dir>/config.json)")
	root.PersistentFlags().StringVar(&dataDir, "data-dir", "", "data directory (default ~/.hushchat)")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: trace, debug, info, warn, error")

	root.AddCommand(run, keyCmd(), configCmd())
	return root
}

// loadConfig reads the config file given with --config, or the one in the
// data directory if it exists, and applies the persistent flags on top.
func loadConfig() (libp2p.Config, error) {
	cfg := libp2p.Default()
	path := configPath
	if path == "" {
		defaultPath, err := libp2p.ConfigPath(dataDir)
		if err != nil {
			return cfg, err
		}
		if _, err := os.Stat(defaultPath); err == nil {
			path = defaultPath
		} else if !errors.Is(err, os.ErrNotExist) {
			return cfg, err
		}
	}
	if path != "" {
		var err error
		if cfg, err = libp2p.Load(path); err != nil {
			return cfg, err
		}
	}
	if dataDir != "" {
		cfg.DataDir = dataDir
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	return cfg, nil
}

func runCmd() *cobra.Command {
	var (
		port      int
		ephemeral bool
		noDHT     bool
		noMDNS    bool
		noRelay   bool
		lobby     bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the node and the interactive chat",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			flags := cmd.Flags()
			if flags.Changed("port") {
				cfg.P2P.ListenPort = port
			}
			if flags.Changed("ephemeral") {
				cfg.Identity.Ephemeral = ephemeral
			}
			if noDHT {
				cfg.DHT.Enabled = false
			}
			if noMDNS {
				cfg.P2P.MdnsEnabled = false
			}
			if noRelay {
				cfg.P2P.Relay = false
			}
			if flags.Changed("lobby") {
				cfg.Lobby.Enabled = lobby
			}

			if err := cfg.Validate(); err != nil {
				return err
			}
			if err := libp2p.SetupLogging(cfg.LogLevel); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if err := libp2p.Start(ctx, cfg, os.Stdin, os.Stdout); err != nil && ctx.Err() == nil {
				logrus.WithError(err).Error("hushchat stopped")
				return err
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "listen port (random if not specified)")
	cmd.Flags().BoolVar(&ephemeral, "ephemeral", false, "use a throwaway identity that is never saved")
	cmd.Flags().BoolVar(&noDHT, "no-dht", false, "disable the DHT and public bootstrap nodes")
	cmd.Flags().BoolVar(&noMDNS, "no-mdns", false, "disable LAN discovery")
	cmd.Flags().BoolVar(&noRelay, "no-relay", false, "disable relays, hole punching and NAT port mapping")
	cmd.Flags().BoolVar(&lobby, "lobby", false, "announce your key in the public lobby")
	return cmd
}

func keyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "key",
		Short: "Print your portable public key and peer ID",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if err := libp2p.SetupLogging(cfg.LogLevel); err != nil {
				return err
			}
			id, err := libp2p.IdentityFromConfig(cfg)
			if err != nil {
				return err
			}
			fmt.Printf("Peer ID: %s\n", id.ID())
			fmt.Printf("Key:     %s\n", id.PortableKey())
			return nil
		},
	}
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the config file",
	}

	var force bool
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write the default config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := configPath
			if path == "" {
				var err error
				if path, err = libp2p.ConfigPath(dataDir); err != nil {
					return err
				}
			}
			cfg := libp2p.Default()
			if dataDir != "" {
				cfg.DataDir = dataDir
			}
			if logLevel != "" {
				cfg.LogLevel = logLevel
			}
			if err := libp2p.InitConfig(path, cfg, force); err != nil {
				return err
			}
			fmt.Printf("Wrote %s\n", path)
			return nil
		},
	}
	initCmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config file")

	cmd.AddCommand(initCmd)
	return cmd
}
