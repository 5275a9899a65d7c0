// Copyright (C) 2020-2026, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// forged is the node daemon: gossip, replication, policy, and the
// local control socket.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/luxfi/forge/config"
	"github.com/luxfi/forge/policy"
)

func main() {
	cfg := config.DefaultConfig()

	rootCmd := &cobra.Command{
		Use:   "forged",
		Short: "Sovereign peer-to-peer code collaboration node",
		Long: `forged runs a node in the peer-to-peer code-collaboration network:
it gossips repository announcements, replicates repositories from
seeds under the signed-refs invariant, and exposes a local control
socket for seeding, following, and sync commands.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			daemon, err := NewDaemon(cfg, nil)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return daemon.Run(ctx)
		},
	}

	flags := rootCmd.Flags()
	flags.StringVar(&cfg.Alias, "alias", cfg.Alias, "node alias announced to peers")
	flags.StringVar(&cfg.ListenAddr, "listen", cfg.ListenAddr, "gossip listen address")
	flags.StringVar(&cfg.ControlSocket, "control-socket", cfg.ControlSocket, "control socket path")
	flags.StringVar(&cfg.MetricsAddr, "metrics", cfg.MetricsAddr, "metrics listen address (empty disables)")
	flags.StringVar(&cfg.DataDir, "data-dir", cfg.DataDir, "data directory")
	flags.StringSliceVar(&cfg.BootstrapPeers, "connect", nil, "peer addresses to dial at start-up")
	flags.DurationVar(&cfg.AnnounceInterval, "announce-interval", cfg.AnnounceInterval, "inventory announcement period")
	flags.DurationVar(&cfg.SyncTimeout, "sync-timeout", cfg.SyncTimeout, "default sync deadline")
	flags.IntVar(&cfg.FetchConcurrency, "fetch-concurrency", cfg.FetchConcurrency, "parallel seed workers per fetch")

	var seedAll bool
	flags.BoolVar(&seedAll, "seed-all", false, "seed every repository announced to this node")
	cobra.OnInitialize(func() {
		if seedAll {
			cfg.DefaultSeedPolicy = policy.DefaultAllowAll
		}
	})

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
