package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var connectionsCmd = &cobra.Command{
	Use:   "connections",
	Short: "List active VPN configurations",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()

		_, store, _, err := openStore()
		if err != nil {
			fail(err)
		}
		defer store.Close()

		configs, err := store.GlobalActiveConfigurations(ctx, time.Now().UTC())
		if err != nil {
			fail(fmt.Errorf("list configurations: %w", err))
		}

		fmt.Printf("%-10s %-24s %-16s %-8s %s\n", "PROTOCOL", "USER", "PROFILE", "SOURCE", "EXPIRES")
		for _, c := range configs {
			source := "portal"
			if c.AuthKey.Valid {
				source = "api"
			}
			fmt.Printf("%-10s %-24s %-16s %-8s %s\n",
				c.Protocol, c.UserID, c.ProfileID, source,
				c.ExpiresAt.Format("2006-01-02 15:04:05"))
		}
	},
}

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Remove expired configurations from the database",
	Long: `Remove expired certificates and peers from the database. The
running service does this on its own schedule; sweep is for catching up
after downtime. Node state is reconciled by the service's next sync.`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()

		_, store, _, err := openStore()
		if err != nil {
			fail(err)
		}
		defer store.Close()

		now := time.Now().UTC()
		certs, err := store.OCertDeleteExpired(ctx, now)
		if err != nil {
			fail(fmt.Errorf("sweep certificates: %w", err))
		}
		peers, err := store.WPeerDeleteExpired(ctx, now)
		if err != nil {
			fail(fmt.Errorf("sweep peers: %w", err))
		}
		fmt.Printf("removed %d expired certificates, %d expired peers\n", certs, peers)
	},
}

func init() {
	rootCmd.AddCommand(connectionsCmd, sweepCmd)
}
