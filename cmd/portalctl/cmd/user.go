package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/altivon/vpn-portal/internal/portal/auth/dbauth"
	"github.com/altivon/vpn-portal/internal/portal/db"
)

var userCmd = &cobra.Command{
	Use:   "user",
	Short: "Manage portal users",
}

var userAddCmd = &cobra.Command{
	Use:   "add <user-id>",
	Short: "Add a user account",
	Long: `Add a user account to the portal database. With --password the
user also gets a local credential for the "db" auth method.

Examples:
  portalctl user add alice --password s3cret --permission staff --permission vpn`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		userID := args[0]

		_, store, log, err := openStore()
		if err != nil {
			fail(err)
		}
		defer store.Close()

		exists, err := store.UserExists(ctx, userID)
		if err != nil {
			fail(fmt.Errorf("look up user: %w", err))
		}
		if exists {
			fail(fmt.Errorf("user %s already exists", userID))
		}

		permissions, _ := cmd.Flags().GetStringArray("permission")
		if err := store.UserAdd(ctx, db.UserAddParams{
			UserID:         userID,
			PermissionList: permissions,
			LastSeen:       time.Now().UTC(),
		}); err != nil {
			fail(fmt.Errorf("add user: %w", err))
		}

		if password, _ := cmd.Flags().GetString("password"); password != "" {
			validator := dbauth.NewValidator(store, log)
			if err := validator.SetPassword(ctx, userID, password); err != nil {
				fail(fmt.Errorf("set password: %w", err))
			}
		}

		fmt.Printf("user %s added\n", userID)
	},
}

var userPasswordCmd = &cobra.Command{
	Use:   "set-password <user-id> <password>",
	Short: "Set or replace a user's local credential",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()

		_, store, log, err := openStore()
		if err != nil {
			fail(err)
		}
		defer store.Close()

		validator := dbauth.NewValidator(store, log)
		if err := validator.SetPassword(ctx, args[0], args[1]); err != nil {
			fail(fmt.Errorf("set password: %w", err))
		}
		fmt.Printf("password updated for %s\n", args[0])
	},
}

var userListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all user accounts",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()

		_, store, _, err := openStore()
		if err != nil {
			fail(err)
		}
		defer store.Close()

		users, err := store.UserList(ctx)
		if err != nil {
			fail(fmt.Errorf("list users: %w", err))
		}

		fmt.Printf("%-24s %-10s %-20s %s\n", "USER", "STATE", "LAST SEEN", "PERMISSIONS")
		for _, u := range users {
			state := "enabled"
			if u.IsDisabled {
				state = "disabled"
			}
			fmt.Printf("%-24s %-10s %-20s %s\n",
				u.UserID, state,
				u.LastSeen.Format("2006-01-02 15:04:05"),
				strings.Join(u.PermissionList, ","))
		}
	},
}

var userDisableCmd = &cobra.Command{
	Use:   "disable <user-id>",
	Short: "Disable a user account",
	Long: `Disable a user account. Existing configurations stop being valid
immediately; the running service removes them from the nodes on its next
sync pass.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		setUserState(args[0], true)
	},
}

var userEnableCmd = &cobra.Command{
	Use:   "enable <user-id>",
	Short: "Re-enable a disabled user account",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		setUserState(args[0], false)
	},
}

var userDeleteCmd = &cobra.Command{
	Use:   "delete <user-id>",
	Short: "Delete a user account and all of its data",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		userID := args[0]

		_, store, _, err := openStore()
		if err != nil {
			fail(err)
		}
		defer store.Close()

		err = store.ExecTx(ctx, func(q *db.Queries) error {
			certs, err := q.OCertListByUserID(ctx, userID)
			if err != nil {
				return err
			}
			for _, c := range certs {
				if _, err := q.OCertDelete(ctx, c.CommonName); err != nil {
					return err
				}
			}
			peers, err := q.WPeerListByUserID(ctx, userID)
			if err != nil {
				return err
			}
			for _, p := range peers {
				if _, err := q.WPeerDelete(ctx, p.PublicKey); err != nil {
					return err
				}
			}
			_ = q.LocalUserDelete(ctx, userID)
			return q.UserDelete(ctx, userID)
		})
		if err != nil {
			fail(fmt.Errorf("delete user: %w", err))
		}
		fmt.Printf("user %s deleted\n", userID)
	},
}

func setUserState(userID string, disabled bool) {
	ctx := context.Background()

	_, store, _, err := openStore()
	if err != nil {
		fail(err)
	}
	defer store.Close()

	if disabled {
		err = store.UserDisable(ctx, userID)
	} else {
		err = store.UserEnable(ctx, userID)
	}
	if err != nil {
		fail(fmt.Errorf("update user: %w", err))
	}

	state := "enabled"
	if disabled {
		state = "disabled"
	}
	fmt.Printf("user %s %s\n", userID, state)
}

func fail(err error) {
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}

func init() {
	userAddCmd.Flags().String("password", "", "local credential for the db auth method")
	userAddCmd.Flags().StringArray("permission", nil, "permission to grant (repeatable)")

	userCmd.AddCommand(userAddCmd, userPasswordCmd, userListCmd,
		userDisableCmd, userEnableCmd, userDeleteCmd)
	rootCmd.AddCommand(userCmd)
}
