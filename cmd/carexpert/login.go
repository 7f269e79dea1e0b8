package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	carexpert "github.com/gdg-charusat/CareXpert-frontend"
	"github.com/spf13/cobra"
)

var loginPassword string

func init() {
	loginCmd.Flags().StringVarP(&loginPassword, "password", "p", "", "Password (defaults to $CAREXPERT_PASSWORD)")
	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(logoutCmd)
	rootCmd.AddCommand(statusCmd)
}

// ============================================================================
// login
// ============================================================================

var loginCmd = &cobra.Command{
	Use:   "login <email>",
	Short: "Log in to CareXpert",
	Long:  "Authenticate against the CareXpert API. The session cookie is stored in ~/.carexpert/cookies.json.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		email := args[0]
		password := loginPassword
		if password == "" {
			password = os.Getenv("CAREXPERT_PASSWORD")
		}
		if password == "" {
			return fmt.Errorf("no password given: use --password or set CAREXPERT_PASSWORD")
		}

		client, _ := getClient()
		store, teardown := getStore(client, nil)
		defer teardown()

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		if err := store.Login(ctx, email, password); err != nil {
			if errors.Is(err, carexpert.ErrInvalidCredentials) {
				return fmt.Errorf("login rejected: %w", err)
			}
			return fmt.Errorf("login failed: %w", err)
		}

		session := store.Session()
		fmt.Printf("Logged in as %s (%s)\n", session.Name, session.Email)
		fmt.Printf("  Role: %s\n", session.Role)
		return nil
	},
}

// ============================================================================
// logout
// ============================================================================

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Log out and clear local state",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, jar := getClient()
		store, teardown := getStore(client, nil)
		defer teardown()

		if store.Session() == nil {
			fmt.Println("Not logged in.")
			return nil
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		store.Logout(ctx)
		jar.clear()
		fmt.Println("Logged out.")
		return nil
	},
}

// ============================================================================
// status
// ============================================================================

var statusVerify bool

func init() {
	statusCmd.Flags().BoolVar(&statusVerify, "verify", false, "Verify the session against the server")
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the current session",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, _ := getClient()
		store, teardown := getStore(client, nil)
		defer teardown()

		session := store.Session()
		if session == nil {
			fmt.Println("Not logged in.")
			return nil
		}

		fmt.Printf("Logged in as %s (%s)\n", session.Name, session.Email)
		fmt.Printf("  ID:   %s\n", session.ID)
		fmt.Printf("  Role: %s\n", session.Role)

		if statusVerify {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			remote, err := client.Me(ctx)
			if err != nil {
				return fmt.Errorf("session verification failed: %w", err)
			}
			fmt.Printf("Server confirms session for %s.\n", remote.Email)
		}
		return nil
	},
}
