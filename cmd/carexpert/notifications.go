package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var (
	notifListPage  int
	notifListLimit int

	notifReadAll bool
)

func init() {
	notifListCmd.Flags().IntVar(&notifListPage, "page", 1, "Page number")
	notifListCmd.Flags().IntVarP(&notifListLimit, "limit", "n", 20, "Notifications per page")

	notifReadCmd.Flags().BoolVar(&notifReadAll, "all", false, "Mark every notification as read")

	notifCmd.AddCommand(notifListCmd)
	notifCmd.AddCommand(notifReadCmd)
	rootCmd.AddCommand(notifCmd)
}

var notifCmd = &cobra.Command{
	Use:   "notifications",
	Short: "View and manage notifications",
}

// ============================================================================
// notifications list
// ============================================================================

var notifListCmd = &cobra.Command{
	Use:   "list",
	Short: "List notifications",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, _ := getClient()

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		page, err := client.ListNotifications(ctx, notifListPage, notifListLimit)
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}

		if len(page.Notifications) == 0 {
			fmt.Println("No notifications.")
			return nil
		}

		for _, n := range page.Notifications {
			marker := " "
			if !n.Read {
				marker = "*"
			}
			fmt.Printf("%s %s [%s] %s\n", marker, n.ID, n.Type, n.Title)
		}
		fmt.Printf("\nPage %d of %d total (%d unread)\n", page.Page, page.Total, page.UnreadCount)
		return nil
	},
}

// ============================================================================
// notifications read
// ============================================================================

var notifReadCmd = &cobra.Command{
	Use:   "read [notification-id]",
	Short: "Mark a notification (or all) as read",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, _ := getClient()

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		if notifReadAll {
			if err := client.MarkAllNotificationsRead(ctx); err != nil {
				return fmt.Errorf("request failed: %w", err)
			}
			fmt.Println("All notifications marked as read.")
			return nil
		}

		if len(args) == 0 {
			return fmt.Errorf("give a notification ID or use --all")
		}
		if err := client.MarkNotificationRead(ctx, args[0]); err != nil {
			return fmt.Errorf("request failed: %w", err)
		}
		fmt.Printf("Notification %s marked as read.\n", args[0])
		return nil
	},
}
