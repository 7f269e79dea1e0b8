package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	carexpert "github.com/gdg-charusat/CareXpert-frontend"
	"github.com/spf13/cobra"
)

var (
	chatHistoryPage  int
	chatHistoryLimit int

	chatSendTo   string
	chatSendRoom string

	chatWatchRoom string
	chatWatchWith string
)

func init() {
	chatHistoryCmd.Flags().IntVar(&chatHistoryPage, "page", 1, "Page number")
	chatHistoryCmd.Flags().IntVarP(&chatHistoryLimit, "limit", "n", 50, "Messages per page")

	chatSendCmd.Flags().StringVar(&chatSendTo, "to", "", "Receiver user ID (direct message)")
	chatSendCmd.Flags().StringVar(&chatSendRoom, "room", "", "Room name (city or community message)")
	chatSendCmd.MarkFlagsMutuallyExclusive("to", "room")

	chatWatchCmd.Flags().StringVar(&chatWatchRoom, "room", "", "Join this room before watching")
	chatWatchCmd.Flags().StringVar(&chatWatchWith, "with", "", "Join the direct surface with this user before watching")

	chatCmd.AddCommand(chatHistoryCmd)
	chatCmd.AddCommand(chatSendCmd)
	chatCmd.AddCommand(chatWatchCmd)
	rootCmd.AddCommand(chatCmd)
}

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Chat with doctors and communities",
}

// parseSurface maps a CLI argument onto a chat surface kind.
func parseSurface(s string) (carexpert.SurfaceKind, error) {
	switch carexpert.SurfaceKind(s) {
	case carexpert.SurfaceDirect:
		return carexpert.SurfaceDirect, nil
	case carexpert.SurfaceCity:
		return carexpert.SurfaceCity, nil
	case carexpert.SurfaceCommunity:
		return carexpert.SurfaceCommunity, nil
	}
	return "", fmt.Errorf("unknown surface %q (valid: direct, city, community)", s)
}

// ============================================================================
// chat history
// ============================================================================

var chatHistoryCmd = &cobra.Command{
	Use:   "history <direct|city|community> <id>",
	Short: "Show past messages for a chat surface",
	Long:  "Fetch one page of chat history.\nFor direct chats the ID is the other user's ID; for city and community chats it is the room name.",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		kind, err := parseSurface(args[0])
		if err != nil {
			return err
		}

		client, _ := getClient()

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		page, err := client.LoadHistory(ctx, kind, args[1], chatHistoryPage, chatHistoryLimit)
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}

		if len(page.Messages) == 0 {
			fmt.Println("No messages.")
			return nil
		}

		for _, m := range page.Messages {
			who := m.SenderName
			if who == "" {
				who = m.SenderID
			}
			fmt.Printf("[%s] %s: %s\n", m.CreatedAt, who, m.Content)
		}
		if page.HasMore() {
			fmt.Printf("\nMore messages available: --page %d\n", page.Page+1)
		}
		return nil
	},
}

// ============================================================================
// chat send
// ============================================================================

var chatSendCmd = &cobra.Command{
	Use:   "send <message>",
	Short: "Send a chat message",
	Long:  "Send a message over the real-time connection.\nUse --to for a direct message or --room for a city/community room.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if chatSendTo == "" && chatSendRoom == "" {
			return fmt.Errorf("give a destination: --to <user-id> or --room <room>")
		}

		client, _ := getClient()
		socket := carexpert.NewSocket(client.BaseURL())
		defer socket.Disconnect()

		store, teardown := getStore(client, socket)
		defer teardown()
		session := requireSession(store)

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		if chatSendTo != "" {
			err := socket.SendMessage(ctx, carexpert.DirectMessagePayload{
				SenderID:   session.ID,
				SenderName: session.Name,
				ReceiverID: chatSendTo,
				Content:    args[0],
			})
			if err != nil {
				return fmt.Errorf("send failed: %w", err)
			}
			fmt.Printf("Sent to %s.\n", chatSendTo)
			return nil
		}

		err := socket.SendMessageToRoom(ctx, carexpert.RoomMessagePayload{
			Room:       chatSendRoom,
			SenderID:   session.ID,
			SenderName: session.Name,
			Content:    args[0],
		})
		if err != nil {
			return fmt.Errorf("send failed: %w", err)
		}
		fmt.Printf("Sent to room %s.\n", chatSendRoom)
		return nil
	},
}

// ============================================================================
// chat watch
// ============================================================================

var chatWatchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Stream inbound messages",
	Long:  "Subscribe to the real-time connection and print every inbound message until interrupted.",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, _ := getClient()
		socket := carexpert.NewSocket(client.BaseURL())
		defer socket.Disconnect()

		store, teardown := getStore(client, socket)
		defer teardown()
		session := requireSession(store)

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if err := socket.Connect(ctx); err != nil {
			return fmt.Errorf("connect failed: %w", err)
		}
		if chatWatchRoom != "" {
			if err := socket.JoinRoom(ctx, chatWatchRoom, session.ID); err != nil {
				return fmt.Errorf("join room failed: %w", err)
			}
		}
		if chatWatchWith != "" {
			if err := socket.JoinDmRoom(ctx, session.ID, chatWatchWith); err != nil {
				return fmt.Errorf("join direct chat failed: %w", err)
			}
		}

		unsubscribe := socket.Subscribe(func(m carexpert.ChatMessage) {
			who := m.SenderName
			if who == "" {
				who = m.SenderID
			}
			fmt.Printf("[%s] %s: %s\n", m.CreatedAt, who, m.Content)
		})
		defer unsubscribe()

		fmt.Fprintln(os.Stderr, "Watching for messages. Press Ctrl-C to stop.")
		<-ctx.Done()
		return nil
	},
}
