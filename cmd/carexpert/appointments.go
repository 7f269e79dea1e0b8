package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	carexpert "github.com/gdg-charusat/CareXpert-frontend"
	"github.com/spf13/cobra"
)

var (
	apptListJSON bool

	apptBookDoctor string
	apptBookDate   string
	apptBookSlot   string
	apptBookReason string
)

func init() {
	apptListCmd.Flags().BoolVar(&apptListJSON, "json", false, "Output raw JSON")

	apptBookCmd.Flags().StringVar(&apptBookDoctor, "doctor", "", "Doctor ID (required)")
	apptBookCmd.Flags().StringVar(&apptBookDate, "date", "", "Appointment date, YYYY-MM-DD (required)")
	apptBookCmd.Flags().StringVar(&apptBookSlot, "slot", "", "Time slot, e.g. 10:30 (required)")
	apptBookCmd.Flags().StringVar(&apptBookReason, "reason", "", "Reason for the visit")
	apptBookCmd.MarkFlagRequired("doctor")
	apptBookCmd.MarkFlagRequired("date")
	apptBookCmd.MarkFlagRequired("slot")

	apptCmd.AddCommand(apptListCmd)
	apptCmd.AddCommand(apptBookCmd)
	apptCmd.AddCommand(apptCancelCmd)
	apptCmd.AddCommand(apptStatusCmd)
	rootCmd.AddCommand(apptCmd)
}

var apptCmd = &cobra.Command{
	Use:   "appointments",
	Short: "Manage appointments",
}

// ============================================================================
// appointments list
// ============================================================================

var apptListCmd = &cobra.Command{
	Use:   "list",
	Short: "List your appointments",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, _ := getClient()

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		appointments, err := client.ListAppointments(ctx)
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}

		if apptListJSON {
			b, _ := json.MarshalIndent(appointments, "", "  ")
			fmt.Println(string(b))
			return nil
		}

		if len(appointments) == 0 {
			fmt.Println("No appointments found.")
			return nil
		}

		for _, a := range appointments {
			who := a.DoctorName
			if who == "" {
				who = a.DoctorID
			}
			fmt.Printf("  %s: %s %s with %s [%s]\n", a.ID, a.Date, a.Slot, who, a.Status)
		}
		return nil
	},
}

// ============================================================================
// appointments book
// ============================================================================

var apptBookCmd = &cobra.Command{
	Use:   "book",
	Short: "Book an appointment",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, _ := getClient()

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		appt, err := client.BookAppointment(ctx, carexpert.BookAppointmentRequest{
			DoctorID: apptBookDoctor,
			Date:     apptBookDate,
			Slot:     apptBookSlot,
			Reason:   apptBookReason,
		})
		if err != nil {
			return fmt.Errorf("booking failed: %w", err)
		}

		fmt.Printf("Appointment booked: %s\n", appt.ID)
		fmt.Printf("  Date:   %s %s\n", appt.Date, appt.Slot)
		fmt.Printf("  Status: %s\n", appt.Status)
		return nil
	},
}

// ============================================================================
// appointments cancel
// ============================================================================

var apptCancelCmd = &cobra.Command{
	Use:   "cancel <appointment-id>",
	Short: "Cancel an appointment",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, _ := getClient()

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		if err := client.CancelAppointment(ctx, args[0]); err != nil {
			return fmt.Errorf("cancel failed: %w", err)
		}
		fmt.Printf("Appointment %s cancelled.\n", args[0])
		return nil
	},
}

// ============================================================================
// appointments status
// ============================================================================

var apptStatusCmd = &cobra.Command{
	Use:   "status <appointment-id> <status>",
	Short: "Update an appointment's status (doctor only)",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		status := carexpert.AppointmentStatus(strings.ToUpper(args[1]))
		switch status {
		case carexpert.AppointmentConfirmed, carexpert.AppointmentRejected, carexpert.AppointmentCompleted:
		default:
			return fmt.Errorf("invalid status %q (valid: CONFIRMED, REJECTED, COMPLETED)", args[1])
		}

		client, _ := getClient()

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		if err := client.UpdateAppointmentStatus(ctx, args[0], status); err != nil {
			return fmt.Errorf("update failed: %w", err)
		}
		fmt.Printf("Appointment %s is now %s.\n", args[0], status)
		return nil
	},
}
