package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	carexpert "github.com/gdg-charusat/CareXpert-frontend"
	"github.com/spf13/cobra"
)

var (
	doctorsCity      string
	doctorsSpecialty string
	doctorsSearch    string
	doctorsFresh     bool
	doctorsJSON      bool
)

func init() {
	doctorsListCmd.Flags().StringVar(&doctorsCity, "city", "", "Filter by city")
	doctorsListCmd.Flags().StringVar(&doctorsSpecialty, "specialization", "", "Filter by specialization")
	doctorsListCmd.Flags().StringVar(&doctorsSearch, "search", "", "Free-text search")
	doctorsListCmd.Flags().BoolVar(&doctorsFresh, "fresh", false, "Bypass the local cache")
	doctorsListCmd.Flags().BoolVar(&doctorsJSON, "json", false, "Output raw JSON")

	doctorsCmd.AddCommand(doctorsListCmd)
	doctorsCmd.AddCommand(doctorsShowCmd)
	rootCmd.AddCommand(doctorsCmd)
}

var doctorsCmd = &cobra.Command{
	Use:   "doctors",
	Short: "Browse doctors",
}

// ============================================================================
// doctors list
// ============================================================================

var doctorsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List doctors",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, _ := getClient()

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		if doctorsFresh {
			client.Cache().InvalidatePrefix("doctors", carexpert.BackendSession)
		}

		doctors, err := client.ListDoctors(ctx, carexpert.DoctorFilter{
			City:           doctorsCity,
			Specialization: doctorsSpecialty,
			Search:         doctorsSearch,
		})
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}

		if doctorsJSON {
			b, _ := json.MarshalIndent(doctors, "", "  ")
			fmt.Println(string(b))
			return nil
		}

		if len(doctors) == 0 {
			fmt.Println("No doctors found.")
			return nil
		}

		for _, d := range doctors {
			fmt.Printf("  %s: %s - %s, %s", d.ID, d.Name, d.Specialization, d.City)
			if d.Fee > 0 {
				fmt.Printf(" (fee %.0f)", d.Fee)
			}
			fmt.Println()
		}
		return nil
	},
}

// ============================================================================
// doctors show
// ============================================================================

var doctorsShowCmd = &cobra.Command{
	Use:   "show <doctor-id>",
	Short: "Show one doctor",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, _ := getClient()

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		d, err := client.GetDoctor(ctx, args[0])
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}

		fmt.Printf("Name:           %s\n", d.Name)
		fmt.Printf("Specialization: %s\n", d.Specialization)
		fmt.Printf("City:           %s\n", d.City)
		if d.Hospital != "" {
			fmt.Printf("Hospital:       %s\n", d.Hospital)
		}
		if d.Experience > 0 {
			fmt.Printf("Experience:     %d years\n", d.Experience)
		}
		if d.Fee > 0 {
			fmt.Printf("Fee:            %.0f\n", d.Fee)
		}
		if d.Rating > 0 {
			fmt.Printf("Rating:         %.1f\n", d.Rating)
		}
		return nil
	},
}
