package main

import (
	"context"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"time"

	carexpert "github.com/gdg-charusat/CareXpert-frontend"
	"github.com/spf13/cobra"
)

var (
	reportUploadTitle       string
	reportUploadDescription string
	reportUploadMime        string
)

func init() {
	reportUploadCmd.Flags().StringVar(&reportUploadTitle, "title", "", "Report title (defaults to the file name)")
	reportUploadCmd.Flags().StringVar(&reportUploadDescription, "description", "", "Report description")
	reportUploadCmd.Flags().StringVar(&reportUploadMime, "mime", "", "Override MIME type")

	reportCmd.AddCommand(reportUploadCmd)
	rootCmd.AddCommand(reportCmd)
}

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Medical report management",
}

// ============================================================================
// report upload
// ============================================================================

var reportUploadCmd = &cobra.Command{
	Use:   "upload <path>",
	Short: "Upload a medical report",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := args[0]
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read file: %w", err)
		}

		fileName := filepath.Base(path)
		title := reportUploadTitle
		if title == "" {
			title = fileName
		}
		mimeType := reportUploadMime
		if mimeType == "" {
			mimeType = mime.TypeByExtension(filepath.Ext(fileName))
		}

		client, _ := getClient()

		ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
		defer cancel()

		report, err := client.UploadReport(ctx, carexpert.ReportUpload{
			FileName:    fileName,
			MimeType:    mimeType,
			Data:        data,
			Title:       title,
			Description: reportUploadDescription,
		})
		if err != nil {
			return fmt.Errorf("upload failed: %w", err)
		}

		fmt.Printf("Report uploaded: %s\n", report.ID)
		fmt.Printf("  Title: %s\n", report.Title)
		fmt.Printf("  File:  %s\n", report.FileName)
		if report.FileURL != "" {
			fmt.Printf("  URL:   %s\n", report.FileURL)
		}
		return nil
	},
}
