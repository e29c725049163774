package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/jgoulah/plugshare/internal/database"
)

var (
	usageDevice string
	usageSince  string
	usageUntil  string
	usageLimit  int
)

var usageCmd = &cobra.Command{
	Use:   "usage",
	Short: "Show usage history",
}

var usageListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recorded usage sessions",
	Long:  `Displays usage sessions from the database, newest first.`,
	RunE:  runUsageList,
}

func init() {
	usageListCmd.Flags().StringVar(&usageDevice, "device", "", "Filter by device id")
	usageListCmd.Flags().StringVar(&usageSince, "since", "", "Only sessions started since this date (YYYY-MM-DD or relative like 7d)")
	usageListCmd.Flags().StringVar(&usageUntil, "until", "", "Only sessions started until this date (YYYY-MM-DD)")
	usageListCmd.Flags().IntVar(&usageLimit, "limit", 50, "Maximum number of sessions")
	usageCmd.AddCommand(usageListCmd)
	rootCmd.AddCommand(usageCmd)
}

func runUsageList(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	db, err := openDB(cfg)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close()

	q := database.UsageQuery{DeviceID: usageDevice, Limit: usageLimit}
	if usageSince != "" {
		if q.From, err = parseDate(usageSince); err != nil {
			return fmt.Errorf("parsing --since date: %w", err)
		}
	}
	if usageUntil != "" {
		if q.To, err = parseDate(usageUntil); err != nil {
			return fmt.Errorf("parsing --until date: %w", err)
		}
	}

	records, err := db.ListUsage(context.Background(), q)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Println("No usage found")
		return nil
	}

	fmt.Println("--------------------------------------------------------------------------------------")
	fmt.Printf("%-16s  %-14s  %-24s  %-10s  %8s  %7s\n", "Started", "Device", "User", "Duration", "kWh", "Charge")
	fmt.Println("--------------------------------------------------------------------------------------")

	total := decimal.Zero
	for _, r := range records {
		device := r.DeviceID
		if r.Device != nil {
			device = r.Device.Alias
		}
		duration := "open"
		if r.EndDate.After(r.StartDate) {
			duration = strings.TrimSpace(humanize.RelTime(r.StartDate, r.EndDate, "", ""))
		}
		fmt.Printf("%-16s  %-14s  %-24s  %-10s  %8s  %7s\n",
			r.StartDate.Local().Format("2006-01-02 15:04"),
			device,
			r.UserEmail,
			duration,
			r.Consumption.StringFixed(2),
			r.Charge.StringFixed(2),
		)
		total = total.Add(r.Consumption)
	}

	fmt.Println("--------------------------------------------------------------------------------------")
	fmt.Printf("Total: %s kWh (%s sessions, latest %s)\n",
		total.StringFixed(2), humanize.Comma(int64(len(records))), humanize.Time(records[0].StartDate))
	return nil
}

// parseDate parses a date string in either YYYY-MM-DD format or relative format (e.g., "7d")
func parseDate(dateStr string) (time.Time, error) {
	// Try absolute date format first
	t, err := time.Parse("2006-01-02", dateStr)
	if err == nil {
		return t, nil
	}

	// Try relative format (e.g., "7d" for 7 days ago)
	if len(dateStr) > 1 && dateStr[len(dateStr)-1] == 'd' {
		daysStr := dateStr[:len(dateStr)-1]
		var days int
		if _, err := fmt.Sscanf(daysStr, "%d", &days); err == nil {
			return time.Now().AddDate(0, 0, -days), nil
		}
	}

	return time.Time{}, fmt.Errorf("invalid date format: %s (use YYYY-MM-DD or Nd for N days ago)", dateStr)
}
