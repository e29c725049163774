package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/jgoulah/plugshare/internal/database"
	"github.com/jgoulah/plugshare/internal/publisher"
)

var (
	publishDevice string
	publishSince  string
	publishUntil  string
	publishLimit  int
	publishStats  bool
)

var publishCmd = &cobra.Command{
	Use:   "publish",
	Short: "Publish daily household usage to Home Assistant",
	Long: `Sums closed usage sessions per day and backfills them into a Home Assistant sensor.
With --stats, compiles long-term statistics afterwards so the Energy dashboard picks them up.`,
	RunE: runPublish,
}

func init() {
	publishCmd.Flags().StringVar(&publishDevice, "device", "", "Only publish usage of this device id")
	publishCmd.Flags().StringVar(&publishSince, "since", "30d", "Publish data since this date (YYYY-MM-DD or relative like 7d)")
	publishCmd.Flags().StringVar(&publishUntil, "until", "", "Publish data until this date (YYYY-MM-DD, default now)")
	publishCmd.Flags().IntVar(&publishLimit, "limit", 0, "Limit number of days to publish (0 = no limit)")
	publishCmd.Flags().BoolVar(&publishStats, "stats", false, "Generate statistics after backfilling")
	rootCmd.AddCommand(publishCmd)
}

func runPublish(cmd *cobra.Command, args []string) error {
	fmt.Printf("=== Publish started at %s ===\n", time.Now().Format("2006-01-02 15:04:05 MST"))

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if !cfg.HomeAssistant.Enabled {
		return fmt.Errorf("Home Assistant is not enabled in config")
	}

	ha, err := publisher.NewHomeAssistant(cfg.HomeAssistant)
	if err != nil {
		return fmt.Errorf("creating publisher: %w", err)
	}

	filter := database.UsageFilter{DeviceID: publishDevice, End: time.Now()}
	if filter.Start, err = parseDate(publishSince); err != nil {
		return fmt.Errorf("parsing --since date: %w", err)
	}
	if publishUntil != "" {
		until, err := parseDate(publishUntil)
		if err != nil {
			return fmt.Errorf("parsing --until date: %w", err)
		}
		filter.End = until.AddDate(0, 0, 1).Add(-time.Nanosecond)
	}

	db, err := openDB(cfg)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close()

	ctx := context.Background()
	rows, err := db.UsageData(ctx, filter)
	if err != nil {
		return err
	}
	totals := publisher.DailyTotals(rows)
	if len(totals) == 0 {
		fmt.Println("No usage in date range")
		return nil
	}
	if publishLimit > 0 && len(totals) > publishLimit {
		totals = totals[:publishLimit]
		fmt.Printf("Limiting to %d days (--limit flag)\n", publishLimit)
	}

	fmt.Printf("Publishing %d days to %s...\n", len(totals), ha.EntityID())
	published := 0
	for i, t := range totals {
		fmt.Printf("[%d/%d] Publishing %s (%s kWh)... ", i+1, len(totals), t.Day.Format("2006-01-02"), t.KWh.StringFixed(2))
		if err := ha.Backfill(ctx, t); err != nil {
			fmt.Printf("FAILED: %v\n", err)
			continue
		}
		fmt.Printf("✓\n")
		published++
	}
	fmt.Printf("\nSuccessfully published %d/%d days\n", published, len(totals))

	if !publishStats {
		return nil
	}
	fmt.Printf("Generating statistics for %s...\n", ha.EntityID())
	res, err := ha.GenerateStatistics(ctx)
	if err != nil {
		return fmt.Errorf("generating statistics: %w", err)
	}
	fmt.Printf("✓ Statistics generated: %d inserted, %d updated (%d hours)\n", res.Inserted, res.Updated, res.TotalHours)
	return nil
}
