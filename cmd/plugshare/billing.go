package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/jgoulah/plugshare/internal/aggregate"
)

var billingCmd = &cobra.Command{
	Use:   "billing",
	Short: "Show or set the billing period",
}

var billingShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the billing anchor and the current period",
	RunE:  runBillingShow,
}

var billingSetCmd = &cobra.Command{
	Use:   "set <YYYY-MM-DD>",
	Short: "Set the date billing periods recur from",
	Args:  cobra.ExactArgs(1),
	RunE:  runBillingSet,
}

func init() {
	billingCmd.AddCommand(billingShowCmd, billingSetCmd)
	rootCmd.AddCommand(billingCmd)
}

func runBillingShow(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	db, err := openDB(cfg)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close()

	anchor, err := db.BillingAnchor(context.Background())
	if err != nil {
		return err
	}
	if anchor == nil {
		fmt.Println("No billing anchor set, billing periods follow calendar months")
	} else {
		fmt.Printf("Billing anchor: %s\n", anchor.Format("2006-01-02"))
	}

	start, end := aggregate.Range(aggregate.PeriodBilling, time.Now(), anchor)
	fmt.Printf("Current period: %s to %s\n", start.Format("2006-01-02"), end.Format("2006-01-02"))
	return nil
}

func runBillingSet(cmd *cobra.Command, args []string) error {
	anchor, err := time.Parse("2006-01-02", args[0])
	if err != nil {
		return fmt.Errorf("parsing anchor date: %w", err)
	}

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	db, err := openDB(cfg)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close()

	if err := db.SetBillingAnchor(context.Background(), anchor); err != nil {
		return err
	}
	fmt.Printf("✓ Billing periods now recur on day %d from %s\n", anchor.Day(), anchor.Format("2006-01-02"))
	return nil
}
