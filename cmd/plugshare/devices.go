package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jgoulah/plugshare/pkg/models"
)

var devicesAll bool

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "Manage shared devices",
}

var devicesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List devices and who is using them",
	RunE:  runDevicesList,
}

var devicesAddCmd = &cobra.Command{
	Use:   "add <id> <mac> <ip> <alias>",
	Short: "Provision a new device",
	Args:  cobra.ExactArgs(4),
	RunE:  runDevicesAdd,
}

var devicesRenameCmd = &cobra.Command{
	Use:   "rename <id> <alias>",
	Short: "Change a device's alias, keeping the old one in its history",
	Args:  cobra.ExactArgs(2),
	RunE:  runDevicesRename,
}

var devicesArchiveCmd = &cobra.Command{
	Use:   "archive <id>",
	Short: "Archive a device so it can no longer be turned on",
	Args:  cobra.ExactArgs(1),
	RunE:  runDevicesArchive,
}

func init() {
	devicesListCmd.Flags().BoolVar(&devicesAll, "all", false, "Include archived devices")
	devicesCmd.AddCommand(devicesListCmd, devicesAddCmd, devicesRenameCmd, devicesArchiveCmd)
	rootCmd.AddCommand(devicesCmd)
}

func runDevicesList(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	db, err := openDB(cfg)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close()

	ctx := context.Background()
	devices, err := db.ListDevices(ctx, devicesAll)
	if err != nil {
		return err
	}
	active, err := db.ListActive(ctx)
	if err != nil {
		return err
	}

	if len(devices) == 0 {
		fmt.Println("No devices found")
		return nil
	}

	busy := make(map[string]models.ActiveDevice, len(active))
	for _, a := range active {
		busy[a.DeviceID] = a
	}

	fmt.Println("----------------------------------------------------------------------")
	fmt.Printf("%-12s  %-20s  %-15s  %s\n", "ID", "Alias", "IP", "Status")
	fmt.Println("----------------------------------------------------------------------")
	for _, d := range devices {
		status := "free"
		switch a, ok := busy[d.ID]; {
		case d.IsArchived:
			status = "archived"
		case ok && a.UsageRecord != nil:
			status = "in use by " + a.UsageRecord.UserEmail
			if eta := a.UsageRecord.EstimatedUseTime; eta != nil {
				status += " until " + eta.Local().Format("15:04")
			}
		}
		fmt.Printf("%-12s  %-20s  %-15s  %s\n", d.ID, d.Alias, d.IPAddress, status)
		if prev := d.Aliases(); len(prev) > 0 {
			fmt.Printf("%-12s  (was %s)\n", "", strings.Join(prev, ", "))
		}
	}
	fmt.Println("----------------------------------------------------------------------")
	fmt.Printf("%d devices, %d in use\n", len(devices), len(active))
	return nil
}

func runDevicesAdd(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	db, err := openDB(cfg)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close()

	d := &models.Device{ID: args[0], MACAddress: args[1], IPAddress: args[2], Alias: args[3]}
	if err := db.InsertDevice(context.Background(), d); err != nil {
		return err
	}
	fmt.Printf("✓ Added %s (%s)\n", d.Alias, d.ID)
	return nil
}

func runDevicesRename(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	db, err := openDB(cfg)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close()

	d, err := db.RenameDevice(context.Background(), args[0], args[1])
	if err != nil {
		return err
	}
	fmt.Printf("✓ Renamed %s to %s\n", d.ID, d.Alias)
	return nil
}

func runDevicesArchive(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	db, err := openDB(cfg)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close()

	if err := db.ArchiveDevice(context.Background(), args[0]); err != nil {
		return err
	}
	fmt.Printf("✓ Archived %s\n", args[0])
	return nil
}
