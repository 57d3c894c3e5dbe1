package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/srg/podlink/internal/devicefactory"
	"github.com/srg/podlink/scanner"
)

// scanCmd represents the scan command
var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan for nearby Pods",
	Long: `Scan for Pod wearables and display their names, addresses, and signal
strength. Only devices advertising a Pod name are shown.`,
	RunE: runScan,
}

var (
	scanDuration time.Duration
	scanFormat   string
)

func init() {
	scanCmd.Flags().DurationVarP(&scanDuration, "duration", "d", 15*time.Second, "Scan duration (0 for indefinite)")
	scanCmd.Flags().StringVarP(&scanFormat, "format", "f", "table", "Output format (table, json)")
}

func runScan(cmd *cobra.Command, args []string) error {
	if scanFormat != "table" && scanFormat != "json" {
		return fmt.Errorf("invalid format '%s': must be table or json", scanFormat)
	}

	logger, err := configureLogger(cmd)
	if err != nil {
		return err
	}

	// All arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Listen for Ctrl+C to cancel
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		<-sigCh
		fmt.Println("\nCtrl+C pressed, cancelling scan...")
		cancel()
	}()

	transport := devicefactory.NewTransport(logger)
	s := scanner.NewScanner(transport, logger, nil)

	fmt.Printf("Scanning for Pods (%s)...\n", scanDuration)
	results, err := s.Scan(ctx, &scanner.ScanOptions{
		Duration:        scanDuration,
		AllowDuplicates: true,
	})
	if err != nil {
		return err
	}

	sort.Slice(results, func(i, j int) bool { return results[i].RSSI > results[j].RSSI })

	if scanFormat == "json" {
		return json.NewEncoder(os.Stdout).Encode(results)
	}
	return displayPodTable(results)
}

func displayPodTable(results []scanner.ScanResult) error {
	if len(results) == 0 {
		fmt.Println("No Pods found.")
		return nil
	}

	green := color.New(color.FgGreen)
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tADDRESS\tRSSI")

	for _, r := range results {
		fmt.Fprintf(w, "%s\t%s\t%d dBm\n", green.Sprint(r.Name), r.ID, r.RSSI)
	}
	return w.Flush()
}
