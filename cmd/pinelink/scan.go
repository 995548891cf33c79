package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/srg/pinelink/internal/bledb"
	"github.com/srg/pinelink/internal/devicefactory"
	"github.com/srg/pinelink/internal/groutine"
	"github.com/srg/pinelink/scanner"
)

// scanCmd represents the scan command
var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan for nearby irons",
	Long: `Scan for Bluetooth Low Energy devices and list the ones that look like IronOS irons.

An iron is recognised by its advertised telemetry service or its "Pinecil" name prefix.
Use --all to list every advertiser.`,
	RunE: runScan,
}

var (
	scanDuration  time.Duration
	scanFormat    string
	scanAll       bool
	scanServices  []string
	scanAllowList []string
	scanBlockList []string
	scanNoColor   bool
)

func init() {
	scanCmd.Flags().DurationVarP(&scanDuration, "duration", "d", 0, "Scan duration (default from config scan_timeout)")
	scanCmd.Flags().StringVarP(&scanFormat, "format", "f", "table", "Output format (table, json)")
	scanCmd.Flags().BoolVarP(&scanAll, "all", "a", false, "List every advertiser, not only irons")
	scanCmd.Flags().StringSliceVarP(&scanServices, "services", "s", nil, "Filter by advertised service UUIDs")
	scanCmd.Flags().StringSliceVar(&scanAllowList, "allow", nil, "Only show devices with these addresses")
	scanCmd.Flags().StringSliceVar(&scanBlockList, "block", nil, "Hide devices with these addresses")
	scanCmd.Flags().BoolVar(&scanNoColor, "no-color", false, "Disable colored output")
}

// scanResult is the JSON shape of one discovered device
type scanResult struct {
	Address     string   `json:"address"`
	Name        string   `json:"name,omitempty"`
	RSSI        int      `json:"rssi"`
	Connectable bool     `json:"connectable"`
	Iron        bool     `json:"iron"`
	Services    []string `json:"services,omitempty"`
}

func runScan(cmd *cobra.Command, _ []string) error {
	if scanFormat != "table" && scanFormat != "json" {
		return fmt.Errorf("invalid format '%s': must be one of [table json]", scanFormat)
	}

	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	// All arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true
	configureColor(scanNoColor)

	duration := cfg.ScanTimeout
	if scanDuration > 0 {
		duration = scanDuration
	}

	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	s := scanner.NewScanner(devicefactory.NewTransport(cfg, logger), logger)
	opts := &scanner.ScanOptions{
		Duration:        duration,
		DuplicateFilter: true,
		ServiceUUIDs:    scanServices,
		AllowList:       scanAllowList,
		BlockList:       scanBlockList,
	}

	out := cmd.OutOrStdout()
	progress := NewCountdownProgressPrinter(out, "Scanning for irons", "Scanning", duration, "Processing results")
	if !isTerminal() || scanFormat == "json" {
		progress.Disable()
	}
	progress.Start()
	update := progress.Callback()
	var seen atomic.Int32
	watchCtx, stopWatch := context.WithCancel(ctx)
	watched := groutine.Go(watchCtx, "scan-progress", func(ctx context.Context) {
		watchDiscoveries(ctx, s, func(ev scanner.DeviceEvent) {
			if ev.Type != scanner.EventNew || (!scanAll && !isIron(ev.Device, cfg)) {
				return
			}
			update(fmt.Sprintf("Scanning, %d found", seen.Add(1)))
		})
	})
	found, err := s.Scan(ctx, opts, update)
	stopWatch()
	<-watched
	progress.Stop()
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.WithError(err).Error("scan failed")
		return err
	}

	results := make([]scanResult, 0, len(found))
	for _, d := range found {
		iron := isIron(d, cfg)
		if !scanAll && !iron {
			continue
		}
		results = append(results, scanResult{
			Address:     d.Peripheral.Address,
			Name:        d.Peripheral.Name,
			RSSI:        d.RSSI,
			Connectable: d.Connectable,
			Iron:        iron,
			Services:    d.Services,
		})
	}

	if scanFormat == "json" {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(results)
	}
	return displayScanTable(out, results)
}

// watchDiscoveries hands every scanner event to fn until ctx is done
func watchDiscoveries(ctx context.Context, s *scanner.Scanner, fn func(scanner.DeviceEvent)) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-s.Events():
			fn(ev)
		}
	}
}

func displayScanTable(out io.Writer, results []scanResult) error {
	if len(results) == 0 {
		fmt.Fprintln(out, "No irons found.")
		return nil
	}

	ironMark := color.New(color.FgGreen, color.Bold).SprintFunc()
	dim := color.New(color.Faint).SprintFunc()

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tADDRESS\tRSSI\tIRON\tSERVICES")
	for _, r := range results {
		name := r.Name
		if name == "" {
			name = dim("(unknown)")
		}
		mark := ""
		if r.Iron {
			mark = ironMark("yes")
		}
		services := make([]string, len(r.Services))
		for i, uuid := range r.Services {
			services[i] = bledb.ServiceLabel(uuid)
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n", name, r.Address, r.RSSI, mark, strings.Join(services, ", "))
	}
	if err := w.Flush(); err != nil {
		return err
	}

	fmt.Fprintf(out, "\n%d device(s). Connect with: pinelink monitor <address>\n", len(results))
	return nil
}
