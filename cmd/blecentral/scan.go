package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/srg/blecentral/internal/device"
	"github.com/srg/blecentral/internal/scan"
)

// scanCmd represents the scan command
var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan for BLE devices",
	Long: `Scan for and display Bluetooth Low Energy devices in the vicinity.

Filters of different kinds are OR-ed: a device is shown when it matches any
--name, --service, --address or --company-id. Manufacturer data is shown only
for the listed company ids when any are given.

Examples:
  # Scan for 5 seconds
  blecentral scan -d 5s

  # Apple and Nordic devices only, as JSON
  blecentral scan --company-id 0x004c --company-id 0x0059 -f json

  # Devices advertising the Heart Rate service, printed as they appear
  blecentral scan --service 180d --live`,
	Args: cobra.NoArgs,
	RunE: runScan,
}

var (
	scanDuration   time.Duration
	scanFormat     string
	scanNames      []string
	scanServices   []string
	scanAddresses  []string
	scanCompanyIDs []string
	scanLive       bool
)

func init() {
	scanCmd.Flags().DurationVarP(&scanDuration, "duration", "d", 0, "Scan duration (default: scan_timeout from config)")
	scanCmd.Flags().StringVarP(&scanFormat, "format", "f", "", "Output format (table, json; default: output_format from config)")
	scanCmd.Flags().StringSliceVar(&scanNames, "name", nil, "Match devices whose name contains this text")
	scanCmd.Flags().StringSliceVarP(&scanServices, "service", "s", nil, "Match devices advertising this service UUID")
	scanCmd.Flags().StringSliceVar(&scanAddresses, "address", nil, "Match devices with this address")
	scanCmd.Flags().StringSliceVar(&scanCompanyIDs, "company-id", nil, "Match and forward manufacturer data of this company id (decimal or 0x hex)")
	scanCmd.Flags().BoolVar(&scanLive, "live", false, "Print every discovery as it arrives")
}

// parseCompanyIDs parses decimal or 0x-prefixed 16-bit company identifiers
func parseCompanyIDs(values []string) ([]uint16, error) {
	ids := make([]uint16, 0, len(values))
	for _, v := range values {
		id, err := strconv.ParseUint(strings.TrimSpace(v), 0, 16)
		if err != nil {
			return nil, fmt.Errorf("invalid company id %q: must be a 16-bit number", v)
		}
		ids = append(ids, uint16(id))
	}
	return ids, nil
}

// buildFilters turns the flag values into OR-ed scan filters
func buildFilters(names, services, addresses []string) ([]scan.Filter, error) {
	var filters []scan.Filter
	for _, n := range names {
		filters = append(filters, scan.Filter{Name: n})
	}
	for _, a := range addresses {
		filters = append(filters, scan.Filter{Address: a})
	}
	if len(services) > 0 {
		ids, err := device.ParseUUIDs(services...)
		if err != nil {
			return nil, fmt.Errorf("invalid service UUID: %w", err)
		}
		for _, id := range ids {
			filters = append(filters, scan.ServiceFilter(id))
		}
	}
	return filters, nil
}

func runScan(cmd *cobra.Command, _ []string) error {
	filters, err := buildFilters(scanNames, scanServices, scanAddresses)
	if err != nil {
		return err
	}
	companyIDs, err := parseCompanyIDs(scanCompanyIDs)
	if err != nil {
		return err
	}

	s, err := newSession(cmd)
	if err != nil {
		return err
	}
	defer s.close()

	format := scanFormat
	if format == "" {
		format = s.cfg.OutputFormat
	}
	if format != "table" && format != "json" {
		return fmt.Errorf("invalid format '%s': must be one of [table json]", format)
	}
	duration := scanDuration
	if duration == 0 {
		duration = s.cfg.ScanTimeout
	}

	ctx, cancel := commandContext(cmd)
	defer cancel()
	scanCtx, scanCancel := context.WithTimeout(ctx, duration)
	defer scanCancel()

	if err := s.client.StartScan(filters, companyIDs); err != nil {
		return err
	}

	progress := NewProgressPrinter(cmd.ErrOrStderr(), "Scanning for BLE devices", "Scanning", duration)
	progress.Start()

	out := cmd.OutOrStdout()
	discoveries := s.client.Discoveries()
	seen := 0
loop:
	for {
		select {
		case d, ok := <-discoveries:
			if !ok {
				break loop
			}
			seen++
			if scanLive {
				progress.Stop()
				printDiscovery(out, d)
			}
		case <-scanCtx.Done():
			break loop
		}
	}
	progress.Stop()

	// snapshot before stopping: ending the session forgets every device
	devices := s.client.Devices()
	if err := s.client.StopScan(); err != nil {
		return err
	}
	s.logger.WithField("discoveries", seen).Debug("Scan finished")

	if ctx.Err() != nil && !errors.Is(ctx.Err(), context.DeadlineExceeded) {
		// interrupted: still print what was found
		fmt.Fprintln(cmd.ErrOrStderr(), "\nScan interrupted")
	}

	sort.Slice(devices, func(i, j int) bool {
		return devices[i].RSSI() > devices[j].RSSI()
	})

	if format == "json" {
		return displayDevicesJSON(out, devices)
	}
	return displayDevicesTable(out, devices)
}

// printDiscovery writes one live discovery line
func printDiscovery(w io.Writer, d device.Discovery) {
	name := d.Name
	if name == "" {
		name = "(unnamed)"
	}
	fmt.Fprintf(w, "%s %s %s %s\n",
		color.New(color.Faint).Sprint(time.Now().Format("15:04:05.000")),
		color.New(color.FgCyan).Sprint(name),
		rssiColor(d.RSSI).Sprintf("%d dBm", d.RSSI),
		formatManufacturerData(d.ManufacturerData))
}

func rssiColor(rssi int) *color.Color {
	switch {
	case rssi >= -60:
		return color.New(color.FgGreen)
	case rssi >= -80:
		return color.New(color.FgYellow)
	default:
		return color.New(color.FgRed)
	}
}

// formatManufacturerData renders "0x004c:0215" pairs ordered by company id
func formatManufacturerData(md map[uint16][]byte) string {
	ids := make([]int, 0, len(md))
	for id := range md {
		ids = append(ids, int(id))
	}
	sort.Ints(ids)

	parts := make([]string, 0, len(ids))
	for _, id := range ids {
		parts = append(parts, fmt.Sprintf("0x%04x:%x", id, md[uint16(id)]))
	}
	return strings.Join(parts, ",")
}

func displayDevicesTable(out io.Writer, devices []*device.Peripheral) error {
	if len(devices) == 0 {
		fmt.Fprintln(out, "No devices discovered")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tADDRESS\tRSSI\tTX POWER\tMANUFACTURER DATA\tLAST SEEN")
	fmt.Fprintln(w, strings.Repeat("-", 96))

	for _, p := range devices {
		name := p.Name()
		if len(name) > 20 {
			name = name[:17] + "..."
		}
		md := formatManufacturerData(p.ManufacturerData())
		if len(md) > 30 {
			md = md[:27] + "..."
		}
		lastSeen := time.Since(p.LastSeen()).Truncate(time.Second)

		fmt.Fprintf(w, "%s\t%s\t%d dBm\t%d dBm\t%s\t%s ago\n",
			name, p.Address(), p.RSSI(), p.TxPower(), md, lastSeen)
	}
	return w.Flush()
}

// deviceJSON is the JSON form of a discovered device
type deviceJSON struct {
	Identifier       string            `json:"identifier"`
	Address          string            `json:"address"`
	Name             string            `json:"name,omitempty"`
	RSSI             int               `json:"rssi"`
	TxPower          int               `json:"tx_power"`
	ManufacturerData map[string]string `json:"manufacturer_data,omitempty"`
	LastSeen         time.Time         `json:"last_seen"`
}

func displayDevicesJSON(out io.Writer, devices []*device.Peripheral) error {
	list := make([]deviceJSON, 0, len(devices))
	for _, p := range devices {
		d := deviceJSON{
			Identifier: p.Identifier(),
			Address:    p.Address().String(),
			Name:       p.Name(),
			RSSI:       p.RSSI(),
			TxPower:    p.TxPower(),
			LastSeen:   p.LastSeen(),
		}
		if md := p.ManufacturerData(); len(md) > 0 {
			d.ManufacturerData = make(map[string]string, len(md))
			for id, data := range md {
				d.ManufacturerData[fmt.Sprintf("0x%04x", id)] = fmt.Sprintf("%x", data)
			}
		}
		list = append(list, d)
	}

	encoder := json.NewEncoder(out)
	encoder.SetIndent("", "  ")
	return encoder.Encode(list)
}
