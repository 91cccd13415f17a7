package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/srg/blecentral/internal/central"
	"github.com/srg/blecentral/internal/device"
)

// inspectCmd represents the inspect command
var inspectCmd = &cobra.Command{
	Use:   "inspect <device-address>",
	Short: "Inspect services, characteristics, and descriptors of a BLE device",
	Long: `Connects to a BLE device by address and discovers its services,
characteristics, and descriptors. With --read, readable characteristic values are read too.`,
	Args: cobra.ExactArgs(1),
	RunE: runInspect,
}

var (
	inspectJSON bool
	inspectRead bool
)

func init() {
	inspectCmd.Flags().BoolVar(&inspectJSON, "json", false, "Output as JSON")
	inspectCmd.Flags().BoolVar(&inspectRead, "read", false, "Read the value of every readable characteristic")
}

// characteristicReport is one characteristic in the inspect output
type characteristicReport struct {
	UUID        string   `json:"uuid"`
	Properties  string   `json:"properties"`
	Descriptors []string `json:"descriptors,omitempty"`
	Value       string   `json:"value,omitempty"`
	ReadError   string   `json:"read_error,omitempty"`
}

// serviceReport is one service in the inspect output
type serviceReport struct {
	UUID            string                 `json:"uuid"`
	Characteristics []characteristicReport `json:"characteristics"`
}

func runInspect(cmd *cobra.Command, args []string) error {
	address := args[0]

	s, err := newSession(cmd)
	if err != nil {
		return err
	}
	defer s.close()

	ctx, cancel := commandContext(cmd)
	defer cancel()

	progress := NewProgressPrinter(cmd.ErrOrStderr(), fmt.Sprintf("Inspecting device %s", address), "Connecting", 0)
	progress.Start()
	services, err := s.connect(ctx, address)
	if err != nil {
		progress.Stop()
		return err
	}

	progress.SetPhase("Reading")
	report := buildReport(ctx, s.client, services, inspectRead)
	progress.Stop()

	if inspectJSON {
		encoder := json.NewEncoder(cmd.OutOrStdout())
		encoder.SetIndent("", "  ")
		return encoder.Encode(report)
	}
	printReport(cmd.OutOrStdout(), address, report)
	return nil
}

func buildReport(ctx context.Context, client *central.Client, services []device.ServiceDef, read bool) []serviceReport {
	report := make([]serviceReport, 0, len(services))
	for _, svc := range services {
		sr := serviceReport{UUID: device.ShortUUID(svc.UUID), Characteristics: []characteristicReport{}}
		for _, ch := range svc.Characteristics {
			cr := characteristicReport{
				UUID:       device.ShortUUID(ch.UUID),
				Properties: ch.Properties.String(),
			}
			for _, d := range ch.Descriptors {
				cr.Descriptors = append(cr.Descriptors, device.ShortUUID(d))
			}
			if read && ch.Properties.Has(device.PropRead) {
				v, err := client.ReadCharacteristic(ctx, svc.UUID, ch.UUID)
				if err != nil {
					cr.ReadError = err.Error()
				} else {
					cr.Value = fmt.Sprintf("%x", v)
				}
			}
			sr.Characteristics = append(sr.Characteristics, cr)
		}
		report = append(report, sr)
	}
	return report
}

func printReport(w io.Writer, address string, report []serviceReport) {
	title := color.New(color.Bold)
	svcColor := color.New(color.FgCyan)

	title.Fprintf(w, "Device %s: %d service(s)\n", address, len(report))
	for _, svc := range report {
		svcColor.Fprintf(w, "\nService %s\n", svc.UUID)
		for _, ch := range svc.Characteristics {
			fmt.Fprintf(w, "  Characteristic %s [%s]\n", ch.UUID, ch.Properties)
			if len(ch.Descriptors) > 0 {
				fmt.Fprintf(w, "    Descriptors: %s\n", strings.Join(ch.Descriptors, ", "))
			}
			switch {
			case ch.ReadError != "":
				color.New(color.FgRed).Fprintf(w, "    Read error: %s\n", ch.ReadError)
			case ch.Value != "":
				fmt.Fprintf(w, "    Value: %s\n", ch.Value)
			}
		}
	}
}
