package main

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

// writeCmd represents the write command
var writeCmd = &cobra.Command{
	Use:   "write <device-address> <service-uuid> <characteristic-uuid> <value>",
	Short: "Write a characteristic or descriptor value",
	Long: `Connects to a BLE device and writes a value, waiting for the
peripheral's acknowledgement. The value is hex unless --text is set.

Examples:
  # Write two bytes
  blecentral write AA:BB:CC:DD:EE:FF 6e400001-b5a3-f393-e0a9-e50e24dcca9e 6e400002-b5a3-f393-e0a9-e50e24dcca9e 0a0b

  # Write a string
  blecentral write AA:BB:CC:DD:EE:FF 180a 2a00 "My Sensor" --text

  # Enable notifications through the CCCD
  blecentral write AA:BB:CC:DD:EE:FF 180d 2a37 0100 --descriptor 2902`,
	Args: cobra.ExactArgs(4),
	RunE: runWrite,
}

var (
	writeDescriptor string
	writeText       bool
)

func init() {
	writeCmd.Flags().StringVar(&writeDescriptor, "descriptor", "", "Descriptor UUID (writes the descriptor instead of the value)")
	writeCmd.Flags().BoolVar(&writeText, "text", false, "Treat the value as text instead of hex")
}

func runWrite(cmd *cobra.Command, args []string) error {
	t, err := parseTarget(args, writeDescriptor)
	if err != nil {
		return err
	}
	value, err := parseValue(args[3], writeText)
	if err != nil {
		return err
	}

	s, err := newSession(cmd)
	if err != nil {
		return err
	}
	defer s.close()

	ctx, cancel := commandContext(cmd)
	defer cancel()

	if _, err := s.connect(ctx, t.address); err != nil {
		return err
	}

	if t.descriptor != uuid.Nil {
		err = s.client.WriteDescriptor(ctx, t.service, t.characteristic, t.descriptor, value)
	} else {
		err = s.client.WriteCharacteristic(ctx, t.service, t.characteristic, value)
	}
	if err != nil {
		return err
	}

	_, err = fmt.Fprintf(cmd.OutOrStdout(), "Wrote %d byte(s) to %s\n", len(value), t)
	return err
}
