package main

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

// readCmd represents the read command
var readCmd = &cobra.Command{
	Use:   "read <device-address> <service-uuid> <characteristic-uuid>",
	Short: "Read a characteristic or descriptor value",
	Long: `Connects to a BLE device and reads one characteristic, or one of its
descriptors with --descriptor. The value is printed as hex unless --raw is set.

Examples:
  # Read Battery Level
  blecentral read AA:BB:CC:DD:EE:FF 180f 2a19

  # Read the Client Characteristic Configuration descriptor
  blecentral read AA:BB:CC:DD:EE:FF 180d 2a37 --descriptor 2902`,
	Args: cobra.ExactArgs(3),
	RunE: runRead,
}

var (
	readDescriptor string
	readRaw        bool
)

func init() {
	readCmd.Flags().StringVar(&readDescriptor, "descriptor", "", "Descriptor UUID (reads the descriptor instead of the value)")
	readCmd.Flags().BoolVar(&readRaw, "raw", false, "Write the raw bytes instead of hex")
}

func runRead(cmd *cobra.Command, args []string) error {
	t, err := parseTarget(args, readDescriptor)
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

	var value []byte
	if t.descriptor != uuid.Nil {
		value, err = s.client.ReadDescriptor(ctx, t.service, t.characteristic, t.descriptor)
	} else {
		value, err = s.client.ReadCharacteristic(ctx, t.service, t.characteristic)
	}
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if readRaw {
		_, err = out.Write(value)
		return err
	}
	_, err = fmt.Fprintf(out, "%x\n", value)
	return err
}
