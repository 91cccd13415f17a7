package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/srg/blecentral/internal/central"
)

// subscribeCmd represents the subscribe command
var subscribeCmd = &cobra.Command{
	Use:   "subscribe <device-address> <service-uuid> <characteristic-uuid>",
	Short: "Print characteristic notifications",
	Long: `Connects to a BLE device, enables notifications for one characteristic
and prints every value until interrupted, --count values arrived, or --duration passed.

Examples:
  # Heart Rate Measurement until Ctrl+C
  blecentral subscribe AA:BB:CC:DD:EE:FF 180d 2a37

  # First 10 values only
  blecentral subscribe AA:BB:CC:DD:EE:FF 180d 2a37 --count 10`,
	Args: cobra.ExactArgs(3),
	RunE: runSubscribe,
}

var (
	subscribeCount    int
	subscribeDuration time.Duration
)

func init() {
	subscribeCmd.Flags().IntVarP(&subscribeCount, "count", "n", 0, "Stop after this many values (0 for unlimited)")
	subscribeCmd.Flags().DurationVarP(&subscribeDuration, "duration", "d", 0, "Stop after this long (0 for unlimited)")
}

func runSubscribe(cmd *cobra.Command, args []string) error {
	t, err := parseTarget(args, "")
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
	if subscribeDuration > 0 {
		ctx, cancel = context.WithTimeout(ctx, subscribeDuration)
		defer cancel()
	}

	if _, err := s.connect(ctx, t.address); err != nil {
		return err
	}

	lost := make(chan struct{})
	s.client.OnStateChange(func(from, to central.State) {
		if from == central.Connected && to == central.Disconnected {
			close(lost)
		}
	})

	// callbacks run on the registry dispatcher, one at a time
	values := make(chan []byte, 64)
	err = s.client.SetNotify(ctx, t.service, t.characteristic, true, func(v []byte) {
		select {
		case values <- v:
		default:
			s.logger.Warn("Output is falling behind, dropping notification")
		}
	})
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	stamp := color.New(color.Faint)
	received := 0
	for subscribeCount == 0 || received < subscribeCount {
		select {
		case v := <-values:
			received++
			fmt.Fprintf(out, "%s %s: %x\n", stamp.Sprint(time.Now().Format("15:04:05.000")), t, v)
		case <-lost:
			return ErrConnectionLost
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return nil
			}
			return ctx.Err()
		}
	}

	disableCtx, disableCancel := context.WithTimeout(context.Background(), s.cfg.TransactionTimeout+time.Second)
	defer disableCancel()
	return s.client.SetNotify(disableCtx, t.service, t.characteristic, false, nil)
}
