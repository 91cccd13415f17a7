package groutine

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGoPropagatesName(t *testing.T) {
	names := make(chan string, 1)
	Go(nil, "ble-worker", func(ctx context.Context) {
		names <- GetName(ctx)
	})

	assert.Equal(t, "ble-worker", <-names)
}

func TestGetNameWithoutLabel(t *testing.T) {
	assert.Equal(t, "", GetName(context.Background()))
	assert.Equal(t, "", GetName(nil)) //nolint:staticcheck // nil context is handled explicitly
}

func TestGroupWaitsForAll(t *testing.T) {
	var g Group
	var done atomic.Int32

	for i := 0; i < 5; i++ {
		g.Go(context.Background(), "ble-worker", func(ctx context.Context) {
			done.Add(1)
		})
	}
	g.Wait()

	assert.Equal(t, int32(5), done.Load())
}
