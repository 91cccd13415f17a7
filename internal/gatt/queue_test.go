package gatt

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/blecentral/internal/device"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

type QueueTestSuite struct {
	suite.Suite

	submitted chan device.Request
	queue     *Queue
}

func (s *QueueTestSuite) SetupTest() {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)

	s.submitted = make(chan device.Request, 16)
	s.queue = NewQueue(func(req device.Request) error {
		s.submitted <- req
		return nil
	}, time.Second, logger)
}

func (s *QueueTestSuite) nextSubmitted() device.Request {
	select {
	case req := <-s.submitted:
		return req
	case <-time.After(time.Second):
		s.FailNow("no request reached the radio")
		return device.Request{}
	}
}

func (s *QueueTestSuite) readAsync(ctx context.Context, value byte) <-chan error {
	errc := make(chan error, 1)
	go func() {
		_, err := s.queue.Do(ctx, device.OpReadCharacteristic, func() (device.Request, error) {
			return device.Request{Value: []byte{value}}, nil
		})
		errc <- err
	}()
	return errc
}

func (s *QueueTestSuite) TestCompletionResolvesTransaction() {
	type outcome struct {
		res Result
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := s.queue.Do(context.Background(), device.OpReadCharacteristic, func() (device.Request, error) {
			return device.Request{Characteristic: char1}, nil
		})
		done <- outcome{res, err}
	}()

	req := s.nextSubmitted()
	s.Equal(device.OpReadCharacteristic, req.Op)
	s.NotZero(req.Token)

	s.True(s.queue.Complete(device.Event{Kind: device.EventCompleted, Token: req.Token, Value: []byte{0x2a}}))

	out := <-done
	s.Require().NoError(out.err)
	s.Equal([]byte{0x2a}, out.res.Value)
	s.Nil(s.queue.Pending())
}

func (s *QueueTestSuite) TestTransactionsRunOneAtATimeInArrivalOrder() {
	// GOAL: Verify strict serialization and FIFO admission
	//
	// TEST SCENARIO: First transaction pending → two more queued → complete one by one → radio sees them in order, never two at once

	first := s.readAsync(context.Background(), 1)
	req1 := s.nextSubmitted()

	second := s.readAsync(context.Background(), 2)
	time.Sleep(20 * time.Millisecond)
	third := s.readAsync(context.Background(), 3)

	select {
	case req := <-s.submitted:
		s.FailNow("second transaction reached the radio while one was pending", "value %v", req.Value)
	case <-time.After(50 * time.Millisecond):
	}

	s.queue.Complete(device.Event{Token: req1.Token})
	s.Require().NoError(<-first)

	req2 := s.nextSubmitted()
	s.Equal([]byte{2}, req2.Value, "MUST admit waiters in arrival order")
	s.queue.Complete(device.Event{Token: req2.Token})
	s.Require().NoError(<-second)

	req3 := s.nextSubmitted()
	s.Equal([]byte{3}, req3.Value)
	s.queue.Complete(device.Event{Token: req3.Token})
	s.Require().NoError(<-third)
}

func (s *QueueTestSuite) TestStaleCompletionDiscarded() {
	errc := s.readAsync(context.Background(), 1)
	req := s.nextSubmitted()

	s.False(s.queue.Complete(device.Event{Token: req.Token + 100, Value: []byte{0xde}}), "stale token MUST be ignored")
	s.NotNil(s.queue.Pending())

	s.True(s.queue.Complete(device.Event{Token: req.Token}))
	s.NoError(<-errc)

	s.False(s.queue.Complete(device.Event{Token: req.Token}), "second completion MUST be ignored")
}

func (s *QueueTestSuite) TestPrepareFailureDoesNotBlockQueue() {
	_, err := s.queue.Do(context.Background(), device.OpReadCharacteristic, func() (device.Request, error) {
		return device.Request{}, &device.NotFoundError{Resource: "service", UUIDs: []string{"s1"}}
	})
	s.True(errors.Is(err, device.ErrServiceNotFound))

	errc := s.readAsync(context.Background(), 7)
	req := s.nextSubmitted()
	s.queue.Complete(device.Event{Token: req.Token})
	s.NoError(<-errc, "queue MUST accept the next transaction")
}

func (s *QueueTestSuite) TestFailureMapsToOperationKind() {
	tests := []struct {
		op   device.OpKind
		want error
	}{
		{device.OpDiscover, device.ErrDiscoveryFailed},
		{device.OpReadCharacteristic, device.ErrReadFailed},
		{device.OpReadDescriptor, device.ErrReadFailed},
		{device.OpWriteCharacteristic, device.ErrWriteFailed},
		{device.OpWriteDescriptor, device.ErrWriteFailed},
		{device.OpSetNotify, device.ErrWriteFailed},
	}

	for _, tt := range tests {
		errc := make(chan error, 1)
		go func() {
			_, err := s.queue.Do(context.Background(), tt.op, func() (device.Request, error) { return device.Request{}, nil })
			errc <- err
		}()
		req := s.nextSubmitted()
		s.queue.Complete(device.Event{Token: req.Token, Err: errors.New("gatt status 0x85")})

		err := <-errc
		s.True(errors.Is(err, tt.want), "%s MUST fail with %v, got %v", tt.op, tt.want, err)
	}
}

func (s *QueueTestSuite) TestFailPendingResolvesWithGivenError() {
	errc := s.readAsync(context.Background(), 1)
	req := s.nextSubmitted()

	s.True(s.queue.FailPending(device.NewError(device.NotConnected, "link lost", nil)))
	err := <-errc
	s.True(errors.Is(err, device.ErrNotConnected), "got %v", err)

	s.False(s.queue.Complete(device.Event{Token: req.Token}), "late completion MUST be discarded")
	s.False(s.queue.FailPending(errors.New("nothing pending")))
}

func (s *QueueTestSuite) TestFailPendingDuringPrepareSkipsSubmission() {
	// GOAL: Verify a teardown racing admission resolves the transaction instead of leaving it hanging
	//
	// TEST SCENARIO: prepare passes its checks → link teardown fails the pending transaction → Do resolves NotConnected, nothing reaches the radio

	q := NewQueue(func(req device.Request) error {
		s.submitted <- req
		return nil
	}, 0, nil)

	_, err := q.Do(context.Background(), device.OpReadCharacteristic, func() (device.Request, error) {
		s.Require().NotNil(q.Pending(), "transaction MUST be pending while prepare runs")
		s.True(q.FailPending(device.NewError(device.NotConnected, "link lost", nil)))
		return device.Request{}, nil
	})
	s.True(errors.Is(err, device.ErrNotConnected), "got %v", err)
	s.Empty(s.submitted, "resolved transaction MUST NOT reach the radio")
	s.Nil(q.Pending())

	errc := make(chan error, 1)
	go func() {
		_, err := q.Do(context.Background(), device.OpWriteCharacteristic, func() (device.Request, error) { return device.Request{}, nil })
		errc <- err
	}()
	req := s.nextSubmitted()
	s.True(q.Complete(device.Event{Token: req.Token}))
	s.NoError(<-errc, "queue MUST accept the next transaction")
}

func (s *QueueTestSuite) TestContextCancellationReleasesQueue() {
	ctx, cancel := context.WithCancel(context.Background())
	errc := s.readAsync(ctx, 1)
	s.nextSubmitted()

	cancel()
	err := <-errc
	s.True(errors.Is(err, context.Canceled))
	s.True(errors.Is(err, device.ErrReadFailed))

	next := s.readAsync(context.Background(), 2)
	req := s.nextSubmitted()
	s.queue.Complete(device.Event{Token: req.Token})
	s.NoError(<-next)
}

func (s *QueueTestSuite) TestSubmitErrorResolvesImmediately() {
	q := NewQueue(func(device.Request) error { return errors.New("radio busy") }, time.Second, nil)

	_, err := q.Do(context.Background(), device.OpWriteCharacteristic, func() (device.Request, error) {
		return device.Request{}, nil
	})
	s.True(errors.Is(err, device.ErrWriteFailed))
	s.Nil(q.Pending())
}

func TestQueueTestSuite(t *testing.T) {
	suite.Run(t, new(QueueTestSuite))
}

func TestQueueTimeout(t *testing.T) {
	var mu sync.Mutex
	var submitted []device.Request
	q := NewQueue(func(req device.Request) error {
		mu.Lock()
		defer mu.Unlock()
		submitted = append(submitted, req)
		return nil
	}, 30*time.Millisecond, nil)

	start := time.Now()
	_, err := q.Do(context.Background(), device.OpReadDescriptor, func() (device.Request, error) {
		return device.Request{}, nil
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, device.ErrTimeout), "got %v", err)
	assert.True(t, errors.Is(err, device.ErrReadFailed), "got %v", err)
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)

	mu.Lock()
	token := submitted[0].Token
	mu.Unlock()
	assert.False(t, q.Complete(device.Event{Token: token}), "completion after timeout MUST be discarded")

	_, err = q.Do(context.Background(), device.OpReadDescriptor, func() (device.Request, error) {
		return device.Request{}, errors.New("prepare ran")
	})
	assert.EqualError(t, err, "prepare ran", "queue MUST be released after timeout")
}
