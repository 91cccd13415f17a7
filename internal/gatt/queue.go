package gatt

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/blecentral/internal/device"
	"golang.org/x/sync/semaphore"
)

// Result is what a completed transaction resolves with
type Result struct {
	Value    []byte
	Services []device.ServiceDef
	Err      error
}

// Transaction is the single in-flight GATT operation
type Transaction struct {
	Token uint64
	Op    device.OpKind
	done  chan Result
}

// Queue serializes GATT operations: at most one transaction is in flight and
// waiters are admitted in arrival order. Every transaction resolves exactly once,
// by completion, failure, cancellation or timeout.
type Queue struct {
	submit  func(device.Request) error
	sem     *semaphore.Weighted
	timeout time.Duration
	logger  *logrus.Logger

	tokens atomic.Uint64

	mu      sync.Mutex
	pending *Transaction
}

// NewQueue creates a queue handing prepared requests to submit.
// A zero timeout waits for the completion indefinitely.
func NewQueue(submit func(device.Request) error, timeout time.Duration, logger *logrus.Logger) *Queue {
	if logger == nil {
		logger = logrus.New()
	}
	return &Queue{
		submit:  submit,
		sem:     semaphore.NewWeighted(1),
		timeout: timeout,
		logger:  logger,
	}
}

// Do waits for the queue, then calls prepare to validate and build the request
// against the state at that moment. A prepare error resolves the call without
// anything reaching the radio.
//
// The transaction is pending while prepare runs, so a FailPending issued after
// prepare has checked the link still resolves it.
func (q *Queue) Do(ctx context.Context, op device.OpKind, prepare func() (device.Request, error)) (Result, error) {
	if err := q.sem.Acquire(ctx, 1); err != nil {
		return Result{}, device.NewError(op.FailureKind(), "cancelled while queued", err)
	}
	defer q.sem.Release(1)

	tx := &Transaction{
		Token: q.tokens.Add(1),
		Op:    op,
		done:  make(chan Result, 1),
	}

	q.mu.Lock()
	q.pending = tx
	q.mu.Unlock()

	req, err := prepare()
	if err != nil {
		q.resolve(tx, Result{Err: err})
		res := <-tx.done
		return res, res.Err
	}
	req.Token = tx.Token
	req.Op = op

	logger := q.logger.WithFields(logrus.Fields{
		"op":    op.String(),
		"token": tx.Token,
	})

	q.mu.Lock()
	live := q.pending == tx
	q.mu.Unlock()
	if !live {
		logger.Debug("GATT transaction failed before submission")
		res := <-tx.done
		return res, res.Err
	}
	logger.Debug("Submitting GATT transaction")

	if err := q.submit(req); err != nil {
		q.resolve(tx, Result{Err: device.Wrap(op.FailureKind(), err)})
		res := <-tx.done
		return res, res.Err
	}

	var timeoutC <-chan time.Time
	if q.timeout > 0 {
		timer := time.NewTimer(q.timeout)
		defer timer.Stop()
		timeoutC = timer.C
	}

	select {
	case res := <-tx.done:
		return res, res.Err
	case <-ctx.Done():
		q.resolve(tx, Result{Err: device.NewError(op.FailureKind(), "cancelled", ctx.Err())})
	case <-timeoutC:
		if q.resolve(tx, Result{Err: device.NewError(op.FailureKind(), fmt.Sprintf("no completion within %s", q.timeout), device.ErrTimeout)}) {
			logger.Warn("GATT transaction timed out")
		}
	}

	// Whichever resolution won is already in the channel.
	res := <-tx.done
	return res, res.Err
}

// Complete resolves the pending transaction with a radio completion.
// Completions whose token does not match the pending transaction are discarded.
func (q *Queue) Complete(ev device.Event) bool {
	q.mu.Lock()
	tx := q.pending
	q.mu.Unlock()

	if tx == nil || tx.Token != ev.Token {
		q.logger.WithFields(logrus.Fields{
			"token": ev.Token,
		}).Debug("Discarding stale GATT completion")
		return false
	}

	return q.resolve(tx, Result{
		Value:    ev.Value,
		Services: ev.Services,
		Err:      device.Wrap(tx.Op.FailureKind(), ev.Err),
	})
}

// FailPending resolves the in-flight transaction, if any, with err
func (q *Queue) FailPending(err error) bool {
	q.mu.Lock()
	tx := q.pending
	q.mu.Unlock()

	if tx == nil {
		return false
	}
	return q.resolve(tx, Result{Err: err})
}

// Pending returns the in-flight transaction or nil
func (q *Queue) Pending() *Transaction {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.pending
}

// resolve delivers res if tx is still the pending transaction.
func (q *Queue) resolve(tx *Transaction, res Result) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.pending != tx {
		return false
	}
	q.pending = nil
	tx.done <- res
	return true
}
