package session

import (
	"context"
	"log/slog"
	"sync"

	"github.com/oklog/ulid/v2"
)

const queueBuffer = 32

// command is one unit of work on a device queue. Commands run in
// enqueue order and at least once; a command the caller waits on
// reports its error through done.
type command struct {
	id   string
	name string
	fn   func(ctx context.Context) error
	done chan error // nil for fire-and-forget commands
}

// commandQueue serializes all commands touching one device onto a
// single goroutine. Separate devices get separate queues and run
// concurrently.
type commandQueue struct {
	deviceID string
	logger   *slog.Logger

	ch     chan *command
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

func newCommandQueue(deviceID string, buffer int, logger *slog.Logger) *commandQueue {
	if buffer <= 0 {
		buffer = queueBuffer
	}
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	q := &commandQueue{
		deviceID: deviceID,
		logger:   logger,
		ch:       make(chan *command, buffer),
		ctx:      ctx,
		cancel:   cancel,
	}
	q.wg.Add(1)
	go q.worker()
	return q
}

func (q *commandQueue) worker() {
	defer q.wg.Done()
	for {
		select {
		case <-q.ctx.Done():
			// Release anything still queued without running it.
			for {
				select {
				case cmd := <-q.ch:
					q.finish(cmd, context.Canceled)
				default:
					return
				}
			}
		case cmd := <-q.ch:
			if cmd == nil {
				continue
			}
			q.apply(cmd)
		}
	}
}

func (q *commandQueue) apply(cmd *command) {
	err := cmd.fn(q.ctx)
	if err != nil && cmd.done == nil {
		// Nobody is waiting on this command, so its error surfaces here.
		q.logger.Warn("device command failed",
			"device", q.deviceID, "command", cmd.name, "id", cmd.id, "error", err)
	}
	q.finish(cmd, err)
}

func (q *commandQueue) finish(cmd *command, err error) {
	if cmd.done != nil {
		select {
		case cmd.done <- err:
		default:
		}
	}
}

// enqueue schedules a fire-and-forget command.
func (q *commandQueue) enqueue(name string, fn func(ctx context.Context) error) error {
	cmd := &command{id: ulid.Make().String(), name: name, fn: fn}
	select {
	case q.ch <- cmd:
		return nil
	case <-q.ctx.Done():
		return ErrManagerClosed
	}
}

// run schedules a command and waits for it. The command itself runs
// under the queue's context; the caller context only bounds the wait.
func (q *commandQueue) run(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	cmd := &command{id: ulid.Make().String(), name: name, fn: fn, done: make(chan error, 1)}
	select {
	case q.ch <- cmd:
	case <-q.ctx.Done():
		return ErrManagerClosed
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-cmd.done:
		return err
	case <-q.ctx.Done():
		return ErrManagerClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// close stops the worker after releasing queued commands.
func (q *commandQueue) close() {
	q.cancel()
	q.wg.Wait()
}
