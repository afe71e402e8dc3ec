package bus

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Poller periodically invokes a resync callback. Some daemon builds do
// not emit a signal for incoming peer pair requests, so signal-driven
// consumers also poll as a fallback.
type Poller struct {
	mu     sync.RWMutex
	logger *slog.Logger

	// Polling interval
	pollInterval time.Duration

	// Callback for each tick
	onPollCallback func()

	// Control channels
	stopCh chan struct{}
	doneCh chan struct{}

	running bool
}

// NewPoller creates a poller with the given interval.
func NewPoller(interval time.Duration, logger *slog.Logger) *Poller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Poller{
		logger:       logger,
		pollInterval: interval,
		stopCh:       make(chan struct{}),
		doneCh:       make(chan struct{}),
	}
}

// SetPollInterval sets the polling interval.
func (p *Poller) SetPollInterval(interval time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pollInterval = interval
}

// SetPollCallback sets the callback to invoke on each tick.
func (p *Poller) SetPollCallback(callback func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onPollCallback = callback
}

// Start begins polling.
func (p *Poller) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = true

	p.stopCh = make(chan struct{})
	p.doneCh = make(chan struct{})
	p.mu.Unlock()

	go p.pollLoop(ctx)

	p.logger.Debug("daemon poller started", "interval", p.pollInterval)
	return nil
}

// Stop stops polling.
func (p *Poller) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	close(p.stopCh)
	p.mu.Unlock()

	// Wait for goroutine to finish
	<-p.doneCh
	p.logger.Debug("daemon poller stopped")
}

// pollLoop is the main polling loop.
func (p *Poller) pollLoop(ctx context.Context) {
	defer close(p.doneCh)

	p.mu.RLock()
	interval := p.pollInterval
	p.mu.RUnlock()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.mu.RLock()
			callback := p.onPollCallback
			p.mu.RUnlock()

			if callback != nil {
				callback()
			}
		}
	}
}
