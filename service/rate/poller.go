package rate

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Poller refreshes the exchange rate on a fixed interval and serves the
// cached observation to callers that cannot afford a live fetch, such as
// quote previews on the HTTP API. Workflow activities still call the
// Provider directly so each purchase uses a fresh rate.
type Poller struct {
	provider *Provider
	interval time.Duration
	logger   *slog.Logger

	mu     sync.RWMutex
	latest Rate

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// NewPoller creates a poller around the given provider.
func NewPoller(provider *Provider, interval time.Duration, logger *slog.Logger) *Poller {
	return &Poller{
		provider: provider,
		interval: interval,
		logger:   logger,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start performs an initial synchronous fetch and then refreshes in the
// background until Stop is called or ctx is cancelled.
func (p *Poller) Start(ctx context.Context) {
	p.refresh(ctx)

	go func() {
		defer close(p.done)
		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				p.refresh(ctx)
			case <-p.stop:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop halts background refreshes and waits for the loop to exit.
func (p *Poller) Stop() {
	p.stopOnce.Do(func() { close(p.stop) })
	<-p.done
}

// Latest returns the most recent observation. Valid after Start returns.
func (p *Poller) Latest() Rate {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.latest
}

func (p *Poller) refresh(ctx context.Context) {
	r := p.provider.Current(ctx)
	p.mu.Lock()
	p.latest = r
	p.mu.Unlock()
	p.logger.Debug("refreshed exchange rate",
		"source", r.Source,
		"raw", r.Raw.String(),
		"adjusted", r.Adjusted.String(),
		"fallback", r.Fallback)
}
