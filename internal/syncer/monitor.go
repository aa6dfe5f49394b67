package syncer

import (
	"context"
	"time"

	"github.com/prudhvinik1/flashsync/internal/logging"
)

type Prober interface {
	Health(ctx context.Context) error
}

// Monitor polls the service health endpoint and turns the answers into
// online/offline transitions on the coordinator.
type Monitor struct {
	prober   Prober
	coord    *Coordinator
	interval time.Duration
	timeout  time.Duration
	log      logging.Logger
}

func NewMonitor(prober Prober, coord *Coordinator, interval time.Duration, log logging.Logger) *Monitor {
	if log == nil {
		log = logging.Nop()
	}
	timeout := interval / 2
	if timeout > 5*time.Second {
		timeout = 5 * time.Second
	}
	return &Monitor{
		prober:   prober,
		coord:    coord,
		interval: interval,
		timeout:  timeout,
		log:      log.With("component", "monitor"),
	}
}

// Tick probes once and reports whether the service answered.
func (m *Monitor) Tick(ctx context.Context) bool {
	probeCtx, cancel := context.WithTimeout(ctx, m.timeout)
	err := m.prober.Health(probeCtx)
	cancel()

	if err != nil {
		m.log.Debug(ctx, "health probe failed", "error", err)
		m.coord.OnOffline(ctx)
		return false
	}
	m.coord.OnOnline(ctx)
	return true
}

// Run probes immediately and then on every interval until ctx is done.
func (m *Monitor) Run(ctx context.Context) error {
	m.Tick(ctx)
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			m.Tick(ctx)
		}
	}
}
