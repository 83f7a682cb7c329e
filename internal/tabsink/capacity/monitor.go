package capacity

import (
	"time"

	"k8s.io/utils/clock"

	"github.com/G-Research/tabsink/internal/common/sinkcontext"
)

// CeilingObserver is notified of every ceiling the Monitor reads.
type CeilingObserver interface {
	RecordCeiling(ceiling int)
}

// Monitor polls an Oracle on a fixed interval so that topology changes in the sink are visible (in logs and
// metrics) even while no rows are being submitted.
type Monitor struct {
	oracle   Oracle
	interval time.Duration
	observer CeilingObserver
	clock    clock.WithTicker
}

func NewMonitor(oracle Oracle, interval time.Duration, observer CeilingObserver) *Monitor {
	return &Monitor{
		oracle:   oracle,
		interval: interval,
		observer: observer,
		clock:    clock.RealClock{},
	}
}

// Run polls until ctx is done.  It always returns nil so it can be run inside an error group.
func (m *Monitor) Run(ctx *sinkcontext.Context) error {
	last := m.poll(ctx, -1)
	if m.interval <= 0 {
		<-ctx.Done()
		return nil
	}
	ticker := m.clock.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C():
			last = m.poll(ctx, last)
		}
	}
}

func (m *Monitor) poll(ctx *sinkcontext.Context, last int) int {
	ceiling := m.oracle.Ceiling()
	if m.observer != nil {
		m.observer.RecordCeiling(ceiling)
	}
	if ceiling != last {
		if last < 0 {
			ctx.Log.Infof("Write concurrency ceiling is %d", ceiling)
		} else {
			ctx.Log.Infof("Write concurrency ceiling changed from %d to %d", last, ceiling)
		}
	}
	return ceiling
}
