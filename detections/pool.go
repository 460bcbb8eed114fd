package detections

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Tutortoise/traffic-signal-service/logger"
)

var (
	ErrPoolClosed     = errors.New("pool is closed")
	ErrAcquireTimeout = errors.New("timeout waiting for available session")
)

type ModelSessionPool struct {
	sessions       chan *ModelSession
	size           int
	factory        SessionFactory
	acquireTimeout time.Duration

	mu         sync.Mutex
	closed     bool
	live       int
	lastErrors []error
	done       chan struct{}

	metrics poolMetrics
}

type poolMetrics struct {
	mu              sync.RWMutex
	inUse           int
	totalAcquired   int64
	totalReleased   int64
	acquireFailures int64
	discarded       int64
	waitTime        time.Duration
}

// PoolStats is a point-in-time snapshot of pool usage.
type PoolStats struct {
	PoolSize        int      `json:"pool_size"`
	SessionsInUse   int      `json:"sessions_in_use"`
	TotalAcquired   int64    `json:"total_acquired"`
	TotalReleased   int64    `json:"total_released"`
	AcquireFailures int64    `json:"acquire_failures"`
	Discarded       int64    `json:"discarded"`
	WaitTimeMs      float64  `json:"wait_time_ms"`
	LastErrors      []string `json:"last_errors,omitempty"`
}

func NewModelSessionPool(factory SessionFactory, size int) (*ModelSessionPool, error) {
	if size <= 0 {
		size = DefaultPoolSize
	}

	pool := &ModelSessionPool{
		sessions:       make(chan *ModelSession, size),
		size:           size,
		factory:        factory,
		acquireTimeout: AcquireTimeout,
		done:           make(chan struct{}),
	}

	for i := 0; i < size; i++ {
		session, err := factory()
		if err != nil {
			pool.Destroy()
			return nil, fmt.Errorf("failed to initialize session %d: %w", i, err)
		}
		pool.sessions <- session
		pool.live++
	}

	go pool.healthCheck(HealthCheckPeriod)

	return pool, nil
}

func (p *ModelSessionPool) Acquire(ctx context.Context) (*ModelSession, error) {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return nil, ErrPoolClosed
	}

	start := time.Now()
	defer func() {
		p.metrics.mu.Lock()
		p.metrics.waitTime += time.Since(start)
		p.metrics.mu.Unlock()
	}()

	timer := time.NewTimer(p.acquireTimeout)
	defer timer.Stop()

	select {
	case session, ok := <-p.sessions:
		if !ok {
			return nil, ErrPoolClosed
		}
		p.metrics.mu.Lock()
		p.metrics.inUse++
		p.metrics.totalAcquired++
		p.metrics.mu.Unlock()
		return session, nil
	case <-timer.C:
		p.metrics.mu.Lock()
		p.metrics.acquireFailures++
		p.metrics.mu.Unlock()
		return nil, ErrAcquireTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (p *ModelSessionPool) Release(session *ModelSession) {
	p.metrics.mu.Lock()
	p.metrics.inUse--
	p.metrics.totalReleased++
	p.metrics.mu.Unlock()

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		session.Destroy()
		p.live--
		return
	}
	p.sessions <- session
}

// Discard destroys a session that failed mid-run. The health check
// replaces it later.
func (p *ModelSessionPool) Discard(session *ModelSession, cause error) {
	p.metrics.mu.Lock()
	p.metrics.inUse--
	p.metrics.discarded++
	p.metrics.mu.Unlock()

	session.Destroy()

	p.mu.Lock()
	p.live--
	p.mu.Unlock()
	p.recordError(cause)
}

func (p *ModelSessionPool) Destroy() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return
	}

	p.closed = true
	close(p.done)
	close(p.sessions)

	for session := range p.sessions {
		session.Destroy()
		p.live--
	}
}

func (p *ModelSessionPool) healthCheck(period time.Duration) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-p.done:
			return
		case <-ticker.C:
			p.replenishSessions()
		}
	}
}

// replenishSessions recreates sessions lost through Discard.
func (p *ModelSessionPool) replenishSessions() {
	p.mu.Lock()
	missing := p.size - p.live
	p.mu.Unlock()

	for i := 0; i < missing; i++ {
		session, err := p.factory()
		if err != nil {
			p.recordError(err)
			logger.WithError(err).Warn("Failed to replenish model session")
			continue
		}

		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			session.Destroy()
			return
		}
		p.sessions <- session
		p.live++
		p.mu.Unlock()
	}
}

func (p *ModelSessionPool) recordError(err error) {
	if err == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	p.lastErrors = append(p.lastErrors, err)
	if len(p.lastErrors) > 10 {
		p.lastErrors = p.lastErrors[1:]
	}
}

func (p *ModelSessionPool) Size() int {
	return p.size
}

func (p *ModelSessionPool) GetMetrics() PoolStats {
	p.metrics.mu.RLock()
	stats := PoolStats{
		PoolSize:        p.size,
		SessionsInUse:   p.metrics.inUse,
		TotalAcquired:   p.metrics.totalAcquired,
		TotalReleased:   p.metrics.totalReleased,
		AcquireFailures: p.metrics.acquireFailures,
		Discarded:       p.metrics.discarded,
		WaitTimeMs:      float64(p.metrics.waitTime) / float64(time.Millisecond),
	}
	p.metrics.mu.RUnlock()

	p.mu.Lock()
	for _, err := range p.lastErrors {
		stats.LastErrors = append(stats.LastErrors, err.Error())
	}
	p.mu.Unlock()
	return stats
}
