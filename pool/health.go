package pool

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"
)

func (p *Pool) healthLoop() {
	ticker := time.NewTicker(p.cfg.HealthCheck.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-p.stop:
			return
		case <-ticker.C:
			p.checkHealth()
		}
	}
}

// checkHealth probes every eligible member concurrently and applies the
// results. Members that are still making their first connection are skipped.
func (p *Pool) checkHealth() {
	p.mu.RLock()
	targets := make([]*member, 0, len(p.names))
	for _, name := range p.names {
		m := p.members[name]
		if !m.eligible {
			continue
		}
		m.probes.Add(1)
		targets = append(targets, m)
	}
	p.mu.RUnlock()
	if len(targets) == 0 {
		return
	}

	results := make([]error, len(targets))
	var eg errgroup.Group
	for i, m := range targets {
		eg.Go(func() error {
			defer m.probes.Done()
			ctx, cancel := context.WithTimeout(m.ctx, p.cfg.HealthCheck.Timeout)
			defer cancel()
			results[i] = p.cfg.HealthCheck.Probe(ctx, m.conn)
			return nil
		})
	}
	eg.Wait()

	var evs []Event
	p.mu.Lock()
	for i, m := range targets {
		if p.members[m.name] != m {
			continue
		}
		if ev := p.applyProbeLocked(m, results[i]); ev != nil {
			evs = append(evs, ev)
		}
	}
	p.mu.Unlock()
	p.emit(evs...)
}

func (p *Pool) applyProbeLocked(m *member, err error) Event {
	if err == nil {
		m.failures = 0
		if m.healthy {
			return nil
		}
		m.healthy = true
		p.logger.Infof(m.ctx, "Member %s recovered", m.name)
		return &HealthCheckRecoveredEvent{Name: m.name}
	}

	m.failures++
	p.logger.Debugf(m.ctx, "Health check of %s failed (%d): %v", m.name, m.failures, err)
	if !m.healthy || m.failures < p.cfg.HealthCheck.FailureThreshold {
		return nil
	}
	m.healthy = false
	p.logger.Warnf(m.ctx, "Member %s is unhealthy after %d failure(s): %v", m.name, m.failures, err)
	return &HealthCheckFailedEvent{Name: m.name, Failures: m.failures, Err: err}
}
