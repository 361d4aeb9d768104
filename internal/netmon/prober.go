package netmon

import (
	"context"
	"errors"
	"time"

	"fieldline/internal/remote"
)

// Pinger is anything that can check backend reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Prober feeds the monitor from periodic health checks. Any HTTP response,
// even an error status, proves the link is up.
type Prober struct {
	Target   Pinger
	Monitor  *Monitor
	Interval time.Duration
	Timeout  time.Duration
	Now      func() time.Time
}

func (p *Prober) now() time.Time {
	if p.Now != nil {
		return p.Now()
	}
	return time.Now()
}

// ProbeOnce runs a single check and records the outcome.
func (p *Prober) ProbeOnce(ctx context.Context) Status {
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	start := p.now()
	err := p.Target.Ping(cctx)
	rtt := p.now().Sub(start)
	online := err == nil
	if err != nil {
		var rerr *remote.Error
		if errors.As(err, &rerr) && rerr.StatusCode != 0 {
			online = true
		}
	}
	metrics := Metrics{}
	if online {
		metrics.RTTms = float64(rtt.Microseconds()) / 1000
	}
	p.Monitor.Observe(online, metrics)
	return p.Monitor.Status()
}

// Run probes on every tick until ctx is done.
func (p *Prober) Run(ctx context.Context) {
	interval := p.Interval
	if interval <= 0 {
		interval = 15 * time.Second
	}
	p.ProbeOnce(ctx)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.ProbeOnce(ctx)
		}
	}
}
