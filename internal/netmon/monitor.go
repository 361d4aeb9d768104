// Package netmon tracks connectivity and link quality and tells subscribers
// when the link comes back. It never retries anything itself.
package netmon

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"
)

type Quality string

const (
	QualityExcellent Quality = "excellent"
	QualityGood      Quality = "good"
	QualityFair      Quality = "fair"
	QualityPoor      Quality = "poor"
	QualityUnusable  Quality = "unusable"
)

var qualityRank = map[Quality]int{
	QualityExcellent: 4,
	QualityGood:      3,
	QualityFair:      2,
	QualityPoor:      1,
	QualityUnusable:  0,
}

// Metrics are optional link measurements; zero values mean unknown.
type Metrics struct {
	EffectiveType string  `json:"effective_type,omitempty"`
	DownlinkMbps  float64 `json:"downlink_mbps,omitempty"`
	RTTms         float64 `json:"rtt_ms,omitempty"`
}

func (m Metrics) empty() bool {
	return m.EffectiveType == "" && m.DownlinkMbps <= 0 && m.RTTms <= 0
}

// Classify derives the link quality. The worst known metric wins; with no
// metrics an online link is fair.
func Classify(online bool, m Metrics) Quality {
	if !online {
		return QualityUnusable
	}
	if m.empty() {
		return QualityFair
	}
	q := QualityExcellent
	if m.EffectiveType != "" {
		q = worse(q, byEffectiveType(m.EffectiveType))
	}
	if m.DownlinkMbps > 0 {
		q = worse(q, byDownlink(m.DownlinkMbps))
	}
	if m.RTTms > 0 {
		q = worse(q, byRTT(m.RTTms))
	}
	return q
}

func byEffectiveType(t string) Quality {
	switch strings.ToLower(t) {
	case "4g", "5g", "wifi", "ethernet":
		return QualityExcellent
	case "3g":
		return QualityFair
	case "2g", "slow-2g":
		return QualityPoor
	default:
		return QualityFair
	}
}

func byDownlink(mbps float64) Quality {
	switch {
	case mbps >= 10:
		return QualityExcellent
	case mbps >= 2:
		return QualityGood
	case mbps >= 0.5:
		return QualityFair
	default:
		return QualityPoor
	}
}

func byRTT(ms float64) Quality {
	switch {
	case ms < 100:
		return QualityExcellent
	case ms < 300:
		return QualityGood
	case ms < 700:
		return QualityFair
	case ms < 2000:
		return QualityPoor
	default:
		return QualityUnusable
	}
}

func worse(a, b Quality) Quality {
	if qualityRank[b] < qualityRank[a] {
		return b
	}
	return a
}

type EventType string

const (
	EventChange     EventType = "change"
	EventReconnect  EventType = "reconnect"
	EventDisconnect EventType = "disconnect"
)

type Event struct {
	Type    EventType `json:"type"`
	Online  bool      `json:"online"`
	Quality Quality   `json:"quality"`
	Metrics Metrics   `json:"metrics"`
	At      time.Time `json:"at"`
}

// Status is the current view of the link.
type Status struct {
	Online    bool      `json:"online"`
	Quality   Quality   `json:"quality"`
	Metrics   Metrics   `json:"metrics"`
	UpdatedAt time.Time `json:"updated_at"`
}

type Monitor struct {
	mu     sync.Mutex
	status Status
	subs   map[int]chan Event
	nextID int
	Now    func() time.Time
	Logger *slog.Logger
}

func New(online bool, logger *slog.Logger) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Monitor{
		subs:   make(map[int]chan Event),
		Now:    time.Now,
		Logger: logger,
	}
	m.status = Status{Online: online, Quality: Classify(online, Metrics{}), UpdatedAt: m.Now().UTC()}
	return m
}

func (m *Monitor) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

func (m *Monitor) Online() bool {
	return m.Status().Online
}

// Observe records a connectivity sample and notifies subscribers when the
// online flag or the quality changed.
func (m *Monitor) Observe(online bool, metrics Metrics) {
	m.mu.Lock()
	prev := m.status
	next := Status{Online: online, Quality: Classify(online, metrics), Metrics: metrics, UpdatedAt: m.Now().UTC()}
	m.status = next
	var evt *Event
	switch {
	case !prev.Online && online:
		evt = &Event{Type: EventReconnect}
	case prev.Online && !online:
		evt = &Event{Type: EventDisconnect}
	case prev.Quality != next.Quality:
		evt = &Event{Type: EventChange}
	}
	if evt == nil {
		m.mu.Unlock()
		return
	}
	evt.Online, evt.Quality, evt.Metrics, evt.At = next.Online, next.Quality, metrics, next.UpdatedAt
	// sends happen under mu so a concurrent cancel cannot close a channel mid-send
	dropped := 0
	for _, ch := range m.subs {
		select {
		case ch <- *evt:
		default:
			dropped++
		}
	}
	m.mu.Unlock()

	m.Logger.Info("network status", "event", evt.Type, "online", evt.Online, "quality", evt.Quality)
	if dropped > 0 {
		m.Logger.Warn("network event dropped, subscriber is slow", "event", evt.Type, "subscribers", dropped)
	}
}

// Subscribe returns a buffered event channel and a cancel func that closes it.
func (m *Monitor) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	ch := make(chan Event, buffer)
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.subs[id] = ch
	m.mu.Unlock()
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.subs, id)
			close(ch)
			m.mu.Unlock()
		})
	}
}

// Watch calls fn for every event until ctx is done.
func (m *Monitor) Watch(ctx context.Context, fn func(Event)) {
	ch, cancel := m.Subscribe(16)
	defer cancel()
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-ch:
			if !ok {
				return
			}
			fn(evt)
		}
	}
}
