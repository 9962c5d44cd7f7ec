package proxy

import (
	"context"
	"net/http"
	"sync"
	"time"

	"talon-console/core/utils"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/robfig/cron/v3"
)

var upstreamUpGauge = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "talon_upstream_up",
	Help: "Whether the last probe of the framework API succeeded.",
})

// HealthStatus is the last observed state of the upstream framework.
// KeyRejected separates "our credential is wrong" from "upstream is down":
// the upstream answered, but refused the shared API key.
type HealthStatus struct {
	Online      bool      `json:"online"`
	KeyRejected bool      `json:"keyRejected,omitempty"`
	Status      int       `json:"status,omitempty"`
	Kind        ErrorKind `json:"error,omitempty"`
	CheckedAt   time.Time `json:"checkedAt"`
}

// HealthMonitor probes the upstream on a cron schedule and caches the
// result for the health endpoint.
type HealthMonitor struct {
	forwarder *Forwarder
	cron      *cron.Cron
	logger    *utils.Logger

	mu   sync.RWMutex
	last HealthStatus
}

func NewHealthMonitor(f *Forwarder, schedule string, logger *utils.Logger) (*HealthMonitor, error) {
	m := &HealthMonitor{forwarder: f, cron: cron.New(), logger: logger}
	if schedule == "" {
		schedule = "@every 1m"
	}
	if _, err := m.cron.AddFunc(schedule, m.runProbe); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *HealthMonitor) Start() {
	go m.runProbe()
	m.cron.Start()
}

func (m *HealthMonitor) Stop() {
	ctx := m.cron.Stop()
	<-ctx.Done()
}

// Check probes the upstream immediately and updates the cached status.
func (m *HealthMonitor) Check(ctx context.Context) HealthStatus {
	status, err := m.forwarder.Probe(ctx)
	hs := HealthStatus{CheckedAt: time.Now().UTC()}
	if err != nil {
		hs.Kind = classifyError(err)
	} else {
		hs.Status = status
		hs.Online = status < http.StatusInternalServerError
		hs.KeyRejected = status == http.StatusUnauthorized || status == http.StatusForbidden
	}
	if hs.Online {
		upstreamUpGauge.Set(1)
	} else {
		upstreamUpGauge.Set(0)
	}
	m.mu.Lock()
	m.last = hs
	m.mu.Unlock()
	return hs
}

// Last returns the most recent probe result without touching the network.
func (m *HealthMonitor) Last() HealthStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.last
}

func (m *HealthMonitor) runProbe() {
	ctx, cancel := context.WithTimeout(context.Background(), m.forwarder.Timeout())
	defer cancel()
	hs := m.Check(ctx)
	if !hs.Online && m.logger != nil {
		m.logger.Printf("upstream probe failed: status=%d kind=%s", hs.Status, hs.Kind)
	}
}
