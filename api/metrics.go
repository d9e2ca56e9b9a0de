package api

import (
	"sync"
	"time"
)

// AlertType identifies the kind of anomaly detected.
type AlertType string

const (
	AlertLoginFailureSpike AlertType = "login_failure_spike"
	AlertLockoutSpike      AlertType = "lockout_spike"
)

// AlertEvent describes an anomaly that triggered an alert.
type AlertEvent struct {
	Type      AlertType `json:"type"`
	Message   string    `json:"message"`
	Count     int       `json:"count"`
	Threshold int       `json:"threshold"`
	Timestamp time.Time `json:"timestamp"`
}

// AlertFunc is the callback invoked when an anomaly is detected.
type AlertFunc func(AlertEvent)

// metricsCollector tracks sliding window counters for anomaly detection
// across all clients. It never blocks a request; it only reports.
type metricsCollector struct {
	mu  sync.Mutex
	now func() time.Time

	loginFailures  []time.Time
	loginWindow    time.Duration
	loginThreshold int

	lockouts         []time.Time
	lockoutWindow    time.Duration
	lockoutThreshold int

	alertFn AlertFunc
}

const (
	defaultLoginFailureWindow    = 1 * time.Minute
	defaultLoginFailureThreshold = 50
	defaultLockoutWindow         = 10 * time.Minute
	defaultLockoutThreshold      = 5
)

func newMetricsCollector(alertFn AlertFunc) *metricsCollector {
	return &metricsCollector{
		now:              time.Now,
		loginWindow:      defaultLoginFailureWindow,
		loginThreshold:   defaultLoginFailureThreshold,
		lockoutWindow:    defaultLockoutWindow,
		lockoutThreshold: defaultLockoutThreshold,
		alertFn:          alertFn,
	}
}

// recordEvent inspects an audit event and updates the relevant counters.
func (m *metricsCollector) recordEvent(event AuditEvent) {
	if m == nil || m.alertFn == nil {
		return
	}
	switch event {
	case AuditLoginFailure, AuditPasswordChangeFail:
		m.record(&m.loginFailures, m.loginWindow, m.loginThreshold,
			AlertLoginFailureSpike, "login failure rate exceeds threshold")
	case AuditLockoutTripped:
		m.record(&m.lockouts, m.lockoutWindow, m.lockoutThreshold,
			AlertLockoutSpike, "lockout rate exceeds threshold")
	}
}

func (m *metricsCollector) record(times *[]time.Time, window time.Duration, threshold int, typ AlertType, msg string) {
	m.mu.Lock()
	now := m.now()
	*times = append(*times, now)
	*times = trimWindow(*times, now, window)

	var alert *AlertEvent
	if len(*times) >= threshold {
		alert = &AlertEvent{
			Type:      typ,
			Message:   msg,
			Count:     len(*times),
			Threshold: threshold,
			Timestamp: now,
		}
		// Reset to avoid repeated alerts within the same spike.
		*times = (*times)[:0]
	}
	m.mu.Unlock()

	if alert != nil {
		m.alertFn(*alert)
	}
}

// trimWindow removes entries older than (now - window) from the sorted slice.
func trimWindow(times []time.Time, now time.Time, window time.Duration) []time.Time {
	cutoff := now.Add(-window)
	start := 0
	for start < len(times) && times[start].Before(cutoff) {
		start++
	}
	return times[start:]
}
