package rotor

import "sync/atomic"

// MetricID identifies one in-process counter.
type MetricID uint16

const (
	MetricRegisterSuccess MetricID = iota
	MetricRegisterDuplicate
	MetricLoginSuccess
	MetricLoginFailure
	MetricRefreshSuccess
	MetricRefreshFailure
	MetricReuseDetected
	MetricLogout
	MetricFamilyRevoked
	MetricQRGenerated
	MetricQRConsumed
	MetricQRConsumeFailed
	metricIDCount
)

var metricNames = [metricIDCount]string{
	MetricRegisterSuccess:   "register_success",
	MetricRegisterDuplicate: "register_duplicate",
	MetricLoginSuccess:      "login_success",
	MetricLoginFailure:      "login_failure",
	MetricRefreshSuccess:    "refresh_success",
	MetricRefreshFailure:    "refresh_failure",
	MetricReuseDetected:     "reuse_detected",
	MetricLogout:            "logout",
	MetricFamilyRevoked:     "family_revoked",
	MetricQRGenerated:       "qr_generated",
	MetricQRConsumed:        "qr_consumed",
	MetricQRConsumeFailed:   "qr_consume_failed",
}

const cacheLineSize = 64

type paddedCounter struct {
	value uint64
	_     [cacheLineSize - 8]byte
}

// Metrics holds lock-free counters for the engine's hot paths. A nil
// receiver is safe and counts nothing.
type Metrics struct {
	counters [metricIDCount]paddedCounter
}

func newMetrics() *Metrics {
	return &Metrics{}
}

// Inc adds one to a counter.
func (m *Metrics) Inc(id MetricID) {
	if m == nil || id >= metricIDCount {
		return
	}
	atomic.AddUint64(&m.counters[id].value, 1)
}

// Value reads one counter.
func (m *Metrics) Value(id MetricID) uint64 {
	if m == nil || id >= metricIDCount {
		return 0
	}
	return atomic.LoadUint64(&m.counters[id].value)
}

// Snapshot returns every counter keyed by its wire name.
func (m *Metrics) Snapshot() map[string]uint64 {
	out := make(map[string]uint64, int(metricIDCount))
	for id := MetricID(0); id < metricIDCount; id++ {
		out[metricNames[id]] = m.Value(id)
	}
	return out
}

// observeEvent bumps the counter matching an audit event, if any. Audit and
// metrics deliberately share one classification.
func (m *Metrics) observeEvent(eventType string, success bool) {
	if m == nil {
		return
	}
	switch eventType {
	case auditEventRegister:
		if success {
			m.Inc(MetricRegisterSuccess)
		} else {
			m.Inc(MetricRegisterDuplicate)
		}
	case auditEventLoginSuccess:
		m.Inc(MetricLoginSuccess)
	case auditEventLoginFailure:
		m.Inc(MetricLoginFailure)
	case auditEventRefreshSuccess:
		m.Inc(MetricRefreshSuccess)
	case auditEventRefreshFailure:
		m.Inc(MetricRefreshFailure)
	case auditEventReuseDetected:
		m.Inc(MetricReuseDetected)
	case auditEventLogout:
		m.Inc(MetricLogout)
	case auditEventFamilyRevoked:
		m.Inc(MetricFamilyRevoked)
	case auditEventQRGenerated:
		m.Inc(MetricQRGenerated)
	case auditEventQRConsumed:
		m.Inc(MetricQRConsumed)
	case auditEventQRConsumeFailed:
		m.Inc(MetricQRConsumeFailed)
	}
}
