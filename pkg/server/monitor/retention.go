package monitor

import (
	"sync"
	"time"
)

// RetentionMonitor tracks retention sweep health and failures.
type RetentionMonitor struct {
	mu                sync.RWMutex
	lastSuccess       time.Time
	lastAttempt       time.Time
	consecutiveErrors int
	lastError         string
	lastDeleted       int
	totalDeleted      int64
}

// RecordSuccess records a successful sweep that removed deleted records.
func (rm *RetentionMonitor) RecordSuccess(deleted int) {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	rm.lastSuccess = time.Now()
	rm.lastAttempt = rm.lastSuccess
	rm.consecutiveErrors = 0
	rm.lastError = ""
	rm.lastDeleted = deleted
	rm.totalDeleted += int64(deleted)
}

// RecordFailure records a failed sweep.
func (rm *RetentionMonitor) RecordFailure(err error) {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	rm.lastAttempt = time.Now()
	rm.consecutiveErrors++
	if err != nil {
		rm.lastError = err.Error()
	}
}

// IsHealthy returns true if retention is keeping up.
// Unhealthy conditions:
//   - Never succeeded
//   - Haven't succeeded in more than two sweep intervals
//   - More than 3 consecutive failures
func (rm *RetentionMonitor) IsHealthy(interval time.Duration) bool {
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	return rm.healthyLocked(interval)
}

func (rm *RetentionMonitor) healthyLocked(interval time.Duration) bool {
	if rm.lastSuccess.IsZero() {
		return false
	}
	if time.Since(rm.lastSuccess) > 2*interval {
		return false
	}
	return rm.consecutiveErrors <= 3
}

// RetentionStatus is the retention part of the health response.
type RetentionStatus struct {
	Healthy           bool   `json:"healthy"`
	LastSuccess       string `json:"last_success,omitempty"`
	TimeSinceSuccess  string `json:"time_since_success,omitempty"`
	LastAttempt       string `json:"last_attempt,omitempty"`
	LastDeleted       int    `json:"last_deleted"`
	TotalDeleted      int64  `json:"total_deleted"`
	ConsecutiveErrors int    `json:"consecutive_errors,omitempty"`
	LastError         string `json:"last_error,omitempty"`
}

// Status returns current retention status for health checks.
func (rm *RetentionMonitor) Status(interval time.Duration) RetentionStatus {
	rm.mu.RLock()
	defer rm.mu.RUnlock()

	status := RetentionStatus{
		Healthy:      rm.healthyLocked(interval),
		LastDeleted:  rm.lastDeleted,
		TotalDeleted: rm.totalDeleted,
	}

	if !rm.lastSuccess.IsZero() {
		status.LastSuccess = rm.lastSuccess.Format(time.RFC3339)
		status.TimeSinceSuccess = time.Since(rm.lastSuccess).Round(time.Second).String()
	}
	if !rm.lastAttempt.IsZero() {
		status.LastAttempt = rm.lastAttempt.Format(time.RFC3339)
	}
	if rm.consecutiveErrors > 0 {
		status.ConsecutiveErrors = rm.consecutiveErrors
		status.LastError = rm.lastError
	}
	return status
}
