package ingest

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/nicktill/battmon/pkg/telemetry"
)

// DefaultMaxActiveDevices bounds the number of devices tracked at once.
const DefaultMaxActiveDevices = 10000

// Constants for memory safety
const (
	// Forget devices not heard from in the last 24 hours
	activityRetention = 24 * time.Hour

	// Run cleanup at most every hour
	cleanupInterval = 1 * time.Hour
)

// ErrDeviceLimit is returned when a new device would exceed the active device limit
var ErrDeviceLimit = errors.New("active device limit exceeded")

// DeviceTracker records which gateways hear which devices and enforces a
// limit on concurrently active devices.
// SAFETY: Periodically forgets idle devices to prevent unbounded memory growth
type DeviceTracker struct {
	mu sync.RWMutex

	maxDevices int
	devices    map[string]*deviceActivity

	lastCleanup time.Time
	now         func() time.Time
}

type deviceActivity struct {
	lastSeen time.Time
	links    map[string]*linkActivity // gateway id ->
}

type linkActivity struct {
	records  int
	lastRSSI *float64
	bestRSSI *float64
	lastSeen time.Time
}

// NewDeviceTracker creates a tracker. maxDevices <= 0 uses the default.
func NewDeviceTracker(maxDevices int) *DeviceTracker {
	if maxDevices <= 0 {
		maxDevices = DefaultMaxActiveDevices
	}
	return &DeviceTracker{
		maxDevices:  maxDevices,
		devices:     make(map[string]*deviceActivity),
		lastCleanup: time.Now(),
		now:         time.Now,
	}
}

// Check validates that accepting a record from deviceID won't exceed the
// device limit. Known devices always pass.
func (t *DeviceTracker) Check(deviceID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.cleanupLocked()

	if _, ok := t.devices[deviceID]; ok {
		return nil
	}
	if len(t.devices) >= t.maxDevices {
		return fmt.Errorf("%w (max %d)", ErrDeviceLimit, t.maxDevices)
	}
	return nil
}

// Observe marks a record as received through its gateway.
// Should be called after Check passes and the record was handled.
func (t *DeviceTracker) Observe(rec telemetry.Record) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	dev, ok := t.devices[rec.DeviceID]
	if !ok {
		dev = &deviceActivity{links: make(map[string]*linkActivity)}
		t.devices[rec.DeviceID] = dev
	}
	dev.lastSeen = now

	link, ok := dev.links[rec.GatewayID]
	if !ok {
		link = &linkActivity{}
		dev.links[rec.GatewayID] = link
	}
	link.records++
	link.lastSeen = now
	if rec.RSSI != nil {
		rssi := *rec.RSSI
		link.lastRSSI = &rssi
		if link.bestRSSI == nil || rssi > *link.bestRSSI {
			link.bestRSSI = &rssi
		}
	}
}

// Forget drops a device, e.g. after all of its records were deleted.
func (t *DeviceTracker) Forget(deviceID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.devices, deviceID)
}

// cleanupLocked removes devices idle for longer than activityRetention.
// MUST be called with lock held
func (t *DeviceTracker) cleanupLocked() {
	now := t.now()
	if now.Sub(t.lastCleanup) < cleanupInterval {
		return
	}
	t.lastCleanup = now

	cutoff := now.Add(-activityRetention)
	for id, dev := range t.devices {
		if dev.lastSeen.Before(cutoff) {
			delete(t.devices, id)
		}
	}
}

// Stats returns current activity statistics
func (t *DeviceTracker) Stats() TrackerStats {
	t.mu.RLock()
	defer t.mu.RUnlock()

	gateways := make(map[string]struct{})
	var busiest string
	var busiestCount int
	for id, dev := range t.devices {
		var count int
		for gw, link := range dev.links {
			gateways[gw] = struct{}{}
			count += link.records
		}
		if count > busiestCount || (count == busiestCount && id < busiest) {
			busiest, busiestCount = id, count
		}
	}

	return TrackerStats{
		ActiveDevices:  len(t.devices),
		ActiveGateways: len(gateways),
		BusiestDevice:  busiest,
		BusiestRecords: busiestCount,
		DeviceLimit:    t.maxDevices,
		UtilizationPct: float64(len(t.devices)) / float64(t.maxDevices) * 100,
	}
}

// Links returns a copy of every gateway-device link, ordered by device then gateway.
func (t *DeviceTracker) Links() []Link {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var links []Link
	for id, dev := range t.devices {
		for gw, l := range dev.links {
			links = append(links, Link{
				DeviceID:  id,
				GatewayID: gw,
				Records:   l.records,
				LastRSSI:  l.lastRSSI,
				BestRSSI:  l.bestRSSI,
				LastSeen:  l.lastSeen,
			})
		}
	}
	sort.Slice(links, func(i, j int) bool {
		if links[i].DeviceID != links[j].DeviceID {
			return links[i].DeviceID < links[j].DeviceID
		}
		return links[i].GatewayID < links[j].GatewayID
	})
	return links
}

// Link is the reception history of one device through one gateway.
type Link struct {
	DeviceID  string
	GatewayID string
	Records   int
	LastRSSI  *float64
	BestRSSI  *float64
	LastSeen  time.Time
}

// TrackerStats provides device activity information
type TrackerStats struct {
	ActiveDevices  int     `json:"active_devices"`
	ActiveGateways int     `json:"active_gateways"`
	BusiestDevice  string  `json:"busiest_device,omitempty"`
	BusiestRecords int     `json:"busiest_records"`
	DeviceLimit    int     `json:"device_limit"`
	UtilizationPct float64 `json:"utilization_percent"`
}
