package gateway

import (
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/nicktill/battmon/pkg/ingest"
	"github.com/nicktill/battmon/pkg/telemetry"
)

// Battery model bounds in volts.
const (
	fullVoltage  = 4.2
	emptyVoltage = 3.0
)

// SimulatorConfig describes the simulated fleet.
type SimulatorConfig struct {
	Devices  int
	Gateways int
	// SamplesPerRecord must be a positive multiple of telemetry.SubwindowSize.
	// Defaults to a full bucket of samples.
	SamplesPerRecord int
	Seed             int64
}

type simDevice struct {
	id       string
	voltage  float64
	drain    float64 // volts per record
	baseRSSI []float64
}

// Simulator generates uplinks for a fleet of devices heard by several
// gateways. It is safe for concurrent use.
type Simulator struct {
	mu       sync.Mutex
	rng      *rand.Rand
	devices  []*simDevice
	gateways []string
	samples  int
}

// NewSimulator creates a fleet. Zero counts default to one device and one gateway.
func NewSimulator(cfg SimulatorConfig) *Simulator {
	if cfg.Devices <= 0 {
		cfg.Devices = 1
	}
	if cfg.Gateways <= 0 {
		cfg.Gateways = 1
	}
	if cfg.SamplesPerRecord <= 0 || cfg.SamplesPerRecord%telemetry.SubwindowSize != 0 {
		cfg.SamplesPerRecord = telemetry.BucketSeconds / 60 * telemetry.SubwindowSize
	}

	rng := rand.New(rand.NewSource(cfg.Seed))
	s := &Simulator{rng: rng, samples: cfg.SamplesPerRecord}
	for g := 0; g < cfg.Gateways; g++ {
		s.gateways = append(s.gateways, fmt.Sprintf("gw-%03d", g+1))
	}
	for d := 0; d < cfg.Devices; d++ {
		dev := &simDevice{
			id:      fmt.Sprintf("device-%03d", d+1),
			voltage: fullVoltage - rng.Float64()*0.4,
			drain:   0.0005 + rng.Float64()*0.001,
		}
		for range s.gateways {
			dev.baseRSSI = append(dev.baseRSSI, -60-rng.Float64()*50)
		}
		s.devices = append(s.devices, dev)
	}
	return s
}

// Devices returns the simulated device ids.
func (s *Simulator) Devices() []string {
	ids := make([]string, len(s.devices))
	for i, d := range s.devices {
		ids[i] = d.id
	}
	return ids
}

// Next returns one uplink per (device, gateway) for the bucket holding now.
// Every gateway forwards the same samples with its own RSSI, so the server
// keeps the copy from the strongest gateway.
func (s *Simulator) Next(now time.Time) []ingest.Uplink {
	s.mu.Lock()
	defer s.mu.Unlock()

	bucket := telemetry.ToBucketIndex(now)
	uplinks := make([]ingest.Uplink, 0, len(s.devices)*len(s.gateways))
	for _, dev := range s.devices {
		samples := s.discharge(dev)
		temp := round1(20 + s.rng.NormFloat64()*2)
		hum := round1(55 + s.rng.NormFloat64()*5)

		for g, gw := range s.gateways {
			rssi := round1(dev.baseRSSI[g] + s.rng.NormFloat64()*3)
			uplinks = append(uplinks, ingest.Uplink{
				Destination: ingest.DestinationServer,
				Record: telemetry.Record{
					DeviceID:    dev.id,
					BucketIndex: bucket,
					GatewayID:   gw,
					Timestamp:   now.Unix(),
					RSSI:        telemetry.Float(rssi),
					Temperature: telemetry.Float(temp),
					Humidity:    telemetry.Float(hum),
					Samples:     samples,
				},
			})
		}
	}
	return uplinks
}

// discharge produces one record of samples and advances the battery.
// An empty battery is swapped for a full one.
func (s *Simulator) discharge(dev *simDevice) []float64 {
	samples := make([]float64, s.samples)
	step := dev.drain / float64(s.samples)
	for i := range samples {
		samples[i] = round3(dev.voltage - float64(i)*step + s.rng.NormFloat64()*0.002)
	}
	dev.voltage -= dev.drain
	if dev.voltage < emptyVoltage {
		dev.voltage = fullVoltage
	}
	return samples
}

func round1(v float64) float64 { return math.Round(v*10) / 10 }

func round3(v float64) float64 { return math.Round(v*1000) / 1000 }
