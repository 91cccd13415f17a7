// Package scan runs BLE scan sessions and keeps the per-session device identity map.
package scan

import (
	"sync"
	"time"

	"github.com/cornelk/hashmap"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/srg/blecentral/internal/device"
	"github.com/srg/blecentral/internal/permission"
	"github.com/srg/blecentral/internal/ringchan"
)

// DefaultBufferSize is the discovery channel capacity used when none is configured
const DefaultBufferSize = 100

// Session handles BLE device discovery.
//
// A device keeps its identifier for as long as the session is active; identifiers are
// random and never derived from the hardware address. Stopping the session forgets
// every device, so the next session hands out fresh identifiers.
type Session struct {
	radio      device.Radio
	gate       *permission.Gate
	logger     *logrus.Logger
	bufferSize int
	now        func() time.Time

	mu        sync.Mutex
	scanning  bool
	filters   []Filter
	allow     map[uint16]struct{} // nil forwards every company
	events    *ringchan.RingChannel[device.Discovery]
	byAddress *hashmap.Map[string, *device.Peripheral]
	byID      *hashmap.Map[string, *device.Peripheral]
}

// NewSession creates an idle session. A nil radio makes every Start fail with AdapterUnavailable.
func NewSession(radio device.Radio, gate *permission.Gate, bufferSize int, logger *logrus.Logger) *Session {
	if logger == nil {
		logger = logrus.New()
	}
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}

	events := ringchan.New[device.Discovery](bufferSize)
	events.Close()

	return &Session{
		radio:      radio,
		gate:       gate,
		logger:     logger,
		bufferSize: bufferSize,
		now:        time.Now,
		events:     events,
		byAddress:  hashmap.New[string, *device.Peripheral](),
		byID:       hashmap.New[string, *device.Peripheral](),
	}
}

// Start begins a session. Company ids both restrict which manufacturer data is
// forwarded and act as additional filters.
func (s *Session) Start(filters []Filter, companyIDs []uint16) error {
	if s.radio == nil || !s.radio.Available() {
		return device.NewError(device.AdapterUnavailable, "no Bluetooth adapter", nil)
	}
	if s.gate != nil {
		if err := s.gate.Require(permission.Scan); err != nil {
			return err
		}
	}

	s.mu.Lock()
	if s.scanning {
		s.mu.Unlock()
		return device.NewError(device.AlreadyScanning, "scan session already active", nil)
	}

	s.filters = append([]Filter(nil), filters...)
	s.allow = nil
	if len(companyIDs) > 0 {
		s.allow = make(map[uint16]struct{}, len(companyIDs))
		for _, id := range companyIDs {
			s.allow[id] = struct{}{}
			s.filters = append(s.filters, CompanyFilter(id))
		}
	}
	s.byAddress = hashmap.New[string, *device.Peripheral]()
	s.byID = hashmap.New[string, *device.Peripheral]()
	s.events = ringchan.New[device.Discovery](s.bufferSize)
	s.scanning = true
	events := s.events
	s.mu.Unlock()

	if err := s.radio.StartScan(s.handleSighting); err != nil {
		s.mu.Lock()
		s.scanning = false
		s.mu.Unlock()
		events.Close()
		return device.Wrap(device.AdapterUnavailable, err)
	}

	s.logger.WithFields(logrus.Fields{
		"filters":     len(filters),
		"company_ids": companyIDs,
	}).Info("Scan session started")
	return nil
}

// Stop ends the session and forgets every device. Stopping an idle session is a no-op.
func (s *Session) Stop() error {
	if s.gate != nil {
		if err := s.gate.Require(permission.Scan); err != nil {
			return err
		}
	}

	s.mu.Lock()
	if !s.scanning {
		s.mu.Unlock()
		return nil
	}
	s.scanning = false
	events := s.events
	count := s.byAddress.Len()
	s.byAddress = hashmap.New[string, *device.Peripheral]()
	s.byID = hashmap.New[string, *device.Peripheral]()
	s.mu.Unlock()

	err := s.radio.StopScan()
	events.Close()

	metrics := events.GetMetrics()
	logger := s.logger.WithFields(logrus.Fields{
		"device_count": count,
		"discoveries":  metrics.Written,
		"overwritten":  metrics.Overwritten,
	})
	if metrics.Overwritten > 0 {
		logger.Warn("Scan session stopped, slow consumer lost discoveries")
	} else {
		logger.Info("Scan session stopped")
	}

	if err != nil {
		return device.Wrap(device.AdapterUnavailable, err)
	}
	return nil
}

// GetMetrics returns the delivery counters of the current or last session.
// Overwritten counts discoveries dropped because the consumer fell behind.
func (s *Session) GetMetrics() ringchan.Metrics {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.events.GetMetrics()
}

// IsScanning reports whether a session is active
func (s *Session) IsScanning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scanning
}

// Discoveries returns the event stream of the current session.
// The channel is closed when the session stops.
func (s *Session) Discoveries() <-chan device.Discovery {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.events.C()
}

// Lookup finds a device of the current session by identifier
func (s *Session) Lookup(identifier string) (*device.Peripheral, bool) {
	s.mu.Lock()
	byID := s.byID
	s.mu.Unlock()
	return byID.Get(identifier)
}

// Devices returns a snapshot of the devices seen in the current session
func (s *Session) Devices() []*device.Peripheral {
	s.mu.Lock()
	byID := s.byID
	s.mu.Unlock()

	devs := make([]*device.Peripheral, 0, byID.Len())
	byID.Range(func(_ string, p *device.Peripheral) bool {
		devs = append(devs, p)
		return true
	})
	return devs
}

// handleSighting updates an existing or adds a new device and emits one event
func (s *Session) handleSighting(sighting device.Sighting) {
	if sighting.Address == nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.scanning || !matchAny(s.filters, sighting) {
		return
	}

	addr := sighting.Address.String()
	p, existing := s.byAddress.Get(addr)
	if !existing {
		p = device.NewPeripheral(uuid.NewString(), sighting.Address)
		s.byAddress.Set(addr, p)
		s.byID.Set(p.Identifier(), p)
	}

	txPower := sighting.TxPower
	if txPower == device.TxPowerUnknown {
		txPower = 0
	}

	event := p.Update(sighting.Name, sighting.RSSI, txPower, s.forwardedData(sighting.ManufacturerData), s.now())

	if !existing {
		s.logger.WithFields(logrus.Fields{
			"identifier": p.Identifier(),
			"name":       event.Name,
			"address":    addr,
			"rssi":       event.RSSI,
		}).Debug("Discovered new device")
	}

	if s.events.Send(event) {
		s.logger.WithField("identifier", p.Identifier()).Debug("Discovery consumer lagging, dropped oldest event")
	}
}

// forwardedData applies the company allow-list and drops empty payloads
func (s *Session) forwardedData(md map[uint16][]byte) map[uint16][]byte {
	out := make(map[uint16][]byte, len(md))
	for id, payload := range md {
		if len(payload) == 0 {
			continue
		}
		if s.allow != nil {
			if _, ok := s.allow[id]; !ok {
				continue
			}
		}
		out[id] = payload
	}
	return out
}
