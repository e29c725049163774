package reading

import (
	"context"
	"slices"
	"time"

	"github.com/jgoulah/plugshare/internal/config"
)

// Reading is an energy meter snapshot from a smart plug
type Reading struct {
	MonthEnergy  float64   `json:"month_energy"`  // kWh accumulated this month
	TodayEnergy  float64   `json:"today_energy"`  // kWh accumulated today
	CurrentPower float64   `json:"current_power"` // W
	At           time.Time `json:"at"`
}

// Source provides energy readings for a device. since is the session start when the
// reading closes a session and zero when it opens one. at is the instant the reading
// is recorded for, zero meaning now.
type Source interface {
	Read(ctx context.Context, ip string, since, at time.Time) (Reading, error)
}

// Selector maps a device IP to the reading source that serves it
type Selector struct {
	real       Source
	simulated  Source
	useRealAPI bool
	specialIPs []string
}

// NewSelector builds a selector from the device API configuration
func NewSelector(cfg config.DeviceAPI, real, simulated Source) *Selector {
	return &Selector{
		real:       real,
		simulated:  simulated,
		useRealAPI: cfg.UseRealAPI,
		specialIPs: cfg.SpecialIPs,
	}
}

// UsesRealAPI reports whether ip is read from the real device-control endpoint
func (s *Selector) UsesRealAPI(ip string) bool {
	return s.useRealAPI || slices.Contains(s.specialIPs, ip)
}

// For returns the source for ip
func (s *Selector) For(ip string) Source {
	if s.UsesRealAPI(ip) {
		return s.real
	}
	return s.simulated
}

// Read reads from the source selected for ip
func (s *Selector) Read(ctx context.Context, ip string, since, at time.Time) (Reading, error) {
	return s.For(ip).Read(ctx, ip, since, at)
}
