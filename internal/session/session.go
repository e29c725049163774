package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jgoulah/plugshare/internal/database"
	"github.com/jgoulah/plugshare/internal/reading"
	"github.com/jgoulah/plugshare/internal/timeutil"
	"github.com/jgoulah/plugshare/pkg/models"
	"github.com/shopspring/decimal"
)

// ErrNotActive is returned by TurnOff when the device has no open session
var ErrNotActive = errors.New("Device is not currently active or missing usage record")

// Store is the persistence the lifecycle needs
type Store interface {
	GetDevice(ctx context.Context, id string) (*models.Device, error)
	GetActive(ctx context.Context, deviceID string) (*models.ActiveDevice, error)
	OpenSession(ctx context.Context, usage *models.UsageRecord) (*models.ActiveDevice, error)
	CloseSession(ctx context.Context, c database.SessionClose) error
}

// Events receives device state changes after they are committed
type Events interface {
	DeviceTurnedOn(ctx context.Context, view *models.ActiveDevice) error
	DeviceTurnedOff(ctx context.Context, view *models.ActiveDevice) error
}

// Recorder counts lifecycle transitions
type Recorder interface {
	Transition(action string, ok bool)
}

// Service opens and closes device usage sessions
type Service struct {
	store    Store
	readings reading.Source
	rate     decimal.Decimal
	events   Events
	recorder Recorder
	now      func() time.Time
}

// Option configures a Service
type Option func(*Service)

// WithRate sets the price per kWh used for session charges
func WithRate(perKWh float64) Option {
	return func(s *Service) { s.rate = decimal.NewFromFloat(perKWh) }
}

// WithEvents sets the sink notified after each transition
func WithEvents(e Events) Option {
	return func(s *Service) { s.events = e }
}

// WithRecorder sets the transition counter
func WithRecorder(r Recorder) Option {
	return func(s *Service) { s.recorder = r }
}

// WithClock replaces the clock
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// New creates a lifecycle service
func New(store Store, readings reading.Source, opts ...Option) *Service {
	s := &Service{
		store:    store,
		readings: readings,
		rate:     decimal.Zero,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// TurnOnInput describes a turn-on request
type TurnOnInput struct {
	DeviceID         string
	DeviceIP         string
	UserEmail        string
	EstimatedUseTime *time.Time
}

// TurnOn opens a usage session for the device
func (s *Service) TurnOn(ctx context.Context, in TurnOnInput) (*models.ActiveDevice, error) {
	view, err := s.turnOn(ctx, in)
	s.record("on", err)
	if err != nil {
		return nil, fmt.Errorf("Failed to turn on device: %s", causeMessage(err))
	}

	s.emit(ctx, "on", view)
	return view, nil
}

func (s *Service) turnOn(ctx context.Context, in TurnOnInput) (*models.ActiveDevice, error) {
	device, err := s.store.GetDevice(ctx, in.DeviceID)
	if err != nil {
		return nil, err
	}
	if device == nil {
		return nil, fmt.Errorf("device %s not found", in.DeviceID)
	}
	if device.IsArchived {
		return nil, fmt.Errorf("device %s is archived", in.DeviceID)
	}

	ip := in.DeviceIP
	if ip == "" {
		ip = device.IPAddress
	}

	// The opening reading and the stored start share one instant, so the closing
	// reading can be derived from StartDate
	now := s.now().UTC()
	r, err := s.readings.Read(ctx, ip, time.Time{}, now)
	if err != nil {
		return nil, fmt.Errorf("reading meter: %w", err)
	}

	usage := &models.UsageRecord{
		UserEmail:        in.UserEmail,
		DeviceID:         in.DeviceID,
		StartDate:        now,
		EndDate:          now,
		EstimatedUseTime: utcPtr(in.EstimatedUseTime),
		Consumption:      decimal.NewFromFloat(r.MonthEnergy),
		Charge:           decimal.Zero,
	}
	return s.store.OpenSession(ctx, usage)
}

// TurnOff closes the device's open usage session. The owner is not checked: any member
// may free a shared device.
func (s *Service) TurnOff(ctx context.Context, deviceID, deviceIP string) (*models.ActiveDevice, error) {
	active, err := s.store.GetActive(ctx, deviceID)
	if err != nil {
		s.record("off", err)
		return nil, fmt.Errorf("Failed to turn off device: %s", causeMessage(err))
	}
	if active == nil || active.UsageRecord == nil {
		s.record("off", ErrNotActive)
		return nil, ErrNotActive
	}

	view, err := s.turnOff(ctx, active, deviceIP)
	s.record("off", err)
	if err != nil {
		return nil, fmt.Errorf("Failed to turn off device: %s", causeMessage(err))
	}

	s.emit(ctx, "off", view)
	return view, nil
}

func (s *Service) turnOff(ctx context.Context, active *models.ActiveDevice, ip string) (*models.ActiveDevice, error) {
	usage := active.UsageRecord
	if ip == "" && active.Device != nil {
		ip = active.Device.IPAddress
	}

	end := s.now().UTC()
	if end.Before(usage.StartDate) {
		end = usage.StartDate
	}

	r, err := s.readings.Read(ctx, ip, usage.StartDate, end)
	if err != nil {
		return nil, fmt.Errorf("reading meter: %w", err)
	}

	consumption := Delta(usage.Consumption, decimal.NewFromFloat(r.MonthEnergy))
	charge := timeutil.CeilCents(consumption.Mul(s.rate))

	err = s.store.CloseSession(ctx, database.SessionClose{
		DeviceID:      active.DeviceID,
		UsageRecordID: usage.ID,
		EndDate:       end,
		Consumption:   consumption,
		Charge:        charge,
	})
	if err != nil {
		return nil, err
	}

	closed := *usage
	closed.EndDate = end
	closed.Consumption = consumption
	closed.Charge = charge

	view := *active
	view.UsageRecord = &closed
	return &view, nil
}

// Delta returns the energy used between two month-energy readings, never negative and
// rounded up to two decimals
func Delta(initial, final decimal.Decimal) decimal.Decimal {
	d := final.Sub(initial)
	if d.IsNegative() {
		return decimal.Zero
	}
	return timeutil.CeilCents(d)
}

func (s *Service) emit(ctx context.Context, action string, view *models.ActiveDevice) {
	if s.events == nil {
		return
	}
	var err error
	if action == "on" {
		err = s.events.DeviceTurnedOn(ctx, view)
	} else {
		err = s.events.DeviceTurnedOff(ctx, view)
	}
	if err != nil {
		slog.Warn("publishing device state failed", "device_id", view.DeviceID, "action", action, "error", err)
	}
}

func (s *Service) record(action string, err error) {
	if s.recorder != nil {
		s.recorder.Transition(action, err == nil)
	}
}

// causeMessage renders the failure cause shown to callers. Constraint violations are
// not special-cased and render as "Unknown error".
func causeMessage(err error) string {
	if err == nil || err.Error() == "" {
		return "Unknown error"
	}
	if database.IsConstraintViolation(err) {
		slog.Error("device transition hit a constraint", "error", err)
		return "Unknown error"
	}
	return err.Error()
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
