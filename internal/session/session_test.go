package session

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/jgoulah/plugshare/internal/database"
	"github.com/jgoulah/plugshare/internal/reading"
	"github.com/jgoulah/plugshare/pkg/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubSource struct {
	values []float64
	err    error
	calls  []time.Time
}

func (s *stubSource) Read(_ context.Context, _ string, since, _ time.Time) (reading.Reading, error) {
	s.calls = append(s.calls, since)
	if s.err != nil {
		return reading.Reading{}, s.err
	}
	v := s.values[0]
	if len(s.values) > 1 {
		s.values = s.values[1:]
	}
	return reading.Reading{MonthEnergy: v}, nil
}

type eventLog struct {
	mu     sync.Mutex
	events []string
	err    error
}

func (e *eventLog) DeviceTurnedOn(_ context.Context, v *models.ActiveDevice) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, "on:"+v.DeviceID)
	return e.err
}

func (e *eventLog) DeviceTurnedOff(_ context.Context, v *models.ActiveDevice) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, "off:"+v.DeviceID)
	return e.err
}

type counter map[string]int

func (c counter) Transition(action string, ok bool) {
	key := action + ":fail"
	if ok {
		key = action + ":ok"
	}
	c[key]++
}

func newTestDB(t *testing.T) *database.DB {
	t.Helper()
	db, err := database.Open("sqlite", filepath.Join(t.TempDir(), "session.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	for _, d := range []models.Device{
		{ID: "kettle", MACAddress: "aa:01", IPAddress: "10.0.0.1", Alias: "Kettle"},
		{ID: "dryer", MACAddress: "aa:02", IPAddress: "10.0.0.2", Alias: "Dryer", IsArchived: true},
	} {
		d := d
		require.NoError(t, db.InsertDevice(context.Background(), &d))
	}
	return db
}

func fixedClock(ts *time.Time) func() time.Time {
	return func() time.Time { return *ts }
}

func TestTurnOnThenOff(t *testing.T) {
	db := newTestDB(t)
	src := &stubSource{values: []float64{42.101, 43.2234}}
	events := &eventLog{}
	counts := counter{}
	now := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

	svc := New(db, src, WithClock(fixedClock(&now)), WithEvents(events), WithRecorder(counts), WithRate(0.3))
	ctx := context.Background()

	view, err := svc.TurnOn(ctx, TurnOnInput{DeviceID: "kettle", UserEmail: "a@example.com"})
	require.NoError(t, err)
	require.NotNil(t, view.UsageRecord)
	assert.Equal(t, "a@example.com", view.UsageRecord.UserEmail)
	assert.Nil(t, view.UsageRecord.EstimatedUseTime)
	assert.True(t, view.UsageRecord.Consumption.Equal(decimal.RequireFromString("42.101")))
	assert.True(t, view.UsageRecord.Charge.IsZero())
	assert.True(t, src.calls[0].IsZero(), "opening read has no session start")

	now = now.Add(90 * time.Minute)
	closed, err := svc.TurnOff(ctx, "kettle", "")
	require.NoError(t, err)

	usage := closed.UsageRecord
	assert.False(t, usage.EndDate.Before(usage.StartDate))
	// 43.2234 - 42.101 = 1.1224, rounded up
	assert.True(t, usage.Consumption.Equal(decimal.RequireFromString("1.13")), "consumption %s", usage.Consumption)
	// 1.13 * 0.3 = 0.339, rounded up
	assert.True(t, usage.Charge.Equal(decimal.RequireFromString("0.34")), "charge %s", usage.Charge)
	assert.True(t, src.calls[1].Equal(view.UsageRecord.StartDate), "closing read receives the session start")

	active, err := db.GetActive(ctx, "kettle")
	require.NoError(t, err)
	assert.Nil(t, active)

	records, err := db.ListUsage(ctx, database.UsageQuery{DeviceID: "kettle"})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.True(t, records[0].Consumption.Equal(decimal.RequireFromString("1.13")))
	assert.True(t, records[0].EndDate.Equal(now))

	assert.Equal(t, []string{"on:kettle", "off:kettle"}, events.events)
	assert.Equal(t, 1, counts["on:ok"])
	assert.Equal(t, 1, counts["off:ok"])
}

func TestTurnOnStoresEstimatedTime(t *testing.T) {
	db := newTestDB(t)
	now := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	eta := now.Add(2 * time.Hour)

	svc := New(db, &stubSource{values: []float64{1}}, WithClock(fixedClock(&now)))
	view, err := svc.TurnOn(context.Background(), TurnOnInput{DeviceID: "kettle", UserEmail: "a@example.com", EstimatedUseTime: &eta})
	require.NoError(t, err)
	require.NotNil(t, view.UsageRecord.EstimatedUseTime)
	assert.True(t, view.UsageRecord.EstimatedUseTime.Equal(eta))
}

func TestTurnOffClampsNegativeDelta(t *testing.T) {
	db := newTestDB(t)
	// The month counter reset between readings
	src := &stubSource{values: []float64{80, 0.4}}
	now := time.Date(2025, 3, 31, 23, 30, 0, 0, time.UTC)
	svc := New(db, src, WithClock(fixedClock(&now)))
	ctx := context.Background()

	_, err := svc.TurnOn(ctx, TurnOnInput{DeviceID: "kettle", UserEmail: "a@example.com"})
	require.NoError(t, err)

	now = now.Add(time.Hour)
	closed, err := svc.TurnOff(ctx, "kettle", "")
	require.NoError(t, err)
	assert.True(t, closed.UsageRecord.Consumption.IsZero())
}

func TestTurnOnReadingFailure(t *testing.T) {
	db := newTestDB(t)
	counts := counter{}
	svc := New(db, &stubSource{err: errors.New("plug unreachable")}, WithRecorder(counts))

	_, err := svc.TurnOn(context.Background(), TurnOnInput{DeviceID: "kettle", UserEmail: "a@example.com"})
	require.Error(t, err)
	assert.Equal(t, "Failed to turn on device: reading meter: plug unreachable", err.Error())
	assert.Equal(t, 1, counts["on:fail"])

	active, err := db.GetActive(context.Background(), "kettle")
	require.NoError(t, err)
	assert.Nil(t, active)
}

func TestTurnOnRejectsUnknownAndArchived(t *testing.T) {
	db := newTestDB(t)
	src := &stubSource{values: []float64{1}}
	svc := New(db, src)

	_, err := svc.TurnOn(context.Background(), TurnOnInput{DeviceID: "ghost", UserEmail: "a@example.com"})
	require.Error(t, err)
	assert.Equal(t, "Failed to turn on device: device ghost not found", err.Error())

	_, err = svc.TurnOn(context.Background(), TurnOnInput{DeviceID: "dryer", UserEmail: "a@example.com"})
	require.Error(t, err)
	assert.Equal(t, "Failed to turn on device: device dryer is archived", err.Error())
	assert.Empty(t, src.calls, "no reading is taken for devices that cannot be used")
}

func TestSecondTurnOnFailsWithUnknownError(t *testing.T) {
	db := newTestDB(t)
	svc := New(db, &stubSource{values: []float64{5}})
	ctx := context.Background()

	first, err := svc.TurnOn(ctx, TurnOnInput{DeviceID: "kettle", UserEmail: "a@example.com"})
	require.NoError(t, err)

	_, err = svc.TurnOn(ctx, TurnOnInput{DeviceID: "kettle", UserEmail: "b@example.com"})
	require.Error(t, err)
	assert.Equal(t, "Failed to turn on device: Unknown error", err.Error())

	active, err := db.GetActive(ctx, "kettle")
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, first.UsageRecordID, active.UsageRecordID)
	assert.Equal(t, "a@example.com", active.UsageRecord.UserEmail)

	records, err := db.ListUsage(ctx, database.UsageQuery{DeviceID: "kettle"})
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestTurnOffWhenNotActive(t *testing.T) {
	db := newTestDB(t)
	src := &stubSource{values: []float64{1}}
	svc := New(db, src)

	_, err := svc.TurnOff(context.Background(), "kettle", "10.0.0.1")
	assert.ErrorIs(t, err, ErrNotActive)
	assert.Equal(t, "Device is not currently active or missing usage record", err.Error())
	assert.Empty(t, src.calls, "no reading is taken when the device is free")
}

func TestTurnOffIsNotOwnerChecked(t *testing.T) {
	db := newTestDB(t)
	svc := New(db, &stubSource{values: []float64{1, 2}})
	ctx := context.Background()

	_, err := svc.TurnOn(ctx, TurnOnInput{DeviceID: "kettle", UserEmail: "a@example.com"})
	require.NoError(t, err)

	// Turn off carries no caller identity; the session owner is kept on the record
	closed, err := svc.TurnOff(ctx, "kettle", "")
	require.NoError(t, err)
	assert.Equal(t, "a@example.com", closed.UsageRecord.UserEmail)
}

func TestEventFailureDoesNotFailTransition(t *testing.T) {
	db := newTestDB(t)
	svc := New(db, &stubSource{values: []float64{1}}, WithEvents(&eventLog{err: errors.New("broker down")}))

	_, err := svc.TurnOn(context.Background(), TurnOnInput{DeviceID: "kettle", UserEmail: "a@example.com"})
	assert.NoError(t, err)
}

func TestDelta(t *testing.T) {
	tests := []struct {
		initial, final, want string
	}{
		{"10", "10", "0"},
		{"10", "12.001", "2.01"},
		{"10.5", "10.25", "0"},
		{"0.123", "0.2", "0.08"},
	}
	for _, tt := range tests {
		got := Delta(decimal.RequireFromString(tt.initial), decimal.RequireFromString(tt.final))
		assert.True(t, got.Equal(decimal.RequireFromString(tt.want)), "Delta(%s, %s) = %s, want %s", tt.initial, tt.final, got, tt.want)
	}
}

func TestSimulatedSessionAcrossSecondBoundary(t *testing.T) {
	db := newTestDB(t)
	start := time.Date(2025, 3, 10, 9, 0, 0, 999_000_000, time.UTC)
	now := start
	// The source's own clock is already in the next second
	sourceClock := start.Add(2 * time.Millisecond)
	src := reading.NewSimulatedSource().WithClock(func() time.Time { return sourceClock })

	svc := New(db, src, WithClock(fixedClock(&now)))
	ctx := context.Background()

	view, err := svc.TurnOn(ctx, TurnOnInput{DeviceID: "kettle", UserEmail: "a@example.com"})
	require.NoError(t, err)
	assert.True(t, view.UsageRecord.StartDate.Equal(start))

	opening, err := src.Read(ctx, "10.0.0.1", time.Time{}, start)
	require.NoError(t, err)
	assert.True(t, view.UsageRecord.Consumption.Equal(decimal.NewFromFloat(opening.MonthEnergy)),
		"stored baseline %s, reading at start %v", view.UsageRecord.Consumption, opening.MonthEnergy)

	now = start.Add(30 * time.Minute)
	sourceClock = now.Add(5 * time.Second)
	closed, err := svc.TurnOff(ctx, "kettle", "")
	require.NoError(t, err)

	got := closed.UsageRecord.Consumption.InexactFloat64()
	expected := 0.5 * opening.CurrentPower / 1000
	assert.LessOrEqual(t, got, 1.0)
	assert.InDelta(t, expected, got, 0.011)
}
