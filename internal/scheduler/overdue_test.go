package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jgoulah/plugshare/pkg/models"
)

type listStore struct {
	active []models.ActiveDevice
	err    error
}

func (s *listStore) ListActive(context.Context) ([]models.ActiveDevice, error) {
	return s.active, s.err
}

type recordingNotifier struct {
	devices []string
	err     error
}

func (n *recordingNotifier) SessionOverdue(_ context.Context, v *models.ActiveDevice) error {
	if n.err != nil {
		return n.err
	}
	n.devices = append(n.devices, v.DeviceID)
	return nil
}

type tally int

func (t *tally) Overdue() { *t++ }

func session(deviceID string, usageID int64, eta *time.Time) models.ActiveDevice {
	return models.ActiveDevice{
		DeviceID:      deviceID,
		UsageRecordID: usageID,
		UsageRecord:   &models.UsageRecord{ID: usageID, DeviceID: deviceID, UserEmail: "a@example.com", EstimatedUseTime: eta},
	}
}

func TestCheckNotifiesOncePerSession(t *testing.T) {
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Minute)
	future := now.Add(time.Hour)

	store := &listStore{active: []models.ActiveDevice{
		session("kettle", 1, &past),
		session("washer", 2, &future),
		session("dryer", 3, nil),
	}}
	notifier := &recordingNotifier{}
	var count tally
	w := NewOverdueWatcher(store, notifier, &count).WithClock(func() time.Time { return now })

	n, err := w.Check(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{"kettle"}, notifier.devices)

	n, err = w.Check(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Equal(t, tally(1), count)

	// The kettle session closes and a new one goes overdue later
	store.active = []models.ActiveDevice{session("kettle", 4, &past)}
	n, err = w.Check(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Len(t, w.notified, 1)
}

func TestCheckRetriesFailedNotifications(t *testing.T) {
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Minute)
	store := &listStore{active: []models.ActiveDevice{session("kettle", 1, &past)}}
	notifier := &recordingNotifier{err: errors.New("broker down")}
	w := NewOverdueWatcher(store, notifier, nil).WithClock(func() time.Time { return now })

	n, err := w.Check(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	notifier.err = nil
	n, err = w.Check(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestCheckStoreError(t *testing.T) {
	w := NewOverdueWatcher(&listStore{err: errors.New("db closed")}, &recordingNotifier{}, nil)
	_, err := w.Check(context.Background())
	assert.Error(t, err)
}

func TestRunRejectsBadSpec(t *testing.T) {
	w := NewOverdueWatcher(&listStore{}, &recordingNotifier{}, nil).WithSpec("every now and then")
	assert.Error(t, w.Run(context.Background()))
}

func TestRunStopsOnCancel(t *testing.T) {
	w := NewOverdueWatcher(&listStore{}, &recordingNotifier{}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("watcher did not stop")
	}
}
