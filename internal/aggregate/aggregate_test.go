package aggregate

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/jgoulah/plugshare/internal/database"
	"github.com/jgoulah/plugshare/pkg/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func day(y int, m time.Month, dd int) time.Time { return time.Date(y, m, dd, 0, 0, 0, 0, time.UTC) }

func TestBuildCurrentMonthSumsUsersPerDay(t *testing.T) {
	rangeStart := day(2025, 3, 1)
	rows := []models.UsageRow{
		{Day: day(2025, 3, 10), DeviceID: "kettle", UserEmail: "a@example.com", Consumption: d("0.3")},
		{Day: day(2025, 3, 10), DeviceID: "kettle", UserEmail: "b@example.com", Consumption: d("0.5")},
		{Day: day(2025, 3, 10), DeviceID: "kettle", UserEmail: "c@example.com", Consumption: d("1.001")},
		{Day: day(2025, 3, 10), DeviceID: "washer", UserEmail: "b@example.com", Consumption: d("2")},
		{Day: day(2025, 3, 11), DeviceID: "kettle", UserEmail: "a@example.com", Consumption: d("0.111")},
	}

	chart := Build(rows, "a@example.com", rangeStart, GroupByDay)

	require.Len(t, chart.TotalConsumption, 3)
	assert.Equal(t, day(2025, 3, 10), chart.TotalConsumption[0].Period)
	assert.Equal(t, "kettle", chart.TotalConsumption[0].DeviceID)
	// 0.3 + 0.5 + 1.01 (1.001 rounded up)
	assert.True(t, chart.TotalConsumption[0].Consumption.Equal(d("1.81")), "got %s", chart.TotalConsumption[0].Consumption)
	assert.Equal(t, "washer", chart.TotalConsumption[1].DeviceID)
	assert.True(t, chart.TotalConsumption[1].Consumption.Equal(d("2")))
	assert.Equal(t, day(2025, 3, 11), chart.TotalConsumption[2].Period)

	require.Len(t, chart.UserConsumption, 2)
	assert.Equal(t, day(2025, 3, 10), chart.UserConsumption[0].Period)
	assert.True(t, chart.UserConsumption[0].Consumption.Equal(d("0.3")))
	assert.True(t, chart.UserConsumption[1].Consumption.Equal(d("0.12")))
}

func TestBuildWeekBucketsClampToRangeStart(t *testing.T) {
	// Billing period starting on a Wednesday
	rangeStart := day(2025, 3, 12)
	rows := []models.UsageRow{
		{Day: day(2025, 3, 12), DeviceID: "kettle", UserEmail: "a@example.com", Consumption: d("1")},
		{Day: day(2025, 3, 16), DeviceID: "kettle", UserEmail: "a@example.com", Consumption: d("1")},
		{Day: day(2025, 3, 17), DeviceID: "kettle", UserEmail: "a@example.com", Consumption: d("1")},
	}

	chart := Build(rows, "a@example.com", rangeStart, GroupByWeek)
	require.Len(t, chart.TotalConsumption, 2)
	// The partial first week is keyed at the range start, not Monday the 10th
	assert.Equal(t, day(2025, 3, 12), chart.TotalConsumption[0].Period)
	assert.True(t, chart.TotalConsumption[0].Consumption.Equal(d("2")))
	assert.Equal(t, day(2025, 3, 17), chart.TotalConsumption[1].Period)
}

func TestBucket(t *testing.T) {
	rangeStart := day(2025, 2, 20)
	assert.Equal(t, day(2025, 2, 20), Bucket(day(2025, 2, 25), GroupByMonth, rangeStart))
	assert.Equal(t, day(2025, 3, 1), Bucket(day(2025, 3, 9), GroupByMonth, rangeStart))
	assert.Equal(t, day(2025, 3, 3), Bucket(day(2025, 3, 9), GroupByWeek, rangeStart))
	assert.Equal(t, day(2025, 3, 9), Bucket(day(2025, 3, 9), GroupByDay, rangeStart))
}

func TestRange(t *testing.T) {
	// Thursday
	now := time.Date(2025, 3, 13, 15, 4, 0, 0, time.UTC)

	start, end := Range(PeriodWeek, now, nil)
	assert.Equal(t, day(2025, 3, 10), start)
	assert.Equal(t, now, end)

	start, _ = Range(PeriodMonth, now, nil)
	assert.Equal(t, day(2025, 3, 1), start)

	anchor := day(2024, 11, 20)
	start, _ = Range(PeriodBilling, now, &anchor)
	assert.Equal(t, day(2025, 2, 20), start)

	start, _ = Range(PeriodBilling, now, nil)
	assert.Equal(t, day(2025, 3, 1), start)
}

func TestParse(t *testing.T) {
	p, err := ParsePeriod("")
	require.NoError(t, err)
	assert.Equal(t, PeriodMonth, p)
	p, err = ParsePeriod("Current-Week")
	require.NoError(t, err)
	assert.Equal(t, PeriodWeek, p)
	_, err = ParsePeriod("yesterday")
	assert.Error(t, err)

	g, err := ParseGroupBy("")
	require.NoError(t, err)
	assert.Equal(t, GroupByDay, g)
	_, err = ParseGroupBy("hour")
	assert.Error(t, err)
}

type failingStore struct{}

func (failingStore) UsageData(context.Context, database.UsageFilter) ([]models.UsageRow, error) {
	return nil, errors.New("boom")
}

func (failingStore) BillingAnchor(context.Context) (*time.Time, error) { return nil, nil }

func TestLoadWrapsStoreErrors(t *testing.T) {
	_, err := Load(context.Background(), failingStore{}, Query{Period: PeriodMonth, Now: time.Now()})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "loading usage data: boom")
}

func TestLoadFromDatabase(t *testing.T) {
	db, err := database.Open("sqlite", filepath.Join(t.TempDir(), "chart.db"))
	require.NoError(t, err)
	defer db.Close()
	ctx := context.Background()

	require.NoError(t, db.InsertDevice(ctx, &models.Device{ID: "kettle", MACAddress: "m1", IPAddress: "10.0.0.1", Alias: "Kettle"}))

	now := time.Date(2025, 3, 13, 15, 0, 0, 0, time.UTC)
	anchor := day(2025, 3, 12)
	require.NoError(t, db.SetBillingAnchor(ctx, anchor))

	// Opening and closing sessions through the store keeps the rows realistic
	add := func(email string, start time.Time, kwh string) {
		view, err := db.OpenSession(ctx, &models.UsageRecord{UserEmail: email, DeviceID: "kettle", StartDate: start, EndDate: start})
		require.NoError(t, err)
		require.NoError(t, db.CloseSession(ctx, database.SessionClose{
			DeviceID: "kettle", UsageRecordID: view.UsageRecordID, EndDate: start.Add(30 * time.Minute), Consumption: d(kwh),
		}))
	}
	add("a@example.com", time.Date(2025, 3, 11, 8, 0, 0, 0, time.UTC), "5")
	add("a@example.com", time.Date(2025, 3, 12, 8, 0, 0, 0, time.UTC), "0.25")
	add("b@example.com", time.Date(2025, 3, 12, 9, 0, 0, 0, time.UTC), "0.5")

	chart, err := Load(ctx, db, Query{Caller: "b@example.com", Period: PeriodBilling, GroupBy: GroupByDay, Now: now})
	require.NoError(t, err)
	assert.Equal(t, anchor, chart.Start)
	require.Len(t, chart.TotalConsumption, 1)
	assert.True(t, chart.TotalConsumption[0].Consumption.Equal(d("0.75")), "got %s", chart.TotalConsumption[0].Consumption)
	require.Len(t, chart.UserConsumption, 1)
	assert.True(t, chart.UserConsumption[0].Consumption.Equal(d("0.5")))
}
