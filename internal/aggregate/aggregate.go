package aggregate

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jgoulah/plugshare/internal/database"
	"github.com/jgoulah/plugshare/internal/timeutil"
	"github.com/jgoulah/plugshare/pkg/models"
	"github.com/shopspring/decimal"
)

// Period selects the chart's time range
type Period string

const (
	PeriodWeek    Period = "current-week"
	PeriodMonth   Period = "current-month"
	PeriodBilling Period = "current-billing-period"
)

// GroupBy selects the chart's bucket size
type GroupBy string

const (
	GroupByDay   GroupBy = "day"
	GroupByWeek  GroupBy = "week"
	GroupByMonth GroupBy = "month"
)

// ParsePeriod validates a period, defaulting to the current month
func ParsePeriod(s string) (Period, error) {
	switch p := Period(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return PeriodMonth, nil
	case PeriodWeek, PeriodMonth, PeriodBilling:
		return p, nil
	default:
		return "", fmt.Errorf("unknown period %q", s)
	}
}

// ParseGroupBy validates a bucket size, defaulting to days
func ParseGroupBy(s string) (GroupBy, error) {
	switch g := GroupBy(strings.ToLower(strings.TrimSpace(s))); g {
	case "":
		return GroupByDay, nil
	case GroupByDay, GroupByWeek, GroupByMonth:
		return g, nil
	default:
		return "", fmt.Errorf("unknown group_by %q", s)
	}
}

// Range returns the [start, end] window of a period ending now. Without a billing
// anchor the billing period falls back to the calendar month.
func Range(p Period, now time.Time, billingAnchor *time.Time) (start, end time.Time) {
	end = now.UTC()
	switch p {
	case PeriodWeek:
		start = timeutil.StartOfWeek(end)
	case PeriodBilling:
		if billingAnchor != nil {
			start = timeutil.BillingPeriodStart(*billingAnchor, end)
		} else {
			start = timeutil.StartOfMonth(end)
		}
	default:
		start = timeutil.StartOfMonth(end)
	}
	return start, end
}

// Point is one chart value
type Point struct {
	Period      time.Time       `json:"period"`
	DeviceID    string          `json:"deviceId"`
	Consumption decimal.Decimal `json:"consumption"`
}

// Chart holds the caller's own consumption next to everyone's
type Chart struct {
	Start            time.Time `json:"start"`
	End              time.Time `json:"end"`
	UserConsumption  []Point   `json:"userConsumption"`
	TotalConsumption []Point   `json:"totalConsumption"`
}

type bucketKey struct {
	period   time.Time
	deviceID string
}

// Bucket returns the period a usage day is charted under. Week and month buckets
// never start before rangeStart, so a partial first week or month stays inside the range.
func Bucket(day time.Time, g GroupBy, rangeStart time.Time) time.Time {
	var start time.Time
	switch g {
	case GroupByWeek:
		start = timeutil.StartOfWeek(day)
	case GroupByMonth:
		start = timeutil.StartOfMonth(day)
	default:
		start = timeutil.StartOfDay(day)
	}
	return timeutil.Later(start, rangeStart.UTC())
}

// Build splits grouped usage rows into the caller's series and the all-user series.
// Each row is rounded up to cents before it is added.
func Build(rows []models.UsageRow, caller string, rangeStart time.Time, g GroupBy) Chart {
	user := map[bucketKey]decimal.Decimal{}
	total := map[bucketKey]decimal.Decimal{}

	for _, row := range rows {
		key := bucketKey{period: Bucket(row.Day, g, rangeStart), deviceID: row.DeviceID}
		v := timeutil.CeilCents(row.Consumption)

		total[key] = total[key].Add(v)
		if strings.EqualFold(row.UserEmail, caller) {
			user[key] = user[key].Add(v)
		}
	}

	return Chart{
		Start:            rangeStart.UTC(),
		UserConsumption:  points(user),
		TotalConsumption: points(total),
	}
}

func points(m map[bucketKey]decimal.Decimal) []Point {
	out := make([]Point, 0, len(m))
	for k, v := range m {
		out = append(out, Point{Period: k.period, DeviceID: k.deviceID, Consumption: v})
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Period.Equal(out[j].Period) {
			return out[i].Period.Before(out[j].Period)
		}
		return out[i].DeviceID < out[j].DeviceID
	})
	return out
}

// Store provides grouped usage and the billing anchor
type Store interface {
	UsageData(ctx context.Context, f database.UsageFilter) ([]models.UsageRow, error)
	BillingAnchor(ctx context.Context) (*time.Time, error)
}

// Query describes a chart request
type Query struct {
	Caller   string
	Period   Period
	DeviceID string // Empty for all devices
	GroupBy  GroupBy
	Now      time.Time
}

// Load runs the usage query for the requested period and builds the chart
func Load(ctx context.Context, store Store, q Query) (Chart, error) {
	var anchor *time.Time
	if q.Period == PeriodBilling {
		a, err := store.BillingAnchor(ctx)
		if err != nil {
			return Chart{}, fmt.Errorf("loading billing anchor: %w", err)
		}
		anchor = a
	}

	start, end := Range(q.Period, q.Now, anchor)
	rows, err := store.UsageData(ctx, database.UsageFilter{DeviceID: q.DeviceID, Start: start, End: end})
	if err != nil {
		return Chart{}, fmt.Errorf("loading usage data: %w", err)
	}

	chart := Build(rows, q.Caller, start, q.GroupBy)
	chart.End = end
	return chart, nil
}
