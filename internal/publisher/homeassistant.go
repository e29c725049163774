package publisher

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/jgoulah/plugshare/internal/config"
	"github.com/jgoulah/plugshare/internal/timeutil"
	"github.com/jgoulah/plugshare/pkg/models"
	"github.com/shopspring/decimal"
)

// HomeAssistant backfills daily consumption into a Home Assistant sensor through
// the AppDaemon endpoints
type HomeAssistant struct {
	cfg    config.HAConfig
	client *http.Client
}

// NewHomeAssistant validates the config and creates a client
func NewHomeAssistant(cfg config.HAConfig) (*HomeAssistant, error) {
	if !cfg.Enabled {
		return nil, fmt.Errorf("Home Assistant publishing is not enabled in config")
	}
	if cfg.URL == "" {
		return nil, fmt.Errorf("Home Assistant URL is required when enabled")
	}
	if cfg.Token == "" {
		return nil, fmt.Errorf("Home Assistant token is required when enabled")
	}
	if cfg.EntityID == "" {
		return nil, fmt.Errorf("Home Assistant entity_id is required when enabled")
	}
	cfg.URL = strings.TrimRight(cfg.URL, "/")
	return &HomeAssistant{cfg: cfg, client: &http.Client{Timeout: 60 * time.Second}}, nil
}

// DailyTotal is one day's household consumption
type DailyTotal struct {
	Day time.Time
	KWh decimal.Decimal
}

// DailyTotals sums grouped usage rows per day across devices and users, in day order
func DailyTotals(rows []models.UsageRow) []DailyTotal {
	var out []DailyTotal
	for _, row := range rows {
		v := timeutil.CeilCents(row.Consumption)
		if n := len(out); n > 0 && out[n-1].Day.Equal(row.Day) {
			out[n-1].KWh = out[n-1].KWh.Add(v)
			continue
		}
		out = append(out, DailyTotal{Day: row.Day, KWh: v})
	}
	return out
}

// HAPayload matches the Home Assistant backfill service call data
type HAPayload struct {
	EntityID    string `json:"entity_id"`
	State       string `json:"state"`
	LastChanged string `json:"last_changed"`
	LastUpdated string `json:"last_updated"`
}

// StatsResult summarizes a statistics generation run
type StatsResult struct {
	Inserted   int `json:"inserted"`
	Updated    int `json:"updated"`
	TotalHours int `json:"total_hours"`
}

// Backfill sends one day's total as a historical sensor state
func (h *HomeAssistant) Backfill(ctx context.Context, total DailyTotal) error {
	timestamp := total.Day.UTC().Format(time.RFC3339)
	payload := HAPayload{
		EntityID:    h.cfg.EntityID,
		State:       total.KWh.StringFixed(2),
		LastChanged: timestamp,
		LastUpdated: timestamp,
	}
	_, err := h.post(ctx, "/api/appdaemon/backfill_state", payload)
	return err
}

// GenerateStatistics compiles long-term statistics from the backfilled states
func (h *HomeAssistant) GenerateStatistics(ctx context.Context) (StatsResult, error) {
	body, err := h.post(ctx, "/api/appdaemon/generate_statistics", map[string]string{"entity_id": h.cfg.EntityID})
	if err != nil {
		return StatsResult{}, err
	}
	var res StatsResult
	if err := json.Unmarshal(body, &res); err != nil {
		return StatsResult{}, fmt.Errorf("parsing response: %w", err)
	}
	return res, nil
}

// EntityID returns the sensor being backfilled
func (h *HomeAssistant) EntityID() string {
	return h.cfg.EntityID
}

func (h *HomeAssistant) post(ctx context.Context, path string, payload any) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encoding payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.cfg.URL+path, bytes.NewBuffer(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+h.cfg.Token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request error: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP error: status %d, response: %s", resp.StatusCode, string(respBody))
	}
	return respBody, nil
}
