package httpapi

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/jgoulah/plugshare/internal/aggregate"
	"github.com/jgoulah/plugshare/internal/auth"
	"github.com/jgoulah/plugshare/internal/database"
	"github.com/jgoulah/plugshare/internal/estimate"
	"github.com/jgoulah/plugshare/internal/timeutil"
	"github.com/jgoulah/plugshare/pkg/models"
)

func (s *Server) handleListUsage(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	from, err := parseTime(q.Get("from"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid from")
		return
	}
	to, err := parseTime(q.Get("to"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid to")
		return
	}
	limit := 0
	if v := strings.TrimSpace(q.Get("limit")); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}

	records, err := s.store.ListUsage(r.Context(), database.UsageQuery{
		DeviceID: strings.TrimSpace(q.Get("device_id")),
		From:     from,
		To:       to,
		Limit:    limit,
	})
	if err != nil {
		slog.Error("listing usage failed", "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to fetch usage")
		return
	}
	if records == nil {
		records = []models.UsageRecord{}
	}
	writeJSON(w, http.StatusOK, records)
}

func (s *Server) handleUsageChart(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	period, err := aggregate.ParsePeriod(q.Get("period"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	groupBy, err := aggregate.ParseGroupBy(q.Get("group_by"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	claims := auth.GetClaims(r.Context())
	chart, err := aggregate.Load(r.Context(), s.store, aggregate.Query{
		Caller:   claims.Email,
		Period:   period,
		DeviceID: strings.TrimSpace(q.Get("device_id")),
		GroupBy:  groupBy,
		Now:      s.now(),
	})
	if err != nil {
		slog.Error("building usage chart failed", "period", period, "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to fetch usage data")
		return
	}
	writeJSON(w, http.StatusOK, chart)
}

func (s *Server) handleEstimatedTime(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeJSON(w, http.StatusBadRequest, estimate.Result{Message: "Invalid form data", Error: estimate.TagValidation})
		return
	}

	req := estimate.Request{
		DeviceID:       r.PostForm.Get("deviceId"),
		NewTime:        r.PostForm.Get("newTime"),
		TimezoneOffset: r.PostForm.Get("timezoneOffset"),
	}

	// check=1 validates the form as the user types without touching the session
	if r.URL.Query().Get("check") == "1" {
		if rej := estimate.Precheck(req, s.now()); rej != nil {
			writeJSON(w, statusForTag(rej.Tag), rej.Result())
			return
		}
		writeJSON(w, http.StatusOK, estimate.Result{Message: "Form data is valid"})
		return
	}

	res := s.estimates.Evaluate(r.Context(), auth.GetClaims(r.Context()), req)
	writeJSON(w, statusForTag(res.Error), res)
}

func statusForTag(tag estimate.Tag) int {
	switch tag {
	case "":
		return http.StatusOK
	case estimate.TagUnauthorized:
		return http.StatusUnauthorized
	case estimate.TagValidation:
		return http.StatusBadRequest
	case estimate.TagNotFound:
		return http.StatusNotFound
	case estimate.TagForbidden:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

type billingPeriodResponse struct {
	AnchorDate         *time.Time `json:"anchorDate"`
	CurrentPeriodStart time.Time  `json:"currentPeriodStart"`
}

type billingPeriodRequest struct {
	AnchorDate string `json:"anchorDate"`
}

func (s *Server) handleGetBillingPeriod(w http.ResponseWriter, r *http.Request) {
	anchor, err := s.store.BillingAnchor(r.Context())
	if err != nil {
		slog.Error("loading billing anchor failed", "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to fetch billing period")
		return
	}
	start, _ := aggregate.Range(aggregate.PeriodBilling, s.now(), anchor)
	writeJSON(w, http.StatusOK, billingPeriodResponse{AnchorDate: anchor, CurrentPeriodStart: start})
}

func (s *Server) handleSetBillingPeriod(w http.ResponseWriter, r *http.Request) {
	var req billingPeriodRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	anchor, err := parseDate(req.AnchorDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "anchorDate must be YYYY-MM-DD or RFC3339")
		return
	}
	if err := s.store.SetBillingAnchor(r.Context(), anchor); err != nil {
		slog.Error("saving billing anchor failed", "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to save billing period")
		return
	}
	slog.Info("billing anchor updated", "anchor", anchor, "by", auth.GetClaims(r.Context()).Email)
	writeJSON(w, http.StatusOK, billingPeriodResponse{
		AnchorDate:         &anchor,
		CurrentPeriodStart: timeutil.BillingPeriodStart(anchor, s.now()),
	})
}

func parseTime(v string) (time.Time, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

func parseDate(v string) (time.Time, error) {
	v = strings.TrimSpace(v)
	if t, err := time.Parse("2006-01-02", v); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}, err
	}
	return timeutil.StartOfDay(t), nil
}
