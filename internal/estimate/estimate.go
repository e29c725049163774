// Package estimate validates and applies edits to a session's estimated use time.
//
// Every submission runs through one ordered list of guards. Each guard either
// rejects with a tag and message or lets the next one run. Precheck runs the
// guards that need no caller or storage, for early feedback in forms.
package estimate

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/jgoulah/plugshare/internal/auth"
	"github.com/jgoulah/plugshare/internal/timeutil"
	"github.com/jgoulah/plugshare/pkg/models"
)

// MaxHorizon bounds how far past the session start an estimate may be set
const MaxHorizon = 8 * time.Hour

// Tag classifies a rejected update
type Tag string

const (
	TagUnauthorized Tag = "Unauthorized"
	TagValidation   Tag = "Validation Error"
	TagNotFound     Tag = "Not Found"
	TagForbidden    Tag = "Forbidden"
	TagServer       Tag = "Server Error"
)

// Request is the submitted form
type Request struct {
	DeviceID       string
	NewTime        string // Local wall time, e.g. 2025-03-10T18:30
	TimezoneOffset string // Minutes, UTC minus local
}

// Result is returned to the caller for every submission
type Result struct {
	Message     string     `json:"message"`
	Error       Tag        `json:"error,omitempty"`
	UpdatedTime *time.Time `json:"updatedTime,omitempty"`
}

// Rejection halts the guard chain
type Rejection struct {
	Tag     Tag
	Message string
}

func (r *Rejection) Error() string { return string(r.Tag) + ": " + r.Message }

// Result converts the rejection into the response shape
func (r *Rejection) Result() Result {
	return Result{Message: r.Message, Error: r.Tag}
}

// Store is what the authoritative evaluation reads and writes
type Store interface {
	GetActive(ctx context.Context, deviceID string) (*models.ActiveDevice, error)
	UpdateEstimatedTime(ctx context.Context, usageID int64, t time.Time) error
}

// Evaluation carries the state guards read and fill in
type Evaluation struct {
	Caller  *auth.Claims
	Request Request
	Now     time.Time

	Offset  int
	NewTime time.Time
	Active  *models.ActiveDevice

	store Store
}

// Guard checks one rule
type Guard func(ctx context.Context, e *Evaluation) *Rejection

// Guards in the order they are applied
var (
	formGuards = []Guard{checkForm, checkDate, checkFuture}

	authoritativeGuards = []Guard{
		checkCaller,
		checkForm,
		checkDate,
		checkFuture,
		checkSession,
		checkChanged,
		checkHorizon,
	}
)

func checkCaller(_ context.Context, e *Evaluation) *Rejection {
	if e.Caller == nil || e.Caller.Email == "" || !auth.RoleAtLeast(auth.RoleMember, e.Caller.Role) {
		return &Rejection{TagUnauthorized, "You must be signed in as a member to update times"}
	}
	return nil
}

func checkForm(_ context.Context, e *Evaluation) *Rejection {
	invalid := &Rejection{TagValidation, "Invalid form data"}
	if strings.TrimSpace(e.Request.DeviceID) == "" || strings.TrimSpace(e.Request.NewTime) == "" {
		return invalid
	}
	offset := strings.TrimSpace(e.Request.TimezoneOffset)
	if offset == "" {
		e.Offset = 0
		return nil
	}
	n, err := strconv.Atoi(offset)
	if err != nil {
		return invalid
	}
	e.Offset = n
	return nil
}

func checkDate(_ context.Context, e *Evaluation) *Rejection {
	t, err := timeutil.FromLocal(strings.TrimSpace(e.Request.NewTime), e.Offset)
	if err != nil {
		return &Rejection{TagValidation, "Invalid date format"}
	}
	e.NewTime = t
	return nil
}

func checkFuture(_ context.Context, e *Evaluation) *Rejection {
	if !timeutil.IsDateInFuture(e.NewTime, e.Now) {
		return &Rejection{TagValidation, "Date must be in the future"}
	}
	return nil
}

func checkSession(ctx context.Context, e *Evaluation) *Rejection {
	active, err := e.store.GetActive(ctx, strings.TrimSpace(e.Request.DeviceID))
	if err != nil {
		slog.Error("loading active device", "device_id", e.Request.DeviceID, "error", err)
		return serverError(err)
	}
	if active == nil || active.UsageRecord == nil {
		return &Rejection{TagNotFound, "Device is not currently in use"}
	}
	if !strings.EqualFold(active.UsageRecord.UserEmail, e.Caller.Email) {
		return &Rejection{TagForbidden, "You can only update times for your own devices"}
	}
	e.Active = active
	return nil
}

func checkChanged(_ context.Context, e *Evaluation) *Rejection {
	current := e.Active.UsageRecord.EstimatedUseTime
	if current != nil && timeutil.AreDatesEqualToMinute(*current, e.NewTime) {
		return &Rejection{TagValidation, "No change made to the date"}
	}
	return nil
}

func checkHorizon(_ context.Context, e *Evaluation) *Rejection {
	if !timeutil.IsWithinHours(e.NewTime, e.Active.UsageRecord.StartDate, MaxHorizon) {
		return &Rejection{TagValidation, "Date must be within 8 hours of the start date"}
	}
	return nil
}

func serverError(err error) *Rejection {
	msg := "Failed to update estimated use time"
	if err != nil && err.Error() != "" {
		msg = err.Error()
	}
	return &Rejection{TagServer, msg}
}

func run(ctx context.Context, guards []Guard, e *Evaluation) *Rejection {
	for _, g := range guards {
		if r := g(ctx, e); r != nil {
			return r
		}
	}
	return nil
}

// Precheck runs the form and date rules only. A nil result does not mean the
// update will succeed.
func Precheck(req Request, now time.Time) *Rejection {
	e := &Evaluation{Request: req, Now: now}
	return run(context.Background(), formGuards, e)
}

// Updater applies estimated time edits
type Updater struct {
	store Store
	now   func() time.Time
}

// NewUpdater creates an updater backed by store
func NewUpdater(store Store) *Updater {
	return &Updater{store: store, now: time.Now}
}

// WithClock replaces the clock
func (u *Updater) WithClock(now func() time.Time) *Updater {
	u.now = now
	return u
}

// Evaluate runs every guard and persists the new time when all pass
func (u *Updater) Evaluate(ctx context.Context, caller *auth.Claims, req Request) Result {
	e := &Evaluation{
		Caller:  caller,
		Request: req,
		Now:     u.now(),
		store:   u.store,
	}
	if r := run(ctx, authoritativeGuards, e); r != nil {
		return r.Result()
	}

	if err := u.store.UpdateEstimatedTime(ctx, e.Active.UsageRecordID, e.NewTime); err != nil {
		slog.Error("updating estimated use time", "device_id", e.Active.DeviceID, "error", err)
		return serverError(fmt.Errorf("updating estimated use time: %w", err)).Result()
	}

	updated := e.NewTime.UTC()
	slog.Info("estimated use time updated", "device_id", e.Active.DeviceID, "user", caller.Email, "estimated_use_time", updated)
	return Result{Message: "Estimated use time updated", UpdatedTime: &updated}
}
