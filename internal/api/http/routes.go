package httpapi

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/i474232898/meteocat-sync/internal/meteocat"
	"github.com/i474232898/meteocat-sync/internal/scheduler"
	"github.com/i474232898/meteocat-sync/internal/store"
	"github.com/i474232898/meteocat-sync/internal/weather"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("hhmm", func(fl validator.FieldLevel) bool {
		return scheduler.ValidTime(fl.Field().String())
	})
	return v
}

// Engine is the part of the coordinator the API drives.
type Engine interface {
	Status() weather.Status
	Current() *weather.Snapshot
	Entry() weather.Entry
	RefreshMeasurements(ctx context.Context) (*weather.Snapshot, error)
	RefreshForecast(ctx context.Context) (*weather.Snapshot, error)
	Reauthenticate(ctx context.Context, key string) error
	SetUpdateTimes(ctx context.Context, times []string) error
}

// Schedule is the part of the scheduler the API reads and reconfigures.
type Schedule interface {
	Times() scheduler.DailyTimes
	NextUpdate() (time.Time, bool)
	RetryPending() (time.Time, bool)
	Reconfigure(times scheduler.DailyTimes) error
}

// History serves recorded snapshots.
type History interface {
	GetRange(key string, from, to time.Time) ([]*weather.Snapshot, error)
}

// EventLog serves recent notifications.
type EventLog interface {
	Recent() []weather.Event
}

// Deps holds everything the routes need. Timeout bounds manual refreshes and
// re-authentication.
type Deps struct {
	Engine   Engine
	Schedule Schedule
	History  History
	Events   EventLog
	Timeout  time.Duration
}

// ErrorHandler renders every error as {"error":true,"message":...}.
func ErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	var e *fiber.Error
	if errors.As(err, &e) {
		code = e.Code
	}
	return c.Status(code).JSON(fiber.Map{
		"error":   true,
		"message": err.Error(),
	})
}

// RegisterRoutes wires the HTTP handlers into the Fiber app.
func RegisterRoutes(app *fiber.App, d Deps) {
	if d.Timeout <= 0 {
		d.Timeout = 90 * time.Second
	}

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "ok",
			"service": "meteocat-sync",
		})
	})

	v1 := app.Group("/api/v1")

	v1.Get("/status", func(c *fiber.Ctx) error {
		resp := statusResponse{
			Status:      d.Engine.Status(),
			UpdateTimes: d.Schedule.Times().Strings(),
		}
		if at, ok := d.Schedule.NextUpdate(); ok {
			resp.ScheduledAt = &at
		}
		if at, ok := d.Schedule.RetryPending(); ok {
			resp.RetryAt = &at
		}
		return c.JSON(resp)
	})

	v1.Get("/snapshot", func(c *fiber.Ctx) error {
		snap := d.Engine.Current()
		if snap == nil {
			return fiber.NewError(fiber.StatusNotFound, "no data has been fetched yet")
		}
		return c.JSON(snap)
	})

	v1.Get("/history", func(c *fiber.Ctx) error {
		var req historyQuery
		if err := req.bind(c); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		if err := validate.Struct(req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		if req.Key == "" {
			req.Key = d.Engine.Entry().Key()
		}

		snapshots, err := d.History.GetRange(req.Key, req.From, req.To)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return fiber.NewError(fiber.StatusNotFound, "no snapshots for requested range")
			}
			return fiber.NewError(fiber.StatusInternalServerError, "failed to fetch snapshot history")
		}

		return c.JSON(fiber.Map{
			"key":       req.Key,
			"from":      req.From,
			"to":        req.To,
			"snapshots": snapshots,
		})
	})

	v1.Get("/events", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"events": d.Events.Recent()})
	})

	v1.Post("/refresh/measurements", func(c *fiber.Ctx) error {
		ctx, cancel := context.WithTimeout(c.UserContext(), d.Timeout)
		defer cancel()

		snap, err := d.Engine.RefreshMeasurements(ctx)
		if err != nil {
			return cycleError(c, err)
		}
		return c.JSON(snap)
	})

	v1.Post("/refresh/forecast", func(c *fiber.Ctx) error {
		ctx, cancel := context.WithTimeout(c.UserContext(), d.Timeout)
		defer cancel()

		snap, err := d.Engine.RefreshForecast(ctx)
		if err != nil {
			return cycleError(c, err)
		}
		return c.JSON(snap)
	})

	v1.Post("/reauth", func(c *fiber.Ctx) error {
		var req reauthRequest
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
		}
		if err := validate.Struct(req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}

		ctx, cancel := context.WithTimeout(c.UserContext(), d.Timeout)
		defer cancel()

		if err := d.Engine.Reauthenticate(ctx, req.APIKey); err != nil {
			if weather.IsAuth(err) {
				return fiber.NewError(fiber.StatusUnauthorized, "the API key was rejected")
			}
			if errors.Is(err, meteocat.ErrUnreachable) {
				return fiber.NewError(fiber.StatusBadGateway, "could not reach the remote service")
			}
			return fiber.NewError(fiber.StatusInternalServerError, err.Error())
		}
		return c.JSON(fiber.Map{"needs_reauth": false})
	})

	v1.Put("/schedule", func(c *fiber.Ctx) error {
		var req scheduleRequest
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
		}
		if err := validate.Struct(req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		times, err := scheduler.ParseDailyTimes(req.Times)
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}

		if err := d.Engine.SetUpdateTimes(c.UserContext(), times.Strings()); err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "failed to persist update times")
		}
		if err := d.Schedule.Reconfigure(times); err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, err.Error())
		}

		resp := fiber.Map{"update_times": times.Strings()}
		if at, ok := d.Schedule.NextUpdate(); ok {
			resp["scheduled_at"] = at
		}
		return c.JSON(resp)
	})
}

type statusResponse struct {
	weather.Status
	UpdateTimes []string   `json:"update_times"`
	ScheduledAt *time.Time `json:"scheduled_at,omitempty"`
	RetryAt     *time.Time `json:"retry_at,omitempty"`
}

type reauthRequest struct {
	APIKey string `json:"api_key" validate:"required"`
}

type scheduleRequest struct {
	Times []string `json:"times" validate:"min=1,max=3,unique,dive,hhmm"`
}

// cycleError maps a failed refresh onto a response.
func cycleError(c *fiber.Ctx, err error) error {
	switch {
	case weather.IsAuth(err):
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error":        true,
			"message":      "the API key was rejected",
			"needs_reauth": true,
		})
	case errors.Is(err, weather.ErrNotConfigured):
		return fiber.NewError(fiber.StatusConflict, err.Error())
	case errors.Is(err, weather.ErrCriticalDataMissing):
		return fiber.NewError(fiber.StatusBadGateway, "could not update: "+err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return fiber.NewError(fiber.StatusGatewayTimeout, "update timed out")
	default:
		return fiber.NewError(fiber.StatusInternalServerError, err.Error())
	}
}

// historyQuery holds query parameters for the history endpoint.
type historyQuery struct {
	Key  string    `validate:"omitempty,max=64"`
	From time.Time `validate:"required"`
	To   time.Time `validate:"required,gtefield=From"`
}

func (h *historyQuery) bind(c *fiber.Ctx) error {
	h.Key = c.Query("key")

	fromStr := c.Query("from")
	toStr := c.Query("to")
	if fromStr == "" || toStr == "" {
		return errors.New("from and to query parameters are required")
	}

	from, err := parseTime(fromStr)
	if err != nil {
		return err
	}
	to, err := parseTime(toStr)
	if err != nil {
		return err
	}

	h.From = from
	h.To = to
	return nil
}

// parseTime tries to parse either RFC3339 or Unix seconds.
func parseTime(s string) (time.Time, error) {
	if ts, err := time.Parse(time.RFC3339, s); err == nil {
		return ts, nil
	}
	if unix, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(unix, 0).UTC(), nil
	}
	return time.Time{}, errors.New("invalid time format; use RFC3339 or unix seconds")
}
