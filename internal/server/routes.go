package server

import (
	"net/http"
	"time"

	"github.com/paulmorrishill/solarplan2mqtt/internal/core/domain"
	"github.com/paulmorrishill/solarplan2mqtt/pkg/solarplan"

	"github.com/carlmjohnson/versioninfo"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func (s *Server) RegisterRoutes() http.Handler {
	e := echo.New()
	if s.httpLog {
		e.Use(middleware.Logger())
	}
	e.Use(middleware.Recover())

	e.GET("/healthcheck", s.HealthCheckHandler)
	e.GET("/state", s.StateHandler)
	e.POST("/retry", s.RetryCommandHandler)
	e.GET("/schedule", s.GetScheduleHandler)
	e.PUT("/schedule", s.PutScheduleHandler)
	e.GET("/actions", s.ActionsHandler)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	return e
}

type healthCheckResponse struct {
	Healthy bool   `json:"healthy"`
	Version string `json:"version"`
}

func (s *Server) HealthCheckHandler(c echo.Context) error {
	res, err := s.rootContext.RequestFuture(s.masterActor, domain.ActorHealthRequest{}, 10*time.Second).Result()
	if err != nil {
		return c.JSON(http.StatusServiceUnavailable, healthCheckResponse{Healthy: false, Version: versioninfo.Short()})
	}
	if response, ok := res.(domain.ActorHealthResponse); ok && response.Healthy {
		return c.JSON(http.StatusOK, healthCheckResponse{Healthy: true, Version: versioninfo.Short()})
	}
	return c.JSON(http.StatusServiceUnavailable, healthCheckResponse{Healthy: false, Version: versioninfo.Short()})
}

func (s *Server) StateHandler(c echo.Context) error {
	return c.JSON(http.StatusOK, s.stateHolder.Load())
}

type retryResponse struct {
	Retrying bool `json:"retrying"`
}

// RetryCommandHandler asks the control loop to re-dispatch its last resolved
// command. Retrying is false when there is nothing to retry.
func (s *Server) RetryCommandHandler(c echo.Context) error {
	res, err := s.rootContext.RequestFuture(s.masterActor, domain.RetryCommandRequest{}, 10*time.Second).Result()
	if err != nil {
		return c.JSON(http.StatusServiceUnavailable, errorResponse{Error: err.Error()})
	}
	response, ok := res.(domain.RetryCommandResponse)
	if !ok {
		return c.JSON(http.StatusInternalServerError, errorResponse{Error: "unexpected retry response"})
	}
	return c.JSON(http.StatusOK, retryResponse{Retrying: response.Retrying})
}

type errorResponse struct {
	Error string `json:"error"`
}

type segmentPayload struct {
	Index                   int     `json:"index"`
	ExpectedSolarGeneration float64 `json:"expected_solar_generation_kwh"`
	ExpectedConsumption     float64 `json:"expected_consumption_kwh"`
	StartBatteryChargeKwh   float64 `json:"start_battery_charge_kwh"`
	EndBatteryChargeKwh     float64 `json:"end_battery_charge_kwh"`
	WastedSolarGeneration   float64 `json:"wasted_solar_generation_kwh"`
	ActualGridUsage         float64 `json:"actual_grid_usage_kwh"`
	GridPrice               float64 `json:"grid_price_gbp_per_kwh"`
	PlannedMode             string  `json:"planned_mode"`
	PlannedChargeRate       float64 `json:"planned_charge_rate"`
}

type schedulePayload struct {
	Date     string           `json:"date"`
	Segments []segmentPayload `json:"segments"`
}

func scheduleFromPayload(payload schedulePayload) (*solarplan.DaySchedule, error) {
	segments := make([]solarplan.TimeSegment, 0, len(payload.Segments))
	for _, seg := range payload.Segments {
		start, err := solarplan.DayTimeForIndex(seg.Index)
		if err != nil {
			return nil, err
		}
		end := solarplan.DayTime{
			Hour:   (seg.Index + 1) / 2 % 24,
			Minute: ((seg.Index + 1) % 2) * 30,
		}
		segments = append(segments, solarplan.TimeSegment{
			Index:                   seg.Index,
			Start:                   start,
			End:                     end,
			ExpectedSolarGeneration: solarplan.Kwh(seg.ExpectedSolarGeneration),
			ExpectedConsumption:     solarplan.Kwh(seg.ExpectedConsumption),
			StartBatteryChargeKwh:   solarplan.Kwh(seg.StartBatteryChargeKwh),
			EndBatteryChargeKwh:     solarplan.Kwh(seg.EndBatteryChargeKwh),
			WastedSolarGeneration:   solarplan.Kwh(seg.WastedSolarGeneration),
			ActualGridUsage:         solarplan.Kwh(seg.ActualGridUsage),
			GridPrice:               solarplan.GbpPerKwh(seg.GridPrice),
			PlannedMode:             solarplan.WorkMode(seg.PlannedMode),
			PlannedChargeRate:       seg.PlannedChargeRate,
		})
	}
	return solarplan.NewDaySchedule(payload.Date, segments)
}

func schedulePayloadFrom(schedule *solarplan.DaySchedule) schedulePayload {
	payload := schedulePayload{Date: schedule.Date()}
	for _, seg := range schedule.Segments() {
		payload.Segments = append(payload.Segments, segmentPayload{
			Index:                   seg.Index,
			ExpectedSolarGeneration: float64(seg.ExpectedSolarGeneration),
			ExpectedConsumption:     float64(seg.ExpectedConsumption),
			StartBatteryChargeKwh:   float64(seg.StartBatteryChargeKwh),
			EndBatteryChargeKwh:     float64(seg.EndBatteryChargeKwh),
			WastedSolarGeneration:   float64(seg.WastedSolarGeneration),
			ActualGridUsage:         float64(seg.ActualGridUsage),
			GridPrice:               float64(seg.GridPrice),
			PlannedMode:             string(seg.PlannedMode),
			PlannedChargeRate:       seg.PlannedChargeRate,
		})
	}
	return payload
}

func (s *Server) GetScheduleHandler(c echo.Context) error {
	date := c.QueryParam("date")
	if date == "" {
		date = time.Now().Format(solarplan.DateLayout)
	}
	schedule, err := s.storage.LoadSchedule(c.Request().Context(), date)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, errorResponse{Error: err.Error()})
	}
	if schedule == nil {
		return c.JSON(http.StatusNotFound, errorResponse{Error: "no schedule for " + date})
	}
	return c.JSON(http.StatusOK, schedulePayloadFrom(schedule))
}

// PutScheduleHandler stores a full day plan and swaps it into the control
// loop. The payload must carry all 48 half-hour segments in index order.
func (s *Server) PutScheduleHandler(c echo.Context) error {
	var payload schedulePayload
	if err := c.Bind(&payload); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
	}
	schedule, err := scheduleFromPayload(payload)
	if err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
	}
	if err := s.storage.ReplaceSchedule(c.Request().Context(), schedule); err != nil {
		return c.JSON(http.StatusInternalServerError, errorResponse{Error: err.Error()})
	}
	res, err := s.rootContext.RequestFuture(s.masterActor, domain.LoadScheduleRequest{Schedule: schedule}, 10*time.Second).Result()
	if err != nil {
		return c.JSON(http.StatusServiceUnavailable, errorResponse{Error: err.Error()})
	}
	if _, ok := res.(domain.LoadScheduleResponse); !ok {
		return c.JSON(http.StatusInternalServerError, errorResponse{Error: "unexpected schedule response"})
	}
	return c.JSON(http.StatusOK, schedulePayloadFrom(schedule))
}

func (s *Server) ActionsHandler(c echo.Context) error {
	date := c.QueryParam("date")
	if date == "" {
		date = time.Now().Format(solarplan.DateLayout)
	}
	if _, err := time.Parse(solarplan.DateLayout, date); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
	}
	actions, err := s.storage.ActionsForDate(c.Request().Context(), date)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, errorResponse{Error: err.Error()})
	}
	return c.JSON(http.StatusOK, actions)
}
