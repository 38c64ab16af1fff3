package port

import (
	"context"

	"github.com/paulmorrishill/solarplan2mqtt/internal/core/domain"
	"github.com/paulmorrishill/solarplan2mqtt/pkg/solarplan"
)

// ControlActionRecorder persists per-tick dispatch outcomes. Writes are
// fire-and-forget from the control loop's perspective; failures must be
// logged by the caller, never raised into the tick.
type ControlActionRecorder interface {
	RecordControlAction(ctx context.Context, action domain.ControlAction) error
}

// ScheduleStore supplies and replaces day plans.
type ScheduleStore interface {
	// LoadSchedule returns nil without error when no plan exists for date.
	LoadSchedule(ctx context.Context, date string) (*solarplan.DaySchedule, error)
	ReplaceSchedule(ctx context.Context, schedule *solarplan.DaySchedule) error
}
