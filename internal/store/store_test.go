package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/paulmorrishill/solarplan2mqtt/internal/core/domain"
	"github.com/paulmorrishill/solarplan2mqtt/pkg/solarplan"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testStorage(t *testing.T) *Storage {
	t.Helper()
	s, err := NewStorage(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

func storedSchedule(t *testing.T, date string) *solarplan.DaySchedule {
	t.Helper()
	segments := make([]solarplan.TimeSegment, solarplan.SegmentsPerDay)
	for i := range segments {
		start, err := solarplan.DayTimeForIndex(i)
		require.NoError(t, err)
		segments[i] = solarplan.TimeSegment{
			Index:                 i,
			Start:                 start,
			End:                   solarplan.DayTime{Hour: (i + 1) / 2 % 24, Minute: ((i + 1) % 2) * 30},
			StartBatteryChargeKwh: solarplan.Kwh(i),
			EndBatteryChargeKwh:   solarplan.Kwh(i + 1),
			GridPrice:             solarplan.GbpPerKwh(0.25),
			PlannedMode:           solarplan.WorkModeBatteryFirst,
			PlannedChargeRate:     1.5,
		}
	}
	schedule, err := solarplan.NewDaySchedule(date, segments)
	require.NoError(t, err)
	return schedule
}

func TestScheduleRoundTrip(t *testing.T) {

	s := testStorage(t)
	ctx := context.Background()

	schedule := storedSchedule(t, "2024-06-12")
	require.NoError(t, s.ReplaceSchedule(ctx, schedule))

	loaded, err := s.LoadSchedule(ctx, "2024-06-12")
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, schedule.Date(), loaded.Date())

	seg, err := loaded.SegmentForIndex(28)
	require.NoError(t, err)
	assert.Equal(t, solarplan.Kwh(28), seg.StartBatteryChargeKwh)
	assert.Equal(t, solarplan.Kwh(29), seg.EndBatteryChargeKwh)
	assert.Equal(t, solarplan.WorkModeBatteryFirst, seg.PlannedMode)
	assert.Equal(t, 1.5, seg.PlannedChargeRate)
}

func TestLoadScheduleMissingDateReturnsNil(t *testing.T) {

	s := testStorage(t)

	loaded, err := s.LoadSchedule(context.Background(), "2024-01-01")
	require.NoError(t, err)
	assert.Nil(t, loaded)
}

func TestReplaceScheduleOverwrites(t *testing.T) {

	s := testStorage(t)
	ctx := context.Background()

	require.NoError(t, s.ReplaceSchedule(ctx, storedSchedule(t, "2024-06-12")))

	updated := storedSchedule(t, "2024-06-12")
	segments := updated.Segments()
	segments[0].PlannedChargeRate = 3
	replacement, err := solarplan.NewDaySchedule("2024-06-12", segments)
	require.NoError(t, err)
	require.NoError(t, s.ReplaceSchedule(ctx, replacement))

	loaded, err := s.LoadSchedule(ctx, "2024-06-12")
	require.NoError(t, err)
	seg, err := loaded.SegmentForIndex(0)
	require.NoError(t, err)
	assert.Equal(t, 3.0, seg.PlannedChargeRate)
}

func TestControlActionsByDate(t *testing.T) {

	s := testStorage(t)
	ctx := context.Background()

	day := time.Date(2024, 6, 12, 14, 0, 0, 0, time.UTC)
	require.NoError(t, s.RecordControlAction(ctx, domain.ControlAction{
		Timestamp:         day,
		Command:           domain.InverterCommand{Mode: solarplan.WorkModeBatteryFirst, ChargeRate: 2},
		DispatchSucceeded: true,
		Attempts:          1,
	}))
	require.NoError(t, s.RecordControlAction(ctx, domain.ControlAction{
		Timestamp:         day.Add(30 * time.Minute),
		Command:           domain.InverterCommand{Mode: solarplan.WorkModeLoadFirst, ChargeRate: 0},
		OverriddenBy:      "wasted_solar",
		DispatchSucceeded: false,
		Attempts:          3,
	}))
	require.NoError(t, s.RecordControlAction(ctx, domain.ControlAction{
		Timestamp: day.AddDate(0, 0, 1),
		Command:   domain.InverterCommand{Mode: solarplan.WorkModeBatteryFirst, ChargeRate: 1},
	}))

	actions, err := s.ActionsForDate(ctx, "2024-06-12")
	require.NoError(t, err)
	require.Len(t, actions, 2)
	assert.True(t, actions[0].DispatchSucceeded)
	assert.Equal(t, "wasted_solar", actions[1].OverriddenBy)
	assert.Equal(t, 3, actions[1].Attempts)

	none, err := s.ActionsForDate(ctx, "2024-06-14")
	require.NoError(t, err)
	assert.Empty(t, none)
}
