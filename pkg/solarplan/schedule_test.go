package solarplan

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSegments() []TimeSegment {
	segs := make([]TimeSegment, SegmentsPerDay)
	for i := range segs {
		start, _ := DayTimeForIndex(i)
		end := DayTime{Hour: (i + 1) / 2 % 24, Minute: ((i + 1) % 2) * 30}
		segs[i] = TimeSegment{
			Index:       i,
			Start:       start,
			End:         end,
			PlannedMode: WorkModeLoadFirst,
		}
	}
	return segs
}

func TestNewDayScheduleValid(t *testing.T) {
	sched, err := NewDaySchedule("2024-06-12", testSegments())
	require.NoError(t, err)
	assert.Equal(t, "2024-06-12", sched.Date())

	for i := 0; i < SegmentsPerDay; i++ {
		seg, err := sched.SegmentForIndex(i)
		require.NoError(t, err)
		assert.Equal(t, i, seg.Index)

		seg, err = sched.SegmentForTime(i/2, (i%2)*30)
		require.NoError(t, err)
		assert.Equal(t, i, seg.Index)
	}
}

func TestNewDayScheduleRejectsBadInput(t *testing.T) {
	segs := testSegments()

	_, err := NewDaySchedule("12/06/2024", segs)
	assert.Error(t, err, "bad date format")

	_, err = NewDaySchedule("2024-06-12", segs[:47])
	assert.Error(t, err, "missing segment")

	swapped := testSegments()
	swapped[3], swapped[4] = swapped[4], swapped[3]
	_, err = NewDaySchedule("2024-06-12", swapped)
	assert.Error(t, err, "out of order")

	badMode := testSegments()
	badMode[10].PlannedMode = "eco"
	_, err = NewDaySchedule("2024-06-12", badMode)
	assert.Error(t, err, "invalid mode")
}

func TestSegmentLookupRangeErrors(t *testing.T) {
	sched, err := NewDaySchedule("2024-06-12", testSegments())
	require.NoError(t, err)

	_, err = sched.SegmentForIndex(-1)
	assert.Error(t, err)
	_, err = sched.SegmentForIndex(48)
	assert.Error(t, err)
	_, err = sched.SegmentForTime(9, 10)
	assert.Error(t, err)
	_, err = sched.SegmentForTime(25, 0)
	assert.Error(t, err)
}

func TestSegmentAtFloorsToHalfHour(t *testing.T) {
	sched, err := NewDaySchedule("2024-06-12", testSegments())
	require.NoError(t, err)

	seg := sched.SegmentAt(time.Date(2024, 6, 12, 14, 29, 59, 0, time.UTC))
	require.NotNil(t, seg)
	assert.Equal(t, 28, seg.Index)

	seg = sched.SegmentAt(time.Date(2024, 6, 12, 14, 30, 0, 0, time.UTC))
	require.NotNil(t, seg)
	assert.Equal(t, 29, seg.Index)

	seg = sched.SegmentAt(time.Date(2024, 6, 12, 23, 45, 0, 0, time.UTC))
	require.NotNil(t, seg)
	assert.Equal(t, 47, seg.Index)
}
