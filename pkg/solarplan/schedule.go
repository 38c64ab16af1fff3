package solarplan

import (
	"fmt"
	"time"
)

// DateLayout is the canonical calendar-date form used across the system.
const DateLayout = "2006-01-02"

// DaySchedule is a full day plan: exactly 48 contiguous half-hour segments
// covering 00:00-24:00 of a calendar date. Immutable once built; reloads
// replace the whole value.
type DaySchedule struct {
	date     string
	segments [SegmentsPerDay]TimeSegment
}

// NewDaySchedule validates and assembles a day schedule. Segments must be
// supplied in index order, one per half hour, with boundaries matching
// their index. date uses DateLayout.
func NewDaySchedule(date string, segments []TimeSegment) (*DaySchedule, error) {
	if _, err := time.Parse(DateLayout, date); err != nil {
		return nil, fmt.Errorf("solarplan: invalid schedule date %q: %w", date, err)
	}
	if len(segments) != SegmentsPerDay {
		return nil, fmt.Errorf("solarplan: schedule must have %d segments, got %d", SegmentsPerDay, len(segments))
	}
	sched := &DaySchedule{date: date}
	for i, seg := range segments {
		if seg.Index != i {
			return nil, fmt.Errorf("solarplan: segment at position %d has index %d", i, seg.Index)
		}
		want, err := DayTimeForIndex(i)
		if err != nil {
			return nil, err
		}
		if seg.Start != want {
			return nil, fmt.Errorf("solarplan: segment %d starts at %s, want %s", i, seg.Start, want)
		}
		wantEnd := DayTime{Hour: (i + 1) / 2 % 24, Minute: ((i + 1) % 2) * 30}
		if seg.End != wantEnd {
			return nil, fmt.Errorf("solarplan: segment %d ends at %s, want %s", i, seg.End, wantEnd)
		}
		if !seg.PlannedMode.Valid() {
			return nil, fmt.Errorf("solarplan: segment %d has invalid mode %q", i, seg.PlannedMode)
		}
		sched.segments[i] = seg
	}
	return sched, nil
}

func (s *DaySchedule) Date() string {
	return s.date
}

// SegmentForIndex fails with a range error for indexes outside 0..47.
func (s *DaySchedule) SegmentForIndex(index int) (*TimeSegment, error) {
	if index < 0 || index >= SegmentsPerDay {
		return nil, fmt.Errorf("solarplan: segment index %d out of range [0,%d]", index, SegmentsPerDay-1)
	}
	return &s.segments[index], nil
}

// SegmentForTime fails with a range error unless hour is 0..23 and minute
// is exactly 0 or 30.
func (s *DaySchedule) SegmentForTime(hour, minute int) (*TimeSegment, error) {
	idx, err := SegmentIndex(hour, minute)
	if err != nil {
		return nil, err
	}
	return &s.segments[idx], nil
}

// SegmentAt returns the segment covering an arbitrary instant, flooring the
// minute to the containing half hour.
func (s *DaySchedule) SegmentAt(now time.Time) *TimeSegment {
	minute := 0
	if now.Minute() >= 30 {
		minute = 30
	}
	seg, err := s.SegmentForTime(now.Hour(), minute)
	if err != nil {
		// unreachable: Hour() and the floored minute are always in range
		return nil
	}
	return seg
}

// Segments returns a copy of the day's segments in index order.
func (s *DaySchedule) Segments() []TimeSegment {
	out := make([]TimeSegment, SegmentsPerDay)
	copy(out, s.segments[:])
	return out
}
