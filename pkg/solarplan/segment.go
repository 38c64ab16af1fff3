package solarplan

import (
	"fmt"
	"time"
)

// SegmentsPerDay is the number of half-hour planning windows in a day.
const SegmentsPerDay = 48

// SegmentDuration is the length of one planning window.
const SegmentDuration = 30 * time.Minute

// DayTime is a wall-clock time of day aligned to a segment boundary.
type DayTime struct {
	Hour   int
	Minute int
}

func (d DayTime) String() string {
	return fmt.Sprintf("%02d:%02d", d.Hour, d.Minute)
}

// SegmentIndex maps an (hour, minute) segment boundary to its index.
// Returns a range error unless hour is 0..23 and minute is 0 or 30.
func SegmentIndex(hour, minute int) (int, error) {
	if hour < 0 || hour > 23 {
		return 0, fmt.Errorf("solarplan: hour %d out of range [0,23]", hour)
	}
	if minute != 0 && minute != 30 {
		return 0, fmt.Errorf("solarplan: minute %d must be 0 or 30", minute)
	}
	idx := hour * 2
	if minute == 30 {
		idx++
	}
	return idx, nil
}

// DayTimeForIndex is the inverse of SegmentIndex, total over 0..47.
func DayTimeForIndex(index int) (DayTime, error) {
	if index < 0 || index >= SegmentsPerDay {
		return DayTime{}, fmt.Errorf("solarplan: segment index %d out of range [0,%d]", index, SegmentsPerDay-1)
	}
	return DayTime{Hour: index / 2, Minute: (index % 2) * 30}, nil
}

// TimeSegment is one half-hour window of the optimizer's day plan.
// Segments are built once per schedule load and treated as read-only.
type TimeSegment struct {
	Index int
	Start DayTime
	End   DayTime

	ExpectedSolarGeneration Kwh
	ExpectedConsumption     Kwh
	StartBatteryChargeKwh   Kwh
	EndBatteryChargeKwh     Kwh
	WastedSolarGeneration   Kwh
	ActualGridUsage         Kwh

	GridPrice GbpPerKwh

	PlannedMode       WorkMode
	PlannedChargeRate float64
}

// Cost is the money spent (or earned, if negative) on grid energy over
// this segment.
func (s *TimeSegment) Cost() Gbp {
	return s.ActualGridUsage.Cost(s.GridPrice)
}

// Interval materializes the segment against a calendar date. The 23:30
// segment ends at midnight of the next day; that is the only case where the
// end rolls over.
func (s *TimeSegment) Interval(date time.Time) (start, end time.Time) {
	loc := date.Location()
	start = time.Date(date.Year(), date.Month(), date.Day(), s.Start.Hour, s.Start.Minute, 0, 0, loc)
	end = time.Date(date.Year(), date.Month(), date.Day(), s.End.Hour, s.End.Minute, 0, 0, loc)
	if !end.After(start) {
		end = end.AddDate(0, 0, 1)
	}
	return start, end
}

// ProgressWithin reports how far now lies between the segment's start and
// end on now's calendar date, clamped to [0,1] against clock skew.
func (s *TimeSegment) ProgressWithin(now time.Time) float64 {
	start, end := s.Interval(now)
	total := end.Sub(start)
	if total <= 0 {
		return 0
	}
	p := float64(now.Sub(start)) / float64(total)
	if p < 0 {
		return 0
	}
	if p > 1 {
		return 1
	}
	return p
}

// ExpectedBatteryChargeAt linearly interpolates the planned battery level
// for an instant within the segment.
func (s *TimeSegment) ExpectedBatteryChargeAt(now time.Time) Kwh {
	p := s.ProgressWithin(now)
	return s.StartBatteryChargeKwh.Add(s.EndBatteryChargeKwh.Sub(s.StartBatteryChargeKwh).MulScalar(p))
}
