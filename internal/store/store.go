package store

import (
	"context"
	"time"

	"github.com/paulmorrishill/solarplan2mqtt/internal/core/domain"
	"github.com/paulmorrishill/solarplan2mqtt/pkg/solarplan"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Storage persists control actions and day schedules in sqlite. It backs
// both port.ControlActionRecorder and port.ScheduleStore.
type Storage struct {
	db *gorm.DB
}

type ControlActionRecord struct {
	ID                uint      `gorm:"primaryKey"`
	Timestamp         time.Time `gorm:"column:timestamp;index"`
	Date              string    `gorm:"column:date;index"`
	Mode              string    `gorm:"column:mode"`
	ChargeRate        float64   `gorm:"column:charge_rate"`
	OverriddenBy      string    `gorm:"column:overridden_by"`
	DispatchSucceeded bool      `gorm:"column:dispatch_succeeded"`
	Attempts          int       `gorm:"column:attempts"`
}

func (ControlActionRecord) TableName() string {
	return "control_actions"
}

type ScheduleSegmentRecord struct {
	Date                    string  `gorm:"primaryKey;column:date"`
	SegmentIndex            int     `gorm:"primaryKey;column:segment_index"`
	ExpectedSolarGeneration float64 `gorm:"column:expected_solar_generation_kwh"`
	ExpectedConsumption     float64 `gorm:"column:expected_consumption_kwh"`
	StartBatteryChargeKwh   float64 `gorm:"column:start_battery_charge_kwh"`
	EndBatteryChargeKwh     float64 `gorm:"column:end_battery_charge_kwh"`
	WastedSolarGeneration   float64 `gorm:"column:wasted_solar_generation_kwh"`
	ActualGridUsage         float64 `gorm:"column:actual_grid_usage_kwh"`
	GridPrice               float64 `gorm:"column:grid_price_gbp_per_kwh"`
	PlannedMode             string  `gorm:"column:planned_mode"`
	PlannedChargeRate       float64 `gorm:"column:planned_charge_rate"`
}

func (ScheduleSegmentRecord) TableName() string {
	return "schedule_segments"
}

func NewStorage(path string) (*Storage, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, err
	}
	return &Storage{db: db}, nil
}

func (s *Storage) Migrate(ctx context.Context) error {
	return s.db.WithContext(ctx).AutoMigrate(
		&ControlActionRecord{},
		&ScheduleSegmentRecord{},
	)
}

func (s *Storage) RecordControlAction(ctx context.Context, action domain.ControlAction) error {
	record := ControlActionRecord{
		Timestamp:         action.Timestamp,
		Date:              action.Timestamp.Format(solarplan.DateLayout),
		Mode:              string(action.Command.Mode),
		ChargeRate:        action.Command.ChargeRate,
		OverriddenBy:      action.OverriddenBy,
		DispatchSucceeded: action.DispatchSucceeded,
		Attempts:          action.Attempts,
	}
	return s.db.WithContext(ctx).Create(&record).Error
}

func (s *Storage) ActionsForDate(ctx context.Context, date string) ([]domain.ControlAction, error) {
	var records []ControlActionRecord
	result := s.db.WithContext(ctx).Where("date = ?", date).Order("timestamp asc").Find(&records)
	if result.Error != nil {
		return nil, result.Error
	}
	actions := make([]domain.ControlAction, 0, len(records))
	for _, record := range records {
		actions = append(actions, domain.ControlAction{
			Timestamp: record.Timestamp,
			Command: domain.InverterCommand{
				Mode:       solarplan.WorkMode(record.Mode),
				ChargeRate: record.ChargeRate,
			},
			OverriddenBy:      record.OverriddenBy,
			DispatchSucceeded: record.DispatchSucceeded,
			Attempts:          record.Attempts,
		})
	}
	return actions, nil
}

func (s *Storage) ReplaceSchedule(ctx context.Context, schedule *solarplan.DaySchedule) error {
	records := make([]ScheduleSegmentRecord, 0, solarplan.SegmentsPerDay)
	for _, segment := range schedule.Segments() {
		records = append(records, ScheduleSegmentRecord{
			Date:                    schedule.Date(),
			SegmentIndex:            segment.Index,
			ExpectedSolarGeneration: float64(segment.ExpectedSolarGeneration),
			ExpectedConsumption:     float64(segment.ExpectedConsumption),
			StartBatteryChargeKwh:   float64(segment.StartBatteryChargeKwh),
			EndBatteryChargeKwh:     float64(segment.EndBatteryChargeKwh),
			WastedSolarGeneration:   float64(segment.WastedSolarGeneration),
			ActualGridUsage:         float64(segment.ActualGridUsage),
			GridPrice:               float64(segment.GridPrice),
			PlannedMode:             string(segment.PlannedMode),
			PlannedChargeRate:       segment.PlannedChargeRate,
		})
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("date = ?", schedule.Date()).Delete(&ScheduleSegmentRecord{}).Error; err != nil {
			return err
		}
		return tx.Create(&records).Error
	})
}

func (s *Storage) LoadSchedule(ctx context.Context, date string) (*solarplan.DaySchedule, error) {
	var records []ScheduleSegmentRecord
	result := s.db.WithContext(ctx).Where("date = ?", date).Order("segment_index asc").Find(&records)
	if result.Error != nil {
		return nil, result.Error
	}
	if len(records) == 0 {
		return nil, nil
	}
	segments := make([]solarplan.TimeSegment, 0, len(records))
	for _, record := range records {
		start, err := solarplan.DayTimeForIndex(record.SegmentIndex)
		if err != nil {
			return nil, err
		}
		end := solarplan.DayTime{
			Hour:   (record.SegmentIndex + 1) / 2 % 24,
			Minute: ((record.SegmentIndex + 1) % 2) * 30,
		}
		segments = append(segments, solarplan.TimeSegment{
			Index:                   record.SegmentIndex,
			Start:                   start,
			End:                     end,
			ExpectedSolarGeneration: solarplan.Kwh(record.ExpectedSolarGeneration),
			ExpectedConsumption:     solarplan.Kwh(record.ExpectedConsumption),
			StartBatteryChargeKwh:   solarplan.Kwh(record.StartBatteryChargeKwh),
			EndBatteryChargeKwh:     solarplan.Kwh(record.EndBatteryChargeKwh),
			WastedSolarGeneration:   solarplan.Kwh(record.WastedSolarGeneration),
			ActualGridUsage:         solarplan.Kwh(record.ActualGridUsage),
			GridPrice:               solarplan.GbpPerKwh(record.GridPrice),
			PlannedMode:             solarplan.WorkMode(record.PlannedMode),
			PlannedChargeRate:       record.PlannedChargeRate,
		})
	}
	return solarplan.NewDaySchedule(date, segments)
}
