package protection

import (
	"time"

	"github.com/paulmorrishill/solarplan2mqtt/internal/config"
	"github.com/paulmorrishill/solarplan2mqtt/internal/core/domain"
	"github.com/paulmorrishill/solarplan2mqtt/pkg/solarplan"

	"go.uber.org/zap"
)

// WastedSolar flips the inverter to LoadFirst when the battery saturates
// during daylight, so generation serves the house instead of being clipped
// against a full battery. Outside the configured daylight window the
// strategy resets its flag and never overrides.
type WastedSolar struct {
	cfg    config.WastedSolarConfig
	active bool
	logger *zap.Logger
}

func NewWastedSolar(cfg config.WastedSolarConfig, logger *zap.Logger) *WastedSolar {
	return &WastedSolar{
		cfg:    cfg,
		logger: logger.With(zap.String("protection", "wasted_solar")),
	}
}

func (s *WastedSolar) Name() string {
	return "wasted_solar"
}

func (s *WastedSolar) Evaluate(_ domain.InverterCommand, metric domain.MetricInstance, _ *solarplan.TimeSegment, now time.Time) *domain.InverterCommand {
	hour := now.Hour()
	if hour < s.cfg.WindowStartHour || hour > s.cfg.WindowEndHour {
		s.active = false
		return nil
	}

	pct := metric.BatteryPercent
	if !s.active {
		if pct >= s.cfg.SaturationPercent {
			s.active = true
			s.logger.Info("battery saturated, routing solar to load", zap.Float64("battery_percent", pct))
		}
	} else if pct < s.cfg.ReleasePercent {
		s.active = false
		s.logger.Info("battery below saturation", zap.Float64("battery_percent", pct))
	}
	if !s.active {
		return nil
	}
	return &domain.InverterCommand{
		Mode:       solarplan.WorkModeLoadFirst,
		ChargeRate: 0,
	}
}
