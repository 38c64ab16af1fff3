package protection

import (
	"time"

	"github.com/paulmorrishill/solarplan2mqtt/internal/config"
	"github.com/paulmorrishill/solarplan2mqtt/internal/core/domain"
	"github.com/paulmorrishill/solarplan2mqtt/pkg/solarplan"

	"go.uber.org/zap"
)

// LowBattery forces a minimum charge when the battery sinks to a critical
// level. Activation and recovery thresholds are asymmetric so the strategy
// cannot flap at the boundary: it engages at or below critical_percent and
// releases only once the battery exceeds the strictly higher
// recovery_percent.
type LowBattery struct {
	cfg    config.LowBatteryConfig
	active bool
	logger *zap.Logger
}

func NewLowBattery(cfg config.LowBatteryConfig, logger *zap.Logger) *LowBattery {
	return &LowBattery{
		cfg:    cfg,
		logger: logger.With(zap.String("protection", "low_battery")),
	}
}

func (s *LowBattery) Name() string {
	return "low_battery"
}

func (s *LowBattery) Evaluate(planned domain.InverterCommand, metric domain.MetricInstance, _ *solarplan.TimeSegment, _ time.Time) *domain.InverterCommand {
	pct := metric.BatteryPercent
	if !s.active {
		if pct <= s.cfg.CriticalPercent {
			s.active = true
			s.logger.Warn("battery critically low, forcing charge", zap.Float64("battery_percent", pct))
		}
	} else if pct > s.cfg.RecoveryPercent {
		s.active = false
		s.logger.Info("battery recovered", zap.Float64("battery_percent", pct))
	}
	if !s.active {
		return nil
	}
	// the plan may already be charging hard enough
	if planned.Mode == solarplan.WorkModeBatteryFirst && planned.ChargeRate >= s.cfg.MinChargeRate {
		return nil
	}
	return &domain.InverterCommand{
		Mode:       solarplan.WorkModeBatteryFirst,
		ChargeRate: s.cfg.MinChargeRate,
	}
}
