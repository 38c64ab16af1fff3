package protection

import (
	"time"

	"github.com/paulmorrishill/solarplan2mqtt/internal/config"
	"github.com/paulmorrishill/solarplan2mqtt/internal/core/domain"
	"github.com/paulmorrishill/solarplan2mqtt/pkg/solarplan"

	"go.uber.org/zap"
)

// Overcharge stops paid grid charging when the battery is already ahead of
// plan. The expected level is interpolated between the segment's start and
// end battery targets at the tick instant; the strategy engages when the
// live reading exceeds it by more than the activation margin and releases
// once the excess falls to the smaller deactivation margin. It only
// considers intervening while the plan actually charges at a non-negative
// grid price: a negative price means charging ahead of plan is free money,
// so the strategy stands down entirely. It never forces a discharge, only a
// zero rate.
type Overcharge struct {
	cfg    config.OverchargeConfig
	active bool
	logger *zap.Logger
}

func NewOvercharge(cfg config.OverchargeConfig, logger *zap.Logger) *Overcharge {
	return &Overcharge{
		cfg:    cfg,
		logger: logger.With(zap.String("protection", "overcharge")),
	}
}

func (s *Overcharge) Name() string {
	return "overcharge"
}

func (s *Overcharge) Evaluate(planned domain.InverterCommand, metric domain.MetricInstance, segment *solarplan.TimeSegment, now time.Time) *domain.InverterCommand {
	charging := planned.Mode == solarplan.WorkModeBatteryFirst && planned.ChargeRate > 0
	if !charging || segment.GridPrice.IsNegative() {
		s.active = false
		return nil
	}

	expected := segment.ExpectedBatteryChargeAt(now)
	ratio, err := expected.Div(metric.BatteryCapacity)
	if err != nil {
		// no usable capacity reading; refusing to guess beats overriding on garbage
		s.active = false
		s.logger.Warn("battery capacity unavailable, skipping", zap.Error(err))
		return nil
	}
	excess := metric.BatteryPercent - ratio*100

	if !s.active {
		if excess > s.cfg.ActivationMarginPercent {
			s.active = true
			s.logger.Info("battery ahead of plan, pausing charge", zap.Float64("excess_percent", excess))
		}
	} else if excess <= s.cfg.DeactivationMarginPercent {
		s.active = false
		s.logger.Info("battery back near plan", zap.Float64("excess_percent", excess))
	}
	if !s.active {
		return nil
	}
	return &domain.InverterCommand{
		Mode:       solarplan.WorkModeBatteryFirst,
		ChargeRate: 0,
	}
}
