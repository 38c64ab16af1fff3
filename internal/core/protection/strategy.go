package protection

import (
	"time"

	"github.com/paulmorrishill/solarplan2mqtt/internal/config"
	"github.com/paulmorrishill/solarplan2mqtt/internal/core/domain"
	"github.com/paulmorrishill/solarplan2mqtt/pkg/solarplan"

	"go.uber.org/zap"
)

// Strategy is one independent safety rule. Evaluate returns a replacement
// command, or nil to let the plan stand. Implementations own a private
// hysteresis flag and must refresh it on every call, including calls that
// end with no override, so the flag stays accurate tick to tick.
type Strategy interface {
	Name() string
	Evaluate(planned domain.InverterCommand, metric domain.MetricInstance, segment *solarplan.TimeSegment, now time.Time) *domain.InverterCommand
}

// Chain arbitrates an ordered set of strategies. Order is a design choice:
// device safety outranks economic and efficiency concerns, so low-battery
// protection is registered first.
type Chain struct {
	strategies []Strategy
}

func NewChain(strategies ...Strategy) *Chain {
	return &Chain{strategies: strategies}
}

// NewDefaultChain wires the three standard protections in their fixed
// order: low battery, overcharge, wasted solar.
func NewDefaultChain(cfg config.ProtectionsConfig, logger *zap.Logger) *Chain {
	return NewChain(
		NewLowBattery(cfg.LowBattery, logger),
		NewOvercharge(cfg.Overcharge, logger),
		NewWastedSolar(cfg.WastedSolar, logger),
	)
}

// Resolve evaluates every strategy (each must see every tick to keep its
// hysteresis current) and returns the first override in registration order
// together with the strategy name, or the plan unmodified and "".
func (c *Chain) Resolve(planned domain.InverterCommand, metric domain.MetricInstance, segment *solarplan.TimeSegment, now time.Time) (domain.InverterCommand, string) {
	resolved := planned
	overriddenBy := ""
	for _, s := range c.strategies {
		override := s.Evaluate(planned, metric, segment, now)
		if override != nil && overriddenBy == "" {
			resolved = *override
			overriddenBy = s.Name()
		}
	}
	return resolved, overriddenBy
}
