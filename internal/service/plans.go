package service

import (
	"fmt"
	"strings"

	"dropaccess/internal/config"
	"dropaccess/internal/model"
)

// PlanCatalog resolves plan names to Stripe prices.
type PlanCatalog struct {
	plans map[model.Tier]config.Plan
}

func NewPlanCatalog(plans []config.Plan) *PlanCatalog {
	c := &PlanCatalog{plans: make(map[model.Tier]config.Plan, len(plans))}
	for _, p := range plans {
		c.plans[p.Tier] = p
	}
	return c
}

// Lookup accepts a plan name case-insensitively.
func (c *PlanCatalog) Lookup(name string) (config.Plan, error) {
	tier, ok := model.ParseTier(strings.ToLower(strings.TrimSpace(name)))
	if !ok {
		return config.Plan{}, fmt.Errorf("%w: %q", ErrInvalidPlan, name)
	}
	p, ok := c.plans[tier]
	if !ok || p.PriceID == "" {
		return config.Plan{}, fmt.Errorf("%w: %q is not offered", ErrInvalidPlan, name)
	}
	return p, nil
}

// Prices maps each tier to its price ID.
func (c *PlanCatalog) Prices() map[model.Tier]string {
	out := make(map[model.Tier]string, len(c.plans))
	for tier, p := range c.plans {
		out[tier] = p.PriceID
	}
	return out
}
