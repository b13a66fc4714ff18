package plans

import (
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"
)

// Tier represents a subscription plan tier
type Tier string

const (
	TierFree     Tier = "free"
	TierBasic    Tier = "basic"
	TierStandard Tier = "standard"
	TierPro      Tier = "pro"

	// TierUnknown is the defined resting state for plan identifiers the
	// catalog does not recognize. Zero allotment, never a crash.
	TierUnknown Tier = "unknown"
)

// Plan describes a subscription tier
type Plan struct {
	Tier            Tier   `yaml:"tier" json:"tier"`
	CreditAllotment int    `yaml:"credits" json:"credits"`
	PriceCents      int64  `yaml:"price_cents" json:"price_cents"`
	StripePriceID   string `yaml:"stripe_price_id,omitempty" json:"stripe_price_id,omitempty"`
}

// Action names the billable features. The set must match what the product
// layer registers with the request gate.
const (
	ActionResumeGeneration     = "resume_generation"
	ActionCoverLetter          = "cover_letter"
	ActionLinkedInOptimization = "linkedin_optimization"
	ActionAISuggestions        = "ai_suggestions"
	ActionCareerPlanning       = "career_planning"
	ActionSalaryNegotiation    = "salary_negotiation"
	ActionResumeExport         = "resume_export"
)

// UnknownActionError indicates an action missing from the cost table
type UnknownActionError struct {
	Action string
}

func (e *UnknownActionError) Error() string {
	return fmt.Sprintf("unknown action %q: not in the credit cost table", e.Action)
}

// IsUnknownAction checks if an error is an unknown action error
func IsUnknownAction(err error) bool {
	_, ok := err.(*UnknownActionError)
	return ok
}

// Catalog maps plan tiers to plans and actions to credit costs.
// Safe for concurrent use; Replace swaps the whole table atomically.
type Catalog struct {
	mu      sync.RWMutex
	plans   map[Tier]Plan
	costs   map[string]int
	byPrice map[string]Tier
}

// catalogFile is the YAML shape of a catalog override file
type catalogFile struct {
	Plans   []Plan         `yaml:"plans"`
	Actions map[string]int `yaml:"actions"`
}

// DefaultCatalog returns the built-in catalog
func DefaultCatalog() *Catalog {
	c := &Catalog{}
	c.replace(
		[]Plan{
			{Tier: TierFree, CreditAllotment: 3, PriceCents: 0},
			{Tier: TierBasic, CreditAllotment: 10, PriceCents: 999, StripePriceID: "price_basic_monthly"},
			{Tier: TierStandard, CreditAllotment: 50, PriceCents: 1999, StripePriceID: "price_standard_monthly"},
			{Tier: TierPro, CreditAllotment: 200, PriceCents: 4999, StripePriceID: "price_pro_monthly"},
		},
		map[string]int{
			ActionResumeGeneration:     5,
			ActionCoverLetter:          3,
			ActionLinkedInOptimization: 4,
			ActionAISuggestions:        1,
			ActionCareerPlanning:       2,
			ActionSalaryNegotiation:    2,
			ActionResumeExport:         0,
		},
	)
	return c
}

// LoadCatalog reads a catalog override file, falling back to defaults for
// anything the file does not specify.
func LoadCatalog(path string) (*Catalog, error) {
	c := DefaultCatalog()
	if path == "" {
		return c, nil
	}
	if err := c.LoadFile(path); err != nil {
		return nil, err
	}
	return c, nil
}

// LoadFile merges a YAML override file into the catalog
func (c *Catalog) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read catalog file: %w", err)
	}

	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("failed to parse catalog file: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	for _, p := range file.Plans {
		if p.Tier == "" {
			return fmt.Errorf("catalog file: plan entry missing tier")
		}
		if p.CreditAllotment < 0 {
			return fmt.Errorf("catalog file: plan %s has negative allotment", p.Tier)
		}
		c.plans[p.Tier] = p
		if p.StripePriceID != "" {
			c.byPrice[p.StripePriceID] = p.Tier
		}
	}
	for action, cost := range file.Actions {
		if cost < 0 {
			return fmt.Errorf("catalog file: action %s has negative cost", action)
		}
		c.costs[action] = cost
	}

	return nil
}

func (c *Catalog) replace(plans []Plan, costs map[string]int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.plans = make(map[Tier]Plan, len(plans))
	c.byPrice = make(map[string]Tier)
	for _, p := range plans {
		c.plans[p.Tier] = p
		if p.StripePriceID != "" {
			c.byPrice[p.StripePriceID] = p.Tier
		}
	}
	c.costs = make(map[string]int, len(costs))
	for k, v := range costs {
		c.costs[k] = v
	}
}

// Plan returns the plan for a tier, or the TierUnknown plan for
// unrecognized identifiers.
func (c *Catalog) Plan(tier Tier) Plan {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if p, ok := c.plans[tier]; ok {
		return p
	}
	return Plan{Tier: TierUnknown, CreditAllotment: 0, PriceCents: 0}
}

// ValidTier reports whether the tier is in the closed plan enumeration
func (c *Catalog) ValidTier(tier Tier) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	_, ok := c.plans[tier]
	return ok
}

// Cost returns the credit cost of an action. Unknown actions are a
// configuration error, not a free ride.
func (c *Catalog) Cost(action string) (int, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	cost, ok := c.costs[action]
	if !ok {
		return 0, &UnknownActionError{Action: action}
	}
	return cost, nil
}

// Actions returns a copy of the action cost table
func (c *Catalog) Actions() map[string]int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make(map[string]int, len(c.costs))
	for k, v := range c.costs {
		out[k] = v
	}
	return out
}

// TierByStripePrice resolves a Stripe price identifier to a plan tier.
// Returns TierUnknown for prices the catalog does not map.
func (c *Catalog) TierByStripePrice(priceID string) Tier {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if t, ok := c.byPrice[priceID]; ok {
		return t
	}
	return TierUnknown
}

// Tiers returns all configured tiers
func (c *Catalog) Tiers() []Plan {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]Plan, 0, len(c.plans))
	for _, p := range c.plans {
		out = append(out, p)
	}
	return out
}
