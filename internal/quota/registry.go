package quota

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// Action identifies a gated capability. Usage is counted per action key.
type Action string

// Gated actions.
const (
	ActionFashionAnalyze     Action = "fashion-analyze"
	ActionCameraAnalyze      Action = "camera-analyze"
	ActionStyleSuggestions   Action = "style-suggestions"
	ActionWardrobeAdd        Action = "wardrobe-add"
	ActionOutfitPlanGenerate Action = "outfit-plan-generate"
	ActionWardrobeBuilder    Action = "wardrobe-builder"
	ActionPersonalAnalysis   Action = "personal-analysis"
	ActionPreferencesUpdate  Action = "preferences-update"
	ActionChatbotMessage     Action = "chatbot-message"
)

// ErrUnknownAction is returned for action keys that have no policy.
var ErrUnknownAction = errors.New("unknown quota action")

// Policy is the per-tier limit table and reset period of one action.
type Policy struct {
	Action Action       `yaml:"action" json:"action"`
	Period Period       `yaml:"period" json:"period"`
	Limits map[Tier]int `yaml:"limits" json:"limits"`
}

// DefaultPolicies is the built-in limit table.
func DefaultPolicies() []Policy {
	standard := func(a Action) Policy {
		return Policy{Action: a, Period: Monthly, Limits: limits(1, 5, 20, Unlimited)}
	}
	return []Policy{
		standard(ActionFashionAnalyze),
		{Action: ActionCameraAnalyze, Period: Monthly, Limits: limits(0, 5, 20, Unlimited)},
		standard(ActionStyleSuggestions),
		standard(ActionWardrobeAdd),
		standard(ActionOutfitPlanGenerate),
		standard(ActionWardrobeBuilder),
		{Action: ActionPersonalAnalysis, Period: Monthly, Limits: limits(1, 10, 50, Unlimited)},
		{Action: ActionPreferencesUpdate, Period: Monthly, Limits: limits(1, 10, 30, Unlimited)},
		{Action: ActionChatbotMessage, Period: Daily, Limits: limits(5, 20, 50, Unlimited)},
	}
}

func limits(free, spotlight, elite, icon int) map[Tier]int {
	return map[Tier]int{
		TierFree:      free,
		TierSpotlight: spotlight,
		TierElite:     elite,
		TierIcon:      icon,
	}
}

// Registry is the immutable tier/action limit table. It is built once at
// startup and safe for concurrent reads.
type Registry struct {
	policies map[Action]Policy
}

// NewRegistry validates the policies and builds a Registry.
func NewRegistry(policies []Policy) (*Registry, error) {
	if len(policies) == 0 {
		return nil, errors.New("quota registry: no policies configured")
	}

	r := &Registry{policies: make(map[Action]Policy, len(policies))}
	for i, p := range policies {
		if p.Action == "" {
			return nil, fmt.Errorf("quota registry: policy %d has empty action", i)
		}
		if _, dup := r.policies[p.Action]; dup {
			return nil, fmt.Errorf("quota registry: duplicate action %q", p.Action)
		}
		period, err := ParsePeriod(string(p.Period))
		if err != nil {
			return nil, fmt.Errorf("quota registry: action %q: %w", p.Action, err)
		}

		lim := make(map[Tier]int, len(Tiers))
		for _, t := range Tiers {
			v, ok := p.Limits[t]
			if !ok {
				return nil, fmt.Errorf("quota registry: action %q missing limit for tier %q", p.Action, t)
			}
			if v < Unlimited {
				return nil, fmt.Errorf("quota registry: action %q tier %q: limit %d below -1", p.Action, t, v)
			}
			lim[t] = v
		}
		for t := range p.Limits {
			if !t.Valid() {
				return nil, fmt.Errorf("quota registry: action %q has unknown tier %q", p.Action, t)
			}
		}

		r.policies[p.Action] = Policy{Action: p.Action, Period: period, Limits: lim}
	}
	return r, nil
}

// DefaultRegistry returns the registry for DefaultPolicies.
func DefaultRegistry() *Registry {
	r, err := NewRegistry(DefaultPolicies())
	if err != nil {
		panic(err)
	}
	return r
}

type policyFile struct {
	Actions []Policy `yaml:"actions"`
}

// LoadRegistryFile reads a YAML policy table. An empty path yields the
// default registry.
func LoadRegistryFile(path string) (*Registry, error) {
	if path == "" {
		return DefaultRegistry(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading quota policy file: %w", err)
	}
	return ParseRegistry(data)
}

// ParseRegistry builds a Registry from YAML.
func ParseRegistry(data []byte) (*Registry, error) {
	var pf policyFile
	if err := yaml.Unmarshal(data, &pf); err != nil {
		return nil, fmt.Errorf("parsing quota policy file: %w", err)
	}
	return NewRegistry(pf.Actions)
}

// Policy returns the policy for an action.
func (r *Registry) Policy(action Action) (Policy, error) {
	p, ok := r.policies[action]
	if !ok {
		return Policy{}, fmt.Errorf("%w: %q", ErrUnknownAction, action)
	}
	return p, nil
}

// Limit returns the limit of action for tier. A tier outside the known set
// resolves to the free tier's limit; this is a deliberate fail-safe so a
// corrupted or retired tier value never grants more than the cheapest plan.
func (r *Registry) Limit(tier Tier, action Action) (int, error) {
	p, err := r.Policy(action)
	if err != nil {
		return 0, err
	}
	return p.limitFor(tier), nil
}

func (p Policy) limitFor(tier Tier) int {
	if v, ok := p.Limits[tier]; ok {
		return v
	}
	slog.Warn("quota: unknown tier, applying free tier limits", "tier", tier, "action", p.Action)
	return p.Limits[TierFree]
}

// Policies returns all policies sorted by action key.
func (r *Registry) Policies() []Policy {
	out := make([]Policy, 0, len(r.policies))
	for _, p := range r.policies {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Action < out[j].Action })
	return out
}
