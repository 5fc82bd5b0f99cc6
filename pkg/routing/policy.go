package routing

import (
	"strings"
	"time"

	"github.com/JiscPER/jper-sub000/pkg/matching"
)

// wildcardProvider keys the gold allow-list applied to every provider
const wildcardProvider = "*"

// Policy holds the operator-tunable routing behaviour. It is read once at the start
// of every routing run so a reload never changes a run midway.
type Policy struct {
	Matching matching.Config `json:"matching" yaml:"matching" mapstructure:"matching"`
	// GoldAllowLists maps a provider id (or "*") to the license types and URLs that
	// provider may declare as gold
	GoldAllowLists map[string][]string `json:"gold_allow_lists" yaml:"gold_allow_lists" mapstructure:"gold_allow_lists"`
	// RepackageFormats are the target formats requested for routed packages
	RepackageFormats []string `json:"repackage_formats" yaml:"repackage_formats" mapstructure:"repackage_formats"`
	// RetainUnrouted keeps the source record after disposition instead of deleting it
	RetainUnrouted bool `json:"retain_unrouted" yaml:"retain_unrouted" mapstructure:"retain_unrouted"`
	// KeepFailed persists honest no-match outcomes. Stalled outcomes are always persisted.
	KeepFailed bool `json:"keep_failed" yaml:"keep_failed" mapstructure:"keep_failed"`
	// MaxStalledAttempts bounds how often a stalled notification stays eligible for retry
	MaxStalledAttempts int `json:"max_stalled_attempts" yaml:"max_stalled_attempts" mapstructure:"max_stalled_attempts" validate:"gte=1"`
	// MaxConcurrency limits concurrent candidate evaluations; 0 means unlimited
	MaxConcurrency int `json:"max_concurrency" yaml:"max_concurrency" mapstructure:"max_concurrency" validate:"gte=0"`
	// CallTimeout bounds each extraction, repackaging and persistence call; 0 disables it
	CallTimeout time.Duration `json:"call_timeout" yaml:"call_timeout" mapstructure:"call_timeout" validate:"gte=0"`
}

// DefaultPolicy returns sensible defaults.
func DefaultPolicy() Policy {
	return Policy{
		Matching:           matching.DefaultConfig(),
		GoldAllowLists:     map[string][]string{},
		KeepFailed:         true,
		MaxStalledAttempts: 5,
		MaxConcurrency:     8,
		CallTimeout:        30 * time.Second,
	}
}

// GoldAllowList returns the provider's allow-list followed by the wildcard entries.
// Provider ids also match their lowercased key, the form viper stores map keys in.
func (p Policy) GoldAllowList(providerID string) []string {
	own, ok := p.GoldAllowLists[providerID]
	if !ok {
		own = p.GoldAllowLists[strings.ToLower(providerID)]
	}
	out := make([]string, 0, len(own)+len(p.GoldAllowLists[wildcardProvider]))
	out = append(out, own...)
	if providerID != wildcardProvider {
		out = append(out, p.GoldAllowLists[wildcardProvider]...)
	}
	return out
}

// PolicySource supplies the current policy
type PolicySource interface {
	Policy() Policy
}

// StaticPolicy is a PolicySource that never changes
type StaticPolicy Policy

// Policy returns the fixed policy
func (s StaticPolicy) Policy() Policy {
	return Policy(s)
}
