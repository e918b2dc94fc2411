// Package policy provides the control algorithms selectable for the
// simulated robot and a registry to look them up by name.
package policy

import (
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"time"

	"github.com/wricardo/mcp-training/linetracer/sim/engine"
	"github.com/wricardo/mcp-training/linetracer/sim/qlearning"
)

var ErrUnknownPolicy = errors.New("unknown policy")

// Config carries the settings a policy may need at construction
type Config struct {
	Training qlearning.Settings
	// Rand seeds exploration; a time-based source is used when nil
	Rand *rand.Rand
}

// DefaultConfig returns the built-in policy settings
func DefaultConfig() Config {
	return Config{Training: qlearning.DefaultSettings()}
}

// Factory builds a fresh policy instance
type Factory func(cfg Config) (engine.Policy, error)

var registry = map[string]Factory{
	LineTracerName: func(Config) (engine.Policy, error) { return NewLineTracer(), nil },
	QLearnerName:   func(cfg Config) (engine.Policy, error) { return NewQLearner(cfg) },
}

var descriptions = map[string]string{
	LineTracerName: "Follows the line with the outer sensors and swings back toward the last correction when lost",
	QLearnerName:   "Learns a steering table with Q-learning on the sensor states, then drives greedily",
}

// Description returns a one-line summary of the named policy
func Description(name string) string {
	return descriptions[name]
}

// Names returns the registered policy names in sorted order
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// New builds the named policy
func New(name string, cfg Config) (engine.Policy, error) {
	factory, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPolicy, name)
	}
	return factory(cfg)
}

func (cfg Config) rng() *rand.Rand {
	if cfg.Rand != nil {
		return cfg.Rand
	}
	return rand.New(rand.NewSource(time.Now().UnixNano()))
}
