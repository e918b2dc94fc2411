package qlearning

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Default training settings, used for any hyperparameter missing from
// the training file.
const (
	DefaultAlpha   = 0.1
	DefaultGamma   = 0.9
	DefaultEpsilon = 0.8
	DefaultTrials  = 30
	DefaultSteps   = 400
)

// trainingKind is the kind expected at the top of a training file
const trainingKind = "training"

// document is the top level of a training file: a kind tag and the
// settings under def.
type document struct {
	Kind string      `mapstructure:"kind"`
	Def  interface{} `mapstructure:"def"`
}

// TrainingConfig is the def section of a training file. Viper lowercases
// keys, so the yaml tags are lowercase too.
type TrainingConfig struct {
	// HyperParams overrides individual settings by name
	HyperParams []HyperParameter `yaml:"hyperparams"`
	// Algorithm names the policy under "policy"
	Algorithm map[string]string `yaml:"algorithm"`
	// TrainingDeadline limits training under "duration", e.g. 30s
	TrainingDeadline map[string]string `yaml:"trainingdeadline"`
}

// HyperParameter is one named override
type HyperParameter struct {
	Key string  `yaml:"key"`
	Val float64 `yaml:"val"`
}

// Settings are the resolved parameters of one training session
type Settings struct {
	Alpha   float64 `json:"alpha"`
	Gamma   float64 `json:"gamma"`
	Epsilon float64 `json:"epsilon"`
	Trials  int     `json:"trials"`
	Steps   int     `json:"steps"`
}

// DefaultSettings returns the built-in training parameters
func DefaultSettings() Settings {
	return Settings{
		Alpha:   DefaultAlpha,
		Gamma:   DefaultGamma,
		Epsilon: DefaultEpsilon,
		Trials:  DefaultTrials,
		Steps:   DefaultSteps,
	}
}

// Param returns the value of the named hyperparameter. The last
// override wins; fallback is returned when there is none.
func (cfg *TrainingConfig) Param(name string, fallback float64) float64 {
	val := fallback
	for _, hp := range cfg.HyperParams {
		if hp.Key == name {
			val = hp.Val
		}
	}
	return val
}

// Settings resolves the hyperparameters against the defaults
func (cfg *TrainingConfig) Settings() Settings {
	def := DefaultSettings()
	return Settings{
		Alpha:   cfg.Param("alpha", def.Alpha),
		Gamma:   cfg.Param("gamma", def.Gamma),
		Epsilon: cfg.Param("epsilon", def.Epsilon),
		Trials:  int(cfg.Param("trials", float64(def.Trials))),
		Steps:   int(cfg.Param("steps", float64(def.Steps))),
	}
}

// PolicyName returns the algorithm selector, or fallback when unset
func (cfg *TrainingConfig) PolicyName(fallback string) string {
	if name, ok := cfg.Algorithm["policy"]; ok && name != "" {
		return name
	}
	return fallback
}

// Deadline derives the context that bounds training. Without a
// duration the context only ends with ctx.
func (cfg *TrainingConfig) Deadline(ctx context.Context) (context.Context, context.CancelFunc, error) {
	val, ok := cfg.TrainingDeadline["duration"]
	if !ok {
		inner, cancel := context.WithCancel(ctx)
		return inner, cancel, nil
	}

	d, err := time.ParseDuration(val)
	if err != nil {
		return nil, nil, fmt.Errorf("training deadline %q: %w", val, err)
	}
	inner, cancel := context.WithTimeout(ctx, d)
	return inner, cancel, nil
}

// FromYaml loads a training file. Viper reads the document; the def
// section is then decoded through yaml so the yaml tags apply.
func FromYaml(path string) (*TrainingConfig, error) {
	vp := viper.New()
	vp.SetConfigFile(path)
	vp.SetConfigType("yaml")
	if err := vp.ReadInConfig(); err != nil {
		return nil, err
	}

	var doc document
	if err := vp.Unmarshal(&doc); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	if doc.Kind != trainingKind {
		return nil, fmt.Errorf("%s: expected kind %q, got %q", path, trainingKind, doc.Kind)
	}

	def, err := yaml.Marshal(doc.Def)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	cfg := &TrainingConfig{}
	if err := yaml.Unmarshal(def, cfg); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return cfg, nil
}
