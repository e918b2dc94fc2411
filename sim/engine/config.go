package engine

import (
	"fmt"
	"math"
	"path/filepath"
	"strings"
	"time"
)

// Physical and pacing defaults
const (
	DefaultCmPerPixel    = 0.225
	DefaultTurningRadius = 5.5
	DefaultProbeSpan     = 30
	DefaultProbeStep     = 5
	DefaultRobotSize     = 60
	DefaultDelay         = 100 * time.Millisecond

	// MaxSpeedLevel is the top of the speed slider scale
	MaxSpeedLevel = 100
)

// Physics holds the fixed constants of the robot model
type Physics struct {
	// CmPerPixel converts real distances to map pixels
	CmPerPixel float64 `json:"cm_per_pixel"`
	// TurningRadius is used to convert rotations to arc length (cm)
	TurningRadius float64 `json:"turning_radius"`
	// SensorMounts are sensor offsets relative to the center at heading 0
	SensorMounts [3]Point `json:"sensor_mounts"`
	// ProbeSpan and ProbeStep define the axis-aligned on-line probe
	ProbeSpan int `json:"probe_span"`
	ProbeStep int `json:"probe_step"`
	// RobotSize is the footprint edge in pixels
	RobotSize int `json:"robot_size"`
}

// Config is the immutable engine configuration for one map
type Config struct {
	Physics Physics       `json:"physics"`
	Start   Pose          `json:"start"`
	Delay   time.Duration `json:"delay"`
}

// DefaultStart is used for maps without a known start pose
var DefaultStart = Pose{X: 200, Y: 200, Heading: 0}

// startPoses is keyed by map file name
var startPoses = map[string]Pose{
	"map1-rect.png":   {X: 330, Y: 130, Heading: 90},
	"map2-circ.png":   {X: 450, Y: 138, Heading: 110},
	"map3-grid.png":   {X: 88, Y: 450, Heading: 0},
	"map4-grid.png":   {X: 135, Y: 480, Heading: 90},
	"map5-motegi.png": {X: 410, Y: 435, Heading: 95},
	"map6-monte.png":  {X: 94, Y: 320, Heading: 10},
	"map7-fuji.png":   {X: 410, Y: 205, Heading: 90},
	"map8-suzuka.png": {X: 580, Y: 117, Heading: 90},
}

// StartPoseFor looks up the start pose for a map by file name. The
// directory and extension are ignored, so "maps/map1-rect.png" and
// "map1-rect" resolve alike.
func StartPoseFor(mapName string) (Pose, bool) {
	base := strings.TrimSuffix(filepath.Base(mapName), filepath.Ext(mapName))
	pose, ok := startPoses[base+".png"]
	return pose, ok
}

// DefaultPhysics returns the standard robot constants
func DefaultPhysics() Physics {
	return Physics{
		CmPerPixel:    DefaultCmPerPixel,
		TurningRadius: DefaultTurningRadius,
		SensorMounts: [3]Point{
			{X: +10, Y: -20},
			{X: 0, Y: -20},
			{X: -10, Y: -20},
		},
		ProbeSpan: DefaultProbeSpan,
		ProbeStep: DefaultProbeStep,
		RobotSize: DefaultRobotSize,
	}
}

// DefaultConfig returns the standard configuration with the fallback start
func DefaultConfig() Config {
	return Config{
		Physics: DefaultPhysics(),
		Start:   DefaultStart,
		Delay:   DefaultDelay,
	}
}

// ConfigFor returns the default configuration with the start pose of the
// named map, when known.
func ConfigFor(mapName string) Config {
	cfg := DefaultConfig()
	if pose, ok := StartPoseFor(mapName); ok {
		cfg.Start = pose
	}
	return cfg
}

// ValidateConfig checks an engine configuration for usable values
func ValidateConfig(cfg Config) error {
	p := cfg.Physics
	if p.CmPerPixel <= 0 {
		return fmt.Errorf("config validation: cm_per_pixel must be positive, got %v", p.CmPerPixel)
	}
	if p.TurningRadius <= 0 {
		return fmt.Errorf("config validation: turning_radius must be positive, got %v", p.TurningRadius)
	}
	if p.ProbeStep <= 0 {
		return fmt.Errorf("config validation: probe_step must be positive, got %d", p.ProbeStep)
	}
	if p.ProbeSpan <= 0 || p.ProbeSpan%p.ProbeStep != 0 {
		return fmt.Errorf("config validation: probe_span must be a positive multiple of probe_step, got %d", p.ProbeSpan)
	}
	if p.RobotSize <= 0 {
		return fmt.Errorf("config validation: robot_size must be positive, got %d", p.RobotSize)
	}
	if cfg.Delay < 0 {
		return fmt.Errorf("config validation: delay must not be negative, got %v", cfg.Delay)
	}
	return nil
}

// SpeedDelay converts a speed level in [1, MaxSpeedLevel] to a pacing
// delay on a logarithmic scale: level 1 is about 667ms, the top level
// about 1ms. Out-of-range levels are clamped.
func SpeedDelay(level int) time.Duration {
	if level < 1 {
		level = 1
	}
	if level > MaxSpeedLevel {
		level = MaxSpeedLevel
	}
	ms := float64(MaxSpeedLevel*10) - math.Log10(float64(level*10))*333
	return time.Duration(math.Round(ms)) * time.Millisecond
}
