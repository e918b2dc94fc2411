package config

import (
	"fmt"
	"path/filepath"

	"github.com/wricardo/mcp-training/linetracer/sim/engine"
	"github.com/wricardo/mcp-training/linetracer/sim/world"
)

// Layout maps are limited to keep a bad file from allocating gigabytes
const (
	MaxLayoutScale = 50
	MaxMapPixels   = 4096 * 4096
)

// MapConfig describes one map file
type MapConfig struct {
	Name        string       `json:"name"`
	Description string       `json:"description"`
	CmPerPixel  float64      `json:"cm_per_pixel,omitempty"`
	Scale       int          `json:"scale,omitempty"`
	Layout      []string     `json:"layout,omitempty"`
	Image       string       `json:"image,omitempty"`
	Start       *engine.Pose `json:"start,omitempty"`
}

// MapInfo summarizes a map for listings
type MapInfo struct {
	Filename    string      `json:"filename"`
	MapID       string      `json:"map_id"`
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Width       int         `json:"width"`
	Height      int         `json:"height"`
	Start       engine.Pose `json:"start"`
}

// ValidateMapConfig checks a map configuration before it is used
func ValidateMapConfig(c *MapConfig) error {
	if c == nil {
		return fmt.Errorf("config is nil")
	}
	if c.Name == "" {
		return fmt.Errorf("name is required")
	}
	if c.CmPerPixel < 0 {
		return fmt.Errorf("cm_per_pixel must not be negative, got %v", c.CmPerPixel)
	}

	hasLayout, hasImage := len(c.Layout) > 0, c.Image != ""
	switch {
	case hasLayout && hasImage:
		return fmt.Errorf("layout and image are mutually exclusive")
	case !hasLayout && !hasImage:
		return fmt.Errorf("either layout or image is required")
	case hasImage:
		if filepath.IsAbs(c.Image) || filepath.Base(c.Image) != c.Image {
			return fmt.Errorf("image must be a file name in the config directory, got %q", c.Image)
		}
		return nil
	}

	scale := c.scale()
	if scale < 1 || scale > MaxLayoutScale {
		return fmt.Errorf("scale must be between 1 and %d, got %d", MaxLayoutScale, scale)
	}
	width := len([]rune(c.Layout[0]))
	if width == 0 {
		return fmt.Errorf("layout rows are empty")
	}
	for i, row := range c.Layout {
		cells := []rune(row)
		if len(cells) != width {
			return fmt.Errorf("row %d has %d cells, expected %d", i+1, len(cells), width)
		}
		for j, ch := range cells {
			if !world.IsLayoutChar(ch) {
				return fmt.Errorf("invalid character '%c' at row %d, col %d", ch, i+1, j+1)
			}
		}
	}
	if width*scale*len(c.Layout)*scale > MaxMapPixels {
		return fmt.Errorf("map is too large: %dx%d pixels", width*scale, len(c.Layout)*scale)
	}
	return nil
}

func (c *MapConfig) scale() int {
	if c.Scale == 0 {
		return 1
	}
	return c.Scale
}

// EngineConfig returns the engine configuration for the map with the
// given id. The explicit start pose wins over the start pose table.
func (c *MapConfig) EngineConfig(id string) engine.Config {
	cfg := engine.ConfigFor(id)
	if c.Start != nil {
		cfg.Start = *c.Start
	}
	if c.CmPerPixel > 0 {
		cfg.Physics.CmPerPixel = c.CmPerPixel
	}
	return cfg
}
