package config

import (
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/wricardo/mcp-training/linetracer/sim/engine"
	"github.com/wricardo/mcp-training/linetracer/sim/world"
)

func createValidConfig() *MapConfig {
	return &MapConfig{
		Name:        "Test Map",
		Description: "Test map",
		Scale:       10,
		Layout: []string{
			"WWGWW",
			"WWBWW",
			"WWBWW",
			"WWBWW",
		},
	}
}

func writeConfigFile(t *testing.T, dir, name string, config interface{}) {
	t.Helper()
	data, err := json.MarshalIndent(config, "", "  ")
	if err != nil {
		t.Fatalf("Failed to marshal config: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, name+".json"), data, 0644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}
}

func TestNewManager(t *testing.T) {
	t.Run("missing directory", func(t *testing.T) {
		if _, err := NewManager(filepath.Join(t.TempDir(), "nope")); err == nil {
			t.Error("Expected error for missing config directory")
		}
	})

	t.Run("empty directory", func(t *testing.T) {
		m, err := NewManager(t.TempDir())
		if err != nil {
			t.Fatalf("Failed to create manager: %v", err)
		}
		if m.GetDefault() != "" {
			t.Errorf("Expected no default map, got %q", m.GetDefault())
		}
	})

	t.Run("prefers map1-rect", func(t *testing.T) {
		dir := t.TempDir()
		writeConfigFile(t, dir, "aaa", createValidConfig())
		writeConfigFile(t, dir, DefaultMapName, createValidConfig())

		m, err := NewManager(dir)
		if err != nil {
			t.Fatalf("Failed to create manager: %v", err)
		}
		if m.GetDefault() != DefaultMapName {
			t.Errorf("Expected default %q, got %q", DefaultMapName, m.GetDefault())
		}
	})

	t.Run("falls back to first valid map", func(t *testing.T) {
		dir := t.TempDir()
		writeConfigFile(t, dir, "aaa", map[string]string{"name": "broken"})
		writeConfigFile(t, dir, "bbb", createValidConfig())

		m, err := NewManager(dir)
		if err != nil {
			t.Fatalf("Failed to create manager: %v", err)
		}
		if m.GetDefault() != "bbb" {
			t.Errorf("Expected default bbb, got %q", m.GetDefault())
		}
	})
}

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	writeConfigFile(t, dir, "valid", createValidConfig())
	if err := os.WriteFile(filepath.Join(dir, "garbage.json"), []byte("{not json"), 0644); err != nil {
		t.Fatal(err)
	}
	bad := createValidConfig()
	bad.Layout[1] = "WWXWW"
	writeConfigFile(t, dir, "badchar", bad)

	m, err := NewManager(dir)
	if err != nil {
		t.Fatalf("Failed to create manager: %v", err)
	}

	tests := []struct {
		name    string
		input   string
		wantErr error
	}{
		{"valid", "valid", nil},
		{"with extension", "valid.json", nil},
		{"missing", "missing", ErrMapNotFound},
		{"unparseable", "garbage", ErrInvalidMap},
		{"invalid character", "badchar", ErrInvalidMap},
		{"path traversal", "../valid", ErrMapNotFound},
		{"hidden", ".valid", ErrMapNotFound},
		{"empty", "", ErrMapNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config, err := m.LoadConfig(tt.input)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("Expected %v, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if config.Name != "Test Map" {
				t.Errorf("Expected name Test Map, got %q", config.Name)
			}
		})
	}

	first, _ := m.LoadConfig("valid")
	second, _ := m.LoadConfig("valid")
	if first != second {
		t.Error("Expected cached config to be returned")
	}
}

func TestValidateMapConfig(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*MapConfig)
	}{
		{"missing name", func(c *MapConfig) { c.Name = "" }},
		{"negative cm per pixel", func(c *MapConfig) { c.CmPerPixel = -1 }},
		{"no layout or image", func(c *MapConfig) { c.Layout = nil }},
		{"layout and image", func(c *MapConfig) { c.Image = "map.png" }},
		{"ragged rows", func(c *MapConfig) { c.Layout[2] = "WWB" }},
		{"empty rows", func(c *MapConfig) { c.Layout = []string{"", ""} }},
		{"scale too large", func(c *MapConfig) { c.Scale = MaxLayoutScale + 1 }},
		{"negative scale", func(c *MapConfig) { c.Scale = -2 }},
		{"image outside directory", func(c *MapConfig) { c.Layout = nil; c.Image = "../map.png" }},
	}

	if err := ValidateMapConfig(createValidConfig()); err != nil {
		t.Fatalf("Expected valid config, got %v", err)
	}
	if err := ValidateMapConfig(nil); err == nil {
		t.Error("Expected error for nil config")
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := createValidConfig()
			tt.mutate(c)
			if err := ValidateMapConfig(c); err == nil {
				t.Error("Expected validation error")
			}
		})
	}
}

func TestLoadMap(t *testing.T) {
	dir := t.TempDir()

	layout := createValidConfig()
	layout.Start = &engine.Pose{X: 25, Y: 35, Heading: 0}
	layout.CmPerPixel = 0.5
	writeConfigFile(t, dir, "layout", layout)

	// file name with a known start pose and no explicit start
	writeConfigFile(t, dir, "map2-circ", createValidConfig())

	img := image.NewNRGBA(image.Rect(0, 0, 8, 6))
	for y := 0; y < 6; y++ {
		for x := 0; x < 8; x++ {
			img.Set(x, y, color.White)
		}
	}
	img.Set(3, 3, color.Black)
	f, err := os.Create(filepath.Join(dir, "drawn.png"))
	if err != nil {
		t.Fatal(err)
	}
	if err := png.Encode(f, img); err != nil {
		t.Fatal(err)
	}
	f.Close()
	writeConfigFile(t, dir, "image", &MapConfig{Name: "Drawn", Image: "drawn.png"})
	writeConfigFile(t, dir, "noimage", &MapConfig{Name: "Missing", Image: "missing.png"})

	m, err := NewManager(dir)
	if err != nil {
		t.Fatalf("Failed to create manager: %v", err)
	}

	t.Run("layout map", func(t *testing.T) {
		built, cfg, err := m.LoadMap("layout")
		if err != nil {
			t.Fatalf("Failed to load map: %v", err)
		}
		if built.Width() != 50 || built.Height() != 40 || built.Name() != "layout" {
			t.Errorf("Unexpected map %s %dx%d", built.Name(), built.Width(), built.Height())
		}
		if built.ColorAt(25, 5) != world.Green || built.ColorAt(25, 25) != world.Black {
			t.Error("Expected goal and line pixels from the layout")
		}
		if cfg.Start != *layout.Start || cfg.Physics.CmPerPixel != 0.5 {
			t.Errorf("Expected explicit start and scale, got %+v", cfg)
		}

		again, _, _ := m.LoadMap("layout")
		if again != built {
			t.Error("Expected the built map to be cached")
		}
	})

	t.Run("start pose table", func(t *testing.T) {
		_, cfg, err := m.LoadMap("map2-circ")
		if err != nil {
			t.Fatalf("Failed to load map: %v", err)
		}
		want, _ := engine.StartPoseFor("map2-circ")
		if cfg.Start != want {
			t.Errorf("Expected start %+v, got %+v", want, cfg.Start)
		}
		if cfg.Physics.CmPerPixel != engine.DefaultCmPerPixel {
			t.Errorf("Expected default cm per pixel, got %v", cfg.Physics.CmPerPixel)
		}
	})

	t.Run("image map", func(t *testing.T) {
		built, cfg, err := m.LoadMap("image")
		if err != nil {
			t.Fatalf("Failed to load map: %v", err)
		}
		if built.Width() != 8 || built.ColorAt(3, 3) != world.Black {
			t.Error("Expected the PNG pixels")
		}
		if cfg.Start != engine.DefaultStart {
			t.Errorf("Expected default start, got %+v", cfg.Start)
		}
	})

	t.Run("missing image", func(t *testing.T) {
		if _, _, err := m.LoadMap("noimage"); !errors.Is(err, ErrInvalidMap) {
			t.Errorf("Expected ErrInvalidMap, got %v", err)
		}
	})
}

func TestListConfigs(t *testing.T) {
	dir := t.TempDir()
	writeConfigFile(t, dir, "one", createValidConfig())
	writeConfigFile(t, dir, "two", createValidConfig())
	writeConfigFile(t, dir, "broken", map[string]string{"name": "broken"})
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignore me"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.Mkdir(filepath.Join(dir, "sub.json"), 0755); err != nil {
		t.Fatal(err)
	}

	m, err := NewManager(dir)
	if err != nil {
		t.Fatalf("Failed to create manager: %v", err)
	}

	maps, err := m.ListConfigs()
	if err != nil {
		t.Fatalf("Failed to list maps: %v", err)
	}
	if len(maps) != 2 {
		t.Fatalf("Expected 2 maps, got %d", len(maps))
	}
	if maps[0].MapID != "one" || maps[0].Filename != "one.json" || maps[0].Width != 50 {
		t.Errorf("Unexpected map info %+v", maps[0])
	}
	if maps[0].Start != engine.DefaultStart {
		t.Errorf("Expected default start, got %+v", maps[0].Start)
	}
}

func TestSaveAndRefresh(t *testing.T) {
	dir := t.TempDir()
	m, err := NewManager(dir)
	if err != nil {
		t.Fatalf("Failed to create manager: %v", err)
	}

	bad := createValidConfig()
	bad.Layout = nil
	if err := m.SaveConfig("bad", bad); !errors.Is(err, ErrInvalidMap) {
		t.Errorf("Expected ErrInvalidMap, got %v", err)
	}

	if err := m.SaveConfig("saved", createValidConfig()); err != nil {
		t.Fatalf("Failed to save config: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "saved.json")); err != nil {
		t.Errorf("Expected file on disk: %v", err)
	}

	if err := m.SetDefault("saved"); err != nil {
		t.Fatalf("Failed to set default: %v", err)
	}
	if m.GetDefault() != "saved" {
		t.Errorf("Expected default saved, got %q", m.GetDefault())
	}
	if err := m.SetDefault("missing"); !errors.Is(err, ErrMapNotFound) {
		t.Errorf("Expected ErrMapNotFound, got %v", err)
	}

	// edit on disk, refresh picks it up
	edited := createValidConfig()
	edited.Name = "Edited"
	writeConfigFile(t, dir, "saved", edited)
	if err := m.RefreshCache(); err != nil {
		t.Fatalf("Failed to refresh: %v", err)
	}
	config, err := m.LoadConfig("saved")
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}
	if config.Name != "Edited" {
		t.Errorf("Expected refreshed name, got %q", config.Name)
	}
}

func TestConcurrentLoad(t *testing.T) {
	dir := t.TempDir()
	writeConfigFile(t, dir, "shared", createValidConfig())
	m, err := NewManager(dir)
	if err != nil {
		t.Fatalf("Failed to create manager: %v", err)
	}
	if err := m.RefreshCache(); err != nil {
		t.Fatalf("Failed to refresh: %v", err)
	}

	var wg sync.WaitGroup
	results := make([]*world.Map, 16)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			built, _, err := m.LoadMap("shared")
			if err != nil {
				t.Errorf("Failed to load map: %v", err)
				return
			}
			results[i] = built
		}(i)
	}
	wg.Wait()

	for _, r := range results[1:] {
		if r != results[0] {
			t.Fatal("Expected every caller to share one cached map")
		}
	}
}
