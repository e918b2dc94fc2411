// Package config provides map configuration management for the line
// tracer simulator.
//
// The config package handles:
//   - Loading map configurations from JSON files
//   - Map validation and construction of world maps
//   - Default map management
//   - Map discovery and listing
//
// Configuration Format:
//
// Each map is a JSON file in the configs directory. A map is drawn
// either from a character layout, where every character paints a
// scale x scale block, or from a PNG image stored next to the file:
//
//	{
//	  "name": "Rectangle",
//	  "description": "Rectangular loop",
//	  "scale": 5,
//	  "layout": ["WWWW...", "WBBB..."],
//	  "start": {"x": 330, "y": 130, "heading": 90}
//	}
//
// Layout characters are W (white), B (black line), G (green goal) and
// R, Y, U, which paint colors the sensors report as unknown. When
// "start" is omitted the start pose table of the engine is consulted by
// map file name, then the default pose is used.
//
// Usage:
//
//	manager, err := config.NewManager("configs")
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	m, engineCfg, err := manager.LoadMap("map1-rect")
//
//	// List available maps
//	maps, err := manager.ListConfigs()
package config
