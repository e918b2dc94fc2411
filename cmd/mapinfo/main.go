// Command mapinfo prints quick, human-readable checks about the maps in a
// configuration directory. It summarizes dimensions and the color census,
// and warns about maps with no goal or a start pose off the line.
package main

import (
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/wricardo/mcp-training/linetracer/sim/config"
	"github.com/wricardo/mcp-training/linetracer/sim/engine"
	"github.com/wricardo/mcp-training/linetracer/sim/world"
)

// MapReport is the result of checking one map
type MapReport struct {
	MapID       string
	Name        string
	Width       int
	Height      int
	Census      map[world.Color]int
	Start       engine.Pose
	StartOnLine bool
	StartColors map[string]world.Color
}

// Warnings lists the problems found in the map
func (r MapReport) Warnings() []string {
	var warnings []string
	if r.Census[world.Green] == 0 {
		warnings = append(warnings, "no green goal pixels")
	}
	if r.Census[world.Black] == 0 {
		warnings = append(warnings, "no black line pixels")
	}
	if !r.StartOnLine {
		warnings = append(warnings, fmt.Sprintf("start pose (%.0f, %.0f) is off the line", r.Start.X, r.Start.Y))
	}
	return warnings
}

func main() {
	dir := "configs"
	if len(os.Args) > 1 {
		dir = os.Args[1]
	}

	reports, err := analyzeDir(dir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	failed := false
	for _, r := range reports {
		printReport(os.Stdout, r)
		if len(r.Warnings()) > 0 {
			failed = true
		}
	}
	if failed {
		os.Exit(2)
	}
}

// analyzeDir checks every map in dir, sorted by map id
func analyzeDir(dir string) ([]MapReport, error) {
	manager, err := config.NewManager(dir)
	if err != nil {
		return nil, err
	}

	infos, err := manager.ListConfigs()
	if err != nil {
		return nil, err
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].MapID < infos[j].MapID })

	reports := make([]MapReport, 0, len(infos))
	for _, info := range infos {
		m, cfg, err := manager.LoadMap(info.MapID)
		if err != nil {
			return nil, fmt.Errorf("map %s: %w", info.MapID, err)
		}
		reports = append(reports, analyzeMap(info.MapID, info.Name, m, cfg))
	}
	return reports, nil
}

func analyzeMap(id, name string, m *world.Map, cfg engine.Config) MapReport {
	body := engine.NewBody(m, cfg.Physics, cfg.Start)

	colors := make(map[string]world.Color, len(engine.Sensors))
	for _, s := range engine.Sensors {
		colors[s.String()] = body.Color(s)
	}

	return MapReport{
		MapID:       id,
		Name:        name,
		Width:       m.Width(),
		Height:      m.Height(),
		Census:      m.Census(),
		Start:       cfg.Start,
		StartOnLine: body.IsOnLine(),
		StartColors: colors,
	}
}

func printReport(w io.Writer, r MapReport) {
	fmt.Fprintf(w, "\n=== %s (%s) ===\n", r.MapID, r.Name)
	fmt.Fprintf(w, "Size: %d x %d px\n", r.Width, r.Height)

	total := r.Width * r.Height
	for _, c := range []world.Color{world.White, world.Black, world.Green, world.Unknown} {
		pct := 0.0
		if total > 0 {
			pct = 100 * float64(r.Census[c]) / float64(total)
		}
		fmt.Fprintf(w, "  %-8s %8d px (%5.1f%%)\n", c, r.Census[c], pct)
	}

	fmt.Fprintf(w, "Start: (%.0f, %.0f) heading %.0f\n", r.Start.X, r.Start.Y, r.Start.Heading)
	fmt.Fprintf(w, "Sensors at start: A=%s B=%s C=%s\n", r.StartColors["A"], r.StartColors["B"], r.StartColors["C"])

	warnings := r.Warnings()
	if len(warnings) == 0 {
		fmt.Fprintln(w, "OK")
		return
	}
	for _, warning := range warnings {
		fmt.Fprintf(w, "WARNING: %s\n", warning)
	}
}
