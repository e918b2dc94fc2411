// Package world provides the read-only map surface the simulated robot
// drives over.
//
// A Map is a fixed-size pixel grid. Every pixel classifies to one of
// White, Black, Green or Unknown by requantizing each RGB channel to
// on/off at a midpoint threshold (>= 128 is full intensity) and matching
// the result exactly against black, white and green. Coordinates outside
// the grid classify as White so that sensors leaving the map read as
// "no line detected".
//
// Maps are built either from a PNG asset or from a character layout:
//
//	m, err := world.FromLayout("straight", []string{
//		"WWGWW",
//		"WWBWW",
//		"WWBWW",
//	}, 10)
//
// A Map is immutable once built and is safe for concurrent reads.
package world
