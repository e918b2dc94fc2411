// Package service provides the controller layer of the line tracer
// simulator.
//
// The service package implements:
//   - Play, pause and stop control over one simulation engine
//   - The reposition protocol, heading, visibility and speed controls
//   - Map loading and policy selection
//   - Run recording and lookup
//   - Fan-out of redraws and run events to a Broadcaster
//
// Architecture:
//
// The service sits between the transports (HTTP, WebSocket, MCP, CLI)
// and the engine. It owns the engine lifecycle, rebuilds the selected
// policy whenever the map changes, and records every run that ends on
// its own in the run log.
//
// Usage:
//
//	maps, _ := config.NewManager("configs")
//	runs, _ := runlog.Open("runs.db")
//	svc, err := service.NewSimulationService(maps, runs, service.DefaultOptions())
//	if err != nil {
//		log.Fatal(err)
//	}
//	svc.Start(ctx)
//	defer svc.Close()
//
//	result, err := svc.Play(ctx)
package service
