// Package engine provides the simulation core for the line-tracer robot.
//
// The engine package implements:
//   - The physical movement model (forward/backward/rotate) with
//     distance and off-line distance accounting
//   - The sensor model: three color sensors mounted ahead of the robot
//     and an axis-aligned on-line probe
//   - The request/status state machine that starts, pauses, stops and
//     repositions the robot while one control goroutine runs a Policy
//
// Core Types:
//
// Body is the unsynchronized pose/metrics model over a world.Map.
// Engine wraps a Body, owns the control goroutine and exposes the
// request API used by external controllers. Policy is the contract
// implemented by control algorithms; each run receives a Robot handle
// whose Delay method is the only suspension point.
//
// Usage:
//
//	eng, err := engine.New(m, engine.DefaultConfig())
//	if err != nil {
//		log.Fatal(err)
//	}
//	eng.SetPolicy(myPolicy)
//	eng.Start(ctx)
//	defer eng.Close()
//
//	eng.RequestPlay()
//	tel := eng.Telemetry()
//
// State Machine:
//
// Requests (play, pause, stop, reposition) are written to a single
// last-write-wins slot and wake the control goroutine. The goroutine
// consumes the slot, applies the transition and, for play, runs the
// policy until it returns or a newer request interrupts its Delay call.
package engine
