// Package api provides the HTTP REST API for the line tracer simulator.
//
// Endpoints:
//
// Control:
//   - POST /api/play - Start or resume the selected policy
//   - POST /api/pause - Suspend a running policy
//   - POST /api/stop - Stop a running or suspended policy
//
// Control requests never fail on state; a request that is not valid in
// the current state returns 200 with "accepted": false.
//
// Manual placement:
//   - POST /api/reposition/begin - Suspend control for placement
//   - POST /api/reposition/update {x, y} - Move the robot
//   - POST /api/reposition/end {x, y} - Commit and restore the prior status
//   - POST /api/heading {heading} - Turn in place, degrees clockwise from up
//
// Display:
//   - POST /api/visibility {visible} - Toggle redraw notifications
//   - POST /api/speed {level} - Pacing delay from a 1..100 speed level
//   - GET /api/telemetry - Pose, metrics, sensors and status
//
// Maps and policies:
//   - GET /api/maps - List map configurations
//   - POST /api/maps/{name} - Load a map (engine must be stopped)
//   - GET /api/policies - List policies
//   - POST /api/policies/{name} - Select a policy (engine must be stopped)
//
// Run log:
//   - GET /api/runs?map=&policy=&limit= - Recorded runs, newest first
//   - GET /api/runs/{id} - One recorded run
//
// GET /ws upgrades to the telemetry websocket.
//
// Error Handling:
//
// Errors are returned as JSON with a status code derived from the error:
// 404 for unknown maps, policies and runs, 409 when the engine is busy or
// no reposition is in progress, 400 for malformed bodies.
//
//	{
//	  "error": "error message"
//	}
package api
