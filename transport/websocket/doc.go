// Package websocket streams simulation telemetry to browser views.
//
// A single Hub fans encoded frames out to every connected client. The hub
// goroutine owns the client set; each connection has a read pump that
// keeps it alive and a write pump that drains its send queue and pings.
//
// Frames are JSON:
//
//	{"event": "redraw", "telemetry": {...}}
//	{"event": "telemetry", "telemetry": {...}}
//	{"event": "run_complete", "data": {...}}
//
// "redraw" frames come from the engine's pacing calls while the view is
// visible. "telemetry" frames come from PublishTelemetry at a fixed
// interval. Other events are forwarded from the simulation service.
//
// The hub implements the service Broadcaster. Broadcasting never blocks:
// when the hub queue is full the frame is dropped and counted.
//
// Usage:
//
//	hub := websocket.NewHub()
//	go hub.Run(ctx)
//	go hub.PublishTelemetry(ctx, svc, time.Second)
//	http.HandleFunc("/ws", hub.ServeWS)
package websocket
