// Package api implements the HTTP REST API and WebSocket server for the bridge.
//
// This package provides:
//   - Read endpoints for the host channels and the device mirror
//   - A command endpoint that routes host commands to the purifier
//   - A WebSocket hub that pushes channel.updated events
//   - Bearer JWT authentication with ticket-based WebSocket auth
//
// # Lifecycle
//
//	hub := api.NewHub(cfg.WebSocket, logger)
//	go hub.Run(ctx)
//	server, err := api.New(api.Deps{..., Hub: hub})
//	server.Start(ctx)
//	defer server.Close()
//
// The hub is created before the server because it is also one of the
// synchronizer's update sinks.
//
// # Status codes
//
// Device errors map to 422 (invalid command), 503 (not connected or publish
// failed) and 504 (no confirmation within the response timeout).
package api
