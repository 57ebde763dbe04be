// Package purelink implements the session and state synchronisation engine for
// a Dyson Pure Link air purifier.
//
// The device runs its own MQTT broker on the local network. This package logs
// in to it, asks for the current state, decodes the replies, translates host
// commands into device directives and keeps a local mirror of the last known
// state and sensor readings.
//
// # Architecture
//
//	┌──────────────┐ HandleCommand ┌──────────────┐  MQTT   ┌──────────────┐
//	│     Host     │──────────────►│    Bridge    │◄───────►│    Device    │
//	│  (registry,  │◄──────────────│ Synchronizer │         │   broker     │
//	│   API, WS)   │ UpdateChannel │   Session    │         │              │
//	└──────────────┘               └──────────────┘         └──────────────┘
//
// Components, leaves first:
//
//   - Codec (codec.go): Decode and the Encode* functions. Pure, no I/O.
//   - DeriveCredential (credential.go): the session password.
//   - Session (session.go): one broker connection, raw event stream.
//   - Synchronizer (synchronizer.go): request/await/update cycles and the mirror.
//   - Mapper (mapper.go): host levels to device directives.
//   - Bridge (bridge.go): heartbeat driver and host command entry point.
//
// # Wire Protocol
//
// Commands go to "{type}/{serial}/command" and replies arrive on
// "{type}/{serial}/status/current":
//
//	{"msg":"REQUEST-CURRENT-STATE","time":"2026-01-02T15:04:05Z"}
//	{"msg":"STATE-SET","time":"...","mode-reason":"LAPP","data":{"fnsp":"0004"}}
//
// The login is the serial number with the base64 SHA-512 digest of the
// device password.
//
// # Thread Safety
//
// Session, Synchronizer and Bridge are safe for concurrent use. Only one
// synchronisation cycle runs at a time; concurrent callers queue.
package purelink
