// Package host keeps the home-automation side of the bridge: the channels the
// purifier appears as and the last value written to each.
//
// The Registry persists channels to SQLite through a Repository and writes
// only changed values. Fanout lets one synchronizer feed the registry and the
// API's WebSocket hub at once.
package host
