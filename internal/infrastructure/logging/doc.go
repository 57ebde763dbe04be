// Package logging builds the bridge's structured logger on log/slog.
//
// Every entry carries service=purelink and the build version. Components
// add their own fields with With:
//
//	log, err := logging.New(cfg.Logging, version)
//	sessionLog := log.With("component", "session")
//	sessionLog.Info("connected to device", "serial", serial)
//
// The logging section of the config selects level (debug, info, warn,
// error), format (json or text) and output (stdout, stderr or file).
// debug: true at the top level forces the debug level.
//
// Never log the device password or the derived credential;
// purelink.Credential.String redacts it.
package logging
