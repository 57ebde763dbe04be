// Package config loads the bridge configuration.
//
// Values are layered: built-in defaults, then the YAML file, then
// PURELINK_* environment variables, then Validate. The device password and
// the JWT secret are best supplied through PURELINK_DEVICE_PASSWORD and
// PURELINK_JWT_SECRET rather than the file.
//
//	cfg, err := config.Load("configs/purelink.yaml")
//	if err != nil {
//	    return err
//	}
package config
