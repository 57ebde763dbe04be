package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/nerrad567/purelink-bridge/internal/auth"
	"github.com/nerrad567/purelink-bridge/internal/infrastructure/config"
	"github.com/nerrad567/purelink-bridge/internal/infrastructure/logging"
	"github.com/nerrad567/purelink-bridge/internal/purelink"
	"github.com/nerrad567/purelink-bridge/internal/simulator"
)

func newCredentialCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "credential <password>",
		Short: "Print the MQTT password derived from a device password",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if args[0] == "" {
				return errors.New("password must not be empty")
			}
			// Credential.String redacts; the raw value is what the user asked for.
			fmt.Fprintln(cmd.OutOrStdout(), string(purelink.DeriveCredential(args[0])))
			return nil
		},
	}
}

func newTokenCmd(configPath *string) *cobra.Command {
	var (
		subject string
		role    string
		ttl     time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint an API bearer token signed with security.jwt.secret",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			if cfg.Security.JWT.Secret == "" {
				return errors.New("security.jwt.secret is not set")
			}
			if ttl <= 0 {
				ttl = cfg.AccessTokenTTL()
			}

			token, err := auth.GenerateAccessToken(subject, auth.Role(role), cfg.Security.JWT.Secret, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "", "token subject, e.g. the calling system's name")
	cmd.Flags().StringVar(&role, "role", string(auth.RoleViewer), "viewer or operator")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "token lifetime (default security.jwt.access_token_ttl)")
	//nolint:errcheck // flag is registered above
	cmd.MarkFlagRequired("subject")
	return cmd
}

func newSimulateCmd() *cobra.Command {
	var (
		address    string
		deviceType string
		serial     string
		password   string
		delay      time.Duration
		debug      bool
	)

	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Run a fake purifier broker for testing the bridge",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			level := "info"
			if debug {
				level = "debug"
			}
			log := logging.NewWithWriter(cmd.ErrOrStderr(), config.LoggingConfig{Level: level, Format: "text"}, version)

			dt, err := purelink.ParseDeviceType(deviceType)
			if err != nil {
				return err
			}
			dev, err := simulator.New(simulator.Options{
				Address:       address,
				DeviceType:    dt,
				Serial:        serial,
				Password:      password,
				ResponseDelay: delay,
				Logger:        log.Logger,
			})
			if err != nil {
				return err
			}
			if err := dev.Start(); err != nil {
				return err
			}
			defer dev.Close()

			<-cmd.Context().Done()
			log.Info("simulator stopping", "requests", dev.Requests(), "commands", dev.Commands())
			return nil
		},
	}
	cmd.Flags().StringVar(&address, "listen", "127.0.0.1:1883", "broker listen address")
	cmd.Flags().StringVar(&deviceType, "type", string(purelink.DeviceType475), "product type: 455, 465 or 475")
	cmd.Flags().StringVar(&serial, "serial", "NN2-EU-SIM0001A", "device serial, used as the MQTT username")
	cmd.Flags().StringVar(&password, "password", "", "device password; only its derived credential is accepted")
	cmd.Flags().DurationVar(&delay, "delay", 0, "delay before every reply")
	cmd.Flags().BoolVar(&debug, "debug", false, "log every message")
	//nolint:errcheck // flag is registered above
	cmd.MarkFlagRequired("password")
	return cmd
}
