package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/purelink-bridge/internal/host"
	"github.com/nerrad567/purelink-bridge/internal/purelink"
)

// commandRequest is the body of POST /channels/{unit}/command.
type commandRequest struct {
	// Command is "On", "Off" or "Set Level".
	Command string `json:"command"`
	// Level is the selector level for "Set Level".
	Level int `json:"level"`
}

// commandResponse reports the state the device confirmed.
type commandResponse struct {
	Unit  int        `json:"unit"`
	State *stateView `json:"state"`
}

// handleListChannels returns every host channel in unit order.
func (s *Server) handleListChannels(w http.ResponseWriter, r *http.Request) {
	channels := s.channels.List(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{
		"channels": channels,
		"count":    len(channels),
	})
}

// handleGetChannel returns one host channel.
func (s *Server) handleGetChannel(w http.ResponseWriter, r *http.Request) {
	unit, ok := parseUnit(r)
	if !ok {
		writeBadRequest(w, "unit must be a positive integer")
		return
	}

	ch, err := s.channels.Get(r.Context(), unit)
	if err != nil {
		if errors.Is(err, host.ErrChannelNotFound) {
			writeNotFound(w, "channel not found")
			return
		}
		writeInternalError(w, "failed to load channel")
		return
	}
	writeJSON(w, http.StatusOK, ch)
}

// handleChannelCommand routes a host command to the purifier and waits for
// the device to confirm it.
func (s *Server) handleChannelCommand(w http.ResponseWriter, r *http.Request) {
	unit, ok := parseUnit(r)
	if !ok {
		writeBadRequest(w, "unit must be a positive integer")
		return
	}
	if _, err := s.channels.Get(r.Context(), unit); err != nil {
		if errors.Is(err, host.ErrChannelNotFound) {
			writeNotFound(w, "channel not found")
			return
		}
		writeInternalError(w, "failed to load channel")
		return
	}

	var req commandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.Command == "" {
		writeBadRequest(w, "command is required")
		return
	}

	subject := ""
	if claims := claimsFromContext(r.Context()); claims != nil {
		subject = claims.Subject
	}

	snap, err := s.bridge.HandleCommand(r.Context(), unit, req.Command, req.Level)
	if err != nil {
		s.logger.Warn("channel command failed",
			"unit", int(unit),
			"command", req.Command,
			"level", req.Level,
			"subject", subject,
			"error", err,
		)
		writeDeviceError(w, err)
		return
	}

	s.logger.Info("channel command applied",
		"unit", int(unit),
		"command", req.Command,
		"level", req.Level,
		"subject", subject,
	)
	writeJSON(w, http.StatusOK, commandResponse{
		Unit:  int(unit),
		State: newStateView(snap),
	})
}

// parseUnit reads the {unit} URL parameter.
func parseUnit(r *http.Request) (purelink.Channel, bool) {
	n, err := strconv.Atoi(chi.URLParam(r, "unit"))
	if err != nil || n <= 0 {
		return 0, false
	}
	return purelink.Channel(n), true
}
