package api

import (
	"errors"
	"net/http"

	"github.com/nerrad567/purelink-bridge/internal/purelink"
)

// stateView is the JSON form of a StateSnapshot, with enums spelled out.
type stateView struct {
	FanMode           string `json:"fan_mode"`
	FanState          string `json:"fan_state"`
	FanSpeed          string `json:"fan_speed"`
	NightMode         string `json:"night_mode"`
	Oscillation       string `json:"oscillation"`
	StandbyMonitoring string `json:"standby_monitoring"`
	FilterLifeHours   int    `json:"filter_life_hours"`
	QualityTarget     int    `json:"quality_target"`
}

// sensorView is the JSON form of a SensorSnapshot.
type sensorView struct {
	Temperature  float64 `json:"temperature"`
	Humidity     int     `json:"humidity"`
	VOC          int     `json:"voc"`
	Particulates int     `json:"particulates"`
	SleepTimer   int     `json:"sleep_timer"`
	Idle         bool    `json:"idle"`
}

// mirrorResponse is returned by GET /state and POST /state/refresh.
type mirrorResponse struct {
	State       *stateView  `json:"state"`
	Sensor      *sensorView `json:"sensor"`
	StateFresh  bool        `json:"state_fresh"`
	SensorFresh bool        `json:"sensor_fresh"`
	// Missing names the categories that timed out on a refresh.
	Missing []string `json:"missing,omitempty"`
}

func newStateView(s purelink.StateSnapshot) *stateView {
	return &stateView{
		FanMode:           s.FanMode.String(),
		FanState:          s.FanState.String(),
		FanSpeed:          s.FanSpeed.String(),
		NightMode:         s.NightMode.String(),
		Oscillation:       s.Oscillation.String(),
		StandbyMonitoring: s.StandbyMonitoring.String(),
		FilterLifeHours:   s.FilterLife,
		QualityTarget:     s.QualityTarget,
	}
}

func newMirrorResponse(u purelink.Update) mirrorResponse {
	resp := mirrorResponse{
		StateFresh:  u.StateFresh,
		SensorFresh: u.SensorFresh,
	}
	if u.HasState {
		resp.State = newStateView(u.State)
	}
	if u.HasSensor {
		resp.Sensor = &sensorView{
			Temperature:  u.Sensor.Temperature,
			Humidity:     u.Sensor.Humidity,
			VOC:          u.Sensor.VOC,
			Particulates: u.Sensor.Particulates,
			SleepTimer:   u.Sensor.SleepTimer,
			Idle:         u.Sensor.Idle,
		}
	}
	return resp
}

// handleGetState returns the last known device state without touching the
// device.
func (s *Server) handleGetState(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, newMirrorResponse(s.bridge.Mirror()))
}

// handleRefreshState runs an update cycle now. A partial timeout still
// answers 200 with the stale categories listed in "missing".
func (s *Server) handleRefreshState(w http.ResponseWriter, r *http.Request) {
	update, err := s.bridge.Refresh(r.Context())

	var timeout *purelink.TimeoutError
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, newMirrorResponse(update))
	case errors.As(err, &timeout):
		resp := newMirrorResponse(update)
		resp.Missing = timeout.Categories
		writeJSON(w, http.StatusOK, resp)
	default:
		writeDeviceError(w, err)
	}
}
