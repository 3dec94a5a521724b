package console

import (
	"encoding/json"
	"io"
	"mime"
	"net/http"
	"time"

	"furitingoasis/soilstation/internal/command"
	"furitingoasis/soilstation/internal/sensor"
)

const maxCommandBody = 4096

func ping(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write([]byte("OK"))
}

func (s *Server) readings(w http.ResponseWriter, r *http.Request) {
	report := sensor.NewReport(nil)
	if s.deps.Readings != nil {
		report = s.deps.Readings.Report()
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(report.JSON())
}

type statusResponse struct {
	Station     string    `json:"station"`
	Link        string    `json:"link"`
	Broker      bool      `json:"broker_connected"`
	ClientID    string    `json:"client_id,omitempty"`
	PumpRunning bool      `json:"pump_running"`
	LampLevel   uint8     `json:"lamp_level"`
	ClockSynced bool      `json:"clock_synced"`
	Time        time.Time `json:"time"`
}

func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{Station: s.deps.Station, Time: time.Now().UTC()}
	if s.deps.Link != nil {
		resp.Link = s.deps.Link.State().String()
	}
	if s.deps.Broker != nil {
		resp.Broker = s.deps.Broker.IsConnected()
		resp.ClientID = s.deps.Broker.ClientID()
	}
	if s.deps.Pump != nil {
		resp.PumpRunning = s.deps.Pump.Running()
	}
	if s.deps.Lamp != nil {
		resp.LampLevel = s.deps.Lamp.Level()
	}
	if s.deps.Clock != nil {
		resp.ClockSynced = s.deps.Clock.IsSynced()
		resp.Time = s.deps.Clock.Now().UTC()
	}
	s.writeJSON(w, http.StatusOK, resp)
}

type commandForm struct {
	Name  string `form:"name"`
	Value string `form:"value"`
}

// payload rebuilds the wire form. Value is taken as a JSON literal when it
// parses as one and as a string otherwise, so "true" and "128" keep their
// types.
func (f commandForm) payload() ([]byte, error) {
	msg := map[string]any{"name": f.Name}
	if f.Value != "" {
		if json.Valid([]byte(f.Value)) {
			msg["value"] = json.RawMessage(f.Value)
		} else {
			msg["value"] = f.Value
		}
	}
	return json.Marshal(msg)
}

type commandResponse struct {
	Command *command.Command `json:"command,omitempty"`
	Error   string           `json:"error,omitempty"`
	Message string           `json:"message,omitempty"`
}

// commandPost accepts either a raw JSON command body or a form with name
// and value fields, and feeds it through the same path as the bus.
func (s *Server) commandPost(w http.ResponseWriter, r *http.Request) {
	if s.deps.Ingest == nil {
		s.clientError(w, http.StatusServiceUnavailable)
		return
	}
	payload, err := s.commandPayload(w, r)
	if err != nil {
		s.log.Debugw("bad command request", "error", err)
		s.clientError(w, http.StatusBadRequest)
		return
	}

	cmd, cerr := s.deps.Ingest(payload)
	if cerr != nil {
		s.writeJSON(w, http.StatusUnprocessableEntity, commandResponse{
			Error:   cerr.Kind.String(),
			Message: cerr.Message(),
		})
		return
	}
	s.writeJSON(w, http.StatusAccepted, commandResponse{Command: &cmd})
}

func (s *Server) commandPayload(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxCommandBody)
	mt, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mt == "application/json" {
		return io.ReadAll(r.Body)
	}
	var f commandForm
	if err := s.decodePostForm(r, &f); err != nil {
		return nil, err
	}
	return f.payload()
}
