package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/goodtune/tabtime/internal/agent"
	"github.com/goodtune/tabtime/internal/settings"
	"github.com/goodtune/tabtime/internal/sitekey"
	"github.com/goodtune/tabtime/internal/storage"
	"github.com/goodtune/tabtime/internal/timeutil"
)

// maxBodyBytes bounds request bodies; restore payloads are the largest.
const maxBodyBytes = 8 << 20

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}

// ActivateRequest names the newly active tab by site or URL.
type ActivateRequest struct {
	Site string `json:"site,omitempty"`
	URL  string `json:"url,omitempty"`
}

// SettingRequest carries a setting value. Strings are parsed the way the CLI
// parses them; other JSON values are used as-is.
type SettingRequest struct {
	Value json.RawMessage `json:"value"`
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, statusCode int, data any) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(data); err != nil {
		http.Error(w, `{"error":"Internal Server Error","message":"Failed to encode response"}`, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_, _ = w.Write(buf.Bytes())
}

// writeError writes an error response.
func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, ErrorResponse{
		Error:   http.StatusText(statusCode),
		Message: message,
		Code:    statusCode,
	})
}

// writeErr maps domain errors to status codes.
func (s *Server) writeErr(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, sitekey.ErrInvalid), errors.Is(err, settings.ErrMalformedSetting):
		status = http.StatusBadRequest
	case errors.Is(err, settings.ErrUnknownSetting), errors.Is(err, settings.ErrSettingNotSet):
		status = http.StatusNotFound
	case errors.Is(err, agent.ErrStopped):
		status = http.StatusServiceUnavailable
	}
	if status == http.StatusInternalServerError {
		s.logger.Error().Err(err).Msg("Request failed")
	}
	writeError(w, status, err.Error())
}

func decodeBody(w http.ResponseWriter, r *http.Request, out any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "healthy",
		"timestamp": time.Now(),
	})
}

func (s *Server) handleActivate(w http.ResponseWriter, r *http.Request) {
	var req ActivateRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	raw := req.Site
	if raw == "" {
		raw = req.URL
	}

	siteKey, err := s.agent.ActivateTab(r.Context(), raw)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"site_key": siteKey})
}

func (s *Server) handleClose(w http.ResponseWriter, r *http.Request) {
	s.command(w, s.agent.CloseTab(r.Context()))
}

func (s *Server) handleSuspend(w http.ResponseWriter, r *http.Request) {
	s.command(w, s.agent.Suspend(r.Context()))
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	s.command(w, s.agent.Resume(r.Context()))
}

func (s *Server) handlePomodoroPause(w http.ResponseWriter, r *http.Request) {
	s.command(w, s.agent.PausePomodoro(r.Context()))
}

func (s *Server) handlePomodoroResume(w http.ResponseWriter, r *http.Request) {
	s.command(w, s.agent.ResumePomodoro(r.Context()))
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	s.logger.Info().Str("remote_addr", r.RemoteAddr).Msg("Clear all data requested")
	s.command(w, s.agent.ClearAll(r.Context()))
}

// command writes the outcome of a command without a result.
func (s *Server) command(w http.ResponseWriter, err error) {
	if err != nil {
		s.writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRestore(w http.ResponseWriter, r *http.Request) {
	var records []storage.DailyUsage
	if err := decodeBody(w, r, &records); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	for _, record := range records {
		if err := storage.ValidateDailyUsage(record); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	if err := s.agent.Restore(r.Context(), records); err != nil {
		s.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"restored": len(records)})
}

func (s *Server) handleUsage(w http.ResponseWriter, r *http.Request) {
	date := r.URL.Query().Get("date")
	if date != "" {
		if _, err := time.Parse(timeutil.DateLayout, date); err != nil {
			writeError(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
			return
		}
	}

	stats, err := s.agent.Usage(r.Context(), date)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	if stats.Sites == nil {
		stats.Sites = []storage.DailyUsage{}
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.agent.Status(r.Context())
	if err != nil {
		s.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	records, err := s.agent.Export(r.Context())
	if err != nil {
		s.writeErr(w, err)
		return
	}
	if records == nil {
		records = []storage.DailyUsage{}
	}
	w.Header().Set("Content-Disposition", `attachment; filename="tabtime-export.json"`)
	writeJSON(w, http.StatusOK, records)
}

func (s *Server) handleListSettings(w http.ResponseWriter, r *http.Request) {
	values, err := s.settings.All(r.Context())
	if err != nil {
		s.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, values)
}

func (s *Server) handleGetSetting(w http.ResponseWriter, r *http.Request) {
	key, err := settings.ParseKey(mux.Vars(r)["key"])
	if err != nil {
		s.writeErr(w, err)
		return
	}
	value, err := s.settings.Get(r.Context(), key)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"key": key, "value": value})
}

func (s *Server) handlePutSetting(w http.ResponseWriter, r *http.Request) {
	key, err := settings.ParseKey(mux.Vars(r)["key"])
	if err != nil {
		s.writeErr(w, err)
		return
	}

	var req SettingRequest
	if err := decodeBody(w, r, &req); err != nil || len(req.Value) == 0 {
		writeError(w, http.StatusBadRequest, "body must be {\"value\": ...}")
		return
	}

	raw := string(req.Value)
	var text string
	if err := json.Unmarshal(req.Value, &text); err == nil {
		raw = text
	}

	if err := s.settings.SetString(r.Context(), key, raw); err != nil {
		s.writeErr(w, err)
		return
	}
	value, err := s.settings.Get(r.Context(), key)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"key": key, "value": value})
}
