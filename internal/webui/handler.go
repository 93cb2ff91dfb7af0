package webui

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/mzyy94/monpatch/internal/config"
	"github.com/mzyy94/monpatch/internal/monitor"
)

type handler struct {
	ctrl     *monitor.Controller
	settings *config.Store
}

// NewHandler creates the HTTP control API over ctrl. Split changes are
// remembered in settings.
func NewHandler(ctrl *monitor.Controller, settings *config.Store) http.Handler {
	h := &handler{ctrl: ctrl, settings: settings}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/status", h.handleStatus)
	mux.HandleFunc("GET /api/split", h.handleGetSplit)
	mux.HandleFunc("PUT /api/split", h.handlePutSplit)
	mux.HandleFunc("POST /api/swap-audio", h.handleSwapAudio)
	mux.HandleFunc("POST /api/swap-input", h.handleSwapInput)
	mux.HandleFunc("POST /api/deploy", h.handleDeploy)
	mux.HandleFunc("GET /api/settings", h.handleGetSettings)
	mux.HandleFunc("PUT /api/settings", h.handlePutSettings)
	return mux
}

type statusResponse struct {
	monitor.Status
	UpdatedAt string `json:"updatedAt"`
}

type splitBody struct {
	Mode int `json:"mode"`
}

type audioResponse struct {
	Source byte `json:"source"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, code int, err error) {
	slog.Warn("api request failed", "method", r.Method, "path", r.URL.Path, "err", err)
	writeJSON(w, code, errorResponse{Error: err.Error()})
}

func (h *handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, statusResponse{
		Status:    h.ctrl.Status(),
		UpdatedAt: time.Now().UTC().Format(time.RFC3339),
	})
}

func (h *handler) handleGetSplit(w http.ResponseWriter, r *http.Request) {
	mode, err := h.ctrl.GetSplitMode()
	if err != nil {
		writeError(w, r, http.StatusBadGateway, err)
		return
	}
	writeJSON(w, http.StatusOK, splitBody{Mode: mode})
}

func (h *handler) handlePutSplit(w http.ResponseWriter, r *http.Request) {
	var body splitBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if err := h.ctrl.SetSplitMode(body.Mode); err != nil {
		code := http.StatusBadGateway
		if errors.Is(err, monitor.ErrSplitMode) {
			code = http.StatusBadRequest
		}
		writeError(w, r, code, err)
		return
	}
	if err := h.settings.RememberSplit(body.Mode); err != nil {
		slog.Warn("split not remembered", "err", err)
	}
	writeJSON(w, http.StatusOK, body)
}

func (h *handler) handleSwapAudio(w http.ResponseWriter, r *http.Request) {
	src, err := h.ctrl.SwapAudioSource()
	if err != nil {
		writeError(w, r, http.StatusBadGateway, err)
		return
	}
	writeJSON(w, http.StatusOK, audioResponse{Source: src})
}

func (h *handler) handleSwapInput(w http.ResponseWriter, r *http.Request) {
	if err := h.ctrl.SwapPrimarySecondaryInput(); err != nil {
		writeError(w, r, http.StatusBadGateway, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) handleDeploy(w http.ResponseWriter, r *http.Request) {
	if err := h.ctrl.Deploy(r.Context()); err != nil {
		writeError(w, r, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, h.ctrl.Status())
}

// --- Settings API ---

func (h *handler) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.settings.Get())
}

func (h *handler) handlePutSettings(w http.ResponseWriter, r *http.Request) {
	s := h.settings.Get()
	if err := json.NewDecoder(r.Body).Decode(&s); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if err := s.Validate(); err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}
	if err := h.settings.Update(s); err != nil {
		slog.Warn("settings save failed", "err", err)
		http.Error(w, "failed to save settings", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, s)
}
