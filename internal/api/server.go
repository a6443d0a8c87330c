package api

import (
	"encoding/json"
	"io"
	"net/http"
	"net/netip"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/rockit-astro/opsd/internal/config"
	"github.com/rockit-astro/opsd/internal/models"
	"github.com/rockit-astro/opsd/internal/ops"
	"github.com/rockit-astro/opsd/internal/telemetry/logging"
)

// Server exposes the daemon's remote surface.
type Server struct {
	daemon *ops.Daemon
	cfg    *config.Config
	log    logging.Logger
}

// NewServer wires the daemon behind the RPC routes.
func NewServer(daemon *ops.Daemon, cfg *config.Config, log logging.Logger) *Server {
	return &Server{daemon: daemon, cfg: cfg, log: log}
}

// Handler builds the RPC router. Authorization is by source address: the
// raw TCP peer, never a forwarded header.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/status", s.handleStatus)

	r.Group(func(r chi.Router) {
		r.Use(s.requireControl)
		r.Post("/dome/control", s.handleDomeControl)
		r.Post("/dome/window", s.handleSetWindow)
		r.Post("/dome/clear_window", s.handleClearWindow)
		r.Post("/telescope/control", s.handleTelControl)
		r.Post("/telescope/stop", s.handleStopTelescope)
		r.Post("/schedule", s.handleSchedule)
		r.Post("/schedule/validate", s.handleValidate)
		r.Post("/script", s.handleScript)
	})

	r.Group(func(r chi.Router) {
		r.Use(s.requirePipeline)
		r.Post("/pipeline/frame", s.handleFrame)
		r.Post("/pipeline/guide", s.handleGuide)
	})

	return r
}

// ObservabilityHandler serves /metrics and /healthz on the ops listener.
func ObservabilityHandler(daemon *ops.Daemon, metricsHandler http.Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	if metricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", metricsHandler)
	}
	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, http.StatusOK, daemon.HealthSnapshot())
	})
	return r
}

func peerAddr(req *http.Request) (netip.Addr, bool) {
	ap, err := netip.ParseAddrPort(req.RemoteAddr)
	if err != nil {
		return netip.Addr{}, false
	}
	return ap.Addr(), true
}

// requireControl rejects control commands from unauthorized sources with
// an InvalidControlIP result and no side effects.
func (s *Server) requireControl(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		addr, ok := peerAddr(req)
		if !ok || !s.cfg.ControlAllowed(addr) {
			if s.log != nil {
				s.log.WarnCtx(req.Context(), "control command rejected", "remote", req.RemoteAddr, "path", req.URL.Path)
			}
			writeJSON(w, http.StatusOK, models.Result(models.InvalidControlIP))
			return
		}
		next.ServeHTTP(w, req)
	})
}

// requirePipeline silently ignores notifications from unauthorized
// sources: the pipeline gets a null response and a log line.
func (s *Server) requirePipeline(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		addr, ok := peerAddr(req)
		if !ok || !s.cfg.PipelineAllowed(addr) {
			if s.log != nil {
				s.log.WarnCtx(req.Context(), "pipeline notification ignored", "remote", req.RemoteAddr, "path", req.URL.Path)
			}
			writeJSON(w, http.StatusOK, notificationResponse{})
			return
		}
		next.ServeHTTP(w, req)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func decode(req *http.Request, v any) error {
	defer func() { _, _ = io.Copy(io.Discard, req.Body) }()
	return json.NewDecoder(req.Body).Decode(v)
}

func (s *Server) handleStatus(w http.ResponseWriter, req *http.Request) {
	writeJSON(w, http.StatusOK, s.daemon.Status())
}

func (s *Server) handleDomeControl(w http.ResponseWriter, req *http.Request) {
	var body controlRequest
	if err := decode(req, &body); err != nil {
		writeJSON(w, http.StatusOK, models.ResultErrors(models.Failed, []string{err.Error()}))
		return
	}
	writeJSON(w, http.StatusOK, s.daemon.DomeControl(body.Automatic))
}

func (s *Server) handleTelControl(w http.ResponseWriter, req *http.Request) {
	var body controlRequest
	if err := decode(req, &body); err != nil {
		writeJSON(w, http.StatusOK, models.ResultErrors(models.Failed, []string{err.Error()}))
		return
	}
	writeJSON(w, http.StatusOK, s.daemon.TelControl(body.Automatic))
}

func (s *Server) handleStopTelescope(w http.ResponseWriter, req *http.Request) {
	writeJSON(w, http.StatusOK, s.daemon.StopTelescope())
}

func (s *Server) handleSetWindow(w http.ResponseWriter, req *http.Request) {
	var body windowRequest
	if err := decode(req, &body); err != nil {
		writeJSON(w, http.StatusOK, models.ResultErrors(models.Failed, []string{err.Error()}))
		return
	}
	writeJSON(w, http.StatusOK, s.daemon.SetDomeWindow(body.Open.Time(), body.Close.Time()))
}

func (s *Server) handleClearWindow(w http.ResponseWriter, req *http.Request) {
	writeJSON(w, http.StatusOK, s.daemon.ClearDomeWindow())
}

func (s *Server) handleSchedule(w http.ResponseWriter, req *http.Request) {
	raw, err := io.ReadAll(req.Body)
	if err != nil {
		writeJSON(w, http.StatusOK, models.ResultErrors(models.Failed, []string{err.Error()}))
		return
	}
	writeJSON(w, http.StatusOK, s.daemon.ScheduleObservations(raw))
}

func (s *Server) handleValidate(w http.ResponseWriter, req *http.Request) {
	raw, err := io.ReadAll(req.Body)
	if err != nil {
		writeJSON(w, http.StatusOK, models.ResultErrors(models.Failed, []string{err.Error()}))
		return
	}
	writeJSON(w, http.StatusOK, s.daemon.ValidateSchedule(raw))
}

func (s *Server) handleScript(w http.ResponseWriter, req *http.Request) {
	var body scriptRequest
	if err := decode(req, &body); err != nil || body.Name == "" {
		writeJSON(w, http.StatusOK, models.ResultErrors(models.Failed, []string{"script name is required"}))
		return
	}
	writeJSON(w, http.StatusOK, s.daemon.RunScript(body.Name, body.Args))
}

func (s *Server) handleFrame(w http.ResponseWriter, req *http.Request) {
	var body frameNotification
	if err := decode(req, &body); err != nil {
		writeJSON(w, http.StatusOK, notificationResponse{})
		return
	}
	writeJSON(w, http.StatusOK, notificationResponse{Headers: s.daemon.NotifyProcessedFrame(body.Headers)})
}

func (s *Server) handleGuide(w http.ResponseWriter, req *http.Request) {
	var body guideNotification
	if err := decode(req, &body); err != nil {
		writeJSON(w, http.StatusOK, notificationResponse{})
		return
	}
	writeJSON(w, http.StatusOK, notificationResponse{Headers: s.daemon.NotifyGuideProfile(body.Headers, body.X, body.Y)})
}
