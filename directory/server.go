package directory

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/opd-ai/peerchat/limits"
	"github.com/opd-ai/peerchat/metrics"
)

// ServerOptions configures a directory HTTP server.
type ServerOptions struct {
	// APIKey, when set, is required as "Authorization: Bearer <key>" on every
	// request except /health.
	APIKey string
	// MaxBodyBytes bounds request bodies. Zero selects a limit that fits one
	// maximal relay bundle.
	MaxBodyBytes int64
}

// Server exposes a Directory over HTTP.
type Server struct {
	dir    Directory
	opts   ServerOptions
	router chi.Router
}

// errorResponse is the JSON error body.
type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

type heartbeatRequest struct {
	Address string `json:"address"`
}

type drainResponse struct {
	Bundles []Bundle `json:"bundles"`
}

// NewServer builds the chi router for dir.
func NewServer(dir Directory, opts ServerOptions) *Server {
	if opts.MaxBodyBytes <= 0 {
		// base64 expands the payload by 4/3; leave room for the other fields.
		opts.MaxBodyBytes = int64(limits.MaxRelayBundle)*2 + 4096
	}

	s := &Server{dir: dir, opts: opts}

	r := chi.NewRouter()
	r.Use(metrics.Middleware("directory"))
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(requestLogger)
	r.Use(chimw.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(s.requireAPIKey)
		r.Use(s.limitBody)

		r.Put("/users/{username}", s.handleRegister)
		r.Post("/users/{username}/heartbeat", s.handleHeartbeat)
		r.Get("/users/{username}", s.handleLookup)
		r.Post("/relay/{username}", s.handlePush)
		r.Post("/relay/{username}/drain", s.handleDrain)
	})

	s.router = r
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler { return s.router }

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// requestLogger logs one line per request with logrus.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)

		defer func() {
			logrus.WithFields(logrus.Fields{
				"function":    "directory.Server",
				"method":      r.Method,
				"path":        r.URL.Path,
				"status":      ww.Status(),
				"latency":     time.Since(start).String(),
				"request_id":  chimw.GetReqID(r.Context()),
				"remote_addr": r.RemoteAddr,
			}).Debug("request completed")
		}()

		next.ServeHTTP(ww, r)
	})
}

func (s *Server) requireAPIKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.opts.APIKey != "" {
			token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
			if subtle.ConstantTimeCompare([]byte(token), []byte(s.opts.APIKey)) != 1 {
				writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "invalid api key", Code: "unauthorized"})
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) limitBody(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, s.opts.MaxBodyBytes)
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// statusFor maps a directory error onto an HTTP status and error code.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, ErrConflict):
		return http.StatusConflict, "conflict"
	case errors.Is(err, ErrInvalidRequest):
		return http.StatusBadRequest, "invalid_request"
	case errors.Is(err, ErrQuotaExceeded):
		return http.StatusTooManyRequests, "quota_exceeded"
	default:
		return http.StatusServiceUnavailable, "unavailable"
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := statusFor(err)
	if status >= 500 {
		logrus.WithFields(logrus.Fields{
			"function":   "directory.Server",
			"path":       r.URL.Path,
			"request_id": chimw.GetReqID(r.Context()),
			"error":      err.Error(),
		}).Error("Directory operation failed")
	}
	writeJSON(w, status, errorResponse{Error: err.Error(), Code: code})
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeJSON(w, http.StatusRequestEntityTooLarge, errorResponse{Error: "body too large", Code: "invalid_request"})
			return false
		}
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON body", Code: "invalid_request"})
		return false
	}
	return true
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	username := chi.URLParam(r, "username")

	var reg Registration
	if !s.decode(w, r, &reg) {
		return
	}
	if reg.Username == "" {
		reg.Username = username
	}
	if reg.Username != username {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "username does not match path", Code: "invalid_request"})
		return
	}

	if err := s.dir.Register(r.Context(), reg); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "registered"})
}

func (s *Server) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	var req heartbeatRequest
	if !s.decode(w, r, &req) {
		return
	}
	if err := s.dir.Heartbeat(r.Context(), chi.URLParam(r, "username"), req.Address); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleLookup(w http.ResponseWriter, r *http.Request) {
	rec, err := s.dir.Lookup(r.Context(), chi.URLParam(r, "username"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handlePush(w http.ResponseWriter, r *http.Request) {
	var b Bundle
	if !s.decode(w, r, &b) {
		return
	}
	if err := s.dir.Push(r.Context(), chi.URLParam(r, "username"), b.From, b); err != nil {
		s.writeError(w, r, err)
		return
	}
	metrics.RelayBundlesStored.Inc()
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued", "msg_id": b.MsgID})
}

func (s *Server) handleDrain(w http.ResponseWriter, r *http.Request) {
	bundles, err := s.dir.Drain(r.Context(), chi.URLParam(r, "username"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if bundles == nil {
		bundles = []Bundle{}
	}
	metrics.RelayBundlesDrained.Add(float64(len(bundles)))
	writeJSON(w, http.StatusOK, drainResponse{Bundles: bundles})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	body := map[string]string{"status": "healthy"}

	if p, ok := s.dir.(Pinger); ok {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()
		if err := p.Ping(ctx); err != nil {
			status = http.StatusServiceUnavailable
			body["status"] = "degraded"
			body["store"] = "connection failed"
		}
	}
	writeJSON(w, status, body)
}
