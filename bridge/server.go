package bridge

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/opd-ai/peerchat"
	"github.com/opd-ai/peerchat/directory"
	"github.com/opd-ai/peerchat/friend"
	"github.com/opd-ai/peerchat/limits"
	"github.com/opd-ai/peerchat/messaging"
	"github.com/opd-ai/peerchat/metrics"
	"github.com/opd-ai/peerchat/transport"
)

// Node is the part of *peerchat.Node the bridge drives.
type Node interface {
	Status() peerchat.Status
	ListFriends() []friend.Contact
	AddFriend(ctx context.Context, username string) (friend.Contact, error)
	RemoveFriend(username string) error
	Messages(ctx context.Context, peer string, limit, offset int) ([]messaging.Message, error)
	SendMessage(ctx context.Context, to, text string) (messaging.Message, error)
	SendMessageWithID(ctx context.Context, to, msgID, text string) (messaging.Message, error)
	SendTyping(ctx context.Context, to string, typing bool) error
}

var _ Node = (*peerchat.Node)(nil)

// Options configures a bridge Server.
type Options struct {
	// AllowedOrigins lists the UI origins allowed by CORS. Empty selects any
	// port on localhost and 127.0.0.1.
	AllowedOrigins []string
	// MaxBodyBytes bounds request bodies. Zero selects 64 KiB.
	MaxBodyBytes int64
	// KeepAlive is the interval of comment lines on idle event streams. Zero
	// selects 15s.
	KeepAlive time.Duration
}

func (o Options) withDefaults() Options {
	if len(o.AllowedOrigins) == 0 {
		o.AllowedOrigins = []string{"http://localhost:*", "http://127.0.0.1:*"}
	}
	if o.MaxBodyBytes <= 0 {
		o.MaxBodyBytes = 64 << 10
	}
	if o.KeepAlive <= 0 {
		o.KeepAlive = 15 * time.Second
	}
	return o
}

// Server is the local HTTP surface of a node: request/response endpoints for
// friends and messages plus a server-sent event stream.
type Server struct {
	node   Node
	broker *Broker
	opts   Options
	router chi.Router
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

type addFriendRequest struct {
	Username string `json:"username"`
}

type sendMessageRequest struct {
	To    string `json:"to"`
	Text  string `json:"text"`
	MsgID string `json:"msg_id,omitempty"`
}

type typingRequest struct {
	To     string `json:"to"`
	Typing bool   `json:"typing"`
}

// friendView is a contact as the UI sees it, keys hex encoded.
type friendView struct {
	Username   string    `json:"username"`
	PublicKey  string    `json:"public_key"`
	SigningKey string    `json:"signing_key"`
	Address    string    `json:"address,omitempty"`
	Online     bool      `json:"online"`
	LastSeen   time.Time `json:"last_seen"`
	AddedAt    time.Time `json:"added_at"`
}

func newFriendView(c friend.Contact) friendView {
	return friendView{
		Username:   c.Username,
		PublicKey:  hex.EncodeToString(c.PublicKey[:]),
		SigningKey: hex.EncodeToString(c.SigningKey[:]),
		Address:    c.Address,
		Online:     c.Online,
		LastSeen:   c.LastSeen,
		AddedAt:    c.AddedAt,
	}
}

// NewServer creates a bridge for node. Events reach /events through broker,
// which must also be the node's event sink.
func NewServer(node Node, broker *Broker, opts Options) *Server {
	s := &Server{
		node:   node,
		broker: broker,
		opts:   opts.withDefaults(),
	}

	r := chi.NewRouter()
	r.Use(metrics.Middleware("bridge"))
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(requestLogger)
	r.Use(chimw.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.opts.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/status", s.handleStatus)
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/events", s.handleEvents)

	r.Group(func(r chi.Router) {
		r.Use(s.limitBody)

		r.Get("/friends", s.handleListFriends)
		r.Post("/friends", s.handleAddFriend)
		r.Delete("/friends/{username}", s.handleRemoveFriend)

		r.Get("/messages", s.handleListMessages)
		r.Post("/messages", s.handleSendMessage)
		r.Post("/typing", s.handleTyping)
	})

	s.router = r
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)

		defer func() {
			logrus.WithFields(logrus.Fields{
				"function":   "bridge.Server",
				"method":     r.Method,
				"path":       r.URL.Path,
				"status":     ww.Status(),
				"latency":    time.Since(start).String(),
				"request_id": chimw.GetReqID(r.Context()),
			}).Debug("request completed")
		}()

		next.ServeHTTP(ww, r)
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

// statusFor maps node errors onto HTTP statuses and error codes.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, peerchat.ErrUnknownFriend):
		return http.StatusNotFound, "unknown_friend"
	case errors.Is(err, directory.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, peerchat.ErrSelfFriend),
		errors.Is(err, peerchat.ErrInvalidMessageID),
		errors.Is(err, limits.ErrInvalidUsername),
		errors.Is(err, limits.ErrMessageEmpty),
		errors.Is(err, limits.ErrMessageTooLarge):
		return http.StatusBadRequest, "invalid_request"
	case errors.Is(err, peerchat.ErrNoAddress):
		return http.StatusConflict, "no_address"
	case errors.Is(err, peerchat.ErrNotStarted):
		return http.StatusServiceUnavailable, "not_started"
	case directory.Retryable(err):
		return http.StatusServiceUnavailable, "directory_unavailable"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := statusFor(err)
	if status >= 500 {
		logrus.WithFields(logrus.Fields{
			"function":   "bridge.Server",
			"path":       r.URL.Path,
			"request_id": chimw.GetReqID(r.Context()),
			"error":      err.Error(),
		}).Error("Bridge request failed")
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

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.node.Status())
}

func (s *Server) handleListFriends(w http.ResponseWriter, r *http.Request) {
	contacts := s.node.ListFriends()
	views := make([]friendView, 0, len(contacts))
	for _, c := range contacts {
		views = append(views, newFriendView(c))
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"friends": views})
}

func (s *Server) handleAddFriend(w http.ResponseWriter, r *http.Request) {
	var req addFriendRequest
	if !s.decode(w, r, &req) {
		return
	}

	contact, err := s.node.AddFriend(r.Context(), req.Username)
	switch {
	case errors.Is(err, peerchat.ErrFriendExists):
		writeJSON(w, http.StatusOK, newFriendView(contact))
	case err != nil:
		s.writeError(w, r, err)
	default:
		writeJSON(w, http.StatusCreated, newFriendView(contact))
	}
}

func (s *Server) handleRemoveFriend(w http.ResponseWriter, r *http.Request) {
	if err := s.node.RemoveFriend(chi.URLParam(r, "username")); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, err := intParam(q.Get("limit"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "limit: " + err.Error(), Code: "invalid_request"})
		return
	}
	offset, err := intParam(q.Get("offset"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "offset: " + err.Error(), Code: "invalid_request"})
		return
	}

	msgs, err := s.node.Messages(r.Context(), q.Get("peer"), limit, offset)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if msgs == nil {
		msgs = []messaging.Message{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"messages": msgs})
}

func intParam(v string) (int, error) {
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, fmt.Errorf("must not be negative")
	}
	return n, nil
}

// handleSendMessage blocks until the message reaches a terminal state. A
// failed send is still a stored message: it is returned with 502 so the UI can
// offer a retry under the same msg_id.
func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	var req sendMessageRequest
	if !s.decode(w, r, &req) {
		return
	}

	var (
		msg messaging.Message
		err error
	)
	if req.MsgID != "" {
		msg, err = s.node.SendMessageWithID(r.Context(), req.To, req.MsgID, req.Text)
	} else {
		msg, err = s.node.SendMessage(r.Context(), req.To, req.Text)
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	status := http.StatusOK
	if msg.State == messaging.StateFailed {
		status = http.StatusBadGateway
	}
	writeJSON(w, status, msg)
}

func (s *Server) handleTyping(w http.ResponseWriter, r *http.Request) {
	var req typingRequest
	if !s.decode(w, r, &req) {
		return
	}
	if err := s.node.SendTyping(r.Context(), req.To, req.Typing); err != nil {
		// Typing indicators are best effort; an unreachable peer is not an error.
		var terr *transport.Error
		if errors.As(err, &terr) {
			writeJSON(w, http.StatusAccepted, map[string]string{"status": "dropped"})
			return
		}
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "sent"})
}

// handleEvents streams node events as server-sent events until the client
// goes away or the broker closes.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "streaming unsupported", Code: "internal"})
		return
	}

	events, cancel := s.broker.Subscribe()
	defer cancel()

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, ": connected\n\n")
	flusher.Flush()

	keepAlive := time.NewTicker(s.opts.KeepAlive)
	defer keepAlive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-keepAlive.C:
			if _, err := fmt.Fprint(w, ": keepalive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case event, ok := <-events:
			if !ok {
				return
			}
			if err := writeEvent(w, event); err != nil {
				logrus.WithFields(logrus.Fields{
					"function": "handleEvents",
					"error":    err.Error(),
				}).Debug("Event stream closed")
				return
			}
			flusher.Flush()
		}
	}
}

func writeEvent(w http.ResponseWriter, event peerchat.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Type, data)
	return err
}
