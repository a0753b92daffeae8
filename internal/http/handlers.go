package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/ride-matchmaking/internal/apperr"
	"github.com/example/ride-matchmaking/internal/auth"
	"github.com/example/ride-matchmaking/internal/dispatch"
	"github.com/example/ride-matchmaking/internal/models"
)

type RideService interface {
	RequestRide(ctx context.Context, req models.RideRequest) (models.MatchResult, error)
	GetRide(ctx context.Context, rideID string) (models.RideStatus, error)
	Transition(ctx context.Context, rideID string, next models.Status) (models.RideStatus, error)
}

type DriverLister interface {
	List(ctx context.Context) ([]string, error)
}

type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps are the collaborators behind the HTTP surface. Hub and Auth may be
// nil, which disables /ws/rides and /api/auth/login respectively.
type Deps struct {
	Rides        RideService
	Drivers      DriverLister
	Store        Pinger
	Hub          *dispatch.Hub
	Auth         *auth.Authenticator
	AuthRequired bool
	Logger       *slog.Logger
}

type Server struct {
	rides        RideService
	drivers      DriverLister
	store        Pinger
	hub          *dispatch.Hub
	auth         *auth.Authenticator
	authRequired bool
	validate     *validator.Validate
	logger       *slog.Logger
	mux          *mux.Router
}

func NewServer(d Deps) *Server {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		rides:        d.Rides,
		drivers:      d.Drivers,
		store:        d.Store,
		hub:          d.Hub,
		auth:         d.Auth,
		authRequired: d.AuthRequired && d.Auth != nil,
		validate:     validator.New(),
		logger:       logger,
		mux:          mux.NewRouter(),
	}
	s.registerMiddleware()
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); w.Write([]byte("ok")) }).Methods("GET")
	s.mux.HandleFunc("/ready", s.handleReady).Methods("GET")
	s.mux.Handle("/metrics", promhttp.Handler())
	s.mux.HandleFunc("/ws/rides", s.handleWS).Methods("GET")

	// login sits outside the authenticated subrouter
	s.mux.HandleFunc("/api/auth/login", s.handleLogin).Methods("POST")

	api := s.mux.PathPrefix("/api").Subrouter()
	api.Use(s.authMiddleware)
	api.HandleFunc("/request-ride", s.handleRequestRide).Methods("POST")
	api.HandleFunc("/ride-status/{id}", s.handleRideStatus).Methods("GET")
	api.HandleFunc("/rides/{id}/status", s.handleTransition).Methods("PUT")
	api.HandleFunc("/drivers", s.handleDrivers).Methods("GET")
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

type rideResponse struct {
	RideID          string      `json:"rideId"`
	DriverID        string      `json:"driverId"`
	Fare            json.Number `json:"fare"`
	SurgeMultiplier json.Number `json:"surgeMultiplier"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func (s *Server) handleRequestRide(w http.ResponseWriter, r *http.Request) {
	var req models.RideRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid request body")
		return
	}
	res, err := s.rides.RequestRide(r.Context(), req)
	if err != nil {
		s.handleError(w, r, err)
		return
	}
	if res.Outcome == models.OutcomeNoDrivers {
		writeError(w, http.StatusNotFound, "no_drivers_available", "no drivers available")
		return
	}
	writeJSON(w, http.StatusOK, rideResponse{
		RideID:          res.RideID,
		DriverID:        res.DriverID,
		Fare:            json.Number(res.Fare.String()),
		SurgeMultiplier: json.Number(res.SurgeMultiplier.String()),
	})
}

func (s *Server) handleRideStatus(w http.ResponseWriter, r *http.Request) {
	ride, err := s.rides.GetRide(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ride)
}

func (s *Server) handleTransition(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Status models.Status `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid request body")
		return
	}
	ride, err := s.rides.Transition(r.Context(), mux.Vars(r)["id"], body.Status)
	if err != nil {
		s.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ride)
}

func (s *Server) handleDrivers(w http.ResponseWriter, r *http.Request) {
	ids, err := s.drivers.List(r.Context())
	if err != nil {
		s.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ids)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if s.auth == nil {
		writeError(w, http.StatusNotFound, "not_found", "authentication disabled")
		return
	}
	var creds auth.Credentials
	if err := json.NewDecoder(r.Body).Decode(&creds); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid request body")
		return
	}
	if err := s.validate.Struct(creds); err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", "username and password are required")
		return
	}
	token, expires, err := s.auth.Authenticate(creds)
	if err != nil {
		s.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"token": token, "expiresAt": expires.UTC()})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), time.Second)
	defer cancel()
	if err := s.store.Ping(ctx); err != nil {
		s.logger.Warn("readiness check failed", "error", err)
		writeError(w, http.StatusServiceUnavailable, "not_ready", "state store unavailable")
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ready"))
}

var upgrader = websocket.Upgrader{ReadBufferSize: 1024, WriteBufferSize: 1024}

// handleWS subscribes the caller to ride updates. Browsers cannot set an
// Authorization header on upgrade, so the token may also come as
// ?access_token=.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	if s.hub == nil {
		writeError(w, http.StatusNotFound, "not_found", "realtime updates disabled")
		return
	}
	if s.authRequired {
		token := r.Header.Get("Authorization")
		if token == "" {
			token = r.URL.Query().Get("access_token")
		}
		if _, err := s.auth.Validate(token); err != nil {
			writeError(w, http.StatusUnauthorized, "unauthorized", "missing or invalid token")
			return
		}
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	s.hub.Serve(conn)
}

// handleError maps service errors onto status codes. Store and unknown
// failures are logged in full and reported generically.
func (s *Server) handleError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *apperr.ValidationError
	switch {
	case errors.As(err, &verr):
		msg := "invalid request"
		if len(verr.Fields) > 0 {
			msg = "invalid fields: " + strings.Join(verr.Fields, ", ")
		}
		writeError(w, http.StatusBadRequest, "validation_failed", msg)
	case errors.Is(err, apperr.ErrValidation):
		writeError(w, http.StatusBadRequest, "validation_failed", "invalid request")
	case errors.Is(err, apperr.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", "ride not found")
	case errors.Is(err, apperr.ErrInvalidTransition):
		writeError(w, http.StatusConflict, "invalid_transition", "status change not allowed")
	case errors.Is(err, apperr.ErrUnauthorized):
		writeError(w, http.StatusUnauthorized, "unauthorized", "invalid credentials")
	default:
		s.logger.Error("request failed", "error", err, "route", routeTemplate(r), "request_id", requestIDFromContext(r.Context()))
		writeError(w, http.StatusInternalServerError, "internal_error", "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Error: code, Message: message})
}
