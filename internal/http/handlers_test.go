package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/example/ride-matchmaking/internal/apperr"
	"github.com/example/ride-matchmaking/internal/auth"
	"github.com/example/ride-matchmaking/internal/dispatch"
	"github.com/example/ride-matchmaking/internal/geo"
	"github.com/example/ride-matchmaking/internal/location"
	"github.com/example/ride-matchmaking/internal/matcher"
	"github.com/example/ride-matchmaking/internal/models"
	"github.com/example/ride-matchmaking/internal/pricing"
	"github.com/example/ride-matchmaking/internal/rides"
	"github.com/example/ride-matchmaking/internal/storage"
)

const geoKey = "drivers:available"

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type testEnv struct {
	store  *storage.MemoryStore
	hub    *dispatch.Hub
	server *Server
}

func newTestEnv(t *testing.T, authRequired bool) *testEnv {
	t.Helper()
	logger := quietLogger()
	store := storage.NewMemoryStore()
	hub := dispatch.NewHub(logger)
	t.Cleanup(hub.Close)
	locator := geo.NewLocator(store, geoKey, 5000, 5)
	svc := &matcher.Service{
		Resolver:     location.NewResolver(store, nil, 5*time.Minute, time.Second, logger),
		Locator:      locator,
		Claims:       geo.NewLeaser(store, time.Minute),
		Pricing:      pricing.NewEngine(store, pricing.DefaultBaseFare),
		Rides:        rides.NewManager(store, "ride_status", nil, logger),
		Notifier:     dispatch.NewDispatcher(logger, time.Second, hub),
		Logger:       logger,
		RadiusMeters: 5000,
		MaxResults:   5,
	}
	srv := NewServer(Deps{
		Rides:        svc,
		Drivers:      locator,
		Store:        store,
		Hub:          hub,
		Auth:         auth.NewAuthenticator("admin", "password", "test-secret", time.Hour),
		AuthRequired: authRequired,
		Logger:       logger,
	})
	return &testEnv{store: store, hub: hub, server: srv}
}

func (e *testEnv) addDriver(t *testing.T, id string, lat, lon float64) {
	t.Helper()
	if err := e.store.GeoAdd(context.Background(), geoKey, id, lat, lon); err != nil {
		t.Fatalf("geoadd: %v", err)
	}
}

func (e *testEnv) do(t *testing.T, method, path, body, token string) *httptest.ResponseRecorder {
	t.Helper()
	var rdr io.Reader
	if body != "" {
		rdr = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rdr)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.server.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorResponse {
	t.Helper()
	var body errorResponse
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	return body
}

const rideBody = `{"requesterId":"rider-1","pickupLatitude":37.7749,"pickupLongitude":-122.4194}`

func TestRequestRideReturnsMatch(t *testing.T) {
	env := newTestEnv(t, false)
	env.addDriver(t, "driver-1", 37.7750, -122.4194)

	rec := env.do(t, http.MethodPost, "/api/request-ride", rideBody, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Fatal("expected a request id header")
	}
	var body rideResponse
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.RideID == "" || body.DriverID != "driver-1" {
		t.Fatalf("unexpected body %+v", body)
	}
	if body.Fare.String() != "6000" || body.SurgeMultiplier.String() != "1.2" {
		t.Fatalf("unexpected pricing %s at %s", body.Fare, body.SurgeMultiplier)
	}

	status := env.do(t, http.MethodGet, "/api/ride-status/"+body.RideID, "", "")
	if status.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", status.Code)
	}
	var ride models.RideStatus
	if err := json.NewDecoder(status.Body).Decode(&ride); err != nil {
		t.Fatalf("decode ride: %v", err)
	}
	if ride.Status != models.StatusAccepted || ride.RiderID != "rider-1" || ride.DriverID != "driver-1" {
		t.Fatalf("unexpected ride %+v", ride)
	}
}

func TestRequestRideErrors(t *testing.T) {
	env := newTestEnv(t, false)

	tests := []struct {
		name     string
		body     string
		wantCode int
		wantErr  string
	}{
		{"no drivers", rideBody, http.StatusNotFound, "no_drivers_available"},
		{"malformed json", `{"requesterId":`, http.StatusBadRequest, "invalid_request"},
		{"missing rider", `{"pickupLatitude":1,"pickupLongitude":1}`, http.StatusBadRequest, "validation_failed"},
		{"latitude out of range", `{"requesterId":"r","pickupLatitude":91,"pickupLongitude":1}`, http.StatusBadRequest, "validation_failed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, http.MethodPost, "/api/request-ride", tt.body, "")
			if rec.Code != tt.wantCode {
				t.Fatalf("expected %d, got %d: %s", tt.wantCode, rec.Code, rec.Body.String())
			}
			if got := decodeError(t, rec); got.Error != tt.wantErr {
				t.Fatalf("expected error code %q, got %+v", tt.wantErr, got)
			}
		})
	}
}

func TestRideStatusNotFound(t *testing.T) {
	env := newTestEnv(t, false)
	rec := env.do(t, http.MethodGet, "/api/ride-status/does-not-exist", "", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	if got := decodeError(t, rec); got.Error != "not_found" {
		t.Fatalf("unexpected error %+v", got)
	}
}

func TestTransitionRide(t *testing.T) {
	env := newTestEnv(t, false)
	env.addDriver(t, "driver-1", 37.7750, -122.4194)
	rec := env.do(t, http.MethodPost, "/api/request-ride", rideBody, "")
	var match rideResponse
	if err := json.NewDecoder(rec.Body).Decode(&match); err != nil {
		t.Fatalf("decode: %v", err)
	}
	path := "/api/rides/" + match.RideID + "/status"

	tests := []struct {
		name     string
		body     string
		wantCode int
	}{
		{"accepted to en route", `{"status":"EnRoute"}`, http.StatusOK},
		{"backwards", `{"status":"Accepted"}`, http.StatusConflict},
		{"unknown status", `{"status":"Teleported"}`, http.StatusBadRequest},
		{"complete", `{"status":"Completed"}`, http.StatusOK},
		{"after terminal", `{"status":"Cancelled"}`, http.StatusConflict},
	}
	for _, tt := range tests {
		rec := env.do(t, http.MethodPut, path, tt.body, "")
		if rec.Code != tt.wantCode {
			t.Fatalf("%s: expected %d, got %d: %s", tt.name, tt.wantCode, rec.Code, rec.Body.String())
		}
	}

	missing := env.do(t, http.MethodPut, "/api/rides/nope/status", `{"status":"EnRoute"}`, "")
	if missing.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown ride, got %d", missing.Code)
	}
}

func TestListDrivers(t *testing.T) {
	env := newTestEnv(t, false)
	env.addDriver(t, "driver-b", 1, 1)
	env.addDriver(t, "driver-a", 2, 2)

	rec := env.do(t, http.MethodGet, "/api/drivers", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var ids []string
	if err := json.NewDecoder(rec.Body).Decode(&ids); err != nil {
		t.Fatalf("expected a bare JSON array: %v", err)
	}
	if len(ids) != 2 {
		t.Fatalf("unexpected drivers %v", ids)
	}
}

func TestListDriversEmpty(t *testing.T) {
	env := newTestEnv(t, false)
	rec := env.do(t, http.MethodGet, "/api/drivers", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if got := strings.TrimSpace(rec.Body.String()); got != "[]" {
		t.Fatalf("expected an empty array, got %q", got)
	}
}

func TestAuthRequired(t *testing.T) {
	env := newTestEnv(t, true)
	env.addDriver(t, "driver-1", 37.7750, -122.4194)

	if rec := env.do(t, http.MethodPost, "/api/request-ride", rideBody, ""); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rec.Code)
	}
	if rec := env.do(t, http.MethodPost, "/api/auth/login", `{"username":"admin","password":"nope"}`, ""); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for bad credentials, got %d", rec.Code)
	}
	if rec := env.do(t, http.MethodPost, "/api/auth/login", `{"username":"admin"}`, ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing password, got %d", rec.Code)
	}

	login := env.do(t, http.MethodPost, "/api/auth/login", `{"username":"admin","password":"password"}`, "")
	if login.Code != http.StatusOK {
		t.Fatalf("expected 200 from login, got %d", login.Code)
	}
	var tok struct {
		Token     string    `json:"token"`
		ExpiresAt time.Time `json:"expiresAt"`
	}
	if err := json.NewDecoder(login.Body).Decode(&tok); err != nil || tok.Token == "" {
		t.Fatalf("decode token: %v %+v", err, tok)
	}

	if rec := env.do(t, http.MethodPost, "/api/request-ride", rideBody, tok.Token); rec.Code != http.StatusOK {
		t.Fatalf("expected 200 with token, got %d: %s", rec.Code, rec.Body.String())
	}
	if rec := env.do(t, http.MethodGet, "/healthz", "", ""); rec.Code != http.StatusOK {
		t.Fatalf("healthz should stay open, got %d", rec.Code)
	}
}

type failingRides struct{}

func (failingRides) RequestRide(context.Context, models.RideRequest) (models.MatchResult, error) {
	return models.MatchResult{}, apperr.StoreUnavailable("hset ride_status", errors.New("dial tcp 10.0.0.7:6379: connection refused"))
}

func (failingRides) GetRide(context.Context, string) (models.RideStatus, error) {
	return models.RideStatus{}, apperr.StoreUnavailable("hget ride_status", errors.New("i/o timeout"))
}

func (failingRides) Transition(context.Context, string, models.Status) (models.RideStatus, error) {
	return models.RideStatus{}, errors.New("boom")
}

type failingPinger struct{}

func (failingPinger) Ping(context.Context) error { return errors.New("no route to host") }

func TestStoreFailuresAreNotLeaked(t *testing.T) {
	srv := NewServer(Deps{Rides: failingRides{}, Store: failingPinger{}, Logger: quietLogger()})

	for _, path := range []string{"/api/request-ride", "/api/ride-status/x"} {
		method := http.MethodGet
		body := ""
		if path == "/api/request-ride" {
			method, body = http.MethodPost, rideBody
		}
		rec := httptest.NewRecorder()
		srv.ServeHTTP(rec, httptest.NewRequest(method, path, strings.NewReader(body)))
		if rec.Code != http.StatusInternalServerError {
			t.Fatalf("%s: expected 500, got %d", path, rec.Code)
		}
		raw := rec.Body.String()
		if strings.Contains(raw, "10.0.0.7") || strings.Contains(raw, "timeout") {
			t.Fatalf("%s: store details leaked: %s", path, raw)
		}
	}

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 from /ready, got %d", rec.Code)
	}
}

func TestReady(t *testing.T) {
	env := newTestEnv(t, false)
	if rec := env.do(t, http.MethodGet, "/ready", "", ""); rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestWebsocketReceivesRideUpdates(t *testing.T) {
	env := newTestEnv(t, false)
	env.addDriver(t, "driver-1", 37.7750, -122.4194)
	ts := httptest.NewServer(env.server)
	defer ts.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/ws/rides", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for env.hub.Len() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("subscriber never registered")
		}
		time.Sleep(10 * time.Millisecond)
	}

	resp, err := http.Post(ts.URL+"/api/request-ride", "application/json", bytes.NewBufferString(rideBody))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	var match rideResponse
	json.NewDecoder(resp.Body).Decode(&match)
	resp.Body.Close()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ev models.RideEvent
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("read: %v", err)
	}
	if ev.Event != models.EventRideUpdate || ev.RideID != match.RideID || ev.Status != models.StatusAccepted {
		t.Fatalf("unexpected event %+v", ev)
	}
}
