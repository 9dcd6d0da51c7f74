package testutil

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/charlesng35/sectionlock/internal/api"
	"github.com/charlesng35/sectionlock/internal/app"
	iauth "github.com/charlesng35/sectionlock/internal/auth"
	"github.com/charlesng35/sectionlock/internal/client"
	"github.com/charlesng35/sectionlock/internal/collab"
	sharedtestutil "github.com/charlesng35/sectionlock/internal/database/testutil"
	"github.com/charlesng35/sectionlock/internal/history"
	"github.com/charlesng35/sectionlock/internal/monitoring"
	"github.com/charlesng35/sectionlock/internal/monitoring/checks"
	"github.com/charlesng35/sectionlock/internal/protocol"
	"github.com/charlesng35/sectionlock/internal/realtime"
	"github.com/charlesng35/sectionlock/pkg/response"
)

// Env encapsulates a fully-wired API instance backed by an in-memory database for handler tests.
type Env struct {
	T        *testing.T
	DB       *gorm.DB
	Router   *gin.Engine
	JWT      *iauth.JWTService
	Manager  *collab.Manager
	History  *history.Store
	Recorder *history.Recorder

	server *httptest.Server
}

// NewEnv provisions a fresh handler test environment with migrations applied.
func NewEnv(t *testing.T) *Env {
	t.Helper()

	gin.SetMode(gin.TestMode)

	db := sharedtestutil.MustOpenTestDB(t, sharedtestutil.WithAutoMigrate())

	jwtSecret := "test-suite-super-secret-key-32-bytes!!"
	jwtSvc, err := iauth.NewJWTService(iauth.JWTConfig{
		Secret:         jwtSecret,
		Issuer:         "test-suite",
		AccessTokenTTL: time.Hour,
	})
	require.NoError(t, err)

	store, err := history.NewStore(db)
	require.NoError(t, err)
	recorder, err := history.NewRecorder(store, history.WithBatchSize(1))
	require.NoError(t, err)

	manager := collab.NewManager(collab.WithRecorder(recorder))
	rt, err := realtime.NewServer(manager, realtime.Options{})
	require.NoError(t, err)

	health := monitoring.NewHealthManager(time.Second)
	health.RegisterLiveness(monitoring.NewCheck("process", func(context.Context) monitoring.ProbeResult {
		return monitoring.ProbeResult{Status: monitoring.StatusUp}
	}))
	health.RegisterReadiness(checks.Database(db, time.Second))
	health.RegisterReadiness(checks.Collab(manager, time.Second))

	cfg := &app.Config{
		Auth: app.AuthConfig{
			JWT: app.JWTSettings{Secret: jwtSecret, Issuer: "test-suite", TTL: time.Hour},
		},
		Monitoring: app.MonitoringConfig{
			Prometheus: app.PrometheusConfig{Enabled: true, Endpoint: "/metrics"},
			Health:     app.HealthConfig{Enabled: true, Timeout: time.Second},
		},
	}

	router, err := api.NewRouter(api.Dependencies{
		Config:   cfg,
		JWT:      jwtSvc,
		Manager:  manager,
		Realtime: rt,
		History:  store,
		Health:   health,
	})
	require.NoError(t, err)

	env := &Env{
		T:        t,
		DB:       db,
		Router:   router,
		JWT:      jwtSvc,
		Manager:  manager,
		History:  store,
		Recorder: recorder,
	}
	t.Cleanup(func() {
		if env.server != nil {
			env.server.Close()
		}
		manager.Shutdown(context.Background())
		_ = recorder.Close(context.Background())
	})
	return env
}

// Token mints an access token for the user, optionally scoped to documents.
func (e *Env) Token(userID, username string, documents ...string) string {
	e.T.Helper()
	token, err := e.JWT.GenerateAccessToken(iauth.AccessTokenInput{
		UserID:    userID,
		Username:  username,
		Documents: documents,
	})
	require.NoError(e.T, err)
	return token
}

// APIResponse represents the canonical API envelope returned by handlers.
type APIResponse struct {
	Success bool                `json:"success"`
	Data    json.RawMessage     `json:"data"`
	Error   *response.ErrorInfo `json:"error"`
	Meta    *response.Meta      `json:"meta"`
}

// DecodeResponse parses the standard API response object from a recorder.
func DecodeResponse(t *testing.T, w *httptest.ResponseRecorder) APIResponse {
	t.Helper()
	var resp APIResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), w.Body.String())
	return resp
}

// DecodeInto unmarshals the data payload into the provided destination.
func DecodeInto[T any](t *testing.T, raw json.RawMessage, dest *T) {
	t.Helper()
	if dest == nil {
		t.Fatal("destination must not be nil")
	}
	require.NoError(t, json.Unmarshal(raw, dest))
}

// Request executes an HTTP request against the test router with an optional bearer token.
func (e *Env) Request(method, path, token string) *httptest.ResponseRecorder {
	e.T.Helper()

	req, err := http.NewRequest(method, path, nil)
	require.NoError(e.T, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	w := httptest.NewRecorder()
	e.Router.ServeHTTP(w, req)
	return w
}

// Dial opens a collaboration socket to the document through a live test server.
func (e *Env) Dial(documentID, token string) *websocket.Conn {
	e.T.Helper()

	conn, resp, err := e.DialRaw(documentID, token)
	require.NoError(e.T, err)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	e.T.Cleanup(func() { _ = conn.Close() })
	return conn
}

// DialRaw attempts the upgrade and returns the handshake response for inspection.
func (e *Env) DialRaw(documentID, token string) (*websocket.Conn, *http.Response, error) {
	e.T.Helper()

	if e.server == nil {
		e.server = httptest.NewServer(e.Router)
	}
	url, err := client.DocumentURL(e.server.URL, documentID)
	if err != nil {
		return nil, nil, err
	}

	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}
	return websocket.DefaultDialer.Dial(url, header)
}

// Read returns the next protocol message, failing the test after two seconds.
func Read(t *testing.T, conn *websocket.Conn) protocol.Message {
	t.Helper()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg protocol.Message
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}
