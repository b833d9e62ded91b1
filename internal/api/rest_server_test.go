package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/annel0/world-templates/internal/auth"
	"github.com/annel0/world-templates/internal/orchestrator"
	"github.com/annel0/world-templates/internal/scheduler"
	"github.com/annel0/world-templates/internal/storage"
	"github.com/annel0/world-templates/internal/template"
	"github.com/annel0/world-templates/internal/world"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testEnv struct {
	server *RestServer
	store  *template.Store
	base   string
}

func newTestEnv(t *testing.T, tokens *auth.TokenManager) *testEnv {
	t.Helper()

	base := t.TempDir()
	container := filepath.Join(base, "worlds")
	require.NoError(t, os.MkdirAll(filepath.Join(container, "alpha", "region"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(container, "alpha", world.LevelFile), []byte("level"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(container, "alpha", "region", "r.0.0.mca"), []byte("chunks"), 0644))

	rt, err := world.NewDirRuntime(container)
	require.NoError(t, err)
	_, err = rt.Discover(context.Background())
	require.NoError(t, err)

	main := scheduler.NewMainThread(time.Millisecond)
	main.Start()
	pool := scheduler.NewPool(2)
	reg := storage.NewMemoryRegistry()
	t.Cleanup(func() {
		main.Stop()
		pool.Stop()
		reg.Close()
	})

	store := template.NewStore(filepath.Join(base, "templates"))
	orch, err := orchestrator.New(orchestrator.Config{
		Store:      store,
		Runtime:    rt,
		Registry:   reg,
		MainThread: main,
		Pool:       pool,
		Settle:     orchestrator.Immediate{},
	})
	require.NoError(t, err)

	promReg := prometheus.NewRegistry()
	rs, err := NewRestServer(Config{
		Addr:         "127.0.0.1:0",
		Orchestrator: orch,
		Store:        store,
		Registry:     reg,
		Tokens:       tokens,
		Registerer:   promReg,
		Gatherer:     promReg,
		OpTimeout:    5 * time.Second,
	})
	require.NoError(t, err)
	return &testEnv{server: rs, store: store, base: base}
}

func (e *testEnv) do(t *testing.T, method, path string, body interface{}, token string) *httptest.ResponseRecorder {
	t.Helper()

	var r io.Reader
	switch b := body.(type) {
	case nil:
	case []byte:
		r = bytes.NewReader(b)
	case string:
		r = bytes.NewBufferString(b)
	default:
		data, err := json.Marshal(b)
		require.NoError(t, err)
		r = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, path, r)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) GenericResponse {
	t.Helper()
	var resp GenericResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), w.Body.String())
	return resp
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, nil)

	w := env.do(t, http.MethodGet, "/health", nil, "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"ok"`)
}

// TestTemplateLifecycle проходит создание, загрузку, экспорт, импорт и удаление через API
func TestTemplateLifecycle(t *testing.T) {
	env := newTestEnv(t, nil)

	w := env.do(t, http.MethodPost, "/api/templates", CreateTemplateRequest{World: "alpha"}, "")
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = env.do(t, http.MethodGet, "/api/templates", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []interface{}{"alpha"}, decode(t, w).Data)

	w = env.do(t, http.MethodPost, "/api/templates/alpha/load", LoadTemplateRequest{World: "alpha_copy"}, "")
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	loaded := decode(t, w).Data.(map[string]interface{})
	assert.Equal(t, "alpha_copy", loaded["name"])
	assert.Equal(t, filepath.Join(env.base, "worlds", "alpha_copy"), loaded["dir"])

	w = env.do(t, http.MethodGet, "/api/worlds", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	worlds := decode(t, w).Data.(map[string]interface{})
	assert.Len(t, worlds["live"], 1)
	assert.Len(t, worlds["registered"], 1)

	w = env.do(t, http.MethodGet, "/api/templates/alpha/archive", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/zstd", w.Header().Get("Content-Type"))
	archive := w.Body.Bytes()
	require.NotEmpty(t, archive)

	w = env.do(t, http.MethodPut, "/api/templates/restored/archive", archive, "")
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	data, err := os.ReadFile(filepath.Join(env.base, "templates", "restored", "region", "r.0.0.mca"))
	require.NoError(t, err)
	assert.Equal(t, "chunks", string(data))

	w = env.do(t, http.MethodDelete, "/api/worlds/alpha_copy", nil, "")
	assert.Equal(t, http.StatusOK, w.Code)
	w = env.do(t, http.MethodDelete, "/api/worlds/alpha_copy", nil, "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = env.do(t, http.MethodDelete, "/api/templates/restored", nil, "")
	assert.Equal(t, http.StatusOK, w.Code, w.Body.String())
	names, err := env.store.List()
	require.NoError(t, err)
	assert.Equal(t, []string{"alpha"}, names)
}

func TestErrorStatuses(t *testing.T) {
	env := newTestEnv(t, nil)

	tests := []struct {
		name   string
		method string
		path   string
		body   interface{}
		status int
	}{
		{"unknown world", http.MethodPost, "/api/templates", CreateTemplateRequest{World: "ghost"}, http.StatusNotFound},
		{"missing world field", http.MethodPost, "/api/templates", "{}", http.StatusBadRequest},
		{"broken json", http.MethodPost, "/api/templates", "{", http.StatusBadRequest},
		{"missing template", http.MethodPost, "/api/templates/nope/load", LoadTemplateRequest{World: "w"}, http.StatusNotFound},
		{"missing archive", http.MethodGet, "/api/templates/nope/archive", nil, http.StatusNotFound},
		{"forget unknown", http.MethodDelete, "/api/worlds/ghost", nil, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(t, tt.method, tt.path, tt.body, "")
			assert.Equal(t, tt.status, w.Code, w.Body.String())
			assert.False(t, decode(t, w).Success)
		})
	}

	t.Run("invalid world name", func(t *testing.T) {
		w := env.do(t, http.MethodPost, "/api/templates", CreateTemplateRequest{World: "alpha"}, "")
		require.Equal(t, http.StatusCreated, w.Code)

		w = env.do(t, http.MethodPost, "/api/templates/alpha/load", LoadTemplateRequest{World: ".."}, "")
		assert.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())
	})
}

func TestAuthorization(t *testing.T) {
	secret, err := auth.GenerateSecureSecret()
	require.NoError(t, err)
	tokens, err := auth.NewTokenManagerFromBase64(secret, time.Hour)
	require.NoError(t, err)
	env := newTestEnv(t, tokens)

	viewer, err := tokens.Generate("viewer", false)
	require.NoError(t, err)
	admin, err := tokens.Generate("builder", true)
	require.NoError(t, err)

	assert.Equal(t, http.StatusUnauthorized, env.do(t, http.MethodGet, "/api/templates", nil, "").Code)
	assert.Equal(t, http.StatusUnauthorized, env.do(t, http.MethodGet, "/api/templates", nil, "garbage").Code)

	req := httptest.NewRequest(http.MethodGet, "/api/templates", nil)
	req.Header.Set("Authorization", "Token "+viewer)
	w := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	assert.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/api/templates", nil, viewer).Code)
	assert.Equal(t, http.StatusForbidden,
		env.do(t, http.MethodPost, "/api/templates", CreateTemplateRequest{World: "alpha"}, viewer).Code)
	assert.Equal(t, http.StatusCreated,
		env.do(t, http.MethodPost, "/api/templates", CreateTemplateRequest{World: "alpha"}, admin).Code)

	// /health открыт без токена
	assert.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/health", nil, "").Code)
}

func TestMetricsAndServerInfo(t *testing.T) {
	env := newTestEnv(t, nil)

	w := env.do(t, http.MethodGet, "/api/server", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	info := decode(t, w).Data.(map[string]interface{})
	assert.Equal(t, env.store.Root(), info["template_root"])
	assert.Contains(t, info, "uptime")

	w = env.do(t, http.MethodGet, "/metrics", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "worldtpl_api_http_request_duration_seconds")
}

func TestStartStop(t *testing.T) {
	env := newTestEnv(t, nil)
	require.NoError(t, env.server.Start())

	resp, err := http.Get("http://" + env.server.Addr() + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, env.server.Stop(ctx))
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, statusFor(template.ErrInvalidName))
	assert.Equal(t, http.StatusBadRequest, statusFor(template.ErrUnsafeArchive))
	assert.Equal(t, http.StatusNotFound, statusFor(orchestrator.ErrTemplateNotFound))
	assert.Equal(t, http.StatusServiceUnavailable, statusFor(template.ErrTemplateRootUnset))
	assert.Equal(t, http.StatusGatewayTimeout, statusFor(context.DeadlineExceeded))
	assert.Equal(t, http.StatusInternalServerError, statusFor(orchestrator.ErrDuplicationFailed))
}

func TestNewRestServerValidation(t *testing.T) {
	_, err := NewRestServer(Config{})
	assert.Error(t, err)
}
