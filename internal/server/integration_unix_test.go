//go:build !windows

package server

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mng "github.com/loykin/svcmgr/internal/manager"
	"github.com/loykin/svcmgr/internal/service"
)

func TestRouterWithRealManager(t *testing.T) {
	m := mng.NewManager(mng.Options{Options: service.Options{PollInterval: 20 * time.Millisecond}})
	t.Cleanup(func() { _ = m.Shutdown(context.Background()) })
	require.NoError(t, m.Register(service.Config{
		Name:          "sleeper",
		ExecPath:      "/bin/sleep",
		Args:          []string{"30"},
		Priority:      service.Normal,
		AutoStart:     true,
		ShutdownGrace: time.Second,
	}))
	require.NoError(t, m.Register(service.Config{
		Name:         "dependent",
		ExecPath:     "/bin/sleep",
		Args:         []string{"30"},
		Dependencies: []string{"missing"},
	}))
	h := setupRouter(t, "/api", m)

	rec := doReq(t, h, http.MethodPost, "/api/services/sleeper/start", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var st map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	assert.Equal(t, "running", st["state"])
	assert.NotZero(t, st["pid"])

	rec = doReq(t, h, http.MethodPost, "/api/services/dependent/start", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = doReq(t, h, http.MethodPost, "/api/services/sleeper/stop", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	assert.Equal(t, "stopped", st["state"])
	assert.EqualValues(t, 0, st["pid"])

	rec = doReq(t, h, http.MethodPost, "/api/reload", nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code, "no config store configured")
}
