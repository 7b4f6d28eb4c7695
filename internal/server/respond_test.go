package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/svcmgr/internal/service"
)

func TestMountPathRoutes(t *testing.T) {
	for in, want := range map[string]string{
		"":         "/healthz",
		"/":        "/healthz",
		"api":      "/api/healthz",
		" /api/ ":  "/api/healthz",
		"//v1//sm": "/v1/sm/healthz",
	} {
		h := setupRouter(t, in, newFake())
		rec := doReq(t, h, http.MethodGet, want, nil)
		assert.Equal(t, http.StatusOK, rec.Code, "base %q should serve %s", in, want)
		assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	}
}

func TestActionRejectsUnsafeNames(t *testing.T) {
	f := newFake("web")
	h := setupRouter(t, "/api", f)
	for _, name := range []string{"a..b", "web*", "we%20b", "%E2%9C%93"} {
		for _, verb := range []string{"start", "stop", "restart", "enable", "disable", "reset"} {
			rec := doReq(t, h, http.MethodPost, "/api/services/"+name+"/"+verb, nil)
			require.Equal(t, http.StatusBadRequest, rec.Code, "%s %s", verb, name)
			var body errorResp
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Contains(t, body.Error, "invalid service name")
		}
	}
	f.mu.Lock()
	assert.Empty(t, f.calls, "rejected names never reach the manager")
	f.mu.Unlock()

	// dots, dashes and underscores are fine
	f = newFake("db.main_1-a")
	h = setupRouter(t, "/api", f)
	assert.Equal(t, http.StatusOK, doReq(t, h, http.MethodPost, "/api/services/db.main_1-a/start", nil).Code)
}

func TestCheckName(t *testing.T) {
	require.NoError(t, checkName("network"))
	assert.EqualError(t, checkName(""), "service name is required")
	assert.ErrorContains(t, checkName("../etc"), "'..' is not allowed")
	assert.ErrorContains(t, checkName("web/1"), "[A-Za-z0-9._-]")
}

func TestStatusForErrorKinds(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{service.NotFound("x"), http.StatusNotFound},
		{&service.Error{Kind: service.KindDuplicateName, Service: "x"}, http.StatusConflict},
		{&service.Error{Kind: service.KindDependencyUnready, Service: "x"}, http.StatusConflict},
		{&service.Error{Kind: service.KindConfigInvalid, Service: "x"}, http.StatusBadRequest},
		{&service.Error{Kind: service.KindSpawnFailed, Service: "x"}, http.StatusInternalServerError},
		{&service.Error{Kind: service.KindSignalFailed, Service: "x"}, http.StatusInternalServerError},
		{errors.New("plain"), http.StatusInternalServerError},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, statusFor(c.err), "%v", c.err)
	}
}
