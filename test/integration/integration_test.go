// Package integration exercises the full host over HTTP and websocket.
package integration

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"courseframework/internal/api"
	"courseframework/pkg/access"
	"courseframework/pkg/plugin"
	"courseframework/pkg/testutil"

	"github.com/stretchr/testify/require"
)

const testSecret = "integration-secret"

type harness struct {
	env    *testutil.TestEnv
	server *api.Server
	http   *httptest.Server
}

func setupTest(t *testing.T, configs map[string]plugin.Config, opts ...testutil.Option) *harness {
	t.Helper()

	env, err := testutil.NewTestEnv(opts...)
	require.NoError(t, err)

	require.NoError(t, env.Boot(configs))

	server := api.NewServer(env.Host, env.Logger, api.Config{JWTSecret: testSecret})
	ts := httptest.NewServer(server)

	t.Cleanup(func() {
		ts.Close()
		env.Cleanup()
	})

	return &harness{env: env, server: server, http: ts}
}

func (h *harness) token(t *testing.T, actx access.Context) string {
	t.Helper()
	token, err := h.server.Tokens().GenerateToken(api.ClaimsFor("integration", actx, time.Hour))
	require.NoError(t, err)
	return token
}

// call performs a request and decodes a JSON response into out when non-nil.
func (h *harness) call(t *testing.T, method, path, token string, body, out any) int {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, h.http.URL+path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}
