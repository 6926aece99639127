package httpapi_test

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/jdockerty/chipmunk/httpapi"
	"github.com/jdockerty/chipmunk/lsm"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	dir := t.TempDir()
	engine, err := lsm.New(lsm.DefaultConfig(dir), zap.NewNop(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = engine.Close() })

	srv, err := httpapi.New(httpapi.Config{Engine: engine, PoolSize: 4})
	require.NoError(t, err)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "OK", string(body))
}

func TestPutGetDelete(t *testing.T) {
	ts := newTestServer(t)

	putResp, err := http.Post(ts.URL+"/api/v1", "text/plain", strings.NewReader("key1=value1"))
	require.NoError(t, err)
	defer putResp.Body.Close()
	assert.Equal(t, http.StatusNoContent, putResp.StatusCode)

	getResp, err := http.Get(ts.URL + "/api/v1/key1")
	require.NoError(t, err)
	defer getResp.Body.Close()
	assert.Equal(t, http.StatusOK, getResp.StatusCode)
	body, err := io.ReadAll(getResp.Body)
	require.NoError(t, err)
	assert.Equal(t, "value1", string(body))

	req, err := http.NewRequest(http.MethodDelete, ts.URL+"/api/v1/key1", nil)
	require.NoError(t, err)
	delResp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer delResp.Body.Close()
	assert.Equal(t, http.StatusNoContent, delResp.StatusCode)

	missResp, err := http.Get(ts.URL + "/api/v1/key1")
	require.NoError(t, err)
	defer missResp.Body.Close()
	assert.Equal(t, http.StatusNotFound, missResp.StatusCode)
}

func TestGetMissingKeyReturns404(t *testing.T) {
	ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/api/v1/never-written")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestPutMalformedBodyReturns400(t *testing.T) {
	ts := newTestServer(t)

	resp, err := http.Post(ts.URL+"/api/v1", "text/plain", strings.NewReader("key1,value1"))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "Must provide key=value format")
}

func TestDeleteAbsentKeyStillReturns204(t *testing.T) {
	ts := newTestServer(t)

	req, err := http.NewRequest(http.MethodDelete, ts.URL+"/api/v1/ghost", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
}

func TestRequestIDHeaderIsEchoed(t *testing.T) {
	ts := newTestServer(t)

	req, err := http.NewRequest(http.MethodGet, ts.URL+"/health", nil)
	require.NoError(t, err)
	req.Header.Set("X-Request-ID", "caller-supplied-id")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "caller-supplied-id", resp.Header.Get("X-Request-ID"))
}

func TestMetricsEndpointIsExposed(t *testing.T) {
	ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
