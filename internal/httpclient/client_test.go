package httpclient

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockedClient(t *testing.T) *Client {
	t.Helper()
	c := New(&Config{DefaultTimeout: time.Second, UserAgent: "poachwatch-test"})
	httpmock.ActivateNonDefault(c.HTTPClient())
	t.Cleanup(httpmock.DeactivateAndReset)
	return c
}

func TestGetJSONDecodesBody(t *testing.T) {
	c := newMockedClient(t)
	httpmock.RegisterResponder(http.MethodGet, "http://backend/api/items",
		func(req *http.Request) (*http.Response, error) {
			assert.Equal(t, "poachwatch-test", req.Header.Get("User-Agent"))
			_, hasDeadline := req.Context().Deadline()
			assert.True(t, hasDeadline)
			return httpmock.NewJsonResponse(http.StatusOK, map[string]any{"count": 2})
		})

	var out struct {
		Count int `json:"count"`
	}
	require.NoError(t, c.GetJSON(context.Background(), "http://backend/api/items", &out))
	assert.Equal(t, 2, out.Count)
}

func TestGetJSONStatusError(t *testing.T) {
	c := newMockedClient(t)
	httpmock.RegisterResponder(http.MethodGet, "http://backend/api/items",
		httpmock.NewStringResponder(http.StatusServiceUnavailable, "down for maintenance"))

	err := c.GetJSON(context.Background(), "http://backend/api/items", &struct{}{})
	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusServiceUnavailable, statusErr.StatusCode)
	assert.Equal(t, "down for maintenance", statusErr.Body)
}

func TestPostJSONSendsBody(t *testing.T) {
	c := newMockedClient(t)
	httpmock.RegisterResponder(http.MethodPost, "http://backend/api/validate",
		func(req *http.Request) (*http.Response, error) {
			assert.Equal(t, "application/json", req.Header.Get("Content-Type"))
			return httpmock.NewStringResponse(http.StatusOK, `{"status":"ok"}`), nil
		})

	var out struct {
		Status string `json:"status"`
	}
	require.NoError(t, c.PostJSON(context.Background(), "http://backend/api/validate", map[string]string{"image_url": "img1"}, &out))
	assert.Equal(t, "ok", out.Status)
}

func TestHooksObserveRequests(t *testing.T) {
	c := newMockedClient(t)
	httpmock.RegisterResponder(http.MethodGet, "http://backend/ping", httpmock.NewStringResponder(http.StatusOK, "{}"))

	var before, after int
	c.SetBeforeRequestHook(func(*http.Request) { before++ })
	c.SetAfterResponseHook(func(_ *http.Request, resp *http.Response, err error, _ time.Duration) {
		after++
		assert.NoError(t, err)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})

	require.NoError(t, c.GetJSON(context.Background(), "http://backend/ping", nil))
	assert.Equal(t, 1, before)
	assert.Equal(t, 1, after)
}

func TestTransportError(t *testing.T) {
	c := newMockedClient(t)
	httpmock.RegisterResponder(http.MethodGet, "http://backend/api/items",
		httpmock.NewErrorResponder(errors.New("connection refused")))

	err := c.GetJSON(context.Background(), "http://backend/api/items", &struct{}{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
}
