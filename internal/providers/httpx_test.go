package providers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/marketdesk/marketdesk/internal/errs"
)

func testClient(t *testing.T, handler http.HandlerFunc) *httpClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return newHTTPClient("test", srv.URL, httpClientOpts{RPS: 1000, Burst: 1000}, zerolog.Nop())
}

func TestHTTPClient_GetJSON(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Accept"))
		w.Write([]byte(`{"value": 42}`))
	})

	var out struct {
		Value int `json:"value"`
	}
	require.NoError(t, c.getJSON(context.Background(), "/thing", nil, &out))
	assert.Equal(t, 42, out.Value)
}

func TestHTTPClient_StatusClassification(t *testing.T) {
	cases := []struct {
		status int
		kind   errs.Kind
	}{
		{http.StatusNotFound, errs.KindNotFound},
		{http.StatusTooManyRequests, errs.KindQuotaExceeded},
		{http.StatusForbidden, errs.KindPermanent},
		{http.StatusInternalServerError, errs.KindTransient},
		{http.StatusServiceUnavailable, errs.KindTransient},
	}
	for _, tc := range cases {
		c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tc.status)
		})
		err := c.getJSON(context.Background(), "/x", nil, &struct{}{})
		require.Error(t, err)
		assert.True(t, errs.IsKind(err, tc.kind), "status %d should map to %s", tc.status, tc.kind)
	}
}

func TestHTTPClient_RetryAfterPropagated(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "30")
		w.WriteHeader(http.StatusTooManyRequests)
	})
	err := c.getJSON(context.Background(), "/x", nil, &struct{}{})
	require.Error(t, err)

	var e *errs.Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, 30*time.Second, e.RetryAfter)
}

func TestHTTPClient_MalformedBodyIsPermanent(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html>not json</html>"))
	})
	err := c.getJSON(context.Background(), "/x", nil, &struct{}{})
	require.Error(t, err)
	assert.True(t, errs.IsKind(err, errs.KindPermanent))
}

func TestHTTPClient_ContextDeadline(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	})
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := c.getJSON(ctx, "/slow", nil, &struct{}{})
	require.Error(t, err)
	assert.True(t, errs.IsKind(err, errs.KindTransient))
}

func TestHTTPClient_SetRateLimit(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {})

	c.SetRateLimit(0.5, 2)
	assert.Equal(t, rate.Limit(0.5), c.limiter.Limit())
	assert.Equal(t, 2, c.limiter.Burst())

	// Burst defaults from rps when unset.
	c.SetRateLimit(4, 0)
	assert.Equal(t, 4, c.limiter.Burst())

	// Zero rps leaves the bucket alone.
	c.SetRateLimit(0, 10)
	assert.Equal(t, rate.Limit(4), c.limiter.Limit())
	assert.Equal(t, 4, c.limiter.Burst())
}

func TestParseRetryAfter(t *testing.T) {
	assert.Equal(t, 45*time.Second, parseRetryAfter("45"))
	assert.Equal(t, time.Duration(0), parseRetryAfter(""))
	assert.Equal(t, time.Duration(0), parseRetryAfter("garbage"))

	future := time.Now().Add(time.Minute).UTC().Format(http.TimeFormat)
	got := parseRetryAfter(future)
	assert.Greater(t, got, 50*time.Second)
}
