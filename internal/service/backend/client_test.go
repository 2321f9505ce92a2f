package backend

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/303webhouse/pandoras-box-sub000/internal/domain/models"
	xhttp "github.com/303webhouse/pandoras-box-sub000/pkg/http"
	"github.com/303webhouse/pandoras-box-sub000/pkg/logger"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return New(srv.URL+"/", time.Second, logger.Nop(), WithRetry(3, time.Millisecond))
}

func TestFetchActiveSignals_AcceptsBothShapes(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/signals/active", r.URL.Path)
		if r.URL.Query().Get("asset_class") == "CRYPTO" {
			_, _ = io.WriteString(w, `[{"id":"c1","symbol":"btc","score":"88.5"}]`)
			return
		}
		_, _ = io.WriteString(w, `{"signals":[{"signal_id":"e1","ticker":"AAPL","score":70,"asset_class":"EQUITY"},{"ticker":"NOID"}]}`)
	})

	eq, err := c.FetchActiveSignals(context.Background(), models.Equity)
	require.NoError(t, err)
	require.Len(t, eq, 1)
	assert.Equal(t, "e1", eq[0].SignalID)

	cr, err := c.FetchActiveSignals(context.Background(), models.Crypto)
	require.NoError(t, err)
	require.Len(t, cr, 1)
	assert.Equal(t, models.Crypto, cr[0].AssetClass)
	assert.Equal(t, "BTC", cr[0].Ticker)
	assert.Equal(t, 88.5, cr[0].Score)
}

func TestFetchSignalsPage(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, userAgent, r.Header.Get("User-Agent"))
		assert.Equal(t, "25", r.URL.Query().Get("offset"))
		assert.Equal(t, "25", r.URL.Query().Get("limit"))
		_, _ = io.WriteString(w, `{"signals":[{"signal_id":"x"}],"has_more":false}`)
	})
	page, err := c.FetchSignalsPage(context.Background(), models.Equity, 25, 25)
	require.NoError(t, err)
	require.NotNil(t, page.HasMore)
	assert.False(t, *page.HasMore)
	assert.Len(t, page.Signals, 1)
}

func TestGetRetriesTransientErrors(t *testing.T) {
	var calls int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = io.WriteString(w, `{"composite_level":"MINOR_URSA","timeframes":{"daily":{"level":"LEAN_URSA"}}}`)
	})
	st, err := c.FetchBiasStatus(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
	assert.Equal(t, models.MinorUrsa, st.Composite)
	assert.Equal(t, "LEAN_URSA", st.Timeframes["daily"].Level)
}

func TestGetDoesNotRetryClientErrors(t *testing.T) {
	var calls int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		http.Error(w, "nope", http.StatusNotFound)
	})
	_, err := c.FetchBiasShift(context.Background())
	require.Error(t, err)
	assert.True(t, xhttp.IsStatus(err, http.StatusNotFound))
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestActions(t *testing.T) {
	type call struct {
		method, path string
		body         map[string]interface{}
	}
	var got []call
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		cl := call{method: r.Method, path: r.URL.Path}
		if b, _ := io.ReadAll(r.Body); len(b) > 0 {
			_ = json.Unmarshal(b, &cl.body)
		}
		got = append(got, cl)
		w.WriteHeader(http.StatusNoContent)
	})
	ctx := context.Background()
	exp := time.Date(2024, 6, 4, 14, 0, 0, 0, time.UTC)

	require.NoError(t, c.AcceptSignal(ctx, "a/1"))
	require.NoError(t, c.DismissSignal(ctx, "b", "late"))
	require.NoError(t, c.SetBiasOverride(ctx, models.MajorToro, "fomc", exp))
	require.NoError(t, c.ClearBiasOverride(ctx))

	require.Len(t, got, 4)
	assert.Equal(t, "/api/signals/a/1/accept", got[0].path)
	assert.Equal(t, "late", got[1].body["reason"])
	assert.Equal(t, http.MethodPost, got[2].method)
	assert.Equal(t, "MAJOR_TORO", got[2].body["direction"])
	assert.Equal(t, "2024-06-04T14:00:00Z", got[2].body["expires_at"])
	assert.Equal(t, http.MethodDelete, got[3].method)
}

func TestNotConfigured(t *testing.T) {
	c := New("", time.Second, nil)
	_, err := c.FetchActiveSignals(context.Background(), models.Equity)
	assert.ErrorIs(t, err, ErrNotConfigured)
}
