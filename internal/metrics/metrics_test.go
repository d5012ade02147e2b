package metrics

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	eventbus "github.com/hanpama/chaingraph/internal/eventbus"
	events "github.com/hanpama/chaingraph/internal/events"
)

func TestCollectorsFollowEvents(t *testing.T) {
	eventbus.Use(eventbus.New())
	defer eventbus.Use(nil)

	reg := prometheus.NewRegistry()
	c := New()
	unsubscribe, err := c.Register(reg)
	require.NoError(t, err)
	defer unsubscribe()

	ctx := context.Background()
	eventbus.Publish(ctx, events.ChainRPCFinish{Method: "state_getStorage", Duration: time.Millisecond})
	eventbus.Publish(ctx, events.ChainRPCFinish{Method: "state_getStorage", Err: errors.New("boom")})
	eventbus.Publish(ctx, events.GuestExecStart{Context: 1})
	eventbus.Publish(ctx, events.GuestExecStart{Context: 2})
	eventbus.Publish(ctx, events.GuestExecFinish{Context: 1})
	eventbus.Publish(ctx, events.GuestExecFinish{Context: 2, Forced: true})
	eventbus.Publish(ctx, events.StorageQuery{Module: "Balances", Items: []string{"TotalIssuance", "Locks"}})
	eventbus.Publish(ctx, events.StorageQuery{Module: "Balances", Items: []string{"Account"}, Err: errors.New("boom")})
	req := httptest.NewRequest(http.MethodPost, "/graphql", nil)
	eventbus.Publish(ctx, events.HTTPFinish{Request: req, Status: 200})

	require.Equal(t, 2, testutil.CollectAndCount(c.ChainRPCDuration))
	require.Equal(t, float64(0), testutil.ToFloat64(c.GuestInFlight))
	require.Equal(t, float64(1), testutil.ToFloat64(c.GuestExecutions.WithLabelValues("forced")))
	require.Equal(t, float64(1), testutil.ToFloat64(c.GuestExecutions.WithLabelValues("joined")))
	require.Equal(t, float64(2), testutil.ToFloat64(c.StorageItems.WithLabelValues("Balances", "ok")))
	require.Equal(t, float64(1), testutil.ToFloat64(c.StorageItems.WithLabelValues("Balances", "error")))
	require.Equal(t, float64(1), testutil.ToFloat64(c.HTTPRequests.WithLabelValues("POST", "200")))
}

func TestHandlerExposesSeries(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := New()
	_, err := c.Register(reg)
	require.NoError(t, err)
	c.SchemaWarnings.Set(3)

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, strings.Contains(rec.Body.String(), "chaingraph_schema_unmapped_types 3"))
}
