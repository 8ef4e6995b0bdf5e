package steps

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRegistry(t *testing.T) {
	registry := NewDefaultRegistry()
	require.True(t, registry.HasType("noop"))
	require.True(t, registry.HasType("HTTP"))
	require.True(t, registry.HasType("script"))
	require.False(t, registry.HasType("teleport"))

	executor, err := registry.Get("noop")
	require.NoError(t, err)
	require.Equal(t, "noop", executor.Type())

	_, err = registry.Get("teleport")
	require.Error(t, err)
}

func TestNoopExecutor(t *testing.T) {
	outcome, err := NewNoopExecutor().Execute(Request{
		Input: map[string]any{"k": "v"},
	})
	require.NoError(t, err)
	require.Equal(t, OUTCOME_COMPLETED, outcome.Status)
	require.Equal(t, "v", outcome.Output["k"])
}

func TestHttpExecutor(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"reservationId":"rsv-1"}`))
	}))
	defer srv.Close()

	outcome, err := NewHttpExecutor().Execute(Request{
		Input: map[string]any{"url": srv.URL, "orderId": "ord-1"},
	})
	require.NoError(t, err)
	require.Equal(t, OUTCOME_COMPLETED, outcome.Status)
	require.Equal(t, "rsv-1", outcome.Output["reservationId"])
}

func TestHttpExecutorFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	outcome, err := NewHttpExecutor().Execute(Request{
		Input: map[string]any{"url": srv.URL},
	})
	require.NoError(t, err)
	require.Equal(t, OUTCOME_FAILED, outcome.Status)
	require.Contains(t, outcome.Error, "502")

	outcome, err = NewHttpExecutor().Execute(Request{Input: map[string]any{}})
	require.NoError(t, err)
	require.Equal(t, OUTCOME_FAILED, outcome.Status)
}

func TestScriptExecutor(t *testing.T) {
	outcome, err := NewScriptExecutor().Execute(Request{
		Input: map[string]any{"expression": "$ = { total: $.input.amount * 2 };"},
		Data: map[string]any{
			"input": map[string]any{"amount": 21},
		},
	})
	require.NoError(t, err)
	require.Equal(t, OUTCOME_COMPLETED, outcome.Status)
	require.Equal(t, float64(42), outcome.Output["total"])
}

func TestScriptExecutorErrors(t *testing.T) {
	outcome, err := NewScriptExecutor().Execute(Request{
		Input: map[string]any{"expression": "this is not javascript"},
		Data:  map[string]any{},
	})
	require.NoError(t, err)
	require.Equal(t, OUTCOME_FAILED, outcome.Status)

	outcome, err = NewScriptExecutor().Execute(Request{Input: map[string]any{}})
	require.NoError(t, err)
	require.Equal(t, OUTCOME_FAILED, outcome.Status)
}
