package metrics

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func counterValue(t *testing.T, m *Metrics, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := m.Registry().Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, metric := range mf.GetMetric() {
			if matches(metric, labels) {
				return metric.GetCounter().GetValue()
			}
		}
	}
	return 0
}

func matches(metric *dto.Metric, labels map[string]string) bool {
	found := 0
	for _, lp := range metric.GetLabel() {
		if v, ok := labels[lp.GetName()]; ok && v == lp.GetValue() {
			found++
		}
	}
	return found == len(labels)
}

func TestNilMetrics_IsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveHTTP("/wallet/balance", "GET", 200, time.Millisecond)
		m.ObserveAuth("jwt", nil)
		m.ObserveLedger("transfer", 100, nil)
		m.ObserveWebhook("credited")
		m.ObserveGatewayCall(time.Second, errors.New("boom"))
		m.ObserveKeyIssued("create")
	})
	assert.Nil(t, m.Registry())
}

func TestObserveLedger_AddsAmountOnlyOnSuccess(t *testing.T) {
	m := New()

	m.ObserveLedger("transfer", 500, nil)
	m.ObserveLedger("transfer", 700, errors.New("insufficient"))

	assert.Equal(t, 1.0, counterValue(t, m, "custodial_wallet_ledger_operations_total",
		map[string]string{"op": "transfer", "result": "success"}))
	assert.Equal(t, 1.0, counterValue(t, m, "custodial_wallet_ledger_operations_total",
		map[string]string{"op": "transfer", "result": "error"}))
	assert.Equal(t, 500.0, counterValue(t, m, "custodial_wallet_ledger_amount_minor_total",
		map[string]string{"op": "transfer"}))
}

func TestObserveHTTP_StatusClass(t *testing.T) {
	m := New()

	m.ObserveHTTP("/wallet/transfer", "POST", 402, time.Millisecond)
	m.ObserveHTTP("", "GET", 404, time.Millisecond)

	assert.Equal(t, 1.0, counterValue(t, m, "custodial_wallet_http_requests_total",
		map[string]string{"route": "/wallet/transfer", "status": "4xx"}))
	assert.Equal(t, 1.0, counterValue(t, m, "custodial_wallet_http_requests_total",
		map[string]string{"route": "unmatched", "status": "4xx"}))
}

func TestHandler_ServesExposition(t *testing.T) {
	m := New()
	m.ObserveWebhook("credited")

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `custodial_wallet_webhook_events_total{outcome="credited"} 1`)
}
