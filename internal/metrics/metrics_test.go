package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestObserveTeardown(t *testing.T) {
	before := testutil.ToFloat64(teardownOperations.WithLabelValues("webhook", "success"))
	ObserveTeardown("webhook", "success")
	ObserveTeardown("webhook", "success")
	after := testutil.ToFloat64(teardownOperations.WithLabelValues("webhook", "success"))
	assert.Equal(t, before+2, after)
}

func TestObserveTokenRefresh(t *testing.T) {
	before := testutil.ToFloat64(tokenRefreshes.WithLabelValues("jira", "failure"))
	ObserveTokenRefresh("jira", "failure")
	assert.Equal(t, before+1, testutil.ToFloat64(tokenRefreshes.WithLabelValues("jira", "failure")))
}

func TestObserveHTTPRequest(t *testing.T) {
	before := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "/healthz", "200"))
	ObserveHTTPRequest("GET", "/healthz", "200", 5*time.Millisecond)
	assert.Equal(t, before+1, testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "/healthz", "200")))
}

func TestObserveProvision_Registered(t *testing.T) {
	ObserveProvision("success", time.Second)
	assert.Equal(t, 1, testutil.CollectAndCount(provisionDuration))
}
