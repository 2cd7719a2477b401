package metrics

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestSanitizeMethod(t *testing.T) {
	tests := []struct {
		method   string
		expected string
	}{
		{method: "get", expected: "GET"},
		{method: "POST", expected: "POST"},
		{method: "OPTIONS", expected: "OPTIONS"},
		{method: "connect", expected: "CONNECT"},
		{method: "trace", expected: "TRACE"},
		{method: "UNKNOWN", expected: "OTHER"},
		{method: strings.Repeat("ohno", 9999), expected: "OTHER"},
	}

	for _, d := range tests {
		actual := SanitizeMethod(d.method)
		if actual != d.expected {
			t.Errorf("Not same: expected %#v, but got %#v", d.expected, actual)
		}
	}
}

func TestRequestCountIncrements(t *testing.T) {
	counter := RequestCount.WithLabelValues("GET", "418")
	before := testutil.ToFloat64(counter)
	counter.Inc()
	if after := testutil.ToFloat64(counter); after != before+1 {
		t.Errorf("expected counter to rise by 1, went %v -> %v", before, after)
	}
}

func TestOpenConnectionsGauge(t *testing.T) {
	before := testutil.ToFloat64(OpenConnections)
	OpenConnections.Inc()
	OpenConnections.Dec()
	if after := testutil.ToFloat64(OpenConnections); after != before {
		t.Errorf("expected gauge back at %v, got %v", before, after)
	}
}
