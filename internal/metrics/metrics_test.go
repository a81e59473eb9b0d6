package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestIncNegotiationAttempt(t *testing.T) {
	before := testutil.ToFloat64(NegotiationAttempts.WithLabelValues("high-res", "retriable"))
	IncNegotiationAttempt("high-res", "retriable")
	IncNegotiationAttempt("high-res", "retriable")
	after := testutil.ToFloat64(NegotiationAttempts.WithLabelValues("high-res", "retriable"))
	assert.Equal(t, before+2, after)
}

func TestIncDetectionTick(t *testing.T) {
	before := testutil.ToFloat64(DetectionTicks.WithLabelValues("empty"))
	IncDetectionTick("empty")
	assert.Equal(t, before+1, testutil.ToFloat64(DetectionTicks.WithLabelValues("empty")))
}
