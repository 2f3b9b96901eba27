package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestCollectorsRegistered(t *testing.T) {
	before := testutil.ToFloat64(SnapshotsDelivered.WithLabelValues("feed"))
	SnapshotsDelivered.WithLabelValues("feed").Inc()
	assert.Equal(t, before+1, testutil.ToFloat64(SnapshotsDelivered.WithLabelValues("feed")))

	LiveSubscribers.WithLabelValues("comments").Set(3)
	assert.Equal(t, float64(3), testutil.ToFloat64(LiveSubscribers.WithLabelValues("comments")))

	InconsistenciesOpen.Set(2)
	assert.Equal(t, float64(2), testutil.ToFloat64(InconsistenciesOpen))
}
