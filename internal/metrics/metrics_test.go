package metrics

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterTwice(t *testing.T) {
	reg := prometheus.NewRegistry()
	require.NoError(t, Register(reg))
	require.NoError(t, Register(reg))
}

func TestCollectorsExposed(t *testing.T) {
	reg := prometheus.NewRegistry()
	require.NoError(t, Register(reg))

	ChangesDetected.WithLabelValues("work").Add(3)
	DocumentsIndexed.WithLabelValues("works").Add(2)
	WatermarkTimestamp.WithLabelValues("genre").Set(1700000000)

	assert.Equal(t, float64(1700000000), testutil.ToFloat64(WatermarkTimestamp.WithLabelValues("genre")))

	expected := `
# HELP etl_rebuild_duration_seconds Wall time of the last full rebuild.
# TYPE etl_rebuild_duration_seconds gauge
etl_rebuild_duration_seconds 0
`
	assert.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "etl_rebuild_duration_seconds"))

	n, err := testutil.GatherAndCount(reg, "etl_changes_detected_total", "etl_documents_indexed_total")
	require.NoError(t, err)
	assert.GreaterOrEqual(t, n, 2)
}
