package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecordClauseOutcome(t *testing.T) {
	before := testutil.ToFloat64(clauseOutcomes.WithLabelValues("Governing Law", "found"))
	RecordClauseOutcome("Governing Law", "found")
	RecordClauseOutcome("Governing Law", "found")
	after := testutil.ToFloat64(clauseOutcomes.WithLabelValues("Governing Law", "found"))
	assert.Equal(t, before+2, after)
}

func TestObserveProviderCountsErrors(t *testing.T) {
	before := testutil.ToFloat64(providerErrors.WithLabelValues("llm", "generate"))
	ObserveProvider("llm", "generate", 10*time.Millisecond, nil)
	ObserveProvider("llm", "generate", 10*time.Millisecond, errors.New("down"))
	assert.Equal(t, before+1, testutil.ToFloat64(providerErrors.WithLabelValues("llm", "generate")))
}

func TestRecordCacheLookup(t *testing.T) {
	hits := testutil.ToFloat64(cacheLookups.WithLabelValues("qa", "hit"))
	misses := testutil.ToFloat64(cacheLookups.WithLabelValues("qa", "miss"))
	RecordCacheLookup("qa", true)
	RecordCacheLookup("qa", false)
	RecordCacheLookup("qa", false)
	assert.Equal(t, hits+1, testutil.ToFloat64(cacheLookups.WithLabelValues("qa", "hit")))
	assert.Equal(t, misses+2, testutil.ToFloat64(cacheLookups.WithLabelValues("qa", "miss")))
}

func TestStatusClass(t *testing.T) {
	assert.Equal(t, "2xx", statusClass(200))
	assert.Equal(t, "3xx", statusClass(304))
	assert.Equal(t, "4xx", statusClass(401))
	assert.Equal(t, "5xx", statusClass(503))
}
