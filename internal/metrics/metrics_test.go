package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_ReturnsSingleton(t *testing.T) {
	a := New()
	b := New()
	require.NotNil(t, a)
	assert.Same(t, a, b, "metrics must be registered only once")
}

func TestMetrics_Counters(t *testing.T) {
	m := New()

	before := testutil.ToFloat64(m.WebhooksTotal.WithLabelValues("duplicate"))
	m.Webhook("duplicate")
	assert.Equal(t, before+1, testutil.ToFloat64(m.WebhooksTotal.WithLabelValues("duplicate")))

	before = testutil.ToFloat64(m.SuggestionsGeneratedTotal.WithLabelValues("pattern"))
	m.SuggestionsGenerated("pattern", 3)
	m.SuggestionsGenerated("pattern", 0)
	assert.Equal(t, before+3, testutil.ToFloat64(m.SuggestionsGeneratedTotal.WithLabelValues("pattern")))

	before = testutil.ToFloat64(m.PatternHitsTotal)
	m.PatternHits(2)
	assert.Equal(t, before+2, testutil.ToFloat64(m.PatternHitsTotal))

	before = testutil.ToFloat64(m.ClassificationsTotal.WithLabelValues("fallback"))
	m.Classification("fallback", 20*time.Millisecond)
	assert.Equal(t, before+1, testutil.ToFloat64(m.ClassificationsTotal.WithLabelValues("fallback")))
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.Webhook("accepted")
		m.Classification("model", time.Second)
		m.PatternHits(1)
		m.SuggestionsGenerated("classifier", 1)
		m.SuggestionResolved("approved")
		m.SuggestionsExpired(1)
		m.FeedbackLearned("learned")
	})
}
