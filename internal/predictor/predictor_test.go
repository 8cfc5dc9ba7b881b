package predictor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hivemind/internal/config"
	"hivemind/internal/types"
)

func TestTemporalTrendDetection(t *testing.T) {
	r := NewTemporalReasoner(0.6)
	for i := 0; i < 20; i++ {
		r.Observe("latency", 100+float64(i)*5)
	}

	patterns := r.AnalyzeMetric("latency")
	require.NotEmpty(t, patterns)
	assert.Equal(t, "trend", patterns[0].Kind)
	assert.InDelta(t, 1.0, patterns[0].Strength, 1e-6)
}

func TestTemporalStationarySeries(t *testing.T) {
	r := NewTemporalReasoner(0.6)
	vals := []float64{10, 11, 9, 10, 12, 10, 9, 11, 10, 10, 11, 9}
	for _, v := range vals {
		r.Observe("throughput", v)
	}

	kinds := make(map[string]bool)
	for _, p := range r.AnalyzeMetric("throughput") {
		kinds[p.Kind] = true
	}
	assert.True(t, kinds["stationary"])
	assert.False(t, kinds["trend"])
}

func TestTemporalWindowBounded(t *testing.T) {
	r := NewTemporalReasoner(0.6)
	for i := 0; i < maxObservations+50; i++ {
		r.Observe("m", float64(i))
	}
	s := r.Series("m")
	assert.Len(t, s, maxObservations)
	assert.Equal(t, float64(50), s[0], "oldest samples evicted first")
}

func TestTemporalAnomalyRate(t *testing.T) {
	r := NewTemporalReasoner(0.6)
	for i := 0; i < 20; i++ {
		v := 10.0
		if i%10 == 9 { // 10% outliers
			v = 200
		}
		r.Observe("errors", v)
	}
	found := false
	for _, p := range r.AnalyzeMetric("errors") {
		if p.Kind == "anomaly" {
			found = true
		}
	}
	assert.True(t, found)
}

func newDetector(t *testing.T, at time.Time) *BottleneckDetector {
	t.Helper()
	d := NewBottleneckDetector(config.Default().Predictor)
	step := 0
	d.now = func() time.Time {
		step++
		return at.Add(time.Duration(step) * time.Minute)
	}
	return d
}

func TestBottleneckTrendingTowardSaturation(t *testing.T) {
	d := newDetector(t, time.Now())
	for _, u := range []float64{0.70, 0.74, 0.78, 0.82} {
		d.Record("cpu", u)
	}

	alerts := d.Check()
	require.Len(t, alerts, 1)
	a := alerts[0]
	assert.Equal(t, "cpu", a.Resource)
	assert.True(t, a.Predicted)
	assert.Equal(t, "high", a.Severity)
	// Slope 0.04/step puts 0.85 less than one sampling step away.
	assert.LessOrEqual(t, a.TimeToSaturation, time.Minute)
	assert.NotEmpty(t, a.Mitigations)
}

func TestBottleneckCriticalUtilization(t *testing.T) {
	d := newDetector(t, time.Now())
	d.Record("memory", 0.96)

	alerts := d.Check()
	require.Len(t, alerts, 1)
	assert.Equal(t, "critical", alerts[0].Severity)
	assert.False(t, alerts[0].Predicted)
}

func TestBottleneckFlatLoadStaysQuiet(t *testing.T) {
	d := newDetector(t, time.Now())
	for i := 0; i < 10; i++ {
		d.Record("io", 0.4)
	}
	assert.Empty(t, d.Check())
}

func TestEnsembleForecastWidensWithHorizon(t *testing.T) {
	series := make([]float64, 30)
	for i := range series {
		series[i] = 100 + 2*float64(i)
	}
	ens, err := FitEnsemble(series, 0)
	require.NoError(t, err)

	one := ens.Forecast(1)
	four := ens.Forecast(4)
	assert.True(t, one.Valid())
	assert.True(t, four.Valid())
	assert.GreaterOrEqual(t, one.Point, series[len(series)-5],
		"forecast should continue the rising series")
	assert.GreaterOrEqual(t, four.Upper-four.Lower, one.Upper-one.Lower,
		"uncertainty grows with horizon")
}

func TestEnsembleForecastStaysNonnegativeOnDecline(t *testing.T) {
	series := []float64{100, 80, 60, 40, 20, 10, 5, 2}
	ens, err := FitEnsemble(series, 0)
	require.NoError(t, err)

	for h := 1; h <= 4; h++ {
		ci := ens.Forecast(h)
		assert.True(t, ci.Valid(), "h=%d: lower %v point %v upper %v", h, ci.Lower, ci.Point, ci.Upper)
		assert.GreaterOrEqual(t, ci.Point, 0.0, "h=%d: a declining series never forecasts below zero", h)
		assert.LessOrEqual(t, ci.Lower, ci.Point, "h=%d", h)
		assert.LessOrEqual(t, ci.Point, ci.Upper, "h=%d", h)
	}
}

func TestEnsembleRejectsShortSeries(t *testing.T) {
	_, err := FitEnsemble([]float64{1, 2}, 0)
	assert.ErrorIs(t, err, errTooFewSamples)
}

func TestPredictWithoutHistoryUsesEstimate(t *testing.T) {
	p := New(config.Default().Predictor)
	task := &types.Task{ID: "t1", Title: "build feature", EstimatedHours: 2}

	result := p.Predict(task)
	assert.InDelta(t, 7200, result.Duration.Seconds, 1e-9)
	assert.True(t, result.Duration.Interval.Valid())
	assert.InDelta(t, 0.85, result.SuccessProbability, 1e-9)
	assert.Equal(t, types.RiskMedium, result.RiskLevel)
}

func TestPredictAttenuatesUnderPressure(t *testing.T) {
	p := New(config.Default().Predictor)
	step := 0
	p.Bottleneck.now = func() time.Time {
		step++
		return time.Now().Add(time.Duration(step) * time.Minute)
	}
	// cpu saturated, memory climbing toward it.
	for _, u := range []float64{0.96, 0.96, 0.96} {
		p.Bottleneck.Record("cpu", u)
	}
	for _, u := range []float64{0.70, 0.74, 0.78, 0.82} {
		p.Bottleneck.Record("memory", u)
	}

	result := p.Predict(&types.Task{ID: "t2", Title: "migrate data", EstimatedHours: 1})
	assert.Less(t, result.SuccessProbability, 0.85)
	assert.NotEmpty(t, result.Bottlenecks)
	assert.NotEmpty(t, result.Recommendations)
	assert.NotEmpty(t, result.CriticalConstraints)
}

func TestVerifyTracksAccuracy(t *testing.T) {
	p := New(config.Default().Predictor)
	task := &types.Task{ID: "t3", Title: "index rebuild", EstimatedHours: 1}
	result := p.Predict(task)

	v, err := p.Verify(result.ID, 45*time.Minute)
	require.NoError(t, err)
	assert.True(t, v.InInterval)
	assert.InDelta(t, 25, v.ErrorPercent, 1e-9)

	acc := p.SelfAssessment()
	assert.Equal(t, 1, acc.Verified)
	assert.Equal(t, 1.0, acc.CoverageRate)

	_, err = p.Verify("missing", time.Minute)
	assert.Error(t, err)
}

func TestRecordDurationFeedsForecast(t *testing.T) {
	p := New(config.Default().Predictor)
	for i := 0; i < 20; i++ {
		p.RecordDuration("build", 10*time.Minute)
	}
	result := p.Predict(&types.Task{ID: "t4", Title: "compile", Tags: []string{"type:build"}})
	assert.InDelta(t, 600, result.Duration.Seconds, 120,
		"forecast should track the 10-minute history")
}
