// Package predictor forecasts task durations and resource pressure ahead of
// execution: a temporal reasoner over named metric streams, a per-resource
// bottleneck detector, and a small forecasting ensemble feeding an overall
// risk estimate.
package predictor

import (
	"fmt"
	"math"
	"sort"
	"sync"

	"hivemind/internal/types"
)

const (
	maxObservations = 500
	anomalyZScore   = 2.0
)

// cyclePeriods are the candidate seasonalities probed by autocorrelation, in
// samples: daily, weekly, monthly for hourly streams.
var cyclePeriods = []int{24, 168, 720}

// TemporalReasoner keeps bounded observation windows per metric and detects
// stationarity, trend, cyclicality and anomalies.
type TemporalReasoner struct {
	mu           sync.RWMutex
	series       map[string][]float64
	patternFloor float64
}

func NewTemporalReasoner(patternFloor float64) *TemporalReasoner {
	if patternFloor <= 0 {
		patternFloor = 0.6
	}
	return &TemporalReasoner{
		series:       make(map[string][]float64),
		patternFloor: patternFloor,
	}
}

// Observe appends a sample to a metric stream, evicting the oldest beyond
// the window.
func (t *TemporalReasoner) Observe(metric string, value float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := append(t.series[metric], value)
	if len(s) > maxObservations {
		s = s[len(s)-maxObservations:]
	}
	t.series[metric] = s
}

// Series returns a copy of a metric's window.
func (t *TemporalReasoner) Series(metric string) []float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append([]float64(nil), t.series[metric]...)
}

// Analyze reports every pattern whose strength clears the floor, across all
// tracked metrics, sorted strongest first.
func (t *TemporalReasoner) Analyze() []types.TemporalPattern {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var out []types.TemporalPattern
	for metric, s := range t.series {
		out = append(out, t.analyzeSeries(metric, s)...)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Strength > out[j].Strength })
	return out
}

// AnalyzeMetric reports patterns for one stream.
func (t *TemporalReasoner) AnalyzeMetric(metric string) []types.TemporalPattern {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.analyzeSeries(metric, t.series[metric])
}

func (t *TemporalReasoner) analyzeSeries(metric string, s []float64) []types.TemporalPattern {
	if len(s) < 4 {
		return nil
	}
	var out []types.TemporalPattern

	if slope, r2 := linearTrend(s); r2 >= t.patternFloor {
		dir := "rising"
		if slope < 0 {
			dir = "falling"
		}
		out = append(out, types.TemporalPattern{
			Metric:      metric,
			Kind:        "trend",
			Strength:    r2,
			Description: fmt.Sprintf("%s %s at %.4f/sample (r2 %.2f)", metric, dir, slope, r2),
		})
	}

	if st := stationarity(s); st >= t.patternFloor {
		out = append(out, types.TemporalPattern{
			Metric:      metric,
			Kind:        "stationary",
			Strength:    st,
			Description: fmt.Sprintf("%s variance stable across halves", metric),
		})
	}

	for _, period := range cyclePeriods {
		if len(s) < 2*period {
			continue
		}
		if ac := autocorrelation(s, period); ac >= t.patternFloor {
			out = append(out, types.TemporalPattern{
				Metric:      metric,
				Kind:        "cycle",
				Strength:    ac,
				Period:      period,
				Description: fmt.Sprintf("%s repeats every %d samples", metric, period),
			})
		}
	}

	// A healthy stream has near-zero outliers, so strength saturates at a
	// 10% outlier rate.
	if rate := anomalyRate(s); math.Min(rate*10, 1) >= t.patternFloor {
		out = append(out, types.TemporalPattern{
			Metric:      metric,
			Kind:        "anomaly",
			Strength:    math.Min(rate*10, 1),
			Description: fmt.Sprintf("%s has frequent outliers (z > %.0f)", metric, anomalyZScore),
		})
	}
	return out
}

// linearTrend fits y = a + b·x by least squares and returns (slope, r²).
func linearTrend(s []float64) (float64, float64) {
	n := float64(len(s))
	var sumX, sumY, sumXY, sumXX float64
	for i, y := range s {
		x := float64(i)
		sumX += x
		sumY += y
		sumXY += x * y
		sumXX += x * x
	}
	denom := n*sumXX - sumX*sumX
	if denom == 0 {
		return 0, 0
	}
	slope := (n*sumXY - sumX*sumY) / denom
	intercept := (sumY - slope*sumX) / n

	meanY := sumY / n
	var ssTot, ssRes float64
	for i, y := range s {
		fit := intercept + slope*float64(i)
		ssTot += (y - meanY) * (y - meanY)
		ssRes += (y - fit) * (y - fit)
	}
	if ssTot == 0 {
		return slope, 0
	}
	return slope, 1 - ssRes/ssTot
}

// stationarity is a variance-ratio test on the series halves: 1 when the
// halves agree, falling toward 0 as they diverge.
func stationarity(s []float64) float64 {
	half := len(s) / 2
	v1 := variance(s[:half])
	v2 := variance(s[half:])
	if v1 == 0 && v2 == 0 {
		return 1
	}
	hi, lo := v1, v2
	if lo > hi {
		hi, lo = lo, hi
	}
	if hi == 0 {
		return 0
	}
	return lo / hi
}

func autocorrelation(s []float64, lag int) float64 {
	if lag <= 0 || len(s) <= lag {
		return 0
	}
	m := mean(s)
	var num, den float64
	for i := 0; i < len(s); i++ {
		den += (s[i] - m) * (s[i] - m)
	}
	if den == 0 {
		return 0
	}
	for i := lag; i < len(s); i++ {
		num += (s[i] - m) * (s[i-lag] - m)
	}
	return num / den
}

// anomalyRate is the fraction of samples more than anomalyZScore standard
// deviations from the mean.
func anomalyRate(s []float64) float64 {
	m := mean(s)
	sd := math.Sqrt(variance(s))
	if sd == 0 {
		return 0
	}
	outliers := 0
	for _, v := range s {
		if math.Abs(v-m)/sd > anomalyZScore {
			outliers++
		}
	}
	return float64(outliers) / float64(len(s))
}

func mean(s []float64) float64 {
	if len(s) == 0 {
		return 0
	}
	var sum float64
	for _, v := range s {
		sum += v
	}
	return sum / float64(len(s))
}

func variance(s []float64) float64 {
	if len(s) < 2 {
		return 0
	}
	m := mean(s)
	var sum float64
	for _, v := range s {
		sum += (v - m) * (v - m)
	}
	return sum / float64(len(s)-1)
}
