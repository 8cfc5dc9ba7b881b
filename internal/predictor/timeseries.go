package predictor

import (
	"errors"
	"math"

	"hivemind/internal/types"
)

var errTooFewSamples = errors.New("predictor: too few samples to fit")

// z90 is the normal quantile for a two-sided 90% interval.
const z90 = 1.645

// arimaModel is a simplified ARIMA(p,d,q): difference d times, estimate AR
// coefficients from autocorrelations, track residual spread for interval
// widths.
type arimaModel struct {
	p, d, q     int
	arCoeffs    []float64
	lastValues  []float64 // tail of the differenced series, newest last
	lastRaw     []float64 // tail of the raw series for undifferencing
	residualStd float64
}

func fitARIMA(series []float64, p, d, q int) (*arimaModel, error) {
	if p < 1 {
		p = 1
	}
	if len(series) < p+d+4 {
		return nil, errTooFewSamples
	}

	diffed := series
	for i := 0; i < d; i++ {
		diffed = difference(diffed)
	}

	// Correlation-based AR estimate: coefficient k from the lag-k
	// autocorrelation, dampened to keep the model stable.
	coeffs := make([]float64, p)
	for k := 1; k <= p; k++ {
		coeffs[k-1] = 0.8 * autocorrelation(diffed, k)
	}

	m := &arimaModel{p: p, d: d, q: q, arCoeffs: coeffs}

	// One-step in-sample residuals drive the confidence width.
	var sumSq float64
	n := 0
	for i := p; i < len(diffed); i++ {
		pred := 0.0
		for k := 0; k < p; k++ {
			pred += coeffs[k] * diffed[i-1-k]
		}
		r := diffed[i] - pred
		sumSq += r * r
		n++
	}
	if n > 0 {
		m.residualStd = math.Sqrt(sumSq / float64(n))
	}

	tail := p
	if tail > len(diffed) {
		tail = len(diffed)
	}
	m.lastValues = append([]float64(nil), diffed[len(diffed)-tail:]...)
	rawTail := d
	if rawTail == 0 {
		rawTail = 1
	}
	m.lastRaw = append([]float64(nil), series[len(series)-rawTail:]...)
	return m, nil
}

// forecast returns the point forecast and interval half-width for a horizon
// of h steps; the width grows with sqrt(h).
func (m *arimaModel) forecast(h int) (float64, float64) {
	hist := append([]float64(nil), m.lastValues...)
	var next float64
	for step := 0; step < h; step++ {
		next = 0
		for k := 0; k < m.p && k < len(hist); k++ {
			next += m.arCoeffs[k] * hist[len(hist)-1-k]
		}
		hist = append(hist, next)
	}

	point := next
	// Undifference: a d=1 forecast is a delta on the last raw value.
	if m.d >= 1 {
		point = m.lastRaw[len(m.lastRaw)-1]
		for _, delta := range hist[len(m.lastValues):] {
			point += delta
		}
	}
	width := z90 * m.residualStd * math.Sqrt(float64(h))
	return point, width
}

// expSmoothing is Holt-Winters style smoothing with level, trend, and an
// additive seasonal factor per bucket.
type expSmoothing struct {
	level       float64
	trend       float64
	seasonal    []float64
	seasonLen   int
	residualStd float64
}

func fitExpSmoothing(series []float64, seasonLen int) (*expSmoothing, error) {
	if len(series) < 4 {
		return nil, errTooFewSamples
	}
	const (
		alpha = 0.3 // level
		beta  = 0.1 // trend
		gamma = 0.2 // seasonal
	)

	m := &expSmoothing{seasonLen: seasonLen}
	if seasonLen > 1 && len(series) >= 2*seasonLen {
		m.seasonal = make([]float64, seasonLen)
	}

	m.level = series[0]
	var sumSq float64
	n := 0
	for i := 1; i < len(series); i++ {
		seasonIdx := 0
		seasonComp := 0.0
		if m.seasonal != nil {
			seasonIdx = i % m.seasonLen
			seasonComp = m.seasonal[seasonIdx]
		}
		pred := m.level + m.trend + seasonComp
		r := series[i] - pred
		sumSq += r * r
		n++

		prevLevel := m.level
		m.level = alpha*(series[i]-seasonComp) + (1-alpha)*(m.level+m.trend)
		m.trend = beta*(m.level-prevLevel) + (1-beta)*m.trend
		if m.seasonal != nil {
			m.seasonal[seasonIdx] = gamma*(series[i]-m.level) + (1-gamma)*m.seasonal[seasonIdx]
		}
	}
	if n > 0 {
		m.residualStd = math.Sqrt(sumSq / float64(n))
	}
	return m, nil
}

func (m *expSmoothing) forecast(h int) (float64, float64) {
	point := m.level + float64(h)*m.trend
	if m.seasonal != nil {
		point += m.seasonal[h%m.seasonLen]
	}
	width := z90 * m.residualStd * math.Sqrt(float64(h))
	return point, width
}

// Ensemble averages an ARIMA(1,1,1) and an exponential-smoothing forecast.
type Ensemble struct {
	arima  *arimaModel
	smooth *expSmoothing
}

// FitEnsemble fits both models over a series. seasonLen <= 1 disables the
// seasonal component.
func FitEnsemble(series []float64, seasonLen int) (*Ensemble, error) {
	arima, errA := fitARIMA(series, 1, 1, 1)
	smooth, errS := fitExpSmoothing(series, seasonLen)
	if errA != nil && errS != nil {
		return nil, errTooFewSamples
	}
	return &Ensemble{arima: arima, smooth: smooth}, nil
}

// Forecast returns a point forecast with its interval h steps ahead. Point
// and width are means over the models that fit.
func (e *Ensemble) Forecast(h int) types.ConfidenceInterval {
	if h < 1 {
		h = 1
	}
	var points, widths []float64
	if e.arima != nil {
		p, w := e.arima.forecast(h)
		points = append(points, p)
		widths = append(widths, w)
	}
	if e.smooth != nil {
		p, w := e.smooth.forecast(h)
		points = append(points, p)
		widths = append(widths, w)
	}
	// The tracked quantities (durations, utilization) are nonnegative, so
	// the whole band is floored at zero, keeping lower <= point <= upper.
	point := math.Max(mean(points), 0)
	width := mean(widths)
	lower := point - width
	if lower < 0 {
		lower = 0
	}
	return types.ConfidenceInterval{
		Lower: lower,
		Point: point,
		Upper: point + width,
		Level: 0.9,
	}
}

func difference(s []float64) []float64 {
	if len(s) < 2 {
		return nil
	}
	out := make([]float64, len(s)-1)
	for i := 1; i < len(s); i++ {
		out[i-1] = s[i] - s[i-1]
	}
	return out
}
