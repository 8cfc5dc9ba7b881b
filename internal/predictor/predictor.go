package predictor

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"hivemind/internal/config"
	"hivemind/internal/logging"
	"hivemind/internal/types"
)

const (
	baseSuccessProbability = 0.85
	constrainedPenalty     = 0.90 // per constrained resource
	criticalPenalty        = 0.95 // per critical bottleneck
)

// Verification compares a prediction against the real execution.
type Verification struct {
	PredictionID  string    `json:"prediction_id"`
	TaskID        string    `json:"task_id"`
	ActualSeconds float64   `json:"actual_seconds"`
	ErrorPercent  float64   `json:"error_percent"`
	InInterval    bool      `json:"in_interval"`
	VerifiedAt    time.Time `json:"verified_at"`
}

// Accuracy summarizes the predictor's self-assessment.
type Accuracy struct {
	Verified        int     `json:"verified"`
	CoverageRate    float64 `json:"coverage_rate"` // fraction of actuals inside the interval
	MeanAbsErrorPct float64 `json:"mean_abs_error_pct"`
}

// Predictor composes temporal reasoning, bottleneck detection, and the
// forecasting ensemble into pre-execution risk estimates.
type Predictor struct {
	Temporal   *TemporalReasoner
	Bottleneck *BottleneckDetector

	mu            sync.RWMutex
	durations     map[string][]float64 // task type -> history, seconds
	predictions   map[string]*types.PredictionResult
	verifications []Verification
	now           func() time.Time
}

func New(cfg config.PredictorConfig) *Predictor {
	return &Predictor{
		Temporal:    NewTemporalReasoner(cfg.PatternFloor),
		Bottleneck:  NewBottleneckDetector(cfg),
		durations:   make(map[string][]float64),
		predictions: make(map[string]*types.PredictionResult),
		now:         time.Now,
	}
}

// RecordDuration feeds a completed execution into the per-type history.
func (p *Predictor) RecordDuration(taskType string, d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	h := append(p.durations[taskType], d.Seconds())
	if len(h) > maxObservations {
		h = h[len(h)-maxObservations:]
	}
	p.durations[taskType] = h
	p.Temporal.Observe("duration:"+taskType, d.Seconds())
}

// Predict produces the pre-execution estimate for a task.
func (p *Predictor) Predict(task *types.Task) *types.PredictionResult {
	p.mu.Lock()
	defer p.mu.Unlock()

	result := &types.PredictionResult{
		ID:        uuid.New().String()[:8],
		TaskID:    task.ID,
		CreatedAt: p.now(),
	}

	result.Duration = p.predictDuration(task)
	result.Resources = p.Bottleneck.Forecast()
	result.Bottlenecks = p.Bottleneck.Check()
	result.Patterns = p.Temporal.Analyze()

	constrained := 0
	for _, rf := range result.Resources {
		if rf.Predicted >= 0.8 {
			constrained++
			result.CriticalConstraints = append(result.CriticalConstraints,
				fmt.Sprintf("%s projected at %.0f%%", rf.Resource, rf.Predicted*100))
		}
	}
	critical := 0
	for _, a := range result.Bottlenecks {
		if a.Severity == "critical" || a.Severity == "high" {
			critical++
			result.Recommendations = append(result.Recommendations, a.Mitigations...)
			logging.Predictor("bottleneck: %s", alertString(a))
		}
	}

	prob := baseSuccessProbability *
		math.Pow(constrainedPenalty, float64(constrained)) *
		math.Pow(criticalPenalty, float64(critical))
	result.SuccessProbability = prob
	result.RiskLevel = riskFromProbability(prob)
	result.Confidence = p.predictionConfidence(task, result)

	p.predictions[result.ID] = result
	logging.Predictor("task %s: %.0fs expected, success %.2f, risk %s",
		task.ID, result.Duration.Seconds, prob, result.RiskLevel)
	return result
}

// Verify closes the loop on a finished execution.
func (p *Predictor) Verify(predictionID string, actual time.Duration) (*Verification, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	pred, ok := p.predictions[predictionID]
	if !ok {
		return nil, fmt.Errorf("predictor: unknown prediction %s", predictionID)
	}
	v := Verification{
		PredictionID:  predictionID,
		TaskID:        pred.TaskID,
		ActualSeconds: actual.Seconds(),
		InInterval: actual.Seconds() >= pred.Duration.Interval.Lower &&
			actual.Seconds() <= pred.Duration.Interval.Upper,
		VerifiedAt: p.now(),
	}
	if pred.Duration.Seconds > 0 {
		v.ErrorPercent = 100 * math.Abs(actual.Seconds()-pred.Duration.Seconds) / pred.Duration.Seconds
	}
	p.verifications = append(p.verifications, v)
	return &v, nil
}

// SelfAssessment reports interval coverage and mean error over verified
// predictions.
func (p *Predictor) SelfAssessment() Accuracy {
	p.mu.RLock()
	defer p.mu.RUnlock()

	acc := Accuracy{Verified: len(p.verifications)}
	if acc.Verified == 0 {
		return acc
	}
	covered := 0
	var errSum float64
	for _, v := range p.verifications {
		if v.InInterval {
			covered++
		}
		errSum += v.ErrorPercent
	}
	acc.CoverageRate = float64(covered) / float64(acc.Verified)
	acc.MeanAbsErrorPct = errSum / float64(acc.Verified)
	return acc
}

// predictDuration forecasts one step ahead from the task type's history,
// falling back to the task's own estimate when history is thin.
func (p *Predictor) predictDuration(task *types.Task) types.DurationPrediction {
	history := p.durations[taskTypeKey(task)]
	if ens, err := FitEnsemble(history, 0); err == nil {
		ci := ens.Forecast(1)
		if ci.Point > 0 {
			return types.DurationPrediction{Seconds: ci.Point, Interval: ci}
		}
	}

	// No usable history: derive from the estimate with a wide interval.
	est := task.EstimatedHours * 3600
	if est <= 0 {
		est = 3600
	}
	return types.DurationPrediction{
		Seconds: est,
		Interval: types.ConfidenceInterval{
			Lower: est * 0.5,
			Point: est,
			Upper: est * 2,
			Level: 0.9,
		},
	}
}

// predictionConfidence shrinks with interval width and with disagreement
// between forecast and the task's own estimate.
func (p *Predictor) predictionConfidence(task *types.Task, r *types.PredictionResult) float64 {
	conf := 0.8
	if ru := r.Duration.Interval.RelativeUncertainty(); ru > 1 {
		conf -= 0.2
	}
	if task.EstimatedHours > 0 {
		ratio := r.Duration.Seconds / (task.EstimatedHours * 3600)
		if ratio > 2 || ratio < 0.5 {
			conf -= 0.2
		}
	}
	if conf < 0.2 {
		conf = 0.2
	}
	return conf
}

func riskFromProbability(prob float64) types.RiskLevel {
	switch {
	case prob >= 0.9:
		return types.RiskLow
	case prob >= 0.75:
		return types.RiskMedium
	case prob >= 0.5:
		return types.RiskHigh
	default:
		return types.RiskCritical
	}
}

func taskTypeKey(task *types.Task) string {
	for _, tag := range task.Tags {
		if len(tag) > 5 && tag[:5] == "type:" {
			return tag[5:]
		}
	}
	return "generic"
}
