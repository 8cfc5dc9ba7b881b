package predictor

import (
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"hivemind/internal/config"
	"hivemind/internal/types"
)

const utilizationWindow = 60

// Resource types tracked by the detector.
var resourceTypes = []string{"cpu", "memory", "io", "network", "disk"}

// mitigations is the fixed per-resource playbook attached to alerts.
var mitigations = map[string][]string{
	"cpu":     {"reduce worker concurrency", "defer non-critical background tasks", "batch LLM calls"},
	"memory":  {"trigger memory offload checkpoint", "shrink in-memory caches", "lower batch sizes"},
	"io":      {"batch store writes", "raise poll intervals", "enable write coalescing"},
	"network": {"enable response caching", "reduce embedding batch fan-out", "back off retries"},
	"disk":    {"run store maintenance/vacuum", "prune consolidated events", "rotate logs"},
}

// BottleneckDetector keeps rolling utilization windows per resource and
// predicts saturation for trending resources.
type BottleneckDetector struct {
	mu      sync.RWMutex
	windows map[string][]sample
	cfg     config.PredictorConfig
	now     func() time.Time
}

type sample struct {
	at    time.Time
	value float64
}

func NewBottleneckDetector(cfg config.PredictorConfig) *BottleneckDetector {
	if cfg.SaturationThreshold <= 0 {
		cfg.SaturationThreshold = 0.85
	}
	if cfg.CriticalThreshold <= 0 {
		cfg.CriticalThreshold = 0.95
	}
	if cfg.AlertHorizonHours <= 0 {
		cfg.AlertHorizonHours = 4
	}
	return &BottleneckDetector{
		windows: make(map[string][]sample),
		cfg:     cfg,
		now:     time.Now,
	}
}

// Record adds a utilization reading in [0,1] for a resource.
func (d *BottleneckDetector) Record(resource string, utilization float64) {
	if utilization < 0 {
		utilization = 0
	}
	if utilization > 1 {
		utilization = 1
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	w := append(d.windows[resource], sample{at: d.now(), value: utilization})
	if len(w) > utilizationWindow {
		w = w[len(w)-utilizationWindow:]
	}
	d.windows[resource] = w
}

// Check evaluates every tracked resource and returns active alerts, worst
// first. A resource already past a threshold alerts on current severity; a
// trending-up resource alerts when its predicted saturation lands inside the
// alert horizon.
func (d *BottleneckDetector) Check() []types.BottleneckAlert {
	d.mu.RLock()
	defer d.mu.RUnlock()

	now := d.now()
	horizon := time.Duration(d.cfg.AlertHorizonHours) * time.Hour

	var alerts []types.BottleneckAlert
	for resource, w := range d.windows {
		if len(w) == 0 {
			continue
		}
		current := w[len(w)-1].value

		switch {
		case current >= d.cfg.CriticalThreshold:
			alerts = append(alerts, d.alert(resource, "critical", current, 0, false, now))
			continue
		case current >= d.cfg.SaturationThreshold:
			alerts = append(alerts, d.alert(resource, "high", current, 0, false, now))
			continue
		}

		tts, ok := d.timeToSaturation(w, current)
		if !ok || tts > horizon {
			continue
		}
		severity := "medium"
		if tts <= horizon/4 {
			severity = "high"
		}
		alerts = append(alerts, d.alert(resource, severity, current, tts, true, now))
	}

	sort.Slice(alerts, func(i, j int) bool {
		return severityRank(alerts[i].Severity) > severityRank(alerts[j].Severity)
	})
	return alerts
}

// Forecast produces per-resource utilization forecasts one window-step out.
func (d *BottleneckDetector) Forecast() []types.ResourceForecast {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var out []types.ResourceForecast
	for _, resource := range resourceTypes {
		w := d.windows[resource]
		if len(w) == 0 {
			continue
		}
		values := sampleValues(w)
		current := values[len(values)-1]
		slope, _ := linearTrend(values)
		predicted := clampUnit(current + slope)
		spread := math.Sqrt(variance(values))
		out = append(out, types.ResourceForecast{
			Resource:  resource,
			Current:   current,
			Predicted: predicted,
			Interval: types.ConfidenceInterval{
				Lower: clampUnit(predicted - spread),
				Point: predicted,
				Upper: clampUnit(predicted + spread),
				Level: 0.9,
			},
		})
	}
	return out
}

// timeToSaturation extrapolates the window's linear trend:
// (threshold - current) / slope, in sample steps scaled by the window's
// average sampling interval. Returns false for flat or falling trends.
func (d *BottleneckDetector) timeToSaturation(w []sample, current float64) (time.Duration, bool) {
	if len(w) < 3 {
		return 0, false
	}
	values := sampleValues(w)
	slope, r2 := linearTrend(values)
	if slope <= 0 || r2 < 0.3 {
		return 0, false
	}
	steps := (d.cfg.SaturationThreshold - current) / slope
	if steps < 0 {
		steps = 0
	}
	interval := w[len(w)-1].at.Sub(w[0].at) / time.Duration(len(w)-1)
	if interval <= 0 {
		interval = time.Minute
	}
	return time.Duration(steps * float64(interval)), true
}

func (d *BottleneckDetector) alert(resource, severity string, utilization float64, tts time.Duration, predicted bool, now time.Time) types.BottleneckAlert {
	return types.BottleneckAlert{
		Resource:         resource,
		Severity:         severity,
		Utilization:      utilization,
		TimeToSaturation: tts,
		Predicted:        predicted,
		Mitigations:      mitigations[resource],
		CreatedAt:        now,
	}
}

func severityRank(s string) int {
	switch s {
	case "critical":
		return 3
	case "high":
		return 2
	case "medium":
		return 1
	default:
		return 0
	}
}

func sampleValues(w []sample) []float64 {
	out := make([]float64, len(w))
	for i, s := range w {
		out[i] = s.value
	}
	return out
}

func clampUnit(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// String renders an alert for logs.
func alertString(a types.BottleneckAlert) string {
	if a.Predicted {
		return fmt.Sprintf("%s %s: %.0f%% util, saturation in %s", a.Resource, a.Severity, a.Utilization*100, a.TimeToSaturation.Round(time.Minute))
	}
	return fmt.Sprintf("%s %s: %.0f%% util", a.Resource, a.Severity, a.Utilization*100)
}
