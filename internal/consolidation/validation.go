package consolidation

import (
	"math"
	"strings"
)

const (
	groundingRejectBelow = 0.5
	groundingHighRisk    = 0.6
	groundingMediumRisk  = 0.8
)

// Validated is a candidate that survived grounding checks.
type Validated struct {
	Candidate
	GroundingScore    float64
	HallucinationRisk string
}

// ValidateCandidates scores each candidate against the cluster it claims to
// describe and drops the ungrounded ones.
func ValidateCandidates(c *Cluster, cands []Candidate) []Validated {
	mult := clusterMultiplier(c)
	var out []Validated
	for _, cand := range cands {
		g := groundingScore(c, cand.Evidence)
		if g < groundingRejectBelow {
			continue
		}
		v := Validated{
			Candidate:         cand,
			GroundingScore:    g,
			HallucinationRisk: riskLabel(g),
		}
		v.Confidence = clamp01(cand.Confidence * mult)
		out = append(out, v)
	}
	return out
}

// groundingScore is the fraction of evidence strings traceable to cluster
// content by token overlap. A pattern with no evidence is fully ungrounded.
func groundingScore(c *Cluster, evidence []string) float64 {
	if len(evidence) == 0 {
		return 0
	}
	corpus := make(map[string]bool)
	for _, e := range c.Events {
		for _, tok := range tokenize(e.Content) {
			corpus[tok] = true
		}
		for _, tok := range tokenize(string(e.Type) + " " + string(e.Outcome)) {
			corpus[tok] = true
		}
	}
	grounded := 0
	for _, ev := range evidence {
		toks := tokenize(ev)
		if len(toks) == 0 {
			continue
		}
		hits := 0
		for _, tok := range toks {
			if corpus[tok] {
				hits++
			}
		}
		if float64(hits)/float64(len(toks)) >= 0.5 {
			grounded++
		}
	}
	return float64(grounded) / float64(len(evidence))
}

func riskLabel(grounding float64) string {
	switch {
	case grounding < groundingHighRisk:
		return "high"
	case grounding < groundingMediumRisk:
		return "medium"
	default:
		return "low"
	}
}

// clusterMultiplier scales pattern confidence by how trustworthy the cluster
// is: cohesive clusters with more supporting events earn more trust.
func clusterMultiplier(c *Cluster) float64 {
	size := math.Min(float64(len(c.Events))/5.0, 1.0)
	m := 0.7 + 0.2*c.Cohesion + 0.1*size
	return math.Min(m, 1.0)
}

func tokenize(s string) []string {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !('a' <= r && r <= 'z') && !('0' <= r && r <= '9')
	})
	var out []string
	for _, f := range fields {
		if len(f) >= 3 {
			out = append(out, f)
		}
	}
	return out
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
