package consolidation

import (
	"math"
	"sort"
	"strings"
)

// ResolveConflicts reconciles System-1 and System-2 candidates that describe
// the same thing. Patterns unique to one system pass through unchanged.
func ResolveConflicts(validated []Validated) []Validated {
	type pair struct {
		s1, s2 *Validated
	}
	groups := make(map[string]*pair)
	var order []string
	for i := range validated {
		v := &validated[i]
		key := normalizeDescription(v.Description)
		g, ok := groups[key]
		if !ok {
			g = &pair{}
			groups[key] = g
			order = append(order, key)
		}
		if v.Source == "system2" {
			if g.s2 == nil {
				g.s2 = v
			}
		} else if g.s1 == nil {
			g.s1 = v
		}
	}

	var out []Validated
	for _, key := range order {
		g := groups[key]
		switch {
		case g.s1 == nil:
			out = append(out, *g.s2)
		case g.s2 == nil:
			out = append(out, *g.s1)
		default:
			out = append(out, resolvePair(*g.s1, *g.s2))
		}
	}
	return out
}

func resolvePair(s1, s2 Validated) Validated {
	delta := math.Abs(s1.Confidence - s2.Confidence)
	overlap := jaccard(lowered(s1.Tags), lowered(s2.Tags))

	switch {
	case delta > 0.2:
		if s1.Confidence > s2.Confidence {
			return s1
		}
		return s2
	case overlap > 0.7:
		return mergePair(s1, s2)
	case overlap < 0.3:
		// Too little agreement to trust either fully: flag for review and
		// keep the deliberate result at neutral confidence.
		d := s2
		d.Confidence = 0.5
		d.Source = "deferred"
		return d
	default:
		// System 2 catches nuance the heuristics miss.
		return s2
	}
}

func mergePair(s1, s2 Validated) Validated {
	m := s2
	m.Source = "merged"
	m.Confidence = (s1.Confidence + s2.Confidence) / 2
	m.Tags = unionStrings(s1.Tags, s2.Tags)
	m.Evidence = append(append([]string(nil), s1.Evidence...), s2.Evidence...)
	if s1.GroundingScore < m.GroundingScore {
		m.GroundingScore = s1.GroundingScore
		m.HallucinationRisk = s1.HallucinationRisk
	}
	return m
}

// normalizeDescription collapses a description to a comparable key: lowered,
// alphanumeric tokens, sorted and deduplicated.
func normalizeDescription(s string) string {
	toks := tokenize(s)
	seen := make(map[string]bool)
	var uniq []string
	for _, t := range toks {
		if !seen[t] {
			seen[t] = true
			uniq = append(uniq, t)
		}
	}
	sort.Strings(uniq)
	return strings.Join(uniq, " ")
}

func lowered(ss []string) []string {
	out := make([]string, len(ss))
	for i, s := range ss {
		out[i] = strings.ToLower(s)
	}
	return out
}

func unionStrings(a, b []string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, s := range append(append([]string(nil), a...), b...) {
		k := strings.ToLower(s)
		if !seen[k] {
			seen[k] = true
			out = append(out, s)
		}
	}
	return out
}
