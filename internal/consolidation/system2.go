package consolidation

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"hivemind/internal/llm"
	"hivemind/internal/logging"
	"hivemind/internal/types"
)

const defaultMaxPatterns = 5

const system2SystemPrompt = `You extract reusable knowledge from development activity logs.
Given a chronological summary of events from one working session, identify up
to %d generalizable patterns: workflows that worked, decisions and their
rationale, or facts worth remembering. Only report what the events directly
support. Respond with JSON only, matching this schema exactly:
{"patterns": [{"description": string, "type": "workflow"|"decision"|"fact"|"pattern",
"confidence": number between 0 and 1, "tags": [string], "evidence": [string]}]}
Each evidence string must quote or closely paraphrase an event from the summary.
If no pattern is supported, return {"patterns": []}.`

// system2Questions steer the model toward slow deliberate analysis.
var system2Questions = []string{
	"What sequence of actions led to the final outcome, and would it transfer to similar work?",
	"Which decision in this window had the largest effect, and what was its rationale?",
	"What failed first, and what specifically fixed it?",
	"Is anything here a stable fact about this codebase rather than a one-off?",
}

type system2Response struct {
	Patterns []struct {
		Description string   `json:"description"`
		Type        string   `json:"type"`
		Confidence  float64  `json:"confidence"`
		Tags        []string `json:"tags"`
		Evidence    []string `json:"evidence"`
	} `json:"patterns"`
}

// System2 runs deliberate LLM extraction over a cluster.
type System2 struct {
	client      llm.Client
	maxPatterns int
}

func NewSystem2(client llm.Client, maxPatterns int) *System2 {
	if maxPatterns <= 0 {
		maxPatterns = defaultMaxPatterns
	}
	return &System2{client: client, maxPatterns: maxPatterns}
}

// Extract summarizes the cluster deterministically, asks the model for
// schema-constrained patterns, and parses the reply. A nil client or any
// model failure yields no candidates; the caller falls back to System 1.
func (s *System2) Extract(ctx context.Context, c *Cluster) ([]Candidate, error) {
	if s == nil || s.client == nil {
		return nil, nil
	}
	prompt := buildClusterPrompt(c)
	system := fmt.Sprintf(system2SystemPrompt, s.maxPatterns)
	raw, err := s.client.CompleteWithSystem(ctx, system, prompt)
	if err != nil {
		return nil, fmt.Errorf("system2 extraction: %w", err)
	}
	cands, err := parseSystem2(raw, s.maxPatterns)
	if err != nil {
		logging.LLMDebug("system2 reply unparseable: %v", err)
		return nil, fmt.Errorf("system2 parse: %w", err)
	}
	return cands, nil
}

// buildClusterPrompt renders a cluster as a deterministic chronological
// summary. Events are already time-sorted within a cluster.
func buildClusterPrompt(c *Cluster) string {
	var b strings.Builder
	b.WriteString("Session events, in order:\n")
	for i, e := range c.Events {
		fmt.Fprintf(&b, "%d. [%s] %s (%s): %s\n",
			i+1, e.Timestamp.Format("15:04:05"), e.Type, e.Outcome, truncate(e.Content, 200))
		if e.Context.CWD != "" {
			fmt.Fprintf(&b, "   cwd: %s\n", e.Context.CWD)
		}
		if len(e.Context.Files) > 0 {
			files := append([]string(nil), e.Context.Files...)
			sort.Strings(files)
			fmt.Fprintf(&b, "   files: %s\n", strings.Join(files, ", "))
		}
	}
	b.WriteString("\nConsider:\n")
	for _, q := range system2Questions {
		fmt.Fprintf(&b, "- %s\n", q)
	}
	return b.String()
}

func parseSystem2(raw string, maxPatterns int) ([]Candidate, error) {
	raw = stripCodeFence(raw)
	var resp system2Response
	if err := json.Unmarshal([]byte(raw), &resp); err != nil {
		return nil, err
	}
	if len(resp.Patterns) > maxPatterns {
		resp.Patterns = resp.Patterns[:maxPatterns]
	}
	var out []Candidate
	for _, p := range resp.Patterns {
		if strings.TrimSpace(p.Description) == "" {
			continue
		}
		conf := p.Confidence
		if conf < 0 {
			conf = 0
		}
		if conf > 1 {
			conf = 1
		}
		out = append(out, Candidate{
			Description: p.Description,
			Type:        parsePatternType(p.Type),
			Confidence:  conf,
			Tags:        p.Tags,
			Evidence:    p.Evidence,
			Source:      "system2",
		})
	}
	return out, nil
}

const reviewerSystemPrompt = `You audit knowledge extracted from development logs.
For each numbered pattern, decide whether the event summary truly supports it
and re-rate its confidence. Respond with JSON only:
{"ratings": [{"index": int, "confidence": number between 0 and 1, "accept": bool}]}
Indexes are 1-based and must match the input. Reject anything the events do
not support.`

// Reviewer is the optional second-model pass over System-2 output. A stronger
// model re-rates or rejects each candidate; its confidences replace the
// originals.
type Reviewer struct {
	client llm.Client
}

func NewReviewer(client llm.Client) *Reviewer {
	if client == nil {
		return nil
	}
	return &Reviewer{client: client}
}

type reviewerResponse struct {
	Ratings []struct {
		Index      int     `json:"index"`
		Confidence float64 `json:"confidence"`
		Accept     bool    `json:"accept"`
	} `json:"ratings"`
}

// Review returns the surviving candidates with updated confidences. On any
// model or parse failure the original candidates pass through untouched.
func (r *Reviewer) Review(ctx context.Context, c *Cluster, cands []Candidate) []Candidate {
	if r == nil || r.client == nil || len(cands) == 0 {
		return cands
	}
	var b strings.Builder
	b.WriteString(buildClusterPrompt(c))
	b.WriteString("\nExtracted patterns:\n")
	for i, cand := range cands {
		fmt.Fprintf(&b, "%d. (%s, conf %.2f) %s\n", i+1, cand.Type, cand.Confidence, cand.Description)
	}
	raw, err := r.client.CompleteWithSystem(ctx, reviewerSystemPrompt, b.String())
	if err != nil {
		logging.LLMDebug("reviewer pass failed, keeping original confidences: %v", err)
		return cands
	}
	var resp reviewerResponse
	if err := json.Unmarshal([]byte(stripCodeFence(raw)), &resp); err != nil {
		logging.LLMDebug("reviewer reply unparseable: %v", err)
		return cands
	}
	keep := make([]bool, len(cands))
	for i := range keep {
		keep[i] = true
	}
	for _, rt := range resp.Ratings {
		i := rt.Index - 1
		if i < 0 || i >= len(cands) {
			continue
		}
		if !rt.Accept {
			keep[i] = false
			continue
		}
		cands[i].Confidence = clamp01(rt.Confidence)
	}
	var out []Candidate
	for i, cand := range cands {
		if keep[i] {
			out = append(out, cand)
		}
	}
	return out
}

func parsePatternType(s string) types.PatternType {
	switch types.PatternType(strings.ToLower(strings.TrimSpace(s))) {
	case types.PatternWorkflow:
		return types.PatternWorkflow
	case types.PatternDecision:
		return types.PatternDecision
	case types.PatternFact:
		return types.PatternFact
	default:
		return types.PatternGeneric
	}
}

// stripCodeFence removes a ```json ... ``` wrapper if the model added one.
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
