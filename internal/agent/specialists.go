package agent

import (
	"context"
	"fmt"
	"strings"

	"hivemind/internal/llm"
	"hivemind/internal/types"
)

// systemPrompts gives each specialization its working stance.
var systemPrompts = map[types.AgentType]string{
	types.AgentResearch:      "You are a research specialist. Gather the facts the task needs, cite what you relied on, and separate evidence from inference.",
	types.AgentAnalysis:      "You are an analysis specialist. Break the subject into parts, identify relationships and root causes, and state your confidence.",
	types.AgentSynthesis:     "You are a synthesis specialist. Combine the inputs into one coherent result, resolving contradictions explicitly.",
	types.AgentValidation:    "You are a validation specialist. Check the work against its requirements and list every discrepancy found.",
	types.AgentOptimization:  "You are an optimization specialist. Find the bottleneck first, then propose the smallest change with the largest effect.",
	types.AgentDocumentation: "You are a documentation specialist. Write for a reader with no context. Prefer concrete examples over abstract description.",
	types.AgentReview:        "You are a review specialist. Judge correctness, clarity, and risk. Flag what must change and what is merely preference.",
	types.AgentDebugging:     "You are a debugging specialist. Reproduce, isolate, and explain the defect before proposing a fix.",
	types.AgentExecutor:      "You are an execution specialist. Carry out the task exactly as described and report what you did.",
}

// LLMExecutor is the generic specialist: a system prompt per specialization
// over a shared completion client.
type LLMExecutor struct {
	specialization types.AgentType
	capabilities   []string
	client         llm.Client
}

// NewLLMExecutor builds a specialist for the given type.
func NewLLMExecutor(specialization types.AgentType, capabilities []string, client llm.Client) *LLMExecutor {
	return &LLMExecutor{
		specialization: specialization,
		capabilities:   capabilities,
		client:         client,
	}
}

func (e *LLMExecutor) Specialization() types.AgentType { return e.specialization }
func (e *LLMExecutor) Capabilities() []string          { return e.capabilities }

// Execute renders the task into a prompt, completes it, and grades its own
// confidence from the response shape.
func (e *LLMExecutor) Execute(ctx context.Context, task *types.Task, report func(progress float64)) (*Result, error) {
	system, ok := systemPrompts[e.specialization]
	if !ok {
		system = systemPrompts[types.AgentExecutor]
	}

	report(10)

	var b strings.Builder
	fmt.Fprintf(&b, "Task: %s\n", task.Title)
	if task.Description != "" {
		fmt.Fprintf(&b, "\nDetails:\n%s\n", task.Description)
	}
	if len(task.Tags) > 0 {
		fmt.Fprintf(&b, "\nTags: %s\n", strings.Join(task.Tags, ", "))
	}
	b.WriteString("\nProduce the complete deliverable for this task.")

	report(25)
	output, err := e.client.CompleteWithSystem(ctx, system, b.String())
	if err != nil {
		return nil, fmt.Errorf("execution failed: %w", err)
	}
	report(90)

	return &Result{
		Output: map[string]any{
			"deliverable": output,
			"specialist":  string(e.specialization),
		},
		Confidence: gradeConfidence(output),
	}, nil
}

// gradeConfidence is a cheap self-assessment: hedged or truncated answers
// score lower than substantive ones.
func gradeConfidence(output string) float64 {
	conf := 0.9
	lower := strings.ToLower(output)
	for _, hedge := range []string{"i'm not sure", "i am not sure", "cannot determine", "unclear", "insufficient information"} {
		if strings.Contains(lower, hedge) {
			conf -= 0.2
			break
		}
	}
	if len(output) < 80 {
		conf -= 0.2
	}
	if conf < 0.1 {
		conf = 0.1
	}
	return conf
}

// FuncExecutor adapts a plain function into an Executor. Used for built-in
// behaviors and in tests.
type FuncExecutor struct {
	Type types.AgentType
	Caps []string
	Fn   func(ctx context.Context, task *types.Task, report func(progress float64)) (*Result, error)
}

func (f *FuncExecutor) Specialization() types.AgentType { return f.Type }
func (f *FuncExecutor) Capabilities() []string          { return f.Caps }

func (f *FuncExecutor) Execute(ctx context.Context, task *types.Task, report func(progress float64)) (*Result, error) {
	return f.Fn(ctx, task, report)
}
