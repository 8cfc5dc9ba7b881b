package orchestrator

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/pkoukk/tiktoken-go"

	"hivemind/internal/logging"
	"hivemind/internal/store"
	"hivemind/internal/types"
)

// Offloader checkpoints orchestration state into the episodic store when the
// tracked working set approaches the context budget.
type Offloader struct {
	episodic   store.EpisodicStore
	tokenLimit int
	threshold  float64

	encOnce sync.Once
	enc     *tiktoken.Tiktoken
}

func NewOffloader(episodic store.EpisodicStore, tokenLimit int, threshold float64) *Offloader {
	if tokenLimit <= 0 {
		tokenLimit = 200000
	}
	if threshold <= 0 || threshold > 1 {
		threshold = 0.8
	}
	return &Offloader{episodic: episodic, tokenLimit: tokenLimit, threshold: threshold}
}

// EstimateTokens sizes a serialized state in tokens. Uses the cl100k
// tokenizer when its tables are available, otherwise the four-bytes-per-token
// rule of thumb.
func (o *Offloader) EstimateTokens(state *types.OrchestrationState) int {
	raw, err := json.Marshal(state)
	if err != nil {
		return 0
	}
	o.encOnce.Do(func() {
		enc, err := tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			logging.OrchestratorDebug("tokenizer unavailable, using byte estimate: %v", err)
			return
		}
		o.enc = enc
	})
	if o.enc != nil {
		return len(o.enc.Encode(string(raw), nil, nil))
	}
	return len(raw) / 4
}

// ShouldOffload reports whether the state has crossed the offload threshold.
func (o *Offloader) ShouldOffload(state *types.OrchestrationState) bool {
	return float64(o.EstimateTokens(state)) > o.threshold*float64(o.tokenLimit)
}

// Checkpoint serializes the state as a single high-importance episodic event
// keyed by the parent task.
func (o *Offloader) Checkpoint(state *types.OrchestrationState, reason string) error {
	state.Reason = reason
	state.CheckpointedAt = time.Now().UTC()
	raw, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("serialize checkpoint: %w", err)
	}
	err = o.episodic.AppendEvent(&types.EpisodicEvent{
		SessionID:  state.OrchestratorID,
		Timestamp:  state.CheckpointedAt,
		Type:       types.EventCheckpoint,
		Content:    string(raw),
		Outcome:    types.OutcomeOngoing,
		Importance: 1.0,
		Context:    types.EventContext{TaskID: state.ParentTaskID},
	})
	if err != nil {
		return fmt.Errorf("persist checkpoint: %w", err)
	}
	logging.Orchestrator("offloaded state for task %s (%s): %d subtasks, %d workers",
		state.ParentTaskID, reason, len(state.SubtaskIDs), len(state.ActiveWorkers))
	return nil
}

// Restore loads the most recent checkpoint for a parent task.
func (o *Offloader) Restore(parentTaskID string) (*types.OrchestrationState, error) {
	e, err := o.episodic.LatestCheckpoint(parentTaskID)
	if err != nil {
		return nil, err
	}
	var state types.OrchestrationState
	if err := json.Unmarshal([]byte(e.Content), &state); err != nil {
		return nil, fmt.Errorf("decode checkpoint: %w", err)
	}
	return &state, nil
}

// Projection is the minimal-context view kept in memory after an offload.
type Projection struct {
	OrchestratorID string
	ParentTaskID   string
	SubtaskIDs     []string
	Counters       map[string]int
}

// Project reduces a full state to ids and counters.
func Project(state *types.OrchestrationState) Projection {
	counters := make(map[string]int, len(state.Counters)+3)
	for k, v := range state.Counters {
		counters[k] = v
	}
	counters["completed"] = len(state.Completed)
	counters["failed"] = len(state.Failed)
	counters["blocked"] = len(state.Blocked)
	return Projection{
		OrchestratorID: state.OrchestratorID,
		ParentTaskID:   state.ParentTaskID,
		SubtaskIDs:     append([]string(nil), state.SubtaskIDs...),
		Counters:       counters,
	}
}
