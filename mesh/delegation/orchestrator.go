package delegation

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BaSui01/agentmesh/internal/metrics"
	"github.com/BaSui01/agentmesh/llm"
	"github.com/BaSui01/agentmesh/llm/budget"
	"github.com/BaSui01/agentmesh/llm/router"
	"github.com/BaSui01/agentmesh/types"
)

// Assumed per-sub-task token counts for the linear cost model. Delegation
// happens before any tokens exist, so the estimate uses fixed volumes.
const (
	assumedInputTokens  = 500
	assumedOutputTokens = 800
)

// subTaskInstruction prefixes every delegated request so the receiving model
// knows it is answering a fragment, not the whole conversation.
const subTaskInstruction = "You are handling a delegated sub-task of a larger request. " +
	"Complete only the task described below. Be concise and self-contained."

// Config tunes the orchestrator's analysis heuristics.
type Config struct {
	Enabled             bool    `yaml:"enabled"`
	ConfidenceThreshold float64 `yaml:"confidence_threshold"`
	MaxSubTasks         int     `yaml:"max_sub_tasks"`
	MinMessageLength    int     `yaml:"min_message_length"`
	MinSegmentLength    int     `yaml:"min_segment_length"`
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		Enabled:             true,
		ConfidenceThreshold: 0.6,
		MaxSubTasks:         5,
		MinMessageLength:    80,
		MinSegmentLength:    20,
	}
}

// Orchestrator analyzes messages for delegable sub-tasks and drives approved
// proposals through execution. Proposals live in memory; they are decisions
// about one in-flight conversation, not durable records.
type Orchestrator struct {
	config   Config
	registry *llm.ProviderRegistry
	router   router.TaskRouter
	rates    *budget.RateTable
	metrics  *metrics.Collector
	logger   *zap.Logger

	mu        sync.Mutex
	proposals map[string]*Proposal
}

// NewOrchestrator builds an orchestrator. router and rates fall back to the
// keyword router and the default rate table when nil.
func NewOrchestrator(config Config, registry *llm.ProviderRegistry, taskRouter router.TaskRouter, rates *budget.RateTable, collector *metrics.Collector, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if taskRouter == nil {
		taskRouter = router.NewKeywordRouter(nil, nil, logger)
	}
	if rates == nil {
		rates = budget.NewRateTable(nil)
	}
	return &Orchestrator{
		config:    config,
		registry:  registry,
		router:    taskRouter,
		rates:     rates,
		metrics:   collector,
		logger:    logger.With(zap.String("component", "delegation")),
		proposals: make(map[string]*Proposal),
	}
}

// AnalyzeForDelegation inspects a message for delegable sub-tasks. It returns
// (nil, nil) when delegation is disabled, no alternate credentialed provider
// exists, or nothing splittable survives the confidence threshold — no
// proposal is the normal outcome for simple messages.
func (o *Orchestrator) AnalyzeForDelegation(ctx context.Context, message, currentProvider, currentModel string) (*Proposal, error) {
	if !o.config.Enabled {
		return nil, nil
	}

	candidates := o.alternateProviders(currentProvider)
	if len(candidates) == 0 {
		return nil, nil
	}

	segments := Segment(message, SegmentOptions{
		MinMessageLength: o.config.MinMessageLength,
		MinSegmentLength: o.config.MinSegmentLength,
	})
	if len(segments) == 0 {
		return nil, nil
	}

	var subTasks []SubTask
	for i, seg := range segments {
		res, err := o.router.Route(ctx, &router.Request{Text: seg, Candidates: candidates})
		if err != nil {
			o.logger.Debug("routing segment failed", zap.Error(err))
			continue
		}
		if res.Confidence < o.config.ConfidenceThreshold {
			continue
		}
		subTasks = append(subTasks, SubTask{
			ID:                uuid.NewString(),
			Description:       describeSegment(seg, i),
			Category:          res.Category,
			Content:           seg,
			SuggestedProvider: res.Provider,
			SuggestedModel:    res.Model,
			Confidence:        res.Confidence,
			Reasoning:         res.Reason,
		})
	}
	if len(subTasks) == 0 {
		return nil, nil
	}
	if o.config.MaxSubTasks > 0 && len(subTasks) > o.config.MaxSubTasks {
		subTasks = subTasks[:o.config.MaxSubTasks]
	}

	cost := 0.0
	for _, st := range subTasks {
		cost += o.rates.Estimate(st.SuggestedModel, assumedInputTokens, assumedOutputTokens)
	}

	proposal := &Proposal{
		ID:              uuid.NewString(),
		OriginalMessage: message,
		AnalysisText:    rationale(subTasks, cost),
		SubTasks:        subTasks,
		EstimatedCost:   cost,
		Status:          StatusPending,
		CreatedAt:       time.Now(),
	}

	o.mu.Lock()
	o.proposals[proposal.ID] = proposal
	o.mu.Unlock()

	if o.metrics != nil {
		o.metrics.RecordProposal(string(StatusPending))
	}
	o.logger.Info("delegation proposed",
		zap.String("proposal", proposal.ID),
		zap.Int("sub_tasks", len(subTasks)),
		zap.Float64("estimated_cost", cost),
	)
	return snapshot(proposal), nil
}

// GetProposal returns a copy of the proposal, or nil if unknown.
func (o *Orchestrator) GetProposal(id string) *Proposal {
	o.mu.Lock()
	defer o.mu.Unlock()
	p, ok := o.proposals[id]
	if !ok {
		return nil
	}
	return snapshot(p)
}

// ListProposals returns copies of all proposals, newest first.
func (o *Orchestrator) ListProposals() []*Proposal {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]*Proposal, 0, len(o.proposals))
	for _, p := range o.proposals {
		out = append(out, snapshot(p))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

// ApproveProposal moves a pending proposal to approved. Any other starting
// state, including an unknown id, is a failure result.
func (o *Orchestrator) ApproveProposal(id string) error {
	return o.transition(id, StatusApproved)
}

// DenyProposal moves a pending proposal to denied.
func (o *Orchestrator) DenyProposal(id string) error {
	return o.transition(id, StatusDenied)
}

func (o *Orchestrator) transition(id string, to ProposalStatus) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	p, ok := o.proposals[id]
	if !ok {
		return types.NewError(types.ErrProposalNotFound, "unknown proposal "+id)
	}
	if p.Status != StatusPending {
		return types.NewError(types.ErrInvalidTransition,
			fmt.Sprintf("proposal is %s, not pending", p.Status))
	}
	p.Status = to
	if o.metrics != nil {
		o.metrics.RecordProposal(string(to))
	}
	return nil
}

// ExecuteDelegation runs an approved proposal's sub-tasks sequentially. Each
// sub-task always yields a result: a failing one gets a placeholder response
// embedding the error text instead of aborting the batch. The proposal ends
// completed once every sub-task has been attempted, regardless of individual
// outcomes; only a failure of the batch loop itself marks it failed.
//
// Calling this on anything but an approved proposal is a no-op, so a second
// execution of the same id never resends sub-tasks.
func (o *Orchestrator) ExecuteDelegation(ctx context.Context, id string) (result *DelegationResult, err error) {
	o.mu.Lock()
	p, ok := o.proposals[id]
	if !ok {
		o.mu.Unlock()
		return nil, types.NewError(types.ErrProposalNotFound, "unknown proposal "+id)
	}
	if p.Status != StatusApproved {
		o.mu.Unlock()
		return nil, nil
	}
	subTasks := make([]SubTask, len(p.SubTasks))
	copy(subTasks, p.SubTasks)
	o.mu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			o.setStatus(id, StatusFailed)
			result = nil
			err = types.NewError(types.ErrInternalError, fmt.Sprintf("delegation batch panicked: %v", r))
		}
	}()

	start := time.Now()
	results := make([]SubTaskResult, 0, len(subTasks))
	totalCost := 0.0
	for _, st := range subTasks {
		res := o.executeSubTask(ctx, st)
		totalCost += res.Cost
		results = append(results, res)
	}

	o.setStatus(id, StatusCompleted)
	if o.metrics != nil {
		o.metrics.RecordDelegationCost(totalCost)
	}

	result = &DelegationResult{
		ProposalID:     id,
		SubTaskResults: results,
		Composed:       compose(subTasks, results),
		TotalCost:      totalCost,
		TotalLatencyMs: time.Since(start).Milliseconds(),
	}
	o.logger.Info("delegation executed",
		zap.String("proposal", id),
		zap.Int("sub_tasks", len(results)),
		zap.Int64("latency_ms", result.TotalLatencyMs),
	)
	return result, nil
}

func (o *Orchestrator) executeSubTask(ctx context.Context, st SubTask) (result SubTaskResult) {
	result = SubTaskResult{
		SubTaskID: st.ID,
		Provider:  st.SuggestedProvider,
		Model:     st.SuggestedModel,
	}
	start := time.Now()
	defer func() { result.LatencyMs = time.Since(start).Milliseconds() }()

	provider, ok := o.registry.Get(st.SuggestedProvider)
	if !ok {
		result.Response = fmt.Sprintf("Sub-task failed: provider %q is not available", st.SuggestedProvider)
		return result
	}

	resp, err := provider.Completion(ctx, &llm.ChatRequest{
		Model: st.SuggestedModel,
		Messages: []types.Message{
			types.SystemMessage(subTaskInstruction),
			types.UserMessage(st.Content),
		},
	})
	if err != nil {
		result.Response = fmt.Sprintf("Sub-task failed: %v", err)
		o.logger.Warn("sub-task failed",
			zap.String("sub_task", st.ID),
			zap.String("provider", st.SuggestedProvider),
			zap.Error(err),
		)
		return result
	}

	result.Success = true
	result.Response = resp.Content
	result.Tokens = resp.Usage.TotalTokens
	result.Cost = resp.Usage.Cost
	return result
}

func (o *Orchestrator) setStatus(id string, status ProposalStatus) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if p, ok := o.proposals[id]; ok {
		p.Status = status
		if o.metrics != nil {
			o.metrics.RecordProposal(string(status))
		}
	}
}

func (o *Orchestrator) alternateProviders(currentProvider string) []string {
	var out []string
	for _, id := range o.registry.ListCredentialed() {
		if id != currentProvider {
			out = append(out, id)
		}
	}
	return out
}

// compose concatenates sub-task results under labeled sections, or returns
// the single result verbatim.
func compose(subTasks []SubTask, results []SubTaskResult) string {
	if len(results) == 1 {
		return results[0].Response
	}
	var b strings.Builder
	for i, res := range results {
		if i > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "## %s\n\n%s", subTasks[i].Description, res.Response)
	}
	return b.String()
}

func describeSegment(seg string, index int) string {
	const maxLen = 60
	desc := strings.TrimSpace(seg)
	if len(desc) > maxLen {
		desc = desc[:maxLen] + "..."
	}
	return fmt.Sprintf("Part %d: %s", index+1, desc)
}

func rationale(subTasks []SubTask, cost float64) string {
	var b strings.Builder
	fmt.Fprintf(&b, "This request splits into %d sub-task(s):\n", len(subTasks))
	for i, st := range subTasks {
		fmt.Fprintf(&b, "%d. %s -> %s (%s, confidence %.2f)\n",
			i+1, st.Description, st.SuggestedProvider, st.Category, st.Confidence)
	}
	fmt.Fprintf(&b, "Estimated cost: $%.4f", cost)
	return b.String()
}

func snapshot(p *Proposal) *Proposal {
	cp := *p
	cp.SubTasks = make([]SubTask, len(p.SubTasks))
	copy(cp.SubTasks, p.SubTasks)
	return &cp
}
