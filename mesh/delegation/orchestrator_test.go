package delegation

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/agentmesh/llm"
	"github.com/BaSui01/agentmesh/llm/budget"
	"github.com/BaSui01/agentmesh/llm/router"
	"github.com/BaSui01/agentmesh/testutil/mocks"
	"github.com/BaSui01/agentmesh/types"
)

const threeItemMessage = "1. Write a sorting function\n2. Analyze its runtime complexity\n3. Draft a short usage example"

func fixedRouter(provider, model string, confidence float64) *mocks.MockRouter {
	return mocks.NewMockRouter(&router.Result{
		Provider:   provider,
		Model:      model,
		Category:   router.CategoryCode,
		Confidence: confidence,
	})
}

func newTestOrchestrator(t *testing.T, registry *llm.ProviderRegistry, taskRouter router.TaskRouter) *Orchestrator {
	t.Helper()
	if registry == nil {
		registry = llm.NewProviderRegistry()
		registry.Register("local", mocks.NewMockProvider("local"))
		registry.Register("alt", mocks.NewMockProvider("alt"))
	}
	return NewOrchestrator(DefaultConfig(), registry, taskRouter, nil, nil, zap.NewNop())
}

func analyze(t *testing.T, o *Orchestrator, message string) *Proposal {
	t.Helper()
	p, err := o.AnalyzeForDelegation(context.Background(), message, "local", "local-model")
	require.NoError(t, err)
	return p
}

func TestAnalyzeProposesForNumberedList(t *testing.T) {
	o := newTestOrchestrator(t, nil, fixedRouter("alt", "alt-model", 0.9))

	p := analyze(t, o, threeItemMessage)
	require.NotNil(t, p)
	assert.Equal(t, StatusPending, p.Status)
	require.Len(t, p.SubTasks, 3)
	assert.Equal(t, "alt", p.SubTasks[0].SuggestedProvider)
	assert.NotEmpty(t, p.AnalysisText)
	assert.Equal(t, threeItemMessage, p.OriginalMessage)
}

func TestAnalyzeSimpleMessageReturnsNothing(t *testing.T) {
	o := newTestOrchestrator(t, nil, fixedRouter("alt", "alt-model", 0.9))

	p := analyze(t, o, "Please summarize this paragraph")
	assert.Nil(t, p)
}

func TestAnalyzeDisabledReturnsNothing(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Enabled = false
	registry := llm.NewProviderRegistry()
	registry.Register("local", mocks.NewMockProvider("local"))
	registry.Register("alt", mocks.NewMockProvider("alt"))
	o := NewOrchestrator(cfg, registry, fixedRouter("alt", "", 0.9), nil, nil, zap.NewNop())

	p := analyze(t, o, threeItemMessage)
	assert.Nil(t, p)
}

func TestAnalyzeNoAlternateCredentialedProvider(t *testing.T) {
	registry := llm.NewProviderRegistry()
	registry.Register("local", mocks.NewMockProvider("local"))
	registry.Register("keyless", mocks.NewMockProvider("keyless").WithCredentials(false))
	o := newTestOrchestrator(t, registry, fixedRouter("keyless", "", 0.9))

	p := analyze(t, o, threeItemMessage)
	assert.Nil(t, p, "the current provider alone is never a delegation target")
}

func TestAnalyzeConfidenceThresholdFilters(t *testing.T) {
	o := newTestOrchestrator(t, nil, fixedRouter("alt", "", 0.2))

	p := analyze(t, o, threeItemMessage)
	assert.Nil(t, p, "segments below the threshold are discarded")
}

func TestAnalyzeCapsSubTasks(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxSubTasks = 2
	registry := llm.NewProviderRegistry()
	registry.Register("local", mocks.NewMockProvider("local"))
	registry.Register("alt", mocks.NewMockProvider("alt"))
	o := NewOrchestrator(cfg, registry, fixedRouter("alt", "", 0.9), nil, nil, zap.NewNop())

	p := analyze(t, o, threeItemMessage)
	require.NotNil(t, p)
	assert.Len(t, p.SubTasks, 2)
}

func TestEstimatedCostMonotonicAndUnknownModelZero(t *testing.T) {
	rates := budget.NewRateTable(map[string]budget.ModelRate{
		"priced-model": {InputPerToken: 0.000001, OutputPerToken: 0.000002},
	})

	perTask := rates.Estimate("priced-model", assumedInputTokens, assumedOutputTokens)
	require.Greater(t, perTask, 0.0)
	assert.Equal(t, 0.0, rates.Estimate("not-in-table", assumedInputTokens, assumedOutputTokens))

	registry := llm.NewProviderRegistry()
	registry.Register("local", mocks.NewMockProvider("local"))
	registry.Register("alt", mocks.NewMockProvider("alt"))

	prev := 0.0
	for _, msg := range []string{
		"1. First task item here\n2. Second task item here",
		threeItemMessage,
	} {
		o := NewOrchestrator(DefaultConfig(), registry, fixedRouter("alt", "priced-model", 0.9), rates, nil, zap.NewNop())
		p := analyze(t, o, msg)
		require.NotNil(t, p)
		assert.Greater(t, p.EstimatedCost, prev, "cost grows with surviving sub-tasks")
		assert.InDelta(t, perTask*float64(len(p.SubTasks)), p.EstimatedCost, 1e-12)
		prev = p.EstimatedCost
	}
}

func TestApproveDenyTransitions(t *testing.T) {
	o := newTestOrchestrator(t, nil, fixedRouter("alt", "", 0.9))
	p := analyze(t, o, threeItemMessage)
	require.NotNil(t, p)

	require.NoError(t, o.ApproveProposal(p.ID))
	assert.Equal(t, StatusApproved, o.GetProposal(p.ID).Status)

	// Approved is not pending anymore: both transitions now fail.
	err := o.ApproveProposal(p.ID)
	assert.Equal(t, types.ErrInvalidTransition, types.GetErrorCode(err))
	err = o.DenyProposal(p.ID)
	assert.Equal(t, types.ErrInvalidTransition, types.GetErrorCode(err))

	err = o.ApproveProposal("no-such-id")
	assert.Equal(t, types.ErrProposalNotFound, types.GetErrorCode(err))
}

func TestDenyIsTerminal(t *testing.T) {
	o := newTestOrchestrator(t, nil, fixedRouter("alt", "", 0.9))
	p := analyze(t, o, threeItemMessage)
	require.NotNil(t, p)

	require.NoError(t, o.DenyProposal(p.ID))
	assert.Equal(t, StatusDenied, o.GetProposal(p.ID).Status)

	result, err := o.ExecuteDelegation(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Nil(t, result, "denied proposals never execute")
}

func TestExecuteRequiresApproval(t *testing.T) {
	o := newTestOrchestrator(t, nil, fixedRouter("alt", "", 0.9))
	p := analyze(t, o, threeItemMessage)
	require.NotNil(t, p)

	result, err := o.ExecuteDelegation(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Nil(t, result, "pending proposals never execute")
	assert.Equal(t, StatusPending, o.GetProposal(p.ID).Status)
}

func TestExecuteDelegationWithOneFailingSubTask(t *testing.T) {
	alt := mocks.NewMockProvider("alt").WithResponse("done").WithFailAfter(1)
	registry := llm.NewProviderRegistry()
	registry.Register("local", mocks.NewMockProvider("local"))
	registry.Register("alt", alt)

	o := newTestOrchestrator(t, registry, fixedRouter("alt", "alt-model", 0.9))
	p := analyze(t, o, threeItemMessage)
	require.NotNil(t, p)
	require.Len(t, p.SubTasks, 3)
	require.NoError(t, o.ApproveProposal(p.ID))

	result, err := o.ExecuteDelegation(context.Background(), p.ID)
	require.NoError(t, err)
	require.NotNil(t, result)

	require.Len(t, result.SubTaskResults, 3, "one result per sub-task, failures included")
	assert.GreaterOrEqual(t, result.TotalLatencyMs, int64(0))
	assert.True(t, result.SubTaskResults[0].Success)
	assert.False(t, result.SubTaskResults[1].Success)
	assert.Contains(t, result.SubTaskResults[1].Response, "failed")
	assert.False(t, result.SubTaskResults[2].Success)

	assert.Equal(t, StatusCompleted, o.GetProposal(p.ID).Status,
		"proposal completes once every sub-task was attempted")
}

func TestExecuteDelegationAllFailuresStillCompleted(t *testing.T) {
	registry := llm.NewProviderRegistry()
	registry.Register("local", mocks.NewMockProvider("local"))
	registry.Register("alt", mocks.NewMockProvider("alt").
		WithError(types.NewError(types.ErrUpstreamError, "always down")))

	o := newTestOrchestrator(t, registry, fixedRouter("alt", "", 0.9))
	p := analyze(t, o, threeItemMessage)
	require.NotNil(t, p)
	require.NoError(t, o.ApproveProposal(p.ID))

	result, err := o.ExecuteDelegation(context.Background(), p.ID)
	require.NoError(t, err)
	for _, r := range result.SubTaskResults {
		assert.False(t, r.Success)
		assert.Contains(t, r.Response, "failed")
	}
	assert.Equal(t, StatusCompleted, o.GetProposal(p.ID).Status)
}

func TestExecuteTwiceSecondIsNoOp(t *testing.T) {
	alt := mocks.NewMockProvider("alt")
	registry := llm.NewProviderRegistry()
	registry.Register("local", mocks.NewMockProvider("local"))
	registry.Register("alt", alt)

	o := newTestOrchestrator(t, registry, fixedRouter("alt", "", 0.9))
	p := analyze(t, o, threeItemMessage)
	require.NotNil(t, p)
	require.NoError(t, o.ApproveProposal(p.ID))

	first, err := o.ExecuteDelegation(context.Background(), p.ID)
	require.NoError(t, err)
	require.NotNil(t, first)
	sent := alt.CallCount()

	second, err := o.ExecuteDelegation(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Nil(t, second)
	assert.Equal(t, sent, alt.CallCount(), "no sub-task may be resent")
}

func TestExecuteSendsDelegationInstruction(t *testing.T) {
	alt := mocks.NewMockProvider("alt")
	registry := llm.NewProviderRegistry()
	registry.Register("local", mocks.NewMockProvider("local"))
	registry.Register("alt", alt)

	o := newTestOrchestrator(t, registry, fixedRouter("alt", "alt-model", 0.9))
	p := analyze(t, o, "1. Write the parser for me\n2. Explain the grammar to me")
	require.NotNil(t, p)
	require.NoError(t, o.ApproveProposal(p.ID))

	_, err := o.ExecuteDelegation(context.Background(), p.ID)
	require.NoError(t, err)

	calls := alt.Calls()
	require.Len(t, calls, 2)
	for _, call := range calls {
		require.Len(t, call.Messages, 2)
		assert.Equal(t, types.RoleSystem, call.Messages[0].Role)
		assert.Contains(t, call.Messages[0].Content, "delegated sub-task")
		assert.Equal(t, "alt-model", call.Model)
	}
}

func TestComposeSingleResultVerbatim(t *testing.T) {
	alt := mocks.NewMockProvider("alt").WithResponse("the only answer")
	registry := llm.NewProviderRegistry()
	registry.Register("local", mocks.NewMockProvider("local"))
	registry.Register("alt", alt)

	cfg := DefaultConfig()
	cfg.MaxSubTasks = 1
	o := NewOrchestrator(cfg, registry, fixedRouter("alt", "", 0.9), nil, nil, zap.NewNop())

	p := analyze(t, o, threeItemMessage)
	require.NotNil(t, p)
	require.Len(t, p.SubTasks, 1)
	require.NoError(t, o.ApproveProposal(p.ID))

	result, err := o.ExecuteDelegation(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, "the only answer", result.Composed)
}

func TestComposeMultipleResultsLabeled(t *testing.T) {
	alt := mocks.NewMockProvider("alt").WithResponse("section body")
	registry := llm.NewProviderRegistry()
	registry.Register("local", mocks.NewMockProvider("local"))
	registry.Register("alt", alt)

	o := newTestOrchestrator(t, registry, fixedRouter("alt", "", 0.9))
	p := analyze(t, o, threeItemMessage)
	require.NotNil(t, p)
	require.NoError(t, o.ApproveProposal(p.ID))

	result, err := o.ExecuteDelegation(context.Background(), p.ID)
	require.NoError(t, err)

	assert.Equal(t, 3, strings.Count(result.Composed, "## "), "one labeled section per sub-task")
	for _, st := range p.SubTasks {
		assert.Contains(t, result.Composed, st.Description)
	}
}

func TestExecuteBatchPanicMarksFailed(t *testing.T) {
	panicker := mocks.NewMockProvider("alt").
		WithCompletionFunc(func(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
			panic("composition infrastructure exploded")
		})
	registry := llm.NewProviderRegistry()
	registry.Register("local", mocks.NewMockProvider("local"))
	registry.Register("alt", panicker)

	o := newTestOrchestrator(t, registry, fixedRouter("alt", "", 0.9))
	p := analyze(t, o, threeItemMessage)
	require.NotNil(t, p)
	require.NoError(t, o.ApproveProposal(p.ID))

	result, err := o.ExecuteDelegation(context.Background(), p.ID)
	require.Error(t, err)
	assert.Nil(t, result)
	assert.Equal(t, StatusFailed, o.GetProposal(p.ID).Status)
}
