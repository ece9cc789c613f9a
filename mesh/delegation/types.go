// Package delegation splits a user message into delegable sub-tasks, proposes
// routing them to better-suited backends, and executes approved proposals.
package delegation

import (
	"time"

	"github.com/BaSui01/agentmesh/llm/router"
)

// ProposalStatus is the lifecycle state of a delegation proposal.
//
// pending -> approved | denied, approved -> completed | failed.
// denied, completed, and failed are terminal.
type ProposalStatus string

const (
	StatusPending   ProposalStatus = "pending"
	StatusApproved  ProposalStatus = "approved"
	StatusDenied    ProposalStatus = "denied"
	StatusCompleted ProposalStatus = "completed"
	StatusFailed    ProposalStatus = "failed"
)

// SubTask is one delegable fragment of a user request. Immutable after
// creation; owned exclusively by its parent proposal.
type SubTask struct {
	ID                string          `json:"id"`
	Description       string          `json:"description"`
	Category          router.Category `json:"category"`
	Content           string          `json:"content"`
	SuggestedProvider string          `json:"suggestedProvider"`
	SuggestedModel    string          `json:"suggestedModel,omitempty"`
	Confidence        float64         `json:"confidence"`
	Reasoning         string          `json:"reasoning,omitempty"`
}

// Proposal is a suggested split of one user request, awaiting an external
// approve/deny decision.
type Proposal struct {
	ID              string         `json:"id"`
	OriginalMessage string         `json:"originalMessage"`
	AnalysisText    string         `json:"analysisText"`
	SubTasks        []SubTask      `json:"subTasks"`
	EstimatedCost   float64        `json:"estimatedCost"`
	Status          ProposalStatus `json:"status"`
	CreatedAt       time.Time      `json:"createdAt"`
}

// SubTaskResult is the outcome of sending one sub-task to its suggested
// backend. A failed sub-task still produces a result; Response then embeds
// the error text.
type SubTaskResult struct {
	SubTaskID string  `json:"subTaskId"`
	Provider  string  `json:"provider"`
	Model     string  `json:"model,omitempty"`
	Response  string  `json:"response"`
	Success   bool    `json:"success"`
	Tokens    int     `json:"tokens,omitempty"`
	Cost      float64 `json:"cost,omitempty"`
	LatencyMs int64   `json:"latencyMs"`
}

// DelegationResult is the outcome of executing one approved proposal. There
// is always exactly one SubTaskResult per sub-task.
type DelegationResult struct {
	ProposalID     string          `json:"proposalId"`
	SubTaskResults []SubTaskResult `json:"subTaskResults"`
	Composed       string          `json:"composedResponse"`
	TotalCost      float64         `json:"totalCost"`
	TotalLatencyMs int64           `json:"totalLatencyMs"`
}
