package provider

import (
	"sync"
	"time"
)

// ModelPricing defines input and output token costs for LLM models.
// Prices are in USD per 1M tokens.
type ModelPricing struct {
	InputPer1M  float64
	OutputPer1M float64
}

// Static pricing map for major LLM providers (as of 2025-01-01). Prices
// are in USD per 1M tokens and only cover the models a registered
// Provider.Model is expected to name; an unknown model prices as free
// rather than failing the dispatch that earned it.
var defaultModelPricing = map[string]ModelPricing{
	"gpt-4o":                     {InputPer1M: 2.50, OutputPer1M: 10.00},
	"gpt-4o-2024-08-06":          {InputPer1M: 2.50, OutputPer1M: 10.00},
	"gpt-4o-mini":                {InputPer1M: 0.15, OutputPer1M: 0.60},
	"gpt-4-turbo":                {InputPer1M: 10.00, OutputPer1M: 30.00},
	"gpt-4-turbo-2024-04-09":     {InputPer1M: 10.00, OutputPer1M: 30.00},
	"gpt-3.5-turbo":              {InputPer1M: 0.50, OutputPer1M: 1.50},
	"claude-3-5-sonnet-20241022": {InputPer1M: 3.00, OutputPer1M: 15.00},
	"claude-3.5-sonnet":          {InputPer1M: 3.00, OutputPer1M: 15.00},
	"claude-3-opus-20240229":     {InputPer1M: 15.00, OutputPer1M: 75.00},
	"claude-3-opus":              {InputPer1M: 15.00, OutputPer1M: 75.00},
	"claude-3-sonnet-20240229":   {InputPer1M: 3.00, OutputPer1M: 15.00},
	"claude-3-sonnet":            {InputPer1M: 3.00, OutputPer1M: 15.00},
	"claude-3-haiku-20240307":    {InputPer1M: 0.25, OutputPer1M: 1.25},
	"claude-3-haiku":             {InputPer1M: 0.25, OutputPer1M: 1.25},
	"gemini-1.5-pro":             {InputPer1M: 1.25, OutputPer1M: 5.00},
	"gemini-1.5-pro-001":         {InputPer1M: 1.25, OutputPer1M: 5.00},
	"gemini-1.5-flash":           {InputPer1M: 0.075, OutputPer1M: 0.30},
	"gemini-1.5-flash-001":       {InputPer1M: 0.075, OutputPer1M: 0.30},
	"gemini-1.0-pro":             {InputPer1M: 0.50, OutputPer1M: 1.50},
}

// CostTracker accumulates USD cost for the LLM calls a single workflow
// execution makes through the Provider Fallback Manager. Dispatch records
// exactly input/output tokens per successful send; there is no notion of
// a call history, per-node attribution, or runtime pricing overrides
// beyond what Dispatch itself exercises.
type CostTracker struct {
	ExecutionID string
	Currency    string
	Pricing     map[string]ModelPricing

	mu           sync.Mutex
	TotalCost    float64
	ModelCosts   map[string]float64
	InputTokens  int64
	OutputTokens int64
	CreatedAt    time.Time
}

// NewCostTracker creates a cost tracker seeded with the default pricing
// table, scoped to one workflow execution.
func NewCostTracker(executionID, currency string) *CostTracker {
	return &CostTracker{
		ExecutionID: executionID,
		Currency:    currency,
		Pricing:     defaultModelPricing,
		ModelCosts:  make(map[string]float64),
		CreatedAt:   time.Now(),
	}
}

// RecordLLMCall prices one successful dispatch by its model's per-1M
// input/output rates and folds it into the running totals. A model
// absent from Pricing contributes zero cost rather than being rejected,
// since a successful response has already been returned to the caller
// by the time cost tracking runs.
func (ct *CostTracker) RecordLLMCall(model string, inputTokens, outputTokens int) {
	ct.mu.Lock()
	defer ct.mu.Unlock()

	pricing := ct.Pricing[model]
	cost := (float64(inputTokens)/1_000_000.0)*pricing.InputPer1M +
		(float64(outputTokens)/1_000_000.0)*pricing.OutputPer1M

	ct.TotalCost += cost
	ct.ModelCosts[model] += cost
	ct.InputTokens += int64(inputTokens)
	ct.OutputTokens += int64(outputTokens)
}

// GetTotalCost returns the cumulative cost across all recorded calls.
func (ct *CostTracker) GetTotalCost() float64 {
	ct.mu.Lock()
	defer ct.mu.Unlock()
	return ct.TotalCost
}

// GetCostByModel returns a copy of the per-model cost breakdown.
func (ct *CostTracker) GetCostByModel() map[string]float64 {
	ct.mu.Lock()
	defer ct.mu.Unlock()

	costs := make(map[string]float64, len(ct.ModelCosts))
	for model, cost := range ct.ModelCosts {
		costs[model] = cost
	}
	return costs
}

// GetTokenUsage returns total input and output token counts recorded
// across all calls.
func (ct *CostTracker) GetTokenUsage() (inputTokens, outputTokens int64) {
	ct.mu.Lock()
	defer ct.mu.Unlock()
	return ct.InputTokens, ct.OutputTokens
}
