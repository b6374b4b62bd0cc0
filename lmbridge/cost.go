package lmbridge

import "strings"

// Price is the USD cost per million tokens.
type Price struct {
	Input  float64
	Output float64
}

// CostCalculator prices token usage per model.
type CostCalculator struct {
	prices map[string]Price
}

// DefaultPrices lists the known model prices.
func DefaultPrices() map[string]Price {
	return map[string]Price{
		"gpt-4o-2024-11-20":          {Input: 2.5, Output: 10},
		"gpt-4o-mini-2024-07-18":     {Input: 0.15, Output: 0.6},
		"claude-3-5-sonnet-20241022": {Input: 3, Output: 15},
		"claude-3-5-haiku-20241022":  {Input: 1, Output: 5},
	}
}

// NewCostCalculator uses prices, or DefaultPrices when nil.
func NewCostCalculator(prices map[string]Price) *CostCalculator {
	if prices == nil {
		prices = DefaultPrices()
	}
	return &CostCalculator{prices: prices}
}

// Cost returns the price of usage on model. Unknown models cost nothing.
func (c *CostCalculator) Cost(model string, usage Usage) float64 {
	p, ok := c.prices[model]
	if !ok {
		p, ok = c.prices[strings.ToLower(model)]
	}
	if !ok {
		return 0
	}
	return (float64(usage.InputTokens)*p.Input + float64(usage.OutputTokens)*p.Output) / 1_000_000
}
