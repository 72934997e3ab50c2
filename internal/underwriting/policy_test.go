package underwriting

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultPolicyIsValid(t *testing.T) {
	require.NoError(t, DefaultPolicy().Validate())

	w := DefaultPolicy().Weights
	assert.InDelta(t, 1.0, w.CashFlow+w.DebtService+w.Chargebacks+w.Reserves, 1e-9)
}

func TestBandTableHigherIsBetter(t *testing.T) {
	table := DefaultPolicy().DebtService.DSCR

	tests := []struct {
		v     float64
		band  int
		score float64
	}{
		{math.Inf(1), 0, 100},
		{3.0, 0, 100},
		{2.25, 0, 90},
		{1.5, 0, 80},
		{1.25, 1, 69.5},
		{1.0, 1, 60},
		{0.5, 2, 29.5},
		{0, 2, 0},
		{-1, 2, 0},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.band, table.Match(tt.v), "match %v", tt.v)
		assert.InDelta(t, tt.score, table.Score(tt.v), 1e-9, "score %v", tt.v)
	}
}

func TestBandTableLowerIsBetter(t *testing.T) {
	table := DefaultPolicy().Chargebacks.ChargebackRate

	tests := []struct {
		v     float64
		band  int
		score float64
	}{
		{0, 0, 100},
		{0.005, 0, 92.5},
		{0.01, 0, 85},
		{0.015, 1, 72},
		{0.02, 1, 60},
		{0.05, 2, 0},
		{0.3, 2, 0},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.band, table.Match(tt.v), "match %v", tt.v)
		assert.InDelta(t, tt.score, table.Score(tt.v), 1e-9, "score %v", tt.v)
	}
}

func TestStepTable(t *testing.T) {
	steps := DefaultPolicy().Reserves.Overdrafts
	assert.Equal(t, -1, steps.Match(0))
	assert.Equal(t, 1, steps.Match(1))
	assert.Equal(t, 1, steps.Match(2))
	assert.Equal(t, 0, steps.Match(3))
	assert.Equal(t, 0.0, steps.Penalty(0))
	assert.Equal(t, 25.0, steps.Penalty(7))
}

func TestLoadPolicyOverlay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	content := `
weights:
  cash_flow: 0.4
  debt_service: 0.3
  chargebacks: 0.1
  reserves: 0.2
loan:
  tiers:
    - min_score: 70
      multiplier: 2
    - min_score: 0
      multiplier: 0
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	p, err := LoadPolicy(path)
	require.NoError(t, err)
	assert.Equal(t, 0.4, p.Weights.CashFlow)
	assert.Equal(t, []LoanTier{{MinScore: 70, Multiplier: 2}, {MinScore: 0, Multiplier: 0}}, p.Loan.Tiers)
	// untouched sections keep their defaults
	assert.Equal(t, DefaultPolicy().DebtService, p.DebtService)
	assert.Equal(t, 12.0, p.Loan.CashFlowCapMonths)
}

func TestLoadPolicyEmptyPath(t *testing.T) {
	p, err := LoadPolicy("")
	require.NoError(t, err)
	assert.Equal(t, DefaultPolicy(), p)
}

func TestLoadPolicyRejectsInvalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
		msg     string
	}{
		{"weights", "weights:\n  cash_flow: 0.9\n", "weights must sum to 1"},
		{
			"unknown recommendation",
			"recommendations:\n  - min_score: 70\n    recommendation: Aprove\n  - min_score: 0\n    recommendation: Decline\n",
			`unknown recommendation "Aprove"`,
		},
		{
			"unknown risk level",
			"risk_levels:\n  - min_score: 70\n    level: Low\n  - min_score: 0\n    level: Hgh\n",
			`unknown risk level "Hgh"`,
		},
		{
			"inverted band",
			"chargebacks:\n  chargeback_rate:\n    bands:\n      - edge: 0.01\n        best: 0.05\n        min: 85\n        max: 100\n",
			"best lies on the wrong side of edge",
		},
		{
			"steps out of order",
			"reserves:\n  overdrafts:\n    - over: 0\n      penalty: 10\n    - over: 2\n      penalty: 25\n",
			"thresholds must be descending",
		},
		{
			"milder step with larger penalty",
			"cash_flow:\n  volatility:\n    - over: 0.6\n      penalty: 10\n    - over: 0.3\n      penalty: 25\n",
			"penalty exceeds the more severe step",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "policy.yaml")
			require.NoError(t, os.WriteFile(path, []byte(tt.content), 0o600))

			_, err := LoadPolicy(path)
			assert.ErrorContains(t, err, tt.msg)
		})
	}

	_, err := LoadPolicy(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "failed to read policy file")
}

func TestPolicyValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(p *Policy)
		msg    string
	}{
		{"negative weight", func(p *Policy) { p.Weights.Chargebacks = -0.15; p.Weights.Reserves = 0.55 }, "must not be negative"},
		{"unordered tiers", func(p *Policy) { p.Recommendations[1].MinScore = 90 }, "descending min_score"},
		{"no floor tier", func(p *Policy) { p.RiskLevels[2].MinScore = 10 }, "min_score 0"},
		{"empty bands", func(p *Policy) { p.Reserves.LiquidReserves.Bands = nil }, "no bands"},
		{"overlapping bands", func(p *Policy) { p.DebtService.DSCR.Bands[1].Max = 95 }, "overlap"},
		{"unordered edges", func(p *Policy) { p.Chargebacks.RefundRate.Bands[1].Edge = 0.01 }, "edges out of order"},
		{"chargeback weight", func(p *Policy) { p.Chargebacks.ChargebackWeight = 1.5 }, "chargeback_weight"},
		{"band best below edge", func(p *Policy) { p.DebtService.DSCR.Bands[0].Best = 1.2 }, "wrong side of edge"},
		{"negative step penalty", func(p *Policy) { p.DebtService.DebtToRevenue[1].Penalty = -5 }, "must not be negative"},
		{"unknown risk level", func(p *Policy) { p.RiskLevels[0].Level = "Minimal" }, "unknown risk level"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := DefaultPolicy()
			tt.mutate(&p)
			assert.ErrorContains(t, p.Validate(), tt.msg)

			_, err := NewScorer(p)
			assert.Error(t, err)
		})
	}
}
