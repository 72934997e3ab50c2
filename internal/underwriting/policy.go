package underwriting

import (
	"fmt"
	"math"
	"os"

	"github.com/Dan9191/underwriting-service/internal/models"
	"gopkg.in/yaml.v3"
)

// Weights control how sub-scores combine into the overall score. They must sum to 1.
type Weights struct {
	CashFlow    float64 `yaml:"cash_flow"`
	DebtService float64 `yaml:"debt_service"`
	Chargebacks float64 `yaml:"chargebacks"`
	Reserves    float64 `yaml:"reserves"`
}

// CashFlowPolicy scores revenue and net cash flow
type CashFlowPolicy struct {
	PositiveBaseline        float64   `yaml:"positive_baseline"`
	NonPositiveBaseline     float64   `yaml:"non_positive_baseline"`
	StrongMargin            float64   `yaml:"strong_margin"` // net cash flow / revenue
	StrongMarginBonus       float64   `yaml:"strong_margin_bonus"`
	RevenueTrendAdjustment  float64   `yaml:"revenue_trend_adjustment"`
	CashFlowTrendAdjustment float64   `yaml:"cash_flow_trend_adjustment"`
	Volatility              StepTable `yaml:"volatility"`
}

// DebtServicePolicy scores the ability to service existing debt
type DebtServicePolicy struct {
	DSCR                BandTable `yaml:"dscr"`
	NoDebtScore         float64   `yaml:"no_debt_score"`
	LoanStackingPenalty float64   `yaml:"loan_stacking_penalty"`
	RecentLoanPenalty   float64   `yaml:"recent_loan_penalty"`
	DebtToRevenue       StepTable `yaml:"debt_to_revenue"`
}

// ChargebackPolicy scores disputes and refunds
type ChargebackPolicy struct {
	ChargebackRate          BandTable `yaml:"chargeback_rate"`
	RefundRate              BandTable `yaml:"refund_rate"`
	ChargebackWeight        float64   `yaml:"chargeback_weight"` // refund weight is 1 - ChargebackWeight
	NoActivityScore         float64   `yaml:"no_activity_score"`
	IncreasingRefundPenalty float64   `yaml:"increasing_refund_penalty"`
	DecreasingRefundBonus   float64   `yaml:"decreasing_refund_bonus"`
}

// ReservesPolicy scores balances and liquidity
type ReservesPolicy struct {
	LiquidReserves           BandTable `yaml:"liquid_reserves"`
	Overdrafts               StepTable `yaml:"overdrafts"`
	LowBalanceDays           StepTable `yaml:"low_balance_days"`
	DecreasingBalancePenalty float64   `yaml:"decreasing_balance_penalty"`
}

// RecommendationTier assigns a recommendation to scores at or above MinScore
type RecommendationTier struct {
	MinScore       int                   `yaml:"min_score"`
	Recommendation models.Recommendation `yaml:"recommendation"`
}

// RiskTier assigns a risk level to scores at or above MinScore
type RiskTier struct {
	MinScore int              `yaml:"min_score"`
	Level    models.RiskLevel `yaml:"level"`
}

// LoanTier sets the revenue multiplier for scores at or above MinScore
type LoanTier struct {
	MinScore   int     `yaml:"min_score"`
	Multiplier float64 `yaml:"multiplier"`
}

// LoanPolicy sizes the maximum recommended loan
type LoanPolicy struct {
	Tiers             []LoanTier `yaml:"tiers"`
	CashFlowCapMonths float64    `yaml:"cash_flow_cap_months"` // 0 disables the cap
	RoundTo           float64    `yaml:"round_to"`
}

// Policy holds every threshold the scorer uses
type Policy struct {
	Weights         Weights              `yaml:"weights"`
	CashFlow        CashFlowPolicy       `yaml:"cash_flow"`
	DebtService     DebtServicePolicy    `yaml:"debt_service"`
	Chargebacks     ChargebackPolicy     `yaml:"chargebacks"`
	Reserves        ReservesPolicy       `yaml:"reserves"`
	Recommendations []RecommendationTier `yaml:"recommendations"`
	RiskLevels      []RiskTier           `yaml:"risk_levels"`
	Loan            LoanPolicy           `yaml:"loan"`
}

// Default weights
const (
	DefaultCashFlowWeight    = 0.30
	DefaultDebtServiceWeight = 0.30
	DefaultChargebackWeight  = 0.15
	DefaultReservesWeight    = 0.25
)

// DefaultPolicy returns the built-in scoring policy
func DefaultPolicy() Policy {
	return Policy{
		Weights: Weights{
			CashFlow:    DefaultCashFlowWeight,
			DebtService: DefaultDebtServiceWeight,
			Chargebacks: DefaultChargebackWeight,
			Reserves:    DefaultReservesWeight,
		},
		CashFlow: CashFlowPolicy{
			PositiveBaseline:        70,
			NonPositiveBaseline:     35,
			StrongMargin:            0.15,
			StrongMarginBonus:       10,
			RevenueTrendAdjustment:  10,
			CashFlowTrendAdjustment: 5,
			Volatility: StepTable{
				{Over: 0.6, Penalty: 25},
				{Over: 0.3, Penalty: 10, Inclusive: true},
			},
		},
		DebtService: DebtServicePolicy{
			DSCR: BandTable{
				HigherIsBetter: true,
				Bands: []Band{
					{Edge: 1.5, Best: 3.0, Min: 80, Max: 100},
					{Edge: 1.0, Best: 1.5, Min: 60, Max: 79},
					{Edge: 0, Best: 1.0, Min: 0, Max: 59},
				},
			},
			NoDebtScore:         100,
			LoanStackingPenalty: 20,
			RecentLoanPenalty:   5,
			DebtToRevenue: StepTable{
				{Over: 0.5, Penalty: 15},
				{Over: 0.25, Penalty: 5},
			},
		},
		Chargebacks: ChargebackPolicy{
			ChargebackRate: BandTable{
				Bands: []Band{
					{Edge: 0.01, Best: 0, Min: 85, Max: 100},
					{Edge: 0.02, Best: 0.01, Min: 60, Max: 84},
					{Edge: 0.05, Best: 0.02, Min: 0, Max: 59},
				},
			},
			RefundRate: BandTable{
				Bands: []Band{
					{Edge: 0.05, Best: 0, Min: 85, Max: 100},
					{Edge: 0.10, Best: 0.05, Min: 60, Max: 84},
					{Edge: 0.25, Best: 0.10, Min: 0, Max: 59},
				},
			},
			ChargebackWeight:        0.6,
			NoActivityScore:         100,
			IncreasingRefundPenalty: 10,
			DecreasingRefundBonus:   5,
		},
		Reserves: ReservesPolicy{
			LiquidReserves: BandTable{
				HigherIsBetter: true,
				Bands: []Band{
					{Edge: 3, Best: 6, Min: 80, Max: 100},
					{Edge: 1, Best: 3, Min: 50, Max: 79},
					{Edge: 0, Best: 1, Min: 0, Max: 49},
				},
			},
			Overdrafts: StepTable{
				{Over: 2, Penalty: 25},
				{Over: 0, Penalty: 10},
			},
			LowBalanceDays: StepTable{
				{Over: 15, Penalty: 15},
				{Over: 5, Penalty: 5},
			},
			DecreasingBalancePenalty: 5,
		},
		Recommendations: []RecommendationTier{
			{MinScore: 80, Recommendation: models.RecommendationApprove},
			{MinScore: 60, Recommendation: models.RecommendationApproveConditions},
			{MinScore: 40, Recommendation: models.RecommendationFurtherReview},
			{MinScore: 0, Recommendation: models.RecommendationDecline},
		},
		RiskLevels: []RiskTier{
			{MinScore: 80, Level: models.RiskLow},
			{MinScore: 60, Level: models.RiskModerate},
			{MinScore: 0, Level: models.RiskHigh},
		},
		Loan: LoanPolicy{
			Tiers: []LoanTier{
				{MinScore: 80, Multiplier: 1.5},
				{MinScore: 60, Multiplier: 1.0},
				{MinScore: 40, Multiplier: 0.5},
				{MinScore: 0, Multiplier: 0},
			},
			CashFlowCapMonths: 12,
			RoundTo:           100,
		},
	}
}

// LoadPolicy reads a YAML policy file and overlays it on DefaultPolicy.
// An empty path returns the default policy.
func LoadPolicy(path string) (Policy, error) {
	p := DefaultPolicy()
	if path == "" {
		return p, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Policy{}, fmt.Errorf("failed to read policy file: %w", err)
	}
	if err := yaml.Unmarshal(data, &p); err != nil {
		return Policy{}, fmt.Errorf("failed to parse policy file: %w", err)
	}
	if err := p.Validate(); err != nil {
		return Policy{}, err
	}
	return p, nil
}

// Validate checks that the policy is internally consistent
func (p Policy) Validate() error {
	w := p.Weights
	if w.CashFlow < 0 || w.DebtService < 0 || w.Chargebacks < 0 || w.Reserves < 0 {
		return fmt.Errorf("policy: weights must not be negative")
	}
	if sum := w.CashFlow + w.DebtService + w.Chargebacks + w.Reserves; math.Abs(sum-1) > 1e-9 {
		return fmt.Errorf("policy: weights must sum to 1, got %.4f", sum)
	}
	if cw := p.Chargebacks.ChargebackWeight; cw < 0 || cw > 1 {
		return fmt.Errorf("policy: chargeback_weight must be within [0,1], got %.4f", cw)
	}

	tables := []struct {
		name  string
		table BandTable
	}{
		{"debt_service.dscr", p.DebtService.DSCR},
		{"chargebacks.chargeback_rate", p.Chargebacks.ChargebackRate},
		{"chargebacks.refund_rate", p.Chargebacks.RefundRate},
		{"reserves.liquid_reserves", p.Reserves.LiquidReserves},
	}
	for _, t := range tables {
		if err := t.table.validate(); err != nil {
			return fmt.Errorf("policy: %s: %w", t.name, err)
		}
	}

	steps := []struct {
		name  string
		table StepTable
	}{
		{"cash_flow.volatility", p.CashFlow.Volatility},
		{"debt_service.debt_to_revenue", p.DebtService.DebtToRevenue},
		{"reserves.overdrafts", p.Reserves.Overdrafts},
		{"reserves.low_balance_days", p.Reserves.LowBalanceDays},
	}
	for _, t := range steps {
		if err := t.table.validate(); err != nil {
			return fmt.Errorf("policy: %s: %w", t.name, err)
		}
	}

	if err := validateTiers("recommendations", len(p.Recommendations), func(i int) int { return p.Recommendations[i].MinScore }); err != nil {
		return err
	}
	for _, t := range p.Recommendations {
		if !t.Recommendation.Valid() {
			return fmt.Errorf("policy: unknown recommendation %q", t.Recommendation)
		}
	}
	if err := validateTiers("risk_levels", len(p.RiskLevels), func(i int) int { return p.RiskLevels[i].MinScore }); err != nil {
		return err
	}
	for _, t := range p.RiskLevels {
		if !t.Level.Valid() {
			return fmt.Errorf("policy: unknown risk level %q", t.Level)
		}
	}
	if err := validateTiers("loan.tiers", len(p.Loan.Tiers), func(i int) int { return p.Loan.Tiers[i].MinScore }); err != nil {
		return err
	}
	for _, t := range p.Loan.Tiers {
		if t.Multiplier < 0 {
			return fmt.Errorf("policy: loan multiplier must not be negative")
		}
	}
	if p.Loan.RoundTo < 0 || p.Loan.CashFlowCapMonths < 0 {
		return fmt.Errorf("policy: loan round_to and cash_flow_cap_months must not be negative")
	}
	return nil
}

func (t BandTable) validate() error {
	if len(t.Bands) == 0 {
		return fmt.Errorf("no bands")
	}
	for i, b := range t.Bands {
		if b.Min > b.Max {
			return fmt.Errorf("band %d: min above max", i)
		}
		if t.HigherIsBetter && b.Best < b.Edge || !t.HigherIsBetter && b.Best > b.Edge {
			return fmt.Errorf("band %d: best lies on the wrong side of edge", i)
		}
		if i == 0 {
			continue
		}
		prev := t.Bands[i-1]
		if t.HigherIsBetter && b.Edge >= prev.Edge || !t.HigherIsBetter && b.Edge <= prev.Edge {
			return fmt.Errorf("band %d: edges out of order", i)
		}
		if b.Max > prev.Min {
			return fmt.Errorf("band %d: scores overlap the better band", i)
		}
	}
	return nil
}

// validate requires steps ordered from most to least severe
func (t StepTable) validate() error {
	for i, s := range t {
		if s.Penalty < 0 {
			return fmt.Errorf("step %d: penalty must not be negative", i)
		}
		if i == 0 {
			continue
		}
		prev := t[i-1]
		if s.Over >= prev.Over {
			return fmt.Errorf("step %d: thresholds must be descending", i)
		}
		if s.Penalty > prev.Penalty {
			return fmt.Errorf("step %d: penalty exceeds the more severe step", i)
		}
	}
	return nil
}

// validateTiers requires strictly descending thresholds ending at zero
func validateTiers(name string, n int, minScore func(int) int) error {
	if n == 0 {
		return fmt.Errorf("policy: %s must not be empty", name)
	}
	for i := 1; i < n; i++ {
		if minScore(i) >= minScore(i-1) {
			return fmt.Errorf("policy: %s must be ordered by descending min_score", name)
		}
	}
	if minScore(n-1) != 0 {
		return fmt.Errorf("policy: last entry of %s must have min_score 0", name)
	}
	return nil
}

func (p Policy) recommendation(overall int) models.Recommendation {
	for _, t := range p.Recommendations {
		if overall >= t.MinScore {
			return t.Recommendation
		}
	}
	return p.Recommendations[len(p.Recommendations)-1].Recommendation
}

func (p Policy) riskLevel(overall int) models.RiskLevel {
	for _, t := range p.RiskLevels {
		if overall >= t.MinScore {
			return t.Level
		}
	}
	return p.RiskLevels[len(p.RiskLevels)-1].Level
}

func (p Policy) loanMultiplier(overall int) float64 {
	for _, t := range p.Loan.Tiers {
		if overall >= t.MinScore {
			return t.Multiplier
		}
	}
	return 0
}
