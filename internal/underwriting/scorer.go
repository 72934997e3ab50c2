package underwriting

import (
	"fmt"
	"math"

	"github.com/Dan9191/underwriting-service/internal/models"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

// Scorer turns a metrics bundle into an UnderwritingScore.
// It holds no mutable state and is safe for concurrent use.
type Scorer struct {
	policy   Policy
	validate *validator.Validate
}

// NewScorer creates a scorer for the given policy
func NewScorer(p Policy) (*Scorer, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &Scorer{policy: p, validate: newValidator()}, nil
}

// Policy returns the policy the scorer was built with
func (s *Scorer) Policy() Policy {
	return s.policy
}

// Score computes the underwriting score for m. It returns a *ValidationError when a
// metrics group is missing or malformed and never returns a partial score.
func (s *Scorer) Score(m models.MetricsBundle) (models.UnderwritingScore, error) {
	if err := s.validateBundle(m); err != nil {
		return models.UnderwritingScore{}, err
	}

	notes := []string{}
	cashFlow := s.cashFlowScore(m.CashFlow, &notes)
	debtService := s.debtServiceScore(m.Debt, &notes)
	chargebacks := s.chargebackScore(m.Chargebacks, &notes)
	reserves := s.reservesScore(m.Reserves, &notes)

	w := s.policy.Weights
	overall := toScore(w.CashFlow*float64(cashFlow) +
		w.DebtService*float64(debtService) +
		w.Chargebacks*float64(chargebacks) +
		w.Reserves*float64(reserves))

	return models.UnderwritingScore{
		Overall:            overall,
		CashFlowScore:      cashFlow,
		DebtServiceScore:   debtService,
		ChargebackScore:    chargebacks,
		ReservesScore:      reserves,
		Recommendation:     s.policy.recommendation(overall),
		MaxRecommendedLoan: s.maxRecommendedLoan(overall, m.CashFlow),
		RiskLevel:          s.policy.riskLevel(overall),
		Notes:              notes,
	}, nil
}

func (s *Scorer) cashFlowScore(cf *models.CashFlowMetrics, notes *[]string) int {
	p := s.policy.CashFlow

	score := p.NonPositiveBaseline
	switch {
	case cf.AverageMonthlyNetCashFlow > 0:
		score = p.PositiveBaseline
	case cf.AverageMonthlyNetCashFlow < 0:
		*notes = append(*notes, fmt.Sprintf("Average monthly net cash flow is negative (%.2f)", cf.AverageMonthlyNetCashFlow))
	default:
		*notes = append(*notes, "Average monthly net cash flow is zero")
	}

	if cf.AverageMonthlyRevenue > 0 {
		margin := cf.AverageMonthlyNetCashFlow / cf.AverageMonthlyRevenue
		if margin >= p.StrongMargin {
			score += p.StrongMarginBonus
			*notes = append(*notes, fmt.Sprintf("Strong net cash flow margin of %.1f%%", margin*100))
		}
	}

	switch cf.RevenueTrend {
	case models.TrendIncreasing:
		score += p.RevenueTrendAdjustment
		*notes = append(*notes, "Revenue trend is increasing")
	case models.TrendDecreasing:
		score -= p.RevenueTrendAdjustment
		*notes = append(*notes, "Revenue trend is decreasing")
	}

	switch cf.CashFlowTrend {
	case models.TrendIncreasing:
		score += p.CashFlowTrendAdjustment
		*notes = append(*notes, "Cash flow trend is increasing")
	case models.TrendDecreasing:
		score -= p.CashFlowTrendAdjustment
		*notes = append(*notes, "Cash flow trend is decreasing")
	}

	if i := p.Volatility.Match(cf.VolatilityScore); i >= 0 {
		score -= p.Volatility[i].Penalty
		*notes = append(*notes, fmt.Sprintf("%s revenue volatility (%.2f)", severity(i), cf.VolatilityScore))
	}

	return toScore(score)
}

func (s *Scorer) debtServiceScore(d *models.DebtMetrics, notes *[]string) int {
	p := s.policy.DebtService
	if d == nil {
		*notes = append(*notes, "No debt obligations reported")
		return toScore(p.NoDebtScore)
	}

	var score float64
	if d.TotalDebtPayments == 0 || d.DSCR == nil || math.IsInf(*d.DSCR, 1) {
		score = p.DSCR.Score(math.Inf(1))
		*notes = append(*notes, "No debt payments detected")
	} else {
		dscr := *d.DSCR
		score = p.DSCR.Score(dscr)
		switch i := p.DSCR.Match(dscr); {
		case i == 0:
			*notes = append(*notes, fmt.Sprintf("Strong debt service coverage (DSCR %.2f)", dscr))
		case i == len(p.DSCR.Bands)-1:
			*notes = append(*notes, fmt.Sprintf("Debt service coverage ratio is below %.2f (DSCR %.2f)", p.DSCR.Bands[i].Best, dscr))
		default:
			*notes = append(*notes, fmt.Sprintf("Adequate debt service coverage (DSCR %.2f)", dscr))
		}
	}

	if d.LoanStackingDetected {
		score -= p.LoanStackingPenalty
		*notes = append(*notes, fmt.Sprintf("Loan stacking detected (%d active loans)", d.NumberOfLoans))
	}
	if d.RecentLoanActivity {
		score -= p.RecentLoanPenalty
		*notes = append(*notes, "Recent loan activity detected")
	}
	if i := p.DebtToRevenue.Match(d.DebtToRevenueRatio); i >= 0 {
		score -= p.DebtToRevenue[i].Penalty
		*notes = append(*notes, fmt.Sprintf("Debt payments are %.1f%% of revenue", d.DebtToRevenueRatio*100))
	}

	return toScore(score)
}

func (s *Scorer) chargebackScore(c *models.ChargebackMetrics, notes *[]string) int {
	p := s.policy.Chargebacks
	if c == nil {
		*notes = append(*notes, "No chargeback or refund activity reported")
		return toScore(p.NoActivityScore)
	}

	chargebackBand := p.ChargebackRate.Score(c.ChargebackRate)
	refundBand := p.RefundRate.Score(c.RefundRate)
	score := p.ChargebackWeight*chargebackBand + (1-p.ChargebackWeight)*refundBand

	if p.ChargebackRate.Match(c.ChargebackRate) > 0 {
		*notes = append(*notes, fmt.Sprintf("Chargeback rate of %.2f%% exceeds %.2f%%",
			c.ChargebackRate*100, p.ChargebackRate.Bands[0].Edge*100))
	}
	if p.RefundRate.Match(c.RefundRate) > 0 {
		*notes = append(*notes, fmt.Sprintf("Refund rate of %.2f%% exceeds %.2f%%",
			c.RefundRate*100, p.RefundRate.Bands[0].Edge*100))
	}

	// Refunds are a cost, so a rising trend counts against the merchant.
	switch c.MonthlyRefundTrend {
	case models.TrendIncreasing:
		score -= p.IncreasingRefundPenalty
		*notes = append(*notes, "Refund trend is increasing")
	case models.TrendDecreasing:
		score += p.DecreasingRefundBonus
		*notes = append(*notes, "Refund trend is decreasing")
	}

	return toScore(score)
}

func (s *Scorer) reservesScore(r *models.ReserveMetrics, notes *[]string) int {
	p := s.policy.Reserves

	var score float64
	switch {
	case r.LiquidReservesRatio == nil:
		// No expenses to cover: any positive balance is unlimited runway.
		if r.EndingBalance > 0 {
			score = p.LiquidReserves.Score(math.Inf(1))
		} else {
			score = p.LiquidReserves.Score(math.Inf(-1))
		}
		*notes = append(*notes, "Liquid reserves ratio not applicable (no monthly expenses)")
	default:
		ratio := *r.LiquidReservesRatio
		score = p.LiquidReserves.Score(ratio)
		if i := p.LiquidReserves.Match(ratio); i == len(p.LiquidReserves.Bands)-1 {
			*notes = append(*notes, fmt.Sprintf("Liquid reserves cover less than %.1f months of expenses (%.2f)",
				p.LiquidReserves.Bands[i].Best, ratio))
		} else if i == 0 {
			*notes = append(*notes, fmt.Sprintf("Liquid reserves cover %.1f months of expenses", ratio))
		}
	}

	if r.EndingBalance < 0 {
		*notes = append(*notes, "Ending balance is negative")
	}
	if i := p.Overdrafts.Match(float64(r.OverdraftCount)); i >= 0 {
		score -= p.Overdrafts[i].Penalty
		*notes = append(*notes, fmt.Sprintf("Overdrafts detected in the last 90 days (%d)", r.OverdraftCount))
	}
	if i := p.LowBalanceDays.Match(float64(r.DaysWithLowBalance)); i >= 0 {
		score -= p.LowBalanceDays[i].Penalty
		*notes = append(*notes, fmt.Sprintf("Low balance on %d days", r.DaysWithLowBalance))
	}
	if r.BalanceTrend == models.TrendDecreasing {
		score -= p.DecreasingBalancePenalty
		*notes = append(*notes, "Account balance trend is decreasing")
	}

	return toScore(score)
}

// maxRecommendedLoan sizes the loan from average revenue, capped by net cash flow
func (s *Scorer) maxRecommendedLoan(overall int, cf *models.CashFlowMetrics) float64 {
	lp := s.policy.Loan
	multiplier := s.policy.loanMultiplier(overall)
	if multiplier <= 0 || cf.AverageMonthlyRevenue <= 0 {
		return 0
	}

	amount := decimal.NewFromFloat(cf.AverageMonthlyRevenue).Mul(decimal.NewFromFloat(multiplier))
	if lp.CashFlowCapMonths > 0 {
		if cf.AverageMonthlyNetCashFlow <= 0 {
			return 0
		}
		limit := decimal.NewFromFloat(cf.AverageMonthlyNetCashFlow).Mul(decimal.NewFromFloat(lp.CashFlowCapMonths))
		amount = decimal.Min(amount, limit)
	}
	if lp.RoundTo > 0 {
		step := decimal.NewFromFloat(lp.RoundTo)
		amount = amount.Div(step).Floor().Mul(step)
	}
	return amount.Round(2).InexactFloat64()
}

func severity(step int) string {
	if step == 0 {
		return "High"
	}
	return "Moderate"
}
