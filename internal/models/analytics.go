package models

import (
	"fmt"
	"time"
)

// Trend is the direction of a metric over the analysis window
type Trend int

const (
	TrendStable Trend = iota
	TrendIncreasing
	TrendDecreasing
)

// String returns the wire name of the trend
func (t Trend) String() string {
	switch t {
	case TrendStable:
		return "stable"
	case TrendIncreasing:
		return "increasing"
	case TrendDecreasing:
		return "decreasing"
	default:
		return fmt.Sprintf("Trend(%d)", int(t))
	}
}

// Valid reports whether t is one of the known trends
func (t Trend) Valid() bool {
	return t >= TrendStable && t <= TrendDecreasing
}

// ParseTrend converts a wire name into a Trend
func ParseTrend(s string) (Trend, error) {
	switch s {
	case "stable":
		return TrendStable, nil
	case "increasing":
		return TrendIncreasing, nil
	case "decreasing":
		return TrendDecreasing, nil
	default:
		return TrendStable, fmt.Errorf("unknown trend %q", s)
	}
}

// MarshalText implements encoding.TextMarshaler
func (t Trend) MarshalText() ([]byte, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("unknown trend %d", int(t))
	}
	return []byte(t.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (t *Trend) UnmarshalText(text []byte) error {
	parsed, err := ParseTrend(string(text))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// Recommendation is the funding decision tier
type Recommendation string

const (
	RecommendationApprove           Recommendation = "Approve"
	RecommendationApproveConditions Recommendation = "Approve with Conditions"
	RecommendationFurtherReview     Recommendation = "Further Review"
	RecommendationDecline           Recommendation = "Decline"
)

// Valid reports whether r is one of the known recommendations
func (r Recommendation) Valid() bool {
	switch r {
	case RecommendationApprove, RecommendationApproveConditions, RecommendationFurtherReview, RecommendationDecline:
		return true
	}
	return false
}

// RiskLevel is the risk classification attached to a score
type RiskLevel string

const (
	RiskLow      RiskLevel = "Low"
	RiskModerate RiskLevel = "Moderate"
	RiskHigh     RiskLevel = "High"
)

// Valid reports whether l is one of the known risk levels
func (l RiskLevel) Valid() bool {
	switch l {
	case RiskLow, RiskModerate, RiskHigh:
		return true
	}
	return false
}

// CashFlowMetrics holds monthly revenue/expense series and their derived statistics.
// All series are aligned with Months by index.
type CashFlowMetrics struct {
	MonthlyRevenue            []float64 `json:"monthlyRevenue" validate:"dive,finite"`
	MonthlyExpenses           []float64 `json:"monthlyExpenses" validate:"dive,finite"`
	MonthlyNetCashFlow        []float64 `json:"monthlyNetCashFlow" validate:"dive,finite"`
	AverageMonthlyRevenue     float64   `json:"averageMonthlyRevenue" validate:"finite,gte=0"`
	AverageMonthlyExpenses    float64   `json:"averageMonthlyExpenses" validate:"finite,gte=0"`
	AverageMonthlyNetCashFlow float64   `json:"averageMonthlyNetCashFlow" validate:"finite"`
	RevenueGrowthRate         float64   `json:"revenueGrowthRate" validate:"finite"`
	Months                    []string  `json:"months"`
	RevenueTrend              Trend     `json:"revenueTrend" validate:"trend"`
	CashFlowTrend             Trend     `json:"cashFlowTrend" validate:"trend"`
	LiquidityRatio            *float64  `json:"liquidityRatio" validate:"omitempty,finite,gte=0"` // nil when expenses are zero
	VolatilityScore           float64   `json:"volatilityScore" validate:"finite,gte=0"`
}

// DebtMetrics describes existing debt obligations
type DebtMetrics struct {
	TotalDebtPayments    float64   `json:"totalDebtPayments" validate:"finite,gte=0"`
	MonthlyDebtPayments  []float64 `json:"monthlyDebtPayments" validate:"dive,finite,gte=0"`
	DSCR                 *float64  `json:"dscr" validate:"omitempty,notnan"` // nil when there are no debt payments
	DebtToRevenueRatio   float64   `json:"debtToRevenueRatio" validate:"finite,gte=0"`
	NumberOfLoans        int       `json:"numberOfLoans" validate:"gte=0"`
	LoanStackingDetected bool      `json:"loanStackingDetected"`
	RecentLoanActivity   bool      `json:"recentLoanActivity"`
}

// ChargebackMetrics describes disputes and refunds as a share of revenue
type ChargebackMetrics struct {
	ChargebackRate     float64 `json:"chargebackRate" validate:"finite,gte=0"`
	TotalChargebacks   int     `json:"totalChargebacks" validate:"gte=0"`
	ChargebackAmount   float64 `json:"chargebackAmount" validate:"finite,gte=0"`
	RefundRate         float64 `json:"refundRate" validate:"finite,gte=0"`
	TotalRefunds       int     `json:"totalRefunds" validate:"gte=0"`
	RefundAmount       float64 `json:"refundAmount" validate:"finite,gte=0"`
	MonthlyRefundTrend Trend   `json:"monthlyRefundTrend" validate:"trend"`
}

// ReserveMetrics describes account balances and liquidity
type ReserveMetrics struct {
	EndingBalance       float64  `json:"endingBalance" validate:"finite"`
	AverageBalance      float64  `json:"averageBalance" validate:"finite"`
	LowestBalance       float64  `json:"lowestBalance" validate:"finite"`
	OverdraftCount      int      `json:"overdraftCount" validate:"gte=0"`
	DaysWithLowBalance  int      `json:"daysWithLowBalance" validate:"gte=0"`
	BalanceTrend        Trend    `json:"balanceTrend" validate:"trend"`
	LiquidReservesRatio *float64 `json:"liquidReservesRatio" validate:"omitempty,notnan"` // months of expenses covered
}

// MetricsBundle is the scorer input for one merchant/report pair.
// Debt and Chargebacks may be nil when the merchant has none.
type MetricsBundle struct {
	CashFlow    *CashFlowMetrics   `json:"cashFlow"`
	Debt        *DebtMetrics       `json:"debt,omitempty"`
	Chargebacks *ChargebackMetrics `json:"chargebacks,omitempty"`
	Reserves    *ReserveMetrics    `json:"reserves"`
}

// UnderwritingScore is the scorer output
type UnderwritingScore struct {
	Overall            int            `json:"overall"`
	CashFlowScore      int            `json:"cashFlowScore"`
	DebtServiceScore   int            `json:"debtServiceScore"`
	ChargebackScore    int            `json:"chargebackScore"`
	ReservesScore      int            `json:"reservesScore"`
	Recommendation     Recommendation `json:"recommendation"`
	MaxRecommendedLoan float64        `json:"maxRecommendedLoan"`
	RiskLevel          RiskLevel      `json:"riskLevel"`
	Notes              []string       `json:"notes"`
}

// UnderwritingAnalysis is the persisted result for one merchant/report pair
type UnderwritingAnalysis struct {
	MerchantID    int64              `json:"merchantId"`
	AssetReportID string             `json:"assetReportId"`
	CashFlow      *CashFlowMetrics   `json:"cashFlow"`
	Debt          *DebtMetrics       `json:"debt"`
	Chargebacks   *ChargebackMetrics `json:"chargebacks"`
	Reserves      *ReserveMetrics    `json:"reserves"`
	Score         UnderwritingScore  `json:"score"`
	UpdatedAt     time.Time          `json:"updatedAt"`
}

// Metrics returns the scorer input held by the analysis
func (a *UnderwritingAnalysis) Metrics() MetricsBundle {
	return MetricsBundle{
		CashFlow:    a.CashFlow,
		Debt:        a.Debt,
		Chargebacks: a.Chargebacks,
		Reserves:    a.Reserves,
	}
}

// NewAnalysis assembles an analysis from its metrics and score
func NewAnalysis(merchantID int64, reportID string, m MetricsBundle, score UnderwritingScore, updatedAt time.Time) *UnderwritingAnalysis {
	return &UnderwritingAnalysis{
		MerchantID:    merchantID,
		AssetReportID: reportID,
		CashFlow:      m.CashFlow,
		Debt:          m.Debt,
		Chargebacks:   m.Chargebacks,
		Reserves:      m.Reserves,
		Score:         score,
		UpdatedAt:     updatedAt,
	}
}

// DailyBalance represents balance for a specific day
type DailyBalance struct {
	Date    string  `json:"date"` // Format: YYYY-MM-DD
	Balance float64 `json:"balance"`
}
