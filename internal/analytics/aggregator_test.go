package analytics

import (
	"errors"
	"testing"
	"time"

	"github.com/Dan9191/underwriting-service/internal/models"
	"github.com/Dan9191/underwriting-service/internal/underwriting"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleReport() *models.AssetReport {
	tx := func(id, date string, amount float64, name string, category ...string) models.Transaction {
		return models.Transaction{TransactionID: id, AccountID: "chk", Date: date, Amount: amount, Name: name, Category: category}
	}
	return &models.AssetReport{
		AssetReportID: "report-1",
		MerchantID:    42,
		DateGenerated: time.Date(2026, 3, 31, 15, 4, 5, 0, time.UTC),
		Accounts: []models.Account{
			{
				AccountID: "chk",
				Type:      "depository",
				Transactions: []models.Transaction{
					tx("t0", "2026-01-02", 5000, "Transfer to savings", "Transfer", "Internal Account Transfer"),
					tx("t1", "2026-01-10", -10000, "Stripe payout"),
					tx("t2", "2026-01-15", 6000, "Payroll"),
					tx("t3", "2026-01-20", 1000, "OnDeck Loan Payment"),
					tx("t4", "2026-02-10", -11000, "Stripe payout"),
					tx("t5", "2026-02-15", 6000, "Payroll"),
					tx("t6", "2026-02-18", 200, "Refund customer 123"),
					tx("t7", "2026-02-20", 1000, "OnDeck Loan Payment"),
					tx("t8", "2026-03-05", 500, "Kabbage Inc"),
					tx("t9", "2026-03-10", -12100, "Stripe payout"),
					tx("t10", "2026-03-15", 6000, "Payroll"),
					tx("t11", "2026-03-18", 100, "Chargeback fee"),
					tx("t12", "2026-03-20", 1000, "OnDeck Loan Payment"),
					{TransactionID: "t13", Date: "2026-03-30", Amount: 9999, Name: "Pending", Pending: true},
				},
				HistoricalBalances: []models.DailyBalance{
					{Date: "2026-03-31", Balance: 8000},
					{Date: "2026-01-31", Balance: 5000},
					{Date: "2026-02-28", Balance: -50},
					{Date: "2026-03-01", Balance: 300},
				},
			},
			{
				AccountID: "card",
				Type:      "credit",
				Transactions: []models.Transaction{
					{TransactionID: "c1", Date: "2026-02-01", Amount: 700, Name: "Office supplies"},
				},
			},
		},
	}
}

func TestAggregateCashFlow(t *testing.T) {
	m, err := NewAggregator(0).Aggregate(sampleReport())
	require.NoError(t, err)

	cf := m.CashFlow
	assert.Equal(t, []string{"2026-01", "2026-02", "2026-03"}, cf.Months)
	assert.Equal(t, []float64{10000, 11000, 12100}, cf.MonthlyRevenue)
	assert.Equal(t, []float64{6000, 6200, 6100}, cf.MonthlyExpenses)
	assert.Equal(t, []float64{4000, 4800, 6000}, cf.MonthlyNetCashFlow)
	assert.Equal(t, 11033.33, cf.AverageMonthlyRevenue)
	assert.Equal(t, 6100.0, cf.AverageMonthlyExpenses)
	assert.Equal(t, 4933.33, cf.AverageMonthlyNetCashFlow)
	assert.InDelta(t, 0.1, cf.RevenueGrowthRate, 1e-9)
	assert.Equal(t, models.TrendIncreasing, cf.RevenueTrend)
	assert.Equal(t, models.TrendIncreasing, cf.CashFlowTrend)
	require.NotNil(t, cf.LiquidityRatio)
	assert.Equal(t, 1.8087, *cf.LiquidityRatio)
	assert.InDelta(t, 0.0777, cf.VolatilityScore, 1e-4)
}

func TestAggregateDebt(t *testing.T) {
	m, err := NewAggregator(0).Aggregate(sampleReport())
	require.NoError(t, err)

	d := m.Debt
	assert.Equal(t, 3500.0, d.TotalDebtPayments)
	assert.Equal(t, []float64{1000, 1000, 1500}, d.MonthlyDebtPayments)
	require.NotNil(t, d.DSCR)
	assert.Equal(t, 4.2286, *d.DSCR)
	assert.Equal(t, 0.1057, d.DebtToRevenueRatio)
	assert.Equal(t, 2, d.NumberOfLoans)
	assert.True(t, d.LoanStackingDetected)
	assert.True(t, d.RecentLoanActivity)
}

func TestAggregateChargebacks(t *testing.T) {
	m, err := NewAggregator(0).Aggregate(sampleReport())
	require.NoError(t, err)

	c := m.Chargebacks
	assert.Equal(t, 1, c.TotalChargebacks)
	assert.Equal(t, 100.0, c.ChargebackAmount)
	assert.Equal(t, 0.003, c.ChargebackRate)
	assert.Equal(t, 1, c.TotalRefunds)
	assert.Equal(t, 200.0, c.RefundAmount)
	assert.Equal(t, 0.006, c.RefundRate)
	assert.Equal(t, models.TrendStable, c.MonthlyRefundTrend)
}

func TestAggregateReserves(t *testing.T) {
	m, err := NewAggregator(0).Aggregate(sampleReport())
	require.NoError(t, err)

	r := m.Reserves
	assert.Equal(t, 8000.0, r.EndingBalance)
	assert.Equal(t, 3312.5, r.AverageBalance)
	assert.Equal(t, -50.0, r.LowestBalance)
	assert.Equal(t, 1, r.OverdraftCount)
	assert.Equal(t, 2, r.DaysWithLowBalance)
	assert.Equal(t, models.TrendIncreasing, r.BalanceTrend)
	require.NotNil(t, r.LiquidReservesRatio)
	assert.Equal(t, 1.3115, *r.LiquidReservesRatio)
}

func TestAggregateOutputIsScorable(t *testing.T) {
	m, err := NewAggregator(0).Aggregate(sampleReport())
	require.NoError(t, err)

	s, err := underwriting.NewScorer(underwriting.DefaultPolicy())
	require.NoError(t, err)
	score, err := s.Score(m)
	require.NoError(t, err)
	assert.Contains(t, score.Notes, "Loan stacking detected (2 active loans)")
}

func TestAggregateZeroExpenses(t *testing.T) {
	report := &models.AssetReport{
		DateGenerated: time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC),
		Accounts: []models.Account{{
			AccountID:      "chk",
			CurrentBalance: 2500,
			Transactions: []models.Transaction{
				{TransactionID: "t1", Date: "2026-01-05", Amount: -4000, Name: "Square deposit"},
			},
		}},
	}

	m, err := NewAggregator(0).Aggregate(report)
	require.NoError(t, err)
	assert.Nil(t, m.CashFlow.LiquidityRatio)
	assert.Nil(t, m.Reserves.LiquidReservesRatio)
	assert.Nil(t, m.Debt.DSCR)
	assert.Zero(t, m.Debt.TotalDebtPayments)
	assert.Equal(t, 2500.0, m.Reserves.EndingBalance)
	assert.Zero(t, m.Chargebacks.ChargebackRate)
}

func TestAggregateCountsOnlyActiveLoans(t *testing.T) {
	report := &models.AssetReport{
		DateGenerated: time.Date(2026, 6, 30, 0, 0, 0, 0, time.UTC),
		Accounts: []models.Account{{
			AccountID:      "chk",
			CurrentBalance: 5000,
			Transactions: []models.Transaction{
				{TransactionID: "t1", Date: "2026-01-10", Amount: -8000, Name: "Stripe payout"},
				{TransactionID: "t2", Date: "2026-01-20", Amount: 1000, Name: "OnDeck Loan Payment"},
				{TransactionID: "t3", Date: "2026-05-05", Amount: 500, Name: "Kabbage Inc"},
				{TransactionID: "t4", Date: "2026-06-05", Amount: 500, Name: "Kabbage Inc"},
				{TransactionID: "t5", Date: "2026-06-10", Amount: -9000, Name: "Stripe payout"},
			},
		}},
	}

	m, err := NewAggregator(0).Aggregate(report)
	require.NoError(t, err)
	assert.Equal(t, 1, m.Debt.NumberOfLoans)
	assert.False(t, m.Debt.LoanStackingDetected)
	assert.Equal(t, 2000.0, m.Debt.TotalDebtPayments)
}

func TestAggregateCarriesAccountBalancesForward(t *testing.T) {
	report := &models.AssetReport{
		DateGenerated: time.Date(2026, 1, 31, 0, 0, 0, 0, time.UTC),
		Accounts: []models.Account{
			{
				AccountID: "operating",
				Transactions: []models.Transaction{
					{TransactionID: "t1", AccountID: "operating", Date: "2026-01-10", Amount: -1000, Name: "Square deposit"},
				},
				HistoricalBalances: []models.DailyBalance{
					{Date: "2026-01-01", Balance: 5000},
					{Date: "2026-01-31", Balance: 6000},
				},
			},
			{
				AccountID: "reserve",
				HistoricalBalances: []models.DailyBalance{
					{Date: "2026-01-15", Balance: 3000},
					{Date: "2026-01-31", Balance: 3000},
				},
			},
		},
	}

	m, err := NewAggregator(4000).Aggregate(report)
	require.NoError(t, err)

	r := m.Reserves
	assert.Equal(t, 9000.0, r.EndingBalance)
	assert.Equal(t, 8000.0, r.LowestBalance)
	assert.Equal(t, 8333.33, r.AverageBalance)
	assert.Zero(t, r.DaysWithLowBalance)
	assert.Zero(t, r.OverdraftCount)
}

func TestAggregateErrors(t *testing.T) {
	_, err := NewAggregator(0).Aggregate(&models.AssetReport{Accounts: []models.Account{{AccountID: "chk"}}})
	assert.True(t, errors.Is(err, ErrNoTransactions))

	bad := &models.AssetReport{Accounts: []models.Account{{
		AccountID:    "chk",
		Transactions: []models.Transaction{{TransactionID: "t1", Date: "01/05/2026", Amount: 10}},
	}}}
	_, err = NewAggregator(0).Aggregate(bad)
	assert.ErrorContains(t, err, "invalid date")
}

func TestHalfTrend(t *testing.T) {
	tests := []struct {
		name   string
		values []float64
		want   models.Trend
	}{
		{"single", []float64{10}, models.TrendStable},
		{"flat", []float64{10, 10, 10, 10}, models.TrendStable},
		{"rising", []float64{10, 10, 20, 20}, models.TrendIncreasing},
		{"falling", []float64{20, 20, 10, 10}, models.TrendDecreasing},
		{"negative improving", []float64{-100, -100, -50, -50}, models.TrendIncreasing},
		{"from zero", []float64{0, 0, 5, 5}, models.TrendIncreasing},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, halfTrend(tt.values))
		})
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		tx   models.Transaction
		want txKind
	}{
		{"deposit", models.Transaction{Amount: -500, Name: "Shopify payout"}, kindRevenue},
		{"expense", models.Transaction{Amount: 80, Name: "Electric company"}, kindExpense},
		{"loan payment by category", models.Transaction{Amount: 300, Name: "ACH debit", Category: []string{"Payment", "Loan"}}, kindDebtPayment},
		{"loan disbursement", models.Transaction{Amount: -25000, Name: "BlueVine funding"}, kindLoanDisbursement},
		{"refund", models.Transaction{Amount: 45, Name: "Customer refund"}, kindRefund},
		{"chargeback", models.Transaction{Amount: 60, Name: "Stripe chargeback"}, kindChargeback},
		{"internal transfer", models.Transaction{Amount: 1000, Category: []string{"Transfer", "Internal Account Transfer"}}, kindTransfer},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, classify(tt.tx))
		})
	}
}
