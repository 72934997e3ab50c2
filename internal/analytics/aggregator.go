package analytics

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/Dan9191/underwriting-service/internal/models"
)

// ErrNoTransactions is returned for reports that cannot be underwritten
var ErrNoTransactions = errors.New("asset report has no posted transactions")

const (
	// DefaultLowBalanceThreshold is the balance under which a day counts as low
	DefaultLowBalanceThreshold = 1000.0

	trailingWindowDays  = 90
	newLenderWindowDays = 60

	dateLayout  = "2006-01-02"
	monthLayout = "2006-01"
)

// Aggregator derives underwriting metrics from an asset report
type Aggregator struct {
	lowBalanceThreshold float64
}

// NewAggregator creates an aggregator. A non-positive threshold uses the default.
func NewAggregator(lowBalanceThreshold float64) *Aggregator {
	if lowBalanceThreshold <= 0 {
		lowBalanceThreshold = DefaultLowBalanceThreshold
	}
	return &Aggregator{lowBalanceThreshold: lowBalanceThreshold}
}

type postedTx struct {
	models.Transaction
	date time.Time
	kind txKind
}

type lenderActivity struct {
	first, last time.Time
}

// monthly accumulates per-month totals over the report window
type monthly struct {
	months     []string
	index      map[string]int
	revenue    []float64
	expenses   []float64
	debt       []float64
	refunds    []float64
	start, end time.Time
}

func newMonthly(first, last time.Time) *monthly {
	m := &monthly{index: map[string]int{}}
	m.start = time.Date(first.Year(), first.Month(), 1, 0, 0, 0, 0, time.UTC)
	m.end = time.Date(last.Year(), last.Month(), 1, 0, 0, 0, 0, time.UTC)
	for d := m.start; !d.After(m.end); d = d.AddDate(0, 1, 0) {
		m.index[d.Format(monthLayout)] = len(m.months)
		m.months = append(m.months, d.Format(monthLayout))
	}
	n := len(m.months)
	m.revenue = make([]float64, n)
	m.expenses = make([]float64, n)
	m.debt = make([]float64, n)
	m.refunds = make([]float64, n)
	return m
}

// Aggregate builds the four metric groups for one report. Only depository accounts
// contribute; pending transactions are ignored.
func (a *Aggregator) Aggregate(report *models.AssetReport) (models.MetricsBundle, error) {
	txs, err := postedTransactions(report)
	if err != nil {
		return models.MetricsBundle{}, err
	}
	if len(txs) == 0 {
		return models.MetricsBundle{}, ErrNoTransactions
	}

	balances, err := dailyBalances(report)
	if err != nil {
		return models.MetricsBundle{}, err
	}

	asOf := asOfDate(report, txs, balances)
	m := newMonthly(txs[0].date, txs[len(txs)-1].date)

	var (
		chargebacks      models.ChargebackMetrics
		lenders          = map[string]*lenderActivity{}
		lastDisbursement time.Time
	)
	for _, tx := range txs {
		i := m.index[tx.date.Format(monthLayout)]
		amount := tx.Amount
		switch tx.kind {
		case kindRevenue:
			m.revenue[i] -= amount
		case kindExpense:
			m.expenses[i] += amount
		case kindChargeback:
			m.expenses[i] += amount
			chargebacks.TotalChargebacks++
			chargebacks.ChargebackAmount += amount
		case kindRefund:
			m.expenses[i] += amount
			m.refunds[i] += amount
			chargebacks.TotalRefunds++
			chargebacks.RefundAmount += amount
		case kindDebtPayment:
			m.debt[i] += amount
			key := lenderKey(tx.Transaction)
			if act, ok := lenders[key]; ok {
				act.last = tx.date
			} else {
				lenders[key] = &lenderActivity{first: tx.date, last: tx.date}
			}
		case kindLoanDisbursement:
			if tx.date.After(lastDisbursement) {
				lastDisbursement = tx.date
			}
		}
	}

	cashFlow := buildCashFlow(m)
	totalRevenue := sum(m.revenue)

	debt := buildDebt(m, cashFlow, lenders, lastDisbursement, asOf)
	debt.DebtToRevenueRatio = round4(share(debt.TotalDebtPayments, totalRevenue))

	chargebacks.ChargebackAmount = round2(chargebacks.ChargebackAmount)
	chargebacks.RefundAmount = round2(chargebacks.RefundAmount)
	chargebacks.ChargebackRate = round4(share(chargebacks.ChargebackAmount, totalRevenue))
	chargebacks.RefundRate = round4(share(chargebacks.RefundAmount, totalRevenue))
	chargebacks.MonthlyRefundTrend = halfTrend(m.refunds)

	reserves := a.buildReserves(balances, cashFlow.AverageMonthlyExpenses, asOf)

	return models.MetricsBundle{
		CashFlow:    cashFlow,
		Debt:        debt,
		Chargebacks: &chargebacks,
		Reserves:    reserves,
	}, nil
}

func postedTransactions(report *models.AssetReport) ([]postedTx, error) {
	var txs []postedTx
	for _, acct := range report.Accounts {
		if !acct.IsDepository() {
			continue
		}
		for _, tx := range acct.Transactions {
			if tx.Pending {
				continue
			}
			date, err := time.Parse(dateLayout, tx.Date)
			if err != nil {
				return nil, fmt.Errorf("invalid date %q on transaction %s: %w", tx.Date, tx.TransactionID, err)
			}
			txs = append(txs, postedTx{Transaction: tx, date: date, kind: classify(tx)})
		}
	}
	sort.SliceStable(txs, func(i, j int) bool { return txs[i].date.Before(txs[j].date) })
	return txs, nil
}

type balancePoint struct {
	date    time.Time
	balance float64
}

// dailyBalances sums depository balances per day. Each account carries its last known
// balance forward over days it does not report, and its first known balance back over
// days before its history starts. Accounts without history contribute their current
// balance to every day.
func dailyBalances(report *models.AssetReport) ([]balancePoint, error) {
	var (
		histories [][]balancePoint
		flat      float64
	)
	dates := map[time.Time]struct{}{}
	for _, acct := range report.Accounts {
		if !acct.IsDepository() {
			continue
		}
		if len(acct.HistoricalBalances) == 0 {
			flat += acct.CurrentBalance
			continue
		}
		history := make([]balancePoint, 0, len(acct.HistoricalBalances))
		for _, b := range acct.HistoricalBalances {
			date, err := time.Parse(dateLayout, b.Date)
			if err != nil {
				return nil, fmt.Errorf("invalid balance date %q on account %s: %w", b.Date, acct.AccountID, err)
			}
			history = append(history, balancePoint{date: date, balance: b.Balance})
			dates[date] = struct{}{}
		}
		sort.SliceStable(history, func(i, j int) bool { return history[i].date.Before(history[j].date) })
		histories = append(histories, history)
	}

	if len(dates) == 0 {
		return []balancePoint{{date: report.DateGenerated, balance: flat}}, nil
	}
	points := make([]balancePoint, 0, len(dates))
	for date := range dates {
		points = append(points, balancePoint{date: date, balance: flat})
	}
	sort.Slice(points, func(i, j int) bool { return points[i].date.Before(points[j].date) })

	for _, history := range histories {
		next := 0
		carried := history[0].balance
		for i := range points {
			for next < len(history) && !history[next].date.After(points[i].date) {
				carried = history[next].balance
				next++
			}
			points[i].balance += carried
		}
	}
	return points, nil
}

func asOfDate(report *models.AssetReport, txs []postedTx, balances []balancePoint) time.Time {
	if !report.DateGenerated.IsZero() {
		d := report.DateGenerated.UTC()
		return time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, time.UTC)
	}
	latest := txs[len(txs)-1].date
	if last := balances[len(balances)-1].date; last.After(latest) {
		latest = last
	}
	return latest
}

func buildCashFlow(m *monthly) *models.CashFlowMetrics {
	n := len(m.months)
	revenue := make([]float64, n)
	expenses := make([]float64, n)
	net := make([]float64, n)
	for i := range m.months {
		revenue[i] = round2(m.revenue[i])
		expenses[i] = round2(m.expenses[i])
		net[i] = round2(m.revenue[i] - m.expenses[i])
	}

	avgRevenue := mean(m.revenue)
	avgExpenses := mean(m.expenses)
	growth := growthRate(m.revenue)

	cf := &models.CashFlowMetrics{
		MonthlyRevenue:            revenue,
		MonthlyExpenses:           expenses,
		MonthlyNetCashFlow:        net,
		Months:                    m.months,
		AverageMonthlyRevenue:     round2(avgRevenue),
		AverageMonthlyExpenses:    round2(avgExpenses),
		AverageMonthlyNetCashFlow: round2(avgRevenue - avgExpenses),
		RevenueGrowthRate:         round4(growth),
		RevenueTrend:              classifyGrowth(growth),
		CashFlowTrend:             halfTrend(net),
		VolatilityScore:           round4(coefficientOfVariation(m.revenue)),
	}
	if r := ratio(avgRevenue, avgExpenses); r != nil {
		v := round4(*r)
		cf.LiquidityRatio = &v
	}
	return cf
}

func buildDebt(m *monthly, cf *models.CashFlowMetrics, lenders map[string]*lenderActivity, lastDisbursement, asOf time.Time) *models.DebtMetrics {
	payments := make([]float64, len(m.debt))
	for i, v := range m.debt {
		payments[i] = round2(v)
	}
	total := sum(m.debt)

	debt := &models.DebtMetrics{
		TotalDebtPayments:   round2(total),
		MonthlyDebtPayments: payments,
	}
	if total > 0 {
		avgPayment := total / float64(len(m.months))
		dscr := round4(cf.AverageMonthlyNetCashFlow / avgPayment)
		debt.DSCR = &dscr
	}

	trailing := asOf.AddDate(0, 0, -trailingWindowDays)
	newLenderCutoff := asOf.AddDate(0, 0, -newLenderWindowDays)
	active := 0
	for _, act := range lenders {
		if act.last.After(trailing) {
			active++
		}
		if act.first.After(newLenderCutoff) && m.start.Before(newLenderCutoff) {
			debt.RecentLoanActivity = true
		}
	}
	debt.NumberOfLoans = active
	debt.LoanStackingDetected = active >= 2
	if !lastDisbursement.IsZero() && lastDisbursement.After(trailing) {
		debt.RecentLoanActivity = true
	}
	return debt
}

func (a *Aggregator) buildReserves(points []balancePoint, avgExpenses float64, asOf time.Time) *models.ReserveMetrics {
	values := make([]float64, len(points))
	lowest := points[0].balance
	for i, p := range points {
		values[i] = p.balance
		if p.balance < lowest {
			lowest = p.balance
		}
	}
	ending := points[len(points)-1].balance

	r := &models.ReserveMetrics{
		EndingBalance:  round2(ending),
		AverageBalance: round2(mean(values)),
		LowestBalance:  round2(lowest),
		BalanceTrend:   halfTrend(values),
	}

	trailing := asOf.AddDate(0, 0, -trailingWindowDays)
	wasNegative := false
	for _, p := range points {
		negative := p.balance < 0
		if p.date.After(trailing) {
			if negative && !wasNegative {
				r.OverdraftCount++
			}
			if p.balance < a.lowBalanceThreshold {
				r.DaysWithLowBalance++
			}
		}
		wasNegative = negative
	}

	if lr := ratio(ending, avgExpenses); lr != nil {
		v := round4(*lr)
		r.LiquidReservesRatio = &v
	}
	return r
}
