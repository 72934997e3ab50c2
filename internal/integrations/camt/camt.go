// Package camt reads ISO 20022 camt.053 bank-to-customer statements.
package camt

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/Dan9191/underwriting-service/internal/models"
	"github.com/beevik/etree"
	"github.com/shopspring/decimal"
)

// ErrNoStatement is returned when the document holds no Stmt element
var ErrNoStatement = errors.New("no statement found in camt.053 document")

// ReportIDPrefix prefixes the statement id to form the asset report id
const ReportIDPrefix = "stmt-"

const (
	dateLayout = "2006-01-02"

	credit = "CRDT"
	debit  = "DBIT"

	opening = "OPBD"
	closing = "CLBD"
	pending = "PDNG"
)

type balance struct {
	amount decimal.Decimal
	date   time.Time
}

type entry struct {
	tx     models.Transaction
	amount decimal.Decimal // signed as outflow
	date   time.Time
}

// Parse reads a camt.053 document into an asset report. Statements of the same account
// are merged into one account. Daily balances are rebuilt from the opening balance and must reach the closing balance.
func Parse(r io.Reader) (*models.AssetReport, error) {
	doc := etree.NewDocument()
	if _, err := doc.ReadFrom(r); err != nil {
		return nil, fmt.Errorf("failed to parse XML: %w", err)
	}

	stmts := doc.FindElements("//BkToCstmrStmt/Stmt")
	if len(stmts) == 0 {
		return nil, ErrNoStatement
	}

	report := &models.AssetReport{}
	byAccount := map[string]int{}
	for i, stmt := range stmts {
		acct, created, err := parseStatement(stmt)
		if err != nil {
			return nil, err
		}
		if i == 0 {
			report.AssetReportID = ReportIDPrefix + childText(stmt, "Id")
		}
		if created.After(report.DateGenerated) {
			report.DateGenerated = created
		}
		if j, ok := byAccount[acct.AccountID]; ok {
			mergeStatement(&report.Accounts[j], acct)
			continue
		}
		byAccount[acct.AccountID] = len(report.Accounts)
		report.Accounts = append(report.Accounts, *acct)
	}
	if report.DateGenerated.IsZero() {
		if created, ok := parseDateTime(childText(doc.Root(), "BkToCstmrStmt/GrpHdr/CreDtTm")); ok {
			report.DateGenerated = created
		}
	}
	return report, nil
}

func parseStatement(stmt *etree.Element) (*models.Account, time.Time, error) {
	id := childText(stmt, "Id")
	if id == "" {
		return nil, time.Time{}, fmt.Errorf("statement without Id")
	}
	created, _ := parseDateTime(childText(stmt, "CreDtTm"))

	acct := &models.Account{
		AccountID: childText(stmt, "Acct/Id/IBAN"),
		Name:      childText(stmt, "Acct/Nm"),
		Type:      "depository",
		Currency:  childText(stmt, "Acct/Ccy"),
	}
	if acct.AccountID == "" {
		acct.AccountID = childText(stmt, "Acct/Id/Othr/Id")
	}
	if acct.AccountID == "" {
		acct.AccountID = id
	}

	open, closeBal, err := statementBalances(stmt)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("statement %s: %w", id, err)
	}

	var entries []entry
	for i, ntry := range stmt.SelectElements("Ntry") {
		e, err := parseEntry(ntry, acct.AccountID, fmt.Sprintf("%s-%d", id, i+1))
		if err != nil {
			return nil, time.Time{}, fmt.Errorf("statement %s: %w", id, err)
		}
		acct.Transactions = append(acct.Transactions, e.tx)
		if !e.tx.Pending {
			entries = append(entries, e)
		}
	}

	if open == nil || closeBal == nil {
		if closeBal != nil {
			acct.CurrentBalance = closeBal.amount.InexactFloat64()
		}
		return acct, created, nil
	}

	acct.CurrentBalance = closeBal.amount.InexactFloat64()
	acct.HistoricalBalances, err = rebuildBalances(*open, *closeBal, entries)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("statement %s: %w", id, err)
	}
	return acct, created, nil
}

// mergeStatement folds a further statement of the same account into acct. Where both
// report the same day the later statement wins.
func mergeStatement(acct, next *models.Account) {
	acct.Transactions = append(acct.Transactions, next.Transactions...)
	if lastBalanceDate(next) >= lastBalanceDate(acct) {
		acct.CurrentBalance = next.CurrentBalance
	}

	balances := append(acct.HistoricalBalances, next.HistoricalBalances...)
	sort.SliceStable(balances, func(i, j int) bool { return balances[i].Date < balances[j].Date })
	merged := balances[:0]
	for _, b := range balances {
		if n := len(merged); n > 0 && merged[n-1].Date == b.Date {
			merged[n-1] = b
			continue
		}
		merged = append(merged, b)
	}
	acct.HistoricalBalances = merged
}

func lastBalanceDate(acct *models.Account) string {
	if n := len(acct.HistoricalBalances); n > 0 {
		return acct.HistoricalBalances[n-1].Date
	}
	return ""
}

func statementBalances(stmt *etree.Element) (open, closeBal *balance, err error) {
	for _, bal := range stmt.SelectElements("Bal") {
		code := childText(bal, "Tp/CdOrPrtry/Cd")
		if code != opening && code != closing {
			continue
		}
		amount, err := signedAmount(bal, true)
		if err != nil {
			return nil, nil, fmt.Errorf("balance %s: %w", code, err)
		}
		b := &balance{amount: amount}
		if d := childText(bal, "Dt/Dt"); d != "" {
			if b.date, err = time.Parse(dateLayout, d); err != nil {
				return nil, nil, fmt.Errorf("balance %s: invalid date %q", code, d)
			}
		} else if dt, ok := parseDateTime(childText(bal, "Dt/DtTm")); ok {
			b.date = truncateDay(dt)
		}
		if code == opening {
			open = b
		} else {
			closeBal = b
		}
	}
	return open, closeBal, nil
}

func parseEntry(ntry *etree.Element, accountID, fallbackID string) (entry, error) {
	amount, err := signedAmount(ntry, false)
	if err != nil {
		return entry{}, fmt.Errorf("entry %s: %w", fallbackID, err)
	}

	dateText := childText(ntry, "BookgDt/Dt")
	if dateText == "" {
		dateText = childText(ntry, "ValDt/Dt")
	}
	if dateText == "" {
		if dt, ok := parseDateTime(childText(ntry, "BookgDt/DtTm")); ok {
			dateText = dt.Format(dateLayout)
		}
	}
	date, err := time.Parse(dateLayout, dateText)
	if err != nil {
		return entry{}, fmt.Errorf("entry %s: invalid booking date %q", fallbackID, dateText)
	}

	status := childText(ntry, "Sts/Cd")
	if status == "" {
		status = childText(ntry, "Sts")
	}

	txID := childText(ntry, "AcctSvcrRef")
	if txID == "" {
		txID = childText(ntry, "NtryRef")
	}
	if txID == "" {
		txID = fallbackID
	}

	counterparty := counterpartyName(ntry, amount.IsNegative())
	name := childText(ntry, "NtryDtls/TxDtls/RmtInf/Ustrd")
	if name == "" {
		name = childText(ntry, "AddtlNtryInf")
	}
	if name == "" {
		name = counterparty
	}

	var category []string
	for _, path := range []string{"BkTxCd/Domn/Cd", "BkTxCd/Domn/Fmly/Cd", "BkTxCd/Domn/Fmly/SubFmlyCd"} {
		if code := childText(ntry, path); code != "" {
			category = append(category, code)
		}
	}

	return entry{
		tx: models.Transaction{
			TransactionID: txID,
			AccountID:     accountID,
			Date:          date.Format(dateLayout),
			Amount:        amount.InexactFloat64(),
			Name:          name,
			MerchantName:  counterparty,
			Category:      category,
			Pending:       status == pending,
		},
		amount: amount,
		date:   date,
	}, nil
}

// counterpartyName returns the payer of a credit or the payee of a debit
func counterpartyName(ntry *etree.Element, inflow bool) string {
	party := "Cdtr"
	if inflow {
		party = "Dbtr"
	}
	if name := childText(ntry, "NtryDtls/TxDtls/RltdPties/"+party+"/Nm"); name != "" {
		return name
	}
	return childText(ntry, "NtryDtls/TxDtls/RltdPties/"+party+"/Pty/Nm")
}

// signedAmount reads Amt and CdtDbtInd. Entries use the outflow-positive convention;
// balances keep their natural sign.
func signedAmount(el *etree.Element, isBalance bool) (decimal.Decimal, error) {
	text := childText(el, "Amt")
	amount, err := decimal.NewFromString(text)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid amount %q", text)
	}
	switch ind := childText(el, "CdtDbtInd"); ind {
	case credit:
		if !isBalance {
			amount = amount.Neg()
		}
	case debit:
		if isBalance {
			amount = amount.Neg()
		}
	default:
		return decimal.Zero, fmt.Errorf("invalid credit/debit indicator %q", ind)
	}
	return amount, nil
}

// rebuildBalances produces an end-of-day balance for every day between the opening
// and closing dates
func rebuildBalances(open, closeBal balance, entries []entry) ([]models.DailyBalance, error) {
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].date.Before(entries[j].date) })

	start, end := open.date, closeBal.date
	if len(entries) > 0 {
		if start.IsZero() || entries[0].date.Before(start) {
			start = entries[0].date
		}
		if last := entries[len(entries)-1].date; end.IsZero() || last.After(end) {
			end = last
		}
	}
	if start.IsZero() || end.IsZero() {
		return nil, nil
	}

	running := open.amount
	var balances []models.DailyBalance
	next := 0
	for day := start; !day.After(end); day = day.AddDate(0, 0, 1) {
		for next < len(entries) && !entries[next].date.After(day) {
			running = running.Sub(entries[next].amount)
			next++
		}
		balances = append(balances, models.DailyBalance{Date: day.Format(dateLayout), Balance: running.InexactFloat64()})
	}

	if !running.Equal(closeBal.amount) {
		return nil, fmt.Errorf("entries do not reconcile: opening %s plus entries gives %s, closing balance is %s",
			open.amount, running, closeBal.amount)
	}
	return balances, nil
}

func childText(el *etree.Element, path string) string {
	if el == nil {
		return ""
	}
	child := el.FindElement(path)
	if child == nil {
		return ""
	}
	return strings.TrimSpace(child.Text())
}

func parseDateTime(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", dateLayout} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

func truncateDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
