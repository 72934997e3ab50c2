package analytics

import (
	"strings"
	"unicode"

	"github.com/Dan9191/underwriting-service/internal/models"
)

type txKind int

const (
	kindRevenue txKind = iota
	kindExpense
	kindDebtPayment
	kindLoanDisbursement
	kindChargeback
	kindRefund
	kindTransfer
)

var loanKeywords = []string{
	"loan", "lending", "cash advance", "mca ", "funding", "financing", "kabbage", "ondeck", "bluevine",
}

// classify assigns a transaction to a cash flow bucket. Amounts follow the aggregator
// convention: positive is an outflow.
func classify(tx models.Transaction) txKind {
	category := strings.ToLower(strings.Join(tx.Category, " "))
	name := strings.ToLower(tx.Name + " " + tx.MerchantName)
	outflow := tx.Amount > 0

	switch {
	case strings.Contains(category, "internal account transfer"):
		return kindTransfer
	case outflow && (strings.Contains(name, "chargeback") || strings.Contains(category, "chargeback")):
		return kindChargeback
	case outflow && (strings.Contains(name, "refund") || strings.Contains(name, "return")):
		return kindRefund
	case isLoan(category, name):
		if outflow {
			return kindDebtPayment
		}
		return kindLoanDisbursement
	case outflow:
		return kindExpense
	default:
		return kindRevenue
	}
}

func isLoan(category, name string) bool {
	if strings.Contains(category, "loan") {
		return true
	}
	padded := name + " "
	for _, kw := range loanKeywords {
		if strings.Contains(padded, kw) {
			return true
		}
	}
	return false
}

// lenderKey normalizes a counterparty name so repeated payments to one lender group together
func lenderKey(tx models.Transaction) string {
	name := tx.MerchantName
	if name == "" {
		name = tx.Name
	}
	cleaned := strings.Map(func(r rune) rune {
		if unicode.IsDigit(r) || unicode.IsPunct(r) {
			return ' '
		}
		return unicode.ToLower(r)
	}, name)
	return strings.Join(strings.Fields(cleaned), " ")
}
