package models

// Transaction represents a bank transaction.
// Amount follows the aggregator convention: positive is money out, negative is money in.
type Transaction struct {
	TransactionID string   `json:"transaction_id"`
	AccountID     string   `json:"account_id"`
	Date          string   `json:"date"` // Format: YYYY-MM-DD
	Amount        float64  `json:"amount"`
	Name          string   `json:"name"`
	MerchantName  string   `json:"merchant_name"`
	Category      []string `json:"category"`
	Pending       bool     `json:"pending"`
}
