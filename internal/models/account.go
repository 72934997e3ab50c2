package models

import "time"

// AssetReport is a point-in-time snapshot of a merchant's linked bank accounts
type AssetReport struct {
	AssetReportID string    `json:"asset_report_id"`
	MerchantID    int64     `json:"merchant_id"`
	DateGenerated time.Time `json:"date_generated"`
	Accounts      []Account `json:"accounts"`
}

// Account is a bank account inside an asset report
type Account struct {
	AccountID          string         `json:"account_id"`
	Name               string         `json:"name"`
	Type               string         `json:"type"` // depository, credit, loan; empty means depository
	Subtype            string         `json:"subtype"`
	CurrentBalance     float64        `json:"current_balance"`
	Currency           string         `json:"currency"`
	Transactions       []Transaction  `json:"transactions"`
	HistoricalBalances []DailyBalance `json:"historical_balances"`
}

// IsDepository reports whether the account holds operating cash
func (a *Account) IsDepository() bool {
	return a.Type == "" || a.Type == "depository"
}

// AssetReportRef links a merchant to an aggregator report
type AssetReportRef struct {
	MerchantID    int64     `json:"merchant_id"`
	AssetReportID string    `json:"asset_report_id"`
	Token         string    `json:"-"`
	CreatedAt     time.Time `json:"created_at"`
}
