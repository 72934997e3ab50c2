package plaid

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/Dan9191/underwriting-service/internal/config"
	"github.com/Dan9191/underwriting-service/internal/models"
	"github.com/sirupsen/logrus"
)

// APIError is an error response returned by Plaid
type APIError struct {
	StatusCode   int    `json:"-"`
	ErrorType    string `json:"error_type"`
	ErrorCode    string `json:"error_code"`
	ErrorMessage string `json:"error_message"`
	RequestID    string `json:"request_id"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("plaid %s/%s (status %d): %s", e.ErrorType, e.ErrorCode, e.StatusCode, e.ErrorMessage)
}

// Client fetches asset reports from Plaid
type Client struct {
	url      string
	clientID string
	secret   string
	client   *http.Client
	log      *logrus.Logger
}

// NewClient initializes a new Plaid client
func NewClient(cfg *config.Config, log *logrus.Logger) *Client {
	return &Client{
		url:      strings.TrimRight(cfg.PlaidURL, "/"),
		clientID: cfg.PlaidClientID,
		secret:   cfg.PlaidSecret,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
		log: log,
	}
}

type assetReportRequest struct {
	ClientID         string `json:"client_id"`
	Secret           string `json:"secret"`
	AssetReportToken string `json:"asset_report_token"`
}

type assetReportResponse struct {
	Report struct {
		AssetReportID string    `json:"asset_report_id"`
		DateGenerated time.Time `json:"date_generated"`
		Items         []struct {
			Accounts []account `json:"accounts"`
		} `json:"items"`
	} `json:"report"`
	RequestID string `json:"request_id"`
}

type account struct {
	AccountID string `json:"account_id"`
	Name      string `json:"name"`
	Type      string `json:"type"`
	Subtype   string `json:"subtype"`
	Balances  struct {
		Current  *float64 `json:"current"`
		Currency string   `json:"iso_currency_code"`
	} `json:"balances"`
	Transactions []struct {
		TransactionID string   `json:"transaction_id"`
		AccountID     string   `json:"account_id"`
		Date          string   `json:"date"`
		Amount        float64  `json:"amount"`
		Name          string   `json:"name"`
		Description   string   `json:"original_description"`
		MerchantName  string   `json:"merchant_name"`
		Category      []string `json:"category"`
		Pending       bool     `json:"pending"`
	} `json:"transactions"`
	HistoricalBalances []struct {
		Date    string  `json:"date"`
		Current float64 `json:"current"`
	} `json:"historical_balances"`
}

// GetAssetReport retrieves the asset report identified by token
func (c *Client) GetAssetReport(ctx context.Context, token string) (*models.AssetReport, error) {
	body, err := json.Marshal(assetReportRequest{
		ClientID:         c.clientID,
		Secret:           c.secret,
		AssetReportToken: token,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	raw, err := c.post(ctx, "/asset_report/get", body)
	if err != nil {
		return nil, err
	}

	var resp assetReportResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode asset report: %w", err)
	}
	c.log.Debugf("Plaid asset report %s received (request %s)", resp.Report.AssetReportID, resp.RequestID)

	return toAssetReport(&resp), nil
}

func (c *Client) post(ctx context.Context, path string, body []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		if err := json.Unmarshal(raw, apiErr); err != nil || apiErr.ErrorCode == "" {
			apiErr.ErrorType = "API_ERROR"
			apiErr.ErrorCode = "UNEXPECTED_RESPONSE"
			apiErr.ErrorMessage = http.StatusText(resp.StatusCode)
		}
		return nil, apiErr
	}
	return raw, nil
}

func toAssetReport(resp *assetReportResponse) *models.AssetReport {
	report := &models.AssetReport{
		AssetReportID: resp.Report.AssetReportID,
		DateGenerated: resp.Report.DateGenerated,
	}
	for _, item := range resp.Report.Items {
		for _, a := range item.Accounts {
			acct := models.Account{
				AccountID: a.AccountID,
				Name:      a.Name,
				Type:      a.Type,
				Subtype:   a.Subtype,
				Currency:  a.Balances.Currency,
			}
			if a.Balances.Current != nil {
				acct.CurrentBalance = *a.Balances.Current
			}
			for _, t := range a.Transactions {
				name := t.Name
				if name == "" {
					name = t.Description
				}
				acct.Transactions = append(acct.Transactions, models.Transaction{
					TransactionID: t.TransactionID,
					AccountID:     a.AccountID,
					Date:          t.Date,
					Amount:        t.Amount,
					Name:          name,
					MerchantName:  t.MerchantName,
					Category:      t.Category,
					Pending:       t.Pending,
				})
			}
			for _, b := range a.HistoricalBalances {
				acct.HistoricalBalances = append(acct.HistoricalBalances, models.DailyBalance{Date: b.Date, Balance: b.Current})
			}
			report.Accounts = append(report.Accounts, acct)
		}
	}
	return report
}
