package plaid

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/Dan9191/underwriting-service/internal/config"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const assetReportJSON = `{
  "report": {
    "asset_report_id": "bf3a0490-344c-4620-a219-2693162e4b1d",
    "date_generated": "2026-03-31T12:00:00Z",
    "items": [{
      "accounts": [{
        "account_id": "chk-1",
        "name": "Plaid Checking",
        "type": "depository",
        "subtype": "checking",
        "balances": {"current": 8000, "iso_currency_code": "USD"},
        "transactions": [
          {"transaction_id": "t1", "date": "2026-03-10", "amount": -12100, "original_description": "STRIPE TRANSFER", "pending": false},
          {"transaction_id": "t2", "date": "2026-03-20", "amount": 1000, "name": "OnDeck Loan Payment", "original_description": "ONDECK ACH", "category": ["Payment", "Loan"]}
        ],
        "historical_balances": [
          {"date": "2026-03-30", "current": 7900},
          {"date": "2026-03-31", "current": 8000}
        ]
      }, {
        "account_id": "cc-1",
        "type": "credit",
        "balances": {"current": null}
      }]
    }]
  },
  "request_id": "req-1"
}`

func newTestClient(url string) *Client {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return NewClient(&config.Config{PlaidURL: url + "/", PlaidClientID: "client", PlaidSecret: "secret"}, log)
}

func TestGetAssetReport(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/asset_report/get", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var req assetReportRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "client", req.ClientID)
		assert.Equal(t, "secret", req.Secret)
		assert.Equal(t, "assets-sandbox-token", req.AssetReportToken)

		w.Write([]byte(assetReportJSON))
	}))
	defer srv.Close()

	report, err := newTestClient(srv.URL).GetAssetReport(context.Background(), "assets-sandbox-token")
	require.NoError(t, err)

	assert.Equal(t, "bf3a0490-344c-4620-a219-2693162e4b1d", report.AssetReportID)
	assert.Equal(t, time.Date(2026, 3, 31, 12, 0, 0, 0, time.UTC), report.DateGenerated)
	require.Len(t, report.Accounts, 2)

	chk := report.Accounts[0]
	assert.Equal(t, 8000.0, chk.CurrentBalance)
	assert.Equal(t, "USD", chk.Currency)
	require.Len(t, chk.Transactions, 2)
	assert.Equal(t, "STRIPE TRANSFER", chk.Transactions[0].Name)
	assert.Equal(t, "OnDeck Loan Payment", chk.Transactions[1].Name)
	assert.Equal(t, "chk-1", chk.Transactions[1].AccountID)
	assert.Equal(t, []string{"Payment", "Loan"}, chk.Transactions[1].Category)
	require.Len(t, chk.HistoricalBalances, 2)
	assert.Equal(t, 7900.0, chk.HistoricalBalances[0].Balance)

	assert.False(t, report.Accounts[1].IsDepository())
	assert.Zero(t, report.Accounts[1].CurrentBalance)
}

func TestGetAssetReportAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error_type":"ASSET_REPORT_ERROR","error_code":"PRODUCT_NOT_READY","error_message":"the requested product is not yet ready","request_id":"req-2"}`))
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).GetAssetReport(context.Background(), "tok")

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
	assert.Equal(t, "PRODUCT_NOT_READY", apiErr.ErrorCode)
	assert.Contains(t, err.Error(), "ASSET_REPORT_ERROR/PRODUCT_NOT_READY")
}

func TestGetAssetReportUnexpectedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte("<html>bad gateway</html>"))
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).GetAssetReport(context.Background(), "tok")

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, "UNEXPECTED_RESPONSE", apiErr.ErrorCode)
	assert.Equal(t, "Bad Gateway", apiErr.ErrorMessage)
}

func TestGetAssetReportMalformedJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"report":`))
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).GetAssetReport(context.Background(), "tok")
	assert.ErrorContains(t, err, "failed to decode asset report")
}

func TestGetAssetReportCanceled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(assetReportJSON))
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newTestClient(srv.URL).GetAssetReport(ctx, "tok")
	assert.ErrorIs(t, err, context.Canceled)
}
