package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/Dan9191/underwriting-service/internal/models"
	"github.com/Dan9191/underwriting-service/internal/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var tokenKey = []byte("0123456789abcdef0123456789abcdef")

func newMockRepo(t *testing.T) (*Repository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewRepository(db, tokenKey), mock
}

func sealed(t *testing.T, token string) string {
	t.Helper()
	s, err := utils.Encrypt(token, tokenKey)
	require.NoError(t, err)
	return s
}

func testAnalysis() *models.UnderwritingAnalysis {
	return &models.UnderwritingAnalysis{
		MerchantID:    42,
		AssetReportID: "report-1",
		CashFlow:      &models.CashFlowMetrics{Months: []string{"2026-01"}, MonthlyRevenue: []float64{100}, MonthlyExpenses: []float64{50}, MonthlyNetCashFlow: []float64{50}},
		Reserves:      &models.ReserveMetrics{EndingBalance: 10},
		Score:         models.UnderwritingScore{Overall: 70, Recommendation: models.RecommendationApproveConditions, RiskLevel: models.RiskModerate, Notes: []string{}},
		UpdatedAt:     time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC),
	}
}

func TestSaveAnalysis(t *testing.T) {
	repo, mock := newMockRepo(t)
	a := testAnalysis()
	payload, err := json.Marshal(a)
	require.NoError(t, err)

	reportedAt := time.Date(2026, 3, 28, 0, 0, 0, 0, time.UTC)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO underwriting.analyses")).
		WithArgs(a.MerchantID, a.AssetReportID, payload, reportedAt, a.UpdatedAt).
		WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, repo.SaveAnalysis(context.Background(), a, reportedAt))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveAnalysisError(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectExec("INSERT INTO underwriting.analyses").WillReturnError(errors.New("connection reset"))

	err := repo.SaveAnalysis(context.Background(), testAnalysis(), time.Now())
	assert.ErrorContains(t, err, "failed to save analysis")
}

func TestLatestAnalysis(t *testing.T) {
	repo, mock := newMockRepo(t)
	a := testAnalysis()
	payload, err := json.Marshal(a)
	require.NoError(t, err)

	mock.ExpectQuery(regexp.QuoteMeta("ORDER BY reported_at DESC, updated_at DESC")).
		WithArgs(int64(42)).
		WillReturnRows(sqlmock.NewRows([]string{"payload"}).AddRow(payload))

	got, err := repo.LatestAnalysis(context.Background(), 42)
	require.NoError(t, err)
	assert.Equal(t, a, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAnalysisByReportNotFound(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectQuery(regexp.QuoteMeta("FROM underwriting.analyses")).
		WithArgs(int64(42), "missing").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.AnalysisByReport(context.Background(), 42, "missing")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestAnalysisCorruptPayload(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectQuery("FROM underwriting.analyses").
		WillReturnRows(sqlmock.NewRows([]string{"payload"}).AddRow([]byte(`{"cashFlow":`)))

	_, err := repo.LatestAnalysis(context.Background(), 42)
	assert.ErrorContains(t, err, "failed to decode analysis")
}

func TestRegisterAssetReport(t *testing.T) {
	repo, mock := newMockRepo(t)
	created := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO underwriting.asset_reports")).
		WithArgs(int64(42), "report-1", sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"created_at"}).AddRow(created))

	ref := &models.AssetReportRef{MerchantID: 42, AssetReportID: "report-1", Token: "assets-sandbox-token"}
	require.NoError(t, repo.RegisterAssetReport(context.Background(), ref))
	assert.Equal(t, created, ref.CreatedAt)
}

func TestFindAssetReport(t *testing.T) {
	repo, mock := newMockRepo(t)
	created := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	mock.ExpectQuery(regexp.QuoteMeta("FROM underwriting.asset_reports")).
		WithArgs(int64(42), "report-1").
		WillReturnRows(sqlmock.NewRows([]string{"merchant_id", "asset_report_id", "asset_report_token", "created_at"}).
			AddRow(int64(42), "report-1", sealed(t, "tok"), created))

	ref, err := repo.FindAssetReport(context.Background(), 42, "report-1")
	require.NoError(t, err)
	assert.Equal(t, "tok", ref.Token)

	mock.ExpectQuery("FROM underwriting.asset_reports").WillReturnError(sql.ErrNoRows)
	_, err = repo.FindAssetReport(context.Background(), 42, "other")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestListLatestAssetReports(t *testing.T) {
	repo, mock := newMockRepo(t)
	created := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT DISTINCT ON (merchant_id)")).
		WillReturnRows(sqlmock.NewRows([]string{"merchant_id", "asset_report_id", "asset_report_token", "created_at"}).
			AddRow(int64(1), "a", sealed(t, "tok-a"), created).
			AddRow(int64(2), "b", sealed(t, "tok-b"), created))

	refs, err := repo.ListLatestAssetReports(context.Background())
	require.NoError(t, err)
	require.Len(t, refs, 2)
	assert.Equal(t, int64(2), refs[1].MerchantID)
	assert.Equal(t, "tok-b", refs[1].Token)
}

func TestFindAssetReportWrongKey(t *testing.T) {
	repo, mock := newMockRepo(t)
	other, err := utils.Encrypt("tok", []byte("fedcba9876543210fedcba9876543210"))
	require.NoError(t, err)
	mock.ExpectQuery("FROM underwriting.asset_reports").
		WillReturnRows(sqlmock.NewRows([]string{"merchant_id", "asset_report_id", "asset_report_token", "created_at"}).
			AddRow(int64(42), "report-1", other, time.Now()))

	_, err = repo.FindAssetReport(context.Background(), 42, "report-1")
	assert.ErrorContains(t, err, "failed to decrypt token of asset report report-1")
}

func TestFindUserByEmail(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectQuery(regexp.QuoteMeta("FROM underwriting.users")).
		WithArgs("ops@example.com").
		WillReturnRows(sqlmock.NewRows([]string{"id", "username", "email", "password_hash", "role", "created_at", "updated_at"}).
			AddRow(int64(7), "ops", "ops@example.com", "hash", "admin", "2026-01-01T00:00:00Z", "2026-01-01T00:00:00Z"))

	user, err := repo.FindUserByEmail(context.Background(), "ops@example.com")
	require.NoError(t, err)
	assert.Equal(t, int64(7), user.ID)
	assert.Equal(t, models.RoleAdmin, user.Role)

	mock.ExpectQuery("FROM underwriting.users").WillReturnError(sql.ErrNoRows)
	_, err = repo.FindUserByEmail(context.Background(), "nobody@example.com")
	assert.True(t, errors.Is(err, ErrNotFound))
}
