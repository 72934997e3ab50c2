package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Dan9191/underwriting-service/internal/models"
	"github.com/Dan9191/underwriting-service/internal/utils"
)

// ErrNotFound is returned when a requested record does not exist
var ErrNotFound = errors.New("not found")

// Repository provides database operations. Aggregator tokens are stored encrypted with tokenKey.
type Repository struct {
	db       *sql.DB
	tokenKey []byte
}

// NewRepository initializes a new repository
func NewRepository(db *sql.DB, tokenKey []byte) *Repository {
	return &Repository{db: db, tokenKey: tokenKey}
}

// SaveAnalysis stores an analysis, replacing any earlier one for the same report.
// reportedAt dates the underlying report and decides which analysis is the latest.
func (r *Repository) SaveAnalysis(ctx context.Context, a *models.UnderwritingAnalysis, reportedAt time.Time) error {
	payload, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("failed to encode analysis: %w", err)
	}
	query := `
		INSERT INTO underwriting.analyses (merchant_id, asset_report_id, payload, reported_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (merchant_id, asset_report_id)
		DO UPDATE SET payload = EXCLUDED.payload, reported_at = EXCLUDED.reported_at, updated_at = EXCLUDED.updated_at`
	if _, err := r.db.ExecContext(ctx, query, a.MerchantID, a.AssetReportID, payload, reportedAt, a.UpdatedAt); err != nil {
		return fmt.Errorf("failed to save analysis: %w", err)
	}
	return nil
}

// LatestAnalysis retrieves the analysis of the merchant's newest report. Recomputing an
// older report does not make it the latest.
func (r *Repository) LatestAnalysis(ctx context.Context, merchantID int64) (*models.UnderwritingAnalysis, error) {
	query := `
		SELECT payload
		FROM underwriting.analyses
		WHERE merchant_id = $1
		ORDER BY reported_at DESC, updated_at DESC
		LIMIT 1`
	return r.scanAnalysis(r.db.QueryRowContext(ctx, query, merchantID))
}

// AnalysisByReport retrieves the analysis computed from a specific asset report
func (r *Repository) AnalysisByReport(ctx context.Context, merchantID int64, reportID string) (*models.UnderwritingAnalysis, error) {
	query := `
		SELECT payload
		FROM underwriting.analyses
		WHERE merchant_id = $1 AND asset_report_id = $2`
	return r.scanAnalysis(r.db.QueryRowContext(ctx, query, merchantID, reportID))
}

func (r *Repository) scanAnalysis(row *sql.Row) (*models.UnderwritingAnalysis, error) {
	var payload []byte
	err := row.Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find analysis: %w", err)
	}
	a := &models.UnderwritingAnalysis{}
	if err := json.Unmarshal(payload, a); err != nil {
		return nil, fmt.Errorf("failed to decode analysis: %w", err)
	}
	return a, nil
}

// RegisterAssetReport records the aggregator token for a merchant's asset report
func (r *Repository) RegisterAssetReport(ctx context.Context, ref *models.AssetReportRef) error {
	token, err := utils.Encrypt(ref.Token, r.tokenKey)
	if err != nil {
		return fmt.Errorf("failed to encrypt asset report token: %w", err)
	}
	query := `
		INSERT INTO underwriting.asset_reports (merchant_id, asset_report_id, asset_report_token, created_at)
		VALUES ($1, $2, $3, CURRENT_TIMESTAMP)
		ON CONFLICT (merchant_id, asset_report_id)
		DO UPDATE SET asset_report_token = EXCLUDED.asset_report_token
		RETURNING created_at`
	err = r.db.QueryRowContext(ctx, query, ref.MerchantID, ref.AssetReportID, token).Scan(&ref.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to register asset report: %w", err)
	}
	return nil
}

// FindAssetReport retrieves a registered asset report
func (r *Repository) FindAssetReport(ctx context.Context, merchantID int64, reportID string) (*models.AssetReportRef, error) {
	ref := &models.AssetReportRef{}
	query := `
		SELECT merchant_id, asset_report_id, asset_report_token, created_at
		FROM underwriting.asset_reports
		WHERE merchant_id = $1 AND asset_report_id = $2`
	err := r.db.QueryRowContext(ctx, query, merchantID, reportID).
		Scan(&ref.MerchantID, &ref.AssetReportID, &ref.Token, &ref.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find asset report: %w", err)
	}
	if err := r.decryptToken(ref); err != nil {
		return nil, err
	}
	return ref, nil
}

// ListLatestAssetReports returns the newest registered asset report of every merchant
func (r *Repository) ListLatestAssetReports(ctx context.Context) ([]models.AssetReportRef, error) {
	query := `
		SELECT DISTINCT ON (merchant_id) merchant_id, asset_report_id, asset_report_token, created_at
		FROM underwriting.asset_reports
		ORDER BY merchant_id, created_at DESC`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list asset reports: %w", err)
	}
	defer rows.Close()

	var refs []models.AssetReportRef
	for rows.Next() {
		var ref models.AssetReportRef
		if err := rows.Scan(&ref.MerchantID, &ref.AssetReportID, &ref.Token, &ref.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan asset report: %w", err)
		}
		if err := r.decryptToken(&ref); err != nil {
			return nil, err
		}
		refs = append(refs, ref)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list asset reports: %w", err)
	}
	return refs, nil
}

func (r *Repository) decryptToken(ref *models.AssetReportRef) error {
	token, err := utils.Decrypt(ref.Token, r.tokenKey)
	if err != nil {
		return fmt.Errorf("failed to decrypt token of asset report %s: %w", ref.AssetReportID, err)
	}
	ref.Token = token
	return nil
}

// FindUserByEmail retrieves a user by email
func (r *Repository) FindUserByEmail(ctx context.Context, email string) (*models.User, error) {
	user := &models.User{}
	query := `
		SELECT id, username, email, password_hash, role, created_at, updated_at
		FROM underwriting.users
		WHERE email = $1`
	err := r.db.QueryRowContext(ctx, query, email).
		Scan(&user.ID, &user.Username, &user.Email, &user.PasswordHash, &user.Role, &user.CreatedAt, &user.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	return user, nil
}
