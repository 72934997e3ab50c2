package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/Dan9191/underwriting-service/internal/analytics"
	"github.com/Dan9191/underwriting-service/internal/cache"
	"github.com/Dan9191/underwriting-service/internal/config"
	"github.com/Dan9191/underwriting-service/internal/integrations/camt"
	"github.com/Dan9191/underwriting-service/internal/metrics"
	"github.com/Dan9191/underwriting-service/internal/models"
	"github.com/Dan9191/underwriting-service/internal/repository"
	"github.com/Dan9191/underwriting-service/internal/underwriting"
	"github.com/Dan9191/underwriting-service/internal/utils"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"
)

var (
	// ErrInvalidCredentials is returned by Login for unknown users and wrong passwords
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrReportSource wraps failures of the bank data aggregator
	ErrReportSource = errors.New("bank data aggregator unavailable")
	// ErrInvalidStatement wraps bank statements that cannot be read
	ErrInvalidStatement = errors.New("invalid bank statement")
)

// Repository persists analyses, asset report registrations and users
type Repository interface {
	SaveAnalysis(ctx context.Context, a *models.UnderwritingAnalysis, reportedAt time.Time) error
	LatestAnalysis(ctx context.Context, merchantID int64) (*models.UnderwritingAnalysis, error)
	AnalysisByReport(ctx context.Context, merchantID int64, reportID string) (*models.UnderwritingAnalysis, error)
	RegisterAssetReport(ctx context.Context, ref *models.AssetReportRef) error
	FindAssetReport(ctx context.Context, merchantID int64, reportID string) (*models.AssetReportRef, error)
	ListLatestAssetReports(ctx context.Context) ([]models.AssetReportRef, error)
	FindUserByEmail(ctx context.Context, email string) (*models.User, error)
}

// AnalysisCache holds recently read or computed analyses
type AnalysisCache interface {
	GetLatest(ctx context.Context, merchantID int64) (*models.UnderwritingAnalysis, error)
	GetByReport(ctx context.Context, merchantID int64, reportID string) (*models.UnderwritingAnalysis, error)
	StoreReport(ctx context.Context, a *models.UnderwritingAnalysis) error
	StoreLatest(ctx context.Context, a *models.UnderwritingAnalysis) error
	InvalidateLatest(ctx context.Context, merchantID int64) error
}

// ReportSource fetches asset reports from the bank data aggregator
type ReportSource interface {
	GetAssetReport(ctx context.Context, token string) (*models.AssetReport, error)
}

// Notifier tells underwriters about analyses that need attention
type Notifier interface {
	SendAnalysisAlert(a *models.UnderwritingAnalysis) error
}

// Service handles business logic
type Service struct {
	repo       Repository
	source     ReportSource
	scorer     *underwriting.Scorer
	aggregator *analytics.Aggregator
	cache      AnalysisCache
	notifier   Notifier
	log        *logrus.Logger
	config     *config.Config
	now        func() time.Time
}

// NewService initializes a new service. Cache and notifier are optional and set with
// WithCache and WithNotifier.
func NewService(repo Repository, source ReportSource, scorer *underwriting.Scorer, aggregator *analytics.Aggregator, log *logrus.Logger, cfg *config.Config) *Service {
	return &Service{
		repo:       repo,
		source:     source,
		scorer:     scorer,
		aggregator: aggregator,
		log:        log,
		config:     cfg,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// WithCache enables the analysis cache
func (s *Service) WithCache(c AnalysisCache) *Service {
	s.cache = c
	return s
}

// WithNotifier enables underwriting alerts
func (s *Service) WithNotifier(n Notifier) *Service {
	s.notifier = n
	return s
}

// Login authenticates a user and returns a JWT token
func (s *Service) Login(ctx context.Context, email, password string) (string, error) {
	user, err := s.repo.FindUserByEmail(ctx, email)
	if errors.Is(err, repository.ErrNotFound) {
		return "", ErrInvalidCredentials
	}
	if err != nil {
		return "", err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return "", ErrInvalidCredentials
	}

	token, err := utils.IssueToken(s.config.JWTSecret, user, s.now())
	if err != nil {
		return "", err
	}

	s.log.Infof("User logged in: %s", user.Email)
	return token, nil
}

// LatestAnalysis returns the most recent analysis of a merchant
func (s *Service) LatestAnalysis(ctx context.Context, merchantID int64) (*models.UnderwritingAnalysis, error) {
	if s.cache != nil {
		a, err := s.cache.GetLatest(ctx, merchantID)
		if err == nil {
			metrics.CacheLookups.WithLabelValues("hit").Inc()
			return a, nil
		}
		s.cacheMiss(err)
	}

	a, err := s.repo.LatestAnalysis(ctx, merchantID)
	if err != nil {
		return nil, err
	}
	s.storeLatest(ctx, a)
	return a, nil
}

// AnalysisByReport returns the analysis of one asset report. A registered report that
// has not been analyzed yet is analyzed on demand.
func (s *Service) AnalysisByReport(ctx context.Context, merchantID int64, reportID string) (*models.UnderwritingAnalysis, error) {
	if s.cache != nil {
		a, err := s.cache.GetByReport(ctx, merchantID, reportID)
		if err == nil {
			metrics.CacheLookups.WithLabelValues("hit").Inc()
			return a, nil
		}
		s.cacheMiss(err)
	}

	a, err := s.repo.AnalysisByReport(ctx, merchantID, reportID)
	if errors.Is(err, repository.ErrNotFound) {
		return s.Recompute(ctx, merchantID, reportID)
	}
	if err != nil {
		return nil, err
	}
	if s.cache != nil {
		if err := s.cache.StoreReport(ctx, a); err != nil {
			s.log.Warnf("Failed to cache analysis for merchant %d: %v", merchantID, err)
		}
	}
	return a, nil
}

// Recompute fetches a registered asset report again and replaces its analysis
func (s *Service) Recompute(ctx context.Context, merchantID int64, reportID string) (*models.UnderwritingAnalysis, error) {
	ref, err := s.repo.FindAssetReport(ctx, merchantID, reportID)
	if err != nil {
		return nil, err
	}
	return s.analyzeRef(ctx, ref)
}

// RegisterAssetReport records an aggregator report for a merchant and analyzes it
func (s *Service) RegisterAssetReport(ctx context.Context, merchantID int64, reportID, token string) (*models.UnderwritingAnalysis, error) {
	ref := &models.AssetReportRef{MerchantID: merchantID, AssetReportID: reportID, Token: token}
	if err := s.repo.RegisterAssetReport(ctx, ref); err != nil {
		return nil, err
	}
	s.log.Infof("Asset report %s registered for merchant %d", reportID, merchantID)
	return s.analyzeRef(ctx, ref)
}

// ImportStatement analyzes a camt.053 bank statement uploaded for a merchant
func (s *Service) ImportStatement(ctx context.Context, merchantID int64, r io.Reader) (*models.UnderwritingAnalysis, error) {
	report, err := camt.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidStatement, err)
	}
	report.MerchantID = merchantID
	reportedAt := report.DateGenerated
	if reportedAt.IsZero() {
		reportedAt = s.now()
	}
	return s.analyze(ctx, report, reportedAt)
}

// ScoreMetrics scores a metrics bundle without storing anything
func (s *Service) ScoreMetrics(m models.MetricsBundle) (models.UnderwritingScore, error) {
	score, err := s.scorer.Score(m)
	if err != nil {
		metrics.ScoringFailures.WithLabelValues(metrics.StageScore).Inc()
		return models.UnderwritingScore{}, err
	}
	return score, nil
}

// RefreshAll recomputes the newest registered report of every merchant. It keeps going
// after individual failures and returns them joined.
func (s *Service) RefreshAll(ctx context.Context) (int, error) {
	refs, err := s.repo.ListLatestAssetReports(ctx)
	if err != nil {
		return 0, err
	}

	refreshed := 0
	var errs []error
	for i := range refs {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		ref := &refs[i]
		if _, err := s.analyzeRef(ctx, ref); err != nil {
			s.log.Errorf("Failed to refresh merchant %d report %s: %v", ref.MerchantID, ref.AssetReportID, err)
			errs = append(errs, fmt.Errorf("merchant %d: %w", ref.MerchantID, err))
			continue
		}
		refreshed++
	}

	s.log.Infof("Refreshed %d of %d merchant analyses", refreshed, len(refs))
	return refreshed, errors.Join(errs...)
}

func (s *Service) analyzeRef(ctx context.Context, ref *models.AssetReportRef) (*models.UnderwritingAnalysis, error) {
	report, err := s.source.GetAssetReport(ctx, ref.Token)
	if err != nil {
		metrics.ScoringFailures.WithLabelValues(metrics.StageFetch).Inc()
		return nil, fmt.Errorf("%w: %w", ErrReportSource, err)
	}
	report.MerchantID = ref.MerchantID
	report.AssetReportID = ref.AssetReportID
	return s.analyze(ctx, report, ref.CreatedAt)
}

// analyze aggregates, scores, stores and publishes one report. reportedAt orders the
// merchant's reports when picking the latest analysis.
func (s *Service) analyze(ctx context.Context, report *models.AssetReport, reportedAt time.Time) (*models.UnderwritingAnalysis, error) {
	bundle, err := s.aggregator.Aggregate(report)
	if err != nil {
		metrics.ScoringFailures.WithLabelValues(metrics.StageAggregate).Inc()
		return nil, fmt.Errorf("failed to aggregate report %s: %w", report.AssetReportID, err)
	}

	score, err := s.scorer.Score(bundle)
	if err != nil {
		metrics.ScoringFailures.WithLabelValues(metrics.StageScore).Inc()
		return nil, fmt.Errorf("failed to score report %s: %w", report.AssetReportID, err)
	}

	a := models.NewAnalysis(report.MerchantID, report.AssetReportID, bundle, score, s.now())
	if err := s.repo.SaveAnalysis(ctx, a, reportedAt); err != nil {
		metrics.ScoringFailures.WithLabelValues(metrics.StageSave).Inc()
		return nil, err
	}
	metrics.AnalysesTotal.WithLabelValues(string(score.Recommendation)).Inc()
	s.publish(ctx, a)

	s.log.WithFields(logrus.Fields{
		"merchant_id":     a.MerchantID,
		"asset_report_id": a.AssetReportID,
		"overall":         score.Overall,
		"recommendation":  score.Recommendation,
	}).Info("Underwriting analysis computed")

	if s.notifier != nil {
		if err := s.notifier.SendAnalysisAlert(a); err != nil {
			s.log.Warnf("Failed to send underwriting alert for merchant %d: %v", a.MerchantID, err)
		}
	}
	return a, nil
}

// publish caches a freshly saved analysis. It becomes the cached latest only when its
// report is the merchant's newest; otherwise the cached latest entry stays as it is.
func (s *Service) publish(ctx context.Context, a *models.UnderwritingAnalysis) {
	if s.cache == nil {
		return
	}
	latest, err := s.repo.LatestAnalysis(ctx, a.MerchantID)
	switch {
	case err != nil:
		s.log.Warnf("Failed to resolve latest analysis for merchant %d: %v", a.MerchantID, err)
		s.invalidateLatest(ctx, a.MerchantID)
	case latest.AssetReportID != a.AssetReportID:
		if err := s.cache.StoreReport(ctx, a); err != nil {
			s.log.Warnf("Failed to cache analysis for merchant %d: %v", a.MerchantID, err)
		}
	case !s.storeLatest(ctx, a):
		// never serve the previous analysis as latest
		s.invalidateLatest(ctx, a.MerchantID)
	}
}

func (s *Service) invalidateLatest(ctx context.Context, merchantID int64) {
	if err := s.cache.InvalidateLatest(ctx, merchantID); err != nil {
		s.log.Warnf("Failed to invalidate cache for merchant %d: %v", merchantID, err)
	}
}

// storeLatest reports whether the analysis is now cached as the merchant's latest
func (s *Service) storeLatest(ctx context.Context, a *models.UnderwritingAnalysis) bool {
	if s.cache == nil {
		return false
	}
	if err := s.cache.StoreLatest(ctx, a); err != nil {
		s.log.Warnf("Failed to cache analysis for merchant %d: %v", a.MerchantID, err)
		return false
	}
	return true
}

func (s *Service) cacheMiss(err error) {
	if errors.Is(err, cache.ErrCacheMiss) {
		metrics.CacheLookups.WithLabelValues("miss").Inc()
		return
	}
	metrics.CacheLookups.WithLabelValues("error").Inc()
	s.log.Warnf("Analysis cache unavailable: %v", err)
}
