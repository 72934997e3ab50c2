package notifications

import (
	"fmt"
	"net/smtp"
	"strings"

	"github.com/Dan9191/underwriting-service/internal/config"
	"github.com/Dan9191/underwriting-service/internal/models"
	"github.com/jordan-wright/email"
	"github.com/sirupsen/logrus"
)

// Sender handles sending underwriting alerts via SMTP
type Sender struct {
	cfg    *config.Config
	logger *logrus.Logger
	send   func(e *email.Email) error
}

// NewSender creates a new email sender
func NewSender(cfg *config.Config, logger *logrus.Logger) *Sender {
	s := &Sender{
		cfg:    cfg,
		logger: logger,
	}
	s.send = func(e *email.Email) error {
		addr := fmt.Sprintf("%s:%s", cfg.SMTPHost, cfg.SMTPPort)
		auth := smtp.PlainAuth("", cfg.SMTPUsername, cfg.SMTPPassword, cfg.SMTPHost)
		return e.Send(addr, auth)
	}
	return s
}

// needsAlert reports whether a recommendation requires a human underwriter
func needsAlert(r models.Recommendation) bool {
	return r == models.RecommendationFurtherReview || r == models.RecommendationDecline
}

// SendAnalysisAlert emails the underwriting team when an analysis needs attention.
// Analyses recommending approval are ignored.
func (s *Sender) SendAnalysisAlert(a *models.UnderwritingAnalysis) error {
	if !needsAlert(a.Score.Recommendation) {
		return nil
	}

	e := s.buildAlert(a)
	if err := s.send(e); err != nil {
		s.logger.Errorf("Failed to send underwriting alert for merchant %d: %v", a.MerchantID, err)
		return fmt.Errorf("failed to send email: %w", err)
	}

	s.logger.Infof("Email sent to %s: %s", strings.Join(e.To, ","), e.Subject)
	return nil
}

func (s *Sender) buildAlert(a *models.UnderwritingAnalysis) *email.Email {
	e := email.NewEmail()
	e.From = s.cfg.SenderEmail
	e.To = []string{s.cfg.AlertEmail}
	e.Subject = fmt.Sprintf("Underwriting %s: merchant %d", a.Score.Recommendation, a.MerchantID)

	body := fmt.Sprintf(
		"Merchant %d was scored %d/100 from asset report %s.\n\n"+
			"Recommendation: %s\n"+
			"Risk level: %s\n"+
			"Maximum recommended loan: %.2f\n\n"+
			"Sub-scores: cash flow %d, debt service %d, chargebacks %d, reserves %d\n",
		a.MerchantID, a.Score.Overall, a.AssetReportID,
		a.Score.Recommendation,
		a.Score.RiskLevel,
		a.Score.MaxRecommendedLoan,
		a.Score.CashFlowScore, a.Score.DebtServiceScore, a.Score.ChargebackScore, a.Score.ReservesScore,
	)
	if len(a.Score.Notes) > 0 {
		body += "\nNotes:\n"
		for _, n := range a.Score.Notes {
			body += "- " + n + "\n"
		}
	}
	body += "\nAnalysis time: " + a.UpdatedAt.Format("2006-01-02 15:04:05") + "\n"
	e.Text = []byte(body)
	return e
}
