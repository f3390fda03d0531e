package services

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/go-telegram/bot"
	tgmodels "github.com/go-telegram/bot/models"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/irfndi/correlation-regime-go/internal/analytics"
	"github.com/irfndi/correlation-regime-go/internal/logging"
	"github.com/irfndi/correlation-regime-go/internal/metrics"
	"github.com/irfndi/correlation-regime-go/internal/models"
)

// DefaultAlertCooldown suppresses repeat alerts for the same basket.
const DefaultAlertCooldown = 6 * time.Hour

// MessageSender is the part of *bot.Bot the notifier needs.
type MessageSender interface {
	SendMessage(ctx context.Context, params *bot.SendMessageParams) (*tgmodels.Message, error)
}

// StressNotifier posts a Telegram alert when an analysis lands in the stress regime.
type StressNotifier struct {
	sender   MessageSender
	chatID   int64
	cooldown time.Duration
	logger   *logging.StandardLogger
	now      func() time.Time

	mu       sync.Mutex
	lastSent map[string]time.Time
}

// NewStressNotifier connects to the Telegram Bot API with token.
func NewStressNotifier(token string, chatID int64, logger *logging.StandardLogger) (*StressNotifier, error) {
	telegramBot, err := bot.New(token)
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}
	return NewStressNotifierWithSender(telegramBot, chatID, DefaultAlertCooldown, logger), nil
}

func NewStressNotifierWithSender(sender MessageSender, chatID int64, cooldown time.Duration, logger *logging.StandardLogger) *StressNotifier {
	return &StressNotifier{
		sender:   sender,
		chatID:   chatID,
		cooldown: cooldown,
		logger:   logger,
		now:      time.Now,
		lastSent: make(map[string]time.Time),
	}
}

// NotifyStress sends an alert for result when its stress facet reads stress
// and the basket has not been alerted within the cooldown.
func (n *StressNotifier) NotifyStress(ctx context.Context, result *models.AnalysisResult) error {
	if result == nil || result.Inference == nil || result.Inference.Stress.Level != analytics.StressHigh {
		return nil
	}

	basket := basketKey(result.Tickers)
	n.mu.Lock()
	if last, ok := n.lastSent[basket]; ok && n.now().Sub(last) < n.cooldown {
		n.mu.Unlock()
		metrics.RecordNotification("skipped")
		return nil
	}
	n.lastSent[basket] = n.now()
	n.mu.Unlock()

	_, err := n.sender.SendMessage(ctx, &bot.SendMessageParams{
		ChatID: n.chatID,
		Text:   n.FormatStressAlert(result),
	})
	if err != nil {
		n.mu.Lock()
		delete(n.lastSent, basket)
		n.mu.Unlock()
		metrics.RecordNotification("failed")
		return fmt.Errorf("failed to send stress alert: %w", err)
	}

	metrics.RecordNotification("sent")
	n.logger.WithComponent("stress_notifier").Info("Stress alert sent",
		"analysis_id", result.AnalysisID,
		"tickers", basket,
	)
	return nil
}

// FormatStressAlert renders the plain-text alert body.
func (n *StressNotifier) FormatStressAlert(result *models.AnalysisResult) string {
	inf := result.Inference
	var b strings.Builder

	fmt.Fprintf(&b, "Market stress alert: %s\n", strings.Join(result.Tickers, ", "))
	if result.Start != "" || result.End != "" {
		fmt.Fprintf(&b, "Window: %s to %s (%d observations)\n", result.Start, result.End, result.SampleSize)
	}
	fmt.Fprintf(&b, "Correlation: %s\n", n.label(inf.Correlation.Level))
	fmt.Fprintf(&b, "Sentiment impact: %s\n", n.label(inf.Sentiment.Level))
	fmt.Fprintf(&b, "Noise: %s\n", n.label(inf.Noise.Level))
	if result.RMT != nil {
		if lambda1, _, ok := analytics.MarketMode(result.RMT.Eigenvalues); ok {
			fmt.Fprintf(&b, "Market mode λ1 = %.2f vs noise limit λ+ = %.2f\n", lambda1, result.RMT.LambdaMax)
		}
	}
	b.WriteString("\n")
	b.WriteString(inf.Headline)
	for _, action := range inf.Actions {
		fmt.Fprintf(&b, "\n- %s", action)
	}
	return b.String()
}

// label title-cases a level; a Caser is stateful so one is built per call.
func (n *StressNotifier) label(level string) string {
	return cases.Title(language.English).String(strings.ReplaceAll(level, "_", " "))
}

func basketKey(tickers []string) string {
	sorted := append([]string(nil), tickers...)
	sort.Strings(sorted)
	return strings.Join(sorted, ",")
}
