// Command alertcheck validates the Telegram alert configuration and can send a
// sample stress alert to the configured chat.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/go-telegram/bot"
	tgmodels "github.com/go-telegram/bot/models"
	"github.com/joho/godotenv"

	"github.com/irfndi/correlation-regime-go/internal/analytics"
	"github.com/irfndi/correlation-regime-go/internal/config"
	"github.com/irfndi/correlation-regime-go/internal/logging"
	"github.com/irfndi/correlation-regime-go/internal/models"
	"github.com/irfndi/correlation-regime-go/internal/services"
)

// telegramClient is the part of *bot.Bot the check uses.
type telegramClient interface {
	services.MessageSender
	GetMe(ctx context.Context) (*tgmodels.User, error)
}

func main() {
	send := flag.Bool("send", false, "send a sample stress alert to the configured chat")
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		fmt.Fprintf(os.Stderr, "warning: could not load .env file: %v\n", err)
	}
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if cfg.Telegram.BotToken == "" {
		fmt.Fprintln(os.Stderr, "telegram.bot_token is not configured")
		os.Exit(1)
	}
	client, err := bot.New(cfg.Telegram.BotToken)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create telegram bot: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	logger := logging.NewStandardLogger(cfg.LogLevel, cfg.Environment)
	if err := check(ctx, cfg.Telegram, client, *send, logger, os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func check(ctx context.Context, cfg config.TelegramConfig, client telegramClient, send bool, logger *logging.StandardLogger, out io.Writer) error {
	fmt.Fprintf(out, "bot token configured (length %d)\n", len(cfg.BotToken))
	if !cfg.Enabled {
		fmt.Fprintln(out, "warning: telegram.enabled is false; the server will not send alerts")
	}

	me, err := client.GetMe(ctx)
	if err != nil {
		return fmt.Errorf("telegram API check failed: %w", err)
	}
	fmt.Fprintf(out, "connected as @%s (id %d)\n", me.Username, me.ID)

	if !send {
		return nil
	}
	if cfg.ChatID == 0 {
		return errors.New("telegram.chat_id is required to send a sample alert")
	}
	notifier := services.NewStressNotifierWithSender(client, cfg.ChatID, 0, logger)
	if err := notifier.NotifyStress(ctx, sampleStressResult()); err != nil {
		return err
	}
	fmt.Fprintf(out, "sample alert sent to chat %d\n", cfg.ChatID)
	return nil
}

func sampleStressResult() *models.AnalysisResult {
	return &models.AnalysisResult{
		AnalysisID: "alertcheck",
		Tickers:    []string{"SPY", "QQQ", "IWM"},
		Start:      time.Now().AddDate(0, 0, -90).Format("2006-01-02"),
		End:        time.Now().Format("2006-01-02"),
		SampleSize: 62,
		RMT:        &models.EigenSpectrum{Eigenvalues: []float64{0.05, 0.1, 2.85}, LambdaMax: 1.49},
		Inference: &models.InferenceResult{
			Correlation: models.Facet{Level: analytics.CorrelationHigh},
			Sentiment:   models.Facet{Level: analytics.ImpactNone},
			Noise:       models.Facet{Level: analytics.NoiseClearPatterns},
			Stress:      models.Facet{Level: analytics.StressHigh},
			Headline:    "This is a test alert from alertcheck.",
			Actions:     []string{"No action needed."},
		},
	}
}
