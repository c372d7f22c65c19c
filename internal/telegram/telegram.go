package telegram

import (
	"context"
	"errors"
	"fmt"
	"html"
	"os"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/sirupsen/logrus"

	"immotech/server/internal/models"
)

// Config holds the bot credentials. The service is a no-op unless enabled
// with a token.
type Config struct {
	Enabled  bool   `yaml:"enabled" env:"TELEGRAM_ENABLED"`
	BotToken string `yaml:"bot_token" env:"TELEGRAM_BOT_TOKEN"`
	ChatID   int64  `yaml:"chat_id" env:"TELEGRAM_CHAT_ID"`
}

// sender is the subset of *tgbotapi.BotAPI used here.
type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

type Service struct {
	logger  *logrus.Logger
	bot     sender
	chatID  int64
	enabled bool
}

// NewService connects to the Bot API when notifications are enabled.
func NewService(cfg Config, logger *logrus.Logger) (*Service, error) {
	if logger == nil {
		logger = logrus.New()
		logger.SetFormatter(&logrus.JSONFormatter{})
		logger.SetOutput(os.Stdout)
	}
	if !cfg.Enabled || cfg.BotToken == "" {
		logger.Info("Telegram notifications disabled")
		return &Service{logger: logger}, nil
	}
	if cfg.ChatID == 0 {
		return nil, errors.New("telegram chat ID is not configured")
	}

	bot, err := tgbotapi.NewBotAPI(cfg.BotToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}
	logger.WithField("bot", bot.Self.UserName).Info("Telegram notifications enabled")

	return &Service{logger: logger, bot: bot, chatID: cfg.ChatID, enabled: true}, nil
}

func (s *Service) Enabled() bool {
	return s.enabled
}

// SendMessage posts an HTML message to the configured chat.
func (s *Service) SendMessage(ctx context.Context, text string) error {
	if !s.enabled {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	msg := tgbotapi.NewMessage(s.chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	msg.DisableWebPagePreview = true

	if _, err := s.bot.Send(msg); err != nil {
		return fmt.Errorf("failed to send telegram message: %w", err)
	}
	return nil
}

// NotifyNewProperty announces a freshly listed property.
func (s *Service) NotifyNewProperty(ctx context.Context, p *models.Property) error {
	return s.SendMessage(ctx, FormatNewProperty(p))
}

// NotifyContractGenerated announces a contract for a paid transaction.
func (s *Service) NotifyContractGenerated(ctx context.Context, t *models.Transaction, p *models.Property) error {
	return s.SendMessage(ctx, FormatContractGenerated(t, p))
}

func FormatNewProperty(p *models.Property) string {
	pricePerSqm := "N/A"
	if p.Surface > 0 {
		pricePerSqm = fmt.Sprintf("€%.0f/m²", p.Price/p.Surface)
	}

	return fmt.Sprintf(
		"<b>New Property Listed!</b>\n\n"+
			"🏠 %s\n"+
			"📍 %s, %s %s\n"+
			"💰 €%.0f\n"+
			"📐 %.0f m²\n"+
			"💵 %s\n"+
			"🚪 Rooms: %d\n"+
			"🏷️ %s / %s",
		html.EscapeString(p.Title),
		html.EscapeString(p.Location.Address),
		html.EscapeString(p.Location.PostalCode),
		html.EscapeString(p.Location.City),
		p.Price,
		p.Surface,
		pricePerSqm,
		p.Rooms,
		html.EscapeString(p.Type),
		html.EscapeString(p.TransactionType),
	)
}

func FormatContractGenerated(t *models.Transaction, p *models.Property) string {
	title := "Unknown property"
	if p != nil {
		title = p.Title
	}
	contract := ""
	if t.ContractPath != nil {
		contract = *t.ContractPath
	}

	return fmt.Sprintf(
		"<b>📄 Contract generated</b>\n\n"+
			"🏠 %s\n"+
			"🔖 Transaction %s (%s)\n"+
			"💰 €%.2f\n"+
			"🗂️ %s",
		html.EscapeString(title),
		t.ID,
		html.EscapeString(t.Type),
		t.Amount,
		html.EscapeString(contract),
	)
}
