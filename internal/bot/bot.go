// Package bot implements the Telegram surface: filter management
// commands and alert delivery.
package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"swagsearch/internal/alert"
	"swagsearch/internal/config"
	"swagsearch/internal/currency"
	"swagsearch/internal/model"
	"swagsearch/internal/storage"
)

type telegramAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// Bot handles user commands and delivers listing alerts.
type Bot struct {
	api   telegramAPI
	store storage.Storage
	cfg   *config.Config
	conv  *currency.Converter
	log   *slog.Logger
}

// New creates a Bot with the given Telegram token, storage, and config.
func New(token string, store storage.Storage, cfg *config.Config, conv *currency.Converter, log *slog.Logger) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("create bot api: %w", err)
	}

	return &Bot{
		api:   api,
		store: store,
		cfg:   cfg,
		conv:  conv,
		log:   log,
	}, nil
}

// Run starts the bot's long-polling loop, blocking until ctx is cancelled.
func (b *Bot) Run(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := b.api.GetUpdatesChan(u)

	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			return
		case update := <-updates:
			if update.CallbackQuery != nil {
				b.handleCallback(ctx, update.CallbackQuery)
				continue
			}
			if update.Message == nil || !update.Message.IsCommand() {
				continue
			}
			if !b.cfg.IsUserAllowed(update.Message.From.ID) {
				b.reply(update.Message.Chat.ID, "Access denied.")
				continue
			}
			b.handleCommand(ctx, update.Message)
		}
	}
}

// SendListing delivers one listing alert to a chat. A 403 from the
// platform means the recipient blocked the bot and is reported as a
// refusal; everything else is a transport failure.
func (b *Bot) SendListing(_ context.Context, chatID int64, l model.Listing, filterName string) error {
	msg := tgbotapi.NewMessage(chatID, FormatListing(l, filterName, b.conv))
	if _, err := b.api.Send(msg); err != nil {
		var tgErr *tgbotapi.Error
		if errors.As(err, &tgErr) && tgErr.Code == 403 {
			return fmt.Errorf("send listing to %d: %v: %w", chatID, err, alert.ErrRefused)
		}
		return fmt.Errorf("send listing to %d: %w", chatID, err)
	}
	return nil
}

// SendMessage sends a text message to the given chat.
func (b *Bot) SendMessage(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.DisableWebPagePreview = true
	if _, err := b.api.Send(msg); err != nil {
		b.log.Error("send message", "chat_id", chatID, "error", err)
	}
}

func (b *Bot) reply(chatID int64, text string) {
	b.SendMessage(chatID, text)
}

func (b *Bot) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	cmd := msg.Command()
	args := strings.TrimSpace(msg.CommandArguments())
	chatID := msg.Chat.ID

	b.log.Debug("command", "cmd", cmd, "args", args, "chat_id", chatID)

	switch cmd {
	case "start":
		b.handleStart(chatID)
	case "help":
		b.handleHelp(chatID)
	case "addfilter":
		b.handleAddFilter(ctx, chatID, args)
	case cmdFilters:
		b.handleFilters(ctx, chatID)
	case cmdDelFilter:
		b.handleDelFilter(ctx, chatID, args)
	case "pausefilter":
		b.handleSetActive(ctx, chatID, args, false)
	case "resumefilter":
		b.handleSetActive(ctx, chatID, args, true)
	default:
		b.reply(chatID, "Unknown command. Use /help for a list of commands.")
	}
}
