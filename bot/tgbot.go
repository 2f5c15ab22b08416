package bot

import (
	"fmt"
	"log/slog"

	"Painter/core"
	"Painter/lib/sl"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api"
)

// TgBot sends replies through the Telegram Bot API.
type TgBot struct {
	api *tgbotapi.BotAPI
	log *slog.Logger
}

func NewTgBot(conf *core.Config, log *slog.Logger) (*TgBot, error) {
	api, err := tgbotapi.NewBotAPI(conf.Telegram.Token)
	if err != nil {
		return nil, fmt.Errorf("creating bot api: %w", err)
	}
	api.Debug = conf.Env == "local"

	tgBot := &TgBot{
		api: api,
		log: log.With(sl.Module("tgbot")),
	}
	tgBot.log.With(slog.String("username", api.Self.UserName)).Info("authorized")
	return tgBot, nil
}

func (t *TgBot) SendText(chatId int64, text string) error {
	msg := tgbotapi.NewMessage(chatId, text)
	if _, err := t.api.Send(msg); err != nil {
		return fmt.Errorf("sending message: %w", err)
	}
	return nil
}

func (t *TgBot) SendPhoto(chatId int64, path string) error {
	photo := tgbotapi.NewPhotoUpload(chatId, path)
	if _, err := t.api.Send(photo); err != nil {
		return fmt.Errorf("sending photo %s: %w", path, err)
	}
	return nil
}

func (t *TgBot) SendChatAction(chatId int64, action string) error {
	if _, err := t.api.Send(tgbotapi.NewChatAction(chatId, action)); err != nil {
		return fmt.Errorf("sending chat action: %w", err)
	}
	return nil
}

// RegisterWebhook points the platform at url, uploading the self-signed
// public certificate when one is given.
func (t *TgBot) RegisterWebhook(url, certificate string, maxConnections int) error {
	var webhook tgbotapi.WebhookConfig
	if certificate != "" {
		webhook = tgbotapi.NewWebhookWithCert(url, certificate)
	} else {
		webhook = tgbotapi.NewWebhook(url)
	}
	webhook.MaxConnections = maxConnections

	if _, err := t.api.SetWebhook(webhook); err != nil {
		return fmt.Errorf("setting webhook: %w", err)
	}

	info, err := t.api.GetWebhookInfo()
	if err != nil {
		return fmt.Errorf("getting webhook info: %w", err)
	}
	log := t.log.With(
		slog.Bool("custom_certificate", info.HasCustomCertificate),
		slog.Int("pending", info.PendingUpdateCount),
	)
	if info.LastErrorDate != 0 {
		log.Warn("webhook reports an error", slog.String("message", info.LastErrorMessage))
	}
	log.Info("webhook registered")
	return nil
}
