// Package bot is the Telegram front end: it ingests messages into the
// vault and acts as the decision surface for merge conflicts.
package bot

import (
	"fmt"
	"io"
	"log"
	"net/http"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"vaultbot/internal/classify"
	"vaultbot/internal/dedup"
	"vaultbot/internal/gitsync"
	"vaultbot/internal/vault"
)

type Bot struct {
	api        *tgbotapi.BotAPI
	allowed    map[int64]struct{}
	classifier *classify.Classifier
	writer     *vault.Writer
	engine     *gitsync.SyncCoordinator
	structure  *vault.Structure
	dedup      *dedup.Service // nil when not configured

	httpClient *http.Client

	mu    sync.Mutex
	pairs []dedup.Pair // last /dedup scan, indexed by callback data
}

func New(token string, allowedUserIDs []int64, classifier *classify.Classifier, writer *vault.Writer, engine *gitsync.SyncCoordinator, structure *vault.Structure, dedupSvc *dedup.Service) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("connect to telegram: %w", err)
	}
	allowed := make(map[int64]struct{}, len(allowedUserIDs))
	for _, id := range allowedUserIDs {
		allowed[id] = struct{}{}
	}
	return &Bot{
		api:        api,
		allowed:    allowed,
		classifier: classifier,
		writer:     writer,
		engine:     engine,
		structure:  structure,
		dedup:      dedupSvc,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}, nil
}

// Run consumes updates until done is closed. Each update is handled on its own
// goroutine so a slow classification never stalls conflict callbacks.
func (b *Bot) Run(done <-chan struct{}) {
	cfg := tgbotapi.NewUpdate(0)
	cfg.Timeout = 30
	updates := b.api.GetUpdatesChan(cfg)
	log.Printf("bot: @%s polling for updates", b.api.Self.UserName)

	for {
		select {
		case <-done:
			b.api.StopReceivingUpdates()
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			go b.handleUpdate(update)
		}
	}
}

func (b *Bot) handleUpdate(update tgbotapi.Update) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("bot: panic in update handler: %v", r)
		}
	}()

	if update.CallbackQuery != nil {
		b.handleCallback(update.CallbackQuery)
		return
	}
	m := update.Message
	if m == nil || m.From == nil {
		return
	}
	if _, ok := b.allowed[m.From.ID]; !ok {
		return
	}
	if m.IsCommand() {
		b.handleCommand(m)
		return
	}
	b.handleContent(m)
}

func (b *Bot) handleCallback(cq *tgbotapi.CallbackQuery) {
	if cq.From == nil {
		return
	}
	if _, ok := b.allowed[cq.From.ID]; !ok {
		return
	}
	if action, ok := parseConflictCallback(cq.Data); ok {
		b.resolveConflictCallback(cq, action)
		return
	}
	if action, ok := parseDedupCallback(cq.Data); ok {
		b.resolveDedupCallback(cq, action)
		return
	}
	b.answer(cq.ID, "")
}

// broadcast sends text to every allowed user.
func (b *Bot) broadcast(text string, markup *tgbotapi.InlineKeyboardMarkup) {
	for id := range b.allowed {
		msg := tgbotapi.NewMessage(id, text)
		msg.ParseMode = tgbotapi.ModeHTML
		if markup != nil {
			msg.ReplyMarkup = *markup
		}
		if _, err := b.api.Send(msg); err != nil {
			log.Printf("bot: send to %d failed: %v", id, err)
		}
	}
}

func (b *Bot) reply(m *tgbotapi.Message, text string) {
	msg := tgbotapi.NewMessage(m.Chat.ID, text)
	msg.ReplyToMessageID = m.MessageID
	if _, err := b.api.Send(msg); err != nil {
		log.Printf("bot: reply failed: %v", err)
	}
}

func (b *Bot) answer(callbackID, text string) {
	if _, err := b.api.Request(tgbotapi.NewCallback(callbackID, text)); err != nil {
		log.Printf("bot: answer callback failed: %v", err)
	}
}

func (b *Bot) alert(callbackID, text string) {
	if _, err := b.api.Request(tgbotapi.NewCallbackWithAlert(callbackID, text)); err != nil {
		log.Printf("bot: alert callback failed: %v", err)
	}
}

func (b *Bot) clearKeyboard(chatID int64, messageID int) {
	edit := tgbotapi.NewEditMessageReplyMarkup(chatID, messageID, tgbotapi.InlineKeyboardMarkup{
		InlineKeyboard: [][]tgbotapi.InlineKeyboardButton{},
	})
	if _, err := b.api.Send(edit); err != nil {
		log.Printf("bot: clear keyboard failed: %v", err)
	}
}

// downloadFile fetches an attachment body from Telegram's file API.
func (b *Bot) downloadFile(fileID string) ([]byte, string, error) {
	file, err := b.api.GetFile(tgbotapi.FileConfig{FileID: fileID})
	if err != nil {
		return nil, "", fmt.Errorf("get file: %w", err)
	}
	resp, err := b.httpClient.Get(file.Link(b.api.Token))
	if err != nil {
		return nil, "", fmt.Errorf("download file: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("download file: unexpected status %s", resp.Status)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("read file body: %w", err)
	}
	return data, file.FilePath, nil
}
