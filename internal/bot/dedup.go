package bot

import (
	"context"
	"fmt"
	"html"
	"log"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// maxDedupResults caps how many pairs one scan reports to the chat.
const maxDedupResults = 10

// dedupAction is a parsed "dd:" callback.
type dedupAction struct {
	Index  int
	Target string // "a", "b" or "k"
}

func (b *Bot) runDedup(m *tgbotapi.Message) {
	if b.dedup == nil {
		b.reply(m, "Duplicate scan is not configured (no Redis cache).")
		return
	}

	statusMsg, err := b.api.Send(tgbotapi.NewMessage(m.Chat.ID, "Scanning vault for duplicates…"))
	if err != nil {
		log.Printf("bot: dedup status message failed: %v", err)
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
		defer cancel()

		progress := func(done, total int) {
			edit := tgbotapi.NewEditMessageText(m.Chat.ID, statusMsg.MessageID,
				fmt.Sprintf("Embedding notes… %d/%d", done, total))
			if _, err := b.api.Send(edit); err != nil {
				log.Printf("bot: dedup progress edit failed: %v", err)
			}
		}

		pairs, err := b.dedup.Scan(ctx, progress)
		if err != nil {
			log.Printf("bot: dedup scan failed: %v", err)
			edit := tgbotapi.NewEditMessageText(m.Chat.ID, statusMsg.MessageID, "Duplicate scan failed: "+err.Error())
			_, _ = b.api.Send(edit)
			return
		}

		b.mu.Lock()
		b.pairs = pairs
		b.mu.Unlock()

		if len(pairs) == 0 {
			edit := tgbotapi.NewEditMessageText(m.Chat.ID, statusMsg.MessageID, "No duplicates found.")
			_, _ = b.api.Send(edit)
			return
		}

		shown := len(pairs)
		if shown > maxDedupResults {
			shown = maxDedupResults
		}
		edit := tgbotapi.NewEditMessageText(m.Chat.ID, statusMsg.MessageID,
			fmt.Sprintf("Found %d duplicate pair(s), showing %d:", len(pairs), shown))
		_, _ = b.api.Send(edit)

		for idx := 0; idx < shown; idx++ {
			pair := pairs[idx]
			text := fmt.Sprintf(
				"<b>%.0f%% similar</b>\n\nA: <code>%s</code>\n<pre>%s</pre>\n\nB: <code>%s</code>\n<pre>%s</pre>",
				pair.Similarity*100,
				html.EscapeString(pair.PathA), html.EscapeString(strings.TrimSpace(pair.PreviewA)),
				html.EscapeString(pair.PathB), html.EscapeString(strings.TrimSpace(pair.PreviewB)),
			)
			markup := tgbotapi.NewInlineKeyboardMarkup(
				tgbotapi.NewInlineKeyboardRow(
					tgbotapi.NewInlineKeyboardButtonData("🗑 Delete A", fmt.Sprintf("dd:%d:a", idx)),
					tgbotapi.NewInlineKeyboardButtonData("🗑 Delete B", fmt.Sprintf("dd:%d:b", idx)),
					tgbotapi.NewInlineKeyboardButtonData("Keep both", fmt.Sprintf("dd:%d:k", idx)),
				),
			)
			msg := tgbotapi.NewMessage(m.Chat.ID, text)
			msg.ParseMode = tgbotapi.ModeHTML
			msg.ReplyMarkup = markup
			if _, err := b.api.Send(msg); err != nil {
				log.Printf("bot: dedup pair message failed: %v", err)
			}
		}
	}()
}

// dedupPairPath resolves a callback against the last scan's pairs. ok is
// false when the keyboard outlived the scan it was built from.
func (b *Bot) dedupPairPath(action dedupAction) (path string, ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if action.Index >= len(b.pairs) {
		return "", false
	}
	switch action.Target {
	case "a":
		return b.pairs[action.Index].PathA, true
	case "b":
		return b.pairs[action.Index].PathB, true
	}
	return "", true
}

func (b *Bot) resolveDedupCallback(cq *tgbotapi.CallbackQuery, action dedupAction) {
	path, ok := b.dedupPairPath(action)
	if !ok {
		b.alert(cq.ID, "Stale scan result; run /dedup again.")
		return
	}

	if action.Target == "k" {
		b.answer(cq.ID, "Kept both")
	} else {
		if err := b.dedup.Delete(path); err != nil {
			log.Printf("bot: dedup delete failed: %v", err)
			b.alert(cq.ID, "Delete failed: "+err.Error())
			return
		}
		b.engine.MarkDirty(path)
		b.answer(cq.ID, "Deleted "+path)
	}
	if cq.Message != nil {
		b.clearKeyboard(cq.Message.Chat.ID, cq.Message.MessageID)
	}
}

func parseDedupCallback(data string) (dedupAction, bool) {
	if !strings.HasPrefix(data, "dd:") {
		return dedupAction{}, false
	}
	parts := strings.Split(data, ":")
	if len(parts) != 3 {
		return dedupAction{}, false
	}
	index, err := strconv.Atoi(parts[1])
	if err != nil || index < 0 {
		return dedupAction{}, false
	}
	switch parts[2] {
	case "a", "b", "k":
		return dedupAction{Index: index, Target: parts[2]}, true
	}
	return dedupAction{}, false
}
