package bot

import (
	"fmt"
	"html"
	"log"
	"strconv"
	"strings"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"vaultbot/internal/gitsync"
)

// maxConflictPreview bounds how much of each side is shown per message.
const maxConflictPreview = 500

// conflictAction is a parsed "mc:" callback.
type conflictAction struct {
	SessionID string
	Index     int
	Choice    gitsync.Choice
}

// OnConflictOpened presents every conflicting path to the allowed users with
// both variants and a choice keyboard. Runs on its own goroutine; the engine
// must never block on Telegram.
func (b *Bot) OnConflictOpened(session gitsync.ConflictSnapshot) {
	go func() {
		total := len(session.Files)
		for idx, file := range session.Files {
			text := fmt.Sprintf(
				"⚠️ <b>Merge conflict</b> in <code>%s</code> (%d/%d)\n\n"+
					"<b>Current (yours):</b>\n<pre>%s</pre>\n\n"+
					"<b>Incoming (from remote):</b>\n<pre>%s</pre>\n\n"+
					"Unanswered paths take the default at %s.",
				html.EscapeString(file.Path), idx+1, total,
				html.EscapeString(truncatePreview(file.Local)),
				html.EscapeString(truncatePreview(file.Remote)),
				session.ExpiresAt.Local().Format("15:04"),
			)
			markup := tgbotapi.NewInlineKeyboardMarkup(
				tgbotapi.NewInlineKeyboardRow(
					tgbotapi.NewInlineKeyboardButtonData("✅ Keep Mine", conflictCallbackData(session.ID, idx, gitsync.ChoiceLocal)),
					tgbotapi.NewInlineKeyboardButtonData("⬇️ Take Remote", conflictCallbackData(session.ID, idx, gitsync.ChoiceRemote)),
					tgbotapi.NewInlineKeyboardButtonData("⏸ Later", conflictCallbackData(session.ID, idx, gitsync.ChoiceSkip)),
				),
			)
			b.broadcast(text, &markup)
		}
	}()
}

// OnConflictClosed announces the terminal state of a session.
func (b *Bot) OnConflictClosed(session gitsync.ConflictSnapshot) {
	go func() {
		var text string
		switch session.Status {
		case gitsync.SessionResolved:
			text = fmt.Sprintf("✅ Merge conflict resolved (%d path(s)).", len(session.Files))
		case gitsync.SessionExpired:
			text = fmt.Sprintf("⏰ Conflict window expired; the default choice was applied to %d path(s).", len(session.Files))
		case gitsync.SessionAborted:
			text = "🛑 Merge aborted; the vault was restored."
		default:
			return
		}
		b.broadcast(text, nil)
	}()
}

// OnSyncError reports degraded sync so notes are not silently piling up.
func (b *Bot) OnSyncError(err error) {
	go b.broadcast("⚠️ Vault sync issue: "+html.EscapeString(err.Error()), nil)
}

func (b *Bot) resolveConflictCallback(cq *tgbotapi.CallbackQuery, action conflictAction) {
	session, ok := b.engine.CurrentSession()
	if !ok || session.ID != action.SessionID || action.Index >= len(session.Files) {
		b.alert(cq.ID, "Already resolved or expired.")
		return
	}
	path := session.Files[action.Index].Path
	if !b.engine.SubmitResolution(action.SessionID, path, action.Choice) {
		b.alert(cq.ID, "Already resolved or expired.")
		return
	}

	var label string
	switch action.Choice {
	case gitsync.ChoiceLocal:
		label = "✅ Kept yours"
	case gitsync.ChoiceRemote:
		label = "⬇️ Took remote"
	default:
		label = "⏸ Deferred"
	}
	b.answer(cq.ID, label)
	if cq.Message != nil && action.Choice != gitsync.ChoiceSkip {
		b.clearKeyboard(cq.Message.Chat.ID, cq.Message.MessageID)
	}
	log.Printf("bot: conflict %s path %s resolved as %s", action.SessionID, path, action.Choice)
}

func conflictCallbackData(sessionID string, index int, choice gitsync.Choice) string {
	c := "s"
	switch choice {
	case gitsync.ChoiceLocal:
		c = "l"
	case gitsync.ChoiceRemote:
		c = "r"
	}
	return fmt.Sprintf("mc:%s:%d:%s", sessionID, index, c)
}

func parseConflictCallback(data string) (conflictAction, bool) {
	if !strings.HasPrefix(data, "mc:") {
		return conflictAction{}, false
	}
	parts := strings.Split(data, ":")
	if len(parts) != 4 {
		return conflictAction{}, false
	}
	index, err := strconv.Atoi(parts[2])
	if err != nil || index < 0 {
		return conflictAction{}, false
	}
	var choice gitsync.Choice
	switch parts[3] {
	case "l":
		choice = gitsync.ChoiceLocal
	case "r":
		choice = gitsync.ChoiceRemote
	case "s":
		choice = gitsync.ChoiceSkip
	default:
		return conflictAction{}, false
	}
	return conflictAction{SessionID: parts[1], Index: index, Choice: choice}, true
}

// truncatePreview bounds a conflict side to maxConflictPreview bytes without
// splitting a rune; Telegram rejects messages that are not valid UTF-8.
func truncatePreview(content string) string {
	content = strings.TrimSpace(content)
	if len(content) <= maxConflictPreview {
		return content
	}
	cut := maxConflictPreview
	for cut > 0 && !utf8.RuneStart(content[cut]) {
		cut--
	}
	return content[:cut] + "…"
}
