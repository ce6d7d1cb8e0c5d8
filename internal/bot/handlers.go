package bot

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"vaultbot/internal/classify"
)

func (b *Bot) handleCommand(m *tgbotapi.Message) {
	switch m.Command() {
	case "sync":
		b.engine.ForceSync()
		b.reply(m, "Sync triggered.\n"+b.formatState())
	case "status":
		b.reply(m, b.formatState())
	case "dedup":
		b.runDedup(m)
	case "abortmerge":
		session, ok := b.engine.CurrentSession()
		if !ok {
			b.reply(m, "No open merge conflict.")
			return
		}
		if b.engine.AbortSession(session.ID) {
			b.reply(m, "Merge aborted, vault restored to its pre-merge state.")
		} else {
			b.reply(m, "The conflict session already closed.")
		}
	case "start", "help":
		b.reply(m, "Send me text, photos, documents or voice notes and I'll file them into the vault.\n"+
			"Commands: /sync /status /dedup /abortmerge")
	default:
		b.reply(m, "Unknown command. Try /help.")
	}
}

func (b *Bot) handleContent(m *tgbotapi.Message) {
	switch {
	case len(m.Photo) > 0:
		b.handlePhoto(m)
	case m.Document != nil:
		b.handleDocument(m)
	case m.Voice != nil:
		b.handleVoice(m)
	case m.Text != "":
		b.handleText(m)
	}
}

func (b *Bot) handleText(m *tgbotapi.Message) {
	text := m.Text
	if source := forwardSource(m); source != "" {
		text = fmt.Sprintf("[Forwarded from %s]\n\n%s", source, text)
	}
	b.classifyAndSave(m, text, "", nil)
}

func (b *Bot) handlePhoto(m *tgbotapi.Message) {
	photo := m.Photo[len(m.Photo)-1] // largest rendition last
	data, remotePath, err := b.downloadFile(photo.FileID)
	if err != nil {
		log.Printf("bot: photo download failed: %v", err)
		b.reply(m, "Could not download the photo.")
		return
	}
	ext := "jpg"
	if idx := strings.LastIndex(remotePath, "."); idx >= 0 {
		ext = remotePath[idx+1:]
	}
	vaultPath, err := b.saveAttachment(data, photo.FileUniqueID+"."+ext)
	if err != nil {
		b.reply(m, "Could not save the photo.")
		return
	}

	caption := m.Caption
	if caption == "" {
		caption = "Photo with no caption"
	}
	textForLLM := fmt.Sprintf("%s\n\n[Attached image: %s]", caption, vaultPath)
	b.classifyAndSave(m, textForLLM, fmt.Sprintf("\n\n![[%s]]", vaultPath), nil)
}

func (b *Bot) handleDocument(m *tgbotapi.Message) {
	doc := m.Document
	data, _, err := b.downloadFile(doc.FileID)
	if err != nil {
		log.Printf("bot: document download failed: %v", err)
		b.reply(m, "Could not download the document.")
		return
	}
	name := doc.FileName
	if name == "" {
		name = doc.FileUniqueID
	}
	vaultPath, err := b.saveAttachment(data, name)
	if err != nil {
		b.reply(m, "Could not save the document.")
		return
	}

	caption := m.Caption
	if caption == "" {
		caption = "Document: " + name
	}
	textForLLM := fmt.Sprintf("%s\n\n[Attached file: %s]", caption, vaultPath)
	b.classifyAndSave(m, textForLLM, fmt.Sprintf("\n\n![[%s]]", vaultPath), nil)
}

func (b *Bot) handleVoice(m *tgbotapi.Message) {
	voice := m.Voice
	data, _, err := b.downloadFile(voice.FileID)
	if err != nil {
		log.Printf("bot: voice download failed: %v", err)
		b.reply(m, "Could not download the voice message.")
		return
	}
	vaultPath, err := b.saveAttachment(data, voice.FileUniqueID+".ogg")
	if err != nil {
		b.reply(m, "Could not save the voice message.")
		return
	}

	textForLLM := "Voice message (audio attached, no transcription yet)"
	b.classifyAndSave(m, textForLLM, fmt.Sprintf("\n\n![[%s]]", vaultPath), []string{"voice"})
}

func (b *Bot) saveAttachment(data []byte, name string) (string, error) {
	vaultPath, err := b.writer.SaveAttachment(data, name)
	if err != nil {
		log.Printf("bot: save attachment failed: %v", err)
		return "", err
	}
	b.engine.MarkDirty(vaultPath)
	return vaultPath, nil
}

func (b *Bot) classifyAndSave(m *tgbotapi.Message, textForLLM, extraContent string, extraTags []string) {
	ctx, cancel := context.WithTimeout(context.Background(), 90*time.Second)
	defer cancel()

	note, err := b.classifier.Classify(ctx, textForLLM, b.structure)
	if err != nil {
		log.Printf("bot: classification failed: %v", err)
		b.reply(m, "Failed to classify the message. Saved to inbox.")
		note = classify.Fallback(textForLLM)
	}
	if note.Folder != "inbox" && !b.structure.HasFolder(note.Folder) {
		// The model invented a folder: keep the note reachable.
		note.Folder = "inbox"
	}

	content := note.Content + extraContent
	tags := mergeTags(note.Tags, extraTags)

	relPath, err := b.writer.WriteNote(note.Folder, note.Filename, note.Title, content, tags)
	if err != nil {
		log.Printf("bot: write note failed: %v", err)
		b.reply(m, "Failed to write the note to the vault.")
		return
	}
	b.engine.MarkDirty(relPath)

	tagText := make([]string, len(tags))
	for i, t := range tags {
		tagText[i] = "#" + t
	}
	b.reply(m, fmt.Sprintf("Saved to %s with tags: %s", relPath, strings.Join(tagText, " ")))
}

func mergeTags(tags, extra []string) []string {
	seen := make(map[string]struct{}, len(tags)+len(extra))
	out := make([]string, 0, len(tags)+len(extra))
	for _, t := range append(append([]string{}, tags...), extra...) {
		if t == "" {
			continue
		}
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}

// forwardSource names where a forwarded message came from, best effort.
func forwardSource(m *tgbotapi.Message) string {
	switch {
	case m.ForwardFrom != nil:
		if m.ForwardFrom.UserName != "" {
			return "@" + m.ForwardFrom.UserName
		}
		return strings.TrimSpace(m.ForwardFrom.FirstName + " " + m.ForwardFrom.LastName)
	case m.ForwardFromChat != nil:
		return "channel: " + m.ForwardFromChat.Title
	case m.ForwardSenderName != "":
		return m.ForwardSenderName
	default:
		return ""
	}
}

func (b *Bot) formatState() string {
	state := b.engine.GetSyncState()
	var sb strings.Builder
	fmt.Fprintf(&sb, "Last push: %s\n", formatTime(state.LastPushTime))
	fmt.Fprintf(&sb, "Last pull: %s\n", formatTime(state.LastPullTime))
	fmt.Fprintf(&sb, "Ahead of remote: %d, behind: %d", state.LocalAhead, state.RemoteAhead)
	if state.LastError != "" {
		fmt.Fprintf(&sb, "\nLast error: %s", state.LastError)
	}
	if session, ok := b.engine.CurrentSession(); ok {
		fmt.Fprintf(&sb, "\nOpen conflict: %d path(s), expires %s",
			len(session.Files), session.ExpiresAt.Local().Format("15:04"))
	}
	return sb.String()
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return t.Local().Format("2006-01-02 15:04:05")
}
