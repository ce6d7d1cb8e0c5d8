// Package classify turns raw captured text into a vault note (folder,
// filename, tags, title, cleaned content) using an OpenAI-compatible chat
// endpoint.
package classify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"vaultbot/internal/vault"
)

// Note is the classifier's strict JSON contract.
type Note struct {
	Folder   string   `json:"folder"`
	Filename string   `json:"filename"`
	Tags     []string `json:"tags"`
	Title    string   `json:"title"`
	Content  string   `json:"content"`
}

// NewClient builds an OpenAI-compatible client. baseURL may point at any
// compatible gateway (OpenRouter by default).
func NewClient(apiKey, baseURL string) *openai.Client {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return openai.NewClientWithConfig(cfg)
}

type Classifier struct {
	client *openai.Client
	model  string
}

func New(client *openai.Client, model string) *Classifier {
	return &Classifier{client: client, model: model}
}

// Classify asks the model to place text into the vault taxonomy. The
// response must be a single JSON object; anything else is an error and the
// caller falls back to the inbox.
func (c *Classifier) Classify(ctx context.Context, text string, structure *vault.Structure) (*Note, error) {
	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       c.model,
		Temperature: 0.1,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: BuildPrompt(text, structure)},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("chat completion returned no choices")
	}
	return ParseResponse(resp.Choices[0].Message.Content)
}

// BuildPrompt renders the classification prompt from the vault structure.
func BuildPrompt(text string, structure *vault.Structure) string {
	return fmt.Sprintf(`You are a note classifier for an Obsidian vault.

FOLDERS (with descriptions):
%s

AVAILABLE TAGS:
%s

Given the user's message below, respond with ONLY valid JSON:
{
  "folder": "exact/folder/path from the list above",
  "filename": "short-kebab-case-name",
  "tags": ["tag1", "tag2"],
  "title": "Human readable title",
  "content": "cleaned up / formatted version of the message in markdown"
}

Rules:
- If the message doesn't fit any folder, use "inbox"
- filename must be filesystem-safe, kebab-case, max 60 chars
- Pick 1-4 tags that are most relevant
- content: preserve the original meaning, fix formatting, add markdown structure if appropriate
- If the message is a forwarded post or article, add a "source" line at the top of content
- Respond ONLY with the JSON object, no other text

USER MESSAGE:
%s`, structure.Outline(), strings.Join(structure.Tags, ", "), text)
}

// ParseResponse decodes the model output, tolerating a markdown code fence
// around the JSON object.
func ParseResponse(raw string) (*Note, error) {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "```") {
		if idx := strings.Index(raw, "\n"); idx >= 0 {
			raw = raw[idx+1:]
		} else {
			raw = raw[3:]
		}
		raw = strings.TrimSuffix(strings.TrimSpace(raw), "```")
		raw = strings.TrimSpace(raw)
	}

	var note Note
	if err := json.Unmarshal([]byte(raw), &note); err != nil {
		return nil, fmt.Errorf("invalid classifier JSON: %w", err)
	}
	for field, value := range map[string]string{
		"folder":   note.Folder,
		"filename": note.Filename,
		"title":    note.Title,
		"content":  note.Content,
	} {
		if strings.TrimSpace(value) == "" {
			return nil, fmt.Errorf("classifier response missing required field %q", field)
		}
	}
	return &note, nil
}

// Fallback is used when classification fails: the raw text lands in the
// inbox so nothing is ever dropped.
func Fallback(text string) *Note {
	return &Note{
		Folder:   "inbox",
		Filename: "unclassified-note",
		Tags:     []string{"quick_note"},
		Title:    "Unclassified Note",
		Content:  text,
	}
}
