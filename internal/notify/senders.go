package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// discordMaxContent is the webhook's message length limit in characters.
const discordMaxContent = 2000

var webhookClient = &http.Client{Timeout: 10 * time.Second}

// postJSON posts v and treats any non-2xx reply as an error carrying the
// status and the start of the body.
func postJSON(ctx context.Context, client *http.Client, url string, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("post: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	return nil
}

// TelegramSender posts alerts to one chat through the Bot API.
type TelegramSender struct {
	apiBase string
	token   string
	chatID  string
}

// NewTelegramSender creates a sender for a bot token and chat id.
func NewTelegramSender(token, chatID string) *TelegramSender {
	return &TelegramSender{apiBase: "https://api.telegram.org", token: token, chatID: chatID}
}

// WithAPIBase points the sender at another Bot API host.
func (t *TelegramSender) WithAPIBase(base string) *TelegramSender {
	t.apiBase = strings.TrimRight(base, "/")
	return t
}

type telegramMessage struct {
	ChatID    string `json:"chat_id"`
	Text      string `json:"text"`
	ParseMode string `json:"parse_mode"`
}

// Send delivers the alert with the title in bold.
func (t *TelegramSender) Send(ctx context.Context, title, message string) error {
	msg := telegramMessage{
		ChatID:    t.chatID,
		Text:      "*" + title + "*\n" + message,
		ParseMode: "Markdown",
	}
	if err := postJSON(ctx, webhookClient, t.apiBase+"/bot"+t.token+"/sendMessage", msg); err != nil {
		return fmt.Errorf("telegram: %w", err)
	}
	return nil
}

// Name returns "telegram".
func (t *TelegramSender) Name() string { return "telegram" }

// DiscordSender posts alerts to a Discord webhook.
type DiscordSender struct {
	webhookURL string
}

// NewDiscordSender creates a sender for a webhook URL.
func NewDiscordSender(webhookURL string) *DiscordSender {
	return &DiscordSender{webhookURL: webhookURL}
}

type discordMessage struct {
	Content  string `json:"content"`
	Username string `json:"username"`
}

// Send delivers the alert with the title in bold, cut to the webhook limit.
func (d *DiscordSender) Send(ctx context.Context, title, message string) error {
	content := []rune("**" + title + "**\n" + message)
	if len(content) > discordMaxContent {
		content = content[:discordMaxContent]
	}
	msg := discordMessage{Content: string(content), Username: "polyarb"}
	if err := postJSON(ctx, webhookClient, d.webhookURL, msg); err != nil {
		return fmt.Errorf("discord: %w", err)
	}
	return nil
}

// Name returns "discord".
func (d *DiscordSender) Name() string { return "discord" }

var (
	_ Sender = (*DiscordSender)(nil)
	_ Sender = (*TelegramSender)(nil)
)
