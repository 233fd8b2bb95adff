package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"
)

const (
	colorRed    = 0xFF0000
	colorGreen  = 0x00FF00
	colorOrange = 0xFFA500

	// maxFieldValue is Discord's limit for an embed field value.
	maxFieldValue = 1024
	footerText    = "s3-backup"
)

type embedField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline"`
}

type embedFooter struct {
	Text string `json:"text"`
}

type embed struct {
	Title       string       `json:"title"`
	Description string       `json:"description"`
	Color       int          `json:"color"`
	Timestamp   string       `json:"timestamp"`
	Fields      []embedField `json:"fields"`
	Footer      embedFooter  `json:"footer"`
}

type webhookPayload struct {
	Embeds []embed `json:"embeds"`
}

// DiscordNotifier posts embeds to a Discord webhook. Every notification is
// also logged, so a failed delivery loses nothing.
type DiscordNotifier struct {
	webhookURL string
	client     *http.Client
	logger     *slog.Logger
	now        func() time.Time
}

func NewDiscordNotifier(webhookURL string, logger *slog.Logger) *DiscordNotifier {
	return &DiscordNotifier{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: 10 * time.Second},
		logger:     logger,
		now:        time.Now,
	}
}

func (d *DiscordNotifier) NotifyFailure(ctx context.Context, f Failure) {
	d.logger.Error("Backup failed", "database", f.Database, "engine", f.Engine, "filename", f.Filename, "error", f.Error)

	fields := []embedField{
		{Name: "🗄️ Database", Value: f.Database, Inline: true},
		{Name: "⚙️ Engine", Value: string(f.Engine), Inline: true},
		{Name: "❌ Error", Value: truncate(f.Error, maxFieldValue)},
	}
	if f.Filename != "" {
		fields = append(fields, embedField{Name: "📁 Filename", Value: f.Filename})
	}

	d.deliver(ctx, embed{
		Title:       "⚠️ Backup Failed",
		Description: fmt.Sprintf("Failed to complete backup for **%s**", f.Database),
		Color:       colorRed,
		Fields:      fields,
	})
}

func (d *DiscordNotifier) NotifySuccess(ctx context.Context, s Success) {
	d.logger.Info("Backup completed", "databases", strings.Join(s.Databases, ", "), "engine", s.Engine, "count", s.Count)

	d.deliver(ctx, embed{
		Title:       "✅ Backup Completed",
		Description: fmt.Sprintf("Successfully completed %d backup(s)", s.Count),
		Color:       colorGreen,
		Fields: []embedField{
			{Name: "🗄️ Databases", Value: truncate(strings.Join(s.Databases, ", "), maxFieldValue)},
			{Name: "⚙️ Engine", Value: string(s.Engine), Inline: true},
			{Name: "📦 Count", Value: strconv.Itoa(s.Count), Inline: true},
		},
	})
}

func (d *DiscordNotifier) NotifyWarning(ctx context.Context, w Warning) {
	d.logger.Warn("Backup warning", "database", w.Database, "message", w.Message)

	fields := []embedField{}
	if w.Database != "" {
		fields = append(fields, embedField{Name: "🗄️ Database", Value: w.Database, Inline: true})
	}

	d.deliver(ctx, embed{
		Title:       "⚠️ Backup Warning",
		Description: w.Message,
		Color:       colorOrange,
		Fields:      fields,
	})
}

// deliver sends the embed and logs, rather than returns, any failure.
func (d *DiscordNotifier) deliver(ctx context.Context, e embed) {
	if err := d.send(ctx, e); err != nil {
		d.logger.Warn("Failed to send Discord notification", "title", e.Title, "error", err)
	}
}

func (d *DiscordNotifier) send(ctx context.Context, e embed) error {
	e.Timestamp = d.now().UTC().Format(time.RFC3339)
	e.Footer = embedFooter{Text: footerText}

	body, err := json.Marshal(webhookPayload{Embeds: []embed{e}})
	if err != nil {
		return &DeliveryError{Channel: "discord", Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.webhookURL, bytes.NewReader(body))
	if err != nil {
		return &DeliveryError{Channel: "discord", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return &DeliveryError{Channel: "discord", Err: err}
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &DeliveryError{Channel: "discord", StatusCode: resp.StatusCode}
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	// Cut on a rune boundary.
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
