// Package telegram wraps the Bot API calls the img2img bot needs: text and
// keyboard messages, PNG photo and document uploads, and photo downloads
// decoded straight into images.
package telegram

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/disintegration/imaging"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	_ "golang.org/x/image/webp"
)

const (
	maxMessageBytes = 4096
	maxCaptionBytes = 1024

	defaultPollTimeout = 30 * time.Second
)

// Chat actions shown while the bot is busy.
const (
	ActionTyping      = tgbotapi.ChatTyping
	ActionUploadPhoto = tgbotapi.ChatUploadPhoto
)

type Update = tgbotapi.Update

type Options struct {
	Token      string
	HTTPClient *http.Client
	Logger     *slog.Logger
	Debug      bool
}

type Client struct {
	api    *tgbotapi.BotAPI
	http   *http.Client
	logger *slog.Logger
}

func New(opts Options) (*Client, error) {
	token := strings.TrimSpace(opts.Token)
	switch {
	case token == "":
		return nil, errors.New("telegram token is empty")
	case opts.HTTPClient == nil:
		return nil, errors.New("http client is nil")
	}

	api, err := tgbotapi.NewBotAPIWithClient(token, tgbotapi.APIEndpoint, opts.HTTPClient)
	if err != nil {
		return nil, fmt.Errorf("telegram login: %w", err)
	}
	api.Debug = opts.Debug

	c := &Client{api: api, http: opts.HTTPClient, logger: opts.Logger}
	if c.logger == nil {
		c.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	c.logger.Debug("telegram authorized", "username", api.Self.UserName)
	return c, nil
}

func (c *Client) Username() string {
	return c.api.Self.UserName
}

// Updates starts long polling. A zero timeout uses 30 seconds.
func (c *Client) Updates(timeout time.Duration) tgbotapi.UpdatesChannel {
	if timeout <= 0 {
		timeout = defaultPollTimeout
	}
	cfg := tgbotapi.NewUpdate(0)
	cfg.Timeout = int(timeout / time.Second)
	return c.api.GetUpdatesChan(cfg)
}

func (c *Client) Stop() {
	c.api.StopReceivingUpdates()
}

// SendChatAction is fire and forget; a lost indicator is not worth an error.
func (c *Client) SendChatAction(chatID int64, action string) {
	if _, err := c.api.Request(tgbotapi.NewChatAction(chatID, action)); err != nil {
		c.logger.Debug("chat action failed", "chat_id", chatID, "action", action, "err", err)
	}
}

// SendText sends text, split into as many messages as the size limit requires.
func (c *Client) SendText(chatID int64, text string) error {
	for _, chunk := range chunks(text, maxMessageBytes) {
		if _, err := c.api.Send(tgbotapi.NewMessage(chatID, chunk)); err != nil {
			return err
		}
	}
	return nil
}

func (c *Client) SendTextWithKeyboard(chatID int64, text string, kb tgbotapi.InlineKeyboardMarkup) (int, error) {
	msg := tgbotapi.NewMessage(chatID, clip(text, maxMessageBytes))
	msg.ReplyMarkup = kb
	sent, err := c.api.Send(msg)
	if err != nil {
		return 0, err
	}
	return sent.MessageID, nil
}

func (c *Client) EditTextWithKeyboard(chatID int64, messageID int, text string, kb tgbotapi.InlineKeyboardMarkup) error {
	_, err := c.api.Send(tgbotapi.NewEditMessageTextAndMarkup(chatID, messageID, clip(text, maxMessageBytes), kb))
	return err
}

func (c *Client) AnswerCallback(callbackID, text string, alert bool) error {
	answer := tgbotapi.NewCallback(callbackID, text)
	answer.ShowAlert = alert
	_, err := c.api.Request(answer)
	return err
}

// SendPhotoPNG encodes img as PNG and sends it as a photo.
func (c *Client) SendPhotoPNG(chatID int64, img image.Image, caption string) error {
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.PNG); err != nil {
		return fmt.Errorf("encode png: %w", err)
	}

	photo := tgbotapi.NewPhoto(chatID, tgbotapi.FileBytes{Name: "img2img.png", Bytes: buf.Bytes()})
	photo.Caption = clip(caption, maxCaptionBytes)
	_, err := c.api.Send(photo)
	return err
}

// SendDocument sends a file already on disk, keeping full resolution.
func (c *Client) SendDocument(chatID int64, path, caption string) error {
	doc := tgbotapi.NewDocument(chatID, tgbotapi.FilePath(path))
	doc.Caption = clip(caption, maxCaptionBytes)
	_, err := c.api.Send(doc)
	return err
}

// DownloadImage fetches a Telegram file and decodes it, honoring EXIF orientation.
func (c *Client) DownloadImage(ctx context.Context, fileID string) (image.Image, error) {
	url, err := c.api.GetFileDirectURL(fileID)
	if err != nil {
		return nil, fmt.Errorf("resolve file %s: %w", fileID, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download file %s: %w", fileID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("telegram file download %s: %s", resp.Status, strings.TrimSpace(string(snippet)))
	}

	img, err := imaging.Decode(resp.Body, imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("decode telegram image: %w", err)
	}
	return img, nil
}

// chunks cuts text into pieces of at most limit bytes without splitting a rune.
func chunks(text string, limit int) []string {
	if limit <= 0 || len(text) <= limit {
		return []string{text}
	}
	var out []string
	for len(text) > limit {
		cut := runeBoundary(text, limit)
		out = append(out, text[:cut])
		text = text[cut:]
	}
	if text != "" {
		out = append(out, text)
	}
	return out
}

// clip returns the longest prefix of text within limit bytes.
func clip(text string, limit int) string {
	if limit <= 0 || len(text) <= limit {
		return text
	}
	return text[:runeBoundary(text, limit)]
}

// runeBoundary backs n off until text[:n] ends on a whole rune. It never
// returns 0 for non-empty text so callers always make progress.
func runeBoundary(text string, n int) int {
	cut := n
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	if cut == 0 {
		_, size := utf8.DecodeRuneInString(text)
		return size
	}
	return cut
}
