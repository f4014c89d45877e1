package handlers

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"golang.org/x/sync/errgroup"

	"img2img-lab/internal/export"
	"img2img-lab/internal/mediagroup"
	"img2img-lab/internal/presets"
	"img2img-lab/internal/session"
	"img2img-lab/internal/studio"
	"img2img-lab/internal/telegram"
)

// Messenger is the part of the Telegram client the bot talks through.
type Messenger interface {
	SendText(chatID int64, text string) error
	SendChatAction(chatID int64, action string)
	SendPhotoPNG(chatID int64, img image.Image, caption string) error
	SendDocument(chatID int64, path, caption string) error
	SendTextWithKeyboard(chatID int64, text string, kb tgbotapi.InlineKeyboardMarkup) (int, error)
	EditTextWithKeyboard(chatID int64, messageID int, text string, kb tgbotapi.InlineKeyboardMarkup) error
	AnswerCallback(callbackID, text string, alert bool) error
	DownloadImage(ctx context.Context, fileID string) (image.Image, error)
}

type Options struct {
	Telegram Messenger
	Studio   *studio.Orchestrator
	Presets  *presets.Catalog
	Sessions *session.Store
	Exporter *export.Exporter
	Logger   *slog.Logger
}

type Handler struct {
	tg         Messenger
	studio     *studio.Orchestrator
	presets    *presets.Catalog
	sessions   *session.Store
	exporter   *export.Exporter
	logger     *slog.Logger
	aggregator *mediagroup.Aggregator
}

func New(opts Options) *Handler {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	cat := opts.Presets
	if cat == nil {
		cat = presets.Default()
	}

	return &Handler{
		tg:       opts.Telegram,
		studio:   opts.Studio,
		presets:  cat,
		sessions: opts.Sessions,
		exporter: opts.Exporter,
		logger:   logger,
	}
}

// DefaultSettings is the starting configuration of every chat.
func DefaultSettings(cat *presets.Catalog) session.Settings {
	d := cat.Defaults()
	return session.Settings{
		Preset:     presets.NonePreset,
		Style:      d.Style,
		Resolution: presets.SameAsInput,
		Samples:    1,
		Strength:   d.Strength,
		Guidance:   d.Guidance,
		Scheduler:  cat.Schedulers()[0],
		Steps:      presets.DefaultSteps,
	}
}

func (h *Handler) SetMediaGroupAggregator(ag *mediagroup.Aggregator) {
	h.aggregator = ag
}

func (h *Handler) HandleUpdate(ctx context.Context, update telegram.Update) error {
	if update.CallbackQuery != nil {
		return h.handleCallback(ctx, update.CallbackQuery)
	}
	if update.Message == nil {
		return nil
	}

	msg := update.Message
	chatID := msg.Chat.ID
	username := ""
	if msg.From != nil {
		username = msg.From.UserName
	}

	if msg.IsCommand() {
		return h.handleCommand(ctx, chatID, username, msg)
	}
	if len(msg.Photo) > 0 {
		return h.handlePhoto(ctx, chatID, username, msg)
	}
	if msg.Text != "" {
		return h.handleText(chatID, username, msg.Text)
	}
	return nil
}

// HandleMediaGroup runs one generation per photo of an album, all with the
// album caption as prompt.
func (h *Handler) HandleMediaGroup(ctx context.Context, batch mediagroup.Batch) {
	h.tg.SendChatAction(batch.ChatID, telegram.ActionUploadPhoto)

	images := make([]image.Image, len(batch.FileIDs))
	eg, egCtx := errgroup.WithContext(ctx)
	for i, fileID := range batch.FileIDs {
		eg.Go(func() error {
			img, err := h.tg.DownloadImage(egCtx, fileID)
			if err != nil {
				return err
			}
			images[i] = img
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		h.logger.Error("album download failed", "chat_id", batch.ChatID, "err", err)
		_ = h.tg.SendText(batch.ChatID, "❌ Failed to download the album.")
		return
	}

	for i, img := range images {
		if ctx.Err() != nil {
			return
		}
		_ = h.tg.SendText(batch.ChatID, fmt.Sprintf("📷 Photo %d/%d", i+1, len(images)))
		if err := h.generate(ctx, batch.ChatID, batch.Username, img, batch.Caption); err != nil {
			h.logger.Error("album generation failed", "chat_id", batch.ChatID, "err", err)
			return
		}
	}
}

func (h *Handler) handleCommand(ctx context.Context, chatID int64, username string, msg *tgbotapi.Message) error {
	id := sessionKey(chatID)
	args := strings.TrimSpace(msg.CommandArguments())

	switch msg.Command() {
	case "start", "help":
		return h.tg.SendText(chatID, helpText)
	case "presets":
		return h.tg.SendText(chatID, "Presets:\n• "+strings.Join(h.presets.Names(), "\n• "))
	case "preset":
		name, ok := h.presets.MatchPreset(args)
		if !ok {
			return h.tg.SendText(chatID, "❌ Unknown preset. See /presets.")
		}
		r := h.presets.Resolve(name)
		s := h.sessions.UpdateSettings(id, username, func(s *session.Settings) {
			s.Preset = name
			if r.Prompt != "" {
				s.Prompt = r.Prompt
			}
			s.Style = r.Style
			s.Strength = r.Strength
			s.Guidance = r.Guidance
		})
		return h.tg.SendText(chatID, "✅ Preset loaded.\n\n"+formatSettings(s))
	case "style":
		style, ok := h.presets.MatchStyle(args)
		if !ok {
			return h.tg.SendText(chatID, "❌ Unknown style. Options: "+strings.Join(h.presets.Styles(), ", "))
		}
		h.sessions.UpdateSettings(id, username, func(s *session.Settings) { s.Style = style })
		return h.tg.SendText(chatID, "✅ Style: "+style)
	case "resolution":
		res, err := normalizeResolution(args, h.presets.Resolutions())
		if err != nil {
			return h.tg.SendText(chatID, "❌ Use WxH (e.g. 512x512) or one of: "+strings.Join(h.presets.Resolutions(), ", "))
		}
		h.sessions.UpdateSettings(id, username, func(s *session.Settings) { s.Resolution = res })
		return h.tg.SendText(chatID, "✅ Resolution: "+res)
	case "samples":
		n, err := parseCount(args, 1, presets.MaxSamples)
		if err != nil {
			return h.tg.SendText(chatID, fmt.Sprintf("❌ Samples must be between 1 and %d.", presets.MaxSamples))
		}
		h.sessions.UpdateSettings(id, username, func(s *session.Settings) { s.Samples = n })
		return h.tg.SendText(chatID, fmt.Sprintf("✅ Samples: %d", n))
	case "steps":
		n, err := parseCount(args, 1, 100)
		if err != nil {
			return h.tg.SendText(chatID, "❌ Steps must be between 1 and 100.")
		}
		h.sessions.UpdateSettings(id, username, func(s *session.Settings) { s.Steps = n })
		return h.tg.SendText(chatID, fmt.Sprintf("✅ Steps: %d", n))
	case "strength":
		v, err := parseNumber(args, 0, 1)
		if err != nil {
			return h.tg.SendText(chatID, "❌ Strength must be between 0 and 1.")
		}
		h.sessions.UpdateSettings(id, username, func(s *session.Settings) { s.Strength = v })
		return h.tg.SendText(chatID, fmt.Sprintf("✅ Strength: %.2f", v))
	case "guidance":
		v, err := parseNumber(args, 1, 20)
		if err != nil {
			return h.tg.SendText(chatID, "❌ Guidance must be between 1 and 20.")
		}
		h.sessions.UpdateSettings(id, username, func(s *session.Settings) { s.Guidance = v })
		return h.tg.SendText(chatID, fmt.Sprintf("✅ Guidance: %.1f", v))
	case "scheduler":
		name, ok := h.presets.MatchScheduler(args)
		if !ok {
			return h.tg.SendText(chatID, "❌ Unknown scheduler. Options: "+strings.Join(h.presets.Schedulers(), ", "))
		}
		h.sessions.UpdateSettings(id, username, func(s *session.Settings) { s.Scheduler = name })
		return h.tg.SendText(chatID, "✅ Scheduler: "+name)
	case "settings":
		return h.openSettingsMenu(chatID, msg.From, username)
	case "history":
		hist := h.sessions.History(id)
		latest, ok := hist.Latest()
		if !ok {
			return h.tg.SendText(chatID, "History is empty.")
		}
		return h.tg.SendPhotoPNG(chatID, latest.Image, fmt.Sprintf("Latest of %d: %s", hist.Len(), latest.Prompt))
	case "download":
		return h.download(ctx, chatID)
	case "clear":
		h.sessions.Clear(id)
		return h.tg.SendText(chatID, "✅ History cleared!")
	default:
		return h.tg.SendText(chatID, "❌ Unknown command. Use /help.")
	}
}

func (h *Handler) handleText(chatID int64, username, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	h.sessions.UpdateSettings(sessionKey(chatID), username, func(s *session.Settings) { s.Prompt = text })
	return h.tg.SendText(chatID, "✅ Prompt saved. Send a photo to transform it.")
}

func (h *Handler) handlePhoto(ctx context.Context, chatID int64, username string, msg *tgbotapi.Message) error {
	fileID := msg.Photo[len(msg.Photo)-1].FileID

	if msg.MediaGroupID != "" && h.aggregator != nil {
		h.aggregator.Add(mediagroup.Item{
			ChatID:       chatID,
			Username:     username,
			MediaGroupID: msg.MediaGroupID,
			Caption:      msg.Caption,
			FileID:       fileID,
		})
		return nil
	}

	h.tg.SendChatAction(chatID, telegram.ActionTyping)
	img, err := h.tg.DownloadImage(ctx, fileID)
	if err != nil {
		h.logger.Error("photo download failed", "chat_id", chatID, "err", err)
		return h.tg.SendText(chatID, "❌ Failed to download the photo.")
	}
	return h.generate(ctx, chatID, username, img, msg.Caption)
}

// generate runs one request with the chat's settings. A non-empty caption
// replaces the saved prompt.
func (h *Handler) generate(ctx context.Context, chatID int64, username string, img image.Image, caption string) error {
	id := sessionKey(chatID)
	s := h.sessions.UpdateSettings(id, username, func(s *session.Settings) {
		if c := strings.TrimSpace(caption); c != "" {
			s.Prompt = c
		}
	})

	h.tg.SendChatAction(chatID, telegram.ActionUploadPhoto)
	_ = h.tg.SendText(chatID, fmt.Sprintf("🎨 Generating %d sample(s), please wait...", max(1, s.Samples)))

	hist := h.sessions.History(id)
	res := h.studio.Generate(ctx, hist, requestFromSettings(s, img))

	switch res.Status {
	case studio.StatusOK:
		caption := fmt.Sprintf("✅ %s\nHistory: %d", studio.ComposePrompt(s.Prompt, s.Style), hist.Len())
		return h.tg.SendPhotoPNG(chatID, res.Image, caption)
	case studio.StatusFailed:
		if errors.Is(res.Err, context.Canceled) {
			return res.Err
		}
		h.logger.Error("generation failed", "chat_id", chatID, "err", res.Err)
		return h.tg.SendText(chatID, "❌ "+res.Log())
	default:
		return h.tg.SendText(chatID, "⚠️ "+res.Log())
	}
}

func (h *Handler) download(ctx context.Context, chatID int64) error {
	if h.exporter == nil {
		return h.tg.SendText(chatID, "Downloads are disabled.")
	}
	latest, ok := h.sessions.History(sessionKey(chatID)).Latest()
	if !ok {
		return h.tg.SendText(chatID, "Nothing generated yet.")
	}
	name, err := h.exporter.SaveDownload(ctx, latest.Image)
	if err != nil {
		h.logger.Error("download failed", "chat_id", chatID, "err", err)
		return h.tg.SendText(chatID, "❌ Failed to save the image.")
	}
	path, err := h.exporter.Path(name)
	if err != nil {
		return err
	}
	return h.tg.SendDocument(chatID, path, name)
}

func requestFromSettings(s session.Settings, img image.Image) studio.Request {
	return studio.Request{
		Image:      img,
		Prompt:     s.Prompt,
		Style:      s.Style,
		Resolution: s.Resolution,
		Samples:    s.Samples,
		Strength:   s.Strength,
		Guidance:   s.Guidance,
		Scheduler:  s.Scheduler,
		Steps:      s.Steps,
	}
}

func sessionKey(chatID int64) string {
	return strconv.FormatInt(chatID, 10)
}

const helpText = "🎨 Img2Img Studio\n\n" +
	"Send a photo with a caption to transform it. Plain text sets the prompt for the next photo. " +
	"Albums are transformed photo by photo.\n\n" +
	"Commands:\n" +
	"/presets - list presets\n" +
	"/preset <name> - load a preset\n" +
	"/style <name> - set the style\n" +
	"/resolution <WxH|Same as Input> - output size\n" +
	"/samples <1-9> - images per request\n" +
	"/steps <1-100> - sampling steps\n" +
	"/strength <0-1> - deviation from the source\n" +
	"/guidance <1-20> - prompt adherence\n" +
	"/scheduler <name> - sampler\n" +
	"/settings - settings menu\n" +
	"/history - latest result\n" +
	"/download - latest result as a file\n" +
	"/clear - clear history"
