package handlers

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"img2img-lab/internal/session"
)

const settingsCallbackPrefix = "st"

// Menu pages and the settings field each one edits.
const (
	menuMain       = "main"
	menuPreset     = "preset"
	menuStyle      = "style"
	menuResolution = "resolution"
	menuSamples    = "samples"
	menuScheduler  = "scheduler"
)

func (h *Handler) openSettingsMenu(chatID int64, from *tgbotapi.User, username string) error {
	var ownerID int64
	if from != nil {
		ownerID = from.ID
	}
	s := h.sessions.Settings(sessionKey(chatID), username)
	_, err := h.tg.SendTextWithKeyboard(chatID, formatSettings(s), h.settingsKeyboard(ownerID, menuMain, s))
	return err
}

func (h *Handler) handleCallback(_ context.Context, q *tgbotapi.CallbackQuery) error {
	if q == nil || q.Message == nil || q.From == nil {
		return nil
	}
	parts := strings.Split(strings.TrimSpace(q.Data), ":")
	if len(parts) < 3 || parts[0] != settingsCallbackPrefix {
		return nil
	}

	ownerID, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return nil
	}
	if ownerID != q.From.ID {
		_ = h.tg.AnswerCallback(q.ID, "This menu belongs to someone else.", true)
		return nil
	}

	chatID := q.Message.Chat.ID
	msgID := q.Message.MessageID
	id := sessionKey(chatID)
	action, args := parts[2], parts[3:]

	page := menuMain
	switch action {
	case "menu":
		if len(args) == 1 {
			page = args[0]
		}
	case "set":
		if len(args) != 2 {
			break
		}
		idx, err := strconv.Atoi(args[1])
		if err != nil {
			break
		}
		h.sessions.UpdateSettings(id, q.From.UserName, func(s *session.Settings) {
			h.applyChoice(s, args[0], idx)
		})
	case "close":
		_ = h.tg.AnswerCallback(q.ID, "Closed", false)
		s := h.sessions.Settings(id, q.From.UserName)
		return h.tg.EditTextWithKeyboard(chatID, msgID, formatSettings(s), closedKeyboard)
	}

	_ = h.tg.AnswerCallback(q.ID, "OK", false)
	s := h.sessions.Settings(id, q.From.UserName)
	return h.tg.EditTextWithKeyboard(chatID, msgID, formatSettings(s), h.settingsKeyboard(ownerID, page, s))
}

// closedKeyboard removes the buttons; Telegram rejects a null keyboard.
var closedKeyboard = tgbotapi.InlineKeyboardMarkup{InlineKeyboard: [][]tgbotapi.InlineKeyboardButton{}}

// applyChoice sets field to the idx-th option of its list. Out-of-range
// indexes are ignored.
func (h *Handler) applyChoice(s *session.Settings, field string, idx int) {
	options := h.choices(field)
	if idx < 0 || idx >= len(options) {
		return
	}
	value := options[idx]

	switch field {
	case menuPreset:
		r := h.presets.Resolve(value)
		s.Preset = value
		if r.Prompt != "" {
			s.Prompt = r.Prompt
		}
		s.Style = r.Style
		s.Strength = r.Strength
		s.Guidance = r.Guidance
	case menuStyle:
		s.Style = value
	case menuResolution:
		s.Resolution = value
	case menuSamples:
		s.Samples = idx + 1
	case menuScheduler:
		s.Scheduler = value
	}
}

func (h *Handler) choices(field string) []string {
	switch field {
	case menuPreset:
		return h.presets.Names()
	case menuStyle:
		return h.presets.Styles()
	case menuResolution:
		return h.presets.Resolutions()
	case menuSamples:
		counts := h.presets.SampleCounts()
		out := make([]string, len(counts))
		for i, n := range counts {
			out[i] = strconv.Itoa(n)
		}
		return out
	case menuScheduler:
		return h.presets.Schedulers()
	}
	return nil
}

func current(s session.Settings, field string) string {
	switch field {
	case menuPreset:
		return s.Preset
	case menuStyle:
		return s.Style
	case menuResolution:
		return s.Resolution
	case menuSamples:
		return strconv.Itoa(s.Samples)
	case menuScheduler:
		return s.Scheduler
	}
	return ""
}

func (h *Handler) settingsKeyboard(ownerID int64, page string, s session.Settings) tgbotapi.InlineKeyboardMarkup {
	if page == menuMain || h.choices(page) == nil {
		return mainKeyboard(ownerID, s)
	}

	perRow := 2
	if page == menuSamples {
		perRow = 3
	}

	var rows [][]tgbotapi.InlineKeyboardButton
	var row []tgbotapi.InlineKeyboardButton
	selected := current(s, page)
	for i, opt := range h.choices(page) {
		label := opt
		if opt == selected {
			label = "✅ " + label
		}
		row = append(row, tgbotapi.NewInlineKeyboardButtonData(label, cb(ownerID, "set", page, strconv.Itoa(i))))
		if len(row) == perRow {
			rows = append(rows, row)
			row = nil
		}
	}
	if len(row) > 0 {
		rows = append(rows, row)
	}
	rows = append(rows, []tgbotapi.InlineKeyboardButton{
		tgbotapi.NewInlineKeyboardButtonData("⬅ Back", cb(ownerID, "menu", menuMain)),
	})
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

func mainKeyboard(ownerID int64, s session.Settings) tgbotapi.InlineKeyboardMarkup {
	button := func(label, page string) tgbotapi.InlineKeyboardButton {
		return tgbotapi.NewInlineKeyboardButtonData(label, cb(ownerID, "menu", page))
	}
	return tgbotapi.NewInlineKeyboardMarkup(
		[]tgbotapi.InlineKeyboardButton{
			button("Preset: "+truncateLine(s.Preset, 16), menuPreset),
			button("Style: "+s.Style, menuStyle),
		},
		[]tgbotapi.InlineKeyboardButton{
			button("Size: "+s.Resolution, menuResolution),
			button(fmt.Sprintf("Samples: %d", s.Samples), menuSamples),
		},
		[]tgbotapi.InlineKeyboardButton{
			button("Scheduler: "+s.Scheduler, menuScheduler),
			tgbotapi.NewInlineKeyboardButtonData("Close", cb(ownerID, "close")),
		},
	)
}

func cb(ownerID int64, parts ...string) string {
	return fmt.Sprintf("%s:%d:%s", settingsCallbackPrefix, ownerID, strings.Join(parts, ":"))
}
