package handlers

import (
	"errors"
	"fmt"
	"image"
	"strconv"
	"strings"

	"img2img-lab/internal/session"
	"img2img-lab/internal/studio"
)

var errBadArgument = errors.New("bad argument")

func parseCount(arg string, lo, hi int) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(arg))
	if err != nil || n < lo || n > hi {
		return 0, errBadArgument
	}
	return n, nil
}

// parseNumber accepts a decimal comma as well as a point.
func parseNumber(arg string, lo, hi float64) (float64, error) {
	arg = strings.ReplaceAll(strings.TrimSpace(arg), ",", ".")
	v, err := strconv.ParseFloat(arg, 64)
	if err != nil || v < lo || v > hi {
		return 0, errBadArgument
	}
	return v, nil
}

// normalizeResolution returns the registered spelling of a known choice, or a
// canonical "WxH" for a custom size.
func normalizeResolution(arg string, known []string) (string, error) {
	arg = strings.TrimSpace(arg)
	for _, k := range known {
		if strings.EqualFold(k, arg) {
			return k, nil
		}
	}
	w, h, err := studio.ParseResolution(arg, image.Rectangle{})
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%dx%d", w, h), nil
}

func formatSettings(s session.Settings) string {
	prompt := s.Prompt
	if strings.TrimSpace(prompt) == "" {
		prompt = "(not set)"
	}
	return fmt.Sprintf(
		"Preset: %s\nPrompt: %s\nStyle: %s\nResolution: %s\nSamples: %d\nStrength: %.2f\nGuidance: %.1f\nScheduler: %s\nSteps: %d",
		s.Preset, truncateLine(prompt, 200), s.Style, s.Resolution, s.Samples, s.Strength, s.Guidance, s.Scheduler, s.Steps,
	)
}

func truncateLine(s string, max int) string {
	s = strings.TrimSpace(s)
	runes := []rune(s)
	if max <= 0 || len(runes) <= max {
		return s
	}
	return strings.TrimSpace(string(runes[:max])) + "…"
}
