package main

import (
	"context"
	"errors"
	"fmt"
	"image"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/disintegration/imaging"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"img2img-lab/internal/app"
	"img2img-lab/internal/config"
	"img2img-lab/internal/history"
	"img2img-lab/internal/presets"
	"img2img-lab/internal/studio"
)

type generateFlags struct {
	image      string
	asset      string
	preset     string
	prompt     string
	negative   string
	style      string
	resolution string
	samples    int
	strength   float64
	guidance   float64
	scheduler  string
	steps      int
	seed       int64
}

var genFlags generateFlags

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate an image from a source image and a prompt",
	Long: `Run one generation request and save the result as output_YYYYmmdd_HHMMSS.png
in the output directory. With --samples above 1 the samples are tiled into a grid.

A --preset fills prompt, style, strength and guidance unless those flags are
given explicitly.`,
	Args: cobra.NoArgs,
	RunE: runGenerate,
}

func init() {
	bindGenerateFlags(generateCmd, &genFlags)
}

func bindGenerateFlags(cmd *cobra.Command, g *generateFlags) {
	f := cmd.Flags()
	f.StringVarP(&g.image, "image", "i", "", "source image path")
	f.StringVar(&g.asset, "asset", "", "source image from the asset directory")
	f.StringVar(&g.preset, "preset", presets.NonePreset, "preset name")
	f.StringVarP(&g.prompt, "prompt", "p", "", "prompt text")
	f.StringVar(&g.negative, "negative", "", "negative prompt (default built in)")
	f.StringVar(&g.style, "style", presets.NoneStyle, "style name")
	f.StringVar(&g.resolution, "resolution", presets.SameAsInput, `output size, "WxH" or "Same as Input"`)
	f.IntVarP(&g.samples, "samples", "n", 1, "number of samples (1-9)")
	f.Float64Var(&g.strength, "strength", presets.DefaultStrength, "deviation from the source (0-1)")
	f.Float64Var(&g.guidance, "guidance", presets.DefaultGuidance, "prompt adherence (1-20)")
	f.StringVar(&g.scheduler, "scheduler", "DDIM", "scheduler name")
	f.IntVar(&g.steps, "steps", presets.DefaultSteps, "sampling steps (1-100)")
	f.Int64Var(&g.seed, "seed", 0, "seed (0 picks one)")
}

func runGenerate(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := app.NewLoggerTo(os.Stderr, cfg)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, cfg.RequestTimeout)
	defer cancel()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return err
	}

	src, err := loadSource(a, genFlags)
	if err != nil {
		return err
	}

	req, err := buildRequest(cmd, a.Presets, genFlags)
	if err != nil {
		return err
	}
	req.Image = src

	bar := progressbar.Default(int64(max(1, min(req.Samples, presets.MaxSamples))), "generating")
	req.Progress = func(line string) {
		var i, n int
		if _, err := fmt.Sscanf(line, "Generating %d/%d...", &i, &n); err == nil {
			_ = bar.Set(i - 1)
		}
	}

	res := a.Studio.Generate(ctx, history.New(), req)
	_ = bar.Finish()
	fmt.Fprintln(os.Stderr, res.Log())

	if !res.OK() {
		if res.Err != nil {
			return res.Err
		}
		return errors.New(strings.Join(res.Logs, "; "))
	}

	name, err := a.Exporter.SaveTimestamped(ctx, res.Image, "output")
	if err != nil {
		return err
	}
	path, err := a.Exporter.Path(name)
	if err != nil {
		return err
	}
	fmt.Println(path)
	return nil
}

func loadSource(a *app.App, f generateFlags) (image.Image, error) {
	switch {
	case f.image != "":
		img, err := imaging.Open(f.image, imaging.AutoOrientation(true))
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", f.image, err)
		}
		return img, nil
	case f.asset != "":
		img := a.Assets.Load(f.asset)
		if img == nil {
			return nil, fmt.Errorf("asset %q not found in %s", f.asset, a.Assets.Dir())
		}
		return img, nil
	default:
		return nil, errors.New("one of --image or --asset is required")
	}
}

// buildRequest layers explicit flags over the selected preset.
func buildRequest(cmd *cobra.Command, cat *presets.Catalog, f generateFlags) (studio.Request, error) {
	flags := cmd.Flags()

	req := studio.Request{
		Prompt:         f.prompt,
		NegativePrompt: f.negative,
		Style:          f.style,
		Resolution:     f.resolution,
		Samples:        f.samples,
		Strength:       f.strength,
		Guidance:       f.guidance,
		Scheduler:      f.scheduler,
		Steps:          f.steps,
		Seed:           f.seed,
	}

	if flags.Changed("preset") {
		name, ok := cat.MatchPreset(f.preset)
		if !ok {
			return studio.Request{}, fmt.Errorf("unknown preset %q (see img2img presets)", f.preset)
		}
		r := cat.Resolve(name)
		if !flags.Changed("prompt") {
			req.Prompt = r.Prompt
		}
		if !flags.Changed("style") {
			req.Style = r.Style
		}
		if !flags.Changed("strength") {
			req.Strength = r.Strength
		}
		if !flags.Changed("guidance") {
			req.Guidance = r.Guidance
		}
	}

	style, ok := cat.MatchStyle(req.Style)
	if !ok {
		return studio.Request{}, fmt.Errorf("unknown style %q", req.Style)
	}
	req.Style = style

	scheduler, ok := cat.MatchScheduler(req.Scheduler)
	if !ok {
		return studio.Request{}, fmt.Errorf("unknown scheduler %q", req.Scheduler)
	}
	req.Scheduler = scheduler

	return req, nil
}
