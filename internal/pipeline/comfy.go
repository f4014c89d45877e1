package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"log/slog"
	"net/http"
	"os"
	"sync"

	"github.com/disintegration/imaging"
	"github.com/google/uuid"
	"github.com/richinsley/comfy2go/client"
	"github.com/richinsley/comfy2go/graphapi"
)

// Node titles the workflow file must carry.
const (
	titleLoadImage = "Load Image"
	titleResize    = "Upscale Image"
	titlePositive  = "Positive Prompt"
	titleNegative  = "Negative Prompt"
	titleSampler   = "KSampler"
)

type sampler struct {
	name      string
	scheduler string
}

var samplers = map[string]sampler{
	SchedulerDDIM:   {name: "ddim", scheduler: "ddim_uniform"},
	SchedulerEulerA: {name: "euler_ancestral", scheduler: "normal"},
	SchedulerPNDM:   {name: "euler", scheduler: "normal"},
}

// samplerFor maps a user-facing scheduler to ComfyUI sampler settings.
// Unknown names fall back to DDIM.
func samplerFor(name string) sampler {
	if s, ok := samplers[name]; ok {
		return s
	}
	return samplers[SchedulerDDIM]
}

type ComfyOptions struct {
	Host       string
	Port       int
	Workflow   string
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Comfy drives a ComfyUI server with an img2img workflow.
type Comfy struct {
	host     string
	port     int
	workflow []byte
	client   *client.ComfyClient
	logger   *slog.Logger

	mu sync.Mutex
}

func NewComfy(opts ComfyOptions) (*Comfy, error) {
	workflow, err := os.ReadFile(opts.Workflow)
	if err != nil {
		return nil, fmt.Errorf("read workflow: %w", err)
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	c := client.NewComfyClient(opts.Host, opts.Port, nil)
	if opts.HTTPClient != nil {
		c.SetHttpClient(opts.HTTPClient)
	}

	return &Comfy{
		host:     opts.Host,
		port:     opts.Port,
		workflow: workflow,
		client:   c,
		logger:   logger,
	}, nil
}

func (c *Comfy) Name() string {
	return "comfy"
}

func (c *Comfy) Generate(ctx context.Context, p Params) (image.Image, error) {
	if p.Image == nil {
		return nil, errors.New("comfy: source image is required")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.client.IsInitialized() {
		if err := c.client.Init(); err != nil {
			return nil, fmt.Errorf("comfy: connect %s:%d: %w", c.host, c.port, err)
		}
	}

	graph, _, err := c.client.NewGraphFromJsonReader(bytes.NewReader(c.workflow))
	if err != nil {
		return nil, fmt.Errorf("comfy: load workflow: %w", err)
	}

	if err := c.upload(graph, p.Image); err != nil {
		return nil, err
	}
	if err := c.configure(graph, p); err != nil {
		return nil, err
	}

	item, err := c.client.QueuePrompt(graph)
	if err != nil {
		return nil, fmt.Errorf("comfy: queue prompt: %w", err)
	}
	c.logger.Debug("comfy prompt queued", "prompt_id", item.PromptID)

	return c.collect(ctx, item)
}

func (c *Comfy) upload(graph *graphapi.Graph, img image.Image) error {
	node := graph.GetFirstNodeWithTitle(titleLoadImage)
	if node == nil {
		return fmt.Errorf("comfy: workflow has no %q node", titleLoadImage)
	}
	prop := node.GetPropertyWithName("choose file to upload")
	if prop == nil {
		prop = node.GetPropertyWithName("image")
	}
	if prop == nil {
		return errors.New("comfy: load image node has no upload property")
	}
	uploadProp, ok := prop.ToImageUploadProperty()
	if !ok {
		return errors.New("comfy: load image property is not an upload")
	}

	name := uuid.NewString() + ".png"
	if _, err := c.client.UploadImage(img, name, false, client.InputImageType, "", uploadProp); err != nil {
		return fmt.Errorf("comfy: upload source: %w", err)
	}
	return nil
}

type setting struct {
	title string
	prop  string
	value any
}

func settingsFor(p Params) []setting {
	negative := p.NegativePrompt
	if negative == "" {
		negative = DefaultNegativePrompt
	}
	s := samplerFor(p.Scheduler)

	out := []setting{
		{titlePositive, "text", p.Prompt},
		{titleNegative, "text", negative},
		{titleSampler, "seed", p.Seed},
		{titleSampler, "steps", p.Steps},
		{titleSampler, "cfg", p.GuidanceScale},
		{titleSampler, "sampler_name", s.name},
		{titleSampler, "scheduler", s.scheduler},
		{titleSampler, "denoise", p.Strength},
	}
	if p.Width > 0 && p.Height > 0 {
		out = append(out,
			setting{titleResize, "width", p.Width},
			setting{titleResize, "height", p.Height},
		)
	}
	return out
}

func (c *Comfy) configure(graph *graphapi.Graph, p Params) error {
	for _, v := range settingsFor(p) {
		node := graph.GetFirstNodeWithTitle(v.title)
		if node == nil {
			return fmt.Errorf("comfy: workflow has no %q node", v.title)
		}
		prop := node.GetPropertyWithName(v.prop)
		if prop == nil {
			return fmt.Errorf("comfy: node %q has no %q input", v.title, v.prop)
		}
		if err := prop.SetValue(v.value); err != nil {
			return fmt.Errorf("comfy: set %s.%s: %w", v.title, v.prop, err)
		}
	}
	return nil
}

func (c *Comfy) collect(ctx context.Context, item *client.QueueItem) (image.Image, error) {
	var result image.Image
	for {
		select {
		case <-ctx.Done():
			if err := c.client.Interrupt(); err != nil {
				c.logger.Warn("comfy interrupt failed", "error", err)
			}
			return nil, ctx.Err()
		case msg := <-item.Messages:
			switch msg.Type {
			case "data":
				data := msg.ToPromptMessageData()
				for _, output := range data.Data["images"] {
					if result != nil {
						continue
					}
					img, err := c.fetch(output)
					if err != nil {
						return nil, err
					}
					result = img
				}
			case "stopped":
				stopped := msg.ToPromptMessageStopped()
				if stopped.Exception != nil {
					return nil, fmt.Errorf("comfy: %s: %s", stopped.Exception.NodeType, stopped.Exception.ExceptionMessage)
				}
				if result == nil {
					return nil, ErrNoImage
				}
				return result, nil
			}
		}
	}
}

func (c *Comfy) fetch(output client.DataOutput) (image.Image, error) {
	raw, err := c.client.GetImage(output)
	if err != nil {
		return nil, fmt.Errorf("comfy: fetch %s: %w", output.Filename, err)
	}
	if raw == nil {
		return nil, ErrNoImage
	}
	img, err := imaging.Decode(bytes.NewReader(*raw))
	if err != nil {
		return nil, fmt.Errorf("comfy: decode %s: %w", output.Filename, err)
	}
	return img, nil
}
