// Package presets holds the named prompt/style presets and the choice lists
// offered by every front-end. The registry is declarative YAML loaded once at
// startup and never mutated afterwards.
package presets

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	NoneStyle    = "None"
	NonePreset   = "None"
	SameAsInput  = "Same as Input"
	MaxSamples   = 9
	DefaultSteps = 50

	DefaultStrength = 0.75
	DefaultGuidance = 7.5
)

//go:embed default.yaml
var defaultYAML []byte

type Preset struct {
	Name     string   `yaml:"name" json:"name"`
	Prompt   string   `yaml:"prompt" json:"prompt"`
	Style    string   `yaml:"style" json:"style"`
	Strength *float64 `yaml:"strength,omitempty" json:"strength,omitempty"`
	Guidance *float64 `yaml:"guidance,omitempty" json:"guidance,omitempty"`
}

// Resolved is a preset with every optional field filled in.
type Resolved struct {
	Prompt   string  `json:"prompt"`
	Style    string  `json:"style"`
	Strength float64 `json:"strength"`
	Guidance float64 `json:"guidance"`
}

type file struct {
	Defaults struct {
		Strength *float64 `yaml:"strength"`
		Guidance *float64 `yaml:"guidance"`
	} `yaml:"defaults"`
	Styles      []string `yaml:"styles"`
	Resolutions []string `yaml:"resolutions"`
	Schedulers  []string `yaml:"schedulers"`
	Presets     []Preset `yaml:"presets"`
}

type Catalog struct {
	strength    float64
	guidance    float64
	styles      []string
	resolutions []string
	schedulers  []string
	presets     []Preset
	byName      map[string]Preset
}

// Default returns the built-in registry.
func Default() *Catalog {
	c, err := Parse(defaultYAML)
	if err != nil {
		panic(fmt.Sprintf("presets: built-in registry: %v", err))
	}
	return c
}

// Load reads a registry from path, or returns the built-in one when path is empty.
func Load(path string) (*Catalog, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read presets: %w", err)
	}
	c, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse presets %s: %w", path, err)
	}
	return c, nil
}

func Parse(data []byte) (*Catalog, error) {
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, err
	}

	c := &Catalog{
		strength:    DefaultStrength,
		guidance:    DefaultGuidance,
		styles:      uniq(f.Styles),
		resolutions: uniq(f.Resolutions),
		schedulers:  uniq(f.Schedulers),
		byName:      make(map[string]Preset, len(f.Presets)),
	}
	if f.Defaults.Strength != nil {
		c.strength = *f.Defaults.Strength
	}
	if f.Defaults.Guidance != nil {
		c.guidance = *f.Defaults.Guidance
	}
	if !inUnitRange(c.strength) {
		return nil, fmt.Errorf("default strength %.2f outside [0,1]", c.strength)
	}

	if len(c.styles) == 0 || !strings.EqualFold(c.styles[0], NoneStyle) {
		c.styles = append([]string{NoneStyle}, removeFold(c.styles, NoneStyle)...)
	}
	if len(c.resolutions) == 0 {
		c.resolutions = []string{SameAsInput}
	}
	if len(c.schedulers) == 0 {
		return nil, errors.New("at least one scheduler is required")
	}

	for _, p := range f.Presets {
		p.Name = strings.TrimSpace(p.Name)
		if p.Name == "" {
			return nil, errors.New("preset without a name")
		}
		if _, dup := c.byName[p.Name]; dup {
			return nil, fmt.Errorf("duplicate preset %q", p.Name)
		}
		if p.Style == "" {
			p.Style = c.styles[0]
		}
		style, ok := matchFold(c.styles, p.Style)
		if !ok {
			return nil, fmt.Errorf("preset %q uses unknown style %q", p.Name, p.Style)
		}
		p.Style = style
		if p.Strength != nil && !inUnitRange(*p.Strength) {
			return nil, fmt.Errorf("preset %q strength %.2f outside [0,1]", p.Name, *p.Strength)
		}
		c.presets = append(c.presets, p)
		c.byName[p.Name] = p
	}

	return c, nil
}

// Resolve never fails: unknown names silently resolve to the defaults.
func (c *Catalog) Resolve(name string) Resolved {
	out := c.Defaults()
	p, ok := c.byName[strings.TrimSpace(name)]
	if !ok {
		return out
	}
	out.Prompt = p.Prompt
	out.Style = p.Style
	if p.Strength != nil {
		out.Strength = *p.Strength
	}
	if p.Guidance != nil {
		out.Guidance = *p.Guidance
	}
	return out
}

func (c *Catalog) Lookup(name string) (Preset, bool) {
	p, ok := c.byName[strings.TrimSpace(name)]
	return p, ok
}

func (c *Catalog) Defaults() Resolved {
	return Resolved{
		Style:    c.styles[0],
		Strength: c.strength,
		Guidance: c.guidance,
	}
}

// Names lists the presets in registry order, "None" first.
func (c *Catalog) Names() []string {
	out := make([]string, 0, len(c.presets)+1)
	out = append(out, NonePreset)
	for _, p := range c.presets {
		if p.Name == NonePreset {
			continue
		}
		out = append(out, p.Name)
	}
	return out
}

func (c *Catalog) Presets() []Preset {
	return append([]Preset(nil), c.presets...)
}

func (c *Catalog) Styles() []string {
	return append([]string(nil), c.styles...)
}

func (c *Catalog) Resolutions() []string {
	return append([]string(nil), c.resolutions...)
}

func (c *Catalog) Schedulers() []string {
	return append([]string(nil), c.schedulers...)
}

func (c *Catalog) SampleCounts() []int {
	out := make([]int, MaxSamples)
	for i := range out {
		out[i] = i + 1
	}
	return out
}

// MatchStyle returns the registered spelling of style, compared case-insensitively.
func (c *Catalog) MatchStyle(style string) (string, bool) {
	return matchFold(c.styles, style)
}

func (c *Catalog) MatchScheduler(name string) (string, bool) {
	return matchFold(c.schedulers, name)
}

func (c *Catalog) MatchPreset(name string) (string, bool) {
	return matchFold(c.Names(), name)
}

func matchFold(options []string, value string) (string, bool) {
	value = strings.TrimSpace(value)
	for _, o := range options {
		if strings.EqualFold(o, value) {
			return o, true
		}
	}
	return "", false
}

func removeFold(in []string, value string) []string {
	out := make([]string, 0, len(in))
	for _, v := range in {
		if !strings.EqualFold(v, value) {
			out = append(out, v)
		}
	}
	return out
}

func uniq(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, v := range in {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

func inUnitRange(v float64) bool {
	return v >= 0 && v <= 1
}
