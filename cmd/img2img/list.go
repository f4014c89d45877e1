package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"img2img-lab/internal/assets"
	"img2img-lab/internal/presets"
)

var presetsFile string

var presetsCmd = &cobra.Command{
	Use:   "presets [name]",
	Short: "List presets, or show one resolved preset",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if presetsFile == "" {
			presetsFile = os.Getenv("PRESETS_FILE")
		}
		cat, err := presets.Load(presetsFile)
		if err != nil {
			return err
		}

		if len(args) == 1 {
			r := cat.Resolve(args[0])
			fmt.Printf("prompt:   %s\nstyle:    %s\nstrength: %.2f\nguidance: %.1f\n", r.Prompt, r.Style, r.Strength, r.Guidance)
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tSTYLE\tSTRENGTH\tGUIDANCE")
		for _, name := range cat.Names() {
			r := cat.Resolve(name)
			fmt.Fprintf(w, "%s\t%s\t%.2f\t%.1f\n", name, r.Style, r.Strength, r.Guidance)
		}
		return w.Flush()
	},
}

var assetsDir string

var assetsCmd = &cobra.Command{
	Use:   "assets",
	Short: "List reusable input images",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if assetsDir == "" {
			assetsDir = os.Getenv("ASSETS_DIR")
		}
		if assetsDir == "" {
			assetsDir = ".gradio/flagged/Input Image"
		}
		for _, name := range assets.New(assets.Options{Dir: assetsDir}).List() {
			fmt.Println(name)
		}
		return nil
	},
}

func init() {
	presetsCmd.Flags().StringVar(&presetsFile, "file", "", "preset registry YAML (default built in or $PRESETS_FILE)")
	assetsCmd.Flags().StringVar(&assetsDir, "dir", "", "asset directory (default $ASSETS_DIR)")
}
