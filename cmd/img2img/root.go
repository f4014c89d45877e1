package main

import (
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "img2img",
	Short: "Image-to-image generation from the command line",
	Long: `Transform an image with a text prompt through the configured pipeline
backend (ComfyUI or Gemini). Configuration comes from the environment or a .env
file, the same as the web server and the bot.`,
	SilenceUsage: true,
	PersistentPreRun: func(*cobra.Command, []string) {
		_ = godotenv.Load()
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.AddCommand(generateCmd)
	rootCmd.AddCommand(presetsCmd)
	rootCmd.AddCommand(assetsCmd)
}
