package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

var noColor bool

var rootCmd = &cobra.Command{
	Use:     "ragchat",
	Short:   "ragchat — RAG-backed chat server",
	Version: version,
	Long: `ragchat serves a web chat backend that relays conversations to an
OpenRouter-style completion API, augmenting prompts with text retrieved
from per-user knowledge bases of uploaded documents.`,
}

func main() {
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(statusCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
