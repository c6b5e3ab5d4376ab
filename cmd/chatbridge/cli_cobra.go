package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func executeCLI() error {
	return buildRootCommand().Execute()
}

func buildRootCommand() *cobra.Command {
	var showVersion bool

	root := &cobra.Command{
		Use:   "chatbridge",
		Short: "Chat-platform assistant with tools, document memory, and voice",
		Long: strings.TrimSpace(`chatbridge connects Telegram and Discord to a tool-using language model.

It answers questions with web search, math, and image generation, transcribes
voice notes, and keeps a per-conversation document database built from files
and links users send.`),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if showVersion {
				printVersion()
				return nil
			}
			_ = cmd.Help()
			return fmt.Errorf("a subcommand is required")
		},
	}
	root.CompletionOptions.DisableDefaultCmd = true
	root.Flags().BoolVarP(&showVersion, "version", "v", false, "Show build/version metadata")

	root.AddCommand(newServeCommand())
	root.AddCommand(newChatCommand())
	root.AddCommand(newConfigCommand())
	root.AddCommand(newVersionCommand())

	return root
}

func newServeCommand() *cobra.Command {
	var debug bool

	cmd := &cobra.Command{
		Use:     "serve",
		Short:   "Run the bot against the configured chat platforms",
		Long:    "Start channel adapters, the message orchestrator, and maintenance jobs.",
		Example: "  chatbridge serve --debug",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serveCmd(debug)
		},
	}
	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging")
	return cmd
}

func newChatCommand() *cobra.Command {
	var debug bool

	cmd := &cobra.Command{
		Use:     "chat",
		Short:   "Chat with the assistant locally (no platform tokens needed)",
		Example: "  chatbridge chat",
		RunE: func(cmd *cobra.Command, args []string) error {
			return chatCmd(debug)
		},
	}
	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging")
	return cmd
}

func newConfigCommand() *cobra.Command {
	configRoot := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration",
	}

	configRoot.AddCommand(&cobra.Command{
		Use:     "init",
		Short:   "Write a default config file",
		Example: "  chatbridge config init",
		RunE: func(cmd *cobra.Command, args []string) error {
			return configInitCmd()
		},
	})

	configRoot.AddCommand(&cobra.Command{
		Use:     "show",
		Short:   "Show the resolved configuration with secrets masked",
		Example: "  chatbridge config show",
		RunE: func(cmd *cobra.Command, args []string) error {
			return configShowCmd()
		},
	})

	return configRoot
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "version",
		Short:   "Show build/version metadata",
		Example: "  chatbridge version",
		RunE: func(cmd *cobra.Command, args []string) error {
			printVersion()
			return nil
		},
	}
}
