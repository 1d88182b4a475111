package main

import (
	"context"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/AlexanderBrevig/literate-lsp/internal/child"
	"github.com/AlexanderBrevig/literate-lsp/internal/config"
	"github.com/AlexanderBrevig/literate-lsp/internal/document"
	"github.com/AlexanderBrevig/literate-lsp/internal/proxy"
	"github.com/AlexanderBrevig/literate-lsp/internal/router"
)

// runServe is rootCmd's default action: serve the editor-facing proxy over
// stdio until the connection closes or a shutdown signal arrives, mirroring
// the teacher's run()'s signal-select/bounded-wait shape (now delegated to
// proxy.Session.Run, which owns the same isCleanShutdown/Close/stdin-close
// sequence).
func runServe(cmd *cobra.Command, args []string) error {
	logger, cleanup, err := setupLogger(logLevel, logFile)
	if err != nil {
		return configError(err)
	}
	defer cleanup()

	logger.Info("starting literate-lsp", slog.String("version", version), slog.String("config", configPath))

	table, err := config.Load(configPath)
	if err != nil {
		return configError(err)
	}
	resolver := config.NewResolver(table)

	stopWatch, err := config.Watch(resolver, configPath, logger)
	if err != nil {
		logger.Warn("config hot-reload disabled", slog.String("error", err.Error()))
	} else {
		defer stopWatch()
	}

	store := document.NewStore(extensionFor(resolver))
	children := child.NewManager(resolver, logger)
	r := router.New(store, children, resolver, logger)
	session := proxy.NewSession(logger, r, children, resolver)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := session.Run(ctx); err != nil {
		return err
	}

	logger.Info("literate-lsp shutdown complete")
	return nil
}

// extensionFor resolves a language tag's configured file extension for the
// Document Store's virtual-document naming (spec.md §4.3), falling back to
// document.DefaultExtension's conventional extension when the config table
// leaves file_extension unset or has no entry for the language.
func extensionFor(resolver *config.Resolver) func(language string) string {
	return func(language string) string {
		entry, err := resolver.Resolve(language)
		if err != nil || entry.FileExtension == "" {
			return document.DefaultExtension(language)
		}
		return entry.FileExtension
	}
}
