package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/AlexanderBrevig/literate-lsp/internal/config"
)

var languagesCmd = &cobra.Command{
	Use:           "languages",
	Short:         "List the language tags configured in the config file",
	RunE:          runLanguages,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func runLanguages(cmd *cobra.Command, args []string) error {
	table, err := config.Load(configPath)
	if err != nil {
		return configError(err)
	}

	langs := config.NewResolver(table).Languages()
	sort.Strings(langs)
	for _, lang := range langs {
		fmt.Fprintln(cmd.OutOrStdout(), lang)
	}
	return nil
}
