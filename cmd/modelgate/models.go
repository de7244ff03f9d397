package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"modelgate/internal/modeldata"
	"modelgate/internal/providers"
)

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "List the models known for the configured backend",
	RunE:  runModels,
}

func runModels(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	backend := cfg.API.Provider
	if backend == "" {
		backend = providers.DefaultProvider
	}
	registry, ok := modeldata.For(backend)
	if !ok {
		return fmt.Errorf("unknown provider %q", backend)
	}

	out := cmd.OutOrStdout()
	color.New(color.FgBlue).Fprintf(out, "Models for %s:\n", backend)

	for _, id := range registry.IDs() {
		model, err := registry.Lookup(id)
		if err != nil {
			return err
		}
		marker := " "
		if id == registry.DefaultModelID() {
			marker = "*"
		}
		fmt.Fprintf(out, "%s %-45s max_tokens=%-6d images=%-5t cache=%-5t $%.2f/$%.2f per Mtok\n",
			marker, id, model.MaxTokens, model.SupportsImages, model.SupportsPromptCache,
			model.InputPrice, model.OutputPrice)
	}
	return nil
}
