package main

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"modelgate/internal/app"
	"modelgate/internal/core"
	"modelgate/internal/usage"
)

var completeCmd = &cobra.Command{
	Use:   "complete [prompt...]",
	Short: "Send one prompt to the configured backend",
	Long: `Send a single user turn, optionally with an image, and print the reply,
its token usage and its cost. With --echo the request is rendered without
being sent.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runComplete,
}

func init() {
	completeCmd.Flags().StringP("system", "s", "", "system prompt")
	completeCmd.Flags().StringP("image", "i", "", "path to a PNG, JPEG, GIF or WebP image to attach")
	completeCmd.Flags().Bool("echo", false, "print the backend request instead of sending it")
	completeCmd.Flags().Bool("json", false, "print the canonical response as JSON")
}

func runComplete(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger := newLogger(cfg)

	handler, err := app.BuildHandler(cfg, logger, nil)
	if err != nil {
		return err
	}

	content := core.Blocks{}
	if path, _ := cmd.Flags().GetString("image"); path != "" {
		img, err := readImage(path)
		if err != nil {
			return err
		}
		content = append(content, img)
	}
	content = append(content, core.TextBlock{Text: strings.Join(args, " ")})

	out := cmd.OutOrStdout()

	if echo, _ := cmd.Flags().GetBool("echo"); echo {
		return printJSON(out, handler.CreateUserReadableRequest(content))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx = core.WithRequestID(ctx, uuid.NewString())

	system, _ := cmd.Flags().GetString("system")
	resp, err := handler.CreateMessage(ctx, system, []core.Message{{Role: core.RoleUser, Content: content}}, nil)
	if err != nil {
		return err
	}

	_, model := handler.GetModel()
	cost := usage.CalculateCost(model, resp.Usage)

	if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
		return printJSON(out, struct {
			*core.Response
			Cost usage.CostResult `json:"cost"`
		}{resp, cost})
	}
	printResponse(out, resp, cost)
	return nil
}

// readImage loads an image file as an ImageBlock. The media type is sniffed
// from the content, not the extension.
func readImage(path string) (core.ImageBlock, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return core.ImageBlock{}, fmt.Errorf("failed to read image: %w", err)
	}
	mediaType := http.DetectContentType(data)
	switch mediaType {
	case "image/png", "image/jpeg", "image/gif", "image/webp":
	default:
		return core.ImageBlock{}, fmt.Errorf("unsupported image type %s for %s", mediaType, path)
	}
	return core.ImageBlock{MediaType: mediaType, Data: base64.StdEncoding.EncodeToString(data)}, nil
}

func printResponse(w io.Writer, resp *core.Response, cost usage.CostResult) {
	for _, block := range resp.Content {
		switch b := block.(type) {
		case core.TextBlock:
			fmt.Fprintln(w, b.Text)
		case core.ToolUseBlock:
			color.New(color.FgYellow).Fprintln(w, core.ToolUseText(b))
		}
	}
	fmt.Fprintln(w)

	dim := color.New(color.FgHiBlack)
	dim.Fprintf(w, "  %-15s: %s\n", "Model", resp.Model)
	dim.Fprintf(w, "  %-15s: %s\n", "Stop reason", resp.StopReason)
	dim.Fprintf(w, "  %-15s: %d in / %d out\n", "Tokens", resp.Usage.InputTokens, resp.Usage.OutputTokens)
	if resp.Usage.CacheCreationInputTokens > 0 || resp.Usage.CacheReadInputTokens > 0 {
		dim.Fprintf(w, "  %-15s: %d written / %d read\n", "Cache",
			resp.Usage.CacheCreationInputTokens, resp.Usage.CacheReadInputTokens)
	}
	color.New(color.FgGreen).Fprintf(w, "  %-15s: $%.6f\n", "Cost", cost.TotalCost)
	if cost.Caveat != "" {
		color.New(color.FgYellow).Fprintf(w, "  %-15s: %s\n", "Note", cost.Caveat)
	}
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
