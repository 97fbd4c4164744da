package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/pario-ai/dispatch/pkg/cost"
	"github.com/pario-ai/dispatch/pkg/models"
	"github.com/pario-ai/dispatch/pkg/provider"
)

func newAskCmd(opts *rootOptions) *cobra.Command {
	var (
		f         routeFlags
		system    string
		noStream  bool
		maxTokens int
	)
	cmd := &cobra.Command{
		Use:   "ask <prompt>",
		Short: "Route a prompt, send it to the chosen model and record the spend",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			prompt, err := promptArg(args)
			if err != nil {
				return err
			}
			a, err := openApp(cmd.Context(), opts, false)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx := cmd.Context()
			res, err := a.router.Route(ctx, f.context(prompt))
			if err != nil {
				return err
			}
			p, ok := a.router.Provider(res.ProviderID)
			if !ok {
				return fmt.Errorf("provider %s is not registered", res.ProviderID)
			}
			mutedColor.Fprintf(os.Stderr, "-> %s:%s (rule %s)\n", res.ProviderID, res.ModelName, res.RuleID())

			var msgs []models.ChatMessage
			if system != "" {
				msgs = append(msgs, models.ChatMessage{Role: "system", Content: system})
			}
			msgs = append(msgs, models.ChatMessage{Role: "user", Content: prompt})

			var out *provider.Completion
			if useCompletion(res, noStream) {
				out, err = p.ChatComplete(ctx, res.ModelName, msgs, provider.CompleteOptions{MaxTokens: maxTokens})
				if err != nil {
					return err
				}
				fmt.Println(out.Text)
			} else {
				events, err := p.ChatStream(ctx, res.ModelName, msgs)
				if err != nil {
					return err
				}
				out = &provider.Completion{}
				for ev := range events {
					switch ev.Type {
					case provider.EventText:
						fmt.Print(ev.Text)
						out.Text += ev.Text
					case provider.EventDone:
						out.Usage = ev.Usage
					case provider.EventError:
						fmt.Println()
						return ev.Err
					}
				}
				fmt.Println()
			}

			usage := models.Usage{}
			if out.Usage != nil {
				usage = *out.Usage
			} else {
				usage.InputTokens = cost.EstimateTokens(prompt)
				usage.OutputTokens = cost.EstimateTokens(out.Text)
			}
			tx, err := a.router.RecordUsage(ctx, res, usage, "")
			if err != nil {
				a.logger.Warn("record usage", zap.Error(err))
				return nil
			}
			mutedColor.Fprintf(os.Stderr, "spent $%.6f (%d in / %d out tokens)\n", tx.Cost, tx.InputTokens, tx.OutputTokens)
			if b := a.router.Profile().Budget; b != nil {
				printWarnings(a.ledger.Warnings(ctx, b))
			}
			return nil
		},
	}
	f.register(cmd)
	cmd.Flags().StringVar(&system, "system", "", "system message")
	cmd.Flags().BoolVar(&noStream, "no-stream", false, "wait for the full response instead of streaming")
	cmd.Flags().IntVar(&maxTokens, "max-tokens", 0, "maximum tokens to generate (non-streaming only)")
	return cmd
}

// useCompletion reports whether ask should wait for a whole response.
// Routes that target the completion call never stream.
func useCompletion(res *models.RoutingResult, noStream bool) bool {
	return noStream || res.Call == models.CallCompletion
}
