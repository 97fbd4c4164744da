package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/pario-ai/dispatch/pkg/router"
)

func newModelsCmd(opts *rootOptions) *cobra.Command {
	var (
		capability string
		available  bool
		asJSON     bool
	)
	cmd := &cobra.Command{
		Use:   "models",
		Short: "List the models of the active profile",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context(), opts, false)
			if err != nil {
				return err
			}
			defer a.Close()

			var list []router.ModelInfo
			switch {
			case available:
				list = a.router.AvailableModels(cmd.Context())
			case capability != "":
				list = a.router.ModelsWithCapability(capability)
			default:
				list = a.router.ListModels()
			}
			if asJSON {
				return printJSON(list)
			}
			if len(list) == 0 {
				fmt.Println("No models found.")
				return nil
			}

			w := newTable()
			fmt.Fprintln(w, "MODEL\tKIND\tLOCAL\tIN $/MTOK\tOUT $/MTOK\tCAPABILITIES")
			for _, m := range list {
				in, out := "-", "-"
				if m.Pricing != nil {
					in = fmt.Sprintf("%.2f", m.Pricing.InputPerMTok)
					out = fmt.Sprintf("%.2f", m.Pricing.OutputPerMTok)
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
					m.Target(), m.Kind, yesNo(m.Local), in, out, strings.Join(m.Capabilities, ","))
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVar(&capability, "capability", "", "only models with this capability tag")
	cmd.Flags().BoolVar(&available, "available", false, "only models whose provider responds")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON instead of text")
	return cmd
}
