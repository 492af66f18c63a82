package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	sig "github.com/Miosa-osa/OSA-sub005/internal/signal"
)

// classifyCmd scores a message without touching any provider or session,
// for debugging the signal rules.
func classifyCmd() *cobra.Command {
	var channel string

	cmd := &cobra.Command{
		Use:   "classify [message]",
		Short: "Classify a message and print its signal as JSON",
		Args:  cobra.MinimumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			s := sig.NewClassifier().Classify(strings.Join(args, " "), channel)
			out, err := json.MarshalIndent(s, "", "  ")
			if err != nil {
				fmt.Fprintln(os.Stderr, "encode signal:", err)
				os.Exit(1)
			}
			fmt.Println(string(out))
		},
	}
	cmd.Flags().StringVar(&channel, "channel", "cli", "channel tag used for classification")
	return cmd
}
