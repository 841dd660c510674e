package cmd

import (
	"log"

	"github.com/doombunnyxo/steward/steward"
	"github.com/spf13/cobra"
)

var (
	runCmd = &cobra.Command{
		Use:   "run [flags]",
		Short: "Starts the Steward bot and (optionally) the status API",
		Run: func(cmd *cobra.Command, _ []string) {
			ctx := cmd.Context()
			st, err := steward.New(cfg)
			if err != nil {
				log.Fatalf("error creating steward: %s", err.Error())
			}

			if err = st.Run(ctx); err != nil {
				log.Fatalf("error running steward: %s", err.Error())
			}
		},
	}
)

//goland:noinspection GoLinter
func init() {
	rootCmd.AddCommand(runCmd)
}
