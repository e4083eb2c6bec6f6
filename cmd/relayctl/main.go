// relayctl inspects and drives a chat relay from the command line.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

func main() {
	_ = godotenv.Load()

	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "relayctl",
		Short:         "Inspect and drive a chat relay",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newHistoryCommand())
	root.AddCommand(newSendCommand())
	return root
}
