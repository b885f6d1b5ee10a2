// Command teenyjvm loads a single JVM .class file and either executes
// its entry method or disassembles its bytecode.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "teenyjvm",
		Short:         "A minimal interpreter for a statically-verified, integer-only JVM bytecode subset",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newRunCmd())
	root.AddCommand(newDisasmCmd())
	return root
}
