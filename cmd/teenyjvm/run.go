package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/kristofer/teenyjvm/internal/classfile"
	"github.com/kristofer/teenyjvm/internal/engine"
	"github.com/kristofer/teenyjvm/internal/heap"
)

func newRunCmd() *cobra.Command {
	var entry, descriptor string
	var trace bool

	cmd := &cobra.Command{
		Use:   "run <class-file>",
		Short: "Execute a class file's entry method",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runClassFile(args[0], entry, descriptor, trace, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&entry, "entry", "main", "name of the method to execute")
	cmd.Flags().StringVar(&descriptor, "descriptor", "([Ljava/lang/String;)V", "descriptor of the method to execute")
	cmd.Flags().BoolVar(&trace, "trace", false, "write a per-instruction trace to stderr")

	return cmd
}

func runClassFile(path, entry, descriptor string, trace bool, out io.Writer) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("teenyjvm: %w", err)
	}
	defer f.Close()

	class, err := classfile.Parse(f)
	if err != nil {
		return fmt.Errorf("teenyjvm: %w", err)
	}

	method, ok := class.FindMethod(entry, descriptor)
	if !ok {
		return fmt.Errorf("teenyjvm: no method %s%s in %s", entry, descriptor, path)
	}

	h := heap.New()
	defer h.Close()

	var opts engine.Options
	if trace {
		opts.Trace = os.Stderr
	}

	result, err := engine.Invoke(method, nil, class, h, out, opts)
	if err != nil {
		return fmt.Errorf("teenyjvm: %w", err)
	}
	if result.HasValue {
		fmt.Fprintf(os.Stderr, "teenyjvm: warning: %s%s returned a value, which is discarded\n", entry, descriptor)
	}
	return nil
}
