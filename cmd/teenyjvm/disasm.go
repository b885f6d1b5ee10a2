package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/kristofer/teenyjvm/internal/classfile"
	"github.com/kristofer/teenyjvm/internal/opcode"
)

func newDisasmCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "disasm <class-file>",
		Short: "Print every method's bytecode in mnemonic form",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return disasmClassFile(args[0], cmd.OutOrStdout())
		},
	}
}

func disasmClassFile(path string, out io.Writer) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("teenyjvm: %w", err)
	}
	defer f.Close()

	class, err := classfile.Parse(f)
	if err != nil {
		return fmt.Errorf("teenyjvm: %w", err)
	}

	for _, m := range class.Methods {
		fmt.Fprintf(out, "%s%s:\n", m.Name, m.Descriptor)
		disasmCode(out, m.Code)
	}
	return nil
}

// disasmCode decodes code instruction by instruction, printing each
// opcode's mnemonic and its decoded operand, if any. The operand widths
// and meanings mirror internal/opcode's documentation exactly.
func disasmCode(out io.Writer, code []byte) {
	for pc := 0; pc < len(code); {
		op := opcode.Op(code[pc])
		n := opcode.Len(op)
		if pc+n > len(code) {
			fmt.Fprintf(out, "  %4d %s <truncated>\n", pc, op)
			return
		}

		switch n {
		case 1:
			fmt.Fprintf(out, "  %4d %s\n", pc, op)
		case 2:
			if op == opcode.Bipush {
				fmt.Fprintf(out, "  %4d %s %d\n", pc, op, int8(code[pc+1]))
			} else {
				fmt.Fprintf(out, "  %4d %s %d\n", pc, op, code[pc+1])
			}
		case 3:
			if op == opcode.Iinc {
				fmt.Fprintf(out, "  %4d %s %d %d\n", pc, op, code[pc+1], int8(code[pc+2]))
			} else {
				operand := int16(uint16(code[pc+1])<<8 | uint16(code[pc+2]))
				fmt.Fprintf(out, "  %4d %s %d\n", pc, op, operand)
			}
		}
		pc += n
	}
}
