// Package opcode defines the bytecode instruction set TeenyJVM executes.
//
// TeenyJVM reuses the real JVM's opcode encoding (the same byte values
// and mnemonics `javac`/`javap` use) but supports only the integer-width
// subset named in the specification: no objects, no floating point, no
// `long`/`double`/`char`/`byte`/`short`-typed instructions. Reusing the
// real encoding means a class file produced by a normal Java compiler is
// byte-for-byte readable by internal/classfile, even though this engine
// can only execute the methods that stay within the supported subset.
//
// Instruction Format:
//
// Every instruction is at least one byte: the opcode itself. Some carry
// immediate operands that follow the opcode byte directly in the
// bytecode stream — there is no separate operand table the way the
// smog bytecode format uses (Op, Operand) pairs; TeenyJVM's operands are
// variable-width and opcode-specific, matching the real class file
// format:
//
//	bipush              1 byte,  signed 8-bit, sign-extended to int32
//	sipush              2 bytes, signed 16-bit big-endian
//	ldc                 1 byte,  constant-pool index
//	iload/istore/...    1 byte,  local variable slot
//	iinc                2 bytes, local slot + signed 8-bit delta
//	if*/goto            2 bytes, signed 16-bit big-endian branch offset,
//	                    relative to the branch opcode's own position
//	invokestatic        2 bytes, constant-pool index, big-endian
//	getstatic           2 bytes, ignored (see the Getstatic doc)
//	newarray            1 byte,  ignored element-type tag
package opcode

// Op is a single bytecode instruction opcode.
type Op byte

// Instruction opcodes, grouped by category. Values match the real JVM
// encoding so a conforming class-file reader needs no translation
// table.
const (
	// === No-op ===

	// Nop does nothing and advances one byte.
	Nop Op = 0x00

	// === Constants ===

	// IconstM1 through Iconst5 push a small integer constant computed as
	// (opcode - Iconst0), sign-extended from int8. They cover -1..5.
	IconstM1 Op = 0x02
	Iconst0  Op = 0x03
	Iconst1  Op = 0x04
	Iconst2  Op = 0x05
	Iconst3  Op = 0x06
	Iconst4  Op = 0x07
	Iconst5  Op = 0x08

	// Bipush pushes its 1-byte signed immediate, sign-extended to int32.
	Bipush Op = 0x10

	// Sipush pushes its 2-byte big-endian signed immediate, sign-extended
	// to int32.
	Sipush Op = 0x11

	// Ldc pushes the Integer constant-pool entry at its 1-byte index.
	Ldc Op = 0x12

	// === Loads ===

	// Iload pushes locals[idx] where idx is the 1-byte operand.
	Iload Op = 0x15
	// Iload0 through Iload3 push locals[opcode-Iload0].
	Iload0 Op = 0x1a
	Iload1 Op = 0x1b
	Iload2 Op = 0x1c
	Iload3 Op = 0x1d

	// Aload/Aload0..3 are bitwise identical to the Iload family; the
	// distinction exists only so disassembly reads as reference loads.
	Aload  Op = 0x19
	Aload0 Op = 0x2a
	Aload1 Op = 0x2b
	Aload2 Op = 0x2c
	Aload3 Op = 0x2d

	// Iaload pops an index and a reference, pushes heap[ref][index].
	Iaload Op = 0x2e

	// === Stores ===

	// Istore pops a value and stores it to locals[idx].
	Istore Op = 0x36
	// Istore0 through Istore3 pop a value into locals[opcode-Istore0].
	Istore0 Op = 0x3b
	Istore1 Op = 0x3c
	Istore2 Op = 0x3d
	Istore3 Op = 0x3e

	// Astore/Astore0..3 are bitwise identical to the Istore family.
	Astore  Op = 0x3a
	Astore0 Op = 0x4b
	Astore1 Op = 0x4c
	Astore2 Op = 0x4d
	Astore3 Op = 0x4e

	// Iastore pops a value, an index, and a reference; stores the value
	// at heap[ref][index].
	Iastore Op = 0x4f

	// === Stack ===

	// Dup duplicates the top stack slot.
	Dup Op = 0x59

	// === Arithmetic and logic (32-bit signed, wraps on overflow) ===

	Iadd Op = 0x60
	Isub Op = 0x64
	Imul Op = 0x68
	// Idiv faults if the divisor is 0.
	Idiv Op = 0x6c
	// Irem faults if the divisor is 0; the result is truncated remainder.
	Irem Op = 0x70
	Ineg Op = 0x74
	// Ishl/Ishr/Iushr fault on a negative shift count. Iushr shifts the
	// unsigned bit pattern and must not sign-extend.
	Ishl Op = 0x78
	Ishr Op = 0x7a
	Iushr Op = 0x7c
	Iand  Op = 0x7e
	Ior   Op = 0x80
	Ixor  Op = 0x82

	// Iinc adds its signed 8-bit immediate to locals[idx] in place,
	// without touching the operand stack. Operands: local slot, delta.
	Iinc Op = 0x84

	// === Branches ===
	//
	// if* and If_icmp* read a 2-byte signed big-endian offset relative
	// to the branch instruction's own pc. if* compares the popped value
	// against 0; If_icmp* pops two values and compares the deeper
	// (pushed-first) operand against the shallower (pushed-last, top)
	// one.

	Ifeq Op = 0x99
	Ifne Op = 0x9a
	Iflt Op = 0x9b
	Ifge Op = 0x9c
	Ifgt Op = 0x9d
	Ifle Op = 0x9e

	IfIcmpeq Op = 0x9f
	IfIcmpne Op = 0xa0
	IfIcmplt Op = 0xa1
	IfIcmpge Op = 0xa2
	IfIcmpgt Op = 0xa3
	IfIcmple Op = 0xa4

	// Goto unconditionally adds its 2-byte signed branch offset to pc.
	Goto Op = 0xa7

	// === Returns ===

	// Ireturn/Areturn pop a value and return it (int or reference,
	// identically encoded). Return pops nothing and returns void.
	Ireturn Op = 0xac
	Areturn Op = 0xb0
	Return  Op = 0xb1

	// === Method invocation and the single modeled "library call" ===

	// Getstatic's 2-byte operand is ignored; it only models the
	// `System.out` field lookup that precedes a println call, and has no
	// stack effect of its own.
	Getstatic Op = 0xb2

	// Invokevirtual pops one operand and prints it as a decimal integer
	// followed by a newline. Its 2-byte operand is ignored. This models
	// PrintStream.println(int) and is the only "virtual call" TeenyJVM
	// understands.
	Invokevirtual Op = 0xb6

	// Invokestatic reads a 2-byte big-endian constant-pool index,
	// resolves it to a method, and recursively executes it — see
	// internal/engine for the full calling convention.
	Invokestatic Op = 0xb8

	// === Arrays ===

	// Newarray pops a length, allocates a zero-filled int32 array of
	// that length on the heap, and pushes its reference. The 1-byte
	// element-type tag operand is ignored; TeenyJVM only ever allocates
	// int32 arrays.
	Newarray Op = 0xbc

	// Arraylength pops a reference and pushes the length of its array.
	Arraylength Op = 0xbe
)

// String returns the canonical JVM mnemonic for op, or "unknown" if op
// is not one of the opcodes TeenyJVM recognizes.
func (op Op) String() string {
	if s, ok := mnemonics[op]; ok {
		return s
	}
	return "unknown"
}

var mnemonics = map[Op]string{
	Nop:           "nop",
	IconstM1:      "iconst_m1",
	Iconst0:       "iconst_0",
	Iconst1:       "iconst_1",
	Iconst2:       "iconst_2",
	Iconst3:       "iconst_3",
	Iconst4:       "iconst_4",
	Iconst5:       "iconst_5",
	Bipush:        "bipush",
	Sipush:        "sipush",
	Ldc:           "ldc",
	Iload:         "iload",
	Iload0:        "iload_0",
	Iload1:        "iload_1",
	Iload2:        "iload_2",
	Iload3:        "iload_3",
	Aload:         "aload",
	Aload0:        "aload_0",
	Aload1:        "aload_1",
	Aload2:        "aload_2",
	Aload3:        "aload_3",
	Iaload:        "iaload",
	Istore:        "istore",
	Istore0:       "istore_0",
	Istore1:       "istore_1",
	Istore2:       "istore_2",
	Istore3:       "istore_3",
	Astore:        "astore",
	Astore0:       "astore_0",
	Astore1:       "astore_1",
	Astore2:       "astore_2",
	Astore3:       "astore_3",
	Iastore:       "iastore",
	Dup:           "dup",
	Iadd:          "iadd",
	Isub:          "isub",
	Imul:          "imul",
	Idiv:          "idiv",
	Irem:          "irem",
	Ineg:          "ineg",
	Ishl:          "ishl",
	Ishr:          "ishr",
	Iushr:         "iushr",
	Iand:          "iand",
	Ior:           "ior",
	Ixor:          "ixor",
	Iinc:          "iinc",
	Ifeq:          "ifeq",
	Ifne:          "ifne",
	Iflt:          "iflt",
	Ifge:          "ifge",
	Ifgt:          "ifgt",
	Ifle:          "ifle",
	IfIcmpeq:      "if_icmpeq",
	IfIcmpne:      "if_icmpne",
	IfIcmplt:      "if_icmplt",
	IfIcmpge:      "if_icmpge",
	IfIcmpgt:      "if_icmpgt",
	IfIcmple:      "if_icmple",
	Goto:          "goto",
	Ireturn:       "ireturn",
	Areturn:       "areturn",
	Return:        "return",
	Getstatic:     "getstatic",
	Invokevirtual: "invokevirtual",
	Invokestatic:  "invokestatic",
	Newarray:      "newarray",
	Arraylength:   "arraylength",
}

// Len returns the total instruction length in bytes (opcode byte plus
// immediate operand bytes) for op, as used to advance pc past
// instructions with no other side effect on control flow. Branch and
// call opcodes also use this for their "fall through" advance, even
// though they may instead redirect pc entirely.
func Len(op Op) int {
	switch op {
	case Bipush, Ldc, Iload, Istore, Aload, Astore, Newarray:
		return 2
	case Sipush, Iinc,
		Ifeq, Ifne, Iflt, Ifge, Ifgt, Ifle,
		IfIcmpeq, IfIcmpne, IfIcmplt, IfIcmpge, IfIcmpgt, IfIcmple,
		Goto, Getstatic, Invokevirtual, Invokestatic:
		return 3
	default:
		return 1
	}
}
