// Package engine is the bytecode execution engine: the core this whole
// module exists to implement. It decodes and dispatches one method's
// instructions at a time, maintaining that invocation's operand stack
// and local-variable array, and recurses into Execute again for every
// invokestatic it encounters, threading the same heap through every
// frame (spec.md §4, §5).
package engine

import (
	"fmt"
	"io"
	"strings"

	"github.com/kristofer/teenyjvm/internal/classfile"
	"github.com/kristofer/teenyjvm/internal/heap"
	"github.com/kristofer/teenyjvm/internal/opcode"
)

// Result is the tagged "maybe a value" a method invocation produces:
// void (HasValue false), or a 32-bit int or reference (both represented
// identically as an int32, per spec.md §9's design note on preferring a
// sum type over a sentinel).
type Result struct {
	HasValue bool
	Value    int32
}

// Options carries the optional, non-semantic knobs Execute/Invoke take.
// The zero value runs silently, matching the reference implementation.
type Options struct {
	// Trace, if non-nil, receives one line per executed instruction:
	// its method, pc, mnemonic, and the stack depth before the
	// instruction runs. Modeled on the
	// teacher's pkg/vm/debugger.go single-step facility, reduced to
	// non-interactive tracing (see SPEC_FULL.md §6).
	Trace io.Writer
}

// frame is one method invocation's execution state: program counter,
// operand stack, and local variables. It is allocated on entry and
// discarded on every exit path (normal return, value return, or
// fall-off-end) — there is nothing to release explicitly since it
// holds no resources beyond Go slices.
type frame struct {
	method *classfile.Method
	class  *classfile.Class
	heap   *heap.Heap

	locals []int32
	stack  []int32
	sp     int
	pc     int
}

// Fault is a fatal engine error: division/remainder by zero, a
// negative shift count, an unrecognized opcode, or a malformed
// constant-pool/method reference. spec.md §4.7 treats all of these as
// terminal; Fault carries enough context (which opcode, at which pc,
// in which call chain) to print a diagnostic instead of crashing
// silently, mirroring the teacher's vm.RuntimeError stack-trace style
// in spirit.
type Fault struct {
	Message string
	Trace   []TraceEntry
}

// TraceEntry names one frame in the call chain active when a Fault was
// raised, innermost first.
type TraceEntry struct {
	Method string
	PC     int
}

func (f *Fault) Error() string {
	var b strings.Builder
	b.WriteString(f.Message)
	for _, t := range f.Trace {
		fmt.Fprintf(&b, "\n  at %s [pc %d]", t.Method, t.PC)
	}
	return b.String()
}

func fault(m *classfile.Method, pc int, format string, args ...interface{}) error {
	return &Fault{
		Message: fmt.Sprintf(format, args...),
		Trace:   []TraceEntry{{Method: m.Name + m.Descriptor, PC: pc}},
	}
}

// wrap adds the current frame to an inner Fault's trace as it
// propagates out through a recursive invokestatic call, so the
// innermost Execute can stay oblivious to who called it.
func wrap(err error, m *classfile.Method, pc int) error {
	if flt, ok := err.(*Fault); ok {
		flt.Trace = append(flt.Trace, TraceEntry{Method: m.Name + m.Descriptor, PC: pc})
		return flt
	}
	return err
}

// Execute runs method's bytecode to completion: a return instruction,
// or falling off the end of the code (which spec.md §4.2 treats as an
// implicit void return). locals must already be sized to
// method.MaxLocals with parameters placed in the leading slots (see
// Invoke and spec.md §4.4); out is where invokevirtual's println
// output goes.
func Execute(method *classfile.Method, locals []int32, class *classfile.Class, h *heap.Heap, out io.Writer, opts Options) (Result, error) {
	f := &frame{
		method: method,
		class:  class,
		heap:   h,
		locals: locals,
		stack:  make([]int32, method.MaxStack),
	}

	for f.pc < len(method.Code) {
		op := opcode.Op(method.Code[f.pc])
		pcStart := f.pc

		if opts.Trace != nil {
			fmt.Fprintf(opts.Trace, "%s%s pc=%d %s sp=%d\n", method.Name, method.Descriptor, pcStart, op, f.sp)
		}

		switch {
		case op == opcode.Nop:
			f.pc += opcode.Len(op)

		case op == opcode.IconstM1 || (op >= opcode.Iconst0 && op <= opcode.Iconst5):
			f.push(int32(int(op) - int(opcode.Iconst0)))
			f.pc += opcode.Len(op)

		case op == opcode.Bipush:
			f.push(int32(int8(method.Code[f.pc+1])))
			f.pc += opcode.Len(op)

		case op == opcode.Sipush:
			f.push(int32(f.i16(f.pc + 1)))
			f.pc += opcode.Len(op)

		case op == opcode.Ldc:
			v, err := class.ResolveInteger(uint16(method.Code[f.pc+1]))
			if err != nil {
				return Result{}, fault(method, pcStart, "ldc: %v", err)
			}
			f.push(v)
			f.pc += opcode.Len(op)

		case op == opcode.Iload || op == opcode.Aload:
			f.push(f.locals[method.Code[f.pc+1]])
			f.pc += opcode.Len(op)

		case op >= opcode.Iload0 && op <= opcode.Iload3:
			f.push(f.locals[op-opcode.Iload0])
			f.pc += opcode.Len(op)

		case op >= opcode.Aload0 && op <= opcode.Aload3:
			f.push(f.locals[op-opcode.Aload0])
			f.pc += opcode.Len(op)

		case op == opcode.Istore || op == opcode.Astore:
			f.locals[method.Code[f.pc+1]] = f.pop()
			f.pc += opcode.Len(op)

		case op >= opcode.Istore0 && op <= opcode.Istore3:
			f.locals[op-opcode.Istore0] = f.pop()
			f.pc += opcode.Len(op)

		case op >= opcode.Astore0 && op <= opcode.Astore3:
			f.locals[op-opcode.Astore0] = f.pop()
			f.pc += opcode.Len(op)

		case op == opcode.Iinc:
			slot := method.Code[f.pc+1]
			delta := int8(method.Code[f.pc+2])
			f.locals[slot] += int32(delta)
			f.pc += opcode.Len(op)

		case op == opcode.Iadd:
			b, a := f.pop(), f.pop()
			f.push(a + b)
			f.pc += opcode.Len(op)
		case op == opcode.Isub:
			b, a := f.pop(), f.pop()
			f.push(a - b)
			f.pc += opcode.Len(op)
		case op == opcode.Imul:
			b, a := f.pop(), f.pop()
			f.push(a * b)
			f.pc += opcode.Len(op)
		case op == opcode.Idiv:
			b, a := f.pop(), f.pop()
			if b == 0 {
				return Result{}, fault(method, pcStart, "idiv: division by zero")
			}
			f.push(a / b)
			f.pc += opcode.Len(op)
		case op == opcode.Irem:
			b, a := f.pop(), f.pop()
			if b == 0 {
				return Result{}, fault(method, pcStart, "irem: division by zero")
			}
			f.push(a % b)
			f.pc += opcode.Len(op)
		case op == opcode.Ineg:
			f.push(-f.pop())
			f.pc += opcode.Len(op)
		case op == opcode.Ishl:
			b, a := f.pop(), f.pop()
			if b < 0 {
				return Result{}, fault(method, pcStart, "ishl: negative shift count %d", b)
			}
			f.push(a << (uint32(b) & 0x1f))
			f.pc += opcode.Len(op)
		case op == opcode.Ishr:
			b, a := f.pop(), f.pop()
			if b < 0 {
				return Result{}, fault(method, pcStart, "ishr: negative shift count %d", b)
			}
			f.push(a >> (uint32(b) & 0x1f))
			f.pc += opcode.Len(op)
		case op == opcode.Iushr:
			b, a := f.pop(), f.pop()
			if b < 0 {
				return Result{}, fault(method, pcStart, "iushr: negative shift count %d", b)
			}
			f.push(int32(uint32(a) >> (uint32(b) & 0x1f)))
			f.pc += opcode.Len(op)
		case op == opcode.Iand:
			b, a := f.pop(), f.pop()
			f.push(a & b)
			f.pc += opcode.Len(op)
		case op == opcode.Ior:
			b, a := f.pop(), f.pop()
			f.push(a | b)
			f.pc += opcode.Len(op)
		case op == opcode.Ixor:
			b, a := f.pop(), f.pop()
			f.push(a ^ b)
			f.pc += opcode.Len(op)

		case isIf(op):
			v := f.pop()
			if branchTaken(op, v) {
				f.pc = pcStart + int(f.i16(f.pc+1))
			} else {
				f.pc += opcode.Len(op)
			}

		case isIfIcmp(op):
			b, a := f.pop(), f.pop()
			if branchTakenCmp(op, a, b) {
				f.pc = pcStart + int(f.i16(f.pc+1))
			} else {
				f.pc += opcode.Len(op)
			}

		case op == opcode.Goto:
			f.pc = pcStart + int(f.i16(f.pc+1))

		case op == opcode.Ireturn || op == opcode.Areturn:
			return Result{HasValue: true, Value: f.pop()}, nil

		case op == opcode.Return:
			return Result{}, nil

		case op == opcode.Getstatic:
			f.pc += opcode.Len(op)

		case op == opcode.Invokevirtual:
			v := f.pop()
			fmt.Fprintf(out, "%d\n", v)
			f.pc += opcode.Len(op)

		case op == opcode.Invokestatic:
			idx := f.u16(f.pc + 1)
			target, err := class.FindMethodFromIndex(idx)
			if err != nil {
				return Result{}, fault(method, pcStart, "invokestatic: %v", err)
			}
			n := classfile.NumParameters(target.Descriptor)
			callLocals := make([]int32, target.MaxLocals)
			for i := n - 1; i >= 0; i-- {
				callLocals[i] = f.pop()
			}
			result, err := Execute(target, callLocals, class, h, out, opts)
			if err != nil {
				return Result{}, wrap(err, method, pcStart)
			}
			if result.HasValue {
				f.push(result.Value)
			}
			f.pc += opcode.Len(op)

		case op == opcode.Dup:
			v := f.stack[f.sp-1]
			f.push(v)
			f.pc += opcode.Len(op)

		case op == opcode.Newarray:
			n := f.pop()
			if n < 0 {
				return Result{}, fault(method, pcStart, "newarray: negative length %d", n)
			}
			ref := h.Add(n)
			f.push(int32(ref))
			f.pc += opcode.Len(op)

		case op == opcode.Arraylength:
			ref := f.pop()
			f.push(h.Len(heap.Ref(ref)))
			f.pc += opcode.Len(op)

		case op == opcode.Iastore:
			v := f.pop()
			i := f.pop()
			ref := f.pop()
			h.Get(heap.Ref(ref))[i] = v
			f.pc += opcode.Len(op)

		case op == opcode.Iaload:
			i := f.pop()
			ref := f.pop()
			f.push(h.Get(heap.Ref(ref))[i])
			f.pc += opcode.Len(op)

		default:
			return Result{}, fault(method, pcStart, "unrecognized opcode %#02x (%s)", byte(op), op)
		}
	}

	// Fell off the end of the code with no explicit return: spec.md
	// §4.2 treats this as an implicit void return.
	return Result{}, nil
}

func (f *frame) push(v int32) {
	f.stack[f.sp] = v
	f.sp++
}

func (f *frame) pop() int32 {
	f.sp--
	return f.stack[f.sp]
}

func (f *frame) i16(at int) int16 {
	return int16(f.u16(at))
}

func (f *frame) u16(at int) uint16 {
	return uint16(f.method.Code[at])<<8 | uint16(f.method.Code[at+1])
}

func isIf(op opcode.Op) bool {
	switch op {
	case opcode.Ifeq, opcode.Ifne, opcode.Iflt, opcode.Ifge, opcode.Ifgt, opcode.Ifle:
		return true
	}
	return false
}

func branchTaken(op opcode.Op, v int32) bool {
	switch op {
	case opcode.Ifeq:
		return v == 0
	case opcode.Ifne:
		return v != 0
	case opcode.Iflt:
		return v < 0
	case opcode.Ifge:
		return v >= 0
	case opcode.Ifgt:
		return v > 0
	case opcode.Ifle:
		return v <= 0
	}
	return false
}

func isIfIcmp(op opcode.Op) bool {
	switch op {
	case opcode.IfIcmpeq, opcode.IfIcmpne, opcode.IfIcmplt, opcode.IfIcmpge, opcode.IfIcmpgt, opcode.IfIcmple:
		return true
	}
	return false
}

// branchTakenCmp evaluates an if_icmp* predicate. a is the operand
// pushed first (deeper in the stack, the left-hand operand); b is the
// operand pushed last (the top, the right-hand operand) — see spec.md
// §4.3's comparison operand ordering note.
func branchTakenCmp(op opcode.Op, a, b int32) bool {
	switch op {
	case opcode.IfIcmpeq:
		return a == b
	case opcode.IfIcmpne:
		return a != b
	case opcode.IfIcmplt:
		return a < b
	case opcode.IfIcmpge:
		return a >= b
	case opcode.IfIcmpgt:
		return a > b
	case opcode.IfIcmple:
		return a <= b
	}
	return false
}

// Invoke prepares a fresh locals array for method (parameters placed
// in the leading slots, the rest zero-initialized) and executes it.
// This is the entry point the driver uses to run a class's main
// method, and is also exactly what invokestatic does one level down
// (spec.md §4.4); the two call sites just differ in where the
// parameters come from.
func Invoke(method *classfile.Method, args []int32, class *classfile.Class, h *heap.Heap, out io.Writer, opts Options) (Result, error) {
	locals := make([]int32, method.MaxLocals)
	copy(locals, args)
	return Execute(method, locals, class, h, out, opts)
}
