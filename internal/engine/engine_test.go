package engine_test

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kristofer/teenyjvm/internal/classfile/asm"
	"github.com/kristofer/teenyjvm/internal/engine"
	"github.com/kristofer/teenyjvm/internal/heap"
	"github.com/kristofer/teenyjvm/internal/opcode"
)

// run assembles a single-method class body, executes it, and returns
// the result and anything printed via invokevirtual; any fault fails
// the test.
func run(t *testing.T, maxStack, maxLocals int, build func(*asm.Method) *asm.Method) (engine.Result, string) {
	t.Helper()

	m := build(asm.NewMethod("main", "([Ljava/lang/String;)V", maxStack, maxLocals))
	cls, err := asm.NewClass().AddMethod(m).Build()
	require.NoError(t, err)

	h := heap.New()
	defer h.Close()

	var out bytes.Buffer
	result, err := engine.Invoke(cls.Methods[0], nil, cls, h, &out, engine.Options{})
	require.NoError(t, err)
	return result, out.String()
}

// Scenario 1: print a small constant (spec.md §8 scenario 1).
func TestScenarioPrintConstant(t *testing.T) {
	_, out := run(t, 1, 0, func(m *asm.Method) *asm.Method {
		return m.
			I1(opcode.Bipush, 7).
			U2(opcode.Invokevirtual, 0).
			Op(opcode.Return)
	})
	assert.Equal(t, "7\n", out)
}

// Scenario 2: add two small ints (spec.md §8 scenario 2).
func TestScenarioAddTwoSmallInts(t *testing.T) {
	result, _ := run(t, 2, 0, func(m *asm.Method) *asm.Method {
		return m.
			Op(opcode.Iconst2).
			Op(opcode.Iconst3).
			Op(opcode.Iadd).
			Op(opcode.Ireturn)
	})
	assert.True(t, result.HasValue)
	assert.Equal(t, int32(5), result.Value)
}

// Scenario 3: division by zero is a fatal fault (spec.md §8 scenario 3).
func TestScenarioDivisionByZeroFaults(t *testing.T) {
	m := asm.NewMethod("main", "([Ljava/lang/String;)V", 2, 0).
		Op(opcode.Iconst1).
		Op(opcode.Iconst0).
		Op(opcode.Idiv).
		Op(opcode.Ireturn)
	cls, err := asm.NewClass().AddMethod(m).Build()
	require.NoError(t, err)

	h := heap.New()
	defer h.Close()

	_, err = engine.Invoke(cls.Methods[0], nil, cls, h, &bytes.Buffer{}, engine.Options{})
	require.Error(t, err)

	var fault *engine.Fault
	require.ErrorAs(t, err, &fault)
	assert.Contains(t, fault.Error(), "division by zero")
}

// Scenario 4: loop sum 1..10 using iinc and if_icmple (spec.md §8 scenario 4).
func TestScenarioLoopSum1To10(t *testing.T) {
	result, _ := run(t, 2, 2, func(m *asm.Method) *asm.Method {
		return m.
			Op(opcode.Iconst0).
			Op(opcode.Istore0). // sum := 0
			Op(opcode.Iconst1).
			Op(opcode.Istore1). // i := 1
			Label("top").
			Op(opcode.Iload1).
			Op(opcode.Iload0).
			Op(opcode.Iadd).
			Op(opcode.Istore0). // sum += i
			Iinc(1, 1).         // i++
			Op(opcode.Iload1).
			I1(opcode.Bipush, 10).
			Branch(opcode.IfIcmple, "top").
			Op(opcode.Iload0).
			Op(opcode.Ireturn)
	})
	assert.True(t, result.HasValue)
	assert.Equal(t, int32(55), result.Value)
}

// Scenario 5: array round-trip through newarray/iastore/iaload and
// arraylength (spec.md §8 scenario 5).
func TestScenarioArrayRoundTrip(t *testing.T) {
	result, _ := run(t, 4, 1, func(m *asm.Method) *asm.Method {
		return m.
			I1(opcode.Bipush, 3).
			U1(opcode.Newarray, 10). // element-type tag is ignored
			Op(opcode.Astore0).
			Op(opcode.Aload0).
			Op(opcode.Iconst0).
			I1(opcode.Bipush, 42).
			Op(opcode.Iastore).
			Op(opcode.Aload0).
			Op(opcode.Iconst0).
			Op(opcode.Iaload).
			Op(opcode.Ireturn)
	})
	assert.True(t, result.HasValue)
	assert.Equal(t, int32(42), result.Value)
}

func TestScenarioArrayLengthMatchesAllocatedSize(t *testing.T) {
	result, _ := run(t, 2, 1, func(m *asm.Method) *asm.Method {
		return m.
			I1(opcode.Bipush, 3).
			U1(opcode.Newarray, 10).
			Op(opcode.Astore0).
			Op(opcode.Aload0).
			Op(opcode.Arraylength).
			Op(opcode.Ireturn)
	})
	assert.True(t, result.HasValue)
	assert.Equal(t, int32(3), result.Value)
}

// Scenario 6: recursive factorial via invokestatic (spec.md §8 scenario 6).
func TestScenarioRecursiveFactorial(t *testing.T) {
	fact := asm.NewMethod("fact", "(I)I", 3, 1)
	c := asm.NewClass()
	factRef := c.MethodRef("fact", "(I)I")

	fact.
		Op(opcode.Iload0).
		Branch(opcode.Ifle, "base").
		Op(opcode.Iload0).
		Op(opcode.Iload0).
		Op(opcode.Iconst1).
		Op(opcode.Isub).
		U2(opcode.Invokestatic, factRef).
		Op(opcode.Imul).
		Op(opcode.Ireturn).
		Label("base").
		Op(opcode.Iconst1).
		Op(opcode.Ireturn)

	main := asm.NewMethod("main", "([Ljava/lang/String;)V", 1, 0).
		I1(opcode.Bipush, 5).
		U2(opcode.Invokestatic, factRef).
		Op(opcode.Ireturn)

	c.AddMethod(main).AddMethod(fact)
	cls, err := c.Build()
	require.NoError(t, err)

	h := heap.New()
	defer h.Close()

	result, err := engine.Invoke(cls.Methods[0], nil, cls, h, &bytes.Buffer{}, engine.Options{})
	require.NoError(t, err)
	assert.True(t, result.HasValue)
	assert.Equal(t, int32(120), result.Value)
}

func TestFallingOffTheEndReturnsVoid(t *testing.T) {
	result, _ := run(t, 1, 0, func(m *asm.Method) *asm.Method {
		return m.Op(opcode.Iconst1)
	})
	assert.False(t, result.HasValue)
}

func TestDupDuplicatesTheTopOfStack(t *testing.T) {
	result, _ := run(t, 2, 0, func(m *asm.Method) *asm.Method {
		return m.
			Op(opcode.Iconst3).
			Op(opcode.Dup).
			Op(opcode.Iadd).
			Op(opcode.Ireturn)
	})
	assert.Equal(t, int32(6), result.Value)
}

func TestNegativeShiftCountFaults(t *testing.T) {
	m := asm.NewMethod("main", "([Ljava/lang/String;)V", 2, 0).
		Op(opcode.Iconst1).
		I1(opcode.Bipush, -1).
		Op(opcode.Ishl).
		Op(opcode.Ireturn)
	cls, err := asm.NewClass().AddMethod(m).Build()
	require.NoError(t, err)

	h := heap.New()
	defer h.Close()
	_, err = engine.Invoke(cls.Methods[0], nil, cls, h, &bytes.Buffer{}, engine.Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "negative shift count")
}

func TestIushrShiftsTheUnsignedBitPattern(t *testing.T) {
	// -1 (all bits set) logically shifted right by 1 must not sign-extend.
	result, _ := run(t, 2, 0, func(m *asm.Method) *asm.Method {
		return m.
			Op(opcode.Iconst1).
			Op(opcode.Ineg).
			Op(opcode.Iconst1).
			Op(opcode.Iushr).
			Op(opcode.Ireturn)
	})
	assert.Equal(t, int32(0x7fffffff), result.Value)
}

func TestIshrIsArithmeticAndPreservesSign(t *testing.T) {
	result, _ := run(t, 2, 0, func(m *asm.Method) *asm.Method {
		return m.
			Op(opcode.Iconst1).
			Op(opcode.Ineg).
			Op(opcode.Iconst1).
			Op(opcode.Ishr).
			Op(opcode.Ireturn)
	})
	assert.Equal(t, int32(-1), result.Value)
}

func TestUnrecognizedOpcodeFaults(t *testing.T) {
	m := asm.NewMethod("main", "([Ljava/lang/String;)V", 1, 0)
	cls, err := asm.NewClass().AddMethod(m).Build()
	require.NoError(t, err)
	cls.Methods[0].Code = []byte{0xff}

	h := heap.New()
	defer h.Close()
	_, err = engine.Invoke(cls.Methods[0], nil, cls, h, &bytes.Buffer{}, engine.Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unrecognized opcode")
}

func TestGotoJumpsForwardPastDeadCode(t *testing.T) {
	result, _ := run(t, 1, 0, func(m *asm.Method) *asm.Method {
		return m.
			Branch(opcode.Goto, "skip").
			Op(opcode.Iconst1).
			Label("skip").
			Op(opcode.Iconst5).
			Op(opcode.Ireturn)
	})
	assert.Equal(t, int32(5), result.Value)
}

// Parameter marshalling: the caller pushes v0..v(n-1) in source order;
// the callee must observe locals[i] = vi (spec.md §4.4, §8).
func TestParameterMarshallingPreservesSourceOrder(t *testing.T) {
	sub := asm.NewMethod("sub", "(II)I", 2, 2).
		Op(opcode.Iload0).
		Op(opcode.Iload1).
		Op(opcode.Isub).
		Op(opcode.Ireturn)

	c := asm.NewClass()
	subRef := c.MethodRef("sub", "(II)I")
	main := asm.NewMethod("main", "([Ljava/lang/String;)V", 2, 0).
		I1(opcode.Bipush, 10).
		I1(opcode.Bipush, 3).
		U2(opcode.Invokestatic, subRef).
		Op(opcode.Ireturn)

	c.AddMethod(main).AddMethod(sub)
	cls, err := c.Build()
	require.NoError(t, err)

	h := heap.New()
	defer h.Close()
	result, err := engine.Invoke(cls.Methods[0], nil, cls, h, &bytes.Buffer{}, engine.Options{})
	require.NoError(t, err)
	assert.Equal(t, int32(7), result.Value) // 10 - 3, not 3 - 10
}

func TestVoidInvokestaticPushesNothing(t *testing.T) {
	// callee prints and returns void; caller's next instruction must see
	// an empty stack, not a stray pushed value.
	helper := asm.NewMethod("helper", "()V", 1, 0).
		I1(opcode.Bipush, 9).
		U2(opcode.Invokevirtual, 0).
		Op(opcode.Return)

	c := asm.NewClass()
	helperRef := c.MethodRef("helper", "()V")
	main := asm.NewMethod("main", "([Ljava/lang/String;)V", 1, 0).
		U2(opcode.Invokestatic, helperRef).
		I1(opcode.Bipush, 1).
		U2(opcode.Invokevirtual, 0).
		Op(opcode.Return)

	c.AddMethod(main).AddMethod(helper)
	cls, err := c.Build()
	require.NoError(t, err)

	h := heap.New()
	defer h.Close()
	var out bytes.Buffer
	_, err = engine.Invoke(cls.Methods[0], nil, cls, h, &out, engine.Options{})
	require.NoError(t, err)
	assert.Equal(t, "9\n1\n", out.String())
}

func TestTraceOptionEmitsOneLinePerInstruction(t *testing.T) {
	m := asm.NewMethod("main", "([Ljava/lang/String;)V", 1, 0).
		Op(opcode.Iconst1).
		Op(opcode.Return)
	cls, err := asm.NewClass().AddMethod(m).Build()
	require.NoError(t, err)

	h := heap.New()
	defer h.Close()
	var trace bytes.Buffer
	_, err = engine.Invoke(cls.Methods[0], nil, cls, h, &bytes.Buffer{}, engine.Options{Trace: &trace})
	require.NoError(t, err)
	assert.Equal(t, 2, bytes.Count(trace.Bytes(), []byte("\n")))
}
