package asm_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kristofer/teenyjvm/internal/classfile/asm"
	"github.com/kristofer/teenyjvm/internal/opcode"
)

func TestBranchResolvesAForwardLabel(t *testing.T) {
	m := asm.NewMethod("m", "()V", 1, 1).
		Op(opcode.Iconst0).
		Branch(opcode.Ifeq, "end").
		Op(opcode.Iconst1).
		Label("end").
		Op(opcode.Return)

	code, err := m.Code()
	require.NoError(t, err)

	// ifeq's offset is relative to its own opcode at pc 1; "end" sits at
	// pc 5 (after iconst_1 at pc 4), so the patched offset is 4.
	assert.Equal(t, byte(opcode.Ifeq), code[1])
	assert.Equal(t, int16(4), int16(uint16(code[2])<<8|uint16(code[3])))
}

func TestBranchResolvesABackwardLabel(t *testing.T) {
	m := asm.NewMethod("loop", "()V", 1, 1).
		Label("top").
		Op(opcode.Iconst1).
		Branch(opcode.Goto, "top")

	code, err := m.Code()
	require.NoError(t, err)

	// goto is at pc 1; "top" is at pc 0, so the offset is -1.
	offset := int16(uint16(code[2])<<8 | uint16(code[3]))
	assert.Equal(t, int16(-1), offset)
}

func TestCodeFailsOnUndefinedLabel(t *testing.T) {
	m := asm.NewMethod("m", "()V", 1, 0).Branch(opcode.Goto, "nowhere")
	_, err := m.Code()
	assert.Error(t, err)
}

func TestIntegerConstantsSurviveBuild(t *testing.T) {
	c := asm.NewClass()
	idx := c.Integer(123456)
	m := asm.NewMethod("m", "()I", 1, 0).
		U1(opcode.Ldc, idx).
		Op(opcode.Ireturn)
	c.AddMethod(m)

	built, err := c.Build()
	require.NoError(t, err)

	ldcIndex := built.Methods[0].Code[1]
	v, err := built.ResolveInteger(uint16(ldcIndex))
	require.NoError(t, err)
	assert.Equal(t, int32(123456), v)
}

func TestMethodRefIsReusedForTheSameTarget(t *testing.T) {
	c := asm.NewClass()
	a := c.MethodRef("helper", "(I)I")
	b := c.MethodRef("helper", "(I)I")
	assert.Equal(t, a, b)
}

func TestEncodeStartsWithTheClassFileMagic(t *testing.T) {
	c := asm.NewClass()
	m := asm.NewMethod("main", "([Ljava/lang/String;)V", 1, 1).Op(opcode.Return)
	c.AddMethod(m)

	data, err := c.Encode()
	require.NoError(t, err)
	assert.Equal(t, byte(0xCA), data[0])
	assert.Equal(t, byte(0xFE), data[1])
	assert.Equal(t, byte(0xBA), data[2])
	assert.Equal(t, byte(0xBE), data[3])
}
