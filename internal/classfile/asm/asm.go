// Package asm assembles TeenyJVM class files and method bodies
// programmatically.
//
// The reference C implementation was always fed `.class` files a real
// `javac` produced; this module has no Java toolchain, so its tests
// (and spec.md §8's end-to-end scenarios) need another way to build
// fixtures. asm.Method is a small fluent instruction builder in the
// spirit of bassosimone-risc32's pkg/asm and KTStephano-GVM's
// NewInstruction helper, emitting the exact byte encodings
// internal/opcode documents (signed-8 sign-extension, big-endian
// signed-16 immediates, pc-relative branch offsets). asm.Class then
// wraps one or more methods in a constant pool and can either hand the
// result straight to the engine as a *classfile.Class, or Encode it to
// the real binary layout so internal/classfile's reader and this
// builder round-trip against each other.
package asm

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/kristofer/teenyjvm/internal/classfile"
	"github.com/kristofer/teenyjvm/internal/opcode"
)

// Method builds one method's bytecode body, resolving branch targets
// expressed as labels into the signed 16-bit pc-relative offsets
// spec.md §4.3 requires.
type Method struct {
	Name       string
	Descriptor string
	MaxStack   int
	MaxLocals  int

	code     []byte
	labels   map[string]int
	branches []pendingBranch
}

type pendingBranch struct {
	at    int // offset of the branch opcode itself
	label string
}

// NewMethod starts a new method body.
func NewMethod(name, descriptor string, maxStack, maxLocals int) *Method {
	return &Method{
		Name:       name,
		Descriptor: descriptor,
		MaxStack:   maxStack,
		MaxLocals:  maxLocals,
		labels:     make(map[string]int),
	}
}

// Op appends a bare, operand-less opcode.
func (m *Method) Op(op opcode.Op) *Method {
	m.code = append(m.code, byte(op))
	return m
}

// U1 appends op followed by a single unsigned-byte operand: a local
// slot (iload/istore/aload/astore), a constant-pool index (ldc), or an
// ignored type tag (newarray).
func (m *Method) U1(op opcode.Op, arg byte) *Method {
	m.code = append(m.code, byte(op), arg)
	return m
}

// I1 appends op followed by a signed 8-bit immediate (bipush).
func (m *Method) I1(op opcode.Op, v int8) *Method {
	return m.U1(op, byte(v))
}

// I2 appends op followed by a signed 16-bit big-endian immediate
// (sipush).
func (m *Method) I2(op opcode.Op, v int16) *Method {
	m.code = append(m.code, byte(op), byte(v>>8), byte(v))
	return m
}

// U2 appends op followed by an unsigned 16-bit big-endian operand: a
// constant-pool index for getstatic/invokevirtual/invokestatic.
func (m *Method) U2(op opcode.Op, v uint16) *Method {
	m.code = append(m.code, byte(op), byte(v>>8), byte(v))
	return m
}

// Iinc appends an iinc instruction: local slot then signed 8-bit delta.
func (m *Method) Iinc(slot byte, delta int8) *Method {
	m.code = append(m.code, byte(opcode.Iinc), slot, byte(delta))
	return m
}

// Label marks the current code position so a later Branch call can
// target it, even when the branch is emitted before the label (a
// forward branch, such as the ifle to the base case in spec.md
// scenario 6).
func (m *Method) Label(name string) *Method {
	m.labels[name] = len(m.code)
	return m
}

// Branch appends a branch/goto opcode whose signed 16-bit offset is
// resolved, relative to the branch opcode's own position, once Code
// is called and every label has been placed.
func (m *Method) Branch(op opcode.Op, label string) *Method {
	m.branches = append(m.branches, pendingBranch{at: len(m.code), label: label})
	m.code = append(m.code, byte(op), 0, 0)
	return m
}

// Code finalizes the method body, patching every pending branch
// offset, and returns the resulting bytecode.
func (m *Method) Code() ([]byte, error) {
	out := make([]byte, len(m.code))
	copy(out, m.code)

	for _, b := range m.branches {
		target, ok := m.labels[b.label]
		if !ok {
			return nil, fmt.Errorf("asm: undefined label %q", b.label)
		}
		offset := int16(target - b.at)
		out[b.at+1] = byte(offset >> 8)
		out[b.at+2] = byte(offset)
	}
	return out, nil
}

// Class assembles a set of methods plus the constant-pool entries
// (Integer literals and Methodref call targets) they reference.
type Class struct {
	methods []*Method

	utf8  []string
	utf8I map[string]uint16

	integers []int32

	pool     []poolEntry
	classIdx uint16
	natIdx   map[[2]uint16]uint16
	refIdx   map[[2]string]uint16
}

// NewClass starts a new, empty class assembly.
func NewClass() *Class {
	c := &Class{
		utf8I: make(map[string]uint16),
		natIdx: make(map[[2]uint16]uint16),
		refIdx: make(map[[2]string]uint16),
	}
	nameIdx := c.utf8Index("TeenyJVMTestClass")
	c.classIdx = c.nextIndex()
	c.pool = append(c.pool, poolEntry{tag: classfile.TagClass, a: nameIdx})
	return c
}

// AddMethod registers a method body with the class.
func (c *Class) AddMethod(m *Method) *Class {
	c.methods = append(c.methods, m)
	return c
}

// Integer adds an Integer constant-pool entry and returns the 1-byte
// index an ldc instruction can reference.
func (c *Class) Integer(v int32) byte {
	c.integers = append(c.integers, v)
	// The index returned here is this builder's own 0-based Integer
	// index, not a constant-pool index: Build lays the Integer entries
	// out after every other pool entry and rewrites each ldc operand to
	// the absolute index (see remapLdc).
	return byte(len(c.integers) - 1)
}

// MethodRef registers (or reuses) the constant-pool plumbing a call to
// invokestatic needs — a NameAndType plus a Methodref entry — and
// returns the 2-byte index invokestatic's operand expects.
func (c *Class) MethodRef(name, descriptor string) uint16 {
	key := [2]string{name, descriptor}
	if idx, ok := c.refIdx[key]; ok {
		return idx
	}
	nameIdx := c.utf8Index(name)
	descIdx := c.utf8Index(descriptor)
	natKey := [2]uint16{nameIdx, descIdx}
	natIdx, ok := c.natIdx[natKey]
	if !ok {
		natIdx = c.nextIndex()
		c.natIdx[natKey] = natIdx
		c.pool = append(c.pool, poolEntry{tag: classfile.TagNameAndType, a: nameIdx, b: descIdx})
	}
	refI := c.nextIndex()
	c.refIdx[key] = refI
	c.pool = append(c.pool, poolEntry{tag: classfile.TagMethodref, a: c.classIdx, b: natIdx})
	return refI
}

func (c *Class) utf8Index(s string) uint16 {
	if idx, ok := c.utf8I[s]; ok {
		return idx
	}
	idx := c.nextIndex()
	c.utf8I[s] = idx
	c.utf8 = append(c.utf8, s)
	c.pool = append(c.pool, poolEntry{tag: classfile.TagUtf8, str: s})
	return idx
}

func (c *Class) nextIndex() uint16 {
	return uint16(len(c.pool) + 1)
}

// poolEntry is the builder's own constant-pool representation, kept in
// insertion order so Build and Encode can share one canonical layout
// instead of re-deriving indices two different ways.
type poolEntry struct {
	tag classfile.Tag
	str string
	i32 int32
	a, b uint16
}

// Build assembles the registered methods and constant pool directly
// into the in-memory model the engine consumes, without going through
// the binary format.
func (c *Class) Build() (*classfile.Class, error) {
	cls := &classfile.Class{
		ConstantPool: make([]classfile.ConstantPoolEntry, len(c.pool)+1),
	}
	for i, e := range c.pool {
		idx := i + 1
		switch e.tag {
		case classfile.TagUtf8:
			cls.ConstantPool[idx] = classfile.ConstantPoolEntry{Tag: e.tag, Utf8Value: e.str}
		case classfile.TagInteger:
			cls.ConstantPool[idx] = classfile.ConstantPoolEntry{Tag: e.tag, IntegerValue: e.i32}
		case classfile.TagClass:
			cls.ConstantPool[idx] = classfile.ConstantPoolEntry{Tag: e.tag, NameIndex: e.a}
		case classfile.TagNameAndType:
			cls.ConstantPool[idx] = classfile.ConstantPoolEntry{Tag: e.tag, NameIndex: e.a, DescriptorIndex: e.b}
		case classfile.TagMethodref:
			cls.ConstantPool[idx] = classfile.ConstantPoolEntry{Tag: e.tag, ClassIndex: e.a, NameAndTypeIndex: e.b}
		}
	}

	// Integer constants registered via Integer() are addressed by
	// ldc's 1-byte operand independently of the rest of the pool (see
	// the note in Integer), so they get their own reserved block at
	// the tail end of the pool, and ldc operands are remapped to that
	// block's indices here.
	integerBase := len(cls.ConstantPool)
	cls.ConstantPool = append(cls.ConstantPool, make([]classfile.ConstantPoolEntry, len(c.integers))...)
	for i, v := range c.integers {
		cls.ConstantPool[integerBase+i] = classfile.ConstantPoolEntry{Tag: classfile.TagInteger, IntegerValue: v}
	}

	for _, m := range c.methods {
		code, err := m.Code()
		if err != nil {
			return nil, err
		}
		patched, err := remapLdc(code, integerBase)
		if err != nil {
			return nil, err
		}
		cls.Methods = append(cls.Methods, &classfile.Method{
			Name:       m.Name,
			Descriptor: m.Descriptor,
			MaxStack:   m.MaxStack,
			MaxLocals:  m.MaxLocals,
			Code:       patched,
		})
	}
	return cls, nil
}

// remapLdc rewrites every ldc instruction's 1-byte operand from the
// small, Integer()-call-order index handed out by Class.Integer into
// the absolute constant-pool index Build/Encode actually placed that
// entry at.
func remapLdc(code []byte, integerBase int) ([]byte, error) {
	out := make([]byte, len(code))
	copy(out, code)
	for pc := 0; pc < len(out); {
		op := opcode.Op(out[pc])
		if op == opcode.Ldc {
			if pc+1 >= len(out) {
				return nil, fmt.Errorf("asm: truncated ldc at pc %d", pc)
			}
			absolute := integerBase + int(out[pc+1])
			if absolute > 0xFF {
				return nil, fmt.Errorf("asm: ldc index %d does not fit a 1-byte operand", absolute)
			}
			out[pc+1] = byte(absolute)
		}
		pc += opcode.Len(op)
	}
	return out, nil
}

// Encode serializes the class to the real JVM `.class` binary layout,
// so internal/classfile.Parse can read it back.
func (c *Class) Encode() ([]byte, error) {
	// Reserve the "Code" attribute-name Utf8 entry before building the
	// final constant pool, so the per-method Code attribute below can
	// reference it. Method names and descriptors are registered the same
	// way, for the method_info entries below.
	c.utf8Index("Code")
	for _, m := range c.methods {
		c.utf8Index(m.Name)
		c.utf8Index(m.Descriptor)
	}

	built, err := c.Build()
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	w := func(v interface{}) {
		binary.Write(&buf, binary.BigEndian, v)
	}

	w(uint32(0xCAFEBABE))
	w(uint16(0)) // minor version
	w(uint16(52)) // major version (Java 8)

	w(uint16(len(built.ConstantPool)))
	for i := 1; i < len(built.ConstantPool); i++ {
		e := built.ConstantPool[i]
		w(byte(e.Tag))
		switch e.Tag {
		case classfile.TagUtf8:
			w(uint16(len(e.Utf8Value)))
			buf.WriteString(e.Utf8Value)
		case classfile.TagInteger:
			w(uint32(e.IntegerValue))
		case classfile.TagClass:
			w(e.NameIndex)
		case classfile.TagNameAndType:
			w(e.NameIndex)
			w(e.DescriptorIndex)
		case classfile.TagMethodref:
			w(e.ClassIndex)
			w(e.NameAndTypeIndex)
		default:
			return nil, fmt.Errorf("asm: unsupported constant pool tag %d", e.Tag)
		}
	}

	w(uint16(0))      // access_flags
	w(c.classIdx)     // this_class
	w(uint16(0))      // super_class
	w(uint16(0))      // interfaces_count
	w(uint16(0))      // fields_count

	w(uint16(len(built.Methods)))
	for _, m := range built.Methods {
		w(uint16(0)) // access_flags
		w(c.utf8I[m.Name])
		w(c.utf8I[m.Descriptor])
		w(uint16(1)) // attributes_count: just Code

		var code bytes.Buffer
		cw := func(v interface{}) { binary.Write(&code, binary.BigEndian, v) }
		cw(uint16(m.MaxStack))
		cw(uint16(m.MaxLocals))
		cw(uint32(len(m.Code)))
		code.Write(m.Code)
		cw(uint16(0)) // exception_table_length
		cw(uint16(0)) // attributes_count

		codeAttrNameIdx := c.utf8I["Code"]
		w(codeAttrNameIdx)
		w(uint32(code.Len()))
		buf.Write(code.Bytes())
	}

	w(uint16(0)) // class attributes_count

	return buf.Bytes(), nil
}
