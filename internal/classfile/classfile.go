// Package classfile parses the real JVM `.class` binary format into the
// small in-memory model TeenyJVM's engine needs.
//
// spec.md treats class-file parsing and method resolution as external
// collaborators and only names their interface (find_method,
// find_method_from_index, get_number_of_parameters, and per-method
// max_stack/max_locals/code). This package gives that interface a
// concrete body: a real reader for the constant-pool/method-table
// layout the JVM specification defines, trimmed to exactly the tags and
// attributes this engine's opcode subset can ever touch (Utf8, Integer,
// Class, NameAndType, Methodref constant-pool entries; the Code
// attribute). The other original constant-pool tags (Float, Long,
// Double, String, Fieldref, InterfaceMethodref) are read by their fixed
// sizes and left opaque, and every other attribute is skipped by its
// declared length, so the pool and attribute table stay correctly
// aligned even though this engine has no use for their contents. Any
// other constant-pool tag (MethodHandle, InvokeDynamic, ...) is
// rejected with an error.
package classfile

import (
	"encoding/binary"
	"fmt"
	"io"
)

// magic is the standard JVM class-file signature.
const magic = 0xCAFEBABE

// Tag identifies the shape of one constant-pool entry.
type Tag byte

// Constant-pool tags, using the JVM specification's own values.
const (
	TagUtf8               Tag = 1
	TagInteger            Tag = 3
	TagFloat              Tag = 4
	TagLong               Tag = 5
	TagDouble             Tag = 6
	TagClass              Tag = 7
	TagString             Tag = 8
	TagFieldref           Tag = 9
	TagMethodref          Tag = 10
	TagInterfaceMethodref Tag = 11
	TagNameAndType        Tag = 12
)

// ConstantPoolEntry is one 1-indexed slot of a class's constant pool.
// Only the fields relevant to its Tag are meaningful; the rest are
// zero. Long and Double entries additionally occupy the following
// index with an empty placeholder entry, per the JVM specification's
// historical quirk — callers never need to know this, since the pool
// is already indexed correctly by Parse.
type ConstantPoolEntry struct {
	Tag Tag

	Utf8Value    string
	IntegerValue int32

	// Class
	NameIndex uint16

	// NameAndType
	DescriptorIndex uint16

	// Methodref / Fieldref / InterfaceMethodref
	ClassIndex       uint16
	NameAndTypeIndex uint16
}

// Method is one method_info entry together with its decoded Code
// attribute. A method with no Code attribute (e.g. abstract or native)
// has a nil Code and MaxStack/MaxLocals of 0. The engine does not check
// for this: executing such a method runs no instructions and returns
// void.
type Method struct {
	Name       string
	Descriptor string

	MaxStack  int
	MaxLocals int
	Code      []byte
}

// Class is the parsed, in-memory form of one `.class` file: a constant
// pool and a method table. TeenyJVM models "a single loaded unit" (see
// spec.md §1 Non-goals): ThisClass/SuperClass are recorded but never
// resolved to another Class.
type Class struct {
	MinorVersion uint16
	MajorVersion uint16

	ConstantPool []ConstantPoolEntry // 1-indexed; index 0 is unused
	ThisClass    uint16
	SuperClass   uint16

	Methods []*Method
}

// Parse reads a class file from r.
func Parse(r io.Reader) (*Class, error) {
	br := &byteReader{r: r}

	if m := br.u4(); m != magic && br.err == nil {
		return nil, fmt.Errorf("classfile: bad magic %#08x", m)
	}

	c := &Class{}
	c.MinorVersion = br.u2()
	c.MajorVersion = br.u2()

	poolCount := br.u2()
	c.ConstantPool = make([]ConstantPoolEntry, poolCount)
	for i := 1; i < int(poolCount); i++ {
		entry, wide, err := readConstantPoolEntry(br)
		if err != nil {
			return nil, err
		}
		c.ConstantPool[i] = entry
		if wide {
			// Long/Double occupy two constant-pool indices; the JVM
			// specification leaves the second as an unused placeholder.
			i++
		}
	}
	if br.err != nil {
		return nil, fmt.Errorf("classfile: reading constant pool: %w", br.err)
	}

	br.u2() // access_flags
	c.ThisClass = br.u2()
	c.SuperClass = br.u2()

	ifaceCount := br.u2()
	for i := 0; i < int(ifaceCount); i++ {
		br.u2()
	}

	fieldCount := br.u2()
	for i := 0; i < int(fieldCount); i++ {
		if err := skipFieldOrMethodInfo(br); err != nil {
			return nil, fmt.Errorf("classfile: skipping field %d: %w", i, err)
		}
	}

	methodCount := br.u2()
	c.Methods = make([]*Method, 0, methodCount)
	for i := 0; i < int(methodCount); i++ {
		m, err := readMethodInfo(br, c.ConstantPool)
		if err != nil {
			return nil, fmt.Errorf("classfile: reading method %d: %w", i, err)
		}
		c.Methods = append(c.Methods, m)
	}

	attrCount := br.u2()
	for i := 0; i < int(attrCount); i++ {
		if err := skipAttribute(br); err != nil {
			return nil, fmt.Errorf("classfile: skipping class attribute %d: %w", i, err)
		}
	}

	if br.err != nil && br.err != io.EOF {
		return nil, br.err
	}
	return c, nil
}

// Utf8 resolves a constant-pool index known to hold a Utf8 entry.
func (c *Class) Utf8(index uint16) (string, error) {
	if int(index) >= len(c.ConstantPool) || c.ConstantPool[index].Tag != TagUtf8 {
		return "", fmt.Errorf("classfile: constant pool index %d is not Utf8", index)
	}
	return c.ConstantPool[index].Utf8Value, nil
}

// ResolveInteger resolves the Integer constant-pool entry at cpIndex,
// as used by the ldc opcode.
func (c *Class) ResolveInteger(cpIndex uint16) (int32, error) {
	if int(cpIndex) >= len(c.ConstantPool) || c.ConstantPool[cpIndex].Tag != TagInteger {
		return 0, fmt.Errorf("classfile: constant pool index %d is not Integer", cpIndex)
	}
	return c.ConstantPool[cpIndex].IntegerValue, nil
}

// FindMethod resolves a method by name and descriptor, as used to
// locate the CLI's entry point (see spec.md §6.1/§6.2).
func (c *Class) FindMethod(name, descriptor string) (*Method, bool) {
	for _, m := range c.Methods {
		if m.Name == name && m.Descriptor == descriptor {
			return m, true
		}
	}
	return nil, false
}

// FindMethodFromIndex resolves a Methodref constant-pool entry to the
// method it names, as used by the invokestatic opcode. Because
// TeenyJVM only ever loads a single class, the Methodref's own class
// reference is not followed — only its name-and-type is — per spec.md
// §1's "single loaded unit" scope.
func (c *Class) FindMethodFromIndex(cpIndex uint16) (*Method, error) {
	if int(cpIndex) >= len(c.ConstantPool) {
		return nil, fmt.Errorf("classfile: constant pool index %d out of range", cpIndex)
	}
	entry := c.ConstantPool[cpIndex]
	if entry.Tag != TagMethodref {
		return nil, fmt.Errorf("classfile: constant pool index %d is not Methodref", cpIndex)
	}
	if int(entry.NameAndTypeIndex) >= len(c.ConstantPool) {
		return nil, fmt.Errorf("classfile: NameAndType index %d out of range", entry.NameAndTypeIndex)
	}
	nat := c.ConstantPool[entry.NameAndTypeIndex]
	if nat.Tag != TagNameAndType {
		return nil, fmt.Errorf("classfile: constant pool index %d is not NameAndType", entry.NameAndTypeIndex)
	}
	name, err := c.Utf8(nat.NameIndex)
	if err != nil {
		return nil, err
	}
	descriptor, err := c.Utf8(nat.DescriptorIndex)
	if err != nil {
		return nil, err
	}
	m, ok := c.FindMethod(name, descriptor)
	if !ok {
		return nil, fmt.Errorf("classfile: method %s%s not found", name, descriptor)
	}
	return m, nil
}

// NumParameters counts the parameters encoded in a method descriptor
// string such as "(I[II)V", as used to marshal arguments for
// invokestatic (spec.md §4.4).
func NumParameters(descriptor string) int {
	n := 0
	i := 0
	if i < len(descriptor) && descriptor[i] == '(' {
		i++
	}
	for i < len(descriptor) && descriptor[i] != ')' {
		for i < len(descriptor) && descriptor[i] == '[' {
			i++
		}
		if i >= len(descriptor) {
			break
		}
		if descriptor[i] == 'L' {
			for i < len(descriptor) && descriptor[i] != ';' {
				i++
			}
		}
		i++
		n++
	}
	return n
}

func readConstantPoolEntry(br *byteReader) (ConstantPoolEntry, bool, error) {
	tag := Tag(br.u1())
	var e ConstantPoolEntry
	e.Tag = tag
	wide := false

	switch tag {
	case TagUtf8:
		length := br.u2()
		e.Utf8Value = string(br.bytes(int(length)))
	case TagInteger:
		e.IntegerValue = int32(br.u4())
	case TagFloat:
		br.u4()
	case TagLong, TagDouble:
		br.u4()
		br.u4()
		wide = true
	case TagClass:
		e.NameIndex = br.u2()
	case TagString:
		br.u2()
	case TagFieldref, TagMethodref, TagInterfaceMethodref:
		e.ClassIndex = br.u2()
		e.NameAndTypeIndex = br.u2()
	case TagNameAndType:
		e.NameIndex = br.u2()
		e.DescriptorIndex = br.u2()
	default:
		return e, false, fmt.Errorf("classfile: unrecognized constant pool tag %d", tag)
	}

	return e, wide, br.err
}

// skipFieldOrMethodInfo consumes a field_info (or the prefix common to
// field_info/method_info before the attribute bodies differ, which is
// nothing — both share the exact same layout) without interpreting it.
func skipFieldOrMethodInfo(br *byteReader) error {
	br.u2() // access_flags
	br.u2() // name_index
	br.u2() // descriptor_index
	attrCount := br.u2()
	for i := 0; i < int(attrCount); i++ {
		if err := skipAttribute(br); err != nil {
			return err
		}
	}
	return br.err
}

func readMethodInfo(br *byteReader, pool []ConstantPoolEntry) (*Method, error) {
	br.u2() // access_flags
	nameIdx := br.u2()
	descIdx := br.u2()

	m := &Method{}
	if int(nameIdx) < len(pool) {
		m.Name = pool[nameIdx].Utf8Value
	}
	if int(descIdx) < len(pool) {
		m.Descriptor = pool[descIdx].Utf8Value
	}

	attrCount := br.u2()
	for i := 0; i < int(attrCount); i++ {
		nameIndex := br.u2()
		length := br.u4()
		attrName := ""
		if int(nameIndex) < len(pool) {
			attrName = pool[nameIndex].Utf8Value
		}
		if attrName == "Code" {
			if err := readCodeAttribute(br, m); err != nil {
				return nil, err
			}
		} else {
			br.bytes(int(length))
		}
	}
	return m, br.err
}

// readCodeAttribute reads the Code attribute body: max_stack,
// max_locals, the bytecode itself, then the exception table and any
// nested attributes, which TeenyJVM has no use for (no exceptions,
// spec.md §1 Non-goals) but must still consume to stay aligned.
func readCodeAttribute(br *byteReader, m *Method) error {
	m.MaxStack = int(br.u2())
	m.MaxLocals = int(br.u2())
	codeLength := br.u4()
	m.Code = br.bytes(int(codeLength))

	exceptionCount := br.u2()
	for i := 0; i < int(exceptionCount); i++ {
		br.u2()
		br.u2()
		br.u2()
		br.u2()
	}

	nestedAttrCount := br.u2()
	for i := 0; i < int(nestedAttrCount); i++ {
		if err := skipAttribute(br); err != nil {
			return err
		}
	}
	return br.err
}

func skipAttribute(br *byteReader) error {
	br.u2() // attribute_name_index
	length := br.u4()
	br.bytes(int(length))
	return br.err
}

// byteReader is a small big-endian cursor over an io.Reader that
// remembers the first error it saw, so call sites can read a whole
// structure and check err once at the end — the same pattern
// pkg/bytecode/format.go's reader helpers use, adapted to big-endian
// JVM encoding instead of the teacher's little-endian .sg format.
type byteReader struct {
	r   io.Reader
	err error
}

func (b *byteReader) read(n int) []byte {
	if b.err != nil {
		return make([]byte, n)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(b.r, buf); err != nil {
		b.err = err
	}
	return buf
}

func (b *byteReader) bytes(n int) []byte { return b.read(n) }
func (b *byteReader) u1() byte           { return b.read(1)[0] }
func (b *byteReader) u2() uint16         { return binary.BigEndian.Uint16(b.read(2)) }
func (b *byteReader) u4() uint32         { return binary.BigEndian.Uint32(b.read(4)) }
