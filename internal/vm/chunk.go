package vm

import (
	"fmt"

	"github.com/lumen-run/lumen/internal/ast"
	"github.com/lumen-run/lumen/internal/value"
)

// ProtocolSpec backs OpDefProtocol: a protocol name plus its method
// signatures, too irregular a shape to fit as a plain value.Value
// constant so it gets its own side table (spec.md §4.4's "ancillary
// tables alongside the constant pool").
type ProtocolSpec struct {
	Name    string
	Methods []string
}

// ExtendSpec backs OpExtendType: which type/protocol pair is being
// extended and the method names the popped fn values correspond to, in
// stack order.
type ExtendSpec struct {
	TypeName string
	Protocol string
	Methods  []string
}

// DefSpec backs OpDefVar: the Var metadata a `def`/`defmacro` carries
// that isn't a stack value (spec.md §3.2).
type DefSpec struct {
	Name      string
	IsMacro   bool
	IsDynamic bool
	IsPrivate bool
	Doc       string
	ArgLists  string
}

// Chunk is one compiled code object (spec.md §4.4): a flat instruction
// stream, its constant pool, and a parallel line/column table so runtime
// errors can report a source position.
type Chunk struct {
	Code    []byte
	Lines   []int
	Columns []int

	Constants []value.Value
	Protos    []*FnProto

	ProtocolSpecs []ProtocolSpec
	ExtendSpecs   []ExtendSpec
	DefSpecs      []DefSpec
}

func (c *Chunk) addConstant(v value.Value) int {
	c.Constants = append(c.Constants, v)
	return len(c.Constants) - 1
}

func (c *Chunk) addProto(p *FnProto) int {
	c.Protos = append(c.Protos, p)
	return len(c.Protos) - 1
}

func (c *Chunk) addProtocolSpec(s ProtocolSpec) int {
	c.ProtocolSpecs = append(c.ProtocolSpecs, s)
	return len(c.ProtocolSpecs) - 1
}

func (c *Chunk) addExtendSpec(s ExtendSpec) int {
	c.ExtendSpecs = append(c.ExtendSpecs, s)
	return len(c.ExtendSpecs) - 1
}

func (c *Chunk) addDefSpec(s DefSpec) int {
	c.DefSpecs = append(c.DefSpecs, s)
	return len(c.DefSpecs) - 1
}

// readOp decodes the opcode and its operands starting at ip, returning
// the operands and the ip of the next instruction.
func (c *Chunk) readOp(ip int) (Op, []int, int) {
	op := Op(c.Code[ip])
	ip++
	n := OperandCounts[op]
	operands := make([]int, n)
	for i := 0; i < n; i++ {
		operands[i] = int(c.Code[ip])<<8 | int(c.Code[ip+1])
		ip += 2
	}
	return op, operands, ip
}

func (c *Chunk) posAt(ip int) ast.Pos {
	if ip < 0 || ip >= len(c.Lines) {
		return ast.Pos{}
	}
	return ast.Pos{Line: c.Lines[ip], Column: c.Columns[ip]}
}

// Disassemble renders the chunk in a readable form for debug/trace
// output, the same role funxy's vm opcode-name table serves for its own
// instruction dumps.
func (c *Chunk) Disassemble(name string) string {
	out := fmt.Sprintf("== %s ==\n", name)
	ip := 0
	for ip < len(c.Code) {
		start := ip
		op, operands, next := c.readOp(ip)
		out += fmt.Sprintf("%04d %-14s %v\n", start, OpcodeNames[op], operands)
		ip = next
	}
	return out
}
