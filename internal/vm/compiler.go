// Package vm implements spec.md §4.4-§4.6: the bytecode chunk format, the
// Node-to-Chunk compiler with its inline peephole fusion, and the
// fetch-decode-execute virtual machine, generalized from the teacher's
// own register/stack evaluation style (funvibe-funxy's internal/vm) into
// Lumen's persistent-value, closure, and multimethod/protocol model.
package vm

import (
	"fmt"

	"github.com/lumen-run/lumen/internal/ast"
	"github.com/lumen-run/lumen/internal/runtime"
	"github.com/lumen-run/lumen/internal/value"
)

// binIntrinsics are the two-argument arithmetic/comparison calls the
// compiler recognizes directly off an unqualified VarRef callee, rather
// than going through a generic OpCall to a builtin Var. Since the
// analyzer already turns any locally-shadowed name into a LocalRef
// (never a VarRef), a VarRef named "+" here is guaranteed to mean the
// global operator, never a shadowed local.
var binIntrinsics = map[string]Op{
	"+": OpAdd, "-": OpSub, "*": OpMul, "/": OpDiv, "mod": OpMod, "rem": OpRem,
	"<": OpLt, "<=": OpLe, ">": OpGt, ">=": OpGe, "=": OpEq,
}

// collectionIntrinsics are literal-collection constructors the analyzer
// lowers to an ordinary Call (spec.md §4.3's vector/map/set literal
// desugaring); the compiler recognizes them by name and emits a direct
// MAKE_* opcode instead of a Var lookup.
var collectionIntrinsics = map[string]Op{
	"vector": OpMakeVector, "hash-map": OpMakeMap, "hash-set": OpMakeSet, "list": OpMakeList,
}

// unaryIntrinsics mirrors binIntrinsics for single-argument operators.
var unaryIntrinsics = map[string]Op{
	"not": OpNot,
}

func fusedOp(op Op) (Op, bool) {
	switch op {
	case OpAdd:
		return OpAddLL, true
	case OpSub:
		return OpSubLL, true
	case OpLt:
		return OpLtLL, true
	}
	return 0, false
}

// instr is one not-yet-assembled instruction; jump operands hold a label
// id until assemble() resolves every label to a byte offset.
type instr struct {
	op       Op
	operands []int
	isLabel  []bool // parallel to operands: true if that operand is a label id
	pos      ast.Pos
}

type loopCtx struct {
	startLabel int
	slots      []int // the loop/fn frame slots recur rebinds, in argument order
}

// fnCompiler compiles one function arity (or the top-level program,
// treated as a zero-arg arity) into a Chunk. parent is the fnCompiler for
// the lexically enclosing function, nil at the top level; it's what lets
// ensureUpvalue thread a capture through more than one level of nesting.
type fnCompiler struct {
	parent *fnCompiler
	chunk  *Chunk
	code   []instr

	labelPos  map[int]int // label id -> instr index, once placed
	nextLabel int

	maxLocal int // highest local slot referenced, for NumLocals sizing

	upvalues   []upvalueDesc
	upvalueKey map[[2]int]int

	loops []loopCtx

	env *runtime.Environment
	ns  *runtime.Namespace
}

func newFnCompiler(parent *fnCompiler, env *runtime.Environment, ns *runtime.Namespace) *fnCompiler {
	return &fnCompiler{
		parent:     parent,
		chunk:      &Chunk{},
		labelPos:   map[int]int{},
		upvalueKey: map[[2]int]int{},
		env:        env,
		ns:         ns,
	}
}

func (fc *fnCompiler) noteLocal(idx int) {
	if idx > fc.maxLocal {
		fc.maxLocal = idx
	}
}

func (fc *fnCompiler) newLabel() int {
	fc.nextLabel++
	return fc.nextLabel
}

func (fc *fnCompiler) placeLabel(label int) {
	fc.labelPos[label] = len(fc.code)
}

func (fc *fnCompiler) emit(op Op, pos ast.Pos, operands ...int) {
	fc.code = append(fc.code, instr{op: op, operands: operands, isLabel: make([]bool, len(operands)), pos: pos})
}

func (fc *fnCompiler) emitJump(op Op, label int, pos ast.Pos) {
	fc.code = append(fc.code, instr{op: op, operands: []int{label}, isLabel: []bool{true}, pos: pos})
}

func (fc *fnCompiler) emitConst(v value.Value, pos ast.Pos) {
	switch v {
	case value.Nil:
		fc.emit(OpNil, pos)
	case value.True:
		fc.emit(OpTrue, pos)
	case value.False:
		fc.emit(OpFalse, pos)
	default:
		fc.emit(OpConstant, pos, fc.chunk.addConstant(v))
	}
}

// ensureUpvalue returns the slot in fc's own Upvalues array that supplies
// the value living `depth` function-levels above fc's parent (depth 0 =
// fc.parent's own local idx), creating the chain of descriptors through
// fc.parent as needed. This is the standard upvalue-of-upvalue technique.
func (fc *fnCompiler) ensureUpvalue(idx, depth int) int {
	key := [2]int{idx, depth}
	if slot, ok := fc.upvalueKey[key]; ok {
		return slot
	}
	var desc upvalueDesc
	if depth == 0 {
		desc = upvalueDesc{FromLocal: true, Index: idx}
	} else {
		parentSlot := fc.parent.ensureUpvalue(idx, depth-1)
		desc = upvalueDesc{FromLocal: false, Index: parentSlot}
	}
	fc.upvalues = append(fc.upvalues, desc)
	slot := len(fc.upvalues) - 1
	fc.upvalueKey[key] = slot
	return slot
}

// loadCaptures emits, in fc (the enclosing compiler), the instructions
// that push a child closure's captured values just before its OpMakeFn.
func (fc *fnCompiler) loadCaptures(descs []upvalueDesc, pos ast.Pos) {
	for _, d := range descs {
		if d.FromLocal {
			fc.noteLocal(d.Index)
			fc.emit(OpLoadLocal, pos, d.Index)
		} else {
			fc.emit(OpLoadUpvalue, pos, d.Index)
		}
	}
}

func (fc *fnCompiler) compileBody(body []ast.Node, pos ast.Pos) error {
	if len(body) == 0 {
		fc.emitConst(value.Nil, pos)
		return nil
	}
	for i, n := range body {
		if err := fc.compileNode(n); err != nil {
			return err
		}
		if i < len(body)-1 {
			fc.emit(OpPop, n.Position())
		}
	}
	return nil
}

func (fc *fnCompiler) compileNode(n ast.Node) error {
	switch node := n.(type) {
	case *ast.Constant:
		v, ok := node.Value.(value.Value)
		if !ok {
			return fmt.Errorf("constant %v is not a runtime value", node.Value)
		}
		fc.emitConst(v, node.Position())
		return nil

	case *ast.LocalRef:
		if node.Depth == 0 {
			fc.noteLocal(node.Idx)
			fc.emit(OpLoadLocal, node.Position(), node.Idx)
		} else {
			slot := fc.ensureUpvalue(node.Idx, node.Depth-1)
			fc.emit(OpLoadUpvalue, node.Position(), slot)
		}
		return nil

	case *ast.VarRef:
		ns := noClass
		if node.Namespace != "" {
			ns = fc.chunk.addConstant(value.NewString(node.Namespace))
		}
		name := fc.chunk.addConstant(value.NewString(node.Name))
		fc.emit(OpLoadVar, node.Position(), ns, name)
		return nil

	case *ast.If:
		return fc.compileIf(node)

	case *ast.Do:
		return fc.compileBody(node.Body, node.Position())

	case *ast.Let, *ast.Letfn:
		return fc.compileLet(node)

	case *ast.Loop:
		return fc.compileLoop(node)

	case *ast.Recur:
		return fc.compileRecur(node)

	case *ast.Fn:
		return fc.compileFnNode(node)

	case *ast.Call:
		return fc.compileCall(node)

	case *ast.Def:
		return fc.compileDef(node, false)

	case *ast.SetBang:
		if err := fc.compileNode(node.Expr); err != nil {
			return err
		}
		ns := noClass
		if node.VarNamespace != "" {
			ns = fc.chunk.addConstant(value.NewString(node.VarNamespace))
		}
		name := fc.chunk.addConstant(value.NewString(node.VarName))
		fc.emit(OpSetVar, node.Position(), ns, name)
		return nil

	case *ast.Quote:
		v, ok := node.Value.(value.Value)
		if !ok {
			return fmt.Errorf("quoted form %v is not a runtime value", node.Value)
		}
		fc.emitConst(v, node.Position())
		return nil

	case *ast.Throw:
		if err := fc.compileNode(node.Expr); err != nil {
			return err
		}
		fc.emit(OpThrow, node.Position())
		return nil

	case *ast.Try:
		return fc.compileTry(node)

	case *ast.DefMulti:
		if err := fc.compileNode(node.DispatchFn); err != nil {
			return err
		}
		spec := fc.chunk.addDefSpec(DefSpec{Name: node.Name})
		fc.emit(OpDefMulti, node.Position(), spec)
		return nil

	case *ast.DefMethod:
		if err := fc.compileNode(node.DispatchVal); err != nil {
			return err
		}
		if err := fc.compileNode(node.Fn); err != nil {
			return err
		}
		spec := fc.chunk.addDefSpec(DefSpec{Name: node.Name})
		fc.emit(OpDefMethod, node.Position(), spec)
		return nil

	case *ast.DefProtocol:
		names := make([]string, len(node.Methods))
		for i, m := range node.Methods {
			names[i] = m.Name
		}
		spec := fc.chunk.addProtocolSpec(ProtocolSpec{Name: node.Name, Methods: names})
		fc.emit(OpDefProtocol, node.Position(), spec)
		return nil

	case *ast.ExtendType:
		names := make([]string, len(node.Methods))
		for i, m := range node.Methods {
			if err := fc.compileNode(m.Fn); err != nil {
				return err
			}
			names[i] = m.Name
		}
		spec := fc.chunk.addExtendSpec(ExtendSpec{TypeName: node.TypeName, Protocol: node.Protocol, Methods: names})
		fc.emit(OpExtendType, node.Position(), spec)
		return nil

	case *ast.LazySeqNode:
		return fc.compileLazySeq(node)

	case *ast.Program:
		return fc.compileBody(node.Forms, node.Position())
	}
	return fmt.Errorf("compiler: unhandled node %T", n)
}

func (fc *fnCompiler) compileIf(n *ast.If) error {
	if err := fc.compileNode(n.Test); err != nil {
		return err
	}
	elseLabel := fc.newLabel()
	endLabel := fc.newLabel()
	fc.emitJump(OpJumpIfFalse, elseLabel, n.Position())
	if err := fc.compileNode(n.Then); err != nil {
		return err
	}
	fc.emitJump(OpJump, endLabel, n.Position())
	fc.placeLabel(elseLabel)
	if err := fc.compileNode(n.Else); err != nil {
		return err
	}
	fc.placeLabel(endLabel)
	return nil
}

// bindingsOf returns the Bindings slice shared by Let and Letfn nodes.
func bindingsOf(n ast.Node) ([]ast.Binding, []ast.Node, ast.Pos) {
	switch l := n.(type) {
	case *ast.Let:
		return l.Bindings, l.Body, l.Position()
	case *ast.Letfn:
		return l.Bindings, l.Body, l.Position()
	}
	return nil, nil, ast.Pos{}
}

func (fc *fnCompiler) compileLet(n ast.Node) error {
	bindings, body, pos := bindingsOf(n)
	for _, b := range bindings {
		if err := fc.compileNode(b.Init); err != nil {
			return err
		}
		fc.noteLocal(b.Idx)
		fc.emit(OpStoreLocal, pos, b.Idx)
	}
	return fc.compileBody(body, pos)
}

func (fc *fnCompiler) compileLoop(n *ast.Loop) error {
	slots := make([]int, len(n.Bindings))
	for i, b := range n.Bindings {
		if err := fc.compileNode(b.Init); err != nil {
			return err
		}
		fc.noteLocal(b.Idx)
		fc.emit(OpStoreLocal, n.Position(), b.Idx)
		slots[i] = b.Idx
	}
	startLabel := fc.newLabel()
	fc.placeLabel(startLabel)
	fc.loops = append(fc.loops, loopCtx{startLabel: startLabel, slots: slots})
	err := fc.compileBody(n.Body, n.Position())
	fc.loops = fc.loops[:len(fc.loops)-1]
	return err
}

func (fc *fnCompiler) compileRecur(n *ast.Recur) error {
	if len(fc.loops) == 0 {
		return fmt.Errorf("recur used outside loop or fn")
	}
	loop := fc.loops[len(fc.loops)-1]
	if len(n.Args) != len(loop.slots) {
		return fmt.Errorf("recur expects %d args, got %d", len(loop.slots), len(n.Args))
	}
	for _, a := range n.Args {
		if err := fc.compileNode(a); err != nil {
			return err
		}
	}
	for i := len(loop.slots) - 1; i >= 0; i-- {
		fc.emit(OpStoreLocal, n.Position(), loop.slots[i])
	}
	fc.emitJump(OpJump, loop.startLabel, n.Position())
	// recur never falls through; push nil so any surrounding expression
	// compiled around it (there shouldn't be one in tail position) still
	// balances the stack if this analysis ever changes.
	fc.emitConst(value.Nil, n.Position())
	return nil
}

func (fc *fnCompiler) compileCall(n *ast.Call) error {
	if vr, ok := n.Callee.(*ast.VarRef); ok && vr.Namespace == "" {
		if op, ok := collectionIntrinsics[vr.Name]; ok {
			for _, a := range n.Args {
				if err := fc.compileNode(a); err != nil {
					return err
				}
			}
			count := len(n.Args)
			if op == OpMakeMap {
				count /= 2
			}
			fc.emit(op, n.Position(), count)
			return nil
		}
		if op, ok := binIntrinsics[vr.Name]; ok && len(n.Args) == 2 {
			return fc.compileBinIntrinsic(op, n.Args[0], n.Args[1], n.Position())
		}
		if op, ok := unaryIntrinsics[vr.Name]; ok && len(n.Args) == 1 {
			if err := fc.compileNode(n.Args[0]); err != nil {
				return err
			}
			fc.emit(op, n.Position())
			return nil
		}
	}
	if err := fc.compileNode(n.Callee); err != nil {
		return err
	}
	for _, a := range n.Args {
		if err := fc.compileNode(a); err != nil {
			return err
		}
	}
	fc.emit(OpCall, n.Position(), len(n.Args))
	return nil
}

func (fc *fnCompiler) compileBinIntrinsic(op Op, a, b ast.Node, pos ast.Pos) error {
	la, aIsLocal := a.(*ast.LocalRef)
	lb, bIsLocal := b.(*ast.LocalRef)
	if aIsLocal && la.Depth == 0 && bIsLocal && lb.Depth == 0 {
		if fused, ok := fusedOp(op); ok {
			fc.noteLocal(la.Idx)
			fc.noteLocal(lb.Idx)
			fc.emit(fused, pos, la.Idx, lb.Idx)
			return nil
		}
	}
	if err := fc.compileNode(a); err != nil {
		return err
	}
	if err := fc.compileNode(b); err != nil {
		return err
	}
	fc.emit(op, pos)
	return nil
}

func (fc *fnCompiler) compileDef(n *ast.Def, isMacro bool) error {
	if n.Init != nil {
		if err := fc.compileNode(n.Init); err != nil {
			return err
		}
	} else {
		fc.emitConst(value.Nil, n.Position())
	}
	spec := fc.chunk.addDefSpec(DefSpec{
		Name: n.Name, IsMacro: n.IsMacro || isMacro, IsDynamic: n.IsDynamic,
		IsPrivate: n.IsPrivate, Doc: n.Doc, ArgLists: n.ArgLists,
	})
	fc.emit(OpDefVar, n.Position(), spec)
	return nil
}

// compileFnNode compiles every arity of a (possibly multi-arity) fn,
// merging them into a single value.Fn at runtime via OpAddArity.
func (fc *fnCompiler) compileFnNode(n *ast.Fn) error {
	if len(n.Arities) == 0 {
		return fmt.Errorf("fn requires at least one arity")
	}
	for i := range n.Arities {
		arity := n.Arities[i]
		proto, err := fc.compileArity(n.Name, &arity, n.Position())
		if err != nil {
			return err
		}
		protoIdx := fc.chunk.addProto(proto)
		fc.loadCaptures(proto.Upvalues, n.Position())
		fc.emit(OpMakeFn, n.Position(), protoIdx, len(proto.Upvalues))
		if i > 0 {
			fc.emit(OpAddArity, n.Position())
		}
	}
	return nil
}

func (fc *fnCompiler) compileArity(name string, arity *ast.Arity, pos ast.Pos) (*FnProto, error) {
	child := newFnCompiler(fc, fc.env, fc.ns)
	selfSlot, restSlot := -1, -1
	if arity.SelfIdx >= 0 {
		selfSlot = arity.SelfIdx
		child.noteLocal(selfSlot)
	}
	for _, idx := range arity.ParamIdx {
		child.noteLocal(idx)
	}
	if arity.Variadic && arity.RestIdx >= 0 {
		restSlot = arity.RestIdx
		child.noteLocal(restSlot)
	}
	loopSlots := append([]int{}, arity.ParamIdx...)
	child.loops = append(child.loops, loopCtx{startLabel: -1, slots: loopSlots})
	startLabel := child.newLabel()
	child.placeLabel(startLabel)
	child.loops[0].startLabel = startLabel
	if err := child.compileBody(arity.Body, pos); err != nil {
		return nil, err
	}
	child.emit(OpReturn, pos)
	chunk, err := child.assemble()
	if err != nil {
		return nil, err
	}
	ns := ""
	if fc.ns != nil {
		ns = fc.ns.Name
	}
	return &FnProto{
		Name:       name,
		Chunk:      chunk,
		numParams:  len(arity.ParamIdx),
		variadic:   arity.Variadic,
		NumLocals:  child.maxLocal + 1,
		ParamSlots: append([]int{}, arity.ParamIdx...),
		SelfSlot:   selfSlot,
		RestSlot:   restSlot,
		Upvalues:   child.upvalues,
		DefiningNS: ns,
	}, nil
}

func (fc *fnCompiler) compileLazySeq(n *ast.LazySeqNode) error {
	child := newFnCompiler(fc, fc.env, fc.ns)
	if err := child.compileBody(n.Body, n.Position()); err != nil {
		return err
	}
	child.emit(OpReturn, n.Position())
	chunk, err := child.assemble()
	if err != nil {
		return err
	}
	ns := ""
	if fc.ns != nil {
		ns = fc.ns.Name
	}
	proto := &FnProto{
		Chunk: chunk, numParams: 0, variadic: false,
		NumLocals: child.maxLocal + 1, SelfSlot: -1, RestSlot: -1,
		Upvalues: child.upvalues, DefiningNS: ns,
	}
	protoIdx := fc.chunk.addProto(proto)
	fc.loadCaptures(proto.Upvalues, n.Position())
	fc.emit(OpLazySeq, n.Position(), protoIdx, len(proto.Upvalues))
	return nil
}

// compileTry compiles a try/catch/finally. A single PushHandler entry
// covers every catch clause: the handler's compiled code itself tests
// each clause's class in order (CatchTest peeks, never consumes, so a
// non-matching test leaves the in-flight exception in place for the
// next test), binds and runs the first match, or re-throws if none
// match. finally (if present) is re-emitted, value-discarding, on every
// exit path: normal completion, each catch's completion, and the
// re-throw path.
func (fc *fnCompiler) compileTry(n *ast.Try) error {
	handlerLabel := fc.newLabel()
	endLabel := fc.newLabel()

	fc.emitJump(OpPushHandler, handlerLabel, n.Position())
	if err := fc.compileBody(n.Body, n.Position()); err != nil {
		return err
	}
	fc.emit(OpPopHandler, n.Position())
	if err := fc.emitFinally(n.Finally); err != nil {
		return err
	}
	fc.emitJump(OpJump, endLabel, n.Position())

	fc.placeLabel(handlerLabel)
	for _, c := range n.Catches {
		nextLabel := fc.newLabel()
		classIdx := noClass
		if c.ClassName != "" {
			classIdx = fc.chunk.addConstant(value.NewString(c.ClassName))
		}
		fc.emit(OpCatchTest, n.Position(), classIdx)
		fc.emitJump(OpJumpIfFalse, nextLabel, n.Position())
		fc.noteLocal(c.BindIdx)
		fc.emit(OpStoreLocal, n.Position(), c.BindIdx)
		if err := fc.compileBody(c.Body, n.Position()); err != nil {
			return err
		}
		if err := fc.emitFinally(n.Finally); err != nil {
			return err
		}
		fc.emitJump(OpJump, endLabel, n.Position())
		fc.placeLabel(nextLabel)
	}
	if err := fc.emitFinally(n.Finally); err != nil {
		return err
	}
	fc.emit(OpThrow, n.Position())

	fc.placeLabel(endLabel)
	return nil
}

func (fc *fnCompiler) emitFinally(finally []ast.Node) error {
	for _, n := range finally {
		if err := fc.compileNode(n); err != nil {
			return err
		}
		fc.emit(OpPop, n.Position())
	}
	return nil
}

// assemble lowers fc's instr list into a byte-code Chunk, resolving jump
// labels to absolute byte offsets. Every operand is a fixed 2-byte word,
// so an instruction's byte length is determined purely by its operand
// count; fusion happens during emission (compileBinIntrinsic), never as
// a later byte-level rewrite, so there is no risk of a jump target
// landing inside an instruction's operand bytes.
func (fc *fnCompiler) assemble() (*Chunk, error) {
	offsets := make([]int, len(fc.code)+1)
	off := 0
	for i, in := range fc.code {
		offsets[i] = off
		off += 1 + 2*len(in.operands)
	}
	offsets[len(fc.code)] = off

	labelOffset := make(map[int]int, len(fc.labelPos))
	for label, idx := range fc.labelPos {
		labelOffset[label] = offsets[idx]
	}

	code := make([]byte, 0, off)
	lines := make([]int, 0, off)
	cols := make([]int, 0, off)
	for _, in := range fc.code {
		code = append(code, byte(in.op))
		lines = append(lines, in.pos.Line)
		cols = append(cols, in.pos.Column)
		for i, operand := range in.operands {
			v := operand
			if in.isLabel[i] {
				resolved, ok := labelOffset[operand]
				if !ok {
					return nil, fmt.Errorf("compiler: unresolved jump label %d", operand)
				}
				v = resolved
			}
			code = append(code, byte(v>>8), byte(v))
			lines = append(lines, in.pos.Line, in.pos.Line)
			cols = append(cols, in.pos.Column, in.pos.Column)
		}
	}
	fc.chunk.Code = code
	fc.chunk.Lines = lines
	fc.chunk.Columns = cols
	return fc.chunk, nil
}

// Compiler drives compilation of one namespace's top-level forms.
type Compiler struct {
	env *runtime.Environment
	ns  *runtime.Namespace
}

// NewCompiler builds a Compiler for ns (named to avoid colliding with
// vm.New, the VM constructor, in this same package).
func NewCompiler(env *runtime.Environment, ns *runtime.Namespace) *Compiler {
	return &Compiler{env: env, ns: ns}
}

// CompileProgram compiles a whole analyzed program as a zero-arg
// top-level function whose body is the program's forms in sequence; the
// VM runs it as an ordinary call with no arguments.
func (c *Compiler) CompileProgram(prog *ast.Program) (*FnProto, error) {
	fc := newFnCompiler(nil, c.env, c.ns)
	if err := fc.compileBody(prog.Forms, prog.Position()); err != nil {
		return nil, err
	}
	fc.emit(OpReturn, prog.Position())
	chunk, err := fc.assemble()
	if err != nil {
		return nil, err
	}
	ns := ""
	if c.ns != nil {
		ns = c.ns.Name
	}
	return &FnProto{
		Chunk: chunk, numParams: 0, variadic: false,
		NumLocals: fc.maxLocal + 1, SelfSlot: -1, RestSlot: -1, DefiningNS: ns,
	}, nil
}
