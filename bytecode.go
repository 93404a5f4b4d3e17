package esh

import "encoding/binary"

// Opcode is the VM's closed instruction set (spec.md §4.2).
type Opcode uint8

const (
	OpPop Opcode = iota
	OpLoad
	OpStore
	OpLoadG
	OpStoreG
	OpJmp
	OpJmpIfN
	OpJmpIf
	OpImm
	OpPushNull
	OpCall
	OpRet
	OpClosure
	OpCmd
	OpAdd
	OpSub
	OpMul
	OpDiv
	OpLess
	OpGreater
	OpLessEq
	OpGreaterEq
	OpEq
	OpNeq
	OpNot
	OpDup
	OpSwap
	OpNewObj
	OpMakeConst
	OpIndex
	OpSetIndex
	OpUnpack
	OpProp
	OpConcat
)

var opNames = [...]string{
	OpPop: "pop", OpLoad: "load", OpStore: "store", OpLoadG: "load_g",
	OpStoreG: "store_g", OpJmp: "jmp", OpJmpIfN: "jmp_ifn", OpJmpIf: "jmp_if",
	OpImm: "imm", OpPushNull: "push_null", OpCall: "call", OpRet: "ret",
	OpClosure: "closure", OpCmd: "cmd", OpAdd: "add", OpSub: "sub",
	OpMul: "mul", OpDiv: "div", OpLess: "less", OpGreater: "greater",
	OpLessEq: "less_eq", OpGreaterEq: "greater_eq", OpEq: "eq", OpNeq: "neq",
	OpNot: "not", OpDup: "dup", OpSwap: "swap", OpNewObj: "new_obj",
	OpMakeConst: "make_const", OpIndex: "index", OpSetIndex: "set_index",
	OpUnpack: "unpack", OpProp: "prop", OpConcat: "concat",
}

func (op Opcode) String() string {
	if int(op) < len(opNames) {
		return opNames[op]
	}
	return "unknown"
}

// instrSize is the fixed instruction width: op:u8, arg:u16 (LE), l:u8
// (spec.md §4.2).
const instrSize = 4

// Instruction is a single decoded bytecode record.
type Instruction struct {
	Op  Opcode
	Arg uint16
	L   uint8
}

// encodeInstr packs an Instruction into its 4-byte wire form.
func encodeInstr(i Instruction) [instrSize]byte {
	var b [instrSize]byte
	b[0] = byte(i.Op)
	binary.LittleEndian.PutUint16(b[1:3], i.Arg)
	b[3] = i.L
	return b
}

// decodeInstr unpacks a 4-byte record back into an Instruction.
func decodeInstr(b []byte) Instruction {
	return Instruction{
		Op:  Opcode(b[0]),
		Arg: binary.LittleEndian.Uint16(b[1:3]),
		L:   b[3],
	}
}

// lineDirective maps an instruction index to the source line active at
// that point; redundant repeats are coalesced by the compiler (spec.md
// §4.3, §4.8).
type lineDirective struct {
	instrIndex int
	line       int
}

// FunctionTemplate is the immutable descriptor of a callable: either an
// interpreted function (Code/Labels/Imms/LineDirs populated) or a host
// native function (Native populated, Code empty), per spec.md §3, §4.2.
type FunctionTemplate struct {
	Name string

	Code   []byte // instrSize-byte records, flattened
	Imms   []Value
	Labels []int // label index -> target instruction index
	Lines  []lineDirective

	NArgs      int
	OptArgs    int
	NLocals    int
	Variadic   bool
	UpvalLocal bool // locals may be captured, so they live in an Environment

	Native NativeFunc
}

// NativeFunc is a host-registered callable. step starts at 0 and
// increments across Call/TryCall/Repeat re-entries, letting a native
// function express a stateful loop as a sequence of re-entries instead
// of host-side recursion (spec.md §4.5, §9).
type NativeFunc func(s *State, nArgs int, step int) NativeResult

// InstrCount returns how many instructions Code holds.
func (t *FunctionTemplate) InstrCount() int { return len(t.Code) / instrSize }

// Instr decodes the instruction at index i.
func (t *FunctionTemplate) Instr(i int) Instruction {
	return decodeInstr(t.Code[i*instrSize : i*instrSize+instrSize])
}

// AppendInstr appends an instruction to the template's code buffer.
func (t *FunctionTemplate) AppendInstr(i Instruction) int {
	idx := t.InstrCount()
	enc := encodeInstr(i)
	t.Code = append(t.Code, enc[:]...)
	return idx
}

// SetInstr overwrites the instruction at index idx — used by the
// compiler to patch jump targets after forward references resolve.
func (t *FunctionTemplate) SetInstr(idx int, i Instruction) {
	enc := encodeInstr(i)
	copy(t.Code[idx*instrSize:idx*instrSize+instrSize], enc[:])
}

// AddImm appends v to the immediates table and returns its index.
func (t *FunctionTemplate) AddImm(v Value) uint16 {
	t.Imms = append(t.Imms, v)
	return uint16(len(t.Imms) - 1)
}

// NewLabel reserves a new, as-yet-unresolved label.
func (t *FunctionTemplate) NewLabel() uint16 {
	t.Labels = append(t.Labels, -1)
	return uint16(len(t.Labels) - 1)
}

// PutLabel resolves label to the next instruction that will be
// emitted.
func (t *FunctionTemplate) PutLabel(label uint16) {
	t.Labels[label] = t.InstrCount()
}

// LineDirective records that line is active starting at the next
// emitted instruction, coalescing consecutive repeats (spec.md §4.3).
func (t *FunctionTemplate) LineDirective(line int) {
	idx := t.InstrCount()
	if n := len(t.Lines); n > 0 && t.Lines[n-1].line == line {
		return
	}
	t.Lines = append(t.Lines, lineDirective{instrIndex: idx, line: line})
}

// LineAt returns the source line active at instruction index instr, by
// finding the greatest line directive whose instrIndex <= instr
// (spec.md §4.8).
func (t *FunctionTemplate) LineAt(instr int) int {
	best := 0
	for _, ld := range t.Lines {
		if ld.instrIndex <= instr {
			best = ld.line
		} else {
			break
		}
	}
	return best
}
