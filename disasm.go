package esh

import (
	"fmt"
	"strings"

	"github.com/eshlang/esh/ascii"
)

// Disassemble renders a FunctionTemplate's bytecode one instruction per
// line, colored by ascii.DefaultTheme's dedicated disassembly columns
// (gutter/mnemonic/operand/immediate/jump target). It exists for the
// same reason the teacher ships a disassembler for its own generated
// parser code: a human needs to read what the compiler produced
// without single-stepping the VM (spec.md §4.2, §4.8).
func Disassemble(t *FunctionTemplate) string {
	return DisassembleTheme(t, ascii.DefaultTheme)
}

// DisassembleTheme is Disassemble with an explicit color theme; pass
// ascii.Theme{} for uncolored output (e.g. writing to a file or a
// non-terminal).
func DisassembleTheme(t *FunctionTemplate, theme ascii.Theme) string {
	var b strings.Builder
	name := t.Name
	if name == "" {
		name = "anonymous"
	}
	fmt.Fprintf(&b, "%sfunction %s%s  (args=%d opt=%d locals=%d variadic=%t upval=%t)\n",
		theme.Accent, name, ascii.Reset, t.NArgs, t.OptArgs, t.NLocals, t.Variadic, t.UpvalLocal)

	if t.Native != nil {
		fmt.Fprintf(&b, "  %s<native>%s\n", theme.Comment, ascii.Reset)
		return b.String()
	}

	for i := 0; i < t.InstrCount(); i++ {
		instr := t.Instr(i)
		line := t.LineAt(i)
		fmt.Fprintf(&b, "%s%4d%s  %s// line %d%s\n", theme.Gutter, i, ascii.Reset, theme.Comment, line, ascii.Reset)
		fmt.Fprintf(&b, "       %s%-10s%s %s\n", theme.Mnemonic, instr.Op.String(), ascii.Reset, operandString(t, instr, theme))
	}
	return b.String()
}

// operandString renders an instruction's arg/l fields with whatever
// extra context makes them legible: the resolved immediate for IMM, the
// resolved jump target for JMP/JMP_IF/JMP_IFN, the global name for
// LOAD_G/STORE_G.
func operandString(t *FunctionTemplate, instr Instruction, theme ascii.Theme) string {
	switch instr.Op {
	case OpImm:
		if int(instr.Arg) < len(t.Imms) {
			return fmt.Sprintf("%s%s%s", theme.Immediate, DebugString(t.Imms[instr.Arg]), ascii.Reset)
		}
	case OpLoadG, OpStoreG:
		if int(instr.Arg) < len(t.Imms) {
			if name, ok := ReadString(t.Imms[instr.Arg]); ok {
				return fmt.Sprintf("%s%s%s", theme.Operand, name, ascii.Reset)
			}
		}
	case OpJmp, OpJmpIf, OpJmpIfN:
		if int(instr.Arg) < len(t.Labels) {
			return fmt.Sprintf("%s-> %d%s", theme.JumpTarget, t.Labels[instr.Arg], ascii.Reset)
		}
	case OpLoad, OpStore:
		return fmt.Sprintf("%sslot %d, up %d%s", theme.Operand, instr.Arg, instr.L, ascii.Reset)
	case OpCall, OpRet, OpNewObj, OpUnpack, OpConcat:
		return fmt.Sprintf("%s%d%s", theme.Operand, instr.Arg, ascii.Reset)
	case OpCmd:
		return fmt.Sprintf("%sargs=%d l=%#02x%s", theme.Operand, instr.Arg, instr.L, ascii.Reset)
	case OpClosure:
		if int(instr.Arg) < len(t.Imms) {
			if obj := AsObject(t.Imms[instr.Arg]); obj != nil && obj.kind == objTemplate {
				return fmt.Sprintf("%s%s%s", theme.Operand, obj.template.Name, ascii.Reset)
			}
		}
	}
	return ""
}
