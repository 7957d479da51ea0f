package asm

import (
	"fmt"
	"strconv"

	"github.com/hmny-archive/hackcompiler/pkg/hack"
)

// ----------------------------------------------------------------------------
// Asm Lowerer

// The Lowerer takes an 'asm.Program' and produces its 'hack.Program' counterpart.
//
// This is the assembler's pass 1 (see spec.md §4.8 / SPEC_FULL.md §2.2): implemented
// as one linear scan, since a label's PC is exactly the count of "real" instructions
// already lowered when the label declaration is encountered. Built-in symbol addresses
// and user variable allocation are left for pass 2, handled downstream by
// 'hack.CodeGenerator'.
type Lowerer struct {
	program  Program
	builtins hack.SymbolTable
}

// Initializes and returns to the caller a brand new 'Lowerer' struct.
// Requires the argument Program to be not nil nor empty.
func NewLowerer(p Program) Lowerer {
	return Lowerer{program: p, builtins: hack.NewSymbolTable()}
}

// Triggers the lowering process. It iterates instruction by instruction, converting
// A/C instructions to their Hack IR counterpart and binding label declarations to the
// position (PC) of the next real instruction in the returned 'hack.SymbolTable'.
func (l *Lowerer) Lower() (hack.Program, hack.SymbolTable, error) {
	if l.program == nil || len(l.program) == 0 {
		return nil, nil, fmt.Errorf("the given 'program' is empty")
	}

	converted, table := hack.Program{}, hack.NewSymbolTable()
	labels := map[string]bool{} // tracks which 'table' entries came from a label decl, not a built-in

	for _, asmInst := range l.program {
		switch tAsmInst := asmInst.(type) {
		case AInstruction: // Converts 'asm.AInstruction' to 'hack.AInstruction'
			hackInst, err := l.HandleAInst(tAsmInst)
			if hackInst == nil || err != nil {
				return nil, nil, err
			}
			converted = append(converted, hackInst)

		case CInstruction: // Converts 'asm.CInstruction' to 'hack.CInstruction'
			hackInst, err := l.HandleCInst(tAsmInst)
			if hackInst == nil || err != nil {
				return nil, nil, err
			}
			converted = append(converted, hackInst)

		case LabelDecl: // Binds 'asm.LabelDecl' to its PC in the 'hack.SymbolTable'
			label, err := l.HandleLabelDecl(tAsmInst)
			if err != nil {
				return nil, nil, err
			}
			if _, isBuiltin := l.builtins[label]; isBuiltin {
				return nil, nil, fmt.Errorf("label '%s' cannot redefine a built-in symbol", label)
			}
			if labels[label] && table[label] != uint16(len(converted)) {
				return nil, nil, fmt.Errorf("duplicate label declaration '%s'", label)
			}
			labels[label] = true
			table[label] = uint16(len(converted))

		default: // Error case, unrecognized operation type
			return nil, nil, fmt.Errorf("unrecognized instruction '%T'", asmInst)
		}
	}

	return converted, table, nil
}

// Specialized function to convert a 'asm.AInstruction' node to an 'hack.AInstruction'.
func (l *Lowerer) HandleAInst(inst AInstruction) (hack.Instruction, error) {
	if inst.Location == "" {
		return nil, fmt.Errorf("unable to lower A instruction with empty location")
	}
	// 1) If it's present in the predefined symbols we set the 'LocType' to 'BuiltIn'
	if _, found := l.builtins[inst.Location]; found {
		return hack.AInstruction{LocType: hack.BuiltIn, LocName: inst.Location}, nil
	}
	// 2) If it can be parsed as a non-negative int we set the 'LocType' to 'Raw'
	if _, err := strconv.ParseUint(inst.Location, 10, 64); err == nil {
		return hack.AInstruction{LocType: hack.Raw, LocName: inst.Location}, nil
	}
	// 3) Else it's a user defined label (or variable) and we set 'LocType' to 'Label'
	return hack.AInstruction{LocType: hack.Label, LocName: inst.Location}, nil
}

// Specialized function to convert a 'asm.CInstruction' node to an 'hack.CInstruction'.
func (Lowerer) HandleCInst(inst CInstruction) (hack.Instruction, error) {
	if inst.Comp == "" { // Pre-check: CInstruction.Comp should always be provided
		return nil, fmt.Errorf("'Comp' sub-instruction should always be provided")
	}

	return hack.CInstruction{Comp: inst.Comp, Dest: inst.Dest, Jump: inst.Jump}, nil
}

// Specialized function to extract from a 'asm.LabelDecl' node to the identifier of the label.
func (Lowerer) HandleLabelDecl(inst LabelDecl) (string, error) {
	if inst.Name == "" {
		return "", fmt.Errorf("unable to lower empty label declaration")
	}
	return inst.Name, nil
}
