package asm

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/hmny-archive/hackcompiler/pkg/hack"
)

// ----------------------------------------------------------------------------
// Code Generator

// Takes some a set of 'asm.Statement' and spits out their textual counterparts.
//
// The translation can be done without any additional data structure but the program.
type CodeGenerator struct {
	program []Statement // The set of statements to convert in Hack binary format
}

// Initializes and returns to the caller a brand new 'CodeGenerator' struct.
// Requires that argument Program 'p' (what we want to translate) is non-nil.
func NewCodeGenerator(p []Statement) CodeGenerator {
	return CodeGenerator{program: p}
}

// Translate each statement in the 'program' field to the Asm textual format.
//
// Each instruction will pass through the following step: evaluation, validation and
// then conversion to its textual representation (a string) so that it can be further
// elaborated by the caller (e.g. dumping to a file, runtime interpretation, ...).
func (cg *CodeGenerator) Generate() ([]string, error) {
	asm := make([]string, 0, len(cg.program))

	for _, statement := range cg.program {
		var generated string = ""
		var err error = nil

		switch tStatement := statement.(type) {
		case AInstruction:
			generated, err = cg.GenerateAInst(tStatement)
		case CInstruction:
			generated, err = cg.GenerateCInst(tStatement)
		case LabelDecl:
			generated, err = cg.GenerateLabelDecl(tStatement)
		}

		if err != nil {
			return nil, err
		}
		asm = append(asm, generated)
	}

	return asm, nil
}

// Specialized function to convert an A Instruction to the Asm format.
//
// TODO(hmny): Add comment to document behavior
func (CodeGenerator) GenerateAInst(stmt AInstruction) (string, error) {
	if stmt.Location == "" {
		return "", errors.New("unable ro produce empty label declaration")
	}
	if num, err := strconv.ParseUint(stmt.Location, 10, 64); err == nil && num >= uint64(hack.MaxAddressableMemory) {
		return "", fmt.Errorf("address %s is out of range (max %d)", stmt.Location, hack.MaxAddressableMemory-1)
	}

	return fmt.Sprintf("@%s", stmt.Location), nil
}

// Specialized function to convert a C Instruction to the Asm format.
//
// 'Dest' and 'Jump' are both optional, but at least one must be present; when both
// are given the combined "dest=comp;jump" form is produced (valid Hack assembly).
func (cg *CodeGenerator) GenerateCInst(stmt CInstruction) (string, error) {
	if stmt.Comp == "" {
		return "", errors.New("expected 'comp' directive in C Instruction")
	}
	if stmt.Dest == "" && stmt.Jump == "" {
		return "", errors.New("expected either 'dest' or 'jump' directive in C Instruction")
	}

	generated := stmt.Comp
	if stmt.Dest != "" {
		generated = fmt.Sprintf("%s=%s", stmt.Dest, generated)
	}
	if stmt.Jump != "" {
		generated = fmt.Sprintf("%s;%s", generated, stmt.Jump)
	}
	return generated, nil
}

// Specialized function to convert an Label Declaration to the Asm format.
func (cg *CodeGenerator) GenerateLabelDecl(stmt LabelDecl) (string, error) {
	if stmt.Name == "" {
		return "", errors.New("unable to produce empty label declaration")
	}
	if _, found := hack.NewSymbolTable()[stmt.Name]; found {
		return "", fmt.Errorf("unable to override built-in label '%s'", stmt.Name)
	}

	return fmt.Sprintf("(%s)", stmt.Name), nil
}
