package hack

import (
	"fmt"
	"strconv"
)

// ----------------------------------------------------------------------------
// Translation tables

// This section contains the translation tables cornerstone of the codegen phase.
//
// Built-in symbol addresses live in 'hack.NewSymbolTable' instead of a separate
// table here, since they share the same resolution path as user-defined labels.
//  - 'CompTable': Specifies how to translate the 'Comp' opcode in C instructions
//  - 'DestTable': Specifies how to translate the 'Dest' opcode in C instructions
//  - 'JumpTable': Specifies how to translate the 'Jump' opcode in C instructions

var (
	CompTable = map[string]uint16{
		// - Constants and identities
		"0": 0b0101010, "1": 0b0111111, "-1": 0b0111010,
		"D": 0b0001100, "A": 0b0110000, "M": 0b1110000,
		// - Binary and numerical negations
		"!D": 0b0001101, "!A": 0b0110001, "!M": 0b1110001,
		"-D": 0b0001111, "-A": 0b0110011, "-M": 0b1110011,
		// - Increment and decrement operations
		"D+1": 0b0011111, "A+1": 0b0110111, "M+1": 0b1110111,
		"D-1": 0b0001110, "A-1": 0b0110010, "M-1": 0b1110010,
		// - Register with register operations
		"D+A": 0b0000010, "D+M": 0b1000010,
		"D-A": 0b0010011, "D-M": 0b1010011,
		"A-D": 0b0000111, "M-D": 0b1000111,
		// - Bitwise register with register operations
		"D&A": 0b0000000, "D&M": 0b1000000,
		"D|A": 0b0010101, "D|M": 0b1010101,
	}

	DestTable = map[string]uint16{
		"": 0b000, "M": 0b001, "D": 0b010, "A": 0b100,
		"MD": 0b011, "AM": 0b101, "AD": 0b110, "AMD": 0b111,
	}

	JumpTable = map[string]uint16{
		"": 0b000, "JGT": 0b001, "JEQ": 0b010, "JGE": 0b011,
		"JLT": 0b100, "JNE": 0b101, "JLE": 0b110, "JMP": 0b111,
	}
)

// ----------------------------------------------------------------------------
// Code Generator

// Takes a set of 'hack.Instruction' and spits out their binary counterparts.
//
// This is the assembler's pass 2 (see spec.md §4.8): user-defined labels must
// already be bound in 'SymbolTable' by the time 'Generate' runs ('asm.Lowerer'
// handles that as pass 1). What's left to resolve here is the allocation of
// fresh user variables, which is inherently a pass-2 concern since a variable's
// final address depends on allocation order across the whole program.
type CodeGenerator struct {
	Program     Program     // The set of instructions to convert in Hack binary format
	SymbolTable SymbolTable // Mapping to resolve user-defined labels to their underlying address
	nextVar     uint16      // Next free address to hand out to a newly discovered variable
}

// Initializes and returns to the caller a brand new 'CodeGenerator' struct.
// Requires both a non-nil Program 'p' (what we want to translate) as well as
// a non-nil SymbolTable 'st' (pre-populated with built-ins and pass-1 labels).
func NewCodeGenerator(p Program, st SymbolTable) *CodeGenerator {
	return &CodeGenerator{Program: p, SymbolTable: st, nextVar: 16}
}

// Translates each instruction in the 'Program' to the Hack binary format.
//
// Each instruction will pass through the following step: evaluation, validation and then conversion
// to its binary representation (16 '0'/'1' characters) so that it can be further elaborated by the
// function caller (e.g. dumping .hack code to a file, runtime interpretation, ...).
func (cg *CodeGenerator) Generate() ([]string, error) {
	compiled := make([]string, 0, len(cg.Program))

	for _, instruction := range cg.Program {
		var generated string
		var err error

		switch tInstruction := instruction.(type) {
		case AInstruction:
			generated, err = cg.GenerateAInst(tInstruction)
		case CInstruction:
			generated, err = cg.GenerateCInst(tInstruction)
		default:
			err = fmt.Errorf("unrecognized instruction '%T'", instruction)
		}

		if err != nil {
			return nil, err
		}
		compiled = append(compiled, generated)
	}

	return compiled, nil
}

// Specialized function to convert an A Instruction to the Hack format.
//
// As part of the conversion (for both built-in and user-defined labels) there's a lookup
// on their respective symbol tables in order to determine the 'real' location address.
// For location not resolved or resolved to an Out-of-Bound address an error is returned.
func (cg *CodeGenerator) GenerateAInst(inst AInstruction) (string, error) {
	var address uint16

	switch inst.LocType {
	case Raw: // Simply translate the raw address from 'string' to 'int'
		num, err := strconv.ParseUint(inst.LocName, 10, 16)
		if err != nil {
			return "", fmt.Errorf("malformed raw address '%s': %w", inst.LocName, err)
		}
		address = uint16(num)

	case Label, BuiltIn: // Lookup the symbol, allocating a fresh variable on first sight
		resolved, found := cg.SymbolTable[inst.LocName]
		if !found && inst.LocType == BuiltIn {
			return "", fmt.Errorf("unresolved built-in symbol '%s'", inst.LocName)
		}
		if !found {
			// Assign a new memory location starting from 16 onwards, the rest of
			// the table update ensures future references resolve to the same slot.
			if cg.nextVar > MaxUserMemory {
				return "", fmt.Errorf("cannot allocate variable '%s': RAM[%d] exhausted", inst.LocName, MaxUserMemory)
			}
			resolved = cg.nextVar
			cg.SymbolTable[inst.LocName] = resolved
			cg.nextVar++
		}
		address = resolved

	default:
		return "", fmt.Errorf("unrecognized location type '%d' for '%s'", inst.LocType, inst.LocName)
	}

	// An A instruction always has the first bit set to zero (the opcode bit) this also mean
	// that, since each instructions 16 bit there are only 15 bit to address the Hack computer
	// memory this in turn means that the an address over 2^15 is invalid and out of bound.
	if address >= MaxAddressableMemory {
		return "", fmt.Errorf("address %d for '%s' is out of range (max %d)", address, inst.LocName, MaxAddressableMemory-1)
	}
	// So here we just need to convert the address to its 16 bit binary representation
	return fmt.Sprintf("%016b", address), nil
}

// Specialized function to convert a C Instruction to the Hack format.
//
// 'Comp' is mandatory; 'Dest' and 'Jump' default to their "absent" bit-codes
// ('000') when left empty, matching spec.md §4.8.
func (cg *CodeGenerator) GenerateCInst(inst CInstruction) (string, error) {
	command := uint16(0b111 << 13) // Puts the initial '111' opcode at the start

	opcode, found := CompTable[inst.Comp]
	if !found {
		return "", fmt.Errorf("unable to translate C instruction, unknown 'comp' opcode '%s'", inst.Comp)
	}
	command |= opcode << 6

	// CInst.Dest: Command translation with bit-a-bit manipulation
	if opcode, found := DestTable[inst.Dest]; found {
		command |= opcode << 3
	} else {
		return "", fmt.Errorf("unable to translate C instruction, unknown 'dest' opcode '%s'", inst.Dest)
	}
	// CInst.Jump: Command translation with bit-a-bit manipulation
	if opcode, found := JumpTable[inst.Jump]; found {
		command |= opcode
	} else {
		return "", fmt.Errorf("unable to translate C instruction, unknown 'jump' opcode '%s'", inst.Jump)
	}

	return fmt.Sprintf("%016b", command), nil
}
