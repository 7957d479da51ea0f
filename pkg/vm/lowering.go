package vm

import (
	"fmt"
	"sort"
	"strings"

	"github.com/hmny-archive/hackcompiler/pkg/asm"
	"github.com/hmny-archive/hackcompiler/pkg/hack"
)

// ----------------------------------------------------------------------------
// Session

// Carries every piece of cross-operation state the lowering process needs, threaded
// explicitly through the 'Lowerer' instead of living in package-level vars: the static
// segment's index-to-address table (one slot per first-encounter (unit, index) pair)
// and the label-mint counters used by comparisons and call return-addresses.
type Session struct {
	statics    map[staticKey]uint16
	nextStatic uint16

	mintCounters map[string]int
	unit         string
}

type staticKey struct {
	unit  string
	index uint16
}

// Returns a brand new Session with the static allocator seeded at RAM[16], matching the
// same first-free-slot convention used by the Assembler's own variable allocation.
func NewSession() *Session {
	return &Session{statics: map[staticKey]uint16{}, nextStatic: 16, mintCounters: map[string]int{}}
}

// Resolves the RAM address bound to a given unit's static index, allocating a fresh slot
// on first encounter. Slots are shared with the Assembler's user-variable range, so
// exhaustion is reported with the same ceiling ('hack.MaxUserMemory').
func (s *Session) resolveStatic(index uint16) (uint16, error) {
	key := staticKey{unit: s.unit, index: index}

	if addr, found := s.statics[key]; found {
		return addr, nil
	}
	if s.nextStatic > hack.MaxUserMemory {
		return 0, fmt.Errorf("cannot allocate static %s.%d: RAM[%d] exhausted", s.unit, index, hack.MaxUserMemory)
	}

	addr := s.nextStatic
	s.statics[key] = addr
	s.nextStatic++
	return addr, nil
}

// Mints a fresh, globally unique label for the given base name (e.g. "EQ_TRUE" ->
// "EQ_TRUE.1", then "EQ_TRUE.2", ...). Each base name keeps its own counter.
func (s *Session) mintLabel(base string) string {
	s.mintCounters[base]++
	return strings.ToUpper(fmt.Sprintf("%s.%d", base, s.mintCounters[base]))
}

// ----------------------------------------------------------------------------
// Vm Lowerer

// The Lowerer takes a 'vm.Program' (one or more parsed translation units) and produces
// its 'asm.Program' counterpart, implementing the full VM calling convention.
//
// Units are translated in a stable, sorted order so that translating the same Program
// twice always yields byte-identical output (determinism matters for static allocation,
// since slot order depends on first-encounter order across units).
type Lowerer struct {
	program Program
	session *Session
}

// Initializes and returns to the caller a brand new 'Lowerer' struct.
func NewLowerer(p Program) *Lowerer {
	return &Lowerer{program: p, session: NewSession()}
}

// Runs the full translation: optionally prepends the bootstrap sequence, then lowers
// every unit's operations in sorted order, threading the Session across all of them.
func (l *Lowerer) Translate(bootstrap bool) (asm.Program, error) {
	program := asm.Program{}

	if bootstrap {
		program = append(program, l.bootstrap()...)
	}

	units := make([]string, 0, len(l.program))
	for unit := range l.program {
		units = append(units, unit)
	}
	sort.Strings(units)

	for _, unit := range units {
		l.session.unit = unit

		for _, operation := range l.program[unit] {
			converted, err := l.Lower(operation)
			if err != nil {
				return nil, fmt.Errorf("unit '%s': %w", unit, err)
			}
			program = append(program, converted...)
		}
	}

	return program, nil
}

// Dispatches a single VM operation to its specialized 'handle*' method.
func (l *Lowerer) Lower(operation Operation) ([]asm.Instruction, error) {
	switch tOperation := operation.(type) {
	case MemoryOp:
		return l.handleMemoryOp(tOperation)
	case ArithmeticOp:
		return l.handleArithmeticOp(tOperation)
	case LabelDecl:
		return l.handleLabelDecl(tOperation)
	case GotoOp:
		return l.handleGotoOp(tOperation)
	case FuncDecl:
		return l.handleFuncDecl(tOperation)
	case FuncCallOp:
		return l.handleFuncCallOp(tOperation)
	case ReturnOp:
		return l.handleReturnOp(tOperation)
	default:
		return nil, fmt.Errorf("unrecognized operation '%T'", operation)
	}
}

// ----------------------------------------------------------------------------
// Bootstrap

// Emits the standard nand2tetris bootstrap: sets SP to 256 then calls Sys.init with
// 0 arguments through the ordinary call path, per spec.md §4.6.
func (l *Lowerer) bootstrap() []asm.Instruction {
	insts := []asm.Instruction{
		asm.AInstruction{Location: "256"},
		asm.CInstruction{Comp: "A", Dest: "D"},
		asm.AInstruction{Location: "SP"},
		asm.CInstruction{Comp: "D", Dest: "M"},
	}

	l.session.unit = "Bootstrap"
	call, _ := l.handleFuncCallOp(FuncCallOp{Name: "Sys.init", NArgs: 0})
	return append(insts, call...)
}

// ----------------------------------------------------------------------------
// Memory Op

var segmentPointer = map[SegmentType]string{
	Local:    "LCL",
	Argument: "ARG",
	This:     "THIS",
	That:     "THAT",
}

// Specialized function lowering a 'MemoryOp' (push/pop over every segment) to its
// full Hack assembly sequence, per spec.md §4.3.
func (l *Lowerer) handleMemoryOp(op MemoryOp) ([]asm.Instruction, error) {
	switch op.Segment {
	case Constant:
		if op.Operation != Push {
			return nil, fmt.Errorf("'pop constant' is malformed, constant is push-only")
		}
		return append([]asm.Instruction{
			asm.AInstruction{Location: fmt.Sprint(op.Offset)},
			asm.CInstruction{Comp: "A", Dest: "D"},
		}, pushD()...), nil

	case Local, Argument, This, That:
		base := segmentPointer[op.Segment]
		if op.Operation == Push {
			return append([]asm.Instruction{
				asm.AInstruction{Location: fmt.Sprint(op.Offset)},
				asm.CInstruction{Comp: "A", Dest: "D"},
				asm.AInstruction{Location: base},
				asm.CInstruction{Comp: "D+M", Dest: "A"},
				asm.CInstruction{Comp: "M", Dest: "D"},
			}, pushD()...), nil
		}
		return append([]asm.Instruction{
			asm.AInstruction{Location: fmt.Sprint(op.Offset)},
			asm.CInstruction{Comp: "A", Dest: "D"},
			asm.AInstruction{Location: base},
			asm.CInstruction{Comp: "D+M", Dest: "D"},
			asm.AInstruction{Location: "R14"},
			asm.CInstruction{Comp: "D", Dest: "M"},
		}, popToR13()...), nil

	case Temp:
		if op.Offset > 7 {
			return nil, fmt.Errorf("invalid 'temp' offset, got %d (valid: 0-7)", op.Offset)
		}
		if op.Operation == Push {
			return append([]asm.Instruction{
				asm.AInstruction{Location: fmt.Sprint(5 + op.Offset)},
				asm.CInstruction{Comp: "M", Dest: "D"},
			}, pushD()...), nil
		}
		return append(popD(), []asm.Instruction{
			asm.AInstruction{Location: fmt.Sprint(5 + op.Offset)},
			asm.CInstruction{Comp: "D", Dest: "M"},
		}...), nil

	case Pointer:
		if op.Offset > 1 {
			return nil, fmt.Errorf("invalid 'pointer' offset, got %d (valid: 0-1)", op.Offset)
		}
		target := "THIS"
		if op.Offset == 1 {
			target = "THAT"
		}
		if op.Operation == Push {
			return append([]asm.Instruction{
				asm.AInstruction{Location: target},
				asm.CInstruction{Comp: "M", Dest: "D"},
			}, pushD()...), nil
		}
		return append(popD(), []asm.Instruction{
			asm.AInstruction{Location: target},
			asm.CInstruction{Comp: "D", Dest: "M"},
		}...), nil

	case Static:
		addr, err := l.session.resolveStatic(op.Offset)
		if err != nil {
			return nil, err
		}
		label := fmt.Sprintf("%s.%d", l.session.unit, addr)
		if op.Operation == Push {
			return append([]asm.Instruction{
				asm.AInstruction{Location: label},
				asm.CInstruction{Comp: "M", Dest: "D"},
			}, pushD()...), nil
		}
		return append(popD(), []asm.Instruction{
			asm.AInstruction{Location: label},
			asm.CInstruction{Comp: "D", Dest: "M"},
		}...), nil

	default:
		return nil, fmt.Errorf("unrecognized segment '%s'", op.Segment)
	}
}

// Appends the instructions pushing whatever value is currently in 'D' onto the stack.
func pushD() []asm.Instruction {
	return []asm.Instruction{
		asm.AInstruction{Location: "SP"},
		asm.CInstruction{Comp: "M", Dest: "A"},
		asm.CInstruction{Comp: "D", Dest: "M"},
		asm.AInstruction{Location: "SP"},
		asm.CInstruction{Comp: "M+1", Dest: "M"},
	}
}

// Pops the stack top into 'D', decrementing SP in the process.
func popD() []asm.Instruction {
	return []asm.Instruction{
		asm.AInstruction{Location: "SP"},
		asm.CInstruction{Comp: "M-1", Dest: "AM"},
		asm.CInstruction{Comp: "M", Dest: "D"},
	}
}

// Pops the stack top into R13 and stores it at the address held in R14, used for indirect
// segment access (local/argument/this/that) where the destination address is computed
// into R14 before the value to store is known.
func popToR13() []asm.Instruction {
	return append(popD(), []asm.Instruction{
		asm.AInstruction{Location: "R13"},
		asm.CInstruction{Comp: "D", Dest: "M"},
		asm.AInstruction{Location: "R14"},
		asm.CInstruction{Comp: "M", Dest: "A"},
		asm.CInstruction{Comp: "D", Dest: "M"},
	}...)
}

// ----------------------------------------------------------------------------
// Arithmetic Op

// Specialized function lowering an 'ArithmeticOp' (binary, unary, comparisons) to its
// full Hack assembly sequence, per spec.md §4.4.
func (l *Lowerer) handleArithmeticOp(op ArithmeticOp) ([]asm.Instruction, error) {
	switch op.Operation {
	case Add, Sub, And, Or:
		comp := map[ArithOpType]string{Add: "D+M", Sub: "M-D", And: "D&M", Or: "D|M"}[op.Operation]
		return append(popD(), []asm.Instruction{
			asm.AInstruction{Location: "SP"},
			asm.CInstruction{Comp: "M-1", Dest: "A"},
			asm.CInstruction{Comp: comp, Dest: "M"},
		}...), nil

	case Neg, Not:
		comp := map[ArithOpType]string{Neg: "-M", Not: "!M"}[op.Operation]
		return []asm.Instruction{
			asm.AInstruction{Location: "SP"},
			asm.CInstruction{Comp: "M-1", Dest: "A"},
			asm.CInstruction{Comp: comp, Dest: "M"},
		}, nil

	case Eq, Gt, Lt:
		jump := map[ArithOpType]string{Eq: "JEQ", Gt: "JGT", Lt: "JLT"}[op.Operation]
		base := strings.ToUpper(string(op.Operation))
		trueLabel := l.session.mintLabel(base + "_TRUE")
		endLabel := l.session.mintLabel(base + "_END")

		insts := append(popD(), []asm.Instruction{
			asm.AInstruction{Location: "SP"},
			asm.CInstruction{Comp: "M-1", Dest: "A"},
			asm.CInstruction{Comp: "M-D", Dest: "D"},
			asm.AInstruction{Location: trueLabel},
			asm.CInstruction{Comp: "D", Jump: jump},
			asm.AInstruction{Location: "SP"},
			asm.CInstruction{Comp: "M-1", Dest: "A"},
			asm.CInstruction{Comp: "0", Dest: "M"},
			asm.AInstruction{Location: endLabel},
			asm.CInstruction{Comp: "0", Jump: "JMP"},
			asm.LabelDecl{Name: trueLabel},
			asm.AInstruction{Location: "SP"},
			asm.CInstruction{Comp: "M-1", Dest: "A"},
			asm.CInstruction{Comp: "-1", Dest: "M"},
			asm.LabelDecl{Name: endLabel},
		}...)
		return insts, nil

	default:
		return nil, fmt.Errorf("unrecognized arithmetic operation '%s'", op.Operation)
	}
}

// ----------------------------------------------------------------------------
// Label Decl & Goto Op

func (l *Lowerer) handleLabelDecl(op LabelDecl) ([]asm.Instruction, error) {
	if op.Name == "" {
		return nil, fmt.Errorf("unable to lower empty label declaration")
	}
	return []asm.Instruction{asm.LabelDecl{Name: op.Name}}, nil
}

func (l *Lowerer) handleGotoOp(op GotoOp) ([]asm.Instruction, error) {
	if op.Label == "" {
		return nil, fmt.Errorf("unable to lower jump with empty label")
	}

	if op.Jump == Unconditional {
		return []asm.Instruction{
			asm.AInstruction{Location: op.Label},
			asm.CInstruction{Comp: "0", Jump: "JMP"},
		}, nil
	}

	return append(popD(), []asm.Instruction{
		asm.AInstruction{Location: op.Label},
		asm.CInstruction{Comp: "D", Jump: "JNE"},
	}...), nil
}

// ----------------------------------------------------------------------------
// Function Declaration, Call & Return

// Emits the function's label followed by 'NLocal' local-variable slots zero-initialized,
// per spec.md §4.6.
func (l *Lowerer) handleFuncDecl(op FuncDecl) ([]asm.Instruction, error) {
	if op.Name == "" {
		return nil, fmt.Errorf("unable to lower function declaration with empty name")
	}

	insts := []asm.Instruction{asm.LabelDecl{Name: op.Name}}
	for i := uint8(0); i < op.NLocal; i++ {
		insts = append(insts, asm.AInstruction{Location: "SP"})
		insts = append(insts, asm.CInstruction{Comp: "M", Dest: "A"})
		insts = append(insts, asm.CInstruction{Comp: "0", Dest: "M"})
		insts = append(insts, asm.AInstruction{Location: "SP"})
		insts = append(insts, asm.CInstruction{Comp: "M+1", Dest: "M"})
	}
	return insts, nil
}

// Emits the full call protocol: push return address, save caller's LCL/ARG/THIS/THAT,
// reposition ARG and LCL, then jump into the callee. Mints a fresh return-address label
// per call-site, per spec.md §4.6.
func (l *Lowerer) handleFuncCallOp(op FuncCallOp) ([]asm.Instruction, error) {
	if op.Name == "" {
		return nil, fmt.Errorf("unable to lower function call with empty name")
	}

	retLabel := l.session.mintLabel("RET")

	insts := []asm.Instruction{asm.AInstruction{Location: retLabel}, asm.CInstruction{Comp: "A", Dest: "D"}}
	insts = append(insts, pushD()...)
	for _, reg := range []string{"LCL", "ARG", "THIS", "THAT"} {
		insts = append(insts, asm.AInstruction{Location: reg}, asm.CInstruction{Comp: "M", Dest: "D"})
		insts = append(insts, pushD()...)
	}

	insts = append(insts,
		asm.AInstruction{Location: "SP"},
		asm.CInstruction{Comp: "M", Dest: "D"},
		asm.AInstruction{Location: "5"},
		asm.CInstruction{Comp: "D-A", Dest: "D"},
		asm.AInstruction{Location: fmt.Sprint(op.NArgs)},
		asm.CInstruction{Comp: "D-A", Dest: "D"},
		asm.AInstruction{Location: "ARG"},
		asm.CInstruction{Comp: "D", Dest: "M"},
		asm.AInstruction{Location: "SP"},
		asm.CInstruction{Comp: "M", Dest: "D"},
		asm.AInstruction{Location: "LCL"},
		asm.CInstruction{Comp: "D", Dest: "M"},
		asm.AInstruction{Location: op.Name},
		asm.CInstruction{Comp: "0", Jump: "JMP"},
		asm.LabelDecl{Name: retLabel},
	)

	return insts, nil
}

// Emits the return protocol. The end-frame and return address are captured into the
// scratch registers R13/R14 before '*ARG' is overwritten with the return value, since
// for a 0-argument function ARG aliases the frame itself (spec.md §4.6, §9).
func (l *Lowerer) handleReturnOp(op ReturnOp) ([]asm.Instruction, error) {
	return []asm.Instruction{
		asm.AInstruction{Location: "LCL"},
		asm.CInstruction{Comp: "M", Dest: "D"},
		asm.AInstruction{Location: "R13"},
		asm.CInstruction{Comp: "D", Dest: "M"}, // R13 = endFrame

		asm.AInstruction{Location: "5"},
		asm.CInstruction{Comp: "D-A", Dest: "A"},
		asm.CInstruction{Comp: "M", Dest: "D"},
		asm.AInstruction{Location: "R14"},
		asm.CInstruction{Comp: "D", Dest: "M"}, // R14 = retAddr = *(endFrame-5)

		asm.AInstruction{Location: "SP"},
		asm.CInstruction{Comp: "M-1", Dest: "AM"},
		asm.CInstruction{Comp: "M", Dest: "D"},
		asm.AInstruction{Location: "ARG"},
		asm.CInstruction{Comp: "M", Dest: "A"},
		asm.CInstruction{Comp: "D", Dest: "M"}, // *ARG = pop()

		asm.AInstruction{Location: "ARG"},
		asm.CInstruction{Comp: "M+1", Dest: "D"},
		asm.AInstruction{Location: "SP"},
		asm.CInstruction{Comp: "D", Dest: "M"}, // SP = ARG+1

		asm.AInstruction{Location: "R13"},
		asm.CInstruction{Comp: "M-1", Dest: "AM"},
		asm.CInstruction{Comp: "M", Dest: "D"},
		asm.AInstruction{Location: "THAT"},
		asm.CInstruction{Comp: "D", Dest: "M"}, // THAT = *(endFrame-1)

		asm.AInstruction{Location: "R13"},
		asm.CInstruction{Comp: "M-1", Dest: "AM"},
		asm.CInstruction{Comp: "M", Dest: "D"},
		asm.AInstruction{Location: "THIS"},
		asm.CInstruction{Comp: "D", Dest: "M"}, // THIS = *(endFrame-2)

		asm.AInstruction{Location: "R13"},
		asm.CInstruction{Comp: "M-1", Dest: "AM"},
		asm.CInstruction{Comp: "M", Dest: "D"},
		asm.AInstruction{Location: "ARG"},
		asm.CInstruction{Comp: "D", Dest: "M"}, // ARG = *(endFrame-3)

		asm.AInstruction{Location: "R13"},
		asm.CInstruction{Comp: "M-1", Dest: "AM"},
		asm.CInstruction{Comp: "M", Dest: "D"},
		asm.AInstruction{Location: "LCL"},
		asm.CInstruction{Comp: "D", Dest: "M"}, // LCL = *(endFrame-4)

		asm.AInstruction{Location: "R14"},
		asm.CInstruction{Comp: "M", Dest: "A"},
		asm.CInstruction{Comp: "0", Jump: "JMP"}, // goto retAddr
	}, nil
}
