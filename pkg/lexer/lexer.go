package lexer

import (
	"bufio"
	"strings"
)

// ----------------------------------------------------------------------------
// Lexical Cleaner

// A Seq is a push-style sequence of strings: a function that calls 'yield' once
// per element, in order, stopping early as soon as 'yield' returns false. This
// mirrors the stdlib iterator shape so a 'Seq' can be driven without an extra
// allocation for the intermediate slice.
type Seq func(yield func(string) bool)

// FromScanner adapts a 'bufio.Scanner' (how both cmd/vm_translator and
// cmd/hack_assembler read their input files) into a 'Seq' of its lines.
func FromScanner(scanner *bufio.Scanner) Seq {
	return func(yield func(string) bool) {
		for scanner.Scan() {
			if !yield(scanner.Text()) {
				return
			}
		}
	}
}

// Clean consumes a 'lines' sequence and yields a cleaned counterpart.
//
// For every input line: the prefix before the first "//" is kept (this strips
// both whole-line and trailing inline comments), the result is trimmed of
// leading/trailing whitespace and, if nothing survives, the line is dropped
// entirely rather than yielded empty. Internal whitespace within a surviving
// line is left untouched — callers are expected to split the token sequence
// on whitespace themselves (see pkg/vm and pkg/asm's own tokenizers).
func Clean(lines Seq) Seq {
	return func(yield func(string) bool) {
		lines(func(line string) bool {
			if idx := strings.Index(line, "//"); idx >= 0 {
				line = line[:idx]
			}
			line = strings.TrimSpace(line)

			if line == "" {
				return true // dropped, but the upstream sequence keeps running
			}
			return yield(line)
		})
	}
}

// Collect drains a 'Seq' into a slice. Mostly useful for tests, or for callers
// that would rather have every cleaned line available at once.
func Collect(seq Seq) []string {
	lines := []string{}
	seq(func(line string) bool {
		lines = append(lines, line)
		return true
	})
	return lines
}

// Of turns a plain slice of strings into a 'Seq', the dual of 'Collect'.
func Of(lines []string) Seq {
	return func(yield func(string) bool) {
		for _, line := range lines {
			if !yield(line) {
				return
			}
		}
	}
}
