package lexer_test

import (
	"reflect"
	"testing"

	"github.com/hmny-archive/hackcompiler/pkg/lexer"
)

func TestClean(t *testing.T) {
	tests := []struct {
		name     string
		input    []string
		expected []string
	}{
		{
			name:     "Whole-line comment is dropped",
			input:    []string{"// this is a comment", "@16"},
			expected: []string{"@16"},
		},
		{
			name:     "Trailing inline comment is stripped",
			input:    []string{"D=A // compute the offset"},
			expected: []string{"D=A"},
		},
		{
			name:     "Leading and trailing whitespace is trimmed",
			input:    []string{"   push constant 7   "},
			expected: []string{"push constant 7"},
		},
		{
			name:     "Internal whitespace is preserved",
			input:    []string{"  push   constant 7  "},
			expected: []string{"push   constant 7"},
		},
		{
			name:     "Blank and whitespace-only lines are dropped",
			input:    []string{"", "   ", "\t"},
			expected: []string{},
		},
		{
			name:     "A line that is only a comment after trimming is dropped",
			input:    []string{"   // nothing else here"},
			expected: []string{},
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			got := lexer.Collect(lexer.Clean(lexer.Of(test.input)))
			if !reflect.DeepEqual(got, test.expected) {
				t.Fatalf("unexpected cleaned output: expected %v got %v", test.expected, got)
			}
		})
	}
}

// Cleaning an already-cleaned stream must be the identity: there's nothing
// left for a second pass to strip or trim.
func TestCleanIsIdempotent(t *testing.T) {
	input := []string{
		"// header comment",
		"   push constant 7 // pushes 7 onto the stack",
		"add",
		"",
		"   ",
	}

	once := lexer.Collect(lexer.Clean(lexer.Of(input)))
	twice := lexer.Collect(lexer.Clean(lexer.Of(once)))

	if !reflect.DeepEqual(once, twice) {
		t.Fatalf("cleaning twice changed the output: once=%v twice=%v", once, twice)
	}
}

func TestCollectAndOfRoundtrip(t *testing.T) {
	input := []string{"a", "b", "c"}
	if got := lexer.Collect(lexer.Of(input)); !reflect.DeepEqual(got, input) {
		t.Fatalf("expected Collect(Of(x)) == x, got %v", got)
	}
}

func TestCleanStopsEarly(t *testing.T) {
	input := []string{"a", "b", "c", "d"}
	seen := []string{}

	lexer.Clean(lexer.Of(input))(func(line string) bool {
		seen = append(seen, line)
		return len(seen) < 2 // stop after the second yielded line
	})

	if expected := []string{"a", "b"}; !reflect.DeepEqual(seen, expected) {
		t.Fatalf("expected early-stop to yield %v, got %v", expected, seen)
	}
}
