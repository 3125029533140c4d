package scaffold

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/python"
)

// Validation errors. Classify with errors.Is.
var (
	// ErrMalformed indicates the code is missing the expected function
	// or does not parse as Python.
	ErrMalformed = errors.New("malformed capability code")

	// ErrUnsafe indicates the code contains a construct the agent never
	// generates on purpose.
	ErrUnsafe = errors.New("unsafe capability code")
)

// Constructs that never belong in a generated stub. A match fails
// validation outright rather than trying to judge intent.
var unsafePatterns = []*regexp.Regexp{
	regexp.MustCompile(`__import__\s*\(`),
	regexp.MustCompile(`\beval\s*\(`),
	regexp.MustCompile(`\bexec\s*\(`),
	regexp.MustCompile(`\bglobals\s*\(`),
	regexp.MustCompile(`\blocals\s*\(`),
	regexp.MustCompile(`\bgetattr\s*\(`),
	regexp.MustCompile(`\bsetattr\s*\(`),
	regexp.MustCompile(`\bdelattr\s*\(`),
	regexp.MustCompile(`\bopen\s*\(.+,\s*['"](w|a)`),
	regexp.MustCompile(`os\.(system|popen|spawn|exec)`),
	regexp.MustCompile(`subprocess\.(call|run|Popen)`),
	regexp.MustCompile(`\bimportlib\b`),
}

// Validator checks generated Python stubs structurally: the expected
// function must be defined, no unsafe constructs may appear, and the code
// must parse cleanly. Nothing is ever executed. Not safe for concurrent
// use; each goroutine should create its own.
type Validator struct {
	parser *sitter.Parser
}

// NewValidator creates a stub validator with the Python grammar loaded.
func NewValidator() *Validator {
	p := sitter.NewParser()
	p.SetLanguage(python.GetLanguage())
	return &Validator{parser: p}
}

// Validate checks that code defines a function named name, contains no
// unsafe constructs, and parses as Python.
func (v *Validator) Validate(ctx context.Context, name, code string) error {
	defRe := regexp.MustCompile(`def\s+` + regexp.QuoteMeta(name) + `\s*\(`)
	if !defRe.MatchString(code) {
		return fmt.Errorf("%w: function %q not defined", ErrMalformed, name)
	}

	for _, pattern := range unsafePatterns {
		if pattern.MatchString(code) {
			return fmt.Errorf("%w: matches %q", ErrUnsafe, pattern.String())
		}
	}

	tree, err := v.parser.ParseCtx(ctx, nil, []byte(code))
	if err != nil {
		return fmt.Errorf("parse: %w", err)
	}
	defer tree.Close()

	root := tree.RootNode()
	if root.HasError() {
		if line, ok := firstErrorLine(root); ok {
			return fmt.Errorf("%w: syntax error at line %d", ErrMalformed, line)
		}
		return fmt.Errorf("%w: syntax error", ErrMalformed)
	}
	return nil
}

// firstErrorLine walks the tree for the first error or missing node and
// returns its 1-based line.
func firstErrorLine(n *sitter.Node) (int, bool) {
	if n.Type() == "ERROR" || n.IsMissing() {
		return int(n.StartPoint().Row) + 1, true
	}
	for i := 0; i < int(n.ChildCount()); i++ {
		if line, ok := firstErrorLine(n.Child(i)); ok {
			return line, true
		}
	}
	return 0, false
}
