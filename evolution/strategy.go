// Package evolution is the decision policy layered over the capability
// registry. It chooses evolution strategies, rewrites implementation text,
// suggests improvements from recorded telemetry, and applies them through
// the registry's public operations. The registry itself stays a passive
// bookkeeper; everything opinionated lives here.
package evolution

import (
	"regexp"
	"strings"
)

// Strategy names one way of evolving a capability's implementation.
type Strategy string

const (
	// StrategyErrorCorrection hardens a failing capability.
	StrategyErrorCorrection Strategy = "error_correction"

	// StrategyPerformance tunes a heavily used capability.
	StrategyPerformance Strategy = "performance_optimization"

	// StrategyFeatureAddition extends what a capability covers.
	StrategyFeatureAddition Strategy = "feature_addition"

	// StrategyCodeCleanup tidies an implementation that has grown messy.
	StrategyCodeCleanup Strategy = "code_cleanup"
)

// IsValid checks if a strategy string is one of the known strategies.
func (s Strategy) IsValid() bool {
	switch s {
	case StrategyErrorCorrection, StrategyPerformance, StrategyFeatureAddition, StrategyCodeCleanup:
		return true
	}
	return false
}

// String returns the string representation of the strategy.
func (s Strategy) String() string {
	return string(s)
}

// ChooseStrategy picks a strategy from the wording of a modification note.
// Error talk beats performance talk beats feature talk; anything else is
// treated as cleanup.
func ChooseStrategy(note string) Strategy {
	lower := strings.ToLower(note)
	switch {
	case strings.Contains(lower, "error") || strings.Contains(lower, "fix") || strings.Contains(lower, "bug") || strings.Contains(lower, "fail"):
		return StrategyErrorCorrection
	case strings.Contains(lower, "performance") || strings.Contains(lower, "speed") || strings.Contains(lower, "optimi") || strings.Contains(lower, "faster"):
		return StrategyPerformance
	case strings.Contains(lower, "feature") || strings.Contains(lower, "add") || strings.Contains(lower, "new") || strings.Contains(lower, "support"):
		return StrategyFeatureAddition
	default:
		return StrategyCodeCleanup
	}
}

// Rewrite applies a strategy's textual transform to an implementation.
// The note is the modification request; feature addition records it as a
// TODO section in the body. These are template-level edits of generated
// Python, not compilation: the registry stores whatever comes back as an
// opaque payload.
func Rewrite(strategy Strategy, name, code, note string) string {
	switch strategy {
	case StrategyErrorCorrection:
		return wrapWithErrorHandling(name, code)
	case StrategyPerformance:
		return annotateDocstring(code, "Optimized for better performance")
	case StrategyFeatureAddition:
		return appendFeatureTODO(annotateDocstring(code, "Added new features for better functionality"), note)
	case StrategyCodeCleanup:
		return cleanupCode(annotateDocstring(code, "Cleaned up code for better readability and maintainability"))
	default:
		return code
	}
}

// wrapWithErrorHandling wraps the function body in try/except with a
// failure log line. Already-wrapped code is left alone so repeated
// error-correction passes stay idempotent.
func wrapWithErrorHandling(name, code string) string {
	if strings.Contains(code, "except Exception") {
		return code
	}

	lines := strings.Split(code, "\n")
	defIdx := -1
	for i, line := range lines {
		if strings.HasPrefix(strings.TrimSpace(line), "def ") {
			defIdx = i
			break
		}
	}
	if defIdx < 0 || defIdx == len(lines)-1 {
		return code
	}

	// Body indentation comes from the first non-blank line after the def.
	indent := ""
	for _, line := range lines[defIdx+1:] {
		if strings.TrimSpace(line) != "" {
			indent = line[:len(line)-len(strings.TrimLeft(line, " \t"))]
			break
		}
	}
	if indent == "" {
		return code
	}

	var out []string
	out = append(out, lines[:defIdx+1]...)
	out = append(out, indent+"try:")
	for _, line := range lines[defIdx+1:] {
		if strings.TrimSpace(line) == "" {
			out = append(out, line)
			continue
		}
		out = append(out, indent+"    "+strings.TrimPrefix(line, indent))
	}
	out = append(out, indent+"except Exception as e:")
	out = append(out, indent+"    print(f\"[ERROR] "+name+" failed: {str(e)}\")")
	out = append(out, indent+"    return False")

	return strings.Join(out, "\n") + "\n"
}

// annotateDocstring inserts a note on the line after the opening docstring
// quotes. Code without a docstring is returned unchanged.
func annotateDocstring(code, note string) string {
	idx := strings.Index(code, `"""`)
	if idx < 0 {
		return code
	}

	// Match the indentation of the line holding the quotes.
	lineStart := strings.LastIndex(code[:idx], "\n") + 1
	indent := code[lineStart:idx]
	if strings.TrimSpace(indent) != "" {
		indent = ""
	}

	insertAt := idx + len(`"""`)
	inserted := "\n" + indent + note
	if insertAt < len(code) && code[insertAt] != '\n' {
		// One-line docstring: keep its text on its own line.
		inserted += "\n" + indent
	}
	return code[:insertAt] + inserted + code[insertAt:]
}

// appendFeatureTODO adds a TODO section for the requested feature at the
// end of the function body.
func appendFeatureTODO(code, note string) string {
	if strings.TrimSpace(note) == "" {
		return code
	}

	indent := bodyIndent(code)
	if indent == "" {
		return code
	}

	trimmed := strings.TrimRight(code, "\n")
	return trimmed + "\n\n" + indent + "# New feature: " + note + "\n" + indent + "# TODO: implement " + note + "\n"
}

// bodyIndent finds the indentation of the first non-blank line after the
// def line, empty when there is none.
func bodyIndent(code string) string {
	lines := strings.Split(code, "\n")
	defIdx := -1
	for i, line := range lines {
		if strings.HasPrefix(strings.TrimSpace(line), "def ") {
			defIdx = i
			break
		}
	}
	if defIdx < 0 {
		return ""
	}
	for _, line := range lines[defIdx+1:] {
		if strings.TrimSpace(line) != "" {
			return line[:len(line)-len(strings.TrimLeft(line, " \t"))]
		}
	}
	return ""
}

var blankRuns = regexp.MustCompile(`\n{3,}`)

// cleanupCode trims trailing whitespace per line and collapses runs of
// blank lines.
func cleanupCode(code string) string {
	lines := strings.Split(code, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t")
	}
	return blankRuns.ReplaceAllString(strings.Join(lines, "\n"), "\n\n")
}
