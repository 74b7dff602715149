package rules

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/risor-io/risor/object"
)

// patternEntry caches one compiled pattern, or the error compiling it.
type patternEntry struct {
	re  *regexp.Regexp
	err error
}

func (r *Runtime) compile(pattern string) (*regexp.Regexp, error) {
	if e, ok := r.patterns.Get(pattern); ok {
		return e.re, e.err
	}
	re, err := regexp.Compile(pattern)
	r.patterns.Add(pattern, &patternEntry{re: re, err: err})
	return re, err
}

func stringArg(fn string, args []object.Object, i int, what string) (string, *object.Error) {
	s, ok := args[i].(*object.String)
	if !ok {
		return "", object.Errorf("%s: %s must be a string, got %s", fn, what, args[i].Type())
	}
	return s.Value(), nil
}

// makeMatchesFn creates the "matches" host function.
//
// matches(pattern) → bool, true when the entity source matches pattern.
func (r *Runtime) makeMatchesFn(t Target) *object.Builtin {
	return object.NewBuiltin("matches", func(ctx context.Context, args ...object.Object) object.Object {
		if len(args) != 1 {
			return object.NewArgsError("matches", 1, len(args))
		}
		pattern, errObj := stringArg("matches", args, 0, "pattern")
		if errObj != nil {
			return errObj
		}
		re, err := r.compile(pattern)
		if err != nil {
			return object.Errorf("matches: invalid pattern: %v", err)
		}
		return object.NewBool(re.MatchString(t.Source))
	})
}

// makeFindFn creates the "find" host function.
//
// find(pattern) → []int, the file line numbers of source lines matching pattern.
func (r *Runtime) makeFindFn(t Target) *object.Builtin {
	return object.NewBuiltin("find", func(ctx context.Context, args ...object.Object) object.Object {
		if len(args) != 1 {
			return object.NewArgsError("find", 1, len(args))
		}
		pattern, errObj := stringArg("find", args, 0, "pattern")
		if errObj != nil {
			return errObj
		}
		re, err := r.compile(pattern)
		if err != nil {
			return object.Errorf("find: invalid pattern: %v", err)
		}
		lines := []object.Object{}
		for i, line := range strings.Split(t.Source, "\n") {
			if re.MatchString(line) {
				lines = append(lines, object.NewInt(int64(t.StartLine+i)))
			}
		}
		return object.NewList(lines)
	})
}

// collector gathers the findings reported by one rule run.
type collector struct {
	rule     string
	target   Target
	findings []Finding
}

// reportFn creates the "report" host function.
//
// report(id, cwe, severity, message, line) records a finding. Severity is
// one of low, medium, high or critical.
func (c *collector) reportFn() *object.Builtin {
	return object.NewBuiltin("report", func(ctx context.Context, args ...object.Object) object.Object {
		if len(args) != 5 {
			return object.NewArgsError("report", 5, len(args))
		}
		var strs [4]string
		for i, what := range []string{"id", "cwe", "severity", "message"} {
			s, errObj := stringArg("report", args, i, what)
			if errObj != nil {
				return errObj
			}
			strs[i] = s
		}
		line, ok := args[4].(*object.Int)
		if !ok {
			return object.Errorf("report: line must be an int, got %s", args[4].Type())
		}
		if _, ok := severities[strs[2]]; !ok {
			return object.Errorf("report: unknown severity %q", strs[2])
		}
		f := Finding{
			Rule:     strs[0],
			CWE:      strs[1],
			Severity: strs[2],
			Message:  strs[3],
			EntityID: c.target.EntityID,
			FilePath: c.target.FilePath,
			Line:     int(line.Value()),
		}
		if f.Rule == "" {
			f.Rule = c.rule
		}
		if f.Line < c.target.StartLine {
			f.Line = c.target.StartLine
		}
		c.findings = append(c.findings, f)
		return object.Nil
	})
}

// String renders a finding for text output.
func (f Finding) String() string {
	return fmt.Sprintf("%s:%d [%s] %s (%s): %s", f.FilePath, f.Line, f.Severity, f.Rule, f.CWE, f.Message)
}
