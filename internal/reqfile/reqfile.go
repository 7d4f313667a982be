// Package reqfile parses request files: the lists of item names a capture is
// taken for.
//
// One item per line (anything after the first comma is ignored). Lines starting
// with "#", "data{" or "}" are skipped. A line "!path" includes another request
// file relative to the including one, optionally with quoted macros:
//
//	!common.req, "SYS=TST,D=A"
package reqfile

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/hpungsan/snapkeep/internal/capture"
)

// Kind classifies a parse failure.
type Kind string

const (
	KindFormat Kind = "format"
	KindMacro  Kind = "macro"
	KindLoop   Kind = "loop"
	KindIO     Kind = "io"
)

// Error reports where parsing stopped. Trace is the include chain leading to the
// offending file.
type Error struct {
	Kind  Kind
	Trace []string
	Path  string
	Line  int
	Text  string
	Msg   string
}

func (e *Error) Error() string {
	loc := e.Path
	if len(e.Trace) > 0 {
		loc = strings.Join(append(slices.Clone(e.Trace), e.Path), " >> ")
	}
	if e.Line > 0 {
		return fmt.Sprintf("%s [line %d: %s]: %s", loc, e.Line, e.Text, e.Msg)
	}
	return fmt.Sprintf("%s: %s", loc, e.Msg)
}

// Options controls macro handling.
type Options struct {
	// Macros are substituted in item names and include arguments of the root file
	Macros map[string]string

	// Changeable macros may stay unresolved; they are substituted later, at
	// restore time
	Changeable []string
}

// Parse returns the item names of the request file at path, includes expanded, in
// file order with duplicates removed. Names keep any changeable macros unresolved.
func Parse(path string, opts Options) ([]string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, &Error{Kind: KindIO, Path: path, Msg: err.Error()}
	}

	p := &parser{changeable: opts.Changeable, seen: make(map[string]bool)}
	if err := p.read(abs, opts.Macros, nil); err != nil {
		return nil, err
	}
	return p.names, nil
}

type frame struct {
	path string
	line int
	text string
}

type parser struct {
	changeable []string
	names      []string
	seen       map[string]bool
}

func (p *parser) read(path string, macros map[string]string, stack []frame) error {
	trace := make([]string, len(stack))
	for i, fr := range stack {
		trace[i] = fmt.Sprintf("%s [line %d: %s]", fr.path, fr.line, fr.text)
	}
	fail := func(kind Kind, line int, text, msg string) error {
		return &Error{Kind: kind, Trace: trace, Path: path, Line: line, Text: text, Msg: msg}
	}

	f, err := os.Open(path)
	if err != nil {
		return fail(KindIO, 0, "", err.Error())
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	lineNum := 0
	for sc.Scan() {
		lineNum++
		line := strings.TrimSpace(sc.Text())

		switch {
		case line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "data{") || strings.HasPrefix(line, "}"):
			continue

		case strings.HasPrefix(line, "!"):
			target, argText, hasArgs := strings.Cut(line[1:], ",")
			target = strings.TrimSpace(target)
			if target == "" {
				return fail(KindFormat, lineNum, line, "include without a file name")
			}

			sub := map[string]string{}
			if hasArgs {
				arg := strings.TrimSpace(argText)
				if len(arg) < 2 || (arg[0] != '"' && arg[0] != '\'') || arg[len(arg)-1] != arg[0] {
					return fail(KindFormat, lineNum, line, "macros argument must be quoted")
				}
				arg = capture.SubstituteMacros(arg[1:len(arg)-1], macros)
				if msg := p.undefined(arg); msg != "" {
					return fail(KindMacro, lineNum, line, msg)
				}
				parsed, err := capture.ParseMacros(arg)
				if err != nil {
					return fail(KindMacro, lineNum, line, err.Error())
				}
				sub = parsed
			}

			incPath := filepath.Clean(filepath.Join(filepath.Dir(path), target))
			if incPath == path || slices.ContainsFunc(stack, func(fr frame) bool { return fr.path == incPath }) {
				return fail(KindLoop, lineNum, line, fmt.Sprintf("include loop: %s is already being read", incPath))
			}

			next := append(slices.Clone(stack), frame{path: path, line: lineNum, text: line})
			if err := p.read(incPath, sub, next); err != nil {
				return err
			}

		default:
			name, _, _ := strings.Cut(line, ",")
			name = capture.SubstituteMacros(strings.TrimSpace(name), macros)
			if msg := p.undefined(name); msg != "" {
				return fail(KindMacro, lineNum, line, msg)
			}
			if !p.seen[name] {
				p.seen[name] = true
				p.names = append(p.names, name)
			}
		}
	}
	if err := sc.Err(); err != nil {
		return fail(KindIO, lineNum, "", err.Error())
	}
	return nil
}

// undefined describes macros left in txt that are not changeable.
func (p *parser) undefined(txt string) string {
	var bad []string
	for _, name := range capture.UnresolvedMacros(txt) {
		if !slices.Contains(p.changeable, name) {
			bad = append(bad, "$("+name+")")
		}
	}
	if len(bad) == 0 {
		return ""
	}
	return "macros not defined: " + strings.Join(bad, ", ")
}
