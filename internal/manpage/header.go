package manpage

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"
)

// headerLines is the size of the title block: underline, "name -- description", underline.
const headerLines = 3

const nameSeparator = "--"

var (
	// ErrFormat is matched by every *FormatError.
	ErrFormat = errors.New("malformed manpage header")

	// ErrShortFile is returned when a source has fewer than three lines.
	ErrShortFile = errors.New("manpage header truncated")
)

// Rule identifies which header check failed.
type Rule int

const (
	RuleTitleMismatch Rule = iota + 1
	RuleNotUnderline
	RuleMissingSeparator
	RuleNameMismatch
)

func (r Rule) String() string {
	switch r {
	case RuleTitleMismatch:
		return "first and third lines differ"
	case RuleNotUnderline:
		return "first line is not a '=' underline"
	case RuleMissingSeparator:
		return "second line has no '--' separator"
	case RuleNameMismatch:
		return "name does not match file name"
	default:
		return fmt.Sprintf("rule(%d)", int(r))
	}
}

// FormatError reports a header that breaks the title block convention.
type FormatError struct {
	Path string
	Rule Rule
	Line int
	Got  string
	Want string
}

func (e *FormatError) Error() string {
	msg := fmt.Sprintf("header line %d: %s", e.Line, e.Rule)
	switch {
	case e.Want != "":
		msg += fmt.Sprintf(" (got %q, want %q)", e.Got, e.Want)
	case e.Got != "":
		msg += fmt.Sprintf(" (got %q)", e.Got)
	}
	if e.Path != "" {
		return e.Path + ": " + msg
	}
	return msg
}

func (e *FormatError) Is(target error) bool { return target == ErrFormat }

// ParseHeader reads the first three lines from r and validates them
// against the title block convention:
//
//	============
//	name -- one line description
//	============
//
// baseName is the source file name without extension and must equal
// the parsed name.
func ParseHeader(r io.Reader, baseName string) (Header, error) {
	lines, err := readLines(bufio.NewReader(r), headerLines)
	if err != nil {
		return Header{}, err
	}
	one, two, three := lines[0], lines[1], lines[2]

	if one != three {
		return Header{}, &FormatError{Rule: RuleTitleMismatch, Line: 3, Got: three, Want: one}
	}
	if !isUnderline(strings.TrimRight(one, "\n")) {
		return Header{}, &FormatError{Rule: RuleNotUnderline, Line: 1, Got: one}
	}

	name, rest, ok := strings.Cut(strings.TrimSpace(two), nameSeparator)
	if !ok {
		return Header{}, &FormatError{Rule: RuleMissingSeparator, Line: 2, Got: strings.TrimSpace(two)}
	}
	name = strings.TrimSpace(name)
	if name != baseName {
		return Header{}, &FormatError{Rule: RuleNameMismatch, Line: 2, Got: name, Want: baseName}
	}

	return Header{Name: name, Description: strings.TrimSpace(rest)}, nil
}

// readLines returns n lines including their trailing newline. A final
// line without newline still counts.
func readLines(br *bufio.Reader, n int) ([]string, error) {
	lines := make([]string, 0, n)
	for len(lines) < n {
		line, err := br.ReadString('\n')
		if err != nil {
			if !errors.Is(err, io.EOF) {
				return nil, fmt.Errorf("read manpage header: %w", err)
			}
			if line == "" {
				return nil, fmt.Errorf("%w: %d of %d lines", ErrShortFile, len(lines), n)
			}
		}
		lines = append(lines, line)
	}
	return lines, nil
}

func isUnderline(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		if c != '=' {
			return false
		}
	}
	return true
}
