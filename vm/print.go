package vm

import (
	"fmt"
	"io"
	"strings"
)

// ---------------------------------------------------------------------------
// Object printing
// ---------------------------------------------------------------------------

// Print writes a human- and parser-readable rendering of the object.
// Integers print in decimal, strings print quoted with C-style escapes,
// and aggregates print recursively with indentation keyed to depth.
// Self-referential aggregates are detected with a visited set; a revisited
// aggregate prints as "...".
func Print(w io.Writer, o *Object, depth int) error {
	return printObject(w, o, depth, make(map[*Object]bool))
}

// FormatObject renders the object to a string.
func FormatObject(o *Object) string {
	var sb strings.Builder
	Print(&sb, o, 0)
	return sb.String()
}

func printObject(w io.Writer, o *Object, depth int, visited map[*Object]bool) error {
	o = o.Dereference()
	switch o.typ {
	case ObjectInteger:
		_, err := fmt.Fprintf(w, "%d", o.integer)
		return err

	case ObjectString:
		return printString(w, o.bytes)

	case ObjectList:
		if visited[o] {
			_, err := io.WriteString(w, "...")
			return err
		}
		visited[o] = true
		defer delete(visited, o)
		if _, err := io.WriteString(w, "["); err != nil {
			return err
		}
		count := len(o.array)
		for i, element := range o.array {
			if element == nil {
				element = zeroInteger
			}
			if err := printObject(w, element, depth+1, visited); err != nil {
				return err
			}
			if i < count-1 {
				if _, err := io.WriteString(w, ", "); err != nil {
					return err
				}
				if count >= 5 {
					if err := printNewlineIndent(w, depth+1); err != nil {
						return err
					}
				}
			}
		}
		_, err := io.WriteString(w, "]")
		return err

	case ObjectDict:
		if visited[o] {
			_, err := io.WriteString(w, "...")
			return err
		}
		visited[o] = true
		defer delete(visited, o)
		if _, err := io.WriteString(w, "{"); err != nil {
			return err
		}
		for i, entry := range o.dict.entries {
			if err := printObject(w, entry.key, depth+1, visited); err != nil {
				return err
			}
			if _, err := io.WriteString(w, " : "); err != nil {
				return err
			}
			if err := printObject(w, entry.value, depth+1, visited); err != nil {
				return err
			}
			if i < len(o.dict.entries)-1 {
				if _, err := io.WriteString(w, ","); err != nil {
					return err
				}
				if err := printNewlineIndent(w, depth+1); err != nil {
					return err
				}
			}
		}
		_, err := io.WriteString(w, "}")
		return err

	case ObjectFunction:
		names := make([]string, 0, o.fn.arguments.ListLength())
		for i := 0; i < o.fn.arguments.ListLength(); i++ {
			names = append(names, string(o.fn.arguments.ListGet(i).StringBytes()))
		}
		_, err := fmt.Fprintf(w, "function(%s)", strings.Join(names, ", "))
		return err
	}
	_, err := fmt.Fprintf(w, "<%s>", o.typ)
	return err
}

func printNewlineIndent(w io.Writer, depth int) error {
	_, err := fmt.Fprintf(w, "\n%*s", depth, "")
	return err
}

// printString emits a quoted string with control and high bytes escaped
// as \xHH and the conventional short escapes for the common controls.
func printString(w io.Writer, data []byte) error {
	var sb strings.Builder
	sb.WriteByte('"')
	for _, ch := range data {
		switch ch {
		case '\r':
			sb.WriteString(`\r`)
		case '\n':
			sb.WriteString(`\n`)
		case '\v':
			sb.WriteString(`\v`)
		case '\t':
			sb.WriteString(`\t`)
		case '\f':
			sb.WriteString(`\f`)
		case '\b':
			sb.WriteString(`\b`)
		case '\a':
			sb.WriteString(`\a`)
		case '\\':
			sb.WriteString(`\\`)
		case '"':
			sb.WriteString(`\"`)
		default:
			if ch < ' ' || ch >= 0x80 {
				fmt.Fprintf(&sb, `\x%02X`, ch)
			} else {
				sb.WriteByte(ch)
			}
		}
	}
	sb.WriteByte('"')
	_, err := io.WriteString(w, sb.String())
	return err
}

// zeroInteger is the shared rendering stand-in for unset list slots. It is
// never handed out as a value; reads through the evaluator materialize a
// fresh zero instead.
var zeroInteger = &Object{typ: ObjectInteger, refs: 1}
