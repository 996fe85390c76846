// Package template expands ${name} placeholders against a variable lookup.
//
// The syntax is deliberately tiny: every byte is copied verbatim except
// ${name}, which is replaced by the lookup value rendered as text. There is
// no escaping, nesting, or conditional logic. Output is bounded so a rendered
// payload always fits a single broadcast datagram.
package template

import (
	"bytes"
	"errors"
	"fmt"
)

// MaxPayload is the default output bound: the common Ethernet-safe UDP
// payload ceiling (1500 MTU minus IP and UDP headers).
const MaxPayload = 1472

var (
	ErrTooLarge     = errors.New("template: rendered output exceeds limit")
	ErrUnterminated = errors.New("template: unterminated ${ placeholder")
)

// LookupFunc resolves a placeholder name to its current text value.
type LookupFunc func(name string) (string, error)

// Render expands tpl using lookup. max bounds the output length in bytes;
// max <= 0 means MaxPayload. A lookup failure, an unterminated placeholder,
// or an oversized output fails the whole render.
func Render(tpl []byte, lookup LookupFunc, max int) ([]byte, error) {
	if max <= 0 {
		max = MaxPayload
	}

	var out bytes.Buffer
	for i := 0; i < len(tpl); {
		c := tpl[i]
		if c != '$' || i+1 >= len(tpl) || tpl[i+1] != '{' {
			out.WriteByte(c)
			i++
			continue
		}

		end := bytes.IndexByte(tpl[i+2:], '}')
		if end < 0 {
			return nil, ErrUnterminated
		}
		name := string(tpl[i+2 : i+2+end])

		val, err := lookup(name)
		if err != nil {
			return nil, fmt.Errorf("template: ${%s}: %w", name, err)
		}
		out.WriteString(val)
		i += 2 + end + 1

		if out.Len() > max {
			return nil, fmt.Errorf("%w (%d > %d)", ErrTooLarge, out.Len(), max)
		}
	}

	if out.Len() > max {
		return nil, fmt.Errorf("%w (%d > %d)", ErrTooLarge, out.Len(), max)
	}
	return out.Bytes(), nil
}
