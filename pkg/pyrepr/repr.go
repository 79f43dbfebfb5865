package pyrepr

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Repr returns the Python literal for v. A nil Value renders as None.
func Repr(v Value) string {
	var b strings.Builder
	writeValue(&b, v)
	return b.String()
}

func writeValue(b *strings.Builder, v Value) {
	if v == nil {
		b.WriteString("None")
		return
	}
	v.writeRepr(b)
}

func (s Str) writeRepr(b *strings.Builder) {
	b.WriteByte('\'')
	for i := 0; i < len(s); {
		r, size := utf8.DecodeRuneInString(string(s[i:]))
		if r == utf8.RuneError && size == 1 {
			fmt.Fprintf(b, `\x%02x`, s[i])
			i++
			continue
		}
		i += size
		switch r {
		case '\\':
			b.WriteString(`\\`)
		case '\'':
			b.WriteString(`\'`)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		case '\t':
			b.WriteString(`\t`)
		default:
			switch {
			case r < 0x20 || r == 0x7f:
				fmt.Fprintf(b, `\x%02x`, r)
			case !unicode.IsPrint(r):
				if r <= 0xffff {
					fmt.Fprintf(b, `\u%04x`, r)
				} else {
					fmt.Fprintf(b, `\U%08x`, r)
				}
			default:
				b.WriteRune(r)
			}
		}
	}
	b.WriteByte('\'')
}

func (i Int) writeRepr(b *strings.Builder) {
	b.WriteString(strconv.FormatInt(int64(i), 10))
}

func (f Float) writeRepr(b *strings.Builder) {
	b.WriteString(FormatFloat(float64(f)))
}

// FormatFloat formats f the way Python's repr does: shortest round-trip
// digits, scientific notation outside 1e-4 <= |f| < 1e16, and a trailing
// ".0" on integral values.
func FormatFloat(f float64) string {
	switch {
	case math.IsInf(f, 1):
		return "inf"
	case math.IsInf(f, -1):
		return "-inf"
	case math.IsNaN(f):
		return "nan"
	case f == 0:
		if math.Signbit(f) {
			return "-0.0"
		}
		return "0.0"
	}

	sci := strconv.FormatFloat(f, 'e', -1, 64)
	mant, expPart, _ := strings.Cut(sci, "e")
	exp, _ := strconv.Atoi(expPart)
	if exp < -4 || exp >= 16 {
		sign := '+'
		if exp < 0 {
			sign = '-'
			exp = -exp
		}
		return fmt.Sprintf("%se%c%02d", mant, sign, exp)
	}

	s := strconv.FormatFloat(f, 'f', -1, 64)
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return s
}

func (v Bool) writeRepr(b *strings.Builder) {
	if v {
		b.WriteString("True")
	} else {
		b.WriteString("False")
	}
}

func (NoneType) writeRepr(b *strings.Builder) {
	b.WriteString("None")
}

func (l List) writeRepr(b *strings.Builder) {
	b.WriteByte('[')
	writeItems(b, l)
	b.WriteByte(']')
}

func (t Tuple) writeRepr(b *strings.Builder) {
	b.WriteByte('(')
	writeItems(b, t)
	if len(t) == 1 {
		b.WriteByte(',')
	}
	b.WriteByte(')')
}

func (d *Dict) writeRepr(b *strings.Builder) {
	b.WriteByte('{')
	if d != nil {
		for i := range d.keys {
			if i > 0 {
				b.WriteString(", ")
			}
			writeValue(b, d.keys[i])
			b.WriteString(": ")
			writeValue(b, d.values[i])
		}
	}
	b.WriteByte('}')
}

func writeItems(b *strings.Builder, items []Value) {
	for i, item := range items {
		if i > 0 {
			b.WriteString(", ")
		}
		writeValue(b, item)
	}
}
