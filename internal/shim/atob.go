package shim

import "strings"

// alphabet is the lookup table used by Atob. The padding symbol sits at
// index 64, after the 64 data symbols.
const alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789+/="

const (
	padIndex   int32 = 64
	groupWidth       = 4
)

// Atob decodes base64 input into the raw bytes it represents.
//
// Characters outside the alphabet are dropped before decoding. The decode
// never fails: malformed input produces garbage bytes rather than an error.
// A trailing group shorter than four symbols is still processed once, with
// every missing symbol read as 0, which is what chars.indexOf("") yields in
// the classic JS decode loop.
func Atob(input string) []byte {
	src := Filter(input)
	if len(src) == 0 {
		return []byte{}
	}

	out := make([]byte, 0, (len(src)+groupWidth-1)/groupWidth*3)
	for i := 0; i < len(src); i += groupWidth {
		a := lookup(src, i)
		b := lookup(src, i+1)
		c := lookup(src, i+2)
		d := lookup(src, i+3)

		e := a<<18 | b<<12 | c<<6 | d
		out = append(out, byte(e>>16&0xff))
		if c != padIndex {
			out = append(out, byte(e>>8&0xff))
		}
		if d != padIndex {
			out = append(out, byte(e&0xff))
		}
	}
	return out
}

// Filter strips every character that is not part of the base64 alphabet,
// padding included.
func Filter(input string) string {
	var sb strings.Builder
	sb.Grow(len(input))
	for i := 0; i < len(input); i++ {
		if strings.IndexByte(alphabet, input[i]) >= 0 {
			sb.WriteByte(input[i])
		}
	}
	return sb.String()
}

func lookup(src string, i int) int32 {
	if i >= len(src) {
		return 0
	}
	return int32(strings.IndexByte(alphabet, src[i]))
}

// Latin1 maps every byte to the code point of the same value. Script
// engines see the result as a byte-string: one UTF-16 unit per byte.
func Latin1(b []byte) string {
	runes := make([]rune, len(b))
	for i, c := range b {
		runes[i] = rune(c)
	}
	return string(runes)
}

// FromLatin1 reverses Latin1. Code points above 0xff are truncated to their
// low byte, the same way String.prototype.charCodeAt(i) & 0xff would.
func FromLatin1(s string) []byte {
	out := make([]byte, 0, len(s))
	for _, r := range s {
		out = append(out, byte(r))
	}
	return out
}
