// Package juicycodes decodes the base64 variant used by the JuicyCodes
// player loader.
//
// The alphabet is the standard one, but bit packing follows the loader's own
// atob: bytes are emitted from a rolling accumulator as soon as eight bits are
// buffered, and a zero byte produced by one of the last two input characters
// is dropped. Decode reproduces that exactly; Script carries the original
// JavaScript for callers that evaluate payloads through an interpreter.
package juicycodes

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidChar is returned for input outside the alphabet.
var ErrInvalidChar = errors.New("invalid character in payload")

const alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789+/"

// Script is the loader's decoder, defined as a global function named atob.
const Script = `var atob=function(f){var g={},b=65,d=0,a,c=0,h,e='',k=String.fromCharCode,l=f.length;for(a='';91>b;)a+=k(b++);a+=a.toLowerCase()+'0123456789+/';for(b=0;64>b;b++)g[a.charAt(b)]=b;for(a=0;a<l;a++)for(b=g[f.charAt(a)],d=(d<<6)+b,c+=6;8<=c;)((h=d>>>(c-=8)&255)||a<l-2)&&(e+=k(h));return e};`

var index = func() [256]int8 {
	var t [256]int8
	for i := range t {
		t[i] = -1
	}
	for i := 0; i < len(alphabet); i++ {
		t[alphabet[i]] = int8(i)
	}
	return t
}()

// Decode decodes encoded the way the loader's atob does.
// Each output character carries one decoded byte (code points 0-255).
func Decode(encoded string) (string, error) {
	var (
		acc  uint32
		bits int
		// pad mirrors the loader's NaN accumulator after an '=' lookup:
		// it yields zero bytes and is discarded by the next shift.
		pad bool
		out strings.Builder
	)

	n := len(encoded)
	out.Grow(n * 3 / 4)

	for i := 0; i < n; i++ {
		ch := encoded[i]
		v := index[ch]
		switch {
		case v >= 0 && pad:
			acc = uint32(v)
			pad = false
		case v >= 0:
			acc = acc<<6 + uint32(v)
		case ch == '=' && i >= n-2:
			pad = true
		default:
			return "", fmt.Errorf("%w: %q at offset %d", ErrInvalidChar, ch, i)
		}

		bits += 6
		for bits >= 8 {
			bits -= 8
			var h byte
			if !pad {
				h = byte(acc >> bits)
			}
			if h != 0 || i < n-2 {
				out.WriteRune(rune(h))
			}
		}
	}

	return out.String(), nil
}

// Snippet returns a program that decodes arg with Script and prints the result.
// arg is a JavaScript expression, usually the quoted literal captured from
// the page.
func Snippet(arg string) string {
	return Script + "\nvar result=atob(" + arg + ");\nconsole.log(result);\n"
}

// EvalSnippet returns a program that evaluates expr and prints it as JSON.
func EvalSnippet(expr string) string {
	return "var result=" + expr + ";\nconsole.log(JSON.stringify(result));\n"
}
