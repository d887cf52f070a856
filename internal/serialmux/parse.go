package serialmux

import (
	"encoding/hex"
	"unicode"
	"unicode/utf8"
)

// FormatPayload renders a payload for logs and the tail stream: printable
// text as is, anything else as space-separated hex.
func FormatPayload(b []byte) string {
	if utf8.Valid(b) {
		printable := true
		for _, r := range string(b) {
			if !unicode.IsPrint(r) && r != '\t' {
				printable = false
				break
			}
		}
		if printable {
			return string(b)
		}
	}
	d := hex.EncodeToString(b)
	out := make([]byte, 0, len(d)+len(d)/2)
	for i := 0; i < len(d); i += 2 {
		if i > 0 {
			out = append(out, ' ')
		}
		out = append(out, d[i], d[i+1])
	}
	return string(out)
}
