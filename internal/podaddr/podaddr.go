// Package podaddr converts 48-bit BLE link-layer addresses between their
// integer form and the canonical colon-separated hex string form
// ("aa:bb:cc:dd:ee:ff", most-significant octet first).
package podaddr

import (
	"fmt"
	"strconv"
	"strings"
)

// OctetCount is the number of octets in a 48-bit link-layer address.
const OctetCount = 6

// InvalidAddressError reports an address string that could not be parsed.
type InvalidAddressError struct {
	Text   string // the offending input
	Reason string
}

func (e *InvalidAddressError) Error() string {
	return fmt.Sprintf("invalid address %q: %s", e.Text, e.Reason)
}

// Format renders a 48-bit address as six colon-separated two-digit
// lower-case hex octets, most-significant first. Bits above 48 are ignored.
func Format(address uint64) string {
	var sb strings.Builder
	sb.Grow(OctetCount*3 - 1)
	for i := OctetCount - 1; i >= 0; i-- {
		fmt.Fprintf(&sb, "%02x", byte(address>>(uint(i)*8)))
		if i > 0 {
			sb.WriteByte(':')
		}
	}
	return sb.String()
}

// Parse converts a colon-separated hex address back to its integer form,
// folding octets left-to-right. Inputs with the wrong token count, empty
// tokens, non-hex tokens, or tokens wider than one octet are rejected with
// an InvalidAddressError rather than silently truncated.
func Parse(text string) (uint64, error) {
	tokens := strings.Split(text, ":")
	if len(tokens) != OctetCount {
		return 0, &InvalidAddressError{
			Text:   text,
			Reason: fmt.Sprintf("expected %d octets, got %d", OctetCount, len(tokens)),
		}
	}

	var addr uint64
	for _, tok := range tokens {
		if tok == "" || len(tok) > 2 {
			return 0, &InvalidAddressError{Text: text, Reason: fmt.Sprintf("malformed octet %q", tok)}
		}
		b, err := strconv.ParseUint(tok, 16, 8)
		if err != nil {
			return 0, &InvalidAddressError{Text: text, Reason: fmt.Sprintf("octet %q is not hex", tok)}
		}
		addr = (addr << 8) | b
	}
	return addr, nil
}
