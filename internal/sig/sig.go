package sig

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/s-hammon/p"
)

// FillerByte occupies wildcard positions in Bytes; the mask keeps it
// out of comparisons, so the value never matters.
const FillerByte = 0xCC

type Pattern struct {
	Bytes []byte
	Mask  []bool
}

// ParseSignature parses a space-separated hex signature such as
// "4C 8D 05 ? ? ? ? 45 89". Tokens are two hex digits or a wildcard
// ("?" or "??"). A signature with no literal byte matches at every
// position and is rejected.
func ParseSignature(s string) (Pattern, error) {
	var (
		b []byte
		m []bool
	)
	for tok := range strings.FieldsSeq(s) {
		switch tok {
		case "??", "?":
			b = append(b, FillerByte)
			m = append(m, true)
		default:
			if len(tok) != 2 {
				return Pattern{}, fmt.Errorf("bad token %q", tok)
			}
			v, err := strconv.ParseUint(tok, 16, 8)
			if err != nil {
				return Pattern{}, fmt.Errorf("bad hex %q: %v", tok, err)
			}
			b = append(b, byte(v))
			m = append(m, false)
		}
	}

	if len(b) == 0 {
		return Pattern{}, fmt.Errorf("empty signature")
	}

	literal := false
	for _, wild := range m {
		if !wild {
			literal = true
			break
		}
	}
	if !literal {
		return Pattern{}, fmt.Errorf("signature %q has no literal byte", s)
	}

	return Pattern{b, m}, nil
}

func (p *Pattern) MatchAt(buf []byte, off int) bool {
	if off+len(p.Bytes) > len(buf) {
		return false
	}

	for i := range p.Bytes {
		if p.Mask[i] {
			continue
		}
		if buf[off+i] != p.Bytes[i] {
			return false
		}
	}

	return true
}

// Find returns the first offset at or after from where the pattern
// matches buf, or -1.
func (p Pattern) Find(buf []byte, from int) int {
	if from < 0 {
		from = 0
	}
	for i := from; i+len(p.Bytes) <= len(buf); i++ {
		if p.MatchAt(buf, i) {
			return i
		}
	}

	return -1
}

// FindAll returns every non-overlapping match offset in ascending
// order; the search resumes past the end of each match.
func (p Pattern) FindAll(buf []byte) []int {
	var offs []int
	for i := p.Find(buf, 0); i != -1; i = p.Find(buf, i+len(p.Bytes)) {
		offs = append(offs, i)
	}

	return offs
}

func (pa Pattern) String() string {
	var parts []string
	for i, b := range pa.Bytes {
		if pa.Mask[i] {
			parts = append(parts, "?")
		} else {
			parts = append(parts, p.Format("%02X", b))
		}
	}

	return strings.Join(parts, " ")
}
