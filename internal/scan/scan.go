// Package scan resolves wildcarded byte signatures to addresses in a
// target image. A Scanner owns a per-run cache of match sets, so a
// signature shared by several entries costs one pass over the image.
package scan

import (
	"errors"

	"github.com/s-hammon/p"
	"github.com/s-hammon/patgen/internal/image"
	"github.com/s-hammon/patgen/internal/sig"
)

type Scanner struct {
	acc   image.Accessor
	cache map[string][]uint64
}

func New(acc image.Accessor) *Scanner {
	return &Scanner{acc: acc, cache: make(map[string][]uint64)}
}

func (s *Scanner) Base() uint64 { return s.acc.Base() }

func (s *Scanner) ReadCString(addr uint64) ([]byte, error) {
	return s.acc.ReadCString(addr)
}

// Search returns every non-overlapping address the signature matches
// at, in ascending order. Zero matches is a valid empty result, not
// an error. Results are cached by the exact signature text for the
// lifetime of the Scanner.
func (s *Scanner) Search(sigStr string) ([]uint64, error) {
	if addrs, ok := s.cache[sigStr]; ok {
		return addrs, nil
	}

	pat, err := sig.ParseSignature(sigStr)
	if err != nil {
		return nil, err
	}

	var addrs []uint64
	ea := s.acc.Base()
	for {
		addr, err := s.acc.SearchForward(ea, pat)
		if errors.Is(err, image.ErrNoMatch) {
			break
		}
		if err != nil {
			return nil, err
		}

		addrs = append(addrs, addr)
		ea = addr + uint64(len(pat.Bytes))
	}

	s.cache[sigStr] = addrs
	return addrs, nil
}

// CardinalityError reports a signature that matched a different
// number of times than its entry declared. A signature drifting from
// its expected count is the loud failure mode this tool exists for: a
// silently wrong match would corrupt every downstream offset.
type CardinalityError struct {
	Pattern         string
	Found, Expected int
}

func (e *CardinalityError) Error() string {
	return p.Format("found %d match(es) but %d match(es) were expected for pattern %q",
		e.Found, e.Expected, e.Pattern)
}

// Find returns the index-th match of the signature, requiring exactly
// expected matches. The caller guarantees 0 <= index < expected;
// configuration loading rejects anything else before a scan starts.
func (s *Scanner) Find(sigStr string, expected, index int) (uint64, error) {
	addrs, err := s.Search(sigStr)
	if err != nil {
		return 0, err
	}

	if len(addrs) != expected {
		return 0, &CardinalityError{Pattern: sigStr, Found: len(addrs), Expected: expected}
	}

	return addrs[index], nil
}

// FindPtr locates the signature like Find, then resolves the
// RIP-relative displacement at the given byte offset into the match.
func (s *Scanner) FindPtr(sigStr string, expected, index, offset int) (uint64, error) {
	addr, err := s.Find(sigStr, expected, index)
	if err != nil {
		return 0, err
	}

	return s.Resolve(addr, offset)
}

// Resolve reads the 4-byte signed displacement at addr+offset and
// computes the effective address: addr + offset + disp + 4. The +4 is
// the width of the displacement field itself; the CPU adds the
// displacement to the address of the byte that follows it.
func (s *Scanner) Resolve(addr uint64, offset int) (uint64, error) {
	imm, err := s.acc.ReadU32(addr + uint64(offset))
	if err != nil {
		return 0, err
	}

	disp := int64(int32(imm))
	next := int64(addr) + int64(offset) + 4
	return uint64(next + disp), nil
}
