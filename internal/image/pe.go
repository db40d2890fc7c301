package image

import (
	"fmt"

	"github.com/Binject/debug/pe"
)

// OpenPE maps a PE file's sections at their virtual addresses, giving
// the same view of the binary a live process would have (minus
// relocations, which pattern scanning does not care about). The base
// comes from the optional header, so emitted RVAs line up with what
// the loader produces at the preferred base.
func OpenPE(path string) (*Buffer, error) {
	f, err := pe.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %v", path, err)
	}
	defer f.Close()

	var (
		base uint64
		size uint64
	)
	switch oh := f.OptionalHeader.(type) {
	case *pe.OptionalHeader64:
		base = oh.ImageBase
		size = uint64(oh.SizeOfImage)
	case *pe.OptionalHeader32:
		base = uint64(oh.ImageBase)
		size = uint64(oh.SizeOfImage)
	default:
		return nil, fmt.Errorf("%s: missing optional header", path)
	}

	data := make([]byte, size)
	for _, s := range f.Sections {
		raw, err := s.Data()
		if err != nil {
			return nil, fmt.Errorf("section %s: %v", s.Name, err)
		}

		va := uint64(s.VirtualAddress)
		if va >= size {
			continue
		}
		if room := size - va; uint64(len(raw)) > room {
			raw = raw[:room]
		}
		copy(data[va:], raw)
	}

	return NewBuffer(base, data), nil
}
