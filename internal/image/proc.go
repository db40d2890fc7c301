package image

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/s-hammon/p"
	"github.com/s-hammon/patgen/internal/sig"
)

// Memory Map Region
type Region struct {
	Start, End uint64
	Perms      string
	Path       string
}

func (r Region) readable() bool { return strings.Contains(r.Perms, "r") }

// Process is an Accessor over a live process via /proc/<pid>/mem.
type Process struct {
	pid     int
	mem     *os.File
	regions []Region
	base    uint64
}

func OpenProcess(pid int) (*Process, error) {
	mem, err := os.OpenFile(p.Format("/proc/%d/mem", pid), os.O_RDONLY, 0)
	if err != nil {
		return nil, err
	}

	regions, err := ReadMaps(pid)
	if err != nil {
		mem.Close()
		return nil, err
	}

	pr := &Process{pid: pid, mem: mem, regions: regions}
	pr.base = pr.moduleBase()
	return pr, nil
}

func (pr *Process) Close() error { return pr.mem.Close() }

func (pr *Process) Base() uint64 { return pr.base }

// moduleBase finds the lowest mapping of the main executable; if the
// exe link cannot be resolved, the first readable region stands in.
func (pr *Process) moduleBase() uint64 {
	exe, err := os.Readlink(p.Format("/proc/%d/exe", pr.pid))
	if err == nil {
		for _, r := range pr.regions {
			if r.Path == exe {
				return r.Start
			}
		}
	}

	for _, r := range pr.regions {
		if r.readable() {
			return r.Start
		}
	}

	return 0
}

func (pr *Process) SearchForward(start uint64, pat sig.Pattern) (uint64, error) {
	const chunk = 1 << 20
	overlap := len(pat.Bytes) - 1

	for _, r := range pr.regions {
		if !r.readable() || r.End <= start {
			continue
		}

		size := int(r.End - r.Start)
		carry := []byte{}
		for off := 0; off < size; {
			toRead := min(size-off, chunk)
			buf := make([]byte, len(carry)+toRead)
			copy(buf, carry)
			if _, err := pr.mem.ReadAt(buf[len(carry):], int64(r.Start)+int64(off)); err != nil {
				off += toRead
				carry = nil
				continue
			}

			for i := 0; i+len(pat.Bytes) <= len(buf); i++ {
				if pat.MatchAt(buf, i) {
					abs := r.Start + uint64(off+i) - uint64(len(carry))
					if abs >= start {
						return abs, nil
					}
				}
			}

			if overlap > 0 && len(buf) >= overlap {
				carry = append(carry[:0], buf[len(buf)-overlap:]...)
			} else {
				carry = nil
			}

			off += toRead
		}
	}

	return 0, ErrNoMatch
}

func (pr *Process) ReadU32(addr uint64) (uint32, error) {
	var buf [4]byte
	if _, err := pr.mem.ReadAt(buf[:], int64(addr)); err != nil {
		return 0, fmt.Errorf("read 0x%x (4): %v", addr, err)
	}

	return binary.LittleEndian.Uint32(buf[:]), nil
}

func (pr *Process) ReadCString(addr uint64) ([]byte, error) {
	const step = 64
	var out []byte
	for {
		buf := make([]byte, step)
		n, err := pr.mem.ReadAt(buf, int64(addr)+int64(len(out)))
		if n == 0 && err != nil {
			return nil, fmt.Errorf("read 0x%x: %v", addr, err)
		}

		if i := bytes.IndexByte(buf[:n], 0); i != -1 {
			return append(out, buf[:i]...), nil
		}

		out = append(out, buf[:n]...)
		if n < step {
			return nil, fmt.Errorf("unterminated string at 0x%x", addr)
		}
	}
}

// FindPidBySubstring matches against /proc/<pid>/comm.
func FindPidBySubstring(substr string) (int, error) {
	ents, err := os.ReadDir("/proc")
	if err != nil {
		return 0, err
	}

	for _, e := range ents {
		if !e.IsDir() {
			continue
		}

		pid, err := strconv.Atoi(e.Name())
		if err != nil {
			continue
		}

		commBytes, err := os.ReadFile(p.Format("/proc/%d/comm", pid))
		if err != nil {
			continue
		}

		comm := strings.TrimSpace(string(commBytes))
		if strings.Contains(comm, substr) {
			return pid, nil
		}
	}

	return 0, fmt.Errorf("process containing %s not found", substr)
}

func ReadMaps(pid int) ([]Region, error) {
	f, err := os.Open(p.Format("/proc/%d/maps", pid))
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var regs []Region
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}

		addr := strings.Split(fields[0], "-")
		if len(addr) != 2 {
			continue
		}

		start, err1 := strconv.ParseUint(addr[0], 16, 64)
		end, err2 := strconv.ParseUint(addr[1], 16, 64)
		if err1 != nil || err2 != nil {
			continue
		}

		reg := Region{Start: start, End: end, Perms: fields[1]}
		if len(fields) >= 6 {
			reg.Path = fields[5]
		}

		regs = append(regs, reg)
	}

	return regs, scanner.Err()
}
