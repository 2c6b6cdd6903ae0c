package npdm

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Format is the on-disk form of sparse per-position results.
type Format string

const (
	// FormatText writes one "<indices> <value>" line per element.
	FormatText Format = "text"
	// FormatBinary writes a stream of records of little endian int32 indices followed by a float64 value.
	FormatBinary Format = "binary"
	// FormatSQLite writes rows of a single sqlite database per run.
	FormatSQLite Format = "sqlite"
)

func (f Format) valid() bool {
	switch f {
	case FormatText, FormatBinary, FormatSQLite:
		return true
	}
	return false
}

func (f Format) ext() string {
	switch f {
	case FormatText:
		return "txt"
	case FormatBinary:
		return "bin"
	default:
		return "db"
	}
}

// Representation distinguishes spin-orbital from spatial-orbital results.
type Representation string

const (
	Spin    Representation = "spin"
	Spatial Representation = "spatial"
)

const fullTag = "full"

// FileName returns the name of the file holding the results of position (i, j).
// Worker 0 is a single process run; other workers get their own partial files.
func FileName(name string, rep Representation, i, j, worker int, f Format) string {
	base := fmt.Sprintf("%s.%s.%d.%d", name, rep, i, j)
	if worker > 0 {
		base += fmt.Sprintf(".w%d", worker)
	}
	return base + "." + f.ext()
}

// FullFileName returns the name of the file holding a full in-core tensor.
func FullFileName(name string, rep Representation) string {
	return fmt.Sprintf("%s.%s.%s.bin", name, rep, fullTag)
}

type partialFile struct {
	name   string
	rep    Representation
	i      int
	j      int
	worker int
	ext    string
}

func parseFileName(base string) (partialFile, bool) {
	fs := strings.Split(base, ".")
	if len(fs) != 5 && len(fs) != 6 {
		return partialFile{}, false
	}
	pf := partialFile{name: fs[0], rep: Representation(fs[1]), ext: fs[len(fs)-1]}
	var err error
	if pf.i, err = strconv.Atoi(fs[2]); err != nil {
		return partialFile{}, false
	}
	if pf.j, err = strconv.Atoi(fs[3]); err != nil {
		return partialFile{}, false
	}
	if len(fs) == 6 {
		w, ok := strings.CutPrefix(fs[4], "w")
		if !ok {
			return partialFile{}, false
		}
		if pf.worker, err = strconv.Atoi(w); err != nil || pf.worker < 1 {
			return partialFile{}, false
		}
	}
	return pf, true
}

// WriteText writes s as lines of space separated indices followed by the value.
func WriteText(w io.Writer, s *Sparse) error {
	bw := bufio.NewWriter(w)
	fields := make([]string, s.Rank()+1)
	for idx, v := range s.All() {
		for k, i := range idx {
			fields[k] = strconv.Itoa(i)
		}
		fields[s.Rank()] = strconv.FormatFloat(v, 'g', -1, 64)
		if _, err := bw.WriteString(strings.Join(fields, " ") + "\n"); err != nil {
			return errors.Wrap(err, "")
		}
	}
	if err := bw.Flush(); err != nil {
		return errors.Wrap(err, "")
	}
	return nil
}

// ReadText reads elements written by WriteText.
func ReadText(r io.Reader, rank int) (*Sparse, error) {
	s := NewSparse(rank)
	scanner := bufio.NewScanner(r)
	idx := make([]int, rank)
	var line int
	for scanner.Scan() {
		line++
		fs := strings.Fields(scanner.Text())
		if len(fs) == 0 {
			continue
		}
		if len(fs) != rank+1 {
			return nil, errors.Errorf("line %d: %d fields, expected %d", line, len(fs), rank+1)
		}
		var err error
		for k := range rank {
			if idx[k], err = strconv.Atoi(fs[k]); err != nil {
				return nil, errors.Wrap(err, fmt.Sprintf("line %d", line))
			}
		}
		v, err := strconv.ParseFloat(fs[rank], 64)
		if err != nil {
			return nil, errors.Wrap(err, fmt.Sprintf("line %d", line))
		}
		if err := s.Add(idx, v); err != nil {
			return nil, errors.Wrap(err, fmt.Sprintf("line %d", line))
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "")
	}
	return s, nil
}

func recordSize(rank int) int { return 4*rank + 8 }

// WriteBinary writes s as a headerless stream of (int32[rank], float64) records.
func WriteBinary(w io.Writer, s *Sparse) error {
	bw := bufio.NewWriter(w)
	rank := s.Rank()
	buf := make([]byte, recordSize(rank))
	for idx, v := range s.All() {
		for k, i := range idx {
			if i > math.MaxInt32 {
				return errors.Errorf("index %v overflows int32", idx)
			}
			binary.LittleEndian.PutUint32(buf[4*k:], uint32(int32(i)))
		}
		binary.LittleEndian.PutUint64(buf[4*rank:], math.Float64bits(v))
		if _, err := bw.Write(buf); err != nil {
			return errors.Wrap(err, "")
		}
	}
	if err := bw.Flush(); err != nil {
		return errors.Wrap(err, "")
	}
	return nil
}

// ReadBinary reads records written by WriteBinary until the end of the stream.
func ReadBinary(r io.Reader, rank int) (*Sparse, error) {
	s := NewSparse(rank)
	br := bufio.NewReader(r)
	buf := make([]byte, recordSize(rank))
	idx := make([]int, rank)
	for n := 0; ; n++ {
		_, err := io.ReadFull(br, buf)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.Wrap(err, fmt.Sprintf("record %d", n))
		}
		for k := range idx {
			idx[k] = int(int32(binary.LittleEndian.Uint32(buf[4*k:])))
		}
		v := math.Float64frombits(binary.LittleEndian.Uint64(buf[4*rank:]))
		if err := s.Add(idx, v); err != nil {
			return nil, errors.Wrap(err, fmt.Sprintf("record %d", n))
		}
	}
	return s, nil
}

// readFile reads a sparse file of either text or binary format.
func readFile(path string, f Format, rank int) (*Sparse, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	defer file.Close()

	var s *Sparse
	switch f {
	case FormatText:
		s, err = ReadText(file, rank)
	case FormatBinary:
		s, err = ReadBinary(file, rank)
	default:
		return nil, errors.Errorf("format %q is not file based", f)
	}
	if err != nil {
		return nil, errors.Wrap(err, path)
	}
	return s, nil
}

// writeFileAtomic writes a file through a temporary file in the same directory, so that a failed write never leaves a partial file under path.
func writeFileAtomic(path string, write func(io.Writer) error) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp*")
	if err != nil {
		return errors.Wrap(err, "")
	}
	if err := write(tmp); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return errors.Wrap(err, path)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return errors.Wrap(err, path)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return errors.Wrap(err, path)
	}
	return nil
}
