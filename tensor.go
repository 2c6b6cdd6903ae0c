package npdm

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"github.com/pkg/errors"
)

// maxTensorElements bounds the size of a dense tensor regardless of the memory budget.
const maxTensorElements = 1 << 34

// Tensor is a dense tensor of equal dimensions, stored flat in lexicographic order with the first index varying slowest.
type Tensor struct {
	rank int
	dim  int
	data []float64
}

// TensorBytes returns the memory needed by a dense tensor.
func TensorBytes(rank, dim int) float64 {
	return 8 * math.Pow(float64(dim), float64(rank))
}

// NewTensor returns a zero tensor.
func NewTensor(rank, dim int) (*Tensor, error) {
	if rank < 1 || rank > MaxRank || dim < 1 {
		return nil, errors.Errorf("rank %d dimension %d", rank, dim)
	}
	if n := TensorBytes(rank, dim) / 8; n > maxTensorElements {
		return nil, errors.Errorf("rank %d dimension %d has %g elements", rank, dim, n)
	}
	n := 1
	for range rank {
		n *= dim
	}
	return &Tensor{rank: rank, dim: dim, data: make([]float64, n)}, nil
}

func (t *Tensor) Rank() int { return t.rank }
func (t *Tensor) Dim() int  { return t.dim }

// Data returns the flat backing array, owned by t.
func (t *Tensor) Data() []float64 { return t.data }

func (t *Tensor) offset(idx []int) int {
	if len(idx) != t.rank {
		panic(errors.Errorf("index %v of rank %d", idx, t.rank))
	}
	var off int
	for _, i := range idx {
		if i < 0 || i >= t.dim {
			panic(errors.Errorf("index %v out of dimension %d", idx, t.dim))
		}
		off = off*t.dim + i
	}
	return off
}

func (t *Tensor) At(idx ...int) float64 { return t.data[t.offset(idx)] }

// Add adds v to the element at idx.
func (t *Tensor) Add(idx []int, v float64) { t.data[t.offset(idx)] += v }

// AddSparse adds every entry of s.
func (t *Tensor) AddSparse(s *Sparse) {
	for idx, v := range s.All() {
		t.Add(idx, v)
	}
}

// Trace returns the sum of the elements whose second half of indices equals the first half.
func (t *Tensor) Trace() float64 {
	return t.trace(false)
}

// ReversedTrace returns the sum of the elements whose second half of indices is the first half reversed.
func (t *Tensor) ReversedTrace() float64 {
	return t.trace(true)
}

func (t *Tensor) trace(reversed bool) float64 {
	n := t.rank / 2
	idx := make([]int, t.rank)
	var sum float64
	var walk func(k int)
	walk = func(k int) {
		if k == n {
			for i := range n {
				j := n + i
				if reversed {
					j = t.rank - 1 - i
				}
				idx[j] = idx[i]
			}
			sum += t.At(idx...)
			return
		}
		for p := range t.dim {
			idx[k] = p
			walk(k + 1)
		}
	}
	walk(0)
	return sum
}

// WriteTo writes the elements as little endian float64 in lexicographic order.
func (t *Tensor) WriteTo(w io.Writer) (int64, error) {
	bw := bufio.NewWriter(w)
	var n int64
	var buf [8]byte
	for _, v := range t.data {
		binary.LittleEndian.PutUint64(buf[:], math.Float64bits(v))
		m, err := bw.Write(buf[:])
		n += int64(m)
		if err != nil {
			return n, errors.Wrap(err, "")
		}
	}
	if err := bw.Flush(); err != nil {
		return n, errors.Wrap(err, "")
	}
	return n, nil
}

// ReadTensor reads a tensor written by WriteTo.
func ReadTensor(r io.Reader, rank, dim int) (*Tensor, error) {
	t, err := NewTensor(rank, dim)
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	br := bufio.NewReader(r)
	var buf [8]byte
	for i := range t.data {
		if _, err := io.ReadFull(br, buf[:]); err != nil {
			return nil, errors.Wrap(err, fmt.Sprintf("element %d of %d", i, len(t.data)))
		}
		t.data[i] = math.Float64frombits(binary.LittleEndian.Uint64(buf[:]))
	}
	if _, err := br.ReadByte(); err != io.EOF {
		return nil, errors.Errorf("trailing data after %d elements", len(t.data))
	}
	return t, nil
}
