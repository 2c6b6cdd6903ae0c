// Package mat implements coordinate-format sparse matrices and their CSV stream codec.
//
// Operator pieces of a system block and a dot block are serialized in this format, so that a later sweep position can rebuild composed operators without recomputing the pieces.
package mat

import (
	"cmp"
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"slices"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

type entry struct {
	row int
	col int
	v   float64
}

func byRowCol(a, b entry) int {
	if c := cmp.Compare(a.row, b.row); c != 0 {
		return c
	}
	return cmp.Compare(a.col, b.col)
}

// COO is a sparse matrix of nonzero entries sorted by row, then column.
type COO struct {
	rows    int
	cols    int
	entries []entry
}

func newCOO(rows, cols int) *COO {
	return &COO{rows: rows, cols: cols, entries: make([]entry, 0)}
}

// FromDense returns the sparse form of a, dropping entries whose magnitude is at most tol.
func FromDense(a mat.Matrix, tol float64) *COO {
	rows, cols := a.Dims()
	m := newCOO(rows, cols)
	for i := range rows {
		for j := range cols {
			if v := a.At(i, j); math.Abs(v) > tol {
				m.entries = append(m.entries, entry{row: i, col: j, v: v})
			}
		}
	}
	return m
}

// FromMap returns the sparse matrix with the given entries keyed by row and column.
func FromMap(rows, cols int, entries map[[2]int]float64) *COO {
	m := newCOO(rows, cols)
	for rc, v := range entries {
		if v != 0 {
			m.entries = append(m.entries, entry{row: rc[0], col: rc[1], v: v})
		}
	}
	slices.SortFunc(m.entries, byRowCol)
	return m
}

func (m *COO) Rows() int { return m.rows }
func (m *COO) Cols() int { return m.cols }

// NumNonZero returns the number of stored entries.
func (m *COO) NumNonZero() int { return len(m.entries) }

// EqualApprox reports whether a and b have the same shape and sparsity, with values that differ by at most tol.
func (a *COO) EqualApprox(b *COO, tol float64) bool {
	if a.rows != b.rows || a.cols != b.cols || len(a.entries) != len(b.entries) {
		return false
	}
	for i, ae := range a.entries {
		be := b.entries[i]
		if ae.row != be.row || ae.col != be.col || math.Abs(ae.v-be.v) > tol {
			return false
		}
	}
	return true
}

// ToDense returns the gonum form of m.
func (m *COO) ToDense() *mat.Dense {
	d := mat.NewDense(m.rows, m.cols, nil)
	for _, e := range m.entries {
		d.Set(e.row, e.col, e.v)
	}
	return d
}

func (m *COO) String() string {
	return fmt.Sprintf("%v", mat.Formatted(m.ToDense(), mat.Squeeze()))
}

// Write serializes m as CSV.
// The first record is the shape and the number of entries.
// Each following record is an entry "value,row,col", where an empty value or row repeats that of the previous entry.
func (m *COO) Write(w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{strconv.Itoa(m.rows), strconv.Itoa(m.cols), strconv.Itoa(len(m.entries))}); err != nil {
		return errors.Wrap(err, "")
	}
	prev := entry{row: -1, v: math.NaN()}
	record := make([]string, 3)
	for _, e := range m.entries {
		record[0], record[1] = "", ""
		if e.v != prev.v {
			record[0] = strconv.FormatFloat(e.v, 'g', -1, 64)
		}
		if e.row != prev.row {
			record[1] = strconv.Itoa(e.row)
		}
		record[2] = strconv.Itoa(e.col)
		if err := cw.Write(record); err != nil {
			return errors.Wrap(err, "")
		}
		prev = e
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return errors.Wrap(err, "")
	}
	return nil
}

// Read deserializes a matrix written by Write.
func Read(r io.Reader) (*COO, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = 3
	header, err := cr.Read()
	if err != nil {
		return nil, errors.Wrap(err, "header")
	}
	var shape [3]int
	for k, s := range header {
		if shape[k], err = strconv.Atoi(s); err != nil || shape[k] < 0 {
			return nil, errors.Errorf("header %#v", header)
		}
	}

	m := newCOO(shape[0], shape[1])
	for i := range shape[2] {
		record, err := cr.Read()
		if err == io.EOF {
			return nil, errors.Errorf("%d entries, expected %d", i, shape[2])
		}
		if err != nil {
			return nil, errors.Wrap(err, fmt.Sprintf("entry %d", i))
		}
		e, err := parseEntry(record, m.entries)
		if err != nil {
			return nil, errors.Wrap(err, fmt.Sprintf("entry %d %s", i, strings.Join(record, ",")))
		}
		if e.row < 0 || e.row >= m.rows || e.col < 0 || e.col >= m.cols {
			return nil, errors.Errorf("entry %d (%d, %d) out of %dx%d", i, e.row, e.col, m.rows, m.cols)
		}
		m.entries = append(m.entries, e)
	}
	slices.SortFunc(m.entries, byRowCol)
	return m, nil
}

func parseEntry(record []string, prev []entry) (entry, error) {
	if len(prev) == 0 && (record[0] == "" || record[1] == "") {
		return entry{}, errors.Errorf("first entry repeats nothing")
	}
	var e entry
	var err error
	if record[0] == "" {
		e.v = prev[len(prev)-1].v
	} else if e.v, err = strconv.ParseFloat(record[0], 64); err != nil {
		return entry{}, errors.Wrap(err, "")
	}
	if record[1] == "" {
		e.row = prev[len(prev)-1].row
	} else if e.row, err = strconv.Atoi(record[1]); err != nil {
		return entry{}, errors.Wrap(err, "")
	}
	if e.col, err = strconv.Atoi(record[2]); err != nil {
		return entry{}, errors.Wrap(err, "")
	}
	return e, nil
}
