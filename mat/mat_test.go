package mat

import (
	"bytes"
	"fmt"
	"strings"
	"testing"

	"gonum.org/v1/gonum/mat"
)

func TestFromMap(t *testing.T) {
	t.Parallel()
	m := FromMap(2, 3, map[[2]int]float64{{1, 0}: 2, {0, 2}: -1, {0, 1}: 0})
	want := FromDense(mat.NewDense(2, 3, []float64{
		0, 0, -1,
		2, 0, 0,
	}), 0)
	if !m.EqualApprox(want, 0) {
		t.Fatalf("%s, expected %s", m, want)
	}
	if m.NumNonZero() != 2 {
		t.Fatalf("%d entries", m.NumNonZero())
	}
}

func TestFromDenseTolerance(t *testing.T) {
	t.Parallel()
	d := mat.NewDense(2, 2, []float64{1e-13, 1, -1e-13, 0})
	if n := FromDense(d, 1e-12).NumNonZero(); n != 1 {
		t.Fatalf("%d entries, expected 1", n)
	}
	if n := FromDense(d, 0).NumNonZero(); n != 3 {
		t.Fatalf("%d entries, expected 3", n)
	}
}

func TestWriteRead(t *testing.T) {
	t.Parallel()
	tests := []struct {
		m *COO
	}{
		{m: FromDense(mat.NewDense(1, 1, []float64{0}), 0)},
		{m: FromDense(mat.NewDiagDense(5, []float64{1, 1, 1, 1, 1}), 0)},
		{m: FromDense(mat.NewDense(3, 4, []float64{
			-1, -1, 0, 0.1,
			0, 0, 0, 0,
			2, 0, 2, 2,
		}), 0)},
	}
	for _, test := range tests {
		t.Run(fmt.Sprintf("%s", test.m), func(t *testing.T) {
			t.Parallel()
			var buf bytes.Buffer
			if err := test.m.Write(&buf); err != nil {
				t.Fatalf("%+v", err)
			}
			m, err := Read(&buf)
			if err != nil {
				t.Fatalf("%+v", err)
			}
			if !m.EqualApprox(test.m, 0) {
				t.Fatalf("%s, expected %s", m, test.m)
			}
		})
	}
}

func TestReadCompressed(t *testing.T) {
	t.Parallel()
	s := "3,3,4\n2,0,0\n,,2\n-1,2,1\n,,2\n"
	m, err := Read(strings.NewReader(s))
	if err != nil {
		t.Fatalf("%+v", err)
	}
	want := FromDense(mat.NewDense(3, 3, []float64{
		2, 0, 2,
		0, 0, 0,
		0, -1, -1,
	}), 0)
	if !m.EqualApprox(want, 0) {
		t.Fatalf("%s, expected %s", m, want)
	}
}

func TestReadErrors(t *testing.T) {
	t.Parallel()
	tests := []struct {
		s string
	}{
		{s: ""},
		{s: "2,2\n"},
		{s: "2,2,1\n"},
		{s: "2,2,1\n1,2,0\n"},
		{s: "2,2,1\n,,0\n"},
		{s: "2,2,1\nx,0,0\n"},
		{s: "2,-2,1\n1,0,0\n"},
	}
	for _, test := range tests {
		t.Run(fmt.Sprintf("%q", test.s), func(t *testing.T) {
			t.Parallel()
			if _, err := Read(strings.NewReader(test.s)); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}
