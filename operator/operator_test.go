package operator

import (
	"bytes"
	"fmt"
	"math"
	"testing"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"github.com/fumin/npdm/block"
)

func TestParsePattern(t *testing.T) {
	t.Parallel()
	tests := []struct {
		s      string
		leaves string
		err    bool
	}{
		{s: "(DC)", leaves: "DC"},
		{s: "((CC)D)", leaves: "CCD"},
		{s: "((CC)(DD))", leaves: "CCDD"},
		{s: "(C(DC))", leaves: "CDC"},
		{s: "C", err: true},
		{s: "(CC", err: true},
		{s: "(CCD)", err: true},
		{s: "(CC))", err: true},
		{s: "(CX)", err: true},
		{s: "", err: true},
	}
	for _, test := range tests {
		t.Run(test.s, func(t *testing.T) {
			t.Parallel()
			p, err := ParsePattern(test.s)
			if test.err {
				if err == nil {
					t.Fatalf("expected error, got %s", p)
				}
				return
			}
			if err != nil {
				t.Fatalf("%+v", err)
			}
			if string(p.Leaves) != test.leaves {
				t.Fatalf("%s, expected %s", p.Leaves, test.leaves)
			}
			if p.String() != test.s {
				t.Fatalf("%s, expected %s", p, test.s)
			}
		})
	}
}

func TestKinds(t *testing.T) {
	t.Parallel()
	slots := map[Kind]int{
		DesCre: 2, CreCreDes: 3, CreDesDes: 3, CreDesCre: 3,
		CreCreCre: 3, DesCreDes: 3, DesDesCre: 3, CreCreDesDes: 4,
	}
	for _, k := range Kinds() {
		if k.Slots() != slots[k] {
			t.Fatalf("%s %d slots, expected %d", k, k.Slots(), slots[k])
		}
		if k.SupportsDisk() && !k.Fermion() {
			t.Fatalf("%s composes from disk but is not fermionic", k)
		}
		parsed, err := ParseKind(k.String())
		if err != nil || parsed != k {
			t.Fatalf("%s %v %+v", k, parsed, err)
		}
	}
	if DesCre.Fermion() {
		t.Fatalf("DesCre is fermionic")
	}
	if _, err := New(CreCreDes, 0, 1); err == nil {
		t.Fatalf("expected slot count error")
	}
}

// kindOrbitals are slot assignments spread over a 3 orbital system and a 2 orbital dot.
var kindOrbitals = map[Kind][][]int{
	DesCre:       {{0, 3}, {3, 1}},
	CreCreDes:    {{0, 3, 4}, {4, 1, 2}, {3, 4, 0}, {0, 2, 1}},
	CreDesDes:    {{3, 0, 4}, {1, 4, 2}, {4, 4, 3}},
	CreDesCre:    {{0, 3, 1}, {4, 2, 3}, {2, 2, 4}},
	CreCreCre:    {{4, 0, 3}, {2, 3, 1}, {3, 4, 0}},
	DesCreDes:    {{3, 1, 4}, {0, 4, 2}, {2, 0, 1}},
	DesDesCre:    {{3, 4, 0}, {1, 3, 2}, {4, 0, 3}},
	CreCreDesDes: {{0, 3, 4, 1}, {4, 2, 2, 3}},
}

func newComposed(t *testing.T) *block.Block {
	b, err := block.Compose(block.Must(0, 1, 2), block.Must(3, 4))
	if err != nil {
		t.Fatalf("%+v", err)
	}
	return b
}

func TestBuildFromDisk(t *testing.T) {
	t.Parallel()
	for kind, orbitalsList := range kindOrbitals {
		for _, orbitals := range orbitalsList {
			t.Run(fmt.Sprintf("%s%v", kind, orbitals), func(t *testing.T) {
				t.Parallel()
				b := newComposed(t)
				direct := Must(kind, orbitals...)
				if err := direct.Build(b); err != nil {
					t.Fatalf("%+v", err)
				}

				var sys, dot bytes.Buffer
				if err := WritePieces(direct, b, &sys, &dot); err != nil {
					t.Fatalf("%+v", err)
				}
				disk := Must(kind, orbitals...)
				err := disk.BuildFromDisk(b, &sys, &dot)
				if !kind.SupportsDisk() {
					if !errors.Is(err, ErrUnsupported) {
						t.Fatalf("expected unsupported, got %+v", err)
					}
					return
				}
				if err != nil {
					t.Fatalf("%+v", err)
				}
				if !mat.EqualApprox(direct.Matrix(), disk.Matrix(), 1e-12) {
					t.Fatalf("%v\nexpected\n%v", mat.Formatted(disk.Matrix()), mat.Formatted(direct.Matrix()))
				}
			})
		}
	}
}

func TestBuildInCSFSpace(t *testing.T) {
	t.Parallel()
	for kind, orbitalsList := range kindOrbitals {
		for _, orbitals := range orbitalsList {
			t.Run(fmt.Sprintf("%s%v", kind, orbitals), func(t *testing.T) {
				t.Parallel()
				b := newComposed(t)
				direct := Must(kind, orbitals...)
				if err := direct.Build(b); err != nil {
					t.Fatalf("%+v", err)
				}
				csf := Must(kind, orbitals...)
				err := csf.BuildInCSFSpace(b)
				if !kind.SupportsCSF() {
					var unsupported *UnsupportedError
					if !errors.As(err, &unsupported) || unsupported.Op != "BuildInCSFSpace" {
						t.Fatalf("expected unsupported, got %+v", err)
					}
					return
				}
				if err != nil {
					t.Fatalf("%+v", err)
				}
				if !mat.EqualApprox(direct.Matrix(), csf.Matrix(), 1e-12) {
					t.Fatalf("%v\nexpected\n%v", mat.Formatted(csf.Matrix()), mat.Formatted(direct.Matrix()))
				}
			})
		}
	}
}

func TestRedMatrixElement(t *testing.T) {
	t.Parallel()
	b := block.Must(0, 1, 2, 3)
	o := Must(CreCreDes, 0, 1, 3)
	if err := o.Build(b); err != nil {
		t.Fatalf("%+v", err)
	}

	// Every matrix element agrees with the single configuration reduced element.
	for i := range b.Dim() {
		for j := range b.Dim() {
			v, err := o.RedMatrixElement(b.Config(i), []block.Config{b.Config(j)}, b)
			if err != nil {
				t.Fatalf("%+v", err)
			}
			if v != o.Matrix().At(i, j) {
				t.Fatalf("<%b|O|%b> = %f, expected %f", b.Config(i), b.Config(j), v, o.Matrix().At(i, j))
			}
		}
	}

	c := block.Config(0b0011)
	ladder := []block.Config{0b1000, 0b1001, 0b0100}
	v, err := o.RedMatrixElement(c, ladder, b)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	// Only 0b1000 reaches c: a_3 gives +, a+_1 gives +, a+_0 gives +.
	if v != 1 {
		t.Fatalf("%f", v)
	}

	if _, err := o.RedMatrixElement(block.Config(1<<10), ladder, b); err == nil {
		t.Fatalf("expected error")
	}
}

func TestEntriesSectors(t *testing.T) {
	t.Parallel()
	b := block.Must(0, 1, 2, 3)
	for _, kind := range Kinds() {
		orbitals := []int{0, 1, 2, 3}[:kind.Slots()]
		o := Must(kind, orbitals...)
		if err := o.Build(b); err != nil {
			t.Fatalf("%+v", err)
		}
		delta := o.Delta()
		var n int
		for e := range o.Entries() {
			n++
			if e.RowQ != e.ColQ.Add(delta) {
				t.Fatalf("%s entry %+v does not change sector by %s", o, e, delta)
			}
		}
		if n == 0 {
			t.Fatalf("%s has no entries", o)
		}
	}
}

func TestWorkingRepresentation(t *testing.T) {
	t.Parallel()
	b := block.Must(0, 1)
	o := Must(DesCre, 0, 0)
	if _, err := o.WorkingRepresentation(b); err == nil {
		t.Fatalf("expected not built error")
	}
	if err := o.Build(b); err != nil {
		t.Fatalf("%+v", err)
	}
	w, err := o.WorkingRepresentation(b)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	if w != o.Matrix() {
		t.Fatalf("local basis should share the built matrix")
	}

	// Keep the states where orbital 0 is empty: |00> and |10>, i.e. configs 0 and 2.
	u := mat.NewDense(4, 2, []float64{
		1, 0,
		0, 0,
		0, 1,
		0, 0,
	})
	if err := b.SetRotation(u); err != nil {
		t.Fatalf("%+v", err)
	}
	w, err = o.WorkingRepresentation(b)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	// a_0 a+_0 is one on states without orbital 0.
	want := mat.NewDense(2, 2, []float64{1, 0, 0, 1})
	if !mat.EqualApprox(w, want, 1e-12) {
		t.Fatalf("%v", mat.Formatted(w))
	}
	w2, _ := o.WorkingRepresentation(b)
	if w2 != w {
		t.Fatalf("working representation not shared")
	}

	if _, err := o.WorkingRepresentation(block.Must(0, 1)); err == nil {
		t.Fatalf("expected block mismatch error")
	}
}

func TestApply(t *testing.T) {
	t.Parallel()
	b := block.Must(0, 1, 2, 3)
	o := Must(CreDesCre, 2, 0, 1)
	if err := o.Build(b); err != nil {
		t.Fatalf("%+v", err)
	}
	v := make([]float64, b.Dim())
	for i := range v {
		v[i] = math.Sin(float64(i + 1))
	}
	vec := mat.NewVecDense(len(v), v)

	got, err := o.Apply(b, v)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	var want mat.VecDense
	want.MulVec(o.Matrix(), vec)
	if !mat.EqualApprox(mat.NewVecDense(len(got), got), &want, 1e-12) {
		t.Fatalf("%v, expected %v", got, mat.Formatted(&want))
	}

	got, err = o.ApplyTranspose(b, v)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	want.MulVec(o.Matrix().T(), vec)
	if !mat.EqualApprox(mat.NewVecDense(len(got), got), &want, 1e-12) {
		t.Fatalf("%v, expected %v", got, mat.Formatted(&want))
	}
}
