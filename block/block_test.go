package block

import (
	"fmt"
	"math"
	"testing"

	"gonum.org/v1/gonum/mat"
)

func TestAnticommutation(t *testing.T) {
	t.Parallel()
	tests := []struct {
		orbitals []int
	}{
		{orbitals: []int{0, 1}},
		{orbitals: []int{3, 0, 5}},
		{orbitals: []int{0, 1, 2, 3}},
	}
	for _, test := range tests {
		t.Run(fmt.Sprintf("%v", test.orbitals), func(t *testing.T) {
			t.Parallel()
			b := Must(test.orbitals...)
			for _, p := range test.orbitals {
				for _, q := range test.orbitals {
					cp, _ := b.Cre(p)
					dq, _ := b.Des(q)
					var ab, ba, sum mat.Dense
					ab.Mul(cp, dq)
					ba.Mul(dq, cp)
					sum.Add(&ab, &ba)

					want := mat.NewDense(b.Dim(), b.Dim(), nil)
					if p == q {
						want = b.Identity()
					}
					if !mat.EqualApprox(&sum, want, 1e-12) {
						t.Fatalf("{a+_%d, a_%d} = %v", p, q, mat.Formatted(&sum))
					}

					cq, _ := b.Cre(q)
					var cc, cc2, csum mat.Dense
					cc.Mul(cp, cq)
					cc2.Mul(cq, cp)
					csum.Add(&cc, &cc2)
					if mat.Norm(&csum, 1) > 1e-12 {
						t.Fatalf("{a+_%d, a+_%d} = %v", p, q, mat.Formatted(&csum))
					}
				}
			}
		})
	}
}

func TestCompose(t *testing.T) {
	t.Parallel()
	sys := Must(0, 1)
	dot := Must(2, 3)
	b, err := Compose(sys, dot)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	if b.Dim() != 16 {
		t.Fatalf("%d", b.Dim())
	}

	// A dot operator is the system parity times the local dot operator.
	c, err := b.Cre(2)
	if err != nil {
		t.Fatalf("%+v", err)
	}
	local, _ := dot.Cre(2)
	var want mat.Dense
	want.Kronecker(sys.Parity(), local)
	if !mat.EqualApprox(c, &want, 1e-12) {
		t.Fatalf("%v, expected %v", mat.Formatted(c), mat.Formatted(&want))
	}

	// A system operator acts as identity on the dot.
	c, _ = b.Cre(1)
	local, _ = sys.Cre(1)
	want.Kronecker(local, dot.Identity())
	if !mat.EqualApprox(c, &want, 1e-12) {
		t.Fatalf("%v, expected %v", mat.Formatted(c), mat.Formatted(&want))
	}

	if _, err := Compose(sys, Must(1, 4)); err == nil {
		t.Fatalf("expected duplicate orbital error")
	}
}

func TestSector(t *testing.T) {
	t.Parallel()
	b := Must(0, 1, 2, 3)
	tests := []struct {
		q Quantum
		n int
	}{
		{q: Quantum{N: 0, TwoSz: 0}, n: 1},
		{q: Quantum{N: 1, TwoSz: 1}, n: 2},
		{q: Quantum{N: 2, TwoSz: 0}, n: 4},
		{q: Quantum{N: 2, TwoSz: 2}, n: 1},
		{q: Quantum{N: 4, TwoSz: 0}, n: 1},
	}
	for _, test := range tests {
		t.Run(test.q.String(), func(t *testing.T) {
			t.Parallel()
			states := b.Sector(test.q)
			if len(states) != test.n {
				t.Fatalf("%v, expected %d states", states, test.n)
			}
			for _, k := range states {
				if b.Quantum(k) != test.q {
					t.Fatalf("%d %v", k, b.Quantum(k))
				}
			}
		})
	}
}

func TestSetRotation(t *testing.T) {
	t.Parallel()
	b := Must(0, 1)
	s := 1 / math.Sqrt2
	u := mat.NewDense(4, 2, []float64{
		s, 0,
		s, 0,
		0, s,
		0, -s,
	})
	if err := b.SetRotation(u); err != nil {
		t.Fatalf("%+v", err)
	}
	if b.Rotation() == nil {
		t.Fatalf("nil rotation")
	}

	bad := mat.NewDense(4, 2, []float64{
		1, 1,
		0, 0,
		0, 0,
		0, 0,
	})
	if err := b.SetRotation(bad); err == nil {
		t.Fatalf("expected error")
	}
}

func TestConfig(t *testing.T) {
	t.Parallel()
	c := Config(0b0101)
	cc, sign, ok := c.Cre(1)
	if !ok || cc != 0b0111 || sign != -1 {
		t.Fatalf("%b %d %v", cc, sign, ok)
	}
	cc, sign, ok = c.Des(2)
	if !ok || cc != 0b0001 || sign != -1 {
		t.Fatalf("%b %d %v", cc, sign, ok)
	}
	if _, _, ok := c.Des(1); ok {
		t.Fatalf("annihilated empty position")
	}
}
