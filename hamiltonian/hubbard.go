// Package hamiltonian builds model Hamiltonians on blocks of spin-orbitals and solves for their ground states.
package hamiltonian

import (
	"cmp"
	"fmt"
	"slices"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/fumin/npdm/block"
	coo "github.com/fumin/npdm/mat"
	"github.com/fumin/npdm/operator"
)

// Hubbard is the one dimensional Hubbard chain with open boundaries
//
//	H = -t Σ_{p,σ} (a†_{p,σ} a_{p+1,σ} + a†_{p+1,σ} a_{p,σ}) + U Σ_p n_{p,α} n_{p,β}
//
// on spatial orbitals 0 to Sites-1.
type Hubbard struct {
	Sites int
	T     float64
	U     float64
}

func (h Hubbard) check(b *block.Block) error {
	if h.Sites < 1 {
		return errors.Errorf("%d sites", h.Sites)
	}
	for p := range 2 * h.Sites {
		if !b.Contains(p) {
			return errors.Errorf("spin-orbital %d not in block %s", p, b)
		}
	}
	return nil
}

// bonds returns the hopping pairs of spin-orbitals.
func (h Hubbard) bonds() [][2]int {
	bs := make([][2]int, 0)
	for p := 0; p+1 < h.Sites; p++ {
		for sigma := range 2 {
			i, j := block.SpinOrbital(p, sigma), block.SpinOrbital(p+1, sigma)
			bs = append(bs, [2]int{i, j}, [2]int{j, i})
		}
	}
	return bs
}

// Dense builds the Hamiltonian from the elementary operator matrices of b.
func (h Hubbard) Dense(b *block.Block) (*mat.Dense, error) {
	if err := h.check(b); err != nil {
		return nil, errors.Wrap(err, "")
	}
	dim := b.Dim()
	ham := mat.NewDense(dim, dim, nil)
	var term mat.Dense
	for _, bond := range h.bonds() {
		cre, err := b.Cre(bond[0])
		if err != nil {
			return nil, errors.Wrap(err, "")
		}
		des, err := b.Des(bond[1])
		if err != nil {
			return nil, errors.Wrap(err, "")
		}
		term.Mul(cre, des)
		term.Scale(-h.T, &term)
		ham.Add(ham, &term)
	}
	var nUp, nDown, both mat.Dense
	for p := range h.Sites {
		if err := number(&nUp, b, block.SpinOrbital(p, 0)); err != nil {
			return nil, errors.Wrap(err, "")
		}
		if err := number(&nDown, b, block.SpinOrbital(p, 1)); err != nil {
			return nil, errors.Wrap(err, "")
		}
		both.Mul(&nUp, &nDown)
		both.Scale(h.U, &both)
		ham.Add(ham, &both)
	}
	return ham, nil
}

func number(dst *mat.Dense, b *block.Block, p int) error {
	cre, err := b.Cre(p)
	if err != nil {
		return errors.Wrap(err, "")
	}
	dst.Reset()
	dst.Mul(cre, cre.T())
	return nil
}

// Explicit builds the Hamiltonian configuration by configuration, without forming operator matrices.
func (h Hubbard) Explicit(b *block.Block) (*coo.COO, error) {
	if err := h.check(b); err != nil {
		return nil, errors.Wrap(err, "")
	}
	hops := make([]*operator.SpinCoupled, 0)
	for _, bond := range h.bonds() {
		// a†i a_j = -a_j a†i for i != j.
		op, err := operator.New(operator.DesCre, bond[1], bond[0])
		if err != nil {
			return nil, errors.Wrap(err, "")
		}
		hops = append(hops, op)
	}

	dim := b.Dim()
	entries := make(map[[2]int]float64)
	unit := make([]float64, dim)
	for col := range dim {
		c := b.Config(col)
		var double int
		for p := range h.Sites {
			up, _ := b.Local(block.SpinOrbital(p, 0))
			down, _ := b.Local(block.SpinOrbital(p, 1))
			if c.Occupied(up) && c.Occupied(down) {
				double++
			}
		}
		if double > 0 {
			entries[[2]int{col, col}] += h.U * float64(double)
		}

		unit[col] = 1
		for _, op := range hops {
			v, err := op.Apply(b, unit)
			if err != nil {
				return nil, errors.Wrap(err, fmt.Sprintf("%s", op))
			}
			for row, x := range v {
				if x != 0 {
					entries[[2]int{row, col}] += h.T * x
				}
			}
		}
		unit[col] = 0
	}

	return coo.FromMap(dim, dim, entries), nil
}

// Ground returns the lowest eigenvalue of ham within sector q of b, and its eigenvector embedded in the full space of b.
func Ground(b *block.Block, ham mat.Matrix, q block.Quantum) (float64, []float64, error) {
	states := b.Sector(q)
	if len(states) == 0 {
		return 0, nil, errors.Errorf("empty sector %s", q)
	}
	sector := mat.NewSymDense(len(states), nil)
	for i, si := range states {
		for j := i; j < len(states); j++ {
			sector.SetSym(i, j, ham.At(si, states[j]))
		}
	}

	var eig mat.EigenSym
	if ok := eig.Factorize(sector, true); !ok {
		return 0, nil, errors.Errorf("eigen decomposition of sector %s failed", q)
	}
	vals := eig.Values(nil)
	var vecs mat.Dense
	eig.VectorsTo(&vecs)

	order := make([]int, len(vals))
	for i := range order {
		order[i] = i
	}
	slices.SortFunc(order, func(x, y int) int { return cmp.Compare(vals[x], vals[y]) })
	lowest := order[0]

	psi := make([]float64, b.Dim())
	for i, s := range states {
		psi[s] = vecs.At(i, lowest)
	}
	// The largest component is positive.
	if k := floats.MaxIdx(absCopy(psi)); psi[k] < 0 {
		floats.Scale(-1, psi)
	}
	return vals[lowest], psi, nil
}

func absCopy(v []float64) []float64 {
	a := make([]float64, len(v))
	for i, x := range v {
		if x < 0 {
			x = -x
		}
		a[i] = x
	}
	return a
}

// Energy returns <psi|ham|psi>.
func Energy(ham mat.Matrix, psi []float64) float64 {
	v := mat.NewVecDense(len(psi), psi)
	var hv mat.VecDense
	hv.MulVec(ham, v)
	return mat.Dot(v, &hv)
}
