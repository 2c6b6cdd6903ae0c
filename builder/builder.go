// Package builder produces the spin-orbital matrix elements of n-particle density matrices, one sweep position at a time.
//
// An element <ψ| a†c1 … a†cn a_d1 … a_dn |ψ> factors as the overlap of L_c = (a†c1 … a†cn)ᵀ ψ and L_rev(d) = (a†dn … a†d1)ᵀ ψ.
// The builder computes these vectors with CreCreCre operators, followed by one elementary annihilation for n = 4.
package builder

import (
	"fmt"
	"slices"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/fumin/npdm"
	"github.com/fumin/npdm/block"
	"github.com/fumin/npdm/operator"
)

// Options are options of a Builder.
type Options struct {
	batchSize  int
	uniqueOnly bool
	threshold  float64
	direct     bool
}

// NewOptions returns the default builder options.
func NewOptions() Options {
	opt := Options{}
	opt.batchSize = 4096
	opt.uniqueOnly = true
	return opt
}

// BatchSize sets the number of elements passed to each store call.
func (opt Options) BatchSize(n int) Options {
	opt.batchSize = n
	return opt
}

// UniqueOnly sets whether only strictly decreasing creation and destruction strings are computed,
// with the other orderings obtained by permutation.
func (opt Options) UniqueOnly(u bool) Options {
	opt.uniqueOnly = u
	return opt
}

// Threshold sets the magnitude at or below which elements are dropped.
func (opt Options) Threshold(t float64) Options {
	opt.threshold = t
	return opt
}

// Direct sets whether operators are applied through their built matrices instead of on configurations.
func (opt Options) Direct(d bool) Options {
	opt.direct = d
	return opt
}

// Builder computes the density matrix elements of a wavefunction.
type Builder struct {
	opt   Options
	block *block.Block
	order int
	psi   []float64

	// cache holds the vectors L of the strings of the current position.
	cache map[[4]int][]float64
}

// New returns a builder of the order-particle density matrix of psi.
// If b carries a rotation, psi holds the coefficients of the renormalized basis, otherwise those of the configurations of b.
func New(b *block.Block, psi []float64, order int, options ...Options) (*Builder, error) {
	opt := NewOptions()
	if len(options) > 0 {
		opt = options[0]
	}
	if order != 3 && order != 4 {
		return nil, errors.Errorf("order %d", order)
	}
	if opt.batchSize < 1 {
		return nil, errors.Errorf("batch size %d", opt.batchSize)
	}

	full := slices.Clone(psi)
	if u := b.Rotation(); u != nil {
		rows, cols := u.Dims()
		if len(psi) != cols {
			return nil, errors.Errorf("wavefunction %d, renormalized dimension %d", len(psi), cols)
		}
		full = make([]float64, rows)
		mat.NewVecDense(rows, full).MulVec(u, mat.NewVecDense(cols, slices.Clone(psi)))
	}
	if len(full) != b.Dim() {
		return nil, errors.Errorf("wavefunction %d, block dimension %d", len(full), b.Dim())
	}

	bd := &Builder{opt: opt, block: b, order: order, psi: full, cache: make(map[[4]int][]float64)}
	return bd, nil
}

// Strings returns the creation strings of a position whose largest spin-orbital is i.
// Only strictly decreasing strings are returned when unique is true.
func Strings(i, order int, unique bool) [][]int {
	ss := make([][]int, 0)
	s := make([]int, order)
	s[0] = i
	var walk func(k, below int)
	walk = func(k, below int) {
		if k == order {
			ss = append(ss, slices.Clone(s))
			return
		}
		for p := below - 1; p >= 0; p-- {
			s[k] = p
			walk(k+1, p)
		}
	}
	walk(1, i)
	if unique {
		return ss
	}

	all := make([][]int, 0, len(ss))
	for _, u := range ss {
		permute(u, 0, func(p []int) { all = append(all, slices.Clone(p)) })
	}
	return all
}

func permute(s []int, k int, fn func([]int)) {
	if k == len(s) {
		fn(s)
		return
	}
	for i := k; i < len(s); i++ {
		s[k], s[i] = s[i], s[k]
		permute(s, k+1, fn)
		s[k], s[i] = s[i], s[k]
	}
}

// Position computes the elements whose creation string has largest spin-orbital i and destruction string has largest spin-orbital j,
// and passes them to store in batches.
func (bd *Builder) Position(i, j int, store func([]npdm.Element) error) error {
	for _, p := range []int{i, j} {
		if !bd.block.Contains(p) {
			return errors.Errorf("orbital %d not in block %s", p, bd.block)
		}
	}
	clear(bd.cache)

	cs := Strings(i, bd.order, bd.opt.uniqueOnly)
	ds := Strings(j, bd.order, bd.opt.uniqueOnly)
	batch := make([]npdm.Element, 0, bd.opt.batchSize)
	emit := func(idx []int, v float64) error {
		if v <= bd.opt.threshold && v >= -bd.opt.threshold {
			return nil
		}
		batch = append(batch, npdm.Element{Index: slices.Clone(idx), Value: v})
		if len(batch) < bd.opt.batchSize {
			return nil
		}
		if err := store(batch); err != nil {
			return errors.Wrap(err, "")
		}
		batch = make([]npdm.Element, 0, bd.opt.batchSize)
		return nil
	}

	idx := make([]int, 2*bd.order)
	rev := make([]int, bd.order)
	for _, c := range cs {
		lc, err := bd.vector(c)
		if err != nil {
			return errors.Wrap(err, fmt.Sprintf("%v", c))
		}
		for _, d := range ds {
			for k := range d {
				rev[k] = d[len(d)-1-k]
			}
			ld, err := bd.vector(rev)
			if err != nil {
				return errors.Wrap(err, fmt.Sprintf("%v", rev))
			}
			v := floats.Dot(lc, ld)
			copy(idx, c)
			copy(idx[bd.order:], d)

			if !bd.opt.uniqueOnly {
				if err := emit(idx, v); err != nil {
					return errors.Wrap(err, "")
				}
				continue
			}
			var emitErr error
			npdm.Expand(idx, v, func(e []int, ev float64) {
				if emitErr == nil {
					emitErr = emit(e, ev)
				}
			})
			if emitErr != nil {
				return errors.Wrap(emitErr, "")
			}
		}
	}

	if len(batch) > 0 {
		if err := store(batch); err != nil {
			return errors.Wrap(err, "")
		}
	}
	return nil
}

// vector returns (a†s1 … a†sn)ᵀ ψ.
func (bd *Builder) vector(s []int) ([]float64, error) {
	var key [4]int
	for k := range key {
		key[k] = -1
	}
	copy(key[:], s)
	if v, ok := bd.cache[key]; ok {
		return v, nil
	}

	op, err := operator.New(operator.CreCreCre, s[0], s[1], s[2])
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	v, err := bd.applyTranspose(op, bd.psi)
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	if len(s) == 4 {
		// (X a†s4)ᵀ ψ = a_s4 Xᵀ ψ.
		if v, err = bd.des(s[3], v); err != nil {
			return nil, errors.Wrap(err, "")
		}
	}
	bd.cache[key] = v
	return v, nil
}

func (bd *Builder) applyTranspose(op *operator.SpinCoupled, v []float64) ([]float64, error) {
	if !bd.opt.direct {
		return op.ApplyTranspose(bd.block, v)
	}
	if err := op.Build(bd.block); err != nil {
		return nil, errors.Wrap(err, "")
	}
	out := make([]float64, len(v))
	mat.NewVecDense(len(out), out).MulVec(op.Matrix().T(), mat.NewVecDense(len(v), v))
	return out, nil
}

// des applies the elementary annihilation operator of spin-orbital p to v.
func (bd *Builder) des(p int, v []float64) ([]float64, error) {
	if bd.opt.direct {
		m, err := bd.block.Des(p)
		if err != nil {
			return nil, errors.Wrap(err, "")
		}
		out := make([]float64, len(v))
		mat.NewVecDense(len(out), out).MulVec(m, mat.NewVecDense(len(v), v))
		return out, nil
	}

	t, ok := bd.block.Local(p)
	if !ok {
		return nil, errors.Errorf("orbital %d not in block %s", p, bd.block)
	}
	out := make([]float64, len(v))
	for col, x := range v {
		if x == 0 {
			continue
		}
		c, sign, ok := bd.block.Config(col).Des(t)
		if !ok {
			continue
		}
		row, _ := bd.block.Index(c)
		out[row] += float64(sign) * x
	}
	return out, nil
}

// Positions returns all sweep positions of a run with the given number of spin-orbitals,
// in the order a sweep visits them.
func Positions(spinOrbitals, order int) [][2]int {
	ps := make([][2]int, 0)
	for i := order - 1; i < spinOrbitals; i++ {
		for j := order - 1; j < spinOrbitals; j++ {
			ps = append(ps, [2]int{i, j})
		}
	}
	return ps
}
