// Package block implements renormalized basis blocks of spin-orbitals.
//
// A Block spans the Fock space of an ordered set of spin-orbitals.
// The order of the orbitals is the Jordan-Wigner order used to assign fermionic signs to the elementary creation and annihilation operators.
// Blocks compose as system ⊗ dot, which is how a sweep grows its renormalized blocks.
package block

import (
	"fmt"
	"math"
	"slices"
	"strings"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

const (
	// MaxOrbitals is the largest number of spin-orbitals a block may span.
	// Dense operator matrices of larger blocks do not fit in memory.
	MaxOrbitals = 12

	// orthonormalTol is the tolerance of the orthonormality check on rotations.
	orthonormalTol = 1e-10
)

// Block is the Fock space spanned by an ordered set of spin-orbitals.
type Block struct {
	orbitals []int
	local    map[int]int

	// configs[k] is the occupation bitstring of basis state k.
	configs []Config
	index   map[Config]int

	sys *Block
	dot *Block

	rotation *mat.Dense

	cre    map[int]*mat.Dense
	parity *mat.Dense
}

// New returns the block spanning the given spin-orbitals.
// Basis state k is the occupation bitstring k, where bit t is the occupation of orbitals[t].
func New(orbitals ...int) (*Block, error) {
	if err := checkOrbitals(orbitals); err != nil {
		return nil, errors.Wrap(err, "")
	}
	b := newBlock(orbitals)
	b.configs = make([]Config, 1<<len(orbitals))
	for k := range b.configs {
		b.configs[k] = Config(k)
	}
	b.buildIndex()
	return b, nil
}

// Must is like New but panics on error.
func Must(orbitals ...int) *Block {
	b, err := New(orbitals...)
	if err != nil {
		panic(fmt.Sprintf("%+v", err))
	}
	return b
}

// Compose returns the block sys ⊗ dot.
// Its orbitals are the orbitals of sys followed by those of dot, and basis state s*dot.Dim()+d is the product of sys state s and dot state d.
func Compose(sys, dot *Block) (*Block, error) {
	orbitals := append(slices.Clone(sys.orbitals), dot.orbitals...)
	if err := checkOrbitals(orbitals); err != nil {
		return nil, errors.Wrap(err, fmt.Sprintf("%v %v", sys.orbitals, dot.orbitals))
	}
	b := newBlock(orbitals)
	b.sys, b.dot = sys, dot

	shift := len(sys.orbitals)
	b.configs = make([]Config, 0, sys.Dim()*dot.Dim())
	for _, sc := range sys.configs {
		for _, dc := range dot.configs {
			b.configs = append(b.configs, sc|dc<<shift)
		}
	}
	b.buildIndex()
	return b, nil
}

func newBlock(orbitals []int) *Block {
	b := &Block{orbitals: slices.Clone(orbitals), local: make(map[int]int, len(orbitals))}
	for t, p := range orbitals {
		b.local[p] = t
	}
	b.cre = make(map[int]*mat.Dense)
	return b
}

func (b *Block) buildIndex() {
	b.index = make(map[Config]int, len(b.configs))
	for k, c := range b.configs {
		b.index[c] = k
	}
}

func checkOrbitals(orbitals []int) error {
	if len(orbitals) > MaxOrbitals {
		return errors.Errorf("%d orbitals, at most %d", len(orbitals), MaxOrbitals)
	}
	seen := make(map[int]struct{}, len(orbitals))
	for _, p := range orbitals {
		if p < 0 {
			return errors.Errorf("negative orbital %d", p)
		}
		if _, ok := seen[p]; ok {
			return errors.Errorf("duplicate orbital %d", p)
		}
		seen[p] = struct{}{}
	}
	return nil
}

// Dim returns the number of basis states.
func (b *Block) Dim() int { return len(b.configs) }

// Orbitals returns the spin-orbitals of the block in Jordan-Wigner order.
func (b *Block) Orbitals() []int { return slices.Clone(b.orbitals) }

// Contains reports whether spin-orbital p belongs to the block.
func (b *Block) Contains(p int) bool {
	_, ok := b.local[p]
	return ok
}

// Local returns the Jordan-Wigner position of spin-orbital p.
func (b *Block) Local(p int) (int, bool) {
	t, ok := b.local[p]
	return t, ok
}

// System returns the system part of a composed block, or nil.
func (b *Block) System() *Block { return b.sys }

// Dot returns the dot part of a composed block, or nil.
func (b *Block) Dot() *Block { return b.dot }

// Config returns the occupation bitstring of basis state k.
func (b *Block) Config(k int) Config { return b.configs[k] }

// Index returns the basis state of occupation bitstring c.
func (b *Block) Index(c Config) (int, bool) {
	k, ok := b.index[c]
	return k, ok
}

// Quantum returns the quantum numbers of basis state k.
func (b *Block) Quantum(k int) Quantum {
	return b.configQuantum(b.configs[k])
}

func (b *Block) configQuantum(c Config) Quantum {
	var q Quantum
	for t, p := range b.orbitals {
		if c.Occupied(t) {
			q.N++
			q.TwoSz += Spin(p)
		}
	}
	return q
}

// Sector returns the basis states with quantum numbers q in increasing order.
func (b *Block) Sector(q Quantum) []int {
	states := make([]int, 0)
	for k := range b.configs {
		if b.Quantum(k) == q {
			states = append(states, k)
		}
	}
	return states
}

// Cre returns the matrix of the elementary creation operator of spin-orbital p.
func (b *Block) Cre(p int) (*mat.Dense, error) {
	if m, ok := b.cre[p]; ok {
		return m, nil
	}
	t, ok := b.local[p]
	if !ok {
		return nil, errors.Errorf("orbital %d not in block %v", p, b.orbitals)
	}

	dim := b.Dim()
	m := mat.NewDense(dim, dim, nil)
	for k, c := range b.configs {
		cc, sign, ok := c.Cre(t)
		if !ok {
			continue
		}
		m.Set(b.index[cc], k, float64(sign))
	}
	b.cre[p] = m
	return m, nil
}

// Des returns the matrix of the elementary annihilation operator of spin-orbital p.
func (b *Block) Des(p int) (*mat.Dense, error) {
	cre, err := b.Cre(p)
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	m := mat.DenseCopyOf(cre.T())
	return m, nil
}

// Parity returns the diagonal matrix (-1)^N of the block.
func (b *Block) Parity() *mat.Dense {
	if b.parity != nil {
		return b.parity
	}
	dim := b.Dim()
	b.parity = mat.NewDense(dim, dim, nil)
	for k, c := range b.configs {
		v := 1.0
		if c.N()%2 == 1 {
			v = -1
		}
		b.parity.Set(k, k, v)
	}
	return b.parity
}

// Identity returns the identity matrix of the block.
func (b *Block) Identity() *mat.Dense {
	dim := b.Dim()
	m := mat.NewDense(dim, dim, nil)
	for k := range dim {
		m.Set(k, k, 1)
	}
	return m
}

// SetRotation installs the transform from the local basis to the renormalized basis.
// The columns of u must be orthonormal.
func (b *Block) SetRotation(u *mat.Dense) error {
	if u == nil {
		b.rotation = nil
		return nil
	}
	rows, cols := u.Dims()
	if rows != b.Dim() || cols > rows {
		return errors.Errorf("rotation %dx%d, block dimension %d", rows, cols, b.Dim())
	}
	var utu mat.Dense
	utu.Mul(u.T(), u)
	for i := range cols {
		for j := range cols {
			want := 0.0
			if i == j {
				want = 1
			}
			if math.Abs(utu.At(i, j)-want) > orthonormalTol {
				return errors.Errorf("rotation columns %d %d not orthonormal: %g", i, j, utu.At(i, j))
			}
		}
	}
	b.rotation = mat.DenseCopyOf(u)
	return nil
}

// Rotation returns the renormalizing transform, or nil if the block is in its local basis.
func (b *Block) Rotation() *mat.Dense { return b.rotation }

func (b *Block) String() string {
	ss := make([]string, 0, len(b.orbitals))
	for _, p := range b.orbitals {
		ss = append(ss, fmt.Sprintf("%d", p))
	}
	s := strings.Join(ss, ",")
	if b.sys != nil {
		return fmt.Sprintf("[%s|%s]", b.sys, b.dot)
	}
	return fmt.Sprintf("[%s]", s)
}
