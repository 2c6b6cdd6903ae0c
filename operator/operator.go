// Package operator implements spin-coupled operators, the products of two to four elementary creation and annihilation operators that make up the raw matrix elements of n-particle density matrices.
//
// Every operator follows a fixed coupling pattern, see Kind.
// The matrix representation of an operator in a block can be built in three ways:
// directly from the elementary operators of the block, by composing serialized system and dot pieces, or entry by entry from reduced matrix elements of configurations.
// All three yield the same matrix.
package operator

import (
	"fmt"
	"io"
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"github.com/fumin/npdm/block"
	coo "github.com/fumin/npdm/mat"
)

// Operator is the interface consumers of spin-coupled operators depend on.
type Operator interface {
	Kind() Kind
	Orbitals() []int
	Fermion() bool
	Descriptor() string

	Build(b *block.Block) error
	BuildFromDisk(b *block.Block, sys, dot io.Reader) error
	BuildInCSFSpace(b *block.Block) error
	WorkingRepresentation(b *block.Block) (*mat.Dense, error)
	RedMatrixElement(c block.Config, ladder []block.Config, b *block.Block) (float64, error)

	Matrix() *mat.Dense
}

// SpinCoupled is an operator of one coupling pattern acting on fixed spin-orbitals.
type SpinCoupled struct {
	kind     Kind
	orbitals []int

	block  *block.Block
	matrix *mat.Dense

	// working is the cached working representation of matrix.
	working *mat.Dense
}

var _ Operator = (*SpinCoupled)(nil)

// New returns the operator of the given kind whose slots hold the given spin-orbitals.
func New(kind Kind, orbitals ...int) (*SpinCoupled, error) {
	if !kind.valid() {
		return nil, errors.Errorf("invalid kind %d", kind)
	}
	if len(orbitals) != kind.Slots() {
		return nil, errors.Errorf("%s has %d slots, got %v", kind, kind.Slots(), orbitals)
	}
	for _, p := range orbitals {
		if p < 0 {
			return nil, errors.Errorf("%s negative orbital in %v", kind, orbitals)
		}
	}
	o := &SpinCoupled{kind: kind, orbitals: append([]int(nil), orbitals...)}
	return o, nil
}

// Must is like New but panics on error.
func Must(kind Kind, orbitals ...int) *SpinCoupled {
	o, err := New(kind, orbitals...)
	if err != nil {
		panic(fmt.Sprintf("%+v", err))
	}
	return o
}

func (o *SpinCoupled) Kind() Kind         { return o.kind }
func (o *SpinCoupled) Orbitals() []int    { return append([]int(nil), o.orbitals...) }
func (o *SpinCoupled) Fermion() bool      { return o.kind.Fermion() }
func (o *SpinCoupled) Descriptor() string { return o.kind.Descriptor() }

// Delta returns the net change in particle number and spin projection.
func (o *SpinCoupled) Delta() block.Quantum {
	return o.kind.Pattern().Root.Delta(o.orbitals)
}

// Matrix returns the matrix built by the last successful build, or nil.
func (o *SpinCoupled) Matrix() *mat.Dense { return o.matrix }

func (o *SpinCoupled) String() string {
	return fmt.Sprintf("%s%v", o.kind, o.orbitals)
}

func (o *SpinCoupled) set(b *block.Block, m *mat.Dense) {
	o.block = b
	o.matrix = m
	o.working = nil
}

// Build computes the matrix of the operator from the elementary operators of b.
// The coupling tree is evaluated bottom up; in a spin-orbital basis every recoupling coefficient is one.
func (o *SpinCoupled) Build(b *block.Block) error {
	m, err := o.eval(o.kind.Pattern().Root, b)
	if err != nil {
		return errors.Wrap(err, o.String())
	}
	o.set(b, m)
	return nil
}

func (o *SpinCoupled) eval(n *Node, b *block.Block) (*mat.Dense, error) {
	if n.IsLeaf() {
		return elementary(b, n.Op, o.orbitals[n.Slot])
	}
	left, err := o.eval(n.Left, b)
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	right, err := o.eval(n.Right, b)
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	var m mat.Dense
	m.Mul(left, right)
	return &m, nil
}

func elementary(b *block.Block, op byte, p int) (*mat.Dense, error) {
	switch op {
	case opCre:
		return b.Cre(p)
	default:
		return b.Des(p)
	}
}

// BuildFromDisk composes the matrix of the operator in the composed block b from the serialized system and dot pieces written by WritePieces.
//
// With S the product of the slots on the system and D the product of the slots on the dot, the operator is sign * (S P^k) ⊗ D,
// where P is the parity of the system, k the number of slots on the dot, and sign that of moving the system slots ahead of the dot slots.
func (o *SpinCoupled) BuildFromDisk(b *block.Block, sys, dot io.Reader) error {
	if !o.kind.SupportsDisk() {
		return &UnsupportedError{Kind: o.kind, Op: "BuildFromDisk"}
	}
	sysBlock, dotBlock := b.System(), b.Dot()
	if sysBlock == nil || dotBlock == nil {
		return errors.Errorf("%s: block %s is not composed", o, b)
	}
	onDot, err := o.partition(sysBlock, dotBlock)
	if err != nil {
		return errors.Wrap(err, "")
	}

	s, err := readPiece(sys, sysBlock.Dim())
	if err != nil {
		return errors.Wrap(err, fmt.Sprintf("%s system", o))
	}
	d, err := readPiece(dot, dotBlock.Dim())
	if err != nil {
		return errors.Wrap(err, fmt.Sprintf("%s dot", o))
	}

	var kDot int
	for _, ok := range onDot {
		if ok {
			kDot++
		}
	}
	if kDot%2 == 1 {
		var sp mat.Dense
		sp.Mul(s, sysBlock.Parity())
		s = &sp
	}

	var m mat.Dense
	m.Kronecker(s, d)
	if o.Fermion() && transpositions(onDot)%2 == 1 {
		m.Scale(-1, &m)
	}
	o.set(b, &m)
	return nil
}

// partition reports for each slot whether its orbital lives on the dot.
func (o *SpinCoupled) partition(sys, dot *block.Block) ([]bool, error) {
	onDot := make([]bool, len(o.orbitals))
	for k, p := range o.orbitals {
		switch {
		case dot.Contains(p):
			onDot[k] = true
		case sys.Contains(p):
		default:
			return nil, errors.Errorf("%s: orbital %d in neither %s nor %s", o, p, sys, dot)
		}
	}
	return onDot, nil
}

// transpositions counts the swaps that move every system slot ahead of every dot slot.
func transpositions(onDot []bool) int {
	var n, dots int
	for _, ok := range onDot {
		if ok {
			dots++
			continue
		}
		n += dots
	}
	return n
}

func readPiece(r io.Reader, dim int) (*mat.Dense, error) {
	c, err := coo.Read(r)
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	if c.Rows() != dim || c.Cols() != dim {
		return nil, errors.Errorf("piece %dx%d, block dimension %d", c.Rows(), c.Cols(), dim)
	}
	return c.ToDense(), nil
}

// WritePieces serializes the system and dot pieces of o for the composed block b.
// The system piece is the product, in slot order, of the slots on the system, and likewise for the dot.
// A side without slots gets the identity.
func WritePieces(o *SpinCoupled, b *block.Block, sysW, dotW io.Writer) error {
	sysBlock, dotBlock := b.System(), b.Dot()
	if sysBlock == nil || dotBlock == nil {
		return errors.Errorf("%s: block %s is not composed", o, b)
	}
	onDot, err := o.partition(sysBlock, dotBlock)
	if err != nil {
		return errors.Wrap(err, "")
	}

	s, d := sysBlock.Identity(), dotBlock.Identity()
	leaves := o.kind.Pattern().Leaves
	for k, p := range o.orbitals {
		side, piece := sysBlock, s
		if onDot[k] {
			side, piece = dotBlock, d
		}
		e, err := elementary(side, leaves[k], p)
		if err != nil {
			return errors.Wrap(err, "")
		}
		var pe mat.Dense
		pe.Mul(piece, e)
		piece.Copy(&pe)
	}

	if err := coo.FromDense(s, 0).Write(sysW); err != nil {
		return errors.Wrap(err, "system")
	}
	if err := coo.FromDense(d, 0).Write(dotW); err != nil {
		return errors.Wrap(err, "dot")
	}
	return nil
}

// BuildInCSFSpace assembles the matrix of the operator entry by entry from reduced matrix elements between the configurations of b.
func (o *SpinCoupled) BuildInCSFSpace(b *block.Block) error {
	if !o.kind.SupportsCSF() {
		return &UnsupportedError{Kind: o.kind, Op: "BuildInCSFSpace"}
	}
	dim := b.Dim()
	m := mat.NewDense(dim, dim, nil)
	ladder := make([]block.Config, 1)
	for col := range dim {
		ladder[0] = b.Config(col)
		c, _, ok, err := o.act(b, ladder[0])
		if err != nil {
			return errors.Wrap(err, "")
		}
		if !ok {
			continue
		}
		v, err := o.RedMatrixElement(c, ladder, b)
		if err != nil {
			return errors.Wrap(err, "")
		}
		row, _ := b.Index(c)
		m.Set(row, col, v)
	}
	o.set(b, m)
	return nil
}

// act applies the elementary operators of o, rightmost first, to configuration c.
func (o *SpinCoupled) act(b *block.Block, c block.Config) (block.Config, int, bool, error) {
	leaves := o.kind.Pattern().Leaves
	sign := 1
	for k := len(leaves) - 1; k >= 0; k-- {
		t, ok := b.Local(o.orbitals[k])
		if !ok {
			return c, 0, false, errors.Errorf("%s: orbital %d not in block %s", o, o.orbitals[k], b)
		}
		var s int
		switch leaves[k] {
		case opCre:
			c, s, ok = c.Cre(t)
		default:
			c, s, ok = c.Des(t)
		}
		if !ok {
			return c, 0, false, nil
		}
		sign *= s
	}
	return c, sign, true, nil
}

// RedMatrixElement returns the sum over the ladder configurations l of <c|O|l>.
// It works on occupation bitstrings only and does not need a built matrix.
func (o *SpinCoupled) RedMatrixElement(c block.Config, ladder []block.Config, b *block.Block) (float64, error) {
	if _, ok := b.Index(c); !ok {
		return math.NaN(), errors.Errorf("%s: configuration %b not in block %s", o, c, b)
	}
	var v float64
	for _, l := range ladder {
		if _, ok := b.Index(l); !ok {
			return math.NaN(), errors.Errorf("%s: ladder configuration %b not in block %s", o, l, b)
		}
		cc, sign, ok, err := o.act(b, l)
		if err != nil {
			return math.NaN(), errors.Wrap(err, "")
		}
		if ok && cc == c {
			v += float64(sign)
		}
	}
	return v, nil
}

// Apply returns O v without building the matrix of O.
func (o *SpinCoupled) Apply(b *block.Block, v []float64) ([]float64, error) {
	if len(v) != b.Dim() {
		return nil, errors.Errorf("%s: vector %d, block dimension %d", o, len(v), b.Dim())
	}
	out := make([]float64, len(v))
	for col, x := range v {
		if x == 0 {
			continue
		}
		c, sign, ok, err := o.act(b, b.Config(col))
		if err != nil {
			return nil, errors.Wrap(err, "")
		}
		if !ok {
			continue
		}
		row, _ := b.Index(c)
		out[row] += float64(sign) * x
	}
	return out, nil
}

// ApplyTranspose returns Oᵀ v without building the matrix of O.
func (o *SpinCoupled) ApplyTranspose(b *block.Block, v []float64) ([]float64, error) {
	if len(v) != b.Dim() {
		return nil, errors.Errorf("%s: vector %d, block dimension %d", o, len(v), b.Dim())
	}
	out := make([]float64, len(v))
	for col := range out {
		c, sign, ok, err := o.act(b, b.Config(col))
		if err != nil {
			return nil, errors.Wrap(err, "")
		}
		if !ok {
			continue
		}
		row, _ := b.Index(c)
		out[col] = float64(sign) * v[row]
	}
	return out, nil
}

// WorkingRepresentation returns the operator in the basis it is used in.
// If b carries a rotation U, that is Uᵀ O U, otherwise O itself.
// The result is shared by all callers until the next build, and must not be modified.
func (o *SpinCoupled) WorkingRepresentation(b *block.Block) (*mat.Dense, error) {
	if o.matrix == nil {
		return nil, errors.Errorf("%s not built", o)
	}
	if b != o.block {
		return nil, errors.Errorf("%s built in block %s, requested %s", o, o.block, b)
	}
	u := b.Rotation()
	if u == nil {
		return o.matrix, nil
	}
	if o.working != nil {
		return o.working, nil
	}

	var ou, w mat.Dense
	ou.Mul(o.matrix, u)
	w.Mul(u.T(), &ou)
	o.working = &w
	return o.working, nil
}

// Entry is a nonzero matrix element tagged by the quantum numbers of its row and column states.
type Entry struct {
	Row  int
	Col  int
	RowQ block.Quantum
	ColQ block.Quantum
	V    float64
}

// Entries iterates over the nonzero entries of the built matrix in row major order.
func (o *SpinCoupled) Entries() func(yield func(Entry) bool) {
	return func(yield func(Entry) bool) {
		if o.matrix == nil {
			return
		}
		rows, cols := o.matrix.Dims()
		for i := range rows {
			for j := range cols {
				v := o.matrix.At(i, j)
				if v == 0 {
					continue
				}
				e := Entry{Row: i, Col: j, RowQ: o.block.Quantum(i), ColQ: o.block.Quantum(j), V: v}
				if !yield(e) {
					return
				}
			}
		}
	}
}
