package block

import (
	"fmt"
	"math/bits"
)

// Config is an occupation bitstring over the Jordan-Wigner positions of a block.
type Config uint64

// Occupied reports whether position t is occupied.
func (c Config) Occupied(t int) bool { return c&(1<<t) != 0 }

// N returns the number of occupied positions.
func (c Config) N() int { return bits.OnesCount64(uint64(c)) }

// sign returns the Jordan-Wigner sign of position t, which is -1 to the number of occupied positions before t.
func (c Config) sign(t int) int {
	if bits.OnesCount64(uint64(c)&(1<<t-1))%2 == 1 {
		return -1
	}
	return 1
}

// Cre applies the creation operator at position t.
// It returns false if the position is already occupied.
func (c Config) Cre(t int) (Config, int, bool) {
	if c.Occupied(t) {
		return c, 0, false
	}
	return c | 1<<t, c.sign(t), true
}

// Des applies the annihilation operator at position t.
// It returns false if the position is empty.
func (c Config) Des(t int) (Config, int, bool) {
	if !c.Occupied(t) {
		return c, 0, false
	}
	return c &^ (1 << t), c.sign(t), true
}

// Quantum holds the particle number and twice the spin projection of a state or an operator.
type Quantum struct {
	N     int
	TwoSz int
}

// Add returns q + o.
func (q Quantum) Add(o Quantum) Quantum {
	return Quantum{N: q.N + o.N, TwoSz: q.TwoSz + o.TwoSz}
}

func (q Quantum) String() string {
	return fmt.Sprintf("(N=%d,2Sz=%d)", q.N, q.TwoSz)
}

// Spin returns twice the spin projection of spin-orbital p.
// Even spin-orbitals are alpha, odd ones are beta.
func Spin(p int) int {
	if p%2 == 0 {
		return 1
	}
	return -1
}

// Spatial returns the spatial orbital of spin-orbital p.
func Spatial(p int) int { return p / 2 }

// SpinOrbital returns the spin-orbital of spatial orbital i with spin label sigma, 0 for alpha and 1 for beta.
func SpinOrbital(i, sigma int) int { return 2*i + sigma }
