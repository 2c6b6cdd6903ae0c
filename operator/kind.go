package operator

import (
	"github.com/pkg/errors"
)

// Kind enumerates the coupling patterns of spin-coupled operators.
type Kind int

const (
	DesCre Kind = iota
	CreCreDes
	CreDesDes
	CreDesCre
	CreCreCre
	DesCreDes
	DesDesCre
	CreCreDesDes
)

type kindInfo struct {
	name       string
	descriptor string
	fermion    bool

	// disk is whether the operator can be composed from serialized system and dot pieces.
	disk bool
	// csf is whether the operator can be assembled from reduced matrix elements of configurations.
	csf bool
}

var kinds = [...]kindInfo{
	DesCre:       {name: "DesCre", descriptor: "(DC)", fermion: false, disk: false, csf: true},
	CreCreDes:    {name: "CreCreDes", descriptor: "((CC)D)", fermion: true, disk: true, csf: true},
	CreDesDes:    {name: "CreDesDes", descriptor: "((CD)D)", fermion: true, disk: true, csf: false},
	CreDesCre:    {name: "CreDesCre", descriptor: "((CD)C)", fermion: true, disk: true, csf: true},
	CreCreCre:    {name: "CreCreCre", descriptor: "((CC)C)", fermion: true, disk: true, csf: false},
	DesCreDes:    {name: "DesCreDes", descriptor: "((DC)D)", fermion: true, disk: true, csf: false},
	DesDesCre:    {name: "DesDesCre", descriptor: "((DD)C)", fermion: true, disk: true, csf: false},
	CreCreDesDes: {name: "CreCreDesDes", descriptor: "((CC)(DD))", fermion: true, disk: false, csf: false},
}

// patterns holds the parsed descriptor of every kind.
var patterns [len(kinds)]*Pattern

func init() {
	for k, info := range kinds {
		patterns[k] = MustParsePattern(info.descriptor)
	}
}

// Kinds returns all kinds.
func Kinds() []Kind {
	ks := make([]Kind, 0, len(kinds))
	for k := range kinds {
		ks = append(ks, Kind(k))
	}
	return ks
}

// ParseKind returns the kind with the given name.
func ParseKind(name string) (Kind, error) {
	for k, info := range kinds {
		if info.name == name {
			return Kind(k), nil
		}
	}
	return -1, errors.Errorf("unknown operator kind %q", name)
}

func (k Kind) valid() bool { return k >= 0 && int(k) < len(kinds) }

func (k Kind) String() string {
	if !k.valid() {
		return "Kind(?)"
	}
	return kinds[k].name
}

// Descriptor returns the coupling pattern, such as "((CC)D)".
func (k Kind) Descriptor() string { return kinds[k].descriptor }

// Pattern returns the parsed coupling pattern.
func (k Kind) Pattern() *Pattern { return patterns[k] }

// Slots returns the number of orbital-index slots.
func (k Kind) Slots() int { return len(patterns[k].Leaves) }

// Fermion reports whether the operator anticommutes under particle exchange.
// Fermionic operators pick up the transposition sign when a combination step reorders their elementary operators.
func (k Kind) Fermion() bool { return kinds[k].fermion }

// SupportsDisk reports whether BuildFromDisk is available.
func (k Kind) SupportsDisk() bool { return kinds[k].disk }

// SupportsCSF reports whether BuildInCSFSpace is available.
func (k Kind) SupportsCSF() bool { return kinds[k].csf }
