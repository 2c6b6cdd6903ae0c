package npdm

import (
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Config is the storage policy of a Container.
type Config struct {
	// Order is the number of particles n, 3 or 4.
	Order int `yaml:"order"`
	// NumOrbitals is the number of spatial orbitals.
	NumOrbitals int `yaml:"num_orbitals"`

	StoreFullSpinArray      bool `yaml:"store_full_spin_array"`
	StoreFullSpatialArray   bool `yaml:"store_full_spatial_array"`
	StoreSparseSpinArray    bool `yaml:"store_sparse_spin_array"`
	StoreSparseSpatialArray bool `yaml:"store_sparse_spatial_array"`

	// Format is the form of persisted sparse arrays.
	Format Format `yaml:"format"`
	// Dir is the directory of persisted files.
	Dir string `yaml:"dir"`
	// Worker identifies a cooperating process, 0 for a single process run.
	Worker int `yaml:"worker"`
	// MemoryBudget bounds the bytes of the full in-core arrays, 0 for no bound.
	MemoryBudget float64 `yaml:"memory_budget"`
}

// DefaultConfig returns a configuration persisting sparse spatial arrays in binary.
func DefaultConfig() Config {
	return Config{
		Order:                   4,
		StoreSparseSpatialArray: true,
		Format:                  FormatBinary,
		Dir:                     ".",
	}
}

// LoadConfig reads a YAML configuration, with unset fields taking their defaults.
func LoadConfig(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errors.Wrap(err, "")
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return Config{}, errors.Wrap(err, path)
	}
	return cfg, nil
}

// Rank is the rank 2n of the density matrix tensors.
func (cfg Config) Rank() int { return 2 * cfg.Order }

// SpinOrbitals is the number of spin-orbitals.
func (cfg Config) SpinOrbitals() int { return 2 * cfg.NumOrbitals }

// Name is the prefix of persisted files.
func (cfg Config) Name() string {
	switch cfg.Order {
	case 3:
		return "threepdm"
	case 4:
		return "fourpdm"
	}
	return "npdm"
}

// FullBytes returns the memory of the enabled full in-core arrays.
func (cfg Config) FullBytes() float64 {
	var b float64
	if cfg.StoreFullSpinArray {
		b += TensorBytes(cfg.Rank(), cfg.SpinOrbitals())
	}
	if cfg.StoreFullSpatialArray {
		b += TensorBytes(cfg.Rank(), cfg.NumOrbitals)
	}
	return b
}

// Validate checks the configuration is usable.
func (cfg Config) Validate() error {
	if cfg.Order != 3 && cfg.Order != 4 {
		return errors.Errorf("order %d, expected 3 or 4", cfg.Order)
	}
	if cfg.NumOrbitals < 1 {
		return errors.Errorf("number of orbitals %d", cfg.NumOrbitals)
	}
	if !cfg.StoreFullSpinArray && !cfg.StoreFullSpatialArray && !cfg.StoreSparseSpinArray && !cfg.StoreSparseSpatialArray {
		return errors.Errorf("empty storage policy")
	}
	if !cfg.Format.valid() {
		return errors.Errorf("unknown format %q", cfg.Format)
	}
	if cfg.Worker < 0 {
		return errors.Errorf("worker %d", cfg.Worker)
	}
	if cfg.MemoryBudget < 0 {
		return errors.Errorf("memory budget %g", cfg.MemoryBudget)
	}
	if b := cfg.FullBytes(); cfg.MemoryBudget > 0 && b > cfg.MemoryBudget {
		return errors.Errorf("full arrays need %g bytes, budget %g", b, cfg.MemoryBudget)
	}
	if b := cfg.FullBytes(); b/8 > maxTensorElements {
		return errors.Errorf("full arrays need %g bytes", b)
	}
	return nil
}
