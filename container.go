// Package npdm accumulates n-particle reduced density matrices from the matrix elements of a sweep.
//
// A Container receives the spin-orbital elements of one sweep position at a time,
// reduces them to spatial orbitals, and persists or folds them according to its storage policy.
// The typical per-position call sequence is
//
//	c.ClearSparseArrays()
//	c.StoreElements(batch) // any number of times
//	c.SaveNPDMs(i, j)
//
// followed by a single Close at the end of the sweep.
package npdm

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/fumin/npdm/block"
)

// Options are options of a Container.
type Options struct {
	logger *zap.Logger
}

// NewOptions returns the default container options.
func NewOptions() Options {
	opt := Options{}
	opt.logger = zap.NewNop()
	return opt
}

// Logger sets the logger.
func (opt Options) Logger(l *zap.Logger) Options {
	opt.logger = l
	return opt
}

// Container accumulates and persists the density matrix of one run.
// It is not safe for concurrent use.
type Container struct {
	cfg    Config
	logger *zap.Logger

	spin    *Sparse
	spatial *Sparse

	fullSpin    *Tensor
	fullSpatial *Tensor

	db     *sqliteStore
	closed bool
}

// New returns a container with the storage policy of cfg.
func New(cfg Config, options ...Options) (*Container, error) {
	opt := NewOptions()
	if len(options) > 0 {
		opt = options[0]
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "")
	}

	c := &Container{
		cfg:     cfg,
		logger:  opt.logger.With(zap.String("name", cfg.Name()), zap.Int("worker", cfg.Worker)),
		spin:    NewSparse(cfg.Rank()),
		spatial: NewSparse(cfg.Rank()),
	}
	var err error
	if cfg.StoreFullSpinArray {
		if c.fullSpin, err = NewTensor(cfg.Rank(), cfg.SpinOrbitals()); err != nil {
			return nil, errors.Wrap(err, "")
		}
	}
	if cfg.StoreFullSpatialArray {
		if c.fullSpatial, err = NewTensor(cfg.Rank(), cfg.NumOrbitals); err != nil {
			return nil, errors.Wrap(err, "")
		}
	}
	if cfg.StoreSparseSpinArray || cfg.StoreSparseSpatialArray || cfg.StoreFullSpinArray || cfg.StoreFullSpatialArray {
		if err := os.MkdirAll(cfg.Dir, 0755); err != nil {
			return nil, errors.Wrap(err, "")
		}
	}
	if cfg.Format == FormatSQLite && (cfg.StoreSparseSpinArray || cfg.StoreSparseSpatialArray) {
		if c.db, err = openSQLite(c.dbPath()); err != nil {
			return nil, errors.Wrap(err, "")
		}
	}
	c.logger.Debug("container", zap.Float64("fullBytes", cfg.FullBytes()), zap.String("format", string(cfg.Format)))
	return c, nil
}

// Config returns the configuration of the container.
func (c *Container) Config() Config { return c.cfg }

func (c *Container) dbPath() string {
	return filepath.Join(c.cfg.Dir, c.cfg.Name()+".db")
}

func (c *Container) path(rep Representation, i, j int) string {
	return filepath.Join(c.cfg.Dir, FileName(c.cfg.Name(), rep, i, j, c.cfg.Worker, c.cfg.Format))
}

// StoreElements adds the elements to the sparse spin-orbital array.
// Elements with the same tuple accumulate.
// The batch is rejected as a whole if any tuple has the wrong length or an orbital out of range.
func (c *Container) StoreElements(elements []Element) error {
	for _, e := range elements {
		if err := c.checkIndex(e.Index, c.cfg.SpinOrbitals()); err != nil {
			return errors.Wrap(err, fmt.Sprintf("%v", e))
		}
	}
	for _, e := range elements {
		if err := c.spin.Add(e.Index, e.Value); err != nil {
			return errors.Wrap(err, "")
		}
	}
	elementsStored.Add(float64(len(elements)))
	return nil
}

func (c *Container) checkIndex(idx []int, dim int) error {
	if len(idx) != c.cfg.Rank() {
		return errors.Errorf("tuple of length %d, expected %d", len(idx), c.cfg.Rank())
	}
	for _, p := range idx {
		if p < 0 || p >= dim {
			return errors.Errorf("orbital %d out of [0, %d)", p, dim)
		}
	}
	return nil
}

// ClearSparseArrays empties the sparse spin-orbital and spatial arrays.
func (c *Container) ClearSparseArrays() {
	c.spin.Clear()
	c.spatial.Clear()
}

// SaveNPDMs folds, reduces and persists the elements of sweep position (i, j), and then clears the sparse arrays.
// Persisted files of the position are overwritten, so saving the same sparse arrays again leaves the same content on disk.
func (c *Container) SaveNPDMs(i, j int) error {
	if c.closed {
		return errors.Errorf("container closed")
	}
	start := time.Now()

	if c.cfg.StoreFullSpinArray {
		c.fullSpin.AddSparse(c.spin)
	}
	c.buildSpatial()
	if c.cfg.StoreFullSpatialArray {
		c.fullSpatial.AddSparse(c.spatial)
	}

	if c.cfg.StoreSparseSpinArray {
		if err := c.save(Spin, i, j, c.spin); err != nil {
			return errors.Wrap(err, fmt.Sprintf("position (%d, %d)", i, j))
		}
	}
	if c.cfg.StoreSparseSpatialArray {
		if err := c.save(Spatial, i, j, c.spatial); err != nil {
			return errors.Wrap(err, fmt.Sprintf("position (%d, %d)", i, j))
		}
	}

	c.logger.Debug("save", zap.Int("i", i), zap.Int("j", j), zap.Int("spin", c.spin.Len()), zap.Int("spatial", c.spatial.Len()), zap.Duration("took", time.Since(start)))
	saveDuration.Observe(time.Since(start).Seconds())
	c.ClearSparseArrays()
	return nil
}

// buildSpatial sums the spin-orbital elements into the spatial-orbital array.
// Spin tuple [c1..cn, d1..dn] contributes to spatial tuple [p(c1)..p(cn), p(d1)..p(dn)] when c_k and d_{n+1-k} have equal spin for every k.
func (c *Container) buildSpatial() {
	c.spatial.Clear()
	n := c.cfg.Order
	spatial := make([]int, 2*n)
	for idx, v := range c.spin.All() {
		if spatialIndex(spatial, idx, n) {
			c.spatial.m[c.spatial.mustKey(spatial)] += v
		}
	}
}

func spatialIndex(dst, idx []int, n int) bool {
	for k := range n {
		cre, des := idx[k], idx[2*n-1-k]
		if block.Spin(cre) != block.Spin(des) {
			return false
		}
		dst[k] = block.Spatial(cre)
		dst[n+k] = block.Spatial(idx[n+k])
	}
	return true
}

func (c *Container) save(rep Representation, i, j int, s *Sparse) error {
	savesTotal.WithLabelValues(string(rep), string(c.cfg.Format)).Inc()
	switch c.cfg.Format {
	case FormatText:
		return writeFileAtomic(c.path(rep, i, j), func(w io.Writer) error { return WriteText(w, s) })
	case FormatBinary:
		return writeFileAtomic(c.path(rep, i, j), func(w io.Writer) error { return WriteBinary(w, s) })
	case FormatSQLite:
		return c.db.save(context.Background(), rep, i, j, c.cfg.Worker, s)
	}
	return errors.Errorf("unknown format %q", c.cfg.Format)
}

// LoadNPDMBinary replaces the sparse spin-orbital array with the one persisted for position (i, j).
func (c *Container) LoadNPDMBinary(i, j int) error {
	s, err := c.load(Spin, i, j)
	if err != nil {
		return errors.Wrap(err, "")
	}
	c.spin = s
	return nil
}

// LoadSpatialNPDMBinary replaces the sparse spatial array with the one persisted for position (i, j).
func (c *Container) LoadSpatialNPDMBinary(i, j int) error {
	s, err := c.load(Spatial, i, j)
	if err != nil {
		return errors.Wrap(err, "")
	}
	c.spatial = s
	return nil
}

func (c *Container) load(rep Representation, i, j int) (*Sparse, error) {
	var s *Sparse
	var err error
	switch c.cfg.Format {
	case FormatSQLite:
		if c.db == nil {
			return nil, errors.Errorf("no sqlite store")
		}
		s, err = c.db.load(context.Background(), rep, i, j, c.cfg.Worker, c.cfg.Rank())
	default:
		s, err = readFile(c.path(rep, i, j), c.cfg.Format, c.cfg.Rank())
	}
	if err != nil {
		return nil, errors.Wrap(err, fmt.Sprintf("load %s position (%d, %d)", rep, i, j))
	}

	dim := c.cfg.SpinOrbitals()
	if rep == Spatial {
		dim = c.cfg.NumOrbitals
	}
	for idx := range s.All() {
		if err := c.checkIndex(idx, dim); err != nil {
			return nil, errors.Wrap(err, fmt.Sprintf("load %s position (%d, %d)", rep, i, j))
		}
	}
	return s, nil
}

// SparseSpin returns the sparse spin-orbital array of the current position.
// It panics unless sparse spin arrays are stored.
func (c *Container) SparseSpin() *Sparse {
	if !c.cfg.StoreSparseSpinArray {
		panic("sparse spin array not stored")
	}
	return c.spin
}

// SparseSpatial returns the sparse spatial array of the current position.
// It panics unless sparse spatial arrays are stored.
func (c *Container) SparseSpatial() *Sparse {
	if !c.cfg.StoreSparseSpatialArray {
		panic("sparse spatial array not stored")
	}
	return c.spatial
}

// SpinTensor returns the full spin-orbital tensor, owned by the container.
// It panics unless the full spin array is stored.
func (c *Container) SpinTensor() *Tensor {
	if !c.cfg.StoreFullSpinArray {
		panic("full spin array not stored")
	}
	return c.fullSpin
}

// SpatialTensor returns the full spatial tensor, owned by the container.
// It panics unless the full spatial array is stored.
func (c *Container) SpatialTensor() *Tensor {
	if !c.cfg.StoreFullSpatialArray {
		panic("full spatial array not stored")
	}
	return c.fullSpatial
}

// Close writes the full tensors and releases the sqlite store.
// Calling Close more than once has no effect.
func (c *Container) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true

	if c.cfg.StoreFullSpinArray {
		if err := c.writeFull(Spin, c.fullSpin); err != nil {
			return errors.Wrap(err, "")
		}
	}
	if c.cfg.StoreFullSpatialArray {
		if err := c.writeFull(Spatial, c.fullSpatial); err != nil {
			return errors.Wrap(err, "")
		}
	}
	if c.db != nil {
		if err := c.db.Close(); err != nil {
			return errors.Wrap(err, "")
		}
	}
	return nil
}

func (c *Container) writeFull(rep Representation, t *Tensor) error {
	name := FullFileName(c.cfg.Name(), rep)
	if c.cfg.Worker > 0 {
		name = fmt.Sprintf("%s.w%d", name, c.cfg.Worker)
	}
	p := filepath.Join(c.cfg.Dir, name)
	if err := writeFileAtomic(p, func(w io.Writer) error {
		_, err := t.WriteTo(w)
		return err
	}); err != nil {
		return errors.Wrap(err, "")
	}
	c.logger.Info("full tensor", zap.String("path", p), zap.Int("rank", t.Rank()), zap.Int("dim", t.Dim()))
	return nil
}
