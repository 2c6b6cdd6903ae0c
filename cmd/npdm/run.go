package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/fumin/npdm"
	"github.com/fumin/npdm/block"
	"github.com/fumin/npdm/builder"
	"github.com/fumin/npdm/hamiltonian"
	"github.com/fumin/npdm/util"
)

const (
	fnameDone     = "done.txt"
	fnameManifest = "manifest.yaml"
)

var (
	runConfigPath string
	runDir        string
	runWorker     int
	runWorkers    int
	runMetrics    string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Compute the density matrix of a Hubbard chain ground state",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		rc, err := loadRunConfig(runConfigPath)
		if err != nil {
			return errors.Wrap(err, "")
		}
		if cmd.Flags().Changed("worker") {
			rc.NPDM.Worker = runWorker
		}
		if cmd.Flags().Changed("workers") {
			rc.Workers = runWorkers
		}
		if runMetrics != "" {
			_, stop, err := serveMetrics(runMetrics)
			if err != nil {
				return errors.Wrap(err, "")
			}
			defer stop()
		}
		return run(cmd.Context(), runDir, rc)
	},
}

func init() {
	runCmd.Flags().StringVar(&runConfigPath, "config", "", "YAML run configuration")
	runCmd.Flags().StringVarP(&runDir, "dir", "d", filepath.Join("runs", "npdm"), "run directory")
	runCmd.Flags().IntVar(&runWorker, "worker", 0, "worker identifier, from 1 to workers")
	runCmd.Flags().IntVar(&runWorkers, "workers", 1, "number of cooperating workers")
	runCmd.Flags().StringVar(&runMetrics, "metrics-addr", "", "address serving prometheus metrics during the run, none if empty")
}

type hubbardConfig struct {
	Sites int     `yaml:"sites"`
	T     float64 `yaml:"t"`
	U     float64 `yaml:"u"`
}

type runConfig struct {
	NPDM      npdm.Config   `yaml:"npdm"`
	Hubbard   hubbardConfig `yaml:"hubbard"`
	Electrons int           `yaml:"electrons"`
	TwoSz     int           `yaml:"two_sz"`

	// Workers is the number of cooperating workers that share the sweep positions.
	Workers    int     `yaml:"workers"`
	BatchSize  int     `yaml:"batch_size"`
	UniqueOnly bool    `yaml:"unique_only"`
	Threshold  float64 `yaml:"threshold"`
}

func defaultRunConfig() runConfig {
	rc := runConfig{
		NPDM:       npdm.DefaultConfig(),
		Hubbard:    hubbardConfig{Sites: 4, T: 1, U: 4},
		Electrons:  4,
		Workers:    1,
		BatchSize:  4096,
		UniqueOnly: true,
	}
	return rc
}

func loadRunConfig(path string) (runConfig, error) {
	rc := defaultRunConfig()
	if path == "" {
		return rc, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return runConfig{}, errors.Wrap(err, "")
	}
	if err := yaml.Unmarshal(b, &rc); err != nil {
		return runConfig{}, errors.Wrap(err, path)
	}
	return rc, nil
}

func (rc runConfig) validate() error {
	if 2*rc.Hubbard.Sites > block.MaxOrbitals {
		return errors.Errorf("%d sites exceed %d spin-orbitals", rc.Hubbard.Sites, block.MaxOrbitals)
	}
	if rc.Workers < 1 {
		return errors.Errorf("%d workers", rc.Workers)
	}
	if rc.Workers > 1 && (rc.NPDM.Worker < 1 || rc.NPDM.Worker > rc.Workers) {
		return errors.Errorf("worker %d of %d", rc.NPDM.Worker, rc.Workers)
	}
	if rc.Workers > 1 && (rc.NPDM.StoreFullSpinArray || rc.NPDM.StoreFullSpatialArray) {
		return errors.Errorf("full arrays of %d workers would each miss the positions of the others", rc.Workers)
	}
	if err := rc.NPDM.Validate(); err != nil {
		return errors.Wrap(err, "")
	}
	return nil
}

type manifest struct {
	ID        string    `yaml:"id"`
	Started   time.Time `yaml:"started"`
	Energy    float64   `yaml:"energy"`
	Positions int       `yaml:"positions"`
	Config    runConfig `yaml:"config"`
}

// sweepBlock returns the block of a chain, composed of a system of all but the last site and a dot of the last site.
func sweepBlock(sites int) (*block.Block, error) {
	orbitals := make([]int, 2*sites)
	for p := range orbitals {
		orbitals[p] = p
	}
	if sites == 1 {
		return block.New(orbitals...)
	}
	sys, err := block.New(orbitals[:2*sites-2]...)
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	dot, err := block.New(orbitals[2*sites-2:]...)
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	return block.Compose(sys, dot)
}

func run(ctx context.Context, dir string, rc runConfig) error {
	rc.NPDM.NumOrbitals = rc.Hubbard.Sites
	rc.NPDM.Dir = dir
	if err := rc.validate(); err != nil {
		return errors.Wrap(err, "")
	}
	donePath := filepath.Join(dir, fnameDone)
	if rc.NPDM.Worker > 0 {
		donePath = filepath.Join(dir, workerName(fnameDone, rc.NPDM.Worker))
	}
	if _, err := os.Stat(donePath); err == nil {
		logger.Info("already done", zap.String("dir", dir))
		return nil
	}
	if err := os.MkdirAll(dir, os.ModePerm); err != nil {
		return errors.Wrap(err, "")
	}

	b, err := sweepBlock(rc.Hubbard.Sites)
	if err != nil {
		return errors.Wrap(err, "")
	}
	h := hamiltonian.Hubbard{Sites: rc.Hubbard.Sites, T: rc.Hubbard.T, U: rc.Hubbard.U}
	ham, err := h.Explicit(b)
	if err != nil {
		return errors.Wrap(err, "")
	}
	energy, psi, err := hamiltonian.Ground(b, ham.ToDense(), block.Quantum{N: rc.Electrons, TwoSz: rc.TwoSz})
	if err != nil {
		return errors.Wrap(err, "")
	}
	logger.Info("ground state", zap.Float64("energy", energy), zap.Int("dim", b.Dim()))

	positions := make([][2]int, 0)
	for k, p := range builder.Positions(2*rc.Hubbard.Sites, rc.NPDM.Order) {
		if rc.Workers > 1 && k%rc.Workers != rc.NPDM.Worker-1 {
			continue
		}
		positions = append(positions, p)
	}

	m := manifest{ID: uuid.NewString(), Started: time.Now().UTC(), Energy: energy, Positions: len(positions), Config: rc}
	if err := writeManifest(dir, rc.NPDM.Worker, m); err != nil {
		return errors.Wrap(err, "")
	}

	c, err := npdm.New(rc.NPDM, npdm.NewOptions().Logger(logger))
	if err != nil {
		return errors.Wrap(err, "")
	}
	defer closeLogged(logger, c, m.ID)
	opt := builder.NewOptions().BatchSize(rc.BatchSize).UniqueOnly(rc.UniqueOnly).Threshold(rc.Threshold)
	bd, err := builder.New(b, psi, rc.NPDM.Order, opt)
	if err != nil {
		return errors.Wrap(err, "")
	}

	throttler := util.NewSkipThrottler(10 * time.Second)
	for k, p := range positions {
		if err := ctx.Err(); err != nil {
			return errors.Wrap(err, "")
		}
		c.ClearSparseArrays()
		if err := bd.Position(p[0], p[1], c.StoreElements); err != nil {
			return errors.Wrap(err, "")
		}
		if err := c.SaveNPDMs(p[0], p[1]); err != nil {
			return errors.Wrap(err, "")
		}
		if throttler.Ok() {
			logger.Info("sweep", zap.String("id", m.ID), zap.Int("position", k+1), zap.Int("positions", len(positions)), zap.Int("i", p[0]), zap.Int("j", p[1]), zap.Int("skipped", throttler.Skipped()))
		}
	}
	if err := c.Close(); err != nil {
		return errors.Wrap(err, "")
	}
	if err := writeMetrics(dir, rc.NPDM.Worker); err != nil {
		return errors.Wrap(err, "")
	}

	if err := os.WriteFile(donePath, nil, 0644); err != nil {
		return errors.Wrap(err, "")
	}
	logger.Info("done", zap.String("id", m.ID), zap.String("dir", dir))
	return nil
}

// closeLogged closes c on return paths that already carry another error.
func closeLogged(l *zap.Logger, c io.Closer, id string) {
	if err := c.Close(); err != nil {
		l.Error("close container", zap.String("id", id), zap.Error(err))
	}
}

func workerName(name string, worker int) string {
	ext := filepath.Ext(name)
	return fmt.Sprintf("%s.w%d%s", name[:len(name)-len(ext)], worker, ext)
}

func writeManifest(dir string, worker int, m manifest) error {
	b, err := yaml.Marshal(m)
	if err != nil {
		return errors.Wrap(err, "")
	}
	name := fnameManifest
	if worker > 0 {
		name = workerName(name, worker)
	}
	if err := os.WriteFile(filepath.Join(dir, name), b, 0644); err != nil {
		return errors.Wrap(err, "")
	}
	return nil
}
