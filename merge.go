package npdm

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// MergeOptions select the partial results to merge.
type MergeOptions struct {
	// Dir is the directory holding the partial results.
	Dir string
	// Name is the file prefix, threepdm or fourpdm.
	Name string
	// Rank is the rank of the tuples.
	Rank           int
	Representation Representation
	Format         Format
	// Concurrency bounds the number of files read at once, 0 for no bound.
	Concurrency int
	// Accumulator, if not empty, is a sqlite database where the sum is accumulated instead of in memory.
	Accumulator string
	Logger      *zap.Logger
}

func (opt MergeOptions) logger() *zap.Logger {
	if opt.Logger == nil {
		return zap.NewNop()
	}
	return opt.Logger
}

// Part identifies the partial result of one worker at one sweep position.
type Part struct {
	I      int
	J      int
	Worker int
	path   string
}

func (p Part) String() string {
	return fmt.Sprintf("(%d, %d) worker %d", p.I, p.J, p.Worker)
}

// Parts lists the partial results selected by opt, sorted by position and worker.
func Parts(ctx context.Context, opt MergeOptions) ([]Part, error) {
	if opt.Format == FormatSQLite {
		st, err := openSQLite(filepath.Join(opt.Dir, opt.Name+".db"))
		if err != nil {
			return nil, errors.Wrap(err, "")
		}
		defer st.Close()
		ps, err := st.positions(ctx, opt.Representation)
		if err != nil {
			return nil, errors.Wrap(err, "")
		}
		parts := make([]Part, 0, len(ps))
		for _, p := range ps {
			parts = append(parts, Part{I: p[0], J: p[1], Worker: p[2]})
		}
		return parts, nil
	}

	entries, err := os.ReadDir(opt.Dir)
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	parts := make([]Part, 0)
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		pf, ok := parseFileName(e.Name())
		if !ok || pf.name != opt.Name || pf.rep != opt.Representation || pf.ext != opt.Format.ext() {
			continue
		}
		parts = append(parts, Part{I: pf.i, J: pf.j, Worker: pf.worker, path: filepath.Join(opt.Dir, e.Name())})
	}
	slices.SortFunc(parts, func(a, b Part) int {
		if a.I != b.I {
			return a.I - b.I
		}
		if a.J != b.J {
			return a.J - b.J
		}
		return a.Worker - b.Worker
	})
	return parts, nil
}

// Merge sums the partial results of all positions and workers selected by opt.
func Merge(ctx context.Context, opt MergeOptions) (*Sparse, error) {
	if opt.Rank < 1 || opt.Rank > MaxRank {
		return nil, errors.Errorf("rank %d", opt.Rank)
	}
	if !opt.Format.valid() {
		return nil, errors.Errorf("unknown format %q", opt.Format)
	}
	parts, err := Parts(ctx, opt)
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	opt.logger().Info("merge", zap.String("dir", opt.Dir), zap.String("rep", string(opt.Representation)), zap.Int("parts", len(parts)))

	var src *sqliteStore
	if opt.Format == FormatSQLite {
		if src, err = openSQLite(filepath.Join(opt.Dir, opt.Name+".db")); err != nil {
			return nil, errors.Wrap(err, "")
		}
		defer src.Close()
	}
	var acc *sqliteStore
	if opt.Accumulator != "" {
		if acc, err = openSQLite(opt.Accumulator); err != nil {
			return nil, errors.Wrap(err, "")
		}
		defer acc.Close()
		if err := acc.resetAccumulator(ctx, opt.Representation); err != nil {
			return nil, errors.Wrap(err, "")
		}
	}

	sum := NewSparse(opt.Rank)
	var mu sync.Mutex
	g, ctx := errgroup.WithContext(ctx)
	if opt.Concurrency > 0 {
		g.SetLimit(opt.Concurrency)
	}
	for _, p := range parts {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			s, err := readPart(ctx, src, opt, p)
			if err != nil {
				return errors.Wrap(err, p.String())
			}
			mergedFiles.Inc()

			mu.Lock()
			defer mu.Unlock()
			if acc != nil {
				return acc.accumulate(ctx, opt.Representation, s)
			}
			return sum.Merge(s)
		})
	}
	if err := g.Wait(); err != nil {
		return nil, errors.Wrap(err, "")
	}

	if acc != nil {
		if sum, err = acc.accumulated(context.Background(), opt.Representation, opt.Rank); err != nil {
			return nil, errors.Wrap(err, "")
		}
	}
	return sum, nil
}

func readPart(ctx context.Context, src *sqliteStore, opt MergeOptions, p Part) (*Sparse, error) {
	if src != nil {
		return src.load(ctx, opt.Representation, p.I, p.J, p.Worker, opt.Rank)
	}
	return readFile(p.path, opt.Format, opt.Rank)
}
