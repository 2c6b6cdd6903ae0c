package main

import (
	"bytes"
	"context"
	"io"
	"math"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	"gopkg.in/yaml.v3"

	"github.com/fumin/npdm"
)

func smallRunConfig() runConfig {
	rc := defaultRunConfig()
	rc.NPDM.Order = 3
	rc.Hubbard = hubbardConfig{Sites: 3, T: 1, U: 2}
	rc.Electrons = 3
	rc.TwoSz = 1
	rc.BatchSize = 17
	return rc
}

func readManifest(t *testing.T, path string) manifest {
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	var m manifest
	require.NoError(t, yaml.Unmarshal(b, &m))
	return m
}

// metricValue returns the sample of series in a text exposition file.
func metricValue(t *testing.T, path, series string) float64 {
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	for _, line := range strings.Split(string(b), "\n") {
		fs := strings.Fields(line)
		if len(fs) == 2 && fs[0] == series {
			v, err := strconv.ParseFloat(fs[1], 64)
			require.NoError(t, err)
			return v
		}
	}
	t.Fatalf("%s not in %s", series, b)
	return 0
}

func testCommand(ctx context.Context, out *bytes.Buffer) *cobra.Command {
	cmd := &cobra.Command{}
	cmd.SetContext(ctx)
	cmd.SetOut(out)
	return cmd
}

func TestRun(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	single, sharded := t.TempDir(), t.TempDir()

	rc := smallRunConfig()
	rc.NPDM.StoreFullSpatialArray = true
	require.NoError(t, run(ctx, single, rc))
	_, err := os.Stat(filepath.Join(single, fnameDone))
	require.NoError(t, err)
	m := readManifest(t, filepath.Join(single, fnameManifest))
	require.Equal(t, 16, m.Positions)
	require.Less(t, m.Energy, 0.0)

	saves := metricValue(t, filepath.Join(single, fnameMetrics), `npdm_saves_total{format="binary",representation="spatial"}`)
	if saves < float64(m.Positions) {
		t.Fatalf("%f saves, expected at least %d", saves, m.Positions)
	}
	if v := metricValue(t, filepath.Join(single, fnameMetrics), "npdm_elements_stored_total"); v <= 0 {
		t.Fatalf("%f elements stored", v)
	}

	// A finished run is not repeated.
	require.NoError(t, run(ctx, single, rc))
	if again := readManifest(t, filepath.Join(single, fnameManifest)); again.ID != m.ID {
		t.Fatalf("%s rerun as %s", m.ID, again.ID)
	}

	f, err := os.Open(filepath.Join(single, npdm.FullFileName("threepdm", npdm.Spatial)))
	require.NoError(t, err)
	defer f.Close()
	full, err := npdm.ReadTensor(f, 6, 3)
	require.NoError(t, err)
	if tr := full.ReversedTrace(); math.Abs(tr-6) > 1e-9 {
		t.Fatalf("trace %f, expected 6", tr)
	}

	positions := 0
	for w := 1; w <= 2; w++ {
		rc := smallRunConfig()
		rc.Workers = 2
		rc.NPDM.Worker = w
		require.NoError(t, run(ctx, sharded, rc))
		positions += readManifest(t, filepath.Join(sharded, workerName(fnameManifest, w))).Positions
		_, err := os.Stat(filepath.Join(sharded, workerName(fnameDone, w)))
		require.NoError(t, err)
		_, err = os.Stat(filepath.Join(sharded, workerName(fnameMetrics, w)))
		require.NoError(t, err)
	}
	require.Equal(t, m.Positions, positions)

	opt := npdm.MergeOptions{Dir: single, Name: "threepdm", Rank: 6, Representation: npdm.Spatial, Format: npdm.FormatBinary, Concurrency: 2}
	want, err := npdm.Merge(ctx, opt)
	require.NoError(t, err)
	for idx, v := range want.All() {
		if got := full.At(idx...); math.Abs(got-v) > 1e-9 {
			t.Fatalf("%v %f, expected %f", idx, got, v)
		}
	}

	var out bytes.Buffer
	opt.Dir = sharded
	require.NoError(t, merge(testCommand(ctx, &out), opt, ""))
	got, err := npdm.ReadText(&out, 6)
	require.NoError(t, err)
	if !got.EqualApprox(want, 1e-9) {
		t.Fatalf("%v, expected %v", got.Elements(), want.Elements())
	}

	outPath := filepath.Join(t.TempDir(), "merged.txt")
	require.NoError(t, merge(testCommand(ctx, &out), opt, outPath))
	_, err = os.Stat(outPath)
	require.NoError(t, err)
}

func TestDump(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	s := npdm.NewSparse(6)
	require.NoError(t, s.Add([]int{2, 1, 0, 0, 1, 2}, 0.75))
	require.NoError(t, s.Add([]int{2, 2, 0, 0, 1, 2}, -1))

	path := filepath.Join(dir, npdm.FileName("threepdm", npdm.Spatial, 2, 2, 0, npdm.FormatBinary))
	var b bytes.Buffer
	require.NoError(t, npdm.WriteBinary(&b, s))
	require.NoError(t, os.WriteFile(path, b.Bytes(), 0644))

	var out bytes.Buffer
	require.NoError(t, dump(testCommand(context.Background(), &out), path, 6))
	got, err := npdm.ReadText(&out, 6)
	require.NoError(t, err)
	if !got.EqualApprox(s, 0) {
		t.Fatalf("%v, expected %v", got.Elements(), s.Elements())
	}

	require.Error(t, dump(testCommand(context.Background(), &out), filepath.Join(dir, "x.csv"), 6))
}

func TestRunConfigValidate(t *testing.T) {
	t.Parallel()
	rc := smallRunConfig()
	rc.NPDM.NumOrbitals = 3
	require.NoError(t, rc.validate())

	rc.Workers = 2
	require.Error(t, rc.validate())
	rc.NPDM.Worker = 2
	require.NoError(t, rc.validate())
	rc.NPDM.StoreFullSpinArray = true
	require.Error(t, rc.validate())

	rc = smallRunConfig()
	rc.Hubbard.Sites = 20
	require.Error(t, rc.validate())
}

func TestServeMetrics(t *testing.T) {
	t.Parallel()
	addr, stop, err := serveMetrics("127.0.0.1:0")
	require.NoError(t, err)
	defer stop()

	resp, err := http.Get("http://" + addr + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Contains(t, string(b), "npdm_elements_stored_total")

	_, _, err = serveMetrics("256.0.0.1:0")
	require.Error(t, err)
}

type failingCloser struct{}

func (failingCloser) Close() error { return errors.New("disk full") }

func TestCloseLogged(t *testing.T) {
	t.Parallel()
	core, logs := observer.New(zap.ErrorLevel)
	closeLogged(zap.New(core), failingCloser{}, "run-1")
	entries := logs.FilterMessage("close container").All()
	require.Len(t, entries, 1)
	require.Equal(t, "run-1", entries[0].ContextMap()["id"])
	require.Equal(t, "disk full", entries[0].ContextMap()["error"])

	c, err := npdm.New(npdm.Config{Order: 3, NumOrbitals: 2, StoreSparseSpinArray: true, Format: npdm.FormatBinary, Dir: t.TempDir()})
	require.NoError(t, err)
	closeLogged(zap.New(core), c, "run-2")
	require.Len(t, logs.FilterMessage("close container").All(), 1)
}
