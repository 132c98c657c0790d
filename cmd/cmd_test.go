package cmd

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"qsnet-switch/internal/codec"
	"qsnet-switch/internal/config"
	"qsnet-switch/internal/database"
	"qsnet-switch/internal/qswerr"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/viant/afs"
	"github.com/viant/afs/file"
)

type memRecorder struct {
	mu      sync.Mutex
	records []*database.AllocationRecord
}

func (m *memRecorder) RecordAllocation(_ context.Context, rec *database.AllocationRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, rec)
	return nil
}

func (m *memRecorder) Close() {}

type harness struct {
	fs       afs.Service
	recorder *memRecorder
	config   string
	dir      string
}

func newHarness(t *testing.T, extra string) *harness {
	t.Helper()
	dir := t.TempDir()
	content := "qswitch:\n" +
		"  log_level: warn\n" +
		"  allocator:\n" +
		"    state_file: " + filepath.Join(dir, "state") + "\n" +
		"  nodes:\n" +
		"    hosts:\n" +
		"      qs4: 4\n" +
		"      qs6: 6\n" + extra
	path := filepath.Join(dir, "qsw.yml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return &harness{fs: afs.New(), recorder: &memRecorder{}, config: path, dir: dir}
}

func (h *harness) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	a := &app{
		fs:  h.fs,
		out: &out,
		newRecorder: func(context.Context, *config.Config) (database.Recorder, error) {
			return h.recorder, nil
		},
	}
	root := newRootCmd(a)
	root.SetArgs(append([]string{"--config", h.config}, args...))
	err := root.Execute()
	return out.String(), err
}

func TestAllocate_AdvancesPersistedState(t *testing.T) {
	h := newHarness(t, "")
	url := "mem://localhost/" + t.Name() + "/job.bin"

	out, err := h.run(t, "allocate", "--tasks", "4", "--nodes", "4,6")
	require.NoError(t, err)
	assert.Equal(t, "prg=1 ctx=400.401 nodes=4.6 entries=4\n", out)

	out, err = h.run(t, "allocate", "--tasks", "4", "--nodes", "4,6", "--out", url)
	require.NoError(t, err)
	assert.Equal(t, "prg=2 ctx=402.403 nodes=4.6 entries=4\n", out)

	data, err := h.fs.DownloadWithURL(context.Background(), url)
	require.NoError(t, err)
	job, rest, err := codec.DecodeJobInfo(data)
	require.NoError(t, err)
	assert.Empty(t, rest)
	assert.Equal(t, uint32(2), job.ProgramID)
	assert.Equal(t, []int{0, 1, 4, 5}, job.Capability.Bitmap.Indices())

	require.Len(t, h.recorder.records, 2)
	rec := h.recorder.records[1]
	assert.Equal(t, config.LayoutBlock, rec.Layout)
	assert.Len(t, rec.ConfigChecksum, 6)
	assert.NotEmpty(t, rec.LaunchID)
	assert.NotEqual(t, h.recorder.records[0].LaunchID, rec.LaunchID)
}

func TestAllocate_HostsAndLayoutFromConfig(t *testing.T) {
	h := newHarness(t, "  layout: cyclic\n")
	url := "mem://localhost/" + t.Name() + "/job.bin"

	_, err := h.run(t, "allocate", "--tasks", "4", "--hosts", "qs6,qs4", "--out", url)
	require.NoError(t, err)

	data, err := h.fs.DownloadWithURL(context.Background(), url)
	require.NoError(t, err)
	job, _, err := codec.DecodeJobInfo(data)
	require.NoError(t, err)
	assert.True(t, job.Capability.Type.Cyclic())
	assert.Equal(t, []int{0, 2, 3, 5}, job.Capability.Bitmap.Indices())
	assert.Equal(t, []string{"qs6", "qs4"}, h.recorder.records[0].Hosts)
	assert.Equal(t, config.LayoutCyclic, h.recorder.records[0].Layout)
}

func TestAllocate_Rejects(t *testing.T) {
	h := newHarness(t, "")

	_, err := h.run(t, "allocate", "--tasks", "0", "--nodes", "4")
	assert.True(t, errors.Is(err, qswerr.ErrInvalidArgument), "zero tasks: %v", err)

	_, err = h.run(t, "allocate", "--tasks", "2", "--nodes", "3-1")
	assert.True(t, errors.Is(err, qswerr.ErrInvalidArgument), "bad node spec: %v", err)

	_, err = h.run(t, "allocate", "--tasks", "2", "--hosts", "qs9")
	assert.True(t, errors.Is(err, qswerr.ErrNotFound), "unknown host: %v", err)

	assert.Empty(t, h.recorder.records)
}

func TestShow(t *testing.T) {
	h := newHarness(t, "")
	url := "mem://localhost/" + t.Name() + "/job.bin"
	_, err := h.run(t, "allocate", "--tasks", "2", "--nodes", "4", "--out", url)
	require.NoError(t, err)

	out, err := h.run(t, "show", "--in", url)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "prg=1 ctx=400.401 nodes=4.4 entries=2\n"), out)
	assert.Contains(t, out, "type=block|multi-rail|broadcastable")

	out, err = h.run(t, "show", "--in", url, "--json")
	require.NoError(t, err)
	assert.Contains(t, out, `"program_id":1`)
	assert.Contains(t, out, `"slots":[0,1]`)

	bad := "mem://localhost/" + t.Name() + "/bad.bin"
	require.NoError(t, h.fs.Upload(context.Background(), bad, file.DefaultFileOsMode, strings.NewReader("not a job")))
	_, err = h.run(t, "show", "--in", bad)
	assert.True(t, errors.Is(err, qswerr.ErrCorruptData), "corrupt input: %v", err)
}

func TestNodes(t *testing.T) {
	h := newHarness(t, "")

	out, err := h.run(t, "nodes", "id", "qs6")
	require.NoError(t, err)
	assert.Equal(t, "6\n", out)

	out, err = h.run(t, "nodes", "host", "4")
	require.NoError(t, err)
	assert.Equal(t, "qs4\n", out)

	out, err = h.run(t, "nodes", "max")
	require.NoError(t, err)
	assert.Equal(t, "6\n", out)

	out, err = h.run(t, "nodes", "list")
	require.NoError(t, err)
	assert.Equal(t, "qs4\nqs6\n", out)

	_, err = h.run(t, "nodes", "host", "5")
	assert.True(t, errors.Is(err, qswerr.ErrNotFound))
	_, err = h.run(t, "nodes", "host", "x")
	assert.True(t, errors.Is(err, qswerr.ErrInvalidArgument))
}

func TestSimulate(t *testing.T) {
	h := newHarness(t, "")

	out, err := h.run(t, "simulate", "--tasks", "4", "--nodes", "0-1", "--rails", "2")
	require.NoError(t, err)
	assert.Contains(t, out, "node:     id=0 local_tasks=2")
	assert.Contains(t, out, "create:   pid=101 state=capability-published")
	assert.Contains(t, out, "task=1 context=0x401")
	assert.Contains(t, out, "destroy:  refused while members run")
	assert.Contains(t, out, "destroy:  state=destroyed")
	assert.Empty(t, h.recorder.records, "simulate does not record allocations")
}
