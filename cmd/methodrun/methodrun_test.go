package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"k8s.io/examples/AI/planexec/pkg/blobs"
	"k8s.io/examples/AI/planexec/pkg/config"
	"k8s.io/examples/AI/planexec/pkg/engine"
	"k8s.io/examples/AI/planexec/pkg/telemetry/profilestore"
)

const addPlan = `
name: forward
values:
  - type: int
  - type: tensor
    tensor: {scalar_type: float32, sizes: [2, 2]}
  - type: tensor
    tensor: {scalar_type: float32, sizes: [2, 2], planned: true}
inputs: [0, 1]
outputs: [2]
operators:
  - {name: add, overload: out}
chains:
  - instructions:
      - {op: 0, args: [1, 0, 2]}
`

const unknownOpPlan = `
name: broken
values:
  - type: int
operators:
  - {name: no_such_kernel}
chains:
  - instructions:
      - {op: 0, args: [0]}
`

func testConfig(t *testing.T) config.Config {
	t.Helper()
	return config.Config{
		PlannedArenaBytes: 4096,
		ScratchArenaBytes: 1024,
		CacheDir:          t.TempDir(),
	}
}

func writePlan(t *testing.T, text string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "plan.yaml")
	require.NoError(t, os.WriteFile(path, []byte(text), 0644))
	return path
}

func execute(cfg config.Config, args ...string) (string, error) {
	cmd := newRootCommand(cfg)
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

var addInputs = []string{"--input", "5", "--input", "float32[2,2]:1,2,3,4"}

func TestCommandPresence(t *testing.T) {
	cmd := newRootCommand(testConfig(t))
	for _, name := range []string{"run", "inspect", "push"} {
		t.Run(name, func(t *testing.T) {
			sub, _, err := cmd.Find([]string{name})
			require.NoError(t, err)
			assert.Equal(t, name, sub.Name())
		})
	}

	assert.NotNil(t, cmd.PersistentFlags().Lookup("v"), "klog flags should be merged")
	flag := cmd.PersistentFlags().Lookup("planned-arena")
	require.NotNil(t, flag)
	assert.Equal(t, "4096", flag.DefValue)
}

func TestRun(t *testing.T) {
	path := writePlan(t, addPlan)

	out, err := execute(testConfig(t), append([]string{"run", path}, addInputs...)...)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "output 0: "), out)
	assert.Contains(t, out, "[6 7 8 9]")
}

func TestRunStepMatchesExecute(t *testing.T) {
	path := writePlan(t, addPlan)
	cfg := testConfig(t)

	executed, err := execute(cfg, append([]string{"run", path, "--repeat", "2"}, addInputs...)...)
	require.NoError(t, err)
	stepped, err := execute(cfg, append([]string{"run", path, "--repeat", "2", "--step"}, addInputs...)...)
	require.NoError(t, err)
	assert.Equal(t, executed, stepped)
}

func TestRunParallel(t *testing.T) {
	path := writePlan(t, addPlan)

	out, err := execute(testConfig(t), append([]string{"run", path, "--parallel", "3", "--repeat", "2"}, addInputs...)...)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 3)
	for i, line := range lines {
		assert.True(t, strings.HasPrefix(line, fmt.Sprintf("instance %d output 0: ", i)), line)
		assert.Contains(t, line, "[6 7 8 9]")
	}
}

func TestRunRecordsProfile(t *testing.T) {
	path := writePlan(t, addPlan)
	db := filepath.Join(t.TempDir(), "profile.db")

	_, err := execute(testConfig(t), append([]string{"run", path, "--repeat", "2", "--profile-db", db}, addInputs...)...)
	require.NoError(t, err)

	store, err := profilestore.Open(db)
	require.NoError(t, err)
	defer store.Close()

	runs, err := store.Runs(context.Background(), "forward")
	require.NoError(t, err)
	assert.Len(t, runs, 2)
}

func TestRunErrors(t *testing.T) {
	path := writePlan(t, addPlan)
	cfg := testConfig(t)

	_, err := execute(cfg, "run", path, "--input", "5")
	assert.ErrorIs(t, err, engine.ErrInvalidArgument, "missing input")

	_, err = execute(cfg, "run", path, "--input", "5", "--input", "int:x")
	assert.Error(t, err, "bad input syntax")

	_, err = execute(cfg, append([]string{"run", path, "--repeat", "0"}, addInputs...)...)
	assert.Error(t, err)

	_, err = execute(cfg, append([]string{"run", path, "--planned-arena", "8"}, addInputs...)...)
	assert.ErrorIs(t, err, engine.ErrAllocationFailed)

	_, err = execute(cfg, append([]string{"run", filepath.Join(t.TempDir(), "missing.yaml")}, addInputs...)...)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestRunByHash(t *testing.T) {
	path := writePlan(t, addPlan)
	info, err := blobs.HashFile(path)
	require.NoError(t, err)

	cfg := testConfig(t)
	require.NoError(t, os.WriteFile(filepath.Join(cfg.CacheDir, info.Hash), []byte(addPlan), 0644))

	out, err := execute(cfg, append([]string{"run", hashPrefix + info.Hash}, addInputs...)...)
	require.NoError(t, err)
	assert.Contains(t, out, "[6 7 8 9]")

	_, err = execute(cfg, append([]string{"run", hashPrefix + strings.Repeat("0", 64)}, addInputs...)...)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestInspect(t *testing.T) {
	out, err := execute(testConfig(t), "inspect", writePlan(t, addPlan), "--check")
	require.NoError(t, err)

	assert.Contains(t, out, "method: forward")
	assert.Contains(t, out, "  0: int 0")
	assert.Contains(t, out, "  2: tensor float32[2 2] planned")
	assert.Contains(t, out, "  0: add.out\n")
	assert.Contains(t, out, "chains: 1, instructions: 1")
	assert.Contains(t, out, "init: ok (3 values)")
}

func TestInspectUnknownOperator(t *testing.T) {
	path := writePlan(t, unknownOpPlan)

	out, err := execute(testConfig(t), "inspect", path)
	require.NoError(t, err)
	assert.Contains(t, out, "0: no_such_kernel (not registered)")

	out, err = execute(testConfig(t), "inspect", path, "--check")
	assert.ErrorIs(t, err, engine.ErrOperatorNotFound)
	assert.Contains(t, out, "init: OperatorNotFound")
}

func TestPushRequiresBucket(t *testing.T) {
	path := writePlan(t, addPlan)

	_, err := execute(testConfig(t), "push", path)
	assert.ErrorContains(t, err, "--bucket")

	_, err = execute(testConfig(t), "push", path, "--bucket", "s3://plans")
	assert.Error(t, err)
}
