package main

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDiagramCmd_FileFormats(t *testing.T) {
	isolatedHome(t)
	dir := t.TempDir()
	path := writeFile(t, dir, "leak.yaml", leakTestYAML)

	out, err := execute(t, "diagram", path)
	require.NoError(t, err)
	assert.Contains(t, out, "=== leak test ===")
	assert.Contains(t, out, "2 Condition")
	assert.Contains(t, out, "[true]")

	out, err = execute(t, "diagram", "-f", "mermaid", path)
	require.NoError(t, err)
	assert.Contains(t, out, "graph TD")
	assert.Contains(t, out, "s2 -->|true| s2_t1")

	png := filepath.Join(dir, "leak.png")
	_, err = execute(t, "diagram", "-f", "png", "-o", png, path)
	require.NoError(t, err)
	data, err := os.ReadFile(png)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x89, 'P', 'N', 'G'}, data[:4])

	_, err = execute(t, "diagram", "-f", "gif", path)
	require.Error(t, err)
}

func TestDiagramCmd_RunOverlay(t *testing.T) {
	isolatedHome(t)
	path := writeFile(t, t.TempDir(), "leak.yaml", leakTestYAML)
	ctx := context.Background()

	cfg, err := loadConfig()
	require.NoError(t, err)
	a, err := newApp(ctx, cfg, io.Discard)
	require.NoError(t, err)
	wf, err := a.decodeFile(path)
	require.NoError(t, err)
	require.NoError(t, a.store.SaveWorkflow(ctx, wf))
	result, err := a.engine.Run(ctx, wf)
	require.NoError(t, err)
	require.NoError(t, a.close(ctx))

	out, err := execute(t, "diagram", "--run", result.RunID)
	require.NoError(t, err)
	assert.Contains(t, out, "leak test")
	assert.Contains(t, out, "[OK]")
}

func TestDiagramCmd_NeedsWorkflowOrRun(t *testing.T) {
	isolatedHome(t)
	_, err := execute(t, "diagram")
	require.Error(t, err)
}
