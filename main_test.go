package main

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gotest.tools/v3/fs"
)

func Test_Execute_RequiresInput(t *testing.T) {
	assert.Equal(t, 1, execute(context.Background(), []string{}))
}

func Test_Execute_MissingExplicitConfig(t *testing.T) {
	dir := fs.NewDir(t, "hevcify")
	code := execute(context.Background(), []string{"--config", dir.Join("missing.yaml"), "movie", "x264.mp4"})
	assert.Equal(t, 1, code)
}

func Test_RootCommand_Flags(t *testing.T) {
	cmd := newRootCommand()
	out := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetArgs([]string{"--help"})

	require.NoError(t, cmd.Execute())
	for _, flag := range []string{"--config", "--verbose", "--no-pull", "--dry-run"} {
		assert.Contains(t, out.String(), flag)
	}
	assert.Contains(t, out.String(), "HEVCIFY_SIZE_THRESHOLD")
}
