package cmd

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()

	var buf bytes.Buffer
	root := NewRootCmd()
	root.SetOut(&buf)
	root.SetErr(&buf)
	root.SetArgs(args)
	err := root.Execute()
	return buf.String(), err
}

func TestRootCmd_Help(t *testing.T) {
	out, err := execute(t, "--help")
	require.NoError(t, err)

	for _, sub := range []string{"serve", "load", "search", "qa", "facets", "version"} {
		assert.Contains(t, out, sub)
	}
}

func TestRootCmd_VersionFlag(t *testing.T) {
	out, err := execute(t, "--version")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "hukm version "))
}

func TestSearchCmd_RequiresQuery(t *testing.T) {
	_, err := execute(t, "search")
	require.Error(t, err)
}

func TestQACmd_RequiresQuestion(t *testing.T) {
	_, err := execute(t, "qa")
	require.Error(t, err)
}

func TestLoadCmd_RequiresChunksFlag(t *testing.T) {
	_, err := execute(t, "load")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "chunks")
}

func TestUnknownCommand(t *testing.T) {
	_, err := execute(t, "frobnicate")
	require.Error(t, err)
}
