package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommandWiring(t *testing.T) {
	root := newRootCommand()

	names := map[string]bool{}
	for _, c := range root.Commands() {
		names[c.Name()] = c.Hidden
	}
	assert.Contains(t, names, "serve")
	assert.Contains(t, names, "measure")
	require.Contains(t, names, "worker")
	assert.True(t, names["worker"], "worker command is internal")

	assert.NotNil(t, root.PersistentFlags().Lookup("v"), "klog verbosity flag is bridged")
	assert.NotNil(t, root.PersistentFlags().Lookup("config"))
}

func TestMeasureRejectsInvalidExtra(t *testing.T) {
	root := newRootCommand()
	var stderr bytes.Buffer
	root.SetErr(&stderr)
	root.SetOut(&bytes.Buffer{})
	root.SetArgs([]string{"measure", "--latency", "10", "--power", "1", "--extra", "{not json"})

	err := root.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--extra must be valid JSON")
}

func TestMeasureRequiresHardwareFlags(t *testing.T) {
	root := newRootCommand()
	root.SetErr(&bytes.Buffer{})
	root.SetOut(&bytes.Buffer{})
	root.SetArgs([]string{"measure", "--model", "gpt-x"})

	assert.Error(t, root.Execute())
}
