package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeScript(t *testing.T, source string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "test.lua"), []byte(source), 0o644))
	return dir
}

func TestRunSession_Synchronous(t *testing.T) {
	dir := writeScript(t, "width = 4\nheight = 5\n")
	var out bytes.Buffer

	err := runSession(context.Background(), &out, runOptions{
		name:    defaultSessionName,
		scripts: dir,
		logs:    t.TempDir(),
		script:  defaultScript,
	})
	require.NoError(t, err)
	assert.Contains(t, out.String(), "width = 4, height = 5")
}

func TestRunSession_Vars(t *testing.T) {
	dir := writeScript(t, "label = 'box'\nvisible = true\n")
	var out bytes.Buffer

	err := runSession(context.Background(), &out, runOptions{
		name:    "npc",
		scripts: dir,
		logs:    t.TempDir(),
		script:  defaultScript,
		vars:    []string{"label", "visible", "depth"},
	})
	require.NoError(t, err)
	assert.Contains(t, out.String(), "label = box, visible = true, depth = nil")
}

func TestRunSession_ThreadedOnce(t *testing.T) {
	dir := writeScript(t, "count = (count or 0) + 1")
	var out bytes.Buffer

	err := runSession(context.Background(), &out, runOptions{
		name:     "npc",
		scripts:  dir,
		logs:     t.TempDir(),
		script:   defaultScript,
		threaded: true,
		poll:     5 * time.Millisecond,
		vars:     []string{"count"},
	})
	require.NoError(t, err)
	assert.Contains(t, out.String(), "count = 1")
}

func TestRunSession_ThreadedRepeatForDuration(t *testing.T) {
	dir := writeScript(t, "count = (count or 0) + 1")
	var out bytes.Buffer

	err := runSession(context.Background(), &out, runOptions{
		name:     "npc",
		scripts:  dir,
		logs:     t.TempDir(),
		script:   defaultScript,
		threaded: true,
		repeat:   true,
		poll:     5 * time.Millisecond,
		duration: 100 * time.Millisecond,
		vars:     []string{"count"},
		report:   true,
	})
	require.NoError(t, err)
	assert.NotContains(t, out.String(), "count = nil")
	assert.Contains(t, out.String(), "count")
}

func TestRunSession_MissingScript(t *testing.T) {
	var out bytes.Buffer
	err := runSession(context.Background(), &out, runOptions{
		name:    "npc",
		scripts: t.TempDir(),
		logs:    t.TempDir(),
		script:  "nope.lua",
	})
	assert.Error(t, err)
}

func TestVersionCommand(t *testing.T) {
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"version"})
	require.NoError(t, rootCmd.Execute())
	assert.Contains(t, out.String(), "scripthost version")
}
