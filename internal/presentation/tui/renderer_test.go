package tui

import (
	"bytes"
	"testing"
	"time"

	"github.com/aretw0/scripthost/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSnapshotMarkdown(t *testing.T) {
	md := SnapshotMarkdown(domain.Snapshot{
		Session:   "npc-1",
		Executed:  true,
		TakenAt:   time.Date(2012, 4, 30, 10, 0, 0, 0, time.UTC),
		Variables: map[string]any{"width": 4.0, "label": "a|b", "visible": true},
	})

	assert.Contains(t, md, "# npc-1")
	assert.Contains(t, md, "Executed: **true**")
	assert.Contains(t, md, "| `label` | string | a\\|b |")
	assert.Contains(t, md, "| `visible` | bool | true |")
	assert.Contains(t, md, "| `width` | number | 4 |")
	assert.Less(t, bytes.Index([]byte(md), []byte("label")), bytes.Index([]byte(md), []byte("width")))
}

func TestSnapshotMarkdown_Empty(t *testing.T) {
	md := SnapshotMarkdown(domain.Snapshot{Session: "idle"})
	assert.Contains(t, md, "_No variables bound._")
}

func TestRenderer(t *testing.T) {
	render := NewRenderer()
	out, err := render("# Title\n\nbody")
	require.NoError(t, err)
	assert.Contains(t, out, "body")
}

func TestPrintBanner(t *testing.T) {
	var buf bytes.Buffer
	PrintBanner(&buf, "v1.2.3")
	assert.Contains(t, buf.String(), "v1.2.3")
}
