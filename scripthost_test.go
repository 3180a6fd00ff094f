package scripthost_test

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/aretw0/scripthost"
	"github.com/aretw0/scripthost/pkg/adapters/file"
	"github.com/aretw0/scripthost/pkg/adapters/process"
	"github.com/aretw0/scripthost/pkg/config"
	"github.com/aretw0/scripthost/pkg/coordinator"
	"github.com/aretw0/scripthost/pkg/domain"
	"github.com/aretw0/scripthost/pkg/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scriptDir(t *testing.T, scripts map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, src := range scripts {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(src), 0o644))
	}
	return dir
}

func build(t *testing.T, cfg *config.File, opts ...scripthost.Option) *session.Manager {
	t.Helper()
	mgr, err := scripthost.FromConfig(context.Background(), cfg, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = mgr.Close() })
	return mgr
}

func TestNew_WritesSessionLog(t *testing.T) {
	dir := scriptDir(t, map[string]string{"test.lua": "width = 4\nheight = 5\n"})
	logs := t.TempDir()

	c, err := scripthost.New("npc 1", dir, coordinator.WithLogDir(logs))
	require.NoError(t, err)
	require.NoError(t, c.ExecuteScript(context.Background(), "test.lua"))
	assert.Equal(t, 4.0, c.GetDouble("width"))
	assert.Equal(t, 5.0, c.GetDouble("height"))
	require.NoError(t, c.Close())

	data, err := os.ReadFile(filepath.Join(logs, file.SanitizeName("npc 1")+".log"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "SCRIPT HOST LOGGING INITIATED")
	assert.Contains(t, string(data), "LOGGING SHUTTING DOWN")
}

func TestVersion(t *testing.T) {
	assert.NotEmpty(t, strings.TrimSpace(scripthost.Version))
}

func TestFromConfig_Autostart(t *testing.T) {
	dir := scriptDir(t, map[string]string{
		"box.lua":   "width = 4",
		"count.lua": "count = (count or 0) + 1",
	})
	mgr := build(t, &config.File{
		LogDir: t.TempDir(),
		Sessions: []config.Session{
			{Name: "box", ScriptDir: dir, Script: "box.lua", Autostart: config.AutostartRun},
			{Name: "idle", ScriptDir: dir, Script: "box.lua"},
			{Name: "counter", ScriptDir: dir, Script: "count.lua", Threaded: true,
				PollInterval: 5 * time.Millisecond, Autostart: config.AutostartRepeat},
		},
	})

	assert.Equal(t, []string{"box", "counter", "idle"}, mgr.List())

	box, err := mgr.Get("box")
	require.NoError(t, err)
	assert.True(t, box.Executed())
	assert.Equal(t, 4.0, box.GetDouble("width"))

	idle, err := mgr.Get("idle")
	require.NoError(t, err)
	assert.False(t, idle.Executed())

	counter, err := mgr.Get("counter")
	require.NoError(t, err)
	assert.Eventually(t, func() bool { return counter.GetDouble("count") >= 3 }, 2*time.Second, 5*time.Millisecond)
	state, err := counter.PingScript()
	require.NoError(t, err)
	assert.Equal(t, domain.StateRepeating, state)
}

func TestFromConfig_AutostartFailureClosesSessions(t *testing.T) {
	dir := scriptDir(t, map[string]string{"box.lua": "width = 4"})
	_, err := scripthost.FromConfig(context.Background(), &config.File{
		LogDir: t.TempDir(),
		Sessions: []config.Session{
			{Name: "missing", ScriptDir: dir, Script: "nope.lua", Autostart: config.AutostartRun},
		},
	})
	assert.ErrorIs(t, err, domain.ErrScriptFileUnavailable)
	assert.ErrorContains(t, err, `session "missing"`)
}

func TestFromConfig_SnapshotDir(t *testing.T) {
	dir := scriptDir(t, map[string]string{"box.lua": "width = 4"})
	snaps := t.TempDir()
	mgr := build(t, &config.File{
		LogDir:      t.TempDir(),
		SnapshotDir: snaps,
		Sessions:    []config.Session{{Name: "box", ScriptDir: dir, Script: "box.lua", Autostart: config.AutostartRun}},
	})

	ctx := context.Background()
	require.NoError(t, mgr.Persist(ctx, "box"))
	assert.FileExists(t, filepath.Join(snaps, "box.json"))

	names, err := mgr.Store().List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"box"}, names)
}

func TestFromConfig_Redis(t *testing.T) {
	mr := miniredis.RunT(t)
	dir := scriptDir(t, map[string]string{"count.lua": "count = (count or 0) + 1"})
	mgr := build(t, &config.File{
		LogDir: t.TempDir(),
		Redis:  config.Redis{Addr: mr.Addr(), Prefix: "test:"},
		Sessions: []config.Session{
			{Name: "npc", ScriptDir: dir, Script: "count.lua", Threaded: true,
				PollInterval: 5 * time.Millisecond, Autostart: config.AutostartRun},
		},
	})

	assert.True(t, mr.Exists("test:lock:worker:npc"), "worker holds the session lock")

	c, err := mgr.Get("npc")
	require.NoError(t, err)
	assert.Eventually(t, c.Executed, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, mgr.Persist(context.Background(), "npc"))
	assert.True(t, mr.Exists("test:snapshot:npc"))

	require.NoError(t, c.TerminateScript())
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, c.Wait(ctx))
	assert.Eventually(t, func() bool { return !mr.Exists("test:lock:worker:npc") }, time.Second, 5*time.Millisecond)
}

func TestFromConfig_ProcessTools(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("uses sh")
	}
	dir := scriptDir(t, map[string]string{"roll.lua": "rolled = roll(6)"})
	mgr := build(t, &config.File{
		LogDir: t.TempDir(),
		Tools:  []process.ProcessConfig{{Name: "roll", Command: "sh", Args: []string{"-c", "echo $SCRIPTHOST_ARG_1"}}},
		Sessions: []config.Session{
			{Name: "dice", ScriptDir: dir, Script: "roll.lua", Autostart: config.AutostartRun},
		},
	})

	c, err := mgr.Get("dice")
	require.NoError(t, err)
	assert.Equal(t, "6", c.GetString("rolled"))
}
