package lua

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/aretw0/scripthost/pkg/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func run(t *testing.T, i *Interpreter, src string) error {
	t.Helper()
	return i.ExecuteSource(context.Background(), strings.NewReader(src), "test.lua")
}

func TestInterpreter_TypedVariables(t *testing.T) {
	i := New()
	defer i.Close()

	require.NoError(t, run(t, i, `width = 4; height = 5; name = "box"; visible = true`))

	assert.True(t, i.VariableExists("width"))
	assert.False(t, i.VariableExists("depth"))
	assert.Equal(t, 4.0, i.ReadNumber("width"))
	assert.Equal(t, 5.0, i.ReadNumber("height"))
	assert.Equal(t, "box", i.ReadString("name"))
	assert.True(t, i.ReadBool("visible"))

	i.WriteNumber("width", 10)
	i.WriteString("name", "crate")
	i.WriteBool("visible", false)
	require.NoError(t, run(t, i, `area = width * height; tag = name .. "!"`))
	assert.Equal(t, 50.0, i.ReadNumber("area"))
	assert.Equal(t, "crate!", i.ReadString("tag"))
	assert.False(t, i.ReadBool("visible"))
}

func TestInterpreter_VariablesSkipsLibraries(t *testing.T) {
	i := New()
	defer i.Close()

	require.NoError(t, run(t, i, `count = 3; label = "x"; flag = false; helper = function() end; tbl = {}`))

	vars := i.Variables()
	assert.Equal(t, map[string]any{"count": 3.0, "label": "x", "flag": false}, vars)
}

func TestInterpreter_OnlyScalarGlobalsExist(t *testing.T) {
	reg := registry.NewRegistry()
	reg.Register("roll", func(ctx context.Context, args []any) (any, error) { return 4.0, nil })
	i := New(WithRegistry(reg), WithLogFunc(func(string) {}))
	defer i.Close()

	require.NoError(t, run(t, i, `count = 3; helper = function() end; tbl = {}`))

	assert.True(t, i.VariableExists("count"))
	for _, name := range []string{"string", "os", "print", "log", "roll", "helper", "tbl", "_VERSION"} {
		assert.False(t, i.VariableExists(name), name)
	}
}

func TestInterpreter_SyntaxAndRuntimeErrors(t *testing.T) {
	i := New()
	defer i.Close()

	err := run(t, i, `width = `)
	assert.ErrorContains(t, err, "failed to load chunk")

	err = run(t, i, `error("boom")`)
	assert.ErrorContains(t, err, "boom")
	assert.NotContains(t, err.Error(), "chunk test.lua")

	// The VM stays usable after a failed pass.
	require.NoError(t, run(t, i, `ok = true`))
	assert.True(t, i.ReadBool("ok"))
}

func TestInterpreter_ContextCancellationAbortsChunk(t *testing.T) {
	i := New()
	defer i.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := i.ExecuteSource(ctx, strings.NewReader(`while true do end`), "spin.lua")
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestInterpreter_LogAndHostFunctions(t *testing.T) {
	var logged []string
	reg := registry.NewRegistry()
	reg.Register("add", func(ctx context.Context, args []any) (any, error) {
		return args[0].(float64) + args[1].(float64), nil
	})
	reg.Register("fail", func(ctx context.Context, args []any) (any, error) {
		return nil, errors.New("nope")
	})

	i := New(WithRegistry(reg), WithLogFunc(func(msg string) { logged = append(logged, msg) }))
	defer i.Close()

	require.NoError(t, run(t, i, `sum = add(2, 3); log("sum is", sum)`))
	assert.Equal(t, 5.0, i.ReadNumber("sum"))
	assert.Equal(t, []string{"sum is 5"}, logged)

	err := run(t, i, `fail()`)
	assert.ErrorContains(t, err, "nope")
}

func TestFactory(t *testing.T) {
	f := Factory(WithCallStackSize(64))
	a, err := f()
	require.NoError(t, err)
	b, err := f()
	require.NoError(t, err)
	defer a.Close()
	defer b.Close()

	a.WriteNumber("x", 1)
	assert.True(t, a.VariableExists("x"))
	assert.False(t, b.VariableExists("x"), "factory must hand out independent VMs")
}

func TestInterpreter_HostResultsBecomeTables(t *testing.T) {
	reg := registry.NewRegistry()
	reg.Register("forecast", func(ctx context.Context, args []any) (any, error) {
		return map[string]any{
			"summary": "ion storm",
			"belts":   []any{"VIII-II", "IX-I"},
		}, nil
	})
	i := New(WithRegistry(reg))
	defer i.Close()

	require.NoError(t, run(t, i, `local f = forecast(); summary = f.summary; belts = #f.belts; first = f.belts[1]`))
	assert.Equal(t, "ion storm", i.ReadString("summary"))
	assert.Equal(t, 2.0, i.ReadNumber("belts"))
	assert.Equal(t, "VIII-II", i.ReadString("first"))
}
