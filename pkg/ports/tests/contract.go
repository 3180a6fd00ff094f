package tests

import (
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aretw0/scripthost/pkg/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// LogSinkContractTest is a reusable test suite that verifies if an adapter complies with ports.LogSink.
// lines must return every line written so far, rendered without trailing newlines.
func LogSinkContractTest(t *testing.T, sink ports.LogSink, lines func() ([]string, error)) {
	t.Helper()
	at := time.Date(2012, time.April, 30, 13, 5, 9, 0, time.UTC)

	t.Run("Log_Format", func(t *testing.T) {
		require.NoError(t, sink.Log(at, "hello from lua"))

		got, err := lines()
		require.NoError(t, err)
		require.NotEmpty(t, got)
		assert.Equal(t, "[2012-04-30] [13:05:09] hello from lua", got[len(got)-1])
	})

	t.Run("Log_Concurrent", func(t *testing.T) {
		before, err := lines()
		require.NoError(t, err)

		var wg sync.WaitGroup
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				assert.NoError(t, sink.Log(at, "concurrent"))
			}()
		}
		wg.Wait()

		after, err := lines()
		require.NoError(t, err)
		assert.Len(t, after, len(before)+10)
		for _, line := range after[len(before):] {
			assert.True(t, strings.HasSuffix(line, " concurrent"), "torn line %q", line)
		}
	})

	t.Run("Close", func(t *testing.T) {
		require.NoError(t, sink.Close())
		assert.Error(t, sink.Log(at, "after close"))

		got, err := lines()
		require.NoError(t, err)
		for _, line := range got {
			assert.NotContains(t, line, "after close")
		}
	})
}
