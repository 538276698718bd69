package flowlog

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrite(t *testing.T) {
	var buf bytes.Buffer
	w := New(&buf)
	w.Write(Source, "normal", "[IMEI]", "La/Main;", "run()V", 12)
	w.Write(ReflectionReturn, "La/Main;", "run()V", 20, 21)
	require.NoError(t, w.Flush())

	assert.Equal(t,
		"[SOURCE] normal, [IMEI], La/Main;, run()V, 12\n"+
			"[REFLECTION_RET] La/Main;, run()V, 20, 21\n",
		buf.String())
	assert.Equal(t, 1, w.Count(Source))
	assert.Equal(t, 0, w.Count(Sink))
}

func TestNilWriter(t *testing.T) {
	var w *Writer
	w.Write(Sink, "x")
	assert.Equal(t, 0, w.Count(Sink))
	assert.NoError(t, w.Close())
}

func TestOpen(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "out")
	w, err := Open(dir)
	require.NoError(t, err)
	w.Write(ICCSend, "La/Main;", "send()V", 3)
	require.NoError(t, w.Close())

	data, err := os.ReadFile(filepath.Join(dir, DefaultFile))
	require.NoError(t, err)
	assert.Equal(t, "[ICC_SEND_ARG] La/Main;, send()V, 3\n", string(data))
}
