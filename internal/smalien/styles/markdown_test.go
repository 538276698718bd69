package styles

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRender(t *testing.T) {
	for _, plain := range []bool{true, false} {
		out, err := Render("# Replay\n\n- Leaks: 1\n", 80, plain)
		require.NoError(t, err)
		assert.Contains(t, out, "Replay")
		assert.Contains(t, out, "Leaks: 1")
	}
}
