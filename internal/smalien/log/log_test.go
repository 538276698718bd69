package log

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRecoverPanic(t *testing.T) {
	cleaned := false
	func() {
		defer RecoverPanic("test", func() { cleaned = true })
		panic("boom")
	}()
	assert.True(t, cleaned)
}

func TestSetupOnce(t *testing.T) {
	assert.NoError(t, Setup("", false))
	assert.True(t, Initialized())
	assert.NoError(t, Setup("/nonexistent/dir/log", true), "later calls are no-ops")
}
