package colorize

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDisabled(t *testing.T) {
	t.Setenv("SMALIEN_NO_COLOR", "1")

	code := "invoke-virtual {p1}, Landroid/telephony/TelephonyManager;->getDeviceId()Ljava/lang/String;"
	out, err := Smali(code)
	require.NoError(t, err)
	assert.Equal(t, code, out)
	assert.Equal(t, "→    14  return-void", ListingLine(14, "return-void", true))
	assert.Equal(t, "[SINK] x", FlowLine("[SINK] x"))
}

func TestHighlightKeepsText(t *testing.T) {
	t.Setenv("SMALIEN_NO_COLOR", "")

	out, err := Smali("const-string v1, \"tag\"")
	require.NoError(t, err)
	assert.Contains(t, StripANSI(out), "const-string v1, \"tag\"")

	line := ListingLine(7, "move-result-object v0", false)
	assert.True(t, strings.HasPrefix(StripANSI(line), "      7  "))

	flow := FlowLine("[SOURCE] normal, [IMEI]")
	assert.NotEqual(t, "[SOURCE] normal, [IMEI]", flow)
	assert.Equal(t, "[SOURCE] normal, [IMEI]", StripANSI(flow))
}

func TestStripANSI(t *testing.T) {
	tests := []struct {
		in    string
		want  string
		width int
	}{
		{"plain", "plain", 5},
		{"\033[1;34mblue\033[0m", "blue", 4},
		{"→ a", "→ a", 3},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, StripANSI(tt.in))
			assert.Equal(t, tt.width, VisibleWidth(tt.in))
		})
	}
}
