package taint

import (
	"errors"
	"testing"
)

func TestParseDefinitions(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
		check   func(t *testing.T, d *Definitions)
	}{
		{
			name: "custom sources keep default sinks",
			input: `
sources:
  Lcom/example/Secrets;:
    token()Ljava/lang/String;: TOKEN
`,
			check: func(t *testing.T, d *Definitions) {
				if label, ok := d.Source("Lcom/example/Secrets;", "token()Ljava/lang/String;"); !ok || label != "TOKEN" {
					t.Errorf("Source() = %q, %v", label, ok)
				}
				if len(d.MatchSinks("Landroid/util/Log;", "i(Ljava/lang/String;Ljava/lang/String;)I")) != 1 {
					t.Error("default sinks should be kept")
				}
			},
		},
		{
			name: "pre-sink and combination",
			input: `
sinks:
  Ljava/io/Writer;:
    write: pre-sink
    flush: combination
`,
			check: func(t *testing.T, d *Definitions) {
				m := d.MatchSinks("Ljava/io/Writer;", "write(Ljava/lang/String;)V")
				if len(m) != 1 || m[0].Kind != SinkPre {
					t.Errorf("MatchSinks() = %+v", m)
				}
			},
		},
		{
			name:    "unknown sink kind",
			input:   "sinks:\n  La/B;:\n    c()V: maybe\n",
			wantErr: true,
		},
		{
			name:    "reserved label",
			input:   "sources:\n  La/B;:\n    c()V: PRE-SINK\n",
			wantErr: true,
		},
		{
			name:    "not a descriptor",
			input:   "sources:\n  a.B:\n    c()V: X\n",
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := ParseDefinitions([]byte(tt.input))
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseDefinitions() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidDefinitions) {
					t.Errorf("error %v should wrap ErrInvalidDefinitions", err)
				}
				return
			}
			tt.check(t, d)
		})
	}
}

func TestMatchSinksOrder(t *testing.T) {
	d := &Definitions{Sinks: map[string]map[string]SinkKind{
		"La/B;": {"send": SinkLeak, "sendAll": SinkPre},
	}}
	m := d.MatchSinks("La/B;", "sendAll()V")
	if len(m) != 2 || m[0].Method != "send" || m[1].Method != "sendAll" {
		t.Errorf("MatchSinks() = %+v", m)
	}
}

func TestDefaultsValidate(t *testing.T) {
	if err := DefaultDefinitions().Validate(); err != nil {
		t.Fatal(err)
	}
}
