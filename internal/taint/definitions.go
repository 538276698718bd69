package taint

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// ErrInvalidDefinitions reports a malformed source or sink table.
var ErrInvalidDefinitions = errors.New("invalid taint definitions")

// SinkKind classifies a sink API.
type SinkKind string

const (
	SinkLeak        SinkKind = "sink"
	SinkPre         SinkKind = "pre-sink"
	SinkCombination SinkKind = "combination"
)

// Definitions holds the configured source and sink tables.
type Definitions struct {
	// class -> method -> label
	Sources map[string]map[string]string `json:"sources" yaml:"sources" jsonschema:"title=Sources,description=Class descriptor to method name to source label"`
	// class -> method -> kind
	Sinks map[string]map[string]SinkKind `json:"sinks" yaml:"sinks" jsonschema:"title=Sinks,description=Class descriptor to method name to sink kind (sink | pre-sink | combination)"`
}

// DefaultDefinitions returns the built-in tables covering the common
// telephony and location sources and the logging, messaging and intent sinks.
func DefaultDefinitions() *Definitions {
	return &Definitions{
		Sources: map[string]map[string]string{
			"Landroid/telephony/TelephonyManager;": {
				"getDeviceId()Ljava/lang/String;":        "IMEI",
				"getSimSerialNumber()Ljava/lang/String;": "ICCID",
				"getSubscriberId()Ljava/lang/String;":    "IMSI",
			},
			"Landroid/location/Location;": {
				"getLatitude()D":  "Latitude",
				"getLongitude()D": "Longitude",
			},
		},
		Sinks: map[string]map[string]SinkKind{
			"Landroid/telephony/SmsManager;": {
				"sendTextMessage(Ljava/lang/String;Ljava/lang/String;Ljava/lang/String;Landroid/app/PendingIntent;Landroid/app/PendingIntent;)V": SinkLeak,
			},
			"Landroid/telephony/gsm/SmsManager;": {
				"sendTextMessage(Ljava/lang/String;Ljava/lang/String;Ljava/lang/String;Landroid/app/PendingIntent;Landroid/app/PendingIntent;)V": SinkLeak,
			},
			"Landroid/util/Log;": {
				"i(Ljava/lang/String;Ljava/lang/String;)I": SinkLeak,
				"e(Ljava/lang/String;Ljava/lang/String;)I": SinkLeak,
				"v(Ljava/lang/String;Ljava/lang/String;)I": SinkLeak,
				"d(Ljava/lang/String;Ljava/lang/String;)I": SinkLeak,
			},
			"Ljava/lang/ProcessBuilder;": {
				"start()Ljava/lang/Process;": SinkLeak,
			},
			"Landroid/app/Activity;": {
				"startActivityForResult(Landroid/content/Intent;I)V": SinkLeak,
				"setResult(ILandroid/content/Intent;)V":              SinkLeak,
				"startActivity(Landroid/content/Intent;)V":           SinkLeak,
				"sendBroadcast(Landroid/content/Intent;)V":           SinkLeak,
			},
			"Landroid/content/Context;": {
				"startActivity(Landroid/content/Intent;)V": SinkLeak,
			},
			"Landroid/content/ContextWrapper;": {
				"sendBroadcast(Landroid/content/Intent;)Z": SinkLeak,
			},
			"Ljava/net/URL;": {
				"openConnection()Ljava/net/URLConnection;": SinkLeak,
			},
		},
	}
}

// LoadDefinitions reads a YAML (or JSON) definitions file. Tables missing
// from the file fall back to the defaults.
func LoadDefinitions(path string) (*Definitions, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read taint definitions: %w", err)
	}
	return ParseDefinitions(data)
}

// ParseDefinitions decodes definitions from YAML or JSON bytes.
func ParseDefinitions(data []byte) (*Definitions, error) {
	var d Definitions
	if err := yaml.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDefinitions, err)
	}
	def := DefaultDefinitions()
	if d.Sources == nil {
		d.Sources = def.Sources
	}
	if d.Sinks == nil {
		d.Sinks = def.Sinks
	}
	if err := d.Validate(); err != nil {
		return nil, err
	}
	return &d, nil
}

// Validate checks descriptor shapes and sink kinds.
func (d *Definitions) Validate() error {
	for class, methods := range d.Sources {
		if !validClass(class) {
			return fmt.Errorf("%w: source class %q is not a descriptor", ErrInvalidDefinitions, class)
		}
		for m, label := range methods {
			if !strings.Contains(m, "(") {
				return fmt.Errorf("%w: source method %q of %s has no signature", ErrInvalidDefinitions, m, class)
			}
			if label == "" || label == PreSink {
				return fmt.Errorf("%w: source %s->%s has reserved or empty label %q", ErrInvalidDefinitions, class, m, label)
			}
		}
	}
	for class, methods := range d.Sinks {
		if !validClass(class) {
			return fmt.Errorf("%w: sink class %q is not a descriptor", ErrInvalidDefinitions, class)
		}
		for m, kind := range methods {
			switch kind {
			case SinkLeak, SinkPre, SinkCombination:
			default:
				return fmt.Errorf("%w: sink %s->%s has unknown kind %q", ErrInvalidDefinitions, class, m, kind)
			}
		}
	}
	return nil
}

// Source returns the label configured for class->method.
func (d *Definitions) Source(class, method string) (string, bool) {
	label, ok := d.Sources[class][method]
	return label, ok
}

// SinkMatch is one entry of a sink table matching an invoked method.
type SinkMatch struct {
	Method string
	Kind   SinkKind
}

// MatchSinks returns the sink entries of class whose method name occurs in
// method, in lexical order of the configured names.
func (d *Definitions) MatchSinks(class, method string) []SinkMatch {
	methods, ok := d.Sinks[class]
	if !ok {
		return nil
	}
	names := make([]string, 0, len(methods))
	for m := range methods {
		names = append(names, m)
	}
	sort.Strings(names)

	var out []SinkMatch
	for _, m := range names {
		if strings.Contains(method, m) {
			out = append(out, SinkMatch{Method: m, Kind: methods[m]})
		}
	}
	return out
}

func validClass(c string) bool {
	return strings.HasPrefix(c, "L") && strings.HasSuffix(c, ";")
}
