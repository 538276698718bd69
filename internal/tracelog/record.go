// Package tracelog turns the instrumentation trace into replay directives.
//
// The instrumented app writes one record per logged value:
//
//	<epoch millis>:<pid>:<tid>:<class id>_<line>[_<register>]:<value>
//
// Records are written either one per line or in batches, a batch being a
// JSON list of record strings on a single line.
package tracelog

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"
)

var (
	// ErrCorrupted reports a record that does not match the record layout.
	ErrCorrupted = errors.New("corrupted trace record")
	// ErrUnknownLocation reports a record naming a class or line missing
	// from the program.
	ErrUnknownLocation = errors.New("unknown trace location")
)

var recordPattern = regexp.MustCompile(`^\d{13}:\d+:\d+:\d+_\d+`)

// maxLine bounds a physical trace line; batches of records can be long.
const maxLine = 64 << 20

// Record is one logged value.
type Record struct {
	Timestamp int64
	PID       int
	TID       int
	ClassID   int
	Line      int
	// Register is empty for records that only mark a location.
	Register string
	Value    string
}

// PTID identifies the thread of r.
func (r Record) PTID() string {
	return strconv.Itoa(r.PID) + "_" + strconv.Itoa(r.TID)
}

func (r Record) String() string {
	s := fmt.Sprintf("%d:%d:%d:%d_%d", r.Timestamp, r.PID, r.TID, r.ClassID, r.Line)
	if r.Register != "" {
		s += "_" + r.Register + ":" + r.Value
	}
	return s
}

// ParseRecord decodes a single record.
func ParseRecord(s string) (Record, error) {
	if !recordPattern.MatchString(s) {
		return Record{}, fmt.Errorf("%w: %q", ErrCorrupted, s)
	}
	parts := strings.Split(s, ":")
	var (
		r   Record
		err error
	)
	if r.Timestamp, err = strconv.ParseInt(parts[0], 10, 64); err != nil {
		return Record{}, fmt.Errorf("%w: timestamp: %v", ErrCorrupted, err)
	}
	if r.PID, err = strconv.Atoi(parts[1]); err != nil {
		return Record{}, fmt.Errorf("%w: pid: %v", ErrCorrupted, err)
	}
	if r.TID, err = strconv.Atoi(parts[2]); err != nil {
		return Record{}, fmt.Errorf("%w: tid: %v", ErrCorrupted, err)
	}
	id := strings.Split(parts[3], "_")
	if r.ClassID, err = strconv.Atoi(id[0]); err != nil {
		return Record{}, fmt.Errorf("%w: class id: %v", ErrCorrupted, err)
	}
	if r.Line, err = strconv.Atoi(id[1]); err != nil {
		return Record{}, fmt.Errorf("%w: line: %v", ErrCorrupted, err)
	}
	if len(id) > 2 {
		r.Register = id[len(id)-1]
		// The value may itself contain colons.
		r.Value = strings.Join(parts[4:], ":")
	}
	return r, nil
}

// ParseLine decodes a physical trace line holding a record or a JSON batch
// of records. Blank lines yield nothing.
func ParseLine(line string) ([]Record, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil, nil
	}
	if !strings.HasPrefix(line, "[") {
		r, err := ParseRecord(line)
		if err != nil {
			return nil, err
		}
		return []Record{r}, nil
	}

	var batch []*string
	if err := json.Unmarshal([]byte(line), &batch); err != nil {
		return nil, fmt.Errorf("%w: batch: %v", ErrCorrupted, err)
	}
	out := make([]Record, 0, len(batch))
	for i, s := range batch {
		if s == nil {
			return nil, fmt.Errorf("%w: null record at batch index %d", ErrCorrupted, i)
		}
		r, err := ParseRecord(*s)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

// Scan reads every record of r in order and passes it to fn. It stops at
// the first error.
func Scan(r io.Reader, fn func(Record) error) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLine)
	n := 0
	for sc.Scan() {
		n++
		recs, err := ParseLine(sc.Text())
		if err != nil {
			return fmt.Errorf("trace line %d: %w", n, err)
		}
		for _, rec := range recs {
			if err := fn(rec); err != nil {
				return err
			}
		}
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("read trace: %w", err)
	}
	return nil
}
