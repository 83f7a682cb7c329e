package reassembler

import (
	"bytes"
	"fmt"
	"strings"

	"golang.org/x/exp/slices"
)

const (
	LineDelimiter  = '\n'
	FieldDelimiter = "\t"

	maxReportedLineLength = 256
)

// Record is one data line split into fields.  Line is the number of the input line that completed it.
type Record struct {
	Line   int
	Fields []string
}

// MalformedLineError describes input that could not be turned into a record and has been dropped.
type MalformedLineError struct {
	Line     int
	Fields   int
	Expected int
	Text     string
	Reason   string
}

func (e *MalformedLineError) Error() string {
	return fmt.Sprintf("malformed line %d: %s (expected %d fields, found %d): %q", e.Line, e.Reason, e.Expected, e.Fields, e.Text)
}

// Output is everything produced by a single call to Process or Finish, in input order.
type Output struct {
	Records   []Record
	Malformed []*MalformedLineError
}

// Reassembler turns arbitrarily split chunks of tab-separated, newline-delimited text back into records.
// The first non-blank line is the header and is never emitted as a record.
//
// A Reassembler is not safe for concurrent use.
type Reassembler struct {
	policy FragmentPolicy
	header []string

	// Unterminated bytes from the end of the last chunk.
	pending []byte

	// A complete line held back because its field count did not match the header.
	fragment     string
	fragmentLine int
	hasFragment  bool

	lines int
}

func New(policy FragmentPolicy) *Reassembler {
	return &Reassembler{policy: policy}
}

// Header returns a copy of the column names, or nil if no header has been seen yet.
func (r *Reassembler) Header() []string {
	return slices.Clone(r.header)
}

func (r *Reassembler) HasHeader() bool {
	return r.header != nil
}

// Lines returns the number of lines seen so far, including blank lines and the header.
func (r *Reassembler) Lines() int {
	return r.lines
}

// Process consumes the next chunk of input.  Bytes after the last line delimiter are kept back and
// prepended to the next chunk. The chunk itself is not retained.
func (r *Reassembler) Process(chunk []byte) Output {
	var out Output
	data := chunk
	if len(r.pending) > 0 {
		data = append(r.pending, chunk...)
		r.pending = nil
	}
	for {
		i := bytes.IndexByte(data, LineDelimiter)
		if i < 0 {
			break
		}
		r.processLine(string(data[:i]), &out)
		data = data[i+1:]
	}
	if len(data) > 0 {
		r.pending = append([]byte(nil), data...)
	}
	return out
}

// Finish signals the end of input.  An unterminated final line is treated as complete: it becomes a record if
// it has the right number of fields and is reported as malformed otherwise.  Any fragment still held back is
// reported as malformed.
func (r *Reassembler) Finish() Output {
	var out Output
	if len(r.pending) > 0 {
		tail := string(r.pending)
		r.pending = nil
		r.processLine(tail, &out)
	}
	if r.hasFragment {
		r.reportFragment(&out, "incomplete record at end of input")
	}
	return out
}

func (r *Reassembler) processLine(line string, out *Output) {
	r.lines++
	if line == "" {
		return
	}
	if r.header == nil {
		r.header = strings.Split(line, FieldDelimiter)
		return
	}
	expected := len(r.header)

	if r.hasFragment {
		merged := r.fragment + line
		fields := strings.Split(merged, FieldDelimiter)
		if len(fields) == expected {
			r.clearFragment()
			out.Records = append(out.Records, Record{Line: r.lines, Fields: fields})
			return
		}
		if r.policy == FragmentPolicyMerge {
			r.fragment = merged
			return
		}
		r.reportFragment(out, "short line not completed by the following line")
	}

	fields := strings.Split(line, FieldDelimiter)
	switch {
	case len(fields) == expected:
		out.Records = append(out.Records, Record{Line: r.lines, Fields: fields})
	case r.policy == FragmentPolicyMerge || len(fields) < expected:
		r.fragment = line
		r.fragmentLine = r.lines
		r.hasFragment = true
	default:
		out.Malformed = append(out.Malformed, r.malformed(r.lines, line, "too many fields"))
	}
}

func (r *Reassembler) reportFragment(out *Output, reason string) {
	out.Malformed = append(out.Malformed, r.malformed(r.fragmentLine, r.fragment, reason))
	r.clearFragment()
}

func (r *Reassembler) clearFragment() {
	r.fragment = ""
	r.fragmentLine = 0
	r.hasFragment = false
}

func (r *Reassembler) malformed(line int, text string, reason string) *MalformedLineError {
	fields := strings.Count(text, FieldDelimiter) + 1
	if len(text) > maxReportedLineLength {
		text = text[:maxReportedLineLength] + "..."
	}
	return &MalformedLineError{
		Line:     line,
		Fields:   fields,
		Expected: len(r.header),
		Text:     text,
		Reason:   reason,
	}
}
