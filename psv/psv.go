// Package psv parses the pipe-separated tabular responses served by the
// patch metadata endpoints (/cdns, /versions and friends).
//
// The first non-comment line declares the columns as NAME!TYPE:len
// fields; subsequent lines are data rows. Lines starting with "##" carry
// out-of-band metadata, of which "## seqn = N" is captured.
package psv

import (
	"fmt"
	"strconv"
	"strings"
)

// File is one parsed tabular response.
type File struct {
	// Header holds the declared column names, lowercased, in order.
	Header []string

	// Rows holds the data rows; every row has len(Header) fields.
	Rows [][]string

	// SeqN is the sequence number from a "## seqn = N" line, or 0.
	SeqN int
}

// Parse decodes tabular text.
func Parse(data string) (*File, error) {
	f := &File{}

	for _, line := range strings.Split(data, "\n") {
		line = strings.TrimRight(line, "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}

		if strings.HasPrefix(line, "##") {
			key, value, ok := strings.Cut(strings.TrimPrefix(line, "##"), "=")
			if ok && strings.TrimSpace(key) == "seqn" {
				n, err := strconv.Atoi(strings.TrimSpace(value))
				if err != nil {
					return nil, fmt.Errorf("invalid seqn %q: %w", strings.TrimSpace(value), err)
				}
				f.SeqN = n
			}
			continue
		}

		fields := strings.Split(line, "|")

		if f.Header == nil {
			header := make([]string, len(fields))
			for i, field := range fields {
				name, _, _ := strings.Cut(field, "!")
				name = strings.TrimSpace(name)
				if name == "" {
					return nil, fmt.Errorf("empty column name in header %q", line)
				}
				header[i] = strings.ToLower(name)
			}
			f.Header = header
			continue
		}

		if len(fields) != len(f.Header) {
			return nil, fmt.Errorf("row has %d fields, header has %d: %q", len(fields), len(f.Header), line)
		}
		f.Rows = append(f.Rows, fields)
	}

	if f.Header == nil {
		return nil, fmt.Errorf("missing header line")
	}

	return f, nil
}

// Column returns the index of the named column, or -1.
func (f *File) Column(name string) int {
	name = strings.ToLower(name)
	for i, h := range f.Header {
		if h == name {
			return i
		}
	}
	return -1
}
