package event

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// fieldCount is the number of comma-separated columns in a record line
const fieldCount = 6

// FormatLine renders an event as x,z,tick,dimension,eventType,encodedMetadata
// terminated by a single '\n'.
func FormatLine(e Event) (string, error) {
	meta, err := EncodeMetadata(e.Metadata)
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	sb.Grow(32 + len(meta))
	sb.WriteString(strconv.FormatInt(int64(e.X), 10))
	sb.WriteByte(',')
	sb.WriteString(strconv.FormatInt(int64(e.Z), 10))
	sb.WriteByte(',')
	sb.WriteString(strconv.FormatInt(int64(e.Tick), 10))
	sb.WriteByte(',')
	sb.WriteString(strconv.FormatInt(int64(e.Dimension), 10))
	sb.WriteByte(',')
	sb.WriteString(string(e.Type))
	sb.WriteByte(',')
	sb.WriteString(meta)
	sb.WriteByte('\n')
	return sb.String(), nil
}

// WriteLine writes a single formatted event to w
func WriteLine(w io.Writer, e Event) error {
	line, err := FormatLine(e)
	if err != nil {
		return err
	}
	_, err = io.WriteString(w, line)
	return err
}

// ParseLine parses one record line. A trailing "\n" or "\r\n" is ignored.
func ParseLine(line string) (Event, error) {
	line = strings.TrimRight(line, "\r\n")
	parts := strings.Split(line, ",")
	if len(parts) != fieldCount {
		return Event{}, fmt.Errorf("expected %d fields, got %d", fieldCount, len(parts))
	}

	var ints [4]int32
	names := [4]string{"x", "z", "tick", "dimension"}
	for i := range ints {
		v, err := strconv.ParseInt(parts[i], 10, 32)
		if err != nil {
			return Event{}, fmt.Errorf("invalid %s %q: %w", names[i], parts[i], err)
		}
		ints[i] = int32(v)
	}
	if ints[2] < 0 {
		return Event{}, fmt.Errorf("invalid tick %d: must not be negative", ints[2])
	}

	t, err := ParseType(parts[4])
	if err != nil {
		return Event{}, err
	}

	meta, err := DecodeMetadata(parts[5])
	if err != nil {
		return Event{}, err
	}

	return Event{
		X:         ints[0],
		Z:         ints[1],
		Tick:      ints[2],
		Dimension: ints[3],
		Type:      t,
		Metadata:  meta,
	}, nil
}

// ReadLines parses every record in r. Blank lines are skipped; the first
// malformed line aborts the read with its line number.
func ReadLines(r io.Reader) ([]Event, error) {
	var events []Event
	br := bufio.NewReader(r)
	lineNo := 0
	for {
		line, err := br.ReadString('\n')
		if len(line) > 0 {
			lineNo++
			if strings.TrimSpace(line) != "" {
				e, perr := ParseLine(line)
				if perr != nil {
					return events, fmt.Errorf("line %d: %w", lineNo, perr)
				}
				events = append(events, e)
			}
		}
		if err == io.EOF {
			return events, nil
		}
		if err != nil {
			return events, fmt.Errorf("failed to read records: %w", err)
		}
	}
}
