package client

import (
	"bufio"
	"io"
	"strings"
)

// frame is one dispatched server-sent event.
type frame struct {
	ID    string
	Event string
	Data  string
}

// readFrames parses an event stream and calls fn for every frame that
// carries data. Comment lines and unknown fields are ignored. It returns
// the error that ended the stream, io.EOF for a clean close.
func readFrames(r io.Reader, fn func(frame)) error {
	br := bufio.NewReader(r)
	var (
		cur  frame
		data []string
	)
	for {
		line, err := br.ReadString('\n')
		if err != nil {
			// an unterminated trailing frame is discarded
			return err
		}
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			if len(data) > 0 {
				cur.Data = strings.Join(data, "\n")
				fn(cur)
			}
			cur, data = frame{}, data[:0]
			continue
		}
		if strings.HasPrefix(line, ":") {
			continue
		}
		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		switch field {
		case "data":
			data = append(data, value)
		case "id":
			cur.ID = value
		case "event":
			cur.Event = value
		}
	}
}
