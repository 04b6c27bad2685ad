// Package wire holds the chat message and its line-delimited JSON codec.
package wire

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// ErrEmptyLine is returned by Decode for blank input.
var ErrEmptyLine = errors.New("wire: empty line")

// Message is one chat record as it travels between node and relay.
type Message struct {
	Content string `json:"content"`
	NodeID  string `json:"node_id"`
	Time    uint64 `json:"time"`
}

// Encode returns the JSON form of m without a line terminator.
func Encode(m Message) ([]byte, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("wire: encode: %w", err)
	}
	return b, nil
}

// Decode parses one line into a Message.
func Decode(line []byte) (Message, error) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return Message{}, ErrEmptyLine
	}
	var m Message
	if err := json.Unmarshal(line, &m); err != nil {
		return Message{}, fmt.Errorf("wire: bad json: %w", err)
	}
	return m, nil
}

// Valid reports whether line is a non-empty JSON value. The relay forwards
// such lines verbatim without decoding them into a Message.
func Valid(line []byte) bool {
	line = bytes.TrimSpace(line)
	return len(line) > 0 && json.Valid(line)
}

// WriteLine writes line plus '\n' and flushes when w supports it.
func WriteLine(w io.Writer, line []byte) error {
	buf := make([]byte, 0, len(line)+1)
	buf = append(buf, line...)
	buf = append(buf, '\n')
	if _, err := w.Write(buf); err != nil {
		return err
	}
	if f, ok := w.(interface{ Flush() error }); ok {
		return f.Flush()
	}
	return nil
}

// WriteMessage encodes m and writes it as a single line.
func WriteMessage(w io.Writer, m Message) error {
	b, err := Encode(m)
	if err != nil {
		return err
	}
	return WriteLine(w, b)
}

// LineReader reads newline-delimited records of any length.
type LineReader struct {
	rd *bufio.Reader
}

func NewLineReader(r io.Reader) *LineReader {
	return &LineReader{rd: bufio.NewReader(r)}
}

// Next returns the next line without its terminator. A final line with no
// terminator is returned before io.EOF.
func (lr *LineReader) Next() ([]byte, error) {
	line, err := lr.rd.ReadBytes('\n')
	if err != nil && (len(line) == 0 || !errors.Is(err, io.EOF)) {
		return nil, err
	}
	line = bytes.TrimSuffix(line, []byte{'\n'})
	return bytes.TrimSuffix(line, []byte{'\r'}), nil
}
