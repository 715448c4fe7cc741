// Package mailfile reads and writes single mail messages, keeping track of
// the optional mbox-style "From " envelope line and supporting atomic
// in-place rewrites.
package mailfile

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Message is one raw mail message. Envelope holds the leading "From " line
// without its trailing newline, or "" when the input had none. Raw holds the
// message bytes after the envelope line.
type Message struct {
	Envelope string
	Raw      []byte
}

func Read(r io.Reader) (*Message, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read message: %w", err)
	}

	msg := &Message{Raw: data}
	if bytes.HasPrefix(data, []byte("From ")) {
		if i := bytes.IndexByte(data, '\n'); i >= 0 {
			msg.Envelope = strings.TrimRight(string(data[:i]), "\r")
			msg.Raw = data[i+1:]
		}
	}
	return msg, nil
}

func ReadFile(path string) (*Message, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Read(f)
}

// Render prepends the envelope line, when present, to a serialized message.
func Render(envelope string, body []byte) []byte {
	if envelope == "" {
		return body
	}
	out := make([]byte, 0, len(envelope)+1+len(body))
	out = append(out, envelope...)
	out = append(out, '\n')
	return append(out, body...)
}

// WriteAtomic replaces the file at path with data by writing a temp file in
// the same directory and renaming it over the original. The original file is
// untouched unless the whole write succeeds; its permissions carry over.
func WriteAtomic(path string, data []byte) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".pgpmime-decrypt-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Chmod(info.Mode()); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("replace %s: %w", path, err)
	}
	return nil
}
