// Package pgpmime turns a PGP/MIME encrypted message (RFC 3156) into a
// multipart/mixed message carrying the decrypted content.
package pgpmime

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/emersion/go-message"
	"github.com/emersion/go-message/textproto"
)

// Version is the tool version recorded in the processed-by header.
const Version = "1.1.0"

const (
	controlMediaType = "application/pgp-encrypted"
	contentMediaType = "application/octet-stream"
)

var (
	ErrNotPGPMIME  = errors.New("not a PGP/MIME encrypted message")
	ErrPartCount   = errors.New("wrong number of parts")
	ErrControlPart = errors.New("malformed control part")
	ErrVersion     = errors.New("unsupported version")
	ErrContentPart = errors.New("malformed content part")
)

// BackendError wraps a failure reported by the decryption backend, so callers
// can tell "decryption failed" apart from "bad input".
type BackendError struct {
	Err error
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("decryption backend: %v", e.Err)
}

func (e *BackendError) Unwrap() error {
	return e.Err
}

// IsStructural reports whether err is one of the PGP/MIME structure
// validation failures.
func IsStructural(err error) bool {
	for _, target := range []error{ErrNotPGPMIME, ErrPartCount, ErrControlPart, ErrVersion, ErrContentPart} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// Decryptor is the capability needed to decrypt the ciphertext part. It is
// passed in explicitly so tests can substitute a stub.
type Decryptor interface {
	Decrypt(ciphertext []byte) ([]byte, error)
}

// Options control how Decrypt rewrites the message.
type Options struct {
	// KeepOriginal attaches the original encrypted message as a
	// message/rfc822 part after the decrypted content.
	KeepOriginal bool
	// OriginalBytes overrides the bytes stored in the original-message
	// attachment; nil means the raw input as passed to Decrypt. Callers set
	// it to capture the mbox envelope line, which is not part of the
	// parseable message.
	OriginalBytes []byte
	// Now overrides the timestamp source for the processed-by header.
	// Nil means time.Now.
	Now func() time.Time
}

type part struct {
	header message.Header
	body   []byte
}

type validated struct {
	source     *message.Entity
	ciphertext []byte
}

// Validate checks raw against the PGP/MIME encrypted-message shape without
// decrypting anything. It returns nil when Decrypt would get past its
// structural preconditions.
func Validate(raw []byte) error {
	_, err := validate(raw)
	return err
}

// Decrypt parses raw as a MIME message, validates the PGP/MIME structure,
// decrypts the ciphertext part through dec and returns a new multipart/mixed
// entity whose first child is the decrypted message. The input is never
// modified; on any error the caller's message stays as it was.
func Decrypt(raw []byte, dec Decryptor, opts Options) (*message.Entity, error) {
	v, err := validate(raw)
	if err != nil {
		return nil, err
	}

	plaintext, err := dec.Decrypt(v.ciphertext)
	if err != nil {
		return nil, &BackendError{Err: err}
	}

	inner, err := message.Read(bytes.NewReader(plaintext))
	if err != nil && !message.IsUnknownCharset(err) {
		return nil, fmt.Errorf("parse decrypted message: %w", err)
	}

	now := time.Now
	if opts.Now != nil {
		now = opts.Now
	}

	// The copied header keeps From/To/Subject and friends. Replacing the
	// content type drops the old protocol and boundary parameters; a fresh
	// boundary is generated at serialization time.
	header := message.Header{Header: v.source.Header.Header.Copy()}
	header.SetContentType("multipart/mixed", nil)
	header.Add("X-Pgpmime-Decrypt",
		fmt.Sprintf("pgpmime-decrypt %s, %s", Version, now().Format("2006-01-02T15:04:05-07:00")))

	children := []*message.Entity{inner}
	if opts.KeepOriginal {
		originalBytes := opts.OriginalBytes
		if originalBytes == nil {
			originalBytes = raw
		}
		var ah message.Header
		ah.SetContentType("message/rfc822", nil)
		ah.SetContentDisposition("attachment", map[string]string{"filename": "original"})
		original, err := message.New(ah, bytes.NewReader(originalBytes))
		if err != nil {
			return nil, fmt.Errorf("build original attachment: %w", err)
		}
		children = append(children, original)
	}

	out, err := message.NewMultipart(header, children)
	if err != nil {
		return nil, fmt.Errorf("assemble decrypted message: %w", err)
	}
	return out, nil
}

func validate(raw []byte) (*validated, error) {
	ent, err := message.Read(bytes.NewReader(raw))
	if err != nil && !message.IsUnknownCharset(err) {
		return nil, fmt.Errorf("parse message: %w", err)
	}

	mediaType, params, err := ent.Header.ContentType()
	if err != nil {
		return nil, fmt.Errorf("%w: bad Content-Type header: %v", ErrNotPGPMIME, err)
	}
	if mediaType != "multipart/encrypted" {
		return nil, fmt.Errorf("%w: content type is %q", ErrNotPGPMIME, mediaType)
	}
	if p := params["protocol"]; p != controlMediaType {
		return nil, fmt.Errorf("%w: protocol parameter is %q", ErrNotPGPMIME, p)
	}

	parts, err := readParts(ent)
	if err != nil {
		return nil, err
	}
	if len(parts) != 2 {
		return nil, fmt.Errorf("%w: found %d", ErrPartCount, len(parts))
	}

	if t := partMediaType(parts[0].header); t != controlMediaType {
		return nil, fmt.Errorf("%w: first part is %q, want %s", ErrControlPart, t, controlMediaType)
	}

	// The control part body is a small header block of its own.
	controlHeader, _ := textproto.ReadHeader(bufio.NewReader(bytes.NewReader(parts[0].body)))
	if v := strings.TrimSpace(controlHeader.Get("Version")); v != "1" {
		return nil, fmt.Errorf("%w: Version header is %q, want \"1\"", ErrVersion, v)
	}

	if t := partMediaType(parts[1].header); t != contentMediaType {
		return nil, fmt.Errorf("%w: second part is %q, want %s", ErrContentPart, t, contentMediaType)
	}

	return &validated{source: ent, ciphertext: parts[1].body}, nil
}

// readParts drains the multipart body. Part bodies have their
// content-transfer-encoding undone by the reader, so the second part comes
// back as raw ciphertext bytes.
func readParts(ent *message.Entity) ([]part, error) {
	mr := ent.MultipartReader()
	if mr == nil {
		return nil, nil
	}

	var parts []part
	for {
		p, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			return parts, nil
		}
		if err != nil {
			return nil, fmt.Errorf("read part %d: %w", len(parts)+1, err)
		}
		body, err := io.ReadAll(p.Body)
		if err != nil {
			return nil, fmt.Errorf("read part %d body: %w", len(parts)+1, err)
		}
		parts = append(parts, part{header: p.Header, body: body})
	}
}

func partMediaType(h message.Header) string {
	t, _, err := h.ContentType()
	if err != nil {
		return strings.TrimSpace(h.Get("Content-Type"))
	}
	return t
}
