package mailfile_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dhcgn/pgpmime-decrypt/mailfile"
)

const body = "From: alice@example.com\nSubject: hi\n\nhello\n"

func TestReadPeelsEnvelopeLine(t *testing.T) {
	input := "From x@y 1 1 00:00:00 1970\n" + body

	msg, err := mailfile.Read(strings.NewReader(input))
	require.NoError(t, err)
	assert.Equal(t, "From x@y 1 1 00:00:00 1970", msg.Envelope)
	assert.Equal(t, body, string(msg.Raw))
}

func TestReadWithoutEnvelopeLine(t *testing.T) {
	// The message starts with a "From:" header, not an mbox "From " line.
	msg, err := mailfile.Read(strings.NewReader(body))
	require.NoError(t, err)
	assert.Empty(t, msg.Envelope)
	assert.Equal(t, body, string(msg.Raw))
}

func TestRenderRoundTrip(t *testing.T) {
	input := "From x@y 1 1 00:00:00 1970\r\n" + body

	msg, err := mailfile.Read(strings.NewReader(input))
	require.NoError(t, err)
	assert.Equal(t, "From x@y 1 1 00:00:00 1970", msg.Envelope, "CR before the newline is not part of the line")

	out := mailfile.Render(msg.Envelope, msg.Raw)
	assert.Equal(t, "From x@y 1 1 00:00:00 1970\n"+body, string(out))

	assert.Equal(t, body, string(mailfile.Render("", []byte(body))), "no envelope, no extra line")
}

func TestWriteAtomicReplacesContent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "mail.eml")
	require.NoError(t, os.WriteFile(path, []byte("old"), 0o600))

	require.NoError(t, mailfile.WriteAtomic(path, []byte("new")))

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "new", string(got))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files left behind")
}

func TestWriteAtomicMissingTarget(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing.eml")
	err := mailfile.WriteAtomic(path, []byte("new"))
	assert.Error(t, err)
}
