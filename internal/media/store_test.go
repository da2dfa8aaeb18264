package media

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// pngHeader is enough of a PNG for content sniffing.
var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x02\x00\x00\x00")

func newStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(t.TempDir(), "/media/")
	require.NoError(t, err)
	return s
}

func TestSave_Image(t *testing.T) {
	s := newStore(t)
	got, err := s.Save(KindImage, bytes.NewReader(pngHeader))
	require.NoError(t, err)
	assert.Equal(t, "image/png", got.MIME)
	assert.True(t, strings.HasPrefix(got.URL, "/media/"))
	assert.True(t, strings.HasSuffix(got.URL, ".png"))
	assert.EqualValues(t, len(pngHeader), got.Size)

	data, err := os.ReadFile(filepath.Join(s.Dir, got.Filename))
	require.NoError(t, err)
	assert.Equal(t, pngHeader, data)
}

func TestSave_RejectsWrongKind(t *testing.T) {
	s := newStore(t)
	_, err := s.Save(KindVideo, bytes.NewReader(pngHeader))
	assert.ErrorIs(t, err, ErrUnsupportedType)

	_, err = s.Save(KindImage, strings.NewReader("just some text"))
	assert.ErrorIs(t, err, ErrUnsupportedType)

	entries, _ := os.ReadDir(s.Dir)
	assert.Empty(t, entries)
}

func TestSave_TooLarge(t *testing.T) {
	s := newStore(t)
	old := Limits[KindImage]
	Limits[KindImage] = 64
	t.Cleanup(func() { Limits[KindImage] = old })

	big := append(append([]byte{}, pngHeader...), make([]byte, 100)...)
	_, err := s.Save(KindImage, bytes.NewReader(big))
	assert.ErrorIs(t, err, ErrTooLarge)
	entries, _ := os.ReadDir(s.Dir)
	assert.Empty(t, entries)
}

func TestParseKind(t *testing.T) {
	k, err := ParseKind(" Audio ")
	require.NoError(t, err)
	assert.Equal(t, KindAudio, k)
	_, err = ParseKind("pdf")
	assert.ErrorIs(t, err, ErrUnknownKind)
}
