// Package media stores user uploads on local disk after sniffing their
// content type.
package media

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
)

type Kind string

const (
	KindImage Kind = "image"
	KindAudio Kind = "audio"
	KindVideo Kind = "video"
)

var (
	ErrUnknownKind     = errors.New("kind must be image, audio or video")
	ErrTooLarge        = errors.New("file exceeds the size limit")
	ErrUnsupportedType = errors.New("file type not allowed")
)

// Limits caps upload size per kind, in bytes.
var Limits = map[Kind]int64{
	KindImage: 10 << 20,
	KindAudio: 20 << 20,
	KindVideo: 100 << 20,
}

var allowed = map[Kind][]string{
	KindImage: {"image/jpeg", "image/png", "image/gif", "image/webp", "image/heic", "image/heif"},
	KindAudio: {"audio/mpeg", "audio/mp4", "audio/x-m4a", "audio/aac", "audio/wav", "audio/ogg", "audio/flac"},
	KindVideo: {"video/mp4", "video/quicktime", "video/webm", "video/3gpp"},
}

// sniffLen is how much of the head mimetype inspects.
const sniffLen = 3072

// Stored describes a saved upload.
type Stored struct {
	URL      string `json:"url"`
	Kind     Kind   `json:"kind"`
	MIME     string `json:"mime"`
	Size     int64  `json:"size"`
	Filename string `json:"-"`
}

// Store writes uploads below Dir and serves them from BaseURL.
type Store struct {
	Dir     string
	BaseURL string
}

func NewStore(dir, baseURL string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("media dir: %w", err)
	}
	return &Store{Dir: dir, BaseURL: strings.TrimRight(baseURL, "/")}, nil
}

// ParseKind validates the kind form field.
func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := Limits[k]; !ok {
		return "", ErrUnknownKind
	}
	return k, nil
}

// Save sniffs r, checks it against kind and writes it under a random
// name. Nothing is left on disk when validation fails.
func (s *Store) Save(kind Kind, r io.Reader) (Stored, error) {
	limit, ok := Limits[kind]
	if !ok {
		return Stored{}, ErrUnknownKind
	}
	head := make([]byte, sniffLen)
	n, err := io.ReadFull(r, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return Stored{}, err
	}
	head = head[:n]
	mt := mimetype.Detect(head)
	if !matches(mt, allowed[kind]) {
		return Stored{}, fmt.Errorf("%w: %s", ErrUnsupportedType, mt.String())
	}

	name := uuid.NewString() + mt.Extension()
	path := filepath.Join(s.Dir, name)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return Stored{}, err
	}
	written, err := io.Copy(f, io.LimitReader(io.MultiReader(bytes.NewReader(head), r), limit+1))
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err == nil && written > limit {
		err = ErrTooLarge
	}
	if err != nil {
		_ = os.Remove(path)
		return Stored{}, err
	}
	return Stored{URL: s.BaseURL + "/" + name, Kind: kind, MIME: mt.String(), Size: written, Filename: name}, nil
}

func matches(mt *mimetype.MIME, types []string) bool {
	for _, t := range types {
		if mt.Is(t) {
			return true
		}
	}
	return false
}
