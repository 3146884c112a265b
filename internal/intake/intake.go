// Package intake turns an uploaded file into individual sample payloads.
// A signature file is one sample; a zip archive yields one sample per
// eligible entry.
package intake

import (
	"archive/zip"
	"bytes"
	"errors"
	"fmt"
	"io"
	"path"
	"path/filepath"
	"strings"
)

var ErrUnsupportedFormat = errors.New("upload holds no eligible sample entries")

// Entry is one raw sample extracted from an upload.
type Entry struct {
	Name    string
	Content []byte
}

var sampleExtensions = map[string]struct{}{
	".sig": {},
}

// Extract expands an upload into sample entries. Zip members that are
// directories, hidden files or non-signature files are skipped.
func Extract(filename string, content []byte) ([]Entry, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	if _, ok := sampleExtensions[ext]; ok {
		return []Entry{{Name: filepath.Base(filename), Content: content}}, nil
	}
	if ext == ".zip" {
		return extractArchive(filename, content)
	}
	return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, filename)
}

func extractArchive(filename string, content []byte) ([]Entry, error) {
	reader, err := zip.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return nil, fmt.Errorf("open archive %s: %w", filename, err)
	}

	entries := make([]Entry, 0, len(reader.File))
	for _, member := range reader.File {
		if member.FileInfo().IsDir() || !eligible(member.Name) {
			continue
		}
		data, err := readMember(member)
		if err != nil {
			return nil, fmt.Errorf("archive %s: %w", filename, err)
		}
		entries = append(entries, Entry{Name: path.Base(member.Name), Content: data})
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, filename)
	}
	return entries, nil
}

func eligible(name string) bool {
	base := path.Base(name)
	if strings.HasPrefix(base, ".") || strings.HasPrefix(name, "__MACOSX/") {
		return false
	}
	_, ok := sampleExtensions[strings.ToLower(path.Ext(base))]
	return ok
}

func readMember(member *zip.File) ([]byte, error) {
	rc, err := member.Open()
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", member.Name, err)
	}
	defer func() { _ = rc.Close() }()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", member.Name, err)
	}
	return data, nil
}
