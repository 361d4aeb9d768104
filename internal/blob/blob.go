// Package blob uploads captured media binaries to object storage and turns
// the stored object into a public URL.
package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"github.com/gabriel-vasile/mimetype"

	"fieldline/internal/domain"
	"fieldline/internal/retry"
)

// Object is one binary handed to a driver.
type Object struct {
	Key         string
	Body        io.ReadSeeker
	Size        int64
	ContentType string
}

// Driver stores objects in a bucket. Progress receives cumulative bytes.
type Driver interface {
	Put(ctx context.Context, obj Object, progress func(sent int64)) error
}

// Store maps media items to object keys and public URLs.
type Store struct {
	Driver        Driver
	PublicBaseURL string
	Prefix        string
}

// UploadMedia uploads the spooled file of a media item and returns the
// public URL. Progress is reported as a percentage.
func (s *Store) UploadMedia(ctx context.Context, inspectionID string, item domain.MediaItem, progress func(pct int)) (string, error) {
	if s.Driver == nil {
		return "", retry.MarkTerminal(errors.New("blob driver not configured"))
	}
	f, err := os.Open(item.SourceFile)
	if err != nil {
		// the spool file is gone; retrying cannot bring it back
		return "", retry.MarkTerminal(fmt.Errorf("open media %s: %w", item.ID, err))
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return "", retry.MarkTerminal(fmt.Errorf("stat media %s: %w", item.ID, err))
	}
	contentType := item.ContentType
	if contentType == "" {
		contentType = DetectContentType(item.SourceFile)
	}
	key := s.Key(inspectionID, item)
	size := info.Size()
	obj := Object{Key: key, Body: f, Size: size, ContentType: contentType}
	err = s.Driver.Put(ctx, obj, func(sent int64) {
		if progress == nil || size <= 0 {
			return
		}
		pct := int(sent * 100 / size)
		if pct > 99 {
			// 100 is reserved for a confirmed upload
			pct = 99
		}
		progress(pct)
	})
	if err != nil {
		return "", err
	}
	return s.URL(key), nil
}

// Key is inspections/<inspection>/<media id><ext>.
func (s *Store) Key(inspectionID string, item domain.MediaItem) string {
	ext := strings.ToLower(filepath.Ext(item.SourceFile))
	parts := []string{"inspections", inspectionID, item.ID + ext}
	if s.Prefix != "" {
		parts = append([]string{strings.Trim(s.Prefix, "/")}, parts...)
	}
	return path.Join(parts...)
}

func (s *Store) URL(key string) string {
	base := strings.TrimRight(s.PublicBaseURL, "/")
	segs := strings.Split(key, "/")
	for i, seg := range segs {
		segs[i] = url.PathEscape(seg)
	}
	return base + "/" + strings.Join(segs, "/")
}

// DetectContentType sniffs the file, falling back to octet-stream.
func DetectContentType(p string) string {
	mt, err := mimetype.DetectFile(p)
	if err != nil {
		return "application/octet-stream"
	}
	return mt.String()
}

// ProgressReader counts bytes read from an upload body. Seeking back to the
// start resets the count so signed request retries inside an SDK report
// sensible numbers.
type ProgressReader struct {
	R      io.ReadSeeker
	OnRead func(total int64)

	mu    sync.Mutex
	total int64
}

func (p *ProgressReader) Read(b []byte) (int, error) {
	n, err := p.R.Read(b)
	if n > 0 {
		p.mu.Lock()
		p.total += int64(n)
		total := p.total
		p.mu.Unlock()
		if p.OnRead != nil {
			p.OnRead(total)
		}
	}
	return n, err
}

func (p *ProgressReader) Seek(offset int64, whence int) (int64, error) {
	pos, err := p.R.Seek(offset, whence)
	if err == nil {
		p.mu.Lock()
		p.total = pos
		p.mu.Unlock()
	}
	return pos, err
}
