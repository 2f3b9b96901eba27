// Package storage writes post attachments and avatars to blob storage.
package storage

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"path"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

// UploadMode selects how an object is written.
type UploadMode string

const (
	// Sequential writes the object in a single request.
	Sequential UploadMode = "sequential"
	// Resumable writes the object in chunks and reports progress.
	Resumable UploadMode = "resumable"
)

// UploadOptions configures a single upload.
type UploadOptions struct {
	ContentType string
	Mode        UploadMode
	// Progress, when set, is called with the number of bytes written so far.
	Progress func(written int64)
}

// Object describes a stored blob.
type Object struct {
	Path        string `json:"path"`
	URL         string `json:"url"`
	ContentType string `json:"contentType"`
	Size        int64  `json:"size"`
}

// BlobStore stores binary objects by path. Delete of a missing object succeeds.
type BlobStore interface {
	Upload(ctx context.Context, objectPath string, r io.Reader, opts UploadOptions) (*Object, error)
	Delete(ctx context.Context, objectPath string) error
}

var unsafeName = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// ObjectPath builds a unique object path under prefix/owner for filename.
func ObjectPath(prefix, owner, filename string) string {
	name := unsafeName.ReplaceAllString(path.Base(filename), "_")
	name = strings.Trim(name, "._")
	if name == "" {
		name = "file"
	}
	return fmt.Sprintf("%s/%s/%d_%s_%s", prefix, owner, time.Now().UnixMilli(), uuid.NewString()[:8], name)
}

// DownloadURL is the public Firebase download URL of an object carrying the
// given download token.
func DownloadURL(bucket, objectPath, token string) string {
	return fmt.Sprintf("https://firebasestorage.googleapis.com/v0/b/%s/o/%s?alt=media&token=%s",
		bucket, url.PathEscape(objectPath), url.QueryEscape(token))
}
