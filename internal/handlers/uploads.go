package handlers

import (
	"errors"
	"fmt"
	"mime"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strconv"

	"github.com/labstack/echo/v4"
	eMiddleware "github.com/labstack/echo/v4/middleware"

	"github.com/anonto42/chyrp-lite/backend/internal/services"
)

// formOverheadBytes is room for the non-file parts of an upload form.
const formOverheadBytes = 1 << 20

// uploadBodyLimit rejects upload requests larger than maxFiles files of
// maxBytes each before the multipart form is parsed.
func uploadBodyLimit(maxBytes int64, maxFiles int) echo.MiddlewareFunc {
	if maxBytes <= 0 {
		return func(next echo.HandlerFunc) echo.HandlerFunc { return next }
	}
	if maxFiles <= 0 {
		maxFiles = 1
	}
	return eMiddleware.BodyLimit(strconv.FormatInt(maxBytes*int64(maxFiles)+formOverheadBytes, 10))
}

// multipartError keeps the 413 raised by the body limit while the form is
// read and reports anything else as a 400 with message.
func multipartError(err error, message string) error {
	var he *echo.HTTPError
	if errors.As(err, &he) && he.Code == http.StatusRequestEntityTooLarge {
		return he
	}
	return echo.NewHTTPError(http.StatusBadRequest, message)
}

// openUpload opens a multipart file for upload. The returned func closes it.
func openUpload(fh *multipart.FileHeader, maxBytes int64) (services.Upload, func(), error) {
	if maxBytes > 0 && fh.Size > maxBytes {
		return services.Upload{}, nil, echo.NewHTTPError(http.StatusRequestEntityTooLarge,
			fmt.Sprintf("%s is larger than the %d byte limit", fh.Filename, maxBytes))
	}
	f, err := fh.Open()
	if err != nil {
		return services.Upload{}, nil, echo.NewHTTPError(http.StatusBadRequest, "Unable to read uploaded file")
	}
	contentType := fh.Header.Get(echo.HeaderContentType)
	if contentType == "" || contentType == echo.MIMEOctetStream {
		if byExt := mime.TypeByExtension(filepath.Ext(fh.Filename)); byExt != "" {
			contentType = byExt
		}
	}
	return services.Upload{Filename: fh.Filename, ContentType: contentType, Body: f}, func() { _ = f.Close() }, nil
}

// openUploads opens every file in headers. On error the files already opened
// are closed.
func openUploads(headers []*multipart.FileHeader, maxBytes int64, maxFiles int) ([]services.Upload, func(), error) {
	if maxFiles > 0 && len(headers) > maxFiles {
		return nil, nil, echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("At most %d files can be uploaded at once", maxFiles))
	}
	var (
		uploads []services.Upload
		closers []func()
	)
	closeAll := func() {
		for _, fn := range closers {
			fn()
		}
	}
	for _, fh := range headers {
		upload, closeFile, err := openUpload(fh, maxBytes)
		if err != nil {
			closeAll()
			return nil, nil, err
		}
		uploads = append(uploads, upload)
		closers = append(closers, closeFile)
	}
	return uploads, closeAll, nil
}
