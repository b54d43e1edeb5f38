package processor

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	apperrors "github.com/adverant/nexus/vision-read-worker/internal/errors"
)

// Formats accepted by the Read API.
var supportedMimeTypes = map[string]bool{
	"image/jpeg":      true,
	"image/png":       true,
	"image/bmp":       true,
	"image/tiff":      true,
	"image/gif":       true,
	"image/webp":      true,
	"application/pdf": true,
}

// PreflightLimits bounds what is sent to the recognizer.
type PreflightLimits struct {
	MaxFileSize  int64
	MinDimension int
	MaxDimension int
}

// ImageInfo describes a file that passed preflight. Width and Height are 0 for PDFs.
type ImageInfo struct {
	MimeType string
	Size     int
	Width    int
	Height   int
}

// Preflight checks format, size and image dimensions before anything is
// uploaded. declaredMime is used only when the magic bytes are not recognized.
func Preflight(jobID string, data []byte, declaredMime string, limits PreflightLimits) (*ImageInfo, error) {
	if len(data) == 0 {
		return nil, apperrors.NewUnsupportedFormatError(jobID, declaredMime, "empty file")
	}
	if limits.MaxFileSize > 0 && int64(len(data)) > limits.MaxFileSize {
		return nil, apperrors.NewUnsupportedFormatError(jobID, declaredMime,
			fmt.Sprintf("file size %d exceeds maximum %d bytes", len(data), limits.MaxFileSize))
	}

	mimeType := detectMimeTypeFromMagicBytes(data)
	if mimeType == "" {
		mimeType = declaredMime
	}
	if !supportedMimeTypes[mimeType] {
		return nil, apperrors.NewUnsupportedFormatError(jobID, mimeType, "format not supported by the recognizer")
	}

	info := &ImageInfo{MimeType: mimeType, Size: len(data)}
	if mimeType == "application/pdf" {
		return info, nil
	}

	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, apperrors.NewUnsupportedFormatError(jobID, mimeType, "unreadable image header")
	}
	info.Width, info.Height = cfg.Width, cfg.Height

	if limits.MinDimension > 0 && (cfg.Width < limits.MinDimension || cfg.Height < limits.MinDimension) {
		return nil, apperrors.NewUnsupportedFormatError(jobID, mimeType,
			fmt.Sprintf("image %dx%d smaller than %dx%d", cfg.Width, cfg.Height, limits.MinDimension, limits.MinDimension))
	}
	if limits.MaxDimension > 0 && (cfg.Width > limits.MaxDimension || cfg.Height > limits.MaxDimension) {
		return nil, apperrors.NewUnsupportedFormatError(jobID, mimeType,
			fmt.Sprintf("image %dx%d larger than %dx%d", cfg.Width, cfg.Height, limits.MaxDimension, limits.MaxDimension))
	}

	return info, nil
}

// detectMimeTypeFromMagicBytes detects file type from magic bytes
func detectMimeTypeFromMagicBytes(data []byte) string {
	if len(data) < 4 {
		return ""
	}

	// PDF: %PDF-
	if bytes.HasPrefix(data, []byte("%PDF")) {
		return "application/pdf"
	}

	// PNG: 0x89 'P' 'N' 'G' 0x0D 0x0A 0x1A 0x0A
	if len(data) >= 8 && bytes.HasPrefix(data, []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}) {
		return "image/png"
	}

	// JPEG: 0xFF 0xD8 0xFF
	if bytes.HasPrefix(data, []byte{0xFF, 0xD8, 0xFF}) {
		return "image/jpeg"
	}

	// GIF: 'G' 'I' 'F' '8' ('7' or '9') 'a'
	if bytes.HasPrefix(data, []byte("GIF87a")) || bytes.HasPrefix(data, []byte("GIF89a")) {
		return "image/gif"
	}

	// WebP: 'R' 'I' 'F' 'F' .... 'W' 'E' 'B' 'P'
	if len(data) > 12 && bytes.HasPrefix(data, []byte("RIFF")) && string(data[8:12]) == "WEBP" {
		return "image/webp"
	}

	// TIFF: little-endian or big-endian
	if bytes.HasPrefix(data, []byte{0x49, 0x49, 0x2A, 0x00}) || bytes.HasPrefix(data, []byte{0x4D, 0x4D, 0x00, 0x2A}) {
		return "image/tiff"
	}

	// BMP: 'B' 'M'
	if bytes.HasPrefix(data, []byte("BM")) {
		return "image/bmp"
	}

	// ZIP and Office containers are never images
	if bytes.HasPrefix(data, []byte{0x50, 0x4B, 0x03, 0x04}) {
		return "application/zip"
	}

	return ""
}
