package storage

import (
	"path/filepath"
	"strings"

	"github.com/h2non/filetype"
)

const defaultContentType = "application/octet-stream"

var contentTypes = map[string]string{
	".html": "text/html",
	".txt":  "text/txt",
	".css":  "text/css",
	".png":  "image/png",
	".jpg":  "image/jpg",
	".json": "application/json",
	".js":   "application/x-javascript",
}

// ContentType infers the upload content type from a file name's extension.
func ContentType(fileName string) string {
	ext := strings.ToLower(filepath.Ext(fileName))
	if ext == "" {
		return defaultContentType
	}
	if ct, ok := contentTypes[ext]; ok {
		return ct
	}

	if kind := filetype.GetType(strings.TrimPrefix(ext, ".")); kind != filetype.Unknown && kind.MIME.Value != "" {
		return kind.MIME.Value
	}
	return defaultContentType
}
