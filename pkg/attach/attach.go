// Package attach turns local image files into data URLs for chat turns and
// profile avatars.
package attach

import (
	"fmt"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/vango-go/shikkha/pkg/core"
	"github.com/vango-go/shikkha/pkg/core/audio"
)

// MaxBytes bounds a single attachment.
const MaxBytes = 20 << 20

// LoadFile reads an image and returns it as a base64 data URL.
func LoadFile(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", core.NewInvalidRequestErrorWithParam(fmt.Sprintf("read attachment: %v", err), "path")
	}
	if info.IsDir() {
		return "", core.NewInvalidRequestErrorWithParam(fmt.Sprintf("%s is a directory", path), "path")
	}
	if info.Size() > MaxBytes {
		return "", core.NewInvalidRequestErrorWithParam(fmt.Sprintf("%s is larger than %d bytes", path, MaxBytes), "path")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", core.NewInvalidRequestErrorWithParam(fmt.Sprintf("read attachment: %v", err), "path")
	}
	mimeType := DetectMIME(path, data)
	if !strings.HasPrefix(mimeType, "image/") {
		return "", core.NewInvalidRequestErrorWithParam(fmt.Sprintf("%s is not an image (%s)", path, mimeType), "path")
	}
	return DataURL(mimeType, data), nil
}

// DataURL encodes data as a base64 data URL.
func DataURL(mimeType string, data []byte) string {
	return "data:" + mimeType + ";base64," + audio.EncodeBytes(data)
}

// DetectMIME sniffs the content, falling back to the file extension.
func DetectMIME(path string, data []byte) string {
	sniffed := http.DetectContentType(data)
	if sniffed != "application/octet-stream" && !strings.HasPrefix(sniffed, "text/plain") {
		if i := strings.IndexByte(sniffed, ';'); i >= 0 {
			sniffed = sniffed[:i]
		}
		return sniffed
	}
	if byExt := mime.TypeByExtension(strings.ToLower(filepath.Ext(path))); byExt != "" {
		if i := strings.IndexByte(byExt, ';'); i >= 0 {
			byExt = byExt[:i]
		}
		return byExt
	}
	return sniffed
}
