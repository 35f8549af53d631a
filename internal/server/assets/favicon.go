// Package assets fetches static resources the server advertises.
package assets

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	_ "image/png" // registers the PNG decoder
	"os"
	"path/filepath"

	get "github.com/hashicorp/go-getter"
)

// FaviconSize is the required width and height of a server icon.
const FaviconSize = 64

const maxFaviconBytes = 1 << 20

// ErrBadFavicon is returned for icons that are not 64x64 PNG images.
var ErrBadFavicon = errors.New("favicon must be a 64x64 PNG")

// LoadFavicon downloads src into cacheDir and returns it as a data URI for
// the status response. src is any go-getter source: a local path, an
// http(s) URL, an s3:: or git:: address. An empty src yields "".
func LoadFavicon(ctx context.Context, src, cacheDir string) (string, error) {
	if src == "" {
		return "", nil
	}
	if err := os.MkdirAll(cacheDir, 0o755); err != nil {
		return "", fmt.Errorf("create asset cache: %w", err)
	}
	pwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("get working directory: %w", err)
	}

	dst := filepath.Join(cacheDir, "favicon.png")
	if err := os.RemoveAll(dst); err != nil {
		return "", fmt.Errorf("clear cached favicon: %w", err)
	}
	client := &get.Client{
		Ctx:  ctx,
		Src:  src,
		Dst:  dst,
		Pwd:  pwd,
		Mode: get.ClientModeFile,
	}
	if err := client.Get(); err != nil {
		return "", fmt.Errorf("fetch favicon %s: %w", src, err)
	}

	data, err := os.ReadFile(dst)
	if err != nil {
		return "", fmt.Errorf("read favicon: %w", err)
	}
	return EncodeFavicon(data)
}

// EncodeFavicon validates a PNG icon and returns its data URI.
func EncodeFavicon(data []byte) (string, error) {
	if len(data) > maxFaviconBytes {
		return "", fmt.Errorf("%w: %d bytes", ErrBadFavicon, len(data))
	}
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrBadFavicon, err)
	}
	if format != "png" {
		return "", fmt.Errorf("%w: got %s", ErrBadFavicon, format)
	}
	if cfg.Width != FaviconSize || cfg.Height != FaviconSize {
		return "", fmt.Errorf("%w: got %dx%d", ErrBadFavicon, cfg.Width, cfg.Height)
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(data), nil
}
