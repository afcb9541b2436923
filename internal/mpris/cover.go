//go:build linux

package mpris

import (
	"image"
	"image/png"
	"os"
	"path/filepath"

	"github.com/adrg/xdg"
)

// writeCoverCache stores the artwork of the current item under the user
// cache dir so MPRIS clients can load it by file URL. Returns the path.
func writeCoverCache(itemID string, img image.Image) (string, error) {
	path, err := xdg.CacheFile(filepath.Join("shelf", "cover-"+itemID+".png"))
	if err != nil {
		return "", err
	}

	if _, err := os.Stat(path); err == nil {
		// Already cached for this item
		return path, nil
	}

	f, err := os.Create(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	if err := png.Encode(f, img); err != nil {
		os.Remove(path)
		return "", err
	}
	return path, nil
}
