package nowplaying

import (
	"bytes"
	"image"
	_ "image/jpeg" // cover decoders
	_ "image/png"

	"github.com/nfnt/resize"
)

// maxArtworkEdge bounds artwork handed to sinks; in-car displays reject
// oversized images and MPRIS clients only render thumbnails anyway.
const maxArtworkEdge = 600

// decodeArtwork decodes cover bytes and scales them down to at most
// maxArtworkEdge on the longer side. Smaller images pass through unscaled.
func decodeArtwork(data []byte) (image.Image, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}

	bounds := img.Bounds()
	if bounds.Dx() <= maxArtworkEdge && bounds.Dy() <= maxArtworkEdge {
		return img, nil
	}

	if bounds.Dx() >= bounds.Dy() {
		return resize.Resize(maxArtworkEdge, 0, img, resize.Lanczos3), nil
	}
	return resize.Resize(0, maxArtworkEdge, img, resize.Lanczos3), nil
}
