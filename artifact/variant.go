package artifact

import (
	"errors"
	"fmt"
)

// Variant selects which rendering of a finished job to download.
type Variant string

const (
	VariantVideo       Variant = "video"
	VariantThumbnail   Variant = "thumbnail"
	VariantSpritesheet Variant = "spritesheet"
)

var ErrUnknownVariant = errors.New("unknown variant")

// ParseVariant accepts the wire names. An empty string means the video.
func ParseVariant(s string) (Variant, error) {
	switch Variant(s) {
	case "", VariantVideo:
		return VariantVideo, nil
	case VariantThumbnail, VariantSpritesheet:
		return Variant(s), nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownVariant, s)
}

// ContentType is fixed per variant regardless of what the provider sends.
func (v Variant) ContentType() string {
	switch v {
	case VariantThumbnail:
		return "image/webp"
	case VariantSpritesheet:
		return "image/jpeg"
	}
	return "video/mp4"
}

func (v Variant) Ext() string {
	switch v {
	case VariantThumbnail:
		return "webp"
	case VariantSpritesheet:
		return "jpg"
	}
	return "mp4"
}
