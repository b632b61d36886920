// Package storage persists generated images and result snapshots.
package storage

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"time"
)

// Store writes generation artifacts to a backing medium and returns
// publicly addressable URLs for the saved objects.
type Store interface {
	// SaveImage decodes base64 image data (with or without a data URL
	// prefix) and writes it under the given file name.
	SaveImage(ctx context.Context, name string, data string) (string, error)

	// SaveSnapshot marshals v as indented JSON and writes it under the
	// given file name.
	SaveSnapshot(ctx context.Context, name string, v any) (string, error)

	// DeleteByPrefix removes every object whose name starts with prefix.
	DeleteByPrefix(ctx context.Context, prefix string) error
}

// NewRunName returns the base snapshot name for a generation run.
func NewRunName() string {
	return fmt.Sprintf("result_%d", time.Now().UnixMilli())
}

// PartialName returns the snapshot name for the nth partial save of a run.
func PartialName(base string, n int) string {
	return fmt.Sprintf("%s_partial_%d.json", base, n)
}

// FinalName returns the snapshot name for the final save of a run.
func FinalName(base string) string {
	return base + ".json"
}

// PartialPrefix returns the object-name prefix shared by all partial
// snapshots of a run, used to clean them up after the final save.
func PartialPrefix(base string) string {
	return base + "_partial_"
}

// ImageName returns the file name for a scene's generated image.
func ImageName(sceneID string) string {
	return fmt.Sprintf("%s_%d.png", sceneID, time.Now().UnixMilli())
}

// DecodeImageData strips an optional data URL prefix and decodes the
// remaining base64 payload.
func DecodeImageData(data string) ([]byte, error) {
	if idx := strings.Index(data, ","); idx >= 0 && strings.HasPrefix(data, "data:") {
		data = data[idx+1:]
	}
	raw, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return nil, fmt.Errorf("decode image data: %w", err)
	}
	return raw, nil
}
