package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const sourceExt = ".jpeg"

// VolumeSourceResolver finds stored source faces on a mounted directory tree
// laid out as <root>[/<user_id>]/<source_image_id>.jpeg.
type VolumeSourceResolver struct {
	Root string
}

func (v VolumeSourceResolver) Resolve(ctx context.Context, userID, sourceImageID string) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	default:
	}

	path, err := v.Path(userID, sourceImageID)
	if err != nil {
		return "", err
	}

	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("%w: %s", ErrSourceNotFound, path)
		}
		return "", fmt.Errorf("stat source %s: %w", path, err)
	}
	if !info.Mode().IsRegular() {
		return "", fmt.Errorf("%w: %s is not a regular file", ErrSourceNotFound, path)
	}
	return path, nil
}

// Path builds the on-volume location without touching the filesystem.
func (v VolumeSourceResolver) Path(userID, sourceImageID string) (string, error) {
	if strings.TrimSpace(v.Root) == "" {
		return "", errors.New("sources root is required")
	}
	if err := checkPathToken("source_image_id", sourceImageID); err != nil {
		return "", err
	}

	dir := v.Root
	if userID != "" {
		if err := checkPathToken("user_id", userID); err != nil {
			return "", err
		}
		dir = filepath.Join(dir, userID)
	}

	path, err := filepath.Abs(filepath.Join(dir, sourceImageID+sourceExt))
	if err != nil {
		return "", fmt.Errorf("resolve source path: %w", err)
	}
	return path, nil
}

func checkPathToken(field, value string) error {
	switch {
	case strings.TrimSpace(value) == "":
		return fmt.Errorf("%w: %s is empty", ErrInvalidID, field)
	case value == "." || value == "..":
		return fmt.Errorf("%w: %s %q", ErrInvalidID, field, value)
	case strings.ContainsAny(value, `/\`+"\x00"):
		return fmt.Errorf("%w: %s %q contains a path separator", ErrInvalidID, field, value)
	}
	return nil
}
