// Package digest computes and verifies content digest tags attached to stored objects.
//
// A tag is the base64 encoding of the MD5 of the object bytes. It is stored in object
// metadata under MetadataKey and compared against a freshly computed digest on read.
package digest

import (
	"context"
	"crypto/md5" //nolint:gosec // integrity tag, not a security primitive
	"encoding/base64"
	"errors"
	"io"
	"io/fs"
	"os"
	"strings"

	"github.com/nimburion/backupstore/pkg/storeerr"
)

// MetadataKey is the metadata entry holding the digest tag.
const MetadataKey = "CloudBlockBlobContentMD5"

// MetadataStore reads and replaces the user metadata of a stored object.
type MetadataStore interface {
	ObjectMetadata(ctx context.Context, key string) (map[string]string, error)
	ReplaceObjectMetadata(ctx context.Context, key string, metadata map[string]string) error
}

// Compute returns the tag for content.
func Compute(content []byte) string {
	sum := md5.Sum(content) //nolint:gosec
	return base64.StdEncoding.EncodeToString(sum[:])
}

// ComputeReader returns the tag for everything readable from r.
func ComputeReader(r io.Reader) (string, error) {
	h := md5.New() //nolint:gosec
	if _, err := io.Copy(h, r); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(h.Sum(nil)), nil
}

// ComputeFile returns the tag for the file at path, or an empty string when the file
// does not exist.
func ComputeFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", nil
		}
		return "", err
	}
	defer func() { _ = f.Close() }()
	return ComputeReader(f)
}

// Lookup returns the tag from metadata. Keys are matched case-insensitively since
// object stores normalize user metadata keys.
func Lookup(metadata map[string]string) string {
	if v, ok := metadata[MetadataKey]; ok {
		return v
	}
	for k, v := range metadata {
		if strings.EqualFold(k, MetadataKey) {
			return v
		}
	}
	return ""
}

// WithTag returns a copy of metadata carrying tag, replacing any prior tag entry.
func WithTag(metadata map[string]string, tag string) map[string]string {
	out := make(map[string]string, len(metadata)+1)
	for k, v := range metadata {
		if strings.EqualFold(k, MetadataKey) {
			continue
		}
		out[k] = v
	}
	out[MetadataKey] = tag
	return out
}

// VerifyBytes checks content against a stored tag.
func VerifyBytes(tag string, content []byte) error {
	if strings.TrimSpace(tag) == "" {
		return storeerr.New(storeerr.ErrDataCorruption, "stored content digest is missing")
	}
	if computed := Compute(content); computed != tag {
		return storeerr.Newf(storeerr.ErrDataCorruption, "content digest mismatch: stored %s, computed %s", tag, computed)
	}
	return nil
}

// ApplyTag computes the tag for content and stores it on the object, overwriting any
// prior tag.
func ApplyTag(ctx context.Context, target MetadataStore, key string, content io.Reader) (string, error) {
	tag, err := ComputeReader(content)
	if err != nil {
		return "", err
	}
	metadata, err := target.ObjectMetadata(ctx, key)
	if err != nil {
		return "", err
	}
	if err := target.ReplaceObjectMetadata(ctx, key, WithTag(metadata, tag)); err != nil {
		return "", err
	}
	return tag, nil
}

// Verify checks the stored tag of key against the local file at localPath.
func Verify(ctx context.Context, target MetadataStore, key, localPath string) error {
	metadata, err := target.ObjectMetadata(ctx, key)
	if err != nil {
		return err
	}
	stored := Lookup(metadata)
	if stored == "" {
		return storeerr.Newf(storeerr.ErrDataCorruption, "object %s carries no content digest", key)
	}
	local, err := ComputeFile(localPath)
	if err != nil {
		return err
	}
	if local != stored {
		return storeerr.Newf(storeerr.ErrDataCorruption, "object %s digest %s does not match local file digest %s", key, stored, local)
	}
	return nil
}

// IsAlreadySynced reports whether the stored tag of key and the digest of localPath are
// both present and equal. A missing object counts as not synced.
func IsAlreadySynced(ctx context.Context, target MetadataStore, key, localPath string) (bool, error) {
	metadata, err := target.ObjectMetadata(ctx, key)
	if err != nil {
		if storeerr.IsNotFound(err) {
			return false, nil
		}
		return false, err
	}
	stored := Lookup(metadata)
	if stored == "" {
		return false, nil
	}
	local, err := ComputeFile(localPath)
	if err != nil {
		return false, err
	}
	return local != "" && local == stored, nil
}
