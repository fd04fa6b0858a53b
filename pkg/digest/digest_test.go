package digest

import (
	"bytes"
	"context"
	"crypto/md5" //nolint:gosec
	"encoding/base64"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/nimburion/backupstore/pkg/storeerr"
)

type memoryMetadata struct {
	objects map[string]map[string]string
}

func (m *memoryMetadata) ObjectMetadata(_ context.Context, key string) (map[string]string, error) {
	md, ok := m.objects[key]
	if !ok {
		return nil, storeerr.Newf(storeerr.ErrNotFound, "object %s", key)
	}
	return md, nil
}

func (m *memoryMetadata) ReplaceObjectMetadata(_ context.Context, key string, metadata map[string]string) error {
	if _, ok := m.objects[key]; !ok {
		return storeerr.Newf(storeerr.ErrNotFound, "object %s", key)
	}
	m.objects[key] = metadata
	return nil
}

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "payload.bin")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	return path
}

func TestCompute_IsBase64MD5(t *testing.T) {
	content := []byte("hello backups")
	sum := md5.Sum(content) //nolint:gosec
	if want, got := base64.StdEncoding.EncodeToString(sum[:]), Compute(content); got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}

	fromReader, err := ComputeReader(bytes.NewReader(content))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fromReader != Compute(content) {
		t.Fatalf("reader digest %q differs from %q", fromReader, Compute(content))
	}
}

func TestComputeFile_MissingFileYieldsEmptyTag(t *testing.T) {
	tag, err := ComputeFile(filepath.Join(t.TempDir(), "absent"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tag != "" {
		t.Fatalf("expected empty tag, got %q", tag)
	}
}

func TestLookup_IsCaseInsensitive(t *testing.T) {
	if got := Lookup(map[string]string{"cloudblockblobcontentmd5": "abc"}); got != "abc" {
		t.Fatalf("expected abc, got %q", got)
	}
	if got := Lookup(map[string]string{"other": "x"}); got != "" {
		t.Fatalf("expected no tag, got %q", got)
	}
}

func TestWithTag_ReplacesPriorTag(t *testing.T) {
	md := WithTag(map[string]string{"cloudblockblobcontentmd5": "old", "owner": "ops"}, "new")
	want := map[string]string{MetadataKey: "new", "owner": "ops"}
	if !reflect.DeepEqual(md, want) {
		t.Fatalf("expected %v, got %v", want, md)
	}
}

func TestVerifyBytes(t *testing.T) {
	content := []byte("payload")
	if err := VerifyBytes(Compute(content), content); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := VerifyBytes("", content); !errors.Is(err, storeerr.ErrDataCorruption) {
		t.Fatalf("expected ErrDataCorruption for missing tag, got %v", err)
	}
	if err := VerifyBytes(Compute([]byte("other")), content); !errors.Is(err, storeerr.ErrDataCorruption) {
		t.Fatalf("expected ErrDataCorruption for mismatch, got %v", err)
	}
}

func TestApplyTagThenVerify(t *testing.T) {
	ctx := context.Background()
	store := &memoryMetadata{objects: map[string]map[string]string{"docs/a.txt": {"owner": "ops"}}}
	path := writeFile(t, "document body")

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer func() { _ = f.Close() }()

	tag, err := ApplyTag(ctx, store, "docs/a.txt", f)
	if err != nil {
		t.Fatalf("apply tag: %v", err)
	}
	if tag != Compute([]byte("document body")) {
		t.Fatalf("unexpected tag %q", tag)
	}
	if owner := store.objects["docs/a.txt"]["owner"]; owner != "ops" {
		t.Fatalf("expected other metadata to survive, got owner=%q", owner)
	}

	if err := Verify(ctx, store, "docs/a.txt", path); err != nil {
		t.Fatalf("verify: %v", err)
	}
	synced, err := IsAlreadySynced(ctx, store, "docs/a.txt", path)
	if err != nil || !synced {
		t.Fatalf("expected synced: synced=%v err=%v", synced, err)
	}
}

func TestVerify_DetectsMismatchAndMissingTag(t *testing.T) {
	ctx := context.Background()
	path := writeFile(t, "local content")
	store := &memoryMetadata{objects: map[string]map[string]string{
		"tagged":   {MetadataKey: Compute([]byte("remote content"))},
		"untagged": {},
	}}

	for _, key := range []string{"tagged", "untagged"} {
		if err := Verify(ctx, store, key, path); !errors.Is(err, storeerr.ErrDataCorruption) {
			t.Errorf("%s: expected ErrDataCorruption, got %v", key, err)
		}
	}
}

func TestIsAlreadySynced_FalseCases(t *testing.T) {
	ctx := context.Background()
	path := writeFile(t, "local content")
	store := &memoryMetadata{objects: map[string]map[string]string{
		"untagged": {},
		"tagged":   {MetadataKey: Compute([]byte("local content"))},
	}}

	cases := []struct {
		key, path string
	}{
		{"missing", path},
		{"untagged", path},
		{"tagged", filepath.Join(t.TempDir(), "absent")},
	}
	for _, c := range cases {
		synced, err := IsAlreadySynced(ctx, store, c.key, c.path)
		if err != nil {
			t.Errorf("%s: unexpected error: %v", c.key, err)
		}
		if synced {
			t.Errorf("%s: expected not synced", c.key)
		}
	}
}
