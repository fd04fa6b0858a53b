package object

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	awss3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/nimburion/backupstore/pkg/codec"
	"github.com/nimburion/backupstore/pkg/digest"
	s3store "github.com/nimburion/backupstore/pkg/store/s3"
	"github.com/nimburion/backupstore/pkg/store/s3/s3test"
	"github.com/nimburion/backupstore/pkg/storeerr"
	"github.com/nimburion/backupstore/pkg/testutil"
)

type snapshot struct {
	Name  string
	Files []string
	Bytes int64
}

const testContainer = "backups"

func newRepo(t *testing.T, cfg Config) (*Repository[snapshot], *s3test.Fake) {
	t.Helper()
	fake := s3test.New()
	adapter := s3store.NewAdapterWithClient(s3store.Config{Bucket: "default", OperationTimeout: time.Second}, fake, testutil.NewMockLogger())
	repo, err := New[snapshot](adapter, cfg, testutil.NewMockLogger())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return repo, fake
}

func newInitializedRepo(t *testing.T) (*Repository[snapshot], *s3test.Fake) {
	t.Helper()
	repo, fake := newRepo(t, DefaultConfig(testContainer))
	if err := repo.Initialize(context.Background()); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	return repo, fake
}

func mustSet(t *testing.T, repo *Repository[snapshot], name string, value snapshot) ObjectRef {
	t.Helper()
	ref, err := repo.Set(context.Background(), name, value)
	if err != nil {
		t.Fatalf("set %q: %v", name, err)
	}
	return ref
}

func writeLocal(t *testing.T, path string, data []byte) {
	t.Helper()
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestNew_RequiresAdapter(t *testing.T) {
	_, err := New[snapshot](nil, DefaultConfig(testContainer), nil)
	if !errors.Is(err, storeerr.ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
}

func TestRepository_OperationsBeforeInitialize(t *testing.T) {
	repo, _ := newRepo(t, DefaultConfig(testContainer))
	ctx := context.Background()

	_, err := repo.Set(ctx, "a", snapshot{})
	if !errors.Is(err, storeerr.ErrUninitialized) || !strings.Contains(err.Error(), "Set") {
		t.Fatalf("expected ErrUninitialized naming Set, got %v", err)
	}
	_, _, err = repo.Get(ctx, "a")
	if !errors.Is(err, storeerr.ErrUninitialized) || !strings.Contains(err.Error(), "Get") {
		t.Fatalf("expected ErrUninitialized naming Get, got %v", err)
	}
	if _, err := repo.List(ctx, ""); !errors.Is(err, storeerr.ErrUninitialized) {
		t.Fatalf("expected ErrUninitialized from List, got %v", err)
	}
	if _, err := repo.DeleteContainer(ctx); !errors.Is(err, storeerr.ErrUninitialized) {
		t.Fatalf("expected ErrUninitialized from DeleteContainer, got %v", err)
	}
}

func TestInitialize_CreatesContainerWithPolicy(t *testing.T) {
	repo, fake := newInitializedRepo(t)

	if !fake.HasBucket(testContainer) {
		t.Fatal("expected container to be created")
	}
	if policy := fake.Policy(testContainer); !strings.Contains(policy, "arn:aws:s3:::backups/*") {
		t.Fatalf("expected public read policy, got %q", policy)
	}

	// A second initialize keeps the container.
	if err := repo.Initialize(context.Background()); err != nil {
		t.Fatalf("second initialize: %v", err)
	}
	if got := fake.Calls("CreateBucket"); got != 1 {
		t.Fatalf("expected one CreateBucket call, got %d", got)
	}
}

func TestInitialize_PrivateContainer(t *testing.T) {
	cfg := DefaultConfig(testContainer)
	cfg.PublicRead = false
	repo, fake := newRepo(t, cfg)
	if err := repo.Initialize(context.Background()); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if policy := fake.Policy(testContainer); policy != "" {
		t.Fatalf("expected no policy, got %q", policy)
	}
}

func TestInitialize_RejectsInvalidContainer(t *testing.T) {
	for _, name := range []string{"", "ab", "Upper", "bad--name", "-lead", strings.Repeat("a", 64)} {
		repo, fake := newRepo(t, DefaultConfig(name))
		if err := repo.Initialize(context.Background()); !errors.Is(err, storeerr.ErrInvalidArgument) {
			t.Errorf("container %q: expected ErrInvalidArgument, got %v", name, err)
		}
		if got := fake.Calls("CreateBucket"); got != 0 {
			t.Errorf("container %q: expected no CreateBucket call, got %d", name, got)
		}
	}
}

func TestSetAndGet_RoundTrip(t *testing.T) {
	repo, fake := newInitializedRepo(t)
	value := snapshot{Name: "nightly", Files: []string{"a.txt", "b.txt"}, Bytes: 42}

	ref := mustSet(t, repo, "snapshots/nightly", value)
	if ref.Name != "snapshots/nightly" || ref.ETag == "" {
		t.Fatalf("unexpected ref: %+v", ref)
	}

	stored, ok := fake.ObjectData(testContainer, "snapshots/nightly")
	if !ok {
		t.Fatal("expected object to be stored")
	}
	if ref.Digest != digest.Compute(stored) || ref.Size != int64(len(stored)) {
		t.Fatalf("ref does not describe stored payload: %+v", ref)
	}
	if tag := digest.Lookup(fake.ObjectMetadata(testContainer, "snapshots/nightly")); tag != ref.Digest {
		t.Fatalf("expected stored tag %q, got %q", ref.Digest, tag)
	}

	got, found, err := repo.Get(context.Background(), "snapshots/nightly")
	if err != nil || !found {
		t.Fatalf("get: found=%v err=%v", found, err)
	}
	if !reflect.DeepEqual(got, value) {
		t.Fatalf("expected %+v, got %+v", value, got)
	}
}

func TestSet_ReplacesExisting(t *testing.T) {
	repo, _ := newInitializedRepo(t)
	mustSet(t, repo, "k", snapshot{Name: "v1"})
	mustSet(t, repo, "k", snapshot{Name: "v2"})

	got, found, err := repo.Get(context.Background(), "k")
	if err != nil || !found {
		t.Fatalf("get: found=%v err=%v", found, err)
	}
	if got.Name != "v2" {
		t.Fatalf("expected v2, got %q", got.Name)
	}
}

func TestGet_MissingIsNotAnError(t *testing.T) {
	repo, _ := newInitializedRepo(t)
	got, found, err := repo.Get(context.Background(), "missing")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if found || !reflect.DeepEqual(got, snapshot{}) {
		t.Fatalf("expected zero value and not found, got %+v found=%v", got, found)
	}
}

func TestGet_DetectsCorruption(t *testing.T) {
	repo, fake := newInitializedRepo(t)
	mustSet(t, repo, "k", snapshot{Name: "v1"})

	payload, err := codec.Marshal(snapshot{Name: "forged"})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	fake.Tamper(testContainer, "k", payload)

	_, found, err := repo.Get(context.Background(), "k")
	if found {
		t.Fatal("expected corrupted object not to be returned")
	}
	if !errors.Is(err, storeerr.ErrDataCorruption) {
		t.Fatalf("expected ErrDataCorruption, got %v", err)
	}
}

func TestObjectNameValidation(t *testing.T) {
	repo, fake := newInitializedRepo(t)
	ctx := context.Background()

	for _, name := range []string{"", " k", "k ", strings.Repeat("x", 1025)} {
		if _, err := repo.Set(ctx, name, snapshot{}); !errors.Is(err, storeerr.ErrInvalidArgument) {
			t.Errorf("name %q: expected ErrInvalidArgument, got %v", name, err)
		}
	}
	if got := fake.ObjectCount(testContainer); got != 0 {
		t.Fatalf("expected rejected names to store nothing, got %d objects", got)
	}
	if _, err := repo.Set(ctx, strings.Repeat("x", 1024), snapshot{}); err != nil {
		t.Fatalf("unexpected error at the length limit: %v", err)
	}
}

func TestList_FollowsContinuation(t *testing.T) {
	repo, fake := newInitializedRepo(t)
	fake.PageLimit = 2
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		mustSet(t, repo, fmt.Sprintf("daily/%02d", i), snapshot{Name: fmt.Sprintf("day-%d", i)})
	}
	mustSet(t, repo, "weekly/00", snapshot{Name: "week"})

	values, err := repo.List(ctx, "daily/")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(values) != 5 {
		t.Fatalf("expected 5 values, got %d", len(values))
	}
	for i, v := range values {
		if want := fmt.Sprintf("day-%d", i); v.Name != want {
			t.Errorf("value %d: expected %q, got %q", i, want, v.Name)
		}
	}
	if got := fake.Calls("ListObjectsV2"); got != 3 {
		t.Fatalf("expected 3 list pages, got %d", got)
	}

	all, err := repo.List(ctx, "")
	if err != nil || len(all) != 6 {
		t.Fatalf("expected 6 values, got %d (err=%v)", len(all), err)
	}

	names, err := repo.Names(ctx, "weekly/")
	if err != nil {
		t.Fatalf("names: %v", err)
	}
	if !reflect.DeepEqual(names, []string{"weekly/00"}) {
		t.Fatalf("unexpected names: %v", names)
	}
}

func TestList_EmptyContainer(t *testing.T) {
	repo, _ := newInitializedRepo(t)
	values, err := repo.List(context.Background(), "")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(values) != 0 {
		t.Fatalf("expected no values, got %d", len(values))
	}
}

func TestList_CancellationReturnsAccumulated(t *testing.T) {
	cfg := DefaultConfig(testContainer)
	cfg.ListParallelism = 1
	repo, fake := newRepo(t, cfg)
	if err := repo.Initialize(context.Background()); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	for i := 0; i < 6; i++ {
		mustSet(t, repo, fmt.Sprintf("k%d", i), snapshot{Name: fmt.Sprint(i)})
	}
	fake.PageLimit = 2

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	fake.OnGetObject = func(bucket, key string) error {
		cancel()
		return nil
	}

	values, err := repo.List(ctx, "")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if len(values) != 2 {
		t.Fatalf("expected the first page of values, got %d", len(values))
	}
	if got := fake.Calls("ListObjectsV2"); got != 1 {
		t.Fatalf("expected listing to stop after one page, got %d", got)
	}
}

func TestList_SkipsObjectsDeletedDuringListing(t *testing.T) {
	repo, fake := newInitializedRepo(t)
	for _, name := range []string{"a", "b", "c"} {
		mustSet(t, repo, name, snapshot{Name: name})
	}
	fake.OnGetObject = func(bucket, key string) error {
		if key == "b" {
			return &awss3types.NoSuchKey{}
		}
		return nil
	}

	values, err := repo.List(context.Background(), "")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(values) != 2 || values[0].Name != "a" || values[1].Name != "c" {
		t.Fatalf("expected a and c, got %+v", values)
	}
}

func TestList_PropagatesFaults(t *testing.T) {
	repo, fake := newInitializedRepo(t)
	mustSet(t, repo, "a", snapshot{Name: "a"})
	fake.OnGetObject = func(bucket, key string) error {
		return &smithy.GenericAPIError{Code: "SlowDown", Message: "reduce your request rate"}
	}

	if _, err := repo.List(context.Background(), ""); !errors.Is(err, storeerr.ErrRetryable) {
		t.Fatalf("expected ErrRetryable, got %v", err)
	}
}

func TestExistsAndDelete(t *testing.T) {
	repo, _ := newInitializedRepo(t)
	ctx := context.Background()
	mustSet(t, repo, "k", snapshot{})

	if exists, err := repo.Exists(ctx, "k"); err != nil || !exists {
		t.Fatalf("expected k to exist: exists=%v err=%v", exists, err)
	}
	if deleted, err := repo.Delete(ctx, "k"); err != nil || !deleted {
		t.Fatalf("expected first delete to report true: deleted=%v err=%v", deleted, err)
	}
	if deleted, err := repo.Delete(ctx, "k"); err != nil || deleted {
		t.Fatalf("expected second delete to report false: deleted=%v err=%v", deleted, err)
	}
	if exists, err := repo.Exists(ctx, "k"); err != nil || exists {
		t.Fatalf("expected k to be gone: exists=%v err=%v", exists, err)
	}
}

func TestDeleteContainer(t *testing.T) {
	fake := s3test.New()
	adapter := s3store.NewAdapterWithClient(s3store.Config{Bucket: "default"}, fake, nil)
	first, err := New[snapshot](adapter, DefaultConfig(testContainer), nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	second, err := New[snapshot](adapter, DefaultConfig(testContainer), nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	ctx := context.Background()
	if err := first.Initialize(ctx); err != nil {
		t.Fatalf("initialize first: %v", err)
	}
	if err := second.Initialize(ctx); err != nil {
		t.Fatalf("initialize second: %v", err)
	}
	mustSet(t, first, "k", snapshot{})

	deleted, err := first.DeleteContainer(ctx)
	if err != nil || !deleted {
		t.Fatalf("expected container to be deleted: deleted=%v err=%v", deleted, err)
	}
	if fake.HasBucket(testContainer) {
		t.Fatal("expected container to be gone")
	}

	deleted, err = second.DeleteContainer(ctx)
	if err != nil || deleted {
		t.Fatalf("expected second delete to report false: deleted=%v err=%v", deleted, err)
	}

	if _, err := first.Set(ctx, "k", snapshot{}); !errors.Is(err, storeerr.ErrUninitialized) {
		t.Fatalf("expected ErrUninitialized after DeleteContainer, got %v", err)
	}
}

func TestSet_PropagatesStoreFaults(t *testing.T) {
	repo, fake := newInitializedRepo(t)
	fake.OnPutObject = func(bucket, key string) error {
		return &smithy.GenericAPIError{Code: "SlowDown", Message: "reduce your request rate"}
	}
	if _, err := repo.Set(context.Background(), "k", snapshot{}); !errors.Is(err, storeerr.ErrRetryable) {
		t.Fatalf("expected ErrRetryable, got %v", err)
	}
}

func TestFiles_UploadDownloadAndSync(t *testing.T) {
	repo, fake := newInitializedRepo(t)
	ctx := context.Background()
	dir := t.TempDir()
	source := filepath.Join(dir, "report.txt")
	writeLocal(t, source, []byte("quarterly numbers"))

	if synced, err := repo.IsSynced(ctx, "files/report.txt", source); err != nil || synced {
		t.Fatalf("expected not synced before upload: synced=%v err=%v", synced, err)
	}

	ref, err := repo.UploadFile(ctx, "files/report.txt", source)
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if ref.Size != int64(len("quarterly numbers")) {
		t.Fatalf("expected size %d, got %d", len("quarterly numbers"), ref.Size)
	}
	if ref.Digest != digest.Compute([]byte("quarterly numbers")) {
		t.Fatalf("unexpected digest %q", ref.Digest)
	}
	if tag := digest.Lookup(fake.ObjectMetadata(testContainer, "files/report.txt")); tag != ref.Digest {
		t.Fatalf("expected stored tag %q, got %q", ref.Digest, tag)
	}

	if synced, err := repo.IsSynced(ctx, "files/report.txt", source); err != nil || !synced {
		t.Fatalf("expected synced after upload: synced=%v err=%v", synced, err)
	}

	target := filepath.Join(dir, "restored.txt")
	written, err := repo.DownloadFile(ctx, "files/report.txt", target)
	if err != nil {
		t.Fatalf("download: %v", err)
	}
	if written != int64(len("quarterly numbers")) {
		t.Fatalf("expected %d bytes written, got %d", len("quarterly numbers"), written)
	}
	data, err := os.ReadFile(target)
	if err != nil {
		t.Fatalf("read restored file: %v", err)
	}
	if string(data) != "quarterly numbers" {
		t.Fatalf("unexpected restored content %q", data)
	}

	writeLocal(t, source, []byte("revised numbers"))
	if synced, err := repo.IsSynced(ctx, "files/report.txt", source); err != nil || synced {
		t.Fatalf("expected not synced after local change: synced=%v err=%v", synced, err)
	}
}

func TestDownloadFile_ReplacesExistingFile(t *testing.T) {
	repo, _ := newInitializedRepo(t)
	ctx := context.Background()
	dir := t.TempDir()
	source := filepath.Join(dir, "a.bin")
	writeLocal(t, source, []byte{1, 2, 3})
	if _, err := repo.UploadFile(ctx, "a.bin", source); err != nil {
		t.Fatalf("upload: %v", err)
	}

	target := filepath.Join(dir, "restored.bin")
	writeLocal(t, target, []byte("stale"))
	if _, err := repo.DownloadFile(ctx, "a.bin", target); err != nil {
		t.Fatalf("download: %v", err)
	}
	data, err := os.ReadFile(target)
	if err != nil {
		t.Fatalf("read restored file: %v", err)
	}
	if string(data) != string([]byte{1, 2, 3}) {
		t.Fatalf("expected downloaded content, got %v", data)
	}
}

func TestDownloadFile_CorruptedObjectLeavesNoFile(t *testing.T) {
	repo, fake := newInitializedRepo(t)
	ctx := context.Background()
	dir := t.TempDir()
	source := filepath.Join(dir, "a.bin")
	writeLocal(t, source, []byte{1, 2, 3})
	if _, err := repo.UploadFile(ctx, "a.bin", source); err != nil {
		t.Fatalf("upload: %v", err)
	}

	fake.Tamper(testContainer, "a.bin", []byte{9, 9, 9})
	target := filepath.Join(dir, "restored.bin")
	if _, err := repo.DownloadFile(ctx, "a.bin", target); !errors.Is(err, storeerr.ErrDataCorruption) {
		t.Fatalf("expected ErrDataCorruption, got %v", err)
	}
	if _, err := os.Stat(target); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected no file at %s, got %v", target, err)
	}
	assertNoTempFiles(t, dir)
}

func TestDownloadFile_CorruptedObjectKeepsExistingFile(t *testing.T) {
	repo, fake := newInitializedRepo(t)
	ctx := context.Background()
	dir := t.TempDir()
	source := filepath.Join(dir, "a.bin")
	writeLocal(t, source, []byte{1, 2, 3})
	if _, err := repo.UploadFile(ctx, "a.bin", source); err != nil {
		t.Fatalf("upload: %v", err)
	}

	fake.Tamper(testContainer, "a.bin", []byte{9, 9, 9})
	if _, err := repo.DownloadFile(ctx, "a.bin", source); !errors.Is(err, storeerr.ErrDataCorruption) {
		t.Fatalf("expected ErrDataCorruption, got %v", err)
	}
	data, err := os.ReadFile(source)
	if err != nil {
		t.Fatalf("expected local file to survive a failed download: %v", err)
	}
	if string(data) != string([]byte{1, 2, 3}) {
		t.Fatalf("expected local file to keep its content, got %v", data)
	}
	assertNoTempFiles(t, dir)
}

func TestDownloadFile_MissingTagKeepsExistingFile(t *testing.T) {
	repo, _ := newInitializedRepo(t)
	ctx := context.Background()
	dir := t.TempDir()
	target := filepath.Join(dir, "a.bin")
	writeLocal(t, target, []byte("local"))

	if _, err := repo.adapter.UploadBytes(ctx, "untagged.bin", []byte("remote"), "", nil); err != nil {
		t.Fatalf("upload untagged object: %v", err)
	}
	if _, err := repo.DownloadFile(ctx, "untagged.bin", target); !errors.Is(err, storeerr.ErrDataCorruption) {
		t.Fatalf("expected ErrDataCorruption, got %v", err)
	}
	if data, err := os.ReadFile(target); err != nil || string(data) != "local" {
		t.Fatalf("expected local file to keep its content, got %q (err=%v)", data, err)
	}
}

func assertNoTempFiles(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	for _, entry := range entries {
		if strings.HasPrefix(entry.Name(), ".") {
			t.Fatalf("temporary file %s left behind", entry.Name())
		}
	}
}

func TestUploadFile_MissingLocalFile(t *testing.T) {
	repo, _ := newInitializedRepo(t)
	_, err := repo.UploadFile(context.Background(), "x", filepath.Join(t.TempDir(), "missing"))
	if !errors.Is(err, storeerr.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestPresignURL(t *testing.T) {
	repo, _ := newInitializedRepo(t)
	url, err := repo.PresignURL(context.Background(), "files/a.txt", time.Minute)
	if err != nil {
		t.Fatalf("presign: %v", err)
	}
	if url != "https://fake.s3.local/backups/files/a.txt?expires=60" {
		t.Fatalf("unexpected url %q", url)
	}
}
