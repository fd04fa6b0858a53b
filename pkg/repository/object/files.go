package object

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"

	"github.com/nimburion/backupstore/pkg/digest"
	"github.com/nimburion/backupstore/pkg/observability/logger"
	"github.com/nimburion/backupstore/pkg/observability/tracing"
	"github.com/nimburion/backupstore/pkg/storeerr"
	"github.com/nimburion/backupstore/pkg/validate"
)

// UploadFile copies the local file at path to name as is, tags it with the file's
// digest and verifies the stored tag against the file.
func (r *Repository[T]) UploadFile(ctx context.Context, name, path string) (ObjectRef, error) {
	logger.Entered(r.log, "UploadFile", "name", name, "path", path)
	if err := r.ready("UploadFile"); err != nil {
		return ObjectRef{}, err
	}
	if err := validate.ObjectName(name); err != nil {
		return ObjectRef{}, err
	}

	ctx, span := tracing.StartStorageSpan(ctx, tracing.SpanOperationObjectWrite,
		tracing.WithSystem("s3"), tracing.WithContainer(r.config.Container), tracing.WithKey(name))
	ref, err := r.uploadFile(ctx, name, path)
	tracing.End(span, err)
	if err != nil {
		r.log.Error("failed to upload file", "name", name, "path", path, "error", err)
	}
	return ref, err
}

func (r *Repository[T]) uploadFile(ctx context.Context, name, path string) (ObjectRef, error) {
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return ObjectRef{}, storeerr.Wrap(storeerr.ErrNotFound, fmt.Sprintf("local file %s", path), err)
		}
		return ObjectRef{}, err
	}
	defer func() { _ = file.Close() }()

	if _, err := r.adapter.Upload(ctx, name, file, contentTypeOf(path), nil); err != nil {
		return ObjectRef{}, err
	}
	if _, err := file.Seek(0, io.SeekStart); err != nil {
		return ObjectRef{}, err
	}
	tag, err := digest.ApplyTag(ctx, r.adapter, name, file)
	if err != nil {
		return ObjectRef{}, err
	}
	if err := digest.Verify(ctx, r.adapter, name, path); err != nil {
		return ObjectRef{}, err
	}

	info, err := r.adapter.Head(ctx, name)
	if err != nil {
		return ObjectRef{}, err
	}
	return ObjectRef{Name: name, ETag: info.ETag, Digest: tag, Size: info.Size}, nil
}

// DownloadFile writes the object stored under name to path and verifies the written
// content against the stored digest. An existing file at path is replaced only after the
// download completes and verifies; otherwise it is left untouched. It returns the number
// of bytes written.
func (r *Repository[T]) DownloadFile(ctx context.Context, name, path string) (int64, error) {
	logger.Entered(r.log, "DownloadFile", "name", name, "path", path)
	if err := r.ready("DownloadFile"); err != nil {
		return 0, err
	}
	if err := validate.ObjectName(name); err != nil {
		return 0, err
	}

	ctx, span := tracing.StartStorageSpan(ctx, tracing.SpanOperationObjectRead,
		tracing.WithSystem("s3"), tracing.WithContainer(r.config.Container), tracing.WithKey(name))
	written, err := r.downloadFile(ctx, name, path)
	tracing.End(span, err)
	if err != nil {
		r.log.Error("failed to download file", "name", name, "path", path, "error", err)
	}
	return written, err
}

func (r *Repository[T]) downloadFile(ctx context.Context, name, path string) (int64, error) {
	body, info, err := r.adapter.Open(ctx, name)
	if err != nil {
		return 0, err
	}
	defer func() { _ = body.Close() }()

	stored := digest.Lookup(info.Metadata)
	if stored == "" {
		return 0, storeerr.Newf(storeerr.ErrDataCorruption, "object %s carries no content digest", name)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return 0, err
	}
	tmpName := tmp.Name()
	written, copyErr := io.Copy(tmp, body)
	closeErr := tmp.Close()
	if err := errors.Join(copyErr, closeErr); err != nil {
		_ = os.Remove(tmpName)
		return 0, err
	}

	local, err := digest.ComputeFile(tmpName)
	if err != nil {
		_ = os.Remove(tmpName)
		return 0, err
	}
	if local != stored {
		_ = os.Remove(tmpName)
		return 0, storeerr.Newf(storeerr.ErrDataCorruption, "object %s digest %s does not match downloaded digest %s", name, stored, local)
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return 0, err
	}
	return written, nil
}

// IsSynced reports whether the object stored under name carries the digest of the
// local file at path.
func (r *Repository[T]) IsSynced(ctx context.Context, name, path string) (bool, error) {
	if err := r.ready("IsSynced"); err != nil {
		return false, err
	}
	if err := validate.ObjectName(name); err != nil {
		return false, err
	}
	return digest.IsAlreadySynced(ctx, r.adapter, name, path)
}

func contentTypeOf(path string) string {
	if ct := mime.TypeByExtension(filepath.Ext(path)); ct != "" {
		return ct
	}
	return "application/octet-stream"
}
