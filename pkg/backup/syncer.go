package backup

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/nimburion/backupstore/pkg/observability/logger"
	"github.com/nimburion/backupstore/pkg/repository/object"
	"github.com/nimburion/backupstore/pkg/storeerr"
	"golang.org/x/sync/errgroup"
)

// ErrLeaseNotAcquired is returned by Run when another process holds the backup lease.
var ErrLeaseNotAcquired = fmt.Errorf("%w: backup lease is held by another process", storeerr.ErrConflict)

// ObjectStore uploads files and tells whether a stored copy is current.
type ObjectStore interface {
	UploadFile(ctx context.Context, name, path string) (object.ObjectRef, error)
	IsSynced(ctx context.Context, name, path string) (bool, error)
}

// InventoryStore keeps the file inventory.
type InventoryStore interface {
	GetAll(ctx context.Context) ([]FileInformation, error)
	SetMany(ctx context.Context, values []FileInformation) (int, error)
	DeleteAll(ctx context.Context) (int, error)
}

// Lease guards a run against concurrent runs.
type Lease interface {
	TryAcquire(ctx context.Context, leaseDurationSeconds int) (bool, error)
	ReleaseLease(ctx context.Context) error
}

// Progress counts the work done by a run. It is meaningful even when the run failed.
type Progress struct {
	Files   int
	Skipped int
	Bytes   int64
}

// Options tunes a Syncer.
type Options struct {
	// Parallelism caps concurrent uploads. Zero means 4.
	Parallelism int
	// LeaseSeconds is the lease duration requested by Run. Zero means 60.
	LeaseSeconds int
}

// Syncer records a file inventory and copies the listed files.
type Syncer struct {
	objects   ObjectStore
	inventory InventoryStore
	lease     Lease
	log       logger.Logger
	opts      Options
	now       func() time.Time
}

// NewSyncer wires a syncer. lease may be nil to run without mutual exclusion.
func NewSyncer(objects ObjectStore, inventory InventoryStore, lease Lease, log logger.Logger, opts Options) *Syncer {
	if log == nil {
		log = logger.Nop()
	}
	if opts.Parallelism <= 0 {
		opts.Parallelism = 4
	}
	if opts.LeaseSeconds == 0 {
		opts.LeaseSeconds = 60
	}
	return &Syncer{
		objects:   objects,
		inventory: inventory,
		lease:     lease,
		log:       log,
		opts:      opts,
		now:       time.Now,
	}
}

// Run replaces the inventory with paths and copies every inventoried file under root.
// When a lease is configured the run holds it throughout and fails with
// ErrLeaseNotAcquired if another process holds it.
func (s *Syncer) Run(ctx context.Context, root string, paths []string) (Progress, error) {
	logger.Entered(s.log, "Run", "root", root, "files", len(paths))
	root = strings.TrimSpace(root)
	if root == "" {
		return Progress{}, storeerr.New(storeerr.ErrInvalidArgument, "backup root is empty")
	}

	if s.lease != nil {
		acquired, err := s.lease.TryAcquire(ctx, s.opts.LeaseSeconds)
		if err != nil {
			return Progress{}, err
		}
		if !acquired {
			return Progress{}, ErrLeaseNotAcquired
		}
		defer func() {
			if err := s.lease.ReleaseLease(context.WithoutCancel(ctx)); err != nil {
				s.log.Error("failed to release backup lease", "error", err)
			}
		}()
	}

	if _, err := s.RecordInventory(ctx, paths); err != nil {
		return Progress{}, err
	}
	return s.CopyAll(ctx, root)
}

// RecordInventory replaces the stored inventory with one entry per path and returns
// the number of entries written.
func (s *Syncer) RecordInventory(ctx context.Context, paths []string) (int, error) {
	logger.Entered(s.log, "RecordInventory", "files", len(paths))
	removed, err := s.inventory.DeleteAll(ctx)
	if err != nil {
		s.log.Error("failed to clear inventory", "error", err)
		return 0, err
	}
	s.log.Info("inventory cleared", "removed", removed)

	now := s.now()
	entries := make([]FileInformation, 0, len(paths))
	for _, path := range paths {
		entries = append(entries, NewFileInformation(path, now))
	}
	if _, err := s.inventory.SetMany(ctx, entries); err != nil {
		s.log.Error("failed to store inventory", "error", err)
		return 0, err
	}
	s.log.Info("inventory stored", "files", len(entries))
	return len(entries), nil
}

// CopyAll uploads every inventoried file whose stored copy is not current. The first
// failure cancels the remaining uploads; the progress made so far is returned with it.
func (s *Syncer) CopyAll(ctx context.Context, root string) (Progress, error) {
	logger.Entered(s.log, "CopyAll", "root", root)
	files, err := s.inventory.GetAll(ctx)
	if err != nil {
		return Progress{}, err
	}

	var copied, skipped atomic.Int64
	var bytes atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.Parallelism)
	for _, file := range files {
		g.Go(func() error {
			n, uploaded, err := s.CopyFile(gctx, root, file.FileName)
			if err != nil {
				return err
			}
			if uploaded {
				copied.Add(1)
			} else {
				skipped.Add(1)
			}
			bytes.Add(n)
			return nil
		})
	}
	err = g.Wait()

	progress := Progress{Files: int(copied.Load()), Skipped: int(skipped.Load()), Bytes: bytes.Load()}
	if err != nil {
		s.log.Error("backup aborted", "files", progress.Files, "bytes", progress.Bytes, "error", err)
		return progress, err
	}
	s.log.Info("backup completed", "files", progress.Files, "skipped", progress.Skipped, "bytes", progress.Bytes)
	return progress, nil
}

// CopyFile uploads the file at path unless its stored copy is already current. It
// returns the bytes uploaded and whether an upload happened.
func (s *Syncer) CopyFile(ctx context.Context, root, path string) (int64, bool, error) {
	name := ObjectName(root, path)
	synced, err := s.objects.IsSynced(ctx, name, path)
	if err != nil {
		return 0, false, err
	}
	if synced {
		s.log.Debug("file already synced", "path", path, "name", name)
		return 0, false, nil
	}
	ref, err := s.objects.UploadFile(ctx, name, path)
	if err != nil {
		if errors.Is(err, storeerr.ErrDataCorruption) {
			s.log.Error("uploaded file failed integrity check", "path", path, "error", err)
		}
		return 0, false, err
	}
	s.log.Info("file copied", "path", path, "name", name, "bytes", ref.Size)
	return ref.Size, true, nil
}

// ObjectName maps a local path to an object name: the path relative to root with
// forward slashes, or the path without its volume and leading separators when it lies
// outside root.
func ObjectName(root, path string) string {
	if rel, err := filepath.Rel(root, path); err == nil && rel != "." && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return filepath.ToSlash(rel)
	}
	trimmed := strings.TrimPrefix(path, filepath.VolumeName(path))
	return strings.TrimLeft(filepath.ToSlash(trimmed), "/")
}
