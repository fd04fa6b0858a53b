package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"time"

	"github.com/nimburion/backupstore/pkg/backup"
	"github.com/nimburion/backupstore/pkg/health"
	"github.com/nimburion/backupstore/pkg/lease"
	"github.com/nimburion/backupstore/pkg/repository/object"
	"github.com/nimburion/backupstore/pkg/repository/table"
	"github.com/spf13/cobra"
)

func newHealthCommand(withRuntime runtimeWrapper) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check connectivity to every configured backend",
		Args:  cobra.NoArgs,
		RunE: withRuntime(func(ctx context.Context, rt *runtime, _ []string) error {
			result := rt.backends.HealthRegistry(rt.cfg, rt.log).Check(ctx)
			encoder := json.NewEncoder(rt.out)
			encoder.SetIndent("", "  ")
			if err := encoder.Encode(result); err != nil {
				return err
			}
			if result.Status == health.StatusUnhealthy {
				return healthFailed{status: result.Status}
			}
			return nil
		}),
	}
}

func newLeaseCommand(withRuntime runtimeWrapper) *cobra.Command {
	leaseCmd := &cobra.Command{
		Use:   "lease",
		Short: "Distributed lease commands",
	}

	var holdFor time.Duration
	holdCmd := &cobra.Command{
		Use:   "hold",
		Short: "Acquire the lease and keep renewing it until interrupted",
		Args:  cobra.NoArgs,
		RunE: withRuntime(func(ctx context.Context, rt *runtime, _ []string) error {
			coordinator, err := newCoordinator(ctx, rt)
			if err != nil {
				return err
			}
			defer coordinator.Dispose()

			acquired, err := coordinator.TryAcquire(ctx, rt.cfg.Lease.DurationSeconds)
			if err != nil {
				return err
			}
			if !acquired {
				return backup.ErrLeaseNotAcquired
			}
			fmt.Fprintf(rt.out, "lease acquired on %s/%s\n", rt.cfg.LeaseContainer(), rt.cfg.Lease.Marker)

			wait := ctx.Done()
			if holdFor > 0 {
				timer := time.NewTimer(holdFor)
				defer timer.Stop()
				select {
				case <-wait:
				case <-timer.C:
				}
			} else {
				<-wait
			}

			if held, _ := coordinator.HasLease(); !held {
				return lease.ErrLeaseLost
			}
			if err := coordinator.ReleaseLease(context.WithoutCancel(ctx)); err != nil {
				return err
			}
			fmt.Fprintln(rt.out, "lease released")
			return nil
		}),
	}
	holdCmd.Flags().DurationVar(&holdFor, "for", 0, "release after this long instead of waiting for a signal")
	leaseCmd.AddCommand(holdCmd)
	return leaseCmd
}

func newObjectsCommand(withRuntime runtimeWrapper) *cobra.Command {
	objectsCmd := &cobra.Command{
		Use:   "objects",
		Short: "Object storage commands",
	}

	objectsCmd.AddCommand(&cobra.Command{
		Use:   "ls [PREFIX]",
		Short: "List object names",
		Args:  cobra.MaximumNArgs(1),
		RunE: withRuntime(func(ctx context.Context, rt *runtime, args []string) error {
			repo, err := newObjectRepository(ctx, rt)
			if err != nil {
				return err
			}
			prefix := ""
			if len(args) == 1 {
				prefix = args[0]
			}
			names, err := repo.Names(ctx, prefix)
			if err != nil {
				return err
			}
			for _, name := range names {
				fmt.Fprintln(rt.out, name)
			}
			return nil
		}),
	})

	objectsCmd.AddCommand(&cobra.Command{
		Use:   "put NAME PATH",
		Short: "Upload a local file",
		Args:  cobra.ExactArgs(2),
		RunE: withRuntime(func(ctx context.Context, rt *runtime, args []string) error {
			repo, err := newObjectRepository(ctx, rt)
			if err != nil {
				return err
			}
			ref, err := repo.UploadFile(ctx, args[0], args[1])
			if err != nil {
				return err
			}
			fmt.Fprintf(rt.out, "uploaded %s (%d bytes, md5 %s)\n", ref.Name, ref.Size, ref.Digest)
			return nil
		}),
	})

	objectsCmd.AddCommand(&cobra.Command{
		Use:   "get NAME PATH",
		Short: "Download an object to a local file",
		Args:  cobra.ExactArgs(2),
		RunE: withRuntime(func(ctx context.Context, rt *runtime, args []string) error {
			repo, err := newObjectRepository(ctx, rt)
			if err != nil {
				return err
			}
			n, err := repo.DownloadFile(ctx, args[0], args[1])
			if err != nil {
				return err
			}
			fmt.Fprintf(rt.out, "downloaded %s (%d bytes)\n", args[0], n)
			return nil
		}),
	})

	var expiry time.Duration
	urlCmd := &cobra.Command{
		Use:   "url NAME",
		Short: "Print a presigned download URL",
		Args:  cobra.ExactArgs(1),
		RunE: withRuntime(func(ctx context.Context, rt *runtime, args []string) error {
			repo, err := newObjectRepository(ctx, rt)
			if err != nil {
				return err
			}
			if expiry <= 0 {
				expiry = rt.cfg.ObjectStorage.PresignExpiry
			}
			url, err := repo.PresignURL(ctx, args[0], expiry)
			if err != nil {
				return err
			}
			fmt.Fprintln(rt.out, url)
			return nil
		}),
	}
	urlCmd.Flags().DurationVar(&expiry, "expiry", 0, "URL lifetime (defaults to object_storage.presign_expiry)")
	objectsCmd.AddCommand(urlCmd)
	return objectsCmd
}

func newTableCommand(withRuntime runtimeWrapper) *cobra.Command {
	tableCmd := &cobra.Command{
		Use:   "table",
		Short: "Table storage commands",
	}

	tableCmd.AddCommand(&cobra.Command{
		Use:   "count",
		Short: "Count the items in the table",
		Args:  cobra.NoArgs,
		RunE: withRuntime(func(ctx context.Context, rt *runtime, _ []string) error {
			repo, err := newItemRepository(ctx, rt, false)
			if err != nil {
				return err
			}
			items, err := repo.GetAll(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintln(rt.out, len(items))
			return nil
		}),
	})

	var partitionKey string
	purgeCmd := &cobra.Command{
		Use:   "purge",
		Short: "Delete every item, or every item of one partition",
		Args:  cobra.NoArgs,
		RunE: withRuntime(func(ctx context.Context, rt *runtime, _ []string) error {
			repo, err := newItemRepository(ctx, rt, false)
			if err != nil {
				return err
			}
			var deleted int
			if partitionKey != "" {
				deleted, err = repo.DeleteByPartitionKey(ctx, partitionKey)
			} else {
				deleted, err = repo.DeleteAll(ctx)
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(rt.out, "deleted %d items\n", deleted)
			return nil
		}),
	}
	purgeCmd.Flags().StringVar(&partitionKey, "partition-key", "", "only delete items of this partition")
	tableCmd.AddCommand(purgeCmd)

	tableCmd.AddCommand(&cobra.Command{
		Use:   "drop",
		Short: "Delete the table",
		Args:  cobra.NoArgs,
		RunE: withRuntime(func(ctx context.Context, rt *runtime, _ []string) error {
			repo, err := newItemRepository(ctx, rt, false)
			if err != nil {
				return err
			}
			deleted, err := repo.DeleteTable(ctx)
			if err != nil {
				return err
			}
			if deleted {
				fmt.Fprintf(rt.out, "table %s deleted\n", repo.Table())
			} else {
				fmt.Fprintf(rt.out, "table %s does not exist\n", repo.Table())
			}
			return nil
		}),
	})
	return tableCmd
}

func newBackupCommand(withRuntime runtimeWrapper) *cobra.Command {
	var (
		noLease     bool
		parallelism int
	)
	backupCmd := &cobra.Command{
		Use:   "backup ROOT [FILE...]",
		Short: "Record the inventory of FILEs and copy them to object storage",
		Long: "Record the inventory of FILEs and copy them to object storage under names relative to ROOT.\n" +
			"Without FILE arguments every regular file below ROOT is backed up.",
		Args: cobra.MinimumNArgs(1),
		RunE: withRuntime(func(ctx context.Context, rt *runtime, args []string) error {
			root := args[0]
			paths := args[1:]
			if len(paths) == 0 {
				found, err := regularFiles(root)
				if err != nil {
					return err
				}
				paths = found
			}

			objects, err := newObjectRepository(ctx, rt)
			if err != nil {
				return err
			}
			inventory, err := table.New[backup.FileInformation](rt.backends.Tables, backup.FileInformationMapper{}, rt.cfg.Table(), rt.log)
			if err != nil {
				return err
			}
			if err := inventory.Initialize(ctx, rt.cfg.TableStorage.CreateIfMissing); err != nil {
				return err
			}

			var guard backup.Lease
			if !noLease {
				coordinator, err := newCoordinator(ctx, rt)
				if err != nil {
					return err
				}
				defer coordinator.Dispose()
				guard = coordinator
			}

			syncer := backup.NewSyncer(objects, inventory, guard, rt.log, backup.Options{
				Parallelism:  parallelism,
				LeaseSeconds: rt.cfg.Lease.DurationSeconds,
			})
			progress, err := syncer.Run(ctx, root, paths)
			fmt.Fprintf(rt.out, "copied %d files (%d bytes), %d already current\n", progress.Files, progress.Bytes, progress.Skipped)
			return err
		}),
	}
	backupCmd.Flags().BoolVar(&noLease, "no-lease", false, "run without taking the distributed lease")
	backupCmd.Flags().IntVar(&parallelism, "parallelism", 4, "concurrent uploads")
	return backupCmd
}

func newCoordinator(ctx context.Context, rt *runtime) (*lease.Coordinator, error) {
	coordinator := lease.NewCoordinator(rt.backends.Lease, rt.log, lease.Options{})
	if err := coordinator.Initialize(ctx, rt.cfg.LeaseContainer(), rt.cfg.Lease.Marker); err != nil {
		coordinator.Dispose()
		return nil, err
	}
	return coordinator, nil
}

func newObjectRepository(ctx context.Context, rt *runtime) (*object.Repository[[]byte], error) {
	repo, err := object.New[[]byte](rt.backends.Objects, rt.cfg.Objects(), rt.log)
	if err != nil {
		return nil, err
	}
	if err := repo.Initialize(ctx); err != nil {
		return nil, err
	}
	return repo, nil
}

func newItemRepository(ctx context.Context, rt *runtime, createIfMissing bool) (*table.Repository[table.Item], error) {
	repo, err := table.New[table.Item](rt.backends.Tables, table.ItemMapper{}, rt.cfg.Table(), rt.log)
	if err != nil {
		return nil, err
	}
	if err := repo.Initialize(ctx, createIfMissing); err != nil {
		return nil, err
	}
	return repo, nil
}

// regularFiles returns every regular file below root.
func regularFiles(root string) ([]string, error) {
	var paths []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type().IsRegular() {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", root, err)
	}
	if len(paths) == 0 {
		return nil, errors.New("no files to back up")
	}
	return paths, nil
}
