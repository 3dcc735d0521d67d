// Package scan reconciles the database with the on-disk gallery tree:
// it finds gallery folders, tombstones records whose folders are gone,
// drains the tombstone queue, and garbage-collects hash dictionaries and
// stale archives.
package scan

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/hashicorp/go-multierror"
	"golang.org/x/sync/errgroup"

	"go.h2hdb.org/infra/go/fileutil"
	"go.h2hdb.org/infra/go/skerr"
	"go.h2hdb.org/infra/go/sklog"
	"go.h2hdb.org/infra/go/timer"
	"go.h2hdb.org/infra/go/util"
	"go.h2hdb.org/infra/h2hdb/go/cbz"
	"go.h2hdb.org/infra/h2hdb/go/config"
	"go.h2hdb.org/infra/h2hdb/go/galleryinfo"
	"go.h2hdb.org/infra/h2hdb/go/hashes"
	"go.h2hdb.org/infra/h2hdb/go/schema"
	"go.h2hdb.org/infra/h2hdb/go/sqldb"
	"go.h2hdb.org/infra/h2hdb/go/store"
)

// Scanner walks the download tree and garbage-collects database rows and
// archives that no longer have a folder behind them.
type Scanner struct {
	store *store.Store
	cfg   config.H2HConfig
}

// New returns a Scanner over the given store and h2h layout.
func New(st *store.Store, cfg config.H2HConfig) *Scanner {
	return &Scanner{store: st, cfg: cfg}
}

// ListGalleryFolders returns the absolute path of every directory under
// the download tree that contains a galleryinfo.txt sidecar. Subfolders of
// a gallery folder are not descended into.
func (s *Scanner) ListGalleryFolders() ([]string, error) {
	defer timer.New("scan.ListGalleryFolders").Stop()
	var folders []string
	err := filepath.WalkDir(s.cfg.DownloadPath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if fileutil.FileExists(filepath.Join(path, galleryinfo.FileName)) {
			folders = append(folders, path)
			return filepath.SkipDir
		}
		return nil
	})
	if err != nil {
		return nil, skerr.Wrapf(err, "walking %s", s.cfg.DownloadPath)
	}
	return folders, nil
}

// ReconcileRemoved loads the on-disk gallery names into the scratch table
// and tombstones every database gallery the scan did not find. Returns the
// tombstoned names.
func (s *Scanner) ReconcileRemoved(ctx context.Context, folders []string) ([]string, error) {
	defer timer.New("scan.ReconcileRemoved").Stop()
	names := make([]string, 0, len(folders))
	for _, f := range folders {
		names = append(names, filepath.Base(f))
	}
	if err := s.store.ReplaceCurrentGalleries(ctx, names); err != nil {
		return nil, err
	}
	missing, err := s.store.SelectGalleriesMissingFromDisk(ctx)
	if err != nil {
		return nil, err
	}
	for _, name := range missing {
		if err := s.store.InsertPendingRemoval(ctx, name); err != nil {
			return nil, err
		}
	}
	if len(missing) > 0 {
		sklog.Infof("Tombstoned %d galleries missing from disk.", len(missing))
	}
	return missing, nil
}

// DrainPendingRemovals processes every tombstone: the gallery's archive is
// deleted, then its rows (cascading), then the tombstone itself. Safe to
// rerun after a crash at any point.
func (s *Scanner) DrainPendingRemovals(ctx context.Context) error {
	defer timer.New("scan.DrainPendingRemovals").Stop()
	names, err := s.store.SelectPendingRemovals(ctx)
	if err != nil {
		return err
	}
	for _, name := range names {
		if err := s.removeArchive(ctx, name); err != nil {
			return err
		}
		if err := s.store.DeleteGallery(ctx, name); err != nil {
			return err
		}
		if err := s.store.DeletePendingRemoval(ctx, name); err != nil {
			return err
		}
		sklog.Infof("Removed gallery %q.", name)
	}
	return nil
}

// removeArchive deletes the CBZ for a gallery name, if archives are
// configured. The exact path depends on the upload time; when the gallery
// rows are already gone (a tombstone left by a crashed ingest) the archive
// is found by searching the tree instead.
func (s *Scanner) removeArchive(ctx context.Context, name string) error {
	if s.cfg.CBZPath == "" {
		return nil
	}
	builder := cbz.NewBuilder(s.cfg)
	id, err := s.store.GetGalleryID(ctx, name)
	if err == nil {
		uploadTime, terr := s.store.GetUploadTime(ctx, id)
		if terr == nil {
			return removeFile(builder.ArchivePath(name, uploadTime))
		}
		if !sqldb.IsNotFound(terr) {
			return terr
		}
	} else if !sqldb.IsNotFound(err) {
		return err
	}
	base := cbz.SanitizeName(name) + cbz.Extension
	return filepath.WalkDir(s.cfg.CBZPath, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() || d.Name() != base {
			return err
		}
		return removeFile(path)
	})
}

func removeFile(path string) error {
	err := os.Remove(path)
	if err != nil && !os.IsNotExist(err) {
		return skerr.Wrap(err)
	}
	if err == nil {
		sklog.Debugf("Deleted archive %s.", path)
	}
	return nil
}

// RefreshHashDictionaries deletes unreferenced digests from every hash
// dictionary, one goroutine per algorithm. All failures are reported, not
// just the first.
func (s *Scanner) RefreshHashDictionaries(ctx context.Context) error {
	defer timer.New("scan.RefreshHashDictionaries").Stop()
	errs := make([]error, len(hashes.All))
	var eg errgroup.Group
	for i, a := range hashes.All {
		i, a := i, a
		eg.Go(func() error {
			n, err := s.store.DeleteOrphanHashes(ctx, a.Name)
			if err != nil {
				errs[i] = skerr.Wrapf(err, "pruning %s dictionary", a.Name)
				return nil
			}
			if n > 0 {
				sklog.Debugf("Pruned %d orphan %s digests.", n, a.Name)
			}
			return nil
		})
	}
	_ = eg.Wait()
	var ret *multierror.Error
	for _, err := range errs {
		if err != nil {
			ret = multierror.Append(ret, err)
		}
	}
	return ret.ErrorOrNil()
}

// RefreshCBZTree deletes archives whose gallery folder no longer exists
// and then prunes directories left empty, repeating until nothing more can
// be removed.
func (s *Scanner) RefreshCBZTree(folders []string) error {
	defer timer.New("scan.RefreshCBZTree").Stop()
	if s.cfg.CBZPath == "" || !fileutil.DirExists(s.cfg.CBZPath) {
		return nil
	}
	want := util.NewStringSet()
	for _, f := range folders {
		want[cbz.SanitizeName(filepath.Base(f))+cbz.Extension] = true
	}
	err := filepath.WalkDir(s.cfg.CBZPath, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		if filepath.Ext(path) == cbz.Extension && !want[d.Name()] {
			sklog.Infof("Deleting stale archive %s.", path)
			return removeFile(path)
		}
		return nil
	})
	if err != nil {
		return skerr.Wrap(err)
	}
	return s.pruneEmptyDirs()
}

// pruneEmptyDirs removes empty directories under cbz_path, looping because
// removing a leaf can empty its parent.
func (s *Scanner) pruneEmptyDirs() error {
	for {
		removedAny := false
		var dirs []string
		err := filepath.WalkDir(s.cfg.CBZPath, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() && path != s.cfg.CBZPath {
				dirs = append(dirs, path)
			}
			return nil
		})
		if err != nil {
			return skerr.Wrap(err)
		}
		for _, dir := range dirs {
			removed, err := fileutil.RemoveIfEmpty(dir)
			if err != nil {
				return err
			}
			removedAny = removedAny || removed
		}
		if !removedAny {
			return nil
		}
	}
}

// OptimizeDatabase runs OPTIMIZE TABLE on every table referenced by a
// foreign key plus the per-gallery time tables.
func (s *Scanner) OptimizeDatabase(ctx context.Context) error {
	defer timer.New("scan.OptimizeDatabase").Stop()
	tables, err := s.store.SelectForeignKeyTables(ctx)
	if err != nil {
		return err
	}
	all := util.NewStringSet(tables)
	for _, t := range schema.TimeTables {
		all[t] = true
	}
	for _, table := range all.SortedKeys() {
		if err := s.store.OptimizeTable(ctx, table); err != nil {
			return skerr.Wrapf(err, "optimizing %s", table)
		}
	}
	return nil
}
