package ingest

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"go.h2hdb.org/infra/go/sklog"
	"go.h2hdb.org/infra/go/timer"
	"go.h2hdb.org/infra/go/util"
	"go.h2hdb.org/infra/go/workerpool"
	"go.h2hdb.org/infra/h2hdb/go/cbz"
	"go.h2hdb.org/infra/h2hdb/go/config"
	"go.h2hdb.org/infra/h2hdb/go/galleryinfo"
	"go.h2hdb.org/infra/h2hdb/go/hashes"
	"go.h2hdb.org/infra/h2hdb/go/scan"
	"go.h2hdb.org/infra/h2hdb/go/store"
)

const (
	// rescanInterval is how long a pass sleeps before rescanning when the
	// previous pass ingested something.
	rescanInterval = 1800 * time.Second

	// ingestRate caps folder ingests per second across all workers, so a
	// full re-ingest does not monopolize the database.
	ingestRate  = rate.Limit(50)
	ingestBurst = 10
)

// MediaSyncer is the optional media-server hook run after each pass.
// *komga.Syncer implements it.
type MediaSyncer interface {
	Sync(ctx context.Context) error
}

// Orchestrator runs complete passes: reconcile the disk against the
// database, ingest changed galleries in parallel, rebuild archives, prune
// dictionaries and sync the media server.
type Orchestrator struct {
	cfg      config.H2HConfig
	store    *store.Store
	scanner  *scan.Scanner
	ingestor *Ingestor
	builder  *cbz.Builder
	media    MediaSyncer
	limiter  *rate.Limiter
	workers  int

	lastDupCount int
	exclude      cbz.ExcludeSet
}

// NewOrchestrator wires an Orchestrator. media may be nil when no media
// server is configured; archives are only built when cfg.CBZPath is set.
func NewOrchestrator(cfg config.H2HConfig, st *store.Store, media MediaSyncer) *Orchestrator {
	o := &Orchestrator{
		cfg:          cfg,
		store:        st,
		scanner:      scan.New(st, cfg),
		ingestor:     NewIngestor(st),
		media:        media,
		limiter:      rate.NewLimiter(ingestRate, ingestBurst),
		workers:      config.WorkerLimit(),
		lastDupCount: -1,
	}
	if cfg.CBZPath != "" {
		o.builder = cbz.NewBuilder(cfg)
	}
	return o
}

// Run executes passes until one ingests nothing, sleeping between passes,
// then runs the OPTIMIZE maintenance step once.
func (o *Orchestrator) Run(ctx context.Context) error {
	for {
		inserted, err := o.RunOnce(ctx)
		if err != nil {
			return err
		}
		if inserted == 0 {
			break
		}
		sklog.Infof("Pass ingested %d galleries, sleeping %s before rescan.", inserted, rescanInterval)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(rescanInterval):
		}
	}
	return o.scanner.OptimizeDatabase(ctx)
}

// RunOnce executes one full pass and returns how many galleries it
// ingested.
func (o *Orchestrator) RunOnce(ctx context.Context) (int, error) {
	defer timer.New("ingest.RunOnce").Stop()

	// Leftover tombstones from a crashed run go first, so a half-written
	// gallery is cleaned up before we try to re-ingest it.
	if err := o.scanner.DrainPendingRemovals(ctx); err != nil {
		return 0, err
	}
	folders, err := o.scanner.ListGalleryFolders()
	if err != nil {
		return 0, err
	}
	if _, err := o.scanner.ReconcileRemoved(ctx, folders); err != nil {
		return 0, err
	}
	if err := o.scanner.DrainPendingRemovals(ctx); err != nil {
		return 0, err
	}
	if err := o.scanner.RefreshCBZTree(folders); err != nil {
		return 0, err
	}

	sortWorkList(folders, o.cfg.CBZSort)

	total := 0
	chunkSize := 100 * o.workers
	err = util.ChunkIter(len(folders), chunkSize, func(start, end int) error {
		n, err := o.ingestChunk(ctx, folders[start:end])
		total += n
		if err != nil {
			return err
		}
		if o.builder != nil {
			return o.compressChunk(ctx, folders[start:end])
		}
		return nil
	})
	if err != nil {
		return total, err
	}

	if err := o.scanner.RefreshHashDictionaries(ctx); err != nil {
		return total, err
	}
	if o.media != nil {
		if err := o.media.Sync(ctx); err != nil {
			return total, err
		}
	}
	if err := o.refreshTodownloadQueue(ctx); err != nil {
		return total, err
	}
	if n, err := o.store.ResetRedownloadTimes(ctx); err != nil {
		return total, err
	} else if n > 0 {
		sklog.Infof("Reset %d redownload clocks.", n)
	}
	return total, nil
}

// refreshTodownloadQueue enqueues every gid the retry-policy view considers
// due for a refetch, for the external fetcher to pick up. Gids known to be
// permanently gone upstream are skipped; the empty URL means "any URL" and
// never downgrades one already queued.
func (o *Orchestrator) refreshTodownloadQueue(ctx context.Context) error {
	gids, err := o.store.SelectPendingDownloadGIDs(ctx)
	if err != nil {
		return err
	}
	queued := 0
	for _, gid := range gids {
		removed, err := o.store.CheckRemovedGID(ctx, gid)
		if err != nil {
			return err
		}
		if removed {
			continue
		}
		if err := o.store.InsertTodownloadGID(ctx, gid, ""); err != nil {
			return err
		}
		queued++
	}
	if queued > 0 {
		sklog.Infof("Queued %d gids for refetch.", queued)
	}
	return nil
}

// ingestChunk ingests the chunk's folders on the worker pool, returning
// how many were actually (re)written.
func (o *Orchestrator) ingestChunk(ctx context.Context, folders []string) (int, error) {
	var (
		mtx      sync.Mutex
		inserted int
		firstErr error
	)
	pool := workerpool.New(o.workers)
	for _, folder := range folders {
		folder := folder
		pool.Go(func() {
			if err := o.limiter.Wait(ctx); err != nil {
				mtx.Lock()
				defer mtx.Unlock()
				if firstErr == nil {
					firstErr = err
				}
				return
			}
			ok, err := o.ingestor.InsertGalleryInfo(ctx, folder)
			mtx.Lock()
			defer mtx.Unlock()
			if err != nil {
				sklog.Errorf("Ingest of %s failed: %s", folder, err)
				if firstErr == nil {
					firstErr = err
				}
				return
			}
			if ok {
				inserted++
			}
		})
	}
	pool.Wait()
	return inserted, firstErr
}

// compressChunk rebuilds the chunk's archives on the worker pool. The
// boilerplate exclusion set is refetched only when the duplicate count
// moved since the last fetch.
func (o *Orchestrator) compressChunk(ctx context.Context, folders []string) error {
	if err := o.refreshExcludeSet(ctx); err != nil {
		return err
	}
	var (
		mtx      sync.Mutex
		firstErr error
	)
	pool := workerpool.New(o.workers)
	for _, folder := range folders {
		folder := folder
		pool.Go(func() {
			if err := o.compressFolder(folder); err != nil {
				sklog.Errorf("CBZ build for %s failed: %s", folder, err)
				mtx.Lock()
				defer mtx.Unlock()
				if firstErr == nil {
					firstErr = err
				}
			}
		})
	}
	pool.Wait()
	return firstErr
}

func (o *Orchestrator) compressFolder(folder string) error {
	info, err := galleryinfo.Parse(folder)
	if err != nil {
		return err
	}
	sidecar, err := os.ReadFile(filepath.Join(folder, galleryinfo.FileName))
	if err != nil {
		return err
	}
	digest := hashes.Compute(hashes.SHA512, sidecar)
	_, err = o.builder.Compress(folder, info.UploadTime, o.exclude, digest)
	return err
}

// refreshExcludeSet refetches the boilerplate digests when the duplicate
// count changed. Counting is much cheaper than materializing the
// artist-ratio view.
func (o *Orchestrator) refreshExcludeSet(ctx context.Context) error {
	count, err := o.store.CountDuplicatedHashes(ctx)
	if err != nil {
		return err
	}
	if count == o.lastDupCount {
		return nil
	}
	values, err := o.store.GetDuplicatedHashValues(ctx)
	if err != nil {
		return err
	}
	o.exclude = cbz.NewExcludeSet(values)
	o.lastDupCount = count
	sklog.Debugf("Exclusion set refreshed: %d digests.", len(o.exclude))
	return nil
}

// sortWorkList orders the ingest work list in place by the configured key.
// gid and title sort descending, upload_time and download_time newest
// first, and "pages+N" puts galleries whose file count is closest to N
// first.
func sortWorkList(folders []string, key string) {
	switch {
	case key == config.SortNone:
		return
	case key == config.SortTitle:
		sort.SliceStable(folders, func(a, b int) bool {
			return baseName(folders[a]) > baseName(folders[b])
		})
	case key == config.SortGID:
		sort.SliceStable(folders, func(a, b int) bool {
			return gidOf(folders[a]) > gidOf(folders[b])
		})
	case key == config.SortUploadTime || key == config.SortDownloadTime:
		times := make(map[string]time.Time, len(folders))
		for _, f := range folders {
			times[f] = sidecarTime(f, key)
		}
		// Newest first.
		sort.SliceStable(folders, func(a, b int) bool {
			return times[folders[a]].After(times[folders[b]])
		})
	default:
		pivot, ok := config.ParsePagesSort(key)
		if !ok {
			return
		}
		counts := make(map[string]int, len(folders))
		for _, f := range folders {
			counts[f] = fileCount(f)
		}
		sort.SliceStable(folders, func(a, b int) bool {
			return util.AbsInt(counts[folders[a]]-pivot) < util.AbsInt(counts[folders[b]]-pivot)
		})
	}
}

func baseName(folder string) string {
	return filepath.Base(folder)
}

func gidOf(folder string) uint32 {
	gid, err := galleryinfo.ParseGID(baseName(folder))
	if err != nil {
		return 0
	}
	return gid
}

func sidecarTime(folder, key string) time.Time {
	info, err := galleryinfo.Parse(folder)
	if err != nil {
		return time.Time{}
	}
	if key == config.SortDownloadTime {
		return info.DownloadTime
	}
	return info.UploadTime
}

func fileCount(folder string) int {
	entries, err := os.ReadDir(folder)
	if err != nil {
		return 0
	}
	n := 0
	for _, e := range entries {
		if e.Type().IsRegular() {
			n++
		}
	}
	return n
}
