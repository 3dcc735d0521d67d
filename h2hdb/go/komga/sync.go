package komga

import (
	"context"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"go.h2hdb.org/infra/go/now"
	"go.h2hdb.org/infra/go/sklog"
	"go.h2hdb.org/infra/go/timer"
	"go.h2hdb.org/infra/go/util"
	"go.h2hdb.org/infra/h2hdb/go/sqldb"
	"go.h2hdb.org/infra/h2hdb/go/store"
)

// updateParallelism bounds concurrent metadata PATCHes.
const updateParallelism = 10

// MetadataSource resolves a gallery name to the metadata pushed into
// Komga and records when it was read. *store.Store implements it.
type MetadataSource interface {
	GetGalleryMetadata(ctx context.Context, name string) (*store.GalleryMetadata, error)
	TouchAccessTime(ctx context.Context, name string, t time.Time) error
}

// Syncer walks the Komga library and patches book and series metadata from
// the database. Books and series already patched are remembered across
// rounds so a steady-state sync only touches new archives.
type Syncer struct {
	client *Client
	src    MetadataSource

	mtx        sync.Mutex
	doneBooks  util.StringSet
	doneSeries util.StringSet
}

// NewSyncer returns a Syncer over the given client and metadata source.
func NewSyncer(client *Client, src MetadataSource) *Syncer {
	return &Syncer{
		client:     client,
		src:        src,
		doneBooks:  util.NewStringSet(),
		doneSeries: util.NewStringSet(),
	}
}

func (s *Syncer) bookDone(id string) bool {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	return s.doneBooks[id]
}

func (s *Syncer) markBookDone(id string) {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	s.doneBooks[id] = true
}

func (s *Syncer) seriesDone(id string) bool {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	return s.doneSeries[id]
}

func (s *Syncer) markSeriesDone(id string) {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	s.doneSeries[id] = true
}

// Sync triggers a library scan and then patches the metadata of every book
// and series not yet handled. Book updates run up to 10 at a time. A book
// whose gallery the database does not know is left untouched and retried
// next round.
func (s *Syncer) Sync(ctx context.Context) error {
	defer timer.New("komga.Sync").Stop()
	if err := s.client.ScanLibrary(ctx); err != nil {
		return err
	}
	sem := semaphore.NewWeighted(updateParallelism)
	for page := 0; ; page++ {
		series, last, err := s.client.GetSeries(ctx, page)
		if err != nil {
			return err
		}
		for _, sr := range series {
			if s.seriesDone(sr.ID) {
				continue
			}
			if err := s.syncSeries(ctx, sem, sr); err != nil {
				return err
			}
		}
		if last {
			return nil
		}
	}
}

// syncSeries patches every pending book of one series, then the series
// title. The series is memoized only when every one of its books has been
// handled, so a partially-synced series is revisited.
func (s *Syncer) syncSeries(ctx context.Context, sem *semaphore.Weighted, sr Series) error {
	var (
		wg       sync.WaitGroup
		mtx      sync.Mutex
		firstErr error
		complete = true
		title    string
	)
	for page := 0; ; page++ {
		books, last, err := s.client.GetBooks(ctx, sr.ID, page)
		if err != nil {
			return err
		}
		for _, b := range books {
			if s.bookDone(b.ID) {
				continue
			}
			if err := sem.Acquire(ctx, 1); err != nil {
				return err
			}
			wg.Add(1)
			b := b
			go func() {
				defer sem.Release(1)
				defer wg.Done()
				done, bookTitle, err := s.syncBook(ctx, b)
				mtx.Lock()
				defer mtx.Unlock()
				if err != nil && firstErr == nil {
					firstErr = err
				}
				if !done {
					complete = false
				} else if title == "" {
					title = bookTitle
				}
			}()
		}
		if last {
			break
		}
	}
	wg.Wait()
	if firstErr != nil {
		return firstErr
	}
	if !complete {
		return nil
	}
	if title != "" && title != sr.Metadata.Title {
		if err := s.client.UpdateSeriesMetadata(ctx, sr.ID, SeriesMetadata{Title: title}); err != nil {
			return err
		}
	}
	s.markSeriesDone(sr.ID)
	return nil
}

// syncBook brings one book's metadata up to date, patching only when it
// differs from what the server already holds. Returns done=false when the
// gallery is not in the database yet, and the release date used as the
// series title.
func (s *Syncer) syncBook(ctx context.Context, b Book) (done bool, seriesTitle string, err error) {
	meta, err := s.src.GetGalleryMetadata(ctx, b.Name)
	if err != nil {
		if sqldb.IsNotFound(err) {
			sklog.Debugf("Komga book %q has no gallery record yet, skipping.", b.Name)
			return false, "", nil
		}
		return false, "", err
	}
	releaseDate := meta.UploadTime.Format(ReleaseDateLayout)
	patch := BookMetadata{
		Title:       meta.Title,
		Summary:     meta.Summary,
		ReleaseDate: releaseDate,
		Authors:     authorsFromTags(meta.Tags),
	}
	// A book whose server metadata already matches is only memoized, so a
	// process restart does not re-patch the whole library.
	current, err := s.client.GetBookMetadata(ctx, b.ID)
	if err != nil {
		return false, "", err
	}
	if bookMetadataEqual(current, patch) {
		s.markBookDone(b.ID)
		return true, releaseDate, nil
	}
	if err := s.client.UpdateBookMetadata(ctx, b.ID, patch); err != nil {
		return false, "", err
	}
	if err := s.src.TouchAccessTime(ctx, b.Name, now.Now(ctx)); err != nil {
		sklog.Warningf("Could not touch access time for %q: %s", b.Name, err)
	}
	s.markBookDone(b.ID)
	return true, releaseDate, nil
}

// bookMetadataEqual reports whether two metadata snapshots agree, treating
// the author list as an unordered set.
func bookMetadataEqual(a, b BookMetadata) bool {
	if a.Title != b.Title || a.Summary != b.Summary || a.ReleaseDate != b.ReleaseDate || len(a.Authors) != len(b.Authors) {
		return false
	}
	byRole := func(authors []Author) []Author {
		s := append([]Author(nil), authors...)
		sort.Slice(s, func(i, j int) bool {
			if s[i].Role != s[j].Role {
				return s[i].Role < s[j].Role
			}
			return s[i].Name < s[j].Name
		})
		return s
	}
	as, bs := byRole(a.Authors), byRole(b.Authors)
	for i := range as {
		if as[i] != bs[i] {
			return false
		}
	}
	return true
}

// authorsFromTags turns the gallery's tag pairs into Komga authors, tag
// name as the role. Pairs with an empty value are dropped.
func authorsFromTags(tags []store.TagPair) []Author {
	authors := make([]Author, 0, len(tags))
	for _, t := range tags {
		if t.Value == "" {
			continue
		}
		authors = append(authors, Author{Name: t.Value, Role: t.Name})
	}
	return authors
}
