package queue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"cassette/internal/metrics"
	"cassette/internal/naming"
	"cassette/pkg/models"
)

var (
	// ErrEmptyCollection is returned when an album or playlist has no downloadable tracks.
	ErrEmptyCollection = errors.New("collection has no downloadable tracks")
	// ErrNotFound is returned for identifiers that are not (or no longer) in the queue.
	ErrNotFound = errors.New("entry not found")
	// ErrUnavailable is returned when the catalog flags a requested track with an error.
	ErrUnavailable = errors.New("track is unavailable")
)

// Resolver fetches catalog metadata
type Resolver interface {
	Track(ctx context.Context, id string) (*models.Track, error)
	Album(ctx context.Context, id string) (*models.Album, error)
	Playlist(ctx context.Context, owner, id string) (*models.Playlist, error)
}

// Journal stores terminal outcomes
type Journal interface {
	RecordDownload(ctx context.Context, rec models.DownloadRecord) error
}

// Options are the live queue settings
type Options struct {
	Limit             int    // simultaneous transfers
	TrackNameMask     string // see naming.ApplyMask
	NumberLists       bool   // prefix album/playlist tracks with their ordinal
	DownloadCovers    bool
	CoverSize         string // substituted for %% in cover URIs, e.g. "400x400"
	HoldSlotOnSuccess bool   // successful transfers keep their slot
}

// DefaultOptions returns the settings used when none are configured
func DefaultOptions() Options {
	return Options{
		Limit:          4,
		TrackNameMask:  naming.DefaultMask,
		NumberLists:    true,
		DownloadCovers: true,
		CoverSize:      "400x400",
	}
}

type leaf struct {
	track *Track
	cover *Cover
}

// Queue is an insertion-ordered list of download entities with a bounded
// number of simultaneously active transfers. It is safe for concurrent use.
type Queue struct {
	mu      sync.Mutex
	order   []uuid.UUID          // every entry ever appended, in insertion order
	entries map[uuid.UUID]Entity // surviving entries; removed ones are absent
	leaves  map[uuid.UUID]leaf   // every track and cover, including children of containers
	active  int
	opts    Options
	changed chan struct{}

	journaling int // journal writes in flight

	resolver Resolver
	executor Executor
	journal  Journal
	logger   *logrus.Logger
}

// New creates an empty queue
func New(resolver Resolver, executor Executor, opts Options, logger *logrus.Logger) *Queue {
	if logger == nil {
		logger = logrus.New()
	}
	if opts.Limit < 1 {
		opts.Limit = 1
	}
	return &Queue{
		entries:  make(map[uuid.UUID]Entity),
		leaves:   make(map[uuid.UUID]leaf),
		opts:     opts,
		changed:  make(chan struct{}),
		resolver: resolver,
		executor: executor,
		logger:   logger,
	}
}

// SetJournal attaches a journal receiving every terminal outcome
func (q *Queue) SetJournal(j Journal) {
	q.mu.Lock()
	q.journal = j
	q.mu.Unlock()
}

// Options returns the current settings
func (q *Queue) Options() Options {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.opts
}

// SetOptions replaces the settings and fills any slots a larger limit opened up.
// Lowering the limit never interrupts running transfers.
func (q *Queue) SetOptions(opts Options) {
	if opts.Limit < 1 {
		opts.Limit = 1
	}
	q.mu.Lock()
	q.opts = opts
	q.mu.Unlock()

	q.logger.WithField("limit", opts.Limit).Info("Download queue options updated")
	q.DispatchAll()
}

// EnqueueTrack resolves a single track and appends it to the queue.
func (q *Queue) EnqueueTrack(ctx context.Context, id string) (uuid.UUID, error) {
	meta, err := q.resolver.Track(ctx, id)
	if err != nil {
		q.logger.WithError(err).WithField("track_id", id).Error("Failed to resolve track")
		return uuid.Nil, fmt.Errorf("resolve track %s: %w", id, err)
	}
	if meta.Error != "" {
		q.logger.WithFields(logrus.Fields{"track_id": id, "error": meta.Error}).Error("Track is unavailable")
		return uuid.Nil, fmt.Errorf("track %s: %w: %s", id, ErrUnavailable, meta.Error)
	}

	t := newTrack(*meta, "", "")

	q.mu.Lock()
	q.appendLocked(t)
	q.mu.Unlock()

	metrics.Enqueued.WithLabelValues(string(KindTrack)).Inc()
	q.logger.WithFields(logrus.Fields{"entity_id": t.ID, "title": t.Title}).Info("Track queued")
	q.DispatchOne()
	return t.ID, nil
}

// EnqueueAlbum resolves an album and appends its cover (when enabled) followed by
// the album container. label nests the album directory under a grouping folder,
// typically the discography artist.
func (q *Queue) EnqueueAlbum(ctx context.Context, id, label string) (uuid.UUID, error) {
	meta, err := q.resolver.Album(ctx, id)
	if err != nil {
		q.logger.WithError(err).WithField("album_id", id).Error("Failed to resolve album")
		return uuid.Nil, fmt.Errorf("resolve album %s: %w", id, err)
	}

	opts := q.Options()
	album := &Album{
		ID:      uuid.New(),
		AlbumID: id,
		Title:   meta.FullTitle(),
		Artists: naming.JoinArtists(meta.Artists),
	}
	album.SaveDir = naming.AlbumDir(album.Artists, album.Title, label)

	volumes := len(meta.Volumes)
	for v, volume := range meta.Volumes {
		accepted := q.acceptTracks(volume, logrus.Fields{"album_id": id})
		dir := naming.VolumeDir(album.SaveDir, v+1, volumes)
		for i, tr := range accepted {
			t := newTrack(tr, dir, naming.Ordinal(i+1, len(accepted)))
			album.Size += tr.FileSize
			album.DurationMs += tr.DurationMs
			album.Tracks = append(album.Tracks, t)
		}
	}
	if len(album.Tracks) == 0 {
		q.logger.WithField("album_id", id).Error("Album has no downloadable tracks")
		return uuid.Nil, fmt.Errorf("album %s: %w", id, ErrEmptyCollection)
	}

	var cover *Cover
	if opts.DownloadCovers && meta.CoverURI != "" {
		cover = &Cover{
			ID:       uuid.New(),
			Status:   StatusWaiting,
			URL:      CoverURL(meta.CoverURI, opts.CoverSize),
			Filename: naming.Join(album.SaveDir, "cover.jpg"),
		}
	}

	q.mu.Lock()
	if cover != nil {
		q.appendLocked(cover)
	}
	q.appendLocked(album)
	q.mu.Unlock()

	if cover != nil {
		metrics.Enqueued.WithLabelValues(string(KindCover)).Inc()
	}
	metrics.Enqueued.WithLabelValues(string(KindTrack)).Add(float64(len(album.Tracks)))
	q.logger.WithFields(logrus.Fields{
		"entity_id": album.ID,
		"title":     album.Title,
		"tracks":    len(album.Tracks),
		"cover":     cover != nil,
	}).Info("Album queued")

	q.DispatchAll()
	return album.ID, nil
}

// EnqueuePlaylist resolves a user playlist and appends it as one container.
func (q *Queue) EnqueuePlaylist(ctx context.Context, owner, id string) (uuid.UUID, error) {
	meta, err := q.resolver.Playlist(ctx, owner, id)
	if err != nil {
		q.logger.WithError(err).WithFields(logrus.Fields{"owner": owner, "playlist_id": id}).Error("Failed to resolve playlist")
		return uuid.Nil, fmt.Errorf("resolve playlist %s/%s: %w", owner, id, err)
	}

	playlist := &Playlist{
		ID:         uuid.New(),
		Owner:      owner,
		PlaylistID: id,
		Title:      meta.Title,
		SaveDir:    naming.CleanPath(meta.Title),
	}
	accepted := q.acceptTracks(meta.Tracks, logrus.Fields{"owner": owner, "playlist_id": id})
	for i, tr := range accepted {
		t := newTrack(tr, playlist.SaveDir, naming.Ordinal(i+1, len(accepted)))
		playlist.Size += tr.FileSize
		playlist.DurationMs += tr.DurationMs
		playlist.Tracks = append(playlist.Tracks, t)
	}
	if len(playlist.Tracks) == 0 {
		q.logger.WithFields(logrus.Fields{"owner": owner, "playlist_id": id}).Error("Playlist has no downloadable tracks")
		return uuid.Nil, fmt.Errorf("playlist %s/%s: %w", owner, id, ErrEmptyCollection)
	}

	q.mu.Lock()
	q.appendLocked(playlist)
	q.mu.Unlock()

	metrics.Enqueued.WithLabelValues(string(KindTrack)).Add(float64(len(playlist.Tracks)))
	q.logger.WithFields(logrus.Fields{
		"entity_id": playlist.ID,
		"title":     playlist.Title,
		"tracks":    len(playlist.Tracks),
	}).Info("Playlist queued")

	q.DispatchAll()
	return playlist.ID, nil
}

// acceptTracks drops tracks flagged with an upstream error, logging each one.
func (q *Queue) acceptTracks(tracks []models.Track, fields logrus.Fields) []models.Track {
	accepted := make([]models.Track, 0, len(tracks))
	for _, tr := range tracks {
		if tr.Error != "" {
			q.logger.WithFields(fields).WithFields(logrus.Fields{
				"track_id": tr.ID,
				"error":    tr.Error,
			}).Warn("Skipping unavailable track")
			continue
		}
		accepted = append(accepted, tr)
	}
	return accepted
}

func newTrack(meta models.Track, dir, prefix string) *Track {
	return &Track{
		ID:      uuid.New(),
		Status:  StatusWaiting,
		Meta:    meta,
		Title:   meta.FullTitle(),
		Artists: naming.JoinArtists(meta.Artists),
		SaveDir: dir,
		Prefix:  prefix,
	}
}

// CoverURL expands a catalog cover URI for the requested size.
func CoverURL(uri, size string) string {
	uri = strings.Replace(uri, "%%", size, 1)
	if strings.HasPrefix(uri, "http://") || strings.HasPrefix(uri, "https://") {
		return uri
	}
	return "https://" + uri
}

func (q *Queue) appendLocked(e Entity) {
	q.order = append(q.order, e.EntityID())
	q.entries[e.EntityID()] = e

	switch v := e.(type) {
	case *Track:
		q.leaves[v.ID] = leaf{track: v}
	case *Cover:
		q.leaves[v.ID] = leaf{cover: v}
	case *Album:
		for _, t := range v.Tracks {
			q.leaves[t.ID] = leaf{track: t}
		}
	case *Playlist:
		for _, t := range v.Tracks {
			q.leaves[t.ID] = leaf{track: t}
		}
	}
	q.notifyLocked()
}

// Remove tombstones a top-level entry. Positions of the other entries do not change.
// Transfers already running for it complete normally and still release their slot.
func (q *Queue) Remove(id uuid.UUID) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, ok := q.entries[id]; !ok {
		return ErrNotFound
	}
	delete(q.entries, id)
	q.notifyLocked()
	q.logger.WithField("entity_id", id).Info("Queue entry removed")
	return nil
}

// Position returns the insertion index of a top-level entry.
func (q *Queue) Position(id uuid.UUID) (int, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, ok := q.entries[id]; !ok {
		return 0, false
	}
	for i, oid := range q.order {
		if oid == id {
			return i, true
		}
	}
	return 0, false
}

// Entries returns a snapshot of all surviving entries in queue order.
func (q *Queue) Entries() []Entry {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]Entry, 0, len(q.entries))
	for i, id := range q.order {
		if e, ok := q.entries[id]; ok {
			out = append(out, snapshot(e, i))
		}
	}
	return out
}

// Entry returns the snapshot of a single top-level entry.
func (q *Queue) Entry(id uuid.UUID) (Entry, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	e, ok := q.entries[id]
	if !ok {
		return Entry{}, false
	}
	for i, oid := range q.order {
		if oid == id {
			return snapshot(e, i), true
		}
	}
	return Entry{}, false
}

// Stats counts leaves of surviving entries by status.
type Stats struct {
	Waiting     int `json:"waiting"`
	Loading     int `json:"loading"`
	Finished    int `json:"finished"`
	Interrupted int `json:"interrupted"`
	Active      int `json:"active"`
	Limit       int `json:"limit"`
}

// Stats returns the current counters
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.statsLocked()
}

func (q *Queue) statsLocked() Stats {
	s := Stats{Active: q.active, Limit: q.opts.Limit}
	count := func(st Status) {
		switch st {
		case StatusWaiting:
			s.Waiting++
		case StatusLoading:
			s.Loading++
		case StatusFinished:
			s.Finished++
		case StatusInterrupted:
			s.Interrupted++
		}
	}
	for _, e := range q.entries {
		switch v := e.(type) {
		case *Track:
			count(v.Status)
		case *Cover:
			count(v.Status)
		case *Album:
			for _, t := range v.Tracks {
				count(t.Status)
			}
		case *Playlist:
			for _, t := range v.Tracks {
				count(t.Status)
			}
		}
	}
	return s
}

// Wait blocks until no surviving entry has a waiting or loading leaf and every
// outcome has been journaled, or ctx ends.
func (q *Queue) Wait(ctx context.Context) error {
	for {
		q.mu.Lock()
		s := q.statsLocked()
		journaling := q.journaling
		changed := q.changed
		q.mu.Unlock()

		if s.Waiting == 0 && s.Loading == 0 && journaling == 0 {
			return nil
		}
		select {
		case <-changed:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (q *Queue) notifyLocked() {
	close(q.changed)
	q.changed = make(chan struct{})
}
