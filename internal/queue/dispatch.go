package queue

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"cassette/internal/metrics"
	"cassette/internal/naming"
	"cassette/pkg/models"
)

// Tags are the frames embedded into a saved track
type Tags struct {
	Title   string
	Artists string
	Album   string
	Year    int
	Genre   string
}

// TrackJob describes one track transfer. It is a copy; executors never touch queue state.
type TrackJob struct {
	EntityID   uuid.UUID
	TrackID    string
	StorageDir string
	Size       int64
	Path       string // relative to the download directory
	Tags       Tags
}

// CoverJob describes one cover transfer
type CoverJob struct {
	EntityID uuid.UUID
	URL      string
	Path     string
}

// Result is reported by an executor when a transfer was saved
type Result struct {
	Handle int64  // opaque download handle returned by the saver
	Bytes  int64  // bytes written
	Path   string // final relative path, may differ from the requested one
}

// Reporter receives transfer outcomes. Reports for leaves that are not loading are ignored.
type Reporter interface {
	Progress(id uuid.UUID, loaded int64)
	Finish(id uuid.UUID, res Result)
	Interrupt(id uuid.UUID, err error)
}

// Executor performs transfers. Implementations may report synchronously.
type Executor interface {
	TransferTrack(job TrackJob, r Reporter)
	TransferCover(job CoverJob, r Reporter)
}

// FindNextWaiting returns the first waiting leaf in queue order, descending into
// containers child by child. Containers themselves are never returned.
func (q *Queue) FindNextWaiting() (Entry, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	e, pos := q.findNextWaitingLocked()
	if e == nil {
		return Entry{}, false
	}
	return snapshot(e, pos), true
}

func (q *Queue) findNextWaitingLocked() (Entity, int) {
	for i, id := range q.order {
		e, ok := q.entries[id]
		if !ok {
			continue
		}
		switch v := e.(type) {
		case *Track:
			if v.Status == StatusWaiting {
				return v, i
			}
		case *Cover:
			if v.Status == StatusWaiting {
				return v, i
			}
		case *Album:
			if t := firstWaiting(v.Tracks); t != nil {
				return t, i
			}
		case *Playlist:
			if t := firstWaiting(v.Tracks); t != nil {
				return t, i
			}
		}
	}
	return nil, 0
}

func firstWaiting(tracks []*Track) *Track {
	for _, t := range tracks {
		if t.Status == StatusWaiting {
			return t
		}
	}
	return nil
}

// DispatchOne starts the next waiting leaf if a slot is free. It reports whether
// a transfer was started.
func (q *Queue) DispatchOne() bool {
	q.mu.Lock()
	start := q.claimLocked()
	q.mu.Unlock()

	if start == nil {
		return false
	}
	start()
	return true
}

// DispatchAll calls DispatchOne once per configured slot and returns how many transfers started.
func (q *Queue) DispatchAll() int {
	started := 0
	for i := 0; i < q.Options().Limit; i++ {
		if q.DispatchOne() {
			started++
		}
	}
	return started
}

// claimLocked marks the next waiting leaf as loading and returns the call that hands
// it to the executor. The call must run after the lock is released.
func (q *Queue) claimLocked() func() {
	if q.active >= q.opts.Limit {
		return nil
	}
	e, _ := q.findNextWaitingLocked()
	if e == nil {
		return nil
	}

	q.active++
	metrics.Active.Set(float64(q.active))
	q.notifyLocked()

	switch v := e.(type) {
	case *Track:
		v.Status = StatusLoading
		v.Path = q.trackPathLocked(v)
		job := TrackJob{
			EntityID:   v.ID,
			TrackID:    v.Meta.ID,
			StorageDir: v.Meta.StorageDir,
			Size:       v.Meta.FileSize,
			Path:       v.Path,
			Tags:       trackTags(v),
		}
		metrics.Started.WithLabelValues(string(KindTrack)).Inc()
		q.logger.WithFields(logrus.Fields{"entity_id": v.ID, "path": v.Path, "active": q.active}).Debug("Track transfer started")
		return func() { q.executor.TransferTrack(job, q) }
	case *Cover:
		v.Status = StatusLoading
		job := CoverJob{EntityID: v.ID, URL: v.URL, Path: v.Filename}
		metrics.Started.WithLabelValues(string(KindCover)).Inc()
		q.logger.WithFields(logrus.Fields{"entity_id": v.ID, "path": v.Filename, "active": q.active}).Debug("Cover transfer started")
		return func() { q.executor.TransferCover(job, q) }
	}
	return nil
}

func (q *Queue) trackPathLocked(t *Track) string {
	prefix := ""
	if q.opts.NumberLists {
		prefix = t.Prefix
	}
	return naming.Join(t.SaveDir, naming.TrackFile(q.opts.TrackNameMask, t.Title, t.Artists, prefix))
}

func trackTags(t *Track) Tags {
	tags := Tags{Title: t.Title, Artists: t.Artists}
	if len(t.Meta.Albums) > 0 {
		a := t.Meta.Albums[0]
		tags.Album = a.Title
		tags.Year = a.Year
		tags.Genre = a.Genre
	}
	return tags
}

// Progress records the number of bytes received so far for a loading track.
func (q *Queue) Progress(id uuid.UUID, loaded int64) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if l, ok := q.leaves[id]; ok && l.track != nil && l.track.Status == StatusLoading {
		l.track.Loaded = loaded
	}
}

// Finish marks a loading leaf as finished. Unless slots are held on success,
// the slot is released and the next waiting leaf is dispatched.
func (q *Queue) Finish(id uuid.UUID, res Result) {
	q.mu.Lock()
	l, ok := q.leaves[id]
	if !ok || l.status() != StatusLoading {
		q.mu.Unlock()
		return
	}

	var rec models.DownloadRecord
	switch {
	case l.track != nil:
		l.track.Status = StatusFinished
		l.track.Handle = res.Handle
		l.track.Loaded = res.Bytes
		if res.Path != "" {
			l.track.Path = res.Path
		}
		rec = record(id, KindTrack, l.track.Title, l.track.Path, StatusFinished, res.Bytes, "")
	case l.cover != nil:
		l.cover.Status = StatusFinished
		l.cover.Handle = res.Handle
		if res.Path != "" {
			l.cover.Filename = res.Path
		}
		rec = record(id, KindCover, l.cover.Filename, l.cover.Filename, StatusFinished, res.Bytes, "")
	}

	release := !q.opts.HoldSlotOnSuccess
	if release {
		q.releaseLocked()
	}
	q.notifyLocked()
	journal := q.beginJournalLocked()
	q.mu.Unlock()

	metrics.Finished.WithLabelValues(rec.Kind).Inc()
	metrics.Bytes.Add(float64(res.Bytes))
	q.logger.WithFields(logrus.Fields{"entity_id": id, "path": rec.Path, "bytes": res.Bytes}).Info("Download finished")
	q.journalRecord(journal, rec)

	if release {
		q.DispatchOne()
	}
}

// Interrupt marks a loading leaf as interrupted, frees its slot and dispatches the
// next waiting leaf before returning. There is no retry.
func (q *Queue) Interrupt(id uuid.UUID, err error) {
	q.mu.Lock()
	l, ok := q.leaves[id]
	if !ok || l.status() != StatusLoading {
		q.mu.Unlock()
		return
	}

	msg := "interrupted"
	if err != nil {
		msg = err.Error()
	}

	var rec models.DownloadRecord
	switch {
	case l.track != nil:
		l.track.Status = StatusInterrupted
		l.track.Err = msg
		rec = record(id, KindTrack, l.track.Title, l.track.Path, StatusInterrupted, l.track.Loaded, msg)
	case l.cover != nil:
		l.cover.Status = StatusInterrupted
		l.cover.Err = msg
		rec = record(id, KindCover, l.cover.Filename, l.cover.Filename, StatusInterrupted, 0, msg)
	}
	q.releaseLocked()
	q.notifyLocked()
	journal := q.beginJournalLocked()
	q.mu.Unlock()

	metrics.Interrupted.WithLabelValues(rec.Kind).Inc()
	q.logger.WithError(err).WithFields(logrus.Fields{"entity_id": id, "path": rec.Path}).Error("Download interrupted")
	q.journalRecord(journal, rec)

	q.DispatchOne()
}

func (q *Queue) releaseLocked() {
	if q.active > 0 {
		q.active--
	}
	metrics.Active.Set(float64(q.active))
}

// Active returns the number of occupied slots
func (q *Queue) Active() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.active
}

// beginJournalLocked counts a pending journal write so that Wait covers it.
func (q *Queue) beginJournalLocked() Journal {
	if q.journal != nil {
		q.journaling++
	}
	return q.journal
}

func (q *Queue) journalRecord(j Journal, rec models.DownloadRecord) {
	if j == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := j.RecordDownload(ctx, rec); err != nil {
		q.logger.WithError(err).WithField("entity_id", rec.EntityID).Warn("Failed to journal download")
	}

	q.mu.Lock()
	q.journaling--
	q.notifyLocked()
	q.mu.Unlock()
}

func (l leaf) status() Status {
	if l.track != nil {
		return l.track.Status
	}
	if l.cover != nil {
		return l.cover.Status
	}
	return ""
}

func record(id uuid.UUID, kind Kind, title, path string, status Status, bytes int64, errMsg string) models.DownloadRecord {
	return models.DownloadRecord{
		EntityID:   id.String(),
		Kind:       string(kind),
		Title:      title,
		Path:       path,
		Status:     string(status),
		Bytes:      bytes,
		Error:      errMsg,
		FinishedAt: time.Now(),
	}
}
