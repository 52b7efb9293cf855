package queue

import (
	"github.com/google/uuid"

	"cassette/pkg/models"
)

// Status is the lifecycle state of a downloadable leaf (track or cover)
type Status string

const (
	StatusWaiting     Status = "waiting"
	StatusLoading     Status = "loading"
	StatusFinished    Status = "finished"
	StatusInterrupted Status = "interrupted"
)

// Terminal reports whether no further transition can leave s.
func (s Status) Terminal() bool {
	return s == StatusFinished || s == StatusInterrupted
}

// Kind names the entity variant
type Kind string

const (
	KindTrack    Kind = "track"
	KindCover    Kind = "cover"
	KindAlbum    Kind = "album"
	KindPlaylist Kind = "playlist"
)

// Entity is one queued unit of work. The set of implementations is closed:
// *Track, *Cover, *Album and *Playlist.
type Entity interface {
	EntityID() uuid.UUID
	Kind() Kind
	sealed()
}

// Track is a single downloadable track
type Track struct {
	ID      uuid.UUID
	Status  Status
	Loaded  int64
	Meta    models.Track
	Title   string // title with version
	Artists string
	SaveDir string
	Prefix  string // ordinal within the parent collection
	Path    string // relative save path, fixed at dispatch
	Handle  int64
	Err     string
}

// Cover is album art saved next to the album tracks
type Cover struct {
	ID       uuid.UUID
	Status   Status
	URL      string
	Filename string
	Handle   int64
	Err      string
}

// Album groups the tracks of one album. It has no status of its own.
type Album struct {
	ID         uuid.UUID
	AlbumID    string
	Title      string
	Artists    string
	SaveDir    string
	Size       int64
	DurationMs int64
	Tracks     []*Track
}

// Playlist groups the tracks of one playlist. It has no status of its own.
type Playlist struct {
	ID         uuid.UUID
	Owner      string
	PlaylistID string
	Title      string
	SaveDir    string
	Size       int64
	DurationMs int64
	Tracks     []*Track
}

func (t *Track) EntityID() uuid.UUID    { return t.ID }
func (c *Cover) EntityID() uuid.UUID    { return c.ID }
func (a *Album) EntityID() uuid.UUID    { return a.ID }
func (p *Playlist) EntityID() uuid.UUID { return p.ID }

func (*Track) Kind() Kind    { return KindTrack }
func (*Cover) Kind() Kind    { return KindCover }
func (*Album) Kind() Kind    { return KindAlbum }
func (*Playlist) Kind() Kind { return KindPlaylist }

func (*Track) sealed()    {}
func (*Cover) sealed()    {}
func (*Album) sealed()    {}
func (*Playlist) sealed() {}

// InProgress reports whether any child track is still waiting or loading.
func (a *Album) InProgress() bool { return inProgress(a.Tracks) }

// InProgress reports whether any child track is still waiting or loading.
func (p *Playlist) InProgress() bool { return inProgress(p.Tracks) }

func inProgress(tracks []*Track) bool {
	for _, t := range tracks {
		if !t.Status.Terminal() {
			return true
		}
	}
	return false
}

// Entry is a read-only snapshot of an entity as exposed to the UI.
type Entry struct {
	ID         uuid.UUID `json:"id"`
	Position   int       `json:"position"`
	Kind       Kind      `json:"kind"`
	Status     Status    `json:"status,omitempty"`
	Title      string    `json:"title"`
	Artists    string    `json:"artists,omitempty"`
	Loaded     int64     `json:"loaded"`
	Size       int64     `json:"size"`
	DurationMs int64     `json:"durationMs,omitempty"`
	Path       string    `json:"path,omitempty"`
	Handle     int64     `json:"handle,omitempty"`
	Error      string    `json:"error,omitempty"`
	InProgress bool      `json:"inProgress"`
	Tracks     []Entry   `json:"tracks,omitempty"`
}

func snapshot(e Entity, position int) Entry {
	switch v := e.(type) {
	case *Track:
		return trackEntry(v, position)
	case *Cover:
		return Entry{
			ID:         v.ID,
			Position:   position,
			Kind:       KindCover,
			Status:     v.Status,
			Title:      v.Filename,
			Path:       v.Filename,
			Handle:     v.Handle,
			Error:      v.Err,
			InProgress: !v.Status.Terminal(),
		}
	case *Album:
		return containerEntry(v.ID, KindAlbum, position, v.Title, v.Artists, v.Size, v.DurationMs, v.SaveDir, v.Tracks)
	case *Playlist:
		return containerEntry(v.ID, KindPlaylist, position, v.Title, v.Owner, v.Size, v.DurationMs, v.SaveDir, v.Tracks)
	}
	return Entry{Position: position}
}

func trackEntry(t *Track, position int) Entry {
	return Entry{
		ID:         t.ID,
		Position:   position,
		Kind:       KindTrack,
		Status:     t.Status,
		Title:      t.Title,
		Artists:    t.Artists,
		Loaded:     t.Loaded,
		Size:       t.Meta.FileSize,
		DurationMs: t.Meta.DurationMs,
		Path:       t.Path,
		Handle:     t.Handle,
		Error:      t.Err,
		InProgress: !t.Status.Terminal(),
	}
}

func containerEntry(id uuid.UUID, kind Kind, position int, title, artists string, size, duration int64, dir string, tracks []*Track) Entry {
	e := Entry{
		ID:         id,
		Position:   position,
		Kind:       kind,
		Title:      title,
		Artists:    artists,
		Size:       size,
		DurationMs: duration,
		Path:       dir,
		InProgress: inProgress(tracks),
		Tracks:     make([]Entry, 0, len(tracks)),
	}
	for _, t := range tracks {
		child := trackEntry(t, position)
		e.Loaded += t.Loaded
		e.Tracks = append(e.Tracks, child)
	}
	return e
}
