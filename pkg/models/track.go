package models

import "strings"

// Artist is a performer credited on a track or album
type Artist struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// AlbumRef is the album summary attached to a track
type AlbumRef struct {
	ID    int64  `json:"id"`
	Title string `json:"title"`
	Year  int    `json:"year,omitempty"`
	Genre string `json:"genre,omitempty"`
}

// Track represents a track as described by the remote catalog
type Track struct {
	ID         string     `json:"id"`
	Title      string     `json:"title"`
	Version    string     `json:"version,omitempty"`
	Artists    []Artist   `json:"artists"`
	Albums     []AlbumRef `json:"albums"`
	StorageDir string     `json:"storageDir"`
	FileSize   int64      `json:"fileSize"`
	DurationMs int64      `json:"durationMs"`
	Error      string     `json:"error,omitempty"` // set by the catalog when the track is unavailable
}

// FullTitle returns the title with the version appended in parentheses.
func (t Track) FullTitle() string {
	return withVersion(t.Title, t.Version)
}

// Album represents an album with its tracks grouped by volume (disc)
type Album struct {
	ID       string    `json:"id"`
	Title    string    `json:"title"`
	Version  string    `json:"version,omitempty"`
	Artists  []Artist  `json:"artists"`
	CoverURI string    `json:"coverUri,omitempty"`
	Year     int       `json:"year,omitempty"`
	Genre    string    `json:"genre,omitempty"`
	Volumes  [][]Track `json:"volumes"`
}

// FullTitle returns the album title with the version appended in parentheses.
func (a Album) FullTitle() string {
	return withVersion(a.Title, a.Version)
}

// TrackCount returns the number of tracks across all volumes
func (a Album) TrackCount() int {
	n := 0
	for _, v := range a.Volumes {
		n += len(v)
	}
	return n
}

// Playlist represents a user playlist
type Playlist struct {
	Owner  string  `json:"owner"`
	Kind   string  `json:"kind"`
	Title  string  `json:"title"`
	Tracks []Track `json:"tracks"`
}

func withVersion(title, version string) string {
	version = strings.TrimSpace(version)
	if version == "" {
		return title
	}
	return title + " (" + version + ")"
}
