package catalog

import (
	"context"
	"crypto/md5"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/sirupsen/logrus"

	"cassette/pkg/models"
)

// Track returns the metadata of a single track.
func (c *Client) Track(ctx context.Context, id string) (*models.Track, error) {
	if t, ok := c.cache.GetTrack(id); ok {
		return t, nil
	}
	var env envelope[models.Track]
	if err := c.getJSON(ctx, "track", escape("tracks", id), &env); err != nil {
		return nil, err
	}
	if env.Result.ID == "" {
		env.Result.ID = id
	}
	c.cache.SetTrack(id, &env.Result)
	return &env.Result, nil
}

// Album returns an album together with its tracks grouped by volume.
func (c *Client) Album(ctx context.Context, id string) (*models.Album, error) {
	if a, ok := c.cache.GetAlbum(id); ok {
		return a, nil
	}
	var env envelope[models.Album]
	if err := c.getJSON(ctx, "album", escape("albums", id, "with-tracks"), &env); err != nil {
		return nil, err
	}
	album := &env.Result
	if album.ID == "" {
		album.ID = id
	}
	fillAlbumRefs(album)

	c.logger.WithFields(logrus.Fields{
		"album_id": id,
		"title":    album.Title,
		"volumes":  len(album.Volumes),
		"tracks":   album.TrackCount(),
	}).Debug("Album resolved")
	c.cache.SetAlbum(id, album)
	return album, nil
}

// Playlist returns a user's playlist with its tracks.
func (c *Client) Playlist(ctx context.Context, owner, id string) (*models.Playlist, error) {
	if p, ok := c.cache.GetPlaylist(owner, id); ok {
		return p, nil
	}
	var env envelope[models.Playlist]
	if err := c.getJSON(ctx, "playlist", escape("users", owner, "playlists", id), &env); err != nil {
		return nil, err
	}
	playlist := &env.Result
	if playlist.Owner == "" {
		playlist.Owner = owner
	}
	if playlist.Kind == "" {
		playlist.Kind = id
	}
	c.cache.SetPlaylist(owner, id, playlist)
	return playlist, nil
}

// fillAlbumRefs gives tracks listed inside an album a reference back to it when the
// catalog omitted one, so that tags can name the album.
func fillAlbumRefs(album *models.Album) {
	ref := models.AlbumRef{Title: album.FullTitle(), Year: album.Year, Genre: album.Genre}
	for v := range album.Volumes {
		for i := range album.Volumes[v] {
			if len(album.Volumes[v][i].Albums) == 0 {
				album.Volumes[v][i].Albums = []models.AlbumRef{ref}
			}
		}
	}
}

type downloadInfo struct {
	Src string `json:"src"`
}

type fileLocation struct {
	Host string `json:"host"`
	Path string `json:"path"`
	TS   string `json:"ts"`
	S    string `json:"s"`
}

// TrackURL resolves a track storage reference into a signed, directly fetchable URL.
// The catalog first returns a locator, which is then asked for the file host and
// signing salt.
func (c *Client) TrackURL(ctx context.Context, storageDir string) (string, error) {
	if storageDir == "" {
		return "", errors.New("track has no storage reference")
	}

	var env envelope[downloadInfo]
	if err := c.getJSON(ctx, "download_info", escape("download-info", storageDir), &env); err != nil {
		return "", err
	}
	if env.Result.Src == "" {
		return "", errors.New("download info has no source")
	}

	src, err := url.Parse(env.Result.Src)
	if err != nil {
		return "", fmt.Errorf("invalid download source: %w", err)
	}
	q := src.Query()
	q.Set("format", "json")
	src.RawQuery = q.Encode()

	var loc fileLocation
	if err := c.getJSON(ctx, "file_location", src.String(), &loc); err != nil {
		return "", err
	}
	if loc.Host == "" || loc.Path == "" {
		return "", errors.New("file location is incomplete")
	}

	return SignedURL(c.secret, loc.Host, loc.Path, loc.TS, loc.S), nil
}

// SignedURL builds the final download URL for a file location.
func SignedURL(secret, host, path, ts, s string) string {
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	sign := md5.Sum([]byte(secret + path[1:] + s))
	return fmt.Sprintf("https://%s/get-mp3/%x/%s%s", host, sign, ts, path)
}
