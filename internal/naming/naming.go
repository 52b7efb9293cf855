package naming

import (
	"strconv"
	"strings"
	"unicode"

	"cassette/pkg/models"
)

// Mask tokens recognised in track name masks
const (
	TitleToken   = "#TITLE#"
	ArtistsToken = "#ARTISTS#"
)

// DefaultMask names files "Artists - Title"
const DefaultMask = ArtistsToken + " - " + TitleToken

var invalidChars = []string{"/", "\\", ":", "*", "?", "\"", "<", ">", "|"}

// CleanPath turns a single path component into something every filesystem accepts.
// Invalid characters become underscores, control characters are dropped, runs of
// whitespace collapse to one space and leading/trailing spaces and dots are trimmed.
func CleanPath(name string) string {
	result := name
	for _, char := range invalidChars {
		result = strings.ReplaceAll(result, char, "_")
	}

	var b strings.Builder
	space := false
	for _, r := range result {
		if unicode.IsControl(r) {
			continue
		}
		if unicode.IsSpace(r) {
			space = true
			continue
		}
		if space && b.Len() > 0 {
			b.WriteByte(' ')
		}
		space = false
		b.WriteRune(r)
	}

	result = strings.Trim(b.String(), " .")
	if result == "" {
		return "_"
	}
	return result
}

// JoinArtists renders an artist list the way it appears in file names and tags.
func JoinArtists(artists []models.Artist) string {
	names := make([]string, 0, len(artists))
	for _, a := range artists {
		if name := strings.TrimSpace(a.Name); name != "" {
			names = append(names, name)
		}
	}
	return strings.Join(names, ", ")
}

// Ordinal zero-pads a 1-based position to the width of total, never narrower than two digits,
// so that lexical and numeric order agree.
func Ordinal(position, total int) string {
	width := len(strconv.Itoa(total))
	if width < 2 {
		width = 2
	}
	s := strconv.Itoa(position)
	if len(s) >= width {
		return s
	}
	return strings.Repeat("0", width-len(s)) + s
}

// ApplyMask expands the title and artist tokens of mask.
func ApplyMask(mask, title, artists string) string {
	if mask == "" {
		mask = DefaultMask
	}
	out := strings.ReplaceAll(mask, TitleToken, title)
	return strings.ReplaceAll(out, ArtistsToken, artists)
}

// TrackFile builds the cleaned file name of a track (with the .mp3 extension).
// prefix is prepended with a space when it is non-empty.
func TrackFile(mask, title, artists, prefix string) string {
	name := ApplyMask(mask, title, artists)
	if prefix != "" {
		name = prefix + " " + name
	}
	return CleanPath(name) + ".mp3"
}

// AlbumDir is the directory an album is saved to, optionally nested under a grouping label.
func AlbumDir(artists, title, label string) string {
	dir := CleanPath(artists + " - " + title)
	if strings.TrimSpace(label) != "" {
		return CleanPath(label) + "/" + dir
	}
	return dir
}

// VolumeDir returns the per-disc subdirectory of a multi-volume album.
func VolumeDir(albumDir string, volume, volumes int) string {
	if volumes <= 1 {
		return albumDir
	}
	return albumDir + "/CD" + strconv.Itoa(volume)
}

// Join concatenates relative path components with forward slashes, skipping empty ones.
func Join(parts ...string) string {
	kept := parts[:0:0]
	for _, p := range parts {
		if p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, "/")
}
