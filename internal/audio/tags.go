package audio

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"

	"github.com/bogem/id3v2/v2"
)

// ErrUnsupportedFormat is returned when tags cannot be embedded into a payload
var ErrUnsupportedFormat = errors.New("tag embedding is only supported for mp3")

// Tags are the text frames written into a saved track
type Tags struct {
	Title   string
	Artists string
	Album   string
	Year    int
	Genre   string
}

// EmbedTags returns a copy of an MP3 payload whose ID3v2 tag carries the given frames
// (TIT2, TPE1, TALB, TYER, TCON). Frames of an existing tag that are not overwritten,
// such as attached pictures, are kept. The tag is written as ID3v2.3.
func EmbedTags(data []byte, t Tags) ([]byte, error) {
	if Detect(data) != FormatMP3 {
		return nil, ErrUnsupportedFormat
	}

	size, err := id3v2Size(data)
	if err != nil {
		return nil, err
	}

	var tag *id3v2.Tag
	if size > 0 {
		tag, err = id3v2.ParseReader(bytes.NewReader(data[:size]), id3v2.Options{Parse: true})
		if err != nil {
			return nil, fmt.Errorf("parse existing tag: %w", err)
		}
	} else {
		tag = id3v2.NewEmptyTag()
	}

	tag.SetVersion(3)
	tag.SetDefaultEncoding(id3v2.EncodingUTF16)
	if t.Title != "" {
		tag.SetTitle(t.Title)
	}
	if t.Artists != "" {
		tag.SetArtist(t.Artists)
	}
	if t.Album != "" {
		tag.SetAlbum(t.Album)
	}
	if t.Year > 0 {
		tag.SetYear(strconv.Itoa(t.Year))
	}
	if t.Genre != "" {
		tag.SetGenre(t.Genre)
	}

	var buf bytes.Buffer
	buf.Grow(len(data) + 1024)
	if _, err := tag.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("write tag: %w", err)
	}
	buf.Write(data[size:])
	return buf.Bytes(), nil
}

// id3v2Size returns the length in bytes of a leading ID3v2 tag, or zero when there is none.
func id3v2Size(data []byte) (int, error) {
	if len(data) < 10 || string(data[0:3]) != "ID3" {
		return 0, nil
	}
	var size int
	for _, b := range data[6:10] {
		if b&0x80 != 0 {
			return 0, errors.New("malformed id3v2 size")
		}
		size = size<<7 | int(b)
	}
	size += 10
	if data[5]&0x10 != 0 { // footer present
		size += 10
	}
	if size > len(data) {
		return 0, errors.New("truncated id3v2 tag")
	}
	return size, nil
}
