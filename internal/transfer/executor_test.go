package transfer

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/dhowden/tag"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"cassette/internal/queue"
	"cassette/internal/storage"
	"cassette/pkg/models"
)

func mp3Frames(n int) []byte {
	frame := make([]byte, 417)
	frame[0], frame[1], frame[2], frame[3] = 0xFF, 0xFB, 0x90, 0x00
	return bytes.Repeat(frame, n)
}

// fakeCatalog serves metadata for queue enqueue and maps storage refs to URLs.
type fakeCatalog struct {
	base   string
	album  *models.Album
	failed map[string]bool
}

func (f *fakeCatalog) Track(context.Context, string) (*models.Track, error) {
	return nil, errors.New("not used")
}

func (f *fakeCatalog) Album(context.Context, string) (*models.Album, error) {
	return f.album, nil
}

func (f *fakeCatalog) Playlist(context.Context, string, string) (*models.Playlist, error) {
	return nil, errors.New("not used")
}

func (f *fakeCatalog) TrackURL(_ context.Context, storageDir string) (string, error) {
	if f.failed[storageDir] {
		return "", errors.New("no download info")
	}
	return f.base + "/files/" + storageDir, nil
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

func TestAlbumEndToEnd(t *testing.T) {
	audioData := mp3Frames(20)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/files/ok1", "/files/ok2":
			w.Write(audioData)
		case "/files/html":
			w.Write([]byte("<html>login required</html>"))
		case "/covers/400x400":
			w.Write([]byte{0xFF, 0xD8, 0xFF, 0xE0})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	tracks := []models.Track{
		{ID: "1", Title: "One", Artists: []models.Artist{{Name: "Band"}}, StorageDir: "ok1", FileSize: int64(len(audioData))},
		{ID: "2", Title: "Two", Artists: []models.Artist{{Name: "Band"}}, StorageDir: "missing"},
		{ID: "3", Title: "Three", Artists: []models.Artist{{Name: "Band"}}, StorageDir: "html"},
		{ID: "4", Title: "Four", Artists: []models.Artist{{Name: "Band"}}, StorageDir: "nourl"},
		{ID: "5", Title: "Five", Version: "Live", Artists: []models.Artist{{Name: "Band"}}, StorageDir: "ok2",
			Albums: []models.AlbumRef{{Title: "Record", Year: 2001, Genre: "rock"}}},
	}
	catalog := &fakeCatalog{
		base: srv.URL,
		album: &models.Album{
			ID:       "a",
			Title:    "Record",
			Artists:  []models.Artist{{Name: "Band"}},
			CoverURI: srv.URL + "/covers/%%",
			Volumes:  [][]models.Track{tracks},
		},
		failed: map[string]bool{"nourl": true},
	}

	saver, err := storage.NewSaver(t.TempDir(), quietLogger())
	if err != nil {
		t.Fatal(err)
	}
	exec := New(catalog, saver, Options{Timeout: 5 * time.Second, EmbedTags: true}, quietLogger())
	defer exec.Close()

	q := queue.New(catalog, exec, queue.DefaultOptions(), quietLogger())

	albumID, err := q.EnqueueAlbum(context.Background(), "a", "")
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := q.Wait(ctx); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}

	entries := q.Entries()
	if len(entries) != 2 {
		t.Fatalf("entries = %d", len(entries))
	}
	if entries[0].Kind != queue.KindCover || entries[0].Status != queue.StatusFinished {
		t.Errorf("cover entry = %+v", entries[0])
	}
	if _, err := os.Stat(filepath.Join(saver.Root(), "Band - Record", "cover.jpg")); err != nil {
		t.Errorf("cover not saved: %v", err)
	}

	album, _ := q.Entry(albumID)
	want := []queue.Status{
		queue.StatusFinished,
		queue.StatusInterrupted,
		queue.StatusInterrupted,
		queue.StatusInterrupted,
		queue.StatusFinished,
	}
	for i, tr := range album.Tracks {
		if tr.Status != want[i] {
			t.Errorf("track %d status = %s (%s), want %s", i+1, tr.Status, tr.Error, want[i])
		}
	}
	if q.Active() != 0 {
		t.Errorf("active = %d, want 0", q.Active())
	}

	saved, err := os.ReadFile(filepath.Join(saver.Root(), "Band - Record", "05 Band - Five (Live).mp3"))
	if err != nil {
		t.Fatalf("saved track missing: %v", err)
	}
	if !bytes.HasSuffix(saved, audioData) {
		t.Error("saved track lost its audio frames")
	}
	m, err := tag.ReadFrom(bytes.NewReader(saved))
	if err != nil {
		t.Fatalf("saved track has no tag: %v", err)
	}
	if m.Title() != "Five (Live)" || m.Artist() != "Band" || m.Album() != "Record" || m.Year() != 2001 {
		t.Errorf("tags = %q / %q / %q / %d", m.Title(), m.Artist(), m.Album(), m.Year())
	}

	first := album.Tracks[0]
	if first.Handle == 0 || first.Loaded <= int64(len(audioData)) {
		t.Errorf("first track handle/loaded = %d/%d", first.Handle, first.Loaded)
	}
	if first.Path != "Band - Record/01 Band - One.mp3" {
		t.Errorf("first track path = %q", first.Path)
	}
}

type recordingReporter struct {
	mu          sync.Mutex
	progress    []int64
	finished    *queue.Result
	interrupted error
	done        chan struct{}
}

func newRecordingReporter() *recordingReporter {
	return &recordingReporter{done: make(chan struct{})}
}

func (r *recordingReporter) Progress(_ uuid.UUID, loaded int64) {
	r.mu.Lock()
	r.progress = append(r.progress, loaded)
	r.mu.Unlock()
}

func (r *recordingReporter) Finish(_ uuid.UUID, res queue.Result) {
	r.finished = &res
	close(r.done)
}

func (r *recordingReporter) Interrupt(_ uuid.UUID, err error) {
	r.interrupted = err
	close(r.done)
}

func TestTransferTrackReportsProgress(t *testing.T) {
	audioData := mp3Frames(400) // larger than one read chunk
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(audioData)
	}))
	defer srv.Close()

	saver, err := storage.NewSaver(t.TempDir(), quietLogger())
	if err != nil {
		t.Fatal(err)
	}
	exec := New(&fakeCatalog{base: srv.URL}, saver, Options{}, quietLogger())
	defer exec.Close()

	r := newRecordingReporter()
	exec.TransferTrack(queue.TrackJob{EntityID: uuid.New(), StorageDir: "x", Path: "x.mp3"}, r)
	<-r.done

	if r.interrupted != nil {
		t.Fatalf("interrupted: %v", r.interrupted)
	}
	if r.finished.Bytes != int64(len(audioData)) {
		t.Errorf("bytes = %d, want %d", r.finished.Bytes, len(audioData))
	}
	if len(r.progress) < 2 {
		t.Errorf("progress reported %d times", len(r.progress))
	}
	if last := r.progress[len(r.progress)-1]; last != int64(len(audioData)) {
		t.Errorf("last progress = %d", last)
	}
	for i := 1; i < len(r.progress); i++ {
		if r.progress[i] < r.progress[i-1] {
			t.Fatalf("progress went backwards: %v", r.progress)
		}
	}
}

func TestCloseAbortsTransfers(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	saver, err := storage.NewSaver(t.TempDir(), quietLogger())
	if err != nil {
		t.Fatal(err)
	}
	exec := New(&fakeCatalog{base: srv.URL}, saver, Options{}, quietLogger())

	r := newRecordingReporter()
	exec.TransferCover(queue.CoverJob{EntityID: uuid.New(), URL: srv.URL + "/slow", Path: "cover.jpg"}, r)

	time.Sleep(20 * time.Millisecond)
	exec.Close()

	select {
	case <-r.done:
	case <-time.After(2 * time.Second):
		t.Fatal("transfer did not report after Close")
	}
	if r.interrupted == nil {
		t.Error("aborted transfer reported success")
	}
}

func TestFetchSizeLimits(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/huge-header":
			w.Header().Set("Content-Length", "1099511627776")
			w.Write([]byte("ID3"))
		case "/streamed":
			for i := 0; i < 4; i++ {
				w.Write(bytes.Repeat([]byte{'x'}, 1024))
				w.(http.Flusher).Flush()
			}
		case "/small":
			w.Write([]byte("ID3"))
		}
	}))
	defer srv.Close()

	tests := []struct {
		name     string
		path     string
		maxBytes int64
		sizeHint int64
		wantErr  error
	}{
		{name: "advertised length over default limit", path: "/huge-header", wantErr: ErrTooLarge},
		{name: "streamed body over limit", path: "/streamed", maxBytes: 2048, wantErr: ErrTooLarge},
		{name: "streamed body within limit", path: "/streamed", maxBytes: 8192},
		{name: "huge size hint", path: "/small", sizeHint: 1 << 40},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			exec := New(nil, nil, Options{MaxBytes: tt.maxBytes}, quietLogger())
			defer exec.Close()

			data, err := exec.fetch(context.Background(), srv.URL+tt.path, tt.sizeHint, nil)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("fetch() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("fetch() error = %v", err)
			}
			if len(data) == 0 {
				t.Error("fetch() returned no data")
			}
		})
	}
}

// blockingCatalog never resolves a URL until its context ends
type blockingCatalog struct{}

func (blockingCatalog) TrackURL(ctx context.Context, _ string) (string, error) {
	<-ctx.Done()
	return "", ctx.Err()
}

func TestTransferTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(300 * time.Millisecond):
		case <-r.Context().Done():
			return
		}
		w.Write([]byte{0xFF, 0xD8, 0xFF, 0xE0})
	}))
	defer srv.Close()

	saver, err := storage.NewSaver(t.TempDir(), quietLogger())
	if err != nil {
		t.Fatal(err)
	}

	t.Run("slow cover is interrupted", func(t *testing.T) {
		exec := New(nil, saver, Options{Timeout: 50 * time.Millisecond}, quietLogger())
		defer exec.Close()

		r := newRecordingReporter()
		exec.TransferCover(queue.CoverJob{EntityID: uuid.New(), URL: srv.URL, Path: "slow.jpg"}, r)
		<-r.done
		if !errors.Is(r.interrupted, context.DeadlineExceeded) {
			t.Errorf("interrupted = %v, want deadline exceeded", r.interrupted)
		}
	})

	t.Run("zero disables the timeout", func(t *testing.T) {
		exec := New(nil, saver, Options{}, quietLogger())
		defer exec.Close()

		r := newRecordingReporter()
		exec.TransferCover(queue.CoverJob{EntityID: uuid.New(), URL: srv.URL, Path: "patient.jpg"}, r)
		<-r.done
		if r.interrupted != nil {
			t.Errorf("interrupted = %v", r.interrupted)
		}
	})

	t.Run("url resolution counts against the timeout", func(t *testing.T) {
		exec := New(blockingCatalog{}, saver, Options{Timeout: 50 * time.Millisecond}, quietLogger())
		defer exec.Close()

		r := newRecordingReporter()
		exec.TransferTrack(queue.TrackJob{EntityID: uuid.New(), StorageDir: "x", Path: "x.mp3"}, r)
		select {
		case <-r.done:
		case <-time.After(2 * time.Second):
			t.Fatal("transfer not bounded by timeout")
		}
		if !errors.Is(r.interrupted, context.DeadlineExceeded) {
			t.Errorf("interrupted = %v, want deadline exceeded", r.interrupted)
		}
	})
}
