package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"cassette/internal/queue"
)

var albumArtist string

func newTrackCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "track TRACK_ID",
		Short: "Download a single track",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOneShot(func(ctx context.Context, q *queue.Queue) ([]uuid.UUID, error) {
				id, err := q.EnqueueTrack(ctx, args[0])
				return []uuid.UUID{id}, err
			})
		},
	}
}

func newAlbumCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "album ALBUM_ID",
		Short: "Download an album with its cover",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOneShot(func(ctx context.Context, q *queue.Queue) ([]uuid.UUID, error) {
				id, err := q.EnqueueAlbum(ctx, args[0], albumArtist)
				return []uuid.UUID{id}, err
			})
		},
	}
	cmd.Flags().StringVarP(&albumArtist, "artist", "a", "", "Group the album under this artist folder")
	return cmd
}

func newPlaylistCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "playlist OWNER PLAYLIST_ID",
		Short: "Download a user playlist",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOneShot(func(ctx context.Context, q *queue.Queue) ([]uuid.UUID, error) {
				id, err := q.EnqueuePlaylist(ctx, args[0], args[1])
				return []uuid.UUID{id}, err
			})
		},
	}
}

// enqueueFunc queues work and returns the ids of the created entries
type enqueueFunc func(ctx context.Context, q *queue.Queue) ([]uuid.UUID, error)

// runOneShot wires the pipeline, queues work, waits for the queue to drain and
// prints a summary. Ctrl-C aborts running transfers.
func runOneShot(enqueue enqueueFunc) error {
	cfg, logger, closer, err := loadRuntime()
	if err != nil {
		return err
	}
	defer closer.Close()

	a, err := newApp(cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ids, err := enqueue(ctx, a.queue)
	if err != nil && !hasID(ids) {
		return err
	}

	if waitErr := a.queue.Wait(ctx); waitErr != nil {
		PrintWarning("Interrupted, aborting running transfers")
		a.executor.Close()
	}

	var entries []queue.Entry
	for _, id := range ids {
		if e, ok := a.queue.Entry(id); ok {
			entries = append(entries, e)
		}
	}
	summary := printSummary(os.Stdout, entries, a.saver.Root())
	if summary.Failed > 0 {
		return fmt.Errorf("%d of %d downloads failed", summary.Failed, summary.Total)
	}
	return err
}

func hasID(ids []uuid.UUID) bool {
	for _, id := range ids {
		if id != uuid.Nil {
			return true
		}
	}
	return false
}
