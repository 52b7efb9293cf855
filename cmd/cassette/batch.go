package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"cassette/internal/queue"
)

// BatchAlbum is one album line of a batch file
type BatchAlbum struct {
	ID     string `yaml:"id"`
	Artist string `yaml:"artist,omitempty"`
}

// BatchPlaylist is one playlist line of a batch file
type BatchPlaylist struct {
	Owner string `yaml:"owner"`
	ID    string `yaml:"id"`
}

// BatchFile lists everything a batch run queues, in file order per section
type BatchFile struct {
	Tracks    []string        `yaml:"tracks"`
	Albums    []BatchAlbum    `yaml:"albums"`
	Playlists []BatchPlaylist `yaml:"playlists"`
}

// errBatchPartial is returned when some batch items could not be queued
var errBatchPartial = errors.New("some batch items could not be queued")

func newBatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "batch YAML_FILE",
		Short: "Queue tracks, albums and playlists listed in a YAML file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("error reading YAML file: %w", err)
			}
			batch, err := parseBatch(data)
			if err != nil {
				return err
			}
			return runOneShot(batch.enqueue)
		},
	}
}

func parseBatch(data []byte) (*BatchFile, error) {
	var batch BatchFile
	if err := yaml.Unmarshal(data, &batch); err != nil {
		return nil, fmt.Errorf("error parsing YAML file: %w", err)
	}
	if batch.Len() == 0 {
		return nil, errors.New("no tracks, albums or playlists found in the batch file")
	}
	for i, a := range batch.Albums {
		if a.ID == "" {
			return nil, fmt.Errorf("albums[%d]: id is required", i)
		}
	}
	for i, p := range batch.Playlists {
		if p.Owner == "" || p.ID == "" {
			return nil, fmt.Errorf("playlists[%d]: owner and id are required", i)
		}
	}
	return &batch, nil
}

// Len counts the items in the batch
func (b *BatchFile) Len() int {
	return len(b.Tracks) + len(b.Albums) + len(b.Playlists)
}

// enqueue queues every item, continuing past failures. It fails only if nothing was queued.
func (b *BatchFile) enqueue(ctx context.Context, q *queue.Queue) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	var failed int
	keep := func(id uuid.UUID, err error, what string) {
		if err != nil {
			failed++
			PrintWarning(fmt.Sprintf("Skipping %s: %v", what, err))
			return
		}
		ids = append(ids, id)
	}

	for _, t := range b.Tracks {
		id, err := q.EnqueueTrack(ctx, t)
		keep(id, err, "track "+t)
	}
	for _, a := range b.Albums {
		id, err := q.EnqueueAlbum(ctx, a.ID, a.Artist)
		keep(id, err, "album "+a.ID)
	}
	for _, p := range b.Playlists {
		id, err := q.EnqueuePlaylist(ctx, p.Owner, p.ID)
		keep(id, err, "playlist "+p.Owner+"/"+p.ID)
	}

	if failed > 0 {
		return ids, fmt.Errorf("%w: %d of %d", errBatchPartial, failed, b.Len())
	}
	return ids, nil
}
