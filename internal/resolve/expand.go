package resolve

import (
	"context"
	"fmt"
	"time"

	"github.com/slapglif/clippyb/internal/classify"
	"github.com/slapglif/clippyb/internal/queue"
)

// Expansion is the result of turning submitted text into queue items.
type Expansion struct {
	Items    []queue.Item `json:"items"`
	Rejected []string     `json:"rejected,omitempty"`
}

// Expand turns submitted text into queue items. Each non-empty line is
// one request; typ forces the item type, otherwise it is inferred. Spotify
// playlists and albums become one item per track. Lines that are URLs of
// unsupported sites are returned in Rejected.
func (s *Service) Expand(ctx context.Context, text string, typ queue.ItemType) (Expansion, error) {
	lines := classify.Lines(text)
	var out Expansion

	for _, line := range lines {
		t := typ
		if t == "" {
			var ok bool
			if t, ok = classify.Classify(line); !ok {
				out.Rejected = append(out.Rejected, line)
				continue
			}
		}

		if t == queue.TypeSpotifyPlaylist {
			if kind, _, ok := classify.SpotifyID(line); ok && kind != "track" {
				items, err := s.expandPlaylist(ctx, line)
				if err != nil {
					return Expansion{}, err
				}
				out.Items = append(out.Items, items...)
				continue
			}
		}
		out.Items = append(out.Items, queue.NewItem(line, t, nil))
	}

	if len(lines) > 1 {
		s.labelBatch(out.Items)
	}
	return out, nil
}

func (s *Service) expandPlaylist(ctx context.Context, url string) ([]queue.Item, error) {
	pl, err := s.pages.SpotifyPlaylist(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("expanding playlist %s: %w", url, err)
	}
	items := make([]queue.Item, 0, len(pl.Tracks))
	for i, track := range pl.Tracks {
		items = append(items, queue.NewItem(track, queue.TypeSpotifyPlaylist, &queue.Metadata{
			PlaylistName: pl.Name,
			TotalTracks:  len(pl.Tracks),
			TrackIndex:   i + 1,
		}))
	}
	s.logger.Info("playlist expanded", "url", url, "name", pl.Name, "tracks", len(items))
	return items, nil
}

// labelBatch gives items from a multi-line submission a shared batch name
// and their position, leaving playlist members alone.
func (s *Service) labelBatch(items []queue.Item) {
	name := "Batch " + s.now().Format(time.DateTime)
	for i := range items {
		if items[i].Metadata != nil {
			continue
		}
		items[i].Metadata = &queue.Metadata{
			PlaylistName: name,
			TotalTracks:  len(items),
			TrackIndex:   i + 1,
		}
	}
}
