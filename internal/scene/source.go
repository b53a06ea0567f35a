// Package scene supplies raw multi-band scenes for a collection and date
// range.
package scene

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/landcover/internal/raster"
)

// DateRange is an acquisition window. Both ends are inclusive at day
// resolution.
type DateRange struct {
	Start time.Time
	End   time.Time
}

// Contains reports whether t falls on or between the range's days.
func (r DateRange) Contains(t time.Time) bool {
	day := t.Truncate(24 * time.Hour)
	return !day.Before(r.Start.Truncate(24*time.Hour)) && !day.After(r.End.Truncate(24*time.Hour))
}

// Ref identifies one scene of a collection.
type Ref struct {
	Collection string    `json:"collection"`
	ID         string    `json:"id"`
	Acquired   time.Time `json:"acquired"`
	CRS        string    `json:"crs"`
	Width      int       `json:"width"`
	Height     int       `json:"height"`
}

// Source lists and loads scenes. Fetch returns references in acquisition
// order; Load materialises one scene with bands B1-B7 and pixel_qa. Calling
// Fetch again restarts the sequence.
type Source interface {
	Fetch(ctx context.Context, collectionID string, r DateRange) ([]Ref, error)
	Load(ctx context.Context, ref Ref) (*raster.Image, error)
}

// Each loads every scene in the range and hands it to fn, one at a time.
// It returns the number of scenes visited.
func Each(ctx context.Context, src Source, collectionID string, r DateRange, fn func(*raster.Image) error) (int, error) {
	refs, err := src.Fetch(ctx, collectionID, r)
	if err != nil {
		return 0, eris.Wrap(err, "scene: fetch")
	}

	for i, ref := range refs {
		if err := ctx.Err(); err != nil {
			return i, err
		}
		img, err := src.Load(ctx, ref)
		if err != nil {
			return i, eris.Wrapf(err, "scene: load %s", ref.ID)
		}
		if err := fn(img); err != nil {
			return i, err
		}
	}
	return len(refs), nil
}
