package wx

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"
)

// AssemblePayload runs the three upstream fetches concurrently and joins
// them into one immutable payload. All three must succeed; the first
// failure cancels the remaining fetches and fails the whole assembly —
// a partial payload is never produced.
func (c *Client) AssemblePayload(ctx context.Context, stationIDs, tafIDs []string, hours int, now time.Time) (*Payload, error) {
	var (
		metars []METAR
		tafs   []TAF
		asos   []ASOSRow
	)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		var err error
		metars, err = c.FetchMETARs(gctx, stationIDs)
		if err != nil {
			return fmt.Errorf("metar: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		tafs, err = c.FetchTAFs(gctx, tafIDs)
		if err != nil {
			return fmt.Errorf("taf: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		asos, err = c.FetchASOS(gctx, stationIDs)
		if err != nil {
			return fmt.Errorf("asos: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}

	return &Payload{
		FetchedAt: now.UTC(),
		METARs:    metars,
		Timelines: BuildTimelines(tafs, tafIDs, hours, now),
		ASOS:      asos,
	}, nil
}

// WithOverrideTargets extends the station id set with the override
// targets it needs, deduplicated and in stable order, so overridden
// timelines are available to the router.
func WithOverrideTargets(ids []string, overrides map[string]string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	for _, id := range ids {
		target, ok := overrides[id]
		if !ok || seen[target] {
			continue
		}
		seen[target] = true
		out = append(out, target)
	}
	return out
}
