package partition

import (
	"context"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/sensordb/sensordb/sensordb/backend"
)

// Index translates a (sensors, assets, time range, tier) query into the
// ordered set of candidate partition paths on one backend.
type Index struct {
	backend backend.Backend
	logger  log.Logger

	// verifyExists filters candidates through Exists before emitting. Cheap
	// on the filesystem, wasteful against a blob store, where absent paths
	// are tolerated at read time instead.
	verifyExists bool
}

func NewIndex(b backend.Backend, verifyExists bool, logger log.Logger) *Index {
	return &Index{
		backend:      b,
		logger:       logger,
		verifyExists: verifyExists,
	}
}

// CandidatePaths enumerates the partitions to read for a query. A nil assets
// slice means all assets, discovered by listing the tier prefix. An empty
// non-nil assets slice yields no paths.
func (i *Index) CandidatePaths(ctx context.Context, tier Tier, sensors, assets []string, start, end time.Time) ([]string, error) {
	if assets == nil {
		discovered, err := i.DiscoverAssets(ctx, tier)
		if err != nil {
			return nil, err
		}
		assets = discovered
	}
	if len(assets) == 0 || len(sensors) == 0 {
		return nil, nil
	}

	var paths []string
	for _, step := range tier.Walk(start, end) {
		for _, asset := range assets {
			for _, sensor := range sensors {
				p := Path(tier, asset, sensor, step)
				if i.verifyExists {
					ok, err := i.backend.Exists(ctx, p)
					if err != nil {
						level.Warn(i.logger).Log("msg", "existence check failed", "path", p, "err", err)
						continue
					}
					if !ok {
						continue
					}
				}
				paths = append(paths, p)
			}
		}
	}
	return paths, nil
}

// PreCandidatePaths is CandidatePaths for a pre-computed aggregate family.
// Assets are discovered from the family's own prefix: a store holding only
// rebuilt aggregates has no raw tier to mine.
func (i *Index) PreCandidatePaths(ctx context.Context, pre PreTier, sensors, assets []string, start, end time.Time) ([]string, error) {
	if assets == nil {
		discovered, err := i.DiscoverPreAssets(ctx, pre)
		if err != nil {
			return nil, err
		}
		assets = discovered
	}
	if len(assets) == 0 || len(sensors) == 0 {
		return nil, nil
	}

	var paths []string
	for _, step := range pre.Walk(start, end) {
		for _, asset := range assets {
			for _, sensor := range sensors {
				p := PrePath(pre, asset, sensor, step)
				if i.verifyExists {
					ok, err := i.backend.Exists(ctx, p)
					if err != nil || !ok {
						continue
					}
				}
				paths = append(paths, p)
			}
		}
	}
	return paths, nil
}

// DiscoverAssets lists the tier prefix and takes the first path segment after
// it. The backend's listing cache keeps repeat discovery cheap.
func (i *Index) DiscoverAssets(ctx context.Context, tier Tier) ([]string, error) {
	paths, err := i.backend.List(ctx, tier.Prefix())
	if err != nil {
		return nil, err
	}
	return MineAssets(paths), nil
}

// DiscoverPreAssets mines asset ids from the listing of the prefix the
// pre-computed family lives under.
func (i *Index) DiscoverPreAssets(ctx context.Context, pre PreTier) ([]string, error) {
	paths, err := i.backend.List(ctx, pre.prefix())
	if err != nil {
		return nil, err
	}
	return MineAssets(paths), nil
}

// DiscoverSensors mines sensor names from the tier listing, optionally
// restricted to one asset.
func (i *Index) DiscoverSensors(ctx context.Context, tier Tier, asset string) ([]string, error) {
	prefix := tier.Prefix()
	if asset != "" {
		if prefix != "" {
			prefix += "/"
		}
		prefix += asset
	}
	paths, err := i.backend.List(ctx, prefix)
	if err != nil {
		return nil, err
	}
	return MineSensors(paths), nil
}

// TimeRange reports the (min, max) partition hour covering the sensors, or
// ok=false when nothing matches.
func (i *Index) TimeRange(ctx context.Context, sensors []string) (min, max time.Time, ok bool, err error) {
	paths, err := i.backend.List(ctx, "")
	if err != nil {
		return time.Time{}, time.Time{}, false, err
	}
	var set map[string]struct{}
	if len(sensors) > 0 {
		set = make(map[string]struct{}, len(sensors))
		for _, s := range sensors {
			set[s] = struct{}{}
		}
	}
	min, max, ok = TimeRange(paths, set)
	return min, max, ok, nil
}
