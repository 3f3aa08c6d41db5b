package service

import (
	"context"

	"go.uber.org/zap"
)

// cachedSnapshot serves name from cache when the current generation has it,
// otherwise loads it and saves it under the generation observed before the
// load. Cache errors only cost a direct read.
func cachedSnapshot[T any](
	ctx context.Context,
	cache SnapshotCache,
	logger *zap.Logger,
	name string,
	load func(ctx context.Context) (*T, error),
) (*T, error) {
	if cache == nil {
		return load(ctx)
	}

	generation, err := cache.Generation(ctx)
	if err != nil {
		logger.Warn("Snapshot cache unavailable", zap.String("snapshot", name), zap.Error(err))
		return load(ctx)
	}

	var cached T
	ok, err := cache.Load(ctx, generation, name, &cached)
	if err != nil {
		logger.Warn("Failed to read snapshot cache", zap.String("snapshot", name), zap.Error(err))
	} else if ok {
		return &cached, nil
	}

	value, err := load(ctx)
	if err != nil {
		return nil, err
	}
	if err := cache.Save(ctx, generation, name, value); err != nil {
		logger.Warn("Failed to write snapshot cache", zap.String("snapshot", name), zap.Error(err))
	}
	return value, nil
}
