// Package cachegate fronts the per-patient aggregate view with a
// read-through Redis cache behind an explicit invalidation contract.
// Writers call Invalidate synchronously after any mutation visible in the
// view; the TTL exists to bound memory, not to provide correctness.
package cachegate

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"

	"github.com/wolfman30/clinic-reservation-engine/pkg/logging"
)

var cacheTracer = otel.Tracer("engine.internal.cachegate")

// Loader builds a patient's aggregate view from the authoritative stores.
type Loader func(ctx context.Context, patientID uuid.UUID) (json.RawMessage, error)

// Gate is the cache in front of patient aggregate views.
type Gate struct {
	redis  *redis.Client
	loader Loader
	ttl    time.Duration
	logger *logging.Logger
}

// New creates a Gate. A zero ttl disables expiry.
func New(redisClient *redis.Client, loader Loader, ttl time.Duration, logger *logging.Logger) *Gate {
	if redisClient == nil {
		panic("cachegate: redis client required")
	}
	if loader == nil {
		panic("cachegate: loader required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Gate{redis: redisClient, loader: loader, ttl: ttl, logger: logger}
}

func (g *Gate) key(patientID uuid.UUID) string {
	return fmt.Sprintf("patient:view:%s", patientID)
}

// Get returns the patient's aggregate view, loading and caching it on miss.
func (g *Gate) Get(ctx context.Context, patientID uuid.UUID) (json.RawMessage, error) {
	ctx, span := cacheTracer.Start(ctx, "cachegate.Get")
	defer span.End()

	data, err := g.redis.Get(ctx, g.key(patientID)).Bytes()
	if err == nil {
		return data, nil
	}
	if err != redis.Nil {
		// Redis being down must not take patient reads down with it.
		g.logger.Warn("cache read failed, falling through to loader", "patient_id", patientID.String(), "error", err)
	}

	view, err := g.loader(ctx, patientID)
	if err != nil {
		return nil, fmt.Errorf("cachegate: load view: %w", err)
	}
	if err := g.redis.Set(ctx, g.key(patientID), []byte(view), g.ttl).Err(); err != nil {
		g.logger.Warn("cache fill failed", "patient_id", patientID.String(), "error", err)
	}
	return view, nil
}

// Invalidate deletes the cached view. Callers invoke it synchronously after
// every write to patient, reservation, or intake data that the view shows;
// a missed invalidation here is a stale-read bug.
func (g *Gate) Invalidate(ctx context.Context, patientID uuid.UUID) error {
	ctx, span := cacheTracer.Start(ctx, "cachegate.Invalidate")
	defer span.End()

	if err := g.redis.Del(ctx, g.key(patientID)).Err(); err != nil {
		return fmt.Errorf("cachegate: invalidate %s: %w", patientID, err)
	}
	return nil
}
