package cachegate

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

func newTestGate(t *testing.T, loader Loader) (*Gate, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return New(client, loader, time.Minute, nil), mr
}

func TestGetLoadsOnMissAndCaches(t *testing.T) {
	loads := 0
	gate, mr := newTestGate(t, func(ctx context.Context, patientID uuid.UUID) (json.RawMessage, error) {
		loads++
		return json.RawMessage(`{"reservations":1}`), nil
	})
	patientID := uuid.New()

	view, err := gate.Get(context.Background(), patientID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(view) != `{"reservations":1}` {
		t.Errorf("unexpected view: %s", view)
	}
	if !mr.Exists("patient:view:" + patientID.String()) {
		t.Error("expected view cached after miss")
	}

	if _, err := gate.Get(context.Background(), patientID); err != nil {
		t.Fatalf("second get: %v", err)
	}
	if loads != 1 {
		t.Errorf("expected one loader call, got %d", loads)
	}
}

func TestInvalidateForcesReload(t *testing.T) {
	loads := 0
	gate, _ := newTestGate(t, func(ctx context.Context, patientID uuid.UUID) (json.RawMessage, error) {
		loads++
		return json.RawMessage(`{}`), nil
	})
	patientID := uuid.New()

	if _, err := gate.Get(context.Background(), patientID); err != nil {
		t.Fatalf("get: %v", err)
	}
	if err := gate.Invalidate(context.Background(), patientID); err != nil {
		t.Fatalf("invalidate: %v", err)
	}
	if _, err := gate.Get(context.Background(), patientID); err != nil {
		t.Fatalf("get after invalidate: %v", err)
	}
	if loads != 2 {
		t.Errorf("expected reload after invalidation, got %d loads", loads)
	}
}

func TestLoaderErrorSurfaces(t *testing.T) {
	wantErr := errors.New("store down")
	gate, _ := newTestGate(t, func(ctx context.Context, patientID uuid.UUID) (json.RawMessage, error) {
		return nil, wantErr
	})

	if _, err := gate.Get(context.Background(), uuid.New()); !errors.Is(err, wantErr) {
		t.Fatalf("expected loader error, got %v", err)
	}
}

func TestGetSurvivesRedisOutage(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	gate := New(client, func(ctx context.Context, patientID uuid.UUID) (json.RawMessage, error) {
		return json.RawMessage(`{"ok":true}`), nil
	}, time.Minute, nil)
	mr.Close()

	view, err := gate.Get(context.Background(), uuid.New())
	if err != nil {
		t.Fatalf("expected fall through to loader, got %v", err)
	}
	if string(view) != `{"ok":true}` {
		t.Errorf("unexpected view: %s", view)
	}
}
