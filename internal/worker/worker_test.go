package worker

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/YangSeungWon/photo-timeline/internal/coordinator"
	"github.com/YangSeungWon/photo-timeline/pkg/logger"
	"github.com/YangSeungWon/photo-timeline/pkg/queue"
)

// emptyStore is a kv.Store where every key is absent, so quiet checks
// always proceed straight to reconciliation.
type emptyStore struct{}

func (emptyStore) SetEx(ctx context.Context, key, value string, ttl time.Duration) error {
	return nil
}
func (emptyStore) Get(ctx context.Context, key string) (string, bool, error) { return "", false, nil }
func (emptyStore) Incr(ctx context.Context, key string) (int64, error)       { return 1, nil }
func (emptyStore) Exists(ctx context.Context, key string) (bool, error)      { return false, nil }
func (emptyStore) TTL(ctx context.Context, key string) (time.Duration, error) {
	return -2 * time.Second, nil
}
func (emptyStore) Delete(ctx context.Context, keys ...string) error { return nil }
func (emptyStore) Keys(ctx context.Context, pattern string) ([]string, error) {
	return nil, nil
}

type noopScheduler struct{}

func (noopScheduler) EnqueueClusterGroup(ctx context.Context, payload queue.ClusterGroupPayload, delay time.Duration) error {
	return nil
}

type spyReconciler struct {
	groups []uuid.UUID
}

func (s *spyReconciler) Reconcile(ctx context.Context, groupID uuid.UUID) error {
	s.groups = append(s.groups, groupID)
	return nil
}

func newTestWorker(rec *spyReconciler) *Worker {
	log := logger.NewDefault("test")
	coord := coordinator.New(emptyStore{}, noopScheduler{}, rec, coordinator.Config{
		TTL:        5 * time.Second,
		Delay:      3 * time.Second,
		RetryDelay: 6 * time.Second,
		MaxRetries: 3,
	}, log, nil)
	return New(Deps{Coordinator: coord, Logger: log})
}

func TestHandleProcessPhotoBadPayloadSkipsRetry(t *testing.T) {
	w := newTestWorker(&spyReconciler{})

	tests := []struct {
		name    string
		payload []byte
	}{
		{"malformed json", []byte("{not json")},
		{"bad uuid", mustMarshal(t, queue.ProcessPhotoPayload{PhotoID: "not-a-uuid", FilePath: "/x"})},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			task := asynq.NewTask(queue.TypeProcessPhoto, tt.payload)
			err := w.HandleProcessPhoto(context.Background(), task)
			if err == nil {
				t.Fatal("expected error")
			}
			if !errors.Is(err, asynq.SkipRetry) {
				t.Errorf("error %v should carry SkipRetry", err)
			}
		})
	}
}

func TestHandleClusterGroupDelegates(t *testing.T) {
	rec := &spyReconciler{}
	w := newTestWorker(rec)
	groupID := uuid.New()

	payload := mustMarshal(t, queue.ClusterGroupPayload{GroupID: groupID.String()})
	task := asynq.NewTask(queue.TypeClusterGroup, payload)

	if err := w.HandleClusterGroup(context.Background(), task); err != nil {
		t.Fatal(err)
	}
	if len(rec.groups) != 1 || rec.groups[0] != groupID {
		t.Errorf("reconciled groups = %v, want [%s]", rec.groups, groupID)
	}
}

func TestHandleClusterGroupBadIDSkipsRetry(t *testing.T) {
	w := newTestWorker(&spyReconciler{})

	payload := mustMarshal(t, queue.ClusterGroupPayload{GroupID: "nope"})
	task := asynq.NewTask(queue.TypeClusterGroup, payload)

	err := w.HandleClusterGroup(context.Background(), task)
	if err == nil || !errors.Is(err, asynq.SkipRetry) {
		t.Errorf("error %v should carry SkipRetry", err)
	}
}

func mustMarshal(t *testing.T, v interface{}) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	return data
}
