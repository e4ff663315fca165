package coordinator

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/YangSeungWon/photo-timeline/pkg/logger"
	"github.com/YangSeungWon/photo-timeline/pkg/models"
	"github.com/YangSeungWon/photo-timeline/pkg/queue"
)

// fakeStore is an in-memory kv.Store with explicit TTL bookkeeping. Expiry
// is driven by the test via advance, not the wall clock.
type fakeStore struct {
	mu      sync.Mutex
	values  map[string]string
	ttls    map[string]time.Duration
	failing bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		values: make(map[string]string),
		ttls:   make(map[string]time.Duration),
	}
}

var errStoreDown = errors.New("store down")

func (s *fakeStore) advance(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, ttl := range s.ttls {
		ttl -= d
		if ttl <= 0 {
			delete(s.values, k)
			delete(s.ttls, k)
		} else {
			s.ttls[k] = ttl
		}
	}
}

func (s *fakeStore) SetEx(ctx context.Context, key, value string, ttl time.Duration) error {
	if s.failing {
		return errStoreDown
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = value
	s.ttls[key] = ttl
	return nil
}

func (s *fakeStore) Get(ctx context.Context, key string) (string, bool, error) {
	if s.failing {
		return "", false, errStoreDown
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.values[key]
	return v, ok, nil
}

func (s *fakeStore) Incr(ctx context.Context, key string) (int64, error) {
	if s.failing {
		return 0, errStoreDown
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	n, _ := strconv.ParseInt(s.values[key], 10, 64)
	n++
	s.values[key] = strconv.FormatInt(n, 10)
	return n, nil
}

func (s *fakeStore) Exists(ctx context.Context, key string) (bool, error) {
	if s.failing {
		return false, errStoreDown
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.values[key]
	return ok, nil
}

func (s *fakeStore) TTL(ctx context.Context, key string) (time.Duration, error) {
	if s.failing {
		return 0, errStoreDown
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	ttl, ok := s.ttls[key]
	if !ok {
		return -2 * time.Second, nil
	}
	return ttl, nil
}

func (s *fakeStore) Delete(ctx context.Context, keys ...string) error {
	if s.failing {
		return errStoreDown
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range keys {
		delete(s.values, k)
		delete(s.ttls, k)
	}
	return nil
}

func (s *fakeStore) Keys(ctx context.Context, pattern string) ([]string, error) {
	return nil, nil
}

type scheduledJob struct {
	payload queue.ClusterGroupPayload
	delay   time.Duration
}

type fakeScheduler struct {
	jobs    []scheduledJob
	failing bool
}

func (f *fakeScheduler) EnqueueClusterGroup(ctx context.Context, payload queue.ClusterGroupPayload, delay time.Duration) error {
	if f.failing {
		return errors.New("queue down")
	}
	f.jobs = append(f.jobs, scheduledJob{payload: payload, delay: delay})
	return nil
}

type fakeReconciler struct {
	calls int
	err   error
}

func (f *fakeReconciler) Reconcile(ctx context.Context, groupID uuid.UUID) error {
	f.calls++
	return f.err
}

func testConfig() Config {
	return Config{
		TTL:        5 * time.Second,
		Delay:      3 * time.Second,
		RetryDelay: 6 * time.Second,
		MaxRetries: 3,
	}
}

func newTestCoordinator(store *fakeStore, sched *fakeScheduler, rec *fakeReconciler) *Coordinator {
	return New(store, sched, rec, testConfig(), logger.NewDefault("test"), nil)
}

func TestBurstSchedulesOneJob(t *testing.T) {
	store := newFakeStore()
	sched := &fakeScheduler{}
	c := newTestCoordinator(store, sched, &fakeReconciler{})
	groupID := uuid.New()
	ctx := context.Background()

	for i := 0; i < 50; i++ {
		c.MarkClusterPending(ctx, groupID)
	}

	if len(sched.jobs) != 1 {
		t.Fatalf("50 marks scheduled %d jobs, want 1", len(sched.jobs))
	}
	if sched.jobs[0].delay != 3*time.Second {
		t.Errorf("first delay = %v, want 3s", sched.jobs[0].delay)
	}

	// Burst size counter reflects every mark.
	count, ok, err := store.Get(ctx, models.ClusterCountKey(groupID))
	if err != nil || !ok {
		t.Fatalf("count key missing: %v", err)
	}
	if count != "50" {
		t.Errorf("burst count = %s, want 50", count)
	}
}

func TestQuietCheckReschedulesWhileBusy(t *testing.T) {
	store := newFakeStore()
	sched := &fakeScheduler{}
	rec := &fakeReconciler{}
	c := newTestCoordinator(store, sched, rec)
	groupID := uuid.New()
	ctx := context.Background()

	c.MarkClusterPending(ctx, groupID)

	// The pending key is fresh (TTL 5s >= 2s), so the quiet check defers.
	if err := c.ClusterIfQuiet(ctx, groupID, 0); err != nil {
		t.Fatal(err)
	}
	if rec.calls != 0 {
		t.Error("reconciled while the group was busy")
	}
	if len(sched.jobs) != 2 {
		t.Fatalf("expected a reschedule, got %d jobs total", len(sched.jobs))
	}
}

func TestQuietCheckRunsAfterWindowExpires(t *testing.T) {
	store := newFakeStore()
	sched := &fakeScheduler{}
	rec := &fakeReconciler{}
	c := newTestCoordinator(store, sched, rec)
	groupID := uuid.New()
	ctx := context.Background()

	c.MarkClusterPending(ctx, groupID)
	store.advance(6 * time.Second) // past the 5s quiet window

	if err := c.ClusterIfQuiet(ctx, groupID, 0); err != nil {
		t.Fatal(err)
	}
	if rec.calls != 1 {
		t.Fatalf("reconcile calls = %d, want 1", rec.calls)
	}

	// Success clears all three keys, so the next upload starts a new cycle.
	for _, key := range []string{
		models.ClusterPendingKey(groupID),
		models.ClusterJobKey(groupID),
		models.ClusterCountKey(groupID),
	} {
		if ok, _ := store.Exists(ctx, key); ok {
			t.Errorf("key %s survived a successful reconcile", key)
		}
	}

	c.MarkClusterPending(ctx, groupID)
	if len(sched.jobs) != 2 {
		t.Errorf("next burst scheduled %d jobs total, want 2", len(sched.jobs))
	}
}

func TestLivelockGuard(t *testing.T) {
	store := newFakeStore()
	sched := &fakeScheduler{}
	rec := &fakeReconciler{}
	c := newTestCoordinator(store, sched, rec)
	groupID := uuid.New()
	ctx := context.Background()

	// Pending key alive but nearly expired: proceed instead of rescheduling.
	c.MarkClusterPending(ctx, groupID)
	store.advance(4 * time.Second) // 1s left, under the 2s threshold

	if err := c.ClusterIfQuiet(ctx, groupID, 0); err != nil {
		t.Fatal(err)
	}
	if rec.calls != 1 {
		t.Errorf("reconcile calls = %d, want 1 despite live pending key", rec.calls)
	}
}

func TestLongBurstKeepsSuppressionAlive(t *testing.T) {
	store := newFakeStore()
	sched := &fakeScheduler{}
	rec := &fakeReconciler{}
	c := newTestCoordinator(store, sched, rec)
	groupID := uuid.New()
	ctx := context.Background()

	c.MarkClusterPending(ctx, groupID)

	// A minute of sustained uploads: every quiet check defers and must
	// refresh the suppression key, or a later mark starts a second job.
	for i := 0; i < 20; i++ {
		store.advance(3 * time.Second)
		c.MarkClusterPending(ctx, groupID)
		if err := c.ClusterIfQuiet(ctx, groupID, 0); err != nil {
			t.Fatal(err)
		}
	}

	if rec.calls != 0 {
		t.Errorf("reconciled %d times mid-burst, want 0", rec.calls)
	}
	// One job from the first mark plus one reschedule per quiet check.
	if len(sched.jobs) != 21 {
		t.Errorf("scheduled %d jobs, want 21; a lapsed job key started a second chain", len(sched.jobs))
	}

	ttl, err := store.TTL(ctx, models.ClusterJobKey(groupID))
	if err != nil {
		t.Fatal(err)
	}
	if want := c.suppressWindow(); ttl != want {
		t.Errorf("job key TTL = %v after reschedule, want refreshed to %v", ttl, want)
	}
}

func TestReconcileFailureSchedulesRetry(t *testing.T) {
	store := newFakeStore()
	sched := &fakeScheduler{}
	rec := &fakeReconciler{err: errors.New("deadlock")}
	c := newTestCoordinator(store, sched, rec)
	groupID := uuid.New()
	ctx := context.Background()

	c.MarkClusterPending(ctx, groupID)
	store.advance(6 * time.Second)

	if err := c.ClusterIfQuiet(ctx, groupID, 0); err != nil {
		t.Fatal(err)
	}

	last := sched.jobs[len(sched.jobs)-1]
	if last.payload.Attempt != 1 {
		t.Errorf("retry attempt = %d, want 1", last.payload.Attempt)
	}
	if last.delay != 6*time.Second {
		t.Errorf("retry delay = %v, want RetryDelay 6s", last.delay)
	}

	// Keys survive so the retry resumes cleanly.
	if ok, _ := store.Exists(ctx, models.ClusterJobKey(groupID)); !ok {
		t.Error("job key cleared on retryable failure")
	}
}

func TestMaxRetriesClearsState(t *testing.T) {
	store := newFakeStore()
	sched := &fakeScheduler{}
	rec := &fakeReconciler{err: errors.New("still broken")}
	c := newTestCoordinator(store, sched, rec)
	groupID := uuid.New()
	ctx := context.Background()

	c.MarkClusterPending(ctx, groupID)
	store.advance(6 * time.Second)

	// Attempt already at the bound: no further retry, state cleared.
	if err := c.ClusterIfQuiet(ctx, groupID, 3); err != nil {
		t.Fatal(err)
	}

	scheduled := 0
	for _, j := range sched.jobs {
		if j.payload.Attempt > 3 {
			scheduled++
		}
	}
	if scheduled != 0 {
		t.Error("scheduled a retry past the bound")
	}
	if ok, _ := store.Exists(ctx, models.ClusterJobKey(groupID)); ok {
		t.Error("job key survived permanent failure")
	}
}

func TestRetrySchedulingFailureClearsState(t *testing.T) {
	store := newFakeStore()
	sched := &fakeScheduler{}
	rec := &fakeReconciler{err: errors.New("broken")}
	c := newTestCoordinator(store, sched, rec)
	groupID := uuid.New()
	ctx := context.Background()

	c.MarkClusterPending(ctx, groupID)
	store.advance(6 * time.Second)
	sched.failing = true

	if err := c.ClusterIfQuiet(ctx, groupID, 0); err == nil {
		t.Error("expected error when retry scheduling fails")
	}
	if ok, _ := store.Exists(ctx, models.ClusterPendingKey(groupID)); ok {
		t.Error("keys not cleared after reschedule failure")
	}
}

func TestDegradedModeIsNoOp(t *testing.T) {
	store := newFakeStore()
	store.failing = true
	sched := &fakeScheduler{}
	c := newTestCoordinator(store, sched, &fakeReconciler{})

	c.MarkClusterPending(context.Background(), uuid.New())

	if len(sched.jobs) != 0 {
		t.Errorf("degraded mark scheduled %d jobs, want 0", len(sched.jobs))
	}
}
