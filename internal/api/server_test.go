package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/YangSeungWon/photo-timeline/pkg/logger"
	"github.com/YangSeungWon/photo-timeline/pkg/queue"
)

type fakeScheduler struct {
	groups []string
	delays []time.Duration
	err    error
}

func (f *fakeScheduler) EnqueueClusterGroup(ctx context.Context, payload queue.ClusterGroupPayload, delay time.Duration) error {
	if f.err != nil {
		return f.err
	}
	f.groups = append(f.groups, payload.GroupID)
	f.delays = append(f.delays, delay)
	return nil
}

func newTestServer(sched *fakeScheduler, fallback bool) *Server {
	return New(Config{
		Port:                "0",
		Scheduler:           sched,
		Logger:              logger.NewDefault("test"),
		IncrementalFallback: fallback,
	})
}

func TestRecluster(t *testing.T) {
	sched := &fakeScheduler{}
	s := newTestServer(sched, false)
	groupID := uuid.New()

	req := httptest.NewRequest(http.MethodPost, "/groups/"+groupID.String()+"/recluster", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", rec.Code)
	}
	if len(sched.groups) != 1 || sched.groups[0] != groupID.String() {
		t.Errorf("scheduled groups = %v, want [%s]", sched.groups, groupID)
	}
	if sched.delays[0] != 0 {
		t.Errorf("manual recluster delay = %v, want immediate", sched.delays[0])
	}
}

func TestReclusterBadID(t *testing.T) {
	s := newTestServer(&fakeScheduler{}, false)

	req := httptest.NewRequest(http.MethodPost, "/groups/not-a-uuid/recluster", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestReclusterSchedulerFailure(t *testing.T) {
	s := newTestServer(&fakeScheduler{err: errors.New("redis down")}, false)

	req := httptest.NewRequest(http.MethodPost, "/groups/"+uuid.NewString()+"/recluster", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
}

func TestAttachRouteHiddenWithoutFallback(t *testing.T) {
	s := newTestServer(&fakeScheduler{}, false)

	url := "/groups/" + uuid.NewString() + "/photos/" + uuid.NewString() + "/attach"
	req := httptest.NewRequest(http.MethodPost, url, nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404 when the fallback flag is off", rec.Code)
	}
}

func TestStatusReportsFallbackFlag(t *testing.T) {
	s := newTestServer(&fakeScheduler{}, true)

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if body := rec.Body.String(); !strings.Contains(body, `"incremental_fallback":true`) {
		t.Errorf("body %s missing fallback flag", body)
	}
}
