package notify_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"caseline/internal/config"
	"caseline/internal/domain"
	"caseline/internal/events"
	"caseline/internal/notify"
)

type fakeSource struct {
	mu   sync.Mutex
	evts []domain.Event
}

func (f *fakeSource) add(typ string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.evts = append(f.evts, domain.Event{ID: int64(len(f.evts) + 1), Type: typ, CaseID: "case-1", EntityKind: "alert", Payload: `{"severity":"high"}`})
}

func (f *fakeSource) EventsAfter(_ context.Context, limit int, cursor int64) ([]domain.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Event
	for _, e := range f.evts {
		if e.ID > cursor && len(out) < limit {
			out = append(out, e)
		}
	}
	return out, nil
}

func (f *fakeSource) LatestEventID(context.Context) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return int64(len(f.evts)), nil
}

type receiver struct {
	mu     sync.Mutex
	got    []notify.Delivery
	status int
}

func (r *receiver) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.status != 0 {
		w.WriteHeader(r.status)
		return
	}
	var d notify.Delivery
	_ = json.NewDecoder(req.Body).Decode(&d)
	if req.Header.Get("X-Caseline-Event") != d.Type {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	r.got = append(r.got, d)
}

func (r *receiver) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, d := range r.got {
		out = append(out, d.Type)
	}
	return out
}

func TestDispatchDeliversDefaultAlertEvents(t *testing.T) {
	rcv := &receiver{}
	srv := httptest.NewServer(rcv)
	defer srv.Close()
	src := &fakeSource{}
	src.add(events.AlertOpened) // before the dispatcher starts; never delivered

	d := notify.New(notify.Options{
		Source: src,
		HomeID: "home-1",
		Config: config.NotifyConfig{Webhooks: []config.WebhookConfig{{URL: srv.URL}}},
	})
	require.True(t, d.Enabled())
	ctx := context.Background()
	d.DispatchOnce(ctx)
	assert.Empty(t, rcv.types())

	src.add(events.CaseStageChanged)
	src.add(events.AlertOpened)
	src.add(events.AlertBreached)
	src.add(events.AlertResolved)
	d.DispatchOnce(ctx)
	assert.Equal(t, []string{events.AlertOpened, events.AlertBreached}, rcv.types())
	assert.Equal(t, "home-1", rcv.got[0].HomeID)
	assert.JSONEq(t, `{"severity":"high"}`, string(rcv.got[0].Payload))

	d.DispatchOnce(ctx)
	assert.Len(t, rcv.types(), 2)
}

func TestDispatchRetriesFailedDelivery(t *testing.T) {
	rcv := &receiver{status: http.StatusServiceUnavailable}
	srv := httptest.NewServer(rcv)
	defer srv.Close()
	src := &fakeSource{}
	d := notify.New(notify.Options{
		Source: src,
		Config: config.NotifyConfig{Webhooks: []config.WebhookConfig{{URL: srv.URL, Events: []string{events.SweepCompleted}}}},
	})
	ctx := context.Background()
	d.DispatchOnce(ctx)
	src.add(events.SweepCompleted)
	d.DispatchOnce(ctx)
	assert.Empty(t, rcv.types())

	rcv.mu.Lock()
	rcv.status = 0
	rcv.mu.Unlock()
	d.DispatchOnce(ctx)
	assert.Equal(t, []string{events.SweepCompleted}, rcv.types())
}

func TestDisabledHooksAreSkipped(t *testing.T) {
	off := false
	d := notify.New(notify.Options{
		Source: &fakeSource{},
		Config: config.NotifyConfig{Webhooks: []config.WebhookConfig{{URL: "http://127.0.0.1:1", Enabled: &off}, {URL: " "}}},
	})
	assert.False(t, d.Enabled())
	assert.NoError(t, d.Run(context.Background()))
}
