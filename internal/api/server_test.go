package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/quietriver/earshot/internal/deliver"
	"github.com/quietriver/earshot/internal/health"
	"github.com/quietriver/earshot/internal/pendingstore"
	"github.com/quietriver/earshot/internal/store"
	"github.com/quietriver/earshot/internal/transcribe"
)

// memPending is an in-memory pendingstore.Store for handler tests.
type memPending struct {
	mu   sync.Mutex
	recs map[string]*deliver.Record
}

func newMemPending() *memPending {
	return &memPending{recs: make(map[string]*deliver.Record)}
}

func (m *memPending) Save(_ context.Context, rec *deliver.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *rec
	m.recs[rec.ID] = &cp
	return nil
}

func (m *memPending) Get(_ context.Context, id string) (*deliver.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.recs[id]
	if !ok {
		return nil, pendingstore.ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

func (m *memPending) List(_ context.Context) ([]*deliver.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*deliver.Record
	for _, rec := range m.recs {
		if rec.Status != deliver.StatusDelivered {
			cp := *rec
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memPending) MarkDelivered(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.recs[id]
	if !ok {
		return pendingstore.ErrNotFound
	}
	rec.Status = deliver.StatusDelivered
	return nil
}

func (m *memPending) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.recs[id]; !ok {
		return pendingstore.ErrNotFound
	}
	delete(m.recs, id)
	return nil
}

func (m *memPending) Close() error { return nil }

// resendFunc adapts a function to the Resender interface.
type resendFunc func(ctx context.Context, rec *deliver.Record) (*deliver.Record, error)

func (f resendFunc) DeliverNow(ctx context.Context, rec *deliver.Record) (*deliver.Record, error) {
	return f(ctx, rec)
}

type stubPipeline struct {
	depth   int
	dropped uint64
	backlog int
	engine  string
}

func (s stubPipeline) QueueLen() int        { return s.depth }
func (s stubPipeline) QueueDropped() uint64 { return s.dropped }
func (s stubPipeline) DeliveryBacklog() int { return s.backlog }
func (s stubPipeline) EngineName() string   { return s.engine }

type stubProbe struct {
	online bool
	last   time.Time
}

func (s stubProbe) Online() bool         { return s.online }
func (s stubProbe) LastCheck() time.Time { return s.last }

func seededMemory(t *testing.T, n int) *store.Memory {
	t.Helper()
	mem := store.NewMemory(32)
	for i := 1; i <= n; i++ {
		mem.Add(transcribe.Result{
			Seq:       uint64(i),
			Text:      "hello",
			Engine:    "mock",
			Timestamp: time.Now(),
		})
	}
	return mem
}

func getJSON(t *testing.T, ts *httptest.Server, path string, wantStatus int, into any) {
	t.Helper()
	resp, err := ts.Client().Get(ts.URL + path)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != wantStatus {
		t.Fatalf("GET %s: status %d, want %d", path, resp.StatusCode, wantStatus)
	}
	if into != nil {
		if err := json.NewDecoder(resp.Body).Decode(into); err != nil {
			t.Fatalf("decode %s: %v", path, err)
		}
	}
}

func TestTranscriptsEndpoint(t *testing.T) {
	t.Parallel()

	s := New(Config{Memory: seededMemory(t, 5)})
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	var res transcriptsResponse
	getJSON(t, ts, "/transcripts?limit=3", http.StatusOK, &res)

	if len(res.Results) != 3 {
		t.Fatalf("results: got %d, want 3", len(res.Results))
	}
	// Oldest first, limit keeps the newest.
	if res.Results[0].Seq != 3 || res.Results[2].Seq != 5 {
		t.Errorf("got seqs %d..%d, want 3..5", res.Results[0].Seq, res.Results[2].Seq)
	}
	if res.Stats.Total != 5 {
		t.Errorf("stats.total: got %d, want 5", res.Stats.Total)
	}
}

func TestTranscriptsBadLimit(t *testing.T) {
	t.Parallel()

	s := New(Config{Memory: seededMemory(t, 1)})
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	getJSON(t, ts, "/transcripts?limit=potato", http.StatusBadRequest, nil)
}

func TestStatusEndpoint(t *testing.T) {
	t.Parallel()

	last := time.Now().Truncate(time.Second)
	s := New(Config{
		Memory:   seededMemory(t, 2),
		Probe:    stubProbe{online: true, last: last},
		Pipeline: stubPipeline{depth: 3, dropped: 1, backlog: 2, engine: "openai"},
	})
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	var res statusResponse
	getJSON(t, ts, "/status", http.StatusOK, &res)

	if res.Online == nil || !*res.Online {
		t.Error("online: want true")
	}
	if res.Engine != "openai" {
		t.Errorf("engine: got %q, want %q", res.Engine, "openai")
	}
	if res.QueueDepth != 3 || res.QueueDropped != 1 || res.DeliveryBacklog != 2 {
		t.Errorf("counters: got depth=%d dropped=%d backlog=%d",
			res.QueueDepth, res.QueueDropped, res.DeliveryBacklog)
	}
	if res.Transcripts.Total != 2 {
		t.Errorf("transcripts.total: got %d, want 2", res.Transcripts.Total)
	}
}

func TestHealthRoutesRegistered(t *testing.T) {
	t.Parallel()

	s := New(Config{
		Memory: seededMemory(t, 0),
		Health: health.New(),
	})
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	getJSON(t, ts, "/healthz", http.StatusOK, nil)
	getJSON(t, ts, "/readyz", http.StatusOK, nil)
}

func TestPendingList(t *testing.T) {
	t.Parallel()

	pending := newMemPending()
	rec := deliver.NewRecord(transcribe.Result{Seq: 7, Text: "stuck"})
	rec.Status = deliver.StatusAbandoned
	if err := pending.Save(context.Background(), rec); err != nil {
		t.Fatal(err)
	}

	s := New(Config{Memory: seededMemory(t, 0), Pending: pending})
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	var res struct {
		Pending []*deliver.Record `json:"pending"`
	}
	getJSON(t, ts, "/pending", http.StatusOK, &res)

	if len(res.Pending) != 1 {
		t.Fatalf("pending: got %d records, want 1", len(res.Pending))
	}
	if res.Pending[0].ID != rec.ID {
		t.Errorf("id: got %q, want %q", res.Pending[0].ID, rec.ID)
	}
}

func TestResendSuccessMarksDelivered(t *testing.T) {
	t.Parallel()

	pending := newMemPending()
	rec := deliver.NewRecord(transcribe.Result{Seq: 7, Text: "stuck"})
	rec.Status = deliver.StatusAbandoned
	if err := pending.Save(context.Background(), rec); err != nil {
		t.Fatal(err)
	}

	var sent *deliver.Record
	resend := resendFunc(func(_ context.Context, r *deliver.Record) (*deliver.Record, error) {
		fresh := deliver.NewRecord(r.Result)
		fresh.Attempts = 1
		fresh.Status = deliver.StatusDelivered
		sent = fresh
		return fresh, nil
	})

	s := New(Config{Memory: seededMemory(t, 0), Pending: pending, Resend: resend})
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	resp, err := ts.Client().Post(ts.URL+"/pending/"+rec.ID+"/resend", "", nil)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status: got %d, want %d", resp.StatusCode, http.StatusOK)
	}
	if sent == nil || sent.Result.Seq != rec.Result.Seq {
		t.Fatal("resender did not receive the record's result")
	}

	var body struct {
		ID     string         `json:"id"`
		Status deliver.Status `json:"status"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	// The resend is a fresh record; the recovered one stays untouched
	// apart from leaving the backlog.
	if body.ID == rec.ID {
		t.Error("resend reused the recovered record instead of a fresh one")
	}
	if body.Status != deliver.StatusDelivered {
		t.Errorf("resend status: got %q, want %q", body.Status, deliver.StatusDelivered)
	}

	got, err := pending.Get(context.Background(), rec.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != deliver.StatusDelivered {
		t.Errorf("status after resend: got %q, want %q", got.Status, deliver.StatusDelivered)
	}
}

func TestResendDeliveredRecordRejected(t *testing.T) {
	t.Parallel()

	pending := newMemPending()
	rec := deliver.NewRecord(transcribe.Result{Seq: 7, Text: "stuck"})
	rec.Status = deliver.StatusAbandoned
	if err := pending.Save(context.Background(), rec); err != nil {
		t.Fatal(err)
	}

	calls := 0
	resend := resendFunc(func(_ context.Context, r *deliver.Record) (*deliver.Record, error) {
		calls++
		fresh := deliver.NewRecord(r.Result)
		fresh.Attempts = 1
		fresh.Status = deliver.StatusDelivered
		return fresh, nil
	})

	s := New(Config{Memory: seededMemory(t, 0), Pending: pending, Resend: resend})
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	resp, err := ts.Client().Post(ts.URL+"/pending/"+rec.ID+"/resend", "", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("first resend: got %d, want %d", resp.StatusCode, http.StatusOK)
	}

	// A second resend of the now-delivered record must not reach the sink.
	resp, err = ts.Client().Post(ts.URL+"/pending/"+rec.ID+"/resend", "", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("second resend: got %d, want %d", resp.StatusCode, http.StatusConflict)
	}
	if calls != 1 {
		t.Errorf("sink attempts: got %d, want 1", calls)
	}
}

func TestResendUnknownID(t *testing.T) {
	t.Parallel()

	s := New(Config{
		Memory:  seededMemory(t, 0),
		Pending: newMemPending(),
		Resend: resendFunc(func(_ context.Context, r *deliver.Record) (*deliver.Record, error) {
			return deliver.NewRecord(r.Result), nil
		}),
	})
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	resp, err := ts.Client().Post(ts.URL+"/pending/nope/resend", "", nil)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status: got %d, want %d", resp.StatusCode, http.StatusNotFound)
	}
}

func TestResendFailurePersistsFreshRecord(t *testing.T) {
	t.Parallel()

	pending := newMemPending()
	rec := deliver.NewRecord(transcribe.Result{Seq: 9, Text: "stuck"})
	if err := pending.Save(context.Background(), rec); err != nil {
		t.Fatal(err)
	}

	resend := resendFunc(func(_ context.Context, r *deliver.Record) (*deliver.Record, error) {
		fresh := deliver.NewRecord(r.Result)
		fresh.Attempts = 1
		fresh.LastError = "sink still down"
		return fresh, errors.New("sink still down")
	})

	s := New(Config{Memory: seededMemory(t, 0), Pending: pending, Resend: resend})
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	resp, err := ts.Client().Post(ts.URL+"/pending/"+rec.ID+"/resend", "", nil)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadGateway {
		t.Fatalf("status: got %d, want %d", resp.StatusCode, http.StatusBadGateway)
	}

	var body struct {
		ID       string `json:"id"`
		Attempts int    `json:"attempts"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}

	// The fresh record replaces the recovered one in the backlog.
	if _, err := pending.Get(context.Background(), rec.ID); !errors.Is(err, pendingstore.ErrNotFound) {
		t.Errorf("recovered record still stored, want it superseded (err=%v)", err)
	}
	got, err := pending.Get(context.Background(), body.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Attempts != 1 {
		t.Errorf("attempts not persisted: got %d", got.Attempts)
	}
	if got.Status == deliver.StatusDelivered {
		t.Error("record must not be marked delivered after a failed resend")
	}
}

func TestBlocksWithoutAggregator(t *testing.T) {
	t.Parallel()

	s := New(Config{Memory: seededMemory(t, 0)})
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	getJSON(t, ts, "/blocks", http.StatusNotFound, nil)
}

func TestWebsocketLiveFeed(t *testing.T) {
	t.Parallel()

	s := New(Config{Memory: seededMemory(t, 0)})
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wsURL := strings.Replace(ts.URL, "http://", "ws://", 1) + "/ws"
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "done")

	// Wait for the server side to register the subscriber.
	deadline := time.Now().Add(2 * time.Second)
	for s.Subscribers() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("subscriber never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	want := transcribe.Result{Seq: 42, Text: "live one", Engine: "mock"}
	s.Broadcast(want)

	typ, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if typ != websocket.MessageText {
		t.Fatalf("message type: got %v, want text", typ)
	}

	var got transcribe.Result
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.Seq != want.Seq || got.Text != want.Text {
		t.Errorf("got seq=%d text=%q, want seq=%d text=%q", got.Seq, got.Text, want.Seq, want.Text)
	}
}

func TestBroadcastDropsWhenSubscriberSlow(t *testing.T) {
	t.Parallel()

	s := New(Config{Memory: seededMemory(t, 0)})

	// Register a subscriber directly and never drain it.
	ch := s.subscribe()
	defer s.unsubscribe(ch)

	for i := range 64 {
		s.Broadcast(transcribe.Result{Seq: uint64(i + 1)})
	}
	// Channel holds at most its buffer; the rest were dropped without
	// blocking the caller.
	if len(ch) != cap(ch) {
		t.Errorf("buffered: got %d, want %d", len(ch), cap(ch))
	}
}
