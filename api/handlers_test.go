package api

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/bytedance/sonic"
	"github.com/golang-jwt/jwt/v4"
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus/hooks/test"

	"prism-board/domain"
	"prism-board/notify"
	"prism-board/ordering"
	"prism-board/realtime"
	"prism-board/storage"
)

const testSecret = "test-secret"

type testServer struct {
	t     *testing.T
	srv   *httptest.Server
	store *storage.Store
	reg   *realtime.Registry
}

func newTestServer(t *testing.T, deduper Deduper) *testServer {
	t.Helper()
	logger, _ := test.NewNullLogger()
	ctx := context.Background()
	store, err := storage.Open(ctx, filepath.Join(t.TempDir(), "api.db"), logger)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	reg := realtime.NewRegistry(logger)
	t.Cleanup(reg.Close)
	store.SetCommitHook(notify.New(reg, logger).Committed)

	auth, err := NewAuth(nil, AuthConfig{LocalMode: "hs256", LocalSecret: testSecret})
	if err != nil {
		t.Fatalf("auth: %v", err)
	}
	e := echo.New()
	Register(e, Deps{
		Store:     store,
		Snapshots: store,
		Mover:     ordering.NewCoordinator(store, logger),
		Auth:      auth,
		Deduper:   deduper,
		Stream:    realtime.NewStreamHandler(reg, store, auth, logger, realtime.StreamConfig{Heartbeat: -1}),
		Logger:    logger,
	})
	srv := httptest.NewServer(e)
	t.Cleanup(srv.Close)
	return &testServer{t: t, srv: srv, store: store, reg: reg}
}

func signToken(t *testing.T, sub, email string) string {
	t.Helper()
	claims := jwt.MapClaims{
		"sub":   sub,
		"name":  sub,
		"email": email,
		"exp":   time.Now().Add(5 * time.Minute).Unix(),
		"iat":   time.Now().Add(-time.Minute).Unix(),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

// do sends body as JSON on behalf of user (no auth when user is empty) and
// decodes a JSON response into out when out is not nil.
func (s *testServer) do(method, path, user string, body any, out any, headers ...string) int {
	s.t.Helper()
	var rdr *bytes.Reader
	if body != nil {
		data, err := sonic.Marshal(body)
		if err != nil {
			s.t.Fatalf("encode body: %v", err)
		}
		rdr = bytes.NewReader(data)
	} else {
		rdr = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, s.srv.URL+path, rdr)
	if err != nil {
		s.t.Fatalf("request: %v", err)
	}
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	if user != "" {
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+signToken(s.t, user, user+"@example.com"))
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		s.t.Fatalf("%s %s: %v", method, path, err)
	}
	defer res.Body.Close()
	if out != nil && res.StatusCode < 300 {
		if err := sonic.ConfigStd.NewDecoder(res.Body).Decode(out); err != nil {
			s.t.Fatalf("decode %s %s: %v", method, path, err)
		}
	}
	return res.StatusCode
}

func (s *testServer) mustDo(method, path, user string, body any, out any, want int) {
	s.t.Helper()
	if got := s.do(method, path, user, body, out); got != want {
		s.t.Fatalf("%s %s as %q: status %d, want %d", method, path, user, got, want)
	}
}

// seed creates a board owned by alice with bob as member and vic as viewer.
func (s *testServer) seed() domain.Board {
	s.t.Helper()
	for _, u := range []string{"alice", "bob", "vic"} {
		s.mustDo(http.MethodGet, "/api/boards", u, nil, nil, http.StatusOK)
	}
	var b domain.Board
	s.mustDo(http.MethodPost, "/api/boards", "alice", map[string]string{"name": "Launch"}, &b, http.StatusCreated)
	s.mustDo(http.MethodPost, "/api/boards/"+b.ID+"/members", "alice",
		map[string]string{"email": "bob@example.com", "role": "MEMBER"}, nil, http.StatusCreated)
	s.mustDo(http.MethodPost, "/api/boards/"+b.ID+"/members", "alice",
		map[string]string{"email": "vic@example.com", "role": "VIEWER"}, nil, http.StatusCreated)
	return b
}

func TestRequestsWithoutTokenAreRejected(t *testing.T) {
	s := newTestServer(t, nil)
	s.mustDo(http.MethodGet, "/api/boards", "", nil, nil, http.StatusUnauthorized)
	s.mustDo(http.MethodGet, "/realtime/any", "", nil, nil, http.StatusUnauthorized)
	s.mustDo(http.MethodGet, "/healthz", "", nil, nil, http.StatusOK)
}

func TestBoardLifecycleAndErrorMapping(t *testing.T) {
	s := newTestServer(t, nil)
	b := s.seed()
	base := "/api/boards/" + b.ID

	var todo, done domain.List
	s.mustDo(http.MethodPost, base+"/lists", "bob", map[string]string{"title": "Todo"}, &todo, http.StatusCreated)
	s.mustDo(http.MethodPost, base+"/lists", "bob", map[string]string{"title": "Done", "color": "green"}, &done, http.StatusCreated)
	if todo.Position != ordering.DefaultGap || done.Color != "GREEN" {
		t.Fatalf("unexpected lists %+v %+v", todo, done)
	}

	var c1, c2 domain.Card
	s.mustDo(http.MethodPost, "/api/lists/"+todo.ID+"/cards", "bob", map[string]any{"title": "Write docs"}, &c1, http.StatusCreated)
	s.mustDo(http.MethodPost, "/api/lists/"+todo.ID+"/cards", "bob",
		map[string]any{"title": "Ship", "dueDate": "2026-11-01T00:00:00Z", "assigneeIds": []string{"bob"}}, &c2, http.StatusCreated)
	if c2.DueDate == nil || len(c2.AssigneeIDs) != 1 {
		t.Fatalf("unexpected card %+v", c2)
	}

	var moved ordering.MoveResult
	s.mustDo(http.MethodPost, "/api/cards/"+c2.ID+"/move", "bob", map[string]any{"listId": done.ID, "index": 0}, &moved, http.StatusOK)
	if moved.ToParentID != done.ID || moved.FromParentID != todo.ID {
		t.Fatalf("unexpected move %+v", moved)
	}

	var snap domain.Board
	s.mustDo(http.MethodGet, base, "vic", nil, &snap, http.StatusOK)
	if len(snap.Lists) != 2 || len(snap.Lists[0].Cards) != 1 || snap.Lists[1].Cards[0].ID != c2.ID {
		t.Fatalf("unexpected snapshot %+v", snap.Lists)
	}

	var perms domain.Permissions
	s.mustDo(http.MethodGet, base+"/me", "vic", nil, &perms, http.StatusOK)
	if perms.Role != domain.RoleViewer || perms.CanEditCards || perms.IsOwner {
		t.Fatalf("unexpected viewer permissions %+v", perms)
	}
	s.mustDo(http.MethodGet, base+"/me", "alice", nil, &perms, http.StatusOK)
	if perms.Role != domain.RoleOwner || !perms.CanDeleteBoard {
		t.Fatalf("unexpected owner permissions %+v", perms)
	}

	s.mustDo(http.MethodGet, base, "mallory", nil, nil, http.StatusNotFound)
	s.mustDo(http.MethodPost, base+"/lists", "vic", map[string]string{"title": "x"}, nil, http.StatusForbidden)
	s.mustDo(http.MethodPost, base+"/lists", "bob", map[string]string{"title": "x", "color": "teal"}, nil, http.StatusUnprocessableEntity)
	s.mustDo(http.MethodPost, base+"/lists", "bob", map[string]string{"bogus": "x"}, nil, http.StatusBadRequest)
	s.mustDo(http.MethodPost, base+"/members", "alice", map[string]string{"email": "bob@example.com"}, nil, http.StatusConflict)
	s.mustDo(http.MethodPost, "/api/cards/"+c1.ID+"/move", "bob", map[string]any{"listId": done.ID, "index": -1}, nil, http.StatusUnprocessableEntity)
	s.mustDo(http.MethodPatch, "/api/cards/"+c1.ID, "bob", map[string]any{"index": 2}, nil, http.StatusUnprocessableEntity)

	var other domain.Board
	var otherList domain.List
	s.mustDo(http.MethodPost, "/api/boards", "bob", map[string]string{"name": "Side"}, &other, http.StatusCreated)
	s.mustDo(http.MethodPost, "/api/boards/"+other.ID+"/lists", "bob", map[string]string{"title": "X"}, &otherList, http.StatusCreated)
	s.mustDo(http.MethodPost, "/api/cards/"+c1.ID+"/move", "bob", map[string]any{"listId": otherList.ID, "index": 0}, nil, http.StatusUnprocessableEntity)

	s.mustDo(http.MethodDelete, base, "bob", nil, nil, http.StatusForbidden)
	s.mustDo(http.MethodDelete, base, "alice", nil, nil, http.StatusNoContent)
	s.mustDo(http.MethodGet, base, "alice", nil, nil, http.StatusNotFound)
}

func TestCardPatchClearsDate(t *testing.T) {
	s := newTestServer(t, nil)
	b := s.seed()
	var l domain.List
	var c domain.Card
	s.mustDo(http.MethodPost, "/api/boards/"+b.ID+"/lists", "bob", map[string]string{"title": "Todo"}, &l, http.StatusCreated)
	s.mustDo(http.MethodPost, "/api/lists/"+l.ID+"/cards", "bob",
		map[string]any{"title": "Dated", "startDate": "2026-10-01T00:00:00Z", "dueDate": "2026-10-05T00:00:00Z"}, &c, http.StatusCreated)

	var patched domain.Card
	s.mustDo(http.MethodPatch, "/api/cards/"+c.ID, "bob", map[string]any{"dueDate": nil, "title": "Undated"}, &patched, http.StatusOK)
	if patched.DueDate != nil || patched.StartDate == nil || patched.Title != "Undated" {
		t.Fatalf("unexpected patch result %+v", patched)
	}
	s.mustDo(http.MethodPatch, "/api/cards/"+c.ID, "bob", map[string]any{"dueDate": "2026-09-01T00:00:00Z"}, nil, http.StatusUnprocessableEntity)
}

func TestCommentsAndLabels(t *testing.T) {
	s := newTestServer(t, nil)
	b := s.seed()
	var l domain.List
	var c domain.Card
	s.mustDo(http.MethodPost, "/api/boards/"+b.ID+"/lists", "bob", map[string]string{"title": "Todo"}, &l, http.StatusCreated)
	s.mustDo(http.MethodPost, "/api/lists/"+l.ID+"/cards", "bob", map[string]any{"title": "Card"}, &c, http.StatusCreated)

	var cm domain.Comment
	s.mustDo(http.MethodPost, "/api/cards/"+c.ID+"/comments", "vic", map[string]string{"text": "+1"}, &cm, http.StatusCreated)
	s.mustDo(http.MethodDelete, "/api/cards/"+c.ID+"/comments/"+cm.ID, "bob", nil, nil, http.StatusForbidden)
	s.mustDo(http.MethodDelete, "/api/cards/"+c.ID+"/comments/"+cm.ID, "alice", nil, nil, http.StatusNoContent)

	var label domain.Label
	s.mustDo(http.MethodPost, "/api/boards/"+b.ID+"/labels", "bob", map[string]string{"name": "bug", "color": "#aa0000"}, &label, http.StatusCreated)
	s.mustDo(http.MethodPut, "/api/cards/"+c.ID+"/labels/"+label.ID, "bob", nil, nil, http.StatusNoContent)
	var got domain.Card
	s.mustDo(http.MethodGet, "/api/cards/"+c.ID, "vic", nil, &got, http.StatusOK)
	if len(got.LabelIDs) != 1 || got.LabelIDs[0] != label.ID {
		t.Fatalf("unexpected labels %v", got.LabelIDs)
	}
	s.mustDo(http.MethodDelete, "/api/labels/"+label.ID, "bob", nil, nil, http.StatusNoContent)
	s.mustDo(http.MethodGet, "/api/cards/"+c.ID, "vic", nil, &got, http.StatusOK)
	if len(got.LabelIDs) != 0 {
		t.Fatalf("label survived deletion: %v", got.LabelIDs)
	}
}

func TestMutationsReachRealtimeSubscribers(t *testing.T) {
	s := newTestServer(t, nil)
	b := s.seed()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet,
		s.srv.URL+"/realtime/"+b.ID+"?token="+signToken(t, "vic", "vic@example.com"), nil)
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("open stream: %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("stream status %d", res.StatusCode)
	}
	deadline := time.Now().Add(2 * time.Second)
	for s.reg.Subscribers(b.ID) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("stream never subscribed")
		}
		time.Sleep(5 * time.Millisecond)
	}

	var l domain.List
	var c domain.Card
	s.mustDo(http.MethodPost, "/api/boards/"+b.ID+"/lists", "bob", map[string]string{"title": "Todo"}, &l, http.StatusCreated)
	s.mustDo(http.MethodPost, "/api/lists/"+l.ID+"/cards", "bob", map[string]any{"title": "Card"}, &c, http.StatusCreated)
	s.mustDo(http.MethodPost, "/api/cards/"+c.ID+"/comments", "vic", map[string]string{"text": "hi"}, nil, http.StatusCreated)

	r := bufio.NewReader(res.Body)
	want := []domain.Event{domain.NewListCreated(), domain.NewCardCreated(l.ID), domain.NewCommentCreated(c.ID)}
	for i, w := range want {
		var data string
		for {
			line, err := r.ReadString('\n')
			if err != nil {
				t.Fatalf("read stream: %v", err)
			}
			if strings.HasPrefix(line, "data: ") {
				data = strings.TrimSpace(strings.TrimPrefix(line, "data: "))
				break
			}
		}
		ev, err := domain.DecodeEvent([]byte(data))
		if err != nil {
			t.Fatalf("decode event %d: %v", i, err)
		}
		if ev != w {
			t.Fatalf("event %d: got %+v, want %+v", i, ev, w)
		}
	}
}

func TestIdempotencyKeyRejectsReplay(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	rc := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rc.Close() })

	s := newTestServer(t, NewRedisDeduper(rc, time.Minute))
	body := map[string]string{"name": "Once"}
	if got := s.do(http.MethodPost, "/api/boards", "alice", body, nil, HeaderIdempotencyKey, "k1"); got != http.StatusCreated {
		t.Fatalf("first request: %d", got)
	}
	if got := s.do(http.MethodPost, "/api/boards", "alice", body, nil, HeaderIdempotencyKey, "k1"); got != http.StatusConflict {
		t.Fatalf("replay: %d", got)
	}
	if got := s.do(http.MethodPost, "/api/boards", "bob", body, nil, HeaderIdempotencyKey, "k1"); got != http.StatusCreated {
		t.Fatalf("other user, same key: %d", got)
	}

	bad := map[string]string{"name": ""}
	if got := s.do(http.MethodPost, "/api/boards", "alice", bad, nil, HeaderIdempotencyKey, "k2"); got != http.StatusUnprocessableEntity {
		t.Fatalf("invalid request: %d", got)
	}
	if mr.Exists("idem:alice:k2") {
		t.Fatal("failed request must release its key")
	}
}

func TestGzipRequestBody(t *testing.T) {
	s := newTestServer(t, nil)
	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	_, _ = gw.Write([]byte(`{"name":"Zipped"}`))
	_ = gw.Close()

	req, _ := http.NewRequest(http.MethodPost, s.srv.URL+"/api/boards", &buf)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	req.Header.Set(echo.HeaderContentEncoding, "gzip")
	req.Header.Set(echo.HeaderAuthorization, "Bearer "+signToken(t, "alice", "alice@example.com"))
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("status %d", res.StatusCode)
	}

	req, _ = http.NewRequest(http.MethodPost, s.srv.URL+"/api/boards", strings.NewReader("not gzip"))
	req.Header.Set(echo.HeaderContentEncoding, "gzip")
	req.Header.Set(echo.HeaderAuthorization, "Bearer "+signToken(t, "alice", "alice@example.com"))
	res2, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	res2.Body.Close()
	if res2.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for invalid gzip, got %d", res2.StatusCode)
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{domain.ErrUnauthorized, http.StatusUnauthorized},
		{domain.ErrForbidden, http.StatusForbidden},
		{domain.ErrNotFound, http.StatusNotFound},
		{domain.ErrValidation, http.StatusUnprocessableEntity},
		{domain.ErrInvalidMove, http.StatusUnprocessableEntity},
		{domain.ErrConflict, http.StatusConflict},
		{context.DeadlineExceeded, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := statusFor(tt.err); got != tt.want {
			t.Fatalf("statusFor(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}
