package main

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/replinet/replinet/internal/config"
	"github.com/replinet/replinet/internal/errors"
	"github.com/replinet/replinet/pkg/protocol"
	"github.com/replinet/replinet/pkg/replica"
	"github.com/replinet/replinet/pkg/server"
	"github.com/replinet/replinet/pkg/snapshot"
	"github.com/replinet/replinet/pkg/transport"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func codeOf(err error) string {
	var re *errors.ReplinetError
	if stderrors.As(err, &re) {
		return re.Code
	}
	return ""
}

func TestAvatarSerialize(t *testing.T) {
	src := &avatar{name: "alice", x: 3, y: -4}
	w := protocol.NewWriter()
	if !src.Serialize(w, true) {
		t.Fatal("Serialize(initial) = false")
	}
	dst := &avatar{}
	if err := dst.Deserialize(protocol.NewReader(w.Bytes()), true); err != nil {
		t.Fatalf("Deserialize(initial) error = %v", err)
	}
	if dst.String() != "alice@(3,-4)" {
		t.Errorf("initial state = %s, want alice@(3,-4)", dst)
	}

	src.setPosition(5, 6)
	if src.DirtyBits() != dirtyPosition {
		t.Errorf("DirtyBits() = %b, want %b", src.DirtyBits(), dirtyPosition)
	}
	w = protocol.NewWriter()
	if !src.Serialize(w, false) {
		t.Fatal("Serialize(delta) = false")
	}
	if err := dst.Deserialize(protocol.NewReader(w.Bytes()), false); err != nil {
		t.Fatalf("Deserialize(delta) error = %v", err)
	}
	if dst.String() != "alice@(5,6)" {
		t.Errorf("delta state = %s, want alice@(5,6)", dst)
	}

	src.ClearAllDirtyBits()
	src.setPosition(5, 6)
	if src.DirtyBits() != 0 {
		t.Errorf("DirtyBits() after no-op move = %b, want 0", src.DirtyBits())
	}
}

func TestCmdMove(t *testing.T) {
	a := &avatar{x: 1, y: 1}
	if err := cmdMove(a, protocol.NewReader(moveArgs(-1, 2))); err != nil {
		t.Fatalf("cmdMove() error = %v", err)
	}
	if a.x != 0 || a.y != 3 {
		t.Errorf("position = (%d,%d), want (0,3)", a.x, a.y)
	}
	if err := cmdMove(a, protocol.NewReader([]byte{1})); err == nil {
		t.Error("cmdMove() with short args error = nil")
	}
}

func TestRegisterAvatar(t *testing.T) {
	a := replica.NewRuntime(discardLogger())
	b := replica.NewRuntime(discardLogger())
	ha, err := registerAvatar(a)
	if err != nil {
		t.Fatalf("registerAvatar() error = %v", err)
	}
	hb, err := registerAvatar(b)
	if err != nil {
		t.Fatalf("registerAvatar() error = %v", err)
	}
	if ha != hb {
		t.Errorf("move hashes differ: %d != %d", ha, hb)
	}
	if _, err := registerAvatar(a); err == nil {
		t.Error("registerAvatar() twice error = nil")
	}
}

func TestSplitAddress(t *testing.T) {
	tests := []struct {
		in       string
		host     string
		port     int
		wantCode string
	}{
		{"10.0.0.5:7777", "10.0.0.5", 7777, ""},
		{":9000", "localhost", 9000, ""},
		{"game.example.com:80", "game.example.com", 80, ""},
		{"nohost", "", 0, "E205"},
		{"host:0", "", 0, "E103"},
		{"host:http", "", 0, "E103"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			host, port, err := splitAddress(tt.in)
			if tt.wantCode != "" {
				if codeOf(err) != tt.wantCode {
					t.Errorf("splitAddress(%q) error = %v, want %s", tt.in, err, tt.wantCode)
				}
				return
			}
			if err != nil || host != tt.host || port != tt.port {
				t.Errorf("splitAddress(%q) = %q, %d, %v, want %q, %d", tt.in, host, port, err, tt.host, tt.port)
			}
		})
	}
}

func TestOpenStore(t *testing.T) {
	ctx := context.Background()
	cfg := config.New().Snapshot

	s, err := openStore(ctx, cfg)
	if err != nil || s != nil {
		t.Errorf("openStore(disabled) = %v, %v, want nil, nil", s, err)
	}

	cfg.Store = config.StoreMemory
	s, err = openStore(ctx, cfg)
	if err != nil {
		t.Fatalf("openStore(memory) error = %v", err)
	}
	if _, ok := s.(*snapshot.MemoryStore); !ok {
		t.Errorf("openStore(memory) = %T", s)
	}

	cfg.Store = config.StoreSQLite
	cfg.SQLitePath = filepath.Join(t.TempDir(), "replinet.db")
	s, err = openStore(ctx, cfg)
	if err != nil {
		t.Fatalf("openStore(sqlite) error = %v", err)
	}
	if err := s.Save(ctx, &snapshot.Snapshot{ID: "a", CreatedAt: time.Now(), Version: snapshot.CurrentVersion}); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if infos, err := s.List(ctx); err != nil || len(infos) != 1 {
		t.Errorf("List() = %v, %v, want one snapshot", infos, err)
	}
	s.Close()

	cfg.Store = config.StoreS3
	cfg.S3Bucket = "checkpoints"
	if s, err = openStore(ctx, cfg); err != nil {
		t.Fatalf("openStore(s3) error = %v", err)
	}
	if _, ok := s.(*snapshot.S3Store); !ok {
		t.Errorf("openStore(s3) = %T", s)
	}

	cfg.Store = "redis"
	if _, err := openStore(ctx, cfg); codeOf(err) != "E107" {
		t.Errorf("openStore(redis) error = %v, want E107", err)
	}
}

type fakeView struct {
	entities []server.EntityInfo
	conns    []server.ConnectionInfo
}

func (f *fakeView) Entities() []server.EntityInfo          { return f.entities }
func (f *fakeView) ConnectionInfos() []server.ConnectionInfo { return f.conns }
func (f *fakeView) Metrics() *server.ServerMetrics {
	return &server.ServerMetrics{ActiveConnections: int64(len(f.conns)), Entities: int64(len(f.entities))}
}

func TestAdminRouter(t *testing.T) {
	view := &fakeView{
		entities: []server.EntityInfo{{NetID: 1, Owner: 3, Player: true, Behaviours: []string{avatarTag}}},
		conns:    []server.ConnectionInfo{{ID: 3, Address: "127.0.0.1", Ready: true}},
	}
	store := snapshot.NewMemoryStore()

	router := newAdminRouter(adminConfig{View: view, Store: store, Logger: discardLogger()})

	get := func(path string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		return rec
	}

	tests := []struct {
		path       string
		wantStatus int
		wantBody   string
	}{
		{"/healthz", http.StatusOK, `"status": "ok"`},
		{"/entities", http.StatusOK, `"behaviours": [`},
		{"/connections", http.StatusOK, `"address": "127.0.0.1"`},
		{"/snapshots/latest", http.StatusNotFound, "no snapshot stored"},
		{"/metrics", http.StatusNotFound, ""},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			rec := get(tt.path)
			if rec.Code != tt.wantStatus {
				t.Errorf("GET %s status = %d, want %d", tt.path, rec.Code, tt.wantStatus)
			}
			if !strings.Contains(rec.Body.String(), tt.wantBody) {
				t.Errorf("GET %s body = %s, want %q", tt.path, rec.Body.String(), tt.wantBody)
			}
		})
	}

	snap := &snapshot.Snapshot{ID: "s1", CreatedAt: time.Now(), Tick: 9, Version: snapshot.CurrentVersion}
	if err := store.Save(context.Background(), snap); err != nil {
		t.Fatal(err)
	}
	rec := get("/snapshots/latest")
	var got snapshot.Snapshot
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode /snapshots/latest: %v", err)
	}
	if got.ID != "s1" || got.Tick != 9 {
		t.Errorf("/snapshots/latest = %+v", got)
	}

	disabled := newAdminRouter(adminConfig{View: view})
	rec = httptest.NewRecorder()
	disabled.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/snapshots", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("GET /snapshots without store status = %d, want 404", rec.Code)
	}
}

func TestInspectOutput(t *testing.T) {
	ctx := context.Background()
	store := snapshot.NewMemoryStore()

	var buf bytes.Buffer
	if err := listSnapshots(ctx, &buf, store, false); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "No snapshots") {
		t.Errorf("empty list = %q", buf.String())
	}
	if err := showSnapshot(ctx, &buf, store, "", false, false); codeOf(err) != "E203" {
		t.Errorf("showSnapshot(empty store) error = %v, want E203", err)
	}

	snap := &snapshot.Snapshot{
		ID:        "s1",
		CreatedAt: time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC),
		Tick:      4,
		Entities: []server.EntityState{{
			EntityInfo: server.EntityInfo{NetID: 7, Owner: -1, Behaviours: []string{avatarTag}},
			State:      []byte{0xab, 0xcd},
		}},
		Version: snapshot.CurrentVersion,
	}
	if err := store.Save(ctx, snap); err != nil {
		t.Fatal(err)
	}

	buf.Reset()
	if err := listSnapshots(ctx, &buf, store, false); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "s1") {
		t.Errorf("list = %q, want s1", buf.String())
	}

	buf.Reset()
	if err := showSnapshot(ctx, &buf, store, "s1", false, true); err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"Snapshot s1", "Tick:     4", "host", "abcd"} {
		if !strings.Contains(buf.String(), want) {
			t.Errorf("show output missing %q:\n%s", want, buf.String())
		}
	}

	if err := showSnapshot(ctx, &buf, store, "missing", true, false); codeOf(err) != "E203" {
		t.Errorf("showSnapshot(missing) error = %v, want E203", err)
	}
}

func TestVersionCommand(t *testing.T) {
	cmd := newRootCmd(&globalFlags{})
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"version", "--short"})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if strings.TrimSpace(out.String()) != version {
		t.Errorf("version --short = %q, want %q", out.String(), version)
	}
}

func TestErrorsCommand(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		want     []string
		wantErr  bool
		category errors.Category
	}{
		{"list", []string{"errors"}, []string{"CODE", "E100", "E205", "Invalid address"}, false, ""},
		{"explain", []string{"errors", "e205"}, []string{"E205: Invalid address", "Category:   cli", "host:port"}, false, ""},
		{"unknown", []string{"errors", "E999"}, nil, true, errors.CategoryCLI},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd := newRootCmd(&globalFlags{})
			var out bytes.Buffer
			cmd.SetOut(&out)
			cmd.SetArgs(tt.args)
			err := cmd.Execute()
			if tt.wantErr {
				var re *errors.ReplinetError
				if !stderrors.As(err, &re) || re.Category != tt.category || re.Example == "" {
					t.Fatalf("Execute() error = %#v, want a %s error with an example", err, tt.category)
				}
				return
			}
			if err != nil {
				t.Fatalf("Execute() error = %v", err)
			}
			for _, want := range tt.want {
				if !strings.Contains(out.String(), want) {
					t.Errorf("output missing %q:\n%s", want, out.String())
				}
			}
		})
	}
}

func TestReportError(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		asJSON bool
		want   []string
	}{
		{"coded_compact", errors.New("E203").Wrap(snapshot.ErrNotFound), false, []string{"E203: Snapshot not found: "}},
		{"plain_compact", stderrors.New("boom"), false, []string{"E206: Command failed: boom"}},
		{"coded_json", errors.New("E205").WithDetail("nohost"), true, []string{`"code":"E205"`, `"detail":"nohost"`}},
		{"plain_json", stderrors.New("boom"), true, []string{`"code":"E206"`, `"cause":"boom"`}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			reportError(&buf, tt.err, tt.asJSON)
			got := buf.String()
			if strings.Count(got, "\n") != 1 {
				t.Errorf("reportError() = %q, want one line", got)
			}
			for _, want := range tt.want {
				if !strings.Contains(got, want) {
					t.Errorf("reportError() = %q, missing %q", got, want)
				}
			}
			if tt.asJSON && !json.Valid([]byte(got)) {
				t.Errorf("reportError() = %q, not JSON", got)
			}
		})
	}
}

// TestServeAndConnect runs a host and a peer over a real websocket and
// moves the peer's avatar.
func TestServeAndConnect(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	logger := discardLogger()

	cfg := config.New()
	cfg.Snapshot.Store = config.StoreMemory

	h, err := newHost(ctx, cfg, logger)
	if err != nil {
		t.Fatalf("newHost() error = %v", err)
	}
	ts := httptest.NewServer(h.router)
	defer ts.Close()

	u, err := url.Parse(ts.URL)
	if err != nil {
		t.Fatal(err)
	}
	port, _ := strconv.Atoi(u.Port())

	ws := transport.NewWebSocket(cfg.ToWebSocketConfig(), logger)
	p, err := newPeer(ws, cfg, logger, peerOptions{address: u.Hostname(), port: port, name: "alice"})
	if err != nil {
		t.Fatalf("newPeer() error = %v", err)
	}
	if err := p.cli.Connect(ctx, u.Hostname(), port); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	step := func(cond func() bool) bool {
		for ctx.Err() == nil {
			h.tick++
			h.srv.Update(ctx)
			p.cli.Update(ctx)
			if cond() {
				return true
			}
			time.Sleep(5 * time.Millisecond)
		}
		return false
	}

	var player *replica.Identity
	if !step(func() bool {
		var ok bool
		player, ok = p.cli.Scene().LocalPlayer(0)
		return ok && player.HasAuthority()
	}) {
		t.Fatal("local player never spawned")
	}
	b, _ := player.Behaviour(avatarTag)
	local := b.(*avatar)
	if local.name != "alice" {
		t.Errorf("avatar name = %q, want alice", local.name)
	}

	if err := p.cli.SendCommand(player, p.moveHash, moveArgs(2, 3)); err != nil {
		t.Fatalf("SendCommand() error = %v", err)
	}
	if !step(func() bool { return local.x == 2 && local.y == 3 }) {
		t.Fatalf("avatar = %s, want the move replicated", local)
	}

	resp, err := http.Get(ts.URL + "/entities")
	if err != nil {
		t.Fatal(err)
	}
	var entities []server.EntityInfo
	err = json.NewDecoder(resp.Body).Decode(&entities)
	resp.Body.Close()
	if err != nil || len(entities) != 1 || !entities[0].Player {
		t.Errorf("/entities = %+v, %v, want one player", entities, err)
	}

	h.checkpoint(ctx, time.Now())
	h.saves.Wait()
	snap, err := snapshot.Latest(ctx, h.store)
	if err != nil {
		t.Fatalf("Latest() error = %v", err)
	}
	if len(snap.Entities) != 1 || snap.Entities[0].AssetID != avatarAsset.String() {
		t.Errorf("checkpoint entities = %+v", snap.Entities)
	}

	if err := p.cli.Shutdown(); err != nil {
		t.Errorf("client Shutdown() error = %v", err)
	}
	if err := h.close(ctx); err != nil {
		t.Errorf("close() error = %v", err)
	}
}
