package client

import (
	"context"
	"errors"
	"slices"
	"testing"
	"time"

	"github.com/replinet/replinet/pkg/conn"
	"github.com/replinet/replinet/pkg/protocol"
	"github.com/replinet/replinet/pkg/replica"
	"github.com/replinet/replinet/pkg/server"
	"github.com/replinet/replinet/pkg/transport"
)

const testPort = 7100

var healthAsset = protocol.AssetID{0xa1, 0x01}

// health is a behaviour with one replicated int32.
type health struct {
	replica.SyncBase
	hp      int32
	started func()
}

func (h *health) Tag() string { return "Health" }

func (h *health) SetHP(v int32) { replica.SetSyncVar(&h.SyncBase, v, &h.hp, 1) }

func (h *health) OnStartClient() {
	if h.started != nil {
		h.started()
	}
}

func (h *health) Serialize(w *protocol.Writer, initial bool) bool {
	if initial {
		w.WriteInt32(h.hp)
		return true
	}
	bits := h.DirtyBits()
	w.WritePackedUint32(bits)
	if bits&1 != 0 {
		w.WriteInt32(h.hp)
		return true
	}
	return false
}

func (h *health) Deserialize(r *protocol.Reader, initial bool) error {
	if !initial {
		bits, err := r.ReadPackedUint32()
		if err != nil || bits&1 == 0 {
			return err
		}
	}
	v, err := r.ReadInt32()
	h.hp = v
	return err
}

func hpOf(t *testing.T, id *replica.Identity) int32 {
	t.Helper()
	b, ok := id.Behaviour("Health")
	if !ok {
		t.Fatal("identity has no Health behaviour")
	}
	return b.(*health).hp
}

type env struct {
	net       *transport.Network
	srvRT     *replica.Runtime
	cliRT     *replica.Runtime
	srv       *server.Server
	cli       *Client
	now       time.Time
	codes     []protocol.ErrorCode
	started   []protocol.NetID
	unspawned []protocol.NetID
}

type envOptions struct {
	server        func(*server.Config)
	client        func(*Config)
	clientChannel int
}

func newEnv(t *testing.T, opts envOptions) *env {
	t.Helper()
	e := &env{
		net:   transport.NewNetwork(),
		srvRT: replica.NewRuntime(nil),
		cliRT: replica.NewRuntime(nil),
		now:   time.Unix(1000, 0),
	}
	clock := func() time.Time { return e.now }
	e.srvRT.SetClock(clock)
	e.cliRT.SetClock(clock)
	if err := e.srvRT.RegisterBehaviour("Health", 0); err != nil {
		t.Fatalf("RegisterBehaviour() error = %v", err)
	}
	if err := e.cliRT.RegisterBehaviour("Health", opts.clientChannel); err != nil {
		t.Fatalf("RegisterBehaviour() error = %v", err)
	}

	scfg := server.DefaultConfig()
	scfg.Port = testPort
	scfg.MaxDelay = 0
	if opts.server != nil {
		opts.server(scfg)
	}
	e.srv = server.New(e.net, e.srvRT, scfg)
	if err := e.srv.Listen(); err != nil {
		t.Fatalf("Listen() error = %v", err)
	}

	ccfg := DefaultConfig()
	ccfg.MaxDelay = 0
	if opts.client != nil {
		opts.client(ccfg)
	}
	e.cli = New(e.net, e.cliRT, ccfg)
	e.cli.now = clock
	e.cli.OnError(func(c *conn.Connection, code protocol.ErrorCode) { e.codes = append(e.codes, code) })

	err := e.cli.Scene().RegisterSpawnHandler(healthAsset,
		func(netID protocol.NetID, assetID protocol.AssetID) (*replica.Identity, error) {
			hp := &health{}
			id := replica.NewIdentity(e.cliRT, hp)
			hp.started = func() { e.started = append(e.started, id.NetID()) }
			id.SetLocalPlayerAuthority(true)
			return id, nil
		},
		func(id *replica.Identity) { e.unspawned = append(e.unspawned, id.NetID()) },
	)
	if err != nil {
		t.Fatalf("RegisterSpawnHandler() error = %v", err)
	}
	return e
}

// connect runs the ticks of a connect to an IP literal.
func (e *env) connect(t *testing.T) {
	t.Helper()
	if err := e.cli.Connect(context.Background(), "127.0.0.1", testPort); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	e.cli.Update(context.Background())
	e.step()
}

// step runs one server tick and then one client tick.
func (e *env) step() {
	e.srv.Update(context.Background())
	e.cli.Update(context.Background())
}

func (e *env) spawn(t *testing.T, hp int32) *replica.Identity {
	t.Helper()
	id := replica.NewIdentity(e.srvRT, &health{hp: hp})
	if err := id.SetAssetID(healthAsset); err != nil {
		t.Fatalf("SetAssetID() error = %v", err)
	}
	id.SetLocalPlayerAuthority(true)
	if err := e.srv.Spawn(id); err != nil {
		t.Fatalf("Spawn() error = %v", err)
	}
	return id
}

func TestConnect(t *testing.T) {
	e := newEnv(t, envOptions{})
	var connected int
	e.cli.OnConnect(func(*conn.Connection) { connected++ })

	if err := e.cli.Connect(context.Background(), "127.0.0.1", testPort); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if got := e.cli.State(); got != StateResolved {
		t.Errorf("State() after Connect = %v, want Resolved", got)
	}
	e.cli.Update(context.Background())
	if got := e.cli.State(); got != StateConnecting {
		t.Errorf("State() after first tick = %v, want Connecting", got)
	}
	e.step()
	if got := e.cli.State(); got != StateConnected {
		t.Fatalf("State() = %v, want Connected", got)
	}
	if connected != 1 {
		t.Errorf("OnConnect calls = %d, want 1", connected)
	}
	if err := e.cli.CRCError(); err != nil {
		t.Errorf("CRCError() = %v, want nil", err)
	}
	if len(e.codes) != 0 {
		t.Errorf("reported codes = %v, want none", e.codes)
	}
	if err := e.cli.Connect(context.Background(), "127.0.0.1", testPort); !errors.Is(err, ErrAlreadyConnecting) {
		t.Errorf("Connect() again error = %v, want ErrAlreadyConnecting", err)
	}
}

type fakeResolver struct {
	addrs []string
	err   error
}

func (r fakeResolver) LookupHost(ctx context.Context, host string) ([]string, error) {
	return r.addrs, r.err
}

func waitResolved(t *testing.T, c *Client) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for c.State() == StateResolving {
		if time.Now().After(deadline) {
			t.Fatal("host name lookup did not finish")
		}
		c.Update(context.Background())
		time.Sleep(time.Millisecond)
	}
}

func TestResolveHostName(t *testing.T) {
	e := newEnv(t, envOptions{client: func(cfg *Config) {
		cfg.Resolver = fakeResolver{addrs: []string{"10.0.0.7", "10.0.0.8"}}
	}})
	if err := e.cli.Connect(context.Background(), "game.example", testPort); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if got := e.cli.State(); got != StateResolving {
		t.Fatalf("State() = %v, want Resolving", got)
	}
	waitResolved(t, e.cli)
	if got := e.cli.State(); got != StateResolved {
		t.Fatalf("State() = %v, want Resolved", got)
	}
	if got := e.cli.Address(); got != "10.0.0.7" {
		t.Errorf("Address() = %q, want 10.0.0.7", got)
	}
	e.cli.Update(context.Background())
	e.step()
	if got := e.cli.State(); got != StateConnected {
		t.Errorf("State() = %v, want Connected", got)
	}
}

func TestResolveFailure(t *testing.T) {
	e := newEnv(t, envOptions{client: func(cfg *Config) {
		cfg.Resolver = fakeResolver{err: errors.New("no such host")}
	}})
	var errConn *conn.Connection
	e.cli.OnError(func(c *conn.Connection, code protocol.ErrorCode) {
		errConn = c
		e.codes = append(e.codes, code)
	})
	if err := e.cli.Connect(context.Background(), "missing.example", testPort); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	waitResolved(t, e.cli)
	if got := e.cli.State(); got != StateFailed {
		t.Fatalf("State() = %v, want Failed", got)
	}
	if len(e.codes) != 0 {
		t.Fatalf("codes before the next tick = %v, want none", e.codes)
	}
	e.cli.Update(context.Background())
	if got := e.cli.State(); got != StateDisconnected {
		t.Errorf("State() = %v, want Disconnected", got)
	}
	if !slices.Equal(e.codes, []protocol.ErrorCode{protocol.CodeDNSFailure}) {
		t.Errorf("codes = %v, want [DNSFailure]", e.codes)
	}
	if errConn != nil {
		t.Errorf("error connection = %v, want nil", errConn)
	}
}

func TestConnectNoServer(t *testing.T) {
	e := newEnv(t, envOptions{})
	if err := e.cli.Connect(context.Background(), "127.0.0.1", testPort+1); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	e.cli.Update(context.Background())
	if got := e.cli.State(); got != StateDisconnected {
		t.Errorf("State() = %v, want Disconnected", got)
	}
	if len(e.codes) != 1 || e.codes[0] == protocol.CodeOk {
		t.Errorf("codes = %v, want one connect error", e.codes)
	}
}

func TestCRCMismatch(t *testing.T) {
	e := newEnv(t, envOptions{clientChannel: 1})
	e.connect(t)
	if got := e.cli.State(); got != StateConnected {
		t.Fatalf("State() = %v, want Connected", got)
	}
	if !slices.Equal(e.codes, []protocol.ErrorCode{protocol.CodeCRCMismatch}) {
		t.Errorf("codes = %v, want [CRCMismatch]", e.codes)
	}
	var crcErr *CRCError
	if err := e.cli.CRCError(); !errors.As(err, &crcErr) || crcErr.Name != "Health" {
		t.Errorf("CRCError() = %v, want a Health mismatch", err)
	}
}

func TestCRCMismatchStrict(t *testing.T) {
	e := newEnv(t, envOptions{clientChannel: 1, client: func(cfg *Config) { cfg.StrictCRC = true }})
	e.connect(t)
	if got := e.cli.State(); got != StateDisconnected {
		t.Errorf("State() = %v, want Disconnected", got)
	}
	if e.cli.Connection() != nil {
		t.Error("Connection() is kept after a strict mismatch")
	}
	e.srv.Update(context.Background())
	if n := len(e.srv.Connections()); n != 0 {
		t.Errorf("server connections = %d, want 0", n)
	}
}

func TestValidateCRC(t *testing.T) {
	rt := replica.NewRuntime(nil)
	rt.RegisterBehaviour("Health", 0)
	rt.RegisterBehaviour("Mover", 1)

	tests := []struct {
		name    string
		entries []protocol.CRCEntry
		wantErr bool
	}{
		{"match", []protocol.CRCEntry{{Name: "Health", Channel: 0}, {Name: "Mover", Channel: 1}}, false},
		{"count", []protocol.CRCEntry{{Name: "Health", Channel: 0}}, true},
		{"channel", []protocol.CRCEntry{{Name: "Health", Channel: 1}, {Name: "Mover", Channel: 1}}, true},
		{"unknown name skipped", []protocol.CRCEntry{{Name: "Health", Channel: 0}, {Name: "Door", Channel: 0}}, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateCRC(rt, tc.entries, 2)
			if (err != nil) != tc.wantErr {
				t.Fatalf("ValidateCRC() error = %v, wantErr %v", err, tc.wantErr)
			}
			if err != nil && protocol.CodeOf(err) != protocol.CodeCRCMismatch {
				t.Errorf("CodeOf() = %v, want CRCMismatch", protocol.CodeOf(err))
			}
		})
	}

	t.Run("channel out of range", func(t *testing.T) {
		err := ValidateCRC(rt, []protocol.CRCEntry{{Name: "Health", Channel: 0}, {Name: "Mover", Channel: 1}}, 1)
		if !errors.Is(err, ErrCRCMismatch) {
			t.Errorf("ValidateCRC() error = %v, want ErrCRCMismatch", err)
		}
	})
}

func TestSpawnReplication(t *testing.T) {
	e := newEnv(t, envOptions{})
	first := e.spawn(t, 42)
	second := e.spawn(t, 7)
	e.connect(t)

	var seen []int
	if err := e.cli.Ready(); err != nil {
		t.Fatalf("Ready() error = %v", err)
	}
	if err := e.cli.Ready(); !errors.Is(err, ErrAlreadyReady) {
		t.Errorf("Ready() again error = %v, want ErrAlreadyReady", err)
	}
	e.step()

	objects := e.cli.Scene().Objects()
	if len(objects) != 2 {
		t.Fatalf("Objects() = %d, want 2", len(objects))
	}
	for _, id := range objects {
		seen = append(seen, int(hpOf(t, id)))
		if !id.IsClient() {
			t.Errorf("%v not started", id)
		}
	}
	if !slices.Equal(seen, []int{42, 7}) {
		t.Errorf("hp = %v, want [42 7]", seen)
	}
	if want := []protocol.NetID{first.NetID(), second.NetID()}; !slices.Equal(e.started, want) {
		t.Errorf("start order = %v, want %v", e.started, want)
	}
	if !e.cli.Scene().IsSpawnFinished() {
		t.Error("IsSpawnFinished() = false after the replay")
	}

	first.Behaviours()[0].(*health).SetHP(40)
	e.step()
	got, _ := e.cli.Scene().FindObject(first.NetID())
	if hp := hpOf(t, got); hp != 40 {
		t.Errorf("hp after update = %d, want 40", hp)
	}

	e.srv.Destroy(first)
	e.step()
	if _, ok := e.cli.Scene().FindObject(1); ok {
		t.Error("destroyed object still in the scene")
	}
	if !slices.Equal(e.unspawned, []protocol.NetID{1}) {
		t.Errorf("unspawned = %v, want [1]", e.unspawned)
	}
}

func TestSpawnUnknownAsset(t *testing.T) {
	e := newEnv(t, envOptions{})
	e.cli.Scene().UnregisterSpawnHandler(healthAsset)
	e.spawn(t, 1)
	e.connect(t)
	if err := e.cli.Ready(); err != nil {
		t.Fatalf("Ready() error = %v", err)
	}
	e.step()
	if n := len(e.cli.Scene().Objects()); n != 0 {
		t.Errorf("Objects() = %d, want 0", n)
	}
	if !slices.Equal(e.codes, []protocol.ErrorCode{protocol.CodeUsageError}) {
		t.Errorf("codes = %v, want [UsageError]", e.codes)
	}
	if got := e.cli.State(); got != StateConnected {
		t.Errorf("State() = %v, want Connected", got)
	}
}

func TestSceneObjects(t *testing.T) {
	e := newEnv(t, envOptions{})
	placed := replica.NewIdentity(e.cliRT, &health{})
	if err := e.cli.Scene().RegisterSceneObject(7, placed); err != nil {
		t.Fatalf("RegisterSceneObject() error = %v", err)
	}

	door := replica.NewIdentity(e.srvRT, &health{hp: 3})
	door.ForceSceneID(7)
	if err := e.srv.Spawn(door); err != nil {
		t.Fatalf("Spawn() error = %v", err)
	}
	e.connect(t)
	e.cli.Ready()
	e.step()

	got, ok := e.cli.Scene().FindObject(door.NetID())
	if !ok || got != placed {
		t.Fatalf("FindObject() = %v, %v, want the placed identity", got, ok)
	}
	if hp := hpOf(t, placed); hp != 3 {
		t.Errorf("hp = %d, want 3", hp)
	}
	if n := len(e.cli.Scene().SceneObjects()); n != 0 {
		t.Errorf("SceneObjects() = %d, want 0 while spawned", n)
	}

	e.srv.Destroy(door)
	e.step()
	if got := e.cli.Scene().SceneObjects(); !slices.Equal(got, []protocol.SceneID{7}) {
		t.Errorf("SceneObjects() = %v, want [7]", got)
	}
	if !placed.NetID().IsEmpty() {
		t.Errorf("NetID() after destroy = %v, want 0", placed.NetID())
	}
}

func TestPlayerAndCommand(t *testing.T) {
	var e *env
	var serverPlayer *replica.Identity
	e = newEnv(t, envOptions{server: func(cfg *server.Config) {
		cfg.PlayerFactory = func(c *conn.Connection, pcid int16, payload []byte) (*replica.Identity, error) {
			serverPlayer = replica.NewIdentity(e.srvRT, &health{hp: 100})
			serverPlayer.SetAssetID(healthAsset)
			serverPlayer.SetLocalPlayerAuthority(true)
			return serverPlayer, nil
		}
	}})

	heal := func(b replica.Behaviour, args *protocol.Reader) error {
		v, err := args.ReadInt32()
		if err != nil {
			return err
		}
		hp := b.(*health)
		hp.SetHP(hp.hp + v)
		return nil
	}
	hash, err := e.srvRT.RegisterMethod(replica.KindCommand, "Health", "CmdHeal", heal)
	if err != nil {
		t.Fatalf("RegisterMethod() error = %v", err)
	}
	if _, err := e.cliRT.RegisterMethod(replica.KindCommand, "Health", "CmdHeal", heal); err != nil {
		t.Fatalf("RegisterMethod() error = %v", err)
	}

	e.connect(t)
	if err := e.cli.AddPlayer(0, []byte("hero")); err != nil {
		t.Fatalf("AddPlayer() error = %v", err)
	}
	e.step()

	player, ok := e.cli.Scene().LocalPlayer(0)
	if !ok {
		t.Fatal("LocalPlayer(0) not found")
	}
	if !player.IsLocalPlayer() || !player.HasAuthority() {
		t.Errorf("local player = %v, authority = %v", player.IsLocalPlayer(), player.HasAuthority())
	}
	if err := e.cli.AddPlayer(0, nil); !errors.Is(err, ErrPlayerExists) {
		t.Errorf("AddPlayer() same slot error = %v, want ErrPlayerExists", err)
	}

	w := protocol.NewWriter()
	w.WriteInt32(5)
	if err := e.cli.SendCommand(player, hash, w.Bytes()); err != nil {
		t.Fatalf("SendCommand() error = %v", err)
	}
	e.step()
	if hp := hpOf(t, serverPlayer); hp != 105 {
		t.Errorf("server hp = %d, want 105", hp)
	}

	other := replica.NewIdentity(e.cliRT, &health{})
	if err := e.cli.SendCommand(other, hash, nil); !errors.Is(err, protocol.ErrNotAuthority) {
		t.Errorf("SendCommand() without authority error = %v, want ErrNotAuthority", err)
	}

	if err := e.cli.RemovePlayer(0); err != nil {
		t.Fatalf("RemovePlayer() error = %v", err)
	}
	e.step()
	if _, ok := e.cli.Scene().FindObject(player.NetID()); ok {
		t.Error("removed player still in the scene")
	}
	if err := e.cli.RemovePlayer(0); !errors.Is(err, ErrPlayerNotFound) {
		t.Errorf("RemovePlayer() again error = %v, want ErrPlayerNotFound", err)
	}
}

func TestClientAuthorityAndRPC(t *testing.T) {
	e := newEnv(t, envOptions{})
	var flashes []int32
	hash, err := e.cliRT.RegisterMethod(replica.KindRPC, "Health", "RpcFlash", func(b replica.Behaviour, args *protocol.Reader) error {
		v, err := args.ReadInt32()
		flashes = append(flashes, v)
		return err
	})
	if err != nil {
		t.Fatalf("RegisterMethod() error = %v", err)
	}

	id := e.spawn(t, 1)
	e.connect(t)
	e.cli.Ready()
	e.step()

	sc := e.srv.Connections()[0]
	if err := id.AssignClientAuthority(sc); err != nil {
		t.Fatalf("AssignClientAuthority() error = %v", err)
	}
	e.step()
	local, _ := e.cli.Scene().FindObject(id.NetID())
	if !local.HasAuthority() {
		t.Error("HasAuthority() = false after the authority message")
	}

	w := protocol.NewWriter()
	w.WriteInt32(3)
	e.srv.SendMessageToReady(id, protocol.MsgRPC, &protocol.InvokeMessage{Hash: hash, NetID: id.NetID(), Args: w.Bytes()})
	e.srv.SendMessageToReady(id, protocol.MsgRPC, &protocol.InvokeMessage{Hash: hash + 1, NetID: id.NetID()})
	e.step()
	if !slices.Equal(flashes, []int32{3}) {
		t.Errorf("rpc calls = %v, want [3]", flashes)
	}
	if !slices.Equal(e.codes, []protocol.ErrorCode{protocol.CodeDispatchMiss}) {
		t.Errorf("codes = %v, want [DispatchMiss]", e.codes)
	}

	if err := id.RemoveClientAuthority(sc); err != nil {
		t.Fatalf("RemoveClientAuthority() error = %v", err)
	}
	e.step()
	if local.HasAuthority() {
		t.Error("HasAuthority() = true after revocation")
	}
}

func TestServerDisconnect(t *testing.T) {
	e := newEnv(t, envOptions{})
	var disconnected int
	e.cli.OnDisconnect(func(*conn.Connection) { disconnected++ })
	e.connect(t)
	e.cli.Ready()
	e.step()

	if err := e.srv.DisconnectConnection(1); err != nil {
		t.Fatalf("DisconnectConnection() error = %v", err)
	}
	e.cli.Update(context.Background())
	if got := e.cli.State(); got != StateDisconnected {
		t.Errorf("State() = %v, want Disconnected", got)
	}
	if disconnected != 1 {
		t.Errorf("OnDisconnect calls = %d, want 1", disconnected)
	}
	if e.cli.Scene().IsReady() {
		t.Error("scene still ready after disconnect")
	}
	if len(e.codes) != 0 {
		t.Errorf("codes = %v, want none for a clean close", e.codes)
	}
	if err := e.cli.Send(protocol.MsgReady, protocol.EmptyMessage{}); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Send() error = %v, want ErrNotConnected", err)
	}
}

func TestStatsPerSecond(t *testing.T) {
	e := newEnv(t, envOptions{})
	e.connect(t)
	if got := e.cli.Stats(); got.PacketsPerSecond != 0 || got.MsgsIn != 1 {
		t.Errorf("Stats() = %+v, want one message in and no full second", got)
	}
	e.now = e.now.Add(time.Second)
	e.cli.Update(context.Background())
	if got := e.cli.Stats(); got.PacketsPerSecond != 1 || got.BytesPerSecond == 0 {
		t.Errorf("Stats() after a second = %+v, want one packet", got)
	}
}

func TestShutdown(t *testing.T) {
	e := newEnv(t, envOptions{})
	e.spawn(t, 1)
	e.connect(t)
	e.cli.Ready()
	e.step()
	if n := len(e.cli.Scene().Objects()); n != 1 {
		t.Fatalf("Objects() = %d, want 1", n)
	}
	if err := e.cli.Shutdown(); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
	if n := len(e.cli.Scene().Objects()); n != 0 {
		t.Errorf("Objects() after Shutdown = %d, want 0", n)
	}
	if got := e.cli.State(); got != StateNone {
		t.Errorf("State() = %v, want None", got)
	}
}

func TestConfigDefaults(t *testing.T) {
	cfg := (&Config{}).withDefaults()
	if cfg.MaxEventsPerTick != 500 || cfg.ResolveTimeout != 10*time.Second || cfg.Logger == nil {
		t.Errorf("withDefaults() = events %d, timeout %v, logger %v", cfg.MaxEventsPerTick, cfg.ResolveTimeout, cfg.Logger)
	}
	if len(cfg.Connection.Channels) != 2 {
		t.Errorf("channels = %v, want the default two", cfg.Connection.Channels)
	}
	orig := DefaultConfig()
	clone := orig.Clone()
	clone.Connection.Channels[0] = transport.Unreliable
	if orig.Connection.Channels[0] == transport.Unreliable {
		t.Error("Clone() shares the channel slice")
	}
}
