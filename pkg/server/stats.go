package server

import (
	"slices"
	"time"

	"github.com/replinet/replinet/pkg/conn"
	"github.com/replinet/replinet/pkg/protocol"
)

// EntityInfo describes a spawned identity for the admin surface.
type EntityInfo struct {
	NetID      protocol.NetID   `json:"net_id"`
	AssetID    string           `json:"asset_id,omitempty"`
	SceneID    protocol.SceneID `json:"scene_id,omitempty"`
	Owner      int              `json:"owner"` // connection id, -1 for the host
	Player     bool             `json:"player"`
	ServerOnly bool             `json:"server_only,omitempty"`
	Observers  []int            `json:"observers"`
	Behaviours []string         `json:"behaviours"`
}

// ConnectionInfo describes a connection for the admin surface.
type ConnectionInfo struct {
	ID        int              `json:"id"`
	Address   string           `json:"address"`
	Ready     bool             `json:"ready"`
	Players   []int16          `json:"players"`
	Owned     []protocol.NetID `json:"owned"`
	Visible   int              `json:"visible"`
	LastError string           `json:"last_error"`
	MsgsOut   int              `json:"msgs_out"`
	BytesOut  int              `json:"bytes_out"`
	MsgsIn    int              `json:"msgs_in"`
	BytesIn   int              `json:"bytes_in"`
}

// Entities returns the entity view published by the last tick. Safe for
// concurrent use.
func (s *Server) Entities() []EntityInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.entities)
}

// ConnectionInfos returns the connection view published by the last tick.
// Safe for concurrent use.
func (s *Server) ConnectionInfos() []ConnectionInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.connInfo)
}

// publish rebuilds the views read by other goroutines.
func (s *Server) publish() {
	objects := s.Objects()
	entities := make([]EntityInfo, 0, len(objects))
	for _, id := range objects {
		info := EntityInfo{
			NetID:      id.NetID(),
			SceneID:    id.SceneID(),
			Owner:      -1,
			Player:     id.ConnectionToClient() != nil,
			ServerOnly: id.ServerOnly(),
		}
		if id.AssetID().IsValid() {
			info.AssetID = id.AssetID().String()
		}
		if owner := id.ClientAuthorityOwner(); owner != nil {
			info.Owner = owner.ID()
		} else if c := id.ConnectionToClient(); c != nil {
			info.Owner = c.ID()
		}
		for _, c := range id.Observers() {
			info.Observers = append(info.Observers, c.ID())
		}
		for _, b := range id.Behaviours() {
			info.Behaviours = append(info.Behaviours, b.Tag())
		}
		entities = append(entities, info)
	}

	conns := s.Connections()
	infos := make([]ConnectionInfo, 0, len(conns))
	for _, c := range conns {
		info := ConnectionInfo{
			ID:        c.ID(),
			Address:   c.Address(),
			Ready:     c.IsReady(),
			Owned:     c.OwnedObjects(),
			Visible:   len(c.VisibleObjects()),
			LastError: c.LastError().String(),
		}
		for _, pc := range c.PlayerControllers() {
			info.Players = append(info.Players, pc.ID)
		}
		info.MsgsOut, _, info.BytesOut, _ = c.StatsOut()
		info.MsgsIn, info.BytesIn = c.StatsIn()
		infos = append(infos, info)
	}

	s.mu.Lock()
	s.entities = entities
	s.connInfo = infos
	s.mu.Unlock()
}

// StatsOut aggregates the send counters of every connection.
func (s *Server) StatsOut() (msgs, bufferedMsgs, bytes, lastBufferedPerSecond int) {
	for _, c := range s.conns {
		m, bm, b, lb := c.StatsOut()
		msgs += m
		bufferedMsgs += bm
		bytes += b
		lastBufferedPerSecond += lb
	}
	return msgs, bufferedMsgs, bytes, lastBufferedPerSecond
}

// StatsIn aggregates the receive counters of every connection.
func (s *Server) StatsIn() (msgs, bytes int) {
	for _, c := range s.conns {
		m, b := c.StatsIn()
		msgs += m
		bytes += b
	}
	return msgs, bytes
}

// ConnectionStats merges the received frame counters of every connection
// by message type.
func (s *Server) ConnectionStats() []conn.PacketStat {
	merged := make(map[protocol.MsgType]conn.PacketStat)
	for _, c := range s.conns {
		for _, st := range c.PacketStats() {
			m := merged[st.MsgType]
			m.MsgType = st.MsgType
			m.Count += st.Count
			m.Bytes += st.Bytes
			merged[st.MsgType] = m
		}
	}
	out := make([]conn.PacketStat, 0, len(merged))
	for _, st := range merged {
		out = append(out, st)
	}
	slices.SortFunc(out, func(a, b conn.PacketStat) int { return int(a.MsgType) - int(b.MsgType) })
	return out
}

// SetMaxDelay sets the batching delay of every connection and of
// connections accepted later.
func (s *Server) SetMaxDelay(d time.Duration) {
	s.cfg.MaxDelay = d
	s.connCfg.Channel.MaxDelay = d
	for _, c := range s.conns {
		c.SetMaxDelay(d)
	}
}

// EntityState is an entity view with the initial state of its behaviours.
type EntityState struct {
	EntityInfo
	State []byte `json:"state"`
}

// CaptureState serializes every spawned identity. It must be called from
// the tick context.
func (s *Server) CaptureState() []EntityState {
	s.publish()
	infos := s.Entities()
	out := make([]EntityState, 0, len(infos))
	for _, info := range infos {
		id, ok := s.objects[info.NetID]
		if !ok {
			continue
		}
		w := protocol.NewWriter()
		id.SerializeAll(w)
		out = append(out, EntityState{EntityInfo: info, State: slices.Clone(w.Bytes())})
	}
	return out
}
