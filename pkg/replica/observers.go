package replica

import (
	"slices"

	"github.com/replinet/replinet/pkg/conn"
)

// Observers returns the observing connections in id order.
func (id *Identity) Observers() []*conn.Connection {
	return slices.Clone(id.observers)
}

// IsObservedBy reports whether c observes the identity.
func (id *Identity) IsObservedBy(c *conn.Connection) bool {
	_, ok := id.observerIDs[c.ID()]
	return ok
}

// AddObserver adds c to the observers and shows the identity to it.
// Server-only identities never gain observers.
func (id *Identity) AddObserver(c *conn.Connection) {
	if id.observerIDs == nil {
		id.logger.Error("add observer: identity not spawned", "net_id", id.netID)
		return
	}
	if id.serverOnly {
		return
	}
	if _, ok := id.observerIDs[c.ID()]; ok {
		id.logger.Debug("duplicate observer", "net_id", id.netID, "conn", c.ID())
		return
	}
	id.insertObserver(c)
	c.AddToVisList(id)
	if id.host != nil {
		id.host.ShowForConnection(id, c)
	}
}

// RemoveObserver removes c from the observers and hides the identity from it.
func (id *Identity) RemoveObserver(c *conn.Connection) {
	if id.observerIDs == nil {
		return
	}
	id.RemoveObserverInternal(c)
	c.RemoveFromVisList(id)
	if id.host != nil {
		id.host.HideForConnection(id, c)
	}
}

// RemoveObserverInternal implements conn.Entity.
func (id *Identity) RemoveObserverInternal(c *conn.Connection) {
	if id.observerIDs == nil {
		return
	}
	delete(id.observerIDs, c.ID())
	id.observers = slices.DeleteFunc(id.observers, func(o *conn.Connection) bool { return o == c })
}

// ClearObservers forgets every observer without sending hide messages.
// Used when the identity is destroyed.
func (id *Identity) ClearObservers() {
	for _, c := range id.observers {
		c.RemoveFromVisList(id)
	}
	id.observers = nil
	if id.observerIDs != nil {
		clear(id.observerIDs)
	}
}

func (id *Identity) insertObserver(c *conn.Connection) {
	i, _ := slices.BinarySearchFunc(id.observers, c.ID(), func(o *conn.Connection, target int) int {
		return o.ID() - target
	})
	id.observers = slices.Insert(id.observers, i, c)
	id.observerIDs[c.ID()] = struct{}{}
}

// RebuildObservers recomputes the observer set.
//
// Behaviours implementing ObserverRebuilder decide visibility; when none
// does, initialize adds every ready connection and a later rebuild keeps
// the current set. Only connections entering the set are sent a spawn and
// only connections leaving it are sent a hide. With initialize set every
// accepted connection is sent a spawn. A server-only identity keeps an
// empty set.
func (id *Identity) RebuildObservers(initialize bool) {
	if id.observerIDs == nil || id.serverOnly {
		return
	}

	proposed := make(ObserverSet)
	custom := false
	for _, b := range id.behaviours {
		if r, ok := b.(ObserverRebuilder); ok {
			custom = r.RebuildObservers(proposed, initialize) || custom
		}
	}

	if !custom {
		if initialize && id.host != nil {
			for _, c := range id.host.Connections() {
				if c != nil && c.IsReady() {
					id.AddObserver(c)
				}
			}
		}
		return
	}

	accepted := make([]*conn.Connection, 0, len(proposed))
	for c := range proposed {
		if c == nil {
			continue
		}
		if !c.IsReady() {
			id.logger.Warn("observer is not ready", "net_id", id.netID, "conn", c.ID())
			continue
		}
		accepted = append(accepted, c)
	}
	slices.SortFunc(accepted, func(a, b *conn.Connection) int { return a.ID() - b.ID() })

	changed := false
	for _, c := range accepted {
		if initialize || !id.IsObservedBy(c) {
			c.AddToVisList(id)
			if id.host != nil {
				id.host.ShowForConnection(id, c)
			}
			id.logger.Debug("new observer", "net_id", id.netID, "conn", c.ID())
			changed = true
		}
	}
	for _, c := range id.observers {
		if !proposed.Has(c) || !c.IsReady() {
			c.RemoveFromVisList(id)
			if id.host != nil {
				id.host.HideForConnection(id, c)
			}
			id.logger.Debug("removed observer", "net_id", id.netID, "conn", c.ID())
			changed = true
		}
	}
	if !changed {
		return
	}
	id.observers = accepted
	clear(id.observerIDs)
	for _, c := range accepted {
		id.observerIDs[c.ID()] = struct{}{}
	}
}
