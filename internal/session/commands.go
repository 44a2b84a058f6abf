package session

import (
	"bytes"
	"time"

	"github.com/matst80/husky/internal/credentials"
	"github.com/matst80/husky/internal/obs"
	"github.com/matst80/husky/internal/proto"
)

// handle interprets one application payload from c and writes exactly one
// response, except for DROP_ME and commands rejected from unapproved
// connections, which close c silently.
func (m *Machine) handle(c Conn, payload []byte) {
	// An empty payload yields flag 0 and falls through to the default case.
	flag, body, _ := proto.Split(payload)
	var resp []byte
	switch flag {
	case proto.Auth:
		resp = m.auth(c, body)
	case proto.DropMe:
		obs.Debug("session.drop_me", obs.Fields{"conn": c.ID()})
		m.cleanup(c)
		return
	case proto.TieInit, proto.Untie, proto.Message:
		name, approved := m.owner[c.ID()]
		if !approved {
			obs.Warn("session.unapproved", obs.Fields{"conn": c.ID(), "command": flag.String()})
			obs.ErrorsTotal.WithLabelValues("unapproved").Inc()
			m.cleanup(c)
			return
		}
		switch flag {
		case proto.TieInit:
			resp = m.tieInit(name, string(body))
		case proto.Untie:
			m.untie(name)
			resp = []byte{byte(proto.OK)}
		case proto.Message:
			resp = m.relay(name, payload, body)
		}
	default:
		obs.Debug("session.unknown_command", obs.Fields{"conn": c.ID(), "payload": string(payload)})
		resp = []byte{byte(proto.OK)}
	}
	m.updateGauges()
	// The peer of c may have failed during relay and pulled c down with it.
	if _, alive := m.live[c.ID()]; !alive {
		return
	}
	obs.CommandsTotal.WithLabelValues(flag.String(), proto.Flag(resp[0]).String()).Inc()
	m.send(c, resp)
}

func (m *Machine) auth(c Conn, body []byte) []byte {
	parts := bytes.Split(body, []byte("/"))
	accessKey := string(parts[0])
	var userKey string
	if len(parts) > 1 {
		userKey = string(parts[1])
	}
	name := credentials.Username(userKey)

	if _, taken := m.approved[name]; taken {
		obs.Info("session.auth.overauth", obs.Fields{"user": name, "conn": c.ID()})
		return []byte{byte(proto.AuthOverAuth)}
	}
	if _, already := m.owner[c.ID()]; already {
		obs.Info("session.auth.overauth", obs.Fields{"user": name, "conn": c.ID(), "reason": "connection already approved"})
		return []byte{byte(proto.AuthOverAuth)}
	}
	if !m.limiter.Allow(c.RemoteIP()) {
		obs.Warn("session.auth.limited", obs.Fields{"ip": c.RemoteIP(), "conn": c.ID()})
		obs.ErrorsTotal.WithLabelValues("auth_rate").Inc()
		return []byte{byte(proto.AuthFault)}
	}
	if !m.creds.Valid(accessKey, userKey) {
		obs.Info("session.auth.fault", obs.Fields{"user": name, "conn": c.ID()})
		obs.ErrorsTotal.WithLabelValues("auth_fault").Inc()
		return []byte{byte(proto.AuthFault)}
	}
	m.approved[name] = c
	m.owner[c.ID()] = name
	obs.Info("session.auth.ok", obs.Fields{"user": name, "conn": c.ID(), "ip": c.RemoteIP()})
	return []byte{byte(proto.AuthOK)}
}

func (m *Machine) tieInit(initiator, target string) []byte {
	switch {
	case target == initiator:
		return []byte{byte(proto.TieSelfTie)}
	case m.tied(initiator):
		return []byte{byte(proto.TieOverTie)}
	case !m.creds.Known(target):
		return []byte{byte(proto.TieNoUser)}
	}
	if want, ok := m.waitlist[target]; ok && want == initiator {
		// The waiting side is told first; if it is gone its cleanup drops
		// the wait and the initiator starts waiting instead.
		if peer, ok := m.approved[target]; ok && m.send(peer, []byte{byte(proto.TieOK)}) {
			delete(m.waitlist, target)
			delete(m.waitlist, initiator)
			now := time.Now()
			m.ties[target] = tie{peer: initiator, since: now}
			m.ties[initiator] = tie{peer: target, since: now}
			obs.Info("session.tie", obs.Fields{"a": target, "b": initiator})
			return []byte{byte(proto.TieOK)}
		}
	}
	m.waitlist[initiator] = target
	obs.Debug("session.wait", obs.Fields{"user": initiator, "target": target})
	return []byte{byte(proto.TieOKWait)}
}

func (m *Machine) tied(name string) bool {
	_, ok := m.ties[name]
	return ok
}

// untie dissolves name's tie and notifies the peer, or drops name's pending
// request when it has no tie.
func (m *Machine) untie(name string) {
	t, ok := m.ties[name]
	if !ok {
		delete(m.waitlist, name)
		return
	}
	delete(m.ties, name)
	delete(m.ties, t.peer)
	obs.TieDurationSecs.Observe(time.Since(t.since).Seconds())
	obs.Info("session.untie", obs.Fields{"user": name, "peer": t.peer})
	if peer, ok := m.approved[t.peer]; ok {
		m.send(peer, []byte{byte(proto.Untie)})
	}
}

// relay forwards body to name's peer. On success the sender gets its own
// payload back as an acknowledgement.
func (m *Machine) relay(name string, payload, body []byte) []byte {
	t, ok := m.ties[name]
	if !ok {
		return []byte{byte(proto.Fault)}
	}
	peer, ok := m.approved[t.peer]
	if !ok {
		return []byte{byte(proto.Fault)}
	}
	if !m.send(peer, proto.Pack(proto.Message, body)) {
		return []byte{byte(proto.Fault)}
	}
	obs.RelayedBytes.Add(float64(len(body)))
	return payload
}
