// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package router hands received frames to the engine of the configured role.
package router

import (
	"github.com/ffutop/modbus-tachometer/modbus"
	"github.com/ffutop/modbus-tachometer/modbus/master"
	"github.com/ffutop/modbus-tachometer/modbus/slave"
)

// Router dispatches frames to either a slave or a master engine.
type Router struct {
	role   modbus.Role
	slave  *slave.Slave
	master *master.Master
}

// NewSlave returns a router answering requests with s.
func NewSlave(s *slave.Slave) *Router {
	return &Router{role: modbus.RoleSlave, slave: s}
}

// NewMaster returns a router feeding responses to m.
func NewMaster(m *master.Master) *Router {
	return &Router{role: modbus.RoleMaster, master: m}
}

func (r *Router) Role() modbus.Role { return r.role }

func (r *Router) Framing() modbus.Framing {
	if r.role == modbus.RoleMaster {
		return r.master.Framing()
	}
	return r.slave.Framing()
}

// Slave returns the slave engine, or nil in master role.
func (r *Router) Slave() *slave.Slave { return r.slave }

// Master returns the master engine, or nil in slave role.
func (r *Router) Master() *master.Master { return r.master }

// HandleFrame passes frame to the slave engine or, in master role, to the
// response validator. Only a failed slave response write returns an error.
func (r *Router) HandleFrame(frame []byte) error {
	if r.role == modbus.RoleMaster {
		r.master.HandleResponse(frame)
		return nil
	}
	return r.slave.HandleFrame(frame)
}

// SendRequest transmits req through the master engine.
func (r *Router) SendRequest(req modbus.Request) error {
	if r.role != modbus.RoleMaster {
		return modbus.ErrWrongRole
	}
	return r.master.SendRequest(req)
}
