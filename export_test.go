// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package sqlinfer

import (
	"github.com/canonical/sqlinfer/internal/infer"
	"github.com/canonical/sqlinfer/internal/session"
)

func NewPostgresWithSessions(engine *infer.Engine, sessions ...session.Session) Backend {
	return newPostgres(engine, sessions)
}

func (c *Coordinator) State() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.String()
}
