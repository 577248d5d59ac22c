// Package connection resolves configured MySQL targets and inspects their tables.
package connection

import (
	"context"
	"fmt"
	"sort"

	"github.com/tigerroll/mysqler/pkg/osc/core/application/port"
	"github.com/tigerroll/mysqler/pkg/osc/core/config"
	"github.com/tigerroll/mysqler/pkg/osc/support/util/configbinder"
	"github.com/tigerroll/mysqler/pkg/osc/support/util/exception"
)

const module = "connection"

// StaticResolver serves connections declared in the `connections` config section.
type StaticResolver struct {
	conns map[string]port.Connection
}

// NewStaticResolver decodes the configured connections.
func NewStaticResolver(cfg *config.Config) (*StaticResolver, error) {
	conns, err := configbinder.BindNamed[port.Connection](cfg.Mysqler.Connections)
	if err != nil {
		return nil, fmt.Errorf("failed to decode connections: %w", err)
	}
	for id, c := range conns {
		c.ID = id
		if c.Port == 0 {
			c.Port = 3306
		}
		conns[id] = c
	}
	return &StaticResolver{conns: conns}, nil
}

// NewStaticResolverFrom builds a resolver from explicit connections keyed by id.
func NewStaticResolverFrom(conns map[string]port.Connection) *StaticResolver {
	r := &StaticResolver{conns: make(map[string]port.Connection, len(conns))}
	for id, c := range conns {
		c.ID = id
		r.conns[id] = c
	}
	return r
}

// Resolve returns a copy of the connection named id.
func (r *StaticResolver) Resolve(ctx context.Context, id string) (*port.Connection, error) {
	c, ok := r.conns[id]
	if !ok {
		return nil, exception.NewNotFoundError(module, fmt.Sprintf("connection %q is not configured", id), nil)
	}
	return &c, nil
}

// IDs lists the configured connection ids in order.
func (r *StaticResolver) IDs() []string {
	ids := make([]string, 0, len(r.conns))
	for id := range r.conns {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

var _ port.ConnectionResolver = (*StaticResolver)(nil)
