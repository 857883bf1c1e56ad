package config

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/zhenghaven/ModularDNS/pkg/downstream"
	"github.com/zhenghaven/ModularDNS/pkg/server"
)

// BuildDownstream instantiates every item in cfg.Downstream.Items in
// order and registers each one under its Name, matching
// DownstreamCollection.FromConfig's build-then-add loop: each item's
// module may itself reference an earlier item by name, so order
// matters and items must be built sequentially.
func BuildDownstream(reg *Registry, cfg ItemsConfig, logger *zap.Logger) (*downstream.Collection, error) {
	dc := downstream.NewCollection()
	for _, item := range cfg.Items {
		obj, err := reg.Build(item.Module, dc, item.Config, logger)
		if err != nil {
			return nil, fmt.Errorf("config: building downstream item %q (%s): %w", item.Name, item.Module, err)
		}
		if ep, ok := obj.(downstream.Endpoint); ok {
			if err := dc.AddEndpoint(item.Name, ep); err != nil {
				return nil, fmt.Errorf("config: registering downstream item %q: %w", item.Name, err)
			}
			continue
		}
		if err := dc.AddHandler(item.Name, obj); err != nil {
			return nil, fmt.Errorf("config: registering downstream item %q: %w", item.Name, err)
		}
	}
	return dc, nil
}

// BuildServers instantiates every item in cfg.Server.Items against an
// already-built downstream collection, matching ServerCollection.FromConfig.
// Each server starts serving in the background as soon as it is built.
func BuildServers(reg *Registry, dc *downstream.Collection, cfg ItemsConfig, logger *zap.Logger) ([]*server.Server, error) {
	var servers []*server.Server
	for _, item := range cfg.Items {
		obj, err := reg.Build(item.Module, dc, item.Config, logger)
		if err != nil {
			return nil, fmt.Errorf("config: building server item %q (%s): %w", item.Name, item.Module, err)
		}
		s, ok := obj.(*server.Server)
		if !ok {
			return nil, fmt.Errorf("config: server item %q (%s) is not a server", item.Name, item.Module)
		}
		servers = append(servers, s)
	}
	return servers, nil
}
