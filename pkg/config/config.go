// Package config loads the top-level configuration file and builds
// the downstream handler graph and listener set it describes,
// mirroring Service/Resolver.py's Start function.
package config

import "github.com/zhenghaven/ModularDNS/pkg/mlog"

// Config is the root configuration document, matching the
// top-level {logger, downstream, server} keys Resolver.Start reads.
type Config struct {
	Logger     mlog.Config
	Downstream ItemsConfig
	Server     ItemsConfig
}

// ItemsConfig matches the {items: [...]} shape DownstreamCollection
// and ServerCollection both read their module list from.
type ItemsConfig struct {
	Items []ItemConfig
}

// ItemConfig matches one entry of config['downstream']['items'] /
// config['server']['items']: a dot-path module name, the instance
// name it is registered under, and its module-specific config.
type ItemConfig struct {
	Module string
	Name   string
	Config map[string]any
}
