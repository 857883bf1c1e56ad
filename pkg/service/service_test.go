package service

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/zhenghaven/ModularDNS/pkg/config"
	"github.com/zhenghaven/ModularDNS/pkg/mlog"
)

func TestStartRejectsInvalidLogLevel(t *testing.T) {
	cfg := &config.Config{Logger: mlog.Config{Level: "bogus"}}
	err := Start(cfg)
	assert.ErrorContains(t, err, "building logger")
}

func TestStartRejectsUnknownDownstreamModule(t *testing.T) {
	cfg := &config.Config{
		Downstream: config.ItemsConfig{
			Items: []config.ItemConfig{
				{Module: "Downstream.Local.Nope", Name: "x", Config: map[string]any{}},
			},
		},
	}
	err := Start(cfg)
	assert.ErrorContains(t, err, "building downstream collection")
}

func TestStartRejectsNoServersConfigured(t *testing.T) {
	cfg := &config.Config{}
	err := Start(cfg)
	assert.ErrorContains(t, err, "no server is configured")
}
