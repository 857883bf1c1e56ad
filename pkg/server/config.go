package server

import (
	"fmt"
	"net"
	"time"

	"go.uber.org/zap"

	"github.com/zhenghaven/ModularDNS/pkg/downstream"
)

// Config matches Server/{UDP,TCP}.py's shared FromConfig shape: the
// bind address and the "s:<name>" root handler reference to serve.
type Config struct {
	IP          string
	Port        int
	Downstream  string
	IdleTimeout time.Duration
}

// UDPFromConfig resolves cfg.Downstream, binds a UDP socket at
// cfg.IP:cfg.Port, and starts serving in a background goroutine,
// matching UDP.FromConfig/UDP.CreateServer.
func UDPFromConfig(dc *downstream.Collection, cfg Config, logger *zap.Logger) (*Server, error) {
	h, err := dc.GetHandler(cfg.Downstream)
	if err != nil {
		return nil, err
	}

	addr := &net.UDPAddr{IP: net.ParseIP(cfg.IP), Port: cfg.Port}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("server: udp listen %s:%d: %w", cfg.IP, cfg.Port, err)
	}

	s := New(Opts{Logger: logger, Handler: h, IdleTimeout: cfg.IdleTimeout})
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.ServeUDP(conn); err != nil && err != ErrServerClosed {
			s.opts.Logger.Error("udp server stopped", zap.Error(err))
		}
	}()
	return s, nil
}

// TCPFromConfig resolves cfg.Downstream, binds a TCP listener at
// cfg.IP:cfg.Port, and starts serving in a background goroutine,
// matching TCP.FromConfig/TCP.CreateServer.
func TCPFromConfig(dc *downstream.Collection, cfg Config, logger *zap.Logger) (*Server, error) {
	h, err := dc.GetHandler(cfg.Downstream)
	if err != nil {
		return nil, err
	}

	addr := &net.TCPAddr{IP: net.ParseIP(cfg.IP), Port: cfg.Port}
	ln, err := net.ListenTCP("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("server: tcp listen %s:%d: %w", cfg.IP, cfg.Port, err)
	}

	s := New(Opts{Logger: logger, Handler: h, IdleTimeout: cfg.IdleTimeout})
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.ServeTCP(ln); err != nil && err != ErrServerClosed {
			s.opts.Logger.Error("tcp server stopped", zap.Error(err))
		}
	}()
	return s, nil
}
