package server

import (
	"fmt"
	"net"

	"github.com/miekg/dns"
	"go.uber.org/zap"

	"github.com/zhenghaven/ModularDNS/pkg/pool"
	"github.com/zhenghaven/ModularDNS/pkg/recstack"
)

// ServeUDP answers datagrams off c until the server is closed or the
// socket errors, matching the teacher's Server.ServeUDP read loop
// generalized to a single root Handler instead of a plugin chain.
func (s *Server) ServeUDP(c net.PacketConn) error {
	defer c.Close()

	if s.opts.Handler == nil {
		return errMissingDNSHandler
	}
	if ok := s.trackCloser(c, true); !ok {
		return ErrServerClosed
	}
	defer s.trackCloser(c, false)

	s.m.Lock()
	s.addr = c.LocalAddr()
	s.m.Unlock()

	readBuf := pool.GetBuf(64 * 1024)
	defer readBuf.Release()
	rb := readBuf.Bytes()

	for {
		n, remoteAddr, err := c.ReadFrom(rb)
		if err != nil {
			if s.Closed() {
				return ErrServerClosed
			}
			return fmt.Errorf("server: unexpected udp read err: %w", err)
		}

		req := pool.GetMsg()
		if err := req.Unpack(rb[:n]); err != nil {
			s.opts.Logger.Warn("invalid udp msg", zap.Error(err), zap.Stringer("from", remoteAddr))
			pool.ReleaseMsg(req)
			continue
		}

		s.wg.Add(1)
		go s.handleUDPQuery(c, remoteAddr, req)
	}
}

func (s *Server) handleUDPQuery(c net.PacketConn, remoteAddr net.Addr, req *dns.Msg) {
	defer s.wg.Done()
	defer pool.ReleaseMsg(req)

	var stack recstack.Stack
	resp, err := s.opts.Handler.Handle(req, remoteAddr, stack)
	if err != nil {
		s.opts.Logger.Debug("handler err", zap.Stringer("from", remoteAddr), zap.Error(err))
		resp = errorResponse(req, err)
	}
	resp.Id = req.Id
	resp.Truncate(udpSize(req))

	out, err := resp.Pack()
	if err != nil {
		s.opts.Logger.Error("failed to pack udp response", zap.Error(err), zap.Stringer("msg", resp))
		return
	}
	if _, err := c.WriteTo(out, remoteAddr); err != nil {
		s.opts.Logger.Warn("failed to write udp response", zap.Stringer("client", remoteAddr), zap.Error(err))
	}
}

func udpSize(m *dns.Msg) int {
	var size uint16
	if opt := m.IsEdns0(); opt != nil {
		size = opt.UDPSize()
	}
	if size < dns.MinMsgSize {
		size = dns.MinMsgSize
	}
	return int(size)
}
