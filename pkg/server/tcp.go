package server

import (
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/miekg/dns"
	"go.uber.org/zap"

	"github.com/zhenghaven/ModularDNS/pkg/recstack"
)

const (
	defaultTCPIdleTimeout = 10 * time.Second
	tcpFirstReadTimeout   = 500 * time.Millisecond
)

// ServeTCP accepts connections off l until the server is closed or
// the listener errors, matching the teacher's Server.ServeTCP accept
// loop generalized to a single root Handler.
func (s *Server) ServeTCP(l net.Listener) error {
	defer l.Close()

	if s.opts.Handler == nil {
		return errMissingDNSHandler
	}
	if ok := s.trackCloser(l, true); !ok {
		return ErrServerClosed
	}
	defer s.trackCloser(l, false)

	s.m.Lock()
	s.addr = l.Addr()
	s.m.Unlock()

	for {
		c, err := l.Accept()
		if err != nil {
			if s.Closed() {
				return ErrServerClosed
			}
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			return fmt.Errorf("server: unexpected listener err: %w", err)
		}

		s.wg.Add(1)
		go s.serveTCPConn(c)
	}
}

func (s *Server) serveTCPConn(c net.Conn) {
	defer s.wg.Done()
	defer c.Close()

	if !s.trackCloser(c, true) {
		return
	}
	defer s.trackCloser(c, false)

	idleTimeout := s.opts.IdleTimeout
	if idleTimeout <= 0 {
		idleTimeout = defaultTCPIdleTimeout
	}

	c.SetReadDeadline(time.Now().Add(min(idleTimeout, tcpFirstReadTimeout)))

	for {
		req, err := readTCPMsg(c)
		if err != nil {
			return
		}

		var stack recstack.Stack
		resp, err := s.opts.Handler.Handle(req, c.RemoteAddr(), stack)
		if err != nil {
			s.opts.Logger.Debug("handler err", zap.Stringer("from", c.RemoteAddr()), zap.Error(err))
			resp = errorResponse(req, err)
		}
		resp.Id = req.Id

		if err := writeTCPMsg(c, resp); err != nil {
			s.opts.Logger.Debug("failed to write tcp response", zap.Stringer("client", c.RemoteAddr()), zap.Error(err))
			return
		}

		c.SetReadDeadline(time.Now().Add(idleTimeout))
	}
}

// readTCPMsg reads one 2-byte length-prefixed DNS message, the wire
// framing RFC 1035 §4.2.2 mandates for TCP and every protocol client
// in pkg/downstream/remote uses on the upstream side.
func readTCPMsg(c net.Conn) (*dns.Msg, error) {
	lenBuf := make([]byte, 2)
	if _, err := io.ReadFull(c, lenBuf); err != nil {
		return nil, err
	}
	msgLen := binary.BigEndian.Uint16(lenBuf)
	body := make([]byte, msgLen)
	if _, err := io.ReadFull(c, body); err != nil {
		return nil, err
	}
	m := new(dns.Msg)
	if err := m.Unpack(body); err != nil {
		return nil, err
	}
	return m, nil
}

func writeTCPMsg(c net.Conn, m *dns.Msg) error {
	out, err := m.Pack()
	if err != nil {
		return err
	}
	lenBuf := make([]byte, 2)
	binary.BigEndian.PutUint16(lenBuf, uint16(len(out)))
	if _, err := c.Write(lenBuf); err != nil {
		return err
	}
	_, err = c.Write(out)
	return err
}
