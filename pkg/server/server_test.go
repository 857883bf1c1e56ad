package server

import (
	"net"
	"testing"
	"time"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/require"

	"github.com/zhenghaven/ModularDNS/pkg/downstream"
	"github.com/zhenghaven/ModularDNS/pkg/dnserr"
	"github.com/zhenghaven/ModularDNS/pkg/recstack"
)

type stubHandler struct {
	resp *dns.Msg
	err  error
}

func (h *stubHandler) Handle(msg *dns.Msg, _ net.Addr, _ recstack.Stack) (*dns.Msg, error) {
	if h.err != nil {
		return nil, h.err
	}
	resp := h.resp.Copy()
	resp.SetReply(msg)
	return resp, nil
}

func (h *stubHandler) Terminate() {}

func answerMsg(t *testing.T, ip string) *dns.Msg {
	t.Helper()
	rr, err := dns.NewRR("example.com. 60 IN A " + ip)
	require.NoError(t, err)
	m := new(dns.Msg)
	m.Answer = []dns.RR{rr}
	return m
}

func query() *dns.Msg {
	q := new(dns.Msg)
	q.SetQuestion("example.com.", dns.TypeA)
	return q
}

func TestServeUDPRoundTrip(t *testing.T) {
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1")})
	require.NoError(t, err)

	s := New(Opts{Handler: &stubHandler{resp: answerMsg(t, "1.2.3.4")}})
	go s.ServeUDP(conn)
	defer s.Close()

	client, err := net.DialUDP("udp", nil, conn.LocalAddr().(*net.UDPAddr))
	require.NoError(t, err)
	defer client.Close()

	out, err := query().Pack()
	require.NoError(t, err)
	_, err = client.Write(out)
	require.NoError(t, err)

	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 512)
	n, err := client.Read(buf)
	require.NoError(t, err)

	resp := new(dns.Msg)
	require.NoError(t, resp.Unpack(buf[:n]))
	require.Len(t, resp.Answer, 1)
}

func TestServeUDPMapsHandlerErrorToRcode(t *testing.T) {
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1")})
	require.NoError(t, err)

	s := New(Opts{Handler: &stubHandler{err: &dnserr.NameNotFoundError{Name: "example.com"}}})
	go s.ServeUDP(conn)
	defer s.Close()

	client, err := net.DialUDP("udp", nil, conn.LocalAddr().(*net.UDPAddr))
	require.NoError(t, err)
	defer client.Close()

	out, err := query().Pack()
	require.NoError(t, err)
	_, err = client.Write(out)
	require.NoError(t, err)

	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 512)
	n, err := client.Read(buf)
	require.NoError(t, err)

	resp := new(dns.Msg)
	require.NoError(t, resp.Unpack(buf[:n]))
	require.Equal(t, dns.RcodeNameError, resp.Rcode)
}

func TestServeTCPRoundTrip(t *testing.T) {
	ln, err := net.ListenTCP("tcp", &net.TCPAddr{IP: net.ParseIP("127.0.0.1")})
	require.NoError(t, err)

	s := New(Opts{Handler: &stubHandler{resp: answerMsg(t, "10.0.0.9")}})
	go s.ServeTCP(ln)
	defer s.Close()

	conn, err := net.DialTCP("tcp", nil, ln.Addr().(*net.TCPAddr))
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, writeTCPMsg(conn, query()))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	resp, err := readTCPMsg(conn)
	require.NoError(t, err)
	require.Len(t, resp.Answer, 1)

	// second query reuses the same connection.
	require.NoError(t, writeTCPMsg(conn, query()))
	resp2, err := readTCPMsg(conn)
	require.NoError(t, err)
	require.Len(t, resp2.Answer, 1)
}

func TestServerCloseStopsServing(t *testing.T) {
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1")})
	require.NoError(t, err)

	s := New(Opts{Handler: &stubHandler{resp: answerMsg(t, "1.1.1.1")}})
	done := make(chan error, 1)
	go func() { done <- s.ServeUDP(conn) }()

	s.Close()

	select {
	case err := <-done:
		require.Equal(t, ErrServerClosed, err)
	case <-time.After(2 * time.Second):
		t.Fatal("ServeUDP did not return after Close")
	}
}

func TestUDPFromConfigRejectsUnknownDownstream(t *testing.T) {
	dc := downstream.NewCollection()
	_, err := UDPFromConfig(dc, Config{IP: "127.0.0.1", Port: 0, Downstream: "s:missing"}, nil)
	require.Error(t, err)
}

func TestTCPFromConfigRejectsUnknownDownstream(t *testing.T) {
	dc := downstream.NewCollection()
	_, err := TCPFromConfig(dc, Config{IP: "127.0.0.1", Port: 0, Downstream: "s:missing"}, nil)
	require.Error(t, err)
}

func TestUDPFromConfigServesRegisteredHandler(t *testing.T) {
	dc := downstream.NewCollection()
	require.NoError(t, dc.AddHandler("entry", &stubHandler{resp: answerMsg(t, "8.8.8.8")}))

	s, err := UDPFromConfig(dc, Config{IP: "127.0.0.1", Port: 0, Downstream: "s:entry"}, nil)
	require.NoError(t, err)
	defer s.Close()

	var addr net.Addr
	require.Eventually(t, func() bool {
		addr = s.Addr()
		return addr != nil
	}, time.Second, 10*time.Millisecond)

	client, err := net.DialUDP("udp", nil, addr.(*net.UDPAddr))
	require.NoError(t, err)
	defer client.Close()

	out, err := query().Pack()
	require.NoError(t, err)
	_, err = client.Write(out)
	require.NoError(t, err)

	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 512)
	n, err := client.Read(buf)
	require.NoError(t, err)

	resp := new(dns.Msg)
	require.NoError(t, resp.Unpack(buf[:n]))
	require.Len(t, resp.Answer, 1)
}
