package remote

import (
	"encoding/binary"
	"net"
	"testing"
	"time"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/require"

	"github.com/zhenghaven/ModularDNS/pkg/recstack"
)

// startTCPEchoServer answers every framed query with a single A
// record for the question name, returning the listener's address.
func startTCPEchoServer(t *testing.T, answerIP string) *net.TCPAddr {
	t.Helper()
	ln, err := net.ListenTCP("tcp", &net.TCPAddr{IP: net.ParseIP("127.0.0.1")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func(c net.Conn) {
				defer c.Close()
				for {
					lenBuf := make([]byte, 2)
					if _, err := readFull(c, lenBuf); err != nil {
						return
					}
					msgLen := binary.BigEndian.Uint16(lenBuf)
					body := make([]byte, msgLen)
					if _, err := readFull(c, body); err != nil {
						return
					}

					req := new(dns.Msg)
					if err := req.Unpack(body); err != nil {
						return
					}
					resp := new(dns.Msg)
					resp.SetReply(req)
					if len(req.Question) > 0 {
						rr, err := dns.NewRR(req.Question[0].Name + " 60 IN A " + answerIP)
						if err == nil {
							resp.Answer = append(resp.Answer, rr)
						}
					}
					out, err := resp.Pack()
					if err != nil {
						return
					}
					outLen := make([]byte, 2)
					binary.BigEndian.PutUint16(outLen, uint16(len(out)))
					if _, err := c.Write(outLen); err != nil {
						return
					}
					if _, err := c.Write(out); err != nil {
						return
					}
				}
			}(conn)
		}
	}()

	return ln.Addr().(*net.TCPAddr)
}

func readFull(c net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := c.Read(buf[total:])
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

func TestTCPClientQueryRoundTrip(t *testing.T) {
	addr := startTCPEchoServer(t, "10.0.0.2")

	ep, err := NewEndpoint("tcp", addr.IP, "", addr.Port, nil, false)
	require.NoError(t, err)

	client := NewTCPClient(ep, 2*time.Second)
	defer client.Terminate()

	q := new(dns.Msg)
	q.SetQuestion("example.com.", dns.TypeA)

	resp, _, err := client.Query(q, nil)
	require.NoError(t, err)
	require.Len(t, resp.Answer, 1)

	// second query reuses the persistent connection.
	resp2, _, err := client.Query(q, nil)
	require.NoError(t, err)
	require.Len(t, resp2.Answer, 1)
}

func TestTCPClientDetectsReentrantCall(t *testing.T) {
	ep, err := NewEndpoint("tcp", net.ParseIP("127.0.0.1"), "", 53, nil, false)
	require.NoError(t, err)
	client := NewTCPClient(ep, time.Second)

	var stack recstack.Stack
	stack = stack.Push(client.instanceID, "TCPClient.Query")

	q := new(dns.Msg)
	q.SetQuestion("example.com.", dns.TypeA)
	_, _, err = client.Query(q, stack)
	require.Error(t, err)
}
