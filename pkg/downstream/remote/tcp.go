package remote

import (
	"encoding/binary"
	"io"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/miekg/dns"

	"github.com/zhenghaven/ModularDNS/pkg/dnserr"
	"github.com/zhenghaven/ModularDNS/pkg/recstack"
)

// TCPClient implements DNS-over-TCP with a persistent, 2-byte-length-
// framed connection, matching Remote/TCP.py's TCPProtocol. One
// TCPClient serves one caller at a time behind its own mutex, exactly
// like the Python original's `self.lock`; since Go has no
// thread-local identity to detect a caller re-entering its own lock,
// self-lock detection instead scans the incoming recstack.Stack (see
// SPEC_FULL.md §5) for this client's own instance id before blocking.
type TCPClient struct {
	instanceID uuid.UUID
	endpoint   *Endpoint
	timeout    time.Duration

	mu       sync.Mutex
	conn     net.Conn
	peerIP   string
	peerPort int
}

// NewTCPClient builds a TCPClient querying endpoint with the given
// timeout, matching TCPProtocol.__init__.
func NewTCPClient(endpoint *Endpoint, timeout time.Duration) *TCPClient {
	return &TCPClient{
		instanceID: uuid.New(),
		endpoint:   endpoint,
		timeout:    timeout,
	}
}

func (t *TCPClient) connect(stack recstack.Stack) error {
	ip, err := t.endpoint.GetIPAddr(stack)
	if err != nil {
		return err
	}
	port := t.endpoint.Port

	d := net.Dialer{Timeout: t.timeout}
	conn, err := d.Dial("tcp", net.JoinHostPort(ip.String(), strconv.Itoa(port)))
	if err != nil {
		return wrapIOError(err, "TCP connect failed")
	}
	if tcpConn, ok := conn.(*net.TCPConn); ok {
		_ = tcpConn.SetNoDelay(true)
	}

	t.conn = conn
	t.peerIP = ip.String()
	t.peerPort = port
	return nil
}

func (t *TCPClient) destroyConn() {
	if t.conn != nil {
		_ = t.conn.Close()
		t.conn = nil
	}
}

func readExact(r io.Reader, n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return nil, &dnserr.ServerNetworkError{Reason: "client disconnected"}
		}
		return nil, wrapIOError(err, "TCP read failed")
	}
	return buf, nil
}

func (t *TCPClient) Query(q *dns.Msg, stack recstack.Stack) (*dns.Msg, RemoteInfo, error) {
	if stack.Contains(t.instanceID) {
		return nil, RemoteInfo{}, &dnserr.ServerFaultError{
			Reason: "TCPClient: re-entrant call detected for connection " + t.instanceID.String(),
		}
	}
	newStack := stack.Push(t.instanceID, "TCPClient.Query")

	t.mu.Lock()
	defer t.mu.Unlock()

	resp, err := t.queryLocked(q, newStack)
	if err != nil {
		t.destroyConn()
		return nil, RemoteInfo{}, err
	}

	return resp, RemoteInfo{HostName: t.endpoint.GetHostName(), IP: t.peerIP, Port: t.peerPort}, nil
}

func (t *TCPClient) queryLocked(q *dns.Msg, stack recstack.Stack) (*dns.Msg, error) {
	if t.conn == nil {
		if err := t.connect(stack); err != nil {
			return nil, err
		}
	}
	if t.timeout > 0 {
		_ = t.conn.SetDeadline(time.Now().Add(t.timeout))
	}

	raw, err := q.Pack()
	if err != nil {
		return nil, err
	}

	lenPrefix := make([]byte, 2)
	binary.BigEndian.PutUint16(lenPrefix, uint16(len(raw)))
	if _, err := t.conn.Write(lenPrefix); err != nil {
		return nil, wrapIOError(err, "TCP write failed")
	}
	if _, err := t.conn.Write(raw); err != nil {
		return nil, wrapIOError(err, "TCP write failed")
	}

	lenBytes, err := readExact(t.conn, 2)
	if err != nil {
		return nil, err
	}
	msgLen := binary.BigEndian.Uint16(lenBytes)
	respRaw, err := readExact(t.conn, int(msgLen))
	if err != nil {
		return nil, err
	}

	resp := new(dns.Msg)
	if err := resp.Unpack(respRaw); err != nil {
		return nil, err
	}
	return resp, nil
}

func (t *TCPClient) Terminate() {
	t.mu.Lock()
	t.destroyConn()
	t.mu.Unlock()
	t.endpoint.Terminate()
}
