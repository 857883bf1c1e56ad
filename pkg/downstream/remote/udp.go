package remote

import (
	"net"
	"strconv"
	"time"

	"github.com/miekg/dns"

	"github.com/zhenghaven/ModularDNS/pkg/recstack"
)

// UDPClient implements DNS-over-UDP, matching Remote/UDP.py's
// UDPProtocol. The Python original keeps one persistent socket per IP
// version and recreates it after every query (a defense against a
// response being delivered to a connected socket from the wrong
// source); dns.Client.ExchangeContext already opens a fresh,
// unconnected datagram socket per call, so the "reset after use"
// behavior comes for free rather than needing an explicit
// ResetSocket step.
type UDPClient struct {
	endpoint *Endpoint
	client   *dns.Client
}

// NewUDPClient builds a UDPClient querying endpoint with the given
// timeout, matching UDPProtocol.__init__.
func NewUDPClient(endpoint *Endpoint, timeout time.Duration) *UDPClient {
	return &UDPClient{
		endpoint: endpoint,
		client:   &dns.Client{Net: "udp", Timeout: timeout},
	}
}

func (u *UDPClient) Query(q *dns.Msg, stack recstack.Stack) (*dns.Msg, RemoteInfo, error) {
	ip, err := u.endpoint.GetIPAddr(stack)
	if err != nil {
		return nil, RemoteInfo{}, err
	}
	port := u.endpoint.Port

	resp, _, err := u.client.Exchange(q, net.JoinHostPort(ip.String(), strconv.Itoa(port)))
	if err != nil {
		return nil, RemoteInfo{}, wrapIOError(err, "UDP query failed")
	}

	return resp, RemoteInfo{HostName: u.endpoint.GetHostName(), IP: ip.String(), Port: port}, nil
}

func (u *UDPClient) Terminate() {
	u.endpoint.Terminate()
}
