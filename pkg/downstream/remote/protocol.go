package remote

import (
	"github.com/miekg/dns"

	"github.com/zhenghaven/ModularDNS/pkg/dnserr"
	"github.com/zhenghaven/ModularDNS/pkg/recstack"
)

// RemoteInfo identifies which concrete server answered a query,
// matching Protocol.Query's _REMOTE_INFO return tuple.
type RemoteInfo struct {
	HostName string
	IP       string
	Port     int
}

// Protocol is a single wire-format client talking to one Endpoint,
// matching Remote/Protocol.py. Implementations are not required to be
// safe for concurrent use by more than one caller at a time — SessionPool
// is what provides that guarantee above this layer.
type Protocol interface {
	Query(q *dns.Msg, stack recstack.Stack) (*dns.Msg, RemoteInfo, error)
	Terminate()
}

// wrapIOError maps a transport-layer error to ServerNetworkError,
// matching Protocol.SysIOExceptionToServerNetworkError.
func wrapIOError(err error, msg string) error {
	if err == nil {
		return nil
	}
	return &dnserr.ServerNetworkError{Reason: msg + ": " + err.Error()}
}
