package remote

import (
	"testing"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhenghaven/ModularDNS/pkg/dnserr"
	"github.com/zhenghaven/ModularDNS/pkg/msgentry"
	"github.com/zhenghaven/ModularDNS/pkg/recstack"
)

type scriptedProto struct {
	resp *dns.Msg
	err  error
}

func (s *scriptedProto) Query(q *dns.Msg, stack recstack.Stack) (*dns.Msg, RemoteInfo, error) {
	if s.err != nil {
		return nil, RemoteInfo{}, s.err
	}
	return s.resp, RemoteInfo{HostName: "resolver.test", IP: "9.9.9.9", Port: 53}, nil
}

func (s *scriptedProto) Terminate() {}

func rcodeResponse(rcode int) *dns.Msg {
	q := new(dns.Msg)
	q.SetQuestion("example.com.", dns.TypeA)
	resp := new(dns.Msg)
	resp.SetReply(q)
	resp.Rcode = rcode
	if rcode == dns.RcodeSuccess {
		rr, _ := dns.NewRR("example.com. 60 IN A 1.2.3.4")
		resp.Answer = append(resp.Answer, rr)
	}
	return resp
}

func TestRemoteHandleQuestionSuccess(t *testing.T) {
	r := newRemote("UDP", &scriptedProto{resp: rcodeResponse(dns.RcodeSuccess)}, nil)
	answers, _, err := r.HandleQuestion(msgentry.Question{Name: "example.com.", Qtype: dns.TypeA, Qclass: dns.ClassINET}, nil, nil)
	require.NoError(t, err)
	require.Len(t, answers, 1)
	assert.Equal(t, "1.2.3.4", answers[0].Data[0])
}

func TestRemoteHandleQuestionMapsNXDOMAIN(t *testing.T) {
	r := newRemote("UDP", &scriptedProto{resp: rcodeResponse(dns.RcodeNameError)}, nil)
	_, _, err := r.HandleQuestion(msgentry.Question{Name: "missing.test.", Qtype: dns.TypeA, Qclass: dns.ClassINET}, nil, nil)
	require.Error(t, err)
	assert.True(t, dnserr.IsAny(err, dnserr.KindNameNotFound))
}

func TestRemoteHandleQuestionMapsREFUSED(t *testing.T) {
	r := newRemote("UDP", &scriptedProto{resp: rcodeResponse(dns.RcodeRefused)}, nil)
	_, _, err := r.HandleQuestion(msgentry.Question{Name: "x.test.", Qtype: dns.TypeA, Qclass: dns.ClassINET}, nil, nil)
	require.Error(t, err)
	assert.True(t, dnserr.IsAny(err, dnserr.KindRequestRefused))
}

func TestRemoteHandleQuestionMapsSERVFAIL(t *testing.T) {
	r := newRemote("UDP", &scriptedProto{resp: rcodeResponse(dns.RcodeServerFailure)}, nil)
	_, _, err := r.HandleQuestion(msgentry.Question{Name: "x.test.", Qtype: dns.TypeA, Qclass: dns.ClassINET}, nil, nil)
	require.Error(t, err)
	assert.True(t, dnserr.IsAny(err, dnserr.KindServerFault))
}

func TestRemoteHandleQuestionMapsUnknownRcodeToServerFault(t *testing.T) {
	r := newRemote("UDP", &scriptedProto{resp: rcodeResponse(dns.RcodeNotImplemented)}, nil)
	_, _, err := r.HandleQuestion(msgentry.Question{Name: "x.test.", Qtype: dns.TypeA, Qclass: dns.ClassINET}, nil, nil)
	require.Error(t, err)
	assert.True(t, dnserr.IsAny(err, dnserr.KindServerFault))
}
