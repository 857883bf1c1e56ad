package handler

import (
	"net"
	"testing"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhenghaven/ModularDNS/pkg/dnserr"
	"github.com/zhenghaven/ModularDNS/pkg/msgentry"
	"github.com/zhenghaven/ModularDNS/pkg/recstack"
)

type fakeQH struct {
	Base
	byType map[uint16][]msgentry.AnswerRecord
	err    map[uint16]error
}

func (f *fakeQH) HandleQuestion(q msgentry.Question, _ net.Addr, stack recstack.Stack) ([]msgentry.AnswerRecord, []msgentry.AdditionalRecord, error) {
	if _, err := f.CheckRecursionDepth(stack, "HandleQuestion"); err != nil {
		return nil, nil, err
	}
	if err, ok := f.err[q.Qtype]; ok {
		return nil, nil, err
	}
	return f.byType[q.Qtype], nil, nil
}

func TestLookupIpAddrPrefersRequestedFamily(t *testing.T) {
	a, _ := msgentry.NewAnswerRecord("example.com.", dns.ClassINET, dns.TypeA, 300, []string{"1.2.3.4"})
	qh := &fakeQH{Base: NewBase("fake", nil), byType: map[uint16][]msgentry.AnswerRecord{dns.TypeA: {a}}}

	ip, err := LookupIpAddr(qh, "example.com", nil, nil, false)
	require.NoError(t, err)
	assert.Equal(t, "1.2.3.4", ip.String())
}

func TestLookupIpAddrFallsBackOnZeroAnswer(t *testing.T) {
	aaaa, _ := msgentry.NewAnswerRecord("example.com.", dns.ClassINET, dns.TypeAAAA, 300, []string{"::1"})
	qh := &fakeQH{
		Base: NewBase("fake", nil),
		byType: map[uint16][]msgentry.AnswerRecord{
			dns.TypeAAAA: {aaaa},
		},
		err: map[uint16]error{dns.TypeA: &dnserr.ZeroAnswerError{Name: "example.com"}},
	}

	ip, err := LookupIpAddr(qh, "example.com", nil, nil, false)
	require.NoError(t, err)
	assert.Equal(t, "::1", ip.String())
}

func TestLookupIpAddrPropagatesUnhandledErrorFromFirstAttempt(t *testing.T) {
	qh := &fakeQH{
		Base: NewBase("fake", nil),
		err:  map[uint16]error{dns.TypeA: &dnserr.ServerFaultError{Reason: "boom"}},
	}
	_, err := LookupIpAddr(qh, "example.com", nil, nil, false)
	require.Error(t, err)
	var sfe *dnserr.ServerFaultError
	assert.ErrorAs(t, err, &sfe)
}

func TestLookupIpAddrPropagatesErrorFromSecondAttempt(t *testing.T) {
	qh := &fakeQH{
		Base: NewBase("fake", nil),
		err: map[uint16]error{
			dns.TypeA:    &dnserr.ZeroAnswerError{Name: "example.com"},
			dns.TypeAAAA: &dnserr.NameNotFoundError{Name: "example.com"},
		},
	}
	_, err := LookupIpAddr(qh, "example.com", nil, nil, false)
	require.Error(t, err)
	var nnf *dnserr.NameNotFoundError
	assert.ErrorAs(t, err, &nnf)
}

func TestSelectOneAddressIgnoresCNAME(t *testing.T) {
	cname, _ := msgentry.NewAnswerRecord("www.example.com.", dns.ClassINET, dns.TypeCNAME, 300, []string{"example.com."})
	a, _ := msgentry.NewAnswerRecord("example.com.", dns.ClassINET, dns.TypeA, 300, []string{"9.9.9.9"})
	ip, err := SelectOneAddress("www.example.com", []msgentry.AnswerRecord{cname, a})
	require.NoError(t, err)
	assert.Equal(t, "9.9.9.9", ip.String())
}

func TestSelectOneAddressZeroAnswer(t *testing.T) {
	_, err := SelectOneAddress("example.com", nil)
	require.Error(t, err)
	var zae *dnserr.ZeroAnswerError
	assert.ErrorAs(t, err, &zae)
}

func TestHandleByQuestionConcatenatesAnswers(t *testing.T) {
	a1, _ := msgentry.NewAnswerRecord("a.example.com.", dns.ClassINET, dns.TypeA, 300, []string{"1.1.1.1"})
	a2, _ := msgentry.NewAnswerRecord("b.example.com.", dns.ClassINET, dns.TypeA, 300, []string{"2.2.2.2"})
	qh := &fakeQH{
		Base: NewBase("fake", nil),
		byType: map[uint16][]msgentry.AnswerRecord{
			dns.TypeA: {a1, a2},
		},
	}

	req := new(dns.Msg)
	req.SetQuestion("a.example.com.", dns.TypeA)
	req.Question = append(req.Question, dns.Question{Name: "b.example.com.", Qtype: dns.TypeA, Qclass: dns.ClassINET})

	resp, err := HandleByQuestion(qh, req, nil, nil)
	require.NoError(t, err)
	assert.Len(t, resp.Answer, 4)
}
