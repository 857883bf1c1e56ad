package downstream

import (
	"net"
	"testing"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhenghaven/ModularDNS/pkg/handler"
	"github.com/zhenghaven/ModularDNS/pkg/msgentry"
	"github.com/zhenghaven/ModularDNS/pkg/recstack"
)

type stubQH struct {
	handler.Base
	calls int
}

func (s *stubQH) HandleQuestion(q msgentry.Question, _ net.Addr, _ recstack.Stack) ([]msgentry.AnswerRecord, []msgentry.AdditionalRecord, error) {
	s.calls++
	return nil, nil, nil
}

func TestAddHandlerRejectsInvalidName(t *testing.T) {
	c := NewCollection()
	err := c.AddHandler("1bad", &stubQH{Base: handler.NewBase("stub", nil)})
	assert.Error(t, err)
}

func TestAddHandlerRejectsDuplicateName(t *testing.T) {
	c := NewCollection()
	require.NoError(t, c.AddHandler("hosts", &stubQH{Base: handler.NewBase("stub", nil)}))
	err := c.AddHandler("hosts", &stubQH{Base: handler.NewBase("stub", nil)})
	assert.Error(t, err)
}

func TestGetHandlerByQuestionRoundTrip(t *testing.T) {
	c := NewCollection()
	stub := &stubQH{Base: handler.NewBase("stub", nil)}
	require.NoError(t, c.AddHandler("hosts", stub))

	qh, err := c.GetHandlerByQuestion("s:hosts")
	require.NoError(t, err)
	_, _, err = qh.HandleQuestion(msgentry.Question{Name: "example.com.", Qtype: dns.TypeA}, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, stub.calls)

	_, err = c.GetHandlerByQuestion("hosts")
	assert.Error(t, err, "missing ref-type prefix must fail")

	_, err = c.GetHandlerByQuestion("x:hosts")
	assert.Error(t, err, "only the s: ref type is supported")
}

func TestGetHandlerFallsBackToQuestionAdapter(t *testing.T) {
	c := NewCollection()
	stub := &stubQH{Base: handler.NewBase("stub", nil)}
	require.NoError(t, c.AddHandler("hosts", stub))

	h, err := c.GetHandler("s:hosts")
	require.NoError(t, err)

	q := new(dns.Msg)
	q.SetQuestion("example.com.", dns.TypeA)
	_, err = h.Handle(q, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, stub.calls)
}

func TestTerminateClearsStores(t *testing.T) {
	c := NewCollection()
	require.NoError(t, c.AddHandler("hosts", &stubQH{Base: handler.NewBase("stub", nil)}))
	assert.Equal(t, 1, c.NumHandlers())

	c.Terminate()
	assert.Equal(t, 0, c.NumHandlers())
	_, err := c.GetHandlerByQuestion("s:hosts")
	assert.Error(t, err)
}
