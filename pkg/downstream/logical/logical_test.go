package logical

import (
	"net"
	"sync"
	"testing"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/semaphore"

	"github.com/zhenghaven/ModularDNS/pkg/dnserr"
	"github.com/zhenghaven/ModularDNS/pkg/downstream"
	"github.com/zhenghaven/ModularDNS/pkg/handler"
	"github.com/zhenghaven/ModularDNS/pkg/msgentry"
	"github.com/zhenghaven/ModularDNS/pkg/recstack"
)

type stubHandler struct {
	handler.Base
	ans []msgentry.AnswerRecord
	err error

	mu    sync.Mutex
	calls int
	gate  chan struct{} // if non-nil, blocks until closed
}

func (s *stubHandler) HandleQuestion(_ msgentry.Question, _ net.Addr, _ recstack.Stack) ([]msgentry.AnswerRecord, []msgentry.AdditionalRecord, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	if s.gate != nil {
		<-s.gate
	}
	if s.err != nil {
		return nil, nil, s.err
	}
	return s.ans, nil, nil
}

func oneAnswer(t *testing.T, ip string) msgentry.AnswerRecord {
	a, err := msgentry.NewAnswerRecord("example.com.", dns.ClassINET, dns.TypeA, 60, []string{ip})
	require.NoError(t, err)
	return a
}

func TestFailoverFallsBackOnNameNotFound(t *testing.T) {
	initial := &stubHandler{Base: handler.NewBase("initial", nil), err: &dnserr.NameNotFoundError{Name: "missing.test"}}
	fallback := &stubHandler{Base: handler.NewBase("fallback", nil), ans: []msgentry.AnswerRecord{oneAnswer(t, "1.2.3.4")}}

	f := &Failover{Base: handler.NewBase("Failover", nil), initial: initial, fallback: fallback, exceptList: DefaultFailoverExceptList}
	answers, _, err := f.HandleQuestion(msgentry.Question{Name: "missing.test.", Qtype: dns.TypeA, Qclass: dns.ClassINET}, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "1.2.3.4", answers[0].Data[0])
}

func TestFailoverPropagatesUnlistedException(t *testing.T) {
	initial := &stubHandler{Base: handler.NewBase("initial", nil), err: &dnserr.RecursionDepthError{MaxDepth: 50}}
	fallback := &stubHandler{Base: handler.NewBase("fallback", nil)}

	f := &Failover{Base: handler.NewBase("Failover", nil), initial: initial, fallback: fallback, exceptList: DefaultFailoverExceptList}
	_, _, err := f.HandleQuestion(msgentry.Question{Name: "x.test.", Qtype: dns.TypeA, Qclass: dns.ClassINET}, nil, nil)
	require.Error(t, err)
	assert.Equal(t, 0, fallback.calls)
}

func TestRandomChoiceRejectsEmptyHandlerList(t *testing.T) {
	_, err := RandomChoiceFromConfig(nil, RandomChoiceConfig{HandlerList: nil}, nil)
	assert.Error(t, err)
}

func TestLimitConcurrentReqRefusesOnExhaustion(t *testing.T) {
	target := &stubHandler{Base: handler.NewBase("target", nil), ans: []msgentry.AnswerRecord{oneAnswer(t, "1.1.1.1")}}
	l := &LimitConcurrentReq{Base: handler.NewBase("LimitConcurrentReq", nil), target: target, sem: semaphore.NewWeighted(2), blocking: false}

	// occupy both permits directly, bypassing HandleQuestion's own
	// acquire/release so the test controls exactly when they free up.
	require.True(t, l.sem.TryAcquire(2))

	_, _, err := l.HandleQuestion(msgentry.Question{Name: "x.test.", Qtype: dns.TypeA, Qclass: dns.ClassINET}, nil, nil)
	require.Error(t, err)
	assert.True(t, dnserr.IsAny(err, dnserr.KindRequestRefused))
	assert.Equal(t, 0, target.calls)

	l.sem.Release(2)

	answers, _, err := l.HandleQuestion(msgentry.Question{Name: "x.test.", Qtype: dns.TypeA, Qclass: dns.ClassINET}, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "1.1.1.1", answers[0].Data[0])
	assert.Equal(t, 1, target.calls)
}

func TestQuestionRuleSetPicksHighestWeight(t *testing.T) {
	h1 := &stubHandler{Base: handler.NewBase("h1", nil), ans: []msgentry.AnswerRecord{oneAnswer(t, "1.1.1.1")}}
	h2 := &stubHandler{Base: handler.NewBase("h2", nil), ans: []msgentry.AnswerRecord{oneAnswer(t, "2.2.2.2")}}

	qrs := &QuestionRuleSet{Base: handler.NewBase("QuestionRuleSet", nil)}
	qrs.entries = []ruleEntry{
		{rule: NewSubDomainRule(SubDomainRuleDefaultWeight, "google.com"), handler: h1},
		{rule: NewFullMatchRule(FullMatchRuleDefaultWeight, "google.com"), handler: h2},
	}

	answers, _, err := qrs.HandleQuestion(msgentry.Question{Name: "google.com.", Qtype: dns.TypeA, Qclass: dns.ClassINET}, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "2.2.2.2", answers[0].Data[0])

	answers, _, err = qrs.HandleQuestion(msgentry.Question{Name: "dns.google.com.", Qtype: dns.TypeA, Qclass: dns.ClassINET}, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "1.1.1.1", answers[0].Data[0])
}

func TestQuestionRuleSetFromConfigDecodesRuleAndHandlersMap(t *testing.T) {
	dc := downstream.NewCollection()
	require.NoError(t, dc.AddHandler("h1", &stubHandler{Base: handler.NewBase("h1", nil), ans: []msgentry.AnswerRecord{oneAnswer(t, "1.1.1.1")}}))
	require.NoError(t, dc.AddHandler("h2", &stubHandler{Base: handler.NewBase("h2", nil), ans: []msgentry.AnswerRecord{oneAnswer(t, "2.2.2.2")}}))

	cfg := QuestionRuleSetConfig{
		RuleAndHandlers: map[string]string{
			"sub:google.com":  "s:h1",
			"full:google.com": "s:h2",
		},
	}
	qrs, err := QuestionRuleSetFromConfig(dc, cfg, nil)
	require.NoError(t, err)
	require.Len(t, qrs.entries, 2)

	answers, _, err := qrs.HandleQuestion(msgentry.Question{Name: "google.com.", Qtype: dns.TypeA, Qclass: dns.ClassINET}, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "2.2.2.2", answers[0].Data[0])

	answers, _, err = qrs.HandleQuestion(msgentry.Question{Name: "dns.google.com.", Qtype: dns.TypeA, Qclass: dns.ClassINET}, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "1.1.1.1", answers[0].Data[0])
}

func TestQuestionRuleSetFromConfigRejectsDuplicateRule(t *testing.T) {
	dc := downstream.NewCollection()
	require.NoError(t, dc.AddHandler("h1", &stubHandler{Base: handler.NewBase("h1", nil)}))

	// Both keys parse to an equal SubDomainRule{weight: 50, body:
	// "google.com"}: one via the default weight, the other spelling
	// it out explicitly.
	cfg := QuestionRuleSetConfig{
		RuleAndHandlers: map[string]string{
			"sub:->>google.com":       "s:h1",
			"sub:->>50:~>>google.com": "s:h1",
		},
	}
	_, err := QuestionRuleSetFromConfig(dc, cfg, nil)
	assert.Error(t, err)
}

func TestRaiseExceptAlwaysRaises(t *testing.T) {
	r := &RaiseExcept{Base: handler.NewBase("RaiseExcept", nil), kind: dnserr.KindRequestRefused, reason: "blocked"}
	_, _, err := r.HandleQuestion(msgentry.Question{Name: "x.test.", Qtype: dns.TypeA, Qclass: dns.ClassINET}, nil, nil)
	require.Error(t, err)
	assert.True(t, dnserr.IsAny(err, dnserr.KindRequestRefused))
}
