package local

import (
	"testing"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhenghaven/ModularDNS/pkg/msgentry"
)

func msgentryQuestion(name string, qtype uint16) msgentry.Question {
	return msgentry.Question{Name: name, Qtype: qtype, Qclass: dns.ClassINET}
}

func TestConstAnsFromConfigValidatesIPVersion(t *testing.T) {
	_, err := ConstAnsFromConfig(nil, ConstAnsConfig{Records: []ConstAnsRecordConfig{
		{Type: "a", Value: "::1"},
	}}, nil)
	assert.Error(t, err)
}

func TestConstAnsReturnsConfiguredType(t *testing.T) {
	ca, err := ConstAnsFromConfig(nil, ConstAnsConfig{Records: []ConstAnsRecordConfig{
		{Type: "a", Value: "1.2.3.4"},
	}}, nil)
	require.NoError(t, err)

	q := msgentryQuestion("anything.example.", dns.TypeA)
	answers, _, err := ca.HandleQuestion(q, nil, nil)
	require.NoError(t, err)
	require.Len(t, answers, 1)
	assert.Equal(t, uint32(ConstAnsTTL), answers[0].TTL)
}

func TestConstAnsEmptyForUnconfiguredType(t *testing.T) {
	ca, err := ConstAnsFromConfig(nil, ConstAnsConfig{Records: []ConstAnsRecordConfig{
		{Type: "a", Value: "1.2.3.4"},
	}}, nil)
	require.NoError(t, err)

	q := msgentryQuestion("anything.example.", dns.TypeAAAA)
	answers, _, err := ca.HandleQuestion(q, nil, nil)
	require.NoError(t, err)
	assert.Empty(t, answers)
}

func TestConstAnsEmptyForNonINClass(t *testing.T) {
	ca, err := ConstAnsFromConfig(nil, ConstAnsConfig{Records: []ConstAnsRecordConfig{
		{Type: "a", Value: "1.2.3.4"},
	}}, nil)
	require.NoError(t, err)

	q := msgentryQuestion("anything.example.", dns.TypeA)
	q.Qclass = dns.ClassCHAOS
	answers, _, err := ca.HandleQuestion(q, nil, nil)
	require.NoError(t, err)
	assert.Empty(t, answers)
}
