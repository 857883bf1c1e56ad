package dnserr

import (
	"testing"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRCodeMapping(t *testing.T) {
	cases := []struct {
		kind Kind
		want int
	}{
		{KindNameNotFound, dns.RcodeNameError},
		{KindZeroAnswer, dns.RcodeSuccess},
		{KindRequestRefused, dns.RcodeRefused},
		{KindServerFault, dns.RcodeServerFailure},
		{KindServerNetworkError, dns.RcodeServerFailure},
		{KindRecursionDepthError, dns.RcodeServerFailure},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, RCode(c.kind), c.kind.String())
	}
}

func TestKindByName(t *testing.T) {
	k, err := KindByName("RequestRefused")
	require.NoError(t, err)
	assert.Equal(t, KindRequestRefused, k)

	_, err = KindByName("NotARealKind")
	assert.Error(t, err)
}

func TestIsAny(t *testing.T) {
	err := &ZeroAnswerError{Name: "example.com"}
	assert.True(t, IsAny(err, KindNameNotFound, KindZeroAnswer))
	assert.False(t, IsAny(err, KindNameNotFound, KindRequestRefused))
	assert.False(t, IsAny(err, KindServerFault))

	plain := &struct{ error }{}
	assert.False(t, IsAny(plain, KindZeroAnswer))
}

func TestServerNetworkErrorMatchesServerFaultKind(t *testing.T) {
	// ServerNetworkError is a ServerFault subtype (Exceptions.py:
	// class ServerNetworkError(DNSServerFaultError)), so an exceptList
	// entry of ServerFault must also catch it - this is what lets
	// Failover's default exceptList fail over on upstream timeouts.
	err := &ServerNetworkError{Reason: "timeout"}
	assert.True(t, IsAny(err, KindServerFault))
	assert.True(t, IsAny(err, KindServerNetworkError))

	// The reverse does not hold: a plain ServerFaultError is not a
	// ServerNetworkError.
	plain := &ServerFaultError{Reason: "internal"}
	assert.False(t, IsAny(plain, KindServerNetworkError))
}
