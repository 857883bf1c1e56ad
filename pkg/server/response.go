package server

import (
	"github.com/miekg/dns"

	"github.com/zhenghaven/ModularDNS/pkg/dnserr"
)

// errorResponse builds a reply to req carrying the RCODE the handler
// error taxonomy maps to, the server-side analogue of the original's
// CommonDNSMsgHandling: a DNSError maps through dnserr.RCode, any
// other error is treated as an unexpected server fault.
func errorResponse(req *dns.Msg, err error) *dns.Msg {
	rcode := dns.RcodeServerFailure
	if de, ok := err.(dnserr.DNSError); ok {
		rcode = dnserr.RCode(de.Kind())
	}
	resp := new(dns.Msg)
	resp.SetRcode(req, rcode)
	return resp
}
