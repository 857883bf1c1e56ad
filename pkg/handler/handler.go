// Package handler defines the Handler/QuestionHandler composition
// algebra every downstream component implements, plus the shared
// recursion-guard plumbing and the QuickLookup helper built on top of
// it, mirroring Downstream/Handler.py, HandlerByQuestion.py and
// QuickLookup.py.
package handler

import (
	"math/rand/v2"
	"net"

	"github.com/google/uuid"
	"github.com/miekg/dns"
	"go.uber.org/zap"

	"github.com/zhenghaven/ModularDNS/pkg/dnserr"
	"github.com/zhenghaven/ModularDNS/pkg/msgentry"
	"github.com/zhenghaven/ModularDNS/pkg/recstack"
)

// Handler answers a full wire DNS message, matching
// DownstreamHandler.Handle.
type Handler interface {
	Handle(msg *dns.Msg, senderAddr net.Addr, stack recstack.Stack) (*dns.Msg, error)
}

// QuestionHandler answers a single question, matching
// HandlerByQuestion.HandleQuestion. It returns the answer and
// additional-section entries it contributed.
type QuestionHandler interface {
	HandleQuestion(q msgentry.Question, senderAddr net.Addr, stack recstack.Stack) ([]msgentry.AnswerRecord, []msgentry.AdditionalRecord, error)
}

// Terminator is implemented by handlers owning resources (sockets,
// background goroutines) that must be released on shutdown.
type Terminator interface {
	Terminate()
}

// Base is embedded by every concrete handler to provide identity and
// the recursion guard, replacing the instUUID/instUUIDhex fields and
// CheckRecursionDepth method every Python handler inherited from
// DownstreamHandler.
type Base struct {
	InstanceID          uuid.UUID
	Label               string
	MaxRecDepth         int
	IgnoreIntraInstance bool
	Logger              *zap.Logger
}

// NewBase constructs a Base with a fresh instance id and the default
// recursion depth, matching the Python constructor's
// `self.instUUID = uuid.uuid4()`.
func NewBase(label string, logger *zap.Logger) Base {
	if logger == nil {
		logger = zap.NewNop()
	}
	return Base{
		InstanceID:  uuid.New(),
		Label:       label,
		MaxRecDepth: recstack.DefaultMaxDepth,
		Logger:      logger.With(zap.String("handler", label)),
	}
}

// CheckRecursionDepth pushes this instance onto stack under
// "<Label>.<method>", or returns a RecursionDepthError.
func (b Base) CheckRecursionDepth(stack recstack.Stack, method string) (recstack.Stack, error) {
	return recstack.Check(stack, b.InstanceID, b.Label+"."+method, b.MaxRecDepth, b.IgnoreIntraInstance)
}

// HandleByQuestion implements the generic Handle algorithm shared by
// every QuestionHandler: split the inbound message's question
// section, resolve each question independently, and concatenate the
// results into one response, matching HandlerByQuestion.Handle.
func HandleByQuestion(qh QuestionHandler, msg *dns.Msg, senderAddr net.Addr, stack recstack.Stack) (*dns.Msg, error) {
	questions, _, _, _ := msgentry.FromMsg(msg)
	var answers []msgentry.AnswerRecord
	var additional []msgentry.AdditionalRecord
	for _, q := range questions {
		a, add, err := qh.HandleQuestion(q, senderAddr, stack)
		if err != nil {
			return nil, err
		}
		answers = append(answers, a...)
		additional = append(additional, add...)
	}
	return msgentry.ConcatDNSMsg(msg, answers, additional, nil)
}

// QuestionHandlerAsHandler adapts a QuestionHandler into a Handler
// via HandleByQuestion. In the Python original every QuickLookup
// subclass inherits a working Handle method from HandlerByQuestion
// regardless of whether it defines one itself; Go has no such
// mixin inheritance, so callers that need a message-level Handler
// out of a QuestionHandler-only component (e.g. binding it directly
// to a server) wrap it in this adapter.
type QuestionHandlerAsHandler struct {
	QuestionHandler
}

func (a QuestionHandlerAsHandler) Handle(msg *dns.Msg, senderAddr net.Addr, stack recstack.Stack) (*dns.Msg, error) {
	return HandleByQuestion(a.QuestionHandler, msg, senderAddr, stack)
}

// SelectOneAddress picks a random A/AAAA address out of answers,
// ignoring any CNAME entries, matching QuickLookup.SelectOneAddress.
// It returns a ZeroAnswerError if no address is present.
func SelectOneAddress(domain string, answers []msgentry.AnswerRecord) (net.IP, error) {
	var addrs []net.IP
	for _, a := range answers {
		addrs = append(addrs, a.GetAddresses()...)
	}
	if len(addrs) == 0 {
		return nil, &dnserr.ZeroAnswerError{Name: domain}
	}
	return addrs[rand.IntN(len(addrs))], nil
}

// LookupIpAddr resolves domain to one address via qh, trying the
// preferred address family first (AAAA if preferIPv6, else A) and
// falling back to the other family only on NameNotFound/ZeroAnswer,
// matching QuickLookup.LookupIpAddr. Any other error from the first
// attempt, or any error from the fallback attempt, is returned
// unmodified.
func LookupIpAddr(qh QuestionHandler, domain string, senderAddr net.Addr, stack recstack.Stack, preferIPv6 bool) (net.IP, error) {
	first, second := dns.TypeA, dns.TypeAAAA
	if preferIPv6 {
		first, second = dns.TypeAAAA, dns.TypeA
	}
	ip, err := lookupOnce(qh, domain, senderAddr, stack, first)
	if err == nil {
		return ip, nil
	}
	if !dnserr.IsAny(err, dnserr.KindNameNotFound, dnserr.KindZeroAnswer) {
		return nil, err
	}
	return lookupOnce(qh, domain, senderAddr, stack, second)
}

func lookupOnce(qh QuestionHandler, domain string, senderAddr net.Addr, stack recstack.Stack, qtype uint16) (net.IP, error) {
	q := msgentry.Question{Name: dns.Fqdn(domain), Qtype: qtype, Qclass: dns.ClassINET}
	answers, _, err := qh.HandleQuestion(q, senderAddr, stack)
	if err != nil {
		return nil, err
	}
	return SelectOneAddress(domain, answers)
}
