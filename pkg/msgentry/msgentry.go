// Package msgentry implements the tagged-union message model
// (QuestionEntry/AnsEntry/AddEntry in the original Python) that
// handlers exchange instead of passing raw *dns.Msg around, plus the
// glue to/from github.com/miekg/dns wire types.
package msgentry

import (
	"fmt"
	"net"
	"strings"

	"github.com/miekg/dns"
)

// EntryKind distinguishes the four sections a DNS message entry can
// belong to.
type EntryKind int

const (
	KindQuestion EntryKind = iota
	KindAnswer
	KindAdditional
	KindAuthority
)

// Entry is the tagged-union interface implemented by every entry
// type below.
type Entry interface {
	Kind() EntryKind
}

// Question mirrors QuestionEntry.py: a single question-section
// tuple.
type Question struct {
	Name   string // fully qualified, trailing dot included
	Qtype  uint16
	Qclass uint16
}

func (Question) Kind() EntryKind { return KindQuestion }

// NameStr returns the question name, optionally stripped of its
// trailing dot, matching QuestionEntry.GetNameStr(omitFinalDot=True).
func (q Question) NameStr(omitFinalDot bool) string {
	if omitFinalDot {
		return strings.TrimSuffix(q.Name, ".")
	}
	return q.Name
}

// MakeQuery builds a fresh outbound *dns.Msg asking this question,
// matching QuestionEntry.MakeQuery().
func (q Question) MakeQuery() *dns.Msg {
	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn(q.Name), q.Qtype)
	m.Question[0].Qclass = q.Qclass
	m.RecursionDesired = true
	return m
}

// AnswerRecord mirrors AnsEntry.py: a name/class/type tuple plus a
// list of rdata for it, all of the same rrclass/rrtype (enforced at
// construction, as the Python did in its AnsEntry.__init__).
type AnswerRecord struct {
	Name  string
	Class uint16
	Type  uint16
	TTL   uint32
	Data  []string // rdata text, one per record, e.g. "93.184.216.34"
}

func (AnswerRecord) Kind() EntryKind { return KindAnswer }

// NewAnswerRecord validates that data is non-empty, matching AnsEntry
// raising on construction with no rdata.
func NewAnswerRecord(name string, class, rrtype uint16, ttl uint32, data []string) (AnswerRecord, error) {
	if len(data) == 0 {
		return AnswerRecord{}, fmt.Errorf("msgentry: AnswerRecord requires at least one rdata value")
	}
	cp := make([]string, len(data))
	copy(cp, data)
	return AnswerRecord{Name: name, Class: class, Type: rrtype, TTL: ttl, Data: cp}, nil
}

// GetAddresses extracts net.IP values from A/AAAA records, ignoring
// any other type, matching AnsEntry.GetAddresses().
func (a AnswerRecord) GetAddresses() []net.IP {
	if a.Type != dns.TypeA && a.Type != dns.TypeAAAA {
		return nil
	}
	addrs := make([]net.IP, 0, len(a.Data))
	for _, d := range a.Data {
		if ip := net.ParseIP(d); ip != nil {
			addrs = append(addrs, ip)
		}
	}
	return addrs
}

// ToRRs converts this AnswerRecord into wire dns.RR values, one per
// rdata entry.
func (a AnswerRecord) ToRRs() ([]dns.RR, error) {
	rrs := make([]dns.RR, 0, len(a.Data))
	for _, d := range a.Data {
		text := fmt.Sprintf("%s %d %s %s %s", dns.Fqdn(a.Name), a.TTL, dns.ClassToString[a.Class], dns.TypeToString[a.Type], d)
		rr, err := dns.NewRR(text)
		if err != nil {
			return nil, fmt.Errorf("msgentry: building RR from %q: %w", text, err)
		}
		rrs = append(rrs, rr)
	}
	return rrs, nil
}

// AdditionalRecord wraps an opaque wire RR for the additional
// section, matching AddEntry.py's deliberately opaque RRset wrapper
// (equality/identity is deferred to the underlying RR's text form).
type AdditionalRecord struct {
	RR dns.RR
}

func (AdditionalRecord) Kind() EntryKind { return KindAdditional }

func (a AdditionalRecord) Equal(other AdditionalRecord) bool {
	if a.RR == nil || other.RR == nil {
		return a.RR == other.RR
	}
	return a.RR.String() == other.RR.String()
}

// AuthorityRecord mirrors the AUTH entry type; the original rarely
// populates it (no authoritative serving) but the data model still
// names it, so handler code that reads dns.Msg.Ns keeps it intact
// when concatenating a response.
type AuthorityRecord struct {
	RR dns.RR
}

func (AuthorityRecord) Kind() EntryKind { return KindAuthority }

// FromMsg decomposes a wire *dns.Msg into entry lists, the inverse of
// ConcatDNSMsg.
func FromMsg(m *dns.Msg) (questions []Question, answers []AnswerRecord, additional []AdditionalRecord, authority []AuthorityRecord) {
	for _, q := range m.Question {
		questions = append(questions, Question{Name: q.Name, Qtype: q.Qtype, Qclass: q.Qclass})
	}
	answers = groupRRsIntoAnswers(m.Answer)
	for _, rr := range m.Extra {
		if rr.Header().Rrtype == dns.TypeOPT {
			continue
		}
		additional = append(additional, AdditionalRecord{RR: rr})
	}
	for _, rr := range m.Ns {
		authority = append(authority, AuthorityRecord{RR: rr})
	}
	return
}

// groupRRsIntoAnswers groups wire RRs sharing the same
// name/class/type into AnswerRecord values, preserving order of first
// appearance. CNAME chains naturally produce several distinct groups
// since each link has a different Name.
func groupRRsIntoAnswers(rrs []dns.RR) []AnswerRecord {
	type key struct {
		name  string
		class uint16
		typ   uint16
	}
	order := make([]key, 0, len(rrs))
	groups := make(map[key]*AnswerRecord)
	for _, rr := range rrs {
		h := rr.Header()
		k := key{name: h.Name, class: h.Class, typ: h.Rrtype}
		rec, ok := groups[k]
		if !ok {
			rec = &AnswerRecord{Name: h.Name, Class: h.Class, Type: h.Rrtype, TTL: h.Ttl}
			groups[k] = rec
			order = append(order, k)
		}
		if h.Ttl < rec.TTL {
			rec.TTL = h.Ttl
		}
		rec.Data = append(rec.Data, rdataText(rr))
	}
	out := make([]AnswerRecord, 0, len(order))
	for _, k := range order {
		out = append(out, *groups[k])
	}
	return out
}

func rdataText(rr dns.RR) string {
	full := rr.String()
	header := rr.Header().String()
	return strings.TrimSpace(strings.TrimPrefix(full, header))
}

// ConcatDNSMsg builds a response *dns.Msg for req carrying the given
// answer/additional/authority entries, matching
// HandlerByQuestion.Handle's use of dns.message.make_response plus
// MsgEntry.ConcatDNSMsg.
func ConcatDNSMsg(req *dns.Msg, answers []AnswerRecord, additional []AdditionalRecord, authority []AuthorityRecord) (*dns.Msg, error) {
	resp := new(dns.Msg)
	resp.SetReply(req)
	resp.RecursionAvailable = true
	for _, a := range answers {
		rrs, err := a.ToRRs()
		if err != nil {
			return nil, err
		}
		resp.Answer = append(resp.Answer, rrs...)
	}
	for _, a := range additional {
		resp.Extra = append(resp.Extra, a.RR)
	}
	for _, a := range authority {
		resp.Ns = append(resp.Ns, a.RR)
	}
	return resp, nil
}
