// Package local implements the terminal answer-producing handlers:
// Hosts, Cache, and ConstAns, ported from Downstream/Local/Hosts.py,
// Downstream/Local/Cache.py and Downstream/Logical/ConstAns.py.
package local

import (
	"fmt"
	"net"
	"sort"
	"strings"
	"sync"

	"github.com/miekg/dns"
	"go.uber.org/zap"

	"github.com/zhenghaven/ModularDNS/pkg/dnserr"
	"github.com/zhenghaven/ModularDNS/pkg/downstream"
	"github.com/zhenghaven/ModularDNS/pkg/handler"
	"github.com/zhenghaven/ModularDNS/pkg/msgentry"
	"github.com/zhenghaven/ModularDNS/pkg/recstack"
)

// DefaultHostsTTL is the TTL applied to every Hosts-produced answer,
// matching Hosts.DEFAULT_TTL.
const DefaultHostsTTL = 3600

// classTypeTable is domain (dotless) -> class -> type -> set(rdata).
type classTypeTable = map[string]map[uint16]map[uint16]map[string]struct{}

// Hosts is a static, mutex-guarded domain->class->type->rdata table
// with CNAME-or-other-types coexistence enforcement, matching
// Hosts.py.
type Hosts struct {
	handler.Base

	mu    sync.Mutex
	ttl   uint32
	table classTypeTable
}

// HostsRecordConfig matches one entry of the `records` config list:
// either a set of IPs (A/AAAA inferred per address) or a CNAME
// target, never both.
type HostsRecordConfig struct {
	Domain string
	IPs    []string
	CNAME  string
}

// HostsConfig matches Local.Hosts's FromConfig options.
type HostsConfig struct {
	TTL     uint32
	Records []HostsRecordConfig
}

// NewHosts constructs an empty Hosts table.
func NewHosts(ttl uint32, logger *zap.Logger) *Hosts {
	if ttl == 0 {
		ttl = DefaultHostsTTL
	}
	return &Hosts{
		Base:  handler.NewBase("Hosts", logger),
		ttl:   ttl,
		table: make(classTypeTable),
	}
}

// HostsFromConfig builds a Hosts table from config, matching
// Hosts.FromConfig.
func HostsFromConfig(_ *downstream.Collection, cfg HostsConfig, logger *zap.Logger) (*Hosts, error) {
	h := NewHosts(cfg.TTL, logger)
	for _, rec := range cfg.Records {
		if rec.CNAME != "" {
			if err := h.AddCNAMERecord(rec.Domain, rec.CNAME); err != nil {
				return nil, err
			}
			continue
		}
		for _, ip := range rec.IPs {
			if err := h.AddAddrRecord(rec.Domain, ip); err != nil {
				return nil, err
			}
		}
	}
	return h, nil
}

func normalizeDomain(domain string) string {
	return strings.ToLower(strings.TrimSuffix(domain, "."))
}

// AddRecord inserts rdata values for (domain, class, rrtype),
// enforcing that CNAME never coexists with any other type at the
// same (domain, class).
func (h *Hosts) AddRecord(domain string, class, rrtype uint16, rdata ...string) error {
	domain = normalizeDomain(domain)

	h.mu.Lock()
	defer h.mu.Unlock()

	classMap, ok := h.table[domain]
	if !ok {
		classMap = make(map[uint16]map[uint16]map[string]struct{})
		h.table[domain] = classMap
	}
	typeMap, ok := classMap[class]
	if !ok {
		typeMap = make(map[uint16]map[string]struct{})
		classMap[class] = typeMap
	}

	if rrtype == dns.TypeCNAME {
		for t := range typeMap {
			if t != dns.TypeCNAME {
				return fmt.Errorf("local: Hosts: cannot add CNAME at %q: other records already present", domain)
			}
		}
	} else if _, exists := typeMap[dns.TypeCNAME]; exists {
		return fmt.Errorf("local: Hosts: cannot add %s at %q: CNAME already present", dns.TypeToString[rrtype], domain)
	}

	set, ok := typeMap[rrtype]
	if !ok {
		set = make(map[string]struct{})
		typeMap[rrtype] = set
	}
	for _, d := range rdata {
		set[d] = struct{}{}
	}
	return nil
}

// AddAddrRecord adds a single IP address, inferring A vs AAAA from
// its format, matching Hosts.AddAddrRecord.
func (h *Hosts) AddAddrRecord(domain, ip string) error {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return fmt.Errorf("local: Hosts: invalid IP address %q", ip)
	}
	if parsed.To4() != nil {
		return h.AddRecord(domain, dns.ClassINET, dns.TypeA, parsed.String())
	}
	return h.AddRecord(domain, dns.ClassINET, dns.TypeAAAA, parsed.String())
}

// AddCNAMERecord points domain at target, matching the CNAME arm of
// Hosts.FromConfig's record loop (not broken out as a separate method
// in the original, but given one here since Go favors small, named
// operations over inline config-parsing logic).
func (h *Hosts) AddCNAMERecord(domain, target string) error {
	return h.AddRecord(domain, dns.ClassINET, dns.TypeCNAME, target)
}

// HandleQuestion implements the lookup algorithm from spec.md §4.2:
// name-not-found, CNAME-forwarding, or direct rdata answer.
func (h *Hosts) HandleQuestion(q msgentry.Question, senderAddr net.Addr, stack recstack.Stack) ([]msgentry.AnswerRecord, []msgentry.AdditionalRecord, error) {
	stack, err := h.CheckRecursionDepth(stack, "HandleQuestion")
	if err != nil {
		return nil, nil, err
	}

	domain := q.NameStr(true)
	normalized := normalizeDomain(domain)

	h.mu.Lock()
	classMap, ok := h.table[normalized]
	if !ok {
		h.mu.Unlock()
		return nil, nil, &dnserr.NameNotFoundError{Name: domain}
	}
	typeMap, ok := classMap[q.Qclass]
	if !ok {
		h.mu.Unlock()
		return nil, nil, &dnserr.NameNotFoundError{Name: domain}
	}

	if q.Qtype != dns.TypeCNAME {
		if cnameSet, exists := typeMap[dns.TypeCNAME]; exists && len(cnameSet) > 0 {
			target := firstOf(cnameSet)
			ttl := h.ttl
			h.mu.Unlock()

			resolvedTarget := target
			if !strings.HasSuffix(target, ".") {
				resolvedTarget = target + "." + domain
			} else {
				resolvedTarget = strings.TrimSuffix(target, ".")
			}

			cnameAns, err := msgentry.NewAnswerRecord(dns.Fqdn(domain), q.Qclass, dns.TypeCNAME, ttl, []string{dns.Fqdn(resolvedTarget)})
			if err != nil {
				return nil, nil, err
			}

			nextQ := msgentry.Question{Name: dns.Fqdn(resolvedTarget), Qtype: q.Qtype, Qclass: q.Qclass}
			furtherAns, furtherAdd, err := h.HandleQuestion(nextQ, senderAddr, stack)
			if err != nil {
				return nil, nil, err
			}
			return append([]msgentry.AnswerRecord{cnameAns}, furtherAns...), furtherAdd, nil
		}
	}

	set, exists := typeMap[q.Qtype]
	rdata := sortedKeys(set)
	h.mu.Unlock()

	if !exists || len(rdata) == 0 {
		return nil, nil, &dnserr.ZeroAnswerError{Name: domain}
	}

	ans, err := msgentry.NewAnswerRecord(dns.Fqdn(domain), q.Qclass, q.Qtype, h.ttl, rdata)
	if err != nil {
		return nil, nil, err
	}
	return []msgentry.AnswerRecord{ans}, nil, nil
}

func (h *Hosts) Terminate() {}

func firstOf(set map[string]struct{}) string {
	for k := range set {
		return k
	}
	return ""
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
