package local

import (
	"fmt"
	"net"

	"github.com/miekg/dns"
	"go.uber.org/zap"

	"github.com/zhenghaven/ModularDNS/pkg/downstream"
	"github.com/zhenghaven/ModularDNS/pkg/handler"
	"github.com/zhenghaven/ModularDNS/pkg/msgentry"
	"github.com/zhenghaven/ModularDNS/pkg/recstack"
)

// ConstAnsTTL is the fixed TTL ConstAns answers carry, matching
// ConstAns.py's literal ttl=300.
const ConstAnsTTL = 300

// ConstAns returns a fixed set of rdata per query type regardless of
// the queried name, matching Logical/ConstAns.py. Supported types are
// A, AAAA, CNAME and MX, matching the original's FromConfig
// validation.
type ConstAns struct {
	handler.Base

	records map[uint16][]string
}

// ConstAnsRecordConfig is one (type, value) pair from config.
type ConstAnsRecordConfig struct {
	Type  string
	Value string
}

// ConstAnsConfig matches Logical.ConstAns's FromConfig options.
type ConstAnsConfig struct {
	Records []ConstAnsRecordConfig
}

var constAnsTypeByName = map[string]uint16{
	"a":     dns.TypeA,
	"aaaa":  dns.TypeAAAA,
	"cname": dns.TypeCNAME,
	"mx":    dns.TypeMX,
}

// ConstAnsFromConfig validates each record's value against its
// declared type (IP version for a/aaaa) and builds a ConstAns,
// matching ConstAns.FromConfig.
func ConstAnsFromConfig(_ *downstream.Collection, cfg ConstAnsConfig, logger *zap.Logger) (*ConstAns, error) {
	records := make(map[uint16][]string)
	for _, r := range cfg.Records {
		rrtype, ok := constAnsTypeByName[r.Type]
		if !ok {
			return nil, fmt.Errorf("local: ConstAns: unsupported record type %q", r.Type)
		}
		if rrtype == dns.TypeA || rrtype == dns.TypeAAAA {
			ip := net.ParseIP(r.Value)
			if ip == nil {
				return nil, fmt.Errorf("local: ConstAns: invalid IP %q for type %s", r.Value, r.Type)
			}
			isV4 := ip.To4() != nil
			if (rrtype == dns.TypeA) != isV4 {
				return nil, fmt.Errorf("local: ConstAns: IP %q does not match declared type %s", r.Value, r.Type)
			}
		}
		records[rrtype] = append(records[rrtype], r.Value)
	}
	return &ConstAns{Base: handler.NewBase("ConstAns", logger), records: records}, nil
}

// HandleQuestion returns the configured rdata for q.Qtype, an empty
// result for any non-IN class, or an empty result when the type has
// no configured records, matching ConstAns.HandleQuestion (an empty
// result there means the response's answer section simply stays
// empty, not a ZeroAnswerError, since the original returns `[]`
// rather than raising).
func (c *ConstAns) HandleQuestion(q msgentry.Question, _ net.Addr, stack recstack.Stack) ([]msgentry.AnswerRecord, []msgentry.AdditionalRecord, error) {
	if _, err := c.CheckRecursionDepth(stack, "HandleQuestion"); err != nil {
		return nil, nil, err
	}

	if q.Qclass != dns.ClassINET {
		return nil, nil, nil
	}

	data, ok := c.records[q.Qtype]
	if !ok || len(data) == 0 {
		return nil, nil, nil
	}

	ans, err := msgentry.NewAnswerRecord(q.Name, q.Qclass, q.Qtype, ConstAnsTTL, data)
	if err != nil {
		return nil, nil, err
	}
	return []msgentry.AnswerRecord{ans}, nil, nil
}

func (c *ConstAns) Terminate() {}
