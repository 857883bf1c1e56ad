package logical

import (
	"fmt"
	"net"
	"regexp"
	"strconv"
	"strings"

	"github.com/yl2chen/cidranger"

	"github.com/zhenghaven/ModularDNS/pkg/msgentry"
)

// Rule matches a question and reports a match weight, matching
// QuestionRule.py's Rule.Match.
type Rule interface {
	Match(q msgentry.Question) (bool, int)
	// Equal reports whether two rules are equal (same type, weight
	// and body), matching QuestionRuleSet's rule-equality dedup
	// check.
	Equal(other Rule) bool
}

var ruleRootPattern = regexp.MustCompile(`^([A-Za-z][A-Za-z0-9]+)(?:\:\-\>\>(.+))?$`)

// splitRootForm parses "<type>" or "<type>:->><body>", matching
// _ParseRuleStr's RULE_FORMAT regex (generalized to allow a bodyless
// form for the "default" rule type).
func splitRootForm(ruleStr string) (ruleType string, body string, hasBody bool, err error) {
	m := ruleRootPattern.FindStringSubmatch(ruleStr)
	if m == nil {
		return "", "", false, fmt.Errorf("logical: invalid rule format: %q", ruleStr)
	}
	return m[1], m[2], m[2] != "", nil
}

// splitWeightBody parses the body form "[<weight>:~>>]<bodyText>",
// matching ConfigurableWeightRule's ':~>>' split.
func splitWeightBody(defaultWeight int, body string) (weight int, bodyText string, err error) {
	if idx := strings.Index(body, ":~>>"); idx >= 0 {
		w, err := strconv.Atoi(body[:idx])
		if err != nil {
			return 0, "", fmt.Errorf("logical: invalid rule weight in %q: %w", body, err)
		}
		return w, body[idx+4:], nil
	}
	return defaultWeight, body, nil
}

// SubDomainRule matches when the dotless question name ends with
// body, matching SubDomainRule.py. Default weight 50.
type SubDomainRule struct {
	weight int
	body   string
}

const SubDomainRuleDefaultWeight = 50

func NewSubDomainRule(weight int, body string) *SubDomainRule {
	return &SubDomainRule{weight: weight, body: body}
}

func (r *SubDomainRule) Match(q msgentry.Question) (bool, int) {
	return strings.HasSuffix(q.NameStr(true), r.body), r.weight
}

func (r *SubDomainRule) Equal(other Rule) bool {
	o, ok := other.(*SubDomainRule)
	return ok && o.weight == r.weight && o.body == r.body
}

// FullMatchRule matches when the dotless question name equals body
// exactly, matching FullMatchRule.py. Default weight 90.
type FullMatchRule struct {
	weight int
	body   string
}

const FullMatchRuleDefaultWeight = 90

func NewFullMatchRule(weight int, body string) *FullMatchRule {
	return &FullMatchRule{weight: weight, body: body}
}

func (r *FullMatchRule) Match(q msgentry.Question) (bool, int) {
	return q.NameStr(true) == r.body, r.weight
}

func (r *FullMatchRule) Equal(other Rule) bool {
	o, ok := other.(*FullMatchRule)
	return ok && o.weight == r.weight && o.body == r.body
}

// DefaultRule matches every question unconditionally. Named in
// spec.md §4.3 directly (absent from original_source's RULE_TYPE_MAP,
// which only ever shipped sub/full) — a deliberate low-priority
// catch-all so a QuestionRuleSet can always have somewhere to route
// an otherwise-unmatched question. Default weight 10.
type DefaultRule struct {
	weight int
}

const DefaultRuleDefaultWeight = 10

func NewDefaultRule(weight int) *DefaultRule {
	return &DefaultRule{weight: weight}
}

func (r *DefaultRule) Match(msgentry.Question) (bool, int) {
	return true, r.weight
}

func (r *DefaultRule) Equal(other Rule) bool {
	o, ok := other.(*DefaultRule)
	return ok && o.weight == r.weight
}

// CIDRRule matches PTR questions (in-addr.arpa/ip6.arpa reverse-
// lookup names) whose encoded address falls within a configured CIDR
// block. Supplemented rule type (spec.md's rule grammar names only
// sub/full/default; original_source leaves a `# 'regex'` TODO for a
// future rule kind) grounded on github.com/yl2chen/cidranger, an
// example-pack dependency (sdns) used there for the same kind of
// range matching. Default weight 70 — between sub (50) and full (90),
// since a CIDR match is more specific than a generic subdomain
// suffix but less specific than an exact name.
type CIDRRule struct {
	weight int
	body   string
	ranger cidranger.Ranger
}

const CIDRRuleDefaultWeight = 70

// NewCIDRRule builds a CIDRRule matching the given CIDR block (e.g.
// "192.168.0.0/16").
func NewCIDRRule(weight int, cidrText string) (*CIDRRule, error) {
	_, network, err := net.ParseCIDR(cidrText)
	if err != nil {
		return nil, fmt.Errorf("logical: CIDRRule: invalid CIDR %q: %w", cidrText, err)
	}
	r := cidranger.NewPCTrieRanger()
	if err := r.Insert(cidranger.NewBasicRangerEntry(*network)); err != nil {
		return nil, err
	}
	return &CIDRRule{weight: weight, body: cidrText, ranger: r}, nil
}

func (r *CIDRRule) Match(q msgentry.Question) (bool, int) {
	ip, ok := reverseLookupAddr(q.NameStr(true))
	if !ok {
		return false, r.weight
	}
	contains, err := r.ranger.Contains(ip)
	if err != nil || !contains {
		return false, r.weight
	}
	return true, r.weight
}

func (r *CIDRRule) Equal(other Rule) bool {
	o, ok := other.(*CIDRRule)
	return ok && o.weight == r.weight && o.body == r.body
}

// reverseLookupAddr decodes an in-addr.arpa/ip6.arpa PTR question
// name back into the IP address it encodes.
func reverseLookupAddr(name string) (net.IP, bool) {
	name = strings.TrimSuffix(name, ".")
	if strings.HasSuffix(name, ".in-addr.arpa") {
		labels := strings.Split(strings.TrimSuffix(name, ".in-addr.arpa"), ".")
		if len(labels) != 4 {
			return nil, false
		}
		rev := make([]string, 4)
		for i, l := range labels {
			rev[3-i] = l
		}
		ip := net.ParseIP(strings.Join(rev, "."))
		return ip, ip != nil
	}
	if strings.HasSuffix(name, ".ip6.arpa") {
		labels := strings.Split(strings.TrimSuffix(name, ".ip6.arpa"), ".")
		if len(labels) != 32 {
			return nil, false
		}
		var nibbles []byte
		for i := len(labels) - 1; i >= 0; i-- {
			nibbles = append(nibbles, labels[i][0])
		}
		hex := string(nibbles)
		var groups []string
		for i := 0; i < len(hex); i += 4 {
			groups = append(groups, hex[i:i+4])
		}
		ip := net.ParseIP(strings.Join(groups, ":"))
		return ip, ip != nil
	}
	return nil, false
}

// ruleTypeMap mirrors RULE_TYPE_MAP, minus the parsing details that
// differ per type (body-required vs bodyless, weight defaults).
var ruleTypeNames = map[string]bool{
	"sub": true, "full": true, "default": true, "cidr": true,
}

// RuleFromStr parses one rule string, matching RuleFromStr.
func RuleFromStr(ruleStr string) (Rule, error) {
	ruleType, body, hasBody, err := splitRootForm(ruleStr)
	if err != nil {
		return nil, err
	}
	if !ruleTypeNames[ruleType] {
		return nil, fmt.Errorf("logical: invalid rule type: %s given in %q", ruleType, ruleStr)
	}

	switch ruleType {
	case "sub":
		if !hasBody {
			return nil, fmt.Errorf("logical: rule type %q requires a body", ruleType)
		}
		w, b, err := splitWeightBody(SubDomainRuleDefaultWeight, body)
		if err != nil {
			return nil, err
		}
		return NewSubDomainRule(w, b), nil
	case "full":
		if !hasBody {
			return nil, fmt.Errorf("logical: rule type %q requires a body", ruleType)
		}
		w, b, err := splitWeightBody(FullMatchRuleDefaultWeight, body)
		if err != nil {
			return nil, err
		}
		return NewFullMatchRule(w, b), nil
	case "cidr":
		if !hasBody {
			return nil, fmt.Errorf("logical: rule type %q requires a body", ruleType)
		}
		w, b, err := splitWeightBody(CIDRRuleDefaultWeight, body)
		if err != nil {
			return nil, err
		}
		return NewCIDRRule(w, b)
	case "default":
		weight := DefaultRuleDefaultWeight
		if hasBody {
			w, err := strconv.Atoi(body)
			if err != nil {
				return nil, fmt.Errorf("logical: rule type %q body must be a weight override integer: %w", ruleType, err)
			}
			weight = w
		}
		return NewDefaultRule(weight), nil
	default:
		return nil, fmt.Errorf("logical: invalid rule type: %s", ruleType)
	}
}
