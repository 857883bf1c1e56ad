package logical

import (
	"fmt"
	"net"
	"sort"

	"go.uber.org/zap"

	"github.com/zhenghaven/ModularDNS/pkg/downstream"
	"github.com/zhenghaven/ModularDNS/pkg/handler"
	"github.com/zhenghaven/ModularDNS/pkg/msgentry"
	"github.com/zhenghaven/ModularDNS/pkg/recstack"
)

type ruleEntry struct {
	rule    Rule
	handler handler.QuestionHandler
}

// QuestionRuleSet dispatches to the handler of the highest-weight
// matching rule, matching QuestionRuleSet.py. Ties are broken by
// entries order (the first matching rule of the winning weight in
// entries wins) - see QuestionRuleSetFromConfig for how that order is
// derived deterministically from the config's rule map.
type QuestionRuleSet struct {
	handler.Base

	entries []ruleEntry
}

// QuestionRuleSetConfig matches Logical.QuestionRuleSet's FromConfig
// options exactly: a single `ruleAndHandlers` map from rule string to
// handler reference (QuestionRuleSet.py: `ruleAndHandlers: Dict[str,
// str]`). Go map iteration order is randomized, so
// QuestionRuleSetFromConfig sorts the rule strings before building
// entries, giving the insertion-order tiebreak in matchHandler a
// deterministic (if arbitrary) basis instead of depending on map
// iteration order.
type QuestionRuleSetConfig struct {
	RuleAndHandlers map[string]string
}

// QuestionRuleSetFromConfig parses every rule string, rejects
// duplicate-by-equality rules, and resolves each handler reference,
// matching QuestionRuleSet.FromConfig.
func QuestionRuleSetFromConfig(dc *downstream.Collection, cfg QuestionRuleSetConfig, logger *zap.Logger) (*QuestionRuleSet, error) {
	qrs := &QuestionRuleSet{Base: handler.NewBase("QuestionRuleSet", logger)}

	ruleStrs := make([]string, 0, len(cfg.RuleAndHandlers))
	for ruleStr := range cfg.RuleAndHandlers {
		ruleStrs = append(ruleStrs, ruleStr)
	}
	sort.Strings(ruleStrs)

	for _, ruleStr := range ruleStrs {
		rule, err := RuleFromStr(ruleStr)
		if err != nil {
			return nil, err
		}
		for _, existing := range qrs.entries {
			if existing.rule.Equal(rule) {
				return nil, fmt.Errorf("logical: QuestionRuleSet: duplicate rule %q", ruleStr)
			}
		}
		h, err := dc.GetHandlerByQuestion(cfg.RuleAndHandlers[ruleStr])
		if err != nil {
			return nil, err
		}
		qrs.entries = append(qrs.entries, ruleEntry{rule: rule, handler: h})
	}

	return qrs, nil
}

// matchHandler evaluates every rule and returns the handler of the
// highest-weight match, matching MatchHandler's max-heap dispatch.
func (q *QuestionRuleSet) matchHandler(question msgentry.Question) (handler.QuestionHandler, error) {
	bestWeight := -1
	var best handler.QuestionHandler
	found := false
	for _, e := range q.entries {
		isMatch, weight := e.rule.Match(question)
		if isMatch && weight > bestWeight {
			bestWeight = weight
			best = e.handler
			found = true
		}
	}
	if !found {
		return nil, fmt.Errorf("logical: QuestionRuleSet: no rule matched question %q", question.Name)
	}
	return best, nil
}

func (q *QuestionRuleSet) HandleQuestion(question msgentry.Question, senderAddr net.Addr, stack recstack.Stack) ([]msgentry.AnswerRecord, []msgentry.AdditionalRecord, error) {
	stack, err := q.CheckRecursionDepth(stack, "HandleQuestion")
	if err != nil {
		return nil, nil, err
	}

	h, err := q.matchHandler(question)
	if err != nil {
		return nil, nil, err
	}
	return h.HandleQuestion(question, senderAddr, stack)
}

func (q *QuestionRuleSet) Terminate() {}
