// Package logical implements the pipeline combinators that route
// between other handlers: Failover, RandomChoice, LimitConcurrentReq,
// QuestionRuleSet, RaiseExcept and QtAnsLog, ported from
// Downstream/Logical/*.py.
package logical

import (
	"net"

	"go.uber.org/zap"

	"github.com/zhenghaven/ModularDNS/pkg/dnserr"
	"github.com/zhenghaven/ModularDNS/pkg/downstream"
	"github.com/zhenghaven/ModularDNS/pkg/handler"
	"github.com/zhenghaven/ModularDNS/pkg/msgentry"
	"github.com/zhenghaven/ModularDNS/pkg/recstack"
)

// DefaultFailoverExceptList matches Failover.py's exceptList default.
var DefaultFailoverExceptList = []dnserr.Kind{
	dnserr.KindNameNotFound,
	dnserr.KindRequestRefused,
	dnserr.KindServerFault,
	dnserr.KindZeroAnswer,
}

// Failover tries initial, and on one of exceptList's exception kinds,
// tries failoverHandler instead. Both candidates see the same
// recursion-depth-checked stack, matching Failover.HandleQuestion.
type Failover struct {
	handler.Base

	initial    handler.QuestionHandler
	fallback   handler.QuestionHandler
	exceptList []dnserr.Kind
}

// FailoverConfig matches Logical.Failover's FromConfig options.
type FailoverConfig struct {
	InitialHandler  string
	FailoverHandler string
	ExceptList      []string
}

// FailoverFromConfig resolves both handler references and the
// exception-kind list, matching Failover.FromConfig.
func FailoverFromConfig(dc *downstream.Collection, cfg FailoverConfig, logger *zap.Logger) (*Failover, error) {
	initial, err := dc.GetHandlerByQuestion(cfg.InitialHandler)
	if err != nil {
		return nil, err
	}
	fallback, err := dc.GetHandlerByQuestion(cfg.FailoverHandler)
	if err != nil {
		return nil, err
	}

	exceptList := DefaultFailoverExceptList
	if len(cfg.ExceptList) > 0 {
		exceptList = make([]dnserr.Kind, 0, len(cfg.ExceptList))
		for _, name := range cfg.ExceptList {
			k, err := dnserr.KindByName(name)
			if err != nil {
				return nil, err
			}
			exceptList = append(exceptList, k)
		}
	}

	return &Failover{
		Base:       handler.NewBase("Failover", logger),
		initial:    initial,
		fallback:   fallback,
		exceptList: exceptList,
	}, nil
}

func (f *Failover) HandleQuestion(q msgentry.Question, senderAddr net.Addr, stack recstack.Stack) ([]msgentry.AnswerRecord, []msgentry.AdditionalRecord, error) {
	stack, err := f.CheckRecursionDepth(stack, "HandleQuestion")
	if err != nil {
		return nil, nil, err
	}

	answers, additional, err := f.initial.HandleQuestion(q, senderAddr, stack)
	if err == nil {
		return answers, additional, nil
	}
	if !dnserr.IsAny(err, f.exceptList...) {
		return nil, nil, err
	}
	return f.fallback.HandleQuestion(q, senderAddr, stack)
}

func (f *Failover) Terminate() {}
