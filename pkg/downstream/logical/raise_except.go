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

// RaiseExcept always raises the configured exception kind, used as a
// terminal "null route", matching RaiseExcept.py. Note it does not
// call the recursion guard before raising (only construction-time
// validation of the exception name), matching the original — there
// is no downstream call to guard against.
type RaiseExcept struct {
	handler.Base

	kind   dnserr.Kind
	reason string
}

// RaiseExceptConfig matches Logical.RaiseExcept's FromConfig options.
// exceptArgs/exceptKwargs in the original construct
// exception-specific fields (name, sendAddr/toAddr, reason); here
// they collapse to a single free-form reason string since Go's
// DNSError constructors are concrete per kind rather than
// *args/**kwargs driven.
type RaiseExceptConfig struct {
	ExceptToRaise string
	Reason        string
}

// RaiseExceptFromConfig resolves exceptToRaise's name, matching
// RaiseExcept.FromConfig.
func RaiseExceptFromConfig(_ *downstream.Collection, cfg RaiseExceptConfig, logger *zap.Logger) (*RaiseExcept, error) {
	k, err := dnserr.KindByName(cfg.ExceptToRaise)
	if err != nil {
		return nil, err
	}
	return &RaiseExcept{
		Base:   handler.NewBase("RaiseExcept", logger),
		kind:   k,
		reason: cfg.Reason,
	}, nil
}

func (r *RaiseExcept) HandleQuestion(_ msgentry.Question, _ net.Addr, _ recstack.Stack) ([]msgentry.AnswerRecord, []msgentry.AdditionalRecord, error) {
	return nil, nil, dnserr.New(r.kind, r.reason)
}

func (r *RaiseExcept) Terminate() {}
