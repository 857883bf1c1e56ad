package logical

import (
	"context"
	"net"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/zhenghaven/ModularDNS/pkg/dnserr"
	"github.com/zhenghaven/ModularDNS/pkg/downstream"
	"github.com/zhenghaven/ModularDNS/pkg/handler"
	"github.com/zhenghaven/ModularDNS/pkg/msgentry"
	"github.com/zhenghaven/ModularDNS/pkg/recstack"
)

// LimitConcurrentReq bounds the number of in-flight calls into target
// to maxNumConcurrentReq, matching LimitConcurrentReq.py.
// golang.org/x/sync/semaphore.Weighted is the idiomatic non-blocking-
// acquire primitive replacing threading.Semaphore; the teacher's own
// stack already depends on golang.org/x/sync.
type LimitConcurrentReq struct {
	handler.Base

	target   handler.QuestionHandler
	sem      *semaphore.Weighted
	blocking bool
}

// LimitConcurrentReqConfig matches Logical.LimitConcurrentReq's
// FromConfig options.
type LimitConcurrentReqConfig struct {
	TargetHandler       string
	MaxNumConcurrentReq int64
	Blocking            bool
}

// LimitConcurrentReqFromConfig resolves targetHandler and builds a
// LimitConcurrentReq, matching LimitConcurrentReq.FromConfig.
func LimitConcurrentReqFromConfig(dc *downstream.Collection, cfg LimitConcurrentReqConfig, logger *zap.Logger) (*LimitConcurrentReq, error) {
	target, err := dc.GetHandlerByQuestion(cfg.TargetHandler)
	if err != nil {
		return nil, err
	}
	return &LimitConcurrentReq{
		Base:     handler.NewBase("LimitConcurrentReq", logger),
		target:   target,
		sem:      semaphore.NewWeighted(cfg.MaxNumConcurrentReq),
		blocking: cfg.Blocking,
	}, nil
}

func (l *LimitConcurrentReq) HandleQuestion(q msgentry.Question, senderAddr net.Addr, stack recstack.Stack) ([]msgentry.AnswerRecord, []msgentry.AdditionalRecord, error) {
	stack, err := l.CheckRecursionDepth(stack, "HandleQuestion")
	if err != nil {
		return nil, nil, err
	}

	if l.blocking {
		if err := l.sem.Acquire(context.Background(), 1); err != nil {
			return nil, nil, &dnserr.ServerFaultError{Reason: err.Error()}
		}
	} else if !l.sem.TryAcquire(1) {
		return nil, nil, &dnserr.RequestRefusedError{SendAddr: addrString(senderAddr), ToAddr: l.Label}
	}
	defer l.sem.Release(1)

	return l.target.HandleQuestion(q, senderAddr, stack)
}

func (l *LimitConcurrentReq) Terminate() {}

func addrString(addr net.Addr) string {
	if addr == nil {
		return "local"
	}
	return addr.String()
}
