package logical

import (
	"fmt"
	"math/rand/v2"
	"net"

	"go.uber.org/zap"

	"github.com/zhenghaven/ModularDNS/pkg/downstream"
	"github.com/zhenghaven/ModularDNS/pkg/handler"
	"github.com/zhenghaven/ModularDNS/pkg/msgentry"
	"github.com/zhenghaven/ModularDNS/pkg/recstack"
)

// RandomChoice dispatches to one of handlerList per call, drawn with
// weighted probability via precomputed cumulative weights, matching
// RandomChoice.py.
type RandomChoice struct {
	handler.Base

	handlers    []handler.QuestionHandler
	accWeights  []int
	totalWeight int
}

// RandomChoiceConfig matches Logical.RandomChoice's FromConfig
// options.
type RandomChoiceConfig struct {
	HandlerList []string
	WeightList  []int // optional; nil means default weight 1 each
}

// RandomChoiceFromConfig resolves handlerList's references and builds
// a RandomChoice, matching RandomChoice.__init__.
func RandomChoiceFromConfig(dc *downstream.Collection, cfg RandomChoiceConfig, logger *zap.Logger) (*RandomChoice, error) {
	if len(cfg.HandlerList) == 0 {
		return nil, fmt.Errorf("logical: RandomChoice: there must be at least one handler")
	}

	weights := cfg.WeightList
	if weights == nil {
		weights = make([]int, len(cfg.HandlerList))
		for i := range weights {
			weights[i] = 1
		}
	}
	if len(weights) != len(cfg.HandlerList) {
		return nil, fmt.Errorf("logical: RandomChoice: length of weightList does not match length of handlerList")
	}

	handlers := make([]handler.QuestionHandler, 0, len(cfg.HandlerList))
	for _, ref := range cfg.HandlerList {
		h, err := dc.GetHandlerByQuestion(ref)
		if err != nil {
			return nil, err
		}
		handlers = append(handlers, h)
	}

	acc := make([]int, len(weights))
	running := 0
	for i, w := range weights {
		running += w
		acc[i] = running
	}

	return &RandomChoice{
		Base:        handler.NewBase("RandomChoice", logger),
		handlers:    handlers,
		accWeights:  acc,
		totalWeight: running,
	}, nil
}

func (r *RandomChoice) pick() handler.QuestionHandler {
	if r.totalWeight <= 0 {
		return r.handlers[0]
	}
	draw := rand.IntN(r.totalWeight) + 1
	for i, acc := range r.accWeights {
		if draw <= acc {
			return r.handlers[i]
		}
	}
	return r.handlers[len(r.handlers)-1]
}

func (r *RandomChoice) HandleQuestion(q msgentry.Question, senderAddr net.Addr, stack recstack.Stack) ([]msgentry.AnswerRecord, []msgentry.AdditionalRecord, error) {
	stack, err := r.CheckRecursionDepth(stack, "HandleQuestion")
	if err != nil {
		return nil, nil, err
	}
	return r.pick().HandleQuestion(q, senderAddr, stack)
}

func (r *RandomChoice) Terminate() {}
