package logical

import (
	"fmt"
	"net"
	"os"
	"regexp"

	"github.com/miekg/dns"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/zhenghaven/ModularDNS/pkg/downstream"
	"github.com/zhenghaven/ModularDNS/pkg/handler"
	"github.com/zhenghaven/ModularDNS/pkg/msgentry"
	"github.com/zhenghaven/ModularDNS/pkg/recstack"
)

// AnyMarker is the wildcard value for QtAnsLog's class/type filter,
// matching QtAnsLog.py's qtCls/qtType default 'ANY'.
const AnyMarker = "ANY"

// QtAnsLog is a pass-through handler that additionally logs
// (question, answer) pairs matching a filter, matching
// Logical/QtAnsLog.py. Unlike the original, a non-matching question
// simply delegates rather than falling through to an implicit empty
// result — spec.md §4.3 states the non-filter core behavior is
// "simply delegate", which this follows instead of the Python
// source's apparent oversight.
type QtAnsLog struct {
	handler.Base

	target handler.QuestionHandler

	qtClass string
	qtType  string
	nameRe  *regexp.Regexp

	file   *os.File
	logger *zap.Logger
}

// QtAnsLogConfig matches Logical.QtAnsLog's FromConfig options.
type QtAnsLogConfig struct {
	QtHandler       string
	LogPath         string
	LogMode         string // "w" (truncate, default) or "a" (append)
	QtNameRegexExpr string
	QtClass         string
	QtType          string
}

// QtAnsLogFromConfig resolves qtHandler and opens the dedicated log
// file, matching QtAnsLog.FromConfig.
func QtAnsLogFromConfig(dc *downstream.Collection, cfg QtAnsLogConfig, baseLogger *zap.Logger) (*QtAnsLog, error) {
	target, err := dc.GetHandlerByQuestion(cfg.QtHandler)
	if err != nil {
		return nil, err
	}

	nameExpr := cfg.QtNameRegexExpr
	if nameExpr == "" {
		nameExpr = "^.*$"
	}
	re, err := regexp.Compile(nameExpr)
	if err != nil {
		return nil, fmt.Errorf("logical: QtAnsLog: invalid qtNameRegexExpr: %w", err)
	}

	qtClass := cfg.QtClass
	if qtClass == "" {
		qtClass = AnyMarker
	}
	qtType := cfg.QtType
	if qtType == "" {
		qtType = AnyMarker
	}

	flags := os.O_CREATE | os.O_WRONLY
	if cfg.LogMode == "a" {
		flags |= os.O_APPEND
	} else {
		flags |= os.O_TRUNC
	}
	f, err := os.OpenFile(cfg.LogPath, flags, 0o644)
	if err != nil {
		return nil, fmt.Errorf("logical: QtAnsLog: opening log file %q: %w", cfg.LogPath, err)
	}

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "ts"
	core := zapcore.NewCore(zapcore.NewJSONEncoder(encoderCfg), zapcore.AddSync(f), zapcore.InfoLevel)
	fileLogger := zap.New(core)

	return &QtAnsLog{
		Base:    handler.NewBase("QtAnsLog", baseLogger),
		target:  target,
		qtClass: qtClass,
		qtType:  qtType,
		nameRe:  re,
		file:    f,
		logger:  fileLogger,
	}, nil
}

func (q *QtAnsLog) matchesFilter(question msgentry.Question) bool {
	if q.qtClass != AnyMarker && q.qtClass != dns.ClassToString[question.Qclass] {
		return false
	}
	if q.qtType != AnyMarker && q.qtType != dns.TypeToString[question.Qtype] {
		return false
	}
	return q.nameRe.MatchString(question.Name)
}

func (q *QtAnsLog) HandleQuestion(question msgentry.Question, senderAddr net.Addr, stack recstack.Stack) ([]msgentry.AnswerRecord, []msgentry.AdditionalRecord, error) {
	stack, err := q.CheckRecursionDepth(stack, "HandleQuestion")
	if err != nil {
		return nil, nil, err
	}

	if !q.matchesFilter(question) {
		return q.target.HandleQuestion(question, senderAddr, stack)
	}

	answers, additional, err := q.target.HandleQuestion(question, senderAddr, stack)
	if err != nil {
		q.logger.Error("question handling failed",
			zap.String("question", question.Name),
			zap.Error(err))
		return nil, nil, err
	}

	q.logger.Info("question answered",
		zap.String("question", question.Name),
		zap.Int("answers", len(answers)))
	return answers, additional, nil
}

func (q *QtAnsLog) Terminate() {
	_ = q.logger.Sync()
	_ = q.file.Close()
}
