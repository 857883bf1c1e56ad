package remote

import (
	"fmt"
	"net"
	"time"

	"github.com/miekg/dns"
	"go.uber.org/zap"

	"github.com/zhenghaven/ModularDNS/pkg/dnserr"
	"github.com/zhenghaven/ModularDNS/pkg/handler"
	"github.com/zhenghaven/ModularDNS/pkg/msgentry"
	"github.com/zhenghaven/ModularDNS/pkg/recstack"
)

// DefaultTimeout matches Remote.DEFAULT_TIMEOUT.
const DefaultTimeout = 2 * time.Second

// Remote is a QuestionHandler answering through a Protocol (typically
// a SessionPool wrapping a concrete wire client), matching Remote.py.
type Remote struct {
	handler.Base

	underlying Protocol
}

// newRemote builds a Remote wrapping underlying, matching
// Remote.__init__.
func newRemote(label string, underlying Protocol, logger *zap.Logger) *Remote {
	return &Remote{
		Base:       handler.NewBase(label, logger),
		underlying: underlying,
	}
}

func (r *Remote) HandleQuestion(q msgentry.Question, senderAddr net.Addr, stack recstack.Stack) ([]msgentry.AnswerRecord, []msgentry.AdditionalRecord, error) {
	stack, err := r.CheckRecursionDepth(stack, "HandleQuestion")
	if err != nil {
		return nil, nil, err
	}

	query := q.MakeQuery()
	resp, info, err := r.underlying.Query(query, stack)
	if err != nil {
		return nil, nil, err
	}

	resp, err = commonDNSRespHandling(resp, info, q.NameStr(true), r.Logger)
	if err != nil {
		return nil, nil, err
	}

	_, answers, additional, _ := msgentry.FromMsg(resp)
	return answers, additional, nil
}

func (r *Remote) Terminate() {
	r.underlying.Terminate()
}

// commonDNSRespHandling maps a remote server's RCODE to a DNSError,
// matching Utils.CommonDNSRespHandling. NOERROR (including an empty
// answer section — ZeroAnswer is a caller-side concept, not an RCODE)
// passes through unchanged.
func commonDNSRespHandling(resp *dns.Msg, remote RemoteInfo, queryName string, logger *zap.Logger) (*dns.Msg, error) {
	switch resp.Rcode {
	case dns.RcodeSuccess:
		return resp, nil
	case dns.RcodeRefused:
		err := &dnserr.RequestRefusedError{SendAddr: "local", ToAddr: remoteInfoString(remote)}
		logger.Debug("remote server refused request", zap.String("remote", remoteInfoString(remote)))
		return nil, err
	case dns.RcodeServerFailure:
		return nil, &dnserr.ServerFaultError{
			Reason: fmt.Sprintf("the remote server %s failed to process the request for name %s", remoteInfoString(remote), queryName),
		}
	case dns.RcodeNameError:
		return nil, &dnserr.NameNotFoundError{Name: queryName, RespServer: remoteInfoString(remote)}
	default:
		return nil, &dnserr.ServerFaultError{
			Reason: fmt.Sprintf("the remote server %s returned unsupported error code %s for name %s", remoteInfoString(remote), dns.RcodeToString[resp.Rcode], queryName),
		}
	}
}

func remoteInfoString(info RemoteInfo) string {
	return net.JoinHostPort(info.HostName, fmt.Sprintf("%d", info.Port))
}
