// Package dnserr defines the exception taxonomy that flows between
// handlers instead of raw DNS RCODEs, mirroring Exceptions.py's
// DNSException hierarchy.
package dnserr

import (
	"fmt"

	"github.com/miekg/dns"
)

// Kind enumerates the fixed set of exception classes a handler may
// raise. Config options that reference an exception class by name
// (RaiseExcept.exceptToRaise, Failover.exceptList) resolve through
// KindByName rather than constructing arbitrary Go types.
type Kind int

const (
	KindNameNotFound Kind = iota
	KindZeroAnswer
	KindRequestRefused
	KindServerFault
	KindServerNetworkError
	KindRecursionDepthError
)

func (k Kind) String() string {
	switch k {
	case KindNameNotFound:
		return "NameNotFound"
	case KindZeroAnswer:
		return "ZeroAnswer"
	case KindRequestRefused:
		return "RequestRefused"
	case KindServerFault:
		return "ServerFault"
	case KindServerNetworkError:
		return "ServerNetworkError"
	case KindRecursionDepthError:
		return "RecursionDepthError"
	default:
		return "Unknown"
	}
}

// DNSError is the common interface implemented by every error type in
// this package, analogous to the DNSException base class.
type DNSError interface {
	error
	Kind() Kind
}

// RCode maps an exception kind to the RCODE the server layer should
// return, per the taxonomy table in spec.md §7.
func RCode(k Kind) int {
	switch k {
	case KindNameNotFound:
		return dns.RcodeNameError
	case KindZeroAnswer:
		return dns.RcodeSuccess
	case KindRequestRefused:
		return dns.RcodeRefused
	case KindServerFault, KindServerNetworkError, KindRecursionDepthError:
		return dns.RcodeServerFailure
	default:
		return dns.RcodeServerFailure
	}
}

// NameNotFoundError signals that the queried name has no record at
// all in the handler that raised it (as opposed to an empty answer
// set for an existing name).
type NameNotFoundError struct {
	Name       string
	RespServer string
}

func (e *NameNotFoundError) Error() string {
	if e.RespServer != "" {
		return fmt.Sprintf("name not found: %s (from %s)", e.Name, e.RespServer)
	}
	return fmt.Sprintf("name not found: %s", e.Name)
}

func (e *NameNotFoundError) Kind() Kind { return KindNameNotFound }

// ZeroAnswerError signals that the name exists but has no records of
// the requested type.
type ZeroAnswerError struct {
	Name string
}

func (e *ZeroAnswerError) Error() string {
	return fmt.Sprintf("zero answers: %s", e.Name)
}

func (e *ZeroAnswerError) Kind() Kind { return KindZeroAnswer }

// RequestRefusedError signals that a handler declined to process the
// request (semaphore exhaustion, policy rejection, cyclic TCP client
// reentry, etc).
type RequestRefusedError struct {
	SendAddr string
	ToAddr   string
}

func (e *RequestRefusedError) Error() string {
	return fmt.Sprintf("request refused: %s -> %s", e.SendAddr, e.ToAddr)
}

func (e *RequestRefusedError) Kind() Kind { return KindRequestRefused }

// ServerFaultError is the catch-all for handler-internal failures
// that are not network errors.
type ServerFaultError struct {
	Reason string
}

func (e *ServerFaultError) Error() string {
	return fmt.Sprintf("server fault: %s", e.Reason)
}

func (e *ServerFaultError) Kind() Kind { return KindServerFault }

// ServerNetworkError is a ServerFaultError subtype raised by the
// remote protocol clients on I/O failure (timeout, connection reset,
// socket error).
type ServerNetworkError struct {
	Reason string
}

func (e *ServerNetworkError) Error() string {
	return fmt.Sprintf("server network error: %s", e.Reason)
}

func (e *ServerNetworkError) Kind() Kind { return KindServerNetworkError }

// RecursionDepthError is raised by the recursion guard when a call
// chain exceeds the configured maximum depth.
type RecursionDepthError struct {
	MaxDepth int
}

func (e *RecursionDepthError) Error() string {
	return fmt.Sprintf("recursion depth exceeded: max %d", e.MaxDepth)
}

func (e *RecursionDepthError) Kind() Kind { return KindRecursionDepthError }

// byName resolves the config-facing exception class names used by
// RaiseExcept.exceptToRaise and Failover.exceptList entries to a Kind,
// mirroring EXCEPTION_MAP / GetExceptionByName in Exceptions.py.
var byName = map[string]Kind{
	"NameNotFound":        KindNameNotFound,
	"ZeroAnswer":          KindZeroAnswer,
	"RequestRefused":      KindRequestRefused,
	"ServerFault":         KindServerFault,
	"ServerNetworkError":  KindServerNetworkError,
	"RecursionDepthError": KindRecursionDepthError,
}

// KindByName looks up an exception kind by its config-file name.
func KindByName(name string) (Kind, error) {
	k, ok := byName[name]
	if !ok {
		return 0, fmt.Errorf("dnserr: unknown exception class %q", name)
	}
	return k, nil
}

// New constructs a DNSError of the given kind with a generic reason,
// used by RaiseExcept when the config only names a kind without
// the constructor-specific fields NameNotFoundError/RequestRefusedError
// require.
func New(k Kind, reason string) DNSError {
	switch k {
	case KindNameNotFound:
		return &NameNotFoundError{Name: reason}
	case KindZeroAnswer:
		return &ZeroAnswerError{Name: reason}
	case KindRequestRefused:
		return &RequestRefusedError{SendAddr: "local", ToAddr: reason}
	case KindServerNetworkError:
		return &ServerNetworkError{Reason: reason}
	case KindRecursionDepthError:
		return &RecursionDepthError{}
	default:
		return &ServerFaultError{Reason: reason}
	}
}

// isSubKind reports whether actual is kind target or one of target's
// subtypes, mirroring Python's `isinstance`/`except` matching against
// the DNSException class hierarchy (Exceptions.py:
// `class ServerNetworkError(DNSServerFaultError)`). ServerNetworkError
// is the only subtype in the taxonomy: an `except DNSServerFaultError`
// clause in the original also catches ServerNetworkError instances.
func isSubKind(actual, target Kind) bool {
	if actual == target {
		return true
	}
	if target == KindServerFault && actual == KindServerNetworkError {
		return true
	}
	return false
}

// IsAny reports whether err is a DNSError matching one of the given
// kinds or one of their subtypes, used to implement Failover's
// exceptList matching. A kinds entry of KindServerFault also matches a
// ServerNetworkError, since the latter is a ServerFault subtype.
func IsAny(err error, kinds ...Kind) bool {
	de, ok := err.(DNSError)
	if !ok {
		return false
	}
	for _, k := range kinds {
		if isSubKind(de.Kind(), k) {
			return true
		}
	}
	return false
}
