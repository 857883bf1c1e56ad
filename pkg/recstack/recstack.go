// Package recstack implements the recursion guard threaded through
// every Handle/HandleQuestion call, mirroring CheckRecursionDepth in
// the original Python DownstreamHandler.
package recstack

import (
	"github.com/google/uuid"

	"github.com/zhenghaven/ModularDNS/pkg/dnserr"
)

// DefaultMaxDepth is the default recursion ceiling, matching the
// Python original's default maxRecDepth.
const DefaultMaxDepth = 50

// Frame identifies one handler invocation on the call chain: the
// instance that handled it, and a human-readable label of which
// method was entered (e.g. "Cache.HandleQuestion").
type Frame struct {
	InstanceID uuid.UUID
	Label      string
}

// Stack is an immutable (copy-on-extend) recursion chain. The zero
// value is a valid empty stack, used for the first inbound request.
type Stack []Frame

// Push returns a new stack with frame appended, leaving the receiver
// untouched. Every handler must operate on the stack Push returns, not
// the one it was given, so sibling calls within a combinator (e.g.
// Failover trying the initial then the failover handler) each see an
// independent extension of the same prefix.
func (s Stack) Push(instanceID uuid.UUID, label string) Stack {
	next := make(Stack, len(s)+1)
	copy(next, s)
	next[len(s)] = Frame{InstanceID: instanceID, Label: label}
	return next
}

// Contains reports whether instanceID already appears anywhere in the
// stack, used by TCPClient's self-lock detector to recognize a call
// chain re-entering the same client.
func (s Stack) Contains(instanceID uuid.UUID) bool {
	for _, f := range s {
		if f.InstanceID == instanceID {
			return true
		}
	}
	return false
}

// topInstance returns the instance id of the most recent frame, and
// whether the stack is non-empty.
func (s Stack) topInstance() (uuid.UUID, bool) {
	if len(s) == 0 {
		return uuid.UUID{}, false
	}
	return s[len(s)-1].InstanceID, true
}

// Check is the recursion guard: it pushes (instanceID, label) onto
// stack and returns the extended stack, unless doing so would exceed
// maxDepth, in which case it returns a RecursionDepthError.
//
// When ignoreIntraInstance is true and the top frame's instance
// already equals instanceID (the handler is calling back into itself
// via a wrapper, e.g. a StaticSharedHandler delegating to its real
// handler), no frame is pushed and depth is not consumed — mirroring
// the Python original's ignoreIntraInstance mode.
func Check(stack Stack, instanceID uuid.UUID, label string, maxDepth int, ignoreIntraInstance bool) (Stack, error) {
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}
	if ignoreIntraInstance {
		if top, ok := stack.topInstance(); ok && top == instanceID {
			return stack, nil
		}
	}
	if len(stack) >= maxDepth {
		return nil, &dnserr.RecursionDepthError{MaxDepth: maxDepth}
	}
	return stack.Push(instanceID, label), nil
}
