// Package downstream implements the handler/endpoint registry that
// wires named config entries together, mirroring
// DownstreamCollection.py.
package downstream

import (
	"fmt"
	"net"
	"regexp"

	"github.com/miekg/dns"

	"github.com/zhenghaven/ModularDNS/pkg/handler"
	"github.com/zhenghaven/ModularDNS/pkg/recstack"
)

// objNamePattern mirrors _OBJ_NAME_PATTERN: a handler/endpoint name
// must start with a letter and be at least two characters of
// letters/digits/underscore/hyphen.
var objNamePattern = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_-]+$`)

// Endpoint is the interface remote.Endpoint implements; it is defined
// here (rather than imported from pkg/downstream/remote) so that
// Collection has no dependency on the remote package, avoiding an
// import cycle back from remote into downstream.
type Endpoint interface {
	GetIPAddr(stack recstack.Stack) (net.IP, error)
	GetHostName() string
	Terminate()
}

// staticSharedHandler is the Handler-only wrapper returned by
// GetHandler, matching StaticSharedHandler.py: Terminate is a no-op
// since the Collection, not the caller, owns the underlying handler.
type staticSharedHandler struct {
	underlying handler.Handler
}

func (s *staticSharedHandler) Handle(msg *dns.Msg, senderAddr net.Addr, stack recstack.Stack) (*dns.Msg, error) {
	return s.underlying.Handle(msg, senderAddr, stack)
}

func (s *staticSharedHandler) Terminate() {}

// Collection holds every named handler and endpoint constructed from
// config, and hands out shared, non-owning references to them,
// matching DownstreamCollection's handler/endpoint stores and LUTs.
type Collection struct {
	handlerStore map[string]any // handler.Handler and/or handler.QuestionHandler
	order        []string

	stHandlerLut map[string]*staticSharedHandler
	stQHLut      map[string]*staticSharedQHWrapper

	endpointStore map[string]Endpoint
	endpointOrder []string
}

// staticSharedQHWrapper holds a non-owning reference to a
// QuestionHandler, matching StaticSharedQuickLookup.py. It needs no
// methods of its own: GetHandlerByQuestion/GetQuickLookup hand out
// the underlying QuestionHandler directly, since the wrapping only
// exists to make Terminate a caller-side no-op (the Collection alone
// owns the real handler).
type staticSharedQHWrapper struct {
	underlying handler.QuestionHandler
}

// NewCollection constructs an empty Collection.
func NewCollection() *Collection {
	return &Collection{
		handlerStore:  make(map[string]any),
		stHandlerLut:  make(map[string]*staticSharedHandler),
		stQHLut:       make(map[string]*staticSharedQHWrapper),
		endpointStore: make(map[string]Endpoint),
	}
}

// NumHandlers returns the number of registered handlers.
func (c *Collection) NumHandlers() int { return len(c.handlerStore) }

// NumEndpoints returns the number of registered endpoints.
func (c *Collection) NumEndpoints() int { return len(c.endpointStore) }

// AddHandler registers handler under name, building the appropriate
// static-shared wrapper(s) based on which interfaces it implements,
// matching AddHandler's isinstance checks
// (QuickLookup > HandlerByQuestion > DownstreamHandler precedence is
// moot in Go since QuestionHandler is QuestionHandler regardless of
// whether the concrete type also happens to embed QuickLookup
// behavior — any handler.QuestionHandler gets the question-level
// wrapper, and any handler.Handler additionally gets the
// message-level wrapper).
func (c *Collection) AddHandler(name string, h any) error {
	if !objNamePattern.MatchString(name) {
		return fmt.Errorf("downstream: invalid handler name %q", name)
	}
	if _, exists := c.handlerStore[name]; exists {
		return fmt.Errorf("downstream: handler %q already exists", name)
	}

	qh, isQH := h.(handler.QuestionHandler)
	fh, isFH := h.(handler.Handler)

	if !isQH && !isFH {
		return fmt.Errorf("downstream: %q does not implement Handler or QuestionHandler", name)
	}

	if isQH {
		c.stQHLut[name] = &staticSharedQHWrapper{underlying: qh}
	}
	if !isFH && isQH {
		// No native message-level Handle: fall back to the generic
		// question-driven adapter, matching every QuickLookup
		// subclass inheriting a working Handle in the Python original.
		fh = handler.QuestionHandlerAsHandler{QuestionHandler: qh}
		isFH = true
	}
	if isFH {
		c.stHandlerLut[name] = &staticSharedHandler{underlying: fh}
	}

	c.handlerStore[name] = h
	c.order = append(c.order, name)
	return nil
}

// parseHandlerRef splits "s:name" into its ref type and name,
// matching _ParseHandlerRef; only the "s" (static-shared) ref type is
// supported, as in the original.
func parseHandlerRef(ref string) (refType, name string, err error) {
	for i := 0; i < len(ref); i++ {
		if ref[i] == ':' {
			return ref[:i], ref[i+1:], nil
		}
	}
	return "", "", fmt.Errorf("downstream: invalid handler reference format %q", ref)
}

// GetHandler resolves a "s:name" reference to a message-level
// Handler.
func (c *Collection) GetHandler(ref string) (handler.Handler, error) {
	refType, name, err := parseHandlerRef(ref)
	if err != nil {
		return nil, err
	}
	if refType != "s" {
		return nil, fmt.Errorf("downstream: unsupported handler reference type %q", refType)
	}
	h, ok := c.stHandlerLut[name]
	if !ok {
		return nil, fmt.Errorf("downstream: handler named %q not found", name)
	}
	return h, nil
}

// GetHandlerByQuestion resolves a "s:name" reference to a
// QuestionHandler.
func (c *Collection) GetHandlerByQuestion(ref string) (handler.QuestionHandler, error) {
	refType, name, err := parseHandlerRef(ref)
	if err != nil {
		return nil, err
	}
	if refType != "s" {
		return nil, fmt.Errorf("downstream: unsupported handler reference type %q", refType)
	}
	w, ok := c.stQHLut[name]
	if !ok {
		return nil, fmt.Errorf("downstream: QuestionHandler named %q not found", name)
	}
	return w.underlying, nil
}

// GetQuickLookup is an alias for GetHandlerByQuestion: in the Python
// original QuickLookup and HandlerByQuestion share one static-shared
// wrapper type, and so do they here.
func (c *Collection) GetQuickLookup(ref string) (handler.QuestionHandler, error) {
	return c.GetHandlerByQuestion(ref)
}

// AddEndpoint registers an endpoint under name.
func (c *Collection) AddEndpoint(name string, ep Endpoint) error {
	if !objNamePattern.MatchString(name) {
		return fmt.Errorf("downstream: invalid endpoint name %q", name)
	}
	if _, exists := c.endpointStore[name]; exists {
		return fmt.Errorf("downstream: endpoint %q already exists", name)
	}
	c.endpointStore[name] = ep
	c.endpointOrder = append(c.endpointOrder, name)
	return nil
}

// GetEndpoint looks up a previously registered endpoint by its bare
// name (endpoints have no "s:" ref-type prefix in the original).
func (c *Collection) GetEndpoint(name string) (Endpoint, error) {
	ep, ok := c.endpointStore[name]
	if !ok {
		return nil, fmt.Errorf("downstream: endpoint %q not found", name)
	}
	return ep, nil
}

// Terminate releases every registered handler and endpoint exactly
// once, matching DownstreamCollection.Terminate.
func (c *Collection) Terminate() {
	c.stHandlerLut = make(map[string]*staticSharedHandler)
	c.stQHLut = make(map[string]*staticSharedQHWrapper)

	for _, name := range c.order {
		if t, ok := c.handlerStore[name].(handler.Terminator); ok {
			t.Terminate()
		}
	}
	c.handlerStore = make(map[string]any)
	c.order = nil

	for _, name := range c.endpointOrder {
		c.endpointStore[name].Terminate()
	}
	c.endpointStore = make(map[string]Endpoint)
	c.endpointOrder = nil
}
