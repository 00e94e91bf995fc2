// Package bus carries envelopes between the panel, overlay and background
// contexts. There is no shared memory: every message is copied through the
// wire codec, and each registered context handles its inbox serially on its
// own goroutine.
//
// Delivery is best-effort. Sending to an address with no receiver fails with
// ErrNoReceiver; a message queued for a receiver that tears down before
// reaching it is dropped without error.
package bus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"imagepicker/internal/message"
	"imagepicker/internal/metrics"
)

// Address names a context on the bus.
type Address string

const (
	Panel      Address = "panel"
	Background Address = "background"
)

// TabAddress is the address of the overlay injected into tab id.
func TabAddress(id string) Address { return Address("tab/" + id) }

const defaultInboxSize = 64

var (
	ErrNoReceiver   = errors.New("bus: no receiver at address")
	ErrAddressInUse = errors.New("bus: address already registered")
	ErrClosed       = errors.New("bus: closed")
	errEndpointGone = errors.New("bus: receiver went away")
)

// Option configures a Bus.
type Option func(*Bus)

// WithLogger sets the logger used for message traffic.
func WithLogger(l *slog.Logger) Option {
	return func(b *Bus) {
		if l != nil {
			b.logger = l
		}
	}
}

// WithInboxSize bounds how many deliveries may queue per receiver before
// senders block.
func WithInboxSize(n int) Option {
	return func(b *Bus) {
		if n > 0 {
			b.inboxSize = n
		}
	}
}

// Bus routes envelopes to registered handlers.
type Bus struct {
	logger    *slog.Logger
	inboxSize int

	mu        sync.RWMutex
	endpoints map[Address]*endpoint
	closed    bool
}

// New creates an empty bus.
func New(opts ...Option) *Bus {
	b := &Bus{
		logger:    slog.Default(),
		inboxSize: defaultInboxSize,
		endpoints: make(map[Address]*endpoint),
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

type result struct {
	msg message.Message
	err error
}

type delivery struct {
	id    string
	from  Address
	ctx   context.Context
	msg   message.Message
	reply chan result // nil for fire-and-forget
}

type endpoint struct {
	addr    Address
	handler message.Handler
	inbox   chan delivery
	done    chan struct{}
	stopped chan struct{}
	once    sync.Once
}

// Register attaches h at addr and starts its inbox loop. The returned
// function detaches it; queued deliveries that have not started are dropped.
func (b *Bus) Register(addr Address, h message.Handler) (func(), error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}
	if _, ok := b.endpoints[addr]; ok {
		return nil, fmt.Errorf("%w: %s", ErrAddressInUse, addr)
	}
	ep := &endpoint{
		addr:    addr,
		handler: h,
		inbox:   make(chan delivery, b.inboxSize),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	b.endpoints[addr] = ep
	go b.serve(ep)
	b.logger.Debug("bus endpoint registered", "address", addr)

	return func() { b.unregister(ep) }, nil
}

func (b *Bus) unregister(ep *endpoint) {
	b.mu.Lock()
	if cur, ok := b.endpoints[ep.addr]; ok && cur == ep {
		delete(b.endpoints, ep.addr)
	}
	b.mu.Unlock()
	ep.stop()
	b.logger.Debug("bus endpoint unregistered", "address", ep.addr)
}

func (ep *endpoint) stop() {
	ep.once.Do(func() { close(ep.done) })
}

// Registered reports whether a receiver is attached at addr.
func (b *Bus) Registered(addr Address) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.endpoints[addr]
	return ok
}

func (b *Bus) lookup(addr Address) (*endpoint, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return nil, ErrClosed
	}
	ep, ok := b.endpoints[addr]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoReceiver, addr)
	}
	return ep, nil
}

// Send delivers msg to addr without waiting for it to be handled. Handler
// errors are logged by the receiver, never returned to the sender.
func (b *Bus) Send(ctx context.Context, from, to Address, msg message.Message) error {
	d, ep, err := b.prepare(ctx, from, to, msg)
	if err != nil {
		return err
	}
	err = b.enqueue(ctx, ep, d)
	if errors.Is(err, errEndpointGone) {
		return nil
	}
	return err
}

// Request delivers msg to addr and waits for the handler's reply.
func (b *Bus) Request(ctx context.Context, from, to Address, msg message.Message) (message.Message, error) {
	d, ep, err := b.prepare(ctx, from, to, msg)
	if err != nil {
		return nil, err
	}
	d.reply = make(chan result, 1)
	if err := b.enqueue(ctx, ep, d); err != nil {
		if errors.Is(err, errEndpointGone) {
			return nil, fmt.Errorf("%w: %s", ErrNoReceiver, to)
		}
		return nil, err
	}
	select {
	case r := <-d.reply:
		return r.msg, r.err
	case <-ep.stopped:
		select {
		case r := <-d.reply:
			return r.msg, r.err
		default:
			return nil, fmt.Errorf("%w: %s", ErrNoReceiver, to)
		}
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (b *Bus) prepare(ctx context.Context, from, to Address, msg message.Message) (delivery, *endpoint, error) {
	if msg == nil {
		return delivery{}, nil, message.ErrUnknownAction
	}
	ep, err := b.lookup(to)
	if err != nil {
		metrics.RecordMessage(string(msg.Action()), "no_receiver")
		return delivery{}, nil, err
	}
	cp, err := message.Clone(msg)
	if err != nil {
		return delivery{}, nil, err
	}
	d := delivery{
		id:   uuid.NewString(),
		from: from,
		// The sender may cancel once a fire-and-forget send returns.
		ctx: context.WithoutCancel(ctx),
		msg: cp,
	}
	return d, ep, nil
}

func (b *Bus) enqueue(ctx context.Context, ep *endpoint, d delivery) error {
	select {
	case <-ep.done:
		return errEndpointGone
	default:
	}
	select {
	case ep.inbox <- d:
		b.logger.Debug("bus send", "id", d.id, "from", d.from, "to", ep.addr, "action", d.msg.Action())
		return nil
	case <-ep.done:
		return errEndpointGone
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *Bus) serve(ep *endpoint) {
	defer close(ep.stopped)
	for {
		select {
		case <-ep.done:
			b.drain(ep)
			return
		case d := <-ep.inbox:
			// A teardown racing the receive wins.
			select {
			case <-ep.done:
				b.dropped(ep, d)
				b.drain(ep)
				return
			default:
			}
			b.handle(ep, d)
		}
	}
}

func (b *Bus) drain(ep *endpoint) {
	for {
		select {
		case d := <-ep.inbox:
			b.dropped(ep, d)
		default:
			return
		}
	}
}

func (b *Bus) dropped(ep *endpoint, d delivery) {
	metrics.RecordMessage(string(d.msg.Action()), "dropped")
	b.logger.Debug("bus delivery dropped", "id", d.id, "to", ep.addr, "action", d.msg.Action())
}

func (b *Bus) handle(ep *endpoint, d delivery) {
	reply, err := b.invoke(ep, d)
	if err == nil && reply != nil {
		reply, err = message.Clone(reply)
	}
	if err != nil {
		metrics.RecordMessage(string(d.msg.Action()), "error")
		if d.reply == nil {
			b.logger.Warn("bus handler failed", "id", d.id, "to", ep.addr, "action", d.msg.Action(), "error", err)
		}
	} else {
		metrics.RecordMessage(string(d.msg.Action()), "delivered")
	}
	if d.reply != nil {
		d.reply <- result{msg: reply, err: err}
	}
}

func (b *Bus) invoke(ep *endpoint, d delivery) (reply message.Message, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("bus: handler for %s panicked: %v", d.msg.Action(), r)
		}
	}()
	return message.Dispatch(d.ctx, ep.handler, d.msg)
}

// Close detaches every receiver and rejects further traffic. It waits for
// in-flight handlers to return.
func (b *Bus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	eps := make([]*endpoint, 0, len(b.endpoints))
	for _, ep := range b.endpoints {
		eps = append(eps, ep)
	}
	b.endpoints = map[Address]*endpoint{}
	b.mu.Unlock()

	for _, ep := range eps {
		ep.stop()
		<-ep.stopped
	}
	return nil
}
