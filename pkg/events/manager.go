// Package events implements the runtime's single-threaded, cooperative
// event substrate: a FIFO queue, kind-keyed subscriptions, producer
// registration, continue-hooks run before every hypervisor resume, and the
// run loop itself. There are no goroutines and no locks in this package —
// every method is expected to run on the single thread that drives the
// run loop, the same thread every plugin callback runs on.
package events

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/cuemby/vmicore/pkg/log"
	"github.com/cuemby/vmicore/pkg/metrics"
	"github.com/cuemby/vmicore/pkg/types"
	"github.com/cuemby/vmicore/pkg/vmierrors"
)

var logger = log.WithComponent("events")

// Producer is implemented by plugins that generate a kind of event on
// request, e.g. the SLP coordinator for SlpViolation, or the single-step
// coordinator for SingleStep.
type Producer interface {
	// RequestEvent asks the producer to start generating events of the
	// given kind matching params, and returns an opaque request id used
	// later to cancel it.
	RequestEvent(kind types.Kind, params interface{}) (string, error)
	// CancelEvent stops a previously requested event stream.
	CancelEvent(requestID string) error
}

// Filter is implemented by a subscription's parameter bag (e.g.
// types.BreakpointParams) to decide whether a dispatched event should reach
// that subscription's callback.
type Filter interface {
	Matches(types.Event) bool
}

// Callback is invoked for every event that passes a subscription's filter.
type Callback func(types.Event)

// ContinueHook runs once per run-loop iteration, before the hypervisor is
// asked to resume. Coordinators use these to flush deferred state (SLP
// permission writes, vCPU cache invalidation, ...).
type ContinueHook func()

// Subscription represents one callback's registration for a kind of event.
type Subscription struct {
	ID              string
	Kind            types.Kind
	Params          Filter
	Callback        Callback
	Active          bool
	ProducerRequest string
}

// Manager is the event substrate described in the package doc. The zero
// value is not usable; construct with New.
type Manager struct {
	queue         []types.Event
	subscriptions map[types.Kind][]*Subscription
	producers     map[types.Kind]Producer
	continueHooks []ContinueHook
}

// New returns an empty Manager, with the wildcard subscription bucket
// already present.
func New() *Manager {
	return &Manager{
		subscriptions: map[types.Kind][]*Subscription{
			types.KindWildcard: nil,
		},
		producers: make(map[types.Kind]Producer),
	}
}

// Healthy implements metrics.HealthSource: the manager is healthy once at
// least one producer has registered, so readiness reflects that core
// coordinators have actually wired themselves in rather than just that a
// Manager value exists.
func (m *Manager) Healthy() (bool, string) {
	if len(m.producers) == 0 {
		return false, "no event producers registered"
	}
	return true, fmt.Sprintf("%d producers registered", len(m.producers))
}

// Register binds producer as the source for each of the given kinds. It
// returns vmierrors.ErrProducerExists if any kind already has a producer.
func (m *Manager) Register(producer Producer, kinds ...types.Kind) error {
	for _, kind := range kinds {
		if _, exists := m.producers[kind]; exists {
			return fmt.Errorf("register producer for %q: %w", kind, vmierrors.ErrProducerExists)
		}
	}
	for _, kind := range kinds {
		logger.Debug().Str("kind", string(kind)).Msg("registering event producer")
		m.producers[kind] = producer
	}
	return nil
}

// Unregister removes producer's bindings for the given kinds.
func (m *Manager) Unregister(kinds ...types.Kind) {
	for _, kind := range kinds {
		logger.Debug().Str("kind", string(kind)).Msg("unregistering event producer")
		delete(m.producers, kind)
	}
}

// RequestEvent activates sub, forwarding the request to the kind's producer
// (if any) unless forward is false. The subscription is assigned an ID if
// it does not already have one.
func (m *Manager) RequestEvent(sub *Subscription, forward bool) error {
	if sub.ID == "" {
		sub.ID = uuid.NewString()
	}
	if forward {
		if producer, ok := m.producers[sub.Kind]; ok {
			reqID, err := producer.RequestEvent(sub.Kind, sub.Params)
			if err != nil {
				return fmt.Errorf("request event %q: %w", sub.Kind, err)
			}
			sub.ProducerRequest = reqID
		}
	}
	m.subscriptions[sub.Kind] = append(m.subscriptions[sub.Kind], sub)
	sub.Active = true
	metrics.SubscriptionsActive.Inc()
	return nil
}

// CancelEvent deactivates sub, canceling the forwarded producer request (if
// any) and removing it from its bucket. It returns vmierrors.ErrNotFound if
// sub is not currently registered.
func (m *Manager) CancelEvent(sub *Subscription) error {
	bucket := m.subscriptions[sub.Kind]
	idx := -1
	for i, s := range bucket {
		if s == sub {
			idx = i
			break
		}
	}
	if idx == -1 {
		return fmt.Errorf("cancel event %q: %w", sub.Kind, vmierrors.ErrNotFound)
	}
	m.subscriptions[sub.Kind] = append(bucket[:idx], bucket[idx+1:]...)

	if sub.ProducerRequest != "" {
		if producer, ok := m.producers[sub.Kind]; ok {
			if err := producer.CancelEvent(sub.ProducerRequest); err != nil {
				return fmt.Errorf("cancel producer request: %w", err)
			}
		}
		sub.ProducerRequest = ""
	}
	sub.Active = false
	metrics.SubscriptionsActive.Dec()
	return nil
}

// DrainQueue removes and returns every event currently queued, in FIFO
// order, without dispatching them. RunLoop never calls this; it exists for
// tests that need to observe events a producer enqueued via PutEvent
// without running the full dispatch loop.
func (m *Manager) DrainQueue() []types.Event {
	drained := m.queue
	m.queue = nil
	return drained
}

// PutEvent appends event to the back of the queue. It never dispatches
// synchronously: events produced during dispatch of another event are
// processed after it, preserving causal order without recursion.
func (m *Manager) PutEvent(event types.Event) {
	m.queue = append(m.queue, event)
}

// AddContinueHook appends hook to the ordered list run before every
// hypervisor resume.
func (m *Manager) AddContinueHook(hook ContinueHook) {
	m.continueHooks = append(m.continueHooks, hook)
}

// CallContinueHooks runs every registered continue-hook, in insertion
// order. RunLoop calls this automatically before every hypervisor poll;
// it is exported so tests (and any code that needs to force a cache flush
// outside the run loop) can invoke it directly.
func (m *Manager) CallContinueHooks() {
	for _, hook := range m.continueHooks {
		hook()
	}
}

// dispatch delivers event to every matching subscription: first the
// wildcard bucket, in insertion order, then the bucket keyed by the event's
// exact kind, in insertion order. A panic from a callback is recovered and
// logged; it does not stop delivery to the remaining subscribers.
func (m *Manager) dispatch(event types.Event) {
	logger.Debug().Str("kind", string(event.Kind())).Msg("dispatching event")
	metrics.EventsDispatched.WithLabelValues(string(event.Kind())).Inc()

	for _, sub := range m.subscriptions[types.KindWildcard] {
		m.deliver(sub, event)
	}
	for _, sub := range m.subscriptions[event.Kind()] {
		m.deliver(sub, event)
	}
}

func (m *Manager) deliver(sub *Subscription, event types.Event) {
	if sub.Params != nil && !sub.Params.Matches(event) {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			logger.Error().
				Str("subscription", sub.ID).
				Str("kind", string(sub.Kind)).
				Interface("panic", r).
				Msg("recovered panic in event callback")
		}
	}()
	sub.Callback(event)
}

// HypervisorPoller is the narrow slice of hv.Hypervisor the run loop needs:
// wait for the next burst of traps, then drain them.
type HypervisorPoller interface {
	WaitEvent(ctx context.Context, timeout time.Duration) (types.Event, error)
	GetEvent() types.Event
}

// pollInterval is how long the run loop waits for a hypervisor event each
// iteration before calling continue-hooks again.
const pollInterval = time.Second

// RunLoop drives the runtime: call every continue-hook, poll the hypervisor
// for up to one second and drain all pending traps into the queue, then
// dispatch the queue until empty. It returns when a VmShutdown event is
// dispatched, or when ctx is canceled.
func (m *Manager) RunLoop(ctx context.Context, hv HypervisorPoller) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		timer := metrics.NewTimer()

		m.CallContinueHooks()

		first, err := hv.WaitEvent(ctx, pollInterval)
		if err != nil {
			return fmt.Errorf("wait event: %w", err)
		}
		if first != nil {
			m.PutEvent(first)
		}
		for {
			event := hv.GetEvent()
			if event == nil {
				break
			}
			m.PutEvent(event)
		}

		for len(m.queue) > 0 {
			event := m.queue[0]
			m.queue = m.queue[1:]
			m.dispatch(event)
			if event.Kind() == types.KindVMShutdown {
				timer.ObserveDuration(metrics.RunLoopIterationDuration)
				return nil
			}
		}

		timer.ObserveDuration(metrics.RunLoopIterationDuration)
	}
}
