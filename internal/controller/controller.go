// Package controller owns the dashboard's filter state. Control changes
// arrive as messages, are applied one at a time by Run, and every resulting
// chart is published to subscribers.
package controller

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/banshee-data/exodash/internal/chart"
	"github.com/banshee-data/exodash/internal/exoplanet"
	"github.com/banshee-data/exodash/internal/monitoring"
)

// ErrStopped is returned when a change is submitted after Run has exited.
var ErrStopped = errors.New("controller stopped")

// Change is a control message. Build one with RadiusChanged or
// StarSizesChanged.
type Change struct {
	radius *exoplanet.RadiusRange
	sizes  exoplanet.Selection
	// reply, when set, receives the spec produced by this change or the
	// validation error.
	reply chan result
}

type result struct {
	spec chart.Spec
	err  error
}

// RadiusChanged sets both radius bounds. The bounds are taken as given;
// min >= max is valid and yields an empty chart.
func RadiusChanged(min, max float64) Change {
	return Change{radius: &exoplanet.RadiusRange{Min: min, Max: max}}
}

// StarSizesChanged replaces the star size selection. An empty selection is
// valid and yields an empty chart.
func StarSizesChanged(sizes exoplanet.Selection) Change {
	if sizes == nil {
		sizes = exoplanet.NewSelection()
	}
	return Change{sizes: sizes.Clone()}
}

func (c Change) String() string {
	switch {
	case c.radius != nil:
		return fmt.Sprintf("radius(%g, %g)", c.radius.Min, c.radius.Max)
	case c.sizes != nil:
		return fmt.Sprintf("star_sizes%v", c.sizes.Labels())
	}
	return "noop"
}

// Status summarises controller activity for the state endpoint.
type Status struct {
	Filter      exoplanet.FilterState `json:"filter"`
	Revision    uint64                `json:"revision"`
	Points      int                   `json:"points"`
	Subscribers int                   `json:"subscribers"`
	Applied     int64                 `json:"applied"`
	Rejected    int64                 `json:"rejected"`
}

// Controller recomputes the chart whenever the filter state changes. The
// table is read-only after construction.
type Controller struct {
	table   *exoplanet.Table
	changes chan Change
	done    chan struct{}

	mu       sync.RWMutex
	state    exoplanet.FilterState
	current  chart.Spec
	applied  int64
	rejected int64

	subscriberMu sync.Mutex
	subscribers  map[string]chan chart.Spec
	stopped      bool
}

// New builds a controller and computes the chart for the initial state.
func New(table *exoplanet.Table, initial exoplanet.FilterState) (*Controller, error) {
	if err := initial.Radius.Validate(); err != nil {
		return nil, fmt.Errorf("initial filter: %w", err)
	}
	if initial.StarSizes == nil {
		initial.StarSizes = exoplanet.NewSelection()
	}
	c := &Controller{
		table:       table,
		changes:     make(chan Change, 16),
		done:        make(chan struct{}),
		state:       initial.Clone(),
		subscribers: make(map[string]chan chart.Spec),
	}
	c.current = c.compute(c.state, 1)
	return c, nil
}

func (c *Controller) compute(fs exoplanet.FilterState, revision uint64) chart.Spec {
	spec := chart.Build(exoplanet.Filter(c.table, fs.Radius, fs.StarSizes))
	spec.Revision = revision
	echo := fs.Clone()
	spec.Filter = &echo
	return spec
}

// Current returns the latest published chart.
func (c *Controller) Current() chart.Spec {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.current
}

// State returns a copy of the current filter state.
func (c *Controller) State() exoplanet.FilterState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state.Clone()
}

// Status reports the current revision, filter and counters.
func (c *Controller) Status() Status {
	c.mu.RLock()
	st := Status{
		Filter:   c.state.Clone(),
		Revision: c.current.Revision,
		Points:   len(c.current.Points),
		Applied:  c.applied,
		Rejected: c.rejected,
	}
	c.mu.RUnlock()

	c.subscriberMu.Lock()
	st.Subscribers = len(c.subscribers)
	c.subscriberMu.Unlock()
	return st
}

// Subscribe registers a listener for published charts. The channel holds
// only the latest chart; a slow reader skips intermediate revisions. The
// current chart is queued immediately.
func (c *Controller) Subscribe() (string, <-chan chart.Spec) {
	id := uuid.NewString()
	ch := make(chan chart.Spec, 1)

	// Read the current chart under subscriberMu so a publish cannot slip
	// between the read and the registration.
	c.subscriberMu.Lock()
	defer c.subscriberMu.Unlock()
	ch <- c.Current()
	if c.stopped {
		close(ch)
		return id, ch
	}
	c.subscribers[id] = ch
	monitoring.Debugf("controller: subscriber %s added", id)
	return id, ch
}

// Unsubscribe removes a listener and closes its channel.
func (c *Controller) Unsubscribe(id string) {
	c.subscriberMu.Lock()
	defer c.subscriberMu.Unlock()
	if ch, ok := c.subscribers[id]; ok {
		close(ch)
		delete(c.subscribers, id)
		monitoring.Debugf("controller: subscriber %s removed", id)
	}
}

// Submit queues a change without waiting for it to be applied.
func (c *Controller) Submit(ctx context.Context, ch Change) error {
	select {
	case <-c.done:
		return ErrStopped
	default:
	}
	select {
	case c.changes <- ch:
		return nil
	case <-c.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Apply queues a change and waits for the resulting chart.
func (c *Controller) Apply(ctx context.Context, ch Change) (chart.Spec, error) {
	ch.reply = make(chan result, 1)
	if err := c.Submit(ctx, ch); err != nil {
		return chart.Spec{}, err
	}
	select {
	case res := <-ch.reply:
		return res.spec, res.err
	case <-c.done:
		return chart.Spec{}, ErrStopped
	case <-ctx.Done():
		return chart.Spec{}, ctx.Err()
	}
}

// Run applies queued changes in arrival order until ctx is cancelled. It
// should be called once, in its own goroutine. On exit all subscriber
// channels are closed.
func (c *Controller) Run(ctx context.Context) error {
	defer c.shutdown()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ch := <-c.changes:
			spec, err := c.handle(ch)
			if ch.reply != nil {
				ch.reply <- result{spec: spec, err: err}
			}
		}
	}
}

func (c *Controller) handle(ch Change) (chart.Spec, error) {
	c.mu.Lock()
	next := c.state.Clone()
	if ch.radius != nil {
		if err := ch.radius.Validate(); err != nil {
			c.rejected++
			current := c.current
			c.mu.Unlock()
			monitoring.Logf("controller: rejected %s: %v", ch, err)
			return current, err
		}
		next.Radius = *ch.radius
	}
	if ch.sizes != nil {
		next.StarSizes = ch.sizes.Clone()
	}
	spec := c.compute(next, c.current.Revision+1)
	c.state = next
	c.current = spec
	c.applied++
	c.mu.Unlock()

	monitoring.Debugf("controller: applied %s, revision=%d points=%d", ch, spec.Revision, len(spec.Points))
	c.publish(spec)
	return spec, nil
}

// publish replaces any undelivered chart in each subscriber's buffer.
func (c *Controller) publish(spec chart.Spec) {
	c.subscriberMu.Lock()
	defer c.subscriberMu.Unlock()
	for _, ch := range c.subscribers {
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- spec:
		default:
		}
	}
}

func (c *Controller) shutdown() {
	close(c.done)
	c.subscriberMu.Lock()
	defer c.subscriberMu.Unlock()
	c.stopped = true
	for id, ch := range c.subscribers {
		close(ch)
		delete(c.subscribers, id)
	}
}
