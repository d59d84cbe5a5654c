// Package notifier delivers alerts through pluggable channels.
package notifier

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/good-yellow-bee/toolwatch/internal/metrics"
	"github.com/good-yellow-bee/toolwatch/internal/models"
)

// Notifier is the interface for all notification channels.
type Notifier interface {
	// Name returns the channel name (e.g., "console", "github").
	Name() string
	// Send delivers an alert.
	Send(ctx context.Context, alert *models.Alert) error
	// Close releases any resources.
	Close() error
}

// Recorder persists delivery attempts on the alert's notification log.
// storage.AlertRepository satisfies it.
type Recorder interface {
	AppendNotification(ctx context.Context, id string, rec models.NotificationRecord) error
}

// Dispatcher fans alerts out to registered channels.
type Dispatcher struct {
	mu          sync.RWMutex
	notifiers   map[string]Notifier
	minSeverity map[string]models.AlertSeverity
	rateLimiter *RateLimiter
	recorder    Recorder
	now         func() time.Time
}

// NewDispatcher creates a new notification dispatcher with default rate limiting.
func NewDispatcher() *Dispatcher {
	return NewDispatcherWithRateLimit(DefaultRateLimitConfig())
}

// NewDispatcherWithRateLimit creates a dispatcher with custom rate limit configuration.
func NewDispatcherWithRateLimit(config RateLimitConfig) *Dispatcher {
	return &Dispatcher{
		notifiers:   make(map[string]Notifier),
		minSeverity: make(map[string]models.AlertSeverity),
		rateLimiter: NewRateLimiter(config),
		now:         time.Now,
	}
}

// SetRecorder attaches the notification log. A nil recorder disables logging.
func (d *Dispatcher) SetRecorder(r Recorder) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.recorder = r
}

// Register adds a channel that receives every alert.
func (d *Dispatcher) Register(n Notifier) {
	d.RegisterWithMinSeverity(n, "")
}

// RegisterWithMinSeverity adds a channel that only receives alerts at or
// above min. An empty min accepts everything.
func (d *Dispatcher) RegisterWithMinSeverity(n Notifier, min models.AlertSeverity) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.notifiers[n.Name()] = n
	if min == "" {
		delete(d.minSeverity, n.Name())
	} else {
		d.minSeverity[n.Name()] = min
	}
}

// Unregister removes a channel from the dispatcher.
func (d *Dispatcher) Unregister(name string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.notifiers, name)
	delete(d.minSeverity, name)
}

// Get returns a channel by name.
func (d *Dispatcher) Get(name string) (Notifier, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	n, ok := d.notifiers[name]
	return n, ok
}

// Names returns the registered channel names in sorted order.
func (d *Dispatcher) Names() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	names := make([]string, 0, len(d.notifiers))
	for name := range d.notifiers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ErrRateLimited is returned when a notification is dropped due to rate limiting.
var ErrRateLimited = errors.New("notification rate limited")

// Dispatch sends an alert to every eligible channel and appends one
// notification record per attempt. It has the signature of the alert
// engine's OnAlert hook. Returns ErrRateLimited if the notification is
// dropped due to rate limiting.
func (d *Dispatcher) Dispatch(ctx context.Context, alert *models.Alert) error {
	d.mu.RLock()
	defer d.mu.RUnlock()

	targets := d.eligible(alert)
	if len(targets) == 0 {
		return nil
	}

	var res *Reservation
	if d.rateLimiter != nil {
		var ok bool
		if res, ok = d.rateLimiter.Reserve(); !ok {
			metrics.NotificationsRateLimited.Inc()
			return ErrRateLimited
		}
	}

	var errs []error
	for _, n := range targets {
		err := n.Send(ctx, alert)
		d.record(ctx, alert, n.Name(), err)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", n.Name(), err))
		}
	}
	res.Settle(len(targets) - len(errs))

	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("notification errors: %w", errors.Join(errs...))
}

// eligible returns the channels that accept alert, sorted by name.
// Must be called with mutex held.
func (d *Dispatcher) eligible(alert *models.Alert) []Notifier {
	var targets []Notifier
	for name, n := range d.notifiers {
		if min, ok := d.minSeverity[name]; ok && alert.Severity.Rank() < min.Rank() {
			continue
		}
		targets = append(targets, n)
	}
	sort.Slice(targets, func(i, j int) bool { return targets[i].Name() < targets[j].Name() })
	return targets
}

// record logs one delivery attempt. Must be called with mutex held.
func (d *Dispatcher) record(ctx context.Context, alert *models.Alert, channel string, sendErr error) {
	rec := models.NotificationRecord{Channel: channel, SentAt: d.now().UTC()}
	result := "success"
	if sendErr != nil {
		rec.Error = sendErr.Error()
		result = "failure"
	}
	metrics.NotificationsTotal.WithLabelValues(channel, result).Inc()
	alert.Notifications = append(alert.Notifications, rec)

	if d.recorder == nil || alert.ID == "" {
		return
	}
	if err := d.recorder.AppendNotification(ctx, alert.ID, rec); err != nil {
		log.Printf("warning: record notification alert=%s channel=%s: %v", alert.ID, channel, err)
	}
}

// RateLimitStats returns the rate limiter statistics.
func (d *Dispatcher) RateLimitStats() RateLimitStats {
	if d.rateLimiter == nil {
		return RateLimitStats{}
	}
	return d.rateLimiter.Stats()
}

// Close closes all registered channels.
func (d *Dispatcher) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	var errs []error
	for name, n := range d.notifiers {
		if err := n.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	d.notifiers = make(map[string]Notifier)
	d.minSeverity = make(map[string]models.AlertSeverity)

	if len(errs) > 0 {
		return fmt.Errorf("close errors: %w", errors.Join(errs...))
	}
	return nil
}
