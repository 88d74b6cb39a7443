package cloud

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"os"
	"runtime"
	"runtime/debug"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/vladlpavlov/Pythagoras-sub001/address"
	"github.com/vladlpavlov/Pythagoras-sub001/internal/clock"
	"github.com/vladlpavlov/Pythagoras-sub001/log"
	"github.com/vladlpavlov/Pythagoras-sub001/persidict"
)

type EventKind string

const (
	EventStarted  EventKind = "execution_started"
	EventFinished EventKind = "execution_finished"
)

// Event is one line of the execution log.
type Event struct {
	Kind      EventKind `yaml:"kind"`
	Function  string    `yaml:"function"`
	Signature string    `yaml:"signature"`
	Mode      Mode      `yaml:"mode"`
	At        time.Time `yaml:"at"`
	Host      string    `yaml:"host"`
	PID       int       `yaml:"pid"`
}

// ExceptionRecord is what a failed run leaves behind.
type ExceptionRecord struct {
	Function    string            `yaml:"function"`
	Signature   string            `yaml:"signature"`
	Error       string            `yaml:"error"`
	Stack       string            `yaml:"stack"`
	At          time.Time         `yaml:"at"`
	Environment map[string]string `yaml:"environment"`
}

// Request tracks an asynchronous call by signature.
type Request struct {
	Function  string    `yaml:"function"`
	Signature string    `yaml:"signature"`
	Status    string    `yaml:"status"`
	At        time.Time `yaml:"at"`
}

func init() {
	persidict.Register(Event{})
	persidict.Register(ExceptionRecord{})
	persidict.Register(Request{})
}

// logKey spreads log records by day. The uuid keeps concurrent writers apart.
func logKey(now time.Time) persidict.Key {
	return persidict.Key{clock.Date(now), uuid.NewString()}
}

func environment() map[string]string {
	host, _ := os.Hostname()
	return map[string]string{
		"go_version": runtime.Version(),
		"os":         runtime.GOOS,
		"arch":       runtime.GOARCH,
		"host":       host,
		"pid":        fmt.Sprint(os.Getpid()),
	}
}

func stack() string { return string(debug.Stack()) }

// event appends to the execution log. Logging never fails the call.
func (c *Cloud) event(ctx context.Context, kind EventKind, fn string, sig address.Address, mode Mode) {
	now := time.Now()
	host, _ := os.Hostname()
	ev := Event{
		Kind:      kind,
		Function:  fn,
		Signature: sig.String(),
		Mode:      mode,
		At:        now.UTC(),
		Host:      host,
		PID:       os.Getpid(),
	}
	if err := c.stores.Events.Set(ctx, logKey(now), ev); err != nil {
		log.LogEff(ctx, log.LogWarn, "can't record event", map[string]interface{}{
			"function": fn,
			"error":    err.Error(),
		})
	}
}

func (c *Cloud) recordException(ctx context.Context, fn string, sig address.Address, cause error, trace string) {
	now := time.Now()
	rec := ExceptionRecord{
		Function:    fn,
		Signature:   sig.String(),
		Error:       cause.Error(),
		Stack:       trace,
		At:          now.UTC(),
		Environment: environment(),
	}
	if err := c.stores.Exceptions.Set(ctx, logKey(now), rec); err != nil {
		log.LogEff(ctx, log.LogWarn, "can't record exception", map[string]interface{}{
			"function": fn,
			"error":    err.Error(),
		})
		return
	}
	log.LogEff(ctx, log.LogError, "function failed", map[string]interface{}{
		"function":  fn,
		"signature": sig.String(),
		"error":     cause.Error(),
	})
}

func (c *Cloud) request(ctx context.Context, f *Function, sig address.Address, status string) error {
	req := Request{Function: f.Name, Signature: sig.String(), Status: status, At: time.Now().UTC()}
	if err := c.stores.Requests.Set(ctx, sig.Key(), req); err != nil {
		return fmt.Errorf("record request %s: %w", sig, err)
	}
	return nil
}

type mtimestamper interface {
	Mtimestamp(ctx context.Context, key persidict.Key) (time.Time, error)
}

// Timeline returns the execution log, oldest first. Stores that track write
// times order by them; otherwise the recorded time is used.
func (c *Cloud) Timeline(ctx context.Context) ([]Event, error) {
	items, err := c.stores.Events.Items(ctx)
	if err != nil {
		return nil, err
	}
	ts, hasStamps := c.stores.Events.(mtimestamper)
	type stamped struct {
		at time.Time
		ev Event
	}
	all := make([]stamped, 0, len(items))
	for _, it := range items {
		ev, err := decodeEvent(it.Value)
		if err != nil {
			return nil, fmt.Errorf("event %s: %w", it.Key, err)
		}
		at := ev.At
		if hasStamps {
			if t, err := ts.Mtimestamp(ctx, it.Key); err == nil {
				at = t
			}
		}
		all = append(all, stamped{at: at, ev: ev})
	}
	slices.SortStableFunc(all, func(a, b stamped) int { return a.at.Compare(b.at) })
	out := make([]Event, len(all))
	for i, s := range all {
		out[i] = s.ev
	}
	return out, nil
}

// Exceptions returns the exception log ordered by time.
func (c *Cloud) Exceptions(ctx context.Context) ([]ExceptionRecord, error) {
	vals, err := c.stores.Exceptions.Values(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]ExceptionRecord, 0, len(vals))
	for _, v := range vals {
		rec, err := decodeException(v)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	slices.SortStableFunc(out, func(a, b ExceptionRecord) int {
		return cmp.Or(a.At.Compare(b.At), cmp.Compare(a.Signature, b.Signature))
	})
	return out, nil
}

var errBadRecord = errors.New("unexpected log record")

func decodeEvent(raw any) (Event, error) {
	switch v := raw.(type) {
	case Event:
		return v, nil
	case map[string]any:
		pid, _ := v["pid"].(int)
		return Event{
			Kind:      EventKind(str(v["kind"])),
			Function:  str(v["function"]),
			Signature: str(v["signature"]),
			Mode:      Mode(str(v["mode"])),
			At:        timeOf(v["at"]),
			Host:      str(v["host"]),
			PID:       pid,
		}, nil
	}
	return Event{}, fmt.Errorf("%w: %T", errBadRecord, raw)
}

func decodeException(raw any) (ExceptionRecord, error) {
	switch v := raw.(type) {
	case ExceptionRecord:
		return v, nil
	case map[string]any:
		env, err := stringMap(v["environment"])
		if err != nil {
			return ExceptionRecord{}, err
		}
		return ExceptionRecord{
			Function:    str(v["function"]),
			Signature:   str(v["signature"]),
			Error:       str(v["error"]),
			Stack:       str(v["stack"]),
			At:          timeOf(v["at"]),
			Environment: env,
		}, nil
	}
	return ExceptionRecord{}, fmt.Errorf("%w: %T", errBadRecord, raw)
}

func str(v any) string {
	s, _ := v.(string)
	return s
}

func timeOf(v any) time.Time {
	switch t := v.(type) {
	case time.Time:
		return t
	case string:
		parsed, _ := time.Parse(time.RFC3339Nano, t)
		return parsed
	}
	return time.Time{}
}
