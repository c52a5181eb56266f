package reconcile

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/yndnr/warmstart/internal/core/domain"
	"github.com/yndnr/warmstart/internal/infra/confloader"
	"github.com/yndnr/warmstart/internal/telemetry/logger"
)

// hiddenMarker replaces a value that has no fingerprint.
var hiddenMarker = logger.MarkerPrefix + strings.Repeat("-", markerHexLen) + "]"

// SecretsKey lists additional secret keys, comma separated or as a YAML list.
const SecretsKey = "secrets"

// Resolver reads every configuration source from scratch.
type Resolver interface {
	Resolve() (*confloader.Resolution, error)
}

// Value is one captured configuration value. For secrets Display is the
// marker and the plaintext is not retained.
type Value struct {
	Key         string
	Display     string
	Source      confloader.Source
	Secret      bool
	fingerprint string
}

// Snapshot is the configuration captured at one point in time.
type Snapshot struct {
	TakenAt     time.Time
	FeatureHash string
	values      map[string]Value
}

// Get returns the captured value for key.
func (s Snapshot) Get(key string) (Value, bool) {
	v, ok := s.values[key]
	return v, ok
}

// Values returns the captured values sorted by key.
func (s Snapshot) Values() []Value {
	out := make([]Value, 0, len(s.values))
	for _, v := range s.values {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// Len returns the number of captured keys.
func (s Snapshot) Len() int { return len(s.values) }

// ChangeKind classifies a Change.
type ChangeKind int

const (
	Modified ChangeKind = iota
	Added
	Removed
)

func (k ChangeKind) String() string {
	switch k {
	case Added:
		return "added"
	case Removed:
		return "removed"
	default:
		return "modified"
	}
}

// Change is a key whose resolved value differs between two snapshots.
// Old and New are display forms: markers for secrets.
type Change struct {
	Key       string
	Kind      ChangeKind
	Old       string
	New       string
	OldSource confloader.Source
	NewSource confloader.Source
	Secret    bool
}

// View is the result of a reconciliation pass.
type View struct {
	// Config is the immutable view handed to hooks. It holds plaintext.
	Config domain.ConfigView
	// Snapshot is the new baseline for the next pass.
	Snapshot Snapshot
	// Resolution gives typed access to the merged configuration.
	Resolution *confloader.Resolution
}

// Reconciler captures and reconciles configuration across a restore.
type Reconciler struct {
	resolver Resolver
	fp       *Fingerprinter
	logger   logger.Logger
	now      func() time.Time
}

// Option configures a Reconciler.
type Option func(*Reconciler)

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(r *Reconciler) { r.logger = l }
}

// WithFingerprinter sets the secret fingerprinter.
func WithFingerprinter(fp *Fingerprinter) Option {
	return func(r *Reconciler) { r.fp = fp }
}

// WithClock sets the time source.
func WithClock(now func() time.Time) Option {
	return func(r *Reconciler) { r.now = now }
}

// New creates a Reconciler over resolver. Without WithFingerprinter a
// randomly seeded fingerprinter is used.
func New(resolver Resolver, opts ...Option) (*Reconciler, error) {
	r := &Reconciler{
		resolver: resolver,
		logger:   logger.Discard(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.fp == nil {
		fp, err := NewRandomFingerprinter()
		if err != nil {
			return nil, err
		}
		r.fp = fp
	}
	return r, nil
}

// Capture resolves every source once and records the values.
func (r *Reconciler) Capture(ctx context.Context) (Snapshot, error) {
	view, err := r.resolve(ctx)
	if err != nil {
		return Snapshot{}, err
	}
	return view.Snapshot, nil
}

// Current resolves every source once and returns the view without
// comparing it to anything.
func (r *Reconciler) Current(ctx context.Context) (View, error) {
	return r.resolve(ctx)
}

// Reconcile re-reads every source, returns the new view and the keys whose
// resolved value differs from snap. Each change is logged once.
func (r *Reconciler) Reconcile(ctx context.Context, snap Snapshot) (View, []Change, error) {
	view, err := r.resolve(ctx)
	if err != nil {
		return View{}, nil, err
	}

	changes := Diff(snap, view.Snapshot)
	for _, c := range changes {
		logger.Lifecycle(r.logger, domain.MsgConfigChanged,
			"key", c.Key,
			"change", c.Kind.String(),
			"source", c.NewSource.String(),
			"old", c.Old,
			"new", c.New,
		)
	}
	return view, changes, nil
}

func (r *Reconciler) resolve(ctx context.Context) (View, error) {
	if err := ctx.Err(); err != nil {
		return View{}, err
	}

	res, err := r.resolver.Resolve()
	if err != nil {
		return View{}, fmt.Errorf("resolve configuration: %w", err)
	}

	entries := res.Entries()
	listed := secretKeys(entries)

	plain := make(map[string]string, len(entries))
	snap := Snapshot{
		TakenAt: r.now(),
		values:  make(map[string]Value, len(entries)),
	}
	for key, e := range entries {
		plain[key] = e.Value
		v := Value{Key: key, Source: e.Source, Secret: IsSecret(key, listed)}
		if v.Secret {
			v.fingerprint = r.fp.Fingerprint(key, e.Value)
			v.Display = Marker(v.fingerprint)
		} else {
			v.Display = e.Value
		}
		snap.values[key] = v
	}
	snap.FeatureHash = FeatureHash(plain)

	return View{
		Config:     domain.NewConfigView(plain),
		Snapshot:   snap,
		Resolution: res,
	}, nil
}

func secretKeys(entries map[string]confloader.Entry) map[string]bool {
	listed := make(map[string]bool)
	e, ok := entries[SecretsKey]
	if !ok {
		return listed
	}
	for _, k := range strings.Split(e.Value, ",") {
		if k = strings.TrimSpace(k); k != "" {
			listed[k] = true
		}
	}
	return listed
}

// Diff returns the changes from old to cur, sorted by key. A value whose
// source changed but whose content did not is not a change.
func Diff(old, cur Snapshot) []Change {
	var changes []Change
	for key, nv := range cur.values {
		ov, ok := old.values[key]
		switch {
		case !ok:
			changes = append(changes, Change{
				Key: key, Kind: Added, New: nv.Display,
				NewSource: nv.Source, Secret: nv.Secret,
			})
		case !same(ov, nv):
			c := Change{
				Key: key, Kind: Modified, Old: ov.Display, New: nv.Display,
				OldSource: ov.Source, NewSource: nv.Source, Secret: ov.Secret || nv.Secret,
			}
			// A key that became (or stopped being) secret never shows its
			// plaintext side.
			if c.Secret && !ov.Secret {
				c.Old = hiddenMarker
			}
			if c.Secret && !nv.Secret {
				c.New = hiddenMarker
			}
			changes = append(changes, c)
		}
	}
	for key, ov := range old.values {
		if _, ok := cur.values[key]; !ok {
			changes = append(changes, Change{
				Key: key, Kind: Removed, Old: ov.Display,
				OldSource: ov.Source, NewSource: confloader.SourceNone, Secret: ov.Secret,
			})
		}
	}
	sort.Slice(changes, func(i, j int) bool { return changes[i].Key < changes[j].Key })
	return changes
}

func same(a, b Value) bool {
	if a.Secret != b.Secret {
		return false
	}
	if a.Secret {
		return a.fingerprint == b.fingerprint
	}
	return a.Display == b.Display
}
