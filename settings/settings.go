// Package settings persists user preferences and usage counters across two
// storage areas: sync (preferences that follow the user) and local (counters
// and license state that stay on this machine).
//
// Reads never fail from the caller's point of view: a broken store yields
// the defaults. Writes report their errors.
package settings

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Keys as stored in the areas.
const (
	KeyAutoExpand       = "autoExpandEnabled"
	KeyDebugMode        = "debugMode"
	KeyErrorReporting   = "errorReportingEnabled"
	KeyExpandCount      = "expandCount"
	KeyLastExpanded     = "lastExpanded"
	KeyDailyExpandCount = "dailyExpandCount"
	KeyLastResetDate    = "lastResetDate"
	KeyIsPremium        = "isPremium"
	KeyLicenseKey       = "licenseKey"
)

var (
	syncKeys  = []string{KeyAutoExpand, KeyDebugMode, KeyErrorReporting}
	localKeys = []string{KeyExpandCount, KeyLastExpanded, KeyDailyExpandCount, KeyLastResetDate, KeyIsPremium, KeyLicenseKey}
)

// ErrQuota is returned by callers that refuse work because the free daily
// allowance is used up.
var ErrQuota = errors.New("settings: daily limit reached")

// Settings is the merged view of both areas.
type Settings struct {
	AutoExpandEnabled     bool       `json:"autoExpandEnabled"`
	DebugMode             bool       `json:"debugMode"`
	ErrorReportingEnabled bool       `json:"errorReportingEnabled"`
	ExpandCount           int        `json:"expandCount"`
	LastExpanded          *time.Time `json:"lastExpanded"`
	DailyExpandCount      int        `json:"dailyExpandCount"`
	LastResetDate         string     `json:"lastResetDate"`
	IsPremium             bool       `json:"isPremium"`
	LicenseKey            *string    `json:"licenseKey"`
}

// Defaults returns the settings of a fresh install. The empty
// LastResetDate forces a rollover on the first read.
func Defaults() Settings {
	return Settings{AutoExpandEnabled: true}
}

// Patch is a partial update. Nil fields are left untouched.
type Patch struct {
	AutoExpandEnabled     *bool
	DebugMode             *bool
	ErrorReportingEnabled *bool
	ExpandCount           *int
	LastExpanded          *time.Time
	DailyExpandCount      *int
	LastResetDate         *string
	IsPremium             *bool
	LicenseKey            *string
}

// Ptr returns a pointer to v, for building patches.
func Ptr[T any](v T) *T { return &v }

func (p Patch) split() (syncVals, localVals map[string]json.RawMessage) {
	syncVals = make(map[string]json.RawMessage)
	localVals = make(map[string]json.RawMessage)
	put := func(m map[string]json.RawMessage, k string, ok bool, v any) {
		if ok {
			m[k] = encode(v)
		}
	}
	put(syncVals, KeyAutoExpand, p.AutoExpandEnabled != nil, p.AutoExpandEnabled)
	put(syncVals, KeyDebugMode, p.DebugMode != nil, p.DebugMode)
	put(syncVals, KeyErrorReporting, p.ErrorReportingEnabled != nil, p.ErrorReportingEnabled)
	put(localVals, KeyExpandCount, p.ExpandCount != nil, p.ExpandCount)
	put(localVals, KeyLastExpanded, p.LastExpanded != nil, p.LastExpanded)
	put(localVals, KeyDailyExpandCount, p.DailyExpandCount != nil, p.DailyExpandCount)
	put(localVals, KeyLastResetDate, p.LastResetDate != nil, p.LastResetDate)
	put(localVals, KeyIsPremium, p.IsPremium != nil, p.IsPremium)
	put(localVals, KeyLicenseKey, p.LicenseKey != nil, p.LicenseKey)
	return syncVals, localVals
}

// Store reads and writes Settings over a sync and a local Area.
type Store struct {
	sync   Area
	local  Area
	now    func() time.Time
	logger *slog.Logger

	mu        sync.Mutex
	nextID    int
	listeners map[int]func(Changes)
	snapshot  map[string]json.RawMessage
}

// Option configures a Store.
type Option func(*Store)

// WithClock injects the time source used for daily rollover and
// lastExpanded. Default: time.Now.
func WithClock(now func() time.Time) Option { return func(s *Store) { s.now = now } }

// WithLogger sets the logger for swallowed read and rollover failures.
func WithLogger(l *slog.Logger) Option { return func(s *Store) { s.logger = l } }

// New creates a Store.
func New(syncArea, localArea Area, opts ...Option) *Store {
	s := &Store{
		sync:      syncArea,
		local:     localArea,
		now:       time.Now,
		logger:    slog.Default(),
		listeners: make(map[int]func(Changes)),
		snapshot:  make(map[string]json.RawMessage),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Get returns the merged settings, applying the daily rollover. Any read
// failure yields Defaults().
func (s *Store) Get(ctx context.Context) Settings {
	syncVals, err := s.sync.Get(ctx, syncKeys...)
	if err != nil {
		s.logger.Warn("settings: read sync area", "error", err)
		return Defaults()
	}
	localVals, err := s.local.Get(ctx, localKeys...)
	if err != nil {
		s.logger.Warn("settings: read local area", "error", err)
		return Defaults()
	}

	st := Defaults()
	s.decode(syncVals, &st)
	s.decode(localVals, &st)

	today := s.now().UTC().Format(time.DateOnly)
	if st.LastResetDate != today {
		st.DailyExpandCount = 0
		st.LastResetDate = today
		_, reset := Patch{DailyExpandCount: Ptr(0), LastResetDate: Ptr(today)}.split()
		if err := s.local.Set(ctx, reset); err != nil {
			s.logger.Warn("settings: daily rollover", "error", err)
		}
	}
	return st
}

func (s *Store) decode(vals map[string]json.RawMessage, st *Settings) {
	fields := map[string]any{
		KeyAutoExpand:       &st.AutoExpandEnabled,
		KeyDebugMode:        &st.DebugMode,
		KeyErrorReporting:   &st.ErrorReportingEnabled,
		KeyExpandCount:      &st.ExpandCount,
		KeyLastExpanded:     &st.LastExpanded,
		KeyDailyExpandCount: &st.DailyExpandCount,
		KeyLastResetDate:    &st.LastResetDate,
		KeyIsPremium:        &st.IsPremium,
		KeyLicenseKey:       &st.LicenseKey,
	}
	for k, raw := range vals {
		dst, ok := fields[k]
		if !ok {
			continue
		}
		if err := json.Unmarshal(raw, dst); err != nil {
			s.logger.Warn("settings: bad stored value", "key", k, "error", err)
		}
	}
}

// Save writes the fields set in p, each to its own area.
func (s *Store) Save(ctx context.Context, p Patch) error {
	syncVals, localVals := p.split()
	if len(syncVals) > 0 {
		if err := s.sync.Set(ctx, syncVals); err != nil {
			return fmt.Errorf("settings: save: %w", err)
		}
		s.publish(syncVals)
	}
	if len(localVals) > 0 {
		if err := s.local.Set(ctx, localVals); err != nil {
			return fmt.Errorf("settings: save: %w", err)
		}
	}
	return nil
}

// IncrementExpansionCount bumps both counters and stamps lastExpanded. The
// read-then-write is not atomic; counts are advisory.
func (s *Store) IncrementExpansionCount(ctx context.Context) error {
	st := s.Get(ctx)
	return s.Save(ctx, Patch{
		ExpandCount:      Ptr(st.ExpandCount + 1),
		DailyExpandCount: Ptr(st.DailyExpandCount + 1),
		LastExpanded:     Ptr(s.now().UTC()),
	})
}

// CanExpand reports whether another expansion fits the free daily
// allowance. Premium users and a limit of 0 are never capped.
func (s *Store) CanExpand(ctx context.Context, freeDailyLimit int) bool {
	if freeDailyLimit <= 0 {
		return true
	}
	st := s.Get(ctx)
	return st.IsPremium || st.DailyExpandCount < freeDailyLimit
}

// Reset clears the sync area and writes the default preferences back.
// Counters and license state in the local area are kept.
func (s *Store) Reset(ctx context.Context) error {
	if err := s.sync.Clear(ctx); err != nil {
		return fmt.Errorf("settings: reset: %w", err)
	}
	d := Defaults()
	return s.Save(ctx, Patch{
		AutoExpandEnabled:     Ptr(d.AutoExpandEnabled),
		DebugMode:             Ptr(d.DebugMode),
		ErrorReportingEnabled: Ptr(d.ErrorReportingEnabled),
	})
}
