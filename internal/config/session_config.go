package config

import (
	"time"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"
)

type IdleConfig interface {
	GetIdleWarningAfter() time.Duration
	GetIdleLogoutAfter() time.Duration
	GetIdleCountdown() time.Duration
}

type ExpiryConfig interface {
	GetExpirySafetyMargin() time.Duration
	GetExpiryWarningLead() time.Duration
	GetExpiryRefreshLead() time.Duration
	GetRefreshActivityWindow() time.Duration
	GetNearExpiryRefreshThreshold() time.Duration
	GetFallbackTokenLifetime() time.Duration
}

// Timings holds every session lifecycle duration. Zero values mean "not set" so
// partial overrides can be merged over the defaults.
type Timings struct {
	IdleWarningAfter           time.Duration
	IdleLogoutAfter            time.Duration
	IdleCountdown              time.Duration
	ExpirySafetyMargin         time.Duration
	ExpiryWarningLead          time.Duration
	ExpiryRefreshLead          time.Duration
	RefreshActivityWindow      time.Duration
	NearExpiryRefreshThreshold time.Duration
	FallbackTokenLifetime      time.Duration
}

func DefaultTimings() Timings {
	return Timings{
		IdleWarningAfter:           14 * time.Minute,
		IdleLogoutAfter:            15 * time.Minute,
		IdleCountdown:              60 * time.Second,
		ExpirySafetyMargin:         5 * time.Second,
		ExpiryWarningLead:          60 * time.Second,
		ExpiryRefreshLead:          120 * time.Second,
		RefreshActivityWindow:      15 * time.Minute,
		NearExpiryRefreshThreshold: 2 * time.Minute,
		FallbackTokenLifetime:      15 * time.Minute,
	}
}

// Merge returns t with every non-zero field of o applied on top.
func (t Timings) Merge(o Timings) Timings {
	pick := func(base, override time.Duration) time.Duration {
		if override > 0 {
			return override
		}
		return base
	}
	return Timings{
		IdleWarningAfter:           pick(t.IdleWarningAfter, o.IdleWarningAfter),
		IdleLogoutAfter:            pick(t.IdleLogoutAfter, o.IdleLogoutAfter),
		IdleCountdown:              pick(t.IdleCountdown, o.IdleCountdown),
		ExpirySafetyMargin:         pick(t.ExpirySafetyMargin, o.ExpirySafetyMargin),
		ExpiryWarningLead:          pick(t.ExpiryWarningLead, o.ExpiryWarningLead),
		ExpiryRefreshLead:          pick(t.ExpiryRefreshLead, o.ExpiryRefreshLead),
		RefreshActivityWindow:      pick(t.RefreshActivityWindow, o.RefreshActivityWindow),
		NearExpiryRefreshThreshold: pick(t.NearExpiryRefreshThreshold, o.NearExpiryRefreshThreshold),
		FallbackTokenLifetime:      pick(t.FallbackTokenLifetime, o.FallbackTokenLifetime),
	}
}

// Validate checks the ordering constraints between the idle thresholds.
func (t Timings) Validate() error {
	if t.IdleWarningAfter >= t.IdleLogoutAfter {
		return errors.Errorf("idle warning (%v) must come before idle logout (%v)", t.IdleWarningAfter, t.IdleLogoutAfter)
	}
	if t.IdleCountdown <= 0 {
		return errors.New("idle countdown must be positive")
	}
	if t.FallbackTokenLifetime <= t.ExpirySafetyMargin {
		return errors.Errorf("fallback token lifetime (%v) must exceed the safety margin (%v)", t.FallbackTokenLifetime, t.ExpirySafetyMargin)
	}
	return nil
}

// timingsFile is the TOML layout, durations written as Go duration strings:
//
//	[idle]
//	warning_after = "14m"
//	logout_after = "15m"
type timingsFile struct {
	Idle struct {
		WarningAfter string `toml:"warning_after"`
		LogoutAfter  string `toml:"logout_after"`
		Countdown    string `toml:"countdown"`
	} `toml:"idle"`
	Expiry struct {
		SafetyMargin               string `toml:"safety_margin"`
		WarningLead                string `toml:"warning_lead"`
		RefreshLead                string `toml:"refresh_lead"`
		RefreshActivityWindow      string `toml:"refresh_activity_window"`
		NearExpiryRefreshThreshold string `toml:"near_expiry_refresh_threshold"`
		FallbackTokenLifetime      string `toml:"fallback_token_lifetime"`
	} `toml:"expiry"`
}

// LoadTimingsFile reads timing overrides from a TOML file.
func LoadTimingsFile(path string) (Timings, error) {
	var f timingsFile
	if _, err := toml.DecodeFile(path, &f); err != nil {
		return Timings{}, errors.Wrapf(err, "decode %s", path)
	}
	return f.timings()
}

// ParseTimings reads timing overrides from TOML text.
func ParseTimings(data string) (Timings, error) {
	var f timingsFile
	if _, err := toml.Decode(data, &f); err != nil {
		return Timings{}, errors.Wrap(err, "decode timings")
	}
	return f.timings()
}

func (f timingsFile) timings() (Timings, error) {
	var t Timings
	fields := []struct {
		name  string
		value string
		dest  *time.Duration
	}{
		{"idle.warning_after", f.Idle.WarningAfter, &t.IdleWarningAfter},
		{"idle.logout_after", f.Idle.LogoutAfter, &t.IdleLogoutAfter},
		{"idle.countdown", f.Idle.Countdown, &t.IdleCountdown},
		{"expiry.safety_margin", f.Expiry.SafetyMargin, &t.ExpirySafetyMargin},
		{"expiry.warning_lead", f.Expiry.WarningLead, &t.ExpiryWarningLead},
		{"expiry.refresh_lead", f.Expiry.RefreshLead, &t.ExpiryRefreshLead},
		{"expiry.refresh_activity_window", f.Expiry.RefreshActivityWindow, &t.RefreshActivityWindow},
		{"expiry.near_expiry_refresh_threshold", f.Expiry.NearExpiryRefreshThreshold, &t.NearExpiryRefreshThreshold},
		{"expiry.fallback_token_lifetime", f.Expiry.FallbackTokenLifetime, &t.FallbackTokenLifetime},
	}
	for _, field := range fields {
		if field.value == "" {
			continue
		}
		d, err := time.ParseDuration(field.value)
		if err != nil {
			return Timings{}, errors.Wrapf(err, "field %s", field.name)
		}
		*field.dest = d
	}
	return t, nil
}

func timingsFromEnv() Timings {
	return Timings{
		IdleWarningAfter:           GetEnvDuration("IDLE_WARNING_AFTER", 0),
		IdleLogoutAfter:            GetEnvDuration("IDLE_LOGOUT_AFTER", 0),
		IdleCountdown:              GetEnvDuration("IDLE_COUNTDOWN", 0),
		ExpirySafetyMargin:         GetEnvDuration("EXPIRY_SAFETY_MARGIN", 0),
		ExpiryWarningLead:          GetEnvDuration("EXPIRY_WARNING_LEAD", 0),
		ExpiryRefreshLead:          GetEnvDuration("EXPIRY_REFRESH_LEAD", 0),
		RefreshActivityWindow:      GetEnvDuration("REFRESH_ACTIVITY_WINDOW", 0),
		NearExpiryRefreshThreshold: GetEnvDuration("NEAR_EXPIRY_REFRESH_THRESHOLD", 0),
		FallbackTokenLifetime:      GetEnvDuration("FALLBACK_TOKEN_LIFETIME", 0),
	}
}

// Session exposes the merged timings through the config getter interfaces.
type Session struct {
	timings Timings
}

var (
	_ IdleConfig   = Session{}
	_ ExpiryConfig = Session{}
)

// NewSession wraps explicit timings, mainly for tests and embedding callers.
func NewSession(t Timings) Session {
	return Session{timings: DefaultTimings().Merge(t)}
}

func (s Session) resolved() Timings {
	return DefaultTimings().Merge(s.timings)
}

func (s Session) GetIdleWarningAfter() time.Duration { return s.resolved().IdleWarningAfter }
func (s Session) GetIdleLogoutAfter() time.Duration  { return s.resolved().IdleLogoutAfter }
func (s Session) GetIdleCountdown() time.Duration    { return s.resolved().IdleCountdown }

func (s Session) GetExpirySafetyMargin() time.Duration { return s.resolved().ExpirySafetyMargin }
func (s Session) GetExpiryWarningLead() time.Duration  { return s.resolved().ExpiryWarningLead }
func (s Session) GetExpiryRefreshLead() time.Duration  { return s.resolved().ExpiryRefreshLead }

func (s Session) GetRefreshActivityWindow() time.Duration {
	return s.resolved().RefreshActivityWindow
}

// GetNearExpiryRefreshThreshold is how close to expiry a token must be for "stay signed in" to refresh it
func (s Session) GetNearExpiryRefreshThreshold() time.Duration {
	return s.resolved().NearExpiryRefreshThreshold
}

// GetFallbackTokenLifetime is used when a token carries no readable exp claim and no expires_in was given
func (s Session) GetFallbackTokenLifetime() time.Duration {
	return s.resolved().FallbackTokenLifetime
}
