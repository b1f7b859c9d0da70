package anacrolix

import (
	"fmt"

	"golang.org/x/time/rate"

	"torrentd/internal/domain"
)

// rateBurst caps the limiter burst so a long idle period cannot be followed
// by an unbounded spike.
const rateBurst = 1 << 20

func newRateLimiter(bytesPerSec int64) *rate.Limiter {
	if bytesPerSec <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	burst := int(bytesPerSec)
	if burst > rateBurst {
		burst = rateBurst
	}
	return rate.NewLimiter(rate.Limit(bytesPerSec), burst)
}

func setLimiterRate(l *rate.Limiter, bytesPerSec int64) {
	if bytesPerSec <= 0 {
		l.SetLimit(rate.Inf)
		l.SetBurst(0)
		return
	}
	burst := int(bytesPerSec)
	if burst > rateBurst {
		burst = rateBurst
	}
	l.SetLimit(rate.Limit(bytesPerSec))
	l.SetBurst(burst)
}

func limiterBytesPerSec(l *rate.Limiter) int64 {
	limit := l.Limit()
	if limit == rate.Inf {
		return 0
	}
	return int64(limit)
}

// ApplySetting applies one session setting. Listen port and the transport
// toggles are fixed at client construction; changing them requires a
// restart, so those keys are rejected and the caller moves on.
func (e *Engine) ApplySetting(key string, value any) error {
	switch key {
	case domain.SettingDownloadRateLimit:
		bps, err := asInt64(value)
		if err != nil {
			return fmt.Errorf("setting %s: %w", key, err)
		}
		setLimiterRate(e.downloadLimiter, bps)
		return nil

	case domain.SettingUploadRateLimit:
		bps, err := asInt64(value)
		if err != nil {
			return fmt.Errorf("setting %s: %w", key, err)
		}
		setLimiterRate(e.uploadLimiter, bps)
		return nil

	case domain.SettingMaxConnsPerTorrent:
		n, err := asInt64(value)
		if err != nil {
			return fmt.Errorf("setting %s: %w", key, err)
		}
		if n <= 0 {
			n = defaultMaxConns
		}
		e.mu.Lock()
		e.maxConns = int(n)
		for _, st := range e.torrents {
			if !st.paused {
				st.t.SetMaxEstablishedConns(int(n))
			}
		}
		e.mu.Unlock()
		return nil

	case domain.SettingSeedingEnabled:
		enabled, err := asBool(value)
		if err != nil {
			return fmt.Errorf("setting %s: %w", key, err)
		}
		e.mu.Lock()
		e.seeding = enabled
		for _, st := range e.torrents {
			if st.paused {
				continue
			}
			if enabled {
				st.t.AllowDataUpload()
			} else {
				st.t.DisallowDataUpload()
			}
		}
		e.mu.Unlock()
		return nil

	case domain.SettingListenPort, domain.SettingDHTEnabled,
		domain.SettingPEXEnabled, domain.SettingUTPEnabled:
		return fmt.Errorf("setting %s cannot be changed while the client is running", key)

	default:
		return fmt.Errorf("unknown setting %q", key)
	}
}

// Settings reports the effective session settings.
func (e *Engine) Settings() domain.SettingsMap {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return domain.SettingsMap{
		domain.SettingDownloadRateLimit:  limiterBytesPerSec(e.downloadLimiter),
		domain.SettingUploadRateLimit:    limiterBytesPerSec(e.uploadLimiter),
		domain.SettingMaxConnsPerTorrent: int64(e.maxConns),
		domain.SettingListenPort:         int64(e.listenPort),
		domain.SettingDHTEnabled:         e.dhtEnabled,
		domain.SettingPEXEnabled:         e.pexEnabled,
		domain.SettingUTPEnabled:         e.utpEnabled,
		domain.SettingSeedingEnabled:     e.seeding,
	}
}

// asInt64 accepts the numeric shapes a settings value can arrive in. JSON
// decoding hands us float64, the config layer int64.
func asInt64(value any) (int64, error) {
	switch v := value.(type) {
	case int64:
		return v, nil
	case int:
		return int64(v), nil
	case int32:
		return int64(v), nil
	case float64:
		return int64(v), nil
	case float32:
		return int64(v), nil
	default:
		return 0, fmt.Errorf("expected number, got %T", value)
	}
}

func asBool(value any) (bool, error) {
	v, ok := value.(bool)
	if !ok {
		return false, fmt.Errorf("expected bool, got %T", value)
	}
	return v, nil
}
