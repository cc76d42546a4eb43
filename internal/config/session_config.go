package config

import "time"

type SessionConfig interface {
	GetRequestTimeout() time.Duration
	GetRefreshSkew() time.Duration
	GetRefreshRate() float64
	GetRefreshBurst() int
}

type Session struct{}

var _ SessionConfig = Session{}

func (Session) GetRequestTimeout() time.Duration {
	return GetEnvDuration("REQUEST_TIMEOUT", 30*time.Second)
}

// GetRefreshSkew is how long before access token expiry a proactive refresh is made.
func (Session) GetRefreshSkew() time.Duration {
	return GetEnvDuration("REFRESH_SKEW", 30*time.Second)
}

// GetRefreshRate is the sustained number of refresh calls allowed per second.
func (Session) GetRefreshRate() float64 {
	return GetEnvFloat("REFRESH_RATE", 0.5)
}

func (Session) GetRefreshBurst() int {
	return GetEnvInt("REFRESH_BURST", 3)
}
