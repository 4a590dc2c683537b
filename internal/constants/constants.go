package constants

import "time"

const (
	HeartbeatInterval      = 15 * time.Second
	PresenceStaleThreshold = 45 * time.Second
)

const (
	// WaveSettleDelay lets clients finish rendering the previous wave's
	// resolution before the next roster appears. Pacing, not correctness.
	WaveSettleDelay = 3 * time.Second
)

const (
	TxMaxAttempts = 5
	TxRetryBase   = 25 * time.Millisecond
)

const (
	ArtworkAPITimeout = 10 * time.Second
	DatabaseTimeout   = 5 * time.Second
	RequestTimeout    = 30 * time.Second
)

const (
	DBMaxOpenConns    = 25
	DBMaxIdleConns    = 5
	DBConnMaxLifetime = 1 * time.Hour
	DBMaxIdleTime     = 10 * time.Minute
)

const (
	ShutdownTimeout = 5 * time.Second
)

const (
	DefaultMaxWaves = 5
	BattleLogLimit  = 200
	ActionListLimit = 100
)
