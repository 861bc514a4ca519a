package internal

import (
	"chat-hub/runtime"
	"chat-hub/runtime/workers"
	"fmt"
	"time"
)

type Config struct {
	LogLevel       string `env:"LOG_LEVEL,default=INFO"`
	Host           string `env:"HOST,default=0.0.0.0"`
	Port           int    `env:"PORT,required=true"`
	AdminPort      int    `env:"ADMIN_PORT,required=true"`
	GrpcHealthPort int    `env:"GRPC_HEALTH_PORT,default=0"`
	BadgerFilepath string `env:"BADGER_FILEPATH,required=true"`
	JwtSecret      string `env:"JWT_SECRET,required=true"`

	FanoutShards         int `env:"FANOUT_SHARDS,default=4"`
	FanoutBufferSize     int `env:"FANOUT_BUFFER_SIZE,default=1024"`
	ConnectionBufferSize int `env:"CONNECTION_BUFFER_SIZE,default=256"`

	PresenceLivenessWindow time.Duration `env:"PRESENCE_LIVENESS_WINDOW,default=30s"`
	PresenceSweepInterval  time.Duration `env:"PRESENCE_SWEEP_INTERVAL,default=5s"`
	IdleTimeout            time.Duration `env:"IDLE_TIMEOUT,default=5m"`
	IdleSweepInterval      time.Duration `env:"IDLE_SWEEP_INTERVAL,default=30s"`

	PersistenceQueueSize      int           `env:"PERSISTENCE_QUEUE_SIZE,default=4096"`
	PersistenceWorkers        int           `env:"PERSISTENCE_WORKERS,default=4"`
	PersistenceEnqueueTimeout time.Duration `env:"PERSISTENCE_ENQUEUE_TIMEOUT,default=50ms"`
	PersistenceMaxAttempts    int           `env:"PERSISTENCE_MAX_ATTEMPTS,default=5"`
	PersistenceInitialBackoff time.Duration `env:"PERSISTENCE_INITIAL_BACKOFF,default=50ms"`
	PersistenceMaxBackoff     time.Duration `env:"PERSISTENCE_MAX_BACKOFF,default=2s"`
	PersistenceDropOldest     bool          `env:"PERSISTENCE_DROP_OLDEST,default=false"`
	PersistenceDrainTimeout   time.Duration `env:"PERSISTENCE_DRAIN_TIMEOUT,default=10s"`

	SinkBufferSize    int           `env:"SINK_BUFFER_SIZE,default=1024"`
	SinkTimeout       time.Duration `env:"SINK_TIMEOUT,default=500ms"`
	NatsURL           string        `env:"NATS_URL"`
	NatsSubjectPrefix string        `env:"NATS_SUBJECT_PREFIX,default=chat"`
	RedisAddr         string        `env:"REDIS_ADDR"`
	RecentCacheSize   int           `env:"RECENT_CACHE_SIZE,default=100"`
	RecentCacheTTL    time.Duration `env:"RECENT_CACHE_TTL,default=1h"`

	MaxContentLength     int           `env:"MAX_CONTENT_LENGTH,default=2000"`
	CharReplacement      string        `env:"CHARACTER_REPLACEMENT,default=*"`
	MetricInterval       time.Duration `env:"METRIC_INTERVAL,default=10s"`
	LowCapacityThreshold int           `env:"LOW_CAPACITY_THRESHOLD,default=10"`
	RestartInterval      time.Duration `env:"RESTART_INTERVAL,default=1s"`
	HistoryLimit         int           `env:"HISTORY_LIMIT,default=100"`
}

func CharacterRune(str string) (rune, error) {
	r := []rune(str)
	if len(r) != 1 {
		return 0, fmt.Errorf(
			"CHARACTER_REPLACEMENT must be a single character, got %q",
			str,
		)
	}
	return r[0], nil
}

// OrchestratorOptions maps the configuration onto the runtime options.
func (c Config) OrchestratorOptions() (runtime.Options, error) {
	charReplacement, err := CharacterRune(c.CharReplacement)
	if err != nil {
		return runtime.Options{}, err
	}
	if c.PresenceSweepInterval <= 0 || c.PresenceLivenessWindow <= 0 {
		return runtime.Options{}, fmt.Errorf("presence timings must be positive")
	}
	return runtime.Options{
		FanoutShards:      c.FanoutShards,
		FanoutBufferSize:  c.FanoutBufferSize,
		LivenessWindow:    c.PresenceLivenessWindow,
		SweepInterval:     c.PresenceSweepInterval,
		IdleTimeout:       c.IdleTimeout,
		IdleSweepInterval: c.IdleSweepInterval,
		Persistence: workers.PersistenceConfig{
			QueueSize:             c.PersistenceQueueSize,
			Workers:               c.PersistenceWorkers,
			EnqueueTimeout:        c.PersistenceEnqueueTimeout,
			MaxAttempts:           c.PersistenceMaxAttempts,
			InitialBackoff:        c.PersistenceInitialBackoff,
			MaxBackoff:            c.PersistenceMaxBackoff,
			DropOldestNonCritical: c.PersistenceDropOldest,
		},
		DrainTimeout:         c.PersistenceDrainTimeout,
		SinkBufferSize:       c.SinkBufferSize,
		SinkTimeout:          c.SinkTimeout,
		MetricInterval:       c.MetricInterval,
		LowCapacityThreshold: c.LowCapacityThreshold,
		RestartInterval:      c.RestartInterval,
		HistoryLimit:         c.HistoryLimit,
		CharReplacement:      charReplacement,
	}, nil
}
