package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

type BaseEnv struct {
	Env      string `envconfig:"ENV" default:"local"`
	HTTPHost string `envconfig:"HTTP_HOST" default:""`
	HTTPPort string `envconfig:"HTTP_PORT" default:"3100"`
	LogLevel string `envconfig:"LOG_LEVEL" default:"debug"`
	// APIKeys is a comma separated list of key:user pairs.
	APIKeys string `envconfig:"API_KEYS" required:"true"`
}

type DBEnv struct {
	Type string `envconfig:"DB_TYPE" default:"sqlite"`
	DSN  string `envconfig:"DB_DSN" default:".cardflow/cardflow.db"`
}

type StorageEnv struct {
	Type    string `envconfig:"STORAGE_TYPE" default:"local"`
	BaseDir string `envconfig:"STORAGE_BASE_DIR" default:".cardflow/data"`
	// S3 settings (used when Type == "s3")
	S3Bucket string `envconfig:"S3_BUCKET"`
	S3Prefix string `envconfig:"S3_PREFIX" default:"cardflow/"`
	S3Region string `envconfig:"S3_REGION" default:"ap-northeast-1"`
}

type SchedulerEnv struct {
	SweepInterval            time.Duration `envconfig:"SWEEP_INTERVAL" default:"60s"`
	StaleAfter               time.Duration `envconfig:"STALE_AFTER" default:"90s"`
	OfflineAfter             time.Duration `envconfig:"OFFLINE_AFTER" default:"300s"`
	MaxConcurrentTasks       int           `envconfig:"MAX_CONCURRENT_TASKS" default:"2"`
	PollIntervalSeconds      int           `envconfig:"POLL_INTERVAL_SECONDS" default:"5"`
	HeartbeatIntervalSeconds int           `envconfig:"HEARTBEAT_INTERVAL_SECONDS" default:"30"`
	EventBufferSize          int           `envconfig:"EVENT_BUFFER_SIZE" default:"100"`
	DefaultMaxLoopCount      int           `envconfig:"DEFAULT_MAX_LOOP_COUNT" default:"3"`
	// RearmOnFailure runs destination automation on failure/rejection moves too.
	RearmOnFailure bool `envconfig:"REARM_ON_FAILURE" default:"false"`
}

type VAPIDEnv struct {
	PublicKey  string `envconfig:"VAPID_PUBLIC_KEY"`
	PrivateKey string `envconfig:"VAPID_PRIVATE_KEY"`
	Subject    string `envconfig:"VAPID_SUBJECT" default:"admin@cardflow.local"`
}

type KafkaEnv struct {
	Brokers string `envconfig:"KAFKA_BROKERS"`
	Topic   string `envconfig:"KAFKA_TOPIC" default:"cardflow.events"`
}

type MetricsEnv struct {
	Enabled  bool          `envconfig:"METRICS_ENABLED" default:"false"`
	Interval time.Duration `envconfig:"METRICS_INTERVAL" default:"60s"`
}

type Env struct {
	BaseEnv
	DBEnv
	StorageEnv
	SchedulerEnv
	VAPIDEnv
	KafkaEnv
	MetricsEnv
}

const namespace = "CARDFLOW"

// LoadEnv reads an optional .env file then the CARDFLOW_* variables.
func LoadEnv(dotenvFiles ...string) (*Env, error) {
	if len(dotenvFiles) == 0 {
		dotenvFiles = []string{".env"}
	}
	for _, f := range dotenvFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to load %s: %w", f, err)
		}
	}
	var env Env
	if err := envconfig.Process(namespace, &env); err != nil {
		return nil, fmt.Errorf("failed to load env: %w", err)
	}
	return &env, nil
}

func (e *BaseEnv) SlogLevel() slog.Level {
	if e == nil {
		return slog.LevelDebug
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(e.LogLevel)); err != nil {
		return slog.LevelDebug
	}
	return level
}

// Principals parses APIKeys into a key → user id map.
func (e *BaseEnv) Principals() (map[string]string, error) {
	principals := make(map[string]string)
	for _, pair := range strings.Split(e.APIKeys, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		key, user, ok := strings.Cut(pair, ":")
		if !ok || key == "" || user == "" {
			return nil, fmt.Errorf("invalid api key entry %q: want key:user", pair)
		}
		principals[key] = user
	}
	if len(principals) == 0 {
		return nil, errors.New("no api keys configured")
	}
	return principals, nil
}

func (e *KafkaEnv) BrokerList() []string {
	var brokers []string
	for _, b := range strings.Split(e.Brokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	return brokers
}

func (e *VAPIDEnv) Configured() bool {
	return e.PublicKey != "" && e.PrivateKey != ""
}
