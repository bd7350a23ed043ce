// Package config loads the immutable process configuration.
//
// Precedence, lowest to highest: built-in defaults, optional YAML config
// file, ANNEX_* environment variables, runtime overrides passed to Load.
// The resulting Config is constructed once at startup and passed into each
// component; nothing reads configuration ambiently after that.
package config

import "time"

// Config is the full process configuration.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Logging LoggingConfig `mapstructure:"logging"`
	AWS     AWSConfig     `mapstructure:"aws"`
	Buckets BucketsConfig `mapstructure:"buckets"`
	Queues  QueuesConfig  `mapstructure:"queues"`
	Topics  TopicsConfig  `mapstructure:"topics"`
	Tables  TablesConfig  `mapstructure:"tables"`
	Vault   VaultConfig   `mapstructure:"vault"`
	Worker  WorkerConfig  `mapstructure:"worker"`
	Email   EmailConfig   `mapstructure:"email"`
}

// ServerConfig configures the HTTP ingest apps (archiver, thawd).
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// LoggingConfig configures the process logger.
type LoggingConfig struct {
	Level   string `mapstructure:"level"`
	Profile string `mapstructure:"profile"`
}

// AWSConfig selects region/profile/endpoint for every service client.
type AWSConfig struct {
	Region string `mapstructure:"region"`
	// Profile is the shared-config profile; empty uses the default chain.
	Profile string `mapstructure:"profile"`
	// Endpoint overrides the service endpoint, for localstack-style stacks.
	Endpoint string `mapstructure:"endpoint"`
	// AccessKeyID/SecretAccessKey are explicit credentials; both or
	// neither. They take precedence over the default chain.
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
}

// BucketsConfig names the warm storage buckets.
type BucketsConfig struct {
	Inputs  string `mapstructure:"inputs"`
	Results string `mapstructure:"results"`
}

// QueuesConfig names the SQS queues and poll tuning.
type QueuesConfig struct {
	// Requests carries job-request notifications to the annotator.
	Requests string `mapstructure:"requests"`
	// Results carries job-completion notifications to the notifier.
	Results string `mapstructure:"results"`
	// Retrievals carries cold-vault retrieval-completion notifications.
	Retrievals string `mapstructure:"retrievals"`
	// DeadLetter receives poison messages from every consumer.
	DeadLetter string `mapstructure:"dead_letter"`

	WaitSeconds int     `mapstructure:"wait_seconds"`
	MaxMessages int     `mapstructure:"max_messages"`
	MaxReceives int     `mapstructure:"max_receives"`
	RateLimit   float64 `mapstructure:"rate_limit"`
}

// TopicsConfig names the SNS fan-out topics.
type TopicsConfig struct {
	// Results is the completion fan-out; the archiver and notifier
	// subscribe to it.
	Results string `mapstructure:"results"`
	// Retrievals is the topic the cold vault notifies when a retrieval
	// job finishes.
	Retrievals string `mapstructure:"retrievals"`
}

// TablesConfig names the DynamoDB tables.
type TablesConfig struct {
	Annotations string `mapstructure:"annotations"`
	Retrievals  string `mapstructure:"retrievals"`
	Profiles    string `mapstructure:"profiles"`
}

// VaultConfig names the cold-archive vault.
type VaultConfig struct {
	Name string `mapstructure:"name"`
}

// WorkerConfig configures the external annotation worker.
type WorkerConfig struct {
	// Command is the worker executable invoked with the input path.
	Command string `mapstructure:"command"`
	// JobsDir is the staging root; each job gets a subdirectory.
	JobsDir string `mapstructure:"jobs_dir"`
	// KeyPrefix prefixes result/log keys in the results bucket.
	KeyPrefix string `mapstructure:"key_prefix"`
}

// EmailConfig configures completion email.
type EmailConfig struct {
	Sender string `mapstructure:"sender"`
	// LinkBase is the web tier base URL for the results link.
	LinkBase string `mapstructure:"link_base"`
}
