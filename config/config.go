// Package config loads the process-wide settings from the environment and
// an optional .env file. A Config is read-only once loaded.
package config

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/Niskarsh/livecapture/sink"
	"github.com/hashicorp/go-multierror"
	"github.com/joho/godotenv"
)

type Backend string

const (
	BackendS3    Backend = "s3"
	BackendSwift Backend = "swift"
)

type S3 struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	Bucket          string
	Endpoint        string
	UseSSL          bool
	Accelerate      bool
}

type Swift struct {
	Username         string
	APIKey           string
	AuthURL          string
	Domain           string
	Tenant           string
	Container        string
	SegmentContainer string
}

type Pipeline struct {
	ChunkSize         int
	PartSize          int
	Workers           int
	LeavePartsOnError bool
	RecorderInterval  time.Duration
	StopTimeout       time.Duration
	RetryWait         time.Duration
}

type Events struct {
	KafkaBrokers []string
	KafkaTopic   string
	DatabaseURL  string
}

type Config struct {
	Backend  Backend
	S3       S3
	Swift    Swift
	Pipeline Pipeline
	Events   Events

	parseErrors *multierror.Error
}

// Load reads the given .env files, or .env in the working directory when
// none are named, and then the environment. A missing .env file is not an
// error; variables already set in the environment take precedence. The
// returned Config has been validated.
func Load(files ...string) (*Config, error) {
	if len(files) == 0 {
		_ = godotenv.Load()
	} else if err := godotenv.Load(files...); err != nil {
		return nil, fmt.Errorf("failed to read env file: %w", err)
	}
	cfg := FromEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromEnv reads the configuration from the environment without validating it.
func FromEnv() *Config {
	cfg := &Config{}
	cfg.Backend = Backend(strings.ToLower(getEnv("STORAGE_BACKEND", string(BackendS3))))
	cfg.S3 = S3{
		Region:          getEnv("AWS_REGION", ""),
		AccessKeyID:     getEnv("AWS_ACCESS_KEY_ID", ""),
		SecretAccessKey: getEnv("AWS_SECRET_ACCESS_KEY", ""),
		Bucket:          getEnv("AWS_BUCKET_NAME", ""),
		Endpoint:        getEnv("S3_ENDPOINT", "s3.amazonaws.com"),
		UseSSL:          cfg.getEnvAsBool("S3_USE_SSL", true),
		Accelerate:      cfg.getEnvAsBool("S3_ACCELERATE", false),
	}
	cfg.Swift = Swift{
		Username:         getEnv("SWIFT_USERNAME", ""),
		APIKey:           getEnv("SWIFT_API_KEY", ""),
		AuthURL:          getEnv("SWIFT_AUTH_URL", ""),
		Domain:           getEnv("SWIFT_DOMAIN", ""),
		Tenant:           getEnv("SWIFT_TENANT", ""),
		Container:        getEnv("SWIFT_CONTAINER", ""),
		SegmentContainer: getEnv("SWIFT_SEGMENT_CONTAINER", ""),
	}
	cfg.Pipeline = Pipeline{
		ChunkSize:         cfg.getEnvAsInt("CHUNK_SIZE", 64*1024),
		PartSize:          cfg.getEnvAsInt("PART_SIZE", int(sink.MinPartSize)),
		Workers:           cfg.getEnvAsInt("UPLOAD_WORKERS", int(sink.DefaultWorkers)),
		LeavePartsOnError: cfg.getEnvAsBool("LEAVE_PARTS_ON_ERROR", false),
		RecorderInterval:  cfg.getEnvAsDuration("RECORDER_INTERVAL", 100*time.Millisecond),
		StopTimeout:       cfg.getEnvAsDuration("STOP_TIMEOUT", 2*time.Minute),
		RetryWait:         cfg.getEnvAsDuration("UPLOAD_RETRY_WAIT", sink.DefaultRetryWait),
	}
	cfg.Events = Events{
		KafkaBrokers: getEnvAsList("KAFKA_BROKERS"),
		KafkaTopic:   getEnv("KAFKA_TOPIC", "capture.sessions"),
		DatabaseURL:  getEnv("DATABASE_URL", ""),
	}
	return cfg
}

// Validate names every required value that is missing and every value out
// of range in a single error.
func (c *Config) Validate() error {
	var result *multierror.Error
	if c.parseErrors != nil {
		result = multierror.Append(result, c.parseErrors.Errors...)
	}
	required := func(name, value string) {
		if strings.TrimSpace(value) == "" {
			result = multierror.Append(result, fmt.Errorf("%s is required", name))
		}
	}
	switch c.Backend {
	case BackendS3:
		required("AWS_REGION", c.S3.Region)
		required("AWS_ACCESS_KEY_ID", c.S3.AccessKeyID)
		required("AWS_SECRET_ACCESS_KEY", c.S3.SecretAccessKey)
		required("AWS_BUCKET_NAME", c.S3.Bucket)
		required("S3_ENDPOINT", c.S3.Endpoint)
		if c.Pipeline.PartSize < int(sink.MinPartSize) {
			result = multierror.Append(result, fmt.Errorf("PART_SIZE must be at least %d bytes for S3, got %d", sink.MinPartSize, c.Pipeline.PartSize))
		}
	case BackendSwift:
		required("SWIFT_USERNAME", c.Swift.Username)
		required("SWIFT_API_KEY", c.Swift.APIKey)
		required("SWIFT_AUTH_URL", c.Swift.AuthURL)
		required("SWIFT_CONTAINER", c.Swift.Container)
	default:
		result = multierror.Append(result, fmt.Errorf("STORAGE_BACKEND must be %q or %q, got %q", BackendS3, BackendSwift, c.Backend))
	}
	positive := func(name string, value int64) {
		if value <= 0 {
			result = multierror.Append(result, fmt.Errorf("%s must be positive, got %d", name, value))
		}
	}
	positive("CHUNK_SIZE", int64(c.Pipeline.ChunkSize))
	positive("PART_SIZE", int64(c.Pipeline.PartSize))
	positive("UPLOAD_WORKERS", int64(c.Pipeline.Workers))
	positive("RECORDER_INTERVAL", int64(c.Pipeline.RecorderInterval))
	positive("STOP_TIMEOUT", int64(c.Pipeline.StopTimeout))
	positive("UPLOAD_RETRY_WAIT", int64(c.Pipeline.RetryWait))
	return result.ErrorOrNil()
}

// UploadOptions turns the pipeline settings into options for a sink.Uploader.
func (c *Config) UploadOptions() sink.Options {
	cleanup := sink.CleanupDelete
	if c.Pipeline.LeavePartsOnError {
		cleanup = sink.CleanupLeave
	}
	return sink.Options{
		PartSize:  uint(c.Pipeline.PartSize),
		Workers:   uint(c.Pipeline.Workers),
		RetryWait: c.Pipeline.RetryWait,
		Cleanup:   cleanup,
	}
}

// Destination connects to the configured object store.
func (c *Config) Destination(ctx context.Context) (sink.Destination, error) {
	switch c.Backend {
	case BackendS3:
		dest, err := sink.NewS3Destination(c.S3.Endpoint, c.S3.Region, c.S3.AccessKeyID, c.S3.SecretAccessKey, c.S3.Bucket, c.S3.UseSSL, c.S3.Accelerate)
		if err != nil {
			return nil, err
		}
		if err := dest.EnsureBucket(ctx); err != nil {
			return nil, err
		}
		return dest, nil
	case BackendSwift:
		return sink.AuthenticateSwift(c.Swift.Username, c.Swift.APIKey, c.Swift.AuthURL, c.Swift.Domain, c.Swift.Tenant, c.Swift.Container, c.Swift.SegmentContainer)
	}
	return nil, fmt.Errorf("unknown storage backend %q", c.Backend)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsList(key string) []string {
	var values []string
	for _, value := range strings.Split(os.Getenv(key), ",") {
		if value = strings.TrimSpace(value); value != "" {
			values = append(values, value)
		}
	}
	return values
}

func (c *Config) getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		intValue, err := strconv.Atoi(value)
		if err == nil {
			return intValue
		}
		c.parseErrors = multierror.Append(c.parseErrors, fmt.Errorf("%s is not an integer: %q", key, value))
	}
	return defaultValue
}

func (c *Config) getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		duration, err := time.ParseDuration(value)
		if err == nil {
			return duration
		}
		c.parseErrors = multierror.Append(c.parseErrors, fmt.Errorf("%s is not a duration: %q", key, value))
	}
	return defaultValue
}

func (c *Config) getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		boolValue, err := strconv.ParseBool(value)
		if err == nil {
			return boolValue
		}
		c.parseErrors = multierror.Append(c.parseErrors, fmt.Errorf("%s is not a boolean: %q", key, value))
	}
	return defaultValue
}
