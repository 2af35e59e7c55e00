package config_test

import (
	"os"
	"path/filepath"
	"time"

	"github.com/Niskarsh/livecapture/config"
	"github.com/Niskarsh/livecapture/sink"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

var variables = []string{
	"STORAGE_BACKEND",
	"AWS_REGION", "AWS_ACCESS_KEY_ID", "AWS_SECRET_ACCESS_KEY", "AWS_BUCKET_NAME",
	"S3_ENDPOINT", "S3_USE_SSL", "S3_ACCELERATE",
	"SWIFT_USERNAME", "SWIFT_API_KEY", "SWIFT_AUTH_URL", "SWIFT_DOMAIN", "SWIFT_TENANT",
	"SWIFT_CONTAINER", "SWIFT_SEGMENT_CONTAINER",
	"CHUNK_SIZE", "PART_SIZE", "UPLOAD_WORKERS", "LEAVE_PARTS_ON_ERROR",
	"RECORDER_INTERVAL", "STOP_TIMEOUT", "UPLOAD_RETRY_WAIT",
	"KAFKA_BROKERS", "KAFKA_TOPIC", "DATABASE_URL",
}

var _ = Describe("Config", func() {
	saved := map[string]string{}

	BeforeEach(func() {
		for _, name := range variables {
			if value, ok := os.LookupEnv(name); ok {
				saved[name] = value
			}
			os.Unsetenv(name)
		}
	})
	AfterEach(func() {
		for _, name := range variables {
			os.Unsetenv(name)
			if value, ok := saved[name]; ok {
				os.Setenv(name, value)
			}
		}
	})

	setS3 := func() {
		os.Setenv("AWS_REGION", "us-east-1")
		os.Setenv("AWS_ACCESS_KEY_ID", "key")
		os.Setenv("AWS_SECRET_ACCESS_KEY", "secret")
		os.Setenv("AWS_BUCKET_NAME", "recordings")
	}

	Context("With every S3 value set", func() {
		It("Should apply the defaults", func() {
			setS3()
			cfg := config.FromEnv()
			Expect(cfg.Validate()).To(Succeed())
			Expect(cfg.Backend).To(Equal(config.BackendS3))
			Expect(cfg.S3.Endpoint).To(Equal("s3.amazonaws.com"))
			Expect(cfg.S3.UseSSL).To(BeTrue())
			Expect(cfg.S3.Accelerate).To(BeFalse())
			Expect(cfg.Pipeline.ChunkSize).To(Equal(65536))
			Expect(cfg.Pipeline.PartSize).To(Equal(5 * 1024 * 1024))
			Expect(cfg.Pipeline.Workers).To(Equal(8))
			Expect(cfg.Pipeline.RecorderInterval).To(Equal(100 * time.Millisecond))
			Expect(cfg.Pipeline.StopTimeout).To(Equal(2 * time.Minute))
			Expect(cfg.Pipeline.RetryWait).To(Equal(time.Second))
			Expect(cfg.Events.KafkaTopic).To(Equal("capture.sessions"))
			Expect(cfg.Events.KafkaBrokers).To(BeEmpty())
		})
		It("Should build upload options", func() {
			setS3()
			os.Setenv("LEAVE_PARTS_ON_ERROR", "true")
			os.Setenv("UPLOAD_WORKERS", "4")
			opts := config.FromEnv().UploadOptions()
			Expect(opts.Cleanup).To(Equal(sink.CleanupLeave))
			Expect(opts.Workers).To(Equal(uint(4)))
			Expect(opts.PartSize).To(Equal(sink.MinPartSize))
		})
		It("Should split the broker list", func() {
			setS3()
			os.Setenv("KAFKA_BROKERS", "kafka-1:9092, kafka-2:9092,")
			Expect(config.FromEnv().Events.KafkaBrokers).To(Equal([]string{"kafka-1:9092", "kafka-2:9092"}))
		})
	})

	Context("With required values missing", func() {
		It("Should name every missing value", func() {
			os.Setenv("AWS_REGION", "us-east-1")
			os.Setenv("AWS_BUCKET_NAME", " ")
			err := config.FromEnv().Validate()
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("AWS_ACCESS_KEY_ID"))
			Expect(err.Error()).To(ContainSubstring("AWS_SECRET_ACCESS_KEY"))
			Expect(err.Error()).To(ContainSubstring("AWS_BUCKET_NAME"))
			Expect(err.Error()).NotTo(ContainSubstring("AWS_REGION"))
		})
	})

	Context("With values out of range", func() {
		It("Should reject them", func() {
			setS3()
			os.Setenv("PART_SIZE", "1024")
			os.Setenv("UPLOAD_WORKERS", "0")
			os.Setenv("CHUNK_SIZE", "lots")
			os.Setenv("STOP_TIMEOUT", "-1s")
			err := config.FromEnv().Validate()
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("PART_SIZE must be at least"))
			Expect(err.Error()).To(ContainSubstring("UPLOAD_WORKERS must be positive"))
			Expect(err.Error()).To(ContainSubstring("CHUNK_SIZE is not an integer"))
			Expect(err.Error()).To(ContainSubstring("STOP_TIMEOUT must be positive"))
		})
		It("Should reject an unknown backend", func() {
			os.Setenv("STORAGE_BACKEND", "ftp")
			Expect(config.FromEnv().Validate()).NotTo(Succeed())
		})
	})

	Context("With the Swift backend", func() {
		It("Should only require the Swift values", func() {
			os.Setenv("STORAGE_BACKEND", "Swift")
			os.Setenv("SWIFT_USERNAME", "user")
			os.Setenv("SWIFT_API_KEY", "key")
			os.Setenv("SWIFT_AUTH_URL", "https://identity.example.com/v3")
			os.Setenv("SWIFT_CONTAINER", "recordings")
			os.Setenv("PART_SIZE", "1024")
			cfg := config.FromEnv()
			Expect(cfg.Validate()).To(Succeed())
			Expect(cfg.Backend).To(Equal(config.BackendSwift))
		})
	})

	Context("Loading an env file", func() {
		var dir string
		BeforeEach(func() {
			var err error
			dir, err = os.MkdirTemp("", "config")
			Expect(err).NotTo(HaveOccurred())
		})
		AfterEach(func() {
			os.RemoveAll(dir)
		})
		It("Should read values from the file without overriding the environment", func() {
			path := filepath.Join(dir, "test.env")
			contents := "AWS_REGION=eu-west-1\nAWS_ACCESS_KEY_ID=file-key\nAWS_SECRET_ACCESS_KEY=file-secret\nAWS_BUCKET_NAME=file-bucket\n"
			Expect(os.WriteFile(path, []byte(contents), 0o600)).To(Succeed())
			os.Setenv("AWS_BUCKET_NAME", "env-bucket")
			cfg, err := config.Load(path)
			Expect(err).NotTo(HaveOccurred())
			Expect(cfg.S3.Region).To(Equal("eu-west-1"))
			Expect(cfg.S3.Bucket).To(Equal("env-bucket"))
		})
		It("Should fail for a missing file that was asked for", func() {
			_, err := config.Load(filepath.Join(dir, "missing.env"))
			Expect(err).To(HaveOccurred())
		})
	})
})
