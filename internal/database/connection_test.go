package database

import (
	"context"
	"os"
	"time"

	"github.com/sirupsen/logrus"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Database Configuration", func() {
	Describe("DefaultConfig", func() {
		It("should return correct default values", func() {
			config := DefaultConfig()

			Expect(config.Host).To(Equal("localhost"))
			Expect(config.Port).To(Equal(5432))
			Expect(config.User).To(Equal("orchestrator"))
			Expect(config.Database).To(Equal("deployment_orchestrator"))
			Expect(config.SSLMode).To(Equal("disable"))
			Expect(config.MaxOpenConns).To(Equal(25))
			Expect(config.MaxIdleConns).To(Equal(5))
			Expect(config.ConnMaxLifetime).To(Equal(5 * time.Minute))
			Expect(config.ConnMaxIdleTime).To(Equal(5 * time.Minute))
		})
	})

	Describe("LoadFromEnv", func() {
		var config *Config
		var original map[string]string

		BeforeEach(func() {
			config = DefaultConfig()
			original = map[string]string{
				"DB_HOST":     os.Getenv("DB_HOST"),
				"DB_PORT":     os.Getenv("DB_PORT"),
				"DB_USER":     os.Getenv("DB_USER"),
				"DB_PASSWORD": os.Getenv("DB_PASSWORD"),
				"DB_NAME":     os.Getenv("DB_NAME"),
				"DB_SSL_MODE": os.Getenv("DB_SSL_MODE"),
			}
		})

		AfterEach(func() {
			for key, value := range original {
				if value == "" {
					os.Unsetenv(key)
				} else {
					os.Setenv(key, value)
				}
			}
		})

		Context("when all environment variables are set", func() {
			BeforeEach(func() {
				os.Setenv("DB_HOST", "db.internal")
				os.Setenv("DB_PORT", "6543")
				os.Setenv("DB_USER", "deploy_svc")
				os.Setenv("DB_PASSWORD", "secret")
				os.Setenv("DB_NAME", "deploy_orch")
				os.Setenv("DB_SSL_MODE", "require")
			})

			It("should load values from the environment", func() {
				config.LoadFromEnv()

				Expect(config.Host).To(Equal("db.internal"))
				Expect(config.Port).To(Equal(6543))
				Expect(config.User).To(Equal("deploy_svc"))
				Expect(config.Password).To(Equal("secret"))
				Expect(config.Database).To(Equal("deploy_orch"))
				Expect(config.SSLMode).To(Equal("require"))
			})
		})

		Context("when DB_PORT has an invalid value", func() {
			BeforeEach(func() {
				os.Setenv("DB_PORT", "not-a-port")
			})

			It("should keep the default port", func() {
				originalPort := config.Port
				config.LoadFromEnv()
				Expect(config.Port).To(Equal(originalPort))
			})
		})

		Context("when no environment variables are set", func() {
			It("should keep default values", func() {
				originalConfig := *config
				config.LoadFromEnv()
				Expect(*config).To(Equal(originalConfig))
			})
		})
	})

	Describe("Validate", func() {
		var config *Config

		BeforeEach(func() {
			config = DefaultConfig()
		})

		It("passes for the default config", func() {
			Expect(config.Validate()).NotTo(HaveOccurred())
		})

		It("rejects an empty host", func() {
			config.Host = ""
			Expect(config.Validate().Error()).To(ContainSubstring("database host is required"))
		})

		It("rejects a port of zero", func() {
			config.Port = 0
			Expect(config.Validate().Error()).To(ContainSubstring("database port must be between 1 and 65535"))
		})

		It("rejects a port above 65535", func() {
			config.Port = 70000
			Expect(config.Validate().Error()).To(ContainSubstring("database port must be between 1 and 65535"))
		})

		It("rejects an empty user", func() {
			config.User = ""
			Expect(config.Validate().Error()).To(ContainSubstring("database user is required"))
		})

		It("rejects an empty database name", func() {
			config.Database = ""
			Expect(config.Validate().Error()).To(ContainSubstring("database name is required"))
		})

		It("rejects a non-positive MaxOpenConns", func() {
			config.MaxOpenConns = 0
			Expect(config.Validate().Error()).To(ContainSubstring("max open connections must be greater than 0"))
		})

		It("rejects a negative MaxIdleConns", func() {
			config.MaxIdleConns = -1
			Expect(config.Validate().Error()).To(ContainSubstring("max idle connections must be non-negative"))
		})
	})

	Describe("ConnectionString", func() {
		var config *Config

		BeforeEach(func() {
			config = &Config{Host: "localhost", Port: 5432, User: "orchestrator", Database: "deploy_orch", SSLMode: "disable"}
		})

		It("includes the password when provided", func() {
			config.Password = "testpass"
			Expect(config.ConnectionString()).To(Equal(
				"host=localhost port=5432 user=orchestrator dbname=deploy_orch sslmode=disable password=testpass"))
		})

		It("omits password= entirely when empty", func() {
			result := config.ConnectionString()
			Expect(result).To(Equal("host=localhost port=5432 user=orchestrator dbname=deploy_orch sslmode=disable"))
			Expect(result).NotTo(ContainSubstring("password="))
		})
	})

	Describe("Connect", func() {
		var logger *logrus.Logger

		BeforeEach(func() {
			logger = logrus.New()
			logger.SetLevel(logrus.FatalLevel)
		})

		Context("with an invalid configuration", func() {
			It("returns a validation error before dialing anything", func() {
				config := &Config{Host: "", Port: 5432, User: "orchestrator"}
				_, err := Connect(context.Background(), config, logger)
				Expect(err).To(HaveOccurred())
				Expect(err.Error()).To(ContainSubstring("invalid database configuration"))
			})
		})

		// Connecting to a live Postgres instance is not tested in this
		// repository; this suite only exercises the fail-fast validation path.
	})
})
