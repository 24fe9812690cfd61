package configs

import (
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server struct {
		Port     string
		Env      string
		LogLevel string
	}
	Database struct {
		Host     string
		Port     string
		User     string
		Password string
		Name     string
		SSLMode  string
	}
	Redis struct {
		Enabled  bool
		Addr     string
		Password string
		DB       int
		// SnapshotTTL bounds how stale a cached lot snapshot may be.
		SnapshotTTL time.Duration
	}
	Nats struct {
		Enabled bool
		URL     string
	}
	Auth struct {
		SecretKey string
	}
	Auction struct {
		// MaxRetries is the compare-and-raise retry budget per bid.
		MaxRetries int
		// CeilingMultiplier rejects bids above CurrentPrice * multiplier.
		CeilingMultiplier int64
		// BidTimeout is the end-to-end deadline for a single PlaceBid call.
		BidTimeout time.Duration
		// PublishGrace allows publishing lots whose start date is slightly
		// in the past (clock skew between callers and the server).
		PublishGrace time.Duration
	}
	Poll struct {
		DetailInterval   time.Duration
		ListInterval     time.Duration
		MaxBackoff       time.Duration
		OfflineThreshold int
	}
	Rates struct {
		BaseURL string
		Timeout time.Duration
	}
}

func LoadConfig() (*Config, error) {
	// Load .env file
	if err := godotenv.Load("./configs/.env"); err != nil {
		log.Info("No .env file found")
	}

	viper.SetConfigName("config")    // Name of the config file (without extension)
	viper.SetConfigType("yaml")      // Config file type
	viper.AddConfigPath("./configs") // Path to look for the config file
	viper.AutomaticEnv()             // Automatically map environment variables

	// Allow dots in environment variables to map to nested keys
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults()

	// Read the config file
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		log.Info("No config file found, using defaults")
	}

	// Manually substitute environment variables in the config
	substituteEnvVarsInConfig()

	// Unmarshal the config into a struct
	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

func setDefaults() {
	viper.SetDefault("server.port", "8080")
	viper.SetDefault("server.loglevel", "debug")
	viper.SetDefault("database.sslmode", "disable")
	viper.SetDefault("redis.snapshotttl", time.Second)
	viper.SetDefault("nats.url", "nats://localhost:4222")
	viper.SetDefault("auction.maxretries", 3)
	viper.SetDefault("auction.ceilingmultiplier", 10)
	viper.SetDefault("auction.bidtimeout", 5*time.Second)
	viper.SetDefault("auction.publishgrace", time.Minute)
	viper.SetDefault("poll.detailinterval", 4*time.Second)
	viper.SetDefault("poll.listinterval", 8*time.Second)
	viper.SetDefault("poll.maxbackoff", time.Minute)
	viper.SetDefault("poll.offlinethreshold", 2)
	viper.SetDefault("rates.timeout", 2*time.Second)
}

// Helper function to manually replace environment variables in config file values
func substituteEnvVarsInConfig() {
	// Iterate over each key-value pair in viper's config
	for _, key := range viper.AllKeys() {
		// Get the current value
		value := viper.GetString(key)

		// Check if the value contains environment variable syntax (e.g., ${PORT})
		if strings.Contains(value, "${") {
			// Replace environment variables in the value (e.g., ${PORT})
			replacedValue := os.Expand(value, func(name string) string {
				// Lookup the environment variable's value
				return os.Getenv(name)
			})

			// Set the replaced value back into viper
			viper.Set(key, replacedValue)
		}
	}
}
