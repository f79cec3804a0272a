package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"

	"apotek/backend/internal/logging"
)

const (
	PriceMergeEqual    = "equal"
	PriceMergeWeighted = "weighted"
)

type Config struct {
	Port                      string
	AllowedOrigin             string
	DatabaseURL               string
	RedisAddr                 string
	RedisPassword             string
	RedisDB                   int
	AuthSecret                string
	AccessTokenTTLMinutes     int
	KafkaBrokers              []string
	KafkaTopic                string
	SalePriceMerge            string
	IncompleteCacheTTLSeconds int
	LowStockThreshold         int
	ExpiryWarningDays         int
	LogLevel                  string
	LogFormat                 string
	SeedAPAPassword           string
}

// Load reads an optional .env file and then the process environment.
// Values already present in the environment win over the file.
func Load() Config {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		logging.For("config").WithError(err).Warn("failed to read .env file")
	}

	redisDB, _ := strconv.Atoi(getEnv("REDIS_DB", "0"))

	priceMerge := strings.ToLower(strings.TrimSpace(getEnv("SALE_PRICE_MERGE", PriceMergeEqual)))
	if priceMerge != PriceMergeWeighted {
		priceMerge = PriceMergeEqual
	}

	cfg := Config{
		Port:                      getEnv("PORT", "8080"),
		AllowedOrigin:             getEnv("ALLOWED_ORIGIN", "http://127.0.0.1:3000"),
		DatabaseURL:               os.Getenv("DATABASE_URL"),
		RedisAddr:                 os.Getenv("REDIS_ADDR"),
		RedisPassword:             os.Getenv("REDIS_PASSWORD"),
		RedisDB:                   redisDB,
		AuthSecret:                strings.TrimSpace(os.Getenv("AUTH_SECRET")),
		AccessTokenTTLMinutes:     getPositiveInt("ACCESS_TOKEN_TTL_MINUTES", 480),
		KafkaBrokers:              splitList(os.Getenv("KAFKA_BROKERS")),
		KafkaTopic:                getEnv("KAFKA_TOPIC", "apotek.stock-events"),
		SalePriceMerge:            priceMerge,
		IncompleteCacheTTLSeconds: getPositiveInt("INCOMPLETE_CACHE_TTL_SECONDS", 30),
		LowStockThreshold:         getPositiveInt("LOW_STOCK_THRESHOLD", 10),
		ExpiryWarningDays:         getPositiveInt("EXPIRY_WARNING_DAYS", 90),
		LogLevel:                  getEnv("LOG_LEVEL", "info"),
		LogFormat:                 getEnv("LOG_FORMAT", "json"),
		SeedAPAPassword:           os.Getenv("SEED_APA_PASSWORD"),
	}

	return cfg
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}

func getEnv(key string, fallback string) string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	return val
}

func getPositiveInt(key string, fallback int) int {
	n, err := strconv.Atoi(getEnv(key, strconv.Itoa(fallback)))
	if err != nil || n < 1 {
		return fallback
	}
	return n
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
