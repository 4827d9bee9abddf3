package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Mode string

const (
	ModeOffline Mode = "offline"
	ModeOnline  Mode = "online"
)

const devSecret = "dev-secret-change-me"

type Config struct {
	Mode     Mode
	HTTPAddr string

	DBDriver string // sqlite|postgres
	DBDSN    string

	BlobDriver   string // fs|minio
	BlobBasePath string // fs root
	MinIO        MinIOConfig

	AuthSecret      string
	EnableLocalAuth bool
	AdminUser       string
	AdminPassHash   string // bcrypt

	CORSOriginsOnline  []string
	CORSOriginsOffline []string

	LogLevel string
	LogFile  string

	RedisAddr     string
	RedisPassword string

	OptionLimit       int
	PageSize          int
	PassingPercentage float64
	UploadMaxBytes    int64
	UploadAllowedExt  []string

	SweepInterval  time.Duration
	RateLimitRPS   float64
	RateLimitBurst int
}

type MinIOConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// CORSOrigins returns the allow-list for the configured mode.
func (c Config) CORSOrigins() []string {
	if c.Mode == ModeOnline {
		return c.CORSOriginsOnline
	}
	return c.CORSOriginsOffline
}

func defaults(v *viper.Viper) {
	v.SetDefault("mode", string(ModeOffline))
	v.SetDefault("http_addr", ":8080")
	v.SetDefault("db_driver", "sqlite")
	v.SetDefault("db_dsn", "")
	v.SetDefault("blob_driver", "fs")
	v.SetDefault("blob_base_path", "./data")
	v.SetDefault("minio_endpoint", "")
	v.SetDefault("minio_access_key", "")
	v.SetDefault("minio_secret_key", "")
	v.SetDefault("minio_bucket", "qbank-media")
	v.SetDefault("minio_use_ssl", false)
	v.SetDefault("auth_hmac_secret", devSecret)
	v.SetDefault("enable_local_auth", true)
	v.SetDefault("admin_user", "admin")
	v.SetDefault("admin_pass_hash", "$2y$12$pyZAiWaTfVtM7UElIRStvOC3gNbnp70nmQU4eYopLGBfCJr1DOvji")
	v.SetDefault("cors_origins_online", "https://lms.mindengage.ai")
	v.SetDefault("cors_origins_offline", "http://localhost:3000,http://localhost:3010,http://localhost:3020")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_file", "")
	v.SetDefault("redis_addr", "")
	v.SetDefault("redis_password", "")
	v.SetDefault("option_limit", 10)
	v.SetDefault("page_size", 10)
	v.SetDefault("passing_percentage", 40)
	v.SetDefault("upload_max_bytes", 10<<20)
	v.SetDefault("upload_allowed_ext", "jpg,jpeg,png,gif,pdf,mp3,mp4,doc,docx")
	v.SetDefault("sweep_interval", "1m")
	v.SetDefault("rate_limit_rps", 5)
	v.SetDefault("rate_limit_burst", 10)
}

// Load reads .env (if present), then config.yaml from CONFIG_PATH, then the
// environment. Later sources win.
func Load() (Config, error) {
	_ = godotenv.Load()
	return LoadFrom(os.Getenv("CONFIG_PATH"))
}

// LoadFrom is Load without the .env step; dir may be empty.
func LoadFrom(dir string) (Config, error) {
	v := viper.New()
	defaults(v)
	v.AutomaticEnv()

	if dir != "" {
		v.AddConfigPath(dir)
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			var nf viper.ConfigFileNotFoundError
			if !errors.As(err, &nf) {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
		}
	}

	cfg := Config{
		Mode:     Mode(strings.ToLower(v.GetString("mode"))),
		HTTPAddr: v.GetString("http_addr"),

		DBDriver: v.GetString("db_driver"),
		DBDSN:    v.GetString("db_dsn"),

		BlobDriver:   v.GetString("blob_driver"),
		BlobBasePath: v.GetString("blob_base_path"),
		MinIO: MinIOConfig{
			Endpoint:  v.GetString("minio_endpoint"),
			AccessKey: v.GetString("minio_access_key"),
			SecretKey: v.GetString("minio_secret_key"),
			Bucket:    v.GetString("minio_bucket"),
			UseSSL:    v.GetBool("minio_use_ssl"),
		},

		AuthSecret:      v.GetString("auth_hmac_secret"),
		EnableLocalAuth: v.GetBool("enable_local_auth"),
		AdminUser:       v.GetString("admin_user"),
		AdminPassHash:   v.GetString("admin_pass_hash"),

		CORSOriginsOnline:  csv(v.GetString("cors_origins_online")),
		CORSOriginsOffline: csv(v.GetString("cors_origins_offline")),

		LogLevel: v.GetString("log_level"),
		LogFile:  v.GetString("log_file"),

		RedisAddr:     v.GetString("redis_addr"),
		RedisPassword: v.GetString("redis_password"),

		OptionLimit:       v.GetInt("option_limit"),
		PageSize:          v.GetInt("page_size"),
		PassingPercentage: v.GetFloat64("passing_percentage"),
		UploadMaxBytes:    v.GetInt64("upload_max_bytes"),
		UploadAllowedExt:  csv(strings.ToLower(v.GetString("upload_allowed_ext"))),

		SweepInterval:  v.GetDuration("sweep_interval"),
		RateLimitRPS:   v.GetFloat64("rate_limit_rps"),
		RateLimitBurst: v.GetInt("rate_limit_burst"),
	}
	return cfg, cfg.validate()
}

func (c Config) validate() error {
	switch c.Mode {
	case ModeOffline, ModeOnline:
	default:
		return fmt.Errorf("config: MODE must be offline or online, got %q", c.Mode)
	}
	switch c.DBDriver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("config: unsupported DB_DRIVER %q", c.DBDriver)
	}
	switch c.BlobDriver {
	case "fs":
	case "minio":
		if c.MinIO.Endpoint == "" || c.MinIO.Bucket == "" {
			return errors.New("config: BLOB_DRIVER=minio needs MINIO_ENDPOINT and MINIO_BUCKET")
		}
	default:
		return fmt.Errorf("config: unsupported BLOB_DRIVER %q", c.BlobDriver)
	}
	if c.Mode == ModeOnline && (c.AuthSecret == devSecret || len(c.AuthSecret) < 32) {
		return errors.New("config: AUTH_HMAC_SECRET must be set to at least 32 characters in online mode")
	}
	if c.OptionLimit < 2 {
		return fmt.Errorf("config: OPTION_LIMIT must be at least 2, got %d", c.OptionLimit)
	}
	if c.PageSize <= 0 {
		return fmt.Errorf("config: PAGE_SIZE must be positive, got %d", c.PageSize)
	}
	if c.PassingPercentage < 0 || c.PassingPercentage > 100 {
		return fmt.Errorf("config: PASSING_PERCENTAGE out of range: %v", c.PassingPercentage)
	}
	if c.SweepInterval <= 0 {
		return fmt.Errorf("config: SWEEP_INTERVAL must be positive, got %s", c.SweepInterval)
	}
	return nil
}

func csv(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
