package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	SandboxBaseURL    = "https://sandbox.safaricom.co.ke"
	ProductionBaseURL = "https://api.safaricom.co.ke"
)

// Keys under which the admin settings page stores gateway settings in tbl_appconfig.
const (
	SettingConsumerKey       = "mpesa_consumer_key"
	SettingConsumerSecret    = "mpesa_consumer_secret"
	SettingBusinessShortcode = "mpesa_business_shortcode"
	SettingPasskey           = "mpesa_passkey"
	SettingBaseURL           = "mpesa_base_url"
	SettingCallbackURL       = "mpesa_callback_url"
)

// SettingKeys lists every gateway setting the admin page can save.
var SettingKeys = []string{
	SettingConsumerKey,
	SettingConsumerSecret,
	SettingBusinessShortcode,
	SettingPasskey,
	SettingBaseURL,
	SettingCallbackURL,
}

type Config struct {
	DBUser        string
	DBPassword    string
	DBName        string
	DBHost        string
	DBPort        string
	RedisHost     string
	RedisPort     string
	RedisPassword string

	HTTPAddr   string
	AppURL     string
	AdminToken string
	LogLevel   string

	BotToken       string
	TelegramChatID int64

	RechargeURL string
	RechargeKey string

	KafkaBrokers []string
	KafkaTopic   string

	AllowedMpesaIP []string
	// TrustedProxies are the reverse proxies whose forwarding headers are believed.
	TrustedProxies []string

	Mpesa Mpesa
}

// Mpesa holds everything the gateway client needs. It is built from the
// environment and may be overlaid with values saved through the admin API.
type Mpesa struct {
	BaseURL           string
	ConsumerKey       string
	ConsumerSecret    string
	BusinessShortcode string
	Passkey           string
	TillNumber        string
	CallbackURL       string
	Description       string
	Sandbox           bool
	Timeout           time.Duration
	CacheToken        bool
}

func LoadConfig() *Config {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using system environment variables")
	}

	cfg := &Config{
		DBUser:        getEnv("DB_USER", "postgres"),
		DBPassword:    getEnv("DB_PASSWORD", "postgres"),
		DBName:        getEnv("DB_NAME", "billing"),
		DBHost:        getEnv("DB_HOST", "localhost"),
		DBPort:        getEnv("DB_PORT", "5432"),
		RedisHost:     getEnv("REDIS_HOST", "localhost"),
		RedisPort:     getEnv("REDIS_PORT", "6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),

		HTTPAddr:   getEnv("HTTP_ADDR", ":8080"),
		AppURL:     strings.TrimRight(getEnv("APP_URL", ""), "/"),
		AdminToken: getEnv("ADMIN_TOKEN", ""),
		LogLevel:   getEnv("LOG_LEVEL", "info"),

		BotToken:       getEnv("TELEGRAM_BOT_TOKEN", ""),
		TelegramChatID: getEnvAsInt64("TELEGRAM_CHAT_ID", 0),

		RechargeURL: getEnv("RECHARGE_API_URL", ""),
		RechargeKey: getEnv("RECHARGE_API_KEY", ""),

		KafkaBrokers: getEnvAsList("KAFKA_BROKERS", nil),
		KafkaTopic:   getEnv("KAFKA_PAYMENT_EVENTS_TOPIC", "payment_events"),

		// Safaricom's published callback source addresses.
		AllowedMpesaIP: getEnvAsList("MPESA_CALLBACK_ALLOWED_CIDRS", []string{
			"196.201.214.200/32",
			"196.201.214.206/32",
			"196.201.213.114/32",
			"196.201.214.207/32",
			"196.201.214.208/32",
			"196.201.213.44/32",
			"196.201.212.127/32",
			"196.201.212.138/32",
			"196.201.212.129/32",
			"196.201.212.136/32",
			"196.201.212.74/32",
			"196.201.212.69/32",
		}),

		TrustedProxies: getEnvAsList("TRUSTED_PROXY_CIDRS", nil),

		Mpesa: Mpesa{
			BaseURL:           getEnv("MPESA_BASE_URL", ""),
			ConsumerKey:       getEnv("MPESA_CONSUMER_KEY", ""),
			ConsumerSecret:    getEnv("MPESA_CONSUMER_SECRET", ""),
			BusinessShortcode: getEnv("MPESA_BUSINESS_SHORTCODE", ""),
			Passkey:           getEnv("MPESA_PASSKEY", ""),
			TillNumber:        getEnv("MPESA_TILL_NUMBER", ""),
			CallbackURL:       getEnv("MPESA_CALLBACK_URL", ""),
			Description:       getEnv("MPESA_TRANSACTION_DESC", "Payment"),
			Sandbox:           getEnvAsBool("MPESA_SANDBOX", false),
			Timeout:           getEnvAsDuration("MPESA_TIMEOUT", 30*time.Second),
			CacheToken:        getEnvAsBool("MPESA_CACHE_TOKEN", false),
		},
	}

	if cfg.Mpesa.CallbackURL == "" && cfg.AppURL != "" {
		cfg.Mpesa.CallbackURL = cfg.AppURL + "/callback/mpesa"
	}

	return cfg
}

// MissingSettingsError lists the required gateway settings that are empty.
type MissingSettingsError struct {
	Fields []string
}

func (e *MissingSettingsError) Error() string {
	return "Mpesa payment gateway not configured. Missing: " + strings.Join(e.Fields, ", ")
}

// Validate reports every required setting that is empty.
func (m Mpesa) Validate() error {
	var missing []string
	if m.ConsumerKey == "" {
		missing = append(missing, "Consumer Key")
	}
	if m.ConsumerSecret == "" {
		missing = append(missing, "Consumer Secret")
	}
	if m.BusinessShortcode == "" {
		missing = append(missing, "Business Shortcode")
	}
	if m.Passkey == "" {
		missing = append(missing, "Passkey")
	}
	if m.CallbackURL == "" {
		missing = append(missing, "Callback URL")
	}
	if len(missing) > 0 {
		return &MissingSettingsError{Fields: missing}
	}
	return nil
}

// APIBaseURL returns the configured base URL without a trailing slash,
// falling back to the Safaricom host matching the sandbox flag.
func (m Mpesa) APIBaseURL() string {
	if m.BaseURL != "" {
		return strings.TrimRight(m.BaseURL, "/")
	}
	if m.Sandbox {
		return SandboxBaseURL
	}
	return ProductionBaseURL
}

// PartyB is the till receiving CustomerBuyGoodsOnline payments.
func (m Mpesa) PartyB() string {
	if m.TillNumber != "" {
		return m.TillNumber
	}
	return m.BusinessShortcode
}

// WithSettings overlays non-empty values saved in tbl_appconfig.
func (m Mpesa) WithSettings(settings map[string]string) Mpesa {
	overlay := func(dst *string, key string) {
		if v := strings.TrimSpace(settings[key]); v != "" {
			*dst = v
		}
	}
	overlay(&m.ConsumerKey, SettingConsumerKey)
	overlay(&m.ConsumerSecret, SettingConsumerSecret)
	overlay(&m.BusinessShortcode, SettingBusinessShortcode)
	overlay(&m.Passkey, SettingPasskey)
	overlay(&m.BaseURL, SettingBaseURL)
	overlay(&m.CallbackURL, SettingCallbackURL)
	return m
}

func (c *Config) PostgresDSN() string {
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=disable TimeZone=UTC",
		c.DBHost, c.DBUser, c.DBPassword, c.DBName, c.DBPort)
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvAsBool(key string, fallback bool) bool {
	if value, err := strconv.ParseBool(getEnv(key, "")); err == nil {
		return value
	}
	return fallback
}

func getEnvAsInt64(key string, fallback int64) int64 {
	if value, err := strconv.ParseInt(getEnv(key, ""), 10, 64); err == nil {
		return value
	}
	return fallback
}

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	if value, err := time.ParseDuration(getEnv(key, "")); err == nil {
		return value
	}
	return fallback
}

// getEnvAsList splits a comma separated variable. A variable that is set but
// empty yields an empty list, which disables the default.
func getEnvAsList(key string, fallback []string) []string {
	value, exists := os.LookupEnv(key)
	if !exists {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
