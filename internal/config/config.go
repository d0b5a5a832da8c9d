package config

import (
	_ "embed"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

//go:embed defaults.yaml
var defaultsYAML []byte

type Config struct {
	Database    DatabaseConfig
	Web         WebConfig
	SMTP        SMTPConfig
	Models      ModelsConfig
	Log         LogConfig
	Recognition RecognitionConfig `yaml:"recognition"`
	Liveness    LivenessConfig    `yaml:"liveness"`
	Attendance  AttendanceConfig  `yaml:"attendance"`
}

type DatabaseConfig struct {
	URL          string // PostgreSQL connection URL
	MaxOpenConns int    // Maximum open connections (default 25)
	MaxIdleConns int    // Maximum idle connections (default 5)
}

type WebConfig struct {
	Port          int
	Host          string
	SessionSecret  string
	AllowedOrigins []string // extra CORS and websocket origins; localhost is always allowed
	FacesDir       string   // where accepted registration images are stored, empty disables saving
}

type SMTPConfig struct {
	Server     string // defaults to smtp.gmail.com
	Port       int    // defaults to 587
	Sender     string
	Password   string
	AdminEmail string // receives late arrival alerts
}

// Enabled reports whether enough is configured to actually send mail.
func (c *SMTPConfig) Enabled() bool {
	return c.Sender != "" && c.Password != ""
}

type ModelsConfig struct {
	Dir               string // directory holding the Caffe SSD face detector
	FaceCascadePath   string
	EyeCascadePath    string
	DownloadIfMissing bool
}

// PrototxtPath returns the location of the SSD network definition.
func (c *ModelsConfig) PrototxtPath() string {
	return strings.TrimRight(c.Dir, "/") + "/deploy.prototxt"
}

// WeightsPath returns the location of the SSD network weights.
func (c *ModelsConfig) WeightsPath() string {
	return strings.TrimRight(c.Dir, "/") + "/res10_300x300_ssd_iter_140000.caffemodel"
}

type LogConfig struct {
	Level  string // debug, info, warn, error
	Format string // text or json
}

type RecognitionConfig struct {
	MatchThreshold float64 `yaml:"match_threshold"`
	SSDConfidence  float64 `yaml:"ssd_confidence"`
	FaceMinSize    int     `yaml:"face_min_size"`
}

type LivenessConfig struct {
	MinFrames       int     `yaml:"min_frames"`
	EyeMinSize      int     `yaml:"eye_min_size"`
	EyePresenceRate float64 `yaml:"eye_presence_rate"`
	BlinkDrop       float64 `yaml:"blink_drop"`
	ConfidenceScale float64 `yaml:"confidence_scale"`
	BlurMin         float64 `yaml:"blur_min"`
	BlurMax         float64 `yaml:"blur_max"`
}

type AttendanceConfig struct {
	MinRegistrationImages    int    `yaml:"min_registration_images"`
	MaxRegistrationImages    int    `yaml:"max_registration_images"`
	MinRegistrationEncodings int    `yaml:"min_registration_encodings"`
	LateAfter                string `yaml:"late_after"` // HH:MM local time
	HistoryWindowDays        int    `yaml:"history_window_days"`
	ListLimit                int    `yaml:"list_limit"`
}

// LateCutoff parses LateAfter into hours and minutes.
func (c *AttendanceConfig) LateCutoff() (int, int, error) {
	t, err := time.Parse("15:04", c.LateAfter)
	if err != nil {
		return 0, 0, fmt.Errorf("parse late cutoff %q: %w", c.LateAfter, err)
	}
	return t.Hour(), t.Minute(), nil
}

// envInt reads an environment variable and parses it as a positive integer.
// Returns the default value if the env var is unset, empty, or invalid.
func envInt(key string, defaultVal int) int {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if n, err := strconv.Atoi(s); err == nil && n > 0 {
		return n
	}
	return defaultVal
}

// envFloat reads a positive float from the environment, falling back to defaultVal.
func envFloat(key string, defaultVal float64) float64 {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && f > 0 {
		return f
	}
	return defaultVal
}

// envList splits a comma-separated environment variable, dropping empty items.
func envList(key string) []string {
	var out []string
	for item := range strings.SplitSeq(os.Getenv(key), ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func envString(key, defaultVal string) string {
	if s := os.Getenv(key); s != "" {
		return s
	}
	return defaultVal
}

func envBool(key string, defaultVal bool) bool {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(s)
	if err != nil {
		return defaultVal
	}
	return b
}

// Defaults returns the tuning values shipped with the binary.
func Defaults() *Config {
	var cfg Config
	if err := yaml.Unmarshal(defaultsYAML, &cfg); err != nil {
		// This is an embedded file so this error should never happen in practice
		panic("failed to unmarshal embedded defaults.yaml: " + err.Error())
	}
	return &cfg
}

func Load() *Config {
	cfg := Defaults()

	cfg.Database = DatabaseConfig{
		URL:          os.Getenv("DATABASE_URL"),
		MaxOpenConns: envInt("DATABASE_MAX_OPEN_CONNS", 25),
		MaxIdleConns: envInt("DATABASE_MAX_IDLE_CONNS", 5),
	}
	cfg.Web = WebConfig{
		Port:           envInt("WEB_PORT", 8080),
		Host:           envString("WEB_HOST", "0.0.0.0"),
		SessionSecret:  os.Getenv("WEB_SESSION_SECRET"),
		AllowedOrigins: envList("WEB_ALLOWED_ORIGINS"),
		FacesDir:       os.Getenv("FACES_DIR"),
	}
	cfg.SMTP = SMTPConfig{
		Server:     envString("SMTP_SERVER", "smtp.gmail.com"),
		Port:       envInt("SMTP_PORT", 587),
		Sender:     os.Getenv("SENDER_EMAIL"),
		Password:   os.Getenv("SENDER_PASSWORD"),
		AdminEmail: os.Getenv("ADMIN_EMAIL"),
	}
	cfg.Models = ModelsConfig{
		Dir:               envString("MODELS_DIR", "models"),
		FaceCascadePath:   envString("FACE_CASCADE_PATH", "haarcascade_frontalface_default.xml"),
		EyeCascadePath:    envString("EYE_CASCADE_PATH", "haarcascade_eye.xml"),
		DownloadIfMissing: envBool("MODELS_DOWNLOAD", true),
	}
	cfg.Log = LogConfig{
		Level:  envString("LOG_LEVEL", "info"),
		Format: envString("LOG_FORMAT", "text"),
	}

	cfg.Recognition.MatchThreshold = envFloat("FACE_MATCH_THRESHOLD", cfg.Recognition.MatchThreshold)
	cfg.Liveness.MinFrames = envInt("LIVENESS_MIN_FRAMES", cfg.Liveness.MinFrames)
	cfg.Attendance.LateAfter = envString("LATE_AFTER", cfg.Attendance.LateAfter)

	return cfg
}
