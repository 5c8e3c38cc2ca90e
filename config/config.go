package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cast"
	"gopkg.in/yaml.v3"
)

// SysConfig system configuration
type SysConfig struct {
	Appid    string `yaml:"appid"`
	Location string `yaml:"location"`
	Workdir  string `yaml:"workdir"`
	Debug    bool   `yaml:"debug"`
}

// WebConfig health endpoint listener
type WebConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// DBConfig database configuration for the interaction audit log
type DBConfig struct {
	Type     string `yaml:"type"` // sqlite or postgres
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Passwd   string `yaml:"passwd"`
	MaxConn  int    `yaml:"max_conn"`
	IdleConn int    `yaml:"idle_conn"`
	Debug    bool   `yaml:"debug"`
}

// LogConfig logger configuration
type LogConfig struct {
	Mode       string `yaml:"mode"` // production or development
	FileEnable bool   `yaml:"file_enable"`
	Filename   string `yaml:"filename"`
}

// MenuConfig overrides the built-in greeting and option replies.
type MenuConfig struct {
	Greeting string            `yaml:"greeting"`
	Options  map[string]string `yaml:"options"`
	Invalid  string            `yaml:"invalid"`
}

// BotConfig responder behaviour
type BotConfig struct {
	IdentityFile      string     `yaml:"identity_file"`
	DataFile          string     `yaml:"data_file"`
	Workers           int        `yaml:"workers"`
	PacingMillis      int        `yaml:"pacing_millis"`
	KeepAliveText     string     `yaml:"keep_alive_text"`
	LogoutOnReconnect bool       `yaml:"logout_on_reconnect"`
	Menu              MenuConfig `yaml:"menu"`
}

type AppConfig struct {
	System   SysConfig `yaml:"system"`
	Web      WebConfig `yaml:"web"`
	Database DBConfig  `yaml:"database"`
	Logger   LogConfig `yaml:"logger"`
	Bot      BotConfig `yaml:"bot"`
}

// GetDataDir returns the directory holding the application database.
func (c *AppConfig) GetDataDir() string {
	return filepath.Join(c.System.Workdir, "data")
}

// GetLogDir returns the log directory.
func (c *AppConfig) GetLogDir() string {
	return filepath.Join(c.System.Workdir, "logs")
}

// SessionDir returns the per-client whatsmeow session directory.
func (c *AppConfig) SessionDir(clientID string) string {
	if clientID == "" {
		clientID = "default"
	}
	return filepath.Join(c.System.Workdir, "session-"+clientID)
}

// ResolvePath anchors a relative path at the workdir.
func (c *AppConfig) ResolvePath(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.System.Workdir, p)
}

var DefaultAppConfig = &AppConfig{
	System: SysConfig{
		Appid:    "wabot",
		Location: "America/Sao_Paulo",
		Workdir:  ".",
		Debug:    false,
	},
	Web: WebConfig{
		Host: "0.0.0.0",
		Port: 5000,
	},
	Database: DBConfig{
		Type:     "sqlite",
		Name:     "wabot.db",
		MaxConn:  20,
		IdleConn: 5,
	},
	Logger: LogConfig{
		Mode:       "development",
		FileEnable: false,
		Filename:   "logs/wabot.log",
	},
	Bot: BotConfig{
		IdentityFile:      "config.json",
		DataFile:          "data.json",
		Workers:           8,
		PacingMillis:      500,
		KeepAliveText:     "Keep-alive",
		LogoutOnReconnect: true,
	},
}

// LoadConfig reads the YAML file when present, then applies environment overrides.
// A missing or unreadable file yields the defaults.
func LoadConfig(cfile string) *AppConfig {
	cfg := *DefaultAppConfig
	cfg.Bot.Menu.Options = nil
	if cfile != "" {
		if data, err := os.ReadFile(cfile); err == nil {
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				cfg = *DefaultAppConfig
			}
		}
	}
	applyEnv(&cfg)
	return &cfg
}

func applyEnv(cfg *AppConfig) {
	setEnvInt("PORT", &cfg.Web.Port)
	setEnvValue("WABOT_WORKDIR", &cfg.System.Workdir)
	setEnvValue("WABOT_LOCATION", &cfg.System.Location)
	setEnvBool("WABOT_DEBUG", &cfg.System.Debug)
	setEnvValue("WABOT_DB_TYPE", &cfg.Database.Type)
	setEnvValue("WABOT_DB_HOST", &cfg.Database.Host)
	setEnvInt("WABOT_DB_PORT", &cfg.Database.Port)
	setEnvValue("WABOT_DB_NAME", &cfg.Database.Name)
	setEnvValue("WABOT_DB_USER", &cfg.Database.User)
	setEnvValue("WABOT_DB_PWD", &cfg.Database.Passwd)
	setEnvValue("WABOT_LOGGER_MODE", &cfg.Logger.Mode)
	setEnvBool("WABOT_LOGGER_FILE_ENABLE", &cfg.Logger.FileEnable)
	setEnvInt("WABOT_BOT_WORKERS", &cfg.Bot.Workers)
	setEnvInt("WABOT_BOT_PACING_MILLIS", &cfg.Bot.PacingMillis)
	setEnvBool("WABOT_LOGOUT_ON_RECONNECT", &cfg.Bot.LogoutOnReconnect)
	setEnvValue("WABOT_DATA_FILE", &cfg.Bot.DataFile)
	setEnvValue("WABOT_IDENTITY_FILE", &cfg.Bot.IdentityFile)
}

func setEnvValue(name string, val *string) {
	if v := strings.TrimSpace(os.Getenv(name)); v != "" {
		*val = v
	}
}

func setEnvInt(name string, val *int) {
	if v := strings.TrimSpace(os.Getenv(name)); v != "" {
		if p, err := cast.ToIntE(v); err == nil {
			*val = p
		}
	}
}

func setEnvBool(name string, val *bool) {
	if v := strings.TrimSpace(os.Getenv(name)); v != "" {
		if b, err := cast.ToBoolE(v); err == nil {
			*val = b
		}
	}
}
