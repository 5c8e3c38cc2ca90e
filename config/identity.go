package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/araddon/dateparse"
	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	// LicensePeriod is how long an install stays enabled.
	LicensePeriod = 365 * 24 * time.Hour

	DisabledClientID  = ""
	DisabledBotNumber = "5511111111111"
	DisabledTrigger   = "*"
)

// Identity is the session identity consumed read-only by the core.
type Identity struct {
	ClientID    string `json:"CLIENT_ID"`
	BotNumber   string `json:"BOT_NUMBER"`
	TriggerWord string `json:"TRIGGER_WORD"`
	InstallDate string `json:"installDate"`
}

// Disabled reports whether the identity was reset by license expiry.
func (i *Identity) Disabled() bool {
	return i.TriggerWord == DisabledTrigger
}

func (i *Identity) disable() {
	i.ClientID = DisabledClientID
	i.BotNumber = DisabledBotNumber
	i.TriggerWord = DisabledTrigger
}

// savedIdentity distinguishes absent keys from empty values when merging.
type savedIdentity struct {
	ClientID    *string `json:"CLIENT_ID"`
	BotNumber   *string `json:"BOT_NUMBER"`
	TriggerWord *string `json:"TRIGGER_WORD"`
	InstallDate *string `json:"installDate"`
}

// IdentityDefaults reads CLIENT_ID, BOT_NUMBER and TRIGGER_WORD from the environment.
func IdentityDefaults() Identity {
	return Identity{
		ClientID:    getEnv("CLIENT_ID", "botLocal1"),
		BotNumber:   getEnv("BOT_NUMBER", "5512997507961"),
		TriggerWord: getEnv("TRIGGER_WORD", "oi"),
	}
}

// LoadIdentity merges the identity file over defaults, applies license expiry and
// writes the result back. Write failures are logged, not returned.
func LoadIdentity(path string, defaults Identity, now time.Time) (*Identity, error) {
	id := defaults
	id.InstallDate = ""
	stamp := now.UTC().Format(time.RFC3339Nano)

	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		id.InstallDate = stamp
		zap.L().Info("identity: first run registered", zap.String("install_date", stamp))
	case err != nil:
		return nil, errors.Wrapf(err, "read identity file %s", path)
	default:
		var saved savedIdentity
		if uerr := json.Unmarshal(data, &saved); uerr != nil {
			zap.L().Error("identity: unreadable identity file, using defaults", zap.String("path", path), zap.Error(uerr))
			id.InstallDate = stamp
			break
		}
		merge(&id, &saved)
		installed, perr := dateparse.ParseAny(strings.TrimSpace(id.InstallDate))
		if perr != nil {
			zap.L().Warn("identity: invalid install date, stamping now", zap.String("install_date", id.InstallDate))
			id.InstallDate = stamp
			break
		}
		if now.Sub(installed) >= LicensePeriod {
			id.disable()
			zap.L().Warn("identity: license expired, identity reset to disabled defaults",
				zap.Time("installed", installed))
		}
	}

	if werr := SaveIdentity(path, &id); werr != nil {
		zap.L().Error("identity: failed to write identity file", zap.String("path", path), zap.Error(werr))
	}
	return &id, nil
}

// SaveIdentity writes the identity file pretty-printed.
func SaveIdentity(path string, id *Identity) error {
	data, err := json.MarshalIndent(id, "", "  ")
	if err != nil {
		return errors.Wrap(err, "encode identity")
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return errors.Wrap(err, "create identity dir")
		}
	}
	return errors.Wrap(os.WriteFile(path, data, 0o644), "write identity")
}

func merge(id *Identity, saved *savedIdentity) {
	if saved.ClientID != nil {
		id.ClientID = *saved.ClientID
	}
	if saved.BotNumber != nil {
		id.BotNumber = *saved.BotNumber
	}
	if saved.TriggerWord != nil {
		id.TriggerWord = *saved.TriggerWord
	}
	if saved.InstallDate != nil {
		id.InstallDate = *saved.InstallDate
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
