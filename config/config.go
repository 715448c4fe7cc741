package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

// Config captures all command-line options required to decrypt a message.
type Config struct {
	FilePath     string
	KeepOriginal bool
	KeyringPath  string
	Passphrase   string
	LogLevel     string
}

// RegisterFlags attaches all CLI flags to the provided command.
func RegisterFlags(cmd *cobra.Command) error {
	flags := cmd.Flags()
	flags.StringP("file", "f", "", "Decrypt this file in place instead of reading stdin and writing stdout")
	flags.BoolP("keep-original", "k", false, "Attach the original encrypted message as a message/rfc822 part (off unless given)")
	flags.String("keyring", "", "Path to the OpenPGP secret keyring, armored or binary")
	flags.String("passphrase", "", "Private key passphrase (falls back to PGPMIME_PASSPHRASE env var)")
	flags.String("log-level", "info", "Logging level: debug, info, warn, error")

	return cmd.MarkFlagRequired("keyring")
}

// LoadConfig converts the parsed Cobra flags into a Config struct with validation.
func LoadConfig(cmd *cobra.Command) (Config, error) {
	flags := cmd.Flags()

	filePath, err := flags.GetString("file")
	if err != nil {
		return Config{}, err
	}
	keepOriginal, err := flags.GetBool("keep-original")
	if err != nil {
		return Config{}, err
	}
	keyringPath, err := flags.GetString("keyring")
	if err != nil {
		return Config{}, err
	}
	passphrase, err := flags.GetString("passphrase")
	if err != nil {
		return Config{}, err
	}
	logLevel, err := flags.GetString("log-level")
	if err != nil {
		return Config{}, err
	}

	if passphrase == "" {
		passphrase = os.Getenv("PGPMIME_PASSPHRASE")
	}

	logLevel = strings.ToLower(logLevel)
	if logLevel == "warning" {
		logLevel = "warn"
	}

	cfg := Config{
		FilePath:     filePath,
		KeepOriginal: keepOriginal,
		KeyringPath:  keyringPath,
		Passphrase:   passphrase,
		LogLevel:     logLevel,
	}

	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func validateConfig(cfg Config) error {
	if cfg.KeyringPath == "" {
		return fmt.Errorf("--keyring is required")
	}

	switch cfg.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid --log-level: %s", cfg.LogLevel)
	}

	return nil
}
