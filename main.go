package main

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/dhcgn/pgpmime-decrypt/config"
	"github.com/dhcgn/pgpmime-decrypt/mailfile"
	"github.com/dhcgn/pgpmime-decrypt/pgp"
	"github.com/dhcgn/pgpmime-decrypt/pgpmime"
)

var rootCmd = &cobra.Command{
	Use:   "pgpmime-decrypt",
	Short: "Decrypt PGP/MIME (RFC 3156) encrypted email messages",
	Long: `pgpmime-decrypt reads a multipart/encrypted mail message, decrypts the
ciphertext part against an OpenPGP secret keyring and writes the message back
as multipart/mixed with the decrypted content as its first part.

Without --file the message is read from stdin and written to stdout; with
--file it is rewritten in place atomically. An mbox "From " envelope line is
reproduced verbatim when present.`,
	Version:       pgpmime.Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadConfig(cmd)
		if err != nil {
			return err
		}

		logger := setupLogger(cfg.LogLevel)
		slog.SetDefault(logger)

		return run(cfg, logger)
	},
}

func main() {
	if err := config.RegisterFlags(rootCmd); err != nil {
		fmt.Fprintf(os.Stderr, "failed to register CLI flags: %v\n", err)
		os.Exit(1)
	}

	if err := rootCmd.Execute(); err != nil {
		var backendErr *pgpmime.BackendError
		switch {
		case errors.As(err, &backendErr):
			fmt.Fprintf(os.Stderr, "decryption backend error: %v\n", backendErr.Err)
			os.Exit(2)
		case pgpmime.IsStructural(err):
			fmt.Fprintf(os.Stderr, "PGP/MIME error: %v\n", err)
			os.Exit(1)
		default:
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
	}
}

func run(cfg config.Config, logger *slog.Logger) error {
	decryptor, err := pgp.NewDecryptor(pgp.Options{
		KeyringPath: cfg.KeyringPath,
		Passphrase:  cfg.Passphrase,
	})
	if err != nil {
		return fmt.Errorf("load keyring: %w", err)
	}

	var msg *mailfile.Message
	if cfg.FilePath != "" {
		msg, err = mailfile.ReadFile(cfg.FilePath)
	} else {
		msg, err = mailfile.Read(os.Stdin)
	}
	if err != nil {
		return err
	}

	logger.Debug("message read", "bytes", len(msg.Raw), "envelope", msg.Envelope != "")

	opts := pgpmime.Options{KeepOriginal: cfg.KeepOriginal}
	if cfg.KeepOriginal {
		// The preserved original includes the envelope line when present.
		opts.OriginalBytes = mailfile.Render(msg.Envelope, msg.Raw)
	}

	out, err := pgpmime.Decrypt(msg.Raw, decryptor, opts)
	if err != nil {
		return err
	}

	var body bytes.Buffer
	if err := out.WriteTo(&body); err != nil {
		return fmt.Errorf("serialize decrypted message: %w", err)
	}
	data := mailfile.Render(msg.Envelope, body.Bytes())

	if cfg.FilePath != "" {
		if err := mailfile.WriteAtomic(cfg.FilePath, data); err != nil {
			return err
		}
		logger.Info("decrypted in place", "file", cfg.FilePath, "keepOriginal", cfg.KeepOriginal)
		return nil
	}

	_, err = os.Stdout.Write(data)
	return err
}

// setupLogger writes to stderr: stdout carries the decrypted message.
func setupLogger(logLevel string) *slog.Logger {
	level := new(slog.LevelVar)
	level.Set(slog.LevelInfo)

	switch logLevel {
	case "debug":
		level.Set(slog.LevelDebug)
	case "info":
		level.Set(slog.LevelInfo)
	case "warn":
		level.Set(slog.LevelWarn)
	case "error":
		level.Set(slog.LevelError)
	}

	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	return slog.New(handler)
}
