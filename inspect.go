package main

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/emersion/go-message"
	"github.com/spf13/cobra"

	"github.com/dhcgn/pgpmime-decrypt/mailfile"
	"github.com/dhcgn/pgpmime-decrypt/pgpmime"
)

var inspectCmd = &cobra.Command{
	Use:           "inspect [file]",
	Short:         "Show the MIME part tree of a message and whether it can be decrypted",
	Args:          cobra.MaximumNArgs(1),
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		var msg *mailfile.Message
		var err error
		if len(args) == 1 {
			msg, err = mailfile.ReadFile(args[0])
		} else {
			msg, err = mailfile.Read(os.Stdin)
		}
		if err != nil {
			return err
		}

		if msg.Envelope != "" {
			fmt.Println("Envelope:", msg.Envelope)
		}

		ent, err := message.Read(bytes.NewReader(msg.Raw))
		if err != nil && !message.IsUnknownCharset(err) {
			return fmt.Errorf("parse message: %w", err)
		}
		printTree(ent, 0)

		if err := pgpmime.Validate(msg.Raw); err != nil {
			return err
		}
		fmt.Println("PGP/MIME: decryptable")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(inspectCmd)
}

func printTree(ent *message.Entity, depth int) {
	mediaType, params, err := ent.Header.ContentType()
	if err != nil {
		mediaType = "(unparseable content type)"
	}

	line := strings.Repeat("  ", depth) + mediaType
	if protocol := params["protocol"]; protocol != "" {
		line += fmt.Sprintf("; protocol=%q", protocol)
	}
	fmt.Println(line)

	mr := ent.MultipartReader()
	if mr == nil {
		return
	}
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			return
		}
		if err != nil {
			fmt.Println(strings.Repeat("  ", depth+1) + "(unreadable part)")
			return
		}
		printTree(part, depth+1)
	}
}
