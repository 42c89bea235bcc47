package main

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"os"

	"rps-match-service/models"
	"rps-match-service/services"
)

// DigestCmd prints the commitment a client would submit for a choice.
type DigestCmd struct {
	Choice string `short:"c" required:"" enum:"rock,paper,scissors" help:"rock, paper or scissors"`
	Salt   string `short:"s" help:"Salt to bind into the digest; random when empty"`

	out io.Writer `kong:"-"`
}

func (c *DigestCmd) Run() error {
	choice, err := models.ParseChoice(c.Choice)
	if err != nil {
		return err
	}

	salt := c.Salt
	if salt == "" {
		buf := make([]byte, 16)
		if _, err := rand.Read(buf); err != nil {
			return fmt.Errorf("generate salt: %w", err)
		}
		salt = hex.EncodeToString(buf)
	}

	out := c.out
	if out == nil {
		out = os.Stdout
	}
	fmt.Fprintf(out, "choice: %s\nsalt:   %s\ncommit: %s\n", choice, salt, services.CommitDigest(choice, salt))
	return nil
}
