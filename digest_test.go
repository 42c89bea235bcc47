package main

import (
	"bytes"
	"strings"
	"testing"

	"rps-match-service/models"
	"rps-match-service/services"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDigestCmd(t *testing.T) {
	var out bytes.Buffer
	cmd := &DigestCmd{Choice: "rock", Salt: "abc", out: &out}
	require.NoError(t, cmd.Run())
	assert.Contains(t, out.String(), "commit: 4804d6d5989673c5cac007954572bdf7c7ab47ac86441449e504e1dc430c71de")
}

func TestDigestCmdGeneratesSalt(t *testing.T) {
	var out bytes.Buffer
	cmd := &DigestCmd{Choice: "paper", out: &out}
	require.NoError(t, cmd.Run())

	fields := map[string]string{}
	for _, line := range strings.Split(strings.TrimSpace(out.String()), "\n") {
		k, v, ok := strings.Cut(line, ":")
		require.True(t, ok)
		fields[k] = strings.TrimSpace(v)
	}
	require.Len(t, fields["salt"], 32)
	assert.True(t, services.VerifyCommit(fields["commit"], models.Paper, fields["salt"]))
}

func TestDigestCmdRejectsUnknownChoice(t *testing.T) {
	cmd := &DigestCmd{Choice: "lizard", out: &bytes.Buffer{}}
	assert.Error(t, cmd.Run())
}
