package main

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/wesleyorama2/surge/internal/cli"
)

func TestMain_ExitCodes(t *testing.T) {
	assert.Equal(t, cli.ExitOK, Main([]string{"version"}))
	assert.Equal(t, cli.ExitSetupError, Main([]string{"run", "no-such-script"}))
	assert.Equal(t, cli.ExitSetupError, Main([]string{"bogus"}))
}
