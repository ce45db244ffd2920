package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRootCmdRegistersExpectedSubcommands(t *testing.T) {
	root := RootCmd()

	names := map[string]bool{}
	for _, cmd := range root.Commands() {
		names[cmd.Name()] = true
	}

	assert.True(t, names["serve"])
	assert.True(t, names["migrate"])
	assert.True(t, names["healthcheck"])
}

func TestServeCmdDefinesSkipMigrationsFlag(t *testing.T) {
	cmd := ServeCmd()
	flag := cmd.Flags().Lookup("skip-migrations")
	if assert.NotNil(t, flag) {
		assert.Equal(t, "false", flag.DefValue)
	}
}
