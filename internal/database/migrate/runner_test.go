package migrate

import (
	"io/fs"
	"strings"
	"testing"

	"marketplace-chat/internal/database"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDirection(t *testing.T) {
	d, err := ParseDirection("up")
	require.NoError(t, err)
	assert.Equal(t, Up, d)

	d, err = ParseDirection("down")
	require.NoError(t, err)
	assert.Equal(t, Down, d)

	_, err = ParseDirection("sideways")
	assert.Error(t, err)
}

func TestRunRequiresDSN(t *testing.T) {
	assert.Error(t, Run("", Up))
}

func TestEmbeddedMigrationsArePaired(t *testing.T) {
	entries, err := fs.ReadDir(database.MigrationFS, "migrations")
	require.NoError(t, err)

	ups, downs := 0, 0
	for _, e := range entries {
		switch {
		case strings.HasSuffix(e.Name(), ".up.sql"):
			ups++
		case strings.HasSuffix(e.Name(), ".down.sql"):
			downs++
		}
	}
	assert.NotZero(t, ups)
	assert.Equal(t, ups, downs)
}
