package testdb

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/Skotchmaster/tunehub/services/auth/internal/models"
)

func TestOpen_UsesSharedConfig(t *testing.T) {
	t.Parallel()

	gdb := Open(t)

	assert.Equal(t, time.UTC, gdb.Config.NowFunc().Location())
	assert.False(t, gdb.Config.PrepareStmt)

	u := models.User{Username: "ann", Email: "ann@example.com", PasswordHash: "h", Role: "USER", Enabled: true}
	require.NoError(t, gdb.Create(&u).Error)
	dup := models.User{Username: "ann", Email: "other@example.com", PasswordHash: "h", Role: "USER", Enabled: true}
	assert.ErrorIs(t, gdb.Create(&dup).Error, gorm.ErrDuplicatedKey)
}
