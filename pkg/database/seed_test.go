package database

import (
	"context"
	"testing"

	"corpchat/internal/domain/chat"
	"corpchat/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestSeedGroupsIsIdempotent(t *testing.T) {
	ctx := context.Background()
	gw := repository.NewMemoryGateway()
	require.NoError(t, gw.CreateGroup(ctx, chat.Group{ID: "ops"}, []chat.Member{{UserID: "dave"}}))

	roster := map[string][]string{
		"eng": {"alice", "bob"},
		"ops": {"carol", "dave"},
	}
	res, err := SeedGroups(ctx, gw, roster, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, []string{"eng"}, res.Created)
	assert.Equal(t, []string{"ops"}, res.Updated)

	members, err := gw.GroupMembers(ctx, "ops")
	require.NoError(t, err)
	assert.Len(t, members, 2)

	res, err = SeedGroups(ctx, gw, roster, zap.NewNop())
	require.NoError(t, err)
	assert.Empty(t, res.Created)
	assert.Empty(t, res.Updated)
}
