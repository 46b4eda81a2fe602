package database

import (
	"context"
	"errors"
	"sort"

	"corpchat/internal/domain/chat"
	"corpchat/internal/repository"
	corpchat_errors "corpchat/pkg/errors"

	"go.uber.org/zap"
)

// SeedResult summarizes a seeding run.
type SeedResult struct {
	Created []string
	Updated []string
}

// SeedGroups makes sure every configured group exists with at least the listed members.
// Existing groups keep their other members. Group IDs are processed in sorted order.
func SeedGroups(ctx context.Context, groups repository.GroupRepository, roster map[string][]string, log *zap.Logger) (SeedResult, error) {
	ids := make([]string, 0, len(roster))
	for id := range roster {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var res SeedResult
	for _, id := range ids {
		members := make([]chat.Member, 0, len(roster[id]))
		for _, userID := range roster[id] {
			members = append(members, chat.Member{UserID: userID, Role: chat.RoleMember})
		}

		err := groups.CreateGroup(ctx, chat.Group{ID: id, Name: id}, members)
		switch {
		case err == nil:
			res.Created = append(res.Created, id)
			log.Info("seeded group", zap.String("group_id", id), zap.Int("members", len(members)))
			continue
		case !errors.Is(err, corpchat_errors.ErrAlreadyExists):
			return res, err
		}

		added := 0
		for _, m := range members {
			ok, err := groups.IsGroupMember(ctx, id, m.UserID)
			if err != nil {
				return res, err
			}
			if ok {
				continue
			}
			m.GroupID = id
			if err := groups.AddGroupMember(ctx, m); err != nil && !errors.Is(err, corpchat_errors.ErrAlreadyExists) {
				return res, err
			}
			added++
		}
		if added > 0 {
			res.Updated = append(res.Updated, id)
			log.Info("extended group", zap.String("group_id", id), zap.Int("added", added))
		}
	}
	return res, nil
}
