package resolver

import (
	"context"
	"fmt"
	"time"

	apperrors "notification-engine/internal/errors"
	"notification-engine/internal/logging"
	"notification-engine/internal/models"
)

// Directory is the read-only user lookup the recipient resolver needs.
type Directory interface {
	UsersInSectors(ctx context.Context, sectorIDs []string) ([]models.User, error)
	UsersByIDs(ctx context.Context, ids []string) ([]models.User, error)
	VacationingUserIDs(ctx context.Context, ids []string, dayStart, dayEnd time.Time) (map[string]bool, error)
}

// filterFunc keeps the users matching a relationship role in rc. Missing context
// yields an empty result.
type filterFunc func(users []models.User, rule models.TargetingRule, rc models.ResolutionContext) []models.User

var predefinedFilters = map[models.PredefinedFilter]filterFunc{
	models.FilterTaskAssignee: func(users []models.User, _ models.TargetingRule, rc models.ResolutionContext) []models.User {
		if rc.Task == nil || len(rc.Task.AssigneeIDs) == 0 {
			return nil
		}
		return keepIDs(users, rc.Task.AssigneeIDs...)
	},
	models.FilterTaskCreator: func(users []models.User, _ models.TargetingRule, rc models.ResolutionContext) []models.User {
		if rc.Task == nil || rc.Task.CreatorID == "" {
			return nil
		}
		return keepIDs(users, rc.Task.CreatorID)
	},
	models.FilterTaskSectorMembers: func(users []models.User, _ models.TargetingRule, rc models.ResolutionContext) []models.User {
		if rc.Task == nil || rc.Task.SectorID == "" {
			return nil
		}
		return keep(users, func(u models.User) bool { return u.SectorID == rc.Task.SectorID })
	},
	models.FilterSectorManager: func(users []models.User, _ models.TargetingRule, rc models.ResolutionContext) []models.User {
		if rc.Sector == nil || rc.Sector.ManagerID == "" {
			return nil
		}
		return keepIDs(users, rc.Sector.ManagerID)
	},
	models.FilterOrderRequester: func(users []models.User, _ models.TargetingRule, rc models.ResolutionContext) []models.User {
		if rc.Order == nil || rc.Order.RequesterID == "" {
			return nil
		}
		return keepIDs(users, rc.Order.RequesterID)
	},
	models.FilterServiceOrderAssignee: func(users []models.User, _ models.TargetingRule, rc models.ResolutionContext) []models.User {
		if rc.ServiceOrder == nil || rc.ServiceOrder.AssigneeID == "" {
			return nil
		}
		return keepIDs(users, rc.ServiceOrder.AssigneeID)
	},
	models.FilterAllInSectors: func(users []models.User, rule models.TargetingRule, _ models.ResolutionContext) []models.User {
		if len(rule.SectorIDs) == 0 {
			return nil
		}
		sectors := toSet(rule.SectorIDs)
		return keep(users, func(u models.User) bool { return sectors[u.SectorID] })
	},
}

// RecipientResolver expands a targeting rule into the users to notify.
type RecipientResolver struct {
	dir    Directory
	logger *logging.Logger
	loc    *time.Location
	now    func() time.Time
}

func NewRecipientResolver(dir Directory, logger *logging.Logger, loc *time.Location) *RecipientResolver {
	if loc == nil {
		loc = time.UTC
	}
	return &RecipientResolver{dir: dir, logger: logger, loc: loc, now: time.Now}
}

// Resolve returns the unique set of users rule selects. Order is not significant.
func (r *RecipientResolver) Resolve(ctx context.Context, rule models.TargetingRule, rc models.ResolutionContext) ([]models.User, error) {
	if rule.Filter != models.FilterNone {
		if _, ok := predefinedFilters[rule.Filter]; !ok {
			return nil, apperrors.NewInvalidRequest("unknown recipient filter %q", string(rule.Filter))
		}
	}

	users, err := r.dir.UsersInSectors(ctx, rule.SectorIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to load sector users: %w", err)
	}

	seen := make(map[string]bool, len(users))
	for _, u := range users {
		seen[u.ID] = true
	}
	var missing []string
	for _, id := range rule.IncludeUserIDs {
		if !seen[id] {
			missing = append(missing, id)
			seen[id] = true
		}
	}
	if len(missing) > 0 {
		included, err := r.dir.UsersByIDs(ctx, missing)
		if err != nil {
			return nil, fmt.Errorf("failed to load included users: %w", err)
		}
		users = append(users, included...)
	}
	users = dedupe(users)

	if len(rule.ExcludeUserIDs) > 0 {
		excluded := toSet(rule.ExcludeUserIDs)
		users = keep(users, func(u models.User) bool { return !excluded[u.ID] })
	}

	if rule.ShouldExcludeInactive() {
		users = keep(users, func(u models.User) bool { return u.Active })
	}

	if rule.ExcludeOnVacation && len(users) > 0 {
		now := r.now().In(r.loc)
		dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, r.loc)
		dayEnd := dayStart.Add(24*time.Hour - time.Nanosecond)
		away, err := r.dir.VacationingUserIDs(ctx, ids(users), dayStart, dayEnd)
		if err != nil {
			return nil, fmt.Errorf("failed to load vacations: %w", err)
		}
		users = keep(users, func(u models.User) bool { return !away[u.ID] })
	}

	if rule.Filter != models.FilterNone {
		before := len(users)
		users = predefinedFilters[rule.Filter](users, rule, rc)
		r.logger.Debugf("Recipient filter %s kept %d of %d users", rule.Filter, len(users), before)
	}

	return users, nil
}

func keep(users []models.User, pred func(models.User) bool) []models.User {
	out := make([]models.User, 0, len(users))
	for _, u := range users {
		if pred(u) {
			out = append(out, u)
		}
	}
	return out
}

func keepIDs(users []models.User, wanted ...string) []models.User {
	set := toSet(wanted)
	return keep(users, func(u models.User) bool { return set[u.ID] })
}

func dedupe(users []models.User) []models.User {
	seen := make(map[string]bool, len(users))
	return keep(users, func(u models.User) bool {
		if seen[u.ID] {
			return false
		}
		seen[u.ID] = true
		return true
	})
}

func toSet(values []string) map[string]bool {
	set := make(map[string]bool, len(values))
	for _, v := range values {
		set[v] = true
	}
	return set
}

func ids(users []models.User) []string {
	out := make([]string, 0, len(users))
	for _, u := range users {
		out = append(out, u.ID)
	}
	return out
}
