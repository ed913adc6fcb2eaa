package resolver

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"notification-engine/internal/logging"
	"notification-engine/internal/models"
)

type fakeDirectory struct {
	users    []models.User
	vacation map[string]bool
}

func (f *fakeDirectory) UsersInSectors(_ context.Context, sectorIDs []string) ([]models.User, error) {
	set := toSet(sectorIDs)
	return keep(f.users, func(u models.User) bool { return set[u.SectorID] }), nil
}

func (f *fakeDirectory) UsersByIDs(_ context.Context, wanted []string) ([]models.User, error) {
	return keepIDs(f.users, wanted...), nil
}

func (f *fakeDirectory) VacationingUserIDs(_ context.Context, wanted []string, _, _ time.Time) (map[string]bool, error) {
	out := map[string]bool{}
	for _, id := range wanted {
		if f.vacation[id] {
			out[id] = true
		}
	}
	return out, nil
}

func directory() *fakeDirectory {
	return &fakeDirectory{
		users: []models.User{
			{ID: "ana", SectorID: "prod", Active: true},
			{ID: "bruno", SectorID: "prod", Active: true},
			{ID: "carla", SectorID: "prod", Active: false},
			{ID: "davi", SectorID: "admin", Active: true},
			{ID: "eva", SectorID: "finance", Active: true},
		},
		vacation: map[string]bool{"bruno": true},
	}
}

func idsOf(users []models.User) []string {
	return ids(users)
}

func TestRecipientResolver(t *testing.T) {
	tests := []struct {
		name string
		rule models.TargetingRule
		rc   models.ResolutionContext
		want []string
	}{
		{
			name: "sector members exclude inactive by default",
			rule: models.TargetingRule{SectorIDs: []string{"prod"}},
			want: []string{"ana", "bruno"},
		},
		{
			name: "inactive kept when disabled",
			rule: models.TargetingRule{SectorIDs: []string{"prod"}, ExcludeInactive: boolPtr(false)},
			want: []string{"ana", "bruno", "carla"},
		},
		{
			name: "includes are unioned once and excludes removed",
			rule: models.TargetingRule{
				SectorIDs:      []string{"prod"},
				IncludeUserIDs: []string{"davi", "ana", "davi"},
				ExcludeUserIDs: []string{"bruno"},
			},
			want: []string{"ana", "davi"},
		},
		{
			name: "vacation excluded when asked",
			rule: models.TargetingRule{SectorIDs: []string{"prod"}, ExcludeOnVacation: true},
			want: []string{"ana"},
		},
		{
			name: "task assignee filter",
			rule: models.TargetingRule{SectorIDs: []string{"prod", "admin"}, Filter: models.FilterTaskAssignee},
			rc:   models.ResolutionContext{Task: &models.TaskRef{ID: "t1", AssigneeIDs: []string{"davi", "eva"}}},
			want: []string{"davi"},
		},
		{
			name: "task creator filter fails closed without task",
			rule: models.TargetingRule{SectorIDs: []string{"prod"}, Filter: models.FilterTaskCreator},
			want: []string{},
		},
		{
			name: "task sector members",
			rule: models.TargetingRule{SectorIDs: []string{"prod", "admin"}, Filter: models.FilterTaskSectorMembers},
			rc:   models.ResolutionContext{Task: &models.TaskRef{ID: "t1", SectorID: "admin"}},
			want: []string{"davi"},
		},
		{
			name: "sector manager",
			rule: models.TargetingRule{IncludeUserIDs: []string{"eva", "davi"}, Filter: models.FilterSectorManager},
			rc:   models.ResolutionContext{Sector: &models.Sector{ID: "finance", ManagerID: "eva"}},
			want: []string{"eva"},
		},
		{
			name: "order requester missing yields empty",
			rule: models.TargetingRule{IncludeUserIDs: []string{"eva"}, Filter: models.FilterOrderRequester},
			rc:   models.ResolutionContext{Order: &models.OrderRef{ID: "o1"}},
			want: []string{},
		},
		{
			name: "service order assignee",
			rule: models.TargetingRule{SectorIDs: []string{"prod"}, Filter: models.FilterServiceOrderAssignee},
			rc:   models.ResolutionContext{ServiceOrder: &models.ServiceOrderRef{ID: "so1", AssigneeID: "ana"}},
			want: []string{"ana"},
		},
		{
			name: "all in sectors drops explicit outsiders",
			rule: models.TargetingRule{SectorIDs: []string{"prod"}, IncludeUserIDs: []string{"eva"}, Filter: models.FilterAllInSectors},
			want: []string{"ana", "bruno"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRecipientResolver(directory(), logging.NewNop(), time.UTC)

			got, err := r.Resolve(context.Background(), tt.rule, tt.rc)
			require.NoError(t, err)
			assert.ElementsMatch(t, tt.want, idsOf(got))
		})
	}
}

func TestRecipientResolverRejectsUnknownFilter(t *testing.T) {
	r := NewRecipientResolver(directory(), logging.NewNop(), time.UTC)

	_, err := r.Resolve(context.Background(), models.TargetingRule{Filter: "NEIGHBOURS"}, models.ResolutionContext{})
	assert.Error(t, err)
}
