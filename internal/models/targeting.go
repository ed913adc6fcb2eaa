package models

// PredefinedFilter narrows recipients by their relationship to context entities.
type PredefinedFilter string

const (
	FilterNone                 PredefinedFilter = ""
	FilterTaskAssignee         PredefinedFilter = "TASK_ASSIGNEE"
	FilterTaskCreator          PredefinedFilter = "TASK_CREATOR"
	FilterTaskSectorMembers    PredefinedFilter = "TASK_SECTOR_MEMBERS"
	FilterSectorManager        PredefinedFilter = "SECTOR_MANAGER"
	FilterOrderRequester       PredefinedFilter = "ORDER_REQUESTER"
	FilterServiceOrderAssignee PredefinedFilter = "SERVICE_ORDER_ASSIGNEE"
	FilterAllInSectors         PredefinedFilter = "ALL_IN_SECTORS"
)

// TargetingRule selects recipients. ExcludeInactive defaults to true, so it is a
// pointer to tell "unset" from false.
type TargetingRule struct {
	SectorIDs         []string         `json:"sector_ids,omitempty"`
	IncludeUserIDs    []string         `json:"include_user_ids,omitempty"`
	ExcludeUserIDs    []string         `json:"exclude_user_ids,omitempty"`
	ExcludeInactive   *bool            `json:"exclude_inactive,omitempty"`
	ExcludeOnVacation bool             `json:"exclude_on_vacation,omitempty"`
	Filter            PredefinedFilter `json:"filter,omitempty"`
}

func (r TargetingRule) ShouldExcludeInactive() bool {
	return r.ExcludeInactive == nil || *r.ExcludeInactive
}

type TaskRef struct {
	ID          string   `json:"id"`
	CreatorID   string   `json:"creator_id,omitempty"`
	AssigneeIDs []string `json:"assignee_ids,omitempty"`
	SectorID    string   `json:"sector_id,omitempty"`
}

type OrderRef struct {
	ID          string `json:"id"`
	RequesterID string `json:"requester_id,omitempty"`
}

type ServiceOrderRef struct {
	ID         string `json:"id"`
	AssigneeID string `json:"assignee_id,omitempty"`
}

// ResolutionContext carries the entities a predefined filter inspects.
type ResolutionContext struct {
	Task         *TaskRef         `json:"task,omitempty"`
	Order        *OrderRef        `json:"order,omitempty"`
	ServiceOrder *ServiceOrderRef `json:"service_order,omitempty"`
	Sector       *Sector          `json:"sector,omitempty"`
}
