package models

type Sector struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Privilege string `json:"privilege"`
	ManagerID string `json:"manager_id,omitempty"`
}

type User struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	Email        string   `json:"email,omitempty"`
	Phone        string   `json:"phone,omitempty"`
	Active       bool     `json:"active"`
	SectorID     string   `json:"sector_id,omitempty"`
	Sector       *Sector  `json:"sector,omitempty"`
	DeviceTokens []string `json:"device_tokens,omitempty"`
}

// SectorPrivilege returns the privilege of the user's sector, or "".
func (u User) SectorPrivilege() string {
	if u.Sector == nil {
		return ""
	}
	return u.Sector.Privilege
}

type VacationStatus string

const (
	VacationApproved   VacationStatus = "APPROVED"
	VacationInProgress VacationStatus = "IN_PROGRESS"
)
