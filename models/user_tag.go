package models

import (
	"evcs/types"
	"time"
)

type UserTag struct {
	IdTag          string     `json:"id_tag" bson:"id_tag"`
	Username       string     `json:"username" bson:"username"`
	Status         string     `json:"status" bson:"status"`
	Balance        float64    `json:"balance" bson:"balance"`
	ExpiryDate     *time.Time `json:"expiry_date,omitempty" bson:"expiry_date,omitempty"`
	ParentIdTag    string     `json:"parent_id_tag,omitempty" bson:"parent_id_tag,omitempty"`
	Note           string     `json:"note" bson:"note"`
	DateRegistered time.Time  `json:"date_registered" bson:"date_registered"`
}

// AuthorizationStatus status at the given time; an expired tag is reported as Expired
func (t *UserTag) AuthorizationStatus(now time.Time) types.AuthorizationStatus {
	status := types.GetAuthorizationStatus(t.Status)
	if status == types.AuthorizationStatusAccepted && t.ExpiryDate != nil && now.After(*t.ExpiryDate) {
		return types.AuthorizationStatusExpired
	}
	return status
}

func (t *UserTag) IdTagInfo(now time.Time) *types.IdTagInfo {
	info := types.NewIdTagInfo(t.AuthorizationStatus(now)).WithExpiry(t.ExpiryDate)
	info.ParentIdTag = t.ParentIdTag
	return info
}
