package types

import "time"

type AuthorizationStatus string

const (
	AuthorizationStatusAccepted     AuthorizationStatus = "Accepted"
	AuthorizationStatusBlocked      AuthorizationStatus = "Blocked"
	AuthorizationStatusExpired      AuthorizationStatus = "Expired"
	AuthorizationStatusInvalid      AuthorizationStatus = "Invalid"
	AuthorizationStatusConcurrentTx AuthorizationStatus = "ConcurrentTx"
)

// GetAuthorizationStatus maps a stored status string, anything unrecognized is Invalid
func GetAuthorizationStatus(status string) AuthorizationStatus {
	switch AuthorizationStatus(status) {
	case AuthorizationStatusAccepted:
		return AuthorizationStatusAccepted
	case AuthorizationStatusBlocked:
		return AuthorizationStatusBlocked
	case AuthorizationStatusExpired:
		return AuthorizationStatusExpired
	case AuthorizationStatusConcurrentTx:
		return AuthorizationStatusConcurrentTx
	default:
		return AuthorizationStatusInvalid
	}
}

type IdTagInfo struct {
	ExpiryDate  *DateTime           `json:"expiryDate,omitempty" validate:"omitempty"`
	ParentIdTag string              `json:"parentIdTag,omitempty" validate:"omitempty,max=20"`
	Status      AuthorizationStatus `json:"status" validate:"required,authorizationStatus"`
}

func NewIdTagInfo(status AuthorizationStatus) *IdTagInfo {
	return &IdTagInfo{Status: status}
}

func (i *IdTagInfo) WithExpiry(expiry *time.Time) *IdTagInfo {
	if expiry != nil {
		i.ExpiryDate = NewDateTime(*expiry)
	}
	return i
}
