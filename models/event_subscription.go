package models

import "time"

type UserSubscription struct {
	UserID           int64     `json:"user_id" bson:"user_id"`
	User             string    `json:"user" bson:"user"`
	SubscriptionType string    `json:"subscription_type" bson:"subscription_type"`
	DateSubscribed   time.Time `json:"date_subscribed" bson:"date_subscribed"`
}
