package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// User represents an account document. Only the fields the real-time core and
// the login endpoint need are modeled here; profile editing is out of scope.
type User struct {
	ID             primitive.ObjectID   `json:"id" bson:"_id,omitempty"`
	FirstName      string               `json:"firstName" bson:"firstName"`
	LastName       string               `json:"lastName" bson:"lastName"`
	Email          string               `json:"email" bson:"email"`
	Password       string               `json:"-" bson:"password"`
	ProfilePicture string               `json:"profilePicture" bson:"profilePicture"`
	Friends        []primitive.ObjectID `json:"friends" bson:"friends"`
	CreatedAt      time.Time            `json:"createdAt" bson:"createdAt"`
	UpdatedAt      time.Time            `json:"updatedAt" bson:"updatedAt"`
}
