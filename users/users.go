package users

import (
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
)

// User is a dashboard subscriber. Subscribers authenticate with their email and
// the subscription key issued to them.
type User struct {
	ID                  string    `json:"id,omitempty"`
	Email               string    `json:"email,omitempty"`
	SubscriptionKeyHash string    `json:"-"` // never serialize
	DateJoined          time.Time `json:"date_joined,omitempty"`
	LastLogin           time.Time `json:"last_login,omitempty"`
	Blocked             bool      `json:"blocked,omitempty"` // Blocked, has the user been blocked from logging in
}

// NormaliseEmail is the form emails are stored and looked up in.
func NormaliseEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func HashSubscriptionKey(key string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	return string(bytes), err
}

func CheckSubscriptionKeyHash(key, hash string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(key))
	return err == nil
}

// CheckSubscriptionKey reports whether key matches the user's stored hash
func (u *User) CheckSubscriptionKey(key string) bool {
	return CheckSubscriptionKeyHash(key, u.SubscriptionKeyHash)
}

// NewUser creates a user holding only the bcrypt hash of subscriptionKey.
func NewUser(email, subscriptionKey string, now time.Time) (*User, error) {
	hash, err := HashSubscriptionKey(subscriptionKey)
	if err != nil {
		return nil, err
	}
	return &User{
		Email:               NormaliseEmail(email),
		SubscriptionKeyHash: hash,
		DateJoined:          now,
	}, nil
}
