// Package domain defines the persistence model for directory users and the
// transient call-signaling types exchanged between the HTTP and live
// connection boundaries and the dispatcher.
package domain

import (
	"strings"
	"time"
)

// Platform identifies how a user's endpoint is reached.
type Platform string

const (
	PlatformIOS     Platform = "ios"
	PlatformAndroid Platform = "android"
	PlatformWeb     Platform = "web"
)

// Valid reports whether p is one of the supported platforms.
func (p Platform) Valid() bool {
	switch p {
	case PlatformIOS, PlatformAndroid, PlatformWeb:
		return true
	}
	return false
}

// Mobile reports whether p is reached through vendor push services.
func (p Platform) Mobile() bool {
	return p == PlatformIOS || p == PlatformAndroid
}

// User is a directory record: a username bound to a platform and the device
// tokens needed to reach it.
//
// Fields:
//   - Username: primary key, chosen by the client at registration.
//   - Platform: ios, android or web.
//   - FCMToken: Firebase token; required for every non-web signal.
//   - IOSToken: APN VoIP token; required to ring an iOS device.
//   - CreatedAt / UpdatedAt: timestamps managed by GORM.
type User struct {
	Username  string    `json:"username"                 gorm:"type:varchar(128);primaryKey"`
	Platform  Platform  `json:"platform"                 gorm:"type:varchar(16);not null;check:platform IN ('ios','android','web')"`
	FCMToken  string    `json:"fcmDeviceToken,omitempty" gorm:"type:text"`
	IOSToken  string    `json:"iosDeviceToken,omitempty" gorm:"type:text"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName returns the database table name for User.
func (User) TableName() string { return "users" }

// HasFCMToken reports whether a Firebase token is registered.
func (u *User) HasFCMToken() bool {
	return u != nil && strings.TrimSpace(u.FCMToken) != ""
}

// HasIOSToken reports whether an APN VoIP token is registered.
func (u *User) HasIOSToken() bool {
	return u != nil && strings.TrimSpace(u.IOSToken) != ""
}
