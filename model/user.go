package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"gorm.io/gorm"
)

const (
	UserStatusDisabled = 0
	UserStatusEnabled  = 1
)

const (
	// RoleDefault is assigned to every account that carries no explicit roles.
	RoleDefault = "USER"
	// RoleAdmin unlocks operator endpoints.
	RoleAdmin = "ADMIN"
)

// RoleSet is an order-irrelevant set of role names. It is serialized as a JSON
// array at the storage boundary only; in-memory callers never see the encoded
// form.
type RoleSet map[string]struct{}

func NewRoleSet(roles ...string) RoleSet {
	set := make(RoleSet, len(roles))
	for _, role := range roles {
		set[role] = struct{}{}
	}
	return set
}

func (s RoleSet) Has(role string) bool {
	_, ok := s[role]
	return ok
}

func (s RoleSet) Add(role string) {
	s[role] = struct{}{}
}

func (s RoleSet) Remove(role string) {
	delete(s, role)
}

// List returns the roles in sorted order so serialized output is stable.
func (s RoleSet) List() []string {
	if len(s) == 0 {
		return []string{RoleDefault}
	}
	roles := make([]string, 0, len(s))
	for role := range s {
		roles = append(roles, role)
	}
	sort.Strings(roles)
	return roles
}

func (s RoleSet) Value() (driver.Value, error) {
	data, err := json.Marshal(s.List())
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

func (s *RoleSet) Scan(src any) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		*s = NewRoleSet(RoleDefault)
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("cannot scan %T into RoleSet", src)
	}
	if len(raw) == 0 {
		*s = NewRoleSet(RoleDefault)
		return nil
	}
	var roles []string
	if err := json.Unmarshal(raw, &roles); err != nil {
		return err
	}
	if len(roles) == 0 {
		roles = []string{RoleDefault}
	}
	*s = NewRoleSet(roles...)
	return nil
}

func (RoleSet) GormDataType() string {
	return "varchar(512)"
}

// User stores the account record. Password carries the bcrypt verifier and is
// never serialized outward.
type User struct {
	ID             uint64  `gorm:"primarykey"`
	Username       string  `gorm:"uniqueIndex;size:50;not null"`
	Password       string  `gorm:"size:64;not null" json:"-"`
	Email          string  `gorm:"uniqueIndex;size:256;not null"`
	Phone          *string `gorm:"uniqueIndex;size:20"`
	Nickname       string  `gorm:"size:64"`
	Status         int     `gorm:"default:1;not null"`
	Roles          RoleSet `gorm:"not null"`
	LastLoginAt    *time.Time
	LastLoginIP    string `gorm:"size:45"`
	LoginFailCount int    `gorm:"default:0;not null"`
	LockedUntil    *time.Time
	Version        uint64 `gorm:"default:0;not null"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
	DeletedAt      gorm.DeletedAt `gorm:"index"`
}

func (u *User) BeforeCreate(tx *gorm.DB) error {
	if u.ID == 0 {
		u.ID = GenerateID()
	}
	if len(u.Roles) == 0 {
		u.Roles = NewRoleSet(RoleDefault)
	}
	return nil
}

func (u *User) IsEnabled() bool {
	return u.Status == UserStatusEnabled
}

// IsLocked reports whether the account is locked at the given instant. Once the
// lock deadline passes the account is implicitly unlocked without a write.
func (u *User) IsLocked(now time.Time) bool {
	return u.LockedUntil != nil && now.Before(*u.LockedUntil)
}

func (u *User) HasRole(role string) bool {
	if len(u.Roles) == 0 {
		return role == RoleDefault
	}
	return u.Roles.Has(role)
}

func (u *User) DisplayName() string {
	if u.Nickname != "" {
		return u.Nickname
	}
	return u.Username
}
