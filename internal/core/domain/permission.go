package domain

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Permission is a single capability a credential can carry.
type Permission uint8

const (
	PermissionDeposit Permission = 1 << iota
	PermissionTransfer
	PermissionRead
)

var permissionNames = []struct {
	p    Permission
	name string
}{
	{PermissionDeposit, "deposit"},
	{PermissionTransfer, "transfer"},
	{PermissionRead, "read"},
}

func (p Permission) String() string {
	for _, pn := range permissionNames {
		if pn.p == p {
			return pn.name
		}
	}
	return fmt.Sprintf("permission(%d)", uint8(p))
}

// ParsePermission maps a wire name to its Permission.
func ParsePermission(name string) (Permission, error) {
	for _, pn := range permissionNames {
		if pn.name == strings.ToLower(strings.TrimSpace(name)) {
			return pn.p, nil
		}
	}
	return 0, fmt.Errorf("unknown permission %q", name)
}

// PermissionSet is a bitmask of permissions. It is persisted as its integer
// value and rendered as a list of names everywhere else.
type PermissionSet uint8

// FullPermissions is granted to first-party bearer sessions.
const FullPermissions = PermissionSet(PermissionDeposit | PermissionTransfer | PermissionRead)

func NewPermissionSet(perms ...Permission) PermissionSet {
	var s PermissionSet
	for _, p := range perms {
		s |= PermissionSet(p)
	}
	return s
}

// ParsePermissionSet decodes a list of names. Duplicates collapse; an empty
// list or an unknown name is an error.
func ParsePermissionSet(names []string) (PermissionSet, error) {
	if len(names) == 0 {
		return 0, fmt.Errorf("permission set must not be empty")
	}
	var s PermissionSet
	for _, n := range names {
		p, err := ParsePermission(n)
		if err != nil {
			return 0, err
		}
		s |= PermissionSet(p)
	}
	return s, nil
}

func (s PermissionSet) Has(p Permission) bool {
	return p != 0 && s&PermissionSet(p) == PermissionSet(p)
}

func (s PermissionSet) IsEmpty() bool {
	return s == 0
}

// Valid reports whether s is non-empty and carries only known bits.
func (s PermissionSet) Valid() bool {
	return s != 0 && s&^FullPermissions == 0
}

// SubsetOf reports whether every permission in s is also in other.
func (s PermissionSet) SubsetOf(other PermissionSet) bool {
	return s&^other == 0
}

// Names lists the permissions in canonical order.
func (s PermissionSet) Names() []string {
	names := make([]string, 0, len(permissionNames))
	for _, pn := range permissionNames {
		if s.Has(pn.p) {
			names = append(names, pn.name)
		}
	}
	return names
}

func (s PermissionSet) String() string {
	return strings.Join(s.Names(), ",")
}

func (s PermissionSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Names())
}

func (s *PermissionSet) UnmarshalJSON(data []byte) error {
	var names []string
	if err := json.Unmarshal(data, &names); err != nil {
		return err
	}
	parsed, err := ParsePermissionSet(names)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}
