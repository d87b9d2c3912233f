package cmd

import (
	"testing"

	"github.com/bigkaa/sitepanel/internal/domain/model"
	"github.com/bigkaa/sitepanel/internal/domain/rbac"
)

func TestResolveRoleID(t *testing.T) {
	roles := []model.Role{
		{ID: 1, Name: "super_admin"},
		{ID: 2, Name: "admin"},
		{ID: 4, Name: "client"},
	}
	opts := rbac.AssignableRoles("admin", roles)

	tests := []struct {
		value   string
		want    int
		wantErr bool
	}{
		{"", 0, false},
		{"client", 4, false},
		{"4", 4, false},
		{" client ", 4, false},
		{"admin", 0, true},
		{"1", 0, true},
		{"unknown", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			got, err := resolveRoleID(opts, tt.value)
			if (err != nil) != tt.wantErr {
				t.Fatalf("resolveRoleID(%q) error = %v, wantErr %v", tt.value, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("resolveRoleID(%q) = %d, ожидается %d", tt.value, got, tt.want)
			}
		})
	}
}

func TestFullName(t *testing.T) {
	first, last, empty := "Marie", "Dupont", ""

	tests := []struct {
		name string
		user model.UserWithRole
		want string
	}{
		{"имя и фамилия", model.UserWithRole{UserProfile: model.UserProfile{FirstName: &first, LastName: &last}}, "Marie Dupont"},
		{"только фамилия", model.UserWithRole{UserProfile: model.UserProfile{LastName: &last}}, "Dupont"},
		{"пустые", model.UserWithRole{UserProfile: model.UserProfile{FirstName: &empty}}, "-"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := fullName(&tt.user); got != tt.want {
				t.Errorf("fullName = %q, ожидается %q", got, tt.want)
			}
		})
	}
}
