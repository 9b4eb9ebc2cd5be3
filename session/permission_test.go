package session

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sangram0022/user-mn-go/apiclient"
)

func TestHasPermission(t *testing.T) {
	tests := []struct {
		name       string
		user       *apiclient.UserProfile
		permission string
		want       bool
	}{
		{
			name:       "nil user",
			user:       nil,
			permission: "manage_users",
			want:       false,
		},
		{
			name: "superuser bypasses role checks",
			user: &apiclient.UserProfile{
				IsSuperuser: true,
				Role:        nil,
			},
			permission: "anything_at_all",
			want:       true,
		},
		{
			name: "nil role denies",
			user: &apiclient.UserProfile{
				Role: nil,
			},
			permission: "manage_users",
			want:       false,
		},
		{
			name: "permission in role list",
			user: &apiclient.UserProfile{
				Role: &apiclient.Role{Name: "editor", Permissions: []string{"read", "write"}},
			},
			permission: "write",
			want:       true,
		},
		{
			name: "permission not in role list",
			user: &apiclient.UserProfile{
				Role: &apiclient.Role{Name: "editor", Permissions: []string{"read", "write"}},
			},
			permission: "delete",
			want:       false,
		},
		{
			name: "admin role name grants regardless of list",
			user: &apiclient.UserProfile{
				Role: &apiclient.Role{Name: "admin", Permissions: nil},
			},
			permission: "manage_users",
			want:       true,
		},
		{
			name: "role name match is exact",
			user: &apiclient.UserProfile{
				Role: &apiclient.Role{Name: "administrator"},
			},
			permission: "manage_users",
			want:       false,
		},
		{
			name: "empty permission string",
			user: &apiclient.UserProfile{
				Role: &apiclient.Role{Name: "editor", Permissions: []string{"read"}},
			},
			permission: "",
			want:       false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, HasPermission(tt.user, tt.permission))
		})
	}
}

func TestControllerHasPermission(t *testing.T) {
	api := &fakeAPI{loginFn: okLogin, profileFn: okProfile}
	c, _, _ := newTestController(t, api)

	assert.False(t, c.HasPermission("manage_users"))

	if err := c.Login(context.Background(), "admin@example.com", "pw"); err != nil {
		t.Fatalf("login: %v", err)
	}
	assert.True(t, c.HasPermission("manage_users"))
	assert.True(t, c.HasPermission("anything"), "admin role name grants all")

	_ = c.Logout(context.Background())
	assert.False(t, c.HasPermission("manage_users"))
}
