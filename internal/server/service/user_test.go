package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vault/internal/server/metadata"
)

func TestUserService_Register(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, defaultRestore)

	u, err := h.users.Register(ctx, RegisterInput{Username: "alice", Email: "Alice@Example.com", Password: "correct horse"})
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", u.Email)
	assert.Equal(t, int64(1<<30), u.StorageQuota)
	assert.True(t, u.IsActive)
	assert.NotEqual(t, "correct horse", u.PasswordHash)
	assert.Equal(t, []metadata.AuditAction{metadata.ActionRegister}, h.auditActions(t, u.ID))

	tests := []struct {
		name string
		in   RegisterInput
		want error
	}{
		{"duplicate username", RegisterInput{Username: "alice", Email: "other@example.com", Password: "password1"}, ErrDuplicateName},
		{"duplicate email", RegisterInput{Username: "alice2", Email: "alice@example.com", Password: "password1"}, ErrDuplicateName},
		{"short username", RegisterInput{Username: "al", Email: "al@example.com", Password: "password1"}, ErrValidation},
		{"bad email", RegisterInput{Username: "carol", Email: "carol", Password: "password1"}, ErrValidation},
		{"short password", RegisterInput{Username: "dave", Email: "dave@example.com", Password: "short"}, ErrValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.users.Register(ctx, tt.in)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestUserService_Login(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, defaultRestore)
	u, err := h.users.Register(ctx, RegisterInput{Username: "bob", Email: "bob@example.com", Password: "hunter2hunter2"})
	require.NoError(t, err)

	got, err := h.users.Login(ctx, "bob", "hunter2hunter2")
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.ID)

	_, err = h.users.Login(ctx, "bob", "wrong-password")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = h.users.Login(ctx, "nobody", "hunter2hunter2")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	assert.Contains(t, h.auditActions(t, u.ID), metadata.ActionLogin)
}

func TestUserService_Usage(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, defaultRestore)
	u := h.user(t, 1000, 0)
	h.upload(t, u.ID, nil, "a", 100)
	gone := h.upload(t, u.ID, nil, "b", 50)
	_, err := h.files.Delete(ctx, u.ID, gone.ID)
	require.NoError(t, err)

	usage, err := h.users.Usage(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(100), usage.Used)
	assert.Equal(t, int64(900), usage.Available)

	// Simulate drift, then correct it.
	require.NoError(t, h.store.SetUsage(ctx, u.ID, 777))
	usage, err = h.users.RecomputeUsage(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(100), usage.Used)

	_, err = h.users.Usage(ctx, "ghost")
	assert.ErrorIs(t, err, ErrNotFound)
}
