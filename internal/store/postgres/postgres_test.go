package postgres

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/perpbot/internal/domain"
)

func TestDSN(t *testing.T) {
	tests := []struct {
		name string
		cfg  ClientConfig
		want string
	}{
		{
			name: "explicit dsn wins",
			cfg:  ClientConfig{DSN: "postgres://x", Host: "ignored"},
			want: "postgres://x",
		},
		{
			name: "defaults port and sslmode",
			cfg:  ClientConfig{Host: "db", Database: "perpbot", User: "u", Password: "p"},
			want: "postgres://u:p@db:5432/perpbot?sslmode=disable",
		},
		{
			name: "custom port and sslmode",
			cfg:  ClientConfig{Host: "db", Port: 6543, Database: "d", User: "u", Password: "p", SSLMode: "require"},
			want: "postgres://u:p@db:6543/d?sslmode=require",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DSN(tt.cfg))
		})
	}
}

func TestMigrationFilesOrdered(t *testing.T) {
	names, err := migrationFiles()
	require.NoError(t, err)
	assert.Equal(t, []string{"001_accounts.sql", "002_audit_log.sql"}, names)
}

func TestBuildAuditQuery(t *testing.T) {
	since := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	q, args := buildAuditQuery("acct", domain.ListOpts{Since: &since, Limit: 10, Offset: 5})
	assert.Equal(t,
		"SELECT id, account_id, event, detail, created_at FROM audit_log WHERE 1=1"+
			" AND account_id = $1 AND created_at >= $2 ORDER BY created_at DESC, id DESC LIMIT $3 OFFSET $4",
		q)
	assert.Equal(t, []any{"acct", since, 10, 5}, args)

	q, args = buildAuditQuery("", domain.ListOpts{})
	assert.NotContains(t, q, "account_id =")
	assert.Empty(t, args)
}
