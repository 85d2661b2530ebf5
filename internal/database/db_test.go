package database

import (
	"testing"

	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/queued-reservation/internal/config"
)

func TestDSN(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.DBConfig
		want string
	}{
		{
			name: "with password",
			cfg:  config.DBConfig{User: "app", Pass: "secret", Host: "db", Port: "3306", Name: "reservations"},
			want: "app:secret@tcp(db:3306)/reservations?charset=utf8mb4&parseTime=true&loc=UTC",
		},
		{
			name: "without password",
			cfg:  config.DBConfig{User: "app", Host: "localhost", Port: "3307", Name: "kv"},
			want: "app@tcp(localhost:3307)/kv?charset=utf8mb4&parseTime=true&loc=UTC",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DSN(tt.cfg)
			assert.Equal(t, tt.want, got)

			parsed, err := mysql.ParseDSN(got)
			require.NoError(t, err)
			assert.Equal(t, tt.cfg.Name, parsed.DBName)
			assert.True(t, parsed.ParseTime)
		})
	}
}
