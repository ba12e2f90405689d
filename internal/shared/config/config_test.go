package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Address)
	assert.Equal(t, CacheFile, cfg.Cache.Backend)
	assert.Equal(t, RemoteNone, cfg.Remote.Backend)
	assert.Equal(t, 7*24*time.Hour, cfg.Invitation.Expiry)
	assert.Equal(t, 10, cfg.Invitation.DefaultLinkMaxUses)
	assert.False(t, cfg.RemoteConfigured())
	assert.False(t, cfg.AuthConfigured())
}

func TestLoad_Environment(t *testing.T) {
	t.Setenv("TODOFLOW_REMOTE_BACKEND", "mongo")
	t.Setenv("TODOFLOW_MONGO_URI", "mongodb://localhost:27017")
	t.Setenv("TODOFLOW_JWT_SECRET", "from-env")
	t.Setenv("TODOFLOW_AUTH_E2E_TEST_MODE", "true")
	t.Setenv("TODOFLOW_LOG_LEVEL", "debug")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, RemoteMongo, cfg.Remote.Backend)
	assert.True(t, cfg.RemoteConfigured())
	assert.True(t, cfg.AuthConfigured())
	assert.True(t, cfg.Auth.E2ETestMode)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestConfig_RemoteConfigured(t *testing.T) {
	tests := []struct {
		name     string
		cfg      Config
		expected bool
	}{
		{"none", Config{Remote: RemoteConfig{Backend: RemoteNone}}, false},
		{"memory", Config{Remote: RemoteConfig{Backend: RemoteMemory}}, true},
		{
			"postgres complete",
			Config{
				Remote:   RemoteConfig{Backend: RemotePostgres},
				Database: DatabaseConfig{Host: "db", User: "todo", Database: "todoflow"},
			},
			true,
		},
		{
			"postgres without host",
			Config{Remote: RemoteConfig{Backend: RemotePostgres}, Database: DatabaseConfig{User: "todo", Database: "todoflow"}},
			false,
		},
		{"mongo without uri", Config{Remote: RemoteConfig{Backend: RemoteMongo}, Mongo: MongoConfig{Database: "todoflow"}}, false},
		{"unknown", Config{Remote: RemoteConfig{Backend: "firestore"}}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.cfg.RemoteConfigured())
		})
	}
}

func TestDatabaseConfig_DSN(t *testing.T) {
	c := DatabaseConfig{Host: "db", Port: 5432, User: "u", Password: "p", Database: "todoflow", SSLMode: "disable"}
	assert.Equal(t, "host=db port=5432 user=u password=p dbname=todoflow sslmode=disable", c.DSN())
}
