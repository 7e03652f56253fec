package env

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetEnv_PrefersLoadedMap(t *testing.T) {
	Env = map[string]string{"PORTAL_TEST_KEY": "from-map"}
	t.Cleanup(func() { Env = nil })
	t.Setenv("PORTAL_TEST_KEY", "from-os")

	assert.Equal(t, "from-map", GetEnv("PORTAL_TEST_KEY", "def"))
}

func TestGetEnv_FallsBackToOSThenDefault(t *testing.T) {
	Env = nil
	t.Setenv("PORTAL_TEST_OS_ONLY", "os")

	assert.Equal(t, "os", GetEnv("PORTAL_TEST_OS_ONLY", "def"))
	assert.Equal(t, "def", GetEnv("PORTAL_TEST_MISSING", "def"))
}

func TestGetEnvInt(t *testing.T) {
	Env = map[string]string{"WORKERS": "7", "BROKEN": "seven"}
	t.Cleanup(func() { Env = nil })

	assert.Equal(t, 7, GetEnvInt("WORKERS", 3))
	assert.Equal(t, 3, GetEnvInt("BROKEN", 3))
	assert.Equal(t, 3, GetEnvInt("ABSENT", 3))
}

func TestGetEnvBool(t *testing.T) {
	Env = map[string]string{"ON": "true", "OFF": "0", "BROKEN": "maybe"}
	t.Cleanup(func() { Env = nil })

	assert.True(t, GetEnvBool("ON", false))
	assert.False(t, GetEnvBool("OFF", true))
	assert.True(t, GetEnvBool("BROKEN", true))
}
