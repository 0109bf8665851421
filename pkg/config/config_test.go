package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFromEnvMapsPrefixedVariables(t *testing.T) {
	t.Setenv("MSGHUB_DATABASE_HOST", "db.internal")
	t.Setenv("MSGHUB_REDIS_PORT", "6380")
	t.Setenv("UNRELATED_VALUE", "ignored")

	c := FromEnv()

	assert.Equal(t, "db.internal", c.Get("database.host"))
	assert.Equal(t, 6380, c.GetInt("redis.port", 6379))
	assert.Equal(t, "", c.Get("unrelated.value"))
}

func TestGetDefault(t *testing.T) {
	c := New()
	c.Set("database.host", "localhost")

	assert.Equal(t, "localhost", c.GetDefault("database.host", "fallback"))
	assert.Equal(t, "fallback", c.GetDefault("database.port", "fallback"))
}

func TestGetIntMalformed(t *testing.T) {
	c := New()
	c.Set("database.port", "not-a-number")

	assert.Equal(t, 5432, c.GetInt("database.port", 5432))
}

func TestGetBool(t *testing.T) {
	c := New()
	c.Set("queue.enabled", "true")
	c.Set("queue.broken", "yes-please")

	assert.True(t, c.GetBool("queue.enabled", false))
	assert.False(t, c.GetBool("queue.broken", false))
	assert.True(t, c.GetBool("queue.missing", true))
}

func TestUpdateAndGetAll(t *testing.T) {
	c := New()
	c.Set("a", "1")
	c.Update(map[string]string{"b": "2", "a": "3"})

	all := c.GetAll()
	assert.Equal(t, map[string]string{"a": "3", "b": "2"}, all)

	// GetAll returns a copy
	all["a"] = "mutated"
	assert.Equal(t, "3", c.Get("a"))
}
