package ratelimit

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPerIP_BurstThenDeny(t *testing.T) {
	p := NewPerIP(3)
	r := httptest.NewRequest("POST", "/v1/init", nil)
	r.RemoteAddr = "203.0.113.5:4242"

	for i := 0; i < 3; i++ {
		assert.True(t, p.Allow(r), "request %d should pass", i)
	}
	assert.False(t, p.Allow(r))
}

func TestPerIP_SeparateClients(t *testing.T) {
	p := NewPerIP(1)
	a := httptest.NewRequest("POST", "/v1/init", nil)
	a.RemoteAddr = "203.0.113.5:1111"
	b := httptest.NewRequest("POST", "/v1/init", nil)
	b.RemoteAddr = "203.0.113.6:2222"

	assert.True(t, p.Allow(a))
	assert.False(t, p.Allow(a))
	assert.True(t, p.Allow(b))
}

func TestClientIP(t *testing.T) {
	r := httptest.NewRequest("POST", "/v1/init", nil)
	r.RemoteAddr = "203.0.113.5:4242"
	assert.Equal(t, "203.0.113.5", clientIP(r))

	r.Header.Set("X-Forwarded-For", "198.51.100.7, 10.0.0.1")
	assert.Equal(t, "198.51.100.7", clientIP(r))
}
