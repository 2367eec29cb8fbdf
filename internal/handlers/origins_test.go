package handlers

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResolveOriginsExplicitBaseURL(t *testing.T) {
	h := &RoomHandler{publicBaseURL: "https://chat.example.com", port: "3000"}

	req := httptest.NewRequest("GET", "http://localhost:3000/api/rooms", nil)
	local, public := h.resolveOrigins(req)

	assert.Equal(t, "http://localhost:3000", local)
	assert.Equal(t, "https://chat.example.com", public)
}

func TestResolveOriginsNonLocalHost(t *testing.T) {
	h := &RoomHandler{port: "3000"}

	req := httptest.NewRequest("GET", "http://chat.internal:3000/api/rooms", nil)
	local, public := h.resolveOrigins(req)

	assert.Equal(t, "http://chat.internal:3000", local)
	assert.Equal(t, local, public)
}

func TestResolveOriginsLocalhostFallsBack(t *testing.T) {
	h := &RoomHandler{port: "3000"}

	req := httptest.NewRequest("GET", "http://127.0.0.1:3000/api/rooms", nil)
	local, public := h.resolveOrigins(req)

	assert.Equal(t, "http://127.0.0.1:3000", local)
	// The public origin depends on the host interfaces; it must at least be
	// a usable http origin.
	assert.True(t, strings.HasPrefix(public, "http://"), public)
}
