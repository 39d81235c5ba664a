package handler

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseListOpts(t *testing.T) {
	r := httptest.NewRequest("GET", "/api/trades?limit=9000&offset=20&strategy=arb&since=2026-10-18T09:00:00Z", nil)
	opts := parseListOpts(r)
	assert.Equal(t, maxPageSize, opts.Limit)
	assert.Equal(t, 20, opts.Offset)
	assert.Equal(t, "arb", opts.Strategy)
	require.NotNil(t, opts.Since)
	assert.True(t, opts.Since.Equal(time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC)))

	opts = parseListOpts(httptest.NewRequest("GET", "/api/trades?limit=-1&offset=x&since=yesterday", nil))
	assert.Equal(t, defaultPageSize, opts.Limit)
	assert.Zero(t, opts.Offset)
	assert.Nil(t, opts.Since)
}

func TestDecodeBody(t *testing.T) {
	var body struct {
		Reason string `json:"reason"`
	}
	require.NoError(t, decodeBody(httptest.NewRequest("POST", "/", nil), &body))
	require.NoError(t, decodeBody(httptest.NewRequest("POST", "/", strings.NewReader(`{"reason":"maintenance"}`)), &body))
	assert.Equal(t, "maintenance", body.Reason)
	assert.Error(t, decodeBody(httptest.NewRequest("POST", "/", strings.NewReader(`{"reason":`)), &body))
}
