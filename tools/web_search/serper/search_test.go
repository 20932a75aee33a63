package serper

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDiscover(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "key", r.Header.Get("X-API-KEY"))
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "hummingbird", body["q"])
		assert.EqualValues(t, 4, body["num"])
		_, _ = w.Write([]byte(`{"organic":[{"title":"A","link":"https://a.org","snippet":"s","position":1}]}`))
	}))
	defer srv.Close()

	out, err := Search{ApiKey: "key", BaseURL: srv.URL}.Discover(context.Background(), "hummingbird", 4, nil, 0)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "https://a.org", out[0].URL)
	assert.Equal(t, 1.0, out[0].Score)
}
