// ABOUTME: Tests for the per-request auth context
// ABOUTME: Covers Vary merging and exactly-once response callbacks

package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMergeVary(t *testing.T) {
	tests := []struct {
		name     string
		existing []string
		names    []string
		want     []string
	}{
		{
			name:  "empty response",
			names: []string{"Cookie"},
			want:  []string{"Cookie"},
		},
		{
			name:     "keeps existing values first",
			existing: []string{"Accept-Encoding"},
			names:    []string{"Cookie"},
			want:     []string{"Accept-Encoding, Cookie"},
		},
		{
			name:     "case-insensitive duplicate",
			existing: []string{"cookie"},
			names:    []string{"Cookie"},
			want:     []string{"cookie"},
		},
		{
			name:     "multiple header lines collapse",
			existing: []string{"Accept", "Accept-Language, Origin"},
			names:    []string{"Authorization", "origin"},
			want:     []string{"Accept, Accept-Language, Origin, Authorization"},
		},
		{
			name:     "duplicate names within the request",
			existing: nil,
			names:    []string{"authorization", "Authorization"},
			want:     []string{"Authorization"},
		},
		{
			name:     "blank entries dropped",
			existing: []string{" , Accept ,"},
			names:    []string{""},
			want:     []string{"Accept"},
		},
		{
			name: "nothing to merge",
			want: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := http.Header{}
			for _, v := range tt.existing {
				h.Add("Vary", v)
			}
			MergeVary(h, tt.names)
			assert.Equal(t, tt.want, h.Values("Vary"))
		})
	}
}

func TestRequest_ResponseCallbacksRunOnce(t *testing.T) {
	req := NewRequest(httptest.NewRequest(http.MethodGet, "/", nil), nil, nil, nil)

	var order []string
	req.AddResponseCallback(func(h http.Header) { order = append(order, "first") })
	req.AddResponseCallback(func(h http.Header) { order = append(order, "second") })

	req.RunResponseCallbacks(http.Header{})
	req.RunResponseCallbacks(http.Header{})

	assert.Equal(t, []string{"first", "second"}, order)
}

func TestRequest_CallbackAfterResponseIgnored(t *testing.T) {
	req := NewRequest(httptest.NewRequest(http.MethodGet, "/", nil), nil, nil, nil)
	req.RunResponseCallbacks(http.Header{})

	called := false
	req.AddResponseCallback(func(h http.Header) { called = true })
	req.RunResponseCallbacks(http.Header{})

	assert.False(t, called)
}

func TestRequest_AddVaryRegistersOnce(t *testing.T) {
	req := NewRequest(httptest.NewRequest(http.MethodGet, "/", nil), nil, nil, nil)
	req.addVary([]string{"Cookie"})
	req.addVary([]string{"Authorization"})

	h := http.Header{}
	req.RunResponseCallbacks(h)

	assert.Equal(t, []string{"Cookie"}, h.Values("Vary"))
}

func TestRequest_Context(t *testing.T) {
	assert.NotNil(t, NewRequest(nil, nil, nil, nil).Context())

	type key struct{}
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r = r.WithContext(context.WithValue(r.Context(), key{}, "v"))

	req := NewRequest(r, nil, nil, nil)
	assert.Equal(t, "v", req.Context().Value(key{}))
}
