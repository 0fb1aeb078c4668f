package pagination

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func paramsFor(target string) Params {
	e := echo.New()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, target, nil), httptest.NewRecorder())
	return FromContext(c)
}

func TestFromContext(t *testing.T) {
	tests := []struct {
		target string
		want   Params
	}{
		{"/", Params{Limit: DefaultLimit}},
		{"/?limit=10&offset=20", Params{Limit: 10, Offset: 20}},
		{"/?limit=5000", Params{Limit: MaxLimit}},
		{"/?limit=abc&offset=-3", Params{Limit: DefaultLimit}},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, paramsFor(tt.target), tt.target)
	}
}

func TestNewResponse(t *testing.T) {
	r := NewResponse([]int{1, 2}, 5, Params{Limit: 2})
	assert.True(t, r.HasMore)
	require.NotNil(t, r.NextOffset)
	assert.Equal(t, 2, *r.NextOffset)
	assert.Nil(t, r.PrevOffset)

	last := NewResponse([]int{5}, 5, Params{Limit: 2, Offset: 4})
	assert.False(t, last.HasMore)
	assert.Nil(t, last.NextOffset)
	require.NotNil(t, last.PrevOffset)
	assert.Equal(t, 2, *last.PrevOffset)

	body, err := json.Marshal(NewResponse([]int{}, 20, Params{Limit: 10, Offset: 5}))
	require.NoError(t, err)
	assert.JSONEq(t, `{"data":[],"total":20,"limit":10,"offset":5,"has_more":true,"next_offset":15,"previous_offset":0}`, string(body))
}

func TestParams_Navigation(t *testing.T) {
	p := Params{Limit: 10, Offset: 5}
	assert.True(t, p.HasNext(20))
	assert.False(t, p.HasNext(15))
	assert.True(t, p.HasPrevious())
	assert.Equal(t, 0, p.PreviousOffset())
	assert.False(t, Params{Limit: 10}.HasPrevious())
}
