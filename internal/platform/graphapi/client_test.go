package graphapi

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc, opts ...ClientOption) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient("secret-token", append([]ClientOption{WithBaseURL(srv.URL)}, opts...)...)
}

func TestGetGroupsByID_Success(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/method/groups.getById", r.URL.Path)
		assert.Equal(t, "1,durov", r.URL.Query().Get("group_ids"))
		assert.Equal(t, "secret-token", r.URL.Query().Get("access_token"))
		assert.Equal(t, DefaultVersion, r.URL.Query().Get("v"))
		assert.Equal(t, DefaultGroupFields, r.URL.Query().Get("fields"))
		_, _ = w.Write([]byte(`{"response":[
			{"id":1,"name":"API Club","screen_name":"apiclub","is_closed":0,"type":"page","members_count":10},
			{"id":2,"name":"Durov","screen_name":"durov","is_closed":1,"deactivated":"banned","type":"group"}
		]}`))
	})

	groups, err := client.GetGroupsByID(context.Background(), []string{"1", "durov"})
	require.NoError(t, err)
	require.Len(t, groups, 2)
	assert.Equal(t, int64(1), groups[0].ID)
	assert.Equal(t, "apiclub", groups[0].ScreenName)
	assert.Equal(t, 10, groups[0].MembersCount)
	assert.Equal(t, "banned", groups[1].Deactivated)
	assert.Equal(t, 1, groups[1].IsClosed)
}

func TestGetGroupsByID_WrappedForm(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"response":{"groups":[{"id":7,"name":"Seven"}],"profiles":[]}}`))
	})

	groups, err := client.GetGroupsByID(context.Background(), []string{"7"})
	require.NoError(t, err)
	require.Len(t, groups, 1)
	assert.Equal(t, "Seven", groups[0].Name)
}

func TestGetGroupsByID_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name          string
		status        int
		body          string
		wantCode      int
		wantTransient bool
		wantRateLimit bool
	}{
		{"too many requests", http.StatusOK, `{"error":{"error_code":6,"error_msg":"Too many requests per second"}}`, CodeTooManyRequests, true, true},
		{"internal", http.StatusOK, `{"error":{"error_code":10,"error_msg":"Internal server error"}}`, CodeInternal, true, false},
		{"auth failed", http.StatusOK, `{"error":{"error_code":5,"error_msg":"User authorization failed"}}`, CodeAuthFailed, false, false},
		{"access denied", http.StatusOK, `{"error":{"error_code":15,"error_msg":"Access denied"}}`, CodeAccessDenied, false, false},
		{"http 429", http.StatusTooManyRequests, `slow down`, 0, true, true},
		{"http 502", http.StatusBadGateway, `bad gateway`, 0, true, false},
		{"http 404", http.StatusNotFound, `nope`, 0, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			})

			_, err := client.GetGroupsByID(context.Background(), []string{"1"})
			require.Error(t, err)

			var apiErr *Error
			require.True(t, errors.As(err, &apiErr))
			assert.Equal(t, tt.wantCode, apiErr.Code)
			assert.Equal(t, tt.status, apiErr.HTTPStatus)
			assert.Equal(t, tt.wantTransient, apiErr.Transient())
			assert.Equal(t, tt.wantRateLimit, apiErr.RateLimited())
			assert.Equal(t, MethodGroupsGetByID, apiErr.Method)
		})
	}
}

func TestGetGroupsByID_TimeoutIsRedacted(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}, WithTimeout(50*time.Millisecond))
	defer close(release)

	_, err := client.GetGroupsByID(context.Background(), []string{"1"})
	require.Error(t, err)

	var tErr *TransportError
	require.True(t, errors.As(err, &tErr))
	assert.True(t, tErr.Timeout())
	assert.NotContains(t, err.Error(), "secret-token")
}

func TestGetGroupsByID_Empty(t *testing.T) {
	t.Parallel()

	client := NewClient("token", WithBaseURL("http://127.0.0.1:0"))
	groups, err := client.GetGroupsByID(context.Background(), nil)
	assert.NoError(t, err)
	assert.Empty(t, groups)
}
