package restapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vzorr/chat-test-client-sub001/auth"
	"github.com/vzorr/chat-test-client-sub001/config"
	"github.com/vzorr/chat-test-client-sub001/errors"
)

func newTestClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	provider, err := auth.NewStatic("tok-1")
	require.NoError(t, err)

	c, err := New(config.APIConfig{
		BaseURL: srv.URL,
		Timeout: config.Duration(5 * time.Second),
	}, provider, nil)
	require.NoError(t, err)
	return c, srv
}

func TestNew_Validation(t *testing.T) {
	provider, err := auth.NewStatic("tok")
	require.NoError(t, err)

	_, err = New(config.APIConfig{}, provider, nil)
	require.Error(t, err)

	_, err = New(config.APIConfig{BaseURL: "http://localhost"}, nil, nil)
	require.Error(t, err)
}

func TestClient_Me(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/users/me", r.URL.Path)
		assert.Equal(t, "Bearer tok-1", r.Header.Get("Authorization"))
		json.NewEncoder(w).Encode(User{ID: "u1", Name: "Alex", Online: true})
	}))

	user, err := c.Me(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "u1", user.ID)
	assert.Equal(t, "Alex", user.Name)
	assert.True(t, user.Online)
}

func TestClient_UpdateMe(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "/api/users/me", r.URL.Path)

		var body User
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "Alex B", body.Name)

		json.NewEncoder(w).Encode(User{ID: "u1", Name: body.Name})
	}))

	user, err := c.UpdateMe(context.Background(), User{Name: "Alex B"})
	require.NoError(t, err)
	assert.Equal(t, "Alex B", user.Name)
}

func TestClient_GetUpload(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/files/file-1", r.URL.Path)
		json.NewEncoder(w).Encode(Upload{ID: "file-1", Name: "notes.txt", Size: 8})
	}))

	up, err := c.GetUpload(context.Background(), "file-1")
	require.NoError(t, err)
	assert.Equal(t, "notes.txt", up.Name)

	_, err = c.GetUpload(context.Background(), "")
	require.Error(t, err)
}

func TestClient_ListConversations(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/conversations", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]any{
			"conversations": []Conversation{{ID: "conv-1"}, {ID: "conv-2"}},
		})
	}))

	convs, err := c.ListConversations(context.Background())
	require.NoError(t, err)
	require.Len(t, convs, 2)
	assert.Equal(t, "conv-1", convs[0].ID)
}

func TestClient_CreateConversation(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/conversations", r.URL.Path)

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "job-7", body["job_id"])

		json.NewEncoder(w).Encode(Conversation{ID: "conv-9", JobID: "job-7"})
	}))

	conv, err := c.CreateConversation(context.Background(), []string{"u1", "u2"}, "job-7")
	require.NoError(t, err)
	assert.Equal(t, "conv-9", conv.ID)

	_, err = c.CreateConversation(context.Background(), nil, "")
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
}

func TestClient_GetMessages(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/messages/conversation/conv-1", r.URL.Path)
		assert.Equal(t, "2", r.URL.Query().Get("page"))
		assert.Equal(t, "50", r.URL.Query().Get("limit"))
		json.NewEncoder(w).Encode(HistoryPage{Total: 120, Page: 2, Limit: 50})
	}))

	hist, err := c.GetMessages(context.Background(), "conv-1", 2, 50)
	require.NoError(t, err)
	assert.Equal(t, 120, hist.Total)

	_, err = c.GetMessages(context.Background(), "", 1, 10)
	require.Error(t, err)
}

func TestClient_MarkConversationRead(t *testing.T) {
	var called bool
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/conversations/conv-1/read", r.URL.Path)
		w.WriteHeader(http.StatusNoContent)
	}))

	require.NoError(t, c.MarkConversationRead(context.Background(), "conv-1"))
	assert.True(t, called)
}

func TestClient_UploadFile(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/files", r.URL.Path)
		require.NoError(t, r.ParseMultipartForm(1<<20))
		file, header, err := r.FormFile("file")
		require.NoError(t, err)
		defer file.Close()
		assert.Equal(t, "notes.txt", header.Filename)
		json.NewEncoder(w).Encode(Upload{ID: "file-1", Name: "notes.txt", Size: header.Size})
	}))

	up, err := c.UploadFile(context.Background(), "notes.txt", strings.NewReader("contents"))
	require.NoError(t, err)
	assert.Equal(t, "file-1", up.ID)
}

func TestClient_ErrorClassification(t *testing.T) {
	tests := []struct {
		name   string
		status int
		check  func(error) bool
	}{
		{"unauthorized is auth failure", http.StatusUnauthorized, func(err error) bool {
			return errors.IsInvalid(err) && strings.Contains(err.Error(), errors.ErrAuthFailed.Error())
		}},
		{"bad request is invalid", http.StatusBadRequest, errors.IsInvalid},
		{"not found is invalid", http.StatusNotFound, errors.IsInvalid},
		{"server error is transient", http.StatusInternalServerError, errors.IsTransient},
		{"bad gateway is transient", http.StatusBadGateway, errors.IsTransient},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				http.Error(w, "nope", tt.status)
			}))
			_, err := c.Me(context.Background())
			require.Error(t, err)
			assert.True(t, tt.check(err))
		})
	}
}

func TestClient_NetworkErrorIsTransient(t *testing.T) {
	c, srv := newTestClient(t, http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	srv.Close()

	_, err := c.Me(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsTransient(err))
}
