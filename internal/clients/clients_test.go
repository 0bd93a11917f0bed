package clients

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"applyflow/internal/applications"
)

func jobServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("GET /public/jobs/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.PathValue("id") {
		case "J1":
			_, _ = w.Write([]byte(`{"statusCode":200,"message":"ok","data":{
				"postId":"J1","title":"Backend Engineer","status":"PUBLISHED",
				"employmentType":"FULL_TIME","experienceLevel":"MID","createdBy":"hr1",
				"company":{"id":"C1","name":"Acme","location":"Remote"}}}`))
		case "J2":
			_, _ = w.Write([]byte(`{"statusCode":200,"data":{"postId":"J2","status":"CLOSED"}}`))
		case "boom":
			http.Error(w, "database unavailable", http.StatusServiceUnavailable)
		case "garbled":
			_, _ = w.Write([]byte(`{"data":`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestJobServiceClient_ValidateAndGet(t *testing.T) {
	srv := jobServer(t)
	c := NewJobServiceClient(srv.URL+"/", nil, time.Second)

	info, err := c.ValidateAndGet(context.Background(), "J1")
	require.NoError(t, err)
	assert.Equal(t, applications.JobInfo{
		ID:              "J1",
		Title:           "Backend Engineer",
		CompanyID:       "C1",
		CompanyName:     "Acme",
		Location:        "Remote",
		EmploymentType:  "FULL_TIME",
		ExperienceLevel: "MID",
		Status:          "PUBLISHED",
		CreatedBy:       "hr1",
	}, info)
}

func TestJobServiceClient_NotAcceptingApplications(t *testing.T) {
	srv := jobServer(t)
	c := NewJobServiceClient(srv.URL, nil, time.Second)

	for _, id := range []string{"J2", "missing"} {
		_, err := c.ValidateAndGet(context.Background(), id)
		assert.True(t, errors.Is(err, applications.ErrJobNotFound), "job %s: %v", id, err)

		ok, err := c.Exists(context.Background(), id)
		require.NoError(t, err)
		assert.False(t, ok)
	}

	ok, err := c.Exists(context.Background(), "J1")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestJobServiceClient_TransportErrors(t *testing.T) {
	srv := jobServer(t)
	c := NewJobServiceClient(srv.URL, nil, time.Second)

	for _, id := range []string{"boom", "garbled"} {
		_, err := c.ValidateAndGet(context.Background(), id)
		require.Error(t, err)
		assert.False(t, errors.Is(err, applications.ErrJobNotFound), "job %s", id)

		_, err = c.Exists(context.Background(), id)
		assert.Error(t, err)
	}

	_, err := c.ValidateAndGet(context.Background(), "boom")
	assert.Contains(t, err.Error(), "503")
}

func TestJobServiceClient_HonoursContext(t *testing.T) {
	srv := jobServer(t)
	c := NewJobServiceClient(srv.URL, nil, time.Second)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.ValidateAndGet(ctx, "J1")
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestUserDirectoryClient_GetByUsernames(t *testing.T) {
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/by-usernames", r.URL.Path)
		gotQuery = r.URL.Query().Get("usernames")
		_, _ = w.Write([]byte(`{"statusCode":200,"data":[
			{"username":"alice","fullName":"Alice A","email":"alice@example.com"},
			{"fullName":"nameless"}]}`))
	}))
	t.Cleanup(srv.Close)

	c := NewUserDirectoryClient(srv.URL, nil, time.Second)
	users, err := c.GetByUsernames(context.Background(), []string{"alice", "ghost"})
	require.NoError(t, err)
	assert.Equal(t, "alice,ghost", gotQuery)
	assert.Equal(t, []applications.UserInfo{{Username: "alice", FullName: "Alice A", Email: "alice@example.com"}}, users)
}

func TestUserDirectoryClient_EmptyAndErrors(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)
	c := NewUserDirectoryClient(srv.URL, nil, time.Second)

	users, err := c.GetByUsernames(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, users)
	assert.Zero(t, calls)

	_, err = c.GetByUsernames(context.Background(), []string{"alice"})
	assert.Error(t, err)
	assert.Equal(t, 1, calls)
}
