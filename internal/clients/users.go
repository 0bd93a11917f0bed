package clients

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cockroachdb/errors"

	"applyflow/internal/applications"
)

// UserDirectoryClient resolves users via GET {base}/by-usernames?usernames=a,b.
type UserDirectoryClient struct {
	baseURL string
	client  *http.Client
}

func NewUserDirectoryClient(baseURL string, httpClient *http.Client, timeout time.Duration) *UserDirectoryClient {
	return &UserDirectoryClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  newHTTPClient(httpClient, timeout),
	}
}

type userDTO struct {
	Username string `json:"username"`
	FullName string `json:"fullName"`
	Email    string `json:"email"`
}

// GetByUsernames returns the users the directory knows. Unknown usernames are
// omitted rather than reported as errors.
func (c *UserDirectoryClient) GetByUsernames(ctx context.Context, usernames []string) ([]applications.UserInfo, error) {
	if len(usernames) == 0 {
		return nil, nil
	}
	q := url.Values{}
	q.Set("usernames", strings.Join(usernames, ","))

	dtos, err := getJSON[[]userDTO](ctx, c.client, c.baseURL+"/by-usernames?"+q.Encode())
	if errors.Is(err, errNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "user directory lookup")
	}

	users := make([]applications.UserInfo, 0, len(dtos))
	for _, d := range dtos {
		if d.Username == "" {
			continue
		}
		users = append(users, applications.UserInfo{Username: d.Username, FullName: d.FullName, Email: d.Email})
	}
	return users, nil
}
