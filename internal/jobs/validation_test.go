package jobs

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sevigo/review-pipeline/internal/core"
)

func TestValidateJob(t *testing.T) {
	tests := []struct {
		name    string
		repo    string
		pr      int
		account string
		wantErr bool
	}{
		{name: "valid", repo: "acme/api", pr: 1, account: "a"},
		{name: "dots and underscores", repo: "my-org/my_repo.go", pr: 12, account: "a"},
		{name: "no slash", repo: "not-a-repo", pr: 1, account: "a", wantErr: true},
		{name: "too many parts", repo: "a/b/c", pr: 1, account: "a", wantErr: true},
		{name: "empty owner", repo: "/repo", pr: 1, account: "a", wantErr: true},
		{name: "leading hyphen owner", repo: "-acme/api", pr: 1, account: "a", wantErr: true},
		{name: "double hyphen owner", repo: "ac--me/api", pr: 1, account: "a", wantErr: true},
		{name: "dot repo", repo: "acme/..", pr: 1, account: "a", wantErr: true},
		{name: "spaces", repo: "acme/my repo", pr: 1, account: "a", wantErr: true},
		{name: "zero pr", repo: "acme/api", pr: 0, account: "a", wantErr: true},
		{name: "negative pr", repo: "acme/api", pr: -3, account: "a", wantErr: true},
		{name: "missing account", repo: "acme/api", pr: 1, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			job := &core.ReviewJob{
				RepoFullName: tt.repo,
				PRNumber:     tt.pr,
				Requester:    core.Requester{AccountID: tt.account},
			}
			err := validateJob(job)
			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.ErrorIs(t, err, core.ErrValidation)
			assert.False(t, core.IsRetryable(err))
		})
	}
}
