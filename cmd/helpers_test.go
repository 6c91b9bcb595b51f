package cmd

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inovacc/patchrun/internal/model"
)

func TestParseRepoSpec(t *testing.T) {
	tests := []struct {
		name    string
		spec    string
		want    model.Repository
		wantErr bool
	}{
		{
			name: "owner and name",
			spec: "acme/storage",
			want: model.Repository{Origin: "github.com", Path: "acme/storage", Branch: "main"},
		},
		{
			name: "explicit branch",
			spec: "acme/storage@develop",
			want: model.Repository{Origin: "github.com", Path: "acme/storage", Branch: "develop"},
		},
		{
			name: "explicit origin",
			spec: "gitlab.com/acme/storage@main",
			want: model.Repository{Origin: "gitlab.com", Path: "acme/storage", Branch: "main"},
		},
		{
			name: "nested path under explicit origin",
			spec: "gitlab.com/group/sub/project",
			want: model.Repository{Origin: "gitlab.com", Path: "group/sub/project", Branch: "main"},
		},
		{
			name:    "bare name",
			spec:    "storage",
			wantErr: true,
		},
		{
			name:    "empty branch",
			spec:    "acme/storage@",
			wantErr: true,
		},
		{
			name:    "three segments without a dotted origin",
			spec:    "acme/storage/extra",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseRepoSpec(tt.spec)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
