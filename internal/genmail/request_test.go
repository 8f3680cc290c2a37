package genmail

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidate(t *testing.T) {
	cases := []struct {
		name    string
		req     GenerationRequest
		wantErr bool
	}{
		{
			name:    "cold ok",
			req:     GenerationRequest{Type: TypeCold, ContactName: "Grace", CompanyName: "Initech"},
			wantErr: false,
		},
		{
			name:    "cold missing contact name",
			req:     GenerationRequest{Type: TypeCold, CompanyName: "Initech"},
			wantErr: true,
		},
		{
			name:    "cold missing company",
			req:     GenerationRequest{Type: TypeCold, ContactName: "Grace"},
			wantErr: true,
		},
		{
			name: "tailored ok",
			req: GenerationRequest{
				Type: TypeTailored, ContactName: "Grace", CompanyName: "Initech",
				JobIDs: []string{"JOB-1"}, JobDescription: "Go engineer",
			},
			wantErr: false,
		},
		{
			name: "tailored without jobs",
			req: GenerationRequest{
				Type: TypeTailored, ContactName: "Grace", CompanyName: "Initech",
				JobDescription: "Go engineer",
			},
			wantErr: true,
		},
		{
			name: "tailored blank job id",
			req: GenerationRequest{
				Type: TypeTailored, ContactName: "Grace", CompanyName: "Initech",
				JobIDs: []string{"JOB-1", "  "}, JobDescription: "Go engineer",
			},
			wantErr: true,
		},
		{
			name: "tailored without description",
			req: GenerationRequest{
				Type: TypeTailored, ContactName: "Grace", CompanyName: "Initech",
				JobIDs: []string{"JOB-1"},
			},
			wantErr: true,
		},
		{
			name:    "followup ok",
			req:     GenerationRequest{Type: TypeFollowup, ThreadID: 7},
			wantErr: false,
		},
		{
			name:    "followup without thread",
			req:     GenerationRequest{Type: TypeFollowup},
			wantErr: true,
		},
		{
			name:    "thankyou ok",
			req:     GenerationRequest{Type: TypeThankyou, ThreadID: 7},
			wantErr: false,
		},
		{
			name:    "missing type",
			req:     GenerationRequest{},
			wantErr: true,
		},
		{
			name:    "unknown type",
			req:     GenerationRequest{Type: "newsletter"},
			wantErr: true,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.req.Validate()
			if tc.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestCreatesThread(t *testing.T) {
	assert.True(t, (&GenerationRequest{Type: TypeCold}).CreatesThread())
	assert.True(t, (&GenerationRequest{Type: TypeTailored}).CreatesThread())
	assert.False(t, (&GenerationRequest{Type: TypeFollowup}).CreatesThread())
	assert.False(t, (&GenerationRequest{Type: TypeThankyou}).CreatesThread())
}
