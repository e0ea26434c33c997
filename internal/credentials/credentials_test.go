package credentials

import (
	"context"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/aws/aws-sdk-go-v2/service/sts/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSTS struct {
	lastInput *sts.AssumeRoleInput
}

func (f *fakeSTS) AssumeRole(_ context.Context, params *sts.AssumeRoleInput, _ ...func(*sts.Options)) (*sts.AssumeRoleOutput, error) {
	f.lastInput = params
	return &sts.AssumeRoleOutput{
		Credentials: &types.Credentials{
			AccessKeyId:     aws.String("ASIATEMP"),
			SecretAccessKey: aws.String("temp-secret"),
			SessionToken:    aws.String("temp-token"),
		},
	}, nil
}

func newTestResolver(assumeRole bool, fake *fakeSTS) *Resolver {
	r := NewResolver(assumeRole)
	r.newSTS = func(aws.Config) AssumeRoleAPI { return fake }
	return r
}

func TestResolveStaticKeys(t *testing.T) {
	r := NewResolver(false)
	cfg, err := r.Resolve(context.Background(), Settings{
		Region:    "us-east-1",
		AccessKey: "AKIASTATIC",
		SecretKey: "static-secret",
	}, "")
	require.NoError(t, err)

	assert.Equal(t, "us-east-1", cfg.Region)
	creds, err := cfg.Credentials.Retrieve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "AKIASTATIC", creds.AccessKeyID)
	assert.Equal(t, "static-secret", creds.SecretAccessKey)
	assert.Empty(t, creds.SessionToken)
}

func TestResolveAssumedRole(t *testing.T) {
	fake := &fakeSTS{}
	r := newTestResolver(true, fake)

	cfg, err := r.Resolve(context.Background(), Settings{
		Region:     "eu-west-1",
		IAMRole:    "arn:aws:iam::123456789012:role/analytics",
		ExternalID: "ext-42",
	}, "analyst@example.com")
	require.NoError(t, err)

	assert.Equal(t, "arn:aws:iam::123456789012:role/analytics", aws.ToString(fake.lastInput.RoleArn))
	assert.Equal(t, "analyst@example.com", aws.ToString(fake.lastInput.RoleSessionName))
	assert.Equal(t, "ext-42", aws.ToString(fake.lastInput.ExternalId))

	creds, err := cfg.Credentials.Retrieve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "ASIATEMP", creds.AccessKeyID)
	assert.Equal(t, "temp-token", creds.SessionToken)
}

func TestResolveAssumedRoleSessionNameFallback(t *testing.T) {
	fake := &fakeSTS{}
	r := newTestResolver(true, fake)

	_, err := r.Resolve(context.Background(), Settings{
		Region:  "eu-west-1",
		IAMRole: "arn:aws:iam::123456789012:role/analytics",
	}, "")
	require.NoError(t, err)

	assert.Equal(t, FallbackSessionName, aws.ToString(fake.lastInput.RoleSessionName))
	assert.Nil(t, fake.lastInput.ExternalId)
}
