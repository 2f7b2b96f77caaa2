package provider

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStaticCredentials(t *testing.T) {
	kp, err := StaticCredentials{AccessKeyID: "AKIA123", SecretAccessKey: "secret"}.
		Retrieve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "AKIA123", kp.AccessKeyID)
	assert.Equal(t, "secret", kp.SecretAccessKey)

	_, err = StaticCredentials{AccessKeyID: "AKIA123"}.Retrieve(context.Background())
	assert.ErrorIs(t, err, ErrNoCredentials)
}

func TestEnvCredentials(t *testing.T) {
	t.Setenv("AWS_ACCESS_KEY_ID", "AKIAENV")
	t.Setenv("AWS_SECRET_ACCESS_KEY", "envsecret")

	kp, err := EnvCredentials{}.Retrieve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "AKIAENV", kp.AccessKeyID)

	t.Setenv("AWS_SECRET_ACCESS_KEY", "")
	_, err = EnvCredentials{}.Retrieve(context.Background())
	assert.ErrorIs(t, err, ErrNoCredentials)
}

func TestNoCredentialsIsPermanent(t *testing.T) {
	assert.True(t, Permanent(ErrNoCredentials))
	assert.False(t, Transient(ErrNoCredentials))
}
