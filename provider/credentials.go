package provider

import (
	"context"
	"errors"
	"os"
)

// ErrNoCredentials indicates the credential source has nothing to offer.
// Jobs treat it as a permanent failure.
var ErrNoCredentials = errors.New("object store: no credentials available")

// KeyPair is one set of access keys for the object store.
type KeyPair struct {
	AccessKeyID     string
	SecretAccessKey string
}

// Credentials supplies the active key pair before the store is contacted.
type Credentials interface {
	Retrieve(ctx context.Context) (KeyPair, error)
}

// StaticCredentials is a fixed key pair, typically loaded from configuration.
type StaticCredentials KeyPair

func (c StaticCredentials) Retrieve(context.Context) (KeyPair, error) {
	if c.AccessKeyID == "" || c.SecretAccessKey == "" {
		return KeyPair{}, ErrNoCredentials
	}
	return KeyPair(c), nil
}

// EnvCredentials reads the conventional AWS environment variables.
type EnvCredentials struct{}

func (EnvCredentials) Retrieve(context.Context) (KeyPair, error) {
	kp := KeyPair{
		AccessKeyID:     os.Getenv("AWS_ACCESS_KEY_ID"),
		SecretAccessKey: os.Getenv("AWS_SECRET_ACCESS_KEY"),
	}
	if kp.AccessKeyID == "" || kp.SecretAccessKey == "" {
		return KeyPair{}, ErrNoCredentials
	}
	return kp, nil
}
