package provider

import (
	"context"
	"errors"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
)

// archiveRuleID names the lifecycle rule this tool manages. Other rules on
// the bucket are left untouched.
const archiveRuleID = "vaultfast-auto-archive"

// ArchiveRule describes the managed auto-archive lifecycle rule.
type ArchiveRule struct {
	Prefix string
	// TransitionDays is how long an object stays in its original storage
	// class before moving to deep archive.
	TransitionDays int32
	Enabled        bool
}

// EnableArchiveRule installs (or replaces) the managed lifecycle rule that
// transitions uploads to deep archive. Existing unrelated rules survive.
func (s *S3Store) EnableArchiveRule(ctx context.Context, rule ArchiveRule) error {
	rules, err := s.otherLifecycleRules(ctx)
	if err != nil {
		return err
	}

	rules = append(rules, types.LifecycleRule{
		ID:     aws.String(archiveRuleID),
		Status: types.ExpirationStatusEnabled,
		Filter: &types.LifecycleRuleFilter{
			Prefix: aws.String(rule.Prefix),
		},
		Transitions: []types.Transition{{
			Days:         aws.Int32(rule.TransitionDays),
			StorageClass: types.TransitionStorageClassDeepArchive,
		}},
	})

	_, err = s.api.PutBucketLifecycleConfiguration(ctx, &s3.PutBucketLifecycleConfigurationInput{
		Bucket: aws.String(s.bucket),
		LifecycleConfiguration: &types.BucketLifecycleConfiguration{
			Rules: rules,
		},
	})
	if err != nil {
		return opErr("putLifecycle", s.bucket, "", translate(err))
	}
	return nil
}

// ArchiveRuleStatus reports whether the managed rule is installed, and its
// settings if so. A bucket with no lifecycle configuration at all is a
// normal answer, not an error.
func (s *S3Store) ArchiveRuleStatus(ctx context.Context) (*ArchiveRule, error) {
	out, err := s.api.GetBucketLifecycleConfiguration(ctx, &s3.GetBucketLifecycleConfigurationInput{
		Bucket: aws.String(s.bucket),
	})
	if err != nil {
		if isNoLifecycle(err) {
			return nil, nil
		}
		return nil, opErr("getLifecycle", s.bucket, "", translate(err))
	}

	for _, r := range out.Rules {
		if aws.ToString(r.ID) != archiveRuleID {
			continue
		}
		rule := &ArchiveRule{
			Enabled: r.Status == types.ExpirationStatusEnabled,
		}
		if r.Filter != nil {
			rule.Prefix = aws.ToString(r.Filter.Prefix)
		}
		for _, t := range r.Transitions {
			if t.StorageClass == types.TransitionStorageClassDeepArchive {
				rule.TransitionDays = aws.ToInt32(t.Days)
			}
		}
		return rule, nil
	}
	return nil, nil
}

// DisableArchiveRule removes the managed rule. When it was the only rule the
// whole lifecycle configuration is deleted.
func (s *S3Store) DisableArchiveRule(ctx context.Context) error {
	rules, err := s.otherLifecycleRules(ctx)
	if err != nil {
		return err
	}

	if len(rules) == 0 {
		_, err = s.api.DeleteBucketLifecycle(ctx, &s3.DeleteBucketLifecycleInput{
			Bucket: aws.String(s.bucket),
		})
		if err != nil {
			return opErr("deleteLifecycle", s.bucket, "", translate(err))
		}
		return nil
	}

	_, err = s.api.PutBucketLifecycleConfiguration(ctx, &s3.PutBucketLifecycleConfigurationInput{
		Bucket: aws.String(s.bucket),
		LifecycleConfiguration: &types.BucketLifecycleConfiguration{
			Rules: rules,
		},
	})
	if err != nil {
		return opErr("putLifecycle", s.bucket, "", translate(err))
	}
	return nil
}

// otherLifecycleRules returns the bucket's lifecycle rules minus the managed
// one.
func (s *S3Store) otherLifecycleRules(ctx context.Context) ([]types.LifecycleRule, error) {
	out, err := s.api.GetBucketLifecycleConfiguration(ctx, &s3.GetBucketLifecycleConfigurationInput{
		Bucket: aws.String(s.bucket),
	})
	if err != nil {
		if isNoLifecycle(err) {
			return nil, nil
		}
		return nil, opErr("getLifecycle", s.bucket, "", translate(err))
	}

	var rules []types.LifecycleRule
	for _, r := range out.Rules {
		if aws.ToString(r.ID) != archiveRuleID {
			rules = append(rules, r)
		}
	}
	return rules, nil
}

func isNoLifecycle(err error) bool {
	var apiErr smithy.APIError
	return errors.As(err, &apiErr) && apiErr.ErrorCode() == "NoSuchLifecycleConfiguration"
}
