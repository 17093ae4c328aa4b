package docstore

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	kmstypes "github.com/aws/aws-sdk-go-v2/service/kms/types"

	"github.com/keithlinneman/ziprehome/internal/xerrors"
)

// KeyDescriber is the subset of the KMS API needed to check the SSE key.
type KeyDescriber interface {
	DescribeKey(ctx context.Context, params *kms.DescribeKeyInput, optFns ...func(*kms.Options)) (*kms.DescribeKeyOutput, error)
}

// CheckKMSKey fails unless keyARN names an enabled symmetric encryption key.
// Run it at startup so a disabled or mistyped key fails fast instead of on
// the first upload.
func CheckKMSKey(ctx context.Context, client KeyDescriber, keyARN string) error {
	if client == nil {
		return xerrors.New("kms client is not configured")
	}
	out, err := client.DescribeKey(ctx, &kms.DescribeKeyInput{KeyId: aws.String(keyARN)})
	if err != nil {
		return xerrors.Wrapf(err, "kms describe key %s", keyARN)
	}
	md := out.KeyMetadata
	if md == nil {
		return xerrors.Newf("kms key %s: no metadata returned", keyARN)
	}
	if md.KeyState != kmstypes.KeyStateEnabled {
		return xerrors.Newf("kms key %s is %s, expected Enabled", keyARN, md.KeyState)
	}
	if md.KeyUsage != kmstypes.KeyUsageTypeEncryptDecrypt {
		return xerrors.Newf("kms key %s has usage %s, expected ENCRYPT_DECRYPT", keyARN, md.KeyUsage)
	}
	return nil
}
