package audit

import (
	"context"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"

	"github.com/keithlinneman/ziprehome/internal/xerrors"
)

// ParameterGetter is the slice of the SSM client used to resolve the DSN.
type ParameterGetter interface {
	GetParameter(ctx context.Context, in *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// ResolveDSN reads the audit database DSN from a SecureString parameter.
func ResolveDSN(ctx context.Context, client ParameterGetter, param string) (string, error) {
	if param == "" {
		return "", xerrors.New("audit DSN parameter name is required")
	}
	out, err := client.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           aws.String(param),
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		return "", xerrors.Wrapf(err, "get SSM parameter %s", param)
	}
	if out.Parameter == nil || out.Parameter.Value == nil {
		return "", xerrors.Newf("SSM parameter %s has no value", param)
	}
	dsn := strings.TrimSpace(aws.ToString(out.Parameter.Value))
	if dsn == "" {
		return "", xerrors.Newf("SSM parameter %s is empty", param)
	}
	return dsn, nil
}
