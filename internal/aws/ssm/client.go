// Package ssm reads deployment parameters from SSM Parameter Store.
package ssm

import (
	"context"
	"fmt"
	"sort"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/sirupsen/logrus"
)

// SSMAPI is the Parameter Store subset the client needs.
type SSMAPI interface {
	GetParameters(ctx context.Context, params *ssm.GetParametersInput, optFns ...func(*ssm.Options)) (*ssm.GetParametersOutput, error)
}

// maxNamesPerCall is the GetParameters API limit.
const maxNamesPerCall = 10

type Client struct {
	api SSMAPI
}

func NewClient(api SSMAPI) *Client {
	return &Client{api: api}
}

// GetParameters returns the values of the named parameters. Names that do
// not exist are absent from the map; callers decide whether that is fatal.
func (c *Client) GetParameters(ctx context.Context, names []string) (map[string]string, error) {
	values := make(map[string]string, len(names))
	for start := 0; start < len(names); start += maxNamesPerCall {
		end := min(start+maxNamesPerCall, len(names))
		out, err := c.api.GetParameters(ctx, &ssm.GetParametersInput{
			Names:          names[start:end],
			WithDecryption: aws.Bool(true),
		})
		if err != nil {
			return nil, fmt.Errorf("GetParameters: %w", err)
		}
		for _, p := range out.Parameters {
			values[aws.ToString(p.Name)] = aws.ToString(p.Value)
		}
		if len(out.InvalidParameters) > 0 {
			invalid := append([]string(nil), out.InvalidParameters...)
			sort.Strings(invalid)
			logrus.Debugf("SSM parameters not found: %v", invalid)
		}
	}
	return values, nil
}
