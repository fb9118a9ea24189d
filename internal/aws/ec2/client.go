// Package ec2 answers the EC2 questions deploy asks before creating stacks.
package ec2

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/smithy-go"
)

type EC2API interface {
	DescribeKeyPairs(ctx context.Context, params *ec2.DescribeKeyPairsInput, optFns ...func(*ec2.Options)) (*ec2.DescribeKeyPairsOutput, error)
	DescribeInstances(ctx context.Context, params *ec2.DescribeInstancesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeInstancesOutput, error)
}

type Client struct {
	api EC2API
}

func NewClient(api EC2API) *Client {
	return &Client{api: api}
}

// KeyPairExists reports whether the named key pair exists in the region.
func (c *Client) KeyPairExists(ctx context.Context, name string) (bool, error) {
	out, err := c.api.DescribeKeyPairs(ctx, &ec2.DescribeKeyPairsInput{
		KeyNames: []string{name},
	})
	if err != nil {
		var apiErr smithy.APIError
		if errors.As(err, &apiErr) && apiErr.ErrorCode() == "InvalidKeyPair.NotFound" {
			return false, nil
		}
		return false, fmt.Errorf("DescribeKeyPairs: %w", err)
	}
	return len(out.KeyPairs) > 0, nil
}

// InstanceStates returns the state name of each instance keyed by ID.
func (c *Client) InstanceStates(ctx context.Context, ids []string) (map[string]string, error) {
	states := make(map[string]string, len(ids))
	if len(ids) == 0 {
		return states, nil
	}

	var token *string
	for {
		out, err := c.api.DescribeInstances(ctx, &ec2.DescribeInstancesInput{
			InstanceIds: ids,
			NextToken:   token,
		})
		if err != nil {
			return nil, fmt.Errorf("DescribeInstances: %w", err)
		}
		for _, r := range out.Reservations {
			for _, inst := range r.Instances {
				var state string
				if inst.State != nil {
					state = string(inst.State.Name)
				}
				states[aws.ToString(inst.InstanceId)] = state
			}
		}
		if out.NextToken == nil {
			break
		}
		token = out.NextToken
	}
	return states, nil
}
