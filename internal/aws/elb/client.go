// Package elb registers VPN instances with the network load balancer's
// target group and reports their health.
package elb

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/aws/aws-sdk-go-v2/aws"
	elbv2 "github.com/aws/aws-sdk-go-v2/service/elasticloadbalancingv2"
	elbtypes "github.com/aws/aws-sdk-go-v2/service/elasticloadbalancingv2/types"
)

type ELBAPI interface {
	RegisterTargets(ctx context.Context, params *elbv2.RegisterTargetsInput, optFns ...func(*elbv2.Options)) (*elbv2.RegisterTargetsOutput, error)
	DescribeTargetHealth(ctx context.Context, params *elbv2.DescribeTargetHealthInput, optFns ...func(*elbv2.Options)) (*elbv2.DescribeTargetHealthOutput, error)
}

type Client struct {
	api ELBAPI
}

func NewClient(api ELBAPI) *Client {
	return &Client{api: api}
}

// RegisterInstances adds instances to a target group. A zero port uses the
// target group's port.
func (c *Client) RegisterInstances(ctx context.Context, targetGroupARN string, instanceIDs []string, port int) error {
	if targetGroupARN == "" {
		return errors.New("target group ARN is empty")
	}
	if len(instanceIDs) == 0 {
		return errors.New("no instances to register")
	}

	targets := make([]elbtypes.TargetDescription, 0, len(instanceIDs))
	for _, id := range instanceIDs {
		td := elbtypes.TargetDescription{Id: aws.String(id)}
		if port > 0 {
			td.Port = aws.Int32(int32(port))
		}
		targets = append(targets, td)
	}

	_, err := c.api.RegisterTargets(ctx, &elbv2.RegisterTargetsInput{
		TargetGroupArn: aws.String(targetGroupARN),
		Targets:        targets,
	})
	if err != nil {
		return fmt.Errorf("RegisterTargets: %w", err)
	}
	return nil
}

// TargetHealth returns the health of every target in the group, sorted by
// instance ID.
func (c *Client) TargetHealth(ctx context.Context, targetGroupARN string) ([]TargetHealth, error) {
	out, err := c.api.DescribeTargetHealth(ctx, &elbv2.DescribeTargetHealthInput{
		TargetGroupArn: aws.String(targetGroupARN),
	})
	if err != nil {
		return nil, fmt.Errorf("DescribeTargetHealth: %w", err)
	}

	var health []TargetHealth
	for _, d := range out.TargetHealthDescriptions {
		th := TargetHealth{}
		if d.Target != nil {
			th.InstanceID = aws.ToString(d.Target.Id)
			th.Port = int(aws.ToInt32(d.Target.Port))
		}
		if d.TargetHealth != nil {
			th.State = string(d.TargetHealth.State)
			th.Reason = string(d.TargetHealth.Reason)
			th.Description = aws.ToString(d.TargetHealth.Description)
		}
		health = append(health, th)
	}
	sort.Slice(health, func(i, j int) bool {
		return health[i].InstanceID < health[j].InstanceID
	})
	return health, nil
}
