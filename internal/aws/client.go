package aws

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/service/cloudformation"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	elbv2 "github.com/aws/aws-sdk-go-v2/service/elasticloadbalancingv2"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/aws/aws-sdk-go-v2/service/sts"

	awscfn "github.com/fluffyengine/fluffy-engine/internal/aws/cloudformation"
	awsec2 "github.com/fluffyengine/fluffy-engine/internal/aws/ec2"
	awselb "github.com/fluffyengine/fluffy-engine/internal/aws/elb"
	awsssm "github.com/fluffyengine/fluffy-engine/internal/aws/ssm"
)

type ServiceClient struct {
	CloudFormation *awscfn.Client
	EC2            *awsec2.Client
	ELB            *awselb.Client
	SSM            *awsssm.Client
	STS            *Caller
	Region         string
}

func NewServiceClient(ctx context.Context, profile, region string) (*ServiceClient, error) {
	cfg, err := LoadConfig(ctx, profile, region)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}

	return &ServiceClient{
		CloudFormation: awscfn.NewClient(cloudformation.NewFromConfig(cfg)),
		EC2:            awsec2.NewClient(ec2.NewFromConfig(cfg)),
		ELB:            awselb.NewClient(elbv2.NewFromConfig(cfg)),
		SSM:            awsssm.NewClient(ssm.NewFromConfig(cfg)),
		STS:            NewCaller(sts.NewFromConfig(cfg)),
		Region:         cfg.Region,
	}, nil
}
