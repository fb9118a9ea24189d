// Package server declares the server stack: the EC2 instances running
// WireGuard, placed in the network stack's public subnets.
package server

import (
	"errors"
	"fmt"

	fluffy "github.com/fluffyengine/fluffy-engine"
	"github.com/fluffyengine/fluffy-engine/internal/bootstrap"
	"github.com/fluffyengine/fluffy-engine/internal/config"
	"github.com/fluffyengine/fluffy-engine/internal/network"
	"github.com/fluffyengine/fluffy-engine/internal/stack"
	"github.com/fluffyengine/fluffy-engine/intrinsics"
	"github.com/fluffyengine/fluffy-engine/resources/ec2"
)

// ImageParameterType makes CloudFormation resolve the image from an SSM
// public parameter at deploy time.
const ImageParameterType = "AWS::SSM::Parameter::Value<AWS::EC2::Image::Id>"

// OutputPublicIP is the output name of instance i's public address.
func OutputPublicIP(i int) string { return fmt.Sprintf("InstancePublicIP%d", i) }

// OutputInstanceID is the output name of instance i's ID.
func OutputInstanceID(i int) string { return fmt.Sprintf("InstanceId%d", i) }

// Outputs are the handles of the declared instances.
type Outputs struct {
	Stack     *stack.Stack
	Instances []stack.Handle
	Image     intrinsics.Ref

	PublicIPOutputs   []string
	InstanceIDOutputs []string
}

// Build declares d.Compute.Count instances on top of the network stack.
func Build(d *config.Deployment, net *network.Outputs) (*stack.Stack, *Outputs, error) {
	if net == nil || net.Stack == nil {
		return nil, nil, errors.New("server stack needs the network stack outputs")
	}
	if len(net.PublicSubnets) == 0 {
		return nil, nil, errors.New("network stack has no public subnets")
	}
	if err := d.Env.Validate(); err != nil {
		return nil, nil, fmt.Errorf("server stack needs a resolved environment: %w", err)
	}
	c := d.Compute
	if c.Count < 1 {
		return nil, nil, fmt.Errorf("instance count must be at least 1, got %d", c.Count)
	}

	s := stack.New(d.ServerStackName(), "WireGuard VPN servers", d.Env)
	if err := s.AddDependency(net.Stack); err != nil {
		return nil, nil, err
	}
	out := &Outputs{Stack: s}

	image, err := s.AddParameter(d.Name("ImageId"), fluffy.Parameter{
		Type:        ImageParameterType,
		Description: "SSM parameter holding the Ubuntu image for the VPN servers",
		Default:     c.ImageParameter,
	})
	if err != nil {
		return nil, nil, err
	}
	out.Image = image

	subnetIDs := intrinsics.ImportedList(net.PublicSubnetIDsExport)
	securityGroup := intrinsics.ImportValue{ExportName: net.InstanceSecurityGroupExport}

	for i := 0; i < c.Count; i++ {
		userData, err := bootstrap.UserData(bootstrap.Options{
			Packages: c.Packages,
			Repo:     c.BootstrapRepo,
			Ref:      c.BootstrapRef,
			HomeDir:  c.HomeDir,
			Instance: i,
		})
		if err != nil {
			return nil, nil, err
		}

		name := d.Name(fmt.Sprintf("Server%d", i))
		instance, err := s.Add(name, ec2.Instance{
			ImageId:      image,
			InstanceType: c.InstanceType,
			KeyName:      c.KeyPairName,
			NetworkInterfaces: []ec2.Instance_NetworkInterface{{
				AssociatePublicIpAddress: true,
				DeviceIndex:              "0",
				GroupSet:                 []any{securityGroup},
				SubnetId: intrinsics.Select{
					Index: i % len(net.PublicSubnets),
					List:  subnetIDs,
				},
			}},
			UserData: userData,
			Tags:     network.Tags(d, name),
		})
		if err != nil {
			return nil, nil, err
		}
		out.Instances = append(out.Instances, instance)

		if err := s.AddOutput(OutputPublicIP(i), fmt.Sprintf("Public IP of VPN server %d", i),
			instance.GetAtt("PublicIp")); err != nil {
			return nil, nil, err
		}
		if err := s.AddOutput(OutputInstanceID(i), fmt.Sprintf("Instance ID of VPN server %d", i),
			instance); err != nil {
			return nil, nil, err
		}
		out.PublicIPOutputs = append(out.PublicIPOutputs, OutputPublicIP(i))
		out.InstanceIDOutputs = append(out.InstanceIDOutputs, OutputInstanceID(i))
	}

	return s, out, nil
}
