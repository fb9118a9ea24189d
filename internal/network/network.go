// Package network declares the network stack: a public-only VPC, the UDP
// network load balancer in front of the VPN servers and the two security
// groups that keep the VPN port reachable only through the load balancer.
package network

import (
	"fmt"
	"net"
	"sort"
	"strconv"

	"github.com/apparentlymart/go-cidr/cidr"

	"github.com/fluffyengine/fluffy-engine/internal/config"
	"github.com/fluffyengine/fluffy-engine/internal/stack"
	"github.com/fluffyengine/fluffy-engine/intrinsics"
	"github.com/fluffyengine/fluffy-engine/resources/ec2"
	elbv2 "github.com/fluffyengine/fluffy-engine/resources/elasticloadbalancingv2"
)

// Stack output names.
const (
	OutputVpcID                   = "VpcId"
	OutputNlbDNSName              = "NlbDnsName"
	OutputTargetGroupArn          = "TargetGroupArn"
	OutputPublicSubnetIDs         = "PublicSubnetIds"
	OutputInstanceSecurityGroupID = "InstanceSecurityGroupId"
)

// Outputs are the typed handles the server stack builds on.
type Outputs struct {
	Stack *stack.Stack

	VPC           stack.Handle
	PublicSubnets []stack.Handle
	SubnetCIDRs   []string

	EdgeSecurityGroup     stack.Handle
	InstanceSecurityGroup stack.Handle
	VPNIngress            stack.Handle

	LoadBalancer stack.Handle
	Listener     stack.Handle
	TargetGroup  stack.Handle

	// PublicSubnetIDsExport and InstanceSecurityGroupExport are the export
	// names the server stack imports.
	PublicSubnetIDsExport       string
	InstanceSecurityGroupExport string
}

// SubnetCIDRs carves count subnets with prefix length mask out of vpcCIDR.
func SubnetCIDRs(vpcCIDR string, mask, count int) ([]string, error) {
	_, base, err := net.ParseCIDR(vpcCIDR)
	if err != nil {
		return nil, fmt.Errorf("parsing VPC CIDR: %w", err)
	}
	prefix, _ := base.Mask.Size()
	if mask <= prefix {
		return nil, fmt.Errorf("subnet mask /%d must be longer than VPC prefix /%d", mask, prefix)
	}

	subnets := make([]*net.IPNet, 0, count)
	out := make([]string, 0, count)
	for i := 0; i < count; i++ {
		subnet, err := cidr.Subnet(base, mask-prefix, i)
		if err != nil {
			return nil, fmt.Errorf("carving subnet %d of %s: %w", i, vpcCIDR, err)
		}
		subnets = append(subnets, subnet)
		out = append(out, subnet.String())
	}
	if err := cidr.VerifyNoOverlap(subnets, base); err != nil {
		return nil, err
	}
	return out, nil
}

// Build declares the network stack for d.
func Build(d *config.Deployment) (*stack.Stack, *Outputs, error) {
	if err := d.Env.Validate(); err != nil {
		return nil, nil, fmt.Errorf("network stack needs a resolved environment: %w", err)
	}
	if err := d.Validate(); err != nil {
		return nil, nil, err
	}

	n := d.Network
	s := stack.New(d.NetworkStackName(),
		"VPC, UDP network load balancer and security groups for the WireGuard servers", d.Env)
	out := &Outputs{Stack: s}

	cidrs, err := SubnetCIDRs(n.CIDR, n.SubnetMask, n.MaxAZs)
	if err != nil {
		return nil, nil, err
	}
	out.SubnetCIDRs = cidrs

	if out.VPC, err = s.Add(d.Name("VPC"), ec2.VPC{
		CidrBlock:          n.CIDR,
		EnableDnsHostnames: true,
		EnableDnsSupport:   true,
		Tags:               Tags(d, d.Name("VPC")),
	}); err != nil {
		return nil, nil, err
	}

	igw, err := s.Add(d.Name("VPCIGW"), ec2.InternetGateway{Tags: Tags(d, d.Name("VPC"))})
	if err != nil {
		return nil, nil, err
	}
	attachment, err := s.Add(d.Name("VPCGatewayAttachment"), ec2.VPCGatewayAttachment{
		VpcId:             out.VPC,
		InternetGatewayId: igw,
	})
	if err != nil {
		return nil, nil, err
	}

	routeTable, err := s.Add(d.Name("VPCPublicRouteTable"), ec2.RouteTable{
		VpcId: out.VPC,
		Tags:  Tags(d, d.Name("VPCPublic")),
	})
	if err != nil {
		return nil, nil, err
	}
	defaultRoute, err := s.Add(d.Name("VPCPublicDefaultRoute"), ec2.Route{
		RouteTableId:         routeTable,
		DestinationCidrBlock: ec2.AnyIPv4,
		GatewayId:            igw,
	}, attachment)
	if err != nil {
		return nil, nil, err
	}

	for i, block := range cidrs {
		name := d.Name("VPCPublicSubnet" + strconv.Itoa(i+1))
		subnet, err := s.Add(name, ec2.Subnet{
			VpcId:               out.VPC,
			CidrBlock:           block,
			AvailabilityZone:    intrinsics.Select{Index: i, List: intrinsics.GetAZs{}},
			MapPublicIpOnLaunch: true,
			Tags:                Tags(d, name),
		})
		if err != nil {
			return nil, nil, err
		}
		if _, err := s.Add(name+"RouteTableAssociation", ec2.SubnetRouteTableAssociation{
			SubnetId:     subnet,
			RouteTableId: routeTable,
		}); err != nil {
			return nil, nil, err
		}
		out.PublicSubnets = append(out.PublicSubnets, subnet)
	}

	if out.EdgeSecurityGroup, err = s.Add(d.Name("NLBSG"), ec2.SecurityGroup{
		GroupDescription: fmt.Sprintf("Allow VPN traffic on UDP %d from anywhere", n.PublicPort),
		VpcId:            out.VPC,
		SecurityGroupIngress: []ec2.SecurityGroup_Ingress{{
			IpProtocol:  ec2.ProtocolUDP,
			CidrIp:      ec2.AnyIPv4,
			FromPort:    n.PublicPort,
			ToPort:      n.PublicPort,
			Description: "Allow VPN traffic from anywhere",
		}},
		SecurityGroupEgress: ec2.AllowAllOutbound(),
		Tags:                Tags(d, d.Name("NLBSG")),
	}); err != nil {
		return nil, nil, err
	}

	if out.InstanceSecurityGroup, err = s.Add(d.Name("InstanceSG"), ec2.SecurityGroup{
		GroupDescription: "Allow VPN traffic from the load balancer and SSH from the administrator",
		VpcId:            out.VPC,
		SecurityGroupIngress: []ec2.SecurityGroup_Ingress{{
			IpProtocol:  ec2.ProtocolTCP,
			CidrIp:      n.AdminCIDR,
			FromPort:    n.SSHPort,
			ToPort:      n.SSHPort,
			Description: "Allow SSH from the administrator address",
		}},
		SecurityGroupEgress: ec2.AllowAllOutbound(),
		Tags:                Tags(d, d.Name("InstanceSG")),
	}); err != nil {
		return nil, nil, err
	}

	if out.VPNIngress, err = s.Add(d.Name("InstanceSGFromNLBSG"), ec2.SecurityGroupIngress{
		GroupId:               out.InstanceSecurityGroup.GetAtt("GroupId"),
		IpProtocol:            ec2.ProtocolUDP,
		SourceSecurityGroupId: out.EdgeSecurityGroup.GetAtt("GroupId"),
		FromPort:              n.VPNPort,
		ToPort:                n.VPNPort,
		Description:           "Allow VPN traffic from the load balancer",
	}); err != nil {
		return nil, nil, err
	}

	subnets := make([]any, len(out.PublicSubnets))
	for i, h := range out.PublicSubnets {
		subnets[i] = h
	}

	if out.LoadBalancer, err = s.Add(d.Name("NLB"), elbv2.LoadBalancer{
		Scheme:         "internet-facing",
		Type:           "network",
		Subnets:        subnets,
		SecurityGroups: []any{out.EdgeSecurityGroup.GetAtt("GroupId")},
		LoadBalancerAttributes: []elbv2.LoadBalancer_Attribute{
			{Key: elbv2.CrossZoneAttribute, Value: "true"},
		},
		Tags: Tags(d, d.Name("NLB")),
	}, defaultRoute); err != nil {
		return nil, nil, err
	}

	if out.TargetGroup, err = s.Add(d.Name("TargetGroup"), elbv2.TargetGroup{
		Port:                    n.VPNPort,
		Protocol:                elbv2.ProtocolUDP,
		TargetType:              "instance",
		VpcId:                   out.VPC,
		HealthCheckProtocol:     elbv2.ProtocolTCP,
		HealthCheckPort:         strconv.Itoa(n.SSHPort),
		HealthyThresholdCount:   n.HealthyThreshold,
		UnhealthyThresholdCount: n.UnhealthyThreshold,
		Tags:                    Tags(d, d.Name("TargetGroup")),
	}); err != nil {
		return nil, nil, err
	}

	if out.Listener, err = s.Add(d.Name("NLBListener"), elbv2.Listener{
		LoadBalancerArn: out.LoadBalancer,
		Port:            n.PublicPort,
		Protocol:        elbv2.ProtocolUDP,
		DefaultActions: []elbv2.Listener_Action{{
			Type:           "forward",
			TargetGroupArn: out.TargetGroup,
		}},
	}); err != nil {
		return nil, nil, err
	}

	if err := s.AddOutput(OutputVpcID, "VPC ID", out.VPC); err != nil {
		return nil, nil, err
	}
	if err := s.AddOutput(OutputNlbDNSName, "Public DNS name of the VPN load balancer",
		out.LoadBalancer.GetAtt("DNSName")); err != nil {
		return nil, nil, err
	}
	if err := s.AddOutput(OutputTargetGroupArn, "Target group for the VPN servers", out.TargetGroup); err != nil {
		return nil, nil, err
	}
	if out.PublicSubnetIDsExport, err = s.Export(OutputPublicSubnetIDs, "Comma separated public subnet IDs",
		intrinsics.Join{Delimiter: ",", Values: subnets}); err != nil {
		return nil, nil, err
	}
	if out.InstanceSecurityGroupExport, err = s.Export(OutputInstanceSecurityGroupID,
		"Security group of the VPN servers", out.InstanceSecurityGroup.GetAtt("GroupId")); err != nil {
		return nil, nil, err
	}

	return s, out, nil
}

// Tags returns the Name tag followed by the deployment tags sorted by key.
func Tags(d *config.Deployment, name string) []any {
	out := []any{intrinsics.Tag{Key: "Name", Value: name}}
	keys := make([]string, 0, len(d.Tags))
	for k := range d.Tags {
		if k != "Name" {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		out = append(out, intrinsics.Tag{Key: k, Value: d.Tags[k]})
	}
	return out
}
