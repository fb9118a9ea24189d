package network

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	fluffy "github.com/fluffyengine/fluffy-engine"
	"github.com/fluffyengine/fluffy-engine/internal/config"
	"github.com/fluffyengine/fluffy-engine/internal/environment"
	"github.com/fluffyengine/fluffy-engine/intrinsics"
)

func testDeployment() *config.Deployment {
	d := config.Default()
	d.Env = environment.Env{Account: "123456789012", Region: "us-east-1"}
	d.Network.AdminCIDR = "203.0.113.10/32"
	return &d
}

func buildTemplate(t *testing.T, d *config.Deployment) (*fluffy.Template, *Outputs) {
	t.Helper()
	s, out, err := Build(d)
	require.NoError(t, err)
	tmpl, err := s.Template()
	require.NoError(t, err)
	return tmpl, out
}

func resourcesOfType(tmpl *fluffy.Template, typ string) map[string]fluffy.ResourceDef {
	out := make(map[string]fluffy.ResourceDef)
	for name, r := range tmpl.Resources {
		if r.Type == typ {
			out[name] = r
		}
	}
	return out
}

func TestSubnetCIDRs(t *testing.T) {
	cidrs, err := SubnetCIDRs("172.31.0.0/16", 24, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"172.31.0.0/24", "172.31.1.0/24"}, cidrs)

	cidrs, err = SubnetCIDRs("10.0.0.0/20", 22, 4)
	require.NoError(t, err)
	assert.Equal(t, []string{"10.0.0.0/22", "10.0.4.0/22", "10.0.8.0/22", "10.0.12.0/22"}, cidrs)

	_, err = SubnetCIDRs("10.0.0.0/24", 25, 3)
	assert.Error(t, err)

	_, err = SubnetCIDRs("10.0.0.0/24", 24, 1)
	assert.Error(t, err)

	_, err = SubnetCIDRs("not-a-cidr", 24, 1)
	assert.Error(t, err)
}

func TestBuild_RequiresResolvedEnvironment(t *testing.T) {
	d := config.Default()
	_, _, err := Build(&d)
	require.Error(t, err)
	assert.ErrorIs(t, err, environment.ErrInvalidEnv)
}

func TestBuild_RejectsInvalidConfig(t *testing.T) {
	d := testDeployment()
	d.Network.AdminCIDR = "0.0.0.0/0"
	_, _, err := Build(d)
	assert.ErrorContains(t, err, "admin_cidr")
}

func TestBuild_VPC(t *testing.T) {
	tmpl, out := buildTemplate(t, testDeployment())

	vpc := tmpl.Resources["FluffyEngineVPC"]
	assert.Equal(t, "AWS::EC2::VPC", vpc.Type)
	assert.Equal(t, "172.31.0.0/16", vpc.Properties["CidrBlock"])
	assert.Equal(t, true, vpc.Properties["EnableDnsSupport"])
	assert.Equal(t, true, vpc.Properties["EnableDnsHostnames"])

	subnets := resourcesOfType(tmpl, "AWS::EC2::Subnet")
	assert.Len(t, subnets, 2)
	assert.Len(t, out.PublicSubnets, 2)
	for _, s := range subnets {
		assert.Equal(t, map[string]any{"Ref": "FluffyEngineVPC"}, s.Properties["VpcId"])
		assert.Equal(t, true, s.Properties["MapPublicIpOnLaunch"])
	}

	assert.Len(t, resourcesOfType(tmpl, "AWS::EC2::InternetGateway"), 1)
	assert.Len(t, resourcesOfType(tmpl, "AWS::EC2::SubnetRouteTableAssociation"), 2)
	assert.Empty(t, resourcesOfType(tmpl, "AWS::EC2::NatGateway"))

	route := tmpl.Resources["FluffyEngineVPCPublicDefaultRoute"]
	assert.Equal(t, "0.0.0.0/0", route.Properties["DestinationCidrBlock"])
	assert.Equal(t, []string{"FluffyEngineVPCGatewayAttachment"}, route.DependsOn)
}

func TestBuild_MaxAZs(t *testing.T) {
	d := testDeployment()
	d.Network.MaxAZs = 3
	tmpl, out := buildTemplate(t, d)

	assert.Len(t, resourcesOfType(tmpl, "AWS::EC2::Subnet"), 3)
	assert.Equal(t, []string{"172.31.0.0/24", "172.31.1.0/24", "172.31.2.0/24"}, out.SubnetCIDRs)

	nlb := tmpl.Resources["FluffyEngineNLB"]
	assert.Len(t, nlb.Properties["Subnets"], 3)
}

func TestBuild_LoadBalancer(t *testing.T) {
	tmpl, _ := buildTemplate(t, testDeployment())

	nlb := tmpl.Resources["FluffyEngineNLB"]
	assert.Equal(t, "internet-facing", nlb.Properties["Scheme"])
	assert.Equal(t, "network", nlb.Properties["Type"])
	assert.Equal(t, []any{map[string]any{"Key": "load_balancing.cross_zone.enabled", "Value": "true"}},
		nlb.Properties["LoadBalancerAttributes"])
	assert.Equal(t, []any{map[string]any{"Fn::GetAtt": []any{"FluffyEngineNLBSG", "GroupId"}}},
		nlb.Properties["SecurityGroups"])

	listener := tmpl.Resources["FluffyEngineNLBListener"]
	assert.Equal(t, "UDP", listener.Properties["Protocol"])
	assert.Equal(t, float64(443), listener.Properties["Port"])
	action := listener.Properties["DefaultActions"].([]any)[0].(map[string]any)
	assert.Equal(t, "forward", action["Type"])
	assert.Equal(t, map[string]any{"Ref": "FluffyEngineTargetGroup"}, action["TargetGroupArn"])

	tg := tmpl.Resources["FluffyEngineTargetGroup"]
	assert.Equal(t, "UDP", tg.Properties["Protocol"])
	assert.Equal(t, float64(51260), tg.Properties["Port"])
	assert.Equal(t, "instance", tg.Properties["TargetType"])
	assert.Equal(t, "TCP", tg.Properties["HealthCheckProtocol"])
	assert.Equal(t, "22", tg.Properties["HealthCheckPort"])
	assert.Equal(t, float64(5), tg.Properties["HealthyThresholdCount"])
	assert.Equal(t, float64(5), tg.Properties["UnhealthyThresholdCount"])
}

func TestBuild_EdgeSecurityGroup(t *testing.T) {
	tmpl, _ := buildTemplate(t, testDeployment())

	sg := tmpl.Resources["FluffyEngineNLBSG"]
	ingress := sg.Properties["SecurityGroupIngress"].([]any)
	require.Len(t, ingress, 1)
	rule := ingress[0].(map[string]any)
	assert.Equal(t, "udp", rule["IpProtocol"])
	assert.Equal(t, "0.0.0.0/0", rule["CidrIp"])
	assert.Equal(t, float64(443), rule["FromPort"])
	assert.Equal(t, float64(443), rule["ToPort"])

	egress := sg.Properties["SecurityGroupEgress"].([]any)
	assert.Equal(t, "-1", egress[0].(map[string]any)["IpProtocol"])
}

// The VPN port must only be reachable through a rule whose source is the
// edge security group, never through a CIDR.
func TestBuild_VPNPortOnlyFromEdgeGroup(t *testing.T) {
	d := testDeployment()
	tmpl, _ := buildTemplate(t, d)

	vpnRules := 0
	for name, r := range resourcesOfType(tmpl, "AWS::EC2::SecurityGroup") {
		for _, raw := range r.Properties["SecurityGroupIngress"].([]any) {
			rule := raw.(map[string]any)
			if rule["FromPort"] == float64(d.Network.VPNPort) {
				t.Errorf("%s opens the VPN port inline: %v", name, rule)
			}
		}
	}
	for _, r := range resourcesOfType(tmpl, "AWS::EC2::SecurityGroupIngress") {
		if r.Properties["FromPort"] != float64(d.Network.VPNPort) {
			continue
		}
		vpnRules++
		assert.NotContains(t, r.Properties, "CidrIp")
		assert.Equal(t, map[string]any{"Fn::GetAtt": []any{"FluffyEngineNLBSG", "GroupId"}},
			r.Properties["SourceSecurityGroupId"])
		assert.Equal(t, map[string]any{"Fn::GetAtt": []any{"FluffyEngineInstanceSG", "GroupId"}},
			r.Properties["GroupId"])
		assert.Equal(t, "udp", r.Properties["IpProtocol"])
	}
	assert.Equal(t, 1, vpnRules)
}

func TestBuild_SSHOnlyFromAdminAddress(t *testing.T) {
	tmpl, _ := buildTemplate(t, testDeployment())

	var sshRules []map[string]any
	for _, r := range resourcesOfType(tmpl, "AWS::EC2::SecurityGroup") {
		for _, raw := range r.Properties["SecurityGroupIngress"].([]any) {
			rule := raw.(map[string]any)
			if rule["IpProtocol"] == "tcp" && rule["FromPort"] == float64(22) {
				sshRules = append(sshRules, rule)
			}
		}
	}
	require.Len(t, sshRules, 1)
	assert.Equal(t, "203.0.113.10/32", sshRules[0]["CidrIp"])
	assert.Equal(t, float64(22), sshRules[0]["ToPort"])
}

func TestBuild_Outputs(t *testing.T) {
	tmpl, out := buildTemplate(t, testDeployment())

	assert.Equal(t, map[string]any{"Ref": "FluffyEngineVPC"}, tmpl.Outputs[OutputVpcID].Value)
	assert.Equal(t, map[string]any{"Fn::GetAtt": []any{"FluffyEngineNLB", "DNSName"}},
		tmpl.Outputs[OutputNlbDNSName].Value)
	assert.Equal(t, map[string]any{"Ref": "FluffyEngineTargetGroup"}, tmpl.Outputs[OutputTargetGroupArn].Value)

	assert.Equal(t, "FluffyEngineNetworkStack-PublicSubnetIds", out.PublicSubnetIDsExport)
	assert.Equal(t, "FluffyEngineNetworkStack-InstanceSecurityGroupId", out.InstanceSecurityGroupExport)
	assert.Equal(t, out.PublicSubnetIDsExport, tmpl.Outputs[OutputPublicSubnetIDs].Export.Name)

	join := tmpl.Outputs[OutputPublicSubnetIDs].Value.(map[string]any)["Fn::Join"].([]any)
	assert.Equal(t, ",", join[0])
	assert.Len(t, join[1], 2)
}

func TestBuild_Prefix(t *testing.T) {
	d := testDeployment()
	d.Prefix = "Test"
	s, out, err := Build(d)
	require.NoError(t, err)
	assert.Equal(t, "TestNetworkStack", s.Name())
	assert.Equal(t, "TestVPC", out.VPC.LogicalID())
}

func TestTags(t *testing.T) {
	d := testDeployment()
	d.Tags = map[string]string{"Project": "FluffyEngine", "Env": "prod", "Name": "ignored"}

	tags := Tags(d, "FluffyEngineVPC")
	require.Len(t, tags, 3)
	assert.Equal(t, intrinsics.Tag{Key: "Name", Value: "FluffyEngineVPC"}, tags[0])
	assert.Equal(t, intrinsics.Tag{Key: "Env", Value: "prod"}, tags[1])
	assert.Equal(t, intrinsics.Tag{Key: "Project", Value: "FluffyEngine"}, tags[2])
}
