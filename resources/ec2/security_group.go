package ec2

// Protocol numbers accepted by IpProtocol.
const (
	ProtocolTCP = "tcp"
	ProtocolUDP = "udp"
	// ProtocolAll matches every protocol; ports must be omitted.
	ProtocolAll = "-1"
)

// AnyIPv4 is the CIDR matching every IPv4 address.
const AnyIPv4 = "0.0.0.0/0"

// SecurityGroup is an AWS::EC2::SecurityGroup.
type SecurityGroup struct {
	// GroupDescription is required by CloudFormation.
	GroupDescription string `json:"GroupDescription,omitempty"`

	VpcId any `json:"VpcId,omitempty"`

	// SecurityGroupIngress holds inline ingress rules.
	SecurityGroupIngress []SecurityGroup_Ingress `json:"SecurityGroupIngress,omitempty"`

	// SecurityGroupEgress holds inline egress rules.
	SecurityGroupEgress []SecurityGroup_Egress `json:"SecurityGroupEgress,omitempty"`

	Tags []any `json:"Tags,omitempty"`
}

func (SecurityGroup) ResourceType() string { return "AWS::EC2::SecurityGroup" }

// SecurityGroup_Ingress is an inline ingress rule.
type SecurityGroup_Ingress struct {
	IpProtocol            string `json:"IpProtocol,omitempty"`
	CidrIp                string `json:"CidrIp,omitempty"`
	SourceSecurityGroupId any    `json:"SourceSecurityGroupId,omitempty"`
	FromPort              int    `json:"FromPort,omitempty"`
	ToPort                int    `json:"ToPort,omitempty"`
	Description           string `json:"Description,omitempty"`
}

// SecurityGroup_Egress is an inline egress rule.
type SecurityGroup_Egress struct {
	IpProtocol  string `json:"IpProtocol,omitempty"`
	CidrIp      string `json:"CidrIp,omitempty"`
	FromPort    int    `json:"FromPort,omitempty"`
	ToPort      int    `json:"ToPort,omitempty"`
	Description string `json:"Description,omitempty"`
}

// AllowAllOutbound is the egress rule of a group that may reach anything.
func AllowAllOutbound() []SecurityGroup_Egress {
	return []SecurityGroup_Egress{{
		IpProtocol:  ProtocolAll,
		CidrIp:      AnyIPv4,
		Description: "Allow all outbound traffic by default",
	}}
}

// SecurityGroupIngress is a standalone AWS::EC2::SecurityGroupIngress rule.
// Group-to-group rules are declared this way so the source group can live
// outside the target group's definition.
type SecurityGroupIngress struct {
	GroupId               any    `json:"GroupId,omitempty"`
	IpProtocol            string `json:"IpProtocol,omitempty"`
	CidrIp                string `json:"CidrIp,omitempty"`
	SourceSecurityGroupId any    `json:"SourceSecurityGroupId,omitempty"`
	FromPort              int    `json:"FromPort,omitempty"`
	ToPort                int    `json:"ToPort,omitempty"`
	Description           string `json:"Description,omitempty"`
}

func (SecurityGroupIngress) ResourceType() string { return "AWS::EC2::SecurityGroupIngress" }
