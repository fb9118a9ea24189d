package ec2

// VPC is an AWS::EC2::VPC.
type VPC struct {
	// CidrBlock is the primary IPv4 range of the VPC.
	CidrBlock string `json:"CidrBlock,omitempty"`

	// EnableDnsHostnames gives instances with public addresses public DNS names.
	EnableDnsHostnames bool `json:"EnableDnsHostnames,omitempty"`

	// EnableDnsSupport enables the Amazon provided DNS server.
	EnableDnsSupport bool `json:"EnableDnsSupport,omitempty"`

	// InstanceTenancy is "default" or "dedicated".
	InstanceTenancy string `json:"InstanceTenancy,omitempty"`

	Tags []any `json:"Tags,omitempty"`
}

func (VPC) ResourceType() string { return "AWS::EC2::VPC" }

// Subnet is an AWS::EC2::Subnet.
type Subnet struct {
	VpcId any `json:"VpcId,omitempty"`

	CidrBlock string `json:"CidrBlock,omitempty"`

	AvailabilityZone any `json:"AvailabilityZone,omitempty"`

	// MapPublicIpOnLaunch assigns public addresses to instances launched in the subnet.
	MapPublicIpOnLaunch bool `json:"MapPublicIpOnLaunch,omitempty"`

	Tags []any `json:"Tags,omitempty"`
}

func (Subnet) ResourceType() string { return "AWS::EC2::Subnet" }

// InternetGateway is an AWS::EC2::InternetGateway.
type InternetGateway struct {
	Tags []any `json:"Tags,omitempty"`
}

func (InternetGateway) ResourceType() string { return "AWS::EC2::InternetGateway" }

// VPCGatewayAttachment is an AWS::EC2::VPCGatewayAttachment.
type VPCGatewayAttachment struct {
	VpcId             any `json:"VpcId,omitempty"`
	InternetGatewayId any `json:"InternetGatewayId,omitempty"`
}

func (VPCGatewayAttachment) ResourceType() string { return "AWS::EC2::VPCGatewayAttachment" }

// RouteTable is an AWS::EC2::RouteTable.
type RouteTable struct {
	VpcId any   `json:"VpcId,omitempty"`
	Tags  []any `json:"Tags,omitempty"`
}

func (RouteTable) ResourceType() string { return "AWS::EC2::RouteTable" }

// Route is an AWS::EC2::Route.
type Route struct {
	RouteTableId         any    `json:"RouteTableId,omitempty"`
	DestinationCidrBlock string `json:"DestinationCidrBlock,omitempty"`
	GatewayId            any    `json:"GatewayId,omitempty"`
}

func (Route) ResourceType() string { return "AWS::EC2::Route" }

// SubnetRouteTableAssociation is an AWS::EC2::SubnetRouteTableAssociation.
type SubnetRouteTableAssociation struct {
	SubnetId     any `json:"SubnetId,omitempty"`
	RouteTableId any `json:"RouteTableId,omitempty"`
}

func (SubnetRouteTableAssociation) ResourceType() string {
	return "AWS::EC2::SubnetRouteTableAssociation"
}
