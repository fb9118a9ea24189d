package ec2

// Instance is an AWS::EC2::Instance.
type Instance struct {
	// ImageId is the AMI; the server stack always passes a parameter Ref.
	ImageId any `json:"ImageId,omitempty"`

	InstanceType string `json:"InstanceType,omitempty"`

	// KeyName is the name of an existing EC2 key pair.
	KeyName any `json:"KeyName,omitempty"`

	NetworkInterfaces []Instance_NetworkInterface `json:"NetworkInterfaces,omitempty"`

	// UserData must be base64 encoded (Fn::Base64).
	UserData any `json:"UserData,omitempty"`

	Tags []any `json:"Tags,omitempty"`
}

func (Instance) ResourceType() string { return "AWS::EC2::Instance" }

// Instance_NetworkInterface attaches a network interface at launch.
type Instance_NetworkInterface struct {
	AssociatePublicIpAddress bool   `json:"AssociatePublicIpAddress,omitempty"`
	DeviceIndex              string `json:"DeviceIndex,omitempty"`
	GroupSet                 []any  `json:"GroupSet,omitempty"`
	SubnetId                 any    `json:"SubnetId,omitempty"`
}
