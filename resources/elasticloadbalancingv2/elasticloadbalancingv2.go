// Package elasticloadbalancingv2 contains the AWS::ElasticLoadBalancingV2
// CloudFormation resource types used by the network stack.
package elasticloadbalancingv2

// Load balancer and listener protocol values.
const (
	ProtocolTCP = "TCP"
	ProtocolUDP = "UDP"
)

// CrossZoneAttribute is the load balancer attribute that turns on cross-zone balancing.
const CrossZoneAttribute = "load_balancing.cross_zone.enabled"

// LoadBalancer is an AWS::ElasticLoadBalancingV2::LoadBalancer.
type LoadBalancer struct {
	// Scheme is "internet-facing" or "internal".
	Scheme string `json:"Scheme,omitempty"`

	// Type is "network", "application" or "gateway".
	Type string `json:"Type,omitempty"`

	Subnets []any `json:"Subnets,omitempty"`

	SecurityGroups []any `json:"SecurityGroups,omitempty"`

	LoadBalancerAttributes []LoadBalancer_Attribute `json:"LoadBalancerAttributes,omitempty"`

	Tags []any `json:"Tags,omitempty"`
}

func (LoadBalancer) ResourceType() string { return "AWS::ElasticLoadBalancingV2::LoadBalancer" }

// LoadBalancer_Attribute is a key/value load balancer attribute.
type LoadBalancer_Attribute struct {
	Key   string `json:"Key,omitempty"`
	Value string `json:"Value,omitempty"`
}

// Listener is an AWS::ElasticLoadBalancingV2::Listener.
type Listener struct {
	LoadBalancerArn any               `json:"LoadBalancerArn,omitempty"`
	Port            int               `json:"Port,omitempty"`
	Protocol        string            `json:"Protocol,omitempty"`
	DefaultActions  []Listener_Action `json:"DefaultActions,omitempty"`
}

func (Listener) ResourceType() string { return "AWS::ElasticLoadBalancingV2::Listener" }

// Listener_Action is a listener default action.
type Listener_Action struct {
	// Type is "forward" for the VPN listener.
	Type           string `json:"Type,omitempty"`
	TargetGroupArn any    `json:"TargetGroupArn,omitempty"`
}

// TargetGroup is an AWS::ElasticLoadBalancingV2::TargetGroup.
type TargetGroup struct {
	Port       int    `json:"Port,omitempty"`
	Protocol   string `json:"Protocol,omitempty"`
	TargetType string `json:"TargetType,omitempty"`
	VpcId      any    `json:"VpcId,omitempty"`

	HealthCheckProtocol     string `json:"HealthCheckProtocol,omitempty"`
	HealthCheckPort         string `json:"HealthCheckPort,omitempty"`
	HealthyThresholdCount   int    `json:"HealthyThresholdCount,omitempty"`
	UnhealthyThresholdCount int    `json:"UnhealthyThresholdCount,omitempty"`

	Tags []any `json:"Tags,omitempty"`
}

func (TargetGroup) ResourceType() string { return "AWS::ElasticLoadBalancingV2::TargetGroup" }
