package optimizer

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	fluffy "github.com/fluffyengine/fluffy-engine"
	"github.com/fluffyengine/fluffy-engine/internal/policy"
)

// burstableFamilies are instance families suited to a mostly idle VPN.
var burstableFamilies = []string{"t2", "t3", "t3a", "t4g"}

var rules = []Rule{
	{
		ID:       "OPT-EC2-001",
		Category: "cost",
		Title:    "Use a burstable instance type",
		Check: func(in *policy.Input) []fluffy.OptimizeSuggestion {
			var out []fluffy.OptimizeSuggestion
			for _, r := range resourcesOfType(in, "AWS::EC2::Instance") {
				it, _ := r.def.Properties["InstanceType"].(string)
				family, _, _ := strings.Cut(it, ".")
				if it == "" || contains(burstableFamilies, family) {
					continue
				}
				out = append(out, fluffy.OptimizeSuggestion{
					Stack:       r.stack,
					Resource:    r.name,
					Severity:    "low",
					Description: fmt.Sprintf("%s is a fixed-performance type. WireGuard traffic for a handful of peers rarely needs sustained CPU.", it),
					Suggestion:  "Set compute.instance_type to a t3 or t4g size unless throughput tests show otherwise.",
				})
			}
			return out
		},
	},
	{
		ID:       "OPT-EC2-002",
		Category: "reliability",
		Title:    "Run more than one VPN server",
		Check: func(in *policy.Input) []fluffy.OptimizeSuggestion {
			instances := resourcesOfType(in, "AWS::EC2::Instance")
			if len(instances) != 1 {
				return nil
			}
			return []fluffy.OptimizeSuggestion{{
				Stack:       instances[0].stack,
				Resource:    instances[0].name,
				Severity:    "medium",
				Description: "A single server is a single point of failure; the load balancer has nowhere to send traffic while it is down.",
				Suggestion:  "Set compute.count (or -c count=N) to 2 or more so each public subnet has a server.",
			}}
		},
	},
	{
		ID:       "OPT-EC2-003",
		Category: "security",
		Title:    "Require IMDSv2 on instances",
		Check: func(in *policy.Input) []fluffy.OptimizeSuggestion {
			var out []fluffy.OptimizeSuggestion
			for _, r := range resourcesOfType(in, "AWS::EC2::Instance") {
				if _, ok := r.def.Properties["MetadataOptions"]; ok {
					continue
				}
				out = append(out, fluffy.OptimizeSuggestion{
					Stack:       r.stack,
					Resource:    r.name,
					Severity:    "medium",
					Description: "The instance accepts IMDSv1 requests, which a server-side request forgery can use to read instance credentials.",
					Suggestion:  "Require session tokens through a launch template with HttpTokens: required.",
				})
			}
			return out
		},
	},
	{
		ID:       "OPT-NET-001",
		Category: "reliability",
		Title:    "Spread subnets across availability zones",
		Check: func(in *policy.Input) []fluffy.OptimizeSuggestion {
			subnets := resourcesOfType(in, "AWS::EC2::Subnet")
			if len(subnets) == 0 || len(subnets) >= 2 {
				return nil
			}
			return []fluffy.OptimizeSuggestion{{
				Stack:       subnets[0].stack,
				Resource:    subnets[0].name,
				Severity:    "medium",
				Description: "All public subnets sit in one availability zone, so a zone outage takes the VPN down.",
				Suggestion:  "Set network.max_azs to 2 or more.",
			}}
		},
	},
	{
		ID:       "OPT-NET-002",
		Category: "reliability",
		Title:    "Place a server in every public subnet",
		Check: func(in *policy.Input) []fluffy.OptimizeSuggestion {
			subnets := resourcesOfType(in, "AWS::EC2::Subnet")
			instances := resourcesOfType(in, "AWS::EC2::Instance")
			if len(instances) == 0 || len(instances) >= len(subnets) {
				return nil
			}
			var out []fluffy.OptimizeSuggestion
			for _, s := range subnets[len(instances):] {
				out = append(out, fluffy.OptimizeSuggestion{
					Stack:       s.stack,
					Resource:    s.name,
					Severity:    "low",
					Description: "The load balancer has a node in this subnet but no server behind it, so cross-zone traffic pays an extra hop.",
					Suggestion:  fmt.Sprintf("Raise compute.count to %d.", len(subnets)),
				})
			}
			return out
		},
	},
	{
		ID:       "OPT-NLB-001",
		Category: "reliability",
		Title:    "Health check port must be reachable from the load balancer",
		Check: func(in *policy.Input) []fluffy.OptimizeSuggestion {
			allowed := groupSourcedIngress(in)
			var out []fluffy.OptimizeSuggestion
			for _, r := range resourcesOfType(in, "AWS::ElasticLoadBalancingV2::TargetGroup") {
				port, proto, ok := healthCheck(r.def)
				if !ok {
					continue
				}
				if reachable(allowed, proto, port) {
					continue
				}
				out = append(out, fluffy.OptimizeSuggestion{
					Stack:    r.stack,
					Resource: r.name,
					Severity: "high",
					Description: fmt.Sprintf("Health checks use %s port %d, but no security group rule admits that port from another group. "+
						"Targets will stay unhealthy and the listener will not forward VPN traffic.", strings.ToUpper(proto), port),
					Suggestion: "Allow the health check port from the load balancer security group, or check a port the instances already admit from it.",
				})
			}
			return out
		},
	},
	{
		ID:       "OPT-NLB-002",
		Category: "performance",
		Title:    "Enable cross-zone load balancing",
		Check: func(in *policy.Input) []fluffy.OptimizeSuggestion {
			var out []fluffy.OptimizeSuggestion
			for _, r := range resourcesOfType(in, "AWS::ElasticLoadBalancingV2::LoadBalancer") {
				if crossZoneEnabled(r.def) {
					continue
				}
				out = append(out, fluffy.OptimizeSuggestion{
					Stack:       r.stack,
					Resource:    r.name,
					Severity:    "low",
					Description: "Without cross-zone load balancing each load balancer node only reaches servers in its own zone.",
					Suggestion:  "Set load_balancing.cross_zone.enabled to true.",
				})
			}
			return out
		},
	},
}

type namedResource struct {
	stack string
	name  string
	def   fluffy.ResourceDef
}

// resourcesOfType returns matching resources ordered by stack then name.
func resourcesOfType(in *policy.Input, typ string) []namedResource {
	stacks := make([]string, 0, len(in.Templates))
	for name := range in.Templates {
		stacks = append(stacks, name)
	}
	sort.Strings(stacks)

	var out []namedResource
	for _, s := range stacks {
		t := in.Templates[s]
		names := make([]string, 0, len(t.Resources))
		for name, def := range t.Resources {
			if def.Type == typ {
				names = append(names, name)
			}
		}
		sort.Strings(names)
		for _, name := range names {
			out = append(out, namedResource{stack: s, name: name, def: t.Resources[name]})
		}
	}
	return out
}

type ingress struct {
	proto    string
	from, to int
}

// groupSourcedIngress collects ingress rules whose source is another
// security group, inline or standalone.
func groupSourcedIngress(in *policy.Input) []ingress {
	var out []ingress
	add := func(props map[string]any) {
		if _, ok := props["SourceSecurityGroupId"]; !ok {
			return
		}
		proto, _ := props["IpProtocol"].(string)
		from, _ := toInt(props["FromPort"])
		to, _ := toInt(props["ToPort"])
		out = append(out, ingress{proto: strings.ToLower(proto), from: from, to: to})
	}

	for _, r := range resourcesOfType(in, "AWS::EC2::SecurityGroupIngress") {
		add(r.def.Properties)
	}
	for _, r := range resourcesOfType(in, "AWS::EC2::SecurityGroup") {
		list, _ := r.def.Properties["SecurityGroupIngress"].([]any)
		for _, item := range list {
			if props, ok := item.(map[string]any); ok {
				add(props)
			}
		}
	}
	return out
}

func reachable(rules []ingress, proto string, port int) bool {
	for _, r := range rules {
		if r.proto != "-1" && r.proto != proto {
			continue
		}
		if r.proto == "-1" || (port >= r.from && port <= r.to) {
			return true
		}
	}
	return false
}

// healthCheck returns the port and protocol a target group health check uses.
func healthCheck(def fluffy.ResourceDef) (int, string, bool) {
	proto, _ := def.Properties["HealthCheckProtocol"].(string)
	if proto == "" {
		proto, _ = def.Properties["Protocol"].(string)
	}
	proto = strings.ToLower(proto)
	if proto == "udp" || proto == "" {
		return 0, "", false
	}
	if proto == "http" || proto == "https" {
		proto = "tcp"
	}

	raw, _ := def.Properties["HealthCheckPort"].(string)
	if raw == "" || raw == "traffic-port" {
		port, ok := toInt(def.Properties["Port"])
		return port, proto, ok
	}
	port, err := strconv.Atoi(raw)
	if err != nil {
		return 0, "", false
	}
	return port, proto, true
}

func crossZoneEnabled(def fluffy.ResourceDef) bool {
	attrs, _ := def.Properties["LoadBalancerAttributes"].([]any)
	for _, a := range attrs {
		m, ok := a.(map[string]any)
		if !ok {
			continue
		}
		if m["Key"] == "load_balancing.cross_zone.enabled" && m["Value"] == "true" {
			return true
		}
	}
	return false
}

func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case float64:
		return int(n), true
	case int:
		return n, true
	case int64:
		return int(n), true
	default:
		return 0, false
	}
}

func contains(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}
