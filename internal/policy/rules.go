package policy

import (
	"fmt"
	"net/netip"
	"sort"
	"strings"

	fluffy "github.com/fluffyengine/fluffy-engine"
	"github.com/fluffyengine/fluffy-engine/internal/server"
)

// Rules:
//
//	FE001: The VPN port is never reachable from a CIDR range
//	FE002: SSH is reachable only from the single administrator address
//	FE003: The server stack depends on the network stack
//	FE004: Per-instance outputs match the instance count
//	FE005: Instance images come from an SSM parameter, never a literal AMI
//	FE006: The bootstrap repository is pinned to a ref
//	FE007: The administrator address is not a documentation placeholder

// AllRules returns every policy rule.
func AllRules() []Rule {
	return []Rule{
		VPNPortNotPublic{},
		SSHSingleAddress{},
		ServerDependsOnNetwork{},
		InstanceOutputs{},
		ImageFromParameter{},
		PinnedBootstrap{},
		AdminNotPlaceholder{},
	}
}

// VPNPortNotPublic requires the VPN data port on the instances' security
// groups to be opened only through security group sources. Groups no
// instance attaches to (the load balancer's edge group) are not checked,
// so a public port equal to the VPN port is allowed.
type VPNPortNotPublic struct{}

func (r VPNPortNotPublic) ID() string { return "FE001" }
func (r VPNPortNotPublic) Description() string {
	return "The VPN port on the instances is never reachable from a CIDR range"
}

func (r VPNPortNotPublic) Check(in *Input) []Issue {
	var issues []Issue
	port := in.Deployment.Network.VPNPort
	attached := instanceGroups(in)
	for _, name := range stackNames(in) {
		for _, rule := range ingressRules(in.Templates[name]) {
			if !attached[groupKey{stack: name, resource: rule.group}] {
				continue
			}
			if rule.cidr() == "" || !rule.covers("udp", port) {
				continue
			}
			issues = append(issues, Issue{
				Rule:     r.ID(),
				Message:  fmt.Sprintf("%s opens VPN port %d to %s", rule.resource, port, rule.cidr()),
				File:     name,
				Severity: SeverityError,
			})
		}
	}
	return issues
}

type groupKey struct {
	stack    string
	resource string
}

// instanceGroups returns the security groups attached to any instance,
// following Ref, GetAtt and cross-stack imports.
func instanceGroups(in *Input) map[groupKey]bool {
	exports := make(map[string]groupKey)
	for _, name := range stackNames(in) {
		t := in.Templates[name]
		if t == nil {
			continue
		}
		for _, o := range t.Outputs {
			if o.Export == nil {
				continue
			}
			if res, ok := logicalTarget(o.Value); ok {
				exports[o.Export.Name] = groupKey{stack: name, resource: res}
			}
		}
	}

	attached := make(map[groupKey]bool)
	add := func(stack string, v any) {
		if res, ok := logicalTarget(v); ok {
			attached[groupKey{stack: stack, resource: res}] = true
			return
		}
		if m, ok := v.(map[string]any); ok && len(m) == 1 {
			if export, ok := m["Fn::ImportValue"].(string); ok {
				if key, ok := exports[export]; ok {
					attached[key] = true
				}
			}
		}
	}

	for _, name := range stackNames(in) {
		t := in.Templates[name]
		for _, resName := range sortedResources(t) {
			res := t.Resources[resName]
			if res.Type != "AWS::EC2::Instance" {
				continue
			}
			for _, key := range []string{"SecurityGroupIds", "SecurityGroups"} {
				list, _ := res.Properties[key].([]any)
				for _, g := range list {
					add(name, g)
				}
			}
			enis, _ := res.Properties["NetworkInterfaces"].([]any)
			for _, raw := range enis {
				eni, _ := raw.(map[string]any)
				list, _ := eni["GroupSet"].([]any)
				for _, g := range list {
					add(name, g)
				}
			}
		}
	}
	return attached
}

// logicalTarget resolves {"Ref": X} or {"Fn::GetAtt": [X, attr]} to X.
func logicalTarget(v any) (string, bool) {
	if name, ok := refName(v); ok {
		return name, true
	}
	m, ok := v.(map[string]any)
	if !ok || len(m) != 1 {
		return "", false
	}
	getAtt, ok := m["Fn::GetAtt"].([]any)
	if !ok || len(getAtt) != 2 {
		return "", false
	}
	name, ok := getAtt[0].(string)
	return name, ok && name != ""
}

// SSHSingleAddress requires every CIDR-sourced SSH rule to be the
// configured /32 administrator address, and exactly one such rule.
type SSHSingleAddress struct{}

func (r SSHSingleAddress) ID() string { return "FE002" }
func (r SSHSingleAddress) Description() string {
	return "SSH is reachable only from the single administrator address"
}

func (r SSHSingleAddress) Check(in *Input) []Issue {
	var issues []Issue
	port := in.Deployment.Network.SSHPort
	admin := in.Deployment.Network.AdminCIDR
	found := 0
	for _, name := range stackNames(in) {
		for _, rule := range ingressRules(in.Templates[name]) {
			cidr := rule.cidr()
			if cidr == "" || !rule.covers("tcp", port) {
				continue
			}
			found++
			prefix, err := netip.ParsePrefix(cidr)
			switch {
			case err != nil || prefix.Bits() != prefix.Addr().BitLen():
				issues = append(issues, Issue{
					Rule:     r.ID(),
					Message:  fmt.Sprintf("%s allows SSH from range %s; only a single address is allowed", rule.resource, cidr),
					File:     name,
					Severity: SeverityError,
				})
			case cidr != admin:
				issues = append(issues, Issue{
					Rule:     r.ID(),
					Message:  fmt.Sprintf("%s allows SSH from %s, not the administrator address %s", rule.resource, cidr, admin),
					File:     name,
					Severity: SeverityError,
				})
			}
		}
	}
	if found > 1 {
		issues = append(issues, Issue{
			Rule:     r.ID(),
			Message:  fmt.Sprintf("%d SSH rules found; exactly one administrator rule is allowed", found),
			File:     in.Deployment.NetworkStackName(),
			Severity: SeverityError,
		})
	}
	return issues
}

// ServerDependsOnNetwork requires the deployment order network → server.
type ServerDependsOnNetwork struct{}

func (r ServerDependsOnNetwork) ID() string { return "FE003" }
func (r ServerDependsOnNetwork) Description() string {
	return "The server stack depends on the network stack"
}

func (r ServerDependsOnNetwork) Check(in *Input) []Issue {
	srv := in.Deployment.ServerStackName()
	net := in.Deployment.NetworkStackName()
	if _, ok := in.Templates[srv]; !ok {
		return []Issue{{
			Rule:     r.ID(),
			Message:  fmt.Sprintf("stack %s is missing", srv),
			Severity: SeverityError,
		}}
	}
	for _, dep := range in.Dependencies[srv] {
		if dep == net {
			return nil
		}
	}
	return []Issue{{
		Rule:     r.ID(),
		Message:  fmt.Sprintf("%s does not depend on %s", srv, net),
		File:     srv,
		Severity: SeverityError,
	}}
}

// InstanceOutputs requires one public IP output and one instance ID output
// per declared instance.
type InstanceOutputs struct{}

func (r InstanceOutputs) ID() string { return "FE004" }
func (r InstanceOutputs) Description() string {
	return "Per-instance outputs match the instance count"
}

func (r InstanceOutputs) Check(in *Input) []Issue {
	name := in.Deployment.ServerStackName()
	t, ok := in.Templates[name]
	if !ok {
		return nil
	}

	want := in.Deployment.Compute.Count
	instances := 0
	for _, res := range t.Resources {
		if res.Type == "AWS::EC2::Instance" {
			instances++
		}
	}

	var issues []Issue
	if instances != want {
		issues = append(issues, Issue{
			Rule:     r.ID(),
			Message:  fmt.Sprintf("%d instances declared, %d configured", instances, want),
			File:     name,
			Severity: SeverityError,
		})
	}
	for i := 0; i < want; i++ {
		for _, out := range []string{server.OutputPublicIP(i), server.OutputInstanceID(i)} {
			if _, ok := t.Outputs[out]; !ok {
				issues = append(issues, Issue{
					Rule:     r.ID(),
					Message:  fmt.Sprintf("output %s is missing", out),
					File:     name,
					Severity: SeverityError,
				})
			}
		}
	}
	if extra := len(t.Outputs) - 2*want; extra > 0 {
		issues = append(issues, Issue{
			Rule:     r.ID(),
			Message:  fmt.Sprintf("%d unexpected outputs", extra),
			File:     name,
			Severity: SeverityWarning,
		})
	}
	return issues
}

// ImageFromParameter forbids literal AMI IDs.
type ImageFromParameter struct{}

func (r ImageFromParameter) ID() string { return "FE005" }
func (r ImageFromParameter) Description() string {
	return "Instance images come from an SSM parameter, never a literal AMI"
}

func (r ImageFromParameter) Check(in *Input) []Issue {
	var issues []Issue
	for _, name := range stackNames(in) {
		t := in.Templates[name]
		for _, resName := range sortedResources(t) {
			res := t.Resources[resName]
			if res.Type != "AWS::EC2::Instance" {
				continue
			}
			image := res.Properties["ImageId"]
			ref, isRef := refName(image)
			param, isParam := t.Parameters[ref]
			if isRef && isParam && param.Type == server.ImageParameterType {
				continue
			}
			issues = append(issues, Issue{
				Rule:       r.ID(),
				Message:    fmt.Sprintf("%s image %v is not resolved from an SSM parameter", resName, image),
				Suggestion: "Ref a parameter of type " + server.ImageParameterType,
				File:       name,
				Severity:   SeverityError,
			})
		}
	}
	return issues
}

// PinnedBootstrap warns when instances clone the tip of an external
// repository at boot.
type PinnedBootstrap struct{}

func (r PinnedBootstrap) ID() string { return "FE006" }
func (r PinnedBootstrap) Description() string {
	return "The bootstrap repository is pinned to a ref"
}

func (r PinnedBootstrap) Check(in *Input) []Issue {
	if in.Deployment.Compute.BootstrapRef != "" {
		return nil
	}
	return []Issue{{
		Rule:       r.ID(),
		Message:    fmt.Sprintf("instances clone %s at its default branch on every boot", in.Deployment.Compute.BootstrapRepo),
		Suggestion: "set compute.bootstrap_ref to a tag or commit",
		File:       in.Deployment.ServerStackName(),
		Severity:   SeverityWarning,
	}}
}

// AdminNotPlaceholder warns when the administrator address is still in a
// documentation range (RFC 5737).
type AdminNotPlaceholder struct{}

func (r AdminNotPlaceholder) ID() string { return "FE007" }
func (r AdminNotPlaceholder) Description() string {
	return "The administrator address is not a documentation placeholder"
}

var documentationRanges = []netip.Prefix{
	netip.MustParsePrefix("192.0.2.0/24"),
	netip.MustParsePrefix("198.51.100.0/24"),
	netip.MustParsePrefix("203.0.113.0/24"),
}

func (r AdminNotPlaceholder) Check(in *Input) []Issue {
	prefix, err := netip.ParsePrefix(in.Deployment.Network.AdminCIDR)
	if err != nil {
		return nil
	}
	for _, doc := range documentationRanges {
		if doc.Contains(prefix.Addr()) {
			return []Issue{{
				Rule:       r.ID(),
				Message:    fmt.Sprintf("administrator address %s is a documentation placeholder", prefix),
				Suggestion: "set network.admin_cidr or pass -c admin_cidr=<your address>",
				File:       in.Deployment.NetworkStackName(),
				Severity:   SeverityWarning,
			}}
		}
	}
	return nil
}

type ingressRule struct {
	resource string
	// group is the logical name of the security group the rule belongs to,
	// empty when it cannot be resolved within the template.
	group    string
	props    map[string]any
}

func (r ingressRule) cidr() string {
	if s, ok := r.props["CidrIp"].(string); ok && s != "" {
		return s
	}
	if s, ok := r.props["CidrIpv6"].(string); ok && s != "" {
		return s
	}
	return ""
}

// covers reports whether the rule admits protocol traffic on port.
func (r ingressRule) covers(protocol string, port int) bool {
	proto, _ := r.props["IpProtocol"].(string)
	switch strings.ToLower(proto) {
	case "-1", "all":
		return true
	case protocol, protocolNumbers[protocol]:
	default:
		return false
	}
	from, hasFrom := toInt(r.props["FromPort"])
	to, hasTo := toInt(r.props["ToPort"])
	if !hasFrom && !hasTo {
		return true
	}
	if !hasTo {
		to = from
	}
	if from == -1 {
		return true
	}
	return from <= port && port <= to
}

var protocolNumbers = map[string]string{"tcp": "6", "udp": "17"}

// ingressRules collects inline and standalone ingress rules of t.
func ingressRules(t *fluffy.Template) []ingressRule {
	var out []ingressRule
	for _, name := range sortedResources(t) {
		res := t.Resources[name]
		switch res.Type {
		case "AWS::EC2::SecurityGroup":
			list, _ := res.Properties["SecurityGroupIngress"].([]any)
			for _, raw := range list {
				if props, ok := raw.(map[string]any); ok {
					out = append(out, ingressRule{resource: name, group: name, props: props})
				}
			}
		case "AWS::EC2::SecurityGroupIngress":
			group, _ := logicalTarget(res.Properties["GroupId"])
			out = append(out, ingressRule{resource: name, group: group, props: res.Properties})
		}
	}
	return out
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

func refName(v any) (string, bool) {
	m, ok := v.(map[string]any)
	if !ok || len(m) != 1 {
		return "", false
	}
	name, ok := m["Ref"].(string)
	return name, ok
}

func stackNames(in *Input) []string {
	names := make([]string, 0, len(in.Templates))
	for name := range in.Templates {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func sortedResources(t *fluffy.Template) []string {
	if t == nil {
		return nil
	}
	names := make([]string, 0, len(t.Resources))
	for name := range t.Resources {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
