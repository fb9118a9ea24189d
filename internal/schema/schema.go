// Package schema provides offline CloudFormation schema validation for the
// resource types a deployment renders.
package schema

import (
	"fmt"
	"sort"
	"strings"

	"github.com/lex00/cloudformation-schema-go/enums"

	fluffy "github.com/fluffyengine/fluffy-engine"
)

// Options configures schema validation.
type Options struct {
	// Strict reports unknown properties as warnings
	Strict bool
}

// Error is a schema violation on one resource property.
type Error struct {
	Stack    string
	Resource string
	Property string
	Message  string
}

func (e Error) String() string {
	if e.Stack != "" {
		return fmt.Sprintf("%s/%s.%s: %s", e.Stack, e.Resource, e.Property, e.Message)
	}
	return fmt.Sprintf("%s.%s: %s", e.Resource, e.Property, e.Message)
}

// Result contains schema validation results.
type Result struct {
	Valid    bool
	Errors   []Error
	Warnings []Error
}

// ValidateTemplates validates every template, keyed by stack name.
func ValidateTemplates(templates map[string]*fluffy.Template, opts Options) *Result {
	stacks := make([]string, 0, len(templates))
	for name := range templates {
		stacks = append(stacks, name)
	}
	sort.Strings(stacks)

	result := &Result{Valid: true}
	for _, s := range stacks {
		r := ValidateTemplate(templates[s], opts)
		for _, e := range r.Errors {
			e.Stack = s
			result.Errors = append(result.Errors, e)
		}
		for _, w := range r.Warnings {
			w.Stack = s
			result.Warnings = append(result.Warnings, w)
		}
	}
	result.Valid = len(result.Errors) == 0
	return result
}

// ValidateTemplate validates a CloudFormation template against known schemas.
func ValidateTemplate(template *fluffy.Template, opts Options) *Result {
	result := &Result{Valid: true}
	if template == nil {
		return result
	}

	names := make([]string, 0, len(template.Resources))
	for name := range template.Resources {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		errs, warnings := validateResource(name, template.Resources[name], opts)
		result.Errors = append(result.Errors, errs...)
		result.Warnings = append(result.Warnings, warnings...)
	}

	result.Valid = len(result.Errors) == 0
	return result
}

func validateResource(name string, resource fluffy.ResourceDef, opts Options) ([]Error, []Error) {
	var errs, warnings []Error

	if !isValidResourceType(resource.Type) {
		errs = append(errs, Error{
			Resource: name,
			Property: "Type",
			Message:  fmt.Sprintf("invalid resource type format: %s", resource.Type),
		})
		return errs, warnings
	}

	schema, ok := resourceSchemas[resource.Type]
	if !ok {
		warnings = append(warnings, Error{
			Resource: name,
			Property: "Type",
			Message:  fmt.Sprintf("unknown resource type: %s (schema not available for validation)", resource.Type),
		})
		return errs, warnings
	}

	for _, required := range schema.Required {
		if _, exists := resource.Properties[required]; !exists {
			errs = append(errs, Error{
				Resource: name,
				Property: required,
				Message:  fmt.Sprintf("missing required property: %s", required),
			})
		}
	}

	props := make([]string, 0, len(resource.Properties))
	for p := range resource.Properties {
		props = append(props, p)
	}
	sort.Strings(props)

	for _, propName := range props {
		propValue := resource.Properties[propName]
		propSchema, ok := schema.Properties[propName]
		if !ok {
			if opts.Strict {
				warnings = append(warnings, Error{
					Resource: name,
					Property: propName,
					Message:  fmt.Sprintf("unknown property: %s", propName),
				})
			}
			continue
		}
		errs = append(errs, validateProperty(resource.Type, name, propName, propValue, propSchema)...)
	}

	return errs, warnings
}

// isValidResourceType checks the AWS::Service::Resource or Custom::* shape.
func isValidResourceType(resourceType string) bool {
	if strings.HasPrefix(resourceType, "Custom::") {
		return true
	}
	parts := strings.Split(resourceType, "::")
	if len(parts) != 3 {
		return false
	}
	return parts[0] == "AWS" && parts[1] != "" && parts[2] != ""
}

func validateProperty(resourceType, resource, property string, value any, schema PropertySchema) []Error {
	if isIntrinsic(value) {
		return nil
	}

	var errs []Error
	if !isValidType(value, schema.Type) {
		errs = append(errs, Error{
			Resource: resource,
			Property: property,
			Message:  fmt.Sprintf("expected type %s", schema.Type),
		})
		return errs
	}

	strVal, isString := value.(string)
	if !isString {
		return errs
	}

	if len(schema.AllowedValues) > 0 {
		found := false
		for _, allowed := range schema.AllowedValues {
			if strings.EqualFold(strVal, allowed) {
				found = true
				break
			}
		}
		if !found {
			errs = append(errs, Error{
				Resource: resource,
				Property: property,
				Message:  fmt.Sprintf("value %q not in allowed values: %v", strVal, schema.AllowedValues),
			})
		}
		return errs
	}

	if schema.Enum {
		service := enumService(resourceType)
		if enumName := enums.GetEnumForProperty(service, property); enumName != "" {
			if !enums.IsValidValue(service, enumName, strVal) {
				errs = append(errs, Error{
					Resource: resource,
					Property: property,
					Message:  fmt.Sprintf("value %q is not a valid %s", strVal, enumName),
				})
			}
		}
	}

	return errs
}

// enumService maps a resource type to its cloudformation-schema-go enums service.
func enumService(resourceType string) string {
	parts := strings.Split(resourceType, "::")
	if len(parts) != 3 {
		return ""
	}
	switch strings.ToLower(parts[1]) {
	case "elasticloadbalancingv2":
		return "elbv2"
	default:
		return strings.ToLower(parts[1])
	}
}

func isIntrinsic(value any) bool {
	m, ok := value.(map[string]any)
	if !ok || len(m) != 1 {
		return false
	}
	for key := range m {
		if strings.HasPrefix(key, "Fn::") || key == "Ref" {
			return true
		}
	}
	return false
}

// isValidType checks if a value matches the expected type.
func isValidType(value any, expectedType string) bool {
	switch expectedType {
	case "String":
		_, ok := value.(string)
		return ok
	case "Integer":
		switch value.(type) {
		case int, int32, int64, float64:
			return true
		}
		return false
	case "Boolean":
		_, ok := value.(bool)
		return ok
	case "List":
		_, ok := value.([]any)
		return ok
	case "Map":
		_, ok := value.(map[string]any)
		return ok
	default:
		return true
	}
}

// ResourceSchema defines the schema for a resource type.
type ResourceSchema struct {
	Required   []string
	Properties map[string]PropertySchema
}

// PropertySchema defines the schema for a property.
type PropertySchema struct {
	Type          string
	AllowedValues []string
	// Enum checks string values against the published enum for the property.
	Enum bool
}

var (
	str     = PropertySchema{Type: "String"}
	integer = PropertySchema{Type: "Integer"}
	boolean = PropertySchema{Type: "Boolean"}
	list    = PropertySchema{Type: "List"}
	enum    = PropertySchema{Type: "String", Enum: true}
)

var resourceSchemas = map[string]ResourceSchema{
	"AWS::EC2::VPC": {
		Properties: map[string]PropertySchema{
			"CidrBlock":          str,
			"EnableDnsHostnames": boolean,
			"EnableDnsSupport":   boolean,
			"InstanceTenancy":    {Type: "String", AllowedValues: []string{"default", "dedicated", "host"}},
			"Tags":               list,
		},
	},
	"AWS::EC2::Subnet": {
		Required: []string{"VpcId"},
		Properties: map[string]PropertySchema{
			"VpcId":               str,
			"CidrBlock":           str,
			"AvailabilityZone":    str,
			"MapPublicIpOnLaunch": boolean,
			"Tags":                list,
		},
	},
	"AWS::EC2::InternetGateway": {
		Properties: map[string]PropertySchema{"Tags": list},
	},
	"AWS::EC2::VPCGatewayAttachment": {
		Required: []string{"VpcId"},
		Properties: map[string]PropertySchema{
			"VpcId":             str,
			"InternetGatewayId": str,
		},
	},
	"AWS::EC2::RouteTable": {
		Required: []string{"VpcId"},
		Properties: map[string]PropertySchema{
			"VpcId": str,
			"Tags":  list,
		},
	},
	"AWS::EC2::Route": {
		Required: []string{"RouteTableId"},
		Properties: map[string]PropertySchema{
			"RouteTableId":         str,
			"DestinationCidrBlock": str,
			"GatewayId":            str,
		},
	},
	"AWS::EC2::SubnetRouteTableAssociation": {
		Required: []string{"RouteTableId", "SubnetId"},
		Properties: map[string]PropertySchema{
			"RouteTableId": str,
			"SubnetId":     str,
		},
	},
	"AWS::EC2::SecurityGroup": {
		Required: []string{"GroupDescription"},
		Properties: map[string]PropertySchema{
			"GroupDescription":     str,
			"GroupName":            str,
			"VpcId":                str,
			"SecurityGroupIngress": list,
			"SecurityGroupEgress":  list,
			"Tags":                 list,
		},
	},
	"AWS::EC2::SecurityGroupIngress": {
		Required: []string{"IpProtocol"},
		Properties: map[string]PropertySchema{
			"GroupId":               str,
			"IpProtocol":            str,
			"FromPort":              integer,
			"ToPort":                integer,
			"CidrIp":                str,
			"SourceSecurityGroupId": str,
			"Description":           str,
		},
	},
	"AWS::EC2::Instance": {
		Properties: map[string]PropertySchema{
			"ImageId":           str,
			"InstanceType":      enum,
			"KeyName":           str,
			"SubnetId":          str,
			"SecurityGroupIds":  list,
			"NetworkInterfaces": list,
			"UserData":          str,
			"Tags":              list,
		},
	},
	"AWS::ElasticLoadBalancingV2::LoadBalancer": {
		Properties: map[string]PropertySchema{
			"Name":                   str,
			"Scheme":                 {Type: "String", AllowedValues: []string{"internet-facing", "internal"}},
			"Type":                   {Type: "String", AllowedValues: []string{"application", "network", "gateway"}},
			"Subnets":                list,
			"SecurityGroups":         list,
			"LoadBalancerAttributes": list,
			"Tags":                   list,
		},
	},
	"AWS::ElasticLoadBalancingV2::TargetGroup": {
		Properties: map[string]PropertySchema{
			"Name":                       str,
			"Port":                       integer,
			"Protocol":                   {Type: "String", AllowedValues: []string{"HTTP", "HTTPS", "TCP", "TLS", "UDP", "TCP_UDP", "GENEVE"}},
			"TargetType":                 {Type: "String", AllowedValues: []string{"instance", "ip", "lambda", "alb"}},
			"VpcId":                      str,
			"HealthCheckProtocol":        {Type: "String", AllowedValues: []string{"HTTP", "HTTPS", "TCP"}},
			"HealthCheckPort":            str,
			"HealthyThresholdCount":      integer,
			"UnhealthyThresholdCount":    integer,
			"HealthCheckIntervalSeconds": integer,
			"Targets":                    list,
			"Tags":                       list,
		},
	},
	"AWS::ElasticLoadBalancingV2::Listener": {
		Required: []string{"DefaultActions", "LoadBalancerArn"},
		Properties: map[string]PropertySchema{
			"LoadBalancerArn": str,
			"Port":            integer,
			"Protocol":        {Type: "String", AllowedValues: []string{"HTTP", "HTTPS", "TCP", "TLS", "UDP", "TCP_UDP", "GENEVE"}},
			"DefaultActions":  list,
		},
	},
}
