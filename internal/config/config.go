// Package config loads deployment settings from defaults, an optional
// fluffy-engine.yaml file, FLUFFY_* environment variables and flags.
package config

import (
	"errors"
	"fmt"
	"net/netip"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/fluffyengine/fluffy-engine/internal/environment"
)

// FileName is the configuration file looked up in the working directory.
const FileName = "fluffy-engine"

// EnvPrefix prefixes environment variable overrides (FLUFFY_NETWORK_VPN_PORT).
const EnvPrefix = "FLUFFY"

// DefaultImageParameter is the public SSM path of the Ubuntu 22.04 amd64 image.
const DefaultImageParameter = "/aws/service/canonical/ubuntu/server/22.04/stable/current/amd64/hvm/ebs-gp2/ami-id"

// Deployment is the complete set of inputs for synthesizing both stacks.
type Deployment struct {
	Mode    environment.Mode  `mapstructure:"mode"`
	Prefix  string            `mapstructure:"prefix"`
	Static  environment.Env   `mapstructure:"static"`
	SSM     SSMParameters     `mapstructure:"ssm"`
	Network Network           `mapstructure:"network"`
	Compute Compute           `mapstructure:"compute"`
	Output  Output            `mapstructure:"output"`
	AWS     AWS               `mapstructure:"aws"`
	Tags    map[string]string `mapstructure:"tags"`

	// Env is the resolved target environment. Callers set it after running
	// an environment.Resolver.
	Env environment.Env `mapstructure:"-"`
}

// SSMParameters names the parameters read in ssm-lookup mode.
type SSMParameters struct {
	AccountParameter string `mapstructure:"account_parameter"`
	RegionParameter  string `mapstructure:"region_parameter"`
}

// Network holds the network stack settings.
type Network struct {
	CIDR               string `mapstructure:"cidr"`
	MaxAZs             int    `mapstructure:"max_azs"`
	SubnetMask         int    `mapstructure:"subnet_mask"`
	PublicPort         int    `mapstructure:"public_port"`
	VPNPort            int    `mapstructure:"vpn_port"`
	SSHPort            int    `mapstructure:"ssh_port"`
	AdminCIDR          string `mapstructure:"admin_cidr"`
	HealthyThreshold   int    `mapstructure:"healthy_threshold"`
	UnhealthyThreshold int    `mapstructure:"unhealthy_threshold"`
}

// Compute holds the server stack settings.
type Compute struct {
	Count          int      `mapstructure:"count"`
	InstanceType   string   `mapstructure:"instance_type"`
	ImageParameter string   `mapstructure:"image_parameter"`
	KeyPairName    string   `mapstructure:"key_pair"`
	BootstrapRepo  string   `mapstructure:"bootstrap_repo"`
	BootstrapRef   string   `mapstructure:"bootstrap_ref"`
	HomeDir        string   `mapstructure:"home_dir"`
	Packages       []string `mapstructure:"packages"`
}

// Output controls where synthesized templates are written.
type Output struct {
	Dir    string `mapstructure:"dir"`
	Format string `mapstructure:"format"`
}

// AWS holds SDK settings for the deploy commands.
type AWS struct {
	Profile string        `mapstructure:"profile"`
	// Region is the SDK region for ssm-lookup, where the target region is
	// not known yet. Empty uses the profile or AWS_REGION default.
	Region  string        `mapstructure:"region"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// Default returns the built-in deployment settings.
func Default() Deployment {
	return Deployment{
		Mode:   environment.ModeCLIContext,
		Prefix: "FluffyEngine",
		Static: environment.Env{Account: "123456789012", Region: "us-east-1"},
		SSM: SSMParameters{
			AccountParameter: environment.DefaultAccountParameter,
			RegionParameter:  environment.DefaultRegionParameter,
		},
		Network: Network{
			CIDR:               "172.31.0.0/16",
			MaxAZs:             2,
			SubnetMask:         24,
			PublicPort:         443,
			VPNPort:            51260,
			SSHPort:            22,
			AdminCIDR:          "198.51.100.10/32",
			HealthyThreshold:   5,
			UnhealthyThreshold: 5,
		},
		Compute: Compute{
			Count:          1,
			InstanceType:   "t3.small",
			ImageParameter: DefaultImageParameter,
			KeyPairName:    "fluffyengine",
			BootstrapRepo:  "https://github.com/complexorganizations/wireguard-manager",
			HomeDir:        "/home/ubuntu",
			Packages:       []string{"git", "wireguard", "jq", "resolvconf"},
		},
		Output: Output{
			Dir:    "fluffy.out",
			Format: "json",
		},
		AWS: AWS{
			Timeout: 30 * time.Minute,
		},
		Tags: map[string]string{"Project": "FluffyEngine"},
	}
}

// SetDefaults registers Default() on v.
func SetDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("mode", string(d.Mode))
	v.SetDefault("prefix", d.Prefix)
	v.SetDefault("static.account", d.Static.Account)
	v.SetDefault("static.region", d.Static.Region)
	v.SetDefault("ssm.account_parameter", d.SSM.AccountParameter)
	v.SetDefault("ssm.region_parameter", d.SSM.RegionParameter)
	v.SetDefault("network.cidr", d.Network.CIDR)
	v.SetDefault("network.max_azs", d.Network.MaxAZs)
	v.SetDefault("network.subnet_mask", d.Network.SubnetMask)
	v.SetDefault("network.public_port", d.Network.PublicPort)
	v.SetDefault("network.vpn_port", d.Network.VPNPort)
	v.SetDefault("network.ssh_port", d.Network.SSHPort)
	v.SetDefault("network.admin_cidr", d.Network.AdminCIDR)
	v.SetDefault("network.healthy_threshold", d.Network.HealthyThreshold)
	v.SetDefault("network.unhealthy_threshold", d.Network.UnhealthyThreshold)
	v.SetDefault("compute.count", d.Compute.Count)
	v.SetDefault("compute.instance_type", d.Compute.InstanceType)
	v.SetDefault("compute.image_parameter", d.Compute.ImageParameter)
	v.SetDefault("compute.key_pair", d.Compute.KeyPairName)
	v.SetDefault("compute.bootstrap_repo", d.Compute.BootstrapRepo)
	v.SetDefault("compute.bootstrap_ref", d.Compute.BootstrapRef)
	v.SetDefault("compute.home_dir", d.Compute.HomeDir)
	v.SetDefault("compute.packages", d.Compute.Packages)
	v.SetDefault("output.dir", d.Output.Dir)
	v.SetDefault("output.format", d.Output.Format)
	v.SetDefault("aws.profile", d.AWS.Profile)
	v.SetDefault("aws.region", d.AWS.Region)
	v.SetDefault("aws.timeout", d.AWS.Timeout)
	v.SetDefault("tags", d.Tags)
}

// New returns a viper instance with defaults, env overrides and the
// optional config file wired. An explicit path must exist.
func New(path string) (*viper.Viper, error) {
	v := viper.New()
	SetDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
		return v, nil
	}

	v.SetConfigName(FileName)
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}
	return v, nil
}

// Load decodes v into a Deployment and validates it.
func Load(v *viper.Viper) (*Deployment, error) {
	var d Deployment
	if err := v.Unmarshal(&d); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	tags, err := fileTags(v.ConfigFileUsed())
	if err != nil {
		return nil, err
	}
	d.Tags = tags
	if err := d.Normalize(); err != nil {
		return nil, err
	}
	if err := d.Validate(); err != nil {
		return nil, err
	}
	return &d, nil
}

// fileTags returns the tags mapping of a YAML or JSON config file with its
// keys as written. Viper lowercases map keys; CloudFormation tag keys are
// case sensitive. Tags in a file replace the defaults.
func fileTags(path string) (map[string]string, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml", ".json":
	default:
		return Default().Tags, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}
	var doc struct {
		Tags map[string]string `yaml:"tags"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decoding tags in %s: %w", path, err)
	}
	if doc.Tags == nil {
		return Default().Tags, nil
	}
	return doc.Tags, nil
}

// Normalize fills derived values, currently the /32 suffix of a bare
// admin address.
func (d *Deployment) Normalize() error {
	admin := strings.TrimSpace(d.Network.AdminCIDR)
	if admin != "" && !strings.Contains(admin, "/") {
		admin += "/32"
	}
	d.Network.AdminCIDR = admin
	if d.Output.Format == "yml" {
		d.Output.Format = "yaml"
	}
	return nil
}

// Validate reports every invalid setting at once.
func (d *Deployment) Validate() error {
	var errs []error

	if _, err := environment.ParseMode(string(d.Mode)); err != nil {
		errs = append(errs, err)
	}
	if d.Prefix == "" {
		errs = append(errs, errors.New("prefix must not be empty"))
	}

	errs = append(errs, d.Network.validate()...)
	errs = append(errs, d.Compute.validate()...)

	switch d.Output.Format {
	case "json", "yaml":
	default:
		errs = append(errs, fmt.Errorf("output.format %q must be json or yaml", d.Output.Format))
	}

	return errors.Join(errs...)
}

func (n Network) validate() []error {
	var errs []error

	vpc, err := netip.ParsePrefix(n.CIDR)
	if err != nil || !vpc.Addr().Is4() {
		errs = append(errs, fmt.Errorf("network.cidr %q is not an IPv4 CIDR block", n.CIDR))
	} else {
		if vpc.Bits() < 16 || vpc.Bits() > 28 {
			errs = append(errs, fmt.Errorf("network.cidr %q must have a prefix between /16 and /28", n.CIDR))
		}
		if n.SubnetMask <= vpc.Bits() || n.SubnetMask > 28 {
			errs = append(errs, fmt.Errorf("network.subnet_mask /%d must be longer than the VPC prefix /%d and at most /28",
				n.SubnetMask, vpc.Bits()))
		} else if n.MaxAZs > 1<<(n.SubnetMask-vpc.Bits()) {
			errs = append(errs, fmt.Errorf("network.cidr %s cannot hold %d /%d subnets", n.CIDR, n.MaxAZs, n.SubnetMask))
		}
	}
	if n.MaxAZs < 1 {
		errs = append(errs, fmt.Errorf("network.max_azs must be at least 1, got %d", n.MaxAZs))
	}

	for name, port := range map[string]int{
		"network.public_port": n.PublicPort,
		"network.vpn_port":    n.VPNPort,
		"network.ssh_port":    n.SSHPort,
	} {
		if port < 1 || port > 65535 {
			errs = append(errs, fmt.Errorf("%s %d is outside 1-65535", name, port))
		}
	}

	admin, err := netip.ParsePrefix(n.AdminCIDR)
	switch {
	case err != nil:
		errs = append(errs, fmt.Errorf("network.admin_cidr %q is not an address or CIDR", n.AdminCIDR))
	case !admin.Addr().Is4() || admin.Bits() != 32:
		errs = append(errs, fmt.Errorf("network.admin_cidr %q must be a single IPv4 address (/32)", n.AdminCIDR))
	}

	for name, v := range map[string]int{
		"network.healthy_threshold":   n.HealthyThreshold,
		"network.unhealthy_threshold": n.UnhealthyThreshold,
	} {
		if v < 2 || v > 10 {
			errs = append(errs, fmt.Errorf("%s %d is outside 2-10", name, v))
		}
	}

	return errs
}

func (c Compute) validate() []error {
	var errs []error
	if c.Count < 1 {
		errs = append(errs, fmt.Errorf("compute.count must be at least 1, got %d", c.Count))
	}
	if c.InstanceType == "" {
		errs = append(errs, errors.New("compute.instance_type must not be empty"))
	}
	if !strings.HasPrefix(c.ImageParameter, "/") {
		errs = append(errs, fmt.Errorf("compute.image_parameter %q must be an SSM parameter path", c.ImageParameter))
	}
	if c.KeyPairName == "" {
		errs = append(errs, errors.New("compute.key_pair must not be empty"))
	}
	if c.BootstrapRepo == "" {
		errs = append(errs, errors.New("compute.bootstrap_repo must not be empty"))
	}
	if !strings.HasPrefix(c.HomeDir, "/") {
		errs = append(errs, fmt.Errorf("compute.home_dir %q must be absolute", c.HomeDir))
	}
	return errs
}

// NetworkStackName is the name of the network stack.
func (d *Deployment) NetworkStackName() string {
	return d.Prefix + "NetworkStack"
}

// ServerStackName is the name of the server stack.
func (d *Deployment) ServerStackName() string {
	return d.Prefix + "ServerStack"
}

// Name prefixes a logical resource name.
func (d *Deployment) Name(suffix string) string {
	return d.Prefix + suffix
}

// ApplyContext overrides settings from -c key=value pairs. Only the keys
// below are recognised; account and region are consumed by the resolver.
func (d *Deployment) ApplyContext(values map[string]string) error {
	for key, value := range values {
		switch key {
		case environment.ContextAccount, environment.ContextRegion:
		case "count":
			n, err := strconv.Atoi(value)
			if err != nil {
				return fmt.Errorf("context count=%q is not a number", value)
			}
			d.Compute.Count = n
		case "admin_cidr":
			d.Network.AdminCIDR = value
		case "instance_type":
			d.Compute.InstanceType = value
		case "key_pair":
			d.Compute.KeyPairName = value
		default:
			return fmt.Errorf("unknown context key %q", key)
		}
	}
	if err := d.Normalize(); err != nil {
		return err
	}
	return d.Validate()
}
