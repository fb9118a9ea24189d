// Package bootstrap renders the first-boot user-data script of a VPN
// server: system update, package install, sshd restart and a clone of the
// WireGuard management repository.
package bootstrap

import (
	"errors"
	"fmt"
	"net/url"
	"path"
	"strings"

	"github.com/fluffyengine/fluffy-engine/intrinsics"
)

// CheckoutDir is the directory name of the cloned repository under HomeDir.
const CheckoutDir = "wireguard-manager"

// MarkerFile is written under HomeDir once every command has run.
const MarkerFile = "setup-complete"

// Options configures the script for one instance.
type Options struct {
	Packages []string
	Repo     string
	Ref      string // tag or commit; empty tracks the default branch
	HomeDir  string
	Instance int
}

func (o Options) validate() error {
	u, err := url.Parse(o.Repo)
	if err != nil || u.Scheme != "https" || u.Host == "" {
		return fmt.Errorf("bootstrap repository %q must be an https URL", o.Repo)
	}
	for _, v := range append([]string{o.Repo, o.Ref, o.HomeDir}, o.Packages...) {
		if strings.ContainsAny(v, " \t\n'\"`$;&|<>") {
			return fmt.Errorf("bootstrap value %q contains shell metacharacters", v)
		}
	}
	if !strings.HasPrefix(o.HomeDir, "/") {
		return fmt.Errorf("home directory %q must be absolute", o.HomeDir)
	}
	if len(o.Packages) == 0 {
		return errors.New("bootstrap needs at least one package")
	}
	if o.Instance < 0 {
		return fmt.Errorf("instance index %d is negative", o.Instance)
	}
	return nil
}

// Commands returns the script body, one shell command per entry, in
// execution order.
func Commands(o Options) ([]string, error) {
	if err := o.validate(); err != nil {
		return nil, err
	}
	checkout := path.Join(o.HomeDir, CheckoutDir)
	cmds := []string{
		"sudo apt-get update",
		"sudo apt-get upgrade -y",
		"sudo apt-get install -y " + strings.Join(o.Packages, " "),
		"sudo systemctl restart sshd",
		fmt.Sprintf("git clone %s %s", o.Repo, checkout),
	}
	if o.Ref != "" {
		cmds = append(cmds, fmt.Sprintf("git -C %s checkout %s", checkout, o.Ref))
	}
	cmds = append(cmds, fmt.Sprintf("echo \"User scripts complete on instance %d\" > %s",
		o.Instance, path.Join(o.HomeDir, MarkerFile)))
	return cmds, nil
}

// Script returns the complete user-data script.
func Script(o Options) (string, error) {
	cmds, err := Commands(o)
	if err != nil {
		return "", err
	}
	return "#!/bin/bash\n" + strings.Join(cmds, "\n") + "\n", nil
}

// UserData returns the script wrapped in Fn::Base64 for an instance.
func UserData(o Options) (intrinsics.Base64, error) {
	script, err := Script(o)
	if err != nil {
		return intrinsics.Base64{}, err
	}
	return intrinsics.Base64{Value: script}, nil
}
