// Package app assembles the network and server stacks of a deployment into
// one ordered stack.App.
package app

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/fluffyengine/fluffy-engine/internal/config"
	"github.com/fluffyengine/fluffy-engine/internal/network"
	"github.com/fluffyengine/fluffy-engine/internal/server"
	"github.com/fluffyengine/fluffy-engine/internal/stack"
)

// Result holds the assembled application and the typed outputs of each
// stack.
type Result struct {
	Deployment *config.Deployment
	App        *stack.App
	Network    *network.Outputs
	Server     *server.Outputs
}

// Build declares both stacks for d. d.Env must already be resolved.
func Build(d *config.Deployment) (*Result, error) {
	if err := d.Env.Validate(); err != nil {
		return nil, err
	}

	a := stack.NewApp(d.Env, d.Mode)

	netStack, net, err := network.Build(d)
	if err != nil {
		return nil, fmt.Errorf("network stack: %w", err)
	}
	if err := a.Add(netStack); err != nil {
		return nil, err
	}
	logrus.Debugf("Declared %s with %d public subnets", netStack.Name(), len(net.PublicSubnets))

	srvStack, srv, err := server.Build(d, net)
	if err != nil {
		return nil, fmt.Errorf("server stack: %w", err)
	}
	if err := a.Add(srvStack); err != nil {
		return nil, err
	}
	logrus.Debugf("Declared %s with %d instances", srvStack.Name(), len(srv.Instances))

	return &Result{Deployment: d, App: a, Network: net, Server: srv}, nil
}
