// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Prismhost Contributors

// Package bundlesdk provides the SDK for building Prismhost binary bundles.
//
// A binary bundle is an executable started by the host through the
// HashiCorp go-plugin handshake. Its principal object implements Loader and
// is invoked exactly once, when the host activates the bundle.
//
// Example usage:
//
//	package main
//
//	import "github.com/prismhost/prismhost/pkg/bundlesdk"
//
//	func main() {
//		bundlesdk.Serve(bundlesdk.LoaderFunc(func(host map[string]string) (bool, error) {
//			return host["renderer"] != "", nil
//		}))
//	}
package bundlesdk

import (
	"errors"
	"fmt"
	"net/rpc"

	hashiplug "github.com/hashicorp/go-plugin"
)

// PluginName is the name under which the entry point is dispensed.
const PluginName = "entrypoint"

// HandshakeConfig is the go-plugin handshake configuration.
// Both host and bundles must use the same values.
var HandshakeConfig = hashiplug.HandshakeConfig{
	ProtocolVersion:  1,
	MagicCookieKey:   "PRISMHOST_BUNDLE",
	MagicCookieValue: "prismhost-v1",
}

// Loader is a binary bundle's principal object.
type Loader interface {
	// Load initializes the bundle with the host context. Returning false or
	// an error fails the activation.
	Load(host map[string]string) (bool, error)
}

// LoaderFunc adapts a function to Loader.
type LoaderFunc func(host map[string]string) (bool, error)

// Load calls f.
func (f LoaderFunc) Load(host map[string]string) (bool, error) {
	return f(host)
}

// Serve starts the bundle's plugin server. Call it from main(); it blocks
// until the host kills the process.
func Serve(l Loader) {
	if l == nil {
		panic("bundlesdk: loader cannot be nil")
	}
	hashiplug.Serve(&hashiplug.ServeConfig{
		HandshakeConfig: HandshakeConfig,
		Plugins:         PluginMap(l),
	})
}

// PluginMap returns the go-plugin plugin set. Hosts pass nil.
func PluginMap(l Loader) map[string]hashiplug.Plugin {
	return map[string]hashiplug.Plugin{
		PluginName: &EntryPointPlugin{Impl: l},
	}
}

// EntryPointPlugin implements go-plugin's Plugin interface over net/rpc.
type EntryPointPlugin struct {
	// Impl is used by the bundle side only.
	Impl Loader
}

// Server returns the RPC server (called in the bundle process).
func (p *EntryPointPlugin) Server(_ *hashiplug.MuxBroker) (interface{}, error) {
	if p.Impl == nil {
		return nil, errors.New("bundlesdk: loader is nil")
	}
	return &RPCServer{Impl: p.Impl}, nil
}

// Client returns the RPC client (called in the host process).
func (p *EntryPointPlugin) Client(_ *hashiplug.MuxBroker, c *rpc.Client) (interface{}, error) {
	return &RPCClient{client: c}, nil
}

// LoadArgs is the request of the Load RPC.
type LoadArgs struct {
	Host map[string]string
}

// LoadReply is the response of the Load RPC. A non-empty Fault carries the
// bundle-side error or panic.
type LoadReply struct {
	OK    bool
	Fault string
}

// RPCServer exposes a Loader over net/rpc.
type RPCServer struct {
	Impl Loader
}

// Load implements the Load RPC. Bundle errors and panics travel in the
// reply rather than as transport errors.
func (s *RPCServer) Load(args LoadArgs, reply *LoadReply) error {
	defer func() {
		if r := recover(); r != nil {
			reply.OK = false
			reply.Fault = fmt.Sprintf("bundle panicked: %v", r)
		}
	}()

	ok, loadErr := s.Impl.Load(args.Host)
	reply.OK = ok
	if loadErr != nil {
		reply.Fault = loadErr.Error()
	}
	return nil
}

// RPCClient is the host-side Loader backed by a net/rpc connection.
type RPCClient struct {
	client *rpc.Client
}

// NewRPCClient wraps an established net/rpc client.
func NewRPCClient(c *rpc.Client) *RPCClient {
	return &RPCClient{client: c}
}

// Load calls the bundle's Load RPC.
func (c *RPCClient) Load(host map[string]string) (bool, error) {
	var reply LoadReply
	if err := c.client.Call("Plugin.Load", LoadArgs{Host: host}, &reply); err != nil {
		return false, fmt.Errorf("load rpc: %w", err)
	}
	if reply.Fault != "" {
		return false, errors.New(reply.Fault)
	}
	return reply.OK, nil
}
