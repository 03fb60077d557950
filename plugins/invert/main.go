// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Prismhost Contributors

// Package main implements the invert binary bundle.
//
// Build with:
//
//	go build -o plugins/invert/invert ./plugins/invert
//
// The host starts the executable through the go-plugin handshake and calls
// its entry point once on activation.
package main

import (
	"fmt"

	"github.com/prismhost/prismhost/pkg/bundlesdk"
)

// load accepts any host except one that explicitly disables color effects.
func load(host map[string]string) (bool, error) {
	if v, ok := host["color_effects"]; ok && v == "off" {
		return false, fmt.Errorf("color effects are disabled by the host")
	}
	return true, nil
}

func main() {
	bundlesdk.Serve(bundlesdk.LoaderFunc(load))
}
