// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Prismhost Contributors

//go:build integration

package bundles_test

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention

	"github.com/prismhost/prismhost/internal/plugin"
	"github.com/prismhost/prismhost/internal/plugin/goplugin"
	"github.com/prismhost/prismhost/internal/plugin/lua"
)

// pluginsDir is the repository's example bundle directory.
var pluginsDir = filepath.Join("..", "..", "..", "plugins")

// copyBundle copies one example bundle into root.
func copyBundle(root, name string) {
	src := filepath.Join(pluginsDir, name)
	dst := filepath.Join(root, name)
	Expect(os.MkdirAll(dst, 0o750)).To(Succeed())

	entries, err := os.ReadDir(src)
	Expect(err).NotTo(HaveOccurred())
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		data, err := os.ReadFile(filepath.Join(src, e.Name()))
		Expect(err).NotTo(HaveOccurred())
		Expect(os.WriteFile(filepath.Join(dst, e.Name()), data, 0o600)).To(Succeed())
	}
}

var _ = Describe("Lua bundle activation", func() {
	var (
		ctx     context.Context
		root    string
		loader  *plugin.Loader
		manager *plugin.Manager
	)

	BeforeEach(func() {
		ctx = context.Background()
		root = GinkgoT().TempDir()
		copyBundle(root, "sepia")
		copyBundle(root, "vignette")

		loader = plugin.NewLoader()
		manager = plugin.NewManager(root, loader,
			plugin.WithResolver(plugin.TypeLua, lua.NewResolver(nil)))
	})

	AfterEach(func() {
		Expect(manager.Close(ctx)).To(Succeed())
	})

	It("registers every example bundle", func() {
		ids, err := manager.RegisterAll(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(ids).To(ConsistOf(plugin.Identity("com.example.sepia"), plugin.Identity("com.example.vignette")))

		for _, id := range ids {
			Expect(loader.Status(id)).To(Equal(plugin.StateRegistered))
		}
	})

	It("loads sepia and fails vignette on a software renderer", func() {
		_, err := manager.RegisterAll(ctx)
		Expect(err).NotTo(HaveOccurred())

		report, err := manager.ActivateAll(ctx, map[string]string{"renderer": "software"})
		Expect(err).NotTo(HaveOccurred())
		Expect(report.Loaded).To(ConsistOf(plugin.Identity("com.example.sepia")))
		Expect(report.Failed).To(HaveKey(plugin.Identity("com.example.vignette")))
		Expect(report.Failed["com.example.vignette"]).To(MatchError(plugin.ErrActivationFailed))

		Expect(loader.Status("com.example.sepia")).To(Equal(plugin.StateLoaded))
		Expect(loader.Status("com.example.vignette")).To(Equal(plugin.StateFailed))
		Expect(loader.Ready()).To(BeTrue())
	})

	It("fails sepia for an unsupported color space and never retries", func() {
		_, err := manager.RegisterAll(ctx)
		Expect(err).NotTo(HaveOccurred())

		host := map[string]string{"colorspace": "CMYK"}
		first := loader.Activate(ctx, "com.example.sepia", host)
		Expect(first).To(MatchError(plugin.ErrEntryPointRejected))

		// A different host context does not reopen a failed bundle.
		second := loader.Activate(ctx, "com.example.sepia", map[string]string{"colorspace": "srgb"})
		Expect(second).To(Equal(first))
		Expect(loader.Status("com.example.sepia")).To(Equal(plugin.StateFailed))
	})
})

var _ = Describe("Concurrent activation", func() {
	It("invokes the entry point once for many callers", func(ctx SpecContext) {
		var calls atomic.Int32
		release := make(chan struct{})
		ep := plugin.EntryPointFunc(func(context.Context, plugin.HostContext) (bool, error) {
			calls.Add(1)
			<-release
			return true, nil
		})

		loader := plugin.NewLoader()
		id, err := loader.Register(ctx, plugin.Descriptor{
			Identity:     "com.example.sepia",
			Capabilities: []plugin.Capability{plugin.CapColorEffect},
			EntryPoint:   ep,
		})
		Expect(err).NotTo(HaveOccurred())

		const callers = 64
		errs := make(chan error, callers)
		var wg sync.WaitGroup
		for range callers {
			wg.Go(func() {
				errs <- loader.Activate(ctx, id, nil)
			})
		}

		Eventually(func() plugin.State { return loader.Status(id) }).Should(Equal(plugin.StateLoading))
		Expect(loader.TryActivate(ctx, id, nil)).To(MatchError(plugin.ErrAlreadyActivating))
		close(release)
		wg.Wait()
		close(errs)

		for err := range errs {
			Expect(err).NotTo(HaveOccurred())
		}
		Expect(calls.Load()).To(Equal(int32(1)))
		Expect(loader.Status(id)).To(Equal(plugin.StateLoaded))
	}, SpecTimeout(10*time.Second))

	It("keeps one record under a registration race", func(ctx SpecContext) {
		loader := plugin.NewLoader()
		var wins atomic.Int32
		var wg sync.WaitGroup
		for range 32 {
			wg.Go(func() {
				defer GinkgoRecover()
				_, err := loader.Register(ctx, plugin.Descriptor{
					Identity:     "com.example.sepia",
					Capabilities: []plugin.Capability{plugin.CapColorEffect},
					EntryPoint: plugin.EntryPointFunc(func(context.Context, plugin.HostContext) (bool, error) {
						return true, nil
					}),
				})
				if err == nil {
					wins.Add(1)
					return
				}
				Expect(err).To(MatchError(plugin.ErrDuplicateIdentity))
			})
		}
		wg.Wait()

		Expect(wins.Load()).To(Equal(int32(1)))
		Expect(loader.Identities()).To(HaveLen(1))
	}, SpecTimeout(10*time.Second))
})

var _ = Describe("Binary bundle activation", Ordered, func() {
	var (
		ctx      context.Context
		root     string
		loader   *plugin.Loader
		resolver *goplugin.Resolver
		manager  *plugin.Manager
	)

	BeforeAll(func() {
		goBin, err := exec.LookPath("go")
		if err != nil {
			Skip("go toolchain not available to build the invert bundle")
		}

		root = GinkgoT().TempDir()
		copyBundle(root, "invert")

		build := exec.Command(goBin, "build", "-o", filepath.Join(root, "invert", "invert"), "./plugins/invert") // #nosec G204 -- fixed arguments
		build.Dir = filepath.Join("..", "..", "..")
		out, err := build.CombinedOutput()
		Expect(err).NotTo(HaveOccurred(), string(out))
	})

	BeforeEach(func() {
		ctx = context.Background()
		loader = plugin.NewLoader()
		resolver = goplugin.NewResolver()
		manager = plugin.NewManager(root, loader, plugin.WithResolver(plugin.TypeBinary, resolver))
	})

	AfterEach(func() {
		Expect(manager.Close(ctx)).To(Succeed())
		Expect(resolver.Running()).To(BeEmpty())
	})

	It("loads the bundle out of process and keeps it running", func() {
		_, err := manager.RegisterAll(ctx)
		Expect(err).NotTo(HaveOccurred())

		Expect(loader.Activate(ctx, "com.example.invert", map[string]string{"renderer": "gpu"})).To(Succeed())
		Expect(loader.Status("com.example.invert")).To(Equal(plugin.StateLoaded))
		Expect(resolver.Running()).To(ConsistOf("com.example.invert"))
	})

	It("records the bundle's refusal and stops the process", func() {
		_, err := manager.RegisterAll(ctx)
		Expect(err).NotTo(HaveOccurred())

		err = loader.Activate(ctx, "com.example.invert", map[string]string{"color_effects": "off"})
		Expect(err).To(MatchError(plugin.ErrActivationFailed))
		Expect(err.Error()).To(ContainSubstring("color effects are disabled"))
		Expect(resolver.Running()).To(BeEmpty())
	})
})
