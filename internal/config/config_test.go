package config_test

import (
	"os"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"tn3270kit/internal/config"
)

var _ = Describe("Load", func() {
	var dir string

	write := func(name, content string) string {
		path := filepath.Join(dir, name)
		Expect(os.WriteFile(path, []byte(content), 0o644)).To(Succeed())
		return path
	}

	BeforeEach(func() {
		dir = GinkgoT().TempDir()
	})

	It("applies defaults for anything left out", func() {
		cfg, err := config.Load(write("config.yml", "debug: true\n"))
		Expect(err).NotTo(HaveOccurred())

		Expect(cfg.Debug).To(BeTrue())
		Expect(cfg.Target.Port).To(Equal(3270))
		Expect(cfg.Target.LUPoolSize).To(Equal(100))
		Expect(cfg.Target.BindImage).To(BeTrue())
		Expect(cfg.Target.ReadPoll).To(Equal(time.Second))
		Expect(cfg.Relay.Mandatory).To(BeTrue())
	})

	It("lets included files be overridden by the including file", func() {
		write("base.yml", "target:\n  port: 2000\n  luPrefix: BASE\n")
		path := write("config.yml", "include: [base.yml]\ntarget:\n  port: 3000\n  bindImage: false\n  readPoll: 250ms\n")

		cfg, err := config.Load(path)
		Expect(err).NotTo(HaveOccurred())
		Expect(cfg.Target.Port).To(Equal(3000))
		Expect(cfg.Target.LUPrefix).To(Equal("BASE"))
		Expect(cfg.Target.BindImage).To(BeFalse())
		Expect(cfg.Target.ReadPoll).To(Equal(250 * time.Millisecond))
		Expect(cfg.LoadedFiles).To(HaveLen(2))
	})

	It("survives include cycles", func() {
		write("a.yml", "include: [b.yml]\n")
		path := write("b.yml", "include: [a.yml]\ndebug: true\n")

		cfg, err := config.Load(path)
		Expect(err).NotTo(HaveOccurred())
		Expect(cfg.Debug).To(BeTrue())
	})

	It("expands environment variables", func() {
		GinkgoT().Setenv("TN3270KIT_TEST_HOST", "mainframe:23")
		path := write("config.yml", "relay:\n  enabled: true\n  tlsMode: none\n  host: ${TN3270KIT_TEST_HOST}\n")

		cfg, err := config.Load(path)
		Expect(err).NotTo(HaveOccurred())
		Expect(cfg.Relay.Host).To(Equal("mainframe:23"))
	})

	It("rejects TLS without a certificate", func() {
		_, err := config.Load(write("config.yml", "target:\n  tlsMode: negotiated\n"))
		Expect(err).To(MatchError(ContainSubstring("needs certFile and keyFile")))
	})

	It("rejects unknown TLS modes", func() {
		_, err := config.Load(write("config.yml", "target:\n  tlsMode: sometimes\n"))
		Expect(err).To(MatchError(ContainSubstring("unknown tlsMode")))
	})

	It("requires a host for the relay", func() {
		_, err := config.Load(write("config.yml", "relay:\n  enabled: true\n  tlsMode: none\n"))
		Expect(err).To(MatchError(ContainSubstring("host is required")))
	})
})
