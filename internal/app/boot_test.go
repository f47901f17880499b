package app_test

import (
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"tn3270kit/internal/app"
	"tn3270kit/internal/registry"
)

var _ = Describe("Boot", func() {
	var dir string

	writeConfig := func(body string) string {
		path := filepath.Join(dir, "config.yml")
		Expect(os.WriteFile(path, []byte(body), 0o644)).To(Succeed())
		return path
	}

	BeforeEach(func() {
		dir = GinkgoT().TempDir()
		DeferCleanup(app.Shutdown)
	})

	It("loads the configuration and opens the history store", func() {
		path := writeConfig(`
history:
  enabled: true
  path: ` + filepath.Join(dir, "history.sqlite3") + `
target:
  luPoolSize: 3
  luPrefix: LU
  systemName: HOST
`)

		Expect(app.Boot(path, true)).To(Succeed())
		Expect(app.Config.Target.LUPoolSize).To(Equal(3))
		Expect(app.Store).NotTo(BeNil())
		Expect(app.Switches).To(BeAssignableToTypeOf(&registry.MemorySwitchStore{}))

		reg := app.NewRegistry()
		Expect(reg.Capacity()).To(Equal(3))
	})

	It("leaves the store closed when history is disabled", func() {
		Expect(app.Boot(writeConfig("debug: false\n"), true)).To(Succeed())
		Expect(app.Store).To(BeNil())
	})

	It("keeps the previous state when the new configuration is invalid", func() {
		Expect(app.Boot(writeConfig("target:\n  luPoolSize: 2\n"), true)).To(Succeed())
		previous := app.Config

		err := app.Boot(writeConfig("target:\n  tlsMode: bogus\n"), true)
		Expect(err).To(MatchError(ContainSubstring("failed to load configuration")))
		Expect(app.Config).To(BeIdenticalTo(previous))
	})

	It("fails when the switch store cannot be reached", func() {
		path := writeConfig(`
switchStore:
  redis:
    addr: 127.0.0.1:1
`)
		Expect(app.Boot(path, true)).To(MatchError(ContainSubstring("failed to connect to the switch store")))
	})
})
