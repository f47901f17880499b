package registry_test

import (
	"context"
	"errors"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"tn3270kit/internal/registry"
)

// slowStore stands in for a switch store behind a slow network round trip.
type slowStore struct {
	*registry.MemorySwitchStore
	delay time.Duration
}

func (s *slowStore) Load(ctx context.Context, peer string) (registry.SwitchState, error) {
	time.Sleep(s.delay)
	return s.MemorySwitchStore.Load(ctx, peer)
}

func (s *slowStore) Update(ctx context.Context, peer string, fn func(*registry.SwitchState) error) error {
	time.Sleep(s.delay)
	return s.MemorySwitchStore.Update(ctx, peer, fn)
}

var _ = Describe("Registry", func() {
	var (
		ctx context.Context
		reg *registry.Registry
	)

	BeforeEach(func() {
		ctx = context.Background()
		reg = registry.New(2, "TERM", "SYS", nil)
	})

	Describe("LU pool", func() {
		It("names LUs with zero padded prefixes", func() {
			lu, err := reg.Acquire()
			Expect(err).NotTo(HaveOccurred())
			Expect(lu.TerminalID).To(Equal("TERM0001"))
			Expect(lu.SystemName).To(Equal("SYS00001"))
		})

		It("fails with ErrExhausted once every LU is held", func() {
			_, err := reg.Acquire()
			Expect(err).NotTo(HaveOccurred())
			_, err = reg.Acquire()
			Expect(err).NotTo(HaveOccurred())

			_, err = reg.Acquire()
			Expect(err).To(MatchError(registry.ErrExhausted))
			Expect(err.Error()).To(Equal("logical units exhausted"))
			Expect(reg.InUse()).To(Equal(2))
		})

		It("hands released LUs out again in FIFO order", func() {
			first, _ := reg.Acquire()
			second, _ := reg.Acquire()
			reg.Release(second)
			reg.Release(first)

			lu, err := reg.Acquire()
			Expect(err).NotTo(HaveOccurred())
			Expect(lu).To(Equal(second))
			Expect(reg.InUse()).To(Equal(1))
			Expect(reg.Capacity()).To(Equal(2))
		})

		It("panics when an unheld LU is released", func() {
			Expect(func() {
				reg.Release(registry.LU{TerminalID: "TERM0001"})
			}).To(Panic())
		})

		It("never hands the same LU to two holders", func() {
			reg = registry.New(50, "T", "S", nil)
			var (
				mu   sync.Mutex
				seen = map[string]int{}
				wg   sync.WaitGroup
			)
			for i := 0; i < 100; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					lu, err := reg.Acquire()
					if err != nil {
						return
					}
					mu.Lock()
					seen[lu.TerminalID]++
					mu.Unlock()
				}()
			}
			wg.Wait()

			Expect(seen).To(HaveLen(50))
			for _, n := range seen {
				Expect(n).To(Equal(1))
			}
		})
	})

	Describe("application switches", func() {
		It("tracks a pending switch until it completes", func() {
			Expect(reg.SetActive(ctx, "peer1", "banner")).To(Succeed())
			Expect(reg.RequestSwitch(ctx, "peer1", "echo", true)).To(Succeed())

			sw, ok, err := reg.PendingSwitch(ctx, "peer1")
			Expect(err).NotTo(HaveOccurred())
			Expect(ok).To(BeTrue())
			Expect(sw).To(Equal(registry.PendingSwitch{Target: "echo", Drain: true}))

			active, err := reg.CompleteSwitch(ctx, "peer1")
			Expect(err).NotTo(HaveOccurred())
			Expect(active).To(Equal("echo"))

			_, ok, err = reg.PendingSwitch(ctx, "peer1")
			Expect(err).NotTo(HaveOccurred())
			Expect(ok).To(BeFalse())
		})

		It("keeps peers separate", func() {
			Expect(reg.RequestSwitch(ctx, "peer1", "echo", false)).To(Succeed())
			_, ok, _ := reg.PendingSwitch(ctx, "peer2")
			Expect(ok).To(BeFalse())
		})

		It("forgets a peer", func() {
			Expect(reg.SetActive(ctx, "peer1", "echo")).To(Succeed())
			Expect(reg.Forget(ctx, "peer1")).To(Succeed())

			active, err := reg.Active(ctx, "peer1")
			Expect(err).NotTo(HaveOccurred())
			Expect(active).To(BeEmpty())
		})

		It("returns the active application when nothing is pending", func() {
			Expect(reg.SetActive(ctx, "peer1", "banner")).To(Succeed())
			active, err := reg.CompleteSwitch(ctx, "peer1")
			Expect(err).NotTo(HaveOccurred())
			Expect(active).To(Equal("banner"))
		})

		It("does not hold up the LU pool while the store is slow", func() {
			reg = registry.New(2, "TERM", "SYS", &slowStore{registry.NewMemorySwitchStore(), time.Second})

			started := make(chan struct{})
			finished := make(chan struct{})
			go func() {
				defer close(finished)
				close(started)
				reg.PendingSwitch(ctx, "peer1")
			}()
			<-started
			time.Sleep(50 * time.Millisecond)

			begin := time.Now()
			lu, err := reg.Acquire()
			Expect(err).NotTo(HaveOccurred())
			reg.Release(lu)
			Expect(reg.InUse()).To(BeZero())
			Expect(time.Since(begin)).To(BeNumerically("<", 500*time.Millisecond))
			Eventually(finished, 2*time.Second).Should(BeClosed())
		})
	})

	Describe("MemorySwitchStore", func() {
		var store *registry.MemorySwitchStore

		BeforeEach(func() {
			store = registry.NewMemorySwitchStore()
		})

		It("applies concurrent updates without losing any", func() {
			var wg sync.WaitGroup
			for i := 0; i < 2; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					for n := 0; n < 100; n++ {
						store.Update(ctx, "peer1", func(st *registry.SwitchState) error {
							st.Active += "x"
							return nil
						})
					}
				}()
			}
			wg.Wait()

			st, err := store.Load(ctx, "peer1")
			Expect(err).NotTo(HaveOccurred())
			Expect(st.Active).To(HaveLen(200))
		})

		It("keeps the previous state when an update fails", func() {
			Expect(store.Update(ctx, "peer1", func(st *registry.SwitchState) error {
				st.Active = "banner"
				return nil
			})).To(Succeed())

			failed := errors.New("rejected")
			err := store.Update(ctx, "peer1", func(st *registry.SwitchState) error {
				st.Active = "echo"
				st.Pending = &registry.PendingSwitch{Target: "banner"}
				return failed
			})
			Expect(err).To(MatchError(failed))

			st, err := store.Load(ctx, "peer1")
			Expect(err).NotTo(HaveOccurred())
			Expect(st).To(Equal(registry.SwitchState{Active: "banner"}))
		})

		It("returns copies that callers cannot change", func() {
			Expect(store.Update(ctx, "peer1", func(st *registry.SwitchState) error {
				st.Pending = &registry.PendingSwitch{Target: "echo"}
				return nil
			})).To(Succeed())

			st, _ := store.Load(ctx, "peer1")
			st.Pending.Target = "banner"

			again, _ := store.Load(ctx, "peer1")
			Expect(again.Pending.Target).To(Equal("echo"))
		})
	})
})
