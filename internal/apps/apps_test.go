package apps_test

import (
	"context"
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"tn3270kit/internal/apps"
	"tn3270kit/internal/registry"
	"tn3270kit/internal/tn3270"
)

type screen struct {
	rows, cols int
	sent       [][]byte
}

func (s *screen) Rows() int { return s.rows }
func (s *screen) Cols() int { return s.cols }

func (s *screen) Send(data []byte) error {
	s.sent = append(s.sent, append([]byte(nil), data...))
	return nil
}

func (s *screen) last() string {
	if len(s.sent) == 0 {
		return ""
	}
	return string(s.sent[len(s.sent)-1])
}

func ebcdic(text string) string {
	return string(tn3270.ToEBCDIC(text))
}

// pingPong switches straight to its partner whenever it becomes ready.
type pingPong struct {
	name, partner string
}

func (p *pingPong) Name() string { return p.name }

func (p *pingPong) Ready(ctx context.Context, t *apps.Terminal) error {
	return t.SwitchTo(ctx, p.partner, false)
}

func (p *pingPong) Process(context.Context, *apps.Terminal, []byte) error { return nil }

var _ = Describe("Apps", func() {
	var (
		ctx  context.Context
		scr  *screen
		reg  *registry.Registry
		term *apps.Terminal
	)

	BeforeEach(func() {
		ctx = context.Background()
		scr = &screen{rows: 24, cols: 80}
		reg = registry.New(1, "TERM", "SYS", nil)
		term = &apps.Terminal{
			Screen:   scr,
			Peer:     "10.0.0.1:5000",
			LU:       registry.LU{TerminalID: "TERM0001", SystemName: "SYS00001"},
			Registry: reg,
		}
	})

	It("registers the built-in apps", func() {
		r := apps.Builtin()
		Expect(r.Names()).To(Equal([]string{apps.BannerName, apps.EchoName}))
		Expect(r.Get("missing")).To(BeNil())
	})

	Describe("Dispatcher", func() {
		var d *apps.Dispatcher

		BeforeEach(func() {
			d = apps.NewDispatcher(apps.Builtin(), term, apps.BannerName, logger)
		})

		It("shows the banner and waits to drain input before switching", func() {
			Expect(d.Start(ctx)).To(Succeed())
			Expect(d.Active()).To(Equal(apps.BannerName))
			Expect(scr.sent).To(HaveLen(1))
			Expect(scr.last()).To(ContainSubstring(ebcdic("Press any key to continue.")))
			Expect(scr.last()).To(ContainSubstring(ebcdic("Terminal TERM0001 on SYS00001")))

			pending, ok, err := reg.PendingSwitch(ctx, term.Peer)
			Expect(err).NotTo(HaveOccurred())
			Expect(ok).To(BeTrue())
			Expect(pending).To(Equal(registry.PendingSwitch{Target: apps.EchoName, Drain: true}))

			active, err := reg.Active(ctx, term.Peer)
			Expect(err).NotTo(HaveOccurred())
			Expect(active).To(Equal(apps.BannerName))
		})

		It("consumes the drained key press and starts the next app", func() {
			Expect(d.Start(ctx)).To(Succeed())
			Expect(d.Handle(ctx, []byte{tn3270.AIDEnter})).To(Succeed())

			Expect(d.Active()).To(Equal(apps.EchoName))
			Expect(scr.sent).To(HaveLen(2))
			Expect(scr.last()).To(ContainSubstring(ebcdic("ECHO  TERM0001")))
			Expect(scr.last()).NotTo(ContainSubstring(ebcdic("You typed")))

			_, ok, err := reg.PendingSwitch(ctx, term.Peer)
			Expect(err).NotTo(HaveOccurred())
			Expect(ok).To(BeFalse())
		})

		It("echoes entered fields", func() {
			d = apps.NewDispatcher(apps.Builtin(), term, apps.EchoName, logger)
			Expect(d.Start(ctx)).To(Succeed())

			cursor := tn3270.EncodeAddress(tn3270.BaseAddress(2, 18, 80), 24, 80)
			field := tn3270.EncodeAddress(tn3270.BaseAddress(2, 13, 80), 24, 80)
			in := []byte{tn3270.AIDEnter, cursor[0], cursor[1], tn3270.OrderSBA, field[0], field[1]}
			in = append(in, tn3270.ToEBCDIC("hello")...)

			Expect(d.Handle(ctx, in)).To(Succeed())
			Expect(scr.last()).To(ContainSubstring(ebcdic("You typed: hello")))
			Expect(scr.last()).To(ContainSubstring(ebcdic("Cursor at 178, 1 field(s) modified")))
		})

		It("switches without draining on PF3", func() {
			d = apps.NewDispatcher(apps.Builtin(), term, apps.EchoName, logger)
			Expect(d.Start(ctx)).To(Succeed())

			Expect(d.Handle(ctx, []byte{tn3270.AIDPF3})).To(Succeed())
			Expect(d.Active()).To(Equal(apps.BannerName))
			Expect(scr.last()).To(ContainSubstring(ebcdic("TN3270KIT TEST TARGET")))

			active, err := reg.Active(ctx, term.Peer)
			Expect(err).NotTo(HaveOccurred())
			Expect(active).To(Equal(apps.BannerName))
		})

		It("reports unreadable input on the screen", func() {
			d = apps.NewDispatcher(apps.Builtin(), term, apps.EchoName, logger)
			Expect(d.Start(ctx)).To(Succeed())

			Expect(d.Handle(ctx, []byte{tn3270.AIDEnter, 0x40, 0x40, 0x99})).To(Succeed())
			Expect(scr.last()).To(ContainSubstring(ebcdic("Unreadable input")))
		})

		It("redraws the active app when started again", func() {
			d = apps.NewDispatcher(apps.Builtin(), term, apps.EchoName, logger)
			Expect(d.Start(ctx)).To(Succeed())
			Expect(d.Start(ctx)).To(Succeed())
			Expect(scr.sent).To(HaveLen(2))
			Expect(d.Active()).To(Equal(apps.EchoName))
		})

		It("refuses an unknown initial app", func() {
			d = apps.NewDispatcher(apps.Builtin(), term, "nope", logger)
			Expect(d.Start(ctx)).To(MatchError(ContainSubstring(`unknown app "nope"`)))
		})

		It("stops a chain of switches that never waits for input", func() {
			r := apps.NewRegistry()
			r.Register(&pingPong{name: "ping", partner: "pong"})
			r.Register(&pingPong{name: "pong", partner: "ping"})
			d = apps.NewDispatcher(r, term, "ping", logger)

			err := d.Start(ctx)
			Expect(errors.Is(err, apps.ErrSwitchLoop)).To(BeTrue())
		})
	})

	Describe("Screen geometry", func() {
		It("uses Erase/Write for the default screen", func() {
			Expect((&apps.Echo{}).Ready(ctx, term)).To(Succeed())
			Expect(scr.sent[0][0]).To(Equal(byte(tn3270.CmdEraseWrite)))
		})

		It("uses Erase/Write Alternate for larger screens", func() {
			scr.rows, scr.cols = 27, 132
			Expect((&apps.Echo{}).Ready(ctx, term)).To(Succeed())
			Expect(scr.sent[0][0]).To(Equal(byte(tn3270.CmdEraseWriteAlternate)))
		})

		It("addresses 14-bit screens in binary", func() {
			scr.rows, scr.cols = 62, 160
			Expect((&apps.Banner{Lines: []string{"X"}}).Ready(ctx, term)).To(Succeed())

			addr := tn3270.EncodeAddress(tn3270.BaseAddress(30, 78, 160), 62, 160)
			Expect(addr[0] & 0xc0).To(BeZero())
			Expect(scr.last()).To(ContainSubstring(string([]byte{tn3270.OrderSBA, addr[0], addr[1]})))
		})
	})
})
