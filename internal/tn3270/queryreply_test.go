package tn3270_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"tn3270kit/internal/tn3270"
)

// usableArea builds a usable-area query reply subfield.
func usableArea(rows, cols int) []byte {
	return []byte{0x00, 0x0a, 0x81, 0x81, 0x01, 0x00,
		byte(cols >> 8), byte(cols), byte(rows >> 8), byte(rows)}
}

var _ = Describe("Query replies", func() {
	var display tn3270.DisplayInfo

	BeforeEach(func() {
		var err error
		display, err = tn3270.NewDisplayInfo("IBM-DYNAMIC")
		Expect(err).NotTo(HaveOccurred())
	})

	It("updates the alternate size from the usable area", func() {
		reply := append([]byte{tn3270.AIDStructuredField}, usableArea(32, 80)...)

		ok, reason := display.ApplyQueryReply(reply)
		Expect(ok).To(BeTrue(), reason)
		Expect(display.AltRows).To(Equal(32))
		Expect(display.AltCols).To(Equal(80))
	})

	It("captures RPQ names", func() {
		reply := append([]byte{tn3270.AIDStructuredField}, usableArea(24, 80)...)
		reply = append(reply, 0x00, 0x07, 0x81, 0xa1, 'x', '3', '2')

		ok, _ := display.ApplyQueryReply(reply)
		Expect(ok).To(BeTrue())
		Expect(display.RPQNames).To(Equal([]byte("x32")))
	})

	It("fails on a subfield length below 2 and keeps the geometry", func() {
		reply := []byte{tn3270.AIDStructuredField, 0x00, 0x01, 0x81}

		ok, reason := display.ApplyQueryReply(reply)
		Expect(ok).To(BeFalse())
		Expect(reason).To(ContainSubstring("subfield length 1"))
		Expect(display.AltRows).To(Equal(24))
		Expect(display.AltCols).To(Equal(80))
	})

	It("fails on a subfield running past the record", func() {
		reply := append([]byte{tn3270.AIDStructuredField}, usableArea(32, 80)[:8]...)

		_, err := tn3270.ParseQueryReply(reply)
		Expect(err).To(MatchError(tn3270.ErrQueryReply))
	})

	It("requires the structured field AID", func() {
		_, err := tn3270.ParseQueryReply([]byte{tn3270.AIDEnter})
		Expect(err).To(MatchError(tn3270.ErrQueryReply))
	})

	It("applies at most once", func() {
		ok, _ := display.ApplyQueryReply(append([]byte{tn3270.AIDStructuredField}, usableArea(32, 80)...))
		Expect(ok).To(BeTrue())

		ok, _ = display.ApplyQueryReply(append([]byte{tn3270.AIDStructuredField}, usableArea(43, 80)...))
		Expect(ok).To(BeFalse())
		Expect(display.AltRows).To(Equal(32))
	})

	It("clamps oversized screens to the 14-bit address space", func() {
		qr, err := tn3270.ParseQueryReply(append([]byte{tn3270.AIDStructuredField}, usableArea(200, 132)...))
		Expect(err).NotTo(HaveOccurred())
		Expect(qr.Rows * qr.Cols).To(BeNumerically("<", 1<<14))
	})
})

var _ = Describe("Terminal types", func() {
	DescribeTable("validation",
		func(ttype string, valid bool) {
			Expect(tn3270.ValidTerminalType(ttype)).To(Equal(valid))
		},
		Entry("IBM-3278-2", "IBM-3278-2", true),
		Entry("IBM-3279-5-E", "IBM-3279-5-E", true),
		Entry("IBM-DYNAMIC", "IBM-DYNAMIC", true),
		Entry("IBM-3278-6", "IBM-3278-6", false),
		Entry("IBM-3277-2", "IBM-3277-2", false),
		Entry("FOO", "FOO", false),
	)

	DescribeTable("alternate sizes by model",
		func(ttype string, rows, cols int, extended bool) {
			d, err := tn3270.NewDisplayInfo(ttype)
			Expect(err).NotTo(HaveOccurred())
			Expect(d.AltRows).To(Equal(rows))
			Expect(d.AltCols).To(Equal(cols))
			Expect(d.Extended).To(Equal(extended))
		},
		Entry("IBM-3278-2", "IBM-3278-2", 24, 80, false),
		Entry("IBM-3278-3", "IBM-3278-3", 32, 80, false),
		Entry("IBM-3278-4-E", "IBM-3278-4-E", 43, 80, true),
		Entry("IBM-3279-5", "IBM-3279-5", 27, 132, true),
	)
})
