package tn3270_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"tn3270kit/internal/tn3270"
)

var _ = Describe("TN3270E headers", func() {
	It("parses the type, flags and big-endian sequence", func() {
		h, payload, err := tn3270.ParseHeader([]byte{0x03, 0x01, 0x02, 0x12, 0x34, 0xaa})
		Expect(err).NotTo(HaveOccurred())
		Expect(h).To(Equal(tn3270.Header{Type: tn3270.TypeBindImage, Request: 1, Response: 2, Seq: 0x1234}))
		Expect(payload).To(Equal([]byte{0xaa}))
	})

	It("carries unknown data types through", func() {
		h, _, err := tn3270.ParseHeader([]byte{0x42, 0, 0, 0, 0})
		Expect(err).NotTo(HaveOccurred())
		Expect(h.Type.Known()).To(BeFalse())
		Expect(h.Type.String()).To(Equal("Unknown(66)"))
		Expect(h.Bytes()[0]).To(Equal(byte(0x42)))
	})

	DescribeTable("names every defined data type",
		func(b byte, t tn3270.DataType, name string) {
			Expect(tn3270.DataType(b)).To(Equal(t))
			Expect(t.Known()).To(BeTrue())
			Expect(t.String()).To(Equal(name))
		},
		Entry("3270-DATA", byte(0), tn3270.Type3270Data, "3270-DATA"),
		Entry("SCS-DATA", byte(1), tn3270.TypeSCSData, "SCS-DATA"),
		Entry("RESPONSE", byte(2), tn3270.TypeResponse, "RESPONSE"),
		Entry("BIND-IMAGE", byte(3), tn3270.TypeBindImage, "BIND-IMAGE"),
		Entry("UNBIND", byte(4), tn3270.TypeUnbind, "UNBIND"),
		Entry("NVT-DATA", byte(5), tn3270.TypeNVTData, "NVT-DATA"),
		Entry("REQUEST", byte(6), tn3270.TypeRequest, "REQUEST"),
		Entry("SSCP-LU-DATA", byte(7), tn3270.TypeSSCPLUData, "SSCP-LU-DATA"),
		Entry("PRINT-EOJ", byte(8), tn3270.TypePrintEOJ, "PRINT-EOJ"),
		Entry("BID", byte(9), tn3270.TypeBID, "BID"),
	)

	It("rejects records shorter than a header", func() {
		_, _, err := tn3270.ParseHeader([]byte{0, 0, 0})
		Expect(err).To(MatchError(tn3270.ErrShortHeader))
	})

	It("wraps the sequence number after 65536 frames", func() {
		var seq tn3270.Sequencer
		for i := 0; i < 65536; i++ {
			h := seq.Next(tn3270.Type3270Data)
			Expect(h.Seq).To(Equal(uint16(i)))
		}
		Expect(seq.Next(tn3270.Type3270Data).Seq).To(Equal(uint16(0)))
		Expect(seq.Next(tn3270.Type3270Data).Seq).To(Equal(uint16(1)))
	})
})

var _ = Describe("BIND image", func() {
	It("builds the fixed prefix, sizes and EBCDIC system name", func() {
		d, _ := tn3270.NewDisplayInfo("IBM-3278-4")
		bind := tn3270.BuildBind(d, "sys00001")

		Expect(bind[:4]).To(Equal([]byte{0x31, 0x01, 0x03, 0x03}))
		Expect(bind[20:25]).To(Equal([]byte{24, 80, 43, 80, tn3270.SizeAlternate}))
		Expect(bind[27]).To(Equal(byte(8)))
		Expect(bind[28:]).To(Equal(tn3270.ToEBCDIC("SYS00001")))
		Expect(bind[28]).To(Equal(byte(0xe2))) // EBCDIC S
	})

	DescribeTable("presentation size codes",
		func(ttype string, code, wire byte) {
			d, _ := tn3270.NewDisplayInfo(ttype)
			Expect(tn3270.ScreenSizeCode(d)).To(Equal(code))
			Expect(tn3270.BuildBind(d, "SYS")[24]).To(Equal(wire))
		},
		Entry("IBM-3278-2", "IBM-3278-2", tn3270.Size24x80, byte(0x02)),
		Entry("IBM-3279-3-E", "IBM-3279-3-E", tn3270.SizeAlternate, byte(0x7f)),
		Entry("IBM-3278-5", "IBM-3278-5", tn3270.SizeAlternate, byte(0x7f)),
		Entry("IBM-DYNAMIC", "IBM-DYNAMIC", tn3270.SizeQueryAlternate, byte(0x03)),
	)
})
