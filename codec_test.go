package connector

import (
	"testing"

	. "github.com/onsi/gomega"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	g := NewWithT(t)

	rec := Record{
		"message_id": "abc-123",
		"count":      float64(3),
		"payload":    []byte{0x00, 0x01, 0xFF, 0x10},
		"nested": Record{
			"blob": []byte("hello"),
			"tag":  "ok",
		},
		"list": []any{"a", []byte("b"), float64(2)},
	}

	wire, err := Encode(rec)
	g.Expect(err).NotTo(HaveOccurred())

	decoded, err := Decode(wire)
	g.Expect(err).NotTo(HaveOccurred())

	g.Expect(decoded["message_id"]).To(Equal("abc-123"))
	g.Expect(decoded["count"]).To(Equal(float64(3)))
	g.Expect(decoded["payload"]).To(Equal([]byte{0x00, 0x01, 0xFF, 0x10}))

	nested, ok := decoded["nested"].(Record)
	g.Expect(ok).To(BeTrue())
	g.Expect(nested["blob"]).To(Equal([]byte("hello")))
	g.Expect(nested["tag"]).To(Equal("ok"))

	list, ok := decoded["list"].([]any)
	g.Expect(ok).To(BeTrue())
	g.Expect(list[0]).To(Equal("a"))
	g.Expect(list[1]).To(Equal([]byte("b")))
}

func TestDecodeRejectsInvalidBase64(t *testing.T) {
	g := NewWithT(t)
	_, err := Decode([]byte("not-base64!!"))
	g.Expect(err).To(HaveOccurred())
}

func TestDecodeRejectsNonObjectTop(t *testing.T) {
	g := NewWithT(t)
	// base64("[1,2,3]") — valid base64, valid JSON, but not an object.
	_, err := Decode([]byte("WzEsMiwzXQ=="))
	g.Expect(err).To(HaveOccurred())
}

func TestEncodeEmptyRecord(t *testing.T) {
	g := NewWithT(t)
	wire, err := Encode(Record{})
	g.Expect(err).NotTo(HaveOccurred())

	decoded, err := Decode(wire)
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(decoded).To(HaveLen(0))
}
