package scanning

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"net/http"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/ghttp"
)

func blankPNG() []byte {
	img := image.NewGray(image.Rect(0, 0, 64, 32))
	for i := range img.Pix {
		img.Pix[i] = 0xff
	}
	img.Set(1, 1, color.Black)
	var buf bytes.Buffer
	Expect(png.Encode(&buf, img)).To(Succeed())
	return buf.Bytes()
}

var _ = Describe("DecodeImage", func() {
	var (
		frame Frame
		img   image.Image
		err   error
	)

	JustBeforeEach(func() {
		img, err = DecodeImage(frame)
	})

	When("the frame is a PNG", func() {
		BeforeEach(func() {
			frame = Frame{Data: blankPNG(), ContentType: "image/png"}
		})

		It("should decode it", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(img.Bounds().Dx()).To(Equal(64))
		})
	})

	When("the content type is missing", func() {
		BeforeEach(func() {
			frame = Frame{Data: blankPNG()}
		})

		It("should sniff the format", func() {
			Expect(err).NotTo(HaveOccurred())
		})
	})

	When("the frame is empty", func() {
		BeforeEach(func() {
			frame = Frame{}
		})

		It("returns the error", func() {
			Expect(err).To(MatchError("empty frame"))
		})
	})

	When("the data is not an image", func() {
		BeforeEach(func() {
			frame = Frame{Data: []byte("definitely not an image"), ContentType: "image/jpeg"}
		})

		It("returns the error", func() {
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("unsupported image format"))
		})
	})
})

var _ = Describe("isHEICFormat", func() {
	It("should detect the ftyp brand", func() {
		data := append([]byte{0, 0, 0, 24}, []byte("ftypheic0000")...)
		Expect(isHEICFormat(data)).To(BeTrue())
	})

	It("should reject short data", func() {
		Expect(isHEICFormat([]byte("ftyp"))).To(BeFalse())
	})

	It("should reject other containers", func() {
		Expect(isHEICFormat(blankPNG())).To(BeFalse())
	})
})

var _ = Describe("framePNG", func() {
	It("should pass PNG data through untouched", func() {
		data := blankPNG()
		out, err := framePNG(Frame{Data: data, ContentType: "image/png; charset=binary"})
		Expect(err).NotTo(HaveOccurred())
		Expect(out).To(Equal(data))
	})
})

var _ = Describe("ZXing", func() {
	It("should return no codes for a blank frame", func() {
		codes, err := NewZXing().Decode(context.Background(), Frame{Data: blankPNG(), ContentType: "image/png"})
		Expect(err).NotTo(HaveOccurred())
		Expect(codes).To(BeEmpty())
	})

	It("returns the error for an undecodable frame", func() {
		_, err := NewZXing().Decode(context.Background(), Frame{Data: []byte("nope")})
		Expect(err).To(HaveOccurred())
	})
})

var _ = Describe("Ollama", func() {
	var (
		server  *ghttp.Server
		decoder *Ollama
	)

	BeforeEach(func() {
		server = ghttp.NewServer()
		var err error
		decoder, err = NewOllama(server.URL()+"/", "test-model")
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		server.Close()
	})

	When("the model reads a barcode", func() {
		BeforeEach(func() {
			server.AppendHandlers(ghttp.CombineHandlers(
				ghttp.VerifyRequest("POST", "/api/chat"),
				ghttp.VerifyContentType("application/json"),
				func(w http.ResponseWriter, r *http.Request) {
					var req ollamaChatRequest
					Expect(json.NewDecoder(r.Body).Decode(&req)).To(Succeed())
					Expect(req.Model).To(Equal("test-model"))
					Expect(req.Messages).To(HaveLen(2))
					Expect(req.Messages[1].Images).To(HaveLen(1))
				},
				ghttp.RespondWithJSONEncoded(http.StatusOK, ollamaChatResponse{
					Message: ollamaMessage{Role: "assistant", Content: `{"barcodes":[{"text":"5000112548167","symbology":"EAN13"}]}`},
					Done:    true,
				}),
			))
		})

		It("should return the detected code", func() {
			codes, err := decoder.Decode(context.Background(), Frame{Data: blankPNG(), ContentType: "image/png"})
			Expect(err).NotTo(HaveOccurred())
			Expect(codes).To(ConsistOf(DetectedCode{Text: "5000112548167", Symbology: "EAN13"}))
		})
	})

	When("the API fails", func() {
		BeforeEach(func() {
			server.AppendHandlers(ghttp.RespondWith(http.StatusInternalServerError, "model not loaded"))
		})

		It("returns the error", func() {
			_, err := decoder.Decode(context.Background(), Frame{Data: blankPNG(), ContentType: "image/png"})
			Expect(err).To(MatchError(ContainSubstring("status 500")))
		})
	})
})
