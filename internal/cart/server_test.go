package cart

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"regexp"
	"strings"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/ghttp"

	"github.com/zombor/smartkart/internal/capture"
	"github.com/zombor/smartkart/internal/product"
	"github.com/zombor/smartkart/internal/speech"
)

// mockResolver is a mock implementation of product.Resolver
type mockResolver struct {
	err error
}

func (m *mockResolver) Resolve(ctx context.Context, barcode string) (*product.Product, error) {
	if m.err != nil {
		return nil, m.err
	}
	if p, ok := catalog[barcode]; ok {
		return p, nil
	}
	return &product.Product{Barcode: barcode}, nil
}

// mockTranscript is a mock implementation of Transcript
type mockTranscript struct {
	utterances []speech.Utterance
	limit      int
	stops      int
}

func (m *mockTranscript) Stop() {
	m.stops++
}

func (m *mockTranscript) Recent(n int) []speech.Utterance {
	m.limit = n
	return m.utterances
}

var _ = Describe("Server", func() {
	var (
		announcer   *mockAnnouncer
		session     *Session
		db          *mockDB
		storage     *mockStorage
		resolver    *mockResolver
		frames      *capture.Queue
		transcript  *mockTranscript
		auth        BasicAuth
		server      *Server
		ghttpServer *ghttp.Server
	)

	BeforeEach(func() {
		announcer = &mockAnnouncer{}
		db = newMockDB()
		storage = newMockStorage()
		resolver = &mockResolver{}
		frames = capture.NewQueue(1)
		transcript = &mockTranscript{}
		auth = BasicAuth{}
	})

	JustBeforeEach(func() {
		recorder := NewRecorderWithDeps(db, storage, &mockIDGenerator{id: "rec-1"},
			&mockTimeSource{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)})
		session = NewSession(announcer, recorder, time.Minute)
		server = NewServerWithMux(ServerDeps{
			Session:    session,
			Recorder:   recorder,
			Resolver:   resolver,
			Frames:     frames,
			Transcript: transcript,
		}, auth, http.NewServeMux())

		ghttpServer = ghttp.NewServer()
		for _, method := range []string{"GET", "POST", "DELETE", "OPTIONS"} {
			ghttpServer.RouteToHandler(method, regexp.MustCompile(".*"), server.Handler().ServeHTTP)
		}
	})

	AfterEach(func() {
		ghttpServer.Close()
	})

	post := func(path string, contentType string, body io.Reader) *http.Response {
		resp, err := http.Post(ghttpServer.URL()+path, contentType, body)
		Expect(err).NotTo(HaveOccurred())
		return resp
	}

	get := func(path string) *http.Response {
		resp, err := http.Get(ghttpServer.URL() + path)
		Expect(err).NotTo(HaveOccurred())
		return resp
	}

	decode := func(resp *http.Response, v any) {
		defer resp.Body.Close()
		Expect(json.NewDecoder(resp.Body).Decode(v)).To(Succeed())
	}

	Describe("handleIndex", func() {
		It("should serve the status page", func() {
			resp := get("/")
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			body, err := io.ReadAll(resp.Body)
			Expect(err).NotTo(HaveOccurred())
			Expect(string(body)).To(ContainSubstring("SmartKart"))
		})

		It("should not serve unknown paths", func() {
			resp := get("/nope")
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
		})

		It("should serve the assets", func() {
			resp := get("/static/app.js")
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(resp.Header.Get("Content-Type")).To(ContainSubstring("javascript"))
		})
	})

	Describe("handleSubmitBarcode", func() {
		When("the barcode is known", func() {
			It("should make it pending", func() {
				resp := post("/api/barcodes", "application/json", strings.NewReader(`{"barcode":"111"}`))
				Expect(resp.StatusCode).To(Equal(http.StatusAccepted))
				var snap Snapshot
				decode(resp, &snap)
				Expect(snap.Mode).To(Equal(ModeItemPending))
				Expect(snap.Pending.Name).To(Equal("Cola"))
			})
		})

		When("the lookup fails", func() {
			BeforeEach(func() {
				resolver.err = errors.New("network unreachable")
			})

			It("should flag the pending item", func() {
				resp := post("/api/barcodes", "application/json", strings.NewReader(`{"barcode":"111"}`))
				var snap Snapshot
				decode(resp, &snap)
				Expect(snap.Pending.LookupFailed).To(BeTrue())
			})
		})

		When("the barcode is missing", func() {
			It("should return Bad Request", func() {
				resp := post("/api/barcodes", "application/json", strings.NewReader(`{"barcode":"  "}`))
				resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
			})
		})

		When("the body is not JSON", func() {
			It("should return Bad Request", func() {
				resp := post("/api/barcodes", "application/json", strings.NewReader(`barcode=1`))
				resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
			})
		})
	})

	Describe("handleAction", func() {
		It("should run the action and return the session", func() {
			post("/api/barcodes", "application/json", strings.NewReader(`{"barcode":"111"}`)).Body.Close()

			resp := post("/api/actions/confirm_add", "", nil)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			var snap Snapshot
			decode(resp, &snap)
			Expect(snap.Mode).To(Equal(ModeScanning))
			Expect(snap.Items).To(HaveLen(1))
			Expect(db.records).To(HaveKey("rec-1"))
		})

		It("should report a pending confirmation", func() {
			post("/api/barcodes", "application/json", strings.NewReader(`{"barcode":"111"}`)).Body.Close()
			post("/api/actions/confirm_add", "", nil).Body.Close()
			post("/api/actions/enter_cart_review", "", nil).Body.Close()

			resp := post("/api/actions/request_clear", "", nil)
			var snap map[string]any
			decode(resp, &snap)
			Expect(snap["mode"]).To(Equal("cart_review"))
			Expect(snap["cursor"]).To(BeEquivalentTo(0))
			Expect(snap["pending_confirmation"]).To(Equal("clear"))
		})

		It("should return Not Found for unknown actions", func() {
			resp := post("/api/actions/fly", "", nil)
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
		})
	})

	Describe("handleGetSession", func() {
		It("should return the snapshot", func() {
			resp := get("/api/session")
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(resp.Header.Get("Content-Type")).To(Equal("application/json"))
			var snap map[string]any
			decode(resp, &snap)
			Expect(snap["mode"]).To(Equal("scanning"))
			Expect(snap["items"]).To(BeEmpty())
			Expect(snap).NotTo(HaveKey("cursor"))
		})
	})

	Describe("handleUploadFrame", func() {
		upload := func(data []byte) *http.Response {
			body := &bytes.Buffer{}
			writer := multipart.NewWriter(body)
			part, err := writer.CreateFormFile("file", "frame.png")
			Expect(err).NotTo(HaveOccurred())
			part.Write(data)
			Expect(writer.Close()).To(Succeed())
			return post("/api/frames", writer.FormDataContentType(), body)
		}

		It("should queue the frame", func() {
			resp := upload([]byte("\x89PNG\r\n\x1a\nrest"))
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusAccepted))

			frame, err := frames.Next(context.Background())
			Expect(err).NotTo(HaveOccurred())
			Expect(frame.ContentType).To(Equal("image/png"))
			Expect(frame.Seq).To(Equal(uint64(1)))
		})

		It("should answer 503 when the queue is full", func() {
			upload([]byte("one")).Body.Close()
			resp := upload([]byte("two"))
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusServiceUnavailable))
		})

		It("should reject an empty file", func() {
			resp := upload(nil)
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
		})

		It("should reject a request without a file", func() {
			resp := post("/api/frames", "text/plain", strings.NewReader("x"))
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
		})
	})

	Describe("history", func() {
		BeforeEach(func() {
			db.records["rec-9"] = &Record{ID: "rec-9", Barcode: "111", Filename: "111_20240101_000000.json"}
			storage.files["111_20240101_000000.json"] = []byte(`{"barcode":"111"}`)
		})

		It("should list records", func() {
			var records []*Record
			decode(get("/api/history"), &records)
			Expect(records).To(HaveLen(1))
		})

		It("should get a record", func() {
			var record Record
			decode(get("/api/history/rec-9"), &record)
			Expect(record.Barcode).To(Equal("111"))
		})

		It("should return Not Found for a missing record", func() {
			resp := get("/api/history/missing")
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
		})

		It("should serve the record file", func() {
			resp := get("/api/history/rec-9/file")
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(resp.Header.Get("Content-Disposition")).To(ContainSubstring("111_20240101_000000.json"))
			body, err := io.ReadAll(resp.Body)
			Expect(err).NotTo(HaveOccurred())
			Expect(string(body)).To(Equal(`{"barcode":"111"}`))
		})

		It("should delete a record", func() {
			req, err := http.NewRequest("DELETE", ghttpServer.URL()+"/api/history/rec-9", nil)
			Expect(err).NotTo(HaveOccurred())
			resp, err := http.DefaultClient.Do(req)
			Expect(err).NotTo(HaveOccurred())
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusNoContent))
			Expect(db.records).To(BeEmpty())
			Expect(storage.files).To(BeEmpty())
		})

		It("should return Not Found when deleting a missing record", func() {
			req, err := http.NewRequest("DELETE", ghttpServer.URL()+"/api/history/missing", nil)
			Expect(err).NotTo(HaveOccurred())
			resp, err := http.DefaultClient.Do(req)
			Expect(err).NotTo(HaveOccurred())
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
		})

		When("the database fails", func() {
			BeforeEach(func() {
				db.listErr = errors.New("db locked")
			})

			It("should return Internal Server Error", func() {
				resp := get("/api/history")
				resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusInternalServerError))
			})
		})
	})

	Describe("handleListProducts", func() {
		BeforeEach(func() {
			db.products["111"] = &TrackedProduct{Barcode: "111", Name: "Cola"}
		})

		It("should list tracked products", func() {
			var products []*TrackedProduct
			decode(get("/api/products"), &products)
			Expect(products).To(HaveLen(1))
			Expect(products[0].Name).To(Equal("Cola"))
		})
	})

	Describe("handleListAnnouncements", func() {
		BeforeEach(func() {
			transcript.utterances = []speech.Utterance{{Text: "Cancelled."}}
		})

		It("should return the transcript", func() {
			var utterances []speech.Utterance
			decode(get("/api/announcements?limit=5"), &utterances)
			Expect(utterances).To(HaveLen(1))
			Expect(transcript.limit).To(Equal(5))
		})

		It("should reject a bad limit", func() {
			resp := get("/api/announcements?limit=many")
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
		})

		It("should stop the speaker", func() {
			resp := post("/api/announcements/stop", "", nil)
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusNoContent))
			Expect(transcript.stops).To(Equal(1))
		})
	})

	Describe("metrics", func() {
		It("should expose prometheus metrics", func() {
			post("/api/actions/repeat_last", "", nil).Body.Close()
			resp := get("/metrics")
			defer resp.Body.Close()
			body, err := io.ReadAll(resp.Body)
			Expect(err).NotTo(HaveOccurred())
			Expect(string(body)).To(ContainSubstring("smartkart_session_actions_total"))
		})
	})

	Describe("CORS", func() {
		It("should answer preflight requests", func() {
			req, err := http.NewRequest("OPTIONS", ghttpServer.URL()+"/api/session", nil)
			Expect(err).NotTo(HaveOccurred())
			resp, err := http.DefaultClient.Do(req)
			Expect(err).NotTo(HaveOccurred())
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusNoContent))
			Expect(resp.Header.Get("Access-Control-Allow-Origin")).To(Equal("*"))
		})
	})

	Describe("basic auth", func() {
		BeforeEach(func() {
			auth = BasicAuth{Username: "shopper", Password: "secret"}
		})

		It("should reject requests without credentials", func() {
			resp := get("/api/session")
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))
			Expect(resp.Header.Get("WWW-Authenticate")).To(ContainSubstring("SmartKart"))
		})

		It("should protect the metrics endpoint", func() {
			resp := get("/metrics")
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))
		})

		It("should accept valid credentials", func() {
			req, err := http.NewRequest("GET", ghttpServer.URL()+"/api/session", nil)
			Expect(err).NotTo(HaveOccurred())
			req.Header.Set("Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte("shopper:secret")))
			resp, err := http.DefaultClient.Do(req)
			Expect(err).NotTo(HaveOccurred())
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
		})
	})
})
