package certificate

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/zombor/taxcert/internal/pipeline"
)

// mockEnqueuer records queued certificate IDs
type mockEnqueuer struct {
	mu  sync.Mutex
	ids []string
	err error
}

func (m *mockEnqueuer) Enqueue(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.ids = append(m.ids, id)
	return nil
}

func multipartBody(filename, contentType string, data []byte) (*bytes.Buffer, string) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="file"; filename="`+filename+`"`)
	if contentType != "" {
		h.Set("Content-Type", contentType)
	}
	part, err := writer.CreatePart(h)
	Expect(err).NotTo(HaveOccurred())
	_, err = part.Write(data)
	Expect(err).NotTo(HaveOccurred())
	Expect(writer.Close()).To(Succeed())
	return body, writer.FormDataContentType()
}

var _ = Describe("Server", func() {
	var (
		db        *mockDB
		storage   *mockStorage
		extractor *mockExtractor
		hub       *ProgressHub
		queue     *mockEnqueuer
		service   *Service
		auth      BasicAuth
		ts        *httptest.Server
	)

	BeforeEach(func() {
		db = newMockDB()
		storage = newMockStorage()
		extractor = newMockExtractor()
		hub = NewProgressHub(0)
		queue = &mockEnqueuer{}
		auth = BasicAuth{}
	})

	JustBeforeEach(func() {
		service = NewServiceWithDeps(db, extractor, storage, hub, &mockIDGenerator{id: "cert-1"},
			&mockTimeSource{now: time.Date(2024, 7, 1, 9, 30, 0, 0, time.UTC)})
		ts = httptest.NewServer(NewServerWithMux(service, hub, queue, auth, http.NewServeMux()))
	})

	AfterEach(func() {
		ts.Close()
	})

	upload := func() *Certificate {
		cert, err := service.Upload("irp5.pdf", pdfData, "application/pdf")
		Expect(err).NotTo(HaveOccurred())
		return cert
	}

	decodeError := func(resp *http.Response) map[string]string {
		defer resp.Body.Close()
		var body map[string]string
		Expect(json.NewDecoder(resp.Body).Decode(&body)).To(Succeed())
		return body
	}

	Describe("POST /api/certificates", func() {
		var (
			filename string
			ctype    string
			data     []byte
			resp     *http.Response
		)

		BeforeEach(func() {
			filename = "irp5.pdf"
			ctype = "application/pdf"
			data = pdfData
		})

		JustBeforeEach(func() {
			body, formType := multipartBody(filename, ctype, data)
			var err error
			resp, err = http.Post(ts.URL+"/api/certificates", formType, body)
			Expect(err).NotTo(HaveOccurred())
		})

		When("the upload is valid", func() {
			It("should accept and queue the certificate", func() {
				defer resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusAccepted))
				var cert Certificate
				Expect(json.NewDecoder(resp.Body).Decode(&cert)).To(Succeed())
				Expect(cert.ID).To(Equal("cert-1"))
				Expect(cert.Status).To(Equal(StatusPending))
				Expect(queue.ids).To(Equal([]string{"cert-1"}))
			})
		})

		When("the part has no content type", func() {
			BeforeEach(func() {
				ctype = ""
			})

			It("should infer it from the extension", func() {
				resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusAccepted))
				Expect(db.certs["cert-1"].ContentType).To(Equal("application/pdf"))
			})
		})

		When("the file type is unsupported", func() {
			BeforeEach(func() {
				filename = "notes.txt"
				ctype = "text/plain"
			})

			It("should return the invalid input kind", func() {
				Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
				body := decodeError(resp)
				Expect(body["kind"]).To(Equal(string(pipeline.InvalidInput)))
				Expect(body["error"]).To(ContainSubstring("Unsupported file type"))
				Expect(queue.ids).To(BeEmpty())
			})
		})

		When("the queue is shutting down", func() {
			BeforeEach(func() {
				queue.err = ErrQueueClosed
			})

			It("should return service unavailable", func() {
				resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusServiceUnavailable))
			})
		})
	})

	Describe("POST /api/certificates without a file", func() {
		It("should return bad request", func() {
			body := &bytes.Buffer{}
			writer := multipart.NewWriter(body)
			Expect(writer.WriteField("other", "x")).To(Succeed())
			Expect(writer.Close()).To(Succeed())

			resp, err := http.Post(ts.URL+"/api/certificates", writer.FormDataContentType(), body)
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
			Expect(decodeError(resp)["error"]).To(ContainSubstring("No file"))
		})
	})

	Describe("GET /api/certificates", func() {
		It("should list certificates as JSON", func() {
			upload()
			resp, err := http.Get(ts.URL + "/api/certificates")
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			var certs []Certificate
			Expect(json.NewDecoder(resp.Body).Decode(&certs)).To(Succeed())
			Expect(certs).To(HaveLen(1))
		})

		It("should return an empty array when there are none", func() {
			resp, err := http.Get(ts.URL + "/api/certificates")
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			body, _ := io.ReadAll(resp.Body)
			Expect(strings.TrimSpace(string(body))).To(Equal("[]"))
		})

		It("should return 500 when the database fails", func() {
			db.listErr = errors.New("db down")
			resp, err := http.Get(ts.URL + "/api/certificates")
			Expect(err).NotTo(HaveOccurred())
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusInternalServerError))
		})
	})

	Describe("GET /api/certificates/{id}", func() {
		It("should return the certificate", func() {
			upload()
			resp, err := http.Get(ts.URL + "/api/certificates/cert-1")
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
		})

		It("should return 404 for unknown IDs", func() {
			resp, err := http.Get(ts.URL + "/api/certificates/missing")
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
			Expect(decodeError(resp)["error"]).To(Equal("Certificate not found"))
		})
	})

	Describe("GET /api/certificates/{id}/file", func() {
		It("should return the upload with its content type", func() {
			upload()
			resp, err := http.Get(ts.URL + "/api/certificates/cert-1/file")
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.Header.Get("Content-Type")).To(Equal("application/pdf"))
			data, _ := io.ReadAll(resp.Body)
			Expect(data).To(Equal(pdfData))
		})
	})

	Describe("GET /api/certificates/export.xlsx", func() {
		It("should return a workbook", func() {
			upload()
			resp, err := http.Get(ts.URL + "/api/certificates/export.xlsx")
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(resp.Header.Get("Content-Type")).To(Equal(xlsxContentType))
			data, _ := io.ReadAll(resp.Body)
			Expect(data[:2]).To(Equal([]byte("PK")))
		})
	})

	Describe("PUT /api/certificates/{id}/fields", func() {
		put := func(id, body string) *http.Response {
			req, err := http.NewRequest(http.MethodPut, ts.URL+"/api/certificates/"+id+"/fields", strings.NewReader(body))
			Expect(err).NotTo(HaveOccurred())
			req.Header.Set("Content-Type", "application/json")
			resp, err := http.DefaultClient.Do(req)
			Expect(err).NotTo(HaveOccurred())
			return resp
		}

		It("should store valid values", func() {
			upload()
			resp := put("cert-1", `{"values": {"gross_remuneration": 300000}}`)
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			var cert Certificate
			Expect(json.NewDecoder(resp.Body).Decode(&cert)).To(Succeed())
			Expect(cert.Manual).To(BeTrue())
		})

		It("should return 422 for rejected values", func() {
			upload()
			resp := put("cert-1", `{"values": {"gross_remuneration": 10}}`)
			Expect(resp.StatusCode).To(Equal(http.StatusUnprocessableEntity))
			Expect(decodeError(resp)["error"]).To(ContainSubstring("outside"))
		})

		It("should return 409 while processing", func() {
			upload()
			db.certs["cert-1"].Status = StatusProcessing
			resp := put("cert-1", `{"values": {"gross_remuneration": 300000}}`)
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusConflict))
		})

		It("should return 404 for unknown IDs", func() {
			resp := put("missing", `{"values": {"gross_remuneration": 300000}}`)
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
		})
	})

	Describe("DELETE /api/certificates/{id}", func() {
		It("should delete the certificate", func() {
			upload()
			req, _ := http.NewRequest(http.MethodDelete, ts.URL+"/api/certificates/cert-1", nil)
			resp, err := http.DefaultClient.Do(req)
			Expect(err).NotTo(HaveOccurred())
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusNoContent))
			Expect(db.certs).To(BeEmpty())
		})
	})

	Describe("OPTIONS preflight", func() {
		It("should answer with CORS headers", func() {
			req, _ := http.NewRequest(http.MethodOptions, ts.URL+"/api/certificates", nil)
			resp, err := http.DefaultClient.Do(req)
			Expect(err).NotTo(HaveOccurred())
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusNoContent))
			Expect(resp.Header.Get("Access-Control-Allow-Methods")).To(ContainSubstring("PUT"))
		})
	})

	Describe("basic auth", func() {
		BeforeEach(func() {
			auth = BasicAuth{Username: "admin", Password: "secret"}
		})

		It("should reject requests without credentials", func() {
			resp, err := http.Get(ts.URL + "/api/certificates")
			Expect(err).NotTo(HaveOccurred())
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))
			Expect(resp.Header.Get("WWW-Authenticate")).To(ContainSubstring("Basic"))
			Expect(resp.Header.Get("Access-Control-Allow-Origin")).To(Equal("*"))
		})

		It("should reject wrong credentials", func() {
			req, _ := http.NewRequest(http.MethodGet, ts.URL+"/api/certificates", nil)
			req.SetBasicAuth("admin", "wrong")
			resp, err := http.DefaultClient.Do(req)
			Expect(err).NotTo(HaveOccurred())
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))
		})

		It("should accept valid credentials", func() {
			req, _ := http.NewRequest(http.MethodGet, ts.URL+"/api/certificates", nil)
			req.Header.Set("Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte("admin:secret")))
			resp, err := http.DefaultClient.Do(req)
			Expect(err).NotTo(HaveOccurred())
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
		})
	})

	Describe("GET /api/certificates/{id}/progress", func() {
		var wsURL string

		JustBeforeEach(func() {
			wsURL = "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/certificates/cert-1/progress"
		})

		It("should stream events until the terminal event", func() {
			upload()
			conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
			Expect(err).NotTo(HaveOccurred())
			defer conn.Close()

			Eventually(func() int { return hub.Subscribers("cert-1") }).Should(Equal(1))
			hub.Publish(Event{CertificateID: "cert-1", Percent: 40, Stage: pipeline.Recognizing, Status: StatusProcessing})
			hub.Publish(Event{CertificateID: "cert-1", Percent: 100, Stage: pipeline.Done, Status: StatusDone})

			var ev Event
			Expect(conn.ReadJSON(&ev)).To(Succeed())
			Expect(ev.Percent).To(Equal(40))
			Expect(conn.ReadJSON(&ev)).To(Succeed())
			Expect(ev.Status).To(Equal(StatusDone))

			_, _, err = conn.ReadMessage()
			Expect(websocket.IsCloseError(err, websocket.CloseNormalClosure)).To(BeTrue())
		})

		It("should send the outcome at once for a finished certificate", func() {
			upload()
			db.certs["cert-1"].Status = StatusFailed
			db.certs["cert-1"].FailureKind = pipeline.GrossAmountNotFound
			db.certs["cert-1"].FailureMessage = pipeline.GrossAmountNotFound.Message()

			conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
			Expect(err).NotTo(HaveOccurred())
			defer conn.Close()

			var ev Event
			Expect(conn.ReadJSON(&ev)).To(Succeed())
			Expect(ev.Status).To(Equal(StatusFailed))
			Expect(ev.FailureKind).To(Equal(pipeline.GrossAmountNotFound))
		})

		It("should stream a real processing run", func() {
			upload()
			conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
			Expect(err).NotTo(HaveOccurred())
			defer conn.Close()
			Eventually(func() int { return hub.Subscribers("cert-1") }).Should(Equal(1))

			go service.Process(context.Background(), "cert-1")

			var last Event
			for {
				var ev Event
				if err := conn.ReadJSON(&ev); err != nil {
					break
				}
				last = ev
			}
			Expect(last.Status).To(Equal(StatusDone))
			Expect(last.Stage).To(Equal(pipeline.Done))
		})

		It("should return 404 for unknown certificates", func() {
			_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
			Expect(err).To(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
		})
	})
})
