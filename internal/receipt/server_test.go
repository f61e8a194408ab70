package receipt

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"

	ginkgo "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"paragon/internal/category"
)

// mockProcessor is a mock implementation of Processor
type mockProcessor struct {
	result     *ProcessResult
	err        error
	calls      int
	lastUserID string
	lastPath   string
}

func (m *mockProcessor) Process(_ context.Context, userID, filePath string) (*ProcessResult, error) {
	m.calls++
	m.lastUserID = userID
	m.lastPath = filePath
	if m.err != nil {
		return nil, m.err
	}
	return m.result, nil
}

// mockExpenses is a mock implementation of ExpenseStore
type mockExpenses struct {
	saved   []*Expense
	saveErr error
	listErr error
}

func (m *mockExpenses) SaveExpenses(expenses []*Expense) error {
	if m.saveErr != nil {
		return m.saveErr
	}
	m.saved = append(m.saved, expenses...)
	return nil
}

func (m *mockExpenses) ListExpenses(userID string) ([]*Expense, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	expenses := make([]*Expense, 0)
	for _, e := range m.saved {
		if e.UserID == userID {
			expenses = append(expenses, e)
		}
	}
	return expenses, nil
}

func multipartBody(filename string, contents []byte, contentType string) (*bytes.Buffer, string) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", `form-data; name="file"; filename="`+filename+`"`)
	if contentType != "" {
		header.Set("Content-Type", contentType)
	}
	part, err := writer.CreatePart(header)
	Expect(err).NotTo(HaveOccurred())
	_, err = part.Write(contents)
	Expect(err).NotTo(HaveOccurred())
	Expect(writer.Close()).To(Succeed())
	return body, writer.FormDataContentType()
}

var _ = ginkgo.Describe("Server", func() {
	var (
		processor  *mockProcessor
		profiles   *mockProfiles
		categories *mockCategories
		expenses   *mockExpenses
		blobs      *mockBlobs
		server     *Server
		rec        *httptest.ResponseRecorder
	)

	ginkgo.BeforeEach(func() {
		processor = &mockProcessor{result: &ProcessResult{
			Expenses: []category.ExpenseGroup{
				{CategoryID: "inne", CategoryName: "Inne", Amount: "4.20", Items: []string{"Milk - 4.20"}},
			},
			TotalAmount:    "4.20",
			Currency:       "PLN",
			ReceiptDate:    "2024-03-01",
			ProcessingTime: 1500,
		}}
		profiles = newMockProfiles()
		categories = &mockCategories{categories: []category.Category{
			{ID: "zywnosc", Name: "Żywność"},
			{ID: "inne", Name: "Inne"},
		}}
		expenses = &mockExpenses{}
		blobs = newMockBlobs()
		server = NewServer(processor, profiles, categories, expenses, blobs, BasicAuth{
			Username: "marta",
			Password: "sekret",
		})
		rec = httptest.NewRecorder()
	})

	do := func(method, target string, body *bytes.Buffer, contentType string, authed bool) {
		if body == nil {
			body = &bytes.Buffer{}
		}
		req := httptest.NewRequest(method, target, body)
		if contentType != "" {
			req.Header.Set("Content-Type", contentType)
		}
		if authed {
			req.SetBasicAuth("marta", "sekret")
		}
		server.ServeHTTP(rec, req)
	}

	ginkgo.Describe("authentication", func() {
		ginkgo.It("rejects unauthenticated requests", func() {
			do(http.MethodPost, "/receipts/process", bytes.NewBufferString(`{"file_path":"x"}`), "application/json", false)
			Expect(rec.Code).To(Equal(http.StatusUnauthorized))
		})

		ginkgo.It("leaves the health endpoint open", func() {
			do(http.MethodGet, "/health", nil, "", false)
			Expect(rec.Code).To(Equal(http.StatusOK))
		})

		ginkgo.It("answers preflight requests with CORS headers", func() {
			do("OPTIONS", "/receipts/process", nil, "", false)
			Expect(rec.Code).To(Equal(http.StatusNoContent))
			Expect(rec.Header().Get("Access-Control-Allow-Origin")).To(Equal("*"))
		})
	})

	ginkgo.Describe("POST /receipts/upload", func() {
		ginkgo.It("stores the file under the uploading user and returns its handle", func() {
			body, contentType := multipartBody("IMG_1234.jpg", []byte("fake image"), "image/jpeg")
			do(http.MethodPost, "/receipts/upload", body, contentType, true)

			Expect(rec.Code).To(Equal(http.StatusCreated))

			var resp map[string]string
			Expect(json.Unmarshal(rec.Body.Bytes(), &resp)).To(Succeed())
			Expect(resp["file_path"]).To(HavePrefix("receipts/marta/"))
			Expect(resp["file_path"]).To(HaveSuffix(".jpg"))
			Expect(resp["file_id"]).NotTo(BeEmpty())
			Expect(resp["uploaded_at"]).NotTo(BeEmpty())
			Expect(blobs.files).To(HaveKey(resp["file_path"]))
		})

		ginkgo.It("derives the content type from the filename when missing", func() {
			body, contentType := multipartBody("scan.pdf", []byte("%PDF-1.4"), "")
			do(http.MethodPost, "/receipts/upload", body, contentType, true)

			Expect(rec.Code).To(Equal(http.StatusCreated))
			var resp map[string]string
			Expect(json.Unmarshal(rec.Body.Bytes(), &resp)).To(Succeed())
			Expect(resp["file_path"]).To(HaveSuffix(".pdf"))
		})

		ginkgo.It("rejects a body over the size cap before storing anything", func() {
			body, contentType := multipartBody("huge.jpg", make([]byte, maxUploadSize+1), "image/jpeg")
			do(http.MethodPost, "/receipts/upload", body, contentType, true)

			Expect(rec.Code).To(Equal(http.StatusBadRequest))
			Expect(rec.Body.String()).To(ContainSubstring("too large"))
			Expect(blobs.files).To(BeEmpty())
		})

		ginkgo.It("rejects requests without a file", func() {
			body := &bytes.Buffer{}
			writer := multipart.NewWriter(body)
			Expect(writer.Close()).To(Succeed())
			do(http.MethodPost, "/receipts/upload", body, writer.FormDataContentType(), true)

			Expect(rec.Code).To(Equal(http.StatusBadRequest))
			Expect(rec.Body.String()).To(ContainSubstring(CodeValidation))
		})
	})

	ginkgo.Describe("POST /receipts/process", func() {
		ginkgo.It("runs the pipeline as the authenticated user", func() {
			do(http.MethodPost, "/receipts/process", bytes.NewBufferString(`{"file_path":"receipts/marta/abc.jpg"}`), "application/json", true)

			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(processor.lastUserID).To(Equal("marta"))
			Expect(processor.lastPath).To(Equal("receipts/marta/abc.jpg"))

			var resp ProcessResult
			Expect(json.Unmarshal(rec.Body.Bytes(), &resp)).To(Succeed())
			Expect(resp.Currency).To(Equal("PLN"))
			Expect(resp.Expenses).To(HaveLen(1))
		})

		ginkgo.It("rejects a missing file path", func() {
			do(http.MethodPost, "/receipts/process", bytes.NewBufferString(`{}`), "application/json", true)
			Expect(rec.Code).To(Equal(http.StatusBadRequest))
		})

		ginkgo.DescribeTable("maps pipeline error codes to statuses",
			func(code string, wantStatus int) {
				processor.err = NewError(code, "boom")
				do(http.MethodPost, "/receipts/process", bytes.NewBufferString(`{"file_path":"receipts/marta/abc.jpg"}`), "application/json", true)

				Expect(rec.Code).To(Equal(wantStatus))
				var resp map[string]string
				Expect(json.Unmarshal(rec.Body.Bytes(), &resp)).To(Succeed())
				Expect(resp["code"]).To(Equal(code))
			},
			ginkgo.Entry("consent", CodeConsentRequired, http.StatusForbidden),
			ginkgo.Entry("ownership", CodeForbidden, http.StatusForbidden),
			ginkgo.Entry("rate limit", CodeRateLimit, http.StatusTooManyRequests),
			ginkgo.Entry("timeout", CodeTimeout, http.StatusInternalServerError),
			ginkgo.Entry("validation", CodeValidation, http.StatusBadRequest),
			ginkgo.Entry("internal", CodeInternal, http.StatusInternalServerError),
		)

		ginkgo.It("maps unknown errors to 500", func() {
			processor.err = errors.New("what even")
			do(http.MethodPost, "/receipts/process", bytes.NewBufferString(`{"file_path":"receipts/marta/abc.jpg"}`), "application/json", true)
			Expect(rec.Code).To(Equal(http.StatusInternalServerError))
		})
	})

	ginkgo.Describe("POST /expenses/batch", func() {
		validBatch := `{"expenses":[
			{"category_id":"zywnosc","category_name":"Żywność","amount":"4.20","items":["Milk - 4.20"],"receipt_date":"2024-03-01"},
			{"category_id":"inne","category_name":"Inne","amount":"3.50","items":["Bread - 3.50"],"receipt_date":"2024-03-01"}
		]}`

		ginkgo.It("persists the batch for the authenticated user", func() {
			do(http.MethodPost, "/expenses/batch", bytes.NewBufferString(validBatch), "application/json", true)

			Expect(rec.Code).To(Equal(http.StatusCreated))
			Expect(expenses.saved).To(HaveLen(2))
			Expect(expenses.saved[0].UserID).To(Equal("marta"))
			Expect(expenses.saved[0].ID).NotTo(BeEmpty())
		})

		ginkgo.It("rejects an empty batch", func() {
			do(http.MethodPost, "/expenses/batch", bytes.NewBufferString(`{"expenses":[]}`), "application/json", true)
			Expect(rec.Code).To(Equal(http.StatusBadRequest))
			Expect(expenses.saved).To(BeEmpty())
		})

		ginkgo.It("rejects a non-positive amount", func() {
			batch := strings.Replace(validBatch, `"amount":"4.20"`, `"amount":"0"`, 1)
			do(http.MethodPost, "/expenses/batch", bytes.NewBufferString(batch), "application/json", true)
			Expect(rec.Code).To(Equal(http.StatusBadRequest))
			Expect(expenses.saved).To(BeEmpty())
		})

		ginkgo.It("rejects an unknown category", func() {
			batch := strings.Replace(validBatch, `"category_id":"zywnosc"`, `"category_id":"ghost"`, 1)
			do(http.MethodPost, "/expenses/batch", bytes.NewBufferString(batch), "application/json", true)
			Expect(rec.Code).To(Equal(http.StatusBadRequest))
			Expect(rec.Body.String()).To(ContainSubstring("ghost"))
		})

		ginkgo.It("surfaces store failures as 500 without partial state", func() {
			expenses.saveErr = errors.New("store offline")
			do(http.MethodPost, "/expenses/batch", bytes.NewBufferString(validBatch), "application/json", true)
			Expect(rec.Code).To(Equal(http.StatusInternalServerError))
		})
	})

	ginkgo.Describe("GET /categories", func() {
		ginkgo.It("returns the canonical list", func() {
			do(http.MethodGet, "/categories", nil, "", true)

			Expect(rec.Code).To(Equal(http.StatusOK))
			var resp struct {
				Categories []category.Category `json:"categories"`
			}
			Expect(json.Unmarshal(rec.Body.Bytes(), &resp)).To(Succeed())
			Expect(resp.Categories).To(HaveLen(2))
		})
	})

	ginkgo.Describe("PUT /profile/consent", func() {
		ginkgo.It("records the consent flag for the authenticated user", func() {
			do(http.MethodPut, "/profile/consent", bytes.NewBufferString(`{"ai_consent":true}`), "application/json", true)

			Expect(rec.Code).To(Equal(http.StatusOK))
			consent, err := profiles.GetConsent("marta")
			Expect(err).NotTo(HaveOccurred())
			Expect(consent).To(BeTrue())
		})
	})
})
