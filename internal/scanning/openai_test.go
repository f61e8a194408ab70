package scanning

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"strings"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

// tinyPNG returns a minimal valid PNG to stand in for a receipt photo.
func tinyPNG() []byte {
	img := image.NewRGBA(image.Rect(0, 0, 1, 1))
	img.Set(0, 0, color.White)
	var buf bytes.Buffer
	Expect(png.Encode(&buf, img)).To(Succeed())
	return buf.Bytes()
}

var _ = Describe("OpenAI", func() {
	var (
		lastRequest chatRequest
		content     string
		server      *httptest.Server
		extractor   *OpenAI
	)

	BeforeEach(func() {
		content = `{"items":[{"name":"Mleko 2%","amount":4.20,"category":"Żywność"},{"name":"","amount":1.00,"category":"Inne"}],"total":5.20,"date":"01.03.2024"}`
		server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			Expect(json.NewDecoder(r.Body).Decode(&lastRequest)).To(Succeed())
			w.Header().Set("Content-Type", "application/json")
			response := map[string]any{
				"choices": []map[string]any{
					{"message": map[string]any{"content": content}},
				},
				"model": "gpt-4o-mini",
			}
			Expect(json.NewEncoder(w).Encode(response)).To(Succeed())
		}))
		DeferCleanup(server.Close)

		client, err := NewClientWithDeps(ClientConfig{
			BaseURL: server.URL,
			APIKey:  "test-key",
			Timeout: time.Second,
		}, nil, &recordingSleeper{})
		Expect(err).NotTo(HaveOccurred())
		extractor = NewOpenAIWithClient(client)
	})

	It("embeds the receipt as base64 PNG in the user message", func() {
		pngData := tinyPNG()
		_, err := extractor.Extract(context.Background(), pngData, "image/png")
		Expect(err).NotTo(HaveOccurred())

		Expect(lastRequest.Messages).To(HaveLen(2))
		Expect(lastRequest.Messages[0].Role).To(Equal("system"))
		Expect(lastRequest.Messages[1].Role).To(Equal("user"))
		Expect(lastRequest.Messages[1].Content).To(ContainSubstring(base64.StdEncoding.EncodeToString(pngData)))
		Expect(lastRequest.ResponseFormat.Type).To(Equal("json_schema"))
		Expect(lastRequest.ResponseFormat.JSONSchema.Name).To(Equal("receipt_extraction"))
		Expect(lastRequest.ResponseFormat.JSONSchema.Strict).To(BeTrue())
	})

	It("normalizes the extracted payload", func() {
		extraction, err := extractor.Extract(context.Background(), tinyPNG(), "image/png")
		Expect(err).NotTo(HaveOccurred())

		Expect(extraction.Items).To(HaveLen(2))
		Expect(extraction.Items[0].Name).To(Equal("Mleko 2%"))
		Expect(extraction.Items[1].Name).To(Equal("Unknown item"))
		Expect(extraction.Date).To(Equal("2024-03-01"))
		Expect(extraction.Total).To(BeNumerically("~", 5.20, 0.001))
	})

	It("accepts a fenced payload", func() {
		content = "```json\n" + content + "\n```"
		extraction, err := extractor.Extract(context.Background(), tinyPNG(), "image/png")
		Expect(err).NotTo(HaveOccurred())
		Expect(extraction.Items).To(HaveLen(2))
	})

	It("rejects an undecodable image", func() {
		_, err := extractor.Extract(context.Background(), []byte("not an image"), "image/jpeg")
		Expect(err).To(HaveOccurred())

		var perr *Error
		Expect(errors.As(err, &perr)).To(BeTrue())
		Expect(perr.Kind).To(Equal(KindValidation))
	})
})

var _ = Describe("stripMarkdownFence", func() {
	It("leaves plain JSON alone", func() {
		Expect(stripMarkdownFence(`{"a":1}`)).To(Equal(`{"a":1}`))
	})

	It("removes a json fence", func() {
		fenced := "```json\n{\"a\":1}\n```"
		Expect(strings.TrimSpace(stripMarkdownFence(fenced))).To(Equal(`{"a":1}`))
	})
})
