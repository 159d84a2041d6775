package clients

import (
	"context"
	"fmt"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/adverant/nexus/slipocr-worker/internal/logging"
	"github.com/adverant/nexus/slipocr-worker/internal/slip"
)

const slipText = "โอนเงินสำเร็จ 15 มี.ค. 2025 นาย สมชาย ใจดี นางสาว สมหญิง รักไทย 500.00 บาท"

var _ = Describe("parseSuggestion", func() {
	It("should parse plain JSON", func() {
		s, err := parseSuggestion(`{"payer": "นาย สมชาย ใจดี", "payee": null}`)
		Expect(err).NotTo(HaveOccurred())
		Expect(*s.Payer).To(Equal("นาย สมชาย ใจดี"))
		Expect(s.Payee).To(BeNil())
	})

	It("should strip markdown code blocks", func() {
		s, err := parseSuggestion("```json\n{\"payer\": null, \"payee\": \"รักไทย\"}\n```")
		Expect(err).NotTo(HaveOccurred())
		Expect(*s.Payee).To(Equal("รักไทย"))
	})

	It("should treat the string null as missing", func() {
		s, err := parseSuggestion(`{"payer": "null", "payee": " "}`)
		Expect(err).NotTo(HaveOccurred())
		Expect(s.Payer).To(BeNil())
		Expect(s.Payee).To(BeNil())
	})

	It("should reject non-JSON", func() {
		_, err := parseSuggestion("I could not find any names")
		Expect(err).To(HaveOccurred())
	})
})

var _ = Describe("snapToCandidates", func() {
	candidates := candidatePhrases(slipText)

	It("should keep an exact OCR phrase", func() {
		s := "นางสาว สมหญิง รักไทย"
		Expect(*snapToCandidates(&s, candidates)).To(Equal("นางสาว สมหญิง รักไทย"))
	})

	It("should snap a near miss to the OCR text", func() {
		s := "นาย สมชาย ใจดีย"
		Expect(*snapToCandidates(&s, candidates)).To(Equal("นาย สมชาย ใจดี"))
	})

	It("should reject invented names", func() {
		s := "บริษัท ตัวอย่าง จำกัด"
		Expect(snapToCandidates(&s, candidates)).To(BeNil())
	})

	It("should pass nil through", func() {
		Expect(snapToCandidates(nil, candidates)).To(BeNil())
	})
})

var _ = Describe("GeminiClient.SuggestParties", func() {
	var (
		g      *GeminiClient
		prompt string
	)

	It("should snap model output and include known fields in the prompt", func() {
		g = newFakeGemini(func(_ context.Context, p string) (string, error) {
			prompt = p
			return `{"payer": null, "payee": "นางสาว สมหญิง รักไท"}`, nil
		})

		fields := slip.ParsedFields{slip.FieldPayee: nil}
		fields.Set(slip.FieldPayer, "นาย สมชาย ใจดี")

		payer, payee, err := g.SuggestParties(context.Background(), slipText, fields)
		Expect(err).NotTo(HaveOccurred())
		Expect(payer).To(BeNil())
		Expect(*payee).To(Equal("นางสาว สมหญิง รักไทย"))
		Expect(prompt).To(ContainSubstring(`payer: "นาย สมชาย ใจดี"`))
		Expect(prompt).To(ContainSubstring("payee: null"))
	})

	It("should surface generation errors", func() {
		g = newFakeGemini(func(context.Context, string) (string, error) {
			return "", fmt.Errorf("quota exceeded")
		})
		_, _, err := g.SuggestParties(context.Background(), slipText, slip.ParsedFields{})
		Expect(err).To(MatchError(ContainSubstring("quota exceeded")))
	})
})

func newFakeGemini(generate func(context.Context, string) (string, error)) *GeminiClient {
	return &GeminiClient{generate: generate, logger: logging.NewLogger("GeminiClient")}
}
