package queue

import (
	"context"
	"fmt"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/adverant/nexus/slipocr-worker/internal/errors"
	"github.com/adverant/nexus/slipocr-worker/internal/processor"
	"github.com/adverant/nexus/slipocr-worker/internal/slip"
)

type fakeProcessor struct {
	calls  int
	ctxErr error
	err    error
	panic  bool
}

func (f *fakeProcessor) Process(ctx context.Context, req *processor.ProcessRequest) (*processor.ProcessResult, error) {
	f.calls++
	f.ctxErr = ctx.Err()
	if f.panic {
		panic("nil map write")
	}
	if f.err != nil {
		return nil, f.err
	}
	return &processor.ProcessResult{
		Type:    slip.TransactionBill,
		Payload: &slip.TransactionPayload{Type: "expense", Amount: 1234, Category: "Bill Payment"},
	}, nil
}

type notification struct {
	url, slipID, status string
	data                interface{}
}

type fakeNotifier struct {
	sent       []notification
	successErr error
	failureErr error
}

func (f *fakeNotifier) NotifySuccess(_ context.Context, url, slipID string, payload interface{}) error {
	f.sent = append(f.sent, notification{url, slipID, "success", payload})
	return f.successErr
}

func (f *fakeNotifier) NotifyFailure(_ context.Context, url, slipID string, cause error) error {
	f.sent = append(f.sent, notification{url, slipID, "failed", cause})
	return f.failureErr
}

const validJob = `{"job_id":"job-1","image_path":"/slips/1.jpg","callback_url":"http://api/cb"}`

var _ = Describe("DecodeJob", func() {
	It("should accept a complete job", func() {
		job, err := DecodeJob([]byte(validJob))
		Expect(err).NotTo(HaveOccurred())
		Expect(*job).To(Equal(Job{JobID: "job-1", ImagePath: "/slips/1.jpg", CallbackURL: "http://api/cb"}))
	})

	DescribeTable("should reject malformed jobs",
		func(body string, wantID string) {
			_, err := DecodeJob([]byte(body))
			Expect(errors.CodeOf(err)).To(Equal(errors.ErrorMalformedJob))
			Expect(errors.JobIDOf(err)).To(Equal(wantID))
		},
		Entry("not JSON", `job-1`, ""),
		Entry("missing callback", `{"job_id":"job-2","image_path":"/a.png"}`, "job-2"),
		Entry("empty image path", `{"job_id":"job-3","image_path":"","callback_url":"http://x"}`, "job-3"),
		Entry("blank job id", `{"job_id":"  ","image_path":"/a.png","callback_url":"http://x"}`, "  "),
		Entry("wrong type", `{"job_id":7,"image_path":"/a.png","callback_url":"http://x"}`, ""),
		Entry("array", `[]`, ""),
	)

	It("should refuse to encode an incomplete job", func() {
		_, err := (&Job{JobID: "job-4"}).Encode()
		Expect(errors.CodeOf(err)).To(Equal(errors.ErrorMalformedJob))
	})

	It("should round-trip a job through an asynq task", func() {
		task, err := NewSlipOCRTask(&Job{JobID: "job-5", ImagePath: "/a.png", CallbackURL: "http://x"})
		Expect(err).NotTo(HaveOccurred())
		Expect(task.Type()).To(Equal(TaskTypeSlipOCR))

		job, err := DecodeJob(task.Payload())
		Expect(err).NotTo(HaveOccurred())
		Expect(job.JobID).To(Equal("job-5"))
	})
})

var _ = Describe("JobHandler", func() {
	var (
		proc     *fakeProcessor
		notifier *fakeNotifier
		handler  *JobHandler
		body     string
		ctx      context.Context
		err      error
	)

	BeforeEach(func() {
		proc = &fakeProcessor{}
		notifier = &fakeNotifier{}
		body = validJob
		ctx = context.Background()
	})

	JustBeforeEach(func() {
		handler = NewJobHandler(proc, notifier)
		Expect(func() { err = handler.HandleMessage(ctx, []byte(body)) }).NotTo(Panic())
	})

	When("the job succeeds", func() {
		It("should deliver the payload once", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(notifier.sent).To(HaveLen(1))
			Expect(notifier.sent[0].status).To(Equal("success"))
			Expect(notifier.sent[0].url).To(Equal("http://api/cb"))
			Expect(notifier.sent[0].slipID).To(Equal("job-1"))
		})
	})

	When("the job is malformed", func() {
		BeforeEach(func() {
			body = `{"job_id":"job-1","image_path":"/slips/1.jpg"}`
		})

		It("should skip it without processing or callbacks", func() {
			Expect(errors.CodeOf(err)).To(Equal(errors.ErrorMalformedJob))
			Expect(proc.calls).To(BeZero())
			Expect(notifier.sent).To(BeEmpty())
		})
	})

	When("the pipeline fails", func() {
		BeforeEach(func() {
			proc.err = errors.NewOCRFailedError("job-1", "tesseract", fmt.Errorf("tessdata missing"))
		})

		It("should send a failure callback with the error", func() {
			Expect(errors.CodeOf(err)).To(Equal(errors.ErrorOCRFailed))
			Expect(notifier.sent).To(HaveLen(1))
			Expect(notifier.sent[0].status).To(Equal("failed"))
			Expect(notifier.sent[0].data).To(MatchError(ContainSubstring("OCR_FAILED")))
		})
	})

	When("the pipeline panics", func() {
		BeforeEach(func() {
			proc.panic = true
		})

		It("should convert the panic into a failure callback", func() {
			Expect(errors.CodeOf(err)).To(Equal(errors.ErrorJobPanic))
			Expect(errors.StackOf(err)).NotTo(BeEmpty())
			Expect(notifier.sent).To(HaveLen(1))
			Expect(notifier.sent[0].status).To(Equal("failed"))
		})
	})

	When("the failure callback cannot be delivered", func() {
		BeforeEach(func() {
			proc.err = errors.NewUnknownTransactionTypeError("job-1", slip.ErrUnknownTransactionType)
			notifier.failureErr = errors.NewDeliveryFailedError("job-1", 5, fmt.Errorf("HTTP 502"))
		})

		It("should swallow the delivery error and keep the pipeline error", func() {
			Expect(errors.CodeOf(err)).To(Equal(errors.ErrorUnknownTransactionType))
		})
	})

	When("the success callback cannot be delivered", func() {
		BeforeEach(func() {
			notifier.successErr = errors.NewDeliveryFailedError("job-1", 5, fmt.Errorf("HTTP 502"))
		})

		It("should report DELIVERY_FAILED and try a failure callback", func() {
			Expect(errors.CodeOf(err)).To(Equal(errors.ErrorDeliveryFailed))
			Expect(notifier.sent).To(HaveLen(2))
			Expect(notifier.sent[1].status).To(Equal("failed"))
		})
	})

	When("shutdown is requested before the job starts", func() {
		BeforeEach(func() {
			c, cancel := context.WithCancel(context.Background())
			cancel()
			ctx = c
		})

		It("should still run the job to completion", func() {
			Expect(proc.calls).To(Equal(1))
			Expect(proc.ctxErr).NotTo(HaveOccurred())
			Expect(notifier.sent).To(HaveLen(1))
		})
	})
})
