package ocr

import (
	"context"
	"errors"
	"time"

	"cloud.google.com/go/vision/v2/apiv1/visionpb"
	"github.com/googleapis/gax-go/v2"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/rs/zerolog"
	statuspb "google.golang.org/genproto/googleapis/rpc/status"
)

type fakeAnnotator struct {
	filesResp  *visionpb.BatchAnnotateFilesResponse
	imagesResp *visionpb.BatchAnnotateImagesResponse
	err        error
	filesCalls int
	imageCalls int
}

func (f *fakeAnnotator) BatchAnnotateFiles(_ context.Context, _ *visionpb.BatchAnnotateFilesRequest, _ ...gax.CallOption) (*visionpb.BatchAnnotateFilesResponse, error) {
	f.filesCalls++
	return f.filesResp, f.err
}

func (f *fakeAnnotator) BatchAnnotateImages(_ context.Context, _ *visionpb.BatchAnnotateImagesRequest, _ ...gax.CallOption) (*visionpb.BatchAnnotateImagesResponse, error) {
	f.imageCalls++
	return f.imagesResp, f.err
}

func (f *fakeAnnotator) Close() error { return nil }

func textPage(text string) *visionpb.AnnotateImageResponse {
	return &visionpb.AnnotateImageResponse{FullTextAnnotation: &visionpb.TextAnnotation{Text: text}}
}

var _ = Describe("VisionService", func() {
	var (
		fake    *fakeAnnotator
		service *VisionService
	)

	BeforeEach(func() {
		fake = &fakeAnnotator{}
		service = NewVisionServiceWithClient(fake, time.Second, zerolog.Nop())
	})

	When("the upload is a PDF", func() {
		BeforeEach(func() {
			fake.filesResp = &visionpb.BatchAnnotateFilesResponse{
				Responses: []*visionpb.AnnotateFileResponse{{
					Responses: []*visionpb.AnnotateImageResponse{textPage("page one"), textPage("page two")},
				}},
			}
		})

		It("uses the files API and joins the pages", func() {
			doc, err := service.Process(context.Background(), []byte("%PDF"), "application/pdf")
			Expect(err).NotTo(HaveOccurred())
			Expect(fake.filesCalls).To(Equal(1))
			Expect(fake.imageCalls).To(BeZero())
			Expect(doc.Text).To(Equal("page one\npage two"))
			Expect(doc.PageCount).To(Equal(2))
			Expect(doc.Entities).To(BeEmpty())
		})
	})

	When("the upload is an image", func() {
		BeforeEach(func() {
			fake.imagesResp = &visionpb.BatchAnnotateImagesResponse{
				Responses: []*visionpb.AnnotateImageResponse{textPage("Total 10.00")},
			}
		})

		It("uses the images API", func() {
			doc, err := service.Process(context.Background(), []byte{0x89, 'P', 'N', 'G'}, "image/png")
			Expect(err).NotTo(HaveOccurred())
			Expect(fake.imageCalls).To(Equal(1))
			Expect(doc.Text).To(Equal("Total 10.00"))
		})
	})

	When("a page reports an error", func() {
		BeforeEach(func() {
			fake.imagesResp = &visionpb.BatchAnnotateImagesResponse{
				Responses: []*visionpb.AnnotateImageResponse{{Error: &statuspb.Status{Message: "bad image"}}},
			}
		})

		It("fails", func() {
			_, err := service.Process(context.Background(), []byte("x"), "image/jpeg")
			Expect(err).To(MatchError(ContainSubstring("bad image")))
		})
	})

	When("the scan is blank", func() {
		BeforeEach(func() {
			fake.imagesResp = &visionpb.BatchAnnotateImagesResponse{
				Responses: []*visionpb.AnnotateImageResponse{{}},
			}
		})

		It("returns an empty document", func() {
			doc, err := service.Process(context.Background(), []byte("x"), "image/jpeg")
			Expect(err).NotTo(HaveOccurred())
			Expect(doc.Text).To(BeEmpty())
		})
	})

	When("the API call fails", func() {
		BeforeEach(func() {
			fake.err = errors.New("unavailable")
		})

		It("returns ErrOCRFailed", func() {
			_, err := service.Process(context.Background(), []byte("x"), "image/jpeg")
			Expect(errors.Is(err, ErrOCRFailed)).To(BeTrue())
		})
	})
})
