package export

import (
	"context"
	"time"
)

type renderFunc func(ctx context.Context, html string) ([]byte, error)

// Service renders transcripts in the requested format.
type Service struct {
	pdf  renderFunc
	docx renderFunc
	now  func() time.Time
}

func NewService() *Service {
	return &Service{pdf: renderPDF, docx: renderDOCX, now: time.Now}
}

func (s *Service) Export(ctx context.Context, transcript Transcript, format Format) (*Result, error) {
	if transcript.ExportedAt.IsZero() {
		transcript.ExportedAt = s.now()
	}
	html, err := RenderTranscriptHTML(transcript)
	if err != nil {
		return nil, err
	}

	stem := sanitizeFilename(transcript.Title)
	switch format {
	case FormatHTML:
		return &Result{Data: []byte(html), Filename: stem + ".html", MimeType: "text/html; charset=utf-8"}, nil
	case FormatPDF:
		data, err := s.pdf(ctx, html)
		if err != nil {
			return nil, err
		}
		return &Result{Data: data, Filename: stem + ".pdf", MimeType: "application/pdf"}, nil
	case FormatDOCX:
		data, err := s.docx(ctx, html)
		if err != nil {
			return nil, err
		}
		return &Result{
			Data:     data,
			Filename: stem + ".docx",
			MimeType: "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
		}, nil
	default:
		return nil, ErrUnsupportedFormat
	}
}
