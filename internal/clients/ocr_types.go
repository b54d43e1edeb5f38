package clients

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/adverant/nexus/vision-read-worker/internal/document"
	apperrors "github.com/adverant/nexus/vision-read-worker/internal/errors"
)

// Legacy /ocr response shapes. Bounding boxes are "x,y,width,height" strings
// and words carry no confidence.

type OCRWord struct {
	BoundingBox string `json:"boundingBox"`
	Text        string `json:"text"`
}

type OCRLine struct {
	BoundingBox string    `json:"boundingBox"`
	Words       []OCRWord `json:"words"`
}

type OCRRegion struct {
	BoundingBox string    `json:"boundingBox"`
	Lines       []OCRLine `json:"lines"`
}

type OCRResult struct {
	Language     string      `json:"language"`
	TextAngle    float64     `json:"textAngle"`
	Orientation  string      `json:"orientation"`
	ModelVersion string      `json:"modelVersion"`
	Regions      []OCRRegion `json:"regions"`
}

// ParseOCRResult decodes a legacy OCR response body.
func ParseOCRResult(body []byte) (*OCRResult, error) {
	var res OCRResult
	if err := json.Unmarshal(body, &res); err != nil {
		return nil, apperrors.NewParseError("ocr result", err)
	}
	return &res, nil
}

// ToDocument converts the legacy result. Each region becomes one page.
func (r *OCRResult) ToDocument() (*document.Document, error) {
	pages := make([]document.Page, 0, len(r.Regions))
	for ri, region := range r.Regions {
		regionBox, err := parseBoxString(region.BoundingBox)
		if err != nil {
			return nil, apperrors.NewParseError(fmt.Sprintf("region %d bounding box", ri), err)
		}
		page := document.Page{
			Number: ri + 1,
			Angle:  r.TextAngle,
			Unit:   "pixel",
			Lines:  make([]document.Line, 0, len(region.Lines)),
		}
		if len(regionBox) == 4 {
			page.Width, page.Height = regionBox[2], regionBox[3]
		}

		for li, ol := range region.Lines {
			lineBox, err := parseBoxString(ol.BoundingBox)
			if err != nil {
				return nil, apperrors.NewParseError(fmt.Sprintf("region %d line %d bounding box", ri, li), err)
			}
			line := document.Line{
				BoundingBox: lineBox,
				Words:       make([]document.Word, 0, len(ol.Words)),
			}
			texts := make([]string, 0, len(ol.Words))
			for wi, ow := range ol.Words {
				wordBox, err := parseBoxString(ow.BoundingBox)
				if err != nil {
					return nil, apperrors.NewParseError(fmt.Sprintf("region %d line %d word %d bounding box", ri, li, wi), err)
				}
				line.Words = append(line.Words, document.Word{
					BoundingBox: wordBox,
					Text:        ow.Text,
					Confidence:  document.NoConfidence,
				})
				texts = append(texts, ow.Text)
			}
			line.Text = strings.Join(texts, " ")
			page.Lines = append(page.Lines, line)
		}
		pages = append(pages, page)
	}

	return document.New(document.Metadata{
		Language:     r.Language,
		ModelVersion: r.ModelVersion,
		Orientation:  r.Orientation,
		TextAngle:    r.TextAngle,
		Shape:        document.ShapeOCR,
	}, pages), nil
}

// parseBoxString parses "x,y,w,h". An empty string yields a nil box.
func parseBoxString(s string) (document.BoundingBox, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return nil, fmt.Errorf("expected 4 values, got %d in %q", len(parts), s)
	}
	box := make(document.BoundingBox, 4)
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, fmt.Errorf("invalid value %q in %q: %w", p, s, err)
		}
		box[i] = v
	}
	return box, nil
}
