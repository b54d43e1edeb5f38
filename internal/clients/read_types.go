package clients

import (
	"encoding/json"
	"fmt"
	"net/url"
	"path"
	"time"

	"github.com/adverant/nexus/vision-read-worker/internal/document"
	apperrors "github.com/adverant/nexus/vision-read-worker/internal/errors"
)

// JobHandle is the polling URL returned in the Operation-Location header.
type JobHandle string

// URL returns the polling URL.
func (h JobHandle) URL() string {
	return string(h)
}

// OperationID returns the last path segment of the polling URL.
func (h JobHandle) OperationID() string {
	u, err := url.Parse(string(h))
	if err != nil || u.Path == "" {
		return string(h)
	}
	return path.Base(u.Path)
}

// ReadWord is a word in a Read result
type ReadWord struct {
	BoundingBox []float64 `json:"boundingBox"`
	Text        string    `json:"text"`
	Confidence  float64   `json:"confidence"`
}

// ReadLine is a line in a Read result
type ReadLine struct {
	BoundingBox []float64  `json:"boundingBox"`
	Text        string     `json:"text"`
	Words       []ReadWord `json:"words"`
}

// ReadPage is one entry of analyzeResult.readResults
type ReadPage struct {
	Page   int        `json:"page"`
	Angle  float64    `json:"angle"`
	Width  float64    `json:"width"`
	Height float64    `json:"height"`
	Unit   string     `json:"unit"`
	Lines  []ReadLine `json:"lines"`
}

// AnalyzeResult is the payload of a succeeded operation
type AnalyzeResult struct {
	Version      string     `json:"version"`
	ModelVersion string     `json:"modelVersion"`
	ReadResults  []ReadPage `json:"readResults"`
}

// ReadOperation is the body of GET <Operation-Location>
type ReadOperation struct {
	Status              string         `json:"status"`
	CreatedDateTime     time.Time      `json:"createdDateTime"`
	LastUpdatedDateTime time.Time      `json:"lastUpdatedDateTime"`
	AnalyzeResult       *AnalyzeResult `json:"analyzeResult,omitempty"`
}

// ParseReadOperation decodes a polling response body.
func ParseReadOperation(body []byte) (*ReadOperation, error) {
	var op ReadOperation
	if err := json.Unmarshal(body, &op); err != nil {
		return nil, apperrors.NewParseError("read operation", err)
	}
	return &op, nil
}

// ToDocument converts a succeeded operation into a Document.
func (op *ReadOperation) ToDocument() (*document.Document, error) {
	if op.AnalyzeResult == nil {
		return nil, apperrors.NewParseError("read operation", fmt.Errorf("status %q without analyzeResult", op.Status))
	}

	res := op.AnalyzeResult
	pages := make([]document.Page, 0, len(res.ReadResults))
	for _, rp := range res.ReadResults {
		page := document.Page{
			Number: rp.Page,
			Angle:  rp.Angle,
			Width:  rp.Width,
			Height: rp.Height,
			Unit:   rp.Unit,
			Lines:  make([]document.Line, 0, len(rp.Lines)),
		}
		for _, rl := range rp.Lines {
			line := document.Line{
				BoundingBox: document.BoundingBox(rl.BoundingBox),
				Text:        rl.Text,
				Words:       make([]document.Word, 0, len(rl.Words)),
			}
			for _, rw := range rl.Words {
				line.Words = append(line.Words, document.Word{
					BoundingBox: document.BoundingBox(rw.BoundingBox),
					Text:        rw.Text,
					Confidence:  document.ConfidenceOf(rw.Confidence),
				})
			}
			page.Lines = append(page.Lines, line)
		}
		pages = append(pages, page)
	}

	return document.New(document.Metadata{
		ModelVersion:  res.ModelVersion,
		Version:       res.Version,
		Shape:         document.ShapeRead,
		CreatedAt:     op.CreatedDateTime,
		LastUpdatedAt: op.LastUpdatedDateTime,
	}, pages), nil
}

// ParseReadDocument decodes a saved polling response straight into a Document.
func ParseReadDocument(body []byte) (*document.Document, error) {
	op, err := ParseReadOperation(body)
	if err != nil {
		return nil, err
	}
	return op.ToDocument()
}
