package clients

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/adverant/nexus/vision-read-worker/internal/errors"
)

const readSucceededJSON = `{
  "status": "succeeded",
  "createdDateTime": "2024-05-01T10:00:00Z",
  "lastUpdatedDateTime": "2024-05-01T10:00:03Z",
  "analyzeResult": {
    "version": "3.2.0",
    "modelVersion": "2022-04-30",
    "readResults": [
      {
        "page": 1, "angle": 0.5, "width": 1700, "height": 2200, "unit": "pixel",
        "lines": [
          {
            "boundingBox": [10, 10, 200, 10, 200, 40, 10, 40],
            "text": "Invoice 2024-001",
            "words": [
              {"boundingBox": [10, 10, 90, 10, 90, 40, 10, 40], "text": "Invoice", "confidence": 0.998},
              {"boundingBox": [100, 10, 200, 10, 200, 40, 100, 40], "text": "2024-001", "confidence": 0.93}
            ]
          }
        ]
      },
      {
        "page": 2, "angle": 0, "width": 8.5, "height": 11, "unit": "inch",
        "lines": [
          {
            "boundingBox": [1.1, 1.2, 3.0, 1.2, 3.0, 1.5, 1.1, 1.5],
            "text": "Invoice",
            "words": [
              {"boundingBox": [1.1, 1.2, 3.0, 1.2, 3.0, 1.5, 1.1, 1.5], "text": "Invoice", "confidence": 0.97}
            ]
          }
        ]
      }
    ]
  }
}`

const ocrResultJSON = `{
  "language": "en",
  "textAngle": -1.5,
  "orientation": "Up",
  "modelVersion": "2021-04-01",
  "regions": [
    {
      "boundingBox": "21,16,304,451",
      "lines": [
        {"boundingBox": "28,16,288,41", "words": [
          {"boundingBox": "28,16,288,41", "text": "NOTHING"}
        ]},
        {"boundingBox": "27,66,283,52", "words": [
          {"boundingBox": "27,66,283,52", "text": "EXISTS"},
          {"boundingBox": "320,66,80,52", "text": "EXCEPT"}
        ]}
      ]
    },
    {
      "boundingBox": "400,16,100,40",
      "lines": [
        {"boundingBox": "400,16,100,40", "words": [
          {"boundingBox": "400,16,100,40", "text": "ATOMS"}
        ]}
      ]
    }
  ]
}`

func TestSubmitReadAccepted(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/vision/v3.2/read/analyze", r.URL.Path)
		assert.Equal(t, "en", r.URL.Query().Get("language"))
		assert.Equal(t, "natural", r.URL.Query().Get("readingOrder"))
		assert.Equal(t, "key-1", r.Header.Get("Ocp-Apim-Subscription-Key"))
		assert.Equal(t, "application/octet-stream", r.Header.Get("Content-Type"))
		assert.NotEmpty(t, r.Header.Get("X-Request-ID"))

		body, _ := io.ReadAll(r.Body)
		assert.Equal(t, []byte{0xFF, 0xD8, 0xFF}, body)

		w.Header().Set("Operation-Location", "https://svc/vision/v3.2/read/analyzeResults/abc-123")
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	client := NewVisionClient(VisionConfig{Endpoint: srv.URL + "/", SubscriptionKey: "key-1"})
	handle, err := client.SubmitRead(context.Background(), []byte{0xFF, 0xD8, 0xFF}, ReadOptions{Language: "en", ReadingOrder: "natural"})

	require.NoError(t, err)
	assert.Equal(t, JobHandle("https://svc/vision/v3.2/read/analyzeResults/abc-123"), handle)
	assert.Equal(t, "abc-123", handle.OperationID())
}

func TestSubmitReadRejected(t *testing.T) {
	cases := []struct {
		name     string
		status   int
		location string
	}{
		{"ok is not accepted", http.StatusOK, "https://svc/op"},
		{"bad request", http.StatusBadRequest, ""},
		{"unsupported media", http.StatusUnsupportedMediaType, ""},
		{"accepted without header", http.StatusAccepted, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if tc.location != "" {
					w.Header().Set("Operation-Location", tc.location)
				}
				w.WriteHeader(tc.status)
			}))
			defer srv.Close()

			client := NewVisionClient(VisionConfig{Endpoint: srv.URL, SubscriptionKey: "k"})
			handle, err := client.SubmitRead(context.Background(), []byte("img"), ReadOptions{})

			assert.Empty(t, handle)
			require.ErrorIs(t, err, apperrors.ErrSubmission)
			var pe *apperrors.ProcessingError
			require.ErrorAs(t, err, &pe)
			assert.Equal(t, tc.status, pe.StatusCode)
		})
	}
}

func TestSubmitReadTransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()

	client := NewVisionClient(VisionConfig{Endpoint: url, SubscriptionKey: "k"})
	_, err := client.SubmitRead(context.Background(), []byte("img"), ReadOptions{})

	require.ErrorIs(t, err, apperrors.ErrSubmission)
	var pe *apperrors.ProcessingError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, 0, pe.StatusCode)
	assert.NotNil(t, pe.Cause)
}

func TestFetchReadResultStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "7")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"code":"429"}}`))
	}))
	defer srv.Close()

	client := NewVisionClient(VisionConfig{Endpoint: srv.URL, SubscriptionKey: "k"})
	_, err := client.FetchReadResult(context.Background(), JobHandle(srv.URL+"/op"))

	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusTooManyRequests, se.StatusCode)
	assert.Equal(t, 7*time.Second, se.RetryAfter)
	assert.Contains(t, se.Error(), "429")
}

func TestFetchReadResultBadJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":`))
	}))
	defer srv.Close()

	client := NewVisionClient(VisionConfig{Endpoint: srv.URL, SubscriptionKey: "k"})
	_, err := client.FetchReadResult(context.Background(), JobHandle(srv.URL+"/op"))

	assert.ErrorIs(t, err, apperrors.ErrParse)
}

func TestRecognizeOCR(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/vision/v3.2/ocr", r.URL.Path)
		assert.Equal(t, "unk", r.URL.Query().Get("language"))
		assert.Equal(t, "true", r.URL.Query().Get("detectOrientation"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(ocrResultJSON))
	}))
	defer srv.Close()

	client := NewVisionClient(VisionConfig{Endpoint: srv.URL, SubscriptionKey: "k"})
	doc, err := client.RecognizeOCR(context.Background(), []byte("img"))

	require.NoError(t, err)
	assert.Equal(t, 2, doc.PageCount())

	text, err := doc.LineText(0, 1)
	require.NoError(t, err)
	assert.Equal(t, "EXISTS EXCEPT", text)

	conf, err := doc.WordConfidence(0, 0, 0)
	require.NoError(t, err)
	assert.False(t, conf.Valid)
}

func TestRecognizeOCRErrors(t *testing.T) {
	t.Run("non-200", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadRequest)
		}))
		defer srv.Close()

		_, err := NewVisionClient(VisionConfig{Endpoint: srv.URL}).RecognizeOCR(context.Background(), []byte("img"))
		var pe *apperrors.ProcessingError
		require.ErrorAs(t, err, &pe)
		assert.Equal(t, apperrors.ErrorSubmissionFailed, pe.Code)
		assert.Equal(t, http.StatusBadRequest, pe.StatusCode)
	})

	t.Run("bad json", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`not json`))
		}))
		defer srv.Close()

		_, err := NewVisionClient(VisionConfig{Endpoint: srv.URL}).RecognizeOCR(context.Background(), []byte("img"))
		assert.ErrorIs(t, err, apperrors.ErrParse)
	})
}

func TestParseRetryAfter(t *testing.T) {
	assert.Equal(t, time.Duration(0), parseRetryAfter(""))
	assert.Equal(t, 3*time.Second, parseRetryAfter("3"))
	assert.Equal(t, time.Duration(0), parseRetryAfter("-1"))
	assert.Equal(t, time.Duration(0), parseRetryAfter("soon"))

	future := time.Now().Add(time.Minute).UTC().Format(http.TimeFormat)
	d := parseRetryAfter(future)
	assert.Greater(t, d, 50*time.Second)
}
