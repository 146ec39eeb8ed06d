package ocr

import (
	"context"
	"fmt"
)

// Box is the bounding rectangle of a recognized line, in pixels of the
// normalized (PNG) image.
type Box struct {
	X int `json:"x"`
	Y int `json:"y"`
	W int `json:"w"`
	H int `json:"h"`
}

// Line is a single recognized text line with its geometry and the engine's
// confidence in [0,1]. This is the only shape the rest of the pipeline sees;
// whatever the engine returns is validated into it here.
type Line struct {
	Text       string  `json:"text"`
	Box        Box     `json:"box"`
	Confidence float64 `json:"confidence"`
}

// Recognizer defines the interface for text recognition engines
type Recognizer interface {
	// Recognize extracts text lines from an image
	Recognize(ctx context.Context, imageData []byte, contentType string) ([]Line, error)
	// Close closes the recognizer and releases resources
	Close() error
}

// RecognitionError indicates the engine could not read the image. The user
// may retry with a new capture; the pipeline never retries it internally.
type RecognitionError struct {
	Reason string
	Err    error
}

func (e *RecognitionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("recognition failed: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("recognition failed: %s", e.Reason)
}

func (e *RecognitionError) Unwrap() error {
	return e.Err
}

// validateLines drops lines with empty text and clamps confidence into [0,1].
func validateLines(lines []Line) []Line {
	out := make([]Line, 0, len(lines))
	for _, l := range lines {
		if l.Text == "" {
			continue
		}
		if l.Confidence < 0 {
			l.Confidence = 0
		}
		if l.Confidence > 1 {
			l.Confidence = 1
		}
		out = append(out, l)
	}
	return out
}
