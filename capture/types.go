package capture

import (
	"bytes"
	"encoding/json"
	"strconv"

	"chimbori.dev/cropshot/browser"
)

var DefaultViewport = browser.Viewport{Width: 1280, Height: 800}

const MinViewportSize = 320

// Request asks for one page to be loaded, and each of its selectors to be captured (or tested).
type Request struct {
	Url       string            `json:"url"`
	Selectors []string          `json:"selectors"`
	Viewport  *browser.Viewport `json:"viewport,omitempty"`
	WaitTime  *int              `json:"waitTime,omitempty"` // Milliseconds to wait after the network goes idle.
}

// BatchRequest applies the same selectors to every URL in turn.
type BatchRequest struct {
	Urls      []string          `json:"urls"`
	Selectors []string          `json:"selectors"`
	Viewport  *browser.Viewport `json:"viewport,omitempty"`
	WaitTime  *int              `json:"waitTime,omitempty"`
}

// ScreenshotResult is the outcome for a single selector. Exactly one of ImagePath or Error is set.
type ScreenshotResult struct {
	Selector     string            `json:"selector"`
	ImagePath    string            `json:"imagePath,omitempty"`
	Width        float64           `json:"width,omitempty"`
	Height       float64           `json:"height,omitempty"`
	NestedImages []NestedImageInfo `json:"nestedImages,omitempty"`
	Error        string            `json:"error,omitempty"`
	ErrorKind    ErrorKind         `json:"errorKind,omitempty"`
}

func (r ScreenshotResult) OK() bool {
	return r.Error == ""
}

type NestedImageInfo struct {
	Src            string  `json:"src"`
	RenderedWidth  float64 `json:"renderedWidth"`
	RenderedHeight float64 `json:"renderedHeight"`
	NaturalWidth   float64 `json:"naturalWidth"`
	NaturalHeight  float64 `json:"naturalHeight"`
	AspectRatio    float64 `json:"aspectRatio"`
	IsStretched    bool    `json:"isStretched"`
	WidthScaling   Scaling `json:"widthScaling"`
	HeightScaling  Scaling `json:"heightScaling"`
}

// Scaling is rendered ÷ natural size. It serializes as a number, or as "Unknown" when the
// natural size is zero.
type Scaling struct {
	Value float64
	Known bool
}

var unknownScaling = []byte(`"Unknown"`)

func (s Scaling) MarshalJSON() ([]byte, error) {
	if !s.Known {
		return unknownScaling, nil
	}
	return strconv.AppendFloat(nil, s.Value, 'f', -1, 64), nil
}

func (s *Scaling) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, unknownScaling) || bytes.Equal(data, []byte("null")) {
		*s = Scaling{}
		return nil
	}
	var v float64
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*s = Scaling{Value: v, Known: true}
	return nil
}

type Dimensions struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// SelectorTestResult describes what a selector matches, without capturing anything.
type SelectorTestResult struct {
	Selector     string      `json:"selector"`
	Exists       bool        `json:"exists"`
	Count        int         `json:"count"`
	VisibleCount int         `json:"visibleCount"`
	Dimensions   *Dimensions `json:"dimensions"` // First visible match, rounded to whole pixels.
	Message      string      `json:"message"`
	Error        string      `json:"error,omitempty"`
}

type BatchResult struct {
	Url         string             `json:"url"`
	Success     bool               `json:"success"`
	Screenshots []ScreenshotResult `json:"screenshots,omitempty"`
	Error       string             `json:"error,omitempty"`
}

type CaptureResponse struct {
	Screenshots []ScreenshotResult `json:"screenshots"`
}

type TestResponse struct {
	Results []SelectorTestResult `json:"results"`
}

type BatchResponse struct {
	BatchResults []BatchResult `json:"batchResults"`
}
