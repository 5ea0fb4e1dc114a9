package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/chromedp/chromedp"
)

// TargetAttr marks the element being captured, so that later calls can find it again without
// re-running (and possibly re-matching) the caller’s selector.
const TargetAttr = "data-cropshot-target"

// Rect is an element’s bounding box in CSS pixels, as reported by getBoundingClientRect.
type Rect struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Location describes what a selector matches on the current page.
type Location struct {
	Exists       bool   `json:"exists"`
	Count        int    `json:"count"`
	VisibleCount int    `json:"visibleCount"`
	First        *Rect  `json:"first"` // First visible match in DOM order; nil if none is visible.
	Error        string `json:"error"` // Set when the selector itself is invalid.
}

// Target is an element that has been patched for capture by MarkTarget, and must be handed back
// to ReleaseTarget.
type Target struct {
	Token    string
	Selector string
	Rect     Rect

	background backgroundStyle
}

type backgroundStyle struct {
	Color         string `json:"color"`
	ColorPriority string `json:"colorPriority"`
	Image         string `json:"image"`
	ImagePriority string `json:"imagePriority"`
}

// ImageMeasurement is an <img> inside a Target, sized both as laid out & as decoded.
type ImageMeasurement struct {
	Src            string  `json:"src"`
	RenderedWidth  float64 `json:"renderedWidth"`
	RenderedHeight float64 `json:"renderedHeight"`
	NaturalWidth   float64 `json:"naturalWidth"`
	NaturalHeight  float64 `json:"naturalHeight"`
}

// isVisibleJS is the single visibility predicate shared by every in-page script.
const isVisibleJS = `const isVisible = (el) => {
  const r = el.getBoundingClientRect();
  const s = window.getComputedStyle(el);
  return r.width > 0 && r.height > 0 && s.display !== 'none' && s.visibility !== 'hidden';
};
const toRect = (r) => ({x: r.x, y: r.y, width: r.width, height: r.height});`

const locateJS = `(() => {
%s
let nodes;
try {
  nodes = Array.from(document.querySelectorAll(%s));
} catch (e) {
  return {exists: false, count: 0, visibleCount: 0, first: null, error: String((e && e.message) || e)};
}
const visible = nodes.filter(isVisible);
return {
  exists: nodes.length > 0,
  count: nodes.length,
  visibleCount: visible.length,
  first: visible.length > 0 ? toRect(visible[0].getBoundingClientRect()) : null,
  error: ''
};
})()`

const markJS = `(() => {
%s
const el = Array.from(document.querySelectorAll(%s)).find(isVisible);
if (!el) {
  return {found: false};
}
const bg = {
  color: el.style.getPropertyValue('background-color'),
  colorPriority: el.style.getPropertyPriority('background-color'),
  image: el.style.getPropertyValue('background-image'),
  imagePriority: el.style.getPropertyPriority('background-image')
};
el.setAttribute(%s, %s);
el.style.setProperty('background-color', 'white', 'important');
el.style.setProperty('background-image', 'none', 'important');
return {found: true, rect: toRect(el.getBoundingClientRect()), background: bg};
})()`

const releaseJS = `(() => {
const el = document.querySelector(%s);
if (!el) {
  return false;
}
const bg = %s;
const restore = (prop, value, priority) => {
  if (value) {
    el.style.setProperty(prop, value, priority);
  } else {
    el.style.removeProperty(prop);
  }
};
restore('background-color', bg.color, bg.colorPriority);
restore('background-image', bg.image, bg.imagePriority);
el.removeAttribute(%s);
return true;
})()`

const measureJS = `(() => {
const root = document.querySelector(%s);
if (!root) {
  return [];
}
return Array.from(root.querySelectorAll('img'))
  .filter((img) => img.complete && img.naturalWidth > 0)
  .map((img) => {
    const r = img.getBoundingClientRect();
    return {
      src: img.currentSrc || img.src,
      renderedWidth: r.width,
      renderedHeight: r.height,
      naturalWidth: img.naturalWidth,
      naturalHeight: img.naturalHeight
    };
  });
})()`

// jsString renders s as a JavaScript string literal.
func jsString(s string) string {
	b, _ := json.Marshal(s) // Marshalling a string cannot fail.
	return string(b)
}

func (t *Target) query() string {
	return fmt.Sprintf("[%s=%s]", TargetAttr, jsString(t.Token))
}

// Locate reports how many elements match selector, how many of them are visible, and where the
// first visible one is. An invalid selector is reported in Location.Error, not as an error.
func (s *Session) Locate(ctx context.Context, selector string) (Location, error) {
	var loc Location
	script := fmt.Sprintf(locateJS, isVisibleJS, jsString(selector))
	if err := s.run(ctx, chromedp.Evaluate(script, &loc)); err != nil {
		return Location{}, fmt.Errorf("failed to locate %q: %w", selector, err)
	}
	return loc, nil
}

// MarkTarget tags the first visible match of selector and paints its background white.
// Returns nil (and no error) if nothing matching is visible.
func (s *Session) MarkTarget(ctx context.Context, selector string) (*Target, error) {
	token := fmt.Sprintf("%d-%d", time.Now().UnixNano(), s.targets.Add(1))
	var res struct {
		Found      bool            `json:"found"`
		Rect       Rect            `json:"rect"`
		Background backgroundStyle `json:"background"`
	}
	script := fmt.Sprintf(markJS, isVisibleJS, jsString(selector), jsString(TargetAttr), jsString(token))
	if err := s.run(ctx, chromedp.Evaluate(script, &res)); err != nil {
		return nil, fmt.Errorf("failed to mark %q: %w", selector, err)
	}
	if !res.Found {
		return nil, nil
	}
	return &Target{
		Token:      token,
		Selector:   selector,
		Rect:       res.Rect,
		background: res.Background,
	}, nil
}

// CaptureTarget returns a PNG of the target element, scrolled into view if necessary.
func (s *Session) CaptureTarget(ctx context.Context, t *Target) ([]byte, error) {
	var buf []byte
	if err := s.run(ctx, chromedp.Screenshot(t.query(), &buf, chromedp.ByQuery)); err != nil {
		return nil, fmt.Errorf("failed to capture %q: %w", t.Selector, err)
	}
	return buf, nil
}

// MeasureImages sizes every fully-loaded <img> within the target.
func (s *Session) MeasureImages(ctx context.Context, t *Target) ([]ImageMeasurement, error) {
	var images []ImageMeasurement
	script := fmt.Sprintf(measureJS, jsString(t.query()))
	if err := s.run(ctx, chromedp.Evaluate(script, &images)); err != nil {
		return nil, fmt.Errorf("failed to measure images in %q: %w", t.Selector, err)
	}
	return images, nil
}

// ReleaseTarget undoes MarkTarget: the inline background styles are put back exactly as they
// were, and the marker attribute is removed.
func (s *Session) ReleaseTarget(ctx context.Context, t *Target) error {
	bg, err := json.Marshal(t.background)
	if err != nil {
		return err
	}
	var restored bool
	script := fmt.Sprintf(releaseJS, jsString(t.query()), bg, jsString(TargetAttr))
	if err := s.run(ctx, chromedp.Evaluate(script, &restored)); err != nil {
		return fmt.Errorf("failed to restore %q: %w", t.Selector, err)
	}
	if !restored {
		return fmt.Errorf("target %q is no longer on the page", t.Selector)
	}
	return nil
}
