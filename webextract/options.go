package webextract

import "time"

// Options are the per-request web extraction settings. Nil fields take the
// extractor defaults (see Merge).
type Options struct {
	EnableJavaScript      *bool `json:"enable_javascript,omitempty" yaml:"enable_javascript,omitempty"`
	JSRenderTimeout       *int  `json:"js_render_timeout,omitempty" yaml:"js_render_timeout,omitempty"`
	WebPageDelay          *int  `json:"web_page_delay,omitempty" yaml:"web_page_delay,omitempty"`
	EnableLazyLoadingWait *bool `json:"enable_lazy_loading_wait,omitempty" yaml:"enable_lazy_loading_wait,omitempty"`
	MaxScrollAttempts     *int  `json:"max_scroll_attempts,omitempty" yaml:"max_scroll_attempts,omitempty"`
	ProcessImages         *bool `json:"process_images,omitempty" yaml:"process_images,omitempty"`
	EnableBase64Images    *bool `json:"enable_base64_images,omitempty" yaml:"enable_base64_images,omitempty"`
	MinImageSizeForOCR    *int  `json:"min_image_size_for_ocr,omitempty" yaml:"min_image_size_for_ocr,omitempty"`
	MaxImagesPerPage      *int  `json:"max_images_per_page,omitempty" yaml:"max_images_per_page,omitempty"`
	WebPageTimeout        *int  `json:"web_page_timeout,omitempty" yaml:"web_page_timeout,omitempty"`
	ImageDownloadTimeout  *int  `json:"image_download_timeout,omitempty" yaml:"image_download_timeout,omitempty"`
	FollowRedirects       *bool `json:"follow_redirects,omitempty" yaml:"follow_redirects,omitempty"`
	MaxRedirects          *int  `json:"max_redirects,omitempty" yaml:"max_redirects,omitempty"`
}

// DefaultOptions returns the built-in defaults. Timeouts are in seconds.
func DefaultOptions() Options {
	return Options{
		EnableJavaScript:      Bool(false),
		JSRenderTimeout:       Int(10),
		WebPageDelay:          Int(3),
		EnableLazyLoadingWait: Bool(true),
		MaxScrollAttempts:     Int(3),
		ProcessImages:         Bool(true),
		EnableBase64Images:    Bool(true),
		MinImageSizeForOCR:    Int(22500),
		MaxImagesPerPage:      Int(20),
		WebPageTimeout:        Int(30),
		ImageDownloadTimeout:  Int(15),
		FollowRedirects:       Bool(true),
		MaxRedirects:          Int(5),
	}
}

// Bool returns a pointer to b.
func Bool(b bool) *bool { return &b }

// Int returns a pointer to n.
func Int(n int) *int { return &n }

// Merge returns o with every nil field taken from defaults.
func (o Options) Merge(defaults Options) Options {
	pickB := func(v, d *bool) *bool {
		if v != nil {
			return v
		}
		return d
	}
	pickI := func(v, d *int) *int {
		if v != nil {
			return v
		}
		return d
	}
	return Options{
		EnableJavaScript:      pickB(o.EnableJavaScript, defaults.EnableJavaScript),
		JSRenderTimeout:       pickI(o.JSRenderTimeout, defaults.JSRenderTimeout),
		WebPageDelay:          pickI(o.WebPageDelay, defaults.WebPageDelay),
		EnableLazyLoadingWait: pickB(o.EnableLazyLoadingWait, defaults.EnableLazyLoadingWait),
		MaxScrollAttempts:     pickI(o.MaxScrollAttempts, defaults.MaxScrollAttempts),
		ProcessImages:         pickB(o.ProcessImages, defaults.ProcessImages),
		EnableBase64Images:    pickB(o.EnableBase64Images, defaults.EnableBase64Images),
		MinImageSizeForOCR:    pickI(o.MinImageSizeForOCR, defaults.MinImageSizeForOCR),
		MaxImagesPerPage:      pickI(o.MaxImagesPerPage, defaults.MaxImagesPerPage),
		WebPageTimeout:        pickI(o.WebPageTimeout, defaults.WebPageTimeout),
		ImageDownloadTimeout:  pickI(o.ImageDownloadTimeout, defaults.ImageDownloadTimeout),
		FollowRedirects:       pickB(o.FollowRedirects, defaults.FollowRedirects),
		MaxRedirects:          pickI(o.MaxRedirects, defaults.MaxRedirects),
	}
}

// settings is a fully resolved Options.
type settings struct {
	javascript      bool
	jsTimeout       time.Duration
	delay           time.Duration
	lazyScroll      bool
	maxScrolls      int
	images          bool
	base64Images    bool
	minImageArea    int64
	maxImages       int
	pageTimeout     time.Duration
	imageTimeout    time.Duration
	follow          bool
	maxRedirects    int
	explicitTimeout bool // WebPageTimeout was set by the caller
}

// resolve merges o over defaults and converts it to settings. Missing
// values in both fall back to DefaultOptions; negative counts and delays
// clamp to 0. Timeouts of 0 or less would disable the deadline, so they
// take the service default, then the built-in one.
func (o Options) resolve(defaults Options) settings {
	builtin := DefaultOptions()
	fallback := defaults.Merge(builtin)
	m := o.Merge(fallback)
	secs := func(p *int) time.Duration { return time.Duration(max(*p, 0)) * time.Second }
	timeout := func(chain ...*int) time.Duration {
		for _, p := range chain {
			if *p > 0 {
				return time.Duration(*p) * time.Second
			}
		}
		return 0
	}
	return settings{
		javascript:      *m.EnableJavaScript,
		jsTimeout:       timeout(m.JSRenderTimeout, fallback.JSRenderTimeout, builtin.JSRenderTimeout),
		delay:           secs(m.WebPageDelay),
		lazyScroll:      *m.EnableLazyLoadingWait,
		maxScrolls:      max(*m.MaxScrollAttempts, 0),
		images:          *m.ProcessImages,
		base64Images:    *m.EnableBase64Images,
		minImageArea:    int64(max(*m.MinImageSizeForOCR, 0)),
		maxImages:       max(*m.MaxImagesPerPage, 0),
		pageTimeout:     timeout(m.WebPageTimeout, fallback.WebPageTimeout, builtin.WebPageTimeout),
		imageTimeout:    timeout(m.ImageDownloadTimeout, fallback.ImageDownloadTimeout, builtin.ImageDownloadTimeout),
		follow:          *m.FollowRedirects,
		maxRedirects:    max(*m.MaxRedirects, 0),
		explicitTimeout: o.WebPageTimeout != nil && *o.WebPageTimeout > 0,
	}
}
