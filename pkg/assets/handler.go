package assets

import (
	"net/http"
	"strconv"
	"sync"

	"github.com/tdewolff/minify/v2"
	"github.com/tdewolff/minify/v2/css"
	"github.com/tdewolff/minify/v2/js"
)

const defaultCacheMaxAge = 3600

var (
	minifyOnce  sync.Once
	minifiedJS  []byte
	minifiedCSS []byte
)

// minified lazily minifies the embedded script and stylesheet. On a minify
// error the raw source is served instead.
func minified() ([]byte, []byte) {
	minifyOnce.Do(func() {
		m := minify.New()
		m.AddFunc("application/javascript", js.Minify)
		m.AddFunc("text/css", css.Minify)

		rawJS, err := IndexJS()
		if err == nil {
			if out, err := m.Bytes("application/javascript", rawJS); err == nil {
				minifiedJS = out
			} else {
				minifiedJS = rawJS
			}
		}

		rawCSS, err := IndexCSS()
		if err == nil {
			if out, err := m.Bytes("text/css", rawCSS); err == nil {
				minifiedCSS = out
			} else {
				minifiedCSS = rawCSS
			}
		}
	})
	return minifiedJS, minifiedCSS
}

func serve(w http.ResponseWriter, contentType string, data []byte) {
	if data == nil {
		http.Error(w, "File not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Cache-Control", "max-age="+strconv.Itoa(defaultCacheMaxAge))
	w.Write(data)
}

// ScriptHandler returns an HTTP handler that serves the minified reload
// client script.
func ScriptHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, _ := minified()
		serve(w, "application/javascript", data)
	})
}

// StyleHandler returns an HTTP handler that serves the minified stylesheet.
func StyleHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, data := minified()
		serve(w, "text/css", data)
	})
}

// FaviconHandler returns an HTTP handler that serves the favicon.
func FaviconHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, err := Favicon()
		if err != nil {
			data = nil
		}
		serve(w, "image/x-icon", data)
	})
}
