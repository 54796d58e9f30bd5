// Package assets contains the embedded browser client for mdlive: the HTML
// page template, stylesheet, reload script and favicon.
package assets

import (
	"embed"
)

//go:embed client
var clientFiles embed.FS

// IndexHTML returns the raw HTML page template. The rendered markdown body is
// substituted for the {{md}} marker by the markdown package.
func IndexHTML() ([]byte, error) {
	return clientFiles.ReadFile("client/index.html")
}

// IndexCSS returns the raw stylesheet.
func IndexCSS() ([]byte, error) {
	return clientFiles.ReadFile("client/index.css")
}

// IndexJS returns the raw reload client script.
func IndexJS() ([]byte, error) {
	return clientFiles.ReadFile("client/index.js")
}

// Favicon returns the favicon bytes.
func Favicon() ([]byte, error) {
	return clientFiles.ReadFile("client/favicon.ico")
}
