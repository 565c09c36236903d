// Package web embeds the HTML templates and static assets.
package web

import "embed"

// Templates holds the page templates. Each page defines a "<name>-body"
// template rendered inside "layout".
//
//go:embed templates/*.tmpl
var Templates embed.FS

// Static holds files served under /static/.
//
//go:embed static/*
var Static embed.FS
