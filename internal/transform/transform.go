// Package transform turns an upstream registry response into the reply sent
// to the client: it removes transport encoding and re-hosts tarball URLs in
// package metadata.
package transform

import (
	"mime"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"registry-router/internal/model"
)

// Variant is the transformation applied to a response.
type Variant int

const (
	// VariantPassthrough decodes the body and forwards it as opaque bytes.
	VariantPassthrough Variant = iota
	// VariantHeadOnly forwards status and headers without a body. It covers
	// HEAD requests and statuses that never carry content (1xx, 204, 304).
	VariantHeadOnly
	// VariantRewrite decodes the body and re-hosts tarball URLs in it.
	VariantRewrite
)

func (v Variant) String() string {
	switch v {
	case VariantHeadOnly:
		return "head_only"
	case VariantRewrite:
		return "rewrite"
	default:
		return "passthrough"
	}
}

// cond matches one input dimension of the decision table.
type cond int

const (
	either cond = iota
	yes
	no
)

func (c cond) match(v bool) bool {
	return c == either || (c == yes) == v
}

// row is one line of the decision table. Rows are tried in order.
type row struct {
	head     cond // request method is HEAD
	bodiless cond // upstream status never carries content
	success  cond // upstream status is 2xx
	json     cond // content type is JSON
	rewrite  cond // tarball rewriting is enabled
	variant  Variant
}

// decisionTable maps request method, status class, content type and the
// rewrite setting to a transformation variant.
var decisionTable = []row{
	{head: yes, bodiless: either, success: either, json: either, rewrite: either, variant: VariantHeadOnly},
	{head: no, bodiless: yes, success: either, json: either, rewrite: either, variant: VariantHeadOnly},
	{head: no, bodiless: no, success: yes, json: yes, rewrite: yes, variant: VariantRewrite},
	{head: either, bodiless: either, success: either, json: either, rewrite: either, variant: VariantPassthrough},
}

// Decide picks the variant for a response.
func Decide(method string, status int, contentType string, rewriteEnabled bool) Variant {
	head := method == http.MethodHead
	bodiless := Bodiless(status)
	success := status >= 200 && status < 300
	isJSON := IsJSON(contentType)
	for _, r := range decisionTable {
		if r.head.match(head) && r.bodiless.match(bodiless) && r.success.match(success) &&
			r.json.match(isJSON) && r.rewrite.match(rewriteEnabled) {
			return r.variant
		}
	}
	return VariantPassthrough
}

// Bodiless reports whether a response status never carries content.
func Bodiless(status int) bool {
	return (status >= 100 && status < 200) || status == http.StatusNoContent || status == http.StatusNotModified
}

// IsJSON reports whether a Content-Type names a JSON document, including
// structured suffixes such as application/vnd.npm.install-v1+json.
func IsJSON(contentType string) bool {
	if contentType == "" {
		return false
	}
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return mt == "application/json" || strings.HasSuffix(mt, "+json")
}

// Input is everything Transform looks at.
type Input struct {
	Method   string
	Response *model.UpstreamResponse
	Rewrite  model.RewriteContext
	// Upstream is the base URL of the registry that produced Response.
	Upstream *url.URL
	// MaxBodyBytes bounds the decoded body; zero or less means unbounded.
	MaxBodyBytes int64
}

// Output is the transformed reply plus what was done to produce it.
type Output struct {
	Reply     *model.Reply
	Variant   Variant
	Rewritten int
}

// Transform builds the client reply from an upstream response. It has no
// side effects. The reply never carries Content-Encoding; its body is
// always the decoded representation, or nil for HEAD and bodiless statuses.
func Transform(in Input) (Output, error) {
	resp := in.Response
	header := resp.Header.Clone()
	if header == nil {
		header = make(http.Header)
	}
	header.Del("Content-Encoding")
	header.Del("Content-Length")

	variant := Decide(in.Method, resp.StatusCode, header.Get("Content-Type"), in.Rewrite.RewriteEnabled)
	out := Output{Variant: variant, Reply: &model.Reply{StatusCode: resp.StatusCode, Header: header}}

	if variant == VariantHeadOnly {
		return out, nil
	}

	// An empty body has nothing to decode or rewrite.
	if len(resp.Body) == 0 {
		header.Set("Content-Length", "0")
		out.Reply.Body = []byte{}
		return out, nil
	}

	body, err := Decode(resp.ContentEncoding, resp.Body, in.MaxBodyBytes)
	if err != nil {
		return Output{}, model.NewProxyError(model.KindMalformedUpstreamBody, err)
	}

	if variant == VariantRewrite {
		rewritten, n, err := rewriteTarballs(body, in.Rewrite, in.Upstream)
		if err != nil {
			return Output{}, model.NewProxyError(model.KindMalformedUpstreamBody, err)
		}
		body = rewritten
		out.Rewritten = n
	}

	header.Set("Content-Length", strconv.Itoa(len(body)))
	out.Reply.Body = body
	return out, nil
}
