// CLAUDE:SUMMARY Blocks configured resource types (fonts, media, stylesheets, images) on a render tab.
package browser

import (
	"strings"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
)

// resourceNames maps CDP resource types to the names used in
// Config.ResourceBlocking.
var resourceNames = map[string]string{
	"image":      "images",
	"font":       "fonts",
	"media":      "media",
	"stylesheet": "stylesheets",
}

// applyResourceBlocking intercepts every request on page and fails the
// ones whose resource type is listed in types. The caller stops the router.
func applyResourceBlocking(page *rod.Page, types []string) *rod.HijackRouter {
	blocked := blockSet(types)
	router := page.HijackRequests()
	router.MustAdd("*", func(h *rod.Hijack) {
		if shouldBlock(blocked, string(h.Request.Type())) {
			h.Response.Fail(proto.NetworkErrorReasonBlockedByClient)
			return
		}
		h.ContinueRequest(&proto.FetchContinueRequest{})
	})
	go router.Run()
	return router
}

func blockSet(types []string) map[string]bool {
	set := make(map[string]bool, len(types))
	for _, t := range types {
		set[strings.ToLower(strings.TrimSpace(t))] = true
	}
	return set
}

func shouldBlock(set map[string]bool, resType string) bool {
	lower := strings.ToLower(resType)
	if name, ok := resourceNames[lower]; ok && set[name] {
		return true
	}
	return set[lower]
}
