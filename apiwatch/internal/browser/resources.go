package browser

import (
	"strings"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
)

// applyResourceBlocking sets up request interception to block the given
// resource types. Document, fetch and XHR requests always pass.
func applyResourceBlocking(page *rod.Page, types []string) error {
	blockSet := blockList(types)

	router := page.HijackRequests()
	if err := router.Add("*", "", func(ctx *rod.Hijack) {
		if shouldBlock(blockSet, ctx.Request.Type()) {
			ctx.Response.Fail(proto.NetworkErrorReasonBlockedByClient)
			return
		}
		ctx.ContinueRequest(&proto.FetchContinueRequest{})
	}); err != nil {
		return err
	}

	go router.Run()
	return nil
}

// blockList normalises configured names: lower case, plural forms folded
// into CDP resource type names.
func blockList(types []string) map[string]bool {
	set := make(map[string]bool, len(types))
	for _, t := range types {
		name := strings.ToLower(strings.TrimSpace(t))
		switch name {
		case "images":
			name = "image"
		case "fonts":
			name = "font"
		case "stylesheets", "css":
			name = "stylesheet"
		}
		if name != "" {
			set[name] = true
		}
	}
	return set
}

func shouldBlock(blockSet map[string]bool, resType proto.NetworkResourceType) bool {
	switch resType {
	case proto.NetworkResourceTypeDocument, proto.NetworkResourceTypeFetch, proto.NetworkResourceTypeXHR:
		return false
	}
	return blockSet[strings.ToLower(string(resType))]
}
