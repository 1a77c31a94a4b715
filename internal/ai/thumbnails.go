package ai

import "strings"

var categoryThumbnails = map[string]string{
	"frontend":   "https://images.unsplash.com/photo-1593720213428-28a5b9e94613?w=400",
	"backend":    "https://images.unsplash.com/photo-1558494949-ef010cbdcc31?w=400",
	"fullstack":  "https://images.unsplash.com/photo-1461749280684-dccba630e2f6?w=400",
	"ai":         "https://images.unsplash.com/photo-1677442136019-21780ecad995?w=400",
	"blockchain": "https://images.unsplash.com/photo-1639762681485-074b7f938ba0?w=400",
}

// PlaceholderThumbnail returns a stock image for the course category, defaulting to frontend.
func PlaceholderThumbnail(category string) string {
	if url, ok := categoryThumbnails[strings.ToLower(strings.TrimSpace(category))]; ok {
		return url
	}
	return categoryThumbnails["frontend"]
}
